package reader

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"ofiflow/config"
	"ofiflow/logger"
	"ofiflow/models"
)

// Generate simulates one book snapshot and one trade per step. The mid price
// is a Gaussian random walk and the book sits spread/2 either side of it.
// Buys print at the ask and sells at the bid. All randomness comes from rng.
func Generate(cfg config.SyntheticConfig, rng *rand.Rand) ([]models.LOBSnapshot, []models.Trade, error) {
	if rng == nil {
		return nil, nil, fmt.Errorf("%w: nil random source", models.ErrInvalidConfiguration)
	}
	if cfg.Steps <= 0 || cfg.Step <= 0 {
		return nil, nil, fmt.Errorf("%w: steps and step must be greater than 0", models.ErrInvalidConfiguration)
	}
	if cfg.BookSizeMin < 0 || cfg.BookSizeMax <= cfg.BookSizeMin {
		return nil, nil, fmt.Errorf("%w: book size range [%d, %d) is empty", models.ErrInvalidConfiguration, cfg.BookSizeMin, cfg.BookSizeMax)
	}
	if cfg.TradeSizeMin <= 0 || cfg.TradeSizeMax <= cfg.TradeSizeMin {
		return nil, nil, fmt.Errorf("%w: trade size range [%d, %d) is invalid", models.ErrInvalidConfiguration, cfg.TradeSizeMin, cfg.TradeSizeMax)
	}
	if cfg.Start.IsZero() {
		return nil, nil, fmt.Errorf("%w: start time is required", models.ErrInvalidConfiguration)
	}

	n := cfg.Steps
	mids := make([]float64, n)
	mid := cfg.MidPrice
	for i := range mids {
		mid += rng.NormFloat64() * cfg.Volatility
		mids[i] = mid
	}

	half := cfg.Spread / 2
	lob := make([]models.LOBSnapshot, n)
	for i := range lob {
		lob[i] = models.LOBSnapshot{
			Timestamp: cfg.Start.Add(time.Duration(i) * cfg.Step),
			BidPrice:  mids[i] - half,
			AskPrice:  mids[i] + half,
		}
	}
	for i := range lob {
		lob[i].BidSize = uniform(rng, cfg.BookSizeMin, cfg.BookSizeMax)
	}
	for i := range lob {
		lob[i].AskSize = uniform(rng, cfg.BookSizeMin, cfg.BookSizeMax)
	}

	trades := make([]models.Trade, n)
	for i := range trades {
		side := models.Sell
		price := lob[i].BidPrice
		if rng.IntN(2) == 0 {
			side = models.Buy
			price = lob[i].AskPrice
		}
		trades[i] = models.Trade{Timestamp: lob[i].Timestamp, Price: price, Side: side}
	}
	for i := range trades {
		trades[i].Size = uniform(rng, cfg.TradeSizeMin, cfg.TradeSizeMax)
	}
	if cfg.AsyncTrades {
		// offsets stay below one step so trades keep their order
		for i := range trades {
			trades[i].Timestamp = trades[i].Timestamp.Add(time.Duration(rng.Int64N(int64(cfg.Step))))
		}
	}

	return lob, trades, nil
}

// uniform draws from [lo, hi).
func uniform(rng *rand.Rand, lo, hi int64) int64 {
	return lo + rng.Int64N(hi-lo)
}

// SyntheticReader produces the event streams for a run from its own seeded
// generator.
type SyntheticReader struct {
	config config.SyntheticConfig
	log    *logger.Log
}

func NewSyntheticReader(cfg config.SyntheticConfig) *SyntheticReader {
	return &SyntheticReader{config: cfg, log: logger.GetLogger()}
}

// Read generates the configured streams. The same seed always yields the
// same streams.
func (r *SyntheticReader) Read(ctx context.Context) ([]models.LOBSnapshot, []models.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	log := r.log.WithComponent("synthetic_reader").WithFields(logger.Fields{
		"symbol": r.config.Symbol,
		"seed":   r.config.Seed,
	})

	start := time.Now()
	rng := rand.New(rand.NewPCG(r.config.Seed, r.config.Seed))
	lob, trades, err := Generate(r.config, rng)
	if err != nil {
		log.WithError(err).Error("failed to generate events")
		return nil, nil, err
	}

	logger.LogPerformanceEntry(log, "synthetic_reader", "generate", time.Since(start), logger.Fields{
		"steps": r.config.Steps,
	})
	log.WithFields(logger.Fields{
		"lob_events":   len(lob),
		"trade_events": len(trades),
		"async":        r.config.AsyncTrades,
		"first":        lob[0].Timestamp,
	}).Info("generated synthetic events")

	return lob, trades, nil
}
