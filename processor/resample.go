package processor

import (
	"fmt"
	"math"
	"slices"
	"time"

	"ofiflow/models"
)

// MaxBars bounds the grid so a tiny interval over a long span fails instead
// of exhausting memory.
const MaxBars = 50_000_000

// Resample aligns the order book and trade streams onto a fixed-interval
// grid. Book state is carried forward from the last snapshot observed before
// each bucket closes; buckets ahead of the first snapshot take the first
// snapshot. Trade sizes are summed per side into the bucket that contains
// them.
func Resample(lob []models.LOBSnapshot, trades []models.Trade, interval time.Duration) ([]models.Bar, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be greater than 0, got %s", ErrInvalidConfiguration, interval)
	}
	if len(lob) == 0 && len(trades) == 0 {
		return nil, fmt.Errorf("%w: no order book snapshots or trades", ErrEmptyInput)
	}
	for i := range lob {
		if err := lob[i].Validate(); err != nil {
			return nil, fmt.Errorf("lob[%d]: %w", i, err)
		}
	}
	for i := range trades {
		if err := trades[i].Validate(); err != nil {
			return nil, fmt.Errorf("trades[%d]: %w", i, err)
		}
	}
	if len(lob) == 0 {
		return nil, fmt.Errorf("%w: no order book snapshots to fill %d trades", ErrEmptyInput, len(trades))
	}

	lob = sortedSnapshots(lob)
	trades = sortedTrades(trades)

	first, last := eventSpan(lob, trades)
	start := floorToInterval(first, interval)
	span := last.Sub(start)
	// Sub saturates past ~292 years
	if !start.Add(span).Equal(last) {
		return nil, fmt.Errorf("%w: events from %s to %s span more than %s", ErrInvalidConfiguration, first.UTC(), last.UTC(), time.Duration(math.MaxInt64))
	}
	steps := span / interval
	if steps >= MaxBars {
		return nil, fmt.Errorf("%w: interval %s over %s yields more than %d bars", ErrInvalidConfiguration, interval, span, MaxBars)
	}
	bars := make([]models.Bar, int(steps)+1)

	for _, tr := range trades {
		k := int(tr.Timestamp.Sub(start) / interval)
		if tr.Side == models.Buy {
			bars[k].BuyVolume += tr.Size
		} else {
			bars[k].SellVolume += tr.Size
		}
	}

	// initial-fill: buckets before the first snapshot take the first one
	book := lob[0]
	next := 0
	for k := range bars {
		bucketStart := start.Add(time.Duration(k) * interval)
		bucketEnd := bucketStart.Add(interval)
		for next < len(lob) && lob[next].Timestamp.Before(bucketEnd) {
			book = lob[next]
			next++
		}

		bar := &bars[k]
		bar.Timestamp = bucketStart
		bar.BidPrice = book.BidPrice
		bar.BidSize = book.BidSize
		bar.AskPrice = book.AskPrice
		bar.AskSize = book.AskSize
		bar.MidPrice = (book.BidPrice + book.AskPrice) / 2
	}

	return bars, nil
}

// floorToInterval floors ts to the interval, counting from midnight UTC of
// the same day.
func floorToInterval(ts time.Time, interval time.Duration) time.Time {
	ts = ts.UTC()
	origin := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	return origin.Add(ts.Sub(origin) / interval * interval)
}

func eventSpan(lob []models.LOBSnapshot, trades []models.Trade) (time.Time, time.Time) {
	first := lob[0].Timestamp
	last := lob[len(lob)-1].Timestamp
	if len(trades) > 0 {
		if t := trades[0].Timestamp; t.Before(first) {
			first = t
		}
		if t := trades[len(trades)-1].Timestamp; t.After(last) {
			last = t
		}
	}
	return first, last
}

// sortedSnapshots returns lob ordered by timestamp. Ordered input is returned
// as is; unordered input is stable-sorted on a copy.
func sortedSnapshots(lob []models.LOBSnapshot) []models.LOBSnapshot {
	cmp := func(a, b models.LOBSnapshot) int { return a.Timestamp.Compare(b.Timestamp) }
	if slices.IsSortedFunc(lob, cmp) {
		return lob
	}
	out := slices.Clone(lob)
	slices.SortStableFunc(out, cmp)
	return out
}

func sortedTrades(trades []models.Trade) []models.Trade {
	cmp := func(a, b models.Trade) int { return a.Timestamp.Compare(b.Timestamp) }
	if slices.IsSortedFunc(trades, cmp) {
		return trades
	}
	out := slices.Clone(trades)
	slices.SortStableFunc(out, cmp)
	return out
}
