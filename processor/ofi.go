package processor

import (
	"fmt"

	"ofiflow/models"
)

// AddOFIFeatures derives order flow imbalance features for every bar.
// Rolling sums trail the current bar and use whatever bars are available
// until the window fills. Either window may be the larger one.
func AddOFIFeatures(bars []models.Bar, windowShort, windowLong int) ([]models.FeatureRow, error) {
	if windowShort <= 0 {
		return nil, fmt.Errorf("%w: window_short must be greater than 0, got %d", ErrInvalidConfiguration, windowShort)
	}
	if windowLong <= 0 {
		return nil, fmt.Errorf("%w: window_long must be greater than 0, got %d", ErrInvalidConfiguration, windowLong)
	}
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return nil, fmt.Errorf("bars[%d]: %w", i, err)
		}
	}

	ofi := make([]int64, len(bars))
	for i, b := range bars {
		ofi[i] = b.BuyVolume - b.SellVolume
	}
	short := rollingSum(ofi, windowShort)
	long := rollingSum(ofi, windowLong)

	rows := make([]models.FeatureRow, len(bars))
	for i, b := range bars {
		total := b.BuyVolume + b.SellVolume
		rows[i] = models.FeatureRow{
			Bar:         b,
			OFI:         ofi[i],
			OFISumShort: short[i],
			OFISumLong:  long[i],
			TotalVolume: total,
			OFINorm:     normalize(ofi[i], total),
		}
	}
	return rows, nil
}

// rollingSum returns the trailing sum of up to window values ending at each
// index.
func rollingSum(values []int64, window int) []int64 {
	out := make([]int64, len(values))
	var sum int64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		out[i] = sum
	}
	return out
}

// normalize is ofi/total, and exactly 0 when nothing traded.
func normalize(ofi, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(ofi) / float64(total)
}
