package processor

import (
	"fmt"
	"math"
	"strings"
	"time"

	"ofiflow/models"
)

// ZeroMidPolicy decides what happens when a row that needs a forward return
// has a mid price of exactly zero.
type ZeroMidPolicy string

const (
	// ZeroMidFail stops labeling with ErrDivisionByZero.
	ZeroMidFail ZeroMidPolicy = "fail"
	// ZeroMidAbsent leaves the row unlabeled, like the trailing rows.
	ZeroMidAbsent ZeroMidPolicy = "absent"
)

func ParseZeroMidPolicy(s string) (ZeroMidPolicy, error) {
	switch p := ZeroMidPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ZeroMidFail:
		return ZeroMidFail, nil
	case ZeroMidAbsent:
		return ZeroMidAbsent, nil
	default:
		return "", fmt.Errorf("%w: unknown zero mid policy %q", ErrInvalidConfiguration, s)
	}
}

type LabelOptions struct {
	Horizon   int
	Threshold float64
	ZeroMid   ZeroMidPolicy
}

func (o LabelOptions) validate() error {
	if o.Horizon <= 0 {
		return fmt.Errorf("%w: horizon must be greater than 0, got %d", ErrInvalidConfiguration, o.Horizon)
	}
	if math.IsNaN(o.Threshold) || o.Threshold < 0 {
		return fmt.Errorf("%w: threshold must not be negative, got %v", ErrInvalidConfiguration, o.Threshold)
	}
	if o.ZeroMid != ZeroMidFail && o.ZeroMid != ZeroMidAbsent {
		return fmt.Errorf("%w: unknown zero mid policy %q", ErrInvalidConfiguration, o.ZeroMid)
	}
	return nil
}

// AddReturnAndLabels labels every row with the return over the next horizon
// bars. The last horizon rows are returned without a label. A zero mid price
// on a row that needs a return fails with ErrDivisionByZero.
func AddReturnAndLabels(rows []models.FeatureRow, horizon int, threshold float64) ([]models.LabeledRow, error) {
	return Label(rows, LabelOptions{Horizon: horizon, Threshold: threshold, ZeroMid: ZeroMidFail})
}

// Label is AddReturnAndLabels with a selectable zero mid policy.
func Label(rows []models.FeatureRow, opts LabelOptions) ([]models.LabeledRow, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			return nil, fmt.Errorf("rows[%d]: %w", i, err)
		}
	}

	out := make([]models.LabeledRow, len(rows))
	for i, row := range rows {
		out[i] = models.LabeledRow{FeatureRow: row}
		j := i + opts.Horizon
		if j >= len(rows) {
			continue
		}
		mid := row.MidPrice
		if mid == 0 {
			if opts.ZeroMid == ZeroMidAbsent {
				continue
			}
			return nil, fmt.Errorf("%w: mid price is zero at row %d (%s)", ErrDivisionByZero, i, row.Timestamp.Format(time.RFC3339Nano))
		}

		future := rows[j].MidPrice
		ret := (future - mid) / mid
		dir := Classify(ret, opts.Threshold)
		out[i].MidPriceFuture = &future
		out[i].RetFuture = &ret
		out[i].Direction = &dir
	}
	return out, nil
}

// Classify buckets a return into up, down or flat. Returns of exactly
// +/-threshold are flat.
func Classify(ret, threshold float64) models.Direction {
	switch {
	case ret > threshold:
		return models.Up
	case ret < -threshold:
		return models.Down
	default:
		return models.Flat
	}
}
