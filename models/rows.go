package models

import (
	"fmt"
	"time"
)

// Bar is one fixed-width interval on the resampled grid.
type Bar struct {
	Timestamp  time.Time `json:"timestamp"` // bucket start
	BidPrice   float64   `json:"bid_price"`
	AskPrice   float64   `json:"ask_price"`
	BidSize    int64     `json:"bid_size"`
	AskSize    int64     `json:"ask_size"`
	BuyVolume  int64     `json:"buy_volume"`
	SellVolume int64     `json:"sell_volume"`
	MidPrice   float64   `json:"mid_price"`
}

func (b Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%w: bar has no timestamp", ErrInvalidConfiguration)
	}
	if !finite(b.BidPrice) || !finite(b.AskPrice) || !finite(b.MidPrice) {
		return fmt.Errorf("%w: bar at %s has non-finite price", ErrInvalidConfiguration, b.Timestamp.Format(time.RFC3339Nano))
	}
	if b.BidSize < 0 || b.AskSize < 0 || b.BuyVolume < 0 || b.SellVolume < 0 {
		return fmt.Errorf("%w: bar at %s has negative size or volume", ErrInvalidConfiguration, b.Timestamp.Format(time.RFC3339Nano))
	}
	return nil
}

// FeatureRow is a Bar with order-flow-imbalance features.
type FeatureRow struct {
	Bar
	OFI         int64   `json:"ofi"`
	OFISumShort int64   `json:"ofi_sum_short"`
	OFISumLong  int64   `json:"ofi_sum_long"`
	TotalVolume int64   `json:"total_volume"`
	OFINorm     float64 `json:"ofi_norm"`
}

// Direction is the discretized forward return.
type Direction int8

const (
	Down Direction = -1
	Flat Direction = 0
	Up   Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Down:
		return "down"
	case Flat:
		return "flat"
	case Up:
		return "up"
	default:
		return fmt.Sprintf("direction(%d)", int8(d))
	}
}

// LabeledRow is a FeatureRow with its forward-looking label. The label
// fields are nil when the horizon runs past the end of the table.
type LabeledRow struct {
	FeatureRow
	MidPriceFuture *float64   `json:"mid_price_future,omitempty"`
	RetFuture      *float64   `json:"ret_future,omitempty"`
	Direction      *Direction `json:"direction,omitempty"`
}

// Complete reports whether the row carries a label.
func (r LabeledRow) Complete() bool {
	return r.MidPriceFuture != nil && r.RetFuture != nil && r.Direction != nil
}

// CompleteRows returns the labeled rows in order, skipping incomplete ones.
func CompleteRows(rows []LabeledRow) []LabeledRow {
	out := make([]LabeledRow, 0, len(rows))
	for _, r := range rows {
		if r.Complete() {
			out = append(out, r)
		}
	}
	return out
}
