package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidConfiguration reports a non-positive interval, window or
	// horizon, a negative threshold, or a row that violates its schema.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrEmptyInput reports that there is nothing to resample.
	ErrEmptyInput = errors.New("empty input")
	// ErrDivisionByZero reports a zero mid price on a row that needs a return.
	ErrDivisionByZero = errors.New("division by zero")
)

// Side is the aggressor side of a trade.
type Side int8

const (
	Sell Side = -1
	Buy  Side = 1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", int8(s))
	}
}

// LOBSnapshot is the top of the order book at a point in time.
type LOBSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	BidPrice  float64   `json:"bid_price"`
	BidSize   int64     `json:"bid_size"`
	AskPrice  float64   `json:"ask_price"`
	AskSize   int64     `json:"ask_size"`
}

// Validate checks the snapshot against its schema. ask >= bid is assumed
// from the source and not checked here.
func (s LOBSnapshot) Validate() error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: lob snapshot has no timestamp", ErrInvalidConfiguration)
	}
	if !finite(s.BidPrice) || !finite(s.AskPrice) {
		return fmt.Errorf("%w: lob snapshot at %s has non-finite price", ErrInvalidConfiguration, s.Timestamp.Format(time.RFC3339Nano))
	}
	if s.BidSize < 0 || s.AskSize < 0 {
		return fmt.Errorf("%w: lob snapshot at %s has negative size", ErrInvalidConfiguration, s.Timestamp.Format(time.RFC3339Nano))
	}
	return nil
}

// Trade is a single executed trade.
type Trade struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Size      int64     `json:"size"`
	Side      Side      `json:"side"`
}

func (t Trade) Validate() error {
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: trade has no timestamp", ErrInvalidConfiguration)
	}
	if !finite(t.Price) {
		return fmt.Errorf("%w: trade at %s has non-finite price", ErrInvalidConfiguration, t.Timestamp.Format(time.RFC3339Nano))
	}
	if t.Size <= 0 {
		return fmt.Errorf("%w: trade at %s has size %d, must be greater than 0", ErrInvalidConfiguration, t.Timestamp.Format(time.RFC3339Nano), t.Size)
	}
	if t.Side != Buy && t.Side != Sell {
		return fmt.Errorf("%w: trade at %s has unknown %s", ErrInvalidConfiguration, t.Timestamp.Format(time.RFC3339Nano), t.Side)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
