package processor

import (
	"errors"
	"math"
	"testing"
	"time"

	"ofiflow/models"
)

func rowsWithMids(mids ...float64) []models.FeatureRow {
	rows := make([]models.FeatureRow, len(mids))
	for i, m := range mids {
		rows[i] = models.FeatureRow{Bar: models.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			BidPrice:  m - 0.01,
			AskPrice:  m + 0.01,
			BidSize:   10,
			AskSize:   10,
			MidPrice:  m,
		}}
	}
	return rows
}

func TestAddReturnAndLabelsExample(t *testing.T) {
	rows, err := AddReturnAndLabels(rowsWithMids(100.0, 100.0, 100.1, 100.2, 99.9), 2, 0.0005)
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}

	if *rows[0].MidPriceFuture != 100.1 {
		t.Errorf("row 0: future mid %v, want 100.1", *rows[0].MidPriceFuture)
	}
	if math.Abs(*rows[0].RetFuture-0.001) > 1e-9 {
		t.Errorf("row 0: ret %v, want 0.001", *rows[0].RetFuture)
	}
	if *rows[0].Direction != models.Up {
		t.Errorf("row 0: direction %s, want up", *rows[0].Direction)
	}
	if *rows[1].Direction != models.Up {
		t.Errorf("row 1: direction %s, want up", *rows[1].Direction)
	}
	if math.Abs(*rows[2].RetFuture-(99.9-100.1)/100.1) > 1e-12 {
		t.Errorf("row 2: ret %v", *rows[2].RetFuture)
	}
	if *rows[2].Direction != models.Down {
		t.Errorf("row 2: direction %s, want down", *rows[2].Direction)
	}
	for _, i := range []int{3, 4} {
		if rows[i].MidPriceFuture != nil || rows[i].RetFuture != nil || rows[i].Direction != nil {
			t.Errorf("row %d: expected no label", i)
		}
	}
}

func TestLabelConsistency(t *testing.T) {
	mids := []float64{100, 100.05, 99.97, 100.2, 100.2, 99.8, 100.01, 100.3}
	for horizon := 1; horizon <= len(mids)+1; horizon++ {
		rows, err := AddReturnAndLabels(rowsWithMids(mids...), horizon, 0.0005)
		if err != nil {
			t.Fatalf("horizon %d: %v", horizon, err)
		}
		for i, r := range rows {
			if i+horizon >= len(rows) {
				if r.Complete() {
					t.Errorf("horizon %d row %d: expected no label", horizon, i)
				}
				continue
			}
			if !r.Complete() {
				t.Fatalf("horizon %d row %d: expected a label", horizon, i)
			}
			if *r.MidPriceFuture != rows[i+horizon].MidPrice {
				t.Errorf("horizon %d row %d: future mid %v, want %v", horizon, i, *r.MidPriceFuture, rows[i+horizon].MidPrice)
			}
			if *r.Direction != Classify(*r.RetFuture, 0.0005) {
				t.Errorf("horizon %d row %d: direction does not match return", horizon, i)
			}
		}
	}
}

func TestLabelThresholdIsExclusive(t *testing.T) {
	rows, err := AddReturnAndLabels(rowsWithMids(100, 101, 100, 99), 1, 0.01)
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	if *rows[0].Direction != models.Flat {
		t.Errorf("ret of exactly +threshold: got %s, want flat", *rows[0].Direction)
	}
	if *rows[2].Direction != models.Flat {
		t.Errorf("ret of exactly -threshold: got %s, want flat", *rows[2].Direction)
	}
}

func TestLabelInvalidOptions(t *testing.T) {
	rows := rowsWithMids(100, 101)
	cases := []struct {
		name string
		opts LabelOptions
	}{
		{"zero horizon", LabelOptions{Horizon: 0, Threshold: 0.001, ZeroMid: ZeroMidFail}},
		{"negative threshold", LabelOptions{Horizon: 1, Threshold: -0.001, ZeroMid: ZeroMidFail}},
		{"nan threshold", LabelOptions{Horizon: 1, Threshold: math.NaN(), ZeroMid: ZeroMidFail}},
		{"unknown policy", LabelOptions{Horizon: 1, Threshold: 0.001, ZeroMid: "skip"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Label(rows, tc.opts); !errors.Is(err, ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestLabelZeroMid(t *testing.T) {
	rows := rowsWithMids(100, 0, 101, 102)

	if _, err := AddReturnAndLabels(rows, 1, 0.0001); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}

	out, err := Label(rows, LabelOptions{Horizon: 1, Threshold: 0.0001, ZeroMid: ZeroMidAbsent})
	if err != nil {
		t.Fatalf("label with absent policy: %v", err)
	}
	if out[1].Complete() {
		t.Fatalf("row with zero mid should have no label")
	}
	if !out[0].Complete() || !out[2].Complete() {
		t.Fatalf("neighbouring rows should be labeled")
	}
	if *out[0].Direction != models.Down {
		t.Fatalf("row 0: direction %s, want down", *out[0].Direction)
	}
}

func TestLabelZeroMidInTail(t *testing.T) {
	// the last row never needs a return, so a zero mid there is fine
	out, err := AddReturnAndLabels(rowsWithMids(100, 101, 0), 2, 0.0001)
	if err != nil {
		t.Fatalf("label: %v", err)
	}
	if ret := *out[0].RetFuture; ret != -1 {
		t.Fatalf("row 0: ret %v, want -1", ret)
	}
}

func TestParseZeroMidPolicy(t *testing.T) {
	cases := map[string]ZeroMidPolicy{"": ZeroMidFail, "fail": ZeroMidFail, " Absent ": ZeroMidAbsent}
	for in, want := range cases {
		got, err := ParseZeroMidPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseZeroMidPolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseZeroMidPolicy("nan"); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		ret, threshold float64
		want           models.Direction
	}{
		{0.002, 0.001, models.Up},
		{-0.002, 0.001, models.Down},
		{0.0005, 0.001, models.Flat},
		{0, 0, models.Flat},
		{1e-12, 0, models.Up},
	}
	for _, tc := range cases {
		if got := Classify(tc.ret, tc.threshold); got != tc.want {
			t.Errorf("Classify(%v, %v) = %s, want %s", tc.ret, tc.threshold, got, tc.want)
		}
	}
}
