package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/pkg/models"
)

func sampleBars() []models.Bar {
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	mk := func(i int, px float64) models.Bar {
		d := decimal.NewFromFloat(px)
		return models.Bar{
			Ticker:    "SPY",
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      d,
			High:      d.Add(decimal.NewFromFloat(0.5)),
			Low:       d.Sub(decimal.NewFromFloat(0.5)),
			Close:     d,
			Volume:    1000,
		}
	}
	return []models.Bar{mk(0, 100), mk(1, 101), mk(2, 102), mk(3, 103), mk(4, 104)}
}

func TestPriceViewNoLookahead(t *testing.T) {
	bars := sampleBars()
	v := NewPriceView("SPY", bars, 2)

	if _, err := v.At(2); err != nil {
		t.Errorf("At(2) should succeed: %v", err)
	}
	if _, err := v.At(3); err == nil {
		t.Error("At(3) should fail with LookaheadError when visible index is 2")
	}
}

func TestPriceViewCurrent(t *testing.T) {
	bars := sampleBars()
	v := NewPriceView("SPY", bars, 2)
	if v.Current().Close.String() != "102" {
		t.Errorf("Current().Close = %s, want 102", v.Current().Close)
	}
}

func TestPriceViewClosesBounded(t *testing.T) {
	bars := sampleBars()
	v := NewPriceView("SPY", bars, 4)
	closes := v.Closes(3)
	if len(closes) != 3 {
		t.Fatalf("len(closes) = %d, want 3", len(closes))
	}
	if closes[0] != 102 || closes[2] != 104 {
		t.Errorf("closes = %v, want [102 103 104]", closes)
	}

	// Asking for more than available returns all of them, not an error.
	all := v.Closes(100)
	if len(all) != 5 {
		t.Errorf("len(all) = %d, want 5", len(all))
	}
}

func TestPriceViewLookBack(t *testing.T) {
	bars := sampleBars()
	v := NewPriceView("SPY", bars, 3)

	b, err := v.LookBack(1)
	if err != nil {
		t.Fatalf("LookBack(1): %v", err)
	}
	if b.Close.String() != "102" {
		t.Errorf("LookBack(1).Close = %s, want 102", b.Close)
	}

	// Beyond available history clamps to the earliest bar.
	b, err = v.LookBack(100)
	if err != nil {
		t.Fatalf("LookBack(100): %v", err)
	}
	if b.Close.String() != "100" {
		t.Errorf("LookBack(100).Close = %s, want 100 (clamped)", b.Close)
	}
}

func TestPriceViewHistoricalBarsIsDefensiveCopy(t *testing.T) {
	bars := sampleBars()
	v := NewPriceView("SPY", bars, 2)
	hist := v.HistoricalBars()
	if len(hist) != 3 {
		t.Fatalf("len(hist) = %d, want 3", len(hist))
	}
	hist[0].Close = decimal.NewFromInt(999)
	if v.bars[0].Close.Equal(decimal.NewFromInt(999)) {
		t.Error("mutating HistoricalBars() result should not affect the view's underlying bars")
	}
}
