package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV candle at the dataset's native resolution (spec §3).
type Bar struct {
	Ticker    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Validate enforces the OHLC invariants from spec §3:
// low ≤ min(open,close) ≤ max(open,close) ≤ high, and low > 0.
func (b Bar) Validate() error {
	if b.Low.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("bar %s@%s: low must be > 0, got %s", b.Ticker, b.Timestamp, b.Low)
	}
	minOC := decimal.Min(b.Open, b.Close)
	maxOC := decimal.Max(b.Open, b.Close)
	if b.Low.GreaterThan(minOC) {
		return fmt.Errorf("bar %s@%s: low %s > min(open,close) %s", b.Ticker, b.Timestamp, b.Low, minOC)
	}
	if minOC.GreaterThan(maxOC) {
		return fmt.Errorf("bar %s@%s: open/close ordering inconsistent", b.Ticker, b.Timestamp)
	}
	if maxOC.GreaterThan(b.High) {
		return fmt.Errorf("bar %s@%s: max(open,close) %s > high %s", b.Ticker, b.Timestamp, maxOC, b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s@%s: volume must be >= 0, got %d", b.Ticker, b.Timestamp, b.Volume)
	}
	return nil
}

// DateKey returns the calendar-date string (in the bar's own location) used
// to group bars into sessions.
func (b Bar) DateKey() string {
	return b.Timestamp.Format("2006-01-02")
}
