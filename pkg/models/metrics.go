package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyNAV is one entry in the daily NAV series (spec §4.9 "Daily").
type DailyNAV struct {
	Date string // "2006-01-02"
	NAV  decimal.Decimal
}

// TradeMetric is the per-trade view of a closed round trip (spec §4.9
// "Per-trade"), built from the closing TradeRecord alone, which already
// carries the entry timestamp and entry price of the position it closes.
type TradeMetric struct {
	Ticker                 string
	Side                   Side
	EntryTimestamp         time.Time
	ExitTimestamp          time.Time
	EntryPrice             decimal.Decimal
	ExitPrice              decimal.Decimal
	Quantity               int64
	RMultipleGross         decimal.Decimal
	RMultipleAfterFriction decimal.Decimal
	MFER                   decimal.Decimal
	MAER                   decimal.Decimal
	ExitReason             ExitReason
	Confirmation           Confirmation
	NetPnL                 decimal.Decimal
}

// Metrics is the final summary bundle (spec §4.9 "Summary" + §6 "Outputs":
// the summary fields plus determinism_hash).
//
// Fields that can be mathematically undefined (Sharpe/Sortino when std=0)
// use a pointer so "absent" is representable distinctly from zero, per
// spec §4.9: "Undefined values ... are reported as absent, never as 0."
type Metrics struct {
	TotalReturn          decimal.Decimal
	WinRate              decimal.Decimal
	ProfitFactor         *decimal.Decimal
	Expectancy           decimal.Decimal
	MaxDrawdown          decimal.Decimal
	TimeToRecoveryBars   *int
	LongestLosingStreak  int
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	Sharpe               *decimal.Decimal
	Sortino              *decimal.Decimal
	TradeCount           int
	Trades               []TradeMetric
	DailyNAVSeries       []DailyNAV
	DeterminismHash      string
}
