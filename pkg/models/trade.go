package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason tags why a position (or the matching entry-less trade) closed.
type ExitReason string

const (
	ExitStopLoss         ExitReason = "stop_loss"
	ExitTarget           ExitReason = "target"
	ExitTimeInvalidation ExitReason = "time_invalidation"
	ExitStrategy         ExitReason = "strategy"
	ExitNone             ExitReason = "none"
)

// Confirmation is the pullback-entry confirmation pattern the reference
// strategy (C10) recognizes. It is a first-class enum per spec §9 (Open
// Questions), not a string parsed out of the reasoning field.
type Confirmation string

const (
	ConfirmationEngulfing     Confirmation = "engulfing"
	ConfirmationNearEngulfing Confirmation = "near_engulfing"
	ConfirmationStrongClose   Confirmation = "strong_close"
	ConfirmationNone          Confirmation = "none"
)

// TradeRecord is an append-only log entry for one executed fill (spec §3).
// Once created it is never mutated.
type TradeRecord struct {
	Timestamp       time.Time
	Ticker          string
	Action          Action
	Quantity        int64
	RequestedPrice  decimal.Decimal
	ExecutedPrice   decimal.Decimal
	Commission      decimal.Decimal
	SlippageCost    decimal.Decimal
	RealizedPnL     decimal.Decimal
	ExitReason      ExitReason
	Confirmation    Confirmation

	// EntryTimestamp, EntryPrice and RMultiple* are populated on
	// exit-closing records to support per-trade metrics (spec §4.9)
	// without needing to reconstruct round-trips by scanning the whole
	// log more than once.
	EntryTimestamp         time.Time
	EntryPrice             decimal.Decimal
	RMultipleGross         decimal.Decimal
	RMultipleAfterFriction decimal.Decimal
	MFER                   decimal.Decimal
	MAER                   decimal.Decimal
}

// IsRoundTripClose reports whether this record closes a position (as
// opposed to opening one), the condition under which per-trade R-multiple
// fields are meaningful.
func (t TradeRecord) IsRoundTripClose() bool {
	return t.ExitReason != ExitNone
}
