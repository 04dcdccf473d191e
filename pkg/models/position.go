package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an ActivePosition.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// SideSign returns +1 for long, -1 for short, used in the MFE/MAE formulas
// of spec §4.5.
func (s Side) SideSign() decimal.Decimal {
	if s == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Position is the gross-tracked long/short holding for one ticker (spec §3).
// A position may simultaneously hold long_qty and short_qty.
type Position struct {
	LongQty         int64
	ShortQty        int64
	LongCostBasis   decimal.Decimal
	ShortCostBasis  decimal.Decimal
	ShortMarginUsed decimal.Decimal
}

// IsFlat reports whether the position holds no shares in either direction.
func (p Position) IsFlat() bool {
	return p.LongQty == 0 && p.ShortQty == 0
}

// ActivePosition tracks a single open trade's risk state (spec §3). Exactly
// one ActivePosition may exist per ticker at a time.
type ActivePosition struct {
	Side             Side
	EntryPrice       decimal.Decimal
	StopLoss         decimal.Decimal
	Target           decimal.Decimal
	EntryTimestamp   time.Time
	BarsSinceEntry   int
	MFE              decimal.Decimal
	MAE              decimal.Decimal
	MFER             decimal.Decimal
	MAER             decimal.Decimal
}

// RRisk returns |entry_price − stop_loss|, the unit of risk for this
// position (spec §3: r_risk = |entry_price − stop_loss|).
func (a ActivePosition) RRisk() decimal.Decimal {
	return a.EntryPrice.Sub(a.StopLoss).Abs()
}

// NewActivePosition constructs an ActivePosition, enforcing the spec §3
// invariant that stop_loss ≠ entry_price.
func NewActivePosition(side Side, entryPrice, stopLoss, target decimal.Decimal, entryTimestamp time.Time) (ActivePosition, error) {
	if stopLoss.Equal(entryPrice) {
		return ActivePosition{}, NewEngineError(KindContractError, 0, "", "", "stop_loss must not equal entry_price", nil)
	}
	return ActivePosition{
		Side:           side,
		EntryPrice:     entryPrice,
		StopLoss:       stopLoss,
		Target:         target,
		EntryTimestamp: entryTimestamp,
		BarsSinceEntry: 0,
		MFE:            decimal.Zero,
		MAE:            decimal.Zero,
		MFER:           decimal.Zero,
		MAER:           decimal.Zero,
	}, nil
}
