package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is the decision a Strategy (or the intrabar matcher, synthesizing
// an exit) may take for a ticker on a given bar.
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionShort Action = "short"
	ActionCover Action = "cover"
	ActionHold  Action = "hold"
)

// entering reports whether this action opens a new ActivePosition.
func (a Action) entering() bool {
	return a == ActionBuy || a == ActionShort
}

// Decision is the immutable output of a Strategy for one ticker at one bar
// (spec §3). The engine never mutates a Decision after it is returned.
type Decision struct {
	Action       Action
	Quantity     int64
	StopLoss     decimal.Decimal
	Target       decimal.Decimal
	Confidence   int // 0..100
	Reasoning    string
	Confirmation Confirmation // first-class pattern tag for entries (spec §9, Open Questions); ConfirmationNone elsewhere
}

// Hold is the canonical no-op decision, used both by strategies that choose
// not to act and by the engine when coercing a StrategyFailure.
func Hold(reason string) Decision {
	return Decision{Action: ActionHold, Quantity: 0, Reasoning: reason}
}

// Validate enforces the decision-shape invariants from spec §4.4 step 1.
// A non-nil return is a ContractError.
func (d Decision) Validate() error {
	switch d.Action {
	case ActionBuy, ActionSell, ActionShort, ActionCover, ActionHold:
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
	if d.Action == ActionHold {
		if d.Quantity != 0 {
			return fmt.Errorf("hold decision must have quantity 0, got %d", d.Quantity)
		}
		return nil
	}
	if d.Quantity <= 0 {
		return fmt.Errorf("non-hold decision %q must have quantity > 0, got %d", d.Action, d.Quantity)
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		return fmt.Errorf("confidence must be within [0,100], got %d", d.Confidence)
	}
	if d.Action.entering() {
		if d.StopLoss.IsZero() {
			return fmt.Errorf("entering decision %q requires a non-zero stop_loss", d.Action)
		}
		if d.Target.IsZero() {
			return fmt.Errorf("entering decision %q requires a non-zero target", d.Action)
		}
	}
	return nil
}
