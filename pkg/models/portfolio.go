package models

import "github.com/shopspring/decimal"

// RealizedGains splits realized P&L by the side that produced it (spec §3:
// "realized_gains (mapping from ticker to {long, short})").
type RealizedGains struct {
	Long  decimal.Decimal
	Short decimal.Decimal
}

// Portfolio is the ledger's data model (spec §3). Behavior (buy/sell/short/
// cover, NAV, exposure) lives in internal/portfolio, which operates on this
// struct; Portfolio itself carries no methods that mutate state, so a
// read-only Snapshot can be handed to strategies safely (spec §4.6,
// "portfolio_snapshot is a read-only copy").
type Portfolio struct {
	Cash              decimal.Decimal
	Positions         map[string]Position
	RealizedGains     map[string]RealizedGains
	MarginRequirement decimal.Decimal
	MarginUsed        decimal.Decimal
}

// NewPortfolio constructs a Portfolio seeded with initial_capital and empty
// position/gains maps.
func NewPortfolio(initialCapital decimal.Decimal, marginRequirement decimal.Decimal) *Portfolio {
	return &Portfolio{
		Cash:              initialCapital,
		Positions:         make(map[string]Position),
		RealizedGains:     make(map[string]RealizedGains),
		MarginRequirement: marginRequirement,
		MarginUsed:        decimal.Zero,
	}
}

// Snapshot returns a deep copy suitable for handing to a Strategy, which
// must not be able to observe or propagate mutations back into engine state.
func (p *Portfolio) Snapshot() Portfolio {
	positions := make(map[string]Position, len(p.Positions))
	for k, v := range p.Positions {
		positions[k] = v
	}
	gains := make(map[string]RealizedGains, len(p.RealizedGains))
	for k, v := range p.RealizedGains {
		gains[k] = v
	}
	return Portfolio{
		Cash:              p.Cash,
		Positions:         positions,
		RealizedGains:     gains,
		MarginRequirement: p.MarginRequirement,
		MarginUsed:        p.MarginUsed,
	}
}
