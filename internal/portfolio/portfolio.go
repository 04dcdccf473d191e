// Package portfolio implements the ledger operations (C3, spec §4.3):
// buy/sell/short/cover against a models.Portfolio, plus NAV and gross
// exposure valuation.
package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/pkg/models"
)

// Ledger wraps a models.Portfolio with the mutating operations spec §4.3
// defines. The engine is the only caller that holds a *Ledger; strategies
// only ever see models.Portfolio snapshots.
type Ledger struct {
	P *models.Portfolio
}

// NewLedger constructs a Ledger over a freshly created Portfolio seeded
// with initial_capital.
func NewLedger(initialCapital, marginRequirement decimal.Decimal) *Ledger {
	return &Ledger{P: models.NewPortfolio(initialCapital, marginRequirement)}
}

// Buy clamps qty to floor(cash/px), increases long_qty, updates
// long_cost_basis as a weighted average, and decreases cash by
// qty*px + commission (spec §4.3).
func (l *Ledger) Buy(ticker string, qty int64, px, commission decimal.Decimal) int64 {
	if qty <= 0 || px.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	maxAffordable := l.P.Cash.Div(px).Floor().IntPart()
	if qty > maxAffordable {
		qty = maxAffordable
	}
	if qty <= 0 {
		return 0
	}

	pos := l.P.Positions[ticker]
	totalCost := pos.LongCostBasis.Mul(decimal.NewFromInt(pos.LongQty)).Add(px.Mul(decimal.NewFromInt(qty)))
	newQty := pos.LongQty + qty
	pos.LongCostBasis = totalCost.Div(decimal.NewFromInt(newQty))
	pos.LongQty = newQty
	l.P.Positions[ticker] = pos

	l.P.Cash = l.P.Cash.Sub(px.Mul(decimal.NewFromInt(qty))).Sub(commission)
	return qty
}

// Sell clamps qty to long_qty, decreases long_qty, increases cash by
// qty*px − commission, and credits (px − long_cost_basis)*qty to
// realized_gains.long (spec §4.3).
func (l *Ledger) Sell(ticker string, qty int64, px, commission decimal.Decimal) int64 {
	pos := l.P.Positions[ticker]
	if qty > pos.LongQty {
		qty = pos.LongQty
	}
	if qty <= 0 {
		return 0
	}

	realized := px.Sub(pos.LongCostBasis).Mul(decimal.NewFromInt(qty))
	gains := l.P.RealizedGains[ticker]
	gains.Long = gains.Long.Add(realized)
	l.P.RealizedGains[ticker] = gains

	pos.LongQty -= qty
	if pos.LongQty == 0 {
		pos.LongCostBasis = decimal.Zero
	}
	l.P.Positions[ticker] = pos

	l.P.Cash = l.P.Cash.Add(px.Mul(decimal.NewFromInt(qty))).Sub(commission)
	return qty
}

// Short clamps qty to floor(cash / (px*margin_requirement + commission_per_share)),
// credits short proceeds qty*px to cash, then debits
// qty*px*margin_requirement + commission, increases short_qty, updates
// short_cost_basis as a weighted average, and tracks short_margin_used
// (spec §4.3; this is the fix for the historical short-position
// miscount — proceeds are credited to cash, not ignored).
func (l *Ledger) Short(ticker string, qty int64, px, commission decimal.Decimal) int64 {
	if qty <= 0 || px.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	perShareCost := px.Mul(l.P.MarginRequirement)
	commissionPerShare := decimal.Zero
	if qty > 0 {
		commissionPerShare = commission.Div(decimal.NewFromInt(qty))
	}
	denom := perShareCost.Add(commissionPerShare)
	if denom.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	maxAffordable := l.P.Cash.Div(denom).Floor().IntPart()
	if qty > maxAffordable {
		qty = maxAffordable
	}
	if qty <= 0 {
		return 0
	}

	pos := l.P.Positions[ticker]
	totalProceeds := pos.ShortCostBasis.Mul(decimal.NewFromInt(pos.ShortQty)).Add(px.Mul(decimal.NewFromInt(qty)))
	newQty := pos.ShortQty + qty
	pos.ShortCostBasis = totalProceeds.Div(decimal.NewFromInt(newQty))
	pos.ShortQty = newQty

	marginForTrade := px.Mul(decimal.NewFromInt(qty)).Mul(l.P.MarginRequirement)
	pos.ShortMarginUsed = pos.ShortMarginUsed.Add(marginForTrade)
	l.P.Positions[ticker] = pos
	l.P.MarginUsed = l.P.MarginUsed.Add(marginForTrade)

	l.P.Cash = l.P.Cash.Add(px.Mul(decimal.NewFromInt(qty)))
	l.P.Cash = l.P.Cash.Sub(marginForTrade).Sub(commission)
	return qty
}

// Cover clamps qty to short_qty, releases proportional margin back to
// cash, pays qty*px + commission, decreases short_qty, and credits
// (short_cost_basis − px)*qty to realized_gains.short (spec §4.3).
func (l *Ledger) Cover(ticker string, qty int64, px, commission decimal.Decimal) int64 {
	pos := l.P.Positions[ticker]
	if qty > pos.ShortQty {
		qty = pos.ShortQty
	}
	if qty <= 0 {
		return 0
	}

	realized := pos.ShortCostBasis.Sub(px).Mul(decimal.NewFromInt(qty))
	gains := l.P.RealizedGains[ticker]
	gains.Short = gains.Short.Add(realized)
	l.P.RealizedGains[ticker] = gains

	var marginToRelease decimal.Decimal
	if pos.ShortQty > 0 {
		fraction := decimal.NewFromInt(qty).Div(decimal.NewFromInt(pos.ShortQty))
		marginToRelease = pos.ShortMarginUsed.Mul(fraction)
	}
	pos.ShortMarginUsed = pos.ShortMarginUsed.Sub(marginToRelease)
	pos.ShortQty -= qty
	if pos.ShortQty == 0 {
		pos.ShortCostBasis = decimal.Zero
		pos.ShortMarginUsed = decimal.Zero
	}
	l.P.Positions[ticker] = pos
	l.P.MarginUsed = l.P.MarginUsed.Sub(marginToRelease)

	l.P.Cash = l.P.Cash.Add(marginToRelease)
	l.P.Cash = l.P.Cash.Sub(px.Mul(decimal.NewFromInt(qty))).Sub(commission)
	return qty
}

// MarkPrices is the ticker→last-trade-price map NAV and exposure are
// computed against.
type MarkPrices map[string]decimal.Decimal

// NAV computes cash + Σ(long_qty*px) + Σ(short_cost_basis − px)*short_qty
// (spec §4.3). The third term encodes short P&L without double-counting,
// since short proceeds are already in cash.
func (l *Ledger) NAV(marks MarkPrices) decimal.Decimal {
	nav := l.P.Cash
	for ticker, pos := range l.P.Positions {
		px, ok := marks[ticker]
		if !ok {
			continue
		}
		if pos.LongQty > 0 {
			nav = nav.Add(px.Mul(decimal.NewFromInt(pos.LongQty)))
		}
		if pos.ShortQty > 0 {
			nav = nav.Add(pos.ShortCostBasis.Sub(px).Mul(decimal.NewFromInt(pos.ShortQty)))
		}
	}
	return nav
}

// GrossExposure computes Σ(long_qty*px) + Σ(short_qty*px), absolute not
// net (spec §4.3).
func (l *Ledger) GrossExposure(marks MarkPrices) decimal.Decimal {
	gross := decimal.Zero
	for ticker, pos := range l.P.Positions {
		px, ok := marks[ticker]
		if !ok {
			continue
		}
		if pos.LongQty > 0 {
			gross = gross.Add(px.Mul(decimal.NewFromInt(pos.LongQty)))
		}
		if pos.ShortQty > 0 {
			gross = gross.Add(px.Mul(decimal.NewFromInt(pos.ShortQty)))
		}
	}
	return gross
}

// TickerExposure computes the absolute exposure of a single ticker, used
// for the per-ticker exposure/NAV ≤ 0.2 constraint (spec §4.4).
func (l *Ledger) TickerExposure(ticker string, px decimal.Decimal) decimal.Decimal {
	pos := l.P.Positions[ticker]
	exposure := decimal.Zero
	if pos.LongQty > 0 {
		exposure = exposure.Add(px.Mul(decimal.NewFromInt(pos.LongQty)))
	}
	if pos.ShortQty > 0 {
		exposure = exposure.Add(px.Mul(decimal.NewFromInt(pos.ShortQty)))
	}
	return exposure
}
