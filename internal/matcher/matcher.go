// Package matcher implements the intrabar stop/target/time-invalidation
// matcher (C5, spec §4.5): before the strategy is consulted on any bar, it
// updates and possibly closes the ActivePosition for that bar's ticker.
package matcher

import (
	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/internal/executor"
	"github.com/ohlcforge/backtester/internal/portfolio"
	"github.com/ohlcforge/backtester/pkg/models"
)

// Matcher closes ActivePositions against a bar's H/L, synthesizing
// sell/cover decisions that it routes through the same Executor the
// engine uses for strategy-initiated trades.
type Matcher struct {
	Executor             *executor.Executor
	TimeInvalidationBars int
	TimeInvalidationMFER decimal.Decimal
}

// New constructs a Matcher.
func New(ex *executor.Executor, timeInvalidationBars int, timeInvalidationMFER decimal.Decimal) *Matcher {
	return &Matcher{Executor: ex, TimeInvalidationBars: timeInvalidationBars, TimeInvalidationMFER: timeInvalidationMFER}
}

// Process runs the full per-iteration check for ticker's ActivePosition (if
// any): increments bars_since_entry, checks stop/target (stop takes
// priority when both trigger on the same bar, per spec §4.5), updates
// MFE/MAE when no stop/target exit fires, and finally checks time
// invalidation. Returns nil if there was no ActivePosition or nothing
// exited.
func (m *Matcher) Process(ticker string, bar models.Bar, active map[string]*models.ActivePosition, marks portfolio.MarkPrices) (*models.TradeRecord, error) {
	ap, ok := active[ticker]
	if !ok {
		return nil, nil
	}
	ap.BarsSinceEntry++

	if trade, err := m.checkStopTarget(ticker, bar, ap, active, marks); trade != nil || err != nil {
		return trade, err
	}

	m.updateExcursion(bar, ap)

	if ap.BarsSinceEntry >= m.TimeInvalidationBars && ap.MFER.LessThan(m.TimeInvalidationMFER) {
		return m.exit(ticker, bar, ap, bar.Close, models.ExitTimeInvalidation, active, marks)
	}

	return nil, nil
}

// CheckEntryBar handles spec §4.5's "no one-bar grace" rule: if the very
// bar a position was entered on already breaches its own stop or target
// (because entry happens intrabar, not necessarily at the bar's extreme),
// it exits immediately on that same bar. bars_since_entry stays at 0 — this
// is not a matcher iteration, just a same-bar sanity check.
func (m *Matcher) CheckEntryBar(ticker string, bar models.Bar, active map[string]*models.ActivePosition, marks portfolio.MarkPrices) (*models.TradeRecord, error) {
	ap, ok := active[ticker]
	if !ok {
		return nil, nil
	}
	return m.checkStopTarget(ticker, bar, ap, active, marks)
}

func (m *Matcher) checkStopTarget(ticker string, bar models.Bar, ap *models.ActivePosition, active map[string]*models.ActivePosition, marks portfolio.MarkPrices) (*models.TradeRecord, error) {
	var stopHit, targetHit bool
	if ap.Side == models.SideLong {
		stopHit = bar.Low.LessThanOrEqual(ap.StopLoss)
		targetHit = bar.High.GreaterThanOrEqual(ap.Target)
	} else {
		stopHit = bar.High.GreaterThanOrEqual(ap.StopLoss)
		targetHit = bar.Low.LessThanOrEqual(ap.Target)
	}

	switch {
	case stopHit:
		return m.exit(ticker, bar, ap, ap.StopLoss, models.ExitStopLoss, active, marks)
	case targetHit:
		return m.exit(ticker, bar, ap, ap.Target, models.ExitTarget, active, marks)
	default:
		return nil, nil
	}
}

// updateExcursion applies the MFE/MAE formulas from spec §4.5:
// mfe = max(mfe, (high-entry)*sign), mae = min(mae, (low-entry)*sign),
// then mfe_r = mfe/r_risk, mae_r = mae/r_risk.
func (m *Matcher) updateExcursion(bar models.Bar, ap *models.ActivePosition) {
	sign := ap.Side.SideSign()
	highExcursion := bar.High.Sub(ap.EntryPrice).Mul(sign)
	lowExcursion := bar.Low.Sub(ap.EntryPrice).Mul(sign)

	if highExcursion.GreaterThan(ap.MFE) {
		ap.MFE = highExcursion
	}
	if lowExcursion.LessThan(ap.MAE) {
		ap.MAE = lowExcursion
	}

	rRisk := ap.RRisk()
	if rRisk.GreaterThan(decimal.Zero) {
		ap.MFER = ap.MFE.Div(rRisk)
		ap.MAER = ap.MAE.Div(rRisk)
	}
}

func (m *Matcher) exit(ticker string, bar models.Bar, ap *models.ActivePosition, price decimal.Decimal, reason models.ExitReason, active map[string]*models.ActivePosition, marks portfolio.MarkPrices) (*models.TradeRecord, error) {
	action := models.ActionSell
	if ap.Side == models.SideShort {
		action = models.ActionCover
	}
	pos := m.Executor.Ledger.P.Positions[ticker]
	qty := pos.LongQty
	if ap.Side == models.SideShort {
		qty = pos.ShortQty
	}

	decision := models.Decision{Action: action, Quantity: qty, Confidence: 100, Reasoning: string(reason)}
	res, err := m.Executor.Execute(executor.Request{
		Ticker:     ticker,
		Decision:   decision,
		Bar:        bar,
		Marks:      marks,
		ExitPrice:  &price,
		ExitReason: reason,
	}, active)
	if err != nil {
		return nil, err
	}
	if res.Rejected {
		return nil, &models.EngineError{
			Kind:    models.KindEngineFailure,
			Ticker:  ticker,
			Message: "matcher-synthesized exit was rejected: " + res.RejectReason,
		}
	}
	if res.Trade != nil {
		rRisk := ap.RRisk()
		res.Trade.EntryTimestamp = ap.EntryTimestamp
		res.Trade.EntryPrice = ap.EntryPrice
		res.Trade.MFER = ap.MFER
		res.Trade.MAER = ap.MAER
		if rRisk.GreaterThan(decimal.Zero) {
			gross := res.Trade.RealizedPnL.Div(rRisk)
			res.Trade.RMultipleGross = gross
			afterFriction := res.Trade.RealizedPnL.Sub(res.Trade.Commission).Sub(res.Trade.SlippageCost).Div(rRisk)
			res.Trade.RMultipleAfterFriction = afterFriction
		}
	}
	return res.Trade, nil
}
