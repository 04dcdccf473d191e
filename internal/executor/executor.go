// Package executor implements the trade executor (C4, spec §4.4): applies
// a validated Decision to the ledger with friction and capital constraints.
package executor

import (
	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/internal/portfolio"
	"github.com/ohlcforge/backtester/pkg/models"
)

// Executor applies decisions to a portfolio.Ledger under the friction model
// and capital constraints of spec §4.4.
type Executor struct {
	Ledger             *portfolio.Ledger
	InitialCapital     decimal.Decimal
	SlippageBps        decimal.Decimal
	SpreadBps          decimal.Decimal
	CommissionPerTrade decimal.Decimal
}

// New constructs an Executor bound to ledger.
func New(ledger *portfolio.Ledger, initialCapital, slippageBps, spreadBps, commissionPerTrade decimal.Decimal) *Executor {
	return &Executor{
		Ledger:             ledger,
		InitialCapital:     initialCapital,
		SlippageBps:        slippageBps,
		SpreadBps:          spreadBps,
		CommissionPerTrade: commissionPerTrade,
	}
}

// Request is the executor's input for one decision.
type Request struct {
	Ticker     string
	Decision   models.Decision
	Bar        models.Bar
	Marks      portfolio.MarkPrices // current mark price for every held ticker
	ExitPrice  *decimal.Decimal     // non-nil for matcher-synthesized exits: fill exactly at this level, no friction
	ExitReason models.ExitReason   // models.ExitNone for strategy-initiated decisions
}

// Result is what Execute produces: either a TradeRecord, a logged
// rejection (decision coerced to a no-op, not an error), or a fatal error.
type Result struct {
	Trade        *models.TradeRecord
	Rejected     bool
	RejectReason string
}

const frictionDivisor = 10_000

// Execute runs the seven steps of spec §4.4 against a single decision.
func (e *Executor) Execute(req Request, active map[string]*models.ActivePosition) (Result, error) {
	d := req.Decision
	if req.ExitReason == "" {
		req.ExitReason = models.ExitNone
	}

	// Step 1: decision validation (ContractError).
	if err := d.Validate(); err != nil {
		return Result{}, &models.EngineError{
			Kind:    models.KindContractError,
			Ticker:  req.Ticker,
			Message: err.Error(),
			Cause:   err,
		}
	}
	if d.Action == models.ActionHold {
		return Result{}, nil
	}

	nav := e.Ledger.NAV(req.Marks)

	// Step 2: pre-trade constraints.
	if nav.LessThanOrEqual(decimal.Zero) {
		return Result{Rejected: true, RejectReason: "NAV <= 0"}, nil
	}
	if d.Action == models.ActionBuy || d.Action == models.ActionShort {
		if req.ExitReason == models.ExitNone && nav.LessThanOrEqual(e.InitialCapital.Mul(decimal.NewFromFloat(0.5))) {
			return Result{Rejected: true, RejectReason: "NAV <= 0.5 * initial_capital, entries blocked"}, nil
		}
	}

	// Step 3: friction application.
	requestedPrice := decimalFromBar(req, d)
	var executedPrice decimal.Decimal
	var slippageCost decimal.Decimal
	if req.ExitPrice != nil {
		// Stops/targets/time-invalidation fill exactly at the matched
		// level; friction applies only to strategy-initiated fills
		// (spec §9, Open Questions).
		executedPrice = *req.ExitPrice
		slippageCost = decimal.Zero
	} else {
		f := e.SlippageBps.Add(e.SpreadBps).Div(decimal.NewFromInt(frictionDivisor))
		switch d.Action {
		case models.ActionBuy, models.ActionCover:
			executedPrice = requestedPrice.Mul(decimal.NewFromInt(1).Add(f))
		case models.ActionSell, models.ActionShort:
			executedPrice = requestedPrice.Mul(decimal.NewFromInt(1).Sub(f))
		}
		slippageCost = executedPrice.Sub(requestedPrice).Abs().Mul(decimal.NewFromInt(d.Quantity))
	}

	// Cap entry quantity so post-trade exposure constraints are satisfiable
	// before touching the ledger; sells/covers only ever reduce exposure
	// so they are never capped here.
	qty := d.Quantity
	if d.Action == models.ActionBuy || d.Action == models.ActionShort {
		qty = e.capEntryQuantity(req.Ticker, qty, executedPrice, nav, req.Marks)
		if qty <= 0 {
			return Result{Rejected: true, RejectReason: "entry quantity capped to 0 by exposure constraints"}, nil
		}
	}

	gainsBefore := e.Ledger.P.RealizedGains[req.Ticker]

	var filled int64
	switch d.Action {
	case models.ActionBuy:
		filled = e.Ledger.Buy(req.Ticker, qty, executedPrice, e.CommissionPerTrade)
	case models.ActionSell:
		filled = e.Ledger.Sell(req.Ticker, qty, executedPrice, e.CommissionPerTrade)
	case models.ActionShort:
		filled = e.Ledger.Short(req.Ticker, qty, executedPrice, e.CommissionPerTrade)
	case models.ActionCover:
		filled = e.Ledger.Cover(req.Ticker, qty, executedPrice, e.CommissionPerTrade)
	}
	if filled <= 0 {
		return Result{Rejected: true, RejectReason: "ledger clamped fill quantity to 0"}, nil
	}

	// Step 5: post-trade assertions (hard; EngineFailure on breach).
	marksAfter := withMark(req.Marks, req.Ticker, executedPrice)
	navAfter := e.Ledger.NAV(marksAfter)
	if navAfter.LessThan(decimal.Zero) {
		return Result{}, &models.EngineError{Kind: models.KindEngineFailure, Ticker: req.Ticker, Message: "post-trade NAV < 0"}
	}
	if navAfter.GreaterThan(decimal.Zero) {
		gross := e.Ledger.GrossExposure(marksAfter)
		if gross.Div(navAfter).GreaterThan(decimal.NewFromFloat(1.0)) {
			return Result{}, &models.EngineError{Kind: models.KindEngineFailure, Ticker: req.Ticker, Message: "post-trade gross/NAV > 1.0"}
		}
		exposure := e.Ledger.TickerExposure(req.Ticker, executedPrice)
		if exposure.Div(navAfter).GreaterThan(decimal.NewFromFloat(0.2)) {
			return Result{}, &models.EngineError{Kind: models.KindEngineFailure, Ticker: req.Ticker, Message: "post-trade per-ticker exposure/NAV > 0.2"}
		}
	}

	// Step 6: ActivePosition lifecycle.
	var realizedPnL decimal.Decimal
	if d.Action == models.ActionBuy || d.Action == models.ActionShort {
		side := models.SideLong
		if d.Action == models.ActionShort {
			side = models.SideShort
		}
		ap, err := models.NewActivePosition(side, executedPrice, d.StopLoss, d.Target, req.Bar.Timestamp)
		if err != nil {
			return Result{}, &models.EngineError{Kind: models.KindEngineFailure, Ticker: req.Ticker, Message: err.Error(), Cause: err}
		}
		active[req.Ticker] = &ap
	} else {
		gainsAfter := e.Ledger.P.RealizedGains[req.Ticker]
		switch d.Action {
		case models.ActionSell:
			realizedPnL = gainsAfter.Long.Sub(gainsBefore.Long)
		case models.ActionCover:
			realizedPnL = gainsAfter.Short.Sub(gainsBefore.Short)
		}
		delete(active, req.Ticker)
	}

	// Step 7: append TradeRecord.
	trade := &models.TradeRecord{
		Timestamp:      req.Bar.Timestamp,
		Ticker:         req.Ticker,
		Action:         d.Action,
		Quantity:       filled,
		RequestedPrice: requestedPrice,
		ExecutedPrice:  executedPrice,
		Commission:     e.CommissionPerTrade,
		SlippageCost:   slippageCost,
		RealizedPnL:    realizedPnL,
		ExitReason:     req.ExitReason,
		Confirmation:   d.Confirmation,
	}
	return Result{Trade: trade}, nil
}

func decimalFromBar(req Request, d models.Decision) decimal.Decimal {
	if req.ExitPrice != nil {
		return *req.ExitPrice
	}
	return req.Bar.Close
}

func withMark(marks portfolio.MarkPrices, ticker string, px decimal.Decimal) portfolio.MarkPrices {
	out := make(portfolio.MarkPrices, len(marks)+1)
	for k, v := range marks {
		out[k] = v
	}
	out[ticker] = px
	return out
}

// capEntryQuantity reduces qty, if needed, so that the resulting position
// cannot (by construction) breach the per-ticker 0.2·NAV or gross 1.0·NAV
// post-trade caps. The ledger's own affordability clamp (cash-based) is
// applied afterward and may reduce it further.
func (e *Executor) capEntryQuantity(ticker string, qty int64, px, nav decimal.Decimal, marks portfolio.MarkPrices) int64 {
	if px.LessThanOrEqual(decimal.Zero) || nav.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	currentExposure := e.Ledger.TickerExposure(ticker, px)
	maxTickerValue := nav.Mul(decimal.NewFromFloat(0.2)).Sub(currentExposure)
	maxByTicker := maxTickerValue.Div(px).Floor().IntPart()

	currentGross := e.Ledger.GrossExposure(marks)
	maxGrossValue := nav.Sub(currentGross)
	maxByGross := maxGrossValue.Div(px).Floor().IntPart()

	if maxByTicker < qty {
		qty = maxByTicker
	}
	if maxByGross < qty {
		qty = maxByGross
	}
	if qty < 0 {
		qty = 0
	}
	return qty
}
