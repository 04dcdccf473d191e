package engine

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/internal/config"
	"github.com/ohlcforge/backtester/internal/executor"
	"github.com/ohlcforge/backtester/internal/market"
	"github.com/ohlcforge/backtester/internal/matcher"
	"github.com/ohlcforge/backtester/internal/portfolio"
	"github.com/ohlcforge/backtester/internal/strategy"
	"github.com/ohlcforge/backtester/pkg/models"
	"github.com/ohlcforge/backtester/pkg/utils"
)

// Engine drives the bar-by-bar simulation (C7, spec §4.7): for every bar in
// the merged, chronologically sorted stream, it runs the matcher, then
// (when eligible) the strategy and executor, then the observer.
type Engine struct {
	Config   *config.Config
	Session  *utils.Session
	Strategy strategy.Strategy
	Ledger   *portfolio.Ledger
	Executor *executor.Executor
	Matcher  *matcher.Matcher
	Observer *Observer

	bars          []models.Bar
	perTicker     map[string][]models.Bar
	cursor        map[string]int
	active        map[string]*models.ActivePosition
	sessionStates map[string]*models.SessionState
	lastDate      map[string]string
	lastTimestamp map[string]int64
	tradesToday   map[string]map[string]int
	enteredToday  map[string]map[string]bool
	marks         portfolio.MarkPrices
	trades        []models.TradeRecord
	dailyNAV      []models.DailyNAV
}

// Result is everything a completed run produced.
type Result struct {
	Trades          []models.TradeRecord
	DailyNAV        []models.DailyNAV
	DeterminismHash string
}

// NewFromSource constructs an Engine over a loaded CSVBarSource.
func NewFromSource(cfg *config.Config, session *utils.Session, bars *market.CSVBarSource, strat strategy.Strategy, logWriter io.Writer) *Engine {
	return New(cfg, session, bars.All(), strat, logWriter)
}

// New constructs an Engine. bars must already be validated, merged and
// sorted ascending by (timestamp, ticker) — CSVBarSource.All() does this.
func New(cfg *config.Config, session *utils.Session, bars []models.Bar, strat strategy.Strategy, logWriter io.Writer) *Engine {
	ledger := portfolio.NewLedger(decimal.NewFromFloat(cfg.InitialCapital), decimal.NewFromFloat(cfg.MarginRequirement))
	ex := executor.New(
		ledger,
		decimal.NewFromFloat(cfg.InitialCapital),
		decimal.NewFromFloat(cfg.SlippageBps),
		decimal.NewFromFloat(cfg.SpreadBps),
		decimal.NewFromFloat(cfg.CommissionPerTrade),
	)
	m := matcher.New(ex, cfg.TimeInvalidationBars, decimal.NewFromFloat(cfg.TimeInvalidationMFER))

	perTicker := make(map[string][]models.Bar)
	for _, b := range bars {
		perTicker[b.Ticker] = append(perTicker[b.Ticker], b)
	}

	sessionStates := make(map[string]*models.SessionState)
	for ticker := range perTicker {
		sessionStates[ticker] = models.NewSessionState()
	}

	return &Engine{
		Config:        cfg,
		Session:       session,
		Strategy:      strat,
		Ledger:        ledger,
		Executor:      ex,
		Matcher:       m,
		Observer:      NewObserver(logWriter, cfg.SnapshotDir, cfg.Seed),
		bars:          bars,
		perTicker:     perTicker,
		cursor:        make(map[string]int),
		active:        make(map[string]*models.ActivePosition),
		sessionStates: sessionStates,
		lastDate:      make(map[string]string),
		lastTimestamp: make(map[string]int64),
		tradesToday:   make(map[string]map[string]int),
		enteredToday:  make(map[string]map[string]bool),
		marks:         make(portfolio.MarkPrices),
	}
}

// Run executes the full loop. A fatal EngineError aborts immediately and is
// returned; a StrategyFailure-class error is logged and coerced to a hold,
// and the loop continues (spec §7).
func (e *Engine) Run() (*Result, error) {
	for i, b := range e.bars {
		ticker := b.Ticker
		dateKey := e.Session.FormatDate(b.Timestamp)

		if e.lastDate[ticker] != dateKey {
			e.lastDate[ticker] = dateKey
			if !e.Session.IsTradingDay(b.Timestamp) {
				fmt.Fprintf(e.logOrDiscard(), "note: %s has a bar on %s, a non-trading day (weekend/holiday) for the configured session calendar\n", ticker, dateKey)
			}
			e.sessionStates[ticker].Reset()
			e.Strategy.OnNewSession(e.sessionStates[ticker])
			e.tradesToday[ticker] = make(map[string]int)
			e.enteredToday[ticker] = make(map[string]bool)
		}

		if last, ok := e.lastTimestamp[ticker]; ok && b.Timestamp.UnixNano() <= last {
			return nil, &models.EngineError{
				Kind: models.KindDataIntegrityError, Index: i, Ticker: ticker,
				Timestamp: b.Timestamp.Format(rfc3339),
				Message:   "non-monotonic or duplicate bar timestamp reached the engine loop",
			}
		}
		e.lastTimestamp[ticker] = b.Timestamp.UnixNano()
		e.marks[ticker] = b.Close

		if trade, err := e.Matcher.Process(ticker, b, e.active, e.marks); err != nil {
			// Matcher exits are synthesized internally, so any error here,
			// including a ContractError, is an engine failure.
			return nil, err
		} else if trade != nil {
			e.recordTrade(ticker, dateKey, *trade)
		}

		visible := e.cursor[ticker]
		e.cursor[ticker] = visible + 1

		if e.isEligible(ticker, dateKey, b) {
			view := market.NewPriceView(ticker, e.perTicker[ticker], visible)
			snapshotPortfolio := e.Ledger.P.Snapshot()
			decision := e.safeGenerate(view, snapshotPortfolio, b, e.sessionStates[ticker])

			if decision.Action != models.ActionHold {
				res, err := e.Executor.Execute(executor.Request{
					Ticker: ticker, Decision: decision, Bar: b, Marks: e.marks,
				}, e.active)
				if err != nil {
					ee, ok := err.(*models.EngineError)
					if ok && ee.Kind == models.KindContractError {
						fmt.Fprintf(e.logOrDiscard(), "strategy_failure (contract): %v\n", err)
					} else {
						return nil, err
					}
				} else if res.Rejected {
					fmt.Fprintf(e.logOrDiscard(), "entry rejected: %s\n", res.RejectReason)
				} else if res.Trade != nil {
					e.recordTrade(ticker, dateKey, *res.Trade)
					if decision.Action == models.ActionBuy || decision.Action == models.ActionShort {
						e.enteredToday[ticker][dateKey] = true
						if sameBar, err := e.Matcher.CheckEntryBar(ticker, b, e.active, e.marks); err != nil {
							return nil, err
						} else if sameBar != nil {
							e.recordTrade(ticker, dateKey, *sameBar)
						}
					}
				}
			}
		}

		nav := e.Ledger.NAV(e.marks)
		if _, err := e.Observer.Observe(i, ticker, b, nav, len(e.active), e.tradesToday[ticker][dateKey]); err != nil {
			return nil, err
		}

		if i == len(e.bars)-1 || e.Session.FormatDate(e.bars[i+1].Timestamp) != dateKey {
			e.dailyNAV = append(e.dailyNAV, models.DailyNAV{Date: dateKey, NAV: e.Ledger.NAV(e.marks)})
		}

		if err := e.checkFailFastInvariants(i); err != nil {
			return nil, err
		}
	}

	return &Result{
		Trades:          e.trades,
		DailyNAV:        e.dailyNAV,
		DeterminismHash: e.Observer.FinalHash(),
	}, nil
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// checkFailFastInvariants enforces spec §4.7's three loop-level assertions
// after bar index i has been fully processed: (ii) the observer's hash chain
// has exactly i+1 links, one per bar seen so far; (iii) the daily NAV series
// is monotonically non-decreasing in calendar date. (i), processed-bar count
// equalling i+1, is guaranteed by the range loop itself and needs no
// separate check. Any breach is an EngineFailure, not a recoverable
// condition — it means the loop's own bookkeeping has drifted.
func (e *Engine) checkFailFastInvariants(i int) error {
	if len(e.Observer.chain) != i+1 {
		return &models.EngineError{
			Kind:    models.KindEngineFailure,
			Index:   i,
			Message: fmt.Sprintf("observer received %d invariant lines, want %d", len(e.Observer.chain), i+1),
		}
	}
	for j := 1; j < len(e.dailyNAV); j++ {
		if e.dailyNAV[j].Date < e.dailyNAV[j-1].Date {
			return &models.EngineError{
				Kind:    models.KindEngineFailure,
				Index:   i,
				Message: fmt.Sprintf("daily NAV series out of order: %s before %s", e.dailyNAV[j-1].Date, e.dailyNAV[j].Date),
			}
		}
	}
	return nil
}

// isEligible implements spec §4.6's three Generate-invocation conditions.
func (e *Engine) isEligible(ticker, dateKey string, bar models.Bar) bool {
	if _, hasActive := e.active[ticker]; hasActive {
		return false
	}
	if e.enteredToday[ticker][dateKey] {
		return false
	}
	start, err := e.Session.AtTimeOfDay(bar.Timestamp, e.Config.TradingWindowStart)
	if err != nil {
		return false
	}
	end, err := e.Session.AtTimeOfDay(bar.Timestamp, e.Config.TradingWindowEnd)
	if err != nil {
		return false
	}
	return !bar.Timestamp.Before(start) && bar.Timestamp.Before(end)
}

// safeGenerate isolates a strategy panic into a StrategyFailure-coerced
// hold (spec §7: "Strategy panics are recovered at the call site").
func (e *Engine) safeGenerate(view *market.PriceView, snap models.Portfolio, bar models.Bar, state *models.SessionState) (d models.Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = models.Hold(fmt.Sprintf("strategy panicked: %v", r))
		}
	}()
	return e.Strategy.Generate(view, snap, bar, state)
}

func (e *Engine) recordTrade(ticker, dateKey string, trade models.TradeRecord) {
	e.trades = append(e.trades, trade)
	e.marks[ticker] = trade.ExecutedPrice
	if e.tradesToday[ticker] == nil {
		e.tradesToday[ticker] = make(map[string]int)
	}
	e.tradesToday[ticker][dateKey]++
}

func (e *Engine) logOrDiscard() io.Writer {
	if e.Observer.Writer != nil {
		return e.Observer.Writer
	}
	return io.Discard
}
