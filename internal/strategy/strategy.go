// Package strategy defines the pluggable Strategy contract (C6, spec §4.6).
package strategy

import (
	"github.com/ohlcforge/backtester/internal/market"
	"github.com/ohlcforge/backtester/pkg/models"
)

// Strategy is a pluggable signal producer. The engine calls Generate only
// when (a) the bar falls within the configured trading window, (b) no
// ActivePosition exists for the ticker, and (c) no strategy-initiated entry
// has been made for this ticker on this calendar date (spec §4.6). Invalid decisions
// returned here are a StrategyFailure, not an EngineFailure — the engine
// logs and coerces to hold.
type Strategy interface {
	// Name identifies the strategy for logging and CLI selection.
	Name() string

	// OnNewSession is called once per ticker at each new calendar-date
	// boundary, before the first Generate call of that date. Implementations
	// use it to reset per-session scratch held in state.
	OnNewSession(state *models.SessionState)

	// Generate produces a Decision for one ticker at one bar. view is the
	// no-lookahead price view (§4.2); portfolioSnapshot is a read-only
	// copy (§3 "Ownership"); state is the engine-managed per-session
	// scratch space (§4.6).
	Generate(view *market.PriceView, portfolioSnapshot models.Portfolio, bar models.Bar, state *models.SessionState) models.Decision
}
