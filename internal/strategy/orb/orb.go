// Package orb implements the reference opening-range-breakout + pullback
// strategy (C10, spec §4.10), which exercises every feature of C5–C7: it
// enters, gets stopped out, hits targets, and times out.
package orb

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/internal/market"
	"github.com/ohlcforge/backtester/pkg/models"
	"github.com/ohlcforge/backtester/pkg/utils"
)

const (
	tradingWindowMinutes = 60
	atrPeriod            = 14
	regimeLookbackDays   = 20
	minRetracement       = 0.50
	maxRetracement       = 0.70
	nearEngulfingPct     = 0.80
	sizingRiskPct        = 0.0025
	stopBufferPct        = 0.10
	targetRMultiple      = 1.5
)

// Strategy is the opening-range-breakout + pullback-confirmation reference
// strategy. One instance is shared across the whole run; per-session
// scratch lives in the models.SessionState the engine resets daily, but
// the regime filter's rolling ATR history spans sessions and is kept here.
type Strategy struct {
	session             *utils.Session
	sessionOpenClock    string // "15:04", e.g. config.TradingWindowStart
	openingRangeMinutes int

	atrHistory map[string][]float64 // ticker -> most recent per-session ATR values, oldest first
}

// New constructs the reference strategy bound to a session calendar.
func New(session *utils.Session, sessionOpenClock string, openingRangeMinutes int) *Strategy {
	return &Strategy{
		session:             session,
		sessionOpenClock:    sessionOpenClock,
		openingRangeMinutes: openingRangeMinutes,
		atrHistory:          make(map[string][]float64),
	}
}

func (s *Strategy) Name() string { return "orb_pullback" }

func (s *Strategy) OnNewSession(state *models.SessionState) {
	state.Reset()
}

func (s *Strategy) Generate(view *market.PriceView, snapshot models.Portfolio, bar models.Bar, state *models.SessionState) models.Decision {
	openTime, err := s.session.AtTimeOfDay(bar.Timestamp, s.sessionOpenClock)
	if err != nil {
		return models.Hold("invalid session open clock")
	}
	orEnd := openTime.Add(time.Duration(s.openingRangeMinutes) * time.Minute)

	if bar.Timestamp.Before(orEnd) {
		s.accumulateOpeningRange(bar, state)
		return models.Hold("accumulating opening range")
	}

	if entered, _ := state.GetBool("entered_today"); entered {
		return models.Hold("one entry per session already used")
	}

	orHigh, ok1 := state.GetFloat64("or_high")
	orLow, ok2 := state.GetFloat64("or_low")
	if !ok1 || !ok2 {
		return models.Hold("opening range never defined (gap in data)")
	}

	if !s.regimePasses(view, bar.Ticker, state) {
		return models.Hold("ATR regime filter: below 20-session median")
	}

	side, haveBreakout := state.Get("breakout_side")
	if !haveBreakout {
		return s.checkBreakout(bar, orHigh, orLow, state)
	}
	sideStr := side.(string)

	barsSinceBreakout, _ := state.GetInt("bars_since_breakout")
	barsSinceBreakout++
	state.Set("bars_since_breakout", barsSinceBreakout)

	return s.checkPullbackEntry(view, bar, sideStr, orHigh, orLow, snapshot, state, barsSinceBreakout)
}

func (s *Strategy) accumulateOpeningRange(bar models.Bar, state *models.SessionState) {
	high, _ := bar.High.Float64()
	low, _ := bar.Low.Float64()

	if cur, ok := state.GetFloat64("or_high"); !ok || high > cur {
		state.Set("or_high", high)
	}
	if cur, ok := state.GetFloat64("or_low"); !ok || low < cur {
		state.Set("or_low", low)
	}
}

func (s *Strategy) checkBreakout(bar models.Bar, orHigh, orLow float64, state *models.SessionState) models.Decision {
	high, _ := bar.High.Float64()
	low, _ := bar.Low.Float64()

	switch {
	case high > orHigh:
		state.Set("breakout_side", "long")
	case low < orLow:
		state.Set("breakout_side", "short")
	default:
		return models.Hold("no breakout yet")
	}
	// The breakout bar itself is excluded from entry by returning here; the
	// very next bar is a valid pullback candidate (spec §4.10: only "the
	// breakout bar itself" is excluded, not a further grace bar).
	return models.Hold("breakout recorded, awaiting pullback")
}

func (s *Strategy) checkPullbackEntry(view *market.PriceView, bar models.Bar, side string, orHigh, orLow float64, snapshot models.Portfolio, state *models.SessionState, barsSinceBreakout int) models.Decision {
	breakoutRange := orHigh - orLow
	if breakoutRange <= 0 {
		return models.Hold("degenerate opening range")
	}

	high, _ := bar.High.Float64()
	low, _ := bar.Low.Float64()

	var r float64
	if side == "long" {
		r = (orHigh - low) / breakoutRange
	} else {
		r = (high - orLow) / breakoutRange
	}
	if r < minRetracement || r > maxRetracement {
		return models.Hold(fmt.Sprintf("retracement outside [0.50, 0.70], %d bars since breakout", barsSinceBreakout))
	}

	confirmation := confirm(view, side)
	if confirmation == models.ConfirmationNone {
		return models.Hold("no confirmation pattern")
	}

	return s.buildEntry(bar, side, low, high, snapshot, confirmation, state)
}

func (s *Strategy) buildEntry(bar models.Bar, side string, pullbackLow, pullbackHigh float64, snapshot models.Portfolio, confirmation models.Confirmation, state *models.SessionState) models.Decision {
	entry, _ := bar.Close.Float64()

	var stop, target float64
	var action models.Action
	if side == "long" {
		stop = pullbackLow * (1 - stopBufferPct)
		risk := entry - stop
		target = entry + targetRMultiple*risk
		action = models.ActionBuy
	} else {
		stop = pullbackHigh * (1 + stopBufferPct)
		risk := stop - entry
		target = entry - targetRMultiple*risk
		action = models.ActionShort
	}

	risk := math.Abs(entry - stop)
	if risk <= 0 {
		return models.Hold("degenerate stop distance")
	}

	// The strategy only sees a read-only snapshot with no mark prices for
	// other tickers, so cash is used as a NAV proxy. It is exact only when
	// the whole portfolio is flat; the engine's eligibility check guarantees
	// only that this ticker has no ActivePosition.
	nav, _ := snapshot.Cash.Float64()
	qty := int64(math.Floor((sizingRiskPct * nav) / risk))
	if qty < 1 {
		qty = 1
	}
	if qty > 1 {
		qty = 1 // capped at one contract in the reference implementation (spec §4.10)
	}

	state.Set("entered_today", true)

	return models.Decision{
		Action:       action,
		Quantity:     qty,
		StopLoss:     decimal.NewFromFloat(stop),
		Target:       decimal.NewFromFloat(target),
		Confidence:   70,
		Reasoning:    "opening-range breakout pullback entry",
		Confirmation: confirmation,
	}
}

// regimePasses computes the 14-bar ATR and compares it against the
// 20-session rolling median, caching the result for the rest of the
// session (spec §4.10 "Regime filter").
func (s *Strategy) regimePasses(view *market.PriceView, ticker string, state *models.SessionState) bool {
	if cached, ok := state.GetBool("regime_ok"); ok {
		return cached
	}

	atr := computeATR(view, atrPeriod)
	history := s.atrHistory[ticker]
	median := medianOf(history)
	s.pushATRHistory(ticker, atr)

	ok := len(history) == 0 || atr > median
	state.Set("regime_ok", ok)
	return ok
}

func (s *Strategy) pushATRHistory(ticker string, atr float64) {
	history := append(s.atrHistory[ticker], atr)
	if len(history) > regimeLookbackDays {
		history = history[len(history)-regimeLookbackDays:]
	}
	s.atrHistory[ticker] = history
}

func computeATR(view *market.PriceView, period int) float64 {
	bars := view.HistoricalBars()
	if len(bars) < 2 {
		return 0
	}
	start := len(bars) - period - 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	count := 0
	for i := start + 1; i < len(bars); i++ {
		high, _ := bars[i].High.Float64()
		low, _ := bars[i].Low.Float64()
		prevClose, _ := bars[i-1].Close.Float64()
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		sum += tr
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// confirm classifies the current bar against the previous one into one of
// the three confirmation patterns the reference strategy recognizes (spec
// §4.10 "Pullback entry").
func confirm(view *market.PriceView, side string) models.Confirmation {
	if view.Len() < 2 {
		return models.ConfirmationNone
	}
	cur := view.Current()
	prev, err := view.LookBack(1)
	if err != nil {
		return models.ConfirmationNone
	}

	curOpen, _ := cur.Open.Float64()
	curClose, _ := cur.Close.Float64()
	curHigh, _ := cur.High.Float64()
	curLow, _ := cur.Low.Float64()
	prevOpen, _ := prev.Open.Float64()
	prevClose, _ := prev.Close.Float64()

	curBodyLow, curBodyHigh := bodyRange(curOpen, curClose)
	prevBodyLow, prevBodyHigh := bodyRange(prevOpen, prevClose)
	prevBodySize := prevBodyHigh - prevBodyLow

	wantBullish := side == "long"
	isBullish := curClose > curOpen

	if isBullish == wantBullish {
		if curBodyLow <= prevBodyLow && curBodyHigh >= prevBodyHigh {
			return models.ConfirmationEngulfing
		}
		overlap := math.Min(curBodyHigh, prevBodyHigh) - math.Max(curBodyLow, prevBodyLow)
		if prevBodySize > 0 && overlap/prevBodySize >= nearEngulfingPct {
			return models.ConfirmationNearEngulfing
		}
	}

	barRange := curHigh - curLow
	if barRange > 0 {
		if side == "long" && (curClose-curLow)/barRange >= 0.5 {
			return models.ConfirmationStrongClose
		}
		if side == "short" && (curHigh-curClose)/barRange >= 0.5 {
			return models.ConfirmationStrongClose
		}
	}

	return models.ConfirmationNone
}

func bodyRange(open, closePx float64) (low, high float64) {
	if open < closePx {
		return open, closePx
	}
	return closePx, open
}
