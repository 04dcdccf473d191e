package market

import "github.com/ohlcforge/backtester/pkg/models"

// PriceView is a no-lookahead window over one ticker's bars (spec §4.2).
// Given the current bar index i (the last bar the engine has processed for
// this ticker), a PriceView exposes bars[0..=i]; any attempt to read a bar
// beyond i raises LookaheadError. It is pure and restartable: identical
// (ticker bars, i) always yields identical results.
type PriceView struct {
	ticker  string
	bars    []models.Bar // this ticker's full bar sequence, ascending
	visible int          // index of the last visible bar (inclusive)
}

// NewPriceView constructs a view over ticker's bars, capped at visible.
func NewPriceView(ticker string, bars []models.Bar, visible int) *PriceView {
	return &PriceView{ticker: ticker, bars: bars, visible: visible}
}

// Ticker returns the ticker this view covers.
func (v *PriceView) Ticker() string { return v.ticker }

// Len returns the number of bars currently visible (visible+1).
func (v *PriceView) Len() int { return v.visible + 1 }

// At returns the bar at index j. j must be within [0, visible]; any larger
// index is a LookaheadError.
func (v *PriceView) At(j int) (models.Bar, error) {
	if j < 0 || j > v.visible {
		return models.Bar{}, &models.EngineError{
			Kind:    models.KindLookaheadError,
			Ticker:  v.ticker,
			Message: "attempted to read bar beyond the current index",
		}
	}
	return v.bars[j], nil
}

// Current returns the most recent visible bar (index == visible).
func (v *PriceView) Current() models.Bar {
	return v.bars[v.visible]
}

// Closes returns the close prices of the last n visible bars, oldest
// first. If fewer than n bars are visible, it returns all of them.
func (v *PriceView) Closes(n int) []float64 {
	start := v.visible - n + 1
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, v.visible-start+1)
	for j := start; j <= v.visible; j++ {
		f, _ := v.bars[j].Close.Float64()
		out = append(out, f)
	}
	return out
}

// LookBack returns the bar n positions before the current one (n=1 is the
// immediately preceding bar). Returns LookaheadError only in the degenerate
// case n<0; if n exceeds the visible history it returns the earliest
// available bar, matching the teacher's BarsSince-style bounded lookback.
func (v *PriceView) LookBack(n int) (models.Bar, error) {
	if n < 0 {
		return models.Bar{}, &models.EngineError{
			Kind:    models.KindLookaheadError,
			Ticker:  v.ticker,
			Message: "lookback offset must be >= 0",
		}
	}
	idx := v.visible - n
	if idx < 0 {
		idx = 0
	}
	return v.bars[idx], nil
}

// HistoricalBars returns all bars visible so far (a defensive copy).
func (v *PriceView) HistoricalBars() []models.Bar {
	out := make([]models.Bar, v.visible+1)
	copy(out, v.bars[:v.visible+1])
	return out
}
