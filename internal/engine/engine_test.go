package engine

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/internal/config"
	"github.com/ohlcforge/backtester/internal/market"
	"github.com/ohlcforge/backtester/pkg/models"
	"github.com/ohlcforge/backtester/pkg/utils"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeStrategy enters long on the first bar it sees each session and holds
// thereafter, letting the matcher's stop/target resolve the exit.
type fakeStrategy struct {
	stop, target string
}

func (f *fakeStrategy) Name() string                                  { return "fake" }
func (f *fakeStrategy) OnNewSession(state *models.SessionState)       { state.Reset() }
func (f *fakeStrategy) Generate(view *market.PriceView, snap models.Portfolio, bar models.Bar, state *models.SessionState) models.Decision {
	if entered, _ := state.GetBool("entered"); entered {
		return models.Hold("already entered")
	}
	state.Set("entered", true)
	return models.Decision{
		Action:     models.ActionBuy,
		Quantity:   10,
		StopLoss:   d(f.stop),
		Target:     d(f.target),
		Confidence: 100,
	}
}

func mkBar(o, h, l, c string, ts time.Time) models.Bar {
	return models.Bar{Ticker: "SPY", Timestamp: ts, Open: d(o), High: d(h), Low: d(l), Close: d(c), Volume: 1000}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.InitialCapital = 100000
	cfg.Tickers = []string{"SPY"}
	cfg.Timezone = "UTC"
	cfg.TradingWindowStart = "09:30"
	cfg.TradingWindowEnd = "10:30"
	cfg.TimeInvalidationBars = 5
	cfg.TimeInvalidationMFER = 0.5
	return cfg
}

func TestEngineRunEntersAndStopsOut(t *testing.T) {
	session, err := utils.NewSession("UTC")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := []models.Bar{
		mkBar("100", "101", "99.5", "100.5", base),
		mkBar("100.5", "101", "94", "95", base.Add(5*time.Minute)), // breaches stop=95
		mkBar("95", "96", "94.5", "95.5", base.Add(10*time.Minute)),
	}

	var logBuf bytes.Buffer
	eng := newTestEngine(t, session, bars, &fakeStrategy{stop: "95", target: "110"}, &logBuf)

	result, err := eng.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trades) != 2 {
		t.Fatalf("expected 2 trades (entry + stop exit), got %d: %+v", len(result.Trades), result.Trades)
	}
	if result.Trades[0].Action != models.ActionBuy {
		t.Errorf("first trade action = %s, want buy", result.Trades[0].Action)
	}
	if result.Trades[1].ExitReason != models.ExitStopLoss {
		t.Errorf("second trade exit reason = %s, want stop_loss", result.Trades[1].ExitReason)
	}
	if !result.Trades[1].ExecutedPrice.Equal(d("95")) {
		t.Errorf("stop fill price = %s, want exactly 95 (no friction)", result.Trades[1].ExecutedPrice)
	}
	if len(result.DailyNAV) != 1 {
		t.Errorf("expected 1 daily NAV entry (single calendar day), got %d", len(result.DailyNAV))
	}
	if result.DeterminismHash == "" {
		t.Error("expected a non-empty determinism hash")
	}
	if !strings.Contains(logBuf.String(), "NAV=$") {
		t.Error("expected observer log lines to be written")
	}
}

func TestEngineOneEntryPerSessionAcrossDays(t *testing.T) {
	session, _ := utils.NewSession("UTC")
	day1 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 3, 9, 30, 0, 0, time.UTC)
	bars := []models.Bar{
		mkBar("100", "100.2", "99.8", "100", day1),
		mkBar("100", "100.2", "99.8", "100", day1.Add(5*time.Minute)),
		mkBar("100", "100.2", "99.8", "100", day2),
		mkBar("100", "100.2", "99.8", "100", day2.Add(5*time.Minute)),
	}
	// time_invalidation_bars=1 so each day's entry closes out before the
	// next day's bars arrive, rather than riding a single open position
	// across the calendar boundary (which would suppress the 2nd entry).
	cfg := testConfig()
	cfg.TimeInvalidationBars = 1
	eng := New(cfg, session, bars, &fakeStrategy{stop: "90", target: "150"}, &bytes.Buffer{})

	result, err := eng.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	entries := 0
	for _, tr := range result.Trades {
		if tr.Action == models.ActionBuy {
			entries++
		}
	}
	if entries != 2 {
		t.Errorf("expected exactly one entry per calendar day (2 days -> 2 entries), got %d", entries)
	}
	if len(result.DailyNAV) != 2 {
		t.Errorf("expected 2 daily NAV entries, got %d", len(result.DailyNAV))
	}
}

func newTestEngine(t *testing.T, session *utils.Session, bars []models.Bar, strat *fakeStrategy, logWriter *bytes.Buffer) *Engine {
	t.Helper()
	cfg := testConfig()
	var w io.Writer = &bytes.Buffer{}
	if logWriter != nil {
		w = logWriter
	}
	return New(cfg, session, bars, strat, w)
}
