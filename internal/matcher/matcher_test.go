package matcher

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/internal/executor"
	"github.com/ohlcforge/backtester/internal/portfolio"
	"github.com/ohlcforge/backtester/pkg/models"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func bar(o, h, l, c string, t time.Time) models.Bar {
	return models.Bar{
		Ticker:    "SPY",
		Timestamp: t,
		Open:      d(o),
		High:      d(h),
		Low:       d(l),
		Close:     d(c),
		Volume:    1000,
	}
}

func setupLong(t *testing.T, entry, stop, target string) (*Matcher, map[string]*models.ActivePosition) {
	t.Helper()
	ledger := portfolio.NewLedger(d("100000"), d("0.5"))
	ledger.Buy("SPY", 10, d(entry), d("0"))
	ex := executor.New(ledger, d("100000"), d("0"), d("0"), d("0"))
	m := New(ex, 5, d("0.5"))
	active := map[string]*models.ActivePosition{
		"SPY": {Side: models.SideLong, EntryPrice: d(entry), StopLoss: d(stop), Target: d(target)},
	}
	return m, active
}

func TestStopBeforeTargetWhenBothTrigger(t *testing.T) {
	m, active := setupLong(t, "100", "98", "102")
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	b := bar("100", "103", "97", "99", base) // both stop (low<=98) and target (high>=102) trigger

	trade, err := m.Process("SPY", b, active, portfolio.MarkPrices{"SPY": d("99")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if trade == nil {
		t.Fatal("expected an exit trade")
	}
	if trade.ExitReason != models.ExitStopLoss {
		t.Errorf("ExitReason = %s, want stop_loss (stop takes priority)", trade.ExitReason)
	}
	if !trade.ExecutedPrice.Equal(d("98")) {
		t.Errorf("ExecutedPrice = %s, want exactly stop level 98", trade.ExecutedPrice)
	}
}

func TestShortStopBeforeTargetWhenBothTrigger(t *testing.T) {
	ledger := portfolio.NewLedger(d("100000"), d("0.5"))
	ledger.Short("SPY", 10, d("100"), d("0"))
	ex := executor.New(ledger, d("100000"), d("0"), d("0"), d("0"))
	m := New(ex, 5, d("0.5"))
	active := map[string]*models.ActivePosition{
		"SPY": {Side: models.SideShort, EntryPrice: d("100"), StopLoss: d("102"), Target: d("98")},
	}
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	b := bar("100", "103", "97", "99", base) // high>=102 (stop) and low<=98 (target)

	trade, err := m.Process("SPY", b, active, portfolio.MarkPrices{"SPY": d("99")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if trade == nil || trade.ExitReason != models.ExitStopLoss {
		t.Fatalf("expected stop_loss exit, got %+v", trade)
	}
}

func TestTargetOnlyExitsAtTarget(t *testing.T) {
	m, active := setupLong(t, "100", "95", "105")
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	b := bar("100", "106", "99", "105.5", base)

	trade, err := m.Process("SPY", b, active, portfolio.MarkPrices{"SPY": d("105.5")})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if trade == nil || trade.ExitReason != models.ExitTarget {
		t.Fatalf("expected target exit, got %+v", trade)
	}
	if !trade.ExecutedPrice.Equal(d("105")) {
		t.Errorf("ExecutedPrice = %s, want exactly target level 105", trade.ExecutedPrice)
	}
}

func TestTimeInvalidationExitsAtBarsSinceEntryFive(t *testing.T) {
	m, active := setupLong(t, "100", "90", "150") // wide stop/target so neither triggers
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	var lastTrade *models.TradeRecord
	for i := 1; i <= 5; i++ {
		b := bar("100", "100.2", "99.8", "100.1", base.Add(time.Duration(i)*5*time.Minute))
		trade, err := m.Process("SPY", b, active, portfolio.MarkPrices{"SPY": d("100.1")})
		if err != nil {
			t.Fatalf("Process bar %d: %v", i, err)
		}
		if trade != nil {
			lastTrade = trade
			break
		}
	}
	if lastTrade == nil {
		t.Fatal("expected a time_invalidation exit by the 5th bar")
	}
	if lastTrade.ExitReason != models.ExitTimeInvalidation {
		t.Errorf("ExitReason = %s, want time_invalidation", lastTrade.ExitReason)
	}
}

func TestNoActivePositionIsNoOp(t *testing.T) {
	ledger := portfolio.NewLedger(d("100000"), d("0.5"))
	ex := executor.New(ledger, d("100000"), d("0"), d("0"), d("0"))
	m := New(ex, 5, d("0.5"))
	active := map[string]*models.ActivePosition{}
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	b := bar("100", "101", "99", "100.5", base)

	trade, err := m.Process("SPY", b, active, portfolio.MarkPrices{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if trade != nil {
		t.Error("expected no trade when there is no ActivePosition")
	}
}

func TestCheckEntryBarNoGrace(t *testing.T) {
	ledger := portfolio.NewLedger(d("100000"), d("0.5"))
	ledger.Buy("SPY", 10, d("100"), d("0"))
	ex := executor.New(ledger, d("100000"), d("0"), d("0"), d("0"))
	m := New(ex, 5, d("0.5"))
	active := map[string]*models.ActivePosition{
		"SPY": {Side: models.SideLong, EntryPrice: d("100"), StopLoss: d("99"), Target: d("110")},
	}
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	// The entry bar's own range already breaches the stop.
	b := bar("100", "100.5", "98.5", "99.5", base)

	trade, err := m.CheckEntryBar("SPY", b, active, portfolio.MarkPrices{"SPY": d("99.5")})
	if err != nil {
		t.Fatalf("CheckEntryBar: %v", err)
	}
	if trade == nil || trade.ExitReason != models.ExitStopLoss {
		t.Fatalf("expected immediate stop exit on entry bar, got %+v", trade)
	}
	if _, stillActive := active["SPY"]; stillActive {
		t.Error("expected ActivePosition to be removed after the same-bar stop exit")
	}
}
