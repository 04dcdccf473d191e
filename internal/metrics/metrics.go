// Package metrics computes the run summary (C9, spec §4.9): per-trade
// R-multiples already carried on closing TradeRecords, win rate, profit
// factor, expectancy, Sharpe/Sortino off the daily NAV series, max
// drawdown with time-to-recovery, and consecutive win/loss streaks.
package metrics

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/pkg/models"
)

const tradingDaysPerYear = 252

// Compute builds the full Metrics bundle from a completed run's trade log
// and daily NAV series. riskFreeRate is annual (e.g. 0.065 for 6.5%),
// matching the risk-free convention spec §4.9 leaves unspecified and
// which this implementation resolves as a configurable input rather than
// a hardcoded zero.
func Compute(trades []models.TradeRecord, dailyNAV []models.DailyNAV, initialCapital decimal.Decimal, riskFreeRate float64, determinismHash string) models.Metrics {
	tradeMetrics := buildTradeMetrics(trades)

	m := models.Metrics{
		TotalReturn:     totalReturn(dailyNAV, initialCapital),
		TradeCount:      len(tradeMetrics),
		Trades:          tradeMetrics,
		DailyNAVSeries:  dailyNAV,
		DeterminismHash: determinismHash,
	}

	computeTradeStats(&m, tradeMetrics)
	computeDrawdown(&m, dailyNAV)
	computeSharpeSortino(&m, dailyNAV, riskFreeRate)

	return m
}

// buildTradeMetrics projects every round-trip-closing TradeRecord into a
// TradeMetric. Entry price, timestamp and R-multiples are already carried
// on the record by the matcher/executor (spec §4.5), so this is a
// straight field copy, not a reconstruction.
func buildTradeMetrics(trades []models.TradeRecord) []models.TradeMetric {
	out := make([]models.TradeMetric, 0, len(trades))
	for _, t := range trades {
		if !t.IsRoundTripClose() {
			continue
		}
		side := models.SideLong
		if t.Action == models.ActionCover {
			side = models.SideShort
		}
		out = append(out, models.TradeMetric{
			Ticker:                 t.Ticker,
			Side:                   side,
			EntryTimestamp:         t.EntryTimestamp,
			ExitTimestamp:          t.Timestamp,
			EntryPrice:             t.EntryPrice,
			ExitPrice:              t.ExecutedPrice,
			Quantity:               t.Quantity,
			RMultipleGross:         t.RMultipleGross,
			RMultipleAfterFriction: t.RMultipleAfterFriction,
			MFER:                   t.MFER,
			MAER:                   t.MAER,
			ExitReason:             t.ExitReason,
			Confirmation:           t.Confirmation,
			NetPnL:                 t.RealizedPnL.Sub(t.Commission).Sub(t.SlippageCost),
		})
	}
	return out
}

func totalReturn(dailyNAV []models.DailyNAV, initialCapital decimal.Decimal) decimal.Decimal {
	if len(dailyNAV) == 0 {
		return decimal.Zero
	}
	return dailyNAV[len(dailyNAV)-1].NAV.Sub(initialCapital)
}

// computeTradeStats fills win rate, profit factor, expectancy and the
// consecutive win/loss streaks, graded off net P&L per trade.
func computeTradeStats(m *models.Metrics, trades []models.TradeMetric) {
	if len(trades) == 0 {
		return
	}

	var wins, losses int
	var totalWin, totalLoss decimal.Decimal
	var curWinStreak, curLossStreak int

	for _, t := range trades {
		switch {
		case t.NetPnL.GreaterThan(decimal.Zero):
			wins++
			totalWin = totalWin.Add(t.NetPnL)
			curWinStreak++
			curLossStreak = 0
		case t.NetPnL.LessThan(decimal.Zero):
			losses++
			totalLoss = totalLoss.Add(t.NetPnL.Abs())
			curLossStreak++
			curWinStreak = 0
		default:
			curWinStreak, curLossStreak = 0, 0
		}
		if curWinStreak > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = curWinStreak
		}
		if curLossStreak > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = curLossStreak
		}
	}
	m.LongestLosingStreak = m.MaxConsecutiveLosses

	m.WinRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(trades))))

	if totalLoss.GreaterThan(decimal.Zero) {
		pf := totalWin.Div(totalLoss)
		m.ProfitFactor = &pf
	}
	// totalLoss == 0 with totalWin > 0 is an undefined (infinite) profit
	// factor; left nil per spec §4.9's "absent, never 0" rule.

	expectancy := totalWin.Sub(totalLoss).Div(decimal.NewFromInt(int64(len(trades))))
	m.Expectancy = expectancy
}

// computeDrawdown walks the daily NAV series for the running peak-to-
// trough drawdown and the number of trading days to recover the prior
// peak, mirroring a standard equity-curve drawdown walk.
func computeDrawdown(m *models.Metrics, dailyNAV []models.DailyNAV) {
	if len(dailyNAV) == 0 {
		return
	}

	peak := dailyNAV[0].NAV
	maxDD := decimal.Zero
	troughIdx := -1
	peakIdxAtTrough := 0
	peakIdx := 0

	for i, d := range dailyNAV {
		if d.NAV.GreaterThan(peak) {
			peak = d.NAV
			peakIdx = i
		}
		if peak.GreaterThan(decimal.Zero) {
			dd := peak.Sub(d.NAV).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
				troughIdx = i
				peakIdxAtTrough = peakIdx
			}
		}
	}
	m.MaxDrawdown = maxDD

	if troughIdx < 0 {
		return
	}
	peakNAV := dailyNAV[peakIdxAtTrough].NAV
	for i := troughIdx + 1; i < len(dailyNAV); i++ {
		if dailyNAV[i].NAV.GreaterThanOrEqual(peakNAV) {
			bars := i - troughIdx
			m.TimeToRecoveryBars = &bars
			return
		}
	}
	// Never recovered within the run: left nil, per the "absent, never
	// reported as a fabricated value" convention.
}

// computeSharpeSortino annualizes off the daily NAV return series.
// Undefined when fewer than two daily returns exist, or when the
// (downside) standard deviation is zero.
func computeSharpeSortino(m *models.Metrics, dailyNAV []models.DailyNAV, riskFreeRate float64) {
	returns := dailyReturns(dailyNAV)
	if len(returns) < 2 {
		return
	}

	dailyRf := riskFreeRate / tradingDaysPerYear
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - dailyRf
	}

	meanExcess := mean(excess)
	if sd := stddev(excess); sd > 0 {
		sharpe := decimal.NewFromFloat((meanExcess / sd) * math.Sqrt(tradingDaysPerYear))
		m.Sharpe = &sharpe
	}

	var downsideSqSum float64
	var downsideCount int
	for _, er := range excess {
		if er < 0 {
			downsideSqSum += er * er
			downsideCount++
		}
	}
	if downsideCount > 0 {
		downsideDev := math.Sqrt(downsideSqSum / float64(len(excess)))
		if downsideDev > 0 {
			sortino := decimal.NewFromFloat((meanExcess / downsideDev) * math.Sqrt(tradingDaysPerYear))
			m.Sortino = &sortino
		}
	}
}

func dailyReturns(dailyNAV []models.DailyNAV) []float64 {
	if len(dailyNAV) < 2 {
		return nil
	}
	out := make([]float64, len(dailyNAV)-1)
	for i := 1; i < len(dailyNAV); i++ {
		prev, _ := dailyNAV[i-1].NAV.Float64()
		cur, _ := dailyNAV[i].NAV.Float64()
		if prev > 0 {
			out[i-1] = (cur - prev) / prev
		}
	}
	return out
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func stddev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	m := mean(data)
	var sumSq float64
	for _, v := range data {
		diff := v - m
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(data)-1))
}
