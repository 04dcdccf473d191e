package metrics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/ohlcforge/backtester/pkg/models"
)

// WriteTradesCSV writes one row per closed trade (spec §6 "Outputs"):
// ticker, entry/exit timestamps and prices, quantity, R-multiples, exit
// reason, confirmation pattern and net P&L.
func WriteTradesCSV(w io.Writer, trades []models.TradeMetric) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{
		"ticker", "side", "entry_timestamp", "exit_timestamp",
		"entry_price", "exit_price", "quantity",
		"r_multiple_gross", "r_multiple_after_friction", "mfe_r", "mae_r",
		"exit_reason", "confirmation", "net_pnl",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, t := range trades {
		record := []string{
			t.Ticker,
			string(t.Side),
			t.EntryTimestamp.Format(time.RFC3339),
			t.ExitTimestamp.Format(time.RFC3339),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			strconv.FormatInt(t.Quantity, 10),
			t.RMultipleGross.String(),
			t.RMultipleAfterFriction.String(),
			t.MFER.String(),
			t.MAER.String(),
			string(t.ExitReason),
			string(t.Confirmation),
			t.NetPnL.String(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return cw.Error()
}

// WriteDailyNAVCSV writes the daily NAV series (spec §4.9 "Daily").
func WriteDailyNAVCSV(w io.Writer, series []models.DailyNAV) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"date", "nav"}); err != nil {
		return err
	}
	for _, d := range series {
		if err := cw.Write([]string{d.Date, d.NAV.String()}); err != nil {
			return err
		}
	}
	return cw.Error()
}
