// Package market implements the bar source (C1) and no-lookahead price
// view (C2) the engine loop drives.
package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ohlcforge/backtester/pkg/models"
	"github.com/ohlcforge/backtester/pkg/utils"
)

// CSVBarSource is a restartable, gap-tolerant iterator over a directory of
// per-ticker CSV files (spec §4.1, §6 "Bar source input"). Each file is
// named "<ticker>.csv" inside dataDir, with header
// "date,open,high,low,close,volume".
type CSVBarSource struct {
	bars []models.Bar
}

// NewCSVBarSource reads and validates every ticker's CSV file, merges them
// into one ascending-timestamp sequence, and filters to [startDate,
// endDate] inclusive in the session's timezone.
func NewCSVBarSource(dataDir string, tickers []string, startDate, endDate string, session *utils.Session) (*CSVBarSource, error) {
	start, err := session.ParseDate(startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start_date: %w", err)
	}
	end, err := session.ParseDate(endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end_date: %w", err)
	}
	end = end.AddDate(0, 0, 1) // inclusive end-of-day

	if start.After(end) {
		return nil, &models.EngineError{
			Kind:    models.KindDataIntegrityError,
			Message: fmt.Sprintf("declared date range is empty: %s..%s", startDate, endDate),
		}
	}
	if session.TradingDaysBetween(start, end) == 0 {
		suggestedStart := session.NextTradingDay(start.AddDate(0, 0, -1))
		suggestedEnd := session.PrevTradingDay(end)
		return nil, &models.EngineError{
			Kind: models.KindDataIntegrityError,
			Message: fmt.Sprintf(
				"declared date range %s..%s contains no trading days (nearest trading window: %s..%s)",
				startDate, endDate, session.FormatDate(suggestedStart), session.FormatDate(suggestedEnd)),
		}
	}

	var all []models.Bar
	for _, ticker := range tickers {
		bars, err := loadTickerCSV(dataDir, ticker, session.Location)
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			if b.Timestamp.Before(start) || !b.Timestamp.Before(end) {
				continue
			}
			all = append(all, b)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].Ticker < all[j].Ticker
	})

	return &CSVBarSource{bars: all}, nil
}

// Len returns the total number of bars in the merged sequence.
func (s *CSVBarSource) Len() int { return len(s.bars) }

// Bar returns the bar at index i. Callers (the engine loop) are expected to
// iterate 0..Len()-1; this is a pure, restartable accessor — repeated calls
// with the same i return identical values.
func (s *CSVBarSource) Bar(i int) models.Bar { return s.bars[i] }

// All returns the full merged, validated bar sequence.
func (s *CSVBarSource) All() []models.Bar { return s.bars }

func loadTickerCSV(dataDir, ticker string, loc *time.Location) ([]models.Bar, error) {
	path := filepath.Join(dataDir, ticker+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, &models.EngineError{
			Kind:    models.KindDataIntegrityError,
			Ticker:  ticker,
			Message: fmt.Sprintf("cannot open bar file %s: %v", path, err),
			Cause:   err,
		}
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, &models.EngineError{
			Kind:    models.KindDataIntegrityError,
			Ticker:  ticker,
			Message: fmt.Sprintf("cannot read header of %s: %v", path, err),
			Cause:   err,
		}
	}
	if err := validateHeader(header); err != nil {
		return nil, &models.EngineError{Kind: models.KindDataIntegrityError, Ticker: ticker, Message: err.Error()}
	}

	var bars []models.Bar
	seen := make(map[int64]bool)
	rowNum := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &models.EngineError{
				Kind:    models.KindDataIntegrityError,
				Ticker:  ticker,
				Message: fmt.Sprintf("%s: row %d: %v", path, rowNum, err),
				Cause:   err,
			}
		}
		rowNum++

		bar, err := parseRow(ticker, row, loc)
		if err != nil {
			return nil, &models.EngineError{Kind: models.KindDataIntegrityError, Ticker: ticker, Message: err.Error()}
		}
		if err := bar.Validate(); err != nil {
			return nil, &models.EngineError{Kind: models.KindDataIntegrityError, Ticker: ticker, Message: err.Error()}
		}

		key := bar.Timestamp.UnixNano()
		if seen[key] {
			return nil, &models.EngineError{
				Kind:    models.KindDataIntegrityError,
				Ticker:  ticker,
				Message: fmt.Sprintf("duplicate bar for %s at %s", ticker, bar.Timestamp),
			}
		}
		seen[key] = true
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	return bars, nil
}

func validateHeader(header []string) error {
	want := []string{"date", "open", "high", "low", "close", "volume"}
	if len(header) != len(want) {
		return fmt.Errorf("expected header %v, got %v", want, header)
	}
	for i, h := range want {
		if header[i] != h {
			return fmt.Errorf("expected header %v, got %v", want, header)
		}
	}
	return nil
}

func parseRow(ticker string, row []string, loc *time.Location) (models.Bar, error) {
	if len(row) != 6 {
		return models.Bar{}, fmt.Errorf("row has %d fields, want 6: %v", len(row), row)
	}
	ts, err := parseTimestamp(row[0], loc)
	if err != nil {
		return models.Bar{}, fmt.Errorf("bad timestamp %q: %w", row[0], err)
	}
	open, err := decimal.NewFromString(row[1])
	if err != nil {
		return models.Bar{}, fmt.Errorf("bad open %q: %w", row[1], err)
	}
	high, err := decimal.NewFromString(row[2])
	if err != nil {
		return models.Bar{}, fmt.Errorf("bad high %q: %w", row[2], err)
	}
	low, err := decimal.NewFromString(row[3])
	if err != nil {
		return models.Bar{}, fmt.Errorf("bad low %q: %w", row[3], err)
	}
	closePx, err := decimal.NewFromString(row[4])
	if err != nil {
		return models.Bar{}, fmt.Errorf("bad close %q: %w", row[4], err)
	}
	var volume int64
	if _, err := fmt.Sscanf(row[5], "%d", &volume); err != nil {
		return models.Bar{}, fmt.Errorf("bad volume %q: %w", row[5], err)
	}

	return models.Bar{
		Ticker:    ticker,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
	}, nil
}

// parseTimestamp parses either a bare date ("2006-01-02", treated as
// midnight) or a full timestamp ("2006-01-02 15:04:05" / RFC3339), per
// spec §6: "if the string lacks a time, the engine treats it as
// midnight-of-date."
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

// IsIntraday reports whether bars contains at least one non-midnight
// wall-clock timestamp on its first calendar day — the intraday detection
// rule from spec §4.1 ("a dataset is intraday iff any bar in the first day
// has a non-midnight wall-clock time").
func IsIntraday(bars []models.Bar, loc *time.Location) bool {
	if len(bars) == 0 {
		return false
	}
	firstDay := bars[0].Timestamp.In(loc).Format("2006-01-02")
	for _, b := range bars {
		t := b.Timestamp.In(loc)
		if t.Format("2006-01-02") != firstDay {
			break
		}
		if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 {
			return true
		}
	}
	return false
}
