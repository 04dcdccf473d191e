// Package utils provides common utility functions shared across the engine.
package utils

import (
	"fmt"
	"time"
)

// Session describes a trading session's calendar and time-of-day boundaries
// in a fixed IANA location. Unlike a single hardcoded exchange, the engine
// is parameterized per spec §6 (timezone, trading_window_start/end) so a
// Session is built from Config rather than assumed.
type Session struct {
	Location *time.Location
	Holidays map[string]string // "2006-01-02" -> holiday name
}

// NewSession builds a Session for the given IANA timezone name (e.g.
// "America/New_York"). An empty name defaults to UTC.
func NewSession(timezone string) (*Session, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return &Session{Location: loc, Holidays: usMarketHolidays}, nil
}

// In converts t to the session's location.
func (s *Session) In(t time.Time) time.Time {
	return t.In(s.Location)
}

// AtTimeOfDay returns the time on date's calendar day, in the session's
// location, at the given "15:04" clock string.
func (s *Session) AtTimeOfDay(date time.Time, clock string) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock string %q: %w", clock, err)
	}
	d := date.In(s.Location)
	return time.Date(d.Year(), d.Month(), d.Day(), parsed.Hour(), parsed.Minute(), 0, 0, s.Location), nil
}

// IsHoliday reports whether the given date is a recognized market holiday.
func (s *Session) IsHoliday(t time.Time) bool {
	dateStr := t.In(s.Location).Format("2006-01-02")
	_, ok := s.Holidays[dateStr]
	return ok
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	t = t.In(s.Location)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !s.IsHoliday(t)
}

// NextTradingDay returns the next trading day strictly after from.
func (s *Session) NextTradingDay(from time.Time) time.Time {
	next := s.In(from).AddDate(0, 0, 1)
	for !s.IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// PrevTradingDay returns the trading day strictly before from.
func (s *Session) PrevTradingDay(from time.Time) time.Time {
	prev := s.In(from).AddDate(0, 0, -1)
	for !s.IsTradingDay(prev) {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

// TradingDaysBetween counts trading days in [start, end).
func (s *Session) TradingDaysBetween(start, end time.Time) int {
	start = s.In(start)
	end = s.In(end)
	count := 0
	for current := start; current.Before(end); current = current.AddDate(0, 0, 1) {
		if s.IsTradingDay(current) {
			count++
		}
	}
	return count
}

// ParseDate parses a "2006-01-02" date string in the session's location.
func (s *Session) ParseDate(dateStr string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", dateStr, s.Location)
}

// FormatDate formats t as "2006-01-02" in the session's location.
func (s *Session) FormatDate(t time.Time) string {
	return t.In(s.Location).Format("2006-01-02")
}

// usMarketHolidays lists full-day US equity market closures. Partial
// (early-close) sessions are out of scope — bars for those sessions are
// whatever the bar source provides for the shortened window.
var usMarketHolidays = map[string]string{
	"2024-01-01": "New Year's Day",
	"2024-01-15": "Martin Luther King Jr. Day",
	"2024-02-19": "Washington's Birthday",
	"2024-03-29": "Good Friday",
	"2024-05-27": "Memorial Day",
	"2024-06-19": "Juneteenth",
	"2024-07-04": "Independence Day",
	"2024-09-02": "Labor Day",
	"2024-11-28": "Thanksgiving Day",
	"2024-12-25": "Christmas Day",
	"2025-01-01": "New Year's Day",
	"2025-01-20": "Martin Luther King Jr. Day",
	"2025-02-17": "Washington's Birthday",
	"2025-04-18": "Good Friday",
	"2025-05-26": "Memorial Day",
	"2025-06-19": "Juneteenth",
	"2025-07-04": "Independence Day",
	"2025-09-01": "Labor Day",
	"2025-11-27": "Thanksgiving Day",
	"2025-12-25": "Christmas Day",
	"2026-01-01": "New Year's Day",
	"2026-01-19": "Martin Luther King Jr. Day",
	"2026-02-16": "Washington's Birthday",
	"2026-04-03": "Good Friday",
	"2026-05-25": "Memorial Day",
	"2026-06-19": "Juneteenth",
	"2026-07-03": "Independence Day (observed)",
	"2026-09-07": "Labor Day",
	"2026-11-26": "Thanksgiving Day",
	"2026-12-25": "Christmas Day",
}
