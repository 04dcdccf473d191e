package utils

import (
	"testing"
	"time"
)

func mustSession(t *testing.T, tz string) *Session {
	t.Helper()
	s, err := NewSession(tz)
	if err != nil {
		t.Fatalf("NewSession(%q): %v", tz, err)
	}
	return s
}

func TestNewSessionDefaultsToUTC(t *testing.T) {
	s := mustSession(t, "")
	if s.Location.String() != "UTC" {
		t.Errorf("Location = %s, want UTC", s.Location.String())
	}
}

func TestNewSessionInvalidTimezone(t *testing.T) {
	if _, err := NewSession("Mars/Olympus_Mons"); err == nil {
		t.Error("expected error for invalid timezone")
	}
}

func TestAtTimeOfDay(t *testing.T) {
	s := mustSession(t, "America/New_York")
	date := time.Date(2026, 2, 19, 0, 0, 0, 0, s.Location)

	open, err := s.AtTimeOfDay(date, "09:30")
	if err != nil {
		t.Fatalf("AtTimeOfDay: %v", err)
	}
	if open.Hour() != 9 || open.Minute() != 30 {
		t.Errorf("AtTimeOfDay(09:30) = %v, want 09:30", open)
	}

	if _, err := s.AtTimeOfDay(date, "not-a-time"); err == nil {
		t.Error("expected error for malformed clock string")
	}
}

func TestIsTradingDay(t *testing.T) {
	s := mustSession(t, "America/New_York")

	if !s.IsTradingDay(time.Date(2026, 2, 18, 0, 0, 0, 0, s.Location)) {
		t.Error("expected Wednesday to be a trading day")
	}
	if s.IsTradingDay(time.Date(2026, 2, 21, 0, 0, 0, 0, s.Location)) {
		t.Error("expected Saturday to not be a trading day")
	}
	if s.IsTradingDay(time.Date(2026, 1, 1, 0, 0, 0, 0, s.Location)) {
		t.Error("expected New Year's Day to not be a trading day")
	}
}

func TestIsHoliday(t *testing.T) {
	s := mustSession(t, "America/New_York")
	if !s.IsHoliday(time.Date(2026, 1, 1, 10, 0, 0, 0, s.Location)) {
		t.Error("expected New Year's Day to be a holiday")
	}
	if s.IsHoliday(time.Date(2026, 2, 18, 10, 0, 0, 0, s.Location)) {
		t.Error("expected Feb 18 to not be a holiday")
	}
}

func TestNextPrevTradingDay(t *testing.T) {
	s := mustSession(t, "America/New_York")

	friday := time.Date(2026, 2, 20, 0, 0, 0, 0, s.Location)
	next := s.NextTradingDay(friday)
	if next.Weekday() != time.Monday || next.Day() != 23 {
		t.Errorf("NextTradingDay(Friday Feb 20) = %v, want Monday Feb 23", next)
	}

	monday := time.Date(2026, 2, 23, 0, 0, 0, 0, s.Location)
	prev := s.PrevTradingDay(monday)
	if prev.Weekday() != time.Friday || prev.Day() != 20 {
		t.Errorf("PrevTradingDay(Monday Feb 23) = %v, want Friday Feb 20", prev)
	}
}

func TestTradingDaysBetween(t *testing.T) {
	s := mustSession(t, "America/New_York")
	start := time.Date(2026, 2, 16, 0, 0, 0, 0, s.Location) // Monday, Washington's Birthday (holiday)
	end := time.Date(2026, 2, 23, 0, 0, 0, 0, s.Location)   // next Monday
	if got := s.TradingDaysBetween(start, end); got != 4 {
		t.Errorf("TradingDaysBetween = %d, want 4 (Tue-Fri; Monday is a holiday)", got)
	}
}

func TestParseAndFormatDate(t *testing.T) {
	s := mustSession(t, "America/New_York")

	d, err := s.ParseDate("2026-02-19")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d.Year() != 2026 || d.Month() != 2 || d.Day() != 19 {
		t.Errorf("ParseDate = %v, want 2026-02-19", d)
	}

	if got := s.FormatDate(d); got != "2026-02-19" {
		t.Errorf("FormatDate = %s, want 2026-02-19", got)
	}
}
