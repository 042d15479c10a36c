package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	sentinel := errors.New("unknown symbol")
	attempts := 0

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("Retry error = %v, want %v", err, sentinel)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("expected two tokens from a burst of 2")
	}
	if rl.Allow() {
		t.Error("third immediate Allow should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want deadline exceeded", err)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "json").Debug("hello", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json logger output = %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record should be filtered at warn level, got %q", buf.String())
	}
}

func date(s string) time.Time {
	cal := NewTradingCalendar()
	t, err := time.ParseInLocation("2006-01-02 15:04", s, cal.Location())
	if err != nil {
		panic(err)
	}
	return t
}

func TestTradingCalendarTradingDays(t *testing.T) {
	cal := NewTradingCalendar()

	tests := []struct {
		when string
		want bool
	}{
		{"2026-10-16 12:00", true},  // Friday
		{"2026-10-17 12:00", false}, // Saturday
		{"2026-10-18 12:00", false}, // Sunday
		{"2026-11-26 12:00", false}, // Thanksgiving
		{"2026-11-27 12:00", true},  // early close is still a trading day
		{"2026-07-03 12:00", false}, // Independence Day observed
		{"2025-01-09 12:00", false}, // national day of mourning
	}
	for _, tt := range tests {
		if got := cal.IsTradingDay(date(tt.when)); got != tt.want {
			t.Errorf("IsTradingDay(%s) = %v, want %v", tt.when, got, tt.want)
		}
	}

	if !cal.IsEarlyClose(date("2026-11-27 08:00")) {
		t.Error("2026-11-27 should be an early close")
	}
}

func TestTradingCalendarWalks(t *testing.T) {
	cal := NewTradingCalendar()

	// Thursday 2026-11-26 is Thanksgiving. Five trading days back from
	// Monday 2026-11-30 counts Mon 30, Fri 27, Wed 25, Tue 24, Mon 23.
	got := cal.TradingDaysBack(date("2026-11-30 10:00"), 5)
	if want := date("2026-11-23 00:00"); !got.Equal(want) {
		t.Errorf("TradingDaysBack = %v, want %v", got, want)
	}

	// Five trading days after Wed 2026-11-25: Fri 27, Mon 30, Tue 1, Wed 2, Thu 3.
	got = cal.TradingDaysForward(date("2026-11-25 15:00"), 5)
	if want := date("2026-12-03 00:00"); !got.Equal(want) {
		t.Errorf("TradingDaysForward = %v, want %v", got, want)
	}
}

func TestTradingCalendarSession(t *testing.T) {
	cal := NewTradingCalendar()

	if !cal.IsMarketOpen(date("2026-10-16 10:00")) {
		t.Error("market should be open Friday 10:00 ET")
	}
	if cal.IsMarketOpen(date("2026-11-27 14:00")) {
		t.Error("market should be closed 14:00 ET on an early-close day")
	}

	next := cal.NextOpen(date("2026-10-16 17:00"))
	if want := date("2026-10-19 09:30"); !next.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", next, want)
	}
	closeAt := cal.NextClose(date("2026-11-27 09:00"))
	if want := date("2026-11-27 13:00"); !closeAt.Equal(want) {
		t.Errorf("NextClose = %v, want %v", closeAt, want)
	}
}

func TestTradingCalendarAddHolidays(t *testing.T) {
	cal := NewTradingCalendar()
	if err := cal.AddHolidays("2026-10-16"); err != nil {
		t.Fatalf("AddHolidays: %v", err)
	}
	if cal.IsTradingDay(date("2026-10-16 12:00")) {
		t.Error("added holiday should not be a trading day")
	}
	if err := cal.AddHolidays("not-a-date"); err == nil {
		t.Error("expected parse error for malformed date")
	}
}

func TestTradingCalendarWarnsPastHolidayList(t *testing.T) {
	var buf bytes.Buffer
	cal := NewTradingCalendar()
	cal.SetLogger(newLogger(&buf, "warn", "text"))

	if got := cal.CoveredThrough(); got != 2027 {
		t.Fatalf("CoveredThrough() = %d, want 2027", got)
	}

	cal.IsTradingDay(date("2027-03-10 12:00"))
	if buf.Len() != 0 {
		t.Fatalf("unexpected warning for a listed year: %s", buf.String())
	}

	// Wed 2029-01-10, twice: one warning.
	if !cal.IsTradingDay(date("2029-01-10 12:00")) {
		t.Error("unlisted weekday should count as a trading day")
	}
	cal.IsTradingDay(date("2029-01-11 12:00"))
	if n := strings.Count(buf.String(), "year=2029"); n != 1 {
		t.Errorf("got %d warnings for 2029, want 1: %s", n, buf.String())
	}

	// Adding a holiday extends coverage.
	if err := cal.AddHolidays("2030-01-01"); err != nil {
		t.Fatalf("AddHolidays: %v", err)
	}
	buf.Reset()
	cal.IsTradingDay(date("2030-01-02 12:00"))
	if buf.Len() != 0 {
		t.Errorf("unexpected warning after extending coverage: %s", buf.String())
	}
	if got := cal.CoveredThrough(); got != 2030 {
		t.Errorf("CoveredThrough() = %d, want 2030", got)
	}
}
