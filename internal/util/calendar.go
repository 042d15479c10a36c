package util

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
	_ "time/tzdata" // Embedded zone database for America/New_York.
)

const dateLayout = "2006-01-02"

// Published NYSE full-day closures.
var nyseHolidays = []string{
	// 2024
	"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27",
	"2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25",
	// 2025
	"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17", "2025-04-18",
	"2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27",
	"2025-12-25",
	// 2026
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
	"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
	// 2027
	"2027-01-01", "2027-01-18", "2027-02-15", "2027-03-26", "2027-05-31",
	"2027-06-18", "2027-07-05", "2027-09-06", "2027-11-25", "2027-12-24",
}

// Published NYSE 13:00 ET early closes. These are still trading days.
var nyseEarlyCloses = []string{
	"2024-07-03", "2024-11-29", "2024-12-24",
	"2025-07-03", "2025-11-28", "2025-12-24",
	"2026-11-27", "2026-12-24",
	"2027-11-26",
}

// TradingCalendar provides market-hours awareness for the US equity and
// options session (NYSE 9:30-16:00 ET, 13:00 on early-close days).
type TradingCalendar struct {
	loc *time.Location

	mu          sync.RWMutex
	holidays    map[string]struct{}
	earlyCloses map[string]struct{}
	lastYear    int
	log         *slog.Logger
	warned      map[int]struct{}
}

// NewTradingCalendar creates a TradingCalendar seeded with the published
// NYSE holiday and early-close lists.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	tc := &TradingCalendar{
		loc:         loc,
		holidays:    make(map[string]struct{}, len(nyseHolidays)),
		earlyCloses: make(map[string]struct{}, len(nyseEarlyCloses)),
		log:         Discard(),
		warned:      make(map[int]struct{}),
	}
	for _, d := range nyseHolidays {
		tc.holidays[d] = struct{}{}
		tc.noteYear(d)
	}
	for _, d := range nyseEarlyCloses {
		tc.earlyCloses[d] = struct{}{}
	}
	return tc
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// SetLogger sets the logger used to warn about dates past the holiday list.
func (tc *TradingCalendar) SetLogger(l *slog.Logger) {
	if l == nil {
		l = Discard()
	}
	tc.mu.Lock()
	tc.log = l
	tc.mu.Unlock()
}

// CoveredThrough returns the last year with listed holidays. Weekdays after
// it count as trading days until more holidays are added.
func (tc *TradingCalendar) CoveredThrough() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.lastYear
}

// noteYear extends the covered range to the year of date. Callers hold mu
// or own tc exclusively.
func (tc *TradingCalendar) noteYear(date string) {
	if t, err := time.Parse(dateLayout, date); err == nil && t.Year() > tc.lastYear {
		tc.lastYear = t.Year()
	}
}

// checkCoverage warns once per year queried beyond the holiday list.
func (tc *TradingCalendar) checkCoverage(year int) {
	tc.mu.RLock()
	_, seen := tc.warned[year]
	covered := year <= tc.lastYear
	tc.mu.RUnlock()
	if covered || seen {
		return
	}

	tc.mu.Lock()
	if _, seen := tc.warned[year]; seen || year <= tc.lastYear {
		tc.mu.Unlock()
		return
	}
	tc.warned[year] = struct{}{}
	log, last := tc.log, tc.lastYear
	tc.mu.Unlock()

	log.Warn("trading calendar has no holidays for year, treating every weekday as a trading day",
		"year", year, "covered_through", last)
}

// AddHolidays registers additional full-day closures given as YYYY-MM-DD.
// Their years count as covered.
func (tc *TradingCalendar) AddHolidays(dates ...string) error {
	return tc.add(tc.holidays, dates, true)
}

// AddEarlyCloses registers additional early-close days given as YYYY-MM-DD.
func (tc *TradingCalendar) AddEarlyCloses(dates ...string) error {
	return tc.add(tc.earlyCloses, dates, false)
}

func (tc *TradingCalendar) add(set map[string]struct{}, dates []string, holidays bool) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, d := range dates {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return fmt.Errorf("parsing calendar date %q: %w", d, err)
		}
		set[d] = struct{}{}
		if holidays {
			tc.noteYear(d)
		}
	}
	return nil
}

// IsHoliday reports whether t falls on a listed full-day closure.
func (tc *TradingCalendar) IsHoliday(t time.Time) bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	_, ok := tc.holidays[t.In(tc.loc).Format(dateLayout)]
	return ok
}

// IsEarlyClose reports whether t falls on a listed early-close day.
func (tc *TradingCalendar) IsEarlyClose(t time.Time) bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	_, ok := tc.earlyCloses[t.In(tc.loc).Format(dateLayout)]
	return ok
}

// IsTradingDay reports whether t is a weekday that is not a listed holiday.
// Early closes do not affect the result.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	lt := t.In(tc.loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	tc.checkCoverage(lt.Year())
	return !tc.IsHoliday(t)
}

// StartOfDay returns midnight exchange time of the day containing t.
func (tc *TradingCalendar) StartOfDay(t time.Time) time.Time {
	lt := t.In(tc.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, tc.loc)
}

// TradingDaysBack walks backward one calendar day at a time from the day
// containing t (inclusive) until n trading days have been counted, and
// returns midnight of the n-th trading day. n <= 0 returns the start of t's
// day.
func (tc *TradingCalendar) TradingDaysBack(t time.Time, n int) time.Time {
	d := tc.StartOfDay(t)
	if n <= 0 {
		return d
	}
	count := 0
	for {
		if tc.IsTradingDay(d) {
			count++
			if count == n {
				return d
			}
		}
		d = d.AddDate(0, 0, -1)
	}
}

// TradingDaysForward walks forward one calendar day at a time from the day
// after t until n trading days have elapsed, and returns midnight of that
// day.
func (tc *TradingCalendar) TradingDaysForward(t time.Time, n int) time.Time {
	d := tc.StartOfDay(t)
	count := 0
	for count < n {
		d = d.AddDate(0, 0, 1)
		if tc.IsTradingDay(d) {
			count++
		}
	}
	return d
}

// session returns the open and close instants for the day containing t.
func (tc *TradingCalendar) session(t time.Time) (openAt, closeAt time.Time) {
	d := tc.StartOfDay(t)
	openAt = time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, tc.loc)
	closeHour := 16
	if tc.IsEarlyClose(d) {
		closeHour = 13
	}
	closeAt = time.Date(d.Year(), d.Month(), d.Day(), closeHour, 0, 0, 0, tc.loc)
	return openAt, closeAt
}

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	openAt, closeAt := tc.session(t)
	return !t.Before(openAt) && t.Before(closeAt)
}

// NextOpen returns the next regular-session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	d := tc.StartOfDay(t)
	for {
		if tc.IsTradingDay(d) {
			openAt, _ := tc.session(d)
			if !openAt.Before(t) {
				return openAt
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}

// NextClose returns the next regular-session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	d := tc.StartOfDay(t)
	for {
		if tc.IsTradingDay(d) {
			_, closeAt := tc.session(d)
			if !closeAt.Before(t) {
				return closeAt
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}
