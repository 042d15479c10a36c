package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"papertrade/internal/util"
)

// calendarClient is the subset of the Alpaca trading client used to sync
// the exchange calendar.
type calendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewCalendarClient returns an Alpaca trading client for SyncCalendar.
func NewCalendarClient(apiKey, apiSecret, baseURL string) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

// SyncResult counts the dates SyncCalendar added.
type SyncResult struct {
	Holidays    int
	EarlyCloses int
}

// SyncCalendar loads the Alpaca trading calendar for [from, to] into cal.
// Weekdays absent from the Alpaca calendar become holidays; sessions
// closing before 16:00 become early closes. Dates already known to cal are
// not counted.
func SyncCalendar(ctx context.Context, client calendarClient, cal *util.TradingCalendar, from, to time.Time) (SyncResult, error) {
	var res SyncResult
	if to.Before(from) {
		return res, fmt.Errorf("sync calendar: end %s before start %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}

	var days []alpaca.CalendarDay
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		days, err = client.GetCalendar(alpaca.GetCalendarRequest{Start: from, End: to})
		return err
	})
	if err != nil {
		return res, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(days) == 0 {
		return res, fmt.Errorf("no trading days returned from calendar")
	}

	open := make(map[string]string, len(days))
	for _, d := range days {
		open[d.Date] = d.Close
	}

	loc := cal.Location()
	start := time.Date(from.Year(), from.Month(), from.Day(), 12, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 12, 0, 0, 0, loc)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		key := d.Format(time.DateOnly)
		closeAt, ok := open[key]
		switch {
		case !ok:
			if cal.IsHoliday(d) {
				continue
			}
			if err := cal.AddHolidays(key); err != nil {
				return res, err
			}
			res.Holidays++
		case closeAt != "" && closeAt < "16:00":
			if cal.IsEarlyClose(d) {
				continue
			}
			if err := cal.AddEarlyCloses(key); err != nil {
				return res, err
			}
			res.EarlyCloses++
		}
	}
	return res, nil
}
