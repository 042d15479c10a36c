package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/domain"
	"papertrade/internal/util"
)

var testCal = util.NewTradingCalendar()

// Friday 2026-10-16, mid-session.
var testNow = time.Date(2026, 10, 16, 15, 0, 0, 0, testCal.Location())

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newLimiter(now time.Time) *PDTLimiter {
	return NewPDTLimiter(testCal, PDTConfig{MaxDayTrades: 3, WindowDays: 5}, fixedClock(now))
}

func daysAgo(now time.Time, days ...int) []domain.DayTrade {
	out := make([]domain.DayTrade, 0, len(days))
	for i, d := range days {
		out = append(out, domain.DayTrade{
			TradeID:       string(rune('a' + i)),
			Symbol:        "SPY",
			OpenTime:      now.AddDate(0, 0, -d).Add(-time.Hour),
			CloseTime:     now.AddDate(0, 0, -d),
			SchemaVersion: domain.DayTradeSchemaVersion,
		})
	}
	return out
}

func TestPDTThreeRecentTradesBlock(t *testing.T) {
	l := newLimiter(testNow)
	st := l.Status(daysAgo(testNow, 1, 2, 3))

	assert.Equal(t, 3, st.DayTradeCount)
	assert.Equal(t, 3, st.MaxAllowed)
	assert.False(t, st.CanDayTrade)
	assert.Len(t, st.TradesInWindow, 3)

	// Oldest trade closed Tue 2026-10-13; five trading days later is Tue 10-20.
	require.NotNil(t, st.NextExpiry)
	want := time.Date(2026, 10, 20, 0, 0, 0, 0, testCal.Location())
	assert.True(t, st.NextExpiry.Equal(want), "NextExpiry = %v, want %v", st.NextExpiry, want)
}

func TestPDTOldTradeExcluded(t *testing.T) {
	l := newLimiter(testNow)
	st := l.Status(daysAgo(testNow, 15))

	assert.Equal(t, 0, st.DayTradeCount)
	assert.True(t, st.CanDayTrade)
	assert.Nil(t, st.NextExpiry)

	st = l.Status(daysAgo(testNow, 1, 2, 15))
	assert.Equal(t, 2, st.DayTradeCount)
	assert.True(t, st.CanDayTrade)
}

func TestPDTWindowSkipsWeekendsAndHolidays(t *testing.T) {
	// Monday after Thanksgiving: the five-day window reaches back to Mon 11-23.
	loc := testCal.Location()
	now := time.Date(2026, 11, 30, 10, 0, 0, 0, loc)
	l := newLimiter(now)

	assert.True(t, l.WindowStart(now).Equal(time.Date(2026, 11, 23, 0, 0, 0, 0, loc)))

	history := []domain.DayTrade{
		{TradeID: "in", Symbol: "SPY", CloseTime: time.Date(2026, 11, 23, 9, 45, 0, 0, loc)},
		{TradeID: "out", Symbol: "SPY", CloseTime: time.Date(2026, 11, 20, 15, 59, 0, 0, loc)},
	}
	st := l.Status(history)
	assert.Equal(t, 1, st.DayTradeCount)
	assert.Equal(t, "in", st.TradesInWindow[0].TradeID)
}

func TestPDTExpiryUsesOldestTrade(t *testing.T) {
	l := newLimiter(testNow)
	// Two trades on the oldest day do not move the expiry.
	st := l.Status(daysAgo(testNow, 1, 3, 3))
	require.NotNil(t, st.NextExpiry)
	want := time.Date(2026, 10, 20, 0, 0, 0, 0, testCal.Location())
	assert.True(t, st.NextExpiry.Equal(want))
}

func TestPDTStatusIsPure(t *testing.T) {
	l := newLimiter(testNow)
	history := daysAgo(testNow, 1, 2, 3)
	before := append([]domain.DayTrade(nil), history...)

	first := l.Status(history)
	second := l.Status(history)
	assert.Equal(t, first, second)
	assert.Equal(t, before, history)
}
