package engine

import (
	"time"

	"papertrade/internal/domain"
	"papertrade/internal/util"
)

// PDTConfig configures the rolling day-trade window.
type PDTConfig struct {
	MaxDayTrades int
	WindowDays   int
}

// PDTLimiter counts day trades inside a rolling window of trading days. It
// keeps no state between calls; the only input besides the history is the
// clock.
type PDTLimiter struct {
	cal *util.TradingCalendar
	cfg PDTConfig
	now func() time.Time
}

// NewPDTLimiter creates a limiter over cal. A nil now uses time.Now.
func NewPDTLimiter(cal *util.TradingCalendar, cfg PDTConfig, now func() time.Time) *PDTLimiter {
	if now == nil {
		now = time.Now
	}
	return &PDTLimiter{cal: cal, cfg: cfg, now: now}
}

// Config returns the limiter configuration.
func (l *PDTLimiter) Config() PDTConfig { return l.cfg }

// WindowStart returns the inclusive lower bound of the window ending at now:
// midnight of the WindowDays-th trading day counted backward from now's day.
func (l *PDTLimiter) WindowStart(now time.Time) time.Time {
	return l.cal.TradingDaysBack(now, l.cfg.WindowDays)
}

// Status evaluates history against the window ending now.
func (l *PDTLimiter) Status(history []domain.DayTrade) domain.PDTStatus {
	return l.StatusAt(history, l.now())
}

// StatusAt evaluates history against the window ending at now. A day trade
// counts when its close time is at or after the window start. When the
// account is blocked, NextExpiry is the day the oldest in-window trade
// leaves the window.
func (l *PDTLimiter) StatusAt(history []domain.DayTrade, now time.Time) domain.PDTStatus {
	start := l.WindowStart(now)

	inWindow := make([]domain.DayTrade, 0, len(history))
	var oldest time.Time
	for _, dt := range history {
		if dt.CloseTime.Before(start) {
			continue
		}
		inWindow = append(inWindow, dt)
		if oldest.IsZero() || dt.CloseTime.Before(oldest) {
			oldest = dt.CloseTime
		}
	}

	st := domain.PDTStatus{
		DayTradeCount:  len(inWindow),
		MaxAllowed:     l.cfg.MaxDayTrades,
		TradesInWindow: inWindow,
		CanDayTrade:    len(inWindow) < l.cfg.MaxDayTrades,
	}
	if !st.CanDayTrade && !oldest.IsZero() {
		expiry := l.cal.TradingDaysForward(oldest, l.cfg.WindowDays)
		st.NextExpiry = &expiry
	}
	return st
}
