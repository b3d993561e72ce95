// Package market provides the market-hours gate for Indian exchanges.
// All time math is done in IST regardless of the host timezone.
package market

import (
	"fmt"
	"time"
)

// NSE trading window, inclusive of both endpoints.
const (
	openHour    = 9
	openMinute  = 15
	closeHour   = 15
	closeMinute = 30
)

// Clock is the single source of truth for "is the exchange open".
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock creates a Clock pinned to IST. Falls back to a fixed UTC+05:30
// zone on minimal containers without tzdata.
func NewClock() *Clock {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &Clock{loc: loc, now: time.Now}
}

// NewClockAt creates a Clock with an injected time source, for tests.
func NewClockAt(now func() time.Time) *Clock {
	c := NewClock()
	c.now = now
	return c
}

// Location returns the IST location used for all market time math.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant in IST.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the current IST trading day formatted YYYY-MM-DD.
func (c *Clock) Today() string {
	return c.Now().Format("2006-01-02")
}

// CanTrade reports whether new entries are allowed right now, with a
// human-readable reason when they are not. Exits bypass this gate at the
// controller level, not here.
func (c *Clock) CanTrade() (bool, string) {
	return c.CanTradeAt(c.Now())
}

// CanTradeAt is CanTrade evaluated at an arbitrary instant.
func (c *Clock) CanTradeAt(t time.Time) (bool, string) {
	t = t.In(c.loc)

	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false, fmt.Sprintf("market closed: %s", t.Weekday())
	}

	open := time.Date(t.Year(), t.Month(), t.Day(), openHour, openMinute, 0, 0, c.loc)
	closeAt := time.Date(t.Year(), t.Month(), t.Day(), closeHour, closeMinute, 0, 0, c.loc)

	if t.Before(open) {
		return false, fmt.Sprintf("market opens at %02d:%02d IST", openHour, openMinute)
	}
	// Inclusive close: 15:30:00.000 is still tradable, 15:30:00.001 is not.
	if t.After(closeAt) {
		return false, fmt.Sprintf("market closed at %02d:%02d IST", closeHour, closeMinute)
	}
	return true, ""
}

// TimeUntilClose returns the duration until today's 15:30 IST close.
// Negative once the close has passed; callers treat <= 0 as closed.
func (c *Clock) TimeUntilClose() time.Duration {
	return c.TimeUntilCloseAt(c.Now())
}

// TimeUntilCloseAt is TimeUntilClose evaluated at an arbitrary instant.
func (c *Clock) TimeUntilCloseAt(t time.Time) time.Duration {
	t = t.In(c.loc)
	closeAt := time.Date(t.Year(), t.Month(), t.Day(), closeHour, closeMinute, 0, 0, c.loc)
	return closeAt.Sub(t)
}

// IsTradingDay reports whether t falls on a weekday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
