package market

import (
	"fmt"
	"time"
)

// DayLayout is the trading-day format used throughout: 20240105.
const DayLayout = "20060102"

// Calendar knows which dates are trading days.
type Calendar struct {
	holidays map[string]struct{}
}

func NewCalendar(holidays ...string) *Calendar {
	c := &Calendar{holidays: make(map[string]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[h] = struct{}{}
	}
	return c
}

func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c == nil {
		return true
	}
	_, holiday := c.holidays[t.Format(DayLayout)]
	return !holiday
}

// Next returns the trading day following day.
func (c *Calendar) Next(day string) (string, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return "", fmt.Errorf("parse trading day %q: %w", day, err)
	}
	for i := 0; i < 366; i++ {
		t = t.AddDate(0, 0, 1)
		if c.IsTradingDay(t) {
			return t.Format(DayLayout), nil
		}
	}
	return "", fmt.Errorf("no trading day within a year after %s", day)
}

// NextTradingDay uses a weekends-only calendar.
func NextTradingDay(day string) (string, error) {
	return (*Calendar)(nil).Next(day)
}

// ValidDay reports whether s is a well-formed trading day.
func ValidDay(s string) bool {
	_, err := time.Parse(DayLayout, s)
	return err == nil
}
