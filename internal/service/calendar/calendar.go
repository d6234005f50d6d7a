// Package calendar holds the forex trading-week rules used by gap detection
// and coverage accounting.
package calendar

import (
	"strconv"
	"strings"
	"time"

	"FxPull/pkg/config"
)

const (
	defaultFridayClose = 22
	defaultMondayOpen  = 0

	// Session days use 0=Monday .. 6=Sunday.
	dayMonday = 0
	dayFriday = 4
)

// Calendar evaluates weekend closures in UTC.
type Calendar struct {
	weekendTrading bool
	fridayClose    int
	mondayOpen     int
}

// New builds a calendar from session entries. Only the Friday entry (close)
// and the Monday entry (open) are consulted.
func New(weekendTrading bool, sessions []config.MarketSession) *Calendar {
	c := &Calendar{
		weekendTrading: weekendTrading,
		fridayClose:    defaultFridayClose,
		mondayOpen:     defaultMondayOpen,
	}
	for _, s := range sessions {
		switch s.Day {
		case dayFriday:
			c.fridayClose = parseHour(s.Time, defaultFridayClose)
		case dayMonday:
			c.mondayOpen = parseHour(s.Time, defaultMondayOpen)
		}
	}
	return c
}

// FromConfig builds the calendar section of cfg.
func FromConfig(cfg *config.Config) *Calendar {
	return New(cfg.Calendar.WeekendTrading, cfg.Calendar.ForexMarketOpen)
}

func parseHour(hhmm string, def int) int {
	h, _, _ := strings.Cut(strings.TrimSpace(hhmm), ":")
	v, err := strconv.Atoi(h)
	if err != nil || v < 0 || v > 23 {
		return def
	}
	return v
}

func (c *Calendar) WeekendTrading() bool { return c.weekendTrading }
func (c *Calendar) FridayCloseHour() int { return c.fridayClose }
func (c *Calendar) MondayOpenHour() int  { return c.mondayOpen }

// IsWeekendGap reports whether a hole from start to end is the regular
// weekend closure: Friday at or after close through Monday at or before open.
func (c *Calendar) IsWeekendGap(start, end time.Time) bool {
	if c.weekendTrading {
		return false
	}
	start, end = start.UTC(), end.UTC()
	if start.Weekday() != time.Friday || end.Weekday() != time.Monday {
		return false
	}
	return start.Hour() >= c.fridayClose && end.Hour() <= c.mondayOpen
}

// WeekendAdjustment returns how many bars of length interval fall into
// weekend closures across span: 48h per full week.
func (c *Calendar) WeekendAdjustment(span, interval time.Duration) int64 {
	if c.weekendTrading || interval <= 0 || span <= 0 {
		return 0
	}
	days := int64(span / (24 * time.Hour))
	weekends := days / 7
	return weekends * int64(48*time.Hour/interval)
}
