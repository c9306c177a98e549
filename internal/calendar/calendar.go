// Package calendar lays out the days of a target year and the period keys
// each day belongs to.
package calendar

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Calendar holds the ordered days of one year and their period memberships.
type Calendar struct {
	Year  int
	Days  []time.Time
	weeks []string // distinct ISO week keys in day order
}

// Group is a run of day indices sharing a period key.
type Group struct {
	Key     string
	Indices []int
}

// New builds the calendar for year (UTC dates, Jan 1 through Dec 31).
func New(year int) *Calendar {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)

	c := &Calendar{Year: year}
	seen := make(map[string]struct{})
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		c.Days = append(c.Days, d)
		wk := WeekKey(d)
		if _, ok := seen[wk]; !ok {
			seen[wk] = struct{}{}
			c.weeks = append(c.weeks, wk)
		}
	}
	return c
}

// Len returns the number of days in the year.
func (c *Calendar) Len() int { return len(c.Days) }

// Weeks returns the ISO week keys touching this year, in order.
func (c *Calendar) Weeks() []string {
	return append([]string(nil), c.weeks...)
}

// Index returns the day index of t, or -1 when t is outside the year.
func (c *Calendar) Index(t time.Time) int {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if d.Year() != c.Year {
		return -1
	}
	return d.YearDay() - 1
}

// DayKey formats t as an ISO date.
func DayKey(t time.Time) string { return t.Format(dayLayout) }

// ParseDay parses an ISO date into a UTC midnight time.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(dayLayout, s, time.UTC)
}

// WeekKey formats t's ISO week as YYYY-Www. The ISO year may differ from the
// calendar year for days around New Year.
func WeekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// MonthKey returns the English month name of t.
func MonthKey(t time.Time) string { return t.Month().String() }

// QuarterKey returns Q1..Q4 for t.
func QuarterKey(t time.Time) string {
	return fmt.Sprintf("Q%d", (int(t.Month())-1)/3+1)
}

// Months returns the twelve month keys in order.
func Months() []string {
	out := make([]string, 12)
	for m := time.January; m <= time.December; m++ {
		out[m-1] = m.String()
	}
	return out
}

// Quarters returns Q1..Q4.
func Quarters() []string { return []string{"Q1", "Q2", "Q3", "Q4"} }

// QuarterMonths returns the month keys in quarter q (1-based).
func QuarterMonths(q int) []string {
	months := Months()
	return months[(q-1)*3 : q*3]
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// KeyFunc maps a day to its period key.
type KeyFunc func(time.Time) string

// GroupBy partitions the year's day indices by key, preserving first-seen order.
func (c *Calendar) GroupBy(key KeyFunc) []Group {
	var groups []Group
	pos := make(map[string]int)
	for i, d := range c.Days {
		k := key(d)
		gi, ok := pos[k]
		if !ok {
			gi = len(groups)
			pos[k] = gi
			groups = append(groups, Group{Key: k})
		}
		groups[gi].Indices = append(groups[gi].Indices, i)
	}
	return groups
}

// Months groups the year's days by month.
func (c *Calendar) Months() []Group { return c.GroupBy(MonthKey) }

// Quarters groups the year's days by quarter.
func (c *Calendar) Quarters() []Group { return c.GroupBy(QuarterKey) }

// ISOWeeks groups the year's days by ISO week.
func (c *Calendar) ISOWeeks() []Group { return c.GroupBy(WeekKey) }

// Whole returns a single group spanning the year.
func (c *Calendar) Whole() []Group {
	idx := make([]int, len(c.Days))
	for i := range idx {
		idx[i] = i
	}
	return []Group{{Key: fmt.Sprintf("%d", c.Year), Indices: idx}}
}
