package leave

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Day-granular civil date (UTC midnight)
// =============================================================================

// Date is a calendar day. All leave accounting is day-granular.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a time to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func Today() Date { return DateOf(time.Now()) }

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return Date{t: t}, nil
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) IsZero() bool       { return d.t.IsZero() }

func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }

func (d Date) Year() int           { return d.t.Year() }
func (d Date) Month() time.Month   { return d.t.Month() }
func (d Date) Day() int            { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) Time() time.Time     { return d.t }
func (d Date) String() string      { return d.t.Format("2006-01-02") }

func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DaysUntil returns the number of calendar days from d to o (negative if o
// is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

func StartOfYear(year int) Date { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date   { return NewDate(year, time.December, 31) }

// DaysInYear accounts for leap years.
func DaysInYear(year int) int {
	return StartOfYear(year).DaysUntil(StartOfYear(year+1))
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a non-working day beyond the weekend.
type Holiday struct {
	ID        string
	Date      Date
	Name      string
	Recurring bool // same month/day every year
}

// Calendar answers "is this day a holiday?" for working-day computation.
// Built from the holiday store once per operation; lookups are pure.
type Calendar struct {
	exact     map[Date]bool
	recurring map[[2]int]bool // month, day
}

func NewCalendar(holidays []Holiday) Calendar {
	c := Calendar{exact: make(map[Date]bool), recurring: make(map[[2]int]bool)}
	for _, h := range holidays {
		if h.Recurring {
			c.recurring[[2]int{int(h.Date.Month()), h.Date.Day()}] = true
		} else {
			c.exact[h.Date] = true
		}
	}
	return c
}

func (c Calendar) IsHoliday(d Date) bool {
	if c.exact[d] {
		return true
	}
	return c.recurring[[2]int{int(d.Month()), d.Day()}]
}

// IsWorkingDay excludes weekends and calendar holidays.
func (c Calendar) IsWorkingDay(d Date) bool {
	return !d.IsWeekend() && !c.IsHoliday(d)
}

// WorkingDays counts working days in [start, end] inclusive.
// Returns 0 when end precedes start.
func WorkingDays(start, end Date, cal Calendar) int {
	if end.Before(start) {
		return 0
	}
	n := 0
	for d := start; !d.After(end); d = d.AddDays(1) {
		if cal.IsWorkingDay(d) {
			n++
		}
	}
	return n
}
