package leave_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// WORKING DAY TESTS
// =============================================================================

func TestWorkingDays_FullWeek(t *testing.T) {
	// GIVEN: Monday through Friday, no holidays
	// WHEN: Counting working days
	// THEN: All five days count

	cal := leave.NewCalendar(nil)
	start := leave.NewDate(2026, time.January, 5) // Monday
	end := leave.NewDate(2026, time.January, 9)   // Friday

	assert.Equal(t, 5, leave.WorkingDays(start, end, cal))
}

func TestWorkingDays_WeekendOnly(t *testing.T) {
	// GIVEN: A Saturday-Sunday range
	// WHEN: Counting working days
	// THEN: Zero

	cal := leave.NewCalendar(nil)
	start := leave.NewDate(2026, time.January, 3) // Saturday
	end := leave.NewDate(2026, time.January, 4)   // Sunday

	assert.Equal(t, 0, leave.WorkingDays(start, end, cal))
}

func TestWorkingDays_HolidayExcluded(t *testing.T) {
	// GIVEN: A work week with a mid-week holiday
	// WHEN: Counting working days
	// THEN: The holiday does not count

	cal := leave.NewCalendar([]leave.Holiday{
		{ID: "h1", Date: leave.NewDate(2026, time.January, 7), Name: "Founders Day"},
	})
	start := leave.NewDate(2026, time.January, 5)
	end := leave.NewDate(2026, time.January, 9)

	assert.Equal(t, 4, leave.WorkingDays(start, end, cal))
}

func TestWorkingDays_RecurringHoliday(t *testing.T) {
	// GIVEN: A recurring holiday defined in a past year
	// WHEN: Counting working days in a later year over the same month/day
	// THEN: The recurrence is honored

	cal := leave.NewCalendar([]leave.Holiday{
		{ID: "ny", Date: leave.NewDate(2020, time.January, 1), Name: "New Year", Recurring: true},
	})

	// 2026-01-01 is a Thursday.
	assert.False(t, cal.IsWorkingDay(leave.NewDate(2026, time.January, 1)))
	assert.Equal(t, 1, leave.WorkingDays(
		leave.NewDate(2026, time.January, 1),
		leave.NewDate(2026, time.January, 2), cal))
}

func TestWorkingDays_EndBeforeStart(t *testing.T) {
	cal := leave.NewCalendar(nil)
	start := leave.NewDate(2026, time.March, 10)
	end := leave.NewDate(2026, time.March, 9)

	assert.Equal(t, 0, leave.WorkingDays(start, end, cal))
}

func TestWorkingDays_SpansWeekend(t *testing.T) {
	// GIVEN: Friday through the following Tuesday
	// WHEN: Counting working days
	// THEN: Friday, Monday, Tuesday count; the weekend does not

	cal := leave.NewCalendar(nil)
	start := leave.NewDate(2026, time.January, 9)  // Friday
	end := leave.NewDate(2026, time.January, 13)   // Tuesday

	assert.Equal(t, 3, leave.WorkingDays(start, end, cal))
}

// =============================================================================
// DATE TESTS
// =============================================================================

func TestParseDate_RoundTrip(t *testing.T) {
	d, err := leave.ParseDate("2026-07-14")
	require.NoError(t, err)
	assert.Equal(t, "2026-07-14", d.String())
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, time.July, d.Month())
	assert.Equal(t, 14, d.Day())
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := leave.ParseDate("14/07/2026")
	assert.Error(t, err)
}

func TestDate_DaysUntil(t *testing.T) {
	a := leave.NewDate(2026, time.January, 1)
	b := leave.NewDate(2026, time.January, 31)

	assert.Equal(t, 30, a.DaysUntil(b))
	assert.Equal(t, -30, b.DaysUntil(a))
}

func TestDaysInYear_LeapYear(t *testing.T) {
	assert.Equal(t, 365, leave.DaysInYear(2026))
	assert.Equal(t, 366, leave.DaysInYear(2028))
}

func TestDateOf_TruncatesToUTCDay(t *testing.T) {
	ts := time.Date(2026, time.March, 2, 23, 45, 0, 0, time.UTC)
	assert.Equal(t, leave.NewDate(2026, time.March, 2), leave.DateOf(ts))
}
