package leave_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// ACCRUAL PERIOD TESTS
// =============================================================================

func TestPeriodsSince_Monthly(t *testing.T) {
	// GIVEN: Last accrual on January 1
	// WHEN: Running on April 15
	// THEN: Three whole months elapsed; the boundary lands on April 1

	last := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, time.April, 15, 0, 0, 0, 0, time.UTC)

	periods, boundary := leave.PeriodMonthly.PeriodsSince(last, now)
	assert.Equal(t, 3, periods)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), boundary)
}

func TestPeriodsSince_NoneElapsed(t *testing.T) {
	last := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)

	periods, boundary := leave.PeriodMonthly.PeriodsSince(last, now)
	assert.Equal(t, 0, periods)
	assert.Equal(t, last, boundary, "boundary must not move when no period elapsed")
}

func TestPeriodsSince_Biweekly(t *testing.T) {
	last := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)

	periods, boundary := leave.PeriodBiweekly.PeriodsSince(last, now)
	assert.Equal(t, 2, periods) // Jan 15 and Jan 29
	assert.Equal(t, time.Date(2026, time.January, 29, 0, 0, 0, 0, time.UTC), boundary)
}

func TestPeriodsSince_ExactBoundary(t *testing.T) {
	// A run landing exactly on the boundary counts the period.
	last := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)

	periods, _ := leave.PeriodMonthly.PeriodsSince(last, now)
	assert.Equal(t, 1, periods)
}

// =============================================================================
// APPLICABILITY TESTS
// =============================================================================

func TestApplicability_EmptyMatchesEveryone(t *testing.T) {
	emp := leave.Employee{Role: "engineer", Department: "platform", HireDate: leave.NewDate(2020, time.June, 1)}
	assert.True(t, leave.Applicability{}.Matches(emp, leave.NewDate(2026, time.January, 1)))
}

func TestApplicability_RoleAndDepartment(t *testing.T) {
	emp := leave.Employee{Role: "engineer", Department: "platform", HireDate: leave.NewDate(2020, time.June, 1)}
	asOf := leave.NewDate(2026, time.January, 1)

	assert.True(t, leave.Applicability{Roles: []string{"engineer", "designer"}}.Matches(emp, asOf))
	assert.False(t, leave.Applicability{Roles: []string{"manager"}}.Matches(emp, asOf))
	assert.True(t, leave.Applicability{Departments: []string{"platform"}}.Matches(emp, asOf))
	assert.False(t, leave.Applicability{Departments: []string{"sales"}}.Matches(emp, asOf))
}

func TestApplicability_MinTenure(t *testing.T) {
	emp := leave.Employee{HireDate: leave.NewDate(2025, time.October, 1)}

	a := leave.Applicability{MinTenureMonths: 6}
	assert.False(t, a.Matches(emp, leave.NewDate(2026, time.January, 1)))
	assert.True(t, a.Matches(emp, leave.NewDate(2026, time.April, 1)))
}

// =============================================================================
// POLICY TESTS
// =============================================================================

func TestLeavePolicy_RuleFor(t *testing.T) {
	p := leave.LeavePolicy{
		Rules: []leave.PolicyRule{
			{LeaveTypeID: "vacation", AnnualAllotment: leave.DaysOfInt(25)},
			{LeaveTypeID: "sick", AnnualAllotment: leave.DaysOfInt(10)},
		},
	}

	rule, ok := p.RuleFor("sick")
	assert.True(t, ok)
	assert.True(t, rule.AnnualAllotment.Equal(leave.DaysOfInt(10)))

	_, ok = p.RuleFor("parental")
	assert.False(t, ok)
}

func TestAssignment_IsActive(t *testing.T) {
	to := leave.NewDate(2026, time.June, 30)
	a := leave.Assignment{
		EffectiveFrom: leave.NewDate(2026, time.January, 1),
		EffectiveTo:   &to,
	}

	assert.False(t, a.IsActive(leave.NewDate(2025, time.December, 31)))
	assert.True(t, a.IsActive(leave.NewDate(2026, time.January, 1)))
	assert.True(t, a.IsActive(leave.NewDate(2026, time.June, 30)))
	assert.False(t, a.IsActive(leave.NewDate(2026, time.July, 1)))

	open := leave.Assignment{EffectiveFrom: leave.NewDate(2026, time.January, 1)}
	assert.True(t, open.IsActive(leave.NewDate(2030, time.January, 1)))
}
