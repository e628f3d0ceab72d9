package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/catalog"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*catalog.Service, *memory.Store, *ledger.Service) {
	t.Helper()
	store := memory.New()
	lg := ledger.New(store, store)
	svc := catalog.New(store, lg)
	svc.Clock = func() time.Time { return testNow }
	return svc, store, lg
}

func seedVacationType(t *testing.T, svc *catalog.Service) leave.LeaveType {
	t.Helper()
	lt, err := svc.CreateLeaveType(context.Background(), leave.LeaveType{
		ID:                   "vacation",
		Name:                 "Vacation",
		IsPaid:               true,
		AccrualRatePerPeriod: leave.DaysOf(2),
		MaxCarryoverDays:     leave.DaysOfInt(5),
	})
	require.NoError(t, err)
	return lt
}

// =============================================================================
// LEAVE TYPE TESTS
// =============================================================================

func TestCreateLeaveType_Defaults(t *testing.T) {
	svc, _, _ := newService(t)

	lt, err := svc.CreateLeaveType(context.Background(), leave.LeaveType{Name: "Sick Leave", IsPaid: true})
	require.NoError(t, err)
	assert.NotEmpty(t, lt.ID, "an ID is generated when none is given")
	assert.True(t, lt.Active)
	assert.Equal(t, testNow, lt.CreatedAt)
}

func TestCreateLeaveType_ActiveNameConflict(t *testing.T) {
	// GIVEN: An active "Vacation" type
	// WHEN: Creating another with the same name
	// THEN: A conflict; but a deactivated type frees its name

	svc, _, _ := newService(t)
	lt := seedVacationType(t, svc)
	ctx := context.Background()

	_, err := svc.CreateLeaveType(ctx, leave.LeaveType{Name: "Vacation"})
	assert.True(t, leave.IsConflict(err))

	require.NoError(t, svc.DeactivateLeaveType(ctx, lt.ID))
	_, err = svc.CreateLeaveType(ctx, leave.LeaveType{Name: "Vacation"})
	assert.NoError(t, err)
}

func TestCreateLeaveType_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateLeaveType(ctx, leave.LeaveType{Name: ""})
	assert.True(t, leave.IsValidation(err))

	_, err = svc.CreateLeaveType(ctx, leave.LeaveType{Name: "Bad", AccrualRatePerPeriod: leave.DaysOfInt(-1)})
	assert.True(t, leave.IsValidation(err))
}

func TestUpdateLeaveType_PreservesActiveAndCreatedAt(t *testing.T) {
	svc, _, _ := newService(t)
	lt := seedVacationType(t, svc)
	ctx := context.Background()
	require.NoError(t, svc.DeactivateLeaveType(ctx, lt.ID))

	lt.Name = "Annual Leave"
	lt.Active = true // must be ignored
	updated, err := svc.UpdateLeaveType(ctx, lt)
	require.NoError(t, err)
	assert.False(t, updated.Active, "update must not reactivate a deactivated type")
	assert.Equal(t, testNow, updated.CreatedAt)
}

// =============================================================================
// POLICY TESTS
// =============================================================================

func standardPolicy() leave.LeavePolicy {
	return leave.LeavePolicy{
		Name: "Standard",
		Rules: []leave.PolicyRule{{
			LeaveTypeID:     "vacation",
			AccrualRate:     leave.DaysOf(2),
			AnnualAllotment: leave.DaysOfInt(24),
		}},
	}
}

func TestCreatePolicy_Defaults(t *testing.T) {
	svc, _, _ := newService(t)
	seedVacationType(t, svc)

	p, err := svc.CreatePolicy(context.Background(), standardPolicy())
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, leave.PeriodMonthly, p.AccrualPeriod, "accrual period defaults to monthly")
	assert.True(t, p.IsActive)
}

func TestCreatePolicy_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	seedVacationType(t, svc)
	ctx := context.Background()

	noRules := standardPolicy()
	noRules.Rules = nil
	_, err := svc.CreatePolicy(ctx, noRules)
	assert.True(t, leave.IsValidation(err))

	unknownType := standardPolicy()
	unknownType.Rules[0].LeaveTypeID = "sabbatical"
	_, err = svc.CreatePolicy(ctx, unknownType)
	assert.True(t, leave.IsValidation(err))

	duplicate := standardPolicy()
	duplicate.Rules = append(duplicate.Rules, duplicate.Rules[0])
	_, err = svc.CreatePolicy(ctx, duplicate)
	assert.True(t, leave.IsValidation(err))

	badPeriod := standardPolicy()
	badPeriod.AccrualPeriod = "quarterly"
	_, err = svc.CreatePolicy(ctx, badPeriod)
	assert.True(t, leave.IsValidation(err))
}

func TestCreatePolicy_ActiveNameConflict(t *testing.T) {
	svc, _, _ := newService(t)
	seedVacationType(t, svc)
	ctx := context.Background()
	_, err := svc.CreatePolicy(ctx, standardPolicy())
	require.NoError(t, err)

	_, err = svc.CreatePolicy(ctx, standardPolicy())
	assert.True(t, leave.IsConflict(err))
}

// =============================================================================
// ASSIGNMENT TESTS
// =============================================================================

func TestAssignPolicy_ClosesPreviousAssignment(t *testing.T) {
	// GIVEN: An employee on the Standard policy for vacation
	// WHEN: Assigning the Senior policy effective March 1
	// THEN: The old assignment closes the day before; exactly one active
	//       assignment per leave type remains

	svc, store, _ := newService(t)
	seedVacationType(t, svc)
	ctx := context.Background()

	first, err := svc.CreatePolicy(ctx, standardPolicy())
	require.NoError(t, err)
	senior := standardPolicy()
	senior.Name = "Senior"
	senior.Rules[0].AnnualAllotment = leave.DaysOfInt(30)
	second, err := svc.CreatePolicy(ctx, senior)
	require.NoError(t, err)

	_, err = svc.AssignPolicy(ctx, "emp-1", first.ID, leave.NewDate(2026, time.January, 1))
	require.NoError(t, err)
	created, err := svc.AssignPolicy(ctx, "emp-1", second.ID, leave.NewDate(2026, time.March, 1))
	require.NoError(t, err)
	require.Len(t, created, 1)

	active, err := store.ActiveAssignments(ctx, "emp-1", leave.NewDate(2026, time.March, 15))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].PolicyID)

	// The old assignment still answers for February.
	february, err := store.ActiveAssignments(ctx, "emp-1", leave.NewDate(2026, time.February, 15))
	require.NoError(t, err)
	require.Len(t, february, 1)
	assert.Equal(t, first.ID, february[0].PolicyID)
}

func TestAssignPolicy_InactivePolicy(t *testing.T) {
	svc, _, _ := newService(t)
	seedVacationType(t, svc)
	ctx := context.Background()
	p, err := svc.CreatePolicy(ctx, standardPolicy())
	require.NoError(t, err)
	p.IsActive = false
	_, err = svc.UpdatePolicy(ctx, p)
	require.NoError(t, err)

	_, err = svc.AssignPolicy(ctx, "emp-1", p.ID, leave.NewDate(2026, time.March, 1))
	assert.True(t, leave.IsValidation(err))
}

// =============================================================================
// ONBOARDING TESTS
// =============================================================================

func TestOnboard_ProRatedSeed(t *testing.T) {
	// GIVEN: A default policy granting 24 days a year
	// WHEN: Onboarding an employee hired July 1 (184 of 365 days remaining)
	// THEN: The seed is 24 * 184/365 = 12.1, rounded to two decimals

	svc, store, lg := newService(t)
	seedVacationType(t, svc)
	ctx := context.Background()

	p := standardPolicy()
	p.IsDefault = true
	_, err := svc.CreatePolicy(ctx, p)
	require.NoError(t, err)

	hire := leave.NewDate(2026, time.July, 1)
	require.NoError(t, store.UpsertEmployee(ctx, leave.Employee{
		ID: "emp-1", Name: "Sam Doe", Role: "engineer", Department: "platform", HireDate: hire,
	}))

	result, err := svc.Onboard(ctx, "emp-1", hire)
	require.NoError(t, err)
	require.Len(t, result.Assignments, 1)

	seeded, ok := result.Seeded["vacation"]
	require.True(t, ok)
	assert.Equal(t, "12.1", seeded.String())

	b, err := lg.Get(ctx, leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2026})
	require.NoError(t, err)
	assert.True(t, b.Accrued.Equal(seeded))
}

func TestOnboard_PicksApplicableDefault(t *testing.T) {
	svc, store, _ := newService(t)
	seedVacationType(t, svc)
	ctx := context.Background()

	engineering := standardPolicy()
	engineering.Name = "Engineering"
	engineering.IsDefault = true
	engineering.Applicability = leave.Applicability{Departments: []string{"platform"}}
	_, err := svc.CreatePolicy(ctx, engineering)
	require.NoError(t, err)

	sales := standardPolicy()
	sales.Name = "Sales"
	sales.IsDefault = true
	sales.Applicability = leave.Applicability{Departments: []string{"sales"}}
	created, err := svc.CreatePolicy(ctx, sales)
	require.NoError(t, err)

	hire := leave.NewDate(2026, time.February, 1)
	require.NoError(t, store.UpsertEmployee(ctx, leave.Employee{
		ID: "emp-2", Name: "Ada Ray", Department: "sales", HireDate: hire,
	}))

	result, err := svc.Onboard(ctx, "emp-2", hire)
	require.NoError(t, err)
	assert.Equal(t, created.ID, result.Policy.ID)
}

func TestOnboard_NoDefaultPolicy(t *testing.T) {
	svc, store, _ := newService(t)
	seedVacationType(t, svc)
	ctx := context.Background()
	_, err := svc.CreatePolicy(ctx, standardPolicy()) // not default
	require.NoError(t, err)
	require.NoError(t, store.UpsertEmployee(ctx, leave.Employee{
		ID: "emp-1", HireDate: leave.NewDate(2026, time.February, 1),
	}))

	_, err = svc.Onboard(ctx, "emp-1", leave.NewDate(2026, time.February, 1))
	assert.True(t, leave.IsNotFound(err))
}

func TestOnboard_UnknownEmployee(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Onboard(context.Background(), "emp-ghost", leave.NewDate(2026, time.February, 1))
	assert.True(t, leave.IsNotFound(err))
}
