package accrual_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// Runs execute at 2026-04-15; assignments accrue from 2026-01-01.
var (
	runTime     = time.Date(2026, time.April, 15, 3, 0, 0, 0, time.UTC)
	accrualFrom = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	store  *memory.Store
	ledger *ledger.Service
	runner *accrual.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	lg := ledger.New(store, store)
	runner := accrual.NewRunner(store, lg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	runner.Clock = func() time.Time { return runTime }
	return &fixture{store: store, ledger: lg, runner: runner}
}

func (f *fixture) seedCatalog(t *testing.T, rate leave.Days, allotment, carryover int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateLeaveType(ctx, leave.LeaveType{
		ID:               "vacation",
		Name:             "Vacation",
		Active:           true,
		MaxCarryoverDays: leave.DaysOfInt(carryover),
	}))
	require.NoError(t, f.store.CreatePolicy(ctx, leave.LeavePolicy{
		ID:   "pol-1",
		Name: "Standard",
		Rules: []leave.PolicyRule{{
			LeaveTypeID:     "vacation",
			AccrualRate:     rate,
			AnnualAllotment: leave.DaysOfInt(allotment),
		}},
		AccrualPeriod: leave.PeriodMonthly,
		IsActive:      true,
	}))
}

func (f *fixture) assign(t *testing.T, employeeID leave.EmployeeID) {
	t.Helper()
	require.NoError(t, f.store.SaveAssignment(context.Background(), leave.Assignment{
		ID:            "asg-" + string(employeeID),
		EmployeeID:    employeeID,
		PolicyID:      "pol-1",
		LeaveTypeID:   "vacation",
		EffectiveFrom: leave.NewDate(2026, time.January, 1),
		LastAccrualAt: accrualFrom,
	}))
}

func (f *fixture) balance(t *testing.T, employeeID leave.EmployeeID, year int) leave.Balance {
	t.Helper()
	b, err := f.ledger.Get(context.Background(), leave.BalanceKey{
		EmployeeID: employeeID, LeaveTypeID: "vacation", Year: year,
	})
	require.NoError(t, err)
	return b
}

// =============================================================================
// ACCRUAL BATCH TESTS
// =============================================================================

func TestRun_CreditsElapsedPeriods(t *testing.T) {
	// GIVEN: A monthly rate of 2 days, last accrued January 1
	// WHEN: Running on April 15
	// THEN: Three whole months credit 6 days

	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 24, 5)
	f.assign(t, "emp-1")

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Empty(t, report.Errors)
	assert.Equal(t, "6", report.TotalAccrued.String())

	b := f.balance(t, "emp-1", 2026)
	assert.True(t, b.Accrued.Equal(leave.DaysOfInt(6)))
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	// The boundary advances with the first run, so an immediate re-run
	// credits nothing.

	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 24, 5)
	f.assign(t, "emp-1")

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.TotalAccrued.IsZero())
	b := f.balance(t, "emp-1", 2026)
	assert.True(t, b.Accrued.Equal(leave.DaysOfInt(6)))
}

func TestRun_CapForfeitsExcess(t *testing.T) {
	// GIVEN: A ceiling of allotment 4 + carryover 1 = 5 and 6 days earned
	// WHEN: Running
	// THEN: 5 are credited, 1 is forfeited on the entry

	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 4, 1)
	f.assign(t, "emp-1")

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5", report.TotalAccrued.String())

	b := f.balance(t, "emp-1", 2026)
	assert.True(t, b.Accrued.Equal(leave.DaysOfInt(5)))
	assert.True(t, b.Forfeited.Equal(leave.DaysOfInt(1)))
}

func TestRun_FallsBackToLeaveTypeRate(t *testing.T) {
	// A rule without its own rate uses the leave type's default.

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateLeaveType(ctx, leave.LeaveType{
		ID:                   "vacation",
		Name:                 "Vacation",
		Active:               true,
		AccrualRatePerPeriod: leave.DaysOf(1.25),
		MaxCarryoverDays:     leave.DaysOfInt(5),
	}))
	require.NoError(t, f.store.CreatePolicy(ctx, leave.LeavePolicy{
		ID:            "pol-1",
		Name:          "Standard",
		Rules:         []leave.PolicyRule{{LeaveTypeID: "vacation", AnnualAllotment: leave.DaysOfInt(24)}},
		AccrualPeriod: leave.PeriodMonthly,
		IsActive:      true,
	}))
	f.assign(t, "emp-1")

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.75", report.TotalAccrued.String())
}

func TestRun_InactiveTypeStopsAccruing(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 24, 5)
	f.assign(t, "emp-1")
	ctx := context.Background()
	lt, err := f.store.GetLeaveType(ctx, "vacation")
	require.NoError(t, err)
	lt.Active = false
	require.NoError(t, f.store.UpdateLeaveType(ctx, lt))

	report, err := f.runner.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.TotalAccrued.IsZero())
	assert.Empty(t, report.Errors)
}

func TestRun_BrokenPolicyDoesNotStopBatch(t *testing.T) {
	// GIVEN: emp-1 points at a missing policy, emp-2 is fine
	// WHEN: Running
	// THEN: emp-1 lands in the error list and emp-2 still accrues

	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 24, 5)
	require.NoError(t, f.store.SaveAssignment(context.Background(), leave.Assignment{
		ID:            "asg-broken",
		EmployeeID:    "emp-1",
		PolicyID:      "pol-missing",
		LeaveTypeID:   "vacation",
		EffectiveFrom: leave.NewDate(2026, time.January, 1),
		LastAccrualAt: accrualFrom,
	}))
	f.assign(t, "emp-2")

	report, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, leave.EmployeeID("emp-1"), report.Errors[0].EmployeeID)

	b := f.balance(t, "emp-2", 2026)
	assert.True(t, b.Accrued.Equal(leave.DaysOfInt(6)))
}

func TestRun_AdvancesAccrualBoundary(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 24, 5)
	f.assign(t, "emp-1")

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)

	assignments, err := f.store.ActiveAssignments(context.Background(), "emp-1", leave.DateOf(runTime))
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), assignments[0].LastAccrualAt)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 24, 5)
	f.assign(t, "emp-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// ROLLOVER TESTS
// =============================================================================

func TestRollover_CarriesUpToCapAndForfeitsRest(t *testing.T) {
	// GIVEN: 8 available in 2026 against a carryover cap of 5
	// WHEN: Rolling 2026 over
	// THEN: 5 land in 2027, 3 are forfeited, 2026 drains to zero

	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 24, 5)
	ctx := context.Background()
	key := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2026}
	require.NoError(t, f.ledger.Credit(ctx, key, leave.DaysOfInt(8), "hr-1", "seed"))

	report, err := f.runner.Rollover(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Entries)
	assert.Equal(t, "5", report.Carried.String())
	assert.Equal(t, "3", report.Forfeited.String())

	old := f.balance(t, "emp-1", 2026)
	assert.True(t, old.Available().IsZero())
	assert.Equal(t, "3", old.Forfeited.String())

	next := f.balance(t, "emp-1", 2027)
	assert.True(t, next.Accrued.Equal(leave.DaysOfInt(5)))
}

func TestRollover_ReRunIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 24, 5)
	ctx := context.Background()
	key := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2026}
	require.NoError(t, f.ledger.Credit(ctx, key, leave.DaysOfInt(8), "hr-1", "seed"))

	_, err := f.runner.Rollover(ctx, 2026)
	require.NoError(t, err)
	report, err := f.runner.Rollover(ctx, 2026)
	require.NoError(t, err)

	assert.True(t, report.Carried.IsZero())
	assert.True(t, report.Forfeited.IsZero())

	next := f.balance(t, "emp-1", 2027)
	assert.True(t, next.Accrued.Equal(leave.DaysOfInt(5)), "re-run must not double the carryover")
}

func TestRollover_ReservedDaysStayBehind(t *testing.T) {
	// Reserved days back a still-pending request; only the free remainder
	// carries over.

	f := newFixture(t)
	f.seedCatalog(t, leave.DaysOf(2), 24, 10)
	ctx := context.Background()
	key := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2026}
	require.NoError(t, f.ledger.Credit(ctx, key, leave.DaysOfInt(8), "hr-1", "seed"))
	require.NoError(t, f.ledger.Reserve(ctx, key, leave.DaysOfInt(3), "emp-1", "req-1"))

	report, err := f.runner.Rollover(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, "5", report.Carried.String())

	old := f.balance(t, "emp-1", 2026)
	assert.True(t, old.Reserved.Equal(leave.DaysOfInt(3)), "the hold survives the rollover")
	assert.True(t, old.Available().IsZero())
}

func TestRollover_MissingLeaveTypeCollected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateBalance(ctx, leave.Balance{
		EmployeeID:  "emp-1",
		LeaveTypeID: "orphan",
		Year:        2026,
		Accrued:     leave.DaysOfInt(4),
	}))

	report, err := f.runner.Rollover(ctx, 2026)
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, leave.LeaveTypeID("orphan"), report.Errors[0].LeaveTypeID)
}
