package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "leave_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBalance() leave.Balance {
	return leave.Balance{
		EmployeeID:  "emp-1",
		LeaveTypeID: "vacation",
		Year:        2026,
		Accrued:     leave.DaysOf(12.5),
		Used:        leave.DaysOfInt(3),
		Version:     1,
		UpdatedAt:   time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// BALANCE TESTS
// =============================================================================

func TestSQLite_BalanceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := testBalance()
	require.NoError(t, s.CreateBalance(ctx, b))

	got, err := s.GetBalance(ctx, b.Key())
	require.NoError(t, err)
	assert.Equal(t, "12.5", got.Accrued.String(), "decimal amounts survive the round trip exactly")
	assert.True(t, got.Used.Equal(leave.DaysOfInt(3)))
	assert.Equal(t, 1, got.Version)
}

func TestSQLite_GetBalance_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBalance(context.Background(), leave.BalanceKey{
		EmployeeID: "emp-ghost", LeaveTypeID: "vacation", Year: 2026,
	})
	assert.True(t, leave.IsNotFound(err))
}

func TestSQLite_CreateBalance_DuplicateKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateBalance(ctx, testBalance()))

	err := s.CreateBalance(ctx, testBalance())
	assert.True(t, leave.IsConflict(err))
}

func TestSQLite_UpdateBalance_CAS(t *testing.T) {
	// GIVEN: Two readers hold version 1
	// WHEN: Both write
	// THEN: The first succeeds and bumps the version; the second gets a
	//       version conflict

	s := newTestStore(t)
	ctx := context.Background()
	b := testBalance()
	require.NoError(t, s.CreateBalance(ctx, b))

	first := b
	first.Used = leave.DaysOfInt(5)
	require.NoError(t, s.UpdateBalance(ctx, first))

	stale := b
	stale.Used = leave.DaysOfInt(4)
	err := s.UpdateBalance(ctx, stale)
	assert.ErrorIs(t, err, leave.ErrVersionConflict)

	got, err := s.GetBalance(ctx, b.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.True(t, got.Used.Equal(leave.DaysOfInt(5)), "the losing write must not land")
}

func TestSQLite_UpdateBalance_MissingRow(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateBalance(context.Background(), testBalance())
	assert.True(t, leave.IsNotFound(err), "a missing row is not a version conflict")
}

func TestSQLite_ApplyMutation_WritesBalanceAndMovements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := testBalance()
	require.NoError(t, s.CreateBalance(ctx, b))

	b.Reserved = leave.DaysOfInt(5)
	require.NoError(t, s.ApplyMutation(ctx, b, []leave.Movement{{
		ID: "m-1", EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2026,
		Delta: leave.DaysOfInt(5), Kind: leave.MovementReserve, ActorID: "emp-1",
		CreatedAt: time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC),
	}}))

	got, err := s.GetBalance(ctx, b.Key())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.True(t, got.Reserved.Equal(leave.DaysOfInt(5)))

	movements, err := s.ListMovements(ctx, leave.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, leave.MovementReserve, movements[0].Kind)
}

func TestSQLite_ApplyMutation_RollsBackWhenMovementFails(t *testing.T) {
	// GIVEN: A movement insert that fails on a duplicate ID
	// WHEN: Applying a balance mutation carrying it
	// THEN: The whole write rolls back; the balance keeps its old state and
	//       version and the log gains nothing

	s := newTestStore(t)
	ctx := context.Background()
	b := testBalance()
	require.NoError(t, s.CreateBalance(ctx, b))
	require.NoError(t, s.AppendMovement(ctx, leave.Movement{
		ID: "m-dup", EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2026,
		Delta: leave.DaysOf(12.5), Kind: leave.MovementCredit, ActorID: "hr-1",
		CreatedAt: time.Date(2026, time.January, 2, 9, 0, 0, 0, time.UTC),
	}))

	mutated := b
	mutated.Reserved = leave.DaysOfInt(5)
	err := s.ApplyMutation(ctx, mutated, []leave.Movement{{
		ID: "m-dup", EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2026,
		Delta: leave.DaysOfInt(5), Kind: leave.MovementReserve, ActorID: "emp-1",
		CreatedAt: time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC),
	}})
	require.Error(t, err)

	got, err := s.GetBalance(ctx, b.Key())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version, "the balance write must roll back with the movement")
	assert.True(t, got.Reserved.IsZero())

	movements, err := s.ListMovements(ctx, leave.MovementFilter{})
	require.NoError(t, err)
	assert.Len(t, movements, 1, "only the pre-existing movement remains")
}

func TestSQLite_ApplyMutation_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := testBalance()
	require.NoError(t, s.CreateBalance(ctx, b))

	first := b
	first.Used = leave.DaysOfInt(5)
	require.NoError(t, s.ApplyMutation(ctx, first, nil))

	stale := b
	stale.Used = leave.DaysOfInt(4)
	err := s.ApplyMutation(ctx, stale, []leave.Movement{{
		ID: "m-stale", EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2026,
		Delta: leave.DaysOfInt(1), Kind: leave.MovementCommit, ActorID: "mgr-1",
		CreatedAt: time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC),
	}})
	assert.ErrorIs(t, err, leave.ErrVersionConflict)

	movements, err := s.ListMovements(ctx, leave.MovementFilter{})
	require.NoError(t, err)
	assert.Empty(t, movements, "a losing write appends nothing")
}

func TestSQLite_BalancesForEmployee(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, b := range []leave.Balance{
		{EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2025, Accrued: leave.DaysOfInt(5), Version: 1},
		{EmployeeID: "emp-1", LeaveTypeID: "vacation", Year: 2026, Accrued: leave.DaysOfInt(10), Version: 1},
		{EmployeeID: "emp-1", LeaveTypeID: "sick", Year: 2026, Accrued: leave.DaysOfInt(8), Version: 1},
		{EmployeeID: "emp-2", LeaveTypeID: "vacation", Year: 2026, Accrued: leave.DaysOfInt(7), Version: 1},
	} {
		require.NoError(t, s.CreateBalance(ctx, b))
	}

	all, err := s.BalancesForEmployee(ctx, "emp-1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	year := 2026
	scoped, err := s.BalancesForEmployee(ctx, "emp-1", &year)
	require.NoError(t, err)
	assert.Len(t, scoped, 2)

	forYear, err := s.BalancesForYear(ctx, 2026)
	require.NoError(t, err)
	assert.Len(t, forYear, 3)
}

// =============================================================================
// MOVEMENT TESTS
// =============================================================================

func TestSQLite_MovementsAppendOnlyOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)
	for i, kind := range []leave.MovementKind{leave.MovementCredit, leave.MovementReserve, leave.MovementCommit} {
		require.NoError(t, s.AppendMovement(ctx, leave.Movement{
			ID:          leave.MovementID(string(rune('a' + i))),
			EmployeeID:  "emp-1",
			LeaveTypeID: "vacation",
			Year:        2026,
			Delta:       leave.DaysOfInt(i + 1),
			Kind:        kind,
			ActorID:     "emp-1",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}

	movements, err := s.ListMovements(ctx, leave.MovementFilter{})
	require.NoError(t, err)
	require.Len(t, movements, 3)
	assert.Equal(t, leave.MovementCredit, movements[0].Kind, "oldest first")
	assert.Equal(t, leave.MovementCommit, movements[2].Kind)

	kind := leave.MovementReserve
	filtered, err := s.ListMovements(ctx, leave.MovementFilter{Kinds: []leave.MovementKind{kind}})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.True(t, filtered[0].Delta.Equal(leave.DaysOfInt(2)))
}

// =============================================================================
// REQUEST TESTS
// =============================================================================

func testRequest(id leave.RequestID) leave.Request {
	return leave.Request{
		ID:            id,
		EmployeeID:    "emp-1",
		LeaveTypeID:   "vacation",
		StartDate:     leave.NewDate(2026, time.March, 10),
		EndDate:       leave.NewDate(2026, time.March, 13),
		DaysRequested: leave.DaysOfInt(4),
		Status:        leave.RequestPending,
		Reason:        "trip",
		SubmittedAt:   time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_RequestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRequest(ctx, testRequest("req-1")))

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.RequestPending, got.Status)
	assert.Equal(t, "2026-03-10", got.StartDate.String())
	assert.True(t, got.DaysRequested.Equal(leave.DaysOfInt(4)))
	assert.Nil(t, got.DecidedAt)
}

func TestSQLite_UpdateRequest_ConditionalOnStatus(t *testing.T) {
	// The status precondition is the decision serialization point: the
	// second decider must lose with a version conflict.

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRequest(ctx, testRequest("req-1")))

	decided := testRequest("req-1")
	now := time.Date(2026, time.January, 6, 10, 0, 0, 0, time.UTC)
	decided.Status = leave.RequestApproved
	decided.ApproverID = "mgr-1"
	decided.DecidedAt = &now
	require.NoError(t, s.UpdateRequest(ctx, decided, leave.RequestPending))

	loser := testRequest("req-1")
	loser.Status = leave.RequestDenied
	err := s.UpdateRequest(ctx, loser, leave.RequestPending)
	assert.ErrorIs(t, err, leave.ErrVersionConflict)

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.RequestApproved, got.Status)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, got.DecidedAt.Equal(now))
}

func TestSQLite_UpdateRequest_MissingRow(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateRequest(context.Background(), testRequest("req-ghost"), leave.RequestPending)
	assert.True(t, leave.IsNotFound(err))
}

func TestSQLite_OverlappingRequests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRequest(ctx, testRequest("req-1"))) // Mar 10-13 pending

	denied := testRequest("req-2")
	denied.Status = leave.RequestDenied
	require.NoError(t, s.CreateRequest(ctx, denied))

	overlapping, err := s.OverlappingRequests(ctx, "emp-1", "vacation",
		leave.NewDate(2026, time.March, 13), leave.NewDate(2026, time.March, 20))
	require.NoError(t, err)
	require.Len(t, overlapping, 1, "terminal requests do not block")
	assert.Equal(t, leave.RequestID("req-1"), overlapping[0].ID)

	clear, err := s.OverlappingRequests(ctx, "emp-1", "vacation",
		leave.NewDate(2026, time.March, 14), leave.NewDate(2026, time.March, 20))
	require.NoError(t, err)
	assert.Empty(t, clear)
}

func TestSQLite_CreateRequest_OverlapExclusion(t *testing.T) {
	// The insert checks for overlapping non-terminal requests in the same
	// transaction, closing the window between validation and create.

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRequest(ctx, testRequest("req-1"))) // Mar 10-13 pending

	dup := testRequest("req-2")
	dup.StartDate = leave.NewDate(2026, time.March, 13)
	dup.EndDate = leave.NewDate(2026, time.March, 16)
	err := s.CreateRequest(ctx, dup)
	assert.True(t, leave.IsConflict(err), "an edge-touching pending rival blocks the insert")

	clear := testRequest("req-3")
	clear.StartDate = leave.NewDate(2026, time.March, 16)
	clear.EndDate = leave.NewDate(2026, time.March, 18)
	require.NoError(t, s.CreateRequest(ctx, clear))

	otherType := testRequest("req-4")
	otherType.LeaveTypeID = "sick"
	require.NoError(t, s.CreateRequest(ctx, otherType), "overlap is scoped to the leave type")
}

func TestSQLite_ListRequests_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRequest(ctx, testRequest("req-1")))
	other := testRequest("req-2")
	other.EmployeeID = "emp-2"
	other.Status = leave.RequestApproved
	require.NoError(t, s.CreateRequest(ctx, other))

	employee := leave.EmployeeID("emp-1")
	byEmployee, err := s.ListRequests(ctx, leave.RequestFilter{EmployeeID: &employee})
	require.NoError(t, err)
	assert.Len(t, byEmployee, 1)

	status := leave.RequestApproved
	byStatus, err := s.ListRequests(ctx, leave.RequestFilter{Status: &status})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, leave.RequestID("req-2"), byStatus[0].ID)
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestSQLite_PolicyRoundTrip(t *testing.T) {
	// Rules and applicability live in JSON columns; amounts must come back
	// as exact decimals.

	s := newTestStore(t)
	ctx := context.Background()
	p := leave.LeavePolicy{
		ID:   "pol-1",
		Name: "Standard",
		Applicability: leave.Applicability{
			Roles:           []string{"engineer"},
			Departments:     []string{"platform"},
			MinTenureMonths: 3,
		},
		Rules: []leave.PolicyRule{{
			LeaveTypeID:     "vacation",
			AccrualRate:     leave.DaysOf(1.25),
			AnnualAllotment: leave.DaysOfInt(24),
			MinNoticeDays:   14,
			NoticeMandatory: true,
		}},
		AccrualPeriod: leave.PeriodMonthly,
		IsDefault:     true,
		IsActive:      true,
		CreatedAt:     time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreatePolicy(ctx, p))

	got, err := s.GetPolicy(ctx, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"engineer"}, got.Applicability.Roles)
	assert.Equal(t, 3, got.Applicability.MinTenureMonths)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, "1.25", got.Rules[0].AccrualRate.String())
	assert.True(t, got.Rules[0].NoticeMandatory)
	assert.Equal(t, leave.PeriodMonthly, got.AccrualPeriod)
}

func TestSQLite_ActiveLeaveTypeByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lt := leave.LeaveType{ID: "vacation", Name: "Vacation", Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateLeaveType(ctx, lt))

	_, found, err := s.ActiveLeaveTypeByName(ctx, "Vacation")
	require.NoError(t, err)
	assert.True(t, found)

	lt.Active = false
	require.NoError(t, s.UpdateLeaveType(ctx, lt))
	_, found, err = s.ActiveLeaveTypeByName(ctx, "Vacation")
	require.NoError(t, err)
	assert.False(t, found, "deactivated types free their name")
}

// =============================================================================
// ASSIGNMENT TESTS
// =============================================================================

func TestSQLite_AssignmentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := leave.Assignment{
		ID:            "asg-1",
		EmployeeID:    "emp-1",
		PolicyID:      "pol-1",
		LeaveTypeID:   "vacation",
		EffectiveFrom: leave.NewDate(2026, time.January, 1),
		LastAccrualAt: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveAssignment(ctx, a))

	active, err := s.ActiveAssignments(ctx, "emp-1", leave.NewDate(2026, time.June, 1))
	require.NoError(t, err)
	require.Len(t, active, 1)

	// Save is an upsert: advancing the boundary rewrites the same row.
	a.LastAccrualAt = time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveAssignment(ctx, a))
	active, err = s.ActiveAssignments(ctx, "emp-1", leave.NewDate(2026, time.June, 1))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.LastAccrualAt, active[0].LastAccrualAt)

	require.NoError(t, s.CloseAssignment(ctx, "asg-1", leave.NewDate(2026, time.May, 31)))
	active, err = s.ActiveAssignments(ctx, "emp-1", leave.NewDate(2026, time.June, 1))
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.AllActiveAssignments(ctx, leave.NewDate(2026, time.March, 1))
	require.NoError(t, err)
	assert.Len(t, all, 1, "the closed assignment still answers before its end date")
}

// =============================================================================
// EMPLOYEE AND HOLIDAY TESTS
// =============================================================================

func TestSQLite_EmployeeUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := leave.Employee{
		ID: "emp-1", Name: "Sam Doe", Department: "platform", Role: "engineer",
		HireDate: leave.NewDate(2024, time.June, 1),
	}
	require.NoError(t, s.UpsertEmployee(ctx, e))

	e.Department = "infra"
	require.NoError(t, s.UpsertEmployee(ctx, e))

	got, err := s.GetEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "infra", got.Department)
	assert.Equal(t, "2024-06-01", got.HireDate.String())
}

func TestSQLite_Holidays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveHoliday(ctx, leave.Holiday{
		ID: "xmas", Date: leave.NewDate(2026, time.December, 25), Name: "Christmas", Recurring: true,
	}))

	holidays, err := s.ListHolidays(ctx)
	require.NoError(t, err)
	require.Len(t, holidays, 1)
	assert.True(t, holidays[0].Recurring)
}
