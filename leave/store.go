/*
store.go - Repository interfaces between the engine and persistence

PURPOSE:
  Every component takes these interfaces, never a concrete database. The
  engine ships three implementations with identical semantics:

    store/memory:   in-memory, for tests and development
    store/sqlite:   SQLite via mattn/go-sqlite3
    store/postgres: PostgreSQL via jackc/pgx/v5

CONCURRENCY CONTRACT:
  UpdateBalance is a compare-and-swap: it succeeds only when the stored
  Version equals the caller's copy, then increments it. Two concurrent
  mutations of the same (employee, leave type, year) entry cannot both
  observe a stale Available. UpdateRequest is conditional on the expected
  status for the same reason. The movement log is append-only: no update,
  no delete, ever.
*/
package leave

import "context"

// =============================================================================
// BALANCE STORE
// =============================================================================

type BalanceStore interface {
	// GetBalance returns the entry or a NotFoundError.
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)

	// CreateBalance inserts a fresh entry with Version 1.
	// Returns a ConflictError if the key already exists.
	CreateBalance(ctx context.Context, b Balance) error

	// UpdateBalance applies b only if the stored Version matches b.Version,
	// then increments it. Returns ErrVersionConflict on a stale copy.
	UpdateBalance(ctx context.Context, b Balance) error

	// ApplyMutation performs UpdateBalance and appends movs in the same
	// critical section. Either the balance row and every movement land
	// together or nothing is written, so a failed mutation never leaves the
	// movement log out of step with the entry.
	ApplyMutation(ctx context.Context, b Balance, movs []Movement) error

	// BalancesForEmployee returns entries for one employee, optionally
	// limited to a year (nil = all years).
	BalancesForEmployee(ctx context.Context, employeeID EmployeeID, year *int) ([]Balance, error)

	// BalancesForYear returns every entry for a year. Used by the rollover.
	BalancesForYear(ctx context.Context, year int) ([]Balance, error)
}

// =============================================================================
// MOVEMENT STORE - Append-only
// =============================================================================

type MovementStore interface {
	// AppendMovement records a movement. This is the ONLY write operation.
	AppendMovement(ctx context.Context, m Movement) error

	// ListMovements returns movements matching the filter, oldest first.
	ListMovements(ctx context.Context, f MovementFilter) ([]Movement, error)
}

// =============================================================================
// REQUEST STORE
// =============================================================================

type RequestStore interface {
	// CreateRequest inserts a request. Returns a ConflictError when the ID
	// already exists, or when a non-terminal request for the same employee
	// and leave type overlaps [StartDate, EndDate]; the overlap check runs
	// in the same critical section as the insert, so two racing submissions
	// cannot both land.
	CreateRequest(ctx context.Context, r Request) error

	// GetRequest returns the request or a NotFoundError.
	GetRequest(ctx context.Context, id RequestID) (Request, error)

	// UpdateRequest applies r only if the stored status equals expect.
	// Returns ErrVersionConflict when another transition won the race.
	UpdateRequest(ctx context.Context, r Request, expect RequestStatus) error

	// ListRequests returns requests matching the filter, newest first.
	ListRequests(ctx context.Context, f RequestFilter) ([]Request, error)

	// OverlappingRequests returns non-terminal requests for the employee and
	// leave type whose date range intersects [start, end].
	OverlappingRequests(ctx context.Context, employeeID EmployeeID, leaveTypeID LeaveTypeID, start, end Date) ([]Request, error)
}

// =============================================================================
// CATALOG STORE
// =============================================================================

type CatalogStore interface {
	CreateLeaveType(ctx context.Context, lt LeaveType) error
	GetLeaveType(ctx context.Context, id LeaveTypeID) (LeaveType, error)
	UpdateLeaveType(ctx context.Context, lt LeaveType) error
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)

	// ActiveLeaveTypeByName returns the active type with the name, if any.
	// Name uniqueness is enforced among active entries only.
	ActiveLeaveTypeByName(ctx context.Context, name string) (LeaveType, bool, error)

	CreatePolicy(ctx context.Context, p LeavePolicy) error
	GetPolicy(ctx context.Context, id PolicyID) (LeavePolicy, error)
	UpdatePolicy(ctx context.Context, p LeavePolicy) error
	ListPolicies(ctx context.Context) ([]LeavePolicy, error)
	ActivePolicyByName(ctx context.Context, name string) (LeavePolicy, bool, error)
}

// =============================================================================
// ASSIGNMENT STORE
// =============================================================================

type AssignmentStore interface {
	SaveAssignment(ctx context.Context, a Assignment) error

	// ActiveAssignments returns the employee's assignments active at the date.
	ActiveAssignments(ctx context.Context, employeeID EmployeeID, at Date) ([]Assignment, error)

	// AllActiveAssignments returns every assignment active at the date.
	// The accrual batch iterates this.
	AllActiveAssignments(ctx context.Context, at Date) ([]Assignment, error)

	// CloseAssignment sets EffectiveTo on an open assignment.
	CloseAssignment(ctx context.Context, id string, to Date) error
}

// =============================================================================
// HOLIDAY STORE
// =============================================================================

type HolidayStore interface {
	SaveHoliday(ctx context.Context, h Holiday) error
	ListHolidays(ctx context.Context) ([]Holiday, error)
}

// =============================================================================
// EMPLOYEE DIRECTORY - External collaborator, read-only
// =============================================================================

// EmployeeDirectory supplies employee records for onboarding and
// applicability checks. Identity and role checks happen upstream; the
// engine trusts the IDs it is handed.
type EmployeeDirectory interface {
	// GetEmployee returns the record or a NotFoundError.
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
}

// EmployeeDirectoryWriter maintains the local directory snapshot. The
// engine itself never calls this; it exists for the sync job that mirrors
// the upstream directory, and for seeding dev and demo deployments.
type EmployeeDirectoryWriter interface {
	UpsertEmployee(ctx context.Context, e Employee) error
}

// =============================================================================
// STORE - Everything a deployment needs, satisfied by each driver
// =============================================================================

type Store interface {
	BalanceStore
	MovementStore
	RequestStore
	CatalogStore
	AssignmentStore
	HolidayStore
	EmployeeDirectory
	EmployeeDirectoryWriter
}
