/*
Package leave is the shared kernel of the leave balance and accrual engine.

PURPOSE:
  This package contains the domain types and repository interfaces shared by
  every component: the balance ledger, the request lifecycle, the validation
  engine, the accrual runner, and the catalog.

KEY CONCEPTS IN THIS FILE (types.go):
  - Days: a decimal day quantity (accrual rates like 1.25 need exact math)
  - Balance: the per (employee, leave type, year) ledger entry
  - Movement: an immutable record of a single balance mutation
  - Request: a leave request moving through the lifecycle state machine

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all day amounts, never float64
  2. Auditability: every balance change appends a Movement
  3. Type Safety: distinct ID types for employees, leave types, policies
  4. Atomicity: balances carry a Version for compare-and-swap updates

SEE ALSO:
  - catalog.go: LeaveType, LeavePolicy, Assignment
  - store.go: repository interfaces
  - errors.go: the closed set of domain error kinds
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAYS - Decimal day quantity
// =============================================================================

// Days is a quantity of leave days. The zero value is zero days.
type Days struct {
	v decimal.Decimal
}

func DaysOf(value float64) Days { return Days{v: decimal.NewFromFloat(value)} }
func DaysOfInt(value int) Days  { return Days{v: decimal.NewFromInt(int64(value))} }
func ZeroDays() Days            { return Days{} }

// ParseDays parses a decimal string such as "1.25".
func ParseDays(s string) (Days, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Days{}, err
	}
	return Days{v: d}, nil
}

func (d Days) Add(o Days) Days            { return Days{v: d.v.Add(o.v)} }
func (d Days) Sub(o Days) Days            { return Days{v: d.v.Sub(o.v)} }
func (d Days) Neg() Days                  { return Days{v: d.v.Neg()} }
func (d Days) Abs() Days                  { return Days{v: d.v.Abs()} }
func (d Days) MulInt(n int) Days          { return Days{v: d.v.Mul(decimal.NewFromInt(int64(n)))} }
func (d Days) Mul(f decimal.Decimal) Days { return Days{v: d.v.Mul(f)} }
func (d Days) IsZero() bool               { return d.v.IsZero() }
func (d Days) IsNegative() bool           { return d.v.IsNegative() }
func (d Days) IsPositive() bool           { return d.v.IsPositive() }
func (d Days) Equal(o Days) bool          { return d.v.Equal(o.v) }
func (d Days) GreaterThan(o Days) bool    { return d.v.GreaterThan(o.v) }
func (d Days) LessThan(o Days) bool       { return d.v.LessThan(o.v) }
func (d Days) Round(places int32) Days    { return Days{v: d.v.Round(places)} }
func (d Days) String() string             { return d.v.String() }
func (d Days) Decimal() decimal.Decimal   { return d.v }

func (d Days) Min(o Days) Days {
	if d.LessThan(o) {
		return d
	}
	return o
}

func (d Days) Max(o Days) Days {
	if d.GreaterThan(o) {
		return d
	}
	return o
}

func (d Days) Float64() float64 {
	f, _ := d.v.Float64()
	return f
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type PolicyID string
type RequestID string
type MovementID string

// =============================================================================
// BALANCE - The ledger entry, keyed by (employee, leave type, year)
// =============================================================================

// BalanceKey identifies a single ledger entry.
type BalanceKey struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
}

// Balance is the per-employee, per-leave-type, per-year ledger entry.
//
// INVARIANTS (hold before and after every mutation):
//   - Available() >= 0
//   - Accrued >= 0, Used >= 0, Reserved >= 0
//
// Mutations are deltas applied under a compare-and-swap on Version, never
// blind overwrites. Entries are never deleted; a year-end rollover opens the
// next year's entry and drains this one.
type Balance struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int

	Accrued   Days // earned entitlement (includes carryover seed)
	Used      Days // irrevocably consumed by approved requests
	Reserved  Days // tentatively held by pending requests
	Forfeited Days // removed at caps and year boundaries, audit-visible

	Version   int // optimistic concurrency token
	UpdatedAt time.Time
}

func (b Balance) Key() BalanceKey {
	return BalanceKey{EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID, Year: b.Year}
}

// Available is the derived quantity a new request may draw on.
func (b Balance) Available() Days {
	return b.Accrued.Sub(b.Used).Sub(b.Reserved)
}

// CheckInvariants reports whether the entry satisfies the ledger invariants.
func (b Balance) CheckInvariants() bool {
	return !b.Available().IsNegative() &&
		!b.Accrued.IsNegative() &&
		!b.Used.IsNegative() &&
		!b.Reserved.IsNegative()
}

// =============================================================================
// MOVEMENT - Immutable record of one balance mutation
// =============================================================================

type MovementKind string

const (
	MovementAccrual    MovementKind = "accrual"    // scheduler credit, Delta > 0 on Accrued
	MovementCredit     MovementKind = "credit"     // onboarding seed or manual increase, on Accrued
	MovementDebit      MovementKind = "debit"      // manual decrease, Delta < 0 on Accrued
	MovementAdjustment MovementKind = "adjustment" // HR override, signed, on Accrued
	MovementCarryover  MovementKind = "carryover"  // year boundary transfer, signed, on Accrued
	MovementForfeit    MovementKind = "forfeit"    // Delta < 0 on Accrued, |Delta| added to Forfeited
	MovementReserve    MovementKind = "reserve"    // Delta > 0 on Reserved
	MovementRelease    MovementKind = "release"    // Delta < 0 on Reserved
	MovementCommit     MovementKind = "commit"     // Delta > 0 moved Reserved -> Used
	MovementReinstate  MovementKind = "reinstate"  // Delta < 0 on Used (approved request cancelled)
)

// Movement is an append-only ledger record. The movement log is the audit
// trail; replaying it must reproduce the balance entry exactly (see Replay).
type Movement struct {
	ID          MovementID
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
	Delta       Days
	Kind        MovementKind
	RequestID   RequestID // empty unless tied to a request transition
	Reason      string
	ActorID     string // "system" for scheduler movements
	CreatedAt   time.Time
}

// Replay rebuilds a balance entry from its movement history.
// Used for reconciliation and by tests to verify the movement log is a
// faithful account of every mutation.
func Replay(key BalanceKey, movements []Movement) Balance {
	b := Balance{EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Year: key.Year}
	for _, m := range movements {
		switch m.Kind {
		case MovementAccrual, MovementCredit, MovementDebit, MovementAdjustment, MovementCarryover:
			b.Accrued = b.Accrued.Add(m.Delta)
		case MovementForfeit:
			b.Accrued = b.Accrued.Add(m.Delta)
			b.Forfeited = b.Forfeited.Add(m.Delta.Abs())
		case MovementReserve, MovementRelease:
			b.Reserved = b.Reserved.Add(m.Delta)
		case MovementCommit:
			b.Reserved = b.Reserved.Sub(m.Delta)
			b.Used = b.Used.Add(m.Delta)
		case MovementReinstate:
			b.Used = b.Used.Add(m.Delta)
		}
	}
	return b
}

// MovementFilter narrows movement log queries. Nil fields match everything.
type MovementFilter struct {
	EmployeeID  *EmployeeID
	LeaveTypeID *LeaveTypeID
	Year        *int
	Kinds       []MovementKind
}

// =============================================================================
// REQUEST - Leave request lifecycle entity
// =============================================================================

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestDenied    RequestStatus = "denied"
	RequestCancelled RequestStatus = "cancelled"
)

// Request is a leave request owned by the submitting employee.
// Pending -> Approved | Denied | Cancelled; Approved -> Cancelled (future
// start or HR override only). Denied and Cancelled are terminal.
type Request struct {
	ID          RequestID
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID

	StartDate Date
	EndDate   Date

	// Working days in [StartDate, EndDate], excluding weekends and holidays.
	DaysRequested Days

	Status       RequestStatus
	ApproverID   string
	Reason       string
	DecisionNote string

	SubmittedAt time.Time
	DecidedAt   *time.Time
}

// Terminal reports whether the request can no longer transition.
func (r Request) Terminal() bool {
	return r.Status == RequestDenied || r.Status == RequestCancelled
}

// Year is the ledger year the request draws on, derived from its start date.
func (r Request) Year() int { return r.StartDate.Year() }

// Overlaps reports whether [start, end] intersects the request's range.
func (r Request) Overlaps(start, end Date) bool {
	return !r.EndDate.Before(start) && !end.Before(r.StartDate)
}

// BalanceKey returns the ledger entry this request draws on.
func (r Request) BalanceKey() BalanceKey {
	return BalanceKey{EmployeeID: r.EmployeeID, LeaveTypeID: r.LeaveTypeID, Year: r.Year()}
}

// RequestFilter narrows request listings. Nil fields match everything.
type RequestFilter struct {
	EmployeeID  *EmployeeID
	LeaveTypeID *LeaveTypeID
	Status      *RequestStatus
	From        *Date // requests ending on or after
	To          *Date // requests starting on or before
}

// =============================================================================
// EMPLOYEE - Read-only snapshot from the external directory
// =============================================================================

// Employee is the directory record consumed for onboarding and policy
// applicability. The engine never writes to the directory.
type Employee struct {
	ID         EmployeeID
	Name       string
	Department string
	Role       string
	ManagerID  string
	HireDate   Date
}

// TenureMonths is whole months of service as of the given date.
func (e Employee) TenureMonths(asOf Date) int {
	months := (asOf.Year()-e.HireDate.Year())*12 + int(asOf.Month()) - int(e.HireDate.Month())
	if asOf.Day() < e.HireDate.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
