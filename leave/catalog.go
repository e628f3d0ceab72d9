/*
catalog.go - Leave types, policies, and policy assignments

PURPOSE:
  Reference data for the engine. A LeaveType defines one kind of leave and
  its caps; a LeavePolicy bundles accrual rules for a cohort of employees;
  an Assignment binds one employee to one policy rule per leave type.

IMMUTABILITY:
  Leave types referenced by ledger entries are never deleted, only
  soft-deactivated. Deactivation does not retroactively alter balances.

APPLICABILITY:
  A policy applies to an employee when the employee's role and department
  are in the policy's sets (empty set = any) and tenure meets the minimum.
*/
package leave

import "time"

// =============================================================================
// LEAVE TYPE
// =============================================================================

type LeaveType struct {
	ID                   LeaveTypeID
	Name                 string
	IsPaid               bool
	AccrualRatePerPeriod Days // default rate; a policy rule may override
	MaxCarryoverDays     Days
	RequiresApproval     bool
	Active               bool
	CreatedAt            time.Time
}

// =============================================================================
// ACCRUAL PERIOD
// =============================================================================

type AccrualPeriod string

const (
	PeriodMonthly  AccrualPeriod = "monthly"
	PeriodBiweekly AccrualPeriod = "biweekly"
	PeriodWeekly   AccrualPeriod = "weekly"
)

// next returns the end of the period starting at t.
func (p AccrualPeriod) next(t time.Time) time.Time {
	switch p {
	case PeriodWeekly:
		return t.AddDate(0, 0, 7)
	case PeriodBiweekly:
		return t.AddDate(0, 0, 14)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// PeriodsSince counts whole accrual periods elapsed between last and now,
// returning the count and the boundary the caller should record as the new
// last-accrual time. A zero count leaves the boundary unchanged.
func (p AccrualPeriod) PeriodsSince(last, now time.Time) (int, time.Time) {
	count := 0
	cursor := last
	for {
		boundary := p.next(cursor)
		if boundary.After(now) {
			return count, cursor
		}
		cursor = boundary
		count++
	}
}

// =============================================================================
// LEAVE POLICY
// =============================================================================

// Applicability is the cohort predicate for a policy. Empty sets match any
// role or department.
type Applicability struct {
	Roles           []string
	Departments     []string
	MinTenureMonths int
}

func (a Applicability) Matches(e Employee, asOf Date) bool {
	if len(a.Roles) > 0 && !contains(a.Roles, e.Role) {
		return false
	}
	if len(a.Departments) > 0 && !contains(a.Departments, e.Department) {
		return false
	}
	return e.TenureMonths(asOf) >= a.MinTenureMonths
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// PolicyRule grants one leave type under a policy.
type PolicyRule struct {
	LeaveTypeID     LeaveTypeID
	AccrualRate     Days // earned per accrual period
	AnnualAllotment Days // full-year entitlement, also the accrual ceiling base
	MinNoticeDays   int  // minimum working notice before the start date
	NoticeMandatory bool // true: short notice is an error, not a warning
}

// LeavePolicy bundles ordered rules for a cohort.
type LeavePolicy struct {
	ID            PolicyID
	Name          string
	Applicability Applicability
	Rules         []PolicyRule
	AccrualPeriod AccrualPeriod
	IsDefault     bool
	IsActive      bool
	CreatedAt     time.Time
}

// RuleFor returns the rule granting the given leave type, if any.
func (p LeavePolicy) RuleFor(leaveTypeID LeaveTypeID) (PolicyRule, bool) {
	for _, r := range p.Rules {
		if r.LeaveTypeID == leaveTypeID {
			return r, true
		}
	}
	return PolicyRule{}, false
}

// =============================================================================
// ASSIGNMENT - Active policy binding for one employee and leave type
// =============================================================================

// Assignment binds an employee to a policy for a single leave type.
// Invariant: at most one active assignment per (employee, leave type);
// assigning a new policy closes the previous assignment first.
type Assignment struct {
	ID          string
	EmployeeID  EmployeeID
	PolicyID    PolicyID
	LeaveTypeID LeaveTypeID

	EffectiveFrom Date
	EffectiveTo   *Date // nil = active

	// LastAccrualAt is the boundary up to which accrual has been credited.
	LastAccrualAt time.Time
}

func (a Assignment) IsActive(at Date) bool {
	if at.Before(a.EffectiveFrom) {
		return false
	}
	return a.EffectiveTo == nil || !at.After(*a.EffectiveTo)
}
