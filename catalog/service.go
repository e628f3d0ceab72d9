/*
Package catalog manages the engine's reference data: leave types and leave
policies, plus the assignment of policies to employees at onboarding or
role change.

Catalog writes are rare and HR-gated (the permission check happens in the
caller's authorization layer, not here). Names are unique among ACTIVE
entries only; deactivated entries keep their names and are never deleted,
so historic ledger entries always resolve.
*/
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
)

type Service struct {
	Store       leave.CatalogStore
	Assignments leave.AssignmentStore
	Directory   leave.EmployeeDirectory
	Ledger      *ledger.Service

	Clock func() time.Time
}

func New(store leave.Store, lg *ledger.Service) *Service {
	return &Service{
		Store:       store,
		Assignments: store,
		Directory:   store,
		Ledger:      lg,
		Clock:       time.Now,
	}
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func (s *Service) CreateLeaveType(ctx context.Context, lt leave.LeaveType) (leave.LeaveType, error) {
	if err := validateLeaveType(lt); err != nil {
		return leave.LeaveType{}, err
	}
	if _, exists, err := s.Store.ActiveLeaveTypeByName(ctx, lt.Name); err != nil {
		return leave.LeaveType{}, err
	} else if exists {
		return leave.LeaveType{}, &leave.ConflictError{Resource: "leave type", Detail: "active leave type named " + lt.Name + " already exists"}
	}

	if lt.ID == "" {
		lt.ID = leave.LeaveTypeID(uuid.NewString())
	}
	lt.Active = true
	lt.CreatedAt = s.Clock()
	if err := s.Store.CreateLeaveType(ctx, lt); err != nil {
		return leave.LeaveType{}, err
	}
	return lt, nil
}

func (s *Service) UpdateLeaveType(ctx context.Context, lt leave.LeaveType) (leave.LeaveType, error) {
	existing, err := s.Store.GetLeaveType(ctx, lt.ID)
	if err != nil {
		return leave.LeaveType{}, err
	}
	if err := validateLeaveType(lt); err != nil {
		return leave.LeaveType{}, err
	}
	if other, exists, err := s.Store.ActiveLeaveTypeByName(ctx, lt.Name); err != nil {
		return leave.LeaveType{}, err
	} else if exists && other.ID != lt.ID {
		return leave.LeaveType{}, &leave.ConflictError{Resource: "leave type", Detail: "active leave type named " + lt.Name + " already exists"}
	}

	lt.Active = existing.Active
	lt.CreatedAt = existing.CreatedAt
	if err := s.Store.UpdateLeaveType(ctx, lt); err != nil {
		return leave.LeaveType{}, err
	}
	return lt, nil
}

// DeactivateLeaveType soft-disables a leave type. Existing ledger entries
// are untouched; the type only stops accruing and accepting new requests.
func (s *Service) DeactivateLeaveType(ctx context.Context, id leave.LeaveTypeID) error {
	lt, err := s.Store.GetLeaveType(ctx, id)
	if err != nil {
		return err
	}
	lt.Active = false
	return s.Store.UpdateLeaveType(ctx, lt)
}

func (s *Service) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	return s.Store.ListLeaveTypes(ctx)
}

func validateLeaveType(lt leave.LeaveType) error {
	if lt.Name == "" {
		return &leave.ValidationError{Field: "name", Message: "name is required"}
	}
	if lt.AccrualRatePerPeriod.IsNegative() {
		return &leave.ValidationError{Field: "accrualRatePerPeriod", Message: "accrual rate must be >= 0"}
	}
	if lt.MaxCarryoverDays.IsNegative() {
		return &leave.ValidationError{Field: "maxCarryoverDays", Message: "carryover cap must be >= 0"}
	}
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (s *Service) CreatePolicy(ctx context.Context, p leave.LeavePolicy) (leave.LeavePolicy, error) {
	if err := s.validatePolicy(ctx, p); err != nil {
		return leave.LeavePolicy{}, err
	}
	if _, exists, err := s.Store.ActivePolicyByName(ctx, p.Name); err != nil {
		return leave.LeavePolicy{}, err
	} else if exists {
		return leave.LeavePolicy{}, &leave.ConflictError{Resource: "policy", Detail: "active policy named " + p.Name + " already exists"}
	}

	if p.ID == "" {
		p.ID = leave.PolicyID(uuid.NewString())
	}
	if p.AccrualPeriod == "" {
		p.AccrualPeriod = leave.PeriodMonthly
	}
	p.IsActive = true
	p.CreatedAt = s.Clock()
	if err := s.Store.CreatePolicy(ctx, p); err != nil {
		return leave.LeavePolicy{}, err
	}
	return p, nil
}

func (s *Service) UpdatePolicy(ctx context.Context, p leave.LeavePolicy) (leave.LeavePolicy, error) {
	existing, err := s.Store.GetPolicy(ctx, p.ID)
	if err != nil {
		return leave.LeavePolicy{}, err
	}
	if err := s.validatePolicy(ctx, p); err != nil {
		return leave.LeavePolicy{}, err
	}
	if other, exists, err := s.Store.ActivePolicyByName(ctx, p.Name); err != nil {
		return leave.LeavePolicy{}, err
	} else if exists && other.ID != p.ID {
		return leave.LeavePolicy{}, &leave.ConflictError{Resource: "policy", Detail: "active policy named " + p.Name + " already exists"}
	}

	if p.AccrualPeriod == "" {
		p.AccrualPeriod = existing.AccrualPeriod
	}
	p.CreatedAt = existing.CreatedAt
	if err := s.Store.UpdatePolicy(ctx, p); err != nil {
		return leave.LeavePolicy{}, err
	}
	return p, nil
}

func (s *Service) ListPolicies(ctx context.Context) ([]leave.LeavePolicy, error) {
	return s.Store.ListPolicies(ctx)
}

func (s *Service) validatePolicy(ctx context.Context, p leave.LeavePolicy) error {
	if p.Name == "" {
		return &leave.ValidationError{Field: "name", Message: "name is required"}
	}
	if len(p.Rules) == 0 {
		return &leave.ValidationError{Field: "rules", Message: "at least one rule is required"}
	}
	seen := make(map[leave.LeaveTypeID]bool)
	for i, r := range p.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if seen[r.LeaveTypeID] {
			return &leave.ValidationError{Field: field, Message: "duplicate rule for leave type " + string(r.LeaveTypeID)}
		}
		seen[r.LeaveTypeID] = true
		if _, err := s.Store.GetLeaveType(ctx, r.LeaveTypeID); err != nil {
			if leave.IsNotFound(err) {
				return &leave.ValidationError{Field: field, Message: "unknown leave type " + string(r.LeaveTypeID)}
			}
			return err
		}
		if r.AccrualRate.IsNegative() {
			return &leave.ValidationError{Field: field, Message: "accrual rate must be >= 0"}
		}
		if r.AnnualAllotment.IsNegative() {
			return &leave.ValidationError{Field: field, Message: "annual allotment must be >= 0"}
		}
		if r.MinNoticeDays < 0 {
			return &leave.ValidationError{Field: field, Message: "minimum notice must be >= 0"}
		}
	}
	switch p.AccrualPeriod {
	case "", leave.PeriodMonthly, leave.PeriodBiweekly, leave.PeriodWeekly:
	default:
		return &leave.ValidationError{Field: "accrualPeriod", Message: "unknown accrual period " + string(p.AccrualPeriod)}
	}
	return nil
}

// =============================================================================
// ASSIGNMENT AND ONBOARDING
// =============================================================================

// AssignPolicy binds every rule of the policy to the employee, closing any
// previously active assignment for the same leave types first. That keeps
// the invariant of exactly one active assignment per (employee, leave type).
func (s *Service) AssignPolicy(ctx context.Context, employeeID leave.EmployeeID, policyID leave.PolicyID, effectiveFrom leave.Date) ([]leave.Assignment, error) {
	policy, err := s.Store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if !policy.IsActive {
		return nil, &leave.ValidationError{Field: "policyId", Message: "policy " + policy.Name + " is not active"}
	}

	existing, err := s.Assignments.ActiveAssignments(ctx, employeeID, effectiveFrom)
	if err != nil {
		return nil, err
	}
	open := make(map[leave.LeaveTypeID]leave.Assignment, len(existing))
	for _, a := range existing {
		open[a.LeaveTypeID] = a
	}

	var created []leave.Assignment
	for _, rule := range policy.Rules {
		if prev, ok := open[rule.LeaveTypeID]; ok {
			if err := s.Assignments.CloseAssignment(ctx, prev.ID, effectiveFrom.AddDays(-1)); err != nil {
				return created, err
			}
		}
		a := leave.Assignment{
			ID:            uuid.NewString(),
			EmployeeID:    employeeID,
			PolicyID:      policy.ID,
			LeaveTypeID:   rule.LeaveTypeID,
			EffectiveFrom: effectiveFrom,
			LastAccrualAt: effectiveFrom.Time(),
		}
		if err := s.Assignments.SaveAssignment(ctx, a); err != nil {
			return created, err
		}
		created = append(created, a)
	}
	return created, nil
}

// OnboardResult reports what onboarding set up for the employee.
type OnboardResult struct {
	Policy      leave.LeavePolicy
	Assignments []leave.Assignment
	Seeded      map[leave.LeaveTypeID]leave.Days
}

// Onboard assigns the applicable default policy and seeds the hire year's
// ledger entries, pro-rated linearly by the remaining fraction of the year.
func (s *Service) Onboard(ctx context.Context, employeeID leave.EmployeeID, hireDate leave.Date) (*OnboardResult, error) {
	emp, err := s.Directory.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if hireDate.IsZero() {
		hireDate = emp.HireDate
	}
	if hireDate.IsZero() {
		return nil, &leave.ValidationError{Field: "hireDate", Message: "hire date is required"}
	}

	policy, err := s.defaultPolicyFor(ctx, emp, hireDate)
	if err != nil {
		return nil, err
	}

	assignments, err := s.AssignPolicy(ctx, employeeID, policy.ID, hireDate)
	if err != nil {
		return nil, err
	}

	year := hireDate.Year()
	remaining := hireDate.DaysUntil(leave.StartOfYear(year + 1))
	fraction := decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(leave.DaysInYear(year))))

	result := &OnboardResult{
		Policy:      policy,
		Assignments: assignments,
		Seeded:      make(map[leave.LeaveTypeID]leave.Days),
	}
	for _, rule := range policy.Rules {
		seed := rule.AnnualAllotment.Mul(fraction).Round(2)
		if !seed.IsPositive() {
			continue
		}
		key := leave.BalanceKey{EmployeeID: employeeID, LeaveTypeID: rule.LeaveTypeID, Year: year}
		reason := fmt.Sprintf("pro-rated initial entitlement (hired %s)", hireDate)
		if err := s.Ledger.Credit(ctx, key, seed, ledger.SystemActor, reason); err != nil {
			return result, err
		}
		result.Seeded[rule.LeaveTypeID] = seed
	}
	return result, nil
}

// defaultPolicyFor picks the active default policy matching the employee's
// role, department, and tenure as of the hire date.
func (s *Service) defaultPolicyFor(ctx context.Context, emp leave.Employee, asOf leave.Date) (leave.LeavePolicy, error) {
	policies, err := s.Store.ListPolicies(ctx)
	if err != nil {
		return leave.LeavePolicy{}, err
	}
	for _, p := range policies {
		if p.IsActive && p.IsDefault && p.Applicability.Matches(emp, asOf) {
			return p, nil
		}
	}
	return leave.LeavePolicy{}, &leave.NotFoundError{Resource: "default policy for employee", ID: string(emp.ID)}
}
