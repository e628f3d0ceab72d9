/*
Package accrual is the periodic batch that grants new entitlement.

PURPOSE:
  For every active policy assignment, compute whole accrual periods elapsed
  since the assignment's last accrual boundary and credit the ledger with
  rate x periods, capped at the rule's annual allotment plus the leave
  type's carryover allowance. Anything above the ceiling is recorded as
  forfeited, never silently dropped.

FAILURE POLICY:
  The batch is deliberately NOT transactional as a whole. Each employee is
  processed independently; one employee's broken policy reference lands in
  the error list and the run continues. The report carries the employee
  count, total days accrued, and the per-employee errors.

CANCELLATION:
  The runner checks the context between employees. It stops early on
  cancellation but never aborts mid-mutation for a single employee.
*/
package accrual

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
)

// EmployeeError is one failed employee/assignment pair in a batch report.
type EmployeeError struct {
	EmployeeID  leave.EmployeeID  `json:"employeeId"`
	LeaveTypeID leave.LeaveTypeID `json:"leaveTypeId,omitempty"`
	Detail      string            `json:"detail"`
}

// Report summarizes one batch run.
type Report struct {
	Processed    int             `json:"processed"`    // employees fully processed
	TotalAccrued leave.Days      `json:"-"`            // exposed via DTO as a number
	Errors       []EmployeeError `json:"errors"`
	StartedAt    time.Time       `json:"startedAt"`
	FinishedAt   time.Time       `json:"finishedAt"`
}

type Runner struct {
	Assignments leave.AssignmentStore
	Catalog     leave.CatalogStore
	Balances    leave.BalanceStore
	Ledger      *ledger.Service
	Logger      *slog.Logger

	Clock func() time.Time
}

func NewRunner(store leave.Store, lg *ledger.Service, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Assignments: store,
		Catalog:     store,
		Balances:    store,
		Ledger:      lg,
		Logger:      logger,
		Clock:       time.Now,
	}
}

// Run executes one accrual pass over all active assignments.
// The returned error is non-nil only when the run could not start or was
// cancelled; per-employee failures are in the report.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	now := r.Clock()
	report := Report{StartedAt: now, Errors: []EmployeeError{}}

	assignments, err := r.Assignments.AllActiveAssignments(ctx, leave.DateOf(now))
	if err != nil {
		return report, err
	}

	byEmployee := make(map[leave.EmployeeID][]leave.Assignment)
	for _, a := range assignments {
		byEmployee[a.EmployeeID] = append(byEmployee[a.EmployeeID], a)
	}
	employees := make([]leave.EmployeeID, 0, len(byEmployee))
	for id := range byEmployee {
		employees = append(employees, id)
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i] < employees[j] })

	for _, employeeID := range employees {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = r.Clock()
			return report, err
		}

		clean := true
		for _, a := range byEmployee[employeeID] {
			credited, err := r.accrueAssignment(ctx, a, now)
			if err != nil {
				clean = false
				report.Errors = append(report.Errors, EmployeeError{
					EmployeeID:  a.EmployeeID,
					LeaveTypeID: a.LeaveTypeID,
					Detail:      err.Error(),
				})
				r.Logger.Warn("accrual failed",
					"employee", a.EmployeeID, "leaveType", a.LeaveTypeID, "err", err)
				continue
			}
			report.TotalAccrued = report.TotalAccrued.Add(credited)
		}
		if clean {
			report.Processed++
		}
	}

	report.FinishedAt = r.Clock()
	r.Logger.Info("accrual batch finished",
		"processed", report.Processed,
		"accrued", report.TotalAccrued.String(),
		"failures", len(report.Errors))
	return report, nil
}

// accrueAssignment credits one employee/leave-type pair and advances its
// accrual boundary. Returns the days actually credited (after the cap).
func (r *Runner) accrueAssignment(ctx context.Context, a leave.Assignment, now time.Time) (leave.Days, error) {
	policy, err := r.Catalog.GetPolicy(ctx, a.PolicyID)
	if err != nil {
		return leave.ZeroDays(), err
	}
	rule, ok := policy.RuleFor(a.LeaveTypeID)
	if !ok {
		return leave.ZeroDays(), &leave.NotFoundError{Resource: "policy rule", ID: string(a.LeaveTypeID)}
	}
	lt, err := r.Catalog.GetLeaveType(ctx, a.LeaveTypeID)
	if err != nil {
		return leave.ZeroDays(), err
	}
	if !lt.Active {
		return leave.ZeroDays(), nil // deactivated types stop accruing
	}

	periods, boundary := policy.AccrualPeriod.PeriodsSince(a.LastAccrualAt, now)
	if periods == 0 {
		return leave.ZeroDays(), nil
	}

	rate := rule.AccrualRate
	if !rate.IsPositive() {
		rate = lt.AccrualRatePerPeriod
	}
	earned := rate.MulInt(periods)

	credited := leave.ZeroDays()
	if earned.IsPositive() {
		key := leave.BalanceKey{
			EmployeeID:  a.EmployeeID,
			LeaveTypeID: a.LeaveTypeID,
			Year:        now.UTC().Year(),
		}
		ceiling := rule.AnnualAllotment.Add(lt.MaxCarryoverDays)
		reason := fmt.Sprintf("accrual: %d %s period(s) at %s days", periods, policy.AccrualPeriod, rate)
		credited, _, err = r.Ledger.Accrue(ctx, key, earned, ceiling, reason)
		if err != nil {
			return leave.ZeroDays(), err
		}
	}

	a.LastAccrualAt = boundary
	if err := r.Assignments.SaveAssignment(ctx, a); err != nil {
		return credited, err
	}
	return credited, nil
}
