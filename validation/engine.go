/*
Package validation is the stateless rule evaluator for leave requests.

PURPOSE:
  One entry point, Validate, used in two modes:
  - advisory: the dashboard calls it before submission to preview problems
  - authoritative: the request lifecycle re-runs it at submission time
    against current state, so a stale advisory answer cannot win a race

RULE ORDER (short-circuiting only on structural errors):
  1. date range well-formed, start <= end, single calendar year
  2. working-day count > 0 (zero-day requests are rejected)
  3. leave type exists and is active
  4. available balance covers the working-day count
  5. no overlapping non-terminal request
  6. policy minimum notice (warning unless the policy marks it mandatory)

Violations carry stable codes so the API and the dashboard can map them
without parsing messages.
*/
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/leave-engine/leave"
)

// Violation codes.
const (
	CodeInvalidRange        = "invalid_range"
	CodeSpansYears          = "spans_years"
	CodeZeroWorkingDays     = "zero_working_days"
	CodeUnknownLeaveType    = "unknown_leave_type"
	CodeLeaveTypeInactive   = "leave_type_inactive"
	CodeInsufficientBalance = "insufficient_balance"
	CodeOverlappingRequest  = "overlapping_request"
	CodeShortNotice         = "short_notice"
)

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Report is the outcome of a validation pass. Valid means no errors;
// warnings never block submission.
type Report struct {
	Valid    bool        `json:"valid"`
	Errors   []Violation `json:"errors"`
	Warnings []Violation `json:"warnings"`

	// WorkingDays is the computed day count for the range, excluding
	// weekends and holidays. The lifecycle reserves exactly this amount.
	WorkingDays int `json:"workingDays"`
}

func (r *Report) addError(code, format string, args ...any) {
	r.Errors = append(r.Errors, Violation{Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) addWarning(code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Violation{Code: code, Message: fmt.Sprintf(format, args...)})
}

// Engine evaluates the rules. Stateless: every call reads current state
// from the stores.
type Engine struct {
	Catalog     leave.CatalogStore
	Balances    leave.BalanceStore
	Requests    leave.RequestStore
	Assignments leave.AssignmentStore
	Holidays    leave.HolidayStore

	Clock func() time.Time
}

func New(store leave.Store) *Engine {
	return &Engine{
		Catalog:     store,
		Balances:    store,
		Requests:    store,
		Assignments: store,
		Holidays:    store,
		Clock:       time.Now,
	}
}

// Validate evaluates a prospective request. The returned error is reserved
// for storage failures; rule outcomes are in the report.
func (e *Engine) Validate(ctx context.Context, employeeID leave.EmployeeID, leaveTypeID leave.LeaveTypeID, start, end leave.Date) (Report, error) {
	report := Report{}

	// Structural checks: nothing below makes sense if these fail.
	if start.IsZero() || end.IsZero() || end.Before(start) {
		report.addError(CodeInvalidRange, "start date must be on or before end date")
		return report, nil
	}
	if start.Year() != end.Year() {
		report.addError(CodeSpansYears, "request must fall within a single calendar year")
		return report, nil
	}

	holidays, err := e.Holidays.ListHolidays(ctx)
	if err != nil {
		return report, err
	}
	cal := leave.NewCalendar(holidays)

	report.WorkingDays = leave.WorkingDays(start, end, cal)
	if report.WorkingDays == 0 {
		report.addError(CodeZeroWorkingDays, "range %s..%s contains no working days", start, end)
	}

	lt, err := e.Catalog.GetLeaveType(ctx, leaveTypeID)
	switch {
	case leave.IsNotFound(err):
		report.addError(CodeUnknownLeaveType, "leave type %s does not exist", leaveTypeID)
	case err != nil:
		return report, err
	case !lt.Active:
		report.addError(CodeLeaveTypeInactive, "leave type %s is deactivated", lt.Name)
	}

	// Balance check only when the day count and leave type are usable.
	if report.WorkingDays > 0 && err == nil && lt.Active {
		key := leave.BalanceKey{EmployeeID: employeeID, LeaveTypeID: leaveTypeID, Year: start.Year()}
		available := leave.ZeroDays()
		b, err := e.Balances.GetBalance(ctx, key)
		switch {
		case leave.IsNotFound(err):
			// No ledger entry yet: nothing available.
		case err != nil:
			return report, err
		default:
			available = b.Available()
		}
		requested := leave.DaysOfInt(report.WorkingDays)
		if available.LessThan(requested) {
			report.addError(CodeInsufficientBalance, "available balance %s is less than the %s working days requested", available, requested)
		}
	}

	overlapping, err := e.Requests.OverlappingRequests(ctx, employeeID, leaveTypeID, start, end)
	if err != nil {
		return report, err
	}
	for _, other := range overlapping {
		report.addError(CodeOverlappingRequest, "overlaps %s request %s (%s..%s)", other.Status, other.ID, other.StartDate, other.EndDate)
	}

	if err := e.checkNotice(ctx, &report, employeeID, leaveTypeID, start); err != nil {
		return report, err
	}

	report.Valid = len(report.Errors) == 0
	return report, nil
}

// checkNotice applies the assigned policy's minimum notice rule. A short
// notice is a warning unless the policy marks it mandatory.
func (e *Engine) checkNotice(ctx context.Context, report *Report, employeeID leave.EmployeeID, leaveTypeID leave.LeaveTypeID, start leave.Date) error {
	today := leave.DateOf(e.Clock())
	assignments, err := e.Assignments.ActiveAssignments(ctx, employeeID, today)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if a.LeaveTypeID != leaveTypeID {
			continue
		}
		policy, err := e.Catalog.GetPolicy(ctx, a.PolicyID)
		if err != nil {
			if leave.IsNotFound(err) {
				continue
			}
			return err
		}
		rule, ok := policy.RuleFor(leaveTypeID)
		if !ok || rule.MinNoticeDays <= 0 {
			continue
		}
		notice := today.DaysUntil(start)
		if notice >= rule.MinNoticeDays {
			continue
		}
		if rule.NoticeMandatory {
			report.addError(CodeShortNotice, "policy %s requires %d days notice, got %d", policy.Name, rule.MinNoticeDays, notice)
		} else {
			report.addWarning(CodeShortNotice, "policy %s recommends %d days notice, got %d", policy.Name, rule.MinNoticeDays, notice)
		}
	}
	return nil
}
