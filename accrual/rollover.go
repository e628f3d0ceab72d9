package accrual

import (
	"context"

	"github.com/warp/leave-engine/leave"
)

// RolloverReport summarizes one year-end rollover pass.
type RolloverReport struct {
	Entries   int             `json:"entries"` // ledger entries examined
	Carried   leave.Days      `json:"-"`
	Forfeited leave.Days      `json:"-"`
	Errors    []EmployeeError `json:"errors"`
}

// Rollover closes the given year: for every ledger entry, the unused
// available balance up to the leave type's carryover cap moves into the
// next year's entry; the remainder is forfeited. Draining leaves the old
// entry with zero available, so re-running the rollover is a no-op.
func (r *Runner) Rollover(ctx context.Context, year int) (RolloverReport, error) {
	report := RolloverReport{Errors: []EmployeeError{}}

	balances, err := r.Balances.BalancesForYear(ctx, year)
	if err != nil {
		return report, err
	}

	for _, b := range balances {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Entries++

		available := b.Available()
		if !available.IsPositive() {
			continue // nothing to carry, or already rolled over
		}

		lt, err := r.Catalog.GetLeaveType(ctx, b.LeaveTypeID)
		if err != nil {
			report.Errors = append(report.Errors, EmployeeError{
				EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID, Detail: err.Error(),
			})
			continue
		}

		carry := available.Min(lt.MaxCarryoverDays)
		forfeit := available.Sub(carry)

		oldKey := b.Key()
		if err := r.Ledger.DrainForRollover(ctx, oldKey, carry, forfeit); err != nil {
			report.Errors = append(report.Errors, EmployeeError{
				EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID, Detail: err.Error(),
			})
			continue
		}
		if carry.IsPositive() {
			newKey := leave.BalanceKey{EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID, Year: year + 1}
			if err := r.Ledger.CarryoverIn(ctx, newKey, carry); err != nil {
				report.Errors = append(report.Errors, EmployeeError{
					EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID, Detail: err.Error(),
				})
				continue
			}
		}

		report.Carried = report.Carried.Add(carry)
		report.Forfeited = report.Forfeited.Add(forfeit)
	}

	r.Logger.Info("year-end rollover finished",
		"year", year,
		"entries", report.Entries,
		"carried", report.Carried.String(),
		"forfeited", report.Forfeited.String(),
		"failures", len(report.Errors))
	return report, nil
}
