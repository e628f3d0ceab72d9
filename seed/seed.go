/*
Package seed loads a demo catalog into a store.

PURPOSE:
  Dev and demo deployments need a working catalog before anything else is
  useful: leave types, a default policy, a holiday calendar, and a few
  employees with balances. Demo wires all of that through the same
  services the API uses, so seeded data obeys every invariant (versioned
  balances, movement log entries, pro-rated onboarding credits).

  Enable with the server's -seed-demo flag. Never run against production
  data; Demo refuses a store that already has leave types.

SEE ALSO:
  - cmd/server/main.go: the -seed-demo flag
  - catalog/service.go: the services this drives
*/
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/leave-engine/catalog"
	"github.com/warp/leave-engine/leave"
)

// Demo seeds the standard demo fixture set. Returns a ConflictError when
// the store already holds a catalog.
func Demo(ctx context.Context, store leave.Store, cat *catalog.Service) error {
	existing, err := store.ListLeaveTypes(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return &leave.ConflictError{Resource: "catalog", Detail: "store already seeded"}
	}

	if err := seedLeaveTypes(ctx, cat); err != nil {
		return err
	}
	if err := seedPolicies(ctx, cat); err != nil {
		return err
	}
	if err := seedHolidays(ctx, store); err != nil {
		return err
	}
	return seedEmployees(ctx, store, cat)
}

func seedLeaveTypes(ctx context.Context, cat *catalog.Service) error {
	types := []leave.LeaveType{
		{
			ID:                   "vacation",
			Name:                 "Vacation",
			IsPaid:               true,
			AccrualRatePerPeriod: leave.DaysOf(2),
			MaxCarryoverDays:     leave.DaysOfInt(5),
			RequiresApproval:     true,
		},
		{
			ID:                   "sick",
			Name:                 "Sick Leave",
			IsPaid:               true,
			AccrualRatePerPeriod: leave.DaysOf(1),
			MaxCarryoverDays:     leave.ZeroDays(),
		},
		{
			ID:               "unpaid",
			Name:             "Unpaid Leave",
			RequiresApproval: true,
		},
	}
	for _, lt := range types {
		if _, err := cat.CreateLeaveType(ctx, lt); err != nil {
			return fmt.Errorf("seed leave type %s: %w", lt.Name, err)
		}
	}
	return nil
}

func seedPolicies(ctx context.Context, cat *catalog.Service) error {
	policies := []leave.LeavePolicy{
		{
			ID:        "pol-standard",
			Name:      "Standard",
			IsDefault: true,
			Rules: []leave.PolicyRule{
				{LeaveTypeID: "vacation", AccrualRate: leave.DaysOf(2), AnnualAllotment: leave.DaysOfInt(24), MinNoticeDays: 14},
				{LeaveTypeID: "sick", AccrualRate: leave.DaysOf(1), AnnualAllotment: leave.DaysOfInt(12)},
			},
			AccrualPeriod: leave.PeriodMonthly,
		},
		{
			ID:   "pol-senior",
			Name: "Senior",
			Applicability: leave.Applicability{
				MinTenureMonths: 60,
			},
			Rules: []leave.PolicyRule{
				{LeaveTypeID: "vacation", AccrualRate: leave.DaysOf(2.5), AnnualAllotment: leave.DaysOfInt(30), MinNoticeDays: 14},
				{LeaveTypeID: "sick", AccrualRate: leave.DaysOf(1), AnnualAllotment: leave.DaysOfInt(12)},
			},
			AccrualPeriod: leave.PeriodMonthly,
		},
	}
	for _, p := range policies {
		if _, err := cat.CreatePolicy(ctx, p); err != nil {
			return fmt.Errorf("seed policy %s: %w", p.Name, err)
		}
	}
	return nil
}

func seedHolidays(ctx context.Context, store leave.Store) error {
	year := leave.Today().Year()
	holidays := []leave.Holiday{
		{ID: "new-year", Date: leave.NewDate(year, time.January, 1), Name: "New Year's Day", Recurring: true},
		{ID: "labor-day", Date: leave.NewDate(year, time.May, 1), Name: "Labor Day", Recurring: true},
		{ID: "christmas", Date: leave.NewDate(year, time.December, 25), Name: "Christmas Day", Recurring: true},
	}
	for _, h := range holidays {
		if err := store.SaveHoliday(ctx, h); err != nil {
			return fmt.Errorf("seed holiday %s: %w", h.Name, err)
		}
	}
	return nil
}

// seedEmployees registers demo employees and onboards them, which assigns
// the default policy and credits pro-rated entitlements through the ledger.
func seedEmployees(ctx context.Context, store leave.Store, cat *catalog.Service) error {
	hire := leave.StartOfYear(leave.Today().Year())
	employees := []leave.Employee{
		{ID: "emp-ada", Name: "Ada Lindgren", Department: "platform", Role: "engineer", HireDate: hire},
		{ID: "emp-sam", Name: "Sam Okafor", Department: "platform", Role: "engineer", ManagerID: "emp-ada", HireDate: hire},
		{ID: "emp-mira", Name: "Mira Chen", Department: "people", Role: "hr", HireDate: hire},
	}
	for _, e := range employees {
		if err := store.UpsertEmployee(ctx, e); err != nil {
			return fmt.Errorf("seed employee %s: %w", e.ID, err)
		}
		if _, err := cat.Onboard(ctx, e.ID, e.HireDate); err != nil {
			return fmt.Errorf("onboard %s: %w", e.ID, err)
		}
	}
	return nil
}
