/*
Package request implements the leave request lifecycle.

STATE MACHINE:
  Pending  -> Approved | Denied | Cancelled
  Approved -> Cancelled   (start date still in the future, or HR override)
  Denied and Cancelled are terminal; nothing returns to Pending.

LEDGER COUPLING:
  Submit   reserves the working-day count
  Approve  commits the reservation (reserved -> used)
  Deny     releases the reservation
  Cancel   releases (pending) or reinstates committed days (approved)

ORDERING:
  Submit reserves before inserting; the insert enforces overlap exclusion
  against non-terminal requests, so of two racing submissions for the same
  dates only one becomes Pending and the loser's hold is released.
  Decisions transition the request first via a conditional status update,
  then touch the ledger. The conditional update is the serialization point
  for racing deciders: the loser gets a ConflictError and the ledger is
  untouched. If the ledger call fails after a transition, the transition is
  reverted best-effort before the error is returned.
*/
package request

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/validation"
)

type Service struct {
	Requests  leave.RequestStore
	Ledger    *ledger.Service
	Validator *validation.Engine

	Clock func() time.Time
}

func New(requests leave.RequestStore, lg *ledger.Service, v *validation.Engine) *Service {
	return &Service{Requests: requests, Ledger: lg, Validator: v, Clock: time.Now}
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit validates, reserves ledger capacity, and creates a Pending request.
// When validation fails the report is returned with the violated rules and
// the ledger is untouched; there is no partial reservation.
func (s *Service) Submit(ctx context.Context, employeeID leave.EmployeeID, leaveTypeID leave.LeaveTypeID, start, end leave.Date, reason string) (*leave.Request, *validation.Report, error) {
	report, err := s.Validator.Validate(ctx, employeeID, leaveTypeID, start, end)
	if err != nil {
		return nil, nil, err
	}
	if !report.Valid {
		return nil, &report, nil
	}

	now := s.Clock()
	req := leave.Request{
		ID:            leave.RequestID(uuid.NewString()),
		EmployeeID:    employeeID,
		LeaveTypeID:   leaveTypeID,
		StartDate:     start,
		EndDate:       end,
		DaysRequested: leave.DaysOfInt(report.WorkingDays),
		Status:        leave.RequestPending,
		Reason:        reason,
		SubmittedAt:   now,
	}

	// Reservation re-checks availability against live state; a concurrent
	// approval or debit since validation surfaces here.
	if err := s.Ledger.Reserve(ctx, req.BalanceKey(), req.DaysRequested, string(employeeID), req.ID); err != nil {
		return nil, &report, err
	}

	if err := s.Requests.CreateRequest(ctx, req); err != nil {
		// Undo the hold so a failed create leaves no trace. A conflict means
		// a concurrent submission won the overlap race between validation
		// and the insert; it surfaces as-is.
		relErr := s.Ledger.Release(ctx, req.BalanceKey(), req.DaysRequested, string(employeeID), req.ID, "request create failed, reservation released")
		if leave.IsConflict(err) {
			return nil, &report, errors.Join(err, relErr)
		}
		return nil, nil, errors.Join(&leave.PersistenceError{Op: "create request", Err: err}, relErr)
	}
	return &req, &report, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

// Approve commits the reservation and marks the request Approved.
// Returns a NotFoundError for a missing request and a ConflictError when
// the request is already decided, leaving the ledger unchanged.
func (s *Service) Approve(ctx context.Context, id leave.RequestID, approverID string) (*leave.Request, error) {
	req, err := s.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != leave.RequestPending {
		return nil, &leave.ConflictError{Resource: "request", Detail: "already " + string(req.Status)}
	}

	decided := req
	now := s.Clock()
	decided.Status = leave.RequestApproved
	decided.ApproverID = approverID
	decided.DecidedAt = &now

	if err := s.transition(ctx, decided, leave.RequestPending); err != nil {
		return nil, err
	}
	if err := s.Ledger.Commit(ctx, req.BalanceKey(), req.DaysRequested, approverID, req.ID); err != nil {
		s.revert(ctx, req, decided.Status)
		return nil, err
	}
	return &decided, nil
}

// Deny releases the reservation and marks the request Denied.
// A non-empty reason is required.
func (s *Service) Deny(ctx context.Context, id leave.RequestID, approverID, reason string) (*leave.Request, error) {
	if reason == "" {
		return nil, &leave.ValidationError{Field: "reason", Message: "denial requires a reason"}
	}
	req, err := s.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != leave.RequestPending {
		return nil, &leave.ConflictError{Resource: "request", Detail: "already " + string(req.Status)}
	}

	decided := req
	now := s.Clock()
	decided.Status = leave.RequestDenied
	decided.ApproverID = approverID
	decided.DecisionNote = reason
	decided.DecidedAt = &now

	if err := s.transition(ctx, decided, leave.RequestPending); err != nil {
		return nil, err
	}
	if err := s.Ledger.Release(ctx, req.BalanceKey(), req.DaysRequested, approverID, req.ID, "request denied: "+reason); err != nil {
		s.revert(ctx, req, decided.Status)
		return nil, err
	}
	return &decided, nil
}

// Cancel ends a request. The requester may cancel their own pending
// request; an HR actor may cancel any pending request, and an approved one
// when its start date is still in the future or the override flag is set.
// Cancelling an approved request reinstates the committed days.
func (s *Service) Cancel(ctx context.Context, id leave.RequestID, actorID string, hrActor, override bool) (*leave.Request, error) {
	req, err := s.Requests.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case leave.RequestPending:
		if actorID != string(req.EmployeeID) && !hrActor {
			return nil, &leave.ValidationError{Field: "actorId", Message: "only the requester or HR may cancel a pending request"}
		}
		decided := s.cancelled(req, actorID)
		if err := s.transition(ctx, decided, leave.RequestPending); err != nil {
			return nil, err
		}
		if err := s.Ledger.Release(ctx, req.BalanceKey(), req.DaysRequested, actorID, req.ID, "pending request cancelled"); err != nil {
			s.revert(ctx, req, decided.Status)
			return nil, err
		}
		return &decided, nil

	case leave.RequestApproved:
		if !hrActor {
			return nil, &leave.ValidationError{Field: "actorId", Message: "only HR may cancel an approved request"}
		}
		started := !req.StartDate.After(leave.DateOf(s.Clock()))
		if started && !override {
			return nil, &leave.ConflictError{Resource: "request", Detail: "leave already started; cancellation requires the HR override flag"}
		}
		decided := s.cancelled(req, actorID)
		if err := s.transition(ctx, decided, leave.RequestApproved); err != nil {
			return nil, err
		}
		if err := s.Ledger.Reinstate(ctx, req.BalanceKey(), req.DaysRequested, actorID, req.ID); err != nil {
			s.revert(ctx, req, decided.Status)
			return nil, err
		}
		return &decided, nil

	default:
		return nil, &leave.ConflictError{Resource: "request", Detail: "already " + string(req.Status)}
	}
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	return s.Requests.GetRequest(ctx, id)
}

// Validate runs the rule engine without submitting anything. Advisory: the
// dashboard previews problems with it, and Submit re-validates against
// live state regardless of what this returned.
func (s *Service) Validate(ctx context.Context, employeeID leave.EmployeeID, leaveTypeID leave.LeaveTypeID, start, end leave.Date) (validation.Report, error) {
	return s.Validator.Validate(ctx, employeeID, leaveTypeID, start, end)
}

// List is the generalized query contract: filter by employee, status, leave
// type, and date window across all employees. Read-only.
func (s *Service) List(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	return s.Requests.ListRequests(ctx, f)
}

// =============================================================================
// INTERNAL
// =============================================================================

func (s *Service) cancelled(req leave.Request, actorID string) leave.Request {
	decided := req
	now := s.Clock()
	decided.Status = leave.RequestCancelled
	decided.ApproverID = actorID
	decided.DecidedAt = &now
	return decided
}

// transition performs the conditional status update and maps a lost race to
// the ConflictError callers expect.
func (s *Service) transition(ctx context.Context, r leave.Request, expect leave.RequestStatus) error {
	err := s.Requests.UpdateRequest(ctx, r, expect)
	if errors.Is(err, leave.ErrVersionConflict) {
		return &leave.ConflictError{Resource: "request", Detail: "decided concurrently"}
	}
	return err
}

// revert restores the prior request state after a ledger failure. Best
// effort: the ledger error is what the caller sees either way.
func (s *Service) revert(ctx context.Context, original leave.Request, from leave.RequestStatus) {
	_ = s.Requests.UpdateRequest(ctx, original, from)
}
