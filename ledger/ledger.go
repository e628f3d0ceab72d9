/*
Package ledger is the balance ledger: the single writer of leave balances.

PURPOSE:
  Every change to a balance entry flows through this service as one atomic
  delta. The public contract mirrors the movement kinds:

    Reserve    hold days against a pending request
    Commit     move reserved days to used on approval
    Release    return reserved days on denial or cancellation
    Reinstate  return used days when an approved request is cancelled
    Credit     accrual seed or manual increase
    Debit      manual decrease, always audited
    Adjust     signed HR correction, tagged as a manual override
    Accrue     scheduler credit with a ceiling; the excess is forfeited

CONCURRENCY:
  Mutations run a read / apply / compare-and-swap loop against the
  BalanceStore. A version conflict means another mutation of the same
  (employee, leave type, year) entry won the race; the loop re-reads and
  re-applies, so the non-negative invariant is checked against fresh state
  every time. Contention is scoped to one entry; there is no global lock.

AUDIT:
  Each successful mutation appends one or two Movements in the same store
  write as the balance row, so the log never drifts from the entry. The
  movement log is the audit trail; leave.Replay over it reproduces it.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/leave"
)

const defaultMaxRetries = 5

// SystemActor marks movements produced by the engine itself rather than a
// person, e.g. scheduler accruals and rollover transfers.
const SystemActor = "system"

type Service struct {
	balances  leave.BalanceStore
	movements leave.MovementStore

	maxRetries int
	clock      func() time.Time
}

func New(balances leave.BalanceStore, movements leave.MovementStore) *Service {
	return &Service{
		balances:   balances,
		movements:  movements,
		maxRetries: defaultMaxRetries,
		clock:      time.Now,
	}
}

// =============================================================================
// REQUEST-DRIVEN MUTATIONS
// =============================================================================

// Reserve holds days against a pending request. Fails with
// InsufficientBalanceError when Available would go negative.
func (s *Service) Reserve(ctx context.Context, key leave.BalanceKey, days leave.Days, actorID string, requestID leave.RequestID) error {
	if err := requirePositive(days); err != nil {
		return err
	}
	return s.mutate(ctx, key, false, func(b *leave.Balance) ([]leave.Movement, error) {
		if b.Available().LessThan(days) {
			return nil, &leave.InsufficientBalanceError{
				EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Year: key.Year,
				Available: b.Available(), Requested: days,
			}
		}
		b.Reserved = b.Reserved.Add(days)
		return []leave.Movement{s.movement(key, leave.MovementReserve, days, actorID, requestID, "days reserved for pending request")}, nil
	})
}

// Commit moves reserved days to used when a request is approved.
func (s *Service) Commit(ctx context.Context, key leave.BalanceKey, days leave.Days, actorID string, requestID leave.RequestID) error {
	if err := requirePositive(days); err != nil {
		return err
	}
	return s.mutate(ctx, key, false, func(b *leave.Balance) ([]leave.Movement, error) {
		if b.Reserved.LessThan(days) {
			return nil, &leave.ConflictError{Resource: "balance", Detail: "commit exceeds reserved days"}
		}
		b.Reserved = b.Reserved.Sub(days)
		b.Used = b.Used.Add(days)
		return []leave.Movement{s.movement(key, leave.MovementCommit, days, actorID, requestID, "reserved days committed on approval")}, nil
	})
}

// Release returns reserved days to available on denial or cancellation of
// a pending request.
func (s *Service) Release(ctx context.Context, key leave.BalanceKey, days leave.Days, actorID string, requestID leave.RequestID, reason string) error {
	if err := requirePositive(days); err != nil {
		return err
	}
	return s.mutate(ctx, key, false, func(b *leave.Balance) ([]leave.Movement, error) {
		if b.Reserved.LessThan(days) {
			return nil, &leave.ConflictError{Resource: "balance", Detail: "release exceeds reserved days"}
		}
		b.Reserved = b.Reserved.Sub(days)
		return []leave.Movement{s.movement(key, leave.MovementRelease, days.Neg(), actorID, requestID, reason)}, nil
	})
}

// Reinstate returns used days to available when an approved request is
// cancelled before consumption.
func (s *Service) Reinstate(ctx context.Context, key leave.BalanceKey, days leave.Days, actorID string, requestID leave.RequestID) error {
	if err := requirePositive(days); err != nil {
		return err
	}
	return s.mutate(ctx, key, false, func(b *leave.Balance) ([]leave.Movement, error) {
		if b.Used.LessThan(days) {
			return nil, &leave.ConflictError{Resource: "balance", Detail: "reinstate exceeds used days"}
		}
		b.Used = b.Used.Sub(days)
		return []leave.Movement{s.movement(key, leave.MovementReinstate, days.Neg(), actorID, requestID, "approved request cancelled, days reinstated")}, nil
	})
}

// =============================================================================
// CREDITS, DEBITS, ADJUSTMENTS
// =============================================================================

// Credit increases accrued entitlement, creating the year entry when
// missing. Used for onboarding seeds and manual increases.
func (s *Service) Credit(ctx context.Context, key leave.BalanceKey, days leave.Days, actorID, reason string) error {
	if err := requirePositive(days); err != nil {
		return err
	}
	return s.mutate(ctx, key, true, func(b *leave.Balance) ([]leave.Movement, error) {
		b.Accrued = b.Accrued.Add(days)
		return []leave.Movement{s.movement(key, leave.MovementCredit, days, actorID, "", reason)}, nil
	})
}

// Debit decreases accrued entitlement. Requires a reason; fails with
// InsufficientBalanceError when Available would go negative.
func (s *Service) Debit(ctx context.Context, key leave.BalanceKey, days leave.Days, actorID, reason string) error {
	if err := requirePositive(days); err != nil {
		return err
	}
	if reason == "" {
		return &leave.ValidationError{Field: "reason", Message: "debit requires a reason"}
	}
	return s.mutate(ctx, key, false, func(b *leave.Balance) ([]leave.Movement, error) {
		if b.Available().LessThan(days) {
			return nil, &leave.InsufficientBalanceError{
				EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Year: key.Year,
				Available: b.Available(), Requested: days,
			}
		}
		b.Accrued = b.Accrued.Sub(days)
		return []leave.Movement{s.movement(key, leave.MovementDebit, days.Neg(), actorID, "", reason)}, nil
	})
}

// Adjust applies a signed HR correction. The movement is tagged as a manual
// adjustment, distinct from ordinary accrual and commit movements.
func (s *Service) Adjust(ctx context.Context, key leave.BalanceKey, amount leave.Days, actorID, reason string) error {
	if amount.IsZero() {
		return &leave.ValidationError{Field: "amount", Message: "adjustment must be non-zero"}
	}
	if reason == "" {
		return &leave.ValidationError{Field: "reason", Message: "adjustment requires a reason"}
	}
	if actorID == "" {
		return &leave.ValidationError{Field: "actorId", Message: "adjustment requires an actor"}
	}
	return s.mutate(ctx, key, amount.IsPositive(), func(b *leave.Balance) ([]leave.Movement, error) {
		if amount.IsNegative() && b.Available().LessThan(amount.Abs()) {
			return nil, &leave.InsufficientBalanceError{
				EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Year: key.Year,
				Available: b.Available(), Requested: amount.Abs(),
			}
		}
		b.Accrued = b.Accrued.Add(amount)
		return []leave.Movement{s.movement(key, leave.MovementAdjustment, amount, actorID, "", reason)}, nil
	})
}

// =============================================================================
// ACCRUAL AND ROLLOVER PRIMITIVES
// =============================================================================

// Accrue credits earned days subject to a ceiling on Accrued. Days above the
// ceiling are recorded as forfeited, not silently dropped. Returns the
// credited and forfeited portions.
func (s *Service) Accrue(ctx context.Context, key leave.BalanceKey, earned, ceiling leave.Days, reason string) (credited, forfeited leave.Days, err error) {
	if err := requirePositive(earned); err != nil {
		return leave.ZeroDays(), leave.ZeroDays(), err
	}
	err = s.mutate(ctx, key, true, func(b *leave.Balance) ([]leave.Movement, error) {
		room := ceiling.Sub(b.Accrued).Max(leave.ZeroDays())
		credited = earned.Min(room)
		forfeited = earned.Sub(credited)

		movs := []leave.Movement{s.movement(key, leave.MovementAccrual, earned, SystemActor, "", reason)}
		b.Accrued = b.Accrued.Add(earned)
		if forfeited.IsPositive() {
			b.Accrued = b.Accrued.Sub(forfeited)
			b.Forfeited = b.Forfeited.Add(forfeited)
			movs = append(movs, s.movement(key, leave.MovementForfeit, forfeited.Neg(), SystemActor, "", "accrual above carryover ceiling"))
		}
		return movs, nil
	})
	if err != nil {
		return leave.ZeroDays(), leave.ZeroDays(), err
	}
	return credited, forfeited, nil
}

// DrainForRollover empties the ending year's available balance: carry is
// transferred out (SeedYear puts it into the next year), the excess is
// forfeited. Reserved and used days are untouched.
func (s *Service) DrainForRollover(ctx context.Context, key leave.BalanceKey, carry, forfeit leave.Days) error {
	return s.mutate(ctx, key, false, func(b *leave.Balance) ([]leave.Movement, error) {
		total := carry.Add(forfeit)
		if b.Available().LessThan(total) {
			return nil, &leave.ConflictError{Resource: "balance", Detail: "rollover drain exceeds available balance"}
		}
		var movs []leave.Movement
		if carry.IsPositive() {
			b.Accrued = b.Accrued.Sub(carry)
			movs = append(movs, s.movement(key, leave.MovementCarryover, carry.Neg(), SystemActor, "", "carried over to next year"))
		}
		if forfeit.IsPositive() {
			b.Accrued = b.Accrued.Sub(forfeit)
			b.Forfeited = b.Forfeited.Add(forfeit)
			movs = append(movs, s.movement(key, leave.MovementForfeit, forfeit.Neg(), SystemActor, "", "unused balance above carryover cap"))
		}
		return movs, nil
	})
}

// CarryoverIn seeds the next year's entry with the carried-over remainder,
// creating the entry when the accrual scheduler has not opened it yet.
func (s *Service) CarryoverIn(ctx context.Context, key leave.BalanceKey, carry leave.Days) error {
	if err := requirePositive(carry); err != nil {
		return err
	}
	return s.mutate(ctx, key, true, func(b *leave.Balance) ([]leave.Movement, error) {
		b.Accrued = b.Accrued.Add(carry)
		return []leave.Movement{s.movement(key, leave.MovementCarryover, carry, SystemActor, "", "carried over from previous year")}, nil
	})
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(ctx context.Context, key leave.BalanceKey) (leave.Balance, error) {
	return s.balances.GetBalance(ctx, key)
}

// Balances returns an employee's ledger entries, optionally for one year.
func (s *Service) Balances(ctx context.Context, employeeID leave.EmployeeID, year *int) ([]leave.Balance, error) {
	return s.balances.BalancesForEmployee(ctx, employeeID, year)
}

// Movements returns the audit trail matching the filter.
func (s *Service) Movements(ctx context.Context, f leave.MovementFilter) ([]leave.Movement, error) {
	return s.movements.ListMovements(ctx, f)
}

// =============================================================================
// MUTATION LOOP
// =============================================================================

type applyFunc func(b *leave.Balance) ([]leave.Movement, error)

// mutate runs the read / apply / compare-and-swap loop. The apply function
// sees a fresh copy on every attempt, so balance guards are always checked
// against current state. Nothing is written when apply fails.
func (s *Service) mutate(ctx context.Context, key leave.BalanceKey, createIfMissing bool, apply applyFunc) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		b, err := s.balances.GetBalance(ctx, key)
		if err != nil {
			if leave.IsNotFound(err) && createIfMissing {
				fresh := leave.Balance{
					EmployeeID:  key.EmployeeID,
					LeaveTypeID: key.LeaveTypeID,
					Year:        key.Year,
					UpdatedAt:   s.clock(),
				}
				if cerr := s.balances.CreateBalance(ctx, fresh); cerr != nil && !leave.IsConflict(cerr) {
					return cerr
				}
				continue // re-read, whoever created it
			}
			return err
		}

		movs, err := apply(&b)
		if err != nil {
			return err
		}
		if !b.CheckInvariants() {
			// Guards in apply should make this unreachable.
			return &leave.ConflictError{Resource: "balance", Detail: "mutation violates ledger invariants"}
		}
		b.UpdatedAt = s.clock()

		// Balance row and movements land in one store write; a failure here
		// leaves the ledger exactly as it was.
		err = s.balances.ApplyMutation(ctx, b, movs)
		if errors.Is(err, leave.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return &leave.PersistenceError{Op: "update balance", Err: err}
		}
		return nil
	}
	return &leave.PersistenceError{Op: "update balance", Err: lastErr}
}

func (s *Service) movement(key leave.BalanceKey, kind leave.MovementKind, delta leave.Days, actorID string, requestID leave.RequestID, reason string) leave.Movement {
	return leave.Movement{
		ID:          leave.MovementID(uuid.NewString()),
		EmployeeID:  key.EmployeeID,
		LeaveTypeID: key.LeaveTypeID,
		Year:        key.Year,
		Delta:       delta,
		Kind:        kind,
		RequestID:   requestID,
		Reason:      reason,
		ActorID:     actorID,
		CreatedAt:   s.clock(),
	}
}

func requirePositive(days leave.Days) error {
	if !days.IsPositive() {
		return &leave.ValidationError{Field: "days", Message: "amount must be positive"}
	}
	return nil
}
