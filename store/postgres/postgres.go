/*
Package postgres provides the PostgreSQL-backed leave.Store implementation.

PURPOSE:
  Persistence for multi-node deployments. Semantics are identical to the
  SQLite driver: versioned balance rows updated by conditional UPDATE, an
  append-only movement log, and status-conditioned request transitions.
  Day amounts travel as decimal strings so no float ever touches a balance.

POOLING:
  Built on pgxpool. The pool handles connection lifecycle; every method
  takes the caller's context so statement cancellation propagates.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/leave-engine/leave"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ leave.Store = (*Store)(nil)

// New connects to the database and runs the schema migration.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS balances (
		employee_id   TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year          INTEGER NOT NULL,
		accrued       TEXT NOT NULL,
		used          TEXT NOT NULL,
		reserved      TEXT NOT NULL,
		forfeited     TEXT NOT NULL,
		version       BIGINT NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE TABLE IF NOT EXISTS movements (
		id            TEXT PRIMARY KEY,
		seq           BIGSERIAL,
		employee_id   TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year          INTEGER NOT NULL,
		delta         TEXT NOT NULL,
		kind          TEXT NOT NULL,
		request_id    TEXT,
		reason        TEXT,
		actor_id      TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_movements_entry
		ON movements(employee_id, leave_type_id, year);

	CREATE TABLE IF NOT EXISTS requests (
		id             TEXT PRIMARY KEY,
		employee_id    TEXT NOT NULL,
		leave_type_id  TEXT NOT NULL,
		start_date     DATE NOT NULL,
		end_date       DATE NOT NULL,
		days_requested TEXT NOT NULL,
		status         TEXT NOT NULL,
		approver_id    TEXT NOT NULL DEFAULT '',
		reason         TEXT NOT NULL DEFAULT '',
		decision_note  TEXT NOT NULL DEFAULT '',
		submitted_at   TIMESTAMPTZ NOT NULL,
		decided_at     TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON requests(employee_id, leave_type_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);

	CREATE TABLE IF NOT EXISTS leave_types (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		is_paid           BOOLEAN NOT NULL,
		accrual_rate      TEXT NOT NULL,
		max_carryover     TEXT NOT NULL,
		requires_approval BOOLEAN NOT NULL,
		active            BOOLEAN NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS policies (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		applicability_json JSONB NOT NULL,
		rules_json         JSONB NOT NULL,
		accrual_period     TEXT NOT NULL,
		is_default         BOOLEAN NOT NULL,
		is_active          BOOLEAN NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id              TEXT PRIMARY KEY,
		employee_id     TEXT NOT NULL,
		policy_id       TEXT NOT NULL,
		leave_type_id   TEXT NOT NULL,
		effective_from  DATE NOT NULL,
		effective_to    DATE,
		last_accrual_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_employee
		ON assignments(employee_id);

	CREATE TABLE IF NOT EXISTS holidays (
		id        TEXT PRIMARY KEY,
		date      DATE NOT NULL,
		name      TEXT NOT NULL,
		recurring BOOLEAN NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		department TEXT NOT NULL,
		role       TEXT NOT NULL,
		manager_id TEXT NOT NULL DEFAULT '',
		hire_date  DATE NOT NULL
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.Balance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT accrued, used, reserved, forfeited, version, updated_at
		FROM balances WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3`,
		string(key.EmployeeID), string(key.LeaveTypeID), key.Year)

	var accrued, used, reserved, forfeited string
	b := leave.Balance{EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Year: key.Year}
	err := row.Scan(&accrued, &used, &reserved, &forfeited, &b.Version, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Balance{}, &leave.NotFoundError{
			Resource: "balance",
			ID:       fmt.Sprintf("%s/%s/%d", key.EmployeeID, key.LeaveTypeID, key.Year),
		}
	}
	if err != nil {
		return leave.Balance{}, &leave.PersistenceError{Op: "get balance", Err: err}
	}
	if err := decodeAmounts(&b, accrued, used, reserved, forfeited); err != nil {
		return leave.Balance{}, &leave.PersistenceError{Op: "get balance", Err: err}
	}
	return b, nil
}

func (s *Store) CreateBalance(ctx context.Context, b leave.Balance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balances (employee_id, leave_type_id, year, accrued, used, reserved, forfeited, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)`,
		string(b.EmployeeID), string(b.LeaveTypeID), b.Year,
		b.Accrued.String(), b.Used.String(), b.Reserved.String(), b.Forfeited.String(),
		b.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return &leave.ConflictError{
			Resource: "balance",
			Detail:   fmt.Sprintf("%s/%s/%d already exists", b.EmployeeID, b.LeaveTypeID, b.Year),
		}
	}
	if err != nil {
		return &leave.PersistenceError{Op: "create balance", Err: err}
	}
	return nil
}

func (s *Store) UpdateBalance(ctx context.Context, b leave.Balance) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE balances
		SET accrued = $1, used = $2, reserved = $3, forfeited = $4, version = version + 1, updated_at = $5
		WHERE employee_id = $6 AND leave_type_id = $7 AND year = $8 AND version = $9`,
		b.Accrued.String(), b.Used.String(), b.Reserved.String(), b.Forfeited.String(),
		b.UpdatedAt.UTC(),
		string(b.EmployeeID), string(b.LeaveTypeID), b.Year, b.Version)
	if err != nil {
		return &leave.PersistenceError{Op: "update balance", Err: err}
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetBalance(ctx, b.Key()); err != nil {
			return err
		}
		return leave.ErrVersionConflict
	}
	return nil
}

func (s *Store) ApplyMutation(ctx context.Context, b leave.Balance, movs []leave.Movement) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &leave.PersistenceError{Op: "apply mutation", Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE balances
		SET accrued = $1, used = $2, reserved = $3, forfeited = $4, version = version + 1, updated_at = $5
		WHERE employee_id = $6 AND leave_type_id = $7 AND year = $8 AND version = $9`,
		b.Accrued.String(), b.Used.String(), b.Reserved.String(), b.Forfeited.String(),
		b.UpdatedAt.UTC(),
		string(b.EmployeeID), string(b.LeaveTypeID), b.Year, b.Version)
	if err != nil {
		return &leave.PersistenceError{Op: "apply mutation", Err: err}
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetBalance(ctx, b.Key()); err != nil {
			return err
		}
		return leave.ErrVersionConflict
	}

	for _, m := range movs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO movements (id, employee_id, leave_type_id, year, delta, kind, request_id, reason, actor_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			string(m.ID), string(m.EmployeeID), string(m.LeaveTypeID), m.Year,
			m.Delta.String(), string(m.Kind), string(m.RequestID), m.Reason, m.ActorID,
			m.CreatedAt.UTC()); err != nil {
			return &leave.PersistenceError{Op: "apply mutation", Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &leave.PersistenceError{Op: "apply mutation", Err: err}
	}
	return nil
}

func (s *Store) BalancesForEmployee(ctx context.Context, employeeID leave.EmployeeID, year *int) ([]leave.Balance, error) {
	query := `
		SELECT employee_id, leave_type_id, year, accrued, used, reserved, forfeited, version, updated_at
		FROM balances WHERE employee_id = $1`
	args := []any{string(employeeID)}
	if year != nil {
		query += ` AND year = $2`
		args = append(args, *year)
	}
	query += ` ORDER BY leave_type_id, year`
	return s.queryBalances(ctx, query, args...)
}

func (s *Store) BalancesForYear(ctx context.Context, year int) ([]leave.Balance, error) {
	return s.queryBalances(ctx, `
		SELECT employee_id, leave_type_id, year, accrued, used, reserved, forfeited, version, updated_at
		FROM balances WHERE year = $1 ORDER BY employee_id, leave_type_id`, year)
}

func (s *Store) queryBalances(ctx context.Context, query string, args ...any) ([]leave.Balance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query balances", Err: err}
	}
	defer rows.Close()

	out := []leave.Balance{}
	for rows.Next() {
		var b leave.Balance
		var accrued, used, reserved, forfeited string
		if err := rows.Scan(&b.EmployeeID, &b.LeaveTypeID, &b.Year, &accrued, &used, &reserved, &forfeited, &b.Version, &b.UpdatedAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan balance", Err: err}
		}
		if err := decodeAmounts(&b, accrued, used, reserved, forfeited); err != nil {
			return nil, &leave.PersistenceError{Op: "scan balance", Err: err}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func decodeAmounts(b *leave.Balance, accrued, used, reserved, forfeited string) error {
	var err error
	if b.Accrued, err = leave.ParseDays(accrued); err != nil {
		return err
	}
	if b.Used, err = leave.ParseDays(used); err != nil {
		return err
	}
	if b.Reserved, err = leave.ParseDays(reserved); err != nil {
		return err
	}
	b.Forfeited, err = leave.ParseDays(forfeited)
	return err
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func (s *Store) AppendMovement(ctx context.Context, m leave.Movement) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO movements (id, employee_id, leave_type_id, year, delta, kind, request_id, reason, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(m.ID), string(m.EmployeeID), string(m.LeaveTypeID), m.Year,
		m.Delta.String(), string(m.Kind), string(m.RequestID), m.Reason, m.ActorID,
		m.CreatedAt.UTC())
	if err != nil {
		return &leave.PersistenceError{Op: "append movement", Err: err}
	}
	return nil
}

func (s *Store) ListMovements(ctx context.Context, f leave.MovementFilter) ([]leave.Movement, error) {
	query := `
		SELECT id, employee_id, leave_type_id, year, delta, kind, request_id, reason, actor_id, created_at
		FROM movements WHERE 1 = 1`
	var args []any
	next := func() string { return fmt.Sprintf("$%d", len(args)+1) }
	if f.EmployeeID != nil {
		args = append(args, string(*f.EmployeeID))
		query += ` AND employee_id = ` + fmt.Sprintf("$%d", len(args))
	}
	if f.LeaveTypeID != nil {
		args = append(args, string(*f.LeaveTypeID))
		query += ` AND leave_type_id = ` + fmt.Sprintf("$%d", len(args))
	}
	if f.Year != nil {
		args = append(args, *f.Year)
		query += ` AND year = ` + fmt.Sprintf("$%d", len(args))
	}
	if len(f.Kinds) > 0 {
		placeholders := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			placeholders[i] = next()
			args = append(args, string(k))
		}
		query += ` AND kind IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY seq`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "list movements", Err: err}
	}
	defer rows.Close()

	out := []leave.Movement{}
	for rows.Next() {
		var m leave.Movement
		var delta string
		if err := rows.Scan(&m.ID, &m.EmployeeID, &m.LeaveTypeID, &m.Year, &delta, &m.Kind, &m.RequestID, &m.Reason, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan movement", Err: err}
		}
		if m.Delta, err = leave.ParseDays(delta); err != nil {
			return nil, &leave.PersistenceError{Op: "scan movement", Err: err}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *Store) CreateRequest(ctx context.Context, r leave.Request) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &leave.PersistenceError{Op: "create request", Err: err}
	}
	defer tx.Rollback(ctx)

	// Overlap exclusion runs inside the insert transaction so two racing
	// submissions for the same dates cannot both land. The employee's rows
	// are locked for the duration of the check.
	var rival string
	err = tx.QueryRow(ctx, `
		SELECT id FROM requests
		WHERE employee_id = $1 AND leave_type_id = $2
		  AND status NOT IN ('denied', 'cancelled')
		  AND end_date >= $3 AND start_date <= $4
		LIMIT 1
		FOR UPDATE`,
		string(r.EmployeeID), string(r.LeaveTypeID), r.StartDate.Time(), r.EndDate.Time()).Scan(&rival)
	if err == nil {
		return &leave.ConflictError{Resource: "request", Detail: "dates overlap request " + rival}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return &leave.PersistenceError{Op: "create request", Err: err}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO requests (id, employee_id, leave_type_id, start_date, end_date, days_requested, status, approver_id, reason, decision_note, submitted_at, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(r.ID), string(r.EmployeeID), string(r.LeaveTypeID),
		r.StartDate.Time(), r.EndDate.Time(), r.DaysRequested.String(),
		string(r.Status), r.ApproverID, r.Reason, r.DecisionNote,
		r.SubmittedAt.UTC(), r.DecidedAt)
	if isUniqueViolation(err) {
		return &leave.ConflictError{Resource: "request", Detail: string(r.ID) + " already exists"}
	}
	if err != nil {
		return &leave.PersistenceError{Op: "create request", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &leave.PersistenceError{Op: "create request", Err: err}
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	reqs, err := s.queryRequests(ctx, `
		SELECT id, employee_id, leave_type_id, start_date, end_date, days_requested, status, approver_id, reason, decision_note, submitted_at, decided_at
		FROM requests WHERE id = $1`, string(id))
	if err != nil {
		return leave.Request{}, err
	}
	if len(reqs) == 0 {
		return leave.Request{}, &leave.NotFoundError{Resource: "request", ID: string(id)}
	}
	return reqs[0], nil
}

func (s *Store) UpdateRequest(ctx context.Context, r leave.Request, expect leave.RequestStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE requests
		SET status = $1, approver_id = $2, decision_note = $3, decided_at = $4
		WHERE id = $5 AND status = $6`,
		string(r.Status), r.ApproverID, r.DecisionNote, r.DecidedAt, string(r.ID), string(expect))
	if err != nil {
		return &leave.PersistenceError{Op: "update request", Err: err}
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, r.ID); err != nil {
			return err
		}
		return leave.ErrVersionConflict
	}
	return nil
}

func (s *Store) ListRequests(ctx context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	query := `
		SELECT id, employee_id, leave_type_id, start_date, end_date, days_requested, status, approver_id, reason, decision_note, submitted_at, decided_at
		FROM requests WHERE 1 = 1`
	var args []any
	if f.EmployeeID != nil {
		args = append(args, string(*f.EmployeeID))
		query += fmt.Sprintf(` AND employee_id = $%d`, len(args))
	}
	if f.LeaveTypeID != nil {
		args = append(args, string(*f.LeaveTypeID))
		query += fmt.Sprintf(` AND leave_type_id = $%d`, len(args))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.From != nil {
		args = append(args, f.From.Time())
		query += fmt.Sprintf(` AND end_date >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, f.To.Time())
		query += fmt.Sprintf(` AND start_date <= $%d`, len(args))
	}
	query += ` ORDER BY submitted_at DESC`
	return s.queryRequests(ctx, query, args...)
}

func (s *Store) OverlappingRequests(ctx context.Context, employeeID leave.EmployeeID, leaveTypeID leave.LeaveTypeID, start, end leave.Date) ([]leave.Request, error) {
	return s.queryRequests(ctx, `
		SELECT id, employee_id, leave_type_id, start_date, end_date, days_requested, status, approver_id, reason, decision_note, submitted_at, decided_at
		FROM requests
		WHERE employee_id = $1 AND leave_type_id = $2
		  AND status NOT IN ('denied', 'cancelled')
		  AND end_date >= $3 AND start_date <= $4
		ORDER BY submitted_at`,
		string(employeeID), string(leaveTypeID), start.Time(), end.Time())
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query requests", Err: err}
	}
	defer rows.Close()

	out := []leave.Request{}
	for rows.Next() {
		var r leave.Request
		var start, end time.Time
		var days string
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &start, &end, &days, &r.Status, &r.ApproverID, &r.Reason, &r.DecisionNote, &r.SubmittedAt, &r.DecidedAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan request", Err: err}
		}
		r.StartDate = leave.DateOf(start)
		r.EndDate = leave.DateOf(end)
		if r.DaysRequested, err = leave.ParseDays(days); err != nil {
			return nil, &leave.PersistenceError{Op: "scan request", Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) CreateLeaveType(ctx context.Context, lt leave.LeaveType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leave_types (id, name, is_paid, accrual_rate, max_carryover, requires_approval, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(lt.ID), lt.Name, lt.IsPaid, lt.AccrualRatePerPeriod.String(), lt.MaxCarryoverDays.String(),
		lt.RequiresApproval, lt.Active, lt.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return &leave.ConflictError{Resource: "leave type", Detail: string(lt.ID) + " already exists"}
	}
	if err != nil {
		return &leave.PersistenceError{Op: "create leave type", Err: err}
	}
	return nil
}

func (s *Store) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	lts, err := s.queryLeaveTypes(ctx, `
		SELECT id, name, is_paid, accrual_rate, max_carryover, requires_approval, active, created_at
		FROM leave_types WHERE id = $1`, string(id))
	if err != nil {
		return leave.LeaveType{}, err
	}
	if len(lts) == 0 {
		return leave.LeaveType{}, &leave.NotFoundError{Resource: "leave type", ID: string(id)}
	}
	return lts[0], nil
}

func (s *Store) UpdateLeaveType(ctx context.Context, lt leave.LeaveType) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE leave_types
		SET name = $1, is_paid = $2, accrual_rate = $3, max_carryover = $4, requires_approval = $5, active = $6
		WHERE id = $7`,
		lt.Name, lt.IsPaid, lt.AccrualRatePerPeriod.String(), lt.MaxCarryoverDays.String(),
		lt.RequiresApproval, lt.Active, string(lt.ID))
	if err != nil {
		return &leave.PersistenceError{Op: "update leave type", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &leave.NotFoundError{Resource: "leave type", ID: string(lt.ID)}
	}
	return nil
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	return s.queryLeaveTypes(ctx, `
		SELECT id, name, is_paid, accrual_rate, max_carryover, requires_approval, active, created_at
		FROM leave_types ORDER BY name`)
}

func (s *Store) ActiveLeaveTypeByName(ctx context.Context, name string) (leave.LeaveType, bool, error) {
	lts, err := s.queryLeaveTypes(ctx, `
		SELECT id, name, is_paid, accrual_rate, max_carryover, requires_approval, active, created_at
		FROM leave_types WHERE active AND name = $1`, name)
	if err != nil {
		return leave.LeaveType{}, false, err
	}
	if len(lts) == 0 {
		return leave.LeaveType{}, false, nil
	}
	return lts[0], true, nil
}

func (s *Store) queryLeaveTypes(ctx context.Context, query string, args ...any) ([]leave.LeaveType, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query leave types", Err: err}
	}
	defer rows.Close()

	var out []leave.LeaveType
	for rows.Next() {
		var lt leave.LeaveType
		var rate, carryover string
		if err := rows.Scan(&lt.ID, &lt.Name, &lt.IsPaid, &rate, &carryover, &lt.RequiresApproval, &lt.Active, &lt.CreatedAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan leave type", Err: err}
		}
		if lt.AccrualRatePerPeriod, err = leave.ParseDays(rate); err != nil {
			return nil, &leave.PersistenceError{Op: "scan leave type", Err: err}
		}
		if lt.MaxCarryoverDays, err = leave.ParseDays(carryover); err != nil {
			return nil, &leave.PersistenceError{Op: "scan leave type", Err: err}
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

type policyRuleJSON struct {
	LeaveTypeID     string `json:"leaveTypeId"`
	AccrualRate     string `json:"accrualRate"`
	AnnualAllotment string `json:"annualAllotment"`
	MinNoticeDays   int    `json:"minNoticeDays"`
	NoticeMandatory bool   `json:"noticeMandatory"`
}

func (s *Store) CreatePolicy(ctx context.Context, p leave.LeavePolicy) error {
	applicability, rules, err := encodePolicy(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO policies (id, name, applicability_json, rules_json, accrual_period, is_default, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(p.ID), p.Name, applicability, rules, string(p.AccrualPeriod), p.IsDefault, p.IsActive,
		p.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return &leave.ConflictError{Resource: "policy", Detail: string(p.ID) + " already exists"}
	}
	if err != nil {
		return &leave.PersistenceError{Op: "create policy", Err: err}
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, id leave.PolicyID) (leave.LeavePolicy, error) {
	ps, err := s.queryPolicies(ctx, `
		SELECT id, name, applicability_json, rules_json, accrual_period, is_default, is_active, created_at
		FROM policies WHERE id = $1`, string(id))
	if err != nil {
		return leave.LeavePolicy{}, err
	}
	if len(ps) == 0 {
		return leave.LeavePolicy{}, &leave.NotFoundError{Resource: "policy", ID: string(id)}
	}
	return ps[0], nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p leave.LeavePolicy) error {
	applicability, rules, err := encodePolicy(p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE policies
		SET name = $1, applicability_json = $2, rules_json = $3, accrual_period = $4, is_default = $5, is_active = $6
		WHERE id = $7`,
		p.Name, applicability, rules, string(p.AccrualPeriod), p.IsDefault, p.IsActive, string(p.ID))
	if err != nil {
		return &leave.PersistenceError{Op: "update policy", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &leave.NotFoundError{Resource: "policy", ID: string(p.ID)}
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]leave.LeavePolicy, error) {
	return s.queryPolicies(ctx, `
		SELECT id, name, applicability_json, rules_json, accrual_period, is_default, is_active, created_at
		FROM policies ORDER BY name`)
}

func (s *Store) ActivePolicyByName(ctx context.Context, name string) (leave.LeavePolicy, bool, error) {
	ps, err := s.queryPolicies(ctx, `
		SELECT id, name, applicability_json, rules_json, accrual_period, is_default, is_active, created_at
		FROM policies WHERE is_active AND name = $1`, name)
	if err != nil {
		return leave.LeavePolicy{}, false, err
	}
	if len(ps) == 0 {
		return leave.LeavePolicy{}, false, nil
	}
	return ps[0], true, nil
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) ([]leave.LeavePolicy, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query policies", Err: err}
	}
	defer rows.Close()

	var out []leave.LeavePolicy
	for rows.Next() {
		var p leave.LeavePolicy
		var applicability, rules []byte
		if err := rows.Scan(&p.ID, &p.Name, &applicability, &rules, &p.AccrualPeriod, &p.IsDefault, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan policy", Err: err}
		}
		if err := decodePolicy(&p, applicability, rules); err != nil {
			return nil, &leave.PersistenceError{Op: "decode policy", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func encodePolicy(p leave.LeavePolicy) (applicability, rules []byte, err error) {
	a, err := json.Marshal(p.Applicability)
	if err != nil {
		return nil, nil, &leave.PersistenceError{Op: "encode policy", Err: err}
	}
	rj := make([]policyRuleJSON, len(p.Rules))
	for i, r := range p.Rules {
		rj[i] = policyRuleJSON{
			LeaveTypeID:     string(r.LeaveTypeID),
			AccrualRate:     r.AccrualRate.String(),
			AnnualAllotment: r.AnnualAllotment.String(),
			MinNoticeDays:   r.MinNoticeDays,
			NoticeMandatory: r.NoticeMandatory,
		}
	}
	b, err := json.Marshal(rj)
	if err != nil {
		return nil, nil, &leave.PersistenceError{Op: "encode policy", Err: err}
	}
	return a, b, nil
}

func decodePolicy(p *leave.LeavePolicy, applicability, rules []byte) error {
	if err := json.Unmarshal(applicability, &p.Applicability); err != nil {
		return err
	}
	var rj []policyRuleJSON
	if err := json.Unmarshal(rules, &rj); err != nil {
		return err
	}
	p.Rules = make([]leave.PolicyRule, len(rj))
	for i, r := range rj {
		rate, err := leave.ParseDays(r.AccrualRate)
		if err != nil {
			return err
		}
		allotment, err := leave.ParseDays(r.AnnualAllotment)
		if err != nil {
			return err
		}
		p.Rules[i] = leave.PolicyRule{
			LeaveTypeID:     leave.LeaveTypeID(r.LeaveTypeID),
			AccrualRate:     rate,
			AnnualAllotment: allotment,
			MinNoticeDays:   r.MinNoticeDays,
			NoticeMandatory: r.NoticeMandatory,
		}
	}
	return nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (s *Store) SaveAssignment(ctx context.Context, a leave.Assignment) error {
	var to *time.Time
	if a.EffectiveTo != nil {
		t := a.EffectiveTo.Time()
		to = &t
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assignments (id, employee_id, policy_id, leave_type_id, effective_from, effective_to, last_accrual_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			effective_to = EXCLUDED.effective_to,
			last_accrual_at = EXCLUDED.last_accrual_at`,
		a.ID, string(a.EmployeeID), string(a.PolicyID), string(a.LeaveTypeID),
		a.EffectiveFrom.Time(), to, a.LastAccrualAt.UTC())
	if err != nil {
		return &leave.PersistenceError{Op: "save assignment", Err: err}
	}
	return nil
}

func (s *Store) ActiveAssignments(ctx context.Context, employeeID leave.EmployeeID, at leave.Date) ([]leave.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT id, employee_id, policy_id, leave_type_id, effective_from, effective_to, last_accrual_at
		FROM assignments
		WHERE employee_id = $1 AND effective_from <= $2 AND (effective_to IS NULL OR effective_to >= $2)
		ORDER BY leave_type_id`,
		string(employeeID), at.Time())
}

func (s *Store) AllActiveAssignments(ctx context.Context, at leave.Date) ([]leave.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT id, employee_id, policy_id, leave_type_id, effective_from, effective_to, last_accrual_at
		FROM assignments
		WHERE effective_from <= $1 AND (effective_to IS NULL OR effective_to >= $1)
		ORDER BY employee_id, leave_type_id`,
		at.Time())
}

func (s *Store) CloseAssignment(ctx context.Context, id string, to leave.Date) error {
	tag, err := s.pool.Exec(ctx, `UPDATE assignments SET effective_to = $1 WHERE id = $2`, to.Time(), id)
	if err != nil {
		return &leave.PersistenceError{Op: "close assignment", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &leave.NotFoundError{Resource: "assignment", ID: id}
	}
	return nil
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]leave.Assignment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query assignments", Err: err}
	}
	defer rows.Close()

	var out []leave.Assignment
	for rows.Next() {
		var a leave.Assignment
		var from time.Time
		var to *time.Time
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.PolicyID, &a.LeaveTypeID, &from, &to, &a.LastAccrualAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan assignment", Err: err}
		}
		a.EffectiveFrom = leave.DateOf(from)
		if to != nil {
			d := leave.DateOf(*to)
			a.EffectiveTo = &d
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// HOLIDAYS AND EMPLOYEES
// =============================================================================

func (s *Store) SaveHoliday(ctx context.Context, h leave.Holiday) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO holidays (id, date, name, recurring) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET date = EXCLUDED.date, name = EXCLUDED.name, recurring = EXCLUDED.recurring`,
		h.ID, h.Date.Time(), h.Name, h.Recurring)
	if err != nil {
		return &leave.PersistenceError{Op: "save holiday", Err: err}
	}
	return nil
}

func (s *Store) ListHolidays(ctx context.Context) ([]leave.Holiday, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, date, name, recurring FROM holidays ORDER BY date`)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "list holidays", Err: err}
	}
	defer rows.Close()

	out := []leave.Holiday{}
	for rows.Next() {
		var h leave.Holiday
		var date time.Time
		if err := rows.Scan(&h.ID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, &leave.PersistenceError{Op: "scan holiday", Err: err}
		}
		h.Date = leave.DateOf(date)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, department, role, manager_id, hire_date FROM employees WHERE id = $1`, string(id))
	var e leave.Employee
	var hireDate time.Time
	err := row.Scan(&e.ID, &e.Name, &e.Department, &e.Role, &e.ManagerID, &hireDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Employee{}, &leave.NotFoundError{Resource: "employee", ID: string(id)}
	}
	if err != nil {
		return leave.Employee{}, &leave.PersistenceError{Op: "get employee", Err: err}
	}
	e.HireDate = leave.DateOf(hireDate)
	return e, nil
}

func (s *Store) UpsertEmployee(ctx context.Context, e leave.Employee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, department, role, manager_id, hire_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, department = EXCLUDED.department,
			role = EXCLUDED.role, manager_id = EXCLUDED.manager_id,
			hire_date = EXCLUDED.hire_date`,
		string(e.ID), e.Name, e.Department, e.Role, e.ManagerID, e.HireDate.Time())
	if err != nil {
		return &leave.PersistenceError{Op: "upsert employee", Err: err}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
