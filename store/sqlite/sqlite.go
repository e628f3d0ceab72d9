/*
Package sqlite provides the SQLite-backed leave.Store implementation.

PURPOSE:
  Production persistence for single-node deployments and the integration
  test target (open with ":memory:"). The PostgreSQL driver mirrors the
  same schema; only placeholder syntax and a few column types differ.

CONCURRENCY:
  Balance rows carry a version column. UpdateBalance is a single
  conditional UPDATE (version = version + 1 WHERE version = ?), which is
  the per-key serialization boundary the ledger relies on. ApplyMutation
  wraps the same UPDATE and the movement inserts in one transaction, so a
  mutation and its audit trail commit or roll back together. Request
  decisions use the same pattern conditioned on the expected status, and
  request inserts check overlap exclusion inside their transaction.

ENCODING:
  Day amounts are stored as decimal strings, never floats. Dates are
  ISO-8601 day strings, timestamps RFC 3339. Policy applicability and
  rules are JSON columns; they are read as a unit with the policy and
  never queried into.

WAL MODE:
  The database is opened with WAL so readers do not block the single
  writer.

SEE ALSO:
  - leave/store.go: interface contracts, including CAS semantics
  - store/postgres: the pgx twin of this driver
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/leave"
)

type Store struct {
	db *sql.DB
}

var _ leave.Store = (*Store)(nil)

// New opens (and migrates) a SQLite database. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS balances (
		employee_id   TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year          INTEGER NOT NULL,
		accrued       TEXT NOT NULL,
		used          TEXT NOT NULL,
		reserved      TEXT NOT NULL,
		forfeited     TEXT NOT NULL,
		version       INTEGER NOT NULL,
		updated_at    TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	-- Append-only movement log. No UPDATE, no DELETE, ever.
	CREATE TABLE IF NOT EXISTS movements (
		id            TEXT PRIMARY KEY,
		employee_id   TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year          INTEGER NOT NULL,
		delta         TEXT NOT NULL,
		kind          TEXT NOT NULL,
		request_id    TEXT,
		reason        TEXT,
		actor_id      TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_movements_entry
		ON movements(employee_id, leave_type_id, year);

	CREATE TABLE IF NOT EXISTS requests (
		id             TEXT PRIMARY KEY,
		employee_id    TEXT NOT NULL,
		leave_type_id  TEXT NOT NULL,
		start_date     TEXT NOT NULL,
		end_date       TEXT NOT NULL,
		days_requested TEXT NOT NULL,
		status         TEXT NOT NULL,
		approver_id    TEXT,
		reason         TEXT,
		decision_note  TEXT,
		submitted_at   TEXT NOT NULL,
		decided_at     TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON requests(employee_id, leave_type_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON requests(status);

	CREATE TABLE IF NOT EXISTS leave_types (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		is_paid           INTEGER NOT NULL,
		accrual_rate      TEXT NOT NULL,
		max_carryover     TEXT NOT NULL,
		requires_approval INTEGER NOT NULL,
		active            INTEGER NOT NULL,
		created_at        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS policies (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		applicability_json TEXT NOT NULL,
		rules_json         TEXT NOT NULL,
		accrual_period     TEXT NOT NULL,
		is_default         INTEGER NOT NULL,
		is_active          INTEGER NOT NULL,
		created_at         TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id              TEXT PRIMARY KEY,
		employee_id     TEXT NOT NULL,
		policy_id       TEXT NOT NULL,
		leave_type_id   TEXT NOT NULL,
		effective_from  TEXT NOT NULL,
		effective_to    TEXT,
		last_accrual_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_employee
		ON assignments(employee_id);

	CREATE TABLE IF NOT EXISTS holidays (
		id        TEXT PRIMARY KEY,
		date      TEXT NOT NULL,
		name      TEXT NOT NULL,
		recurring INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		department TEXT NOT NULL,
		role       TEXT NOT NULL,
		manager_id TEXT,
		hire_date  TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT accrued, used, reserved, forfeited, version, updated_at
		FROM balances WHERE employee_id = ? AND leave_type_id = ? AND year = ?`,
		key.EmployeeID, key.LeaveTypeID, key.Year)

	var accrued, used, reserved, forfeited, updatedAt string
	b := leave.Balance{EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID, Year: key.Year}
	err := row.Scan(&accrued, &used, &reserved, &forfeited, &b.Version, &updatedAt)
	if err == sql.ErrNoRows {
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
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return b, nil
}

func (s *Store) CreateBalance(ctx context.Context, b leave.Balance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (employee_id, leave_type_id, year, accrued, used, reserved, forfeited, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		b.EmployeeID, b.LeaveTypeID, b.Year,
		b.Accrued.String(), b.Used.String(), b.Reserved.String(), b.Forfeited.String(),
		b.UpdatedAt.UTC().Format(time.RFC3339))
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE balances
		SET accrued = ?, used = ?, reserved = ?, forfeited = ?, version = version + 1, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND year = ? AND version = ?`,
		b.Accrued.String(), b.Used.String(), b.Reserved.String(), b.Forfeited.String(),
		b.UpdatedAt.UTC().Format(time.RFC3339),
		b.EmployeeID, b.LeaveTypeID, b.Year, b.Version)
	if err != nil {
		return &leave.PersistenceError{Op: "update balance", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &leave.PersistenceError{Op: "update balance", Err: err}
	}
	if n == 0 {
		// Either the row is gone or someone else won the version race.
		if _, err := s.GetBalance(ctx, b.Key()); err != nil {
			return err
		}
		return leave.ErrVersionConflict
	}
	return nil
}

func (s *Store) ApplyMutation(ctx context.Context, b leave.Balance, movs []leave.Movement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &leave.PersistenceError{Op: "apply mutation", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE balances
		SET accrued = ?, used = ?, reserved = ?, forfeited = ?, version = version + 1, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND year = ? AND version = ?`,
		b.Accrued.String(), b.Used.String(), b.Reserved.String(), b.Forfeited.String(),
		b.UpdatedAt.UTC().Format(time.RFC3339),
		b.EmployeeID, b.LeaveTypeID, b.Year, b.Version)
	if err != nil {
		return &leave.PersistenceError{Op: "apply mutation", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &leave.PersistenceError{Op: "apply mutation", Err: err}
	}
	if n == 0 {
		if _, err := s.GetBalance(ctx, b.Key()); err != nil {
			return err
		}
		return leave.ErrVersionConflict
	}

	for _, m := range movs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO movements (id, employee_id, leave_type_id, year, delta, kind, request_id, reason, actor_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.EmployeeID, m.LeaveTypeID, m.Year,
			m.Delta.String(), m.Kind, m.RequestID, m.Reason, m.ActorID,
			m.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return &leave.PersistenceError{Op: "apply mutation", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &leave.PersistenceError{Op: "apply mutation", Err: err}
	}
	return nil
}

func (s *Store) BalancesForEmployee(ctx context.Context, employeeID leave.EmployeeID, year *int) ([]leave.Balance, error) {
	query := `
		SELECT employee_id, leave_type_id, year, accrued, used, reserved, forfeited, version, updated_at
		FROM balances WHERE employee_id = ?`
	args := []any{employeeID}
	if year != nil {
		query += ` AND year = ?`
		args = append(args, *year)
	}
	query += ` ORDER BY leave_type_id, year`
	return s.queryBalances(ctx, query, args...)
}

func (s *Store) BalancesForYear(ctx context.Context, year int) ([]leave.Balance, error) {
	return s.queryBalances(ctx, `
		SELECT employee_id, leave_type_id, year, accrued, used, reserved, forfeited, version, updated_at
		FROM balances WHERE year = ? ORDER BY employee_id, leave_type_id`, year)
}

func (s *Store) queryBalances(ctx context.Context, query string, args ...any) ([]leave.Balance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query balances", Err: err}
	}
	defer rows.Close()

	out := []leave.Balance{}
	for rows.Next() {
		var b leave.Balance
		var accrued, used, reserved, forfeited, updatedAt string
		if err := rows.Scan(&b.EmployeeID, &b.LeaveTypeID, &b.Year, &accrued, &used, &reserved, &forfeited, &b.Version, &updatedAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan balance", Err: err}
		}
		if err := decodeAmounts(&b, accrued, used, reserved, forfeited); err != nil {
			return nil, &leave.PersistenceError{Op: "scan balance", Err: err}
		}
		b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO movements (id, employee_id, leave_type_id, year, delta, kind, request_id, reason, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.EmployeeID, m.LeaveTypeID, m.Year,
		m.Delta.String(), m.Kind, m.RequestID, m.Reason, m.ActorID,
		m.CreatedAt.UTC().Format(time.RFC3339Nano))
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
	if f.EmployeeID != nil {
		query += ` AND employee_id = ?`
		args = append(args, *f.EmployeeID)
	}
	if f.LeaveTypeID != nil {
		query += ` AND leave_type_id = ?`
		args = append(args, *f.LeaveTypeID)
	}
	if f.Year != nil {
		query += ` AND year = ?`
		args = append(args, *f.Year)
	}
	if len(f.Kinds) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Kinds)), ",")
		query += ` AND kind IN (` + placeholders + `)`
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "list movements", Err: err}
	}
	defer rows.Close()

	out := []leave.Movement{}
	for rows.Next() {
		var m leave.Movement
		var delta, createdAt string
		if err := rows.Scan(&m.ID, &m.EmployeeID, &m.LeaveTypeID, &m.Year, &delta, &m.Kind, &m.RequestID, &m.Reason, &m.ActorID, &createdAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan movement", Err: err}
		}
		if m.Delta, err = leave.ParseDays(delta); err != nil {
			return nil, &leave.PersistenceError{Op: "scan movement", Err: err}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *Store) CreateRequest(ctx context.Context, r leave.Request) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &leave.PersistenceError{Op: "create request", Err: err}
	}
	defer tx.Rollback()

	// Overlap exclusion runs inside the insert transaction so two racing
	// submissions for the same dates cannot both land.
	var rival string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM requests
		WHERE employee_id = ? AND leave_type_id = ?
		  AND status NOT IN ('denied', 'cancelled')
		  AND end_date >= ? AND start_date <= ?
		LIMIT 1`,
		r.EmployeeID, r.LeaveTypeID, r.StartDate.String(), r.EndDate.String()).Scan(&rival)
	if err == nil {
		return &leave.ConflictError{Resource: "request", Detail: "dates overlap request " + rival}
	}
	if err != sql.ErrNoRows {
		return &leave.PersistenceError{Op: "create request", Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requests (id, employee_id, leave_type_id, start_date, end_date, days_requested, status, approver_id, reason, decision_note, submitted_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EmployeeID, r.LeaveTypeID,
		r.StartDate.String(), r.EndDate.String(), r.DaysRequested.String(),
		r.Status, r.ApproverID, r.Reason, r.DecisionNote,
		r.SubmittedAt.UTC().Format(time.RFC3339Nano), decidedAt(r))
	if isUniqueViolation(err) {
		return &leave.ConflictError{Resource: "request", Detail: string(r.ID) + " already exists"}
	}
	if err != nil {
		return &leave.PersistenceError{Op: "create request", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &leave.PersistenceError{Op: "create request", Err: err}
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	reqs, err := s.queryRequests(ctx, `
		SELECT id, employee_id, leave_type_id, start_date, end_date, days_requested, status, approver_id, reason, decision_note, submitted_at, decided_at
		FROM requests WHERE id = ?`, id)
	if err != nil {
		return leave.Request{}, err
	}
	if len(reqs) == 0 {
		return leave.Request{}, &leave.NotFoundError{Resource: "request", ID: string(id)}
	}
	return reqs[0], nil
}

func (s *Store) UpdateRequest(ctx context.Context, r leave.Request, expect leave.RequestStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status = ?, approver_id = ?, decision_note = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		r.Status, r.ApproverID, r.DecisionNote, decidedAt(r), r.ID, expect)
	if err != nil {
		return &leave.PersistenceError{Op: "update request", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &leave.PersistenceError{Op: "update request", Err: err}
	}
	if n == 0 {
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
		query += ` AND employee_id = ?`
		args = append(args, *f.EmployeeID)
	}
	if f.LeaveTypeID != nil {
		query += ` AND leave_type_id = ?`
		args = append(args, *f.LeaveTypeID)
	}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, *f.Status)
	}
	if f.From != nil {
		query += ` AND end_date >= ?`
		args = append(args, f.From.String())
	}
	if f.To != nil {
		query += ` AND start_date <= ?`
		args = append(args, f.To.String())
	}
	query += ` ORDER BY submitted_at DESC`
	return s.queryRequests(ctx, query, args...)
}

func (s *Store) OverlappingRequests(ctx context.Context, employeeID leave.EmployeeID, leaveTypeID leave.LeaveTypeID, start, end leave.Date) ([]leave.Request, error) {
	return s.queryRequests(ctx, `
		SELECT id, employee_id, leave_type_id, start_date, end_date, days_requested, status, approver_id, reason, decision_note, submitted_at, decided_at
		FROM requests
		WHERE employee_id = ? AND leave_type_id = ?
		  AND status NOT IN ('denied', 'cancelled')
		  AND end_date >= ? AND start_date <= ?
		ORDER BY submitted_at`,
		employeeID, leaveTypeID, start.String(), end.String())
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query requests", Err: err}
	}
	defer rows.Close()

	out := []leave.Request{}
	for rows.Next() {
		var r leave.Request
		var start, end, days, submittedAt string
		var decided sql.NullString
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &start, &end, &days, &r.Status, &r.ApproverID, &r.Reason, &r.DecisionNote, &submittedAt, &decided); err != nil {
			return nil, &leave.PersistenceError{Op: "scan request", Err: err}
		}
		if r.StartDate, err = leave.ParseDate(start); err != nil {
			return nil, &leave.PersistenceError{Op: "scan request", Err: err}
		}
		if r.EndDate, err = leave.ParseDate(end); err != nil {
			return nil, &leave.PersistenceError{Op: "scan request", Err: err}
		}
		if r.DaysRequested, err = leave.ParseDays(days); err != nil {
			return nil, &leave.PersistenceError{Op: "scan request", Err: err}
		}
		r.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
		if decided.Valid && decided.String != "" {
			t, _ := time.Parse(time.RFC3339Nano, decided.String)
			r.DecidedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decidedAt(r leave.Request) any {
	if r.DecidedAt == nil {
		return nil
	}
	return r.DecidedAt.UTC().Format(time.RFC3339Nano)
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) CreateLeaveType(ctx context.Context, lt leave.LeaveType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_types (id, name, is_paid, accrual_rate, max_carryover, requires_approval, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lt.ID, lt.Name, lt.IsPaid, lt.AccrualRatePerPeriod.String(), lt.MaxCarryoverDays.String(),
		lt.RequiresApproval, lt.Active, lt.CreatedAt.UTC().Format(time.RFC3339))
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
		FROM leave_types WHERE id = ?`, id)
	if err != nil {
		return leave.LeaveType{}, err
	}
	if len(lts) == 0 {
		return leave.LeaveType{}, &leave.NotFoundError{Resource: "leave type", ID: string(id)}
	}
	return lts[0], nil
}

func (s *Store) UpdateLeaveType(ctx context.Context, lt leave.LeaveType) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leave_types
		SET name = ?, is_paid = ?, accrual_rate = ?, max_carryover = ?, requires_approval = ?, active = ?
		WHERE id = ?`,
		lt.Name, lt.IsPaid, lt.AccrualRatePerPeriod.String(), lt.MaxCarryoverDays.String(),
		lt.RequiresApproval, lt.Active, lt.ID)
	if err != nil {
		return &leave.PersistenceError{Op: "update leave type", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
		FROM leave_types WHERE active = 1 AND name = ?`, name)
	if err != nil {
		return leave.LeaveType{}, false, err
	}
	if len(lts) == 0 {
		return leave.LeaveType{}, false, nil
	}
	return lts[0], true, nil
}

func (s *Store) queryLeaveTypes(ctx context.Context, query string, args ...any) ([]leave.LeaveType, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query leave types", Err: err}
	}
	defer rows.Close()

	var out []leave.LeaveType
	for rows.Next() {
		var lt leave.LeaveType
		var rate, carryover, createdAt string
		if err := rows.Scan(&lt.ID, &lt.Name, &lt.IsPaid, &rate, &carryover, &lt.RequiresApproval, &lt.Active, &createdAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan leave type", Err: err}
		}
		if lt.AccrualRatePerPeriod, err = leave.ParseDays(rate); err != nil {
			return nil, &leave.PersistenceError{Op: "scan leave type", Err: err}
		}
		if lt.MaxCarryoverDays, err = leave.ParseDays(carryover); err != nil {
			return nil, &leave.PersistenceError{Op: "scan leave type", Err: err}
		}
		lt.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, lt)
	}
	return out, rows.Err()
}

// policyRuleJSON is the stored JSON shape for rules; Days encode as strings
// so the column survives decimal precision round-trips.
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
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (id, name, applicability_json, rules_json, accrual_period, is_default, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, applicability, rules, p.AccrualPeriod, p.IsDefault, p.IsActive,
		p.CreatedAt.UTC().Format(time.RFC3339))
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
		FROM policies WHERE id = ?`, id)
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE policies
		SET name = ?, applicability_json = ?, rules_json = ?, accrual_period = ?, is_default = ?, is_active = ?
		WHERE id = ?`,
		p.Name, applicability, rules, p.AccrualPeriod, p.IsDefault, p.IsActive, p.ID)
	if err != nil {
		return &leave.PersistenceError{Op: "update policy", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
		FROM policies WHERE is_active = 1 AND name = ?`, name)
	if err != nil {
		return leave.LeavePolicy{}, false, err
	}
	if len(ps) == 0 {
		return leave.LeavePolicy{}, false, nil
	}
	return ps[0], true, nil
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) ([]leave.LeavePolicy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query policies", Err: err}
	}
	defer rows.Close()

	var out []leave.LeavePolicy
	for rows.Next() {
		var p leave.LeavePolicy
		var applicability, rules, createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &applicability, &rules, &p.AccrualPeriod, &p.IsDefault, &p.IsActive, &createdAt); err != nil {
			return nil, &leave.PersistenceError{Op: "scan policy", Err: err}
		}
		if err := decodePolicy(&p, applicability, rules); err != nil {
			return nil, &leave.PersistenceError{Op: "decode policy", Err: err}
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func encodePolicy(p leave.LeavePolicy) (applicability, rules string, err error) {
	a, err := json.Marshal(p.Applicability)
	if err != nil {
		return "", "", &leave.PersistenceError{Op: "encode policy", Err: err}
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
		return "", "", &leave.PersistenceError{Op: "encode policy", Err: err}
	}
	return string(a), string(b), nil
}

func decodePolicy(p *leave.LeavePolicy, applicability, rules string) error {
	if err := json.Unmarshal([]byte(applicability), &p.Applicability); err != nil {
		return err
	}
	var rj []policyRuleJSON
	if err := json.Unmarshal([]byte(rules), &rj); err != nil {
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
	var to any
	if a.EffectiveTo != nil {
		to = a.EffectiveTo.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (id, employee_id, policy_id, leave_type_id, effective_from, effective_to, last_accrual_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			effective_to = excluded.effective_to,
			last_accrual_at = excluded.last_accrual_at`,
		a.ID, a.EmployeeID, a.PolicyID, a.LeaveTypeID,
		a.EffectiveFrom.String(), to, a.LastAccrualAt.UTC().Format(time.RFC3339))
	if err != nil {
		return &leave.PersistenceError{Op: "save assignment", Err: err}
	}
	return nil
}

func (s *Store) ActiveAssignments(ctx context.Context, employeeID leave.EmployeeID, at leave.Date) ([]leave.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT id, employee_id, policy_id, leave_type_id, effective_from, effective_to, last_accrual_at
		FROM assignments
		WHERE employee_id = ? AND effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)
		ORDER BY leave_type_id`,
		employeeID, at.String(), at.String())
}

func (s *Store) AllActiveAssignments(ctx context.Context, at leave.Date) ([]leave.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT id, employee_id, policy_id, leave_type_id, effective_from, effective_to, last_accrual_at
		FROM assignments
		WHERE effective_from <= ? AND (effective_to IS NULL OR effective_to >= ?)
		ORDER BY employee_id, leave_type_id`,
		at.String(), at.String())
}

func (s *Store) CloseAssignment(ctx context.Context, id string, to leave.Date) error {
	res, err := s.db.ExecContext(ctx, `UPDATE assignments SET effective_to = ? WHERE id = ?`, to.String(), id)
	if err != nil {
		return &leave.PersistenceError{Op: "close assignment", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &leave.NotFoundError{Resource: "assignment", ID: id}
	}
	return nil
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]leave.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "query assignments", Err: err}
	}
	defer rows.Close()

	var out []leave.Assignment
	for rows.Next() {
		var a leave.Assignment
		var from, lastAccrual string
		var to sql.NullString
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.PolicyID, &a.LeaveTypeID, &from, &to, &lastAccrual); err != nil {
			return nil, &leave.PersistenceError{Op: "scan assignment", Err: err}
		}
		if a.EffectiveFrom, err = leave.ParseDate(from); err != nil {
			return nil, &leave.PersistenceError{Op: "scan assignment", Err: err}
		}
		if to.Valid && to.String != "" {
			d, err := leave.ParseDate(to.String)
			if err != nil {
				return nil, &leave.PersistenceError{Op: "scan assignment", Err: err}
			}
			a.EffectiveTo = &d
		}
		a.LastAccrualAt, _ = time.Parse(time.RFC3339, lastAccrual)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// HOLIDAYS AND EMPLOYEES
// =============================================================================

func (s *Store) SaveHoliday(ctx context.Context, h leave.Holiday) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name, recurring) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET date = excluded.date, name = excluded.name, recurring = excluded.recurring`,
		h.ID, h.Date.String(), h.Name, h.Recurring)
	if err != nil {
		return &leave.PersistenceError{Op: "save holiday", Err: err}
	}
	return nil
}

func (s *Store) ListHolidays(ctx context.Context) ([]leave.Holiday, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, date, name, recurring FROM holidays ORDER BY date`)
	if err != nil {
		return nil, &leave.PersistenceError{Op: "list holidays", Err: err}
	}
	defer rows.Close()

	out := []leave.Holiday{}
	for rows.Next() {
		var h leave.Holiday
		var date string
		if err := rows.Scan(&h.ID, &date, &h.Name, &h.Recurring); err != nil {
			return nil, &leave.PersistenceError{Op: "scan holiday", Err: err}
		}
		if h.Date, err = leave.ParseDate(date); err != nil {
			return nil, &leave.PersistenceError{Op: "scan holiday", Err: err}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.Employee, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, department, role, manager_id, hire_date FROM employees WHERE id = ?`, id)
	var e leave.Employee
	var manager sql.NullString
	var hireDate string
	err := row.Scan(&e.ID, &e.Name, &e.Department, &e.Role, &manager, &hireDate)
	if err == sql.ErrNoRows {
		return leave.Employee{}, &leave.NotFoundError{Resource: "employee", ID: string(id)}
	}
	if err != nil {
		return leave.Employee{}, &leave.PersistenceError{Op: "get employee", Err: err}
	}
	e.ManagerID = manager.String
	if e.HireDate, err = leave.ParseDate(hireDate); err != nil {
		return leave.Employee{}, &leave.PersistenceError{Op: "get employee", Err: err}
	}
	return e, nil
}

func (s *Store) UpsertEmployee(ctx context.Context, e leave.Employee) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, department, role, manager_id, hire_date)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, department = excluded.department,
			role = excluded.role, manager_id = excluded.manager_id,
			hire_date = excluded.hire_date`,
		e.ID, e.Name, e.Department, e.Role, e.ManagerID, e.HireDate.String())
	if err != nil {
		return &leave.PersistenceError{Op: "upsert employee", Err: err}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
