// Package memory provides the in-memory leave.Store implementation used by
// tests and development. Semantics match the SQL drivers: balance updates
// are compare-and-swap on Version, request updates are conditional on the
// expected status, and the movement log is append-only.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/leave-engine/leave"
)

type Store struct {
	mu sync.RWMutex

	balances    map[leave.BalanceKey]leave.Balance
	movements   []leave.Movement
	requests    map[leave.RequestID]leave.Request
	leaveTypes  map[leave.LeaveTypeID]leave.LeaveType
	policies    map[leave.PolicyID]leave.LeavePolicy
	assignments map[string]leave.Assignment
	holidays    []leave.Holiday
	employees   map[leave.EmployeeID]leave.Employee
}

var _ leave.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		balances:    make(map[leave.BalanceKey]leave.Balance),
		requests:    make(map[leave.RequestID]leave.Request),
		leaveTypes:  make(map[leave.LeaveTypeID]leave.LeaveType),
		policies:    make(map[leave.PolicyID]leave.LeavePolicy),
		assignments: make(map[string]leave.Assignment),
		employees:   make(map[leave.EmployeeID]leave.Employee),
	}
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) GetBalance(_ context.Context, key leave.BalanceKey) (leave.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[key]
	if !ok {
		return leave.Balance{}, &leave.NotFoundError{Resource: "balance", ID: balanceID(key)}
	}
	return b, nil
}

func (s *Store) CreateBalance(_ context.Context, b leave.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := b.Key()
	if _, ok := s.balances[key]; ok {
		return &leave.ConflictError{Resource: "balance", Detail: balanceID(key) + " already exists"}
	}
	b.Version = 1
	s.balances[key] = b
	return nil
}

func (s *Store) UpdateBalance(_ context.Context, b leave.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := b.Key()
	current, ok := s.balances[key]
	if !ok {
		return &leave.NotFoundError{Resource: "balance", ID: balanceID(key)}
	}
	if current.Version != b.Version {
		return leave.ErrVersionConflict
	}
	b.Version++
	s.balances[key] = b
	return nil
}

func (s *Store) ApplyMutation(_ context.Context, b leave.Balance, movs []leave.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := b.Key()
	current, ok := s.balances[key]
	if !ok {
		return &leave.NotFoundError{Resource: "balance", ID: balanceID(key)}
	}
	if current.Version != b.Version {
		return leave.ErrVersionConflict
	}
	b.Version++
	s.balances[key] = b
	s.movements = append(s.movements, movs...)
	return nil
}

func (s *Store) BalancesForEmployee(_ context.Context, employeeID leave.EmployeeID, year *int) ([]leave.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leave.Balance
	for key, b := range s.balances {
		if key.EmployeeID != employeeID {
			continue
		}
		if year != nil && key.Year != *year {
			continue
		}
		out = append(out, b)
	}
	sortBalances(out)
	return out, nil
}

func (s *Store) BalancesForYear(_ context.Context, year int) ([]leave.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leave.Balance
	for key, b := range s.balances {
		if key.Year == year {
			out = append(out, b)
		}
	}
	sortBalances(out)
	return out, nil
}

func sortBalances(bs []leave.Balance) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].EmployeeID != bs[j].EmployeeID {
			return bs[i].EmployeeID < bs[j].EmployeeID
		}
		if bs[i].LeaveTypeID != bs[j].LeaveTypeID {
			return bs[i].LeaveTypeID < bs[j].LeaveTypeID
		}
		return bs[i].Year < bs[j].Year
	})
}

func balanceID(key leave.BalanceKey) string {
	return fmt.Sprintf("%s/%s/%d", key.EmployeeID, key.LeaveTypeID, key.Year)
}

// =============================================================================
// MOVEMENTS - Append-only
// =============================================================================

func (s *Store) AppendMovement(_ context.Context, m leave.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, m)
	return nil
}

func (s *Store) ListMovements(_ context.Context, f leave.MovementFilter) ([]leave.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []leave.Movement{}
	for _, m := range s.movements {
		if f.EmployeeID != nil && m.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.LeaveTypeID != nil && m.LeaveTypeID != *f.LeaveTypeID {
			continue
		}
		if f.Year != nil && m.Year != *f.Year {
			continue
		}
		if len(f.Kinds) > 0 && !kindIn(m.Kind, f.Kinds) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func kindIn(k leave.MovementKind, kinds []leave.MovementKind) bool {
	for _, other := range kinds {
		if k == other {
			return true
		}
	}
	return false
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *Store) CreateRequest(_ context.Context, r leave.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return &leave.ConflictError{Resource: "request", Detail: string(r.ID) + " already exists"}
	}
	for _, other := range s.requests {
		if other.EmployeeID != r.EmployeeID || other.LeaveTypeID != r.LeaveTypeID {
			continue
		}
		if !other.Terminal() && other.Overlaps(r.StartDate, r.EndDate) {
			return &leave.ConflictError{Resource: "request", Detail: "dates overlap request " + string(other.ID)}
		}
	}
	s.requests[r.ID] = r
	return nil
}

func (s *Store) GetRequest(_ context.Context, id leave.RequestID) (leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return leave.Request{}, &leave.NotFoundError{Resource: "request", ID: string(id)}
	}
	return r, nil
}

func (s *Store) UpdateRequest(_ context.Context, r leave.Request, expect leave.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[r.ID]
	if !ok {
		return &leave.NotFoundError{Resource: "request", ID: string(r.ID)}
	}
	if current.Status != expect {
		return leave.ErrVersionConflict
	}
	s.requests[r.ID] = r
	return nil
}

func (s *Store) ListRequests(_ context.Context, f leave.RequestFilter) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []leave.Request{}
	for _, r := range s.requests {
		if f.EmployeeID != nil && r.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.LeaveTypeID != nil && r.LeaveTypeID != *f.LeaveTypeID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.From != nil && r.EndDate.Before(*f.From) {
			continue
		}
		if f.To != nil && r.StartDate.After(*f.To) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

func (s *Store) OverlappingRequests(_ context.Context, employeeID leave.EmployeeID, leaveTypeID leave.LeaveTypeID, start, end leave.Date) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leave.Request
	for _, r := range s.requests {
		if r.EmployeeID != employeeID || r.LeaveTypeID != leaveTypeID {
			continue
		}
		if r.Terminal() {
			continue
		}
		if r.Overlaps(start, end) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) CreateLeaveType(_ context.Context, lt leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leaveTypes[lt.ID]; ok {
		return &leave.ConflictError{Resource: "leave type", Detail: string(lt.ID) + " already exists"}
	}
	s.leaveTypes[lt.ID] = lt
	return nil
}

func (s *Store) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lt, ok := s.leaveTypes[id]
	if !ok {
		return leave.LeaveType{}, &leave.NotFoundError{Resource: "leave type", ID: string(id)}
	}
	return lt, nil
}

func (s *Store) UpdateLeaveType(_ context.Context, lt leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leaveTypes[lt.ID]; !ok {
		return &leave.NotFoundError{Resource: "leave type", ID: string(lt.ID)}
	}
	s.leaveTypes[lt.ID] = lt
	return nil
}

func (s *Store) ListLeaveTypes(_ context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leave.LeaveType, 0, len(s.leaveTypes))
	for _, lt := range s.leaveTypes {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ActiveLeaveTypeByName(_ context.Context, name string) (leave.LeaveType, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, lt := range s.leaveTypes {
		if lt.Active && lt.Name == name {
			return lt, true, nil
		}
	}
	return leave.LeaveType{}, false, nil
}

func (s *Store) CreatePolicy(_ context.Context, p leave.LeavePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; ok {
		return &leave.ConflictError{Resource: "policy", Detail: string(p.ID) + " already exists"}
	}
	s.policies[p.ID] = p
	return nil
}

func (s *Store) GetPolicy(_ context.Context, id leave.PolicyID) (leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return leave.LeavePolicy{}, &leave.NotFoundError{Resource: "policy", ID: string(id)}
	}
	return p, nil
}

func (s *Store) UpdatePolicy(_ context.Context, p leave.LeavePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return &leave.NotFoundError{Resource: "policy", ID: string(p.ID)}
	}
	s.policies[p.ID] = p
	return nil
}

func (s *Store) ListPolicies(_ context.Context) ([]leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leave.LeavePolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ActivePolicyByName(_ context.Context, name string) (leave.LeavePolicy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.policies {
		if p.IsActive && p.Name == name {
			return p, true, nil
		}
	}
	return leave.LeavePolicy{}, false, nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (s *Store) SaveAssignment(_ context.Context, a leave.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.ID] = a
	return nil
}

func (s *Store) ActiveAssignments(_ context.Context, employeeID leave.EmployeeID, at leave.Date) ([]leave.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leave.Assignment
	for _, a := range s.assignments {
		if a.EmployeeID == employeeID && a.IsActive(at) {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (s *Store) AllActiveAssignments(_ context.Context, at leave.Date) ([]leave.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []leave.Assignment
	for _, a := range s.assignments {
		if a.IsActive(at) {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (s *Store) CloseAssignment(_ context.Context, id string, to leave.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return &leave.NotFoundError{Resource: "assignment", ID: id}
	}
	a.EffectiveTo = &to
	s.assignments[id] = a
	return nil
}

func sortAssignments(as []leave.Assignment) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].EmployeeID != as[j].EmployeeID {
			return as[i].EmployeeID < as[j].EmployeeID
		}
		return as[i].LeaveTypeID < as[j].LeaveTypeID
	})
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (s *Store) SaveHoliday(_ context.Context, h leave.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holidays = append(s.holidays, h)
	return nil
}

func (s *Store) ListHolidays(_ context.Context) ([]leave.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leave.Holiday, len(s.holidays))
	copy(out, s.holidays)
	return out, nil
}

// =============================================================================
// EMPLOYEE DIRECTORY SNAPSHOT
// =============================================================================

func (s *Store) GetEmployee(_ context.Context, id leave.EmployeeID) (leave.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.employees[id]
	if !ok {
		return leave.Employee{}, &leave.NotFoundError{Resource: "employee", ID: string(id)}
	}
	return e, nil
}

func (s *Store) UpsertEmployee(_ context.Context, e leave.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[e.ID] = e
	return nil
}
