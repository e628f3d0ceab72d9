/*
handlers.go - HTTP handlers for the leave engine API

PURPOSE:
  Translates HTTP requests into service calls and domain errors into
  status codes. Handlers stay thin: parse, delegate, encode. All business
  rules live in the catalog, request, ledger, and accrual packages.

ERROR MAPPING:
  ValidationError          400
  NotFoundError            404
  ConflictError            409 (includes lost decision races)
  InsufficientBalanceError 422
  PersistenceError         503
  anything else            500

ACTOR IDENTITY:
  Authentication happens upstream. The gateway forwards the caller in
  X-Actor-ID and the role in X-Actor-Role ("hr" unlocks HR operations).
  Handlers trust these headers.

SEE ALSO:
  - dto.go: Wire types
  - server.go: Route wiring
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/catalog"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/request"
)

type Handler struct {
	Catalog  *catalog.Service
	Requests *request.Service
	Ledger   *ledger.Service
	Runner   *accrual.Runner
	Store    leave.Store
	Logger   *slog.Logger
}

func NewHandler(cat *catalog.Service, req *request.Service, lg *ledger.Service, runner *accrual.Runner, store leave.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Catalog: cat, Requests: req, Ledger: lg, Runner: runner, Store: store, Logger: logger}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, Response{Success: false, Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, leave.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, leave.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, leave.ErrConflict), errors.Is(err, leave.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, leave.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, leave.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &leave.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

func actor(r *http.Request) string {
	if id := r.Header.Get("X-Actor-ID"); id != "" {
		return id
	}
	return "anonymous"
}

func isHR(r *http.Request) bool {
	return r.Header.Get("X-Actor-Role") == "hr"
}

func parseDateParam(value, field string) (leave.Date, error) {
	d, err := leave.ParseDate(value)
	if err != nil {
		return leave.Date{}, &leave.ValidationError{Field: field, Message: "want YYYY-MM-DD, got " + value}
	}
	return d, nil
}

func parseYearParam(value string) (int, error) {
	year, err := strconv.Atoi(value)
	if err != nil {
		return 0, &leave.ValidationError{Field: "year", Message: "want a number, got " + value}
	}
	return year, nil
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	lts, err := h.Catalog.ListLeaveTypes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]LeaveTypeDTO, len(lts))
	for i, lt := range lts {
		out[i] = toLeaveTypeDTO(lt)
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var dto LeaveTypeDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	lt, err := h.Catalog.CreateLeaveType(r.Context(), fromLeaveTypeDTO(dto))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: toLeaveTypeDTO(lt)})
}

func (h *Handler) UpdateLeaveType(w http.ResponseWriter, r *http.Request) {
	var dto LeaveTypeDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	dto.ID = chi.URLParam(r, "id")
	lt, err := h.Catalog.UpdateLeaveType(r.Context(), fromLeaveTypeDTO(dto))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toLeaveTypeDTO(lt)})
}

func (h *Handler) DeactivateLeaveType(w http.ResponseWriter, r *http.Request) {
	id := leave.LeaveTypeID(chi.URLParam(r, "id"))
	if err := h.Catalog.DeactivateLeaveType(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "leave type deactivated"})
}

// =============================================================================
// POLICIES
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Catalog.ListPolicies(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]PolicyDTO, len(ps))
	for i, p := range ps {
		out[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var dto PolicyDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Catalog.CreatePolicy(r.Context(), fromPolicyDTO(dto))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: toPolicyDTO(p)})
}

func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var dto PolicyDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	dto.ID = chi.URLParam(r, "id")
	p, err := h.Catalog.UpdatePolicy(r.Context(), fromPolicyDTO(dto))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toPolicyDTO(p)})
}

func (h *Handler) AssignPolicy(w http.ResponseWriter, r *http.Request) {
	var dto AssignPolicyRequestDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	from := leave.Today()
	if dto.EffectiveFrom != "" {
		var err error
		if from, err = parseDateParam(dto.EffectiveFrom, "effectiveFrom"); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	assignments, err := h.Catalog.AssignPolicy(r.Context(), leave.EmployeeID(dto.EmployeeID), leave.PolicyID(dto.PolicyID), from)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]AssignmentDTO, len(assignments))
	for i, a := range assignments {
		out[i] = toAssignmentDTO(a)
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: out})
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (h *Handler) UpsertEmployee(w http.ResponseWriter, r *http.Request) {
	var dto EmployeeDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	if dto.ID == "" {
		h.writeError(w, r, &leave.ValidationError{Field: "id", Message: "employee id is required"})
		return
	}
	hireDate, err := parseDateParam(dto.HireDate, "hireDate")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	emp := leave.Employee{
		ID:         leave.EmployeeID(dto.ID),
		Name:       dto.Name,
		Department: dto.Department,
		Role:       dto.Role,
		ManagerID:  dto.ManagerID,
		HireDate:   hireDate,
	}
	if err := h.Store.UpsertEmployee(r.Context(), emp); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toEmployeeDTO(emp)})
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), leave.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toEmployeeDTO(emp)})
}

func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	var dto OnboardRequestDTO
	if r.ContentLength > 0 {
		if err := decode(r, &dto); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	var hireDate leave.Date
	if dto.HireDate != "" {
		var err error
		if hireDate, err = parseDateParam(dto.HireDate, "hireDate"); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	result, err := h.Catalog.Onboard(r.Context(), leave.EmployeeID(chi.URLParam(r, "id")), hireDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := OnboardResultDTO{
		Policy:      toPolicyDTO(result.Policy),
		Assignments: make([]AssignmentDTO, len(result.Assignments)),
		Seeded:      make(map[string]float64, len(result.Seeded)),
	}
	for i, a := range result.Assignments {
		out.Assignments[i] = toAssignmentDTO(a)
	}
	for ltID, days := range result.Seeded {
		out.Seeded[string(ltID)] = days.Float64()
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: out})
}

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	employeeID := leave.EmployeeID(chi.URLParam(r, "id"))
	var year *int
	if y := r.URL.Query().Get("year"); y != "" {
		parsed, err := parseYearParam(y)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		year = &parsed
	}
	balances, err := h.Ledger.Balances(r.Context(), employeeID, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]BalanceDTO, len(balances))
	for i, b := range balances {
		out[i] = toBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	employeeID := leave.EmployeeID(chi.URLParam(r, "id"))
	f := leave.MovementFilter{EmployeeID: &employeeID}
	q := r.URL.Query()
	if lt := q.Get("leaveType"); lt != "" {
		id := leave.LeaveTypeID(lt)
		f.LeaveTypeID = &id
	}
	if y := q.Get("year"); y != "" {
		parsed, err := parseYearParam(y)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		f.Year = &parsed
	}
	movements, err := h.Ledger.Movements(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]MovementDTO, len(movements))
	for i, m := range movements {
		out[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// =============================================================================
// REQUESTS
// =============================================================================

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var dto SubmitRequestDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	start, err := parseDateParam(dto.StartDate, "startDate")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := parseDateParam(dto.EndDate, "endDate")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req, report, err := h.Requests.Submit(r.Context(),
		leave.EmployeeID(dto.EmployeeID), leave.LeaveTypeID(dto.LeaveTypeID), start, end, dto.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req == nil {
		// Validation rejected it; the report says why.
		writeJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Message: "request rejected by validation",
			Data:    SubmitResultDTO{Report: report},
		})
		return
	}
	reqDTO := toRequestDTO(*req)
	writeJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    SubmitResultDTO{Request: &reqDTO, Report: report},
	})
}

// ValidateRequest is the advisory pre-submission check. Always 200; the
// verdict is in the report. Submission re-validates authoritatively.
func (h *Handler) ValidateRequest(w http.ResponseWriter, r *http.Request) {
	var dto SubmitRequestDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	start, err := parseDateParam(dto.StartDate, "startDate")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := parseDateParam(dto.EndDate, "endDate")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.Requests.Validate(r.Context(),
		leave.EmployeeID(dto.EmployeeID), leave.LeaveTypeID(dto.LeaveTypeID), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: report})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.Get(r.Context(), leave.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toRequestDTO(req)})
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	var f leave.RequestFilter
	q := r.URL.Query()
	if e := q.Get("employee"); e != "" {
		id := leave.EmployeeID(e)
		f.EmployeeID = &id
	}
	if lt := q.Get("leaveType"); lt != "" {
		id := leave.LeaveTypeID(lt)
		f.LeaveTypeID = &id
	}
	if s := q.Get("status"); s != "" {
		status := leave.RequestStatus(s)
		f.Status = &status
	}
	if from := q.Get("from"); from != "" {
		d, err := parseDateParam(from, "from")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		f.From = &d
	}
	if to := q.Get("to"); to != "" {
		d, err := parseDateParam(to, "to")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		f.To = &d
	}

	requests, err := h.Requests.List(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]RequestDTO, len(requests))
	for i, req := range requests {
		out[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Requests.Approve(r.Context(), leave.RequestID(chi.URLParam(r, "id")), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toRequestDTO(*req)})
}

func (h *Handler) DenyRequest(w http.ResponseWriter, r *http.Request) {
	var dto DecisionRequestDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.Requests.Deny(r.Context(), leave.RequestID(chi.URLParam(r, "id")), actor(r), dto.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toRequestDTO(*req)})
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var dto DecisionRequestDTO
	if r.ContentLength > 0 {
		if err := decode(r, &dto); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	req, err := h.Requests.Cancel(r.Context(), leave.RequestID(chi.URLParam(r, "id")), actor(r), isHR(r), dto.Override)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toRequestDTO(*req)})
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]HolidayDTO, len(holidays))
	for i, hd := range holidays {
		out[i] = toHolidayDTO(hd)
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var dto HolidayDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	date, err := parseDateParam(dto.Date, "date")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if dto.Name == "" {
		h.writeError(w, r, &leave.ValidationError{Field: "name", Message: "holiday name is required"})
		return
	}
	hd := leave.Holiday{ID: dto.ID, Date: date, Name: dto.Name, Recurring: dto.Recurring}
	if hd.ID == "" {
		hd.ID = dto.Date + "/" + dto.Name
	}
	if err := h.Store.SaveHoliday(r.Context(), hd); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: toHolidayDTO(hd)})
}

// =============================================================================
// ADMIN
// =============================================================================

// CreateAdjustment posts a signed manual correction to the ledger.
// HR only; the reason lands verbatim in the movement log.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	if !isHR(r) {
		writeJSON(w, http.StatusForbidden, Response{Success: false, Message: "adjustments require the hr role"})
		return
	}
	var dto AdjustmentRequestDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	year := dto.Year
	if year == 0 {
		year = leave.Today().Year()
	}
	key := leave.BalanceKey{
		EmployeeID:  leave.EmployeeID(dto.EmployeeID),
		LeaveTypeID: leave.LeaveTypeID(dto.LeaveTypeID),
		Year:        year,
	}
	if err := h.Ledger.Adjust(r.Context(), key, leave.DaysOf(dto.Amount), actor(r), dto.Reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	balance, err := h.Ledger.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toBalanceDTO(balance)})
}

func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	if !isHR(r) {
		writeJSON(w, http.StatusForbidden, Response{Success: false, Message: "manual accrual requires the hr role"})
		return
	}
	report, err := h.Runner.Run(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toAccrualReportDTO(report)})
}

func (h *Handler) RunRollover(w http.ResponseWriter, r *http.Request) {
	if !isHR(r) {
		writeJSON(w, http.StatusForbidden, Response{Success: false, Message: "rollover requires the hr role"})
		return
	}
	var dto RolloverRequestDTO
	if err := decode(r, &dto); err != nil {
		h.writeError(w, r, err)
		return
	}
	if dto.Year == 0 {
		h.writeError(w, r, &leave.ValidationError{Field: "year", Message: "the year to close is required"})
		return
	}
	report, err := h.Runner.Rollover(r.Context(), dto.Year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toRolloverReportDTO(report)})
}
