/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Day amounts cross the wire as JSON numbers rounded to two decimals.
  Internally they stay exact decimals; the rounding is display-only.

SEE ALSO:
  - handlers.go: Uses these types
  - leave/types.go: The domain model these project
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/accrual"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/validation"
)

// Response is the envelope every endpoint returns.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// =============================================================================
// BALANCES AND MOVEMENTS
// =============================================================================

type BalanceDTO struct {
	EmployeeID  string    `json:"employeeId"`
	LeaveTypeID string    `json:"leaveTypeId"`
	Year        int       `json:"year"`
	Accrued     float64   `json:"accrued"`
	Used        float64   `json:"used"`
	Reserved    float64   `json:"reserved"`
	Forfeited   float64   `json:"forfeited"`
	Available   float64   `json:"available"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toBalanceDTO(b leave.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:  string(b.EmployeeID),
		LeaveTypeID: string(b.LeaveTypeID),
		Year:        b.Year,
		Accrued:     b.Accrued.Float64(),
		Used:        b.Used.Float64(),
		Reserved:    b.Reserved.Float64(),
		Forfeited:   b.Forfeited.Float64(),
		Available:   b.Available().Float64(),
		UpdatedAt:   b.UpdatedAt,
	}
}

type MovementDTO struct {
	ID          string    `json:"id"`
	EmployeeID  string    `json:"employeeId"`
	LeaveTypeID string    `json:"leaveTypeId"`
	Year        int       `json:"year"`
	Delta       float64   `json:"delta"`
	Kind        string    `json:"kind"`
	RequestID   string    `json:"requestId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ActorID     string    `json:"actorId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toMovementDTO(m leave.Movement) MovementDTO {
	return MovementDTO{
		ID:          string(m.ID),
		EmployeeID:  string(m.EmployeeID),
		LeaveTypeID: string(m.LeaveTypeID),
		Year:        m.Year,
		Delta:       m.Delta.Float64(),
		Kind:        string(m.Kind),
		RequestID:   string(m.RequestID),
		Reason:      m.Reason,
		ActorID:     m.ActorID,
		CreatedAt:   m.CreatedAt,
	}
}

// =============================================================================
// REQUESTS
// =============================================================================

type SubmitRequestDTO struct {
	EmployeeID  string `json:"employeeId"`
	LeaveTypeID string `json:"leaveTypeId"`
	StartDate   string `json:"startDate"` // 2006-01-02
	EndDate     string `json:"endDate"`
	Reason      string `json:"reason,omitempty"`
}

type DecisionRequestDTO struct {
	Reason   string `json:"reason,omitempty"`
	Override bool   `json:"override,omitempty"` // HR: cancel leave already started
}

type RequestDTO struct {
	ID            string     `json:"id"`
	EmployeeID    string     `json:"employeeId"`
	LeaveTypeID   string     `json:"leaveTypeId"`
	StartDate     string     `json:"startDate"`
	EndDate       string     `json:"endDate"`
	DaysRequested float64    `json:"daysRequested"`
	Status        string     `json:"status"`
	ApproverID    string     `json:"approverId,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	DecisionNote  string     `json:"decisionNote,omitempty"`
	SubmittedAt   time.Time  `json:"submittedAt"`
	DecidedAt     *time.Time `json:"decidedAt,omitempty"`
}

func toRequestDTO(r leave.Request) RequestDTO {
	return RequestDTO{
		ID:            string(r.ID),
		EmployeeID:    string(r.EmployeeID),
		LeaveTypeID:   string(r.LeaveTypeID),
		StartDate:     r.StartDate.String(),
		EndDate:       r.EndDate.String(),
		DaysRequested: r.DaysRequested.Float64(),
		Status:        string(r.Status),
		ApproverID:    r.ApproverID,
		Reason:        r.Reason,
		DecisionNote:  r.DecisionNote,
		SubmittedAt:   r.SubmittedAt,
		DecidedAt:     r.DecidedAt,
	}
}

// SubmitResultDTO pairs the created request (when valid) with the
// validation report, so rejected submissions explain themselves.
type SubmitResultDTO struct {
	Request *RequestDTO        `json:"request,omitempty"`
	Report  *validation.Report `json:"report"`
}

// =============================================================================
// CATALOG
// =============================================================================

type LeaveTypeDTO struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	IsPaid               bool      `json:"isPaid"`
	AccrualRatePerPeriod float64   `json:"accrualRatePerPeriod"`
	MaxCarryoverDays     float64   `json:"maxCarryoverDays"`
	RequiresApproval     bool      `json:"requiresApproval"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"createdAt"`
}

func toLeaveTypeDTO(lt leave.LeaveType) LeaveTypeDTO {
	return LeaveTypeDTO{
		ID:                   string(lt.ID),
		Name:                 lt.Name,
		IsPaid:               lt.IsPaid,
		AccrualRatePerPeriod: lt.AccrualRatePerPeriod.Float64(),
		MaxCarryoverDays:     lt.MaxCarryoverDays.Float64(),
		RequiresApproval:     lt.RequiresApproval,
		Active:               lt.Active,
		CreatedAt:            lt.CreatedAt,
	}
}

// fromLeaveTypeDTO builds the domain type; amounts parse through the
// decimal constructor so client floats are normalized once, at the edge.
func fromLeaveTypeDTO(d LeaveTypeDTO) leave.LeaveType {
	return leave.LeaveType{
		ID:                   leave.LeaveTypeID(d.ID),
		Name:                 d.Name,
		IsPaid:               d.IsPaid,
		AccrualRatePerPeriod: leave.DaysOf(d.AccrualRatePerPeriod),
		MaxCarryoverDays:     leave.DaysOf(d.MaxCarryoverDays),
		RequiresApproval:     d.RequiresApproval,
		Active:               d.Active,
	}
}

type PolicyRuleDTO struct {
	LeaveTypeID     string  `json:"leaveTypeId"`
	AccrualRate     float64 `json:"accrualRate"`
	AnnualAllotment float64 `json:"annualAllotment"`
	MinNoticeDays   int     `json:"minNoticeDays"`
	NoticeMandatory bool    `json:"noticeMandatory"`
}

type PolicyDTO struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Roles           []string        `json:"roles,omitempty"`
	Departments     []string        `json:"departments,omitempty"`
	MinTenureMonths int             `json:"minTenureMonths,omitempty"`
	Rules           []PolicyRuleDTO `json:"rules"`
	AccrualPeriod   string          `json:"accrualPeriod"`
	IsDefault       bool            `json:"isDefault"`
	IsActive        bool            `json:"isActive"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func toPolicyDTO(p leave.LeavePolicy) PolicyDTO {
	rules := make([]PolicyRuleDTO, len(p.Rules))
	for i, r := range p.Rules {
		rules[i] = PolicyRuleDTO{
			LeaveTypeID:     string(r.LeaveTypeID),
			AccrualRate:     r.AccrualRate.Float64(),
			AnnualAllotment: r.AnnualAllotment.Float64(),
			MinNoticeDays:   r.MinNoticeDays,
			NoticeMandatory: r.NoticeMandatory,
		}
	}
	return PolicyDTO{
		ID:              string(p.ID),
		Name:            p.Name,
		Roles:           p.Applicability.Roles,
		Departments:     p.Applicability.Departments,
		MinTenureMonths: p.Applicability.MinTenureMonths,
		Rules:           rules,
		AccrualPeriod:   string(p.AccrualPeriod),
		IsDefault:       p.IsDefault,
		IsActive:        p.IsActive,
		CreatedAt:       p.CreatedAt,
	}
}

func fromPolicyDTO(d PolicyDTO) leave.LeavePolicy {
	rules := make([]leave.PolicyRule, len(d.Rules))
	for i, r := range d.Rules {
		rules[i] = leave.PolicyRule{
			LeaveTypeID:     leave.LeaveTypeID(r.LeaveTypeID),
			AccrualRate:     leave.DaysOf(r.AccrualRate),
			AnnualAllotment: leave.DaysOf(r.AnnualAllotment),
			MinNoticeDays:   r.MinNoticeDays,
			NoticeMandatory: r.NoticeMandatory,
		}
	}
	return leave.LeavePolicy{
		ID:   leave.PolicyID(d.ID),
		Name: d.Name,
		Applicability: leave.Applicability{
			Roles:           d.Roles,
			Departments:     d.Departments,
			MinTenureMonths: d.MinTenureMonths,
		},
		Rules:         rules,
		AccrualPeriod: leave.AccrualPeriod(d.AccrualPeriod),
		IsDefault:     d.IsDefault,
		IsActive:      d.IsActive,
	}
}

type AssignmentDTO struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employeeId"`
	PolicyID      string  `json:"policyId"`
	LeaveTypeID   string  `json:"leaveTypeId"`
	EffectiveFrom string  `json:"effectiveFrom"`
	EffectiveTo   *string `json:"effectiveTo,omitempty"`
}

func toAssignmentDTO(a leave.Assignment) AssignmentDTO {
	d := AssignmentDTO{
		ID:            a.ID,
		EmployeeID:    string(a.EmployeeID),
		PolicyID:      string(a.PolicyID),
		LeaveTypeID:   string(a.LeaveTypeID),
		EffectiveFrom: a.EffectiveFrom.String(),
	}
	if a.EffectiveTo != nil {
		to := a.EffectiveTo.String()
		d.EffectiveTo = &to
	}
	return d
}

type AssignPolicyRequestDTO struct {
	EmployeeID    string `json:"employeeId"`
	PolicyID      string `json:"policyId"`
	EffectiveFrom string `json:"effectiveFrom,omitempty"` // default: today
}

// =============================================================================
// EMPLOYEES, HOLIDAYS, ADMIN
// =============================================================================

type EmployeeDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Role       string `json:"role"`
	ManagerID  string `json:"managerId,omitempty"`
	HireDate   string `json:"hireDate"`
}

func toEmployeeDTO(e leave.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:         string(e.ID),
		Name:       e.Name,
		Department: e.Department,
		Role:       e.Role,
		ManagerID:  e.ManagerID,
		HireDate:   e.HireDate.String(),
	}
}

type OnboardRequestDTO struct {
	HireDate string `json:"hireDate,omitempty"` // default: directory record
}

type OnboardResultDTO struct {
	Policy      PolicyDTO          `json:"policy"`
	Assignments []AssignmentDTO    `json:"assignments"`
	Seeded      map[string]float64 `json:"seeded"`
}

type HolidayDTO struct {
	ID        string `json:"id,omitempty"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

func toHolidayDTO(h leave.Holiday) HolidayDTO {
	return HolidayDTO{ID: h.ID, Date: h.Date.String(), Name: h.Name, Recurring: h.Recurring}
}

type AdjustmentRequestDTO struct {
	EmployeeID  string  `json:"employeeId"`
	LeaveTypeID string  `json:"leaveTypeId"`
	Year        int     `json:"year,omitempty"` // default: current year
	Amount      float64 `json:"amount"`         // signed
	Reason      string  `json:"reason"`
}

type RolloverRequestDTO struct {
	Year int `json:"year"` // the year being closed
}

type AccrualReportDTO struct {
	Processed    int                     `json:"processed"`
	TotalAccrued float64                 `json:"totalAccrued"`
	Errors       []accrual.EmployeeError `json:"errors"`
	StartedAt    time.Time               `json:"startedAt"`
	FinishedAt   time.Time               `json:"finishedAt"`
}

func toAccrualReportDTO(r accrual.Report) AccrualReportDTO {
	return AccrualReportDTO{
		Processed:    r.Processed,
		TotalAccrued: r.TotalAccrued.Float64(),
		Errors:       r.Errors,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

type RolloverReportDTO struct {
	Entries   int                     `json:"entries"`
	Carried   float64                 `json:"carried"`
	Forfeited float64                 `json:"forfeited"`
	Errors    []accrual.EmployeeError `json:"errors"`
}

func toRolloverReportDTO(r accrual.RolloverReport) RolloverReportDTO {
	return RolloverReportDTO{
		Entries:   r.Entries,
		Carried:   r.Carried.Float64(),
		Forfeited: r.Forfeited.Float64(),
		Errors:    r.Errors,
	}
}
