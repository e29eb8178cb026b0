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
  - *Response: Complex response wrappers

TYPES:
  Assignments:
    AssignmentDTO, CreateAssignmentRequest, UpdateAssignmentRequest,
    AssignmentResultDTO, UserAllocationDTO

  PTO month:
    SavePTORequest, PTODayDTO, ReconcileResultDTO

  Time entries:
    TimeEntryRequest, TimeEntryDTO, TimeEntryListDTO, SyncTimeEntryRequest

VALIDATION:
  Request shapes carry go-playground/validator tags, checked in decode()
  before anything reaches the engine. Range rules the engine owns (start
  before end, per-day capacity) are checked there.

SEE ALSO:
  - handlers.go: Uses these types
  - allocation/engine.go: The operations behind them
*/
package api

import (
	"time"

	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// CreateAssignmentRequest is the body of POST /api/assignments.
type CreateAssignmentRequest struct {
	UserID          int64  `json:"user_id" validate:"required,gt=0"`
	ProjectID       int64  `json:"project_id" validate:"required,gt=0"`
	AllocationHours *int   `json:"allocation_hours" validate:"required,min=0,max=160"`
	StartDate       string `json:"start_date" validate:"required"`
	EndDate         string `json:"end_date" validate:"required"`
}

// UpdateAssignmentRequest is the body of PUT /api/assignments/{id}.
// Omitted fields keep their current value.
type UpdateAssignmentRequest struct {
	AllocationHours *int    `json:"allocation_hours" validate:"omitempty,min=0,max=160"`
	StartDate       *string `json:"start_date" validate:"omitempty"`
	EndDate         *string `json:"end_date" validate:"omitempty"`
}

// AssignmentDTO represents an assignment in API responses.
type AssignmentDTO struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	ProjectID       int64     `json:"project_id"`
	ProjectName     string    `json:"project_name,omitempty"`
	Client          string    `json:"client,omitempty"`
	AllocationHours int       `json:"allocation_hours"`
	StartDate       string    `json:"start_date"`
	EndDate         string    `json:"end_date"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AssignmentResultDTO is returned by create/merge.
type AssignmentResultDTO struct {
	AssignmentDTO
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// UserAllocationDTO groups a user's assignments.
type UserAllocationDTO struct {
	UserID          int64           `json:"user_id"`
	UserName        string          `json:"user_name"`
	Email           string          `json:"email"`
	Dept            string          `json:"dept"`
	TotalAllocation int             `json:"total_allocation"`
	Assignments     []AssignmentDTO `json:"assignments"`
}

func toAssignmentDTO(a generic.Assignment) AssignmentDTO {
	return AssignmentDTO{
		ID:              int64(a.ID),
		UserID:          int64(a.UserID),
		ProjectID:       int64(a.ProjectID),
		AllocationHours: a.AllocationHours,
		StartDate:       a.Period.Start.String(),
		EndDate:         a.Period.End.String(),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toAssignmentViewDTO(v allocation.AssignmentView) AssignmentDTO {
	dto := toAssignmentDTO(v.Assignment)
	dto.ProjectName = v.Project.Name
	dto.Client = v.Project.Client
	return dto
}

func toUserAllocationDTO(u allocation.UserAllocation) UserAllocationDTO {
	dto := UserAllocationDTO{
		UserID:          int64(u.User.ID),
		UserName:        u.User.Name,
		Email:           u.User.Email,
		Dept:            u.User.Dept,
		TotalAllocation: u.TotalAllocation,
		Assignments:     make([]AssignmentDTO, 0, len(u.Assignments)),
	}
	for _, v := range u.Assignments {
		dto.Assignments = append(dto.Assignments, toAssignmentViewDTO(v))
	}
	return dto
}

// =============================================================================
// PTO MONTH
// =============================================================================

// PTODayDTO is one cell of the monthly PTO grid.
type PTODayDTO struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	Day    int   `json:"day" validate:"required,min=1,max=31"`
	Hours  *int  `json:"hours" validate:"required,min=0,max=160"`
}

// SavePTORequest is the body of POST /api/pto-assignments.
type SavePTORequest struct {
	Month       int         `json:"month" validate:"required,min=1,max=12"`
	Year        int         `json:"year" validate:"required,min=1,max=9999"`
	Assignments []PTODayDTO `json:"assignments" validate:"dive"`
}

// ReconcileResultDTO reports what a PTO save changed.
type ReconcileResultDTO struct {
	Month              int `json:"month"`
	Year               int `json:"year"`
	Users              int `json:"users"`
	AssignmentsRemoved int `json:"assignments_removed"`
	AssignmentsTrimmed int `json:"assignments_trimmed"`
	EntriesRemoved     int `json:"entries_removed"`
	AssignmentsCreated int `json:"assignments_created"`
	EntriesCreated     int `json:"entries_created"`
}

func toReconcileResultDTO(r allocation.ReconcileResult) ReconcileResultDTO {
	return ReconcileResultDTO{
		Month:              int(r.Period.Start.Month()),
		Year:               r.Period.Start.Year(),
		Users:              r.Users,
		AssignmentsRemoved: r.AssignmentsRemoved,
		AssignmentsTrimmed: r.AssignmentsTrimmed,
		EntriesRemoved:     r.EntriesRemoved,
		AssignmentsCreated: r.AssignmentsCreated,
		EntriesCreated:     r.EntriesCreated,
	}
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

// TimeEntryRequest is the body of POST/PUT /api/time-entries.
type TimeEntryRequest struct {
	TaskID      int64  `json:"task_id" validate:"required,gt=0"`
	ProjectName string `json:"project_name" validate:"max=255"`
	ProjectCode int64  `json:"project_code" validate:"min=0"`
	Client      string `json:"client" validate:"max=255"`
	Location    string `json:"location" validate:"max=255"`
	Remarks     string `json:"remarks" validate:"max=1000"`
	EntryDate   string `json:"entry_date" validate:"required"`
	Hours       int    `json:"hours" validate:"min=0,max=24"`
	Minutes     int    `json:"minutes" validate:"min=0,max=59"`
}

// SyncTimeEntryRequest is the body of POST /api/admin/sync/time-entry.
type SyncTimeEntryRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Date   string `json:"date" validate:"required"`
	Hours  *int   `json:"hours" validate:"required,min=0,max=160"`
	TaskID int64  `json:"task_id" validate:"required,gt=0"`
}

// TimeEntryDTO represents a work-log entry in API responses.
type TimeEntryDTO struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	UserName    string    `json:"user_name"`
	UserEmail   string    `json:"user_email"`
	UserDept    string    `json:"user_dept"`
	ProjectName string    `json:"project_name"`
	ProjectCode int64     `json:"project_code"`
	Client      string    `json:"client"`
	Location    string    `json:"location"`
	Remarks     string    `json:"remarks"`
	EntryDate   string    `json:"entry_date"`
	Hours       int       `json:"hours"`
	Minutes     int       `json:"minutes"`
	AutoSynced  bool      `json:"auto_synced"`
	CreatedAt   time.Time `json:"created_at"`
}

// TimeEntryListDTO is a user's ledger over a period.
type TimeEntryListDTO struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	TotalHours string         `json:"total_hours"`
	Entries    []TimeEntryDTO `json:"entries"`
}

func toTimeEntryDTO(e generic.WorkLogEntry) TimeEntryDTO {
	return TimeEntryDTO{
		ID:          int64(e.ID),
		TaskID:      int64(e.TaskID),
		UserName:    e.UserName,
		UserEmail:   e.UserEmail,
		UserDept:    e.UserDept,
		ProjectName: e.ProjectName,
		ProjectCode: e.ProjectCode,
		Client:      e.Client,
		Location:    e.Location,
		Remarks:     e.Remarks,
		EntryDate:   e.EntryDate.String(),
		Hours:       e.Hours,
		Minutes:     e.Minutes,
		AutoSynced:  e.IsAutoSynced(),
		CreatedAt:   e.CreatedAt,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string       `json:"error"`
	Code     string       `json:"code,omitempty"`
	Details  string       `json:"details,omitempty"`
	Field    string       `json:"field,omitempty"`
	Capacity *CapacityDTO `json:"capacity,omitempty"`
}

// CapacityDTO carries the numbers behind a capacity rejection.
type CapacityDTO struct {
	Cap       int  `json:"cap"`
	MaxOther  int  `json:"max_other"`
	Requested int  `json:"requested"`
	Total     int  `json:"total"`
	Available int  `json:"available"`
	Merged    bool `json:"merged"`
}
