/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes the allocation engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Assignments:
    GET    /api/assignments?date=YYYY-MM-DD  Active assignments grouped by user
    POST   /api/assignments                  Create or merge (201 / 200)
    PUT    /api/assignments/{id}             Update hours and/or range
    DELETE /api/assignments/{id}             Delete
    GET    /api/users/{id}/assignments       One user's assignments + total

  PTO month:
    GET    /api/pto-assignments?month=&year= Current PTO grid for a month
    POST   /api/pto-assignments              Scoped full replace of a month

  Time entries (caller identified by the X-User-Email header):
    GET    /api/time-entries?from=&to=       Caller's entries, newest first
    POST   /api/time-entries                 Create
    PUT    /api/time-entries/{id}            Update (owner only)
    DELETE /api/time-entries/{id}            Delete (owner only)

  Admin:
    POST   /api/admin/sync/time-entry        Reverse sync for one entry

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags, then date parsing)
  3. Call the engine
  4. Serialize response
  5. Map errors to status codes (writeEngineError)

ERROR HANDLING:
  Errors are returned as JSON {error, code, details} with HTTP status:
  - 400: Validation errors, capacity exceeded
  - 403: Editing another user's time entry
  - 404: Referenced record not found
  - 503: Leave task or PTO project not configured
  - 500: Sync failure, internal errors

SECURITY NOTE:
  No authentication. The caller's identity for time entries is taken from
  X-User-Email, which an upstream gateway is expected to set.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logging"
)

// UserEmailHeader identifies the caller on time-entry endpoints.
const UserEmailHeader = "X-User-Email"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *allocation.Engine
	Logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler creates a new handler around an engine.
func NewHandler(engine *allocation.Engine, logger *slog.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Engine: engine, Logger: logger, validate: v}
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// ListAssignments returns assignments active on a date, grouped by user.
// GET /api/assignments?date=YYYY-MM-DD (defaults to today)
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	day := generic.Today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := parseDateParam("date", raw)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		day = parsed
	}

	groups, err := h.Engine.ListAssignmentsOn(r.Context(), day)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]UserAllocationDTO, 0, len(groups))
	for _, g := range groups {
		dtos = append(dtos, toUserAllocationDTO(g))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAssignment creates an assignment or merges into the existing one.
// POST /api/assignments
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	start, err := parseDateParam("start_date", req.StartDate)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	end, err := parseDateParam("end_date", req.EndDate)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	result, err := h.Engine.CreateOrMergeAssignment(r.Context(), allocation.AssignmentRequest{
		UserID:          generic.UserID(req.UserID),
		ProjectID:       generic.ProjectID(req.ProjectID),
		AllocationHours: *req.AllocationHours,
		Start:           start,
		End:             end,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dto := AssignmentResultDTO{AssignmentDTO: toAssignmentDTO(result.Assignment), Merged: result.Merged}
	if result.Merged {
		dto.Message = "Assignment merged with existing allocation"
		writeJSON(w, http.StatusOK, dto)
		return
	}
	dto.Message = "Assignment created"
	writeJSON(w, http.StatusCreated, dto)
}

// UpdateAssignment changes hours and/or range of an assignment.
// PUT /api/assignments/{id}
func (h *Handler) UpdateAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	var req UpdateAssignmentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	patch := allocation.AssignmentPatch{AllocationHours: req.AllocationHours}
	if req.StartDate != nil {
		start, err := parseDateParam("start_date", *req.StartDate)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		patch.Start = &start
	}
	if req.EndDate != nil {
		end, err := parseDateParam("end_date", *req.EndDate)
		if err != nil {
			h.writeEngineError(w, r, err)
			return
		}
		patch.End = &end
	}

	updated, err := h.Engine.UpdateAssignment(r.Context(), generic.AssignmentID(id), patch)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(updated))
}

// DeleteAssignment removes an assignment and returns it.
// DELETE /api/assignments/{id}
func (h *Handler) DeleteAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	deleted, err := h.Engine.DeleteAssignment(r.Context(), generic.AssignmentID(id))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Assignment deleted",
		"assignment": toAssignmentDTO(deleted),
	})
}

// ListUserAssignments returns one user's assignments with the total.
// GET /api/users/{id}/assignments
func (h *Handler) ListUserAssignments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	view, err := h.Engine.ListUserAssignments(r.Context(), generic.UserID(id))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserAllocationDTO(view))
}

// =============================================================================
// PTO MONTH HANDLERS
// =============================================================================

// ListPTOAssignments returns the PTO rows overlapping a month.
// GET /api/pto-assignments?month=1&year=2025
func (h *Handler) ListPTOAssignments(w http.ResponseWriter, r *http.Request) {
	month, err := intQuery(r, "month")
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	year, err := intQuery(r, "year")
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	rows, err := h.Engine.ListPTOAssignments(r.Context(), time.Month(month), year)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]AssignmentDTO, 0, len(rows))
	for _, a := range rows {
		dtos = append(dtos, toAssignmentDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SavePTOAssignments replaces the PTO month of the users in the body.
// POST /api/pto-assignments
func (h *Handler) SavePTOAssignments(w http.ResponseWriter, r *http.Request) {
	var req SavePTORequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	rows := make([]allocation.PTODay, 0, len(req.Assignments))
	for _, a := range req.Assignments {
		rows = append(rows, allocation.PTODay{
			UserID: generic.UserID(a.UserID),
			Day:    a.Day,
			Hours:  *a.Hours,
		})
	}

	result, err := h.Engine.SavePTOAssignments(r.Context(), rows, time.Month(req.Month), req.Year)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResultDTO(result))
}

// =============================================================================
// TIME ENTRY HANDLERS
// =============================================================================

// ListTimeEntries returns the caller's entries in [from, to].
// GET /api/time-entries?from=&to= (defaults to the current month)
func (h *Handler) ListTimeEntries(w http.ResponseWriter, r *http.Request) {
	email, err := callerEmail(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	today := generic.Today()
	p := generic.MonthPeriod(today.Year(), today.Month())
	if raw := r.URL.Query().Get("from"); raw != "" {
		if p.Start, err = parseDateParam("from", raw); err != nil {
			h.writeEngineError(w, r, err)
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if p.End, err = parseDateParam("to", raw); err != nil {
			h.writeEngineError(w, r, err)
			return
		}
	}

	list, err := h.Engine.ListTimeEntries(r.Context(), email, p)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dto := TimeEntryListDTO{
		From:       p.Start.String(),
		To:         p.End.String(),
		TotalHours: list.Total.String(),
		Entries:    make([]TimeEntryDTO, 0, len(list.Entries)),
	}
	for _, e := range list.Entries {
		dto.Entries = append(dto.Entries, toTimeEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateTimeEntry records a ledger line for the caller.
// POST /api/time-entries
func (h *Handler) CreateTimeEntry(w http.ResponseWriter, r *http.Request) {
	email, in, err := h.timeEntryInput(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	created, err := h.Engine.CreateTimeEntry(r.Context(), email, in)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTimeEntryDTO(created))
}

// UpdateTimeEntry rewrites one of the caller's entries.
// PUT /api/time-entries/{id}
func (h *Handler) UpdateTimeEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	email, in, err := h.timeEntryInput(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	updated, err := h.Engine.UpdateTimeEntry(r.Context(), email, generic.EntryID(id), in)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimeEntryDTO(updated))
}

// DeleteTimeEntry removes one of the caller's entries.
// DELETE /api/time-entries/{id}
func (h *Handler) DeleteTimeEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	email, err := callerEmail(r)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	deleted, err := h.Engine.DeleteTimeEntry(r.Context(), email, generic.EntryID(id))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Time entry deleted",
		"time_entry": toTimeEntryDTO(deleted),
	})
}

// SyncTimeEntry runs the reverse sync for one (email, date, hours, task).
// POST /api/admin/sync/time-entry
func (h *Handler) SyncTimeEntry(w http.ResponseWriter, r *http.Request) {
	var req SyncTimeEntryRequest
	if err := h.decode(r, &req); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	date, err := parseDateParam("date", req.Date)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	if err := h.Engine.SyncTimeEntryToAssignment(r.Context(), req.Email, date, *req.Hours, generic.TaskID(req.TaskID)); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Time entry synced"})
}

func (h *Handler) timeEntryInput(r *http.Request) (string, allocation.TimeEntryInput, error) {
	email, err := callerEmail(r)
	if err != nil {
		return "", allocation.TimeEntryInput{}, err
	}
	var req TimeEntryRequest
	if err := h.decode(r, &req); err != nil {
		return "", allocation.TimeEntryInput{}, err
	}
	date, err := parseDateParam("entry_date", req.EntryDate)
	if err != nil {
		return "", allocation.TimeEntryInput{}, err
	}
	return email, allocation.TimeEntryInput{
		TaskID:      generic.TaskID(req.TaskID),
		ProjectName: req.ProjectName,
		ProjectCode: req.ProjectCode,
		Client:      req.Client,
		Location:    req.Location,
		Remarks:     req.Remarks,
		Date:        date,
		Hours:       req.Hours,
		Minutes:     req.Minutes,
	}, nil
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// decode reads a JSON body into dst and runs the validator tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return generic.Invalid("", "invalid request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return generic.Invalid("", "%v", err)
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	field := fe.Field()
	if ns := fe.Namespace(); strings.Contains(ns, ".") {
		// Drop the struct name, keep nested paths like assignments[2].hours.
		field = ns[strings.Index(ns, ".")+1:]
	}
	switch fe.Tag() {
	case "required":
		return generic.Invalid(field, "is required")
	case "min":
		return generic.Invalid(field, "must be at least %s", fe.Param())
	case "max":
		return generic.Invalid(field, "must be at most %s", fe.Param())
	case "gt":
		return generic.Invalid(field, "must be greater than %s", fe.Param())
	case "email":
		return generic.Invalid(field, "must be a valid email address")
	default:
		return generic.Invalid(field, "failed %q validation", fe.Tag())
	}
}

func parseDateParam(field, raw string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(raw)
	if err != nil {
		return generic.TimePoint{}, generic.Invalid(field, "must be a date (YYYY-MM-DD)")
	}
	return tp, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, generic.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, generic.Invalid(name, "is required")
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, generic.Invalid(name, "must be an integer")
	}
	return v, nil
}

func callerEmail(r *http.Request) (string, error) {
	email := strings.TrimSpace(r.Header.Get(UserEmailHeader))
	if email == "" {
		return "", generic.Invalid(UserEmailHeader, "header is required")
	}
	return email, nil
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an engine error to an HTTP status and a stable code.
// Setup and sync are checked first: a SyncFailureError can wrap a
// NotFound or SetupIncomplete cause.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrSetupIncomplete):
		return http.StatusServiceUnavailable, "setup_incomplete"
	case errors.Is(err, generic.ErrSyncFailure):
		return http.StatusInternalServerError, "sync_failure"
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, generic.ErrCapacityExceeded):
		return http.StatusBadRequest, "capacity_exceeded"
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Code: code, Error: err.Error()}

	var valErr *generic.ValidationError
	if errors.As(err, &valErr) {
		resp.Field = valErr.Field
	}
	var capErr *generic.CapacityExceededError
	if errors.As(err, &capErr) {
		resp.Capacity = &CapacityDTO{
			Cap:       capErr.Cap,
			MaxOther:  capErr.MaxOther,
			Requested: capErr.Requested,
			Total:     capErr.Total(),
			Available: capErr.Available(),
			Merged:    capErr.Merged,
		}
	}

	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.Logger).Error("request failed", "code", code, "error", err)
		if code == "internal" {
			// Internal details stay in the log.
			resp.Error = "Internal server error"
			resp.Details = fmt.Sprintf("request id %s", requestID(r))
		}
	}
	writeJSON(w, status, resp)
}
