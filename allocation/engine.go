/*
Package allocation implements the resource allocation and synchronization engine.

PURPOSE:
  Tracks how many hours each person is allocated to each project over date
  ranges, enforces the per-day capacity cap across overlapping allocations,
  merges repeated requests for the same (user, project) pair, and keeps the
  calendar of assignments and the ledger of work-log entries consistent for
  the PTO project and the leave/holiday task.

OPERATIONS:
  CreateOrMergeAssignment  capacity check -> insert or merge -> forward sync
  UpdateAssignment         capacity check over the final range -> forward sync
  DeleteAssignment         delete -> forward sync in deletion mode
  SyncTimeEntryToAssignment reverse sync for one leave entry (sync.go)
  SavePTOAssignments       scoped full replace of a PTO month (reconcile.go)
  Create/Update/DeleteTimeEntry  ledger writes driving reverse sync (entries.go)

TRANSACTIONS:
  Every operation runs inside one TxStore.WithTx call. The capacity read,
  the write and the sync expansion share the transaction, so either all of
  them commit or none do. A bridge failure rolls back the triggering write.

SEE ALSO:
  - generic/capacity.go: CapacityChecker
  - sync.go: both bridge directions
  - reconcile.go: bulk PTO reconciliation
*/
package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logging"
	"github.com/warp/allocation-engine/metrics"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine holds the dependencies of every allocation operation.
type Engine struct {
	store    generic.TxStore
	catalog  generic.Catalog
	capacity generic.CapacityChecker
	logger   *slog.Logger
}

// NewEngine wires an engine. A nil logger falls back to slog.Default.
func NewEngine(store generic.TxStore, catalog generic.Catalog, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		catalog:  catalog,
		capacity: generic.CapacityChecker{Cap: generic.CapacityHours},
		logger:   logger,
	}
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, e.logger)
}

func observe(operation string) func() {
	start := time.Now()
	return func() {
		metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// AssignmentRequest asks for hours on a project over [Start, End].
type AssignmentRequest struct {
	UserID          generic.UserID
	ProjectID       generic.ProjectID
	AllocationHours int
	Start           generic.TimePoint
	End             generic.TimePoint
}

// AssignmentPatch changes an assignment. Nil fields keep their current value.
type AssignmentPatch struct {
	AllocationHours *int
	Start           *generic.TimePoint
	End             *generic.TimePoint
}

// AssignmentResult is a written assignment. Merged is true when the request
// was folded into an existing (user, project) row.
type AssignmentResult struct {
	Assignment generic.Assignment
	Merged     bool
}

func validateHours(field string, hours int) error {
	if hours < 0 || hours > generic.CapacityHours {
		return generic.Invalid(field, "must be between 0 and %d", generic.CapacityHours)
	}
	return nil
}

func validatePeriod(p generic.Period) error {
	if p.Start.IsZero() {
		return generic.Invalid("start_date", "is required")
	}
	if p.End.IsZero() {
		return generic.Invalid("end_date", "is required")
	}
	if p.Start.After(p.End) {
		return generic.Invalid("start_date", "must be before or equal to end date")
	}
	return nil
}

func (r AssignmentRequest) validate() error {
	if r.UserID <= 0 {
		return generic.Invalid("user_id", "is required")
	}
	if r.ProjectID <= 0 {
		return generic.Invalid("project_id", "is required")
	}
	if err := validateHours("allocation_hours", r.AllocationHours); err != nil {
		return err
	}
	return validatePeriod(generic.Period{Start: r.Start, End: r.End})
}

// =============================================================================
// CREATE / MERGE
// =============================================================================

// CreateOrMergeAssignment inserts a new assignment, or merges the request
// into the existing row for the same (user, project): hours are summed and
// the period widened to cover both ranges. The capacity check runs over the
// final period, excluding the row being replaced.
func (e *Engine) CreateOrMergeAssignment(ctx context.Context, req AssignmentRequest) (AssignmentResult, error) {
	defer observe("create_assignment")()
	if err := req.validate(); err != nil {
		return AssignmentResult{}, err
	}

	var result AssignmentResult
	err := e.store.WithTx(ctx, func(s generic.Store) error {
		if _, err := e.requireUser(ctx, s, req.UserID); err != nil {
			return err
		}
		project, err := e.requireProject(ctx, s, req.ProjectID)
		if err != nil {
			return err
		}

		existing, err := s.FindAssignment(ctx, req.UserID, req.ProjectID)
		if err != nil {
			return fmt.Errorf("find assignment: %w", err)
		}

		requested := generic.Period{Start: req.Start, End: req.End}
		var previous *generic.Period

		if existing == nil {
			if _, err := e.capacity.Check(ctx, s, generic.CapacityRequest{
				UserID: req.UserID,
				Period: requested,
				Hours:  req.AllocationHours,
			}); err != nil {
				return err
			}
			created, err := s.InsertAssignment(ctx, generic.Assignment{
				UserID:          req.UserID,
				ProjectID:       req.ProjectID,
				AllocationHours: req.AllocationHours,
				Period:          requested,
			})
			if err != nil {
				return fmt.Errorf("insert assignment: %w", err)
			}
			result = AssignmentResult{Assignment: created}
		} else {
			merged := generic.Assignment{
				ID:              existing.ID,
				UserID:          existing.UserID,
				ProjectID:       existing.ProjectID,
				AllocationHours: existing.AllocationHours + req.AllocationHours,
				Period:          existing.Period.Span(requested),
			}
			if _, err := e.capacity.Check(ctx, s, generic.CapacityRequest{
				UserID:  req.UserID,
				Period:  merged.Period,
				Hours:   merged.AllocationHours,
				Exclude: existing.ID,
				Merged:  true,
			}); err != nil {
				return err
			}
			updated, err := s.UpdateAssignment(ctx, merged)
			if err != nil {
				return fmt.Errorf("merge assignment: %w", err)
			}
			prev := existing.Period
			previous = &prev
			result = AssignmentResult{Assignment: updated, Merged: true}
		}

		if e.catalog.IsPTOProject(project) {
			return e.syncAssignmentToEntries(ctx, s, result.Assignment, project, previous, false)
		}
		return nil
	})

	operation := "create"
	if err != nil {
		e.recordFailure(ctx, operation, err)
		return AssignmentResult{}, err
	}

	outcome := metrics.OutcomeCreated
	if result.Merged {
		outcome = metrics.OutcomeMerged
	}
	metrics.AllocationRequests.WithLabelValues(operation, outcome).Inc()
	e.log(ctx).Info("assignment "+outcome,
		"assignment_id", result.Assignment.ID,
		"user_id", result.Assignment.UserID,
		"project_id", result.Assignment.ProjectID,
		"hours", result.Assignment.AllocationHours,
		"period", result.Assignment.Period.String(),
	)
	return result, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// UpdateAssignment applies a patch. The capacity check runs over the final
// period, excluding the row itself.
func (e *Engine) UpdateAssignment(ctx context.Context, id generic.AssignmentID, patch AssignmentPatch) (generic.Assignment, error) {
	defer observe("update_assignment")()
	if patch.AllocationHours != nil {
		if err := validateHours("allocation_hours", *patch.AllocationHours); err != nil {
			return generic.Assignment{}, err
		}
	}
	if patch.Start != nil && patch.End != nil {
		if err := validatePeriod(generic.Period{Start: *patch.Start, End: *patch.End}); err != nil {
			return generic.Assignment{}, err
		}
	}

	var updated generic.Assignment
	err := e.store.WithTx(ctx, func(s generic.Store) error {
		current, err := s.GetAssignment(ctx, id)
		if err != nil {
			return fmt.Errorf("get assignment: %w", err)
		}
		if current == nil {
			return &generic.NotFoundError{Kind: "assignment", ID: id}
		}

		final := *current
		if patch.AllocationHours != nil {
			final.AllocationHours = *patch.AllocationHours
		}
		if patch.Start != nil {
			final.Period.Start = *patch.Start
		}
		if patch.End != nil {
			final.Period.End = *patch.End
		}
		if err := validatePeriod(final.Period); err != nil {
			return err
		}

		if _, err := e.capacity.Check(ctx, s, generic.CapacityRequest{
			UserID:  final.UserID,
			Period:  final.Period,
			Hours:   final.AllocationHours,
			Exclude: final.ID,
		}); err != nil {
			return err
		}

		updated, err = s.UpdateAssignment(ctx, final)
		if err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}

		project, err := e.requireProject(ctx, s, updated.ProjectID)
		if err != nil {
			return err
		}
		if e.catalog.IsPTOProject(project) {
			previous := current.Period
			return e.syncAssignmentToEntries(ctx, s, updated, project, &previous, false)
		}
		return nil
	})
	if err != nil {
		e.recordFailure(ctx, "update", err)
		return generic.Assignment{}, err
	}

	metrics.AllocationRequests.WithLabelValues("update", metrics.OutcomeUpdated).Inc()
	e.log(ctx).Info("assignment updated",
		"assignment_id", updated.ID,
		"hours", updated.AllocationHours,
		"period", updated.Period.String(),
	)
	return updated, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteAssignment removes the row and, for the PTO project, the entries
// mirrored from it. It returns the deleted row.
func (e *Engine) DeleteAssignment(ctx context.Context, id generic.AssignmentID) (generic.Assignment, error) {
	defer observe("delete_assignment")()

	var deleted generic.Assignment
	err := e.store.WithTx(ctx, func(s generic.Store) error {
		row, err := s.DeleteAssignment(ctx, id)
		if err != nil {
			return fmt.Errorf("delete assignment: %w", err)
		}
		if row == nil {
			return &generic.NotFoundError{Kind: "assignment", ID: id}
		}
		deleted = *row

		// The row is gone; its captured fields plus a project lookup are all
		// the bridge gets.
		project, err := s.GetProject(ctx, deleted.ProjectID)
		if err != nil {
			return fmt.Errorf("get project: %w", err)
		}
		if project == nil || !e.catalog.IsPTOProject(*project) {
			return nil
		}
		return e.syncAssignmentToEntries(ctx, s, deleted, *project, nil, true)
	})
	if err != nil {
		e.recordFailure(ctx, "delete", err)
		return generic.Assignment{}, err
	}

	metrics.AllocationRequests.WithLabelValues("delete", metrics.OutcomeDeleted).Inc()
	e.log(ctx).Info("assignment deleted",
		"assignment_id", deleted.ID,
		"user_id", deleted.UserID,
		"project_id", deleted.ProjectID,
	)
	return deleted, nil
}

func (e *Engine) recordFailure(ctx context.Context, operation string, err error) {
	var capErr *generic.CapacityExceededError
	if errors.As(err, &capErr) {
		metrics.CapacityRejections.Inc()
		metrics.AllocationRequests.WithLabelValues(operation, metrics.OutcomeRejected).Inc()
		e.log(ctx).Warn("allocation rejected",
			"operation", operation,
			"user_id", capErr.UserID,
			"period", capErr.Period.String(),
			"max_other", capErr.MaxOther,
			"requested", capErr.Requested,
		)
		return
	}
	metrics.AllocationRequests.WithLabelValues(operation, metrics.OutcomeFailed).Inc()
	if generic.IsClientError(err) || generic.IsNotFound(err) {
		e.log(ctx).Debug("allocation refused", "operation", operation, "error", err)
		return
	}
	e.log(ctx).Error("allocation failed", "operation", operation, "error", err)
}

// =============================================================================
// QUERIES
// =============================================================================

// AssignmentView is an assignment joined with its project.
type AssignmentView struct {
	generic.Assignment
	Project generic.Project
}

// UserAllocation groups a user's assignments with their summed hours.
type UserAllocation struct {
	User            generic.User
	TotalAllocation int
	Assignments     []AssignmentView
}

// ListAssignmentsOn returns the assignments active on day, grouped by user
// and ordered by user name.
func (e *Engine) ListAssignmentsOn(ctx context.Context, day generic.TimePoint) ([]UserAllocation, error) {
	rows, err := e.store.ListAssignmentsOn(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	byUser := make(map[generic.UserID]*UserAllocation)
	var order []generic.UserID
	for _, a := range rows {
		group, ok := byUser[a.UserID]
		if !ok {
			user, err := e.store.GetUser(ctx, a.UserID)
			if err != nil {
				return nil, fmt.Errorf("get user: %w", err)
			}
			group = &UserAllocation{User: generic.User{ID: a.UserID}}
			if user != nil {
				group.User = *user
			}
			byUser[a.UserID] = group
			order = append(order, a.UserID)
		}
		view, err := e.view(ctx, a)
		if err != nil {
			return nil, err
		}
		group.Assignments = append(group.Assignments, view)
		group.TotalAllocation += a.AllocationHours
	}

	out := make([]UserAllocation, 0, len(order))
	for _, id := range order {
		out = append(out, *byUser[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].User.Name < out[j].User.Name })
	return out, nil
}

// ListUserAssignments returns every assignment of a user with the total.
func (e *Engine) ListUserAssignments(ctx context.Context, userID generic.UserID) (UserAllocation, error) {
	user, err := e.requireUser(ctx, e.store, userID)
	if err != nil {
		return UserAllocation{}, err
	}
	rows, err := e.store.ListAssignmentsByUser(ctx, userID)
	if err != nil {
		return UserAllocation{}, fmt.Errorf("list assignments: %w", err)
	}

	out := UserAllocation{User: user}
	for _, a := range rows {
		view, err := e.view(ctx, a)
		if err != nil {
			return UserAllocation{}, err
		}
		out.Assignments = append(out.Assignments, view)
		out.TotalAllocation += a.AllocationHours
	}
	return out, nil
}

func (e *Engine) view(ctx context.Context, a generic.Assignment) (AssignmentView, error) {
	project, err := e.store.GetProject(ctx, a.ProjectID)
	if err != nil {
		return AssignmentView{}, fmt.Errorf("get project: %w", err)
	}
	view := AssignmentView{Assignment: a, Project: generic.Project{ID: a.ProjectID}}
	if project != nil {
		view.Project = *project
	}
	return view, nil
}

// =============================================================================
// LOOKUP HELPERS
// =============================================================================

func (e *Engine) requireUser(ctx context.Context, s generic.Store, id generic.UserID) (generic.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return generic.User{}, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return generic.User{}, &generic.NotFoundError{Kind: "user", ID: id}
	}
	return *user, nil
}

func (e *Engine) requireProject(ctx context.Context, s generic.Store, id generic.ProjectID) (generic.Project, error) {
	project, err := s.GetProject(ctx, id)
	if err != nil {
		return generic.Project{}, fmt.Errorf("get project: %w", err)
	}
	if project == nil {
		return generic.Project{}, &generic.NotFoundError{Kind: "project", ID: id}
	}
	return *project, nil
}
