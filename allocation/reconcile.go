package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/metrics"
)

// =============================================================================
// BULK PTO RECONCILIATION
// =============================================================================

// PTODay is one cell of the monthly PTO grid.
type PTODay struct {
	UserID generic.UserID
	Day    int // day of month, 1-based
	Hours  int
}

// ReconcileResult counts what a reconciliation changed.
type ReconcileResult struct {
	Period             generic.Period
	Users              int
	AssignmentsRemoved int
	AssignmentsTrimmed int // rows cut back to the days outside the month
	EntriesRemoved     int
	AssignmentsCreated int
	EntriesCreated     int
}

func validateMonth(month time.Month, year int) error {
	if month < time.January || month > time.December {
		return generic.Invalid("month", "must be between 1 and 12")
	}
	if year < 1 || year > 9999 {
		return generic.Invalid("year", "must be between 1 and 9999")
	}
	return nil
}

// SavePTOAssignments replaces the PTO month of every user named in rows.
//
// For those users only, the PTO calendar and the auto-synced leave entries
// are cleared for every day of the month. Assignments reaching past the
// month keep their outside days, so the entries mirrored there stay valid. Then each row with
// hours > 0 becomes a single-day PTO assignment plus its leave entry. When
// the same (user, day) appears twice the last row wins. Users absent from
// rows are untouched. An empty rows slice changes nothing.
func (e *Engine) SavePTOAssignments(ctx context.Context, rows []PTODay, month time.Month, year int) (ReconcileResult, error) {
	defer observe("save_pto")()
	if err := validateMonth(month, year); err != nil {
		return ReconcileResult{}, err
	}
	period := generic.MonthPeriod(year, month)
	lastDay := period.End.Day()

	for i, r := range rows {
		if r.UserID <= 0 {
			return ReconcileResult{}, generic.Invalid(fmt.Sprintf("assignments[%d].user_id", i), "is required")
		}
		if r.Day < 1 || r.Day > lastDay {
			return ReconcileResult{}, generic.Invalid(fmt.Sprintf("assignments[%d].day", i), "must be between 1 and %d", lastDay)
		}
		if err := validateHours(fmt.Sprintf("assignments[%d].hours", i), r.Hours); err != nil {
			return ReconcileResult{}, err
		}
	}

	cells, userOrder := dedupeDays(rows)
	result := ReconcileResult{Period: period, Users: len(userOrder)}

	err := e.store.WithTx(ctx, func(s generic.Store) error {
		if len(userOrder) == 0 {
			return nil
		}

		// Both catalog records must resolve before anything is deleted.
		project, err := e.catalog.PTOProject(ctx, s)
		if err != nil {
			return err
		}
		task, err := e.catalog.LeaveTask(ctx, s)
		if err != nil {
			return err
		}

		users := make(map[generic.UserID]generic.User, len(userOrder))
		emails := make([]string, 0, len(userOrder))
		for _, id := range userOrder {
			user, err := e.requireUser(ctx, s, id)
			if err != nil {
				return err
			}
			users[id] = user
			emails = append(emails, user.Email)
		}

		if err := clearMonth(ctx, s, project.ID, userOrder, period, &result); err != nil {
			return err
		}
		if result.EntriesRemoved, err = s.DeleteSyncedEntries(ctx, emails, task.ID, period); err != nil {
			return fmt.Errorf("delete synced entries: %w", err)
		}

		for _, c := range cells {
			if c.Hours <= 0 {
				continue
			}
			day := generic.NewTimePoint(year, month, c.Day)
			if _, err := s.InsertAssignment(ctx, generic.Assignment{
				UserID:          c.UserID,
				ProjectID:       project.ID,
				AllocationHours: c.Hours,
				Period:          generic.SingleDay(day),
			}); err != nil {
				return fmt.Errorf("insert PTO assignment on %s: %w", day, err)
			}
			result.AssignmentsCreated++

			if _, err := s.InsertEntry(ctx, syncedEntry(users[c.UserID], project, task, day, c.Hours)); err != nil {
				return &generic.SyncFailureError{
					Direction: generic.SyncToEntries,
					Err:       fmt.Errorf("insert entry on %s: %w", day, err),
				}
			}
			result.EntriesCreated++
		}
		return nil
	})
	if err != nil {
		metrics.Reconciliations.WithLabelValues(metrics.OutcomeFailed).Inc()
		logger := e.log(ctx).With("month", int(month), "year", year, "error", err)
		if isSyncFailure(err) || !(generic.IsClientError(err) || generic.IsNotFound(err)) {
			logger.Error("PTO reconciliation failed")
		} else {
			logger.Warn("PTO reconciliation refused")
		}
		return ReconcileResult{}, err
	}

	metrics.Reconciliations.WithLabelValues(metrics.OutcomeUpdated).Inc()
	e.log(ctx).Info("PTO month reconciled",
		"month", int(month),
		"year", year,
		"users", result.Users,
		"assignments_removed", result.AssignmentsRemoved,
		"assignments_trimmed", result.AssignmentsTrimmed,
		"assignments_created", result.AssignmentsCreated,
	)
	return result, nil
}

// clearMonth removes every day of month from the users' PTO assignments.
// Rows inside the month are deleted, rows spilling over are cut back to the
// remainder, and a row spanning the whole month is split in two.
func clearMonth(ctx context.Context, s generic.Store, projectID generic.ProjectID, users []generic.UserID, month generic.Period, result *ReconcileResult) error {
	rows, err := s.ListProjectAssignments(ctx, projectID, month, users)
	if err != nil {
		return fmt.Errorf("list PTO assignments: %w", err)
	}

	for _, a := range rows {
		rest := a.Period.Minus(month)
		if len(rest) == 0 {
			if _, err := s.DeleteAssignment(ctx, a.ID); err != nil {
				return fmt.Errorf("delete PTO assignment %d: %w", a.ID, err)
			}
			result.AssignmentsRemoved++
			continue
		}

		trimmed := a
		trimmed.Period = rest[0]
		if _, err := s.UpdateAssignment(ctx, trimmed); err != nil {
			return fmt.Errorf("trim PTO assignment %d: %w", a.ID, err)
		}
		for _, p := range rest[1:] {
			if _, err := s.InsertAssignment(ctx, generic.Assignment{
				UserID:          a.UserID,
				ProjectID:       a.ProjectID,
				AllocationHours: a.AllocationHours,
				Period:          p,
			}); err != nil {
				return fmt.Errorf("split PTO assignment %d: %w", a.ID, err)
			}
		}
		result.AssignmentsTrimmed++
	}
	return nil
}

// dedupeDays keeps the last row per (user, day) in first-seen order and
// returns the distinct users in first-seen order.
func dedupeDays(rows []PTODay) ([]PTODay, []generic.UserID) {
	type key struct {
		user generic.UserID
		day  int
	}
	index := make(map[key]int, len(rows))
	seenUser := make(map[generic.UserID]bool)
	var cells []PTODay
	var users []generic.UserID

	for _, r := range rows {
		if !seenUser[r.UserID] {
			seenUser[r.UserID] = true
			users = append(users, r.UserID)
		}
		k := key{r.UserID, r.Day}
		if i, ok := index[k]; ok {
			cells[i] = r
			continue
		}
		index[k] = len(cells)
		cells = append(cells, r)
	}
	return cells, users
}

// ListPTOAssignments returns the PTO assignments overlapping a month.
func (e *Engine) ListPTOAssignments(ctx context.Context, month time.Month, year int) ([]generic.Assignment, error) {
	if err := validateMonth(month, year); err != nil {
		return nil, err
	}
	project, err := e.catalog.PTOProject(ctx, e.store)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ListProjectAssignments(ctx, project.ID, generic.MonthPeriod(year, month), nil)
	if err != nil {
		return nil, fmt.Errorf("list PTO assignments: %w", err)
	}
	return rows, nil
}
