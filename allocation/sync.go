package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/metrics"
)

// =============================================================================
// FORWARD SYNC - PTO assignment -> leave entries
// =============================================================================

// syncAssignmentToEntries rebuilds the auto-synced leave entries of the
// assignment's user over the affected range.
//
// The affected range is the assignment's period, widened to the previous
// period on updates and merges. Synced entries inside it are removed, then
// every PTO assignment of the user still overlapping it is expanded again,
// one entry per workday, clipped to the range. Entries mirrored from other
// PTO assignments in the range therefore survive a shrink or deletion.
func (e *Engine) syncAssignmentToEntries(ctx context.Context, s generic.Store, a generic.Assignment, project generic.Project, previous *generic.Period, deleted bool) error {
	fail := func(err error) error {
		return &generic.SyncFailureError{Direction: generic.SyncToEntries, Err: err}
	}

	task, err := e.catalog.LeaveTask(ctx, s)
	if err != nil {
		return fail(err)
	}
	user, err := s.GetUser(ctx, a.UserID)
	if err != nil {
		return fail(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return fail(&generic.NotFoundError{Kind: "user", ID: a.UserID})
	}

	affected := a.Period
	if previous != nil {
		affected = affected.Span(*previous)
	}

	removed, err := s.DeleteSyncedEntries(ctx, []string{user.Email}, task.ID, affected)
	if err != nil {
		return fail(fmt.Errorf("delete synced entries: %w", err))
	}

	remaining, err := s.ListProjectAssignments(ctx, project.ID, affected, []generic.UserID{a.UserID})
	if err != nil {
		return fail(fmt.Errorf("list PTO assignments: %w", err))
	}

	inserted := 0
	for _, other := range remaining {
		if other.AllocationHours <= 0 {
			continue
		}
		clipped, ok := other.Period.Intersect(affected)
		if !ok {
			continue
		}
		for _, day := range clipped.Workdays() {
			if _, err := s.InsertEntry(ctx, syncedEntry(*user, project, task, day, other.AllocationHours)); err != nil {
				return fail(fmt.Errorf("insert entry for %s: %w", day, err))
			}
			inserted++
		}
	}

	metrics.SyncRows.WithLabelValues(string(generic.SyncToEntries), "deleted").Add(float64(removed))
	metrics.SyncRows.WithLabelValues(string(generic.SyncToEntries), "inserted").Add(float64(inserted))
	e.log(ctx).Debug("leave entries synced",
		"user_id", a.UserID,
		"range", affected.String(),
		"deletion", deleted,
		"removed", removed,
		"inserted", inserted,
	)
	return nil
}

// syncedEntry builds a leave entry carrying the auto-sync marker.
func syncedEntry(user generic.User, project generic.Project, task generic.Task, day generic.TimePoint, hours int) generic.WorkLogEntry {
	return generic.WorkLogEntry{
		TaskID:      task.ID,
		UserName:    user.Name,
		UserEmail:   user.Email,
		UserDept:    user.Dept,
		ProjectName: project.Name,
		ProjectCode: project.Code,
		Location:    project.Location,
		Client:      project.Client,
		Remarks:     generic.AutoSyncRemarks,
		EntryDate:   day,
		Hours:       hours,
	}
}

// =============================================================================
// REVERSE SYNC - leave entry -> single-day PTO assignment
// =============================================================================

// SyncTimeEntryToAssignment mirrors one leave entry into the calendar in its
// own transaction. hours == 0 only removes. Entries of any other task are
// ignored.
func (e *Engine) SyncTimeEntryToAssignment(ctx context.Context, email string, date generic.TimePoint, hours int, taskID generic.TaskID) error {
	defer observe("sync_entry")()
	if email == "" {
		return generic.Invalid("email", "is required")
	}
	if date.IsZero() {
		return generic.Invalid("date", "is required")
	}
	if err := validateHours("hours", hours); err != nil {
		return err
	}
	return e.store.WithTx(ctx, func(s generic.Store) error {
		return e.syncEntryToAssignment(ctx, s, email, date, hours, taskID)
	})
}

// syncEntryToAssignment removes the user's PTO assignments whose start or
// end equals date and, when hours > 0, inserts a single-day assignment. It
// bypasses the capacity check and does not trigger the forward sync.
func (e *Engine) syncEntryToAssignment(ctx context.Context, s generic.Store, email string, date generic.TimePoint, hours int, taskID generic.TaskID) error {
	fail := func(err error) error {
		return &generic.SyncFailureError{Direction: generic.SyncToAssignment, Err: err}
	}

	task, err := e.catalog.LeaveTask(ctx, s)
	if err != nil {
		if generic.IsSetupError(err) {
			// Without a leave task no entry can be a leave entry.
			e.log(ctx).Debug("reverse sync skipped", "reason", err.Error())
			return nil
		}
		return fail(err)
	}
	if task.ID != taskID {
		return nil
	}

	project, err := e.catalog.PTOProject(ctx, s)
	if err != nil {
		return fail(err)
	}
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return fail(fmt.Errorf("get user: %w", err))
	}
	if user == nil {
		return fail(&generic.NotFoundError{Kind: "user", ID: email})
	}

	removed, err := s.DeleteAssignmentsTouchingDay(ctx, user.ID, project.ID, date)
	if err != nil {
		return fail(fmt.Errorf("delete PTO assignments on %s: %w", date, err))
	}

	inserted := 0
	if hours > 0 {
		if _, err := s.InsertAssignment(ctx, generic.Assignment{
			UserID:          user.ID,
			ProjectID:       project.ID,
			AllocationHours: hours,
			Period:          generic.SingleDay(date),
		}); err != nil {
			return fail(fmt.Errorf("insert PTO assignment on %s: %w", date, err))
		}
		inserted = 1
	}

	metrics.SyncRows.WithLabelValues(string(generic.SyncToAssignment), "deleted").Add(float64(removed))
	metrics.SyncRows.WithLabelValues(string(generic.SyncToAssignment), "inserted").Add(float64(inserted))
	e.log(ctx).Debug("PTO assignment synced",
		"user_id", user.ID,
		"date", date.String(),
		"hours", hours,
		"removed", removed,
	)
	return nil
}

// isSyncFailure reports whether err came out of either bridge.
func isSyncFailure(err error) bool {
	return errors.Is(err, generic.ErrSyncFailure)
}
