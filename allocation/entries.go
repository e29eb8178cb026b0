package allocation

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// TIME ENTRIES - ledger writes that drive the reverse sync
// =============================================================================

// TimeEntryInput is what a user submits for one ledger line. The user
// snapshot (name, email, dept) is taken from the directory, not the input.
type TimeEntryInput struct {
	TaskID      generic.TaskID
	ProjectName string
	ProjectCode int64
	Client      string
	Location    string
	Remarks     string
	Date        generic.TimePoint
	Hours       int
	Minutes     int
}

func (in TimeEntryInput) validate() error {
	if in.TaskID <= 0 {
		return generic.Invalid("task_id", "is required")
	}
	if in.Date.IsZero() {
		return generic.Invalid("entry_date", "is required")
	}
	if in.Hours < 0 || in.Hours > 24 {
		return generic.Invalid("hours", "must be between 0 and 24")
	}
	if in.Minutes < 0 || in.Minutes > 59 {
		return generic.Invalid("minutes", "must be between 0 and 59")
	}
	if in.Hours == 24 && in.Minutes > 0 {
		return generic.Invalid("minutes", "a day holds at most 24 hours")
	}
	if strings.TrimSpace(in.Remarks) == generic.AutoSyncRemarks {
		return generic.Invalid("remarks", "%q is reserved for synced entries", generic.AutoSyncRemarks)
	}
	return nil
}

func (in TimeEntryInput) apply(e *generic.WorkLogEntry) {
	e.TaskID = in.TaskID
	e.ProjectName = in.ProjectName
	e.ProjectCode = in.ProjectCode
	e.Client = in.Client
	e.Location = in.Location
	e.Remarks = in.Remarks
	e.EntryDate = in.Date
	e.Hours = in.Hours
	e.Minutes = in.Minutes
}

// CreateTimeEntry records a ledger line for the user identified by email and
// mirrors it into the calendar when it is a leave entry.
func (e *Engine) CreateTimeEntry(ctx context.Context, email string, in TimeEntryInput) (generic.WorkLogEntry, error) {
	defer observe("create_time_entry")()
	if err := in.validate(); err != nil {
		return generic.WorkLogEntry{}, err
	}

	var created generic.WorkLogEntry
	err := e.store.WithTx(ctx, func(s generic.Store) error {
		user, err := e.requireUserByEmail(ctx, s, email)
		if err != nil {
			return err
		}
		entry := generic.WorkLogEntry{
			UserName:  user.Name,
			UserEmail: user.Email,
			UserDept:  user.Dept,
		}
		in.apply(&entry)

		if created, err = s.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		return e.syncEntryToAssignment(ctx, s, created.UserEmail, created.EntryDate, created.Hours, created.TaskID)
	})
	if err != nil {
		e.log(ctx).Warn("time entry not created", "email", email, "error", err)
		return generic.WorkLogEntry{}, err
	}
	e.log(ctx).Info("time entry created", "entry_id", created.ID, "date", created.EntryDate.String())
	return created, nil
}

// UpdateTimeEntry rewrites an entry owned by email. The old date is synced
// with zero hours before the new values are synced.
func (e *Engine) UpdateTimeEntry(ctx context.Context, email string, id generic.EntryID, in TimeEntryInput) (generic.WorkLogEntry, error) {
	defer observe("update_time_entry")()
	if err := in.validate(); err != nil {
		return generic.WorkLogEntry{}, err
	}

	var updated generic.WorkLogEntry
	err := e.store.WithTx(ctx, func(s generic.Store) error {
		current, err := e.ownedEntry(ctx, s, email, id)
		if err != nil {
			return err
		}
		next := current
		in.apply(&next)

		if updated, err = s.UpdateEntry(ctx, next); err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
		if err := e.syncEntryToAssignment(ctx, s, current.UserEmail, current.EntryDate, 0, current.TaskID); err != nil {
			return err
		}
		return e.syncEntryToAssignment(ctx, s, updated.UserEmail, updated.EntryDate, updated.Hours, updated.TaskID)
	})
	if err != nil {
		e.log(ctx).Warn("time entry not updated", "entry_id", id, "error", err)
		return generic.WorkLogEntry{}, err
	}
	e.log(ctx).Info("time entry updated", "entry_id", updated.ID, "date", updated.EntryDate.String())
	return updated, nil
}

// DeleteTimeEntry removes an entry owned by email and its calendar mirror.
func (e *Engine) DeleteTimeEntry(ctx context.Context, email string, id generic.EntryID) (generic.WorkLogEntry, error) {
	defer observe("delete_time_entry")()

	var deleted generic.WorkLogEntry
	err := e.store.WithTx(ctx, func(s generic.Store) error {
		if _, err := e.ownedEntry(ctx, s, email, id); err != nil {
			return err
		}
		row, err := s.DeleteEntry(ctx, id)
		if err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		if row == nil {
			return &generic.NotFoundError{Kind: "time entry", ID: id}
		}
		deleted = *row
		return e.syncEntryToAssignment(ctx, s, deleted.UserEmail, deleted.EntryDate, 0, deleted.TaskID)
	})
	if err != nil {
		e.log(ctx).Warn("time entry not deleted", "entry_id", id, "error", err)
		return generic.WorkLogEntry{}, err
	}
	e.log(ctx).Info("time entry deleted", "entry_id", deleted.ID)
	return deleted, nil
}

// TimeEntryList is a user's ledger over a period with the logged total.
type TimeEntryList struct {
	Entries []generic.WorkLogEntry
	Total   generic.Amount
}

// ListTimeEntries returns the entries of email inside p, newest first.
func (e *Engine) ListTimeEntries(ctx context.Context, email string, p generic.Period) (TimeEntryList, error) {
	if err := validatePeriod(p); err != nil {
		return TimeEntryList{}, err
	}
	if _, err := e.requireUserByEmail(ctx, e.store, email); err != nil {
		return TimeEntryList{}, err
	}
	entries, err := e.store.ListEntriesByUser(ctx, email, p)
	if err != nil {
		return TimeEntryList{}, fmt.Errorf("list entries: %w", err)
	}

	out := TimeEntryList{Entries: entries, Total: generic.HoursAndMinutes(0, 0)}
	for _, entry := range entries {
		out.Total = out.Total.Add(entry.Logged())
	}
	return out, nil
}

func (e *Engine) ownedEntry(ctx context.Context, s generic.Store, email string, id generic.EntryID) (generic.WorkLogEntry, error) {
	entry, err := s.GetEntry(ctx, id)
	if err != nil {
		return generic.WorkLogEntry{}, fmt.Errorf("get entry: %w", err)
	}
	if entry == nil {
		return generic.WorkLogEntry{}, &generic.NotFoundError{Kind: "time entry", ID: id}
	}
	if !strings.EqualFold(entry.UserEmail, email) {
		return generic.WorkLogEntry{}, fmt.Errorf("time entry %d belongs to another user: %w", id, generic.ErrForbidden)
	}
	return *entry, nil
}

func (e *Engine) requireUserByEmail(ctx context.Context, s generic.Store, email string) (generic.User, error) {
	if strings.TrimSpace(email) == "" {
		return generic.User{}, generic.Invalid("email", "is required")
	}
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return generic.User{}, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return generic.User{}, &generic.NotFoundError{Kind: "user", ID: email}
	}
	return *user, nil
}
