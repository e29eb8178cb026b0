package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/allocation-engine/generic"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements generic.Store on top of a querier. The Store embeds one
// bound to the pool; WithTx hands out one bound to the transaction.
type queries struct {
	q querier
}

var _ generic.Store = (*queries)(nil)

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// ASSIGNMENTS (generic.AssignmentStore interface)
// =============================================================================

const assignmentColumns = `id, user_id, project_id, allocation_hours, start_date, end_date, created_at, updated_at`

func scanAssignment(row scanner) (generic.Assignment, error) {
	var (
		a                    generic.Assignment
		start, end           string
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.ProjectID, &a.AllocationHours, &start, &end, &createdAt, &updatedAt); err != nil {
		return a, err
	}
	var err error
	if a.Period.Start, err = parseDate(start); err != nil {
		return a, err
	}
	if a.Period.End, err = parseDate(end); err != nil {
		return a, err
	}
	a.CreatedAt = parseTimestamp(createdAt)
	a.UpdatedAt = parseTimestamp(updatedAt)
	return a, nil
}

func (s *queries) queryAssignments(ctx context.Context, query string, args ...any) ([]generic.Assignment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []generic.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *queries) queryAssignment(ctx context.Context, query string, args ...any) (*generic.Assignment, error) {
	a, err := scanAssignment(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return &a, nil
}

func (s *queries) GetAssignment(ctx context.Context, id generic.AssignmentID) (*generic.Assignment, error) {
	return s.queryAssignment(ctx, `SELECT `+assignmentColumns+` FROM user_projects WHERE id = ?`, id)
}

func (s *queries) FindAssignment(ctx context.Context, userID generic.UserID, projectID generic.ProjectID) (*generic.Assignment, error) {
	return s.queryAssignment(ctx, `
		SELECT `+assignmentColumns+` FROM user_projects
		WHERE user_id = ? AND project_id = ?
		ORDER BY start_date ASC, id ASC
		LIMIT 1
	`, userID, projectID)
}

func (s *queries) InsertAssignment(ctx context.Context, a generic.Assignment) (generic.Assignment, error) {
	ts := now()
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO user_projects (user_id, project_id, allocation_hours, start_date, end_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, a.UserID, a.ProjectID, a.AllocationHours, formatDate(a.Period.Start), formatDate(a.Period.End), ts, ts).Scan(&a.ID)
	if err != nil {
		if isCheckConstraintError(err) {
			return generic.Assignment{}, generic.Invalid("allocation_hours", "rejected by the database: %v", err)
		}
		return generic.Assignment{}, fmt.Errorf("failed to insert assignment: %w", err)
	}
	a.CreatedAt = parseTimestamp(ts)
	a.UpdatedAt = a.CreatedAt
	return a, nil
}

func (s *queries) UpdateAssignment(ctx context.Context, a generic.Assignment) (generic.Assignment, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE user_projects
		SET allocation_hours = ?, start_date = ?, end_date = ?, updated_at = ?
		WHERE id = ?
	`, a.AllocationHours, formatDate(a.Period.Start), formatDate(a.Period.End), now(), a.ID)
	if err != nil {
		if isCheckConstraintError(err) {
			return generic.Assignment{}, generic.Invalid("allocation_hours", "rejected by the database: %v", err)
		}
		return generic.Assignment{}, fmt.Errorf("failed to update assignment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.Assignment{}, &generic.NotFoundError{Kind: "assignment", ID: a.ID}
	}

	updated, err := s.GetAssignment(ctx, a.ID)
	if err != nil {
		return generic.Assignment{}, err
	}
	if updated == nil {
		return generic.Assignment{}, &generic.NotFoundError{Kind: "assignment", ID: a.ID}
	}
	return *updated, nil
}

func (s *queries) DeleteAssignment(ctx context.Context, id generic.AssignmentID) (*generic.Assignment, error) {
	return s.queryAssignment(ctx, `DELETE FROM user_projects WHERE id = ? RETURNING `+assignmentColumns, id)
}

func (s *queries) ListAssignmentsByUser(ctx context.Context, userID generic.UserID) ([]generic.Assignment, error) {
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM user_projects
		WHERE user_id = ?
		ORDER BY start_date ASC, id ASC
	`, userID)
}

func (s *queries) ListAssignmentsOn(ctx context.Context, day generic.TimePoint) ([]generic.Assignment, error) {
	d := formatDate(day)
	return s.queryAssignments(ctx, `
		SELECT `+assignmentColumns+` FROM user_projects
		WHERE start_date <= ? AND end_date >= ?
		ORDER BY user_id ASC, start_date ASC, id ASC
	`, d, d)
}

func (s *queries) ListProjectAssignments(ctx context.Context, projectID generic.ProjectID, p generic.Period, userIDs []generic.UserID) ([]generic.Assignment, error) {
	query := `
		SELECT ` + assignmentColumns + ` FROM user_projects
		WHERE project_id = ? AND start_date <= ? AND end_date >= ?`
	args := []any{projectID, formatDate(p.End), formatDate(p.Start)}

	if userIDs != nil {
		if len(userIDs) == 0 {
			return nil, nil
		}
		query += ` AND user_id IN (` + placeholders(len(userIDs)) + `)`
		for _, id := range userIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY start_date ASC, id ASC`

	return s.queryAssignments(ctx, query, args...)
}

// MaxOverlappingAllocation evaluates the per-day sum at the range start and
// at every start_date inside the range. The sum only rises where a row
// starts, so those points include the busiest day.
func (s *queries) MaxOverlappingAllocation(ctx context.Context, userID generic.UserID, p generic.Period, exclude generic.AssignmentID) (int, error) {
	query := `
		WITH mine AS (
			SELECT start_date, end_date, allocation_hours
			FROM user_projects
			WHERE user_id = ?1 AND id != ?2 AND start_date <= ?4 AND end_date >= ?3
		),
		points AS (
			SELECT ?3 AS day
			UNION
			SELECT start_date FROM mine WHERE start_date > ?3
		)
		SELECT COALESCE(MAX(total), 0) FROM (
			SELECT points.day, SUM(mine.allocation_hours) AS total
			FROM points
			JOIN mine ON mine.start_date <= points.day AND mine.end_date >= points.day
			GROUP BY points.day
		)
	`

	var maxSum int
	err := s.q.QueryRowContext(ctx, query, userID, exclude, formatDate(p.Start), formatDate(p.End)).Scan(&maxSum)
	if err != nil {
		return 0, fmt.Errorf("failed to compute overlapping allocation: %w", err)
	}
	return maxSum, nil
}

func (s *queries) DeleteAssignmentsTouchingDay(ctx context.Context, userID generic.UserID, projectID generic.ProjectID, day generic.TimePoint) (int, error) {
	d := formatDate(day)
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM user_projects
		WHERE user_id = ? AND project_id = ? AND (start_date = ? OR end_date = ?)
	`, userID, projectID, d, d)
	if err != nil {
		return 0, fmt.Errorf("failed to delete assignments: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// WORK-LOG ENTRIES (generic.EntryStore interface)
// =============================================================================

const entryColumns = `id, task_id, user_name, user_email, user_dept, project_name, project_code,
	location, remarks, client, entry_date, hours, minutes, created_at`

func scanEntry(row scanner) (generic.WorkLogEntry, error) {
	var (
		e         generic.WorkLogEntry
		entryDate string
		createdAt string
	)
	err := row.Scan(
		&e.ID, &e.TaskID, &e.UserName, &e.UserEmail, &e.UserDept, &e.ProjectName, &e.ProjectCode,
		&e.Location, &e.Remarks, &e.Client, &entryDate, &e.Hours, &e.Minutes, &createdAt,
	)
	if err != nil {
		return e, err
	}
	if e.EntryDate, err = parseDate(entryDate); err != nil {
		return e, err
	}
	e.CreatedAt = parseTimestamp(createdAt)
	return e, nil
}

func (s *queries) queryEntry(ctx context.Context, query string, args ...any) (*generic.WorkLogEntry, error) {
	e, err := scanEntry(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get time entry: %w", err)
	}
	return &e, nil
}

func (s *queries) GetEntry(ctx context.Context, id generic.EntryID) (*generic.WorkLogEntry, error) {
	return s.queryEntry(ctx, `SELECT `+entryColumns+` FROM time_entries WHERE id = ?`, id)
}

func (s *queries) InsertEntry(ctx context.Context, e generic.WorkLogEntry) (generic.WorkLogEntry, error) {
	ts := now()
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO time_entries
		(task_id, user_name, user_email, user_dept, project_name, project_code,
		 location, remarks, client, entry_date, hours, minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		e.TaskID, e.UserName, e.UserEmail, e.UserDept, e.ProjectName, e.ProjectCode,
		e.Location, e.Remarks, e.Client, formatDate(e.EntryDate), e.Hours, e.Minutes, ts,
	).Scan(&e.ID)
	if err != nil {
		return generic.WorkLogEntry{}, fmt.Errorf("failed to insert time entry: %w", err)
	}
	e.CreatedAt = parseTimestamp(ts)
	return e, nil
}

func (s *queries) UpdateEntry(ctx context.Context, e generic.WorkLogEntry) (generic.WorkLogEntry, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE time_entries
		SET task_id = ?, project_name = ?, project_code = ?, location = ?, remarks = ?,
		    client = ?, entry_date = ?, hours = ?, minutes = ?
		WHERE id = ?
	`, e.TaskID, e.ProjectName, e.ProjectCode, e.Location, e.Remarks,
		e.Client, formatDate(e.EntryDate), e.Hours, e.Minutes, e.ID)
	if err != nil {
		return generic.WorkLogEntry{}, fmt.Errorf("failed to update time entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.WorkLogEntry{}, &generic.NotFoundError{Kind: "time entry", ID: e.ID}
	}

	updated, err := s.GetEntry(ctx, e.ID)
	if err != nil {
		return generic.WorkLogEntry{}, err
	}
	if updated == nil {
		return generic.WorkLogEntry{}, &generic.NotFoundError{Kind: "time entry", ID: e.ID}
	}
	return *updated, nil
}

func (s *queries) DeleteEntry(ctx context.Context, id generic.EntryID) (*generic.WorkLogEntry, error) {
	return s.queryEntry(ctx, `DELETE FROM time_entries WHERE id = ? RETURNING `+entryColumns, id)
}

func (s *queries) ListEntriesByUser(ctx context.Context, email string, p generic.Period) ([]generic.WorkLogEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM time_entries
		WHERE user_email = ? AND entry_date BETWEEN ? AND ?
		ORDER BY entry_date DESC, id DESC
	`, email, formatDate(p.Start), formatDate(p.End))
	if err != nil {
		return nil, fmt.Errorf("failed to query time entries: %w", err)
	}
	defer rows.Close()

	var out []generic.WorkLogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *queries) DeleteSyncedEntries(ctx context.Context, emails []string, taskID generic.TaskID, p generic.Period) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}
	args := []any{taskID, generic.AutoSyncRemarks, formatDate(p.Start), formatDate(p.End)}
	for _, e := range emails {
		args = append(args, e)
	}

	res, err := s.q.ExecContext(ctx, `
		DELETE FROM time_entries
		WHERE task_id = ? AND remarks = ? AND entry_date BETWEEN ? AND ?
		  AND user_email IN (`+placeholders(len(emails))+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete synced entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// DIRECTORY (generic.DirectoryStore interface)
// =============================================================================

func (s *queries) queryUser(ctx context.Context, query string, args ...any) (*generic.User, error) {
	var u generic.User
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Name, &u.Email, &u.Dept)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *queries) GetUser(ctx context.Context, id generic.UserID) (*generic.User, error) {
	return s.queryUser(ctx, `SELECT id, name, email, dept FROM users WHERE id = ?`, id)
}

func (s *queries) GetUserByEmail(ctx context.Context, email string) (*generic.User, error) {
	return s.queryUser(ctx, `SELECT id, name, email, dept FROM users WHERE email = ?`, email)
}

const projectColumns = `id, name, code, client, location, category`

func (s *queries) queryProject(ctx context.Context, query string, args ...any) (*generic.Project, error) {
	var p generic.Project
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.Name, &p.Code, &p.Client, &p.Location, &p.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (s *queries) GetProject(ctx context.Context, id generic.ProjectID) (*generic.Project, error) {
	return s.queryProject(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
}

func (s *queries) FindProjectByCategoryOrName(ctx context.Context, category, name string) (*generic.Project, error) {
	return s.queryProject(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE (?1 != '' AND category = ?1 COLLATE NOCASE)
		   OR (?2 != '' AND name = ?2)
		ORDER BY CASE WHEN ?1 != '' AND category = ?1 COLLATE NOCASE THEN 0 ELSE 1 END, id ASC
		LIMIT 1
	`, category, name)
}

func (s *queries) FindTaskByName(ctx context.Context, name string) (*generic.Task, error) {
	var t generic.Task
	err := s.q.QueryRowContext(ctx, `
		SELECT id, name, dept FROM tasks WHERE name = ? ORDER BY id ASC LIMIT 1
	`, name).Scan(&t.ID, &t.Name, &t.Dept)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &t, nil
}
