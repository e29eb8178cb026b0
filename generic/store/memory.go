// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a generic.TxStore backed by maps. WithTx snapshots the state and
// restores it if the callback fails, so rollback behaves like the SQL store.
type Memory struct {
	mu sync.RWMutex
	st state
}

type state struct {
	users       map[generic.UserID]generic.User
	projects    map[generic.ProjectID]generic.Project
	tasks       map[generic.TaskID]generic.Task
	assignments map[generic.AssignmentID]generic.Assignment
	entries     map[generic.EntryID]generic.WorkLogEntry

	nextAssignment generic.AssignmentID
	nextEntry      generic.EntryID

	now func() time.Time
}

var _ generic.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{st: state{
		users:       make(map[generic.UserID]generic.User),
		projects:    make(map[generic.ProjectID]generic.Project),
		tasks:       make(map[generic.TaskID]generic.Task),
		assignments: make(map[generic.AssignmentID]generic.Assignment),
		entries:     make(map[generic.EntryID]generic.WorkLogEntry),
		now:         time.Now,
	}}
}

// =============================================================================
// SEEDING - Catalog CRUD is outside the engine; tests seed directly
// =============================================================================

func (m *Memory) AddUser(u generic.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.users[u.ID] = u
}

func (m *Memory) AddProject(p generic.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.projects[p.ID] = p
}

func (m *Memory) AddTask(t generic.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.tasks[t.ID] = t
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := *s
	c.users = make(map[generic.UserID]generic.User, len(s.users))
	for k, v := range s.users {
		c.users[k] = v
	}
	c.projects = make(map[generic.ProjectID]generic.Project, len(s.projects))
	for k, v := range s.projects {
		c.projects[k] = v
	}
	c.tasks = make(map[generic.TaskID]generic.Task, len(s.tasks))
	for k, v := range s.tasks {
		c.tasks[k] = v
	}
	c.assignments = make(map[generic.AssignmentID]generic.Assignment, len(s.assignments))
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	c.entries = make(map[generic.EntryID]generic.WorkLogEntry, len(s.entries))
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

// txView is the Store handed to WithTx callbacks. The parent lock is held.
type txView struct {
	st *state
}

func (v *txView) GetAssignment(_ context.Context, id generic.AssignmentID) (*generic.Assignment, error) {
	return v.st.getAssignment(id), nil
}

func (v *txView) FindAssignment(_ context.Context, userID generic.UserID, projectID generic.ProjectID) (*generic.Assignment, error) {
	return v.st.findAssignment(userID, projectID), nil
}

func (v *txView) InsertAssignment(_ context.Context, a generic.Assignment) (generic.Assignment, error) {
	return v.st.insertAssignment(a), nil
}

func (v *txView) UpdateAssignment(_ context.Context, a generic.Assignment) (generic.Assignment, error) {
	return v.st.updateAssignment(a)
}

func (v *txView) DeleteAssignment(_ context.Context, id generic.AssignmentID) (*generic.Assignment, error) {
	return v.st.deleteAssignment(id), nil
}

func (v *txView) ListAssignmentsByUser(_ context.Context, userID generic.UserID) ([]generic.Assignment, error) {
	return v.st.listAssignments(func(a generic.Assignment) bool { return a.UserID == userID }), nil
}

func (v *txView) ListAssignmentsOn(_ context.Context, day generic.TimePoint) ([]generic.Assignment, error) {
	return v.st.listAssignments(func(a generic.Assignment) bool { return a.Covers(day) }), nil
}

func (v *txView) ListProjectAssignments(_ context.Context, projectID generic.ProjectID, p generic.Period, userIDs []generic.UserID) ([]generic.Assignment, error) {
	return v.st.listProjectAssignments(projectID, p, userIDs), nil
}

func (v *txView) MaxOverlappingAllocation(_ context.Context, userID generic.UserID, p generic.Period, exclude generic.AssignmentID) (int, error) {
	return v.st.maxOverlapping(userID, p, exclude), nil
}

func (v *txView) DeleteAssignmentsTouchingDay(_ context.Context, userID generic.UserID, projectID generic.ProjectID, day generic.TimePoint) (int, error) {
	return v.st.deleteAssignmentsWhere(func(a generic.Assignment) bool {
		return a.UserID == userID && a.ProjectID == projectID &&
			(a.Period.Start.Equal(day) || a.Period.End.Equal(day))
	}), nil
}


func (v *txView) GetEntry(_ context.Context, id generic.EntryID) (*generic.WorkLogEntry, error) {
	return v.st.getEntry(id), nil
}

func (v *txView) InsertEntry(_ context.Context, e generic.WorkLogEntry) (generic.WorkLogEntry, error) {
	return v.st.insertEntry(e), nil
}

func (v *txView) UpdateEntry(_ context.Context, e generic.WorkLogEntry) (generic.WorkLogEntry, error) {
	return v.st.updateEntry(e)
}

func (v *txView) DeleteEntry(_ context.Context, id generic.EntryID) (*generic.WorkLogEntry, error) {
	return v.st.deleteEntry(id), nil
}

func (v *txView) ListEntriesByUser(_ context.Context, email string, p generic.Period) ([]generic.WorkLogEntry, error) {
	return v.st.listEntriesByUser(email, p), nil
}

func (v *txView) DeleteSyncedEntries(_ context.Context, emails []string, taskID generic.TaskID, p generic.Period) (int, error) {
	return v.st.deleteSyncedEntries(emails, taskID, p), nil
}

func (v *txView) GetUser(_ context.Context, id generic.UserID) (*generic.User, error) {
	return v.st.getUser(id), nil
}

func (v *txView) GetUserByEmail(_ context.Context, email string) (*generic.User, error) {
	return v.st.getUserByEmail(email), nil
}

func (v *txView) GetProject(_ context.Context, id generic.ProjectID) (*generic.Project, error) {
	return v.st.getProject(id), nil
}

func (v *txView) FindTaskByName(_ context.Context, name string) (*generic.Task, error) {
	return v.st.findTaskByName(name), nil
}

func (v *txView) FindProjectByCategoryOrName(_ context.Context, category, name string) (*generic.Project, error) {
	return v.st.findProjectByCategoryOrName(category, name), nil
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS - Each call locks the store on its own
// =============================================================================

func (m *Memory) read(fn func(v *txView)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(&txView{st: &m.st})
}

func (m *Memory) write(fn func(v *txView)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&txView{st: &m.st})
}

func (m *Memory) GetAssignment(ctx context.Context, id generic.AssignmentID) (a *generic.Assignment, err error) {
	m.read(func(v *txView) { a, err = v.GetAssignment(ctx, id) })
	return
}

func (m *Memory) FindAssignment(ctx context.Context, userID generic.UserID, projectID generic.ProjectID) (a *generic.Assignment, err error) {
	m.read(func(v *txView) { a, err = v.FindAssignment(ctx, userID, projectID) })
	return
}

func (m *Memory) InsertAssignment(ctx context.Context, in generic.Assignment) (a generic.Assignment, err error) {
	m.write(func(v *txView) { a, err = v.InsertAssignment(ctx, in) })
	return
}

func (m *Memory) UpdateAssignment(ctx context.Context, in generic.Assignment) (a generic.Assignment, err error) {
	m.write(func(v *txView) { a, err = v.UpdateAssignment(ctx, in) })
	return
}

func (m *Memory) DeleteAssignment(ctx context.Context, id generic.AssignmentID) (a *generic.Assignment, err error) {
	m.write(func(v *txView) { a, err = v.DeleteAssignment(ctx, id) })
	return
}

func (m *Memory) ListAssignmentsByUser(ctx context.Context, userID generic.UserID) (out []generic.Assignment, err error) {
	m.read(func(v *txView) { out, err = v.ListAssignmentsByUser(ctx, userID) })
	return
}

func (m *Memory) ListAssignmentsOn(ctx context.Context, day generic.TimePoint) (out []generic.Assignment, err error) {
	m.read(func(v *txView) { out, err = v.ListAssignmentsOn(ctx, day) })
	return
}

func (m *Memory) ListProjectAssignments(ctx context.Context, projectID generic.ProjectID, p generic.Period, userIDs []generic.UserID) (out []generic.Assignment, err error) {
	m.read(func(v *txView) { out, err = v.ListProjectAssignments(ctx, projectID, p, userIDs) })
	return
}

func (m *Memory) MaxOverlappingAllocation(ctx context.Context, userID generic.UserID, p generic.Period, exclude generic.AssignmentID) (n int, err error) {
	m.read(func(v *txView) { n, err = v.MaxOverlappingAllocation(ctx, userID, p, exclude) })
	return
}

func (m *Memory) DeleteAssignmentsTouchingDay(ctx context.Context, userID generic.UserID, projectID generic.ProjectID, day generic.TimePoint) (n int, err error) {
	m.write(func(v *txView) { n, err = v.DeleteAssignmentsTouchingDay(ctx, userID, projectID, day) })
	return
}

func (m *Memory) GetEntry(ctx context.Context, id generic.EntryID) (e *generic.WorkLogEntry, err error) {
	m.read(func(v *txView) { e, err = v.GetEntry(ctx, id) })
	return
}

func (m *Memory) InsertEntry(ctx context.Context, in generic.WorkLogEntry) (e generic.WorkLogEntry, err error) {
	m.write(func(v *txView) { e, err = v.InsertEntry(ctx, in) })
	return
}

func (m *Memory) UpdateEntry(ctx context.Context, in generic.WorkLogEntry) (e generic.WorkLogEntry, err error) {
	m.write(func(v *txView) { e, err = v.UpdateEntry(ctx, in) })
	return
}

func (m *Memory) DeleteEntry(ctx context.Context, id generic.EntryID) (e *generic.WorkLogEntry, err error) {
	m.write(func(v *txView) { e, err = v.DeleteEntry(ctx, id) })
	return
}

func (m *Memory) ListEntriesByUser(ctx context.Context, email string, p generic.Period) (out []generic.WorkLogEntry, err error) {
	m.read(func(v *txView) { out, err = v.ListEntriesByUser(ctx, email, p) })
	return
}

func (m *Memory) DeleteSyncedEntries(ctx context.Context, emails []string, taskID generic.TaskID, p generic.Period) (n int, err error) {
	m.write(func(v *txView) { n, err = v.DeleteSyncedEntries(ctx, emails, taskID, p) })
	return
}

func (m *Memory) GetUser(ctx context.Context, id generic.UserID) (u *generic.User, err error) {
	m.read(func(v *txView) { u, err = v.GetUser(ctx, id) })
	return
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (u *generic.User, err error) {
	m.read(func(v *txView) { u, err = v.GetUserByEmail(ctx, email) })
	return
}

func (m *Memory) GetProject(ctx context.Context, id generic.ProjectID) (p *generic.Project, err error) {
	m.read(func(v *txView) { p, err = v.GetProject(ctx, id) })
	return
}

func (m *Memory) FindTaskByName(ctx context.Context, name string) (t *generic.Task, err error) {
	m.read(func(v *txView) { t, err = v.FindTaskByName(ctx, name) })
	return
}

func (m *Memory) FindProjectByCategoryOrName(ctx context.Context, category, name string) (p *generic.Project, err error) {
	m.read(func(v *txView) { p, err = v.FindProjectByCategoryOrName(ctx, category, name) })
	return
}

// =============================================================================
// STATE OPERATIONS - Callers hold the lock
// =============================================================================

func (s *state) getAssignment(id generic.AssignmentID) *generic.Assignment {
	a, ok := s.assignments[id]
	if !ok {
		return nil
	}
	return &a
}

func (s *state) findAssignment(userID generic.UserID, projectID generic.ProjectID) *generic.Assignment {
	matches := s.listAssignments(func(a generic.Assignment) bool {
		return a.UserID == userID && a.ProjectID == projectID
	})
	if len(matches) == 0 {
		return nil
	}
	return &matches[0]
}

func (s *state) insertAssignment(a generic.Assignment) generic.Assignment {
	s.nextAssignment++
	now := s.now().UTC()
	a.ID = s.nextAssignment
	a.CreatedAt = now
	a.UpdatedAt = now
	s.assignments[a.ID] = a
	return a
}

func (s *state) updateAssignment(a generic.Assignment) (generic.Assignment, error) {
	existing, ok := s.assignments[a.ID]
	if !ok {
		return generic.Assignment{}, &generic.NotFoundError{Kind: "assignment", ID: a.ID}
	}
	existing.AllocationHours = a.AllocationHours
	existing.Period = a.Period
	existing.UpdatedAt = s.now().UTC()
	s.assignments[a.ID] = existing
	return existing, nil
}

func (s *state) deleteAssignment(id generic.AssignmentID) *generic.Assignment {
	a, ok := s.assignments[id]
	if !ok {
		return nil
	}
	delete(s.assignments, id)
	return &a
}

func (s *state) deleteAssignmentsWhere(match func(generic.Assignment) bool) int {
	n := 0
	for id, a := range s.assignments {
		if match(a) {
			delete(s.assignments, id)
			n++
		}
	}
	return n
}

func (s *state) listAssignments(match func(generic.Assignment) bool) []generic.Assignment {
	var out []generic.Assignment
	for _, a := range s.assignments {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Period.Start.Equal(out[j].Period.Start) {
			return out[i].Period.Start.Before(out[j].Period.Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) listProjectAssignments(projectID generic.ProjectID, p generic.Period, userIDs []generic.UserID) []generic.Assignment {
	users := userSet(userIDs)
	return s.listAssignments(func(a generic.Assignment) bool {
		if a.ProjectID != projectID || !a.Period.Overlaps(p) {
			return false
		}
		return userIDs == nil || users[a.UserID]
	})
}

func (s *state) maxOverlapping(userID generic.UserID, p generic.Period, exclude generic.AssignmentID) int {
	mine := s.listAssignments(func(a generic.Assignment) bool { return a.UserID == userID })
	return generic.MaxOverlap(mine, p, exclude)
}

func (s *state) getEntry(id generic.EntryID) *generic.WorkLogEntry {
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	return &e
}

func (s *state) insertEntry(e generic.WorkLogEntry) generic.WorkLogEntry {
	s.nextEntry++
	e.ID = s.nextEntry
	e.CreatedAt = s.now().UTC()
	s.entries[e.ID] = e
	return e
}

func (s *state) updateEntry(e generic.WorkLogEntry) (generic.WorkLogEntry, error) {
	existing, ok := s.entries[e.ID]
	if !ok {
		return generic.WorkLogEntry{}, &generic.NotFoundError{Kind: "time entry", ID: e.ID}
	}
	e.CreatedAt = existing.CreatedAt
	s.entries[e.ID] = e
	return e, nil
}

func (s *state) deleteEntry(id generic.EntryID) *generic.WorkLogEntry {
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	delete(s.entries, id)
	return &e
}

func (s *state) listEntriesByUser(email string, p generic.Period) []generic.WorkLogEntry {
	var out []generic.WorkLogEntry
	for _, e := range s.entries {
		if strings.EqualFold(e.UserEmail, email) && p.Contains(e.EntryDate) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.After(out[j].EntryDate)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *state) deleteSyncedEntries(emails []string, taskID generic.TaskID, p generic.Period) int {
	wanted := make(map[string]bool, len(emails))
	for _, e := range emails {
		wanted[strings.ToLower(e)] = true
	}
	n := 0
	for id, e := range s.entries {
		if e.TaskID == taskID && e.IsAutoSynced() && p.Contains(e.EntryDate) && wanted[strings.ToLower(e.UserEmail)] {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *state) getUser(id generic.UserID) *generic.User {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return &u
}

func (s *state) getUserByEmail(email string) *generic.User {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u
		}
	}
	return nil
}

func (s *state) getProject(id generic.ProjectID) *generic.Project {
	p, ok := s.projects[id]
	if !ok {
		return nil
	}
	return &p
}

func (s *state) findTaskByName(name string) *generic.Task {
	var found *generic.Task
	for _, t := range s.tasks {
		if t.Name == name && (found == nil || t.ID < found.ID) {
			t := t
			found = &t
		}
	}
	return found
}

func (s *state) findProjectByCategoryOrName(category, name string) *generic.Project {
	var byCategory, byName *generic.Project
	for _, p := range s.projects {
		p := p
		if category != "" && strings.EqualFold(p.Category, category) && (byCategory == nil || p.ID < byCategory.ID) {
			byCategory = &p
		}
		if name != "" && p.Name == name && (byName == nil || p.ID < byName.ID) {
			byName = &p
		}
	}
	if byCategory != nil {
		return byCategory
	}
	return byName
}

func userSet(ids []generic.UserID) map[generic.UserID]bool {
	set := make(map[generic.UserID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
