package allocation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/allocation-engine/allocation"
	"github.com/warp/allocation-engine/catalog"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/generic/store"
	"github.com/warp/allocation-engine/logging"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	alice generic.UserID = 1
	bob   generic.UserID = 2

	apollo generic.ProjectID = 10
	hermes generic.ProjectID = 20
	pto    generic.ProjectID = 99

	leaveTask generic.TaskID = 7
	devTask   generic.TaskID = 8
)

func newTestStore() *store.Memory {
	s := store.NewMemory()
	s.AddUser(generic.User{ID: alice, Name: "Alice", Email: "alice@warp.dev", Dept: "Engineering"})
	s.AddUser(generic.User{ID: bob, Name: "Bob", Email: "bob@warp.dev", Dept: "Design"})
	s.AddProject(generic.Project{ID: apollo, Name: "Apollo", Code: 1001, Client: "Acme", Location: "Paris", Category: "project"})
	s.AddProject(generic.Project{ID: hermes, Name: "Hermes", Code: 1002, Client: "Globex", Location: "Remote", Category: "project"})
	s.AddProject(generic.Project{ID: pto, Name: "PTO", Code: 9000, Location: "Remote", Category: "pto"})
	s.AddTask(generic.Task{ID: leaveTask, Name: catalog.DefaultLeaveTaskName, Dept: "All"})
	s.AddTask(generic.Task{ID: devTask, Name: "Development", Dept: "Engineering"})
	return s
}

func newTestEngine(t *testing.T) (*allocation.Engine, *store.Memory) {
	t.Helper()
	s := newTestStore()
	return allocation.NewEngine(s, catalog.Defaults(), logging.Discard()), s
}

func jan(day int) generic.TimePoint {
	return generic.NewTimePoint(2025, time.January, day)
}

func january() generic.Period {
	return generic.MonthPeriod(2025, time.January)
}

func request(user generic.UserID, project generic.ProjectID, hours int, start, end generic.TimePoint) allocation.AssignmentRequest {
	return allocation.AssignmentRequest{
		UserID:          user,
		ProjectID:       project,
		AllocationHours: hours,
		Start:           start,
		End:             end,
	}
}

func entryDates(entries []generic.WorkLogEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.EntryDate.String())
	}
	return out
}

func intPtr(v int) *int { return &v }

// =============================================================================
// CREATE / MERGE
// =============================================================================

func TestCreate_NewPair_Inserted(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	result, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 40, jan(1), jan(31)))
	require.NoError(t, err)

	assert.False(t, result.Merged)
	assert.NotZero(t, result.Assignment.ID)
	assert.Equal(t, 40, result.Assignment.AllocationHours)
	assert.Equal(t, generic.Period{Start: jan(1), End: jan(31)}, result.Assignment.Period)
}

func TestCreate_ExistingPair_MergesHoursAndRange(t *testing.T) {
	// GIVEN: Alice has 20h on Apollo over Jan 1-5
	// WHEN: Another 15h is requested over Jan 3-10
	// THEN: The row is merged to 35h over Jan 1-10, keeping its id

	engine, s := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 20, jan(1), jan(5)))
	require.NoError(t, err)

	second, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 15, jan(3), jan(10)))
	require.NoError(t, err)

	assert.True(t, second.Merged)
	assert.Equal(t, first.Assignment.ID, second.Assignment.ID)
	assert.Equal(t, 35, second.Assignment.AllocationHours)
	assert.Equal(t, jan(1), second.Assignment.Period.Start)
	assert.Equal(t, jan(10), second.Assignment.Period.End)

	rows, err := s.ListAssignmentsByUser(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "merge must not create a second row")
}

func TestCreate_MergeOverCap_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 100, jan(1), jan(10)))
	require.NoError(t, err)
	_, err = engine.CreateOrMergeAssignment(ctx, request(alice, hermes, 40, jan(5), jan(6)))
	require.NoError(t, err)

	_, err = engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 30, jan(1), jan(2)))

	var capErr *generic.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, capErr.Merged)
	assert.Equal(t, 130, capErr.Requested)
	assert.Equal(t, 40, capErr.MaxOther)
	assert.Equal(t, 170, capErr.Total())
}

func TestCreate_ExactlyAtCap_Accepted(t *testing.T) {
	// GIVEN: Alice has 150h on Apollo for January
	// WHEN: 10h more on Hermes overlapping that range
	// THEN: Accepted, the busiest day carries exactly 160h

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 150, jan(1), jan(31)))
	require.NoError(t, err)

	_, err = engine.CreateOrMergeAssignment(ctx, request(alice, hermes, 10, jan(15), jan(20)))
	assert.NoError(t, err)
}

func TestCreate_OneHourOverCap_Rejected(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(bob, apollo, 150, jan(1), jan(31)))
	require.NoError(t, err)

	_, err = engine.CreateOrMergeAssignment(ctx, request(bob, hermes, 11, jan(31), jan(31)))

	assert.ErrorIs(t, err, generic.ErrCapacityExceeded)
	var capErr *generic.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.False(t, capErr.Merged)
	assert.Equal(t, 150, capErr.MaxOther)
	assert.Equal(t, 11, capErr.Requested)
	assert.Equal(t, 10, capErr.Available())

	rows, err := s.ListAssignmentsByUser(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "rejected request must not be written")
}

func TestCreate_MergeIntoSingleDayPTORows_FoldsIntoEarliest(t *testing.T) {
	// GIVEN: Alice has single-day PTO rows on Jan 8 and Jan 6 (from the grid)
	// WHEN: A PTO request for Jan 13-14 at 4h arrives
	// THEN: It merges into the Jan 6 row; the Jan 8 row stays as it was

	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.SavePTOAssignments(ctx, []allocation.PTODay{
		{UserID: alice, Day: 8, Hours: 8},
		{UserID: alice, Day: 6, Hours: 8},
	}, time.January, 2025)
	require.NoError(t, err)
	before, err := s.ListProjectAssignments(ctx, pto, january(), []generic.UserID{alice})
	require.NoError(t, err)
	require.Len(t, before, 2)
	earliest := before[0]
	require.Equal(t, generic.SingleDay(jan(6)), earliest.Period)

	result, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 4, jan(13), jan(14)))
	require.NoError(t, err)

	assert.True(t, result.Merged)
	assert.Equal(t, earliest.ID, result.Assignment.ID)
	assert.Equal(t, 12, result.Assignment.AllocationHours)
	assert.Equal(t, generic.Period{Start: jan(6), End: jan(14)}, result.Assignment.Period)

	after, err := s.ListProjectAssignments(ctx, pto, january(), []generic.UserID{alice})
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, generic.SingleDay(jan(8)), after[1].Period)
	assert.Equal(t, 8, after[1].AllocationHours)
}

func TestCreate_DisjointRanges_DoNotStack(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 160, jan(1), jan(15)))
	require.NoError(t, err)

	_, err = engine.CreateOrMergeAssignment(ctx, request(alice, hermes, 160, jan(16), jan(31)))
	assert.NoError(t, err)
}

func TestCreate_InvalidInput_RejectedBeforeStore(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  allocation.AssignmentRequest
	}{
		{"start after end", request(alice, apollo, 10, jan(10), jan(1))},
		{"negative hours", request(alice, apollo, -1, jan(1), jan(2))},
		{"hours over cap", request(alice, apollo, 161, jan(1), jan(2))},
		{"missing user", request(0, apollo, 10, jan(1), jan(2))},
		{"missing start", request(alice, apollo, 10, generic.TimePoint{}, jan(2))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.CreateOrMergeAssignment(ctx, tt.req)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}
}

func TestCreate_UnknownProject_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.CreateOrMergeAssignment(context.Background(), request(alice, 404, 10, jan(1), jan(2)))

	var nf *generic.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "project", nf.Kind)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdate_ExcludesOwnRow(t *testing.T) {
	// GIVEN: Alice is fully booked at 160h on Apollo
	// WHEN: The same row is moved to another range at 160h
	// THEN: Accepted, the row does not count against itself

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 160, jan(1), jan(10)))
	require.NoError(t, err)

	start, end := jan(5), jan(20)
	updated, err := engine.UpdateAssignment(ctx, created.Assignment.ID, allocation.AssignmentPatch{
		Start: &start,
		End:   &end,
	})
	require.NoError(t, err)
	assert.Equal(t, 160, updated.AllocationHours)
	assert.Equal(t, generic.Period{Start: jan(5), End: jan(20)}, updated.Period)
}

func TestUpdate_OverCap_RejectedWithMaxOther(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 100, jan(1), jan(31)))
	require.NoError(t, err)
	hermesRow, err := engine.CreateOrMergeAssignment(ctx, request(alice, hermes, 60, jan(10), jan(12)))
	require.NoError(t, err)

	_, err = engine.UpdateAssignment(ctx, hermesRow.Assignment.ID, allocation.AssignmentPatch{AllocationHours: intPtr(61)})

	var capErr *generic.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 100, capErr.MaxOther)
	assert.Equal(t, 61, capErr.Requested)

	stored, err := s.GetAssignment(ctx, hermesRow.Assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, stored.AllocationHours)
}

func TestUpdate_PartialPatch_KeepsOtherFields(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 40, jan(1), jan(10)))
	require.NoError(t, err)

	end := jan(20)
	updated, err := engine.UpdateAssignment(ctx, created.Assignment.ID, allocation.AssignmentPatch{End: &end})
	require.NoError(t, err)
	assert.Equal(t, 40, updated.AllocationHours)
	assert.Equal(t, jan(1), updated.Period.Start)
	assert.Equal(t, jan(20), updated.Period.End)
}

func TestUpdate_FinalRangeInverted_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 40, jan(5), jan(10)))
	require.NoError(t, err)

	end := jan(2)
	_, err = engine.UpdateAssignment(ctx, created.Assignment.ID, allocation.AssignmentPatch{End: &end})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestUpdate_Missing_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.UpdateAssignment(context.Background(), 12345, allocation.AssignmentPatch{AllocationHours: intPtr(1)})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// DELETE
// =============================================================================

func TestDelete_ReturnsRow(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 40, jan(1), jan(10)))
	require.NoError(t, err)

	deleted, err := engine.DeleteAssignment(ctx, created.Assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Assignment.ID, deleted.ID)

	row, err := s.GetAssignment(ctx, created.Assignment.ID)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestDelete_Missing_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.DeleteAssignment(context.Background(), 999)

	var nf *generic.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "assignment", nf.Kind)
}

// =============================================================================
// FORWARD SYNC
// =============================================================================

func TestForwardSync_PTOAssignment_MirrorsWorkdays(t *testing.T) {
	// GIVEN: The PTO project and leave task are configured
	// WHEN: Alice gets 8h PTO over Jan 1-10 (weekend on Jan 4-5)
	// THEN: One synced leave entry per workday, none on the weekend

	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 8, jan(1), jan(10)))
	require.NoError(t, err)

	entries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", january())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"2025-01-01", "2025-01-02", "2025-01-03",
		"2025-01-06", "2025-01-07", "2025-01-08", "2025-01-09", "2025-01-10",
	}, entryDates(entries))

	for _, e := range entries {
		assert.True(t, e.IsAutoSynced())
		assert.Equal(t, leaveTask, e.TaskID)
		assert.Equal(t, 8, e.Hours)
		assert.Equal(t, 0, e.Minutes)
		assert.Equal(t, "Alice", e.UserName)
		assert.Equal(t, "Engineering", e.UserDept)
		assert.Equal(t, "PTO", e.ProjectName)
		assert.Equal(t, int64(9000), e.ProjectCode)
	}
}

func TestForwardSync_NonPTOProject_NoEntries(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 8, jan(1), jan(10)))
	require.NoError(t, err)

	entries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", january())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestForwardSync_Merge_RebuildsUnion(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 4, jan(1), jan(2)))
	require.NoError(t, err)
	_, err = engine.CreateOrMergeAssignment(ctx, request(alice, pto, 4, jan(9), jan(10)))
	require.NoError(t, err)

	entries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", january())
	require.NoError(t, err)
	assert.Len(t, entries, 8, "merged range Jan 1-10 has 8 workdays")
	for _, e := range entries {
		assert.Equal(t, 8, e.Hours)
	}
}

func TestForwardSync_UpdateShrink_RemovesOutsideEntries(t *testing.T) {
	// GIVEN: PTO over Jan 1-10 with mirrored entries
	// WHEN: The range shrinks to Jan 1-3
	// THEN: Only Jan 1-3 entries remain

	engine, s := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 8, jan(1), jan(10)))
	require.NoError(t, err)

	end := jan(3)
	_, err = engine.UpdateAssignment(ctx, created.Assignment.ID, allocation.AssignmentPatch{End: &end})
	require.NoError(t, err)

	entries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", january())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2025-01-01", "2025-01-02", "2025-01-03"}, entryDates(entries))
}

func TestForwardSync_UpdateHoursToZero_RemovesEntries(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	created, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 8, jan(6), jan(7)))
	require.NoError(t, err)

	_, err = engine.UpdateAssignment(ctx, created.Assignment.ID, allocation.AssignmentPatch{AllocationHours: intPtr(0)})
	require.NoError(t, err)

	entries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", january())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestForwardSync_Delete_KeepsOtherAssignmentsEntries(t *testing.T) {
	// GIVEN: Two single-day PTO rows on Jan 6 and Jan 7
	// WHEN: The Jan 6 row is deleted
	// THEN: Only the Jan 6 entry goes away

	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.SavePTOAssignments(ctx, []allocation.PTODay{
		{UserID: alice, Day: 6, Hours: 8},
		{UserID: alice, Day: 7, Hours: 8},
	}, time.January, 2025)
	require.NoError(t, err)

	rows, err := engine.ListPTOAssignments(ctx, time.January, 2025)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var jan6 generic.AssignmentID
	for _, r := range rows {
		if r.Period.Start == jan(6) {
			jan6 = r.ID
		}
	}
	require.NotZero(t, jan6)

	_, err = engine.DeleteAssignment(ctx, jan6)
	require.NoError(t, err)

	entries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", january())
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-07"}, entryDates(entries))
}

func TestForwardSync_ManualEntriesUntouched(t *testing.T) {
	engine, s := newTestEngine(t)
	ctx := context.Background()

	manual, err := s.InsertEntry(ctx, generic.WorkLogEntry{
		TaskID:    leaveTask,
		UserName:  "Alice",
		UserEmail: "alice@warp.dev",
		Remarks:   "dentist",
		EntryDate: jan(2),
		Hours:     2,
	})
	require.NoError(t, err)

	created, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 8, jan(1), jan(3)))
	require.NoError(t, err)
	_, err = engine.DeleteAssignment(ctx, created.Assignment.ID)
	require.NoError(t, err)

	entries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", january())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, manual.ID, entries[0].ID)
}

func TestForwardSync_MissingLeaveTask_RollsBackWrite(t *testing.T) {
	s := newTestStore()
	engine := allocation.NewEngine(s, catalog.Named{
		LeaveTaskName:      "Vacation",
		PTOProjectCategory: catalog.DefaultPTOProjectCategory,
	}, logging.Discard())
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 8, jan(1), jan(3)))

	assert.ErrorIs(t, err, generic.ErrSyncFailure)
	assert.ErrorIs(t, err, generic.ErrSetupIncomplete)
	rows, err := s.ListAssignmentsByUser(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// failingEntries fails every entry insert.
type failingEntries struct{ generic.Store }

func (failingEntries) InsertEntry(context.Context, generic.WorkLogEntry) (generic.WorkLogEntry, error) {
	return generic.WorkLogEntry{}, errors.New("disk full")
}

type failingTx struct{ *store.Memory }

func (f failingTx) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return f.Memory.WithTx(ctx, func(s generic.Store) error { return fn(failingEntries{s}) })
}

func TestForwardSync_InsertFailure_RollsBackAssignment(t *testing.T) {
	// GIVEN: A store whose entry inserts fail
	// WHEN: A PTO assignment is created
	// THEN: SyncFailure is returned and the assignment is not persisted

	s := newTestStore()
	engine := allocation.NewEngine(failingTx{s}, catalog.Defaults(), logging.Discard())
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 8, jan(1), jan(3)))

	var syncErr *generic.SyncFailureError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, generic.SyncToEntries, syncErr.Direction)

	rows, err := s.ListAssignmentsByUser(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// REVERSE SYNC
// =============================================================================

func leaveEntry(day generic.TimePoint, hours int) allocation.TimeEntryInput {
	return allocation.TimeEntryInput{
		TaskID:      leaveTask,
		ProjectName: "PTO",
		Date:        day,
		Hours:       hours,
	}
}

func TestReverseSync_LeaveEntry_CreatesSingleDayAssignment(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateTimeEntry(ctx, "alice@warp.dev", leaveEntry(jan(15), 8))
	require.NoError(t, err)

	rows, err := engine.ListPTOAssignments(ctx, time.January, 2025)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, alice, rows[0].UserID)
	assert.Equal(t, 8, rows[0].AllocationHours)
	assert.Equal(t, generic.SingleDay(jan(15)), rows[0].Period)
}

func TestReverseSync_DateMoved_AssignmentFollows(t *testing.T) {
	// GIVEN: A leave entry on Jan 15
	// WHEN: It is moved to Jan 16
	// THEN: The PTO assignment exists on Jan 16 only

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := engine.CreateTimeEntry(ctx, "alice@warp.dev", leaveEntry(jan(15), 8))
	require.NoError(t, err)

	_, err = engine.UpdateTimeEntry(ctx, "alice@warp.dev", entry.ID, leaveEntry(jan(16), 6))
	require.NoError(t, err)

	rows, err := engine.ListPTOAssignments(ctx, time.January, 2025)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, generic.SingleDay(jan(16)), rows[0].Period)
	assert.Equal(t, 6, rows[0].AllocationHours)
}

func TestReverseSync_ZeroHours_OnlyRemoves(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := engine.CreateTimeEntry(ctx, "alice@warp.dev", leaveEntry(jan(15), 8))
	require.NoError(t, err)

	_, err = engine.UpdateTimeEntry(ctx, "alice@warp.dev", entry.ID, leaveEntry(jan(15), 0))
	require.NoError(t, err)

	rows, err := engine.ListPTOAssignments(ctx, time.January, 2025)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReverseSync_DeleteEntry_RemovesAssignment(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := engine.CreateTimeEntry(ctx, "alice@warp.dev", leaveEntry(jan(15), 8))
	require.NoError(t, err)

	_, err = engine.DeleteTimeEntry(ctx, "alice@warp.dev", entry.ID)
	require.NoError(t, err)

	rows, err := engine.ListPTOAssignments(ctx, time.January, 2025)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReverseSync_OtherTask_Ignored(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	in := leaveEntry(jan(15), 8)
	in.TaskID = devTask
	in.ProjectName = "Apollo"
	_, err := engine.CreateTimeEntry(ctx, "alice@warp.dev", in)
	require.NoError(t, err)

	rows, err := engine.ListPTOAssignments(ctx, time.January, 2025)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReverseSync_BypassesCapacity(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 160, jan(1), jan(31)))
	require.NoError(t, err)

	err = engine.SyncTimeEntryToAssignment(ctx, "alice@warp.dev", jan(15), 8, leaveTask)
	assert.NoError(t, err)
}

func TestReverseSync_UnknownEmail_SyncFailure(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.SyncTimeEntryToAssignment(context.Background(), "ghost@warp.dev", jan(15), 8, leaveTask)

	assert.ErrorIs(t, err, generic.ErrSyncFailure)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

func TestTimeEntry_SnapshotsUser(t *testing.T) {
	engine, _ := newTestEngine(t)

	entry, err := engine.CreateTimeEntry(context.Background(), "bob@warp.dev", allocation.TimeEntryInput{
		TaskID:      devTask,
		ProjectName: "Hermes",
		ProjectCode: 1002,
		Date:        jan(8),
		Hours:       7,
		Minutes:     30,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bob", entry.UserName)
	assert.Equal(t, "Design", entry.UserDept)
	assert.Equal(t, "bob@warp.dev", entry.UserEmail)
}

func TestTimeEntry_OtherUser_Forbidden(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	entry, err := engine.CreateTimeEntry(ctx, "alice@warp.dev", leaveEntry(jan(15), 8))
	require.NoError(t, err)

	_, err = engine.UpdateTimeEntry(ctx, "bob@warp.dev", entry.ID, leaveEntry(jan(15), 4))
	assert.ErrorIs(t, err, generic.ErrForbidden)

	_, err = engine.DeleteTimeEntry(ctx, "bob@warp.dev", entry.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

func TestTimeEntry_ReservedRemarks_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	in := leaveEntry(jan(15), 8)
	in.Remarks = generic.AutoSyncRemarks
	_, err := engine.CreateTimeEntry(context.Background(), "alice@warp.dev", in)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestTimeEntry_List_TotalsHoursAndMinutes(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	for _, m := range []int{30, 45} {
		_, err := engine.CreateTimeEntry(ctx, "bob@warp.dev", allocation.TimeEntryInput{
			TaskID: devTask, ProjectName: "Hermes", Date: jan(8), Hours: 1, Minutes: m,
		})
		require.NoError(t, err)
	}

	list, err := engine.ListTimeEntries(ctx, "bob@warp.dev", january())
	require.NoError(t, err)
	assert.Len(t, list.Entries, 2)
	assert.Equal(t, "3.25", list.Total.String())
}

// =============================================================================
// BULK PTO RECONCILIATION
// =============================================================================

func TestSavePTO_FullReplaceForNamedUsers(t *testing.T) {
	// GIVEN: Alice and Bob have PTO days in January
	// WHEN: January is saved again with only Alice's Jan 3 at 6h
	// THEN: Alice's month is exactly that row, Bob's month is untouched

	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.SavePTOAssignments(ctx, []allocation.PTODay{
		{UserID: alice, Day: 2, Hours: 8},
		{UserID: alice, Day: 3, Hours: 8},
		{UserID: bob, Day: 2, Hours: 4},
	}, time.January, 2025)
	require.NoError(t, err)

	result, err := engine.SavePTOAssignments(ctx, []allocation.PTODay{
		{UserID: alice, Day: 3, Hours: 6},
	}, time.January, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Users)
	assert.Equal(t, 2, result.AssignmentsRemoved)
	assert.Equal(t, 2, result.EntriesRemoved)
	assert.Equal(t, 1, result.AssignmentsCreated)

	aliceRows, err := s.ListProjectAssignments(ctx, pto, january(), []generic.UserID{alice})
	require.NoError(t, err)
	require.Len(t, aliceRows, 1)
	assert.Equal(t, generic.SingleDay(jan(3)), aliceRows[0].Period)
	assert.Equal(t, 6, aliceRows[0].AllocationHours)

	bobRows, err := s.ListProjectAssignments(ctx, pto, january(), []generic.UserID{bob})
	require.NoError(t, err)
	assert.Len(t, bobRows, 1)

	aliceEntries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", january())
	require.NoError(t, err)
	require.Len(t, aliceEntries, 1)
	assert.Equal(t, 6, aliceEntries[0].Hours)
	assert.True(t, aliceEntries[0].IsAutoSynced())
}

func dec(day int) generic.TimePoint { return generic.NewTimePoint(2024, time.December, day) }
func feb(day int) generic.TimePoint { return generic.NewTimePoint(2025, time.February, day) }

func TestSavePTO_CrossMonthRows_KeepOutsideDays(t *testing.T) {
	// GIVEN: Alice has PTO Dec 30 - Jan 3 and Bob Jan 30 - Feb 4, both mirrored
	// WHEN: January is saved with only Jan 20 for each of them
	// THEN: Both rows are cut back to their days outside January, and the
	//       synced entries match the remaining rows exactly

	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 8, dec(30), jan(3)))
	require.NoError(t, err)
	_, err = engine.CreateOrMergeAssignment(ctx, request(bob, pto, 8, jan(30), feb(4)))
	require.NoError(t, err)

	result, err := engine.SavePTOAssignments(ctx, []allocation.PTODay{
		{UserID: alice, Day: 20, Hours: 8},
		{UserID: bob, Day: 20, Hours: 8},
	}, time.January, 2025)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AssignmentsTrimmed)
	assert.Zero(t, result.AssignmentsRemoved)
	assert.Equal(t, 5, result.EntriesRemoved) // Jan 1-3 and Jan 30-31

	window := generic.Period{Start: dec(1), End: feb(28)}

	aliceRows, err := s.ListProjectAssignments(ctx, pto, window, []generic.UserID{alice})
	require.NoError(t, err)
	require.Len(t, aliceRows, 2)
	assert.Equal(t, generic.Period{Start: dec(30), End: dec(31)}, aliceRows[0].Period)
	assert.Equal(t, generic.SingleDay(jan(20)), aliceRows[1].Period)

	aliceEntries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", window)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2024-12-30", "2024-12-31", "2025-01-20"}, entryDates(aliceEntries))

	bobRows, err := s.ListProjectAssignments(ctx, pto, window, []generic.UserID{bob})
	require.NoError(t, err)
	require.Len(t, bobRows, 2)
	assert.Equal(t, generic.SingleDay(jan(20)), bobRows[0].Period)
	assert.Equal(t, generic.Period{Start: feb(1), End: feb(4)}, bobRows[1].Period)

	bobEntries, err := s.ListEntriesByUser(ctx, "bob@warp.dev", window)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2025-01-20", "2025-02-03", "2025-02-04"}, entryDates(bobEntries))
}

func TestSavePTO_RowSpanningMonth_SplitInTwo(t *testing.T) {
	// GIVEN: Alice has 4h PTO from Dec 16 to Feb 14
	// WHEN: January is saved with Jan 20 at 8h
	// THEN: The row is split around January and Jan 20 sits between the halves

	engine, s := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, pto, 4, dec(16), feb(14)))
	require.NoError(t, err)

	result, err := engine.SavePTOAssignments(ctx, []allocation.PTODay{
		{UserID: alice, Day: 20, Hours: 8},
	}, time.January, 2025)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AssignmentsTrimmed)

	window := generic.Period{Start: dec(1), End: feb(28)}
	rows, err := s.ListProjectAssignments(ctx, pto, window, []generic.UserID{alice})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, generic.Period{Start: dec(16), End: dec(31)}, rows[0].Period)
	assert.Equal(t, 4, rows[0].AllocationHours)
	assert.Equal(t, generic.SingleDay(jan(20)), rows[1].Period)
	assert.Equal(t, 8, rows[1].AllocationHours)
	assert.Equal(t, generic.Period{Start: feb(1), End: feb(14)}, rows[2].Period)
	assert.Equal(t, 4, rows[2].AllocationHours)

	entries, err := s.ListEntriesByUser(ctx, "alice@warp.dev", january())
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-20"}, entryDates(entries))

	// Outside January the mirror is untouched: 12 workdays in Dec 16-31, 10 in Feb 1-14.
	outside, err := s.ListEntriesByUser(ctx, "alice@warp.dev", generic.Period{Start: dec(1), End: dec(31)})
	require.NoError(t, err)
	assert.Len(t, outside, 12)
	outside, err = s.ListEntriesByUser(ctx, "alice@warp.dev", generic.Period{Start: feb(1), End: feb(28)})
	require.NoError(t, err)
	assert.Len(t, outside, 10)
}

func TestSavePTO_DuplicateDay_LastWins(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.SavePTOAssignments(ctx, []allocation.PTODay{
		{UserID: alice, Day: 3, Hours: 8},
		{UserID: alice, Day: 3, Hours: 4},
	}, time.January, 2025)
	require.NoError(t, err)

	rows, err := engine.ListPTOAssignments(ctx, time.January, 2025)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].AllocationHours)
}

func TestSavePTO_ZeroHours_ClearsDay(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.SavePTOAssignments(ctx, []allocation.PTODay{{UserID: alice, Day: 3, Hours: 8}}, time.January, 2025)
	require.NoError(t, err)

	_, err = engine.SavePTOAssignments(ctx, []allocation.PTODay{{UserID: alice, Day: 3, Hours: 0}}, time.January, 2025)
	require.NoError(t, err)

	rows, err := engine.ListPTOAssignments(ctx, time.January, 2025)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSavePTO_MissingCatalog_FailsBeforeDeleting(t *testing.T) {
	// GIVEN: Alice has PTO in January
	// WHEN: Reconciliation runs against a catalog without the leave task
	// THEN: SetupIncomplete, and Alice's rows are still there

	s := newTestStore()
	ctx := context.Background()

	good := allocation.NewEngine(s, catalog.Defaults(), logging.Discard())
	_, err := good.SavePTOAssignments(ctx, []allocation.PTODay{{UserID: alice, Day: 3, Hours: 8}}, time.January, 2025)
	require.NoError(t, err)

	broken := allocation.NewEngine(s, catalog.Named{
		LeaveTaskName:      "Vacation",
		PTOProjectCategory: catalog.DefaultPTOProjectCategory,
	}, logging.Discard())
	_, err = broken.SavePTOAssignments(ctx, []allocation.PTODay{{UserID: alice, Day: 4, Hours: 8}}, time.January, 2025)
	assert.ErrorIs(t, err, generic.ErrSetupIncomplete)

	rows, err := good.ListPTOAssignments(ctx, time.January, 2025)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, generic.SingleDay(jan(3)), rows[0].Period)
}

func TestSavePTO_InvalidDay_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.SavePTOAssignments(context.Background(), []allocation.PTODay{
		{UserID: alice, Day: 30, Hours: 8},
	}, time.February, 2025)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestSavePTO_Empty_NoChange(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.SavePTOAssignments(context.Background(), nil, time.January, 2025)
	require.NoError(t, err)
	assert.Zero(t, result.Users)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestListAssignmentsOn_GroupsByUser(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(alice, apollo, 40, jan(1), jan(31)))
	require.NoError(t, err)
	_, err = engine.CreateOrMergeAssignment(ctx, request(alice, hermes, 20, jan(10), jan(20)))
	require.NoError(t, err)
	_, err = engine.CreateOrMergeAssignment(ctx, request(bob, hermes, 80, jan(1), jan(5)))
	require.NoError(t, err)

	groups, err := engine.ListAssignmentsOn(ctx, jan(15))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Alice", groups[0].User.Name)
	assert.Equal(t, 60, groups[0].TotalAllocation)
	assert.Len(t, groups[0].Assignments, 2)
}

func TestListUserAssignments_Total(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.CreateOrMergeAssignment(ctx, request(bob, apollo, 30, jan(1), jan(5)))
	require.NoError(t, err)
	_, err = engine.CreateOrMergeAssignment(ctx, request(bob, hermes, 50, jan(20), jan(25)))
	require.NoError(t, err)

	view, err := engine.ListUserAssignments(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 80, view.TotalAllocation)
	assert.Len(t, view.Assignments, 2)
	assert.Equal(t, "Apollo", view.Assignments[0].Project.Name)
}
