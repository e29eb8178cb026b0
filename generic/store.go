/*
store.go - Persistence interfaces for assignments, work-log entries and catalog reads

PURPOSE:
  Defines the interface between the allocation engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   Reads and writes for both views plus the catalog reads the engine needs
  TxStore: Runs a function inside one transaction (all-or-nothing)
  Catalog: Resolves the well-known leave task and PTO project

TRANSACTION CONTRACT:
  Every engine operation that mutates more than one row runs inside
  TxStore.WithTx. The capacity read and the write that depends on it happen
  on the same Store handle the callback receives, so two concurrent requests
  cannot both observe headroom and jointly breach the cap. Implementations
  must serialize writers (SQLite: BEGIN IMMEDIATE; in-memory: a mutex).

NOT-FOUND CONVENTION:
  Single-row getters return (nil, nil) when the row does not exist. The
  engine turns that into a *NotFoundError with the right kind.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - capacity.go: MaxOverlappingAllocation contract
  - catalog/catalog.go: Catalog implementations
*/
package generic

import "context"

// =============================================================================
// STORE
// =============================================================================

// AssignmentStore persists the calendar view.
type AssignmentStore interface {
	GetAssignment(ctx context.Context, id AssignmentID) (*Assignment, error)

	// FindAssignment returns the row for a (user, project) pair, if any.
	FindAssignment(ctx context.Context, userID UserID, projectID ProjectID) (*Assignment, error)

	// InsertAssignment stores a new row and returns it with ID and timestamps set.
	InsertAssignment(ctx context.Context, a Assignment) (Assignment, error)

	// UpdateAssignment overwrites hours and period of an existing row.
	UpdateAssignment(ctx context.Context, a Assignment) (Assignment, error)

	// DeleteAssignment removes a row and returns it. (nil, nil) if absent.
	DeleteAssignment(ctx context.Context, id AssignmentID) (*Assignment, error)

	// ListAssignmentsByUser returns all rows of a user ordered by start date.
	ListAssignmentsByUser(ctx context.Context, userID UserID) ([]Assignment, error)

	// ListAssignmentsOn returns every row whose period contains day.
	ListAssignmentsOn(ctx context.Context, day TimePoint) ([]Assignment, error)

	// ListProjectAssignments returns rows of one project whose period
	// overlaps p, optionally restricted to a set of users (nil = all).
	ListProjectAssignments(ctx context.Context, projectID ProjectID, p Period, userIDs []UserID) ([]Assignment, error)

	// MaxOverlappingAllocation returns the largest per-day sum of
	// allocation_hours over p for the user, ignoring exclude (0 = none).
	MaxOverlappingAllocation(ctx context.Context, userID UserID, p Period, exclude AssignmentID) (int, error)

	// DeleteAssignmentsTouchingDay removes the user's rows for a project whose
	// start_date or end_date equals day. Returns the number of rows removed.
	DeleteAssignmentsTouchingDay(ctx context.Context, userID UserID, projectID ProjectID, day TimePoint) (int, error)
}

// EntryStore persists the ledger view.
type EntryStore interface {
	GetEntry(ctx context.Context, id EntryID) (*WorkLogEntry, error)
	InsertEntry(ctx context.Context, e WorkLogEntry) (WorkLogEntry, error)
	UpdateEntry(ctx context.Context, e WorkLogEntry) (WorkLogEntry, error)
	DeleteEntry(ctx context.Context, id EntryID) (*WorkLogEntry, error)

	// ListEntriesByUser returns a user's entries inside p, newest first.
	ListEntriesByUser(ctx context.Context, email string, p Period) ([]WorkLogEntry, error)

	// DeleteSyncedEntries removes entries of the given users and task inside
	// p whose remarks equal AutoSyncRemarks. Manual entries are never touched.
	DeleteSyncedEntries(ctx context.Context, emails []string, taskID TaskID, p Period) (int, error)
}

// DirectoryStore is the read side of the user/project/task catalogs.
type DirectoryStore interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetProject(ctx context.Context, id ProjectID) (*Project, error)

	// FindTaskByName returns the first task with that exact name.
	FindTaskByName(ctx context.Context, name string) (*Task, error)

	// FindProjectByCategoryOrName prefers a category match over a name match.
	FindProjectByCategoryOrName(ctx context.Context, category, name string) (*Project, error)
}

// Store is everything the engine reads and writes.
type Store interface {
	AssignmentStore
	EntryStore
	DirectoryStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CATALOG - Well-known records resolved by name/category
// =============================================================================

// Catalog resolves the process-wide leave task and PTO project. Lookups go
// through the Store handle of the running transaction.
type Catalog interface {
	// LeaveTask returns the leave/holiday task or a *SetupIncompleteError.
	LeaveTask(ctx context.Context, s Store) (Task, error)

	// PTOProject returns the PTO/leave project or a *SetupIncompleteError.
	PTOProject(ctx context.Context, s Store) (Project, error)

	// IsPTOProject reports whether p is the PTO/leave project.
	IsPTOProject(p Project) bool
}
