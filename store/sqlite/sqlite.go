/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore (assignments, work-log entries, directory reads)
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.AssignmentStore: The calendar view (user_projects)
  generic.EntryStore:      The ledger view (time_entries)
  generic.DirectoryStore:  Users, projects, tasks
  generic.TxStore:         All of the above inside one transaction

KEY TABLES:
  users:          Directory of people (email is the ledger's join key)
  projects:       Project catalog; category 'pto' marks the PTO project
  tasks:          Task catalog; the leave/holiday task lives here
  user_projects:  Assignments, allocation_hours CHECKed to 0..160
  time_entries:   Work-log entries with a denormalized user/project snapshot

INDEXES:
  - idx_user_projects_user_range: Capacity sweep (hot path)
  - idx_user_projects_project_start: PTO month reconciliation
  - idx_time_entries_user_date: Ledger listing and sync cleanup

CONCURRENCY:
  WithTx holds a process-wide mutex and opens the transaction with
  BEGIN IMMEDIATE (_txlock=immediate), so the capacity read and the write
  that depends on it cannot interleave with another writer. Reads outside
  WithTx go straight to the pool; WAL lets them run beside the writer.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/allocation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := allocation.NewEngine(store, catalog.Defaults(), logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - queries.go: The SQL behind every Store method
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/allocation-engine/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
	mu sync.Mutex
}

var _ generic.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, queries: &queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Directory
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		dept TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		code INTEGER NOT NULL DEFAULT 0,
		client TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'project',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_category
		ON projects(category COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		dept TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_name
		ON tasks(name);

	-- Assignments (calendar view)
	-- No UNIQUE(user_id, project_id): the engine merges create requests, but
	-- the sync bridge and PTO reconciliation keep single-day PTO rows.
	CREATE TABLE IF NOT EXISTS user_projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		allocation_hours INTEGER NOT NULL CHECK (allocation_hours BETWEEN 0 AND 160),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL DEFAULT '9999-12-31',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (start_date <= end_date)
	);

	-- CRITICAL: Capacity sweep reads every row of a user overlapping a range
	CREATE INDEX IF NOT EXISTS idx_user_projects_user_range
		ON user_projects(user_id, start_date, end_date);
	CREATE INDEX IF NOT EXISTS idx_user_projects_project_start
		ON user_projects(project_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_user_projects_pair
		ON user_projects(user_id, project_id);

	-- Work-log entries (ledger view)
	CREATE TABLE IF NOT EXISTS time_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		user_email TEXT NOT NULL COLLATE NOCASE,
		user_dept TEXT NOT NULL DEFAULT '',
		project_name TEXT NOT NULL DEFAULT '',
		project_code INTEGER NOT NULL DEFAULT 0,
		location TEXT NOT NULL DEFAULT '',
		remarks TEXT NOT NULL DEFAULT '',
		client TEXT NOT NULL DEFAULT '',
		entry_date TEXT NOT NULL,
		hours INTEGER NOT NULL DEFAULT 0,
		minutes INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_time_entries_user_date
		ON time_entries(user_email, entry_date DESC);
	CREATE INDEX IF NOT EXISTS idx_time_entries_task_date
		ON time_entries(task_id, entry_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes all data. Intended for tests and demos.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range []string{"time_entries", "user_projects", "tasks", "projects", "users"} {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return sqlTx.Commit()
}

// Helper functions

func formatDate(tp generic.TimePoint) string {
	return tp.String()
}

func parseDate(s string) (generic.TimePoint, error) {
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, fmt.Errorf("bad stored date %q: %w", s, err)
	}
	return tp, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isCheckConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "CHECK constraint failed")
}
