/*
Package generic provides the core types of the allocation engine.

PURPOSE:
  This package holds the domain-agnostic building blocks shared by the
  allocation engine, its stores, and the HTTP layer: identifiers, the two
  persisted views (Assignments and Work-Log Entries), the catalog records
  they reference, and the day-granular time types.

KEY CONCEPTS IN THIS FILE (types.go):
  - Assignment: a user's allocation of whole hours to a project over an
    inclusive date range (the calendar view)
  - WorkLogEntry: hours a user logged against a task on one day (the ledger
    view). User and project fields are write-time snapshots.
  - Amount: a decimal quantity of logged time; hours + minutes/60 must not
    drift through float rounding when summed for listings
  - User / Project / Task: catalog records the engine reads but never owns

DESIGN PRINCIPLES:
  1. Capacity: at most CapacityHours allocated per user on any single day
  2. Uniqueness: at most one assignment per (user, project) pair; a second
     request for the same pair is merged into the existing row
  3. Snapshots: denormalized entry fields are never refreshed by joins

SEE ALSO:
  - capacity.go: the per-day maximum allocation computation
  - store.go: persistence interfaces
  - errors.go: error taxonomy
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// CapacityHours is the cap on the sum of allocation_hours covering any day.
const CapacityHours = 160

// AutoSyncRemarks marks work-log entries generated from PTO assignments.
// Cleanup only ever touches entries carrying this exact value.
const AutoSyncRemarks = "Auto-synced from PTO allocation"

// =============================================================================
// IDENTIFIERS - Integer serials, typed so they cannot be mixed up
// =============================================================================

type (
	UserID       int64
	ProjectID    int64
	TaskID       int64
	AssignmentID int64
	EntryID      int64
)

// =============================================================================
// AMOUNT - Logged time as a decimal number of hours
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitHours Unit = "hours"
)

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

// HoursAndMinutes converts an hours + minutes pair into decimal hours.
func HoursAndMinutes(hours, minutes int) Amount {
	h := decimal.NewFromInt(int64(hours))
	m := decimal.NewFromInt(int64(minutes)).Div(decimal.NewFromInt(60))
	return Amount{Value: h.Add(m), Unit: UnitHours}
}

func (a Amount) Zero() Amount        { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) IsZero() bool        { return a.Value.IsZero() }

// String renders with two decimals, e.g. "7.50".
func (a Amount) String() string { return a.Value.StringFixed(2) }

// =============================================================================
// CATALOG RECORDS
// =============================================================================

type User struct {
	ID    UserID
	Name  string
	Email string
	Dept  string
}

type Project struct {
	ID       ProjectID
	Name     string
	Code     int64
	Client   string
	Location string
	Category string
}

type Task struct {
	ID   TaskID
	Name string
	Dept string
}

// =============================================================================
// ASSIGNMENT - Calendar view
// =============================================================================

type Assignment struct {
	ID              AssignmentID
	UserID          UserID
	ProjectID       ProjectID
	AllocationHours int
	Period          Period
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Covers reports whether the assignment is active on day.
func (a Assignment) Covers(day TimePoint) bool {
	return a.Period.Contains(day)
}

// =============================================================================
// WORK-LOG ENTRY - Ledger view
// =============================================================================

type WorkLogEntry struct {
	ID     EntryID
	TaskID TaskID

	// Snapshots taken at write time.
	UserName    string
	UserEmail   string
	UserDept    string
	ProjectName string
	ProjectCode int64

	Location  string
	Remarks   string
	Client    string
	EntryDate TimePoint
	Hours     int
	Minutes   int
	CreatedAt time.Time
}

// IsAutoSynced reports whether the entry was generated by the sync bridge.
func (e WorkLogEntry) IsAutoSynced() bool {
	return e.Remarks == AutoSyncRemarks
}

// Logged returns hours + minutes as a decimal amount.
func (e WorkLogEntry) Logged() Amount {
	return HoursAndMinutes(e.Hours, e.Minutes)
}
