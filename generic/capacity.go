package generic

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// CAPACITY CHECKER - Enforces the per-day allocation cap
// =============================================================================

// CapacityChecker validates that a proposed allocation fits under Cap on
// every day of a period. The zero value uses CapacityHours.
type CapacityChecker struct {
	Cap int
}

func (c CapacityChecker) limit() int {
	if c.Cap <= 0 {
		return CapacityHours
	}
	return c.Cap
}

// CapacityRequest describes one proposed allocation.
type CapacityRequest struct {
	UserID  UserID
	Period  Period
	Hours   int          // proposed or merged hours for the row being written
	Exclude AssignmentID // the row being replaced, 0 if none
	Merged  bool         // Hours is an existing+new sum
}

// Check computes the busiest day's committed hours and rejects the request
// if adding Hours would exceed the cap. It must run on the same Store handle
// as the write that follows it.
func (c CapacityChecker) Check(ctx context.Context, s AssignmentStore, req CapacityRequest) (int, error) {
	maxOther, err := s.MaxOverlappingAllocation(ctx, req.UserID, req.Period, req.Exclude)
	if err != nil {
		return 0, fmt.Errorf("capacity check: %w", err)
	}

	if maxOther+req.Hours > c.limit() {
		return maxOther, &CapacityExceededError{
			UserID:    req.UserID,
			Period:    req.Period,
			MaxOther:  maxOther,
			Requested: req.Hours,
			Merged:    req.Merged,
			Cap:       c.limit(),
		}
	}
	return maxOther, nil
}

// =============================================================================
// OVERLAP SWEEP
// =============================================================================

// MaxOverlap returns the largest per-day sum of AllocationHours over p,
// skipping exclude. The per-day sum only rises where an assignment starts,
// so it is enough to evaluate p.Start and every start date inside p rather
// than every day; ranges spanning years cost O(n log n) in the number of
// assignments.
func MaxOverlap(assignments []Assignment, p Period, exclude AssignmentID) int {
	var relevant []Assignment
	for _, a := range assignments {
		if a.ID == exclude && exclude != 0 {
			continue
		}
		if a.Period.Overlaps(p) {
			relevant = append(relevant, a)
		}
	}
	if len(relevant) == 0 {
		return 0
	}

	points := []TimePoint{p.Start}
	for _, a := range relevant {
		if a.Period.Start.After(p.Start) {
			points = append(points, a.Period.Start)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })

	maxSum := 0
	for _, day := range points {
		sum := 0
		for _, a := range relevant {
			if a.Covers(day) {
				sum += a.AllocationHours
			}
		}
		if sum > maxSum {
			maxSum = sum
		}
	}
	return maxSum
}

// DailyAllocation returns the per-day sums over p, for views and tests that
// want the full profile instead of the maximum.
func DailyAllocation(assignments []Assignment, p Period) map[TimePoint]int {
	out := make(map[TimePoint]int, p.Len())
	for _, day := range p.Days() {
		out[day] = 0
		for _, a := range assignments {
			if a.Covers(day) {
				out[day] += a.AllocationHours
			}
		}
	}
	return out
}
