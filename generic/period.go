package generic

import "time"

// =============================================================================
// PERIOD - An inclusive range of calendar days
// =============================================================================

// Period is the closed interval [Start, End]. Assignments and capacity checks
// are always expressed as periods; a single day is Start == End.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// SingleDay returns the period covering exactly one day.
func SingleDay(day TimePoint) Period {
	return Period{Start: day, End: day}
}

// MonthPeriod returns the first..last day of the given month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// Valid reports whether Start <= End.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.Start.BeforeOrEqual(p.End)
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Overlaps reports whether the two periods share at least one day.
func (p Period) Overlaps(o Period) bool {
	return p.Start.BeforeOrEqual(o.End) && o.Start.BeforeOrEqual(p.End)
}

// Intersect returns the shared days of p and o. ok is false if they are disjoint.
func (p Period) Intersect(o Period) (Period, bool) {
	if !p.Overlaps(o) {
		return Period{}, false
	}
	return Period{Start: MaxDay(p.Start, o.Start), End: MinDay(p.End, o.End)}, true
}

// Span returns the smallest period covering both p and o.
func (p Period) Span(o Period) Period {
	return Period{Start: MinDay(p.Start, o.Start), End: MaxDay(p.End, o.End)}
}

// Minus returns the parts of p that lie outside o, in date order: none when
// o covers p, two when p extends past both ends of o.
func (p Period) Minus(o Period) []Period {
	if !p.Overlaps(o) {
		return []Period{p}
	}
	var rest []Period
	if before := (Period{Start: p.Start, End: o.Start.AddDays(-1)}); before.Valid() {
		rest = append(rest, before)
	}
	if after := (Period{Start: o.End.AddDays(1), End: p.End}); after.Valid() {
		rest = append(rest, after)
	}
	return rest
}

// Days returns all days in the period.
func (p Period) Days() []TimePoint {
	var days []TimePoint
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Workdays returns the Monday..Friday days in the period.
func (p Period) Workdays() []TimePoint {
	var days []TimePoint
	for _, d := range p.Days() {
		if d.IsWorkday() {
			days = append(days, d)
		}
	}
	return days
}

// Len is the number of days in the period.
func (p Period) Len() int {
	return DaysBetween(p.Start, p.End) + 1
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}
