// Package conflict decides which courts are free for a desired window.
//
// All comparisons happen on absolute instants. Records whose timestamps
// cannot be parsed count as conflicts so that nothing is ever booked over
// data we do not understand.
package conflict

import (
	"sort"
	"strings"
	"time"

	"courtbot/internal/booking"
)

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
}

// Overlaps applies the half-open rule: [a0,a1) and [b0,b1) conflict iff
// a0 < b1 and a1 > b0. Touching windows do not overlap.
func Overlaps(a, b booking.Window) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// ParseTimestamp accepts the gateway's timestamp shapes. Values without a
// zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// RecordWindow parses a record's interval. ok is false for malformed or
// inverted intervals.
func RecordWindow(r booking.ReservationRecord) (booking.Window, bool) {
	start, err := ParseTimestamp(r.Start)
	if err != nil {
		return booking.Window{}, false
	}
	end, err := ParseTimestamp(r.End)
	if err != nil {
		return booking.Window{}, false
	}
	if !end.After(start) {
		return booking.Window{}, false
	}
	return booking.Window{Start: start, End: end}, true
}

// Conflicts reports whether one record blocks want.
func Conflicts(r booking.ReservationRecord, want booking.Window) bool {
	if !r.Real() {
		return false
	}
	w, ok := RecordWindow(r)
	if !ok {
		return true
	}
	return Overlaps(w, want.UTC())
}

// HasConflict checks the records of a single court against want.
func HasConflict(records []booking.ReservationRecord, want booking.Window) bool {
	for _, r := range records {
		if Conflicts(r, want) {
			return true
		}
	}
	return false
}

// FindFreeCourts returns the courts of rng with no conflict for want, in
// ascending order. Records for courts outside rng are ignored.
func FindFreeCourts(records []booking.ReservationRecord, rng booking.CourtRange, want booking.Window) []int {
	blocked := make(map[int]bool)
	for _, r := range records {
		if !rng.Contains(r.CourtID) || blocked[r.CourtID] {
			continue
		}
		if Conflicts(r, want) {
			blocked[r.CourtID] = true
		}
	}

	free := make([]int, 0, len(rng.IDs()))
	for _, id := range rng.IDs() {
		if !blocked[id] {
			free = append(free, id)
		}
	}
	sort.Ints(free)
	return free
}

// ByCourt groups records per court. Handy for status output.
func ByCourt(records []booking.ReservationRecord) map[int][]booking.ReservationRecord {
	out := make(map[int][]booking.ReservationRecord)
	for _, r := range records {
		out[r.CourtID] = append(out[r.CourtID], r)
	}
	return out
}
