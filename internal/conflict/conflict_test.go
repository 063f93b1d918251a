package conflict

import (
	"reflect"
	"testing"
	"time"

	"courtbot/internal/booking"
)

func win(t *testing.T, start, end string) booking.Window {
	t.Helper()
	s, err := ParseTimestamp(start)
	if err != nil {
		t.Fatalf("parse %q: %v", start, err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		t.Fatalf("parse %q: %v", end, err)
	}
	return booking.Window{Start: s, End: e}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b [2]string
		want bool
	}{
		{"disjoint before", [2]string{"2025-12-01T10:00Z", "2025-12-01T11:00Z"}, [2]string{"2025-12-01T12:00Z", "2025-12-01T13:00Z"}, false},
		{"disjoint after", [2]string{"2025-12-01T14:00Z", "2025-12-01T15:00Z"}, [2]string{"2025-12-01T12:00Z", "2025-12-01T13:00Z"}, false},
		{"touching end", [2]string{"2025-12-01T11:00Z", "2025-12-01T12:00Z"}, [2]string{"2025-12-01T12:00Z", "2025-12-01T13:00Z"}, false},
		{"touching start", [2]string{"2025-12-01T13:00Z", "2025-12-01T14:00Z"}, [2]string{"2025-12-01T12:00Z", "2025-12-01T13:00Z"}, false},
		{"partial", [2]string{"2025-12-01T11:30Z", "2025-12-01T12:30Z"}, [2]string{"2025-12-01T12:00Z", "2025-12-01T13:00Z"}, true},
		{"contained", [2]string{"2025-12-01T12:15Z", "2025-12-01T12:45Z"}, [2]string{"2025-12-01T12:00Z", "2025-12-01T13:00Z"}, true},
		{"identical", [2]string{"2025-12-01T12:00Z", "2025-12-01T13:00Z"}, [2]string{"2025-12-01T12:00Z", "2025-12-01T13:00Z"}, true},
		{"offset zone", [2]string{"2025-12-01T19:30+07:00", "2025-12-01T20:30+07:00"}, [2]string{"2025-12-01T12:00Z", "2025-12-01T13:00Z"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := win(t, tc.a[0], tc.a[1])
			b := win(t, tc.b[0], tc.b[1])
			if got := Overlaps(a, b); got != tc.want {
				t.Fatalf("Overlaps = %v, want %v", got, tc.want)
			}
			if got := Overlaps(b, a); got != tc.want {
				t.Fatalf("Overlaps is not symmetric")
			}
		})
	}
}

func TestFindFreeCourtsScenario(t *testing.T) {
	tg := booking.Target{Kind: booking.KindPolling, Date: "2025-12-01", Start: "18:00", DurationMin: 60}
	want, err := tg.Window(time.UTC)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	records := []booking.ReservationRecord{
		{ReservationID: 5, CourtID: 1, Start: "2025-12-01T18:00Z", End: "2025-12-01T19:00Z"},
	}
	got := FindFreeCourts(records, booking.CourtRange{First: 1, Last: 2}, want)
	if !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("free = %v, want [2]", got)
	}
}

func TestFindFreeCourtsEdgeCases(t *testing.T) {
	want := win(t, "2025-12-01T18:00Z", "2025-12-01T19:00Z")
	rng := booking.CourtRange{First: 1, Last: 4}

	tests := []struct {
		name    string
		records []booking.ReservationRecord
		want    []int
	}{
		{"empty list frees everything", nil, []int{1, 2, 3, 4}},
		{"sentinel records are free", []booking.ReservationRecord{
			{ReservationID: 0, CourtID: 2, Start: "2025-12-01T18:00Z", End: "2025-12-01T19:00Z"},
			{ReservationID: -1, CourtID: 3, Start: "2025-12-01T18:00Z", End: "2025-12-01T19:00Z"},
		}, []int{1, 2, 3, 4}},
		{"unparseable blocks", []booking.ReservationRecord{
			{ReservationID: 9, CourtID: 3, Start: "tomorrow-ish", End: "2025-12-01T19:00Z"},
		}, []int{1, 2, 4}},
		{"inverted blocks", []booking.ReservationRecord{
			{ReservationID: 9, CourtID: 4, Start: "2025-12-01T19:00Z", End: "2025-12-01T18:00Z"},
		}, []int{1, 2, 3}},
		{"touching does not block", []booking.ReservationRecord{
			{ReservationID: 7, CourtID: 1, Start: "2025-12-01T17:00Z", End: "2025-12-01T18:00Z"},
			{ReservationID: 8, CourtID: 1, Start: "2025-12-01T19:00Z", End: "2025-12-01T20:00Z"},
		}, []int{1, 2, 3, 4}},
		{"outside range ignored", []booking.ReservationRecord{
			{ReservationID: 7, CourtID: 12, Start: "2025-12-01T18:00Z", End: "2025-12-01T19:00Z"},
		}, []int{1, 2, 3, 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FindFreeCourts(tc.records, rng, want)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("free = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFindFreeCourtsDeterministic(t *testing.T) {
	want := win(t, "2025-12-01T18:00Z", "2025-12-01T19:00Z")
	records := []booking.ReservationRecord{
		{ReservationID: 3, CourtID: 4, Start: "2025-12-01T18:30Z", End: "2025-12-01T19:30Z"},
		{ReservationID: 2, CourtID: 2, Start: "2025-12-01T17:30Z", End: "2025-12-01T18:30Z"},
	}
	first := FindFreeCourts(records, booking.CourtRange{First: 1, Last: 5}, want)
	for i := 0; i < 20; i++ {
		if got := FindFreeCourts(records, booking.CourtRange{First: 1, Last: 5}, want); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d = %v, first = %v", i, got, first)
		}
	}
	if !reflect.DeepEqual(first, []int{1, 3, 5}) {
		t.Fatalf("free = %v", first)
	}
}

func TestHasConflict(t *testing.T) {
	want := win(t, "2025-12-01T18:00Z", "2025-12-01T19:00Z")
	if HasConflict(nil, want) {
		t.Fatalf("no records should not conflict")
	}
	rec := []booking.ReservationRecord{{ReservationID: 1, CourtID: 1, Start: "2025-12-01T18:59:59.5Z", End: "2025-12-01T20:00:00Z"}}
	if !HasConflict(rec, want) {
		t.Fatalf("fractional overlap should conflict")
	}
}
