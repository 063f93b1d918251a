package booking

import (
	"errors"
	"testing"
	"time"
)

func TestValidateCollectsEveryProblem(t *testing.T) {
	err := Target{Kind: KindBurst, Date: "2025-13-40", Start: "25:99", DurationMin: 0}.Validate(CourtRange{First: 1, Last: 4})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Problems) != 4 {
		t.Fatalf("expected 4 problems, got %d: %v", len(ve.Problems), ve.Problems)
	}
}

func TestValidateKinds(t *testing.T) {
	courts := CourtRange{First: 1, Last: 4}
	tests := []struct {
		name string
		t    Target
		ok   bool
	}{
		{"polling", Target{Kind: KindPolling, Date: "2025-12-01", Start: "18:00", DurationMin: 60}, true},
		{"polling with court", Target{Kind: KindPolling, Date: "2025-12-01", Start: "18:00", DurationMin: 60, CourtID: 2}, false},
		{"burst", Target{Kind: KindBurst, Date: "2025-12-01", Start: "18:00", DurationMin: 60, CourtID: 2}, true},
		{"burst out of range", Target{Kind: KindBurst, Date: "2025-12-01", Start: "18:00", DurationMin: 60, CourtID: 9}, false},
		{"unknown kind", Target{Kind: "sniper", Date: "2025-12-01", Start: "18:00", DurationMin: 60}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.t.Validate(courts)
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestWindowAndDaysUntil(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	tg := Target{ID: "x", Kind: KindPolling, Date: "2025-12-01", Start: "18:00", DurationMin: 90}

	w, err := tg.Window(loc)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if got := w.Start.UTC().Format(time.RFC3339); got != "2025-12-01T11:00:00Z" {
		t.Fatalf("start = %s", got)
	}
	if w.End.Sub(w.Start) != 90*time.Minute {
		t.Fatalf("duration = %s", w.End.Sub(w.Start))
	}

	// 2025-11-28 20:00 UTC is already 2025-11-29 in UTC+7.
	now := time.Date(2025, 11, 28, 20, 0, 0, 0, time.UTC)
	days, err := tg.DaysUntil(now, loc)
	if err != nil {
		t.Fatalf("DaysUntil: %v", err)
	}
	if days != 2 {
		t.Fatalf("days = %d, want 2", days)
	}
}

func TestCourtRangeIDs(t *testing.T) {
	ids := CourtRange{First: 3, Last: 5}.IDs()
	if len(ids) != 3 || ids[0] != 3 || ids[2] != 5 {
		t.Fatalf("IDs = %v", ids)
	}
	if (CourtRange{First: 5, Last: 3}).IDs() != nil {
		t.Fatalf("inverted range should be empty")
	}
}
