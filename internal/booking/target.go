package booking

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags a target with the attempt strategy that drives it.
type Kind string

const (
	KindPolling Kind = "polling"
	KindBurst   Kind = "burst"
)

func (k Kind) Valid() bool { return k == KindPolling || k == KindBurst }

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Target is one reservation campaign. CourtID is set only for burst targets.
type Target struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Date        string    `json:"date"`
	Start       string    `json:"start"`
	DurationMin int       `json:"duration_min"`
	CourtID     int       `json:"court_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CourtRange is the inclusive range of bookable court ids.
type CourtRange struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

func (r CourtRange) Contains(id int) bool { return id >= r.First && id <= r.Last }

// IDs lists the range in ascending order.
func (r CourtRange) IDs() []int {
	if r.Last < r.First {
		return nil
	}
	out := make([]int, 0, r.Last-r.First+1)
	for id := r.First; id <= r.Last; id++ {
		out = append(out, id)
	}
	return out
}

// Validate reports every problem with t, not just the first one.
// A zero CourtRange skips the range check.
func (t Target) Validate(courts CourtRange) error {
	var problems []string

	if _, err := time.Parse(DateLayout, strings.TrimSpace(t.Date)); err != nil {
		problems = append(problems, fmt.Sprintf("date %q is not a YYYY-MM-DD calendar date", t.Date))
	}
	if _, err := time.Parse(ClockLayout, strings.TrimSpace(t.Start)); err != nil {
		problems = append(problems, fmt.Sprintf("start %q is not HH:MM", t.Start))
	}
	if t.DurationMin <= 0 {
		problems = append(problems, fmt.Sprintf("duration must be positive, got %d", t.DurationMin))
	}

	switch t.Kind {
	case KindBurst:
		if t.CourtID <= 0 {
			problems = append(problems, "burst target needs a court id")
		} else if courts != (CourtRange{}) && !courts.Contains(t.CourtID) {
			problems = append(problems, fmt.Sprintf("court %d outside range %d..%d", t.CourtID, courts.First, courts.Last))
		}
	case KindPolling:
		if t.CourtID != 0 {
			problems = append(problems, "polling target must not name a court")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown kind %q", t.Kind))
	}

	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// Window returns the desired booking window in loc.
func (t Target) Window(loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(DateLayout+" "+ClockLayout, strings.TrimSpace(t.Date)+" "+strings.TrimSpace(t.Start), loc)
	if err != nil {
		return Window{}, fmt.Errorf("target %s: %w", t.ID, err)
	}
	return Window{Start: start, End: start.Add(time.Duration(t.DurationMin) * time.Minute)}, nil
}

// DaysUntil counts whole calendar days from now to the target date, both
// taken in loc. Negative once the date has passed.
func (t Target) DaysUntil(now time.Time, loc *time.Location) (int, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.Parse(DateLayout, strings.TrimSpace(t.Date))
	if err != nil {
		return 0, err
	}
	n := now.In(loc)
	today := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Sub(today).Hours() / 24), nil
}

// ShortID is the display form used in chat.
func (t Target) ShortID() string {
	if len(t.ID) > 8 {
		return t.ID[:8]
	}
	return t.ID
}

func (t Target) String() string {
	s := fmt.Sprintf("%s %s %s %s +%dm", t.ShortID(), t.Kind, t.Date, t.Start, t.DurationMin)
	if t.Kind == KindBurst {
		s += fmt.Sprintf(" court %d", t.CourtID)
	}
	return s
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) UTC() Window { return Window{Start: w.Start.UTC(), End: w.End.UTC()} }
