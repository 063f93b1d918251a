package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"courtbot/internal/booking"
)

type recorder struct {
	mu     sync.Mutex
	events []booking.Event
}

func (r *recorder) Notify(e booking.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []booking.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]booking.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

var fixedNow = time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, mem *Memory, rec *recorder) *Store {
	t.Helper()
	n := 0
	return New(Config{Courts: booking.CourtRange{First: 1, Last: 4}}, mem,
		WithNotifier(rec),
		WithNow(func() time.Time { return fixedNow }),
		WithIDFunc(func() string { n++; return fmt.Sprintf("target-%03d", n) }),
	)
}

func polling(date string) booking.Target {
	return booking.Target{Kind: booking.KindPolling, Date: date, Start: "18:00", DurationMin: 60}
}

func TestAddAssignsIDAndPersists(t *testing.T) {
	mem := NewMemory(Snapshot{Enabled: true})
	rec := &recorder{}
	s := newStore(t, mem, rec)

	got, err := s.Add(context.Background(), polling("2025-12-01"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if got.ID != "target-001" || !got.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected target: %+v", got)
	}
	snap, _ := mem.LoadAll(context.Background())
	if len(snap.Targets) != 1 || snap.Targets[0].ID != got.ID {
		t.Fatalf("not persisted: %+v", snap)
	}
	if k := rec.kinds(); len(k) != 1 || k[0] != booking.EventTargetAdded {
		t.Fatalf("events = %v", k)
	}
}

func TestAddValidationListsAllProblems(t *testing.T) {
	mem := NewMemory(Snapshot{Enabled: true})
	s := newStore(t, mem, &recorder{})

	_, err := s.Add(context.Background(), booking.Target{Kind: booking.KindBurst, Date: "nope", Start: "18:00", DurationMin: -5})
	var ve *booking.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Problems) != 3 {
		t.Fatalf("problems = %v", ve.Problems)
	}
	if len(s.List()) != 0 || mem.Saves() != 0 {
		t.Fatalf("invalid target must not be stored")
	}
}

func TestRemoveTwice(t *testing.T) {
	mem := NewMemory(Snapshot{Enabled: true})
	rec := &recorder{}
	s := newStore(t, mem, rec)
	ctx := context.Background()

	tg, err := s.Add(ctx, polling("2025-12-01"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	ok, err := s.Remove(ctx, tg.ID, "manual")
	if err != nil || !ok {
		t.Fatalf("first Remove = %v, %v", ok, err)
	}
	saves := mem.Saves()

	ok, err = s.Remove(ctx, tg.ID, "manual")
	if err != nil || ok {
		t.Fatalf("second Remove = %v, %v", ok, err)
	}
	if mem.Saves() != saves {
		t.Fatalf("second remove touched persistence")
	}
	if k := rec.kinds(); len(k) != 2 || k[1] != booking.EventTargetRemoved {
		t.Fatalf("events = %v", k)
	}
}

func TestPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	mem := NewMemory(Snapshot{Enabled: true})
	s := newStore(t, mem, &recorder{})
	ctx := context.Background()

	tg, err := s.Add(ctx, polling("2025-12-01"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	mem.FailNext(errors.New("disk full"))
	_, err = s.Add(ctx, polling("2025-12-02"))
	var pe *booking.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "add" {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if n := len(s.List()); n != 1 {
		t.Fatalf("memory has %d targets after failed add", n)
	}

	mem.FailNext(errors.New("disk full"))
	if ok, err := s.Remove(ctx, tg.ID, "manual"); ok || err == nil {
		t.Fatalf("Remove during failure = %v, %v", ok, err)
	}
	if _, ok := s.Get(tg.ID); !ok {
		t.Fatalf("target vanished after failed remove")
	}

	mem.FailNext(errors.New("disk full"))
	if err := s.SetEnabled(ctx, false); err == nil {
		t.Fatalf("SetEnabled should fail")
	}
	if !s.Enabled() {
		t.Fatalf("switch flipped despite failed save")
	}
}

func TestExpireByDate(t *testing.T) {
	mem := NewMemory(Snapshot{Enabled: true})
	rec := &recorder{}
	s := newStore(t, mem, rec)
	ctx := context.Background()

	yesterday := fixedNow.AddDate(0, 0, -1).Format(booking.DateLayout)
	tomorrow := fixedNow.AddDate(0, 0, 1).Format(booking.DateLayout)
	old, _ := s.Add(ctx, polling(yesterday))
	keep, _ := s.Add(ctx, polling(tomorrow))

	n, err := s.ExpireByDate(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ExpireByDate = %d, %v", n, err)
	}
	if _, ok := s.Get(old.ID); ok {
		t.Fatalf("yesterday's target survived")
	}
	if _, ok := s.Get(keep.ID); !ok {
		t.Fatalf("tomorrow's target removed")
	}
	k := rec.kinds()
	if k[len(k)-1] != booking.EventCampaignExpired {
		t.Fatalf("events = %v", k)
	}
}

func TestExpireTodayIsKept(t *testing.T) {
	s := newStore(t, NewMemory(Snapshot{Enabled: true}), &recorder{})
	if _, err := s.Add(context.Background(), polling(fixedNow.Format(booking.DateLayout))); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n, _ := s.ExpireByDate(context.Background()); n != 0 {
		t.Fatalf("today's target expired")
	}
}

func TestExpireByLeadWindow(t *testing.T) {
	s := newStore(t, NewMemory(Snapshot{Enabled: true}), &recorder{})
	ctx := context.Background()
	for _, d := range []int{1, 3, 4, 10} {
		if _, err := s.Add(ctx, polling(fixedNow.AddDate(0, 0, d).Format(booking.DateLayout))); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	n, err := s.ExpireByLeadWindow(ctx, 3)
	if err != nil || n != 2 {
		t.Fatalf("ExpireByLeadWindow = %d, %v", n, err)
	}
	if len(s.List()) != 2 {
		t.Fatalf("left = %v", s.List())
	}
}

func TestConcurrentRemoveExactlyOnce(t *testing.T) {
	rec := &recorder{}
	s := newStore(t, NewMemory(Snapshot{Enabled: true}), rec)
	ctx := context.Background()
	tg, _ := s.Add(ctx, polling("2025-12-01"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Remove(ctx, tg.ID, "booked")
			if err != nil {
				t.Errorf("Remove: %v", err)
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("remove succeeded %d times", wins)
	}
}

func TestResolvePrefixAndHooks(t *testing.T) {
	s := New(Config{}, NewMemory(Snapshot{Enabled: true}))
	var changes []ChangeKind
	s.OnChange(func(c Change) { changes = append(changes, c.Kind) })

	ctx := context.Background()
	a, _ := s.Add(ctx, booking.Target{ID: "abcdef01", Kind: booking.KindPolling, Date: "2025-12-01", Start: "18:00", DurationMin: 60})
	_, _ = s.Add(ctx, booking.Target{ID: "abcdef02", Kind: booking.KindPolling, Date: "2025-12-01", Start: "19:00", DurationMin: 60})

	if got, err := s.Resolve("abcdef01", 6); err != nil || got.ID != a.ID {
		t.Fatalf("Resolve full = %v, %v", got, err)
	}
	if _, err := s.Resolve("abcdef", 6); err == nil {
		t.Fatalf("ambiguous prefix should fail")
	}
	if _, err := s.Resolve("abc", 6); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("short prefix err = %v", err)
	}
	if err := s.SetEnabled(ctx, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if len(changes) != 3 || changes[2] != ChangeEnabled {
		t.Fatalf("changes = %v", changes)
	}
}
