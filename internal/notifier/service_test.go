package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"courtbot/internal/booking"
	"courtbot/internal/eventbus"
	kit "courtbot/internal/transport"
	logx "courtbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	fails atomic.Int32 // remaining failures
	got   chan string
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{got: make(chan string, 64)} }

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                    { return nil }

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if a.fails.Add(-1) >= 0 {
		return kit.MessageRef{}, errors.New("telegram: 502")
	}
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	a.got <- text
	return kit.MessageRef{MessageID: 1}, nil
}

func waitSent(t *testing.T, a *fakeAdapter) string {
	t.Helper()
	select {
	case s := <-a.got:
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing sent")
		return ""
	}
}

type memDedup struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (d *memDedup) PutDedup(_ context.Context, k string, until time.Time) error {
	d.mu.Lock()
	d.m[k] = until
	d.mu.Unlock()
	return nil
}

func (d *memDedup) GetDedup(_ context.Context, k string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.m[k]
	return u, ok, nil
}

func startService(t *testing.T, cfg Config, a *fakeAdapter, st DedupStore) *Service {
	t.Helper()
	cfg.Enabled = true
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 100
	}
	s := New(cfg, a, logx.Nop(), eventbus.New(), st)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestNotifyDelivers(t *testing.T) {
	a := newFakeAdapter()
	s := startService(t, Config{}, a, nil)
	if err := s.Notify(context.Background(), kit.Notification{Channel: "booking", Text: "hello"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := waitSent(t, a); got != "hello" {
		t.Fatalf("sent %q", got)
	}
}

func TestRetryAfterFailure(t *testing.T) {
	a := newFakeAdapter()
	a.fails.Store(2)
	s := startService(t, Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, a, nil)
	_ = s.Notify(context.Background(), kit.Notification{Text: "x", Priority: kit.PriorityError})
	if got := waitSent(t, a); !strings.HasSuffix(got, "x") || got == "x" {
		t.Fatalf("sent %q, want priority prefix", got)
	}
}

func TestDedupSuppressesRepeats(t *testing.T) {
	a := newFakeAdapter()
	st := &memDedup{m: map[string]time.Time{}}
	s := startService(t, Config{DedupWindow: time.Minute, PersistDedup: true}, a, st)
	n := kit.Notification{Channel: "booking", Text: "same"}
	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), n); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	waitSent(t, a)
	select {
	case extra := <-a.got:
		t.Fatalf("duplicate delivered: %q", extra)
	case <-time.After(100 * time.Millisecond):
	}

	// A fresh service sharing the store still suppresses it.
	a2 := newFakeAdapter()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st.mu.Lock()
		stored := len(st.m)
		st.mu.Unlock()
		if stored > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	s2 := startService(t, Config{DedupWindow: time.Minute, PersistDedup: true}, a2, st)
	_ = s2.Notify(context.Background(), n)
	select {
	case extra := <-a2.got:
		t.Fatalf("persisted dedup ignored: %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifyWhenStoppedOrDisabled(t *testing.T) {
	s := New(Config{}, newFakeAdapter(), logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: %v", err)
	}
	s = New(Config{Enabled: true}, newFakeAdapter(), logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: %v", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %s out of range", attempt, d)
		}
	}
}

func TestRelayFormatsAndSkipsBookedRemoval(t *testing.T) {
	bus := eventbus.New()
	a := newFakeAdapter()
	s := startService(t, Config{}, a, nil)
	r := NewRelay(RelayConfig{Targets: []kit.ChatTarget{{ChatID: 42}}}, bus, s, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	pub := Publisher(bus)
	tg := booking.Target{ID: "abcdef123456", Kind: booking.KindPolling, Date: "2025-12-01", Start: "18:00", DurationMin: 60}
	pub.Notify(booking.Event{Kind: booking.EventTargetRemoved, Target: tg, Reason: booking.ReasonBooked})
	pub.Notify(booking.Event{Kind: booking.EventReservationSuccess, Target: tg, CourtID: 2})

	got := waitSent(t, a)
	if !strings.Contains(got, "Court 2 booked") || !strings.Contains(got, "<code>abcdef12</code>") {
		t.Fatalf("message = %q", got)
	}
	select {
	case extra := <-a.got:
		t.Fatalf("unexpected message %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFormatPriorities(t *testing.T) {
	tests := []struct {
		e    booking.Event
		prio int
	}{
		{booking.Event{Kind: booking.EventTargetAdded}, kit.PriorityInfo},
		{booking.Event{Kind: booking.EventReservationFailure, Reason: "court 1: taken"}, kit.PriorityWarn},
		{booking.Event{Kind: booking.EventReservationFailure, Reason: "auth: gateway book: 401"}, kit.PriorityError},
		{booking.Event{Kind: booking.EventBurstExhausted, Attempts: 4}, kit.PriorityWarn},
		{booking.Event{Kind: booking.EventSchedulingFault, Reason: "armed twice"}, kit.PriorityError},
		{booking.Event{Kind: booking.EventCampaignExpired, Count: 2}, kit.PriorityInfo},
		{booking.Event{Kind: booking.EventReservationSuccess, CourtID: 2}, kit.PriorityInfo},
		{booking.Event{Kind: booking.EventReservationSuccess, CourtID: 2, Reason: "target removal failed: disk full"}, kit.PriorityError},
	}
	for _, tc := range tests {
		_, prio, ok := Format(tc.e, time.UTC)
		if !ok || prio != tc.prio {
			t.Fatalf("%s: prio %d ok %v, want %d", tc.e.Kind, prio, ok, tc.prio)
		}
	}
}
