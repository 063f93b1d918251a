package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"courtbot/internal/eventbus"
	logx "courtbot/pkg/logx"
)

func startRunner(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSkipIfRunningDropsOverlappingTick(t *testing.T) {
	s, _ := startRunner(t, Config{Workers: 2, QueueSize: 8})
	st := &RunState{}
	release := make(chan struct{})
	var runs atomic.Int32

	task := Task{Name: "tick:abc", State: st, Run: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() == 1 })

	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second enqueue = %v, want ErrOverlapSkip", err)
	}
	if !st.Busy() {
		t.Fatalf("state should be busy")
	}
	close(release)
	waitFor(t, func() bool { return !st.Busy() })

	if err := s.Enqueue(Task{Name: "tick:abc", State: st, Run: func(context.Context) error { runs.Add(1); return nil }}); err != nil {
		t.Fatalf("third enqueue: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() == 2 })
	if got := s.Snapshot().Skipped; got != 1 {
		t.Fatalf("skipped = %d", got)
	}
}

func TestPanicIsRecoveredAndRecorded(t *testing.T) {
	s, bus := startRunner(t, Config{Workers: 1})
	events, unsub := bus.Subscribe(8)
	defer unsub()

	if err := s.Enqueue(Task{Name: "boom", Run: func(context.Context) error { panic("bad tick") }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })

	h := s.Snapshot().History[0]
	if h.Error == "" {
		t.Fatalf("history should carry panic error")
	}
	var sawFailed bool
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.TopicTickFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Fatalf("expected tick.failed event")
	}

	// Worker survives.
	done := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { close(done); return nil }})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive panic")
	}
}

func TestTimeoutCancelsRun(t *testing.T) {
	s, _ := startRunner(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	got := make(chan error, 1)
	_ = s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}})
	select {
	case err := <-got:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout not applied")
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
