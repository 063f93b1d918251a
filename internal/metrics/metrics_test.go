package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"courtbot/internal/booking"
	"courtbot/internal/eventbus"
	"courtbot/internal/task/engine"
)

func TestHooksUpdateSeries(t *testing.T) {
	c := New()

	c.SetArmedJobs(3)
	c.ObserveTick("polling", "ok")
	c.ObserveTick("polling", "ok")
	c.ObserveAttempt("burst", "taken")
	c.ObserveGateway("book", "ok", 40*time.Millisecond)
	c.SetTargets(5)

	if got := testutil.ToFloat64(c.armedJobs); got != 3 {
		t.Fatalf("armed jobs = %v", got)
	}
	if got := testutil.ToFloat64(c.ticks.WithLabelValues("polling", "ok")); got != 2 {
		t.Fatalf("ticks = %v", got)
	}
	if got := testutil.ToFloat64(c.attempts.WithLabelValues("burst", "taken")); got != 1 {
		t.Fatalf("attempts = %v", got)
	}
	if got := testutil.CollectAndCount(c.gwLatency); got != 1 {
		t.Fatalf("gateway series = %d", got)
	}
	if got := testutil.ToFloat64(c.targets); got != 5 {
		t.Fatalf("targets = %v", got)
	}
}

func TestRunCountsBusEvents(t *testing.T) {
	c := New()
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, bus) }()

	// Run subscribes asynchronously; publish until the first event lands.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(c.events.WithLabelValues(string(booking.EventTargetAdded))) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event never counted")
		}
		bus.Publish(eventbus.Event{Type: eventbus.TopicBooking, Data: booking.Event{Kind: booking.EventTargetAdded}})
		time.Sleep(5 * time.Millisecond)
	}
	bus.Publish(eventbus.Event{Type: eventbus.TopicTickSkipped, Data: engine.TaskEvent{}})
	bus.Publish(eventbus.Event{Type: eventbus.TopicTickFinished, Data: engine.TaskEvent{Duration: time.Second}})

	deadline = time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(c.tickDrops.WithLabelValues("skipped")) == 0 || testutil.CollectAndCount(c.tickLatency) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("tick events never counted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestGathererServesRegisteredFamilies(t *testing.T) {
	c := New()
	c.ObserveTick("burst", "error")

	mfs, err := c.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "courtbot_scheduler_ticks_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ticks family missing")
	}
}
