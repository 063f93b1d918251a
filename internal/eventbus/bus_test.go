package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TopicBooking, Data: 1})
	b.Publish(Event{Type: TopicBooking, Data: 2})

	if got := (<-a).Data; got != 1 {
		t.Fatalf("a got %v", got)
	}
	select {
	case e := <-a:
		t.Fatalf("a should have dropped the second event, got %v", e)
	default:
	}
	if len(c) != 2 {
		t.Fatalf("c buffered %d events", len(c))
	}
	if d := b.(Counter).Dropped(); d != 1 {
		t.Fatalf("dropped = %d", d)
	}
	if (<-c).Time.IsZero() {
		t.Fatalf("publish should stamp time")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
	b.Publish(Event{Type: TopicBooking})
}
