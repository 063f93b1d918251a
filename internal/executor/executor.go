// Package executor holds the two attempt strategies run on each tick:
// polling books any free court, burst hammers one court for a bounded
// time.
package executor

import (
	"context"
	"time"

	"courtbot/internal/booking"
)

// Campaigns is the slice of the campaign store executors may touch. Remove
// is the only mutation, and it reports whether this caller removed the target.
type Campaigns interface {
	Get(id string) (booking.Target, bool)
	Remove(ctx context.Context, id, reason string) (bool, error)
	Location() *time.Location
	Courts() booking.CourtRange
}

// Metrics receives per-attempt outcomes.
type Metrics interface {
	ObserveAttempt(kind, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveAttempt(string, string) {}

const (
	OutcomeBooked    = "booked"
	OutcomeTaken     = "taken"
	OutcomeTransient = "transient"
	OutcomeAuth      = "auth"
	OutcomeTimeout   = "timeout"
)

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeBooked
	case booking.IsAuth(err):
		return OutcomeAuth
	case isTaken(err):
		return OutcomeTaken
	case isTimeout(err):
		return OutcomeTimeout
	default:
		return OutcomeTransient
	}
}

// complete removes the target after a successful booking and emits the
// success event only if this caller did the removal. When removal fails the
// booking is still reported, and the returned UnrecordedBookingError tells
// the scheduler to stop ticking the target.
func complete(ctx context.Context, store Campaigns, notify booking.Notifier, t booking.Target, res booking.BookingResult, court int, now time.Time) (bool, error) {
	// The booking already happened; don't let a nearly expired tick
	// context lose the removal.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	removed, err := store.Remove(rctx, t.ID, booking.ReasonBooked)
	if err != nil {
		notify.Notify(booking.Event{Kind: booking.EventReservationSuccess, At: now, Target: t, CourtID: court,
			Reason: "target removal failed: " + err.Error()})
		return false, &booking.UnrecordedBookingError{TargetID: t.ID, CourtID: court, ReservationID: res.ReservationID, Err: err}
	}
	if !removed {
		return false, nil
	}
	notify.Notify(booking.Event{Kind: booking.EventReservationSuccess, At: now, Target: t, CourtID: court})
	return true, nil
}
