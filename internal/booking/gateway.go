package booking

import (
	"context"
	"time"
)

// Gateway is the reservation API as the executors see it. Any returned
// error is a failed attempt.
type Gateway interface {
	QueryBookings(ctx context.Context, date string) ([]ReservationRecord, error)
	AttemptBooking(ctx context.Context, req BookingRequest) (BookingResult, error)
}

// Clock lets executors run against fake time in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
