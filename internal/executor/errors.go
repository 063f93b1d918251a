package executor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"courtbot/internal/booking"
)

// ErrBurstActive means a burst session for the target is already running.
// It wraps booking.ErrTickSkipped so the scheduler counts it as a skip.
var ErrBurstActive = fmt.Errorf("burst already active for target: %w", booking.ErrTickSkipped)

func isTaken(err error) bool { return errors.Is(err, booking.ErrSlotTaken) }

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
