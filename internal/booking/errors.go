package booking

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSlotTaken means another user got the slot first.
	ErrSlotTaken = errors.New("slot already taken")

	ErrNotFound = errors.New("target not found")

	// ErrTickSkipped marks a tick that had nothing to do. It is not a failure.
	ErrTickSkipped = errors.New("tick skipped")
)

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid target: " + strings.Join(e.Problems, "; ")
}

// TransientGatewayError covers network failures, timeouts and non-auth
// HTTP statuses. The attempt counts as failed and execution continues.
type TransientGatewayError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientGatewayError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }

type AuthError struct {
	Op     string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("gateway %s: authentication rejected (status %d)", e.Op, e.Status)
}

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// UnrecordedBookingError means a court was booked but the target could not
// be removed. The target must not be ticked again until an operator looks.
type UnrecordedBookingError struct {
	TargetID      string
	CourtID       int
	ReservationID int64
	Err           error
}

func (e *UnrecordedBookingError) Error() string {
	return fmt.Sprintf("court %d booked for target %s but removal failed: %v", e.CourtID, e.TargetID, e.Err)
}

func (e *UnrecordedBookingError) Unwrap() error { return e.Err }

// InternalInvariantViolation is fatal to one target's scheduling only.
type InternalInvariantViolation struct {
	TargetID string
	Detail   string
}

func (e *InternalInvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated for target %s: %s", e.TargetID, e.Detail)
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
