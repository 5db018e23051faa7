package appointment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrTypeNotFound         = errors.New("appointment type not found")
	ErrCancellationNotFound = errors.New("cancellation record not found")
	ErrTypeInUse            = errors.New("appointment type is referenced by appointments; only name and color may change")

	ErrConflict            = errors.New("scheduling conflict")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrSlotBeingBooked     = errors.New("calendar is currently being booked, please retry")
	ErrStaleAppointment    = errors.New("appointment was modified concurrently")
	ErrNeedsAttention      = errors.New("appointment needs manual attention before it can progress")
	ErrDuplicateOccurrence = errors.New("series occurrence already generated")

	// ErrInvariantViolation means an overlap reached the store. It is a
	// data-integrity failure and is never corrected automatically.
	ErrInvariantViolation = errors.New("no-overlap invariant violated")

	ErrInvalidInterval         = errors.New("end must be after start")
	ErrMissingResources        = errors.New("appointment type requires more resources")
	ErrMissingParticipant      = errors.New("patient and provider are required")
	ErrInvalidSource           = errors.New("unknown booking source")
	ErrReasonRequired          = errors.New("cancellation reason is required")
	ErrInvalidCancellationType = errors.New("invalid cancellation type")
	ErrInvalidType             = errors.New("appointment type needs a positive duration and non-negative buffers")
)

// ConflictError is returned when a candidate collides with existing
// commitments and no override was supplied.
type ConflictError struct {
	Conflicts ConflictList
}

func (e *ConflictError) Error() string {
	dims := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		dims = append(dims, string(c.Dimension))
	}
	return fmt.Sprintf("scheduling conflict: %s", strings.Join(dims, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// TransitionError names the state and event that were refused.
type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s from %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
