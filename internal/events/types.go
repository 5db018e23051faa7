package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type names an appointment lifecycle event.
type Type string

const (
	TypeBooked      Type = "booked"
	TypeConfirmed   Type = "confirmed"
	TypeCheckedIn   Type = "checked_in"
	TypeStarted     Type = "started"
	TypeRescheduled Type = "rescheduled"
	TypeCancelled   Type = "cancelled"
	TypeNoShow      Type = "no_show"
	TypeCompleted   Type = "completed"
)

// DomainEvent is what the scheduling store emits after every committed
// change. It carries enough of the appointment for subscribers to act
// without reading it back.
type DomainEvent struct {
	ID                uuid.UUID   `json:"id"`
	Type              Type        `json:"type"`
	AppointmentID     uuid.UUID   `json:"appointment_id"`
	PatientID         uuid.UUID   `json:"patient_id"`
	ProviderID        uuid.UUID   `json:"provider_id"`
	ResourceIDs       []uuid.UUID `json:"resource_ids"`
	AppointmentTypeID uuid.UUID   `json:"appointment_type_id"`
	Start             time.Time   `json:"start"`
	End               time.Time   `json:"end"`
	CancellationType  string      `json:"cancellation_type,omitempty"`
	// FreedSlot is set on cancellations of a row that was holding time.
	// Flagged and already-closed rows free nothing.
	FreedSlot         bool        `json:"freed_slot,omitempty"`
	OccurredAt        time.Time   `json:"occurred_at"`
}

// Publisher delivers domain events to interested parties.
type Publisher interface {
	Publish(ctx context.Context, ev DomainEvent) error
}

// Handler reacts to a single event.
type Handler func(ctx context.Context, ev DomainEvent) error

// Multi fans a single publish out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev DomainEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, DomainEvent) error { return nil }
