// Package notify delivers waitlist offers over external channels. It carries
// the structured offer only; wording belongs to the downstream consumers.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Message describes one pending offer.
type Message struct {
	OfferID           uuid.UUID   `json:"offer_id"`
	EntryID           uuid.UUID   `json:"entry_id"`
	PatientID         uuid.UUID   `json:"patient_id"`
	ProviderID        uuid.UUID   `json:"provider_id"`
	ResourceIDs       []uuid.UUID `json:"resource_ids,omitempty"`
	AppointmentTypeID uuid.UUID   `json:"appointment_type_id"`
	Start             time.Time   `json:"start"`
	End               time.Time   `json:"end"`
	ExpiresAt         time.Time   `json:"expires_at"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier only logs the offer. Used when no channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	n.logger.Info().
		Str("offer_id", msg.OfferID.String()).
		Str("patient_id", msg.PatientID.String()).
		Time("start", msg.Start).
		Time("expires_at", msg.ExpiresAt).
		Msg("waitlist offer pending")
	return nil
}

// Fanout delivers to every notifier and fails if any of them failed.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Channels flattens n into the notifiers it delivers through, so a caller
// can retry only the channels that failed.
func Channels(n Notifier) []Notifier {
	f, ok := n.(Fanout)
	if !ok {
		return []Notifier{n}
	}
	var out []Notifier
	for _, c := range f {
		if c != nil {
			out = append(out, Channels(c)...)
		}
	}
	return out
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Fanout(nil)
)
