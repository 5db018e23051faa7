package waitlist

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	CreateEntry(ctx context.Context, e Entry) (*Entry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	ListEntriesByPatient(ctx context.Context, patientID uuid.UUID) ([]Entry, error)
	// ListActiveEntries returns ACTIVE entries in matching order.
	ListActiveEntries(ctx context.Context) ([]Entry, error)
	// UpdateEntryStatus is conditional on the current status; a mismatch
	// reports ErrEntryStateChanged.
	UpdateEntryStatus(ctx context.Context, id uuid.UUID, from, to EntryStatus) (*Entry, error)
	SetFollowUp(ctx context.Context, id uuid.UUID, needed bool) error
	// ExpireEntries moves ACTIVE entries whose ExpiresAt is not after
	// before to EXPIRED.
	ExpireEntries(ctx context.Context, before time.Time) (int, error)

	// CreateOffer moves the entry from ACTIVE to NOTIFIED, bumps its offer
	// count and stores the offer in one step.
	CreateOffer(ctx context.Context, o Offer) (*Offer, error)
	GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error)
	ListOffersByPatient(ctx context.Context, patientID uuid.UUID, status OfferStatus) ([]Offer, error)
	ListOffersByOpening(ctx context.Context, sourceAppointmentID uuid.UUID) ([]Offer, error)
	ListExpiredOffers(ctx context.Context, before time.Time) ([]Offer, error)
	// ResolveOffer is conditional on the current status; a mismatch reports
	// ErrOfferNotPending.
	ResolveOffer(ctx context.Context, id uuid.UUID, from, to OfferStatus) (*Offer, error)
}
