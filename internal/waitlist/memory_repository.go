package waitlist

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
	offers  map[uuid.UUID]Offer
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[uuid.UUID]Entry),
		offers:  make(map[uuid.UUID]Offer),
	}
}

func (r *MemoryRepository) CreateEntry(_ context.Context, e Entry) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e.Windows = slices.Clone(e.Windows)
	r.entries[e.ID] = e
	return &e, nil
}

func (r *MemoryRepository) GetEntry(_ context.Context, id uuid.UUID) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (r *MemoryRepository) ListEntriesByPatient(_ context.Context, patientID uuid.UUID) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	Rank(out)
	return out, nil
}

func (r *MemoryRepository) ListActiveEntries(_ context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Status == EntryActive {
			out = append(out, e)
		}
	}
	Rank(out)
	return out, nil
}

func (r *MemoryRepository) UpdateEntryStatus(_ context.Context, id uuid.UUID, from, to EntryStatus) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if e.Status != from {
		return nil, ErrEntryStateChanged
	}
	e.Status = to
	e.UpdatedAt = time.Now()
	r.entries[id] = e
	return &e, nil
}

func (r *MemoryRepository) SetFollowUp(_ context.Context, id uuid.UUID, needed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	e.NeedsFollowUp = needed
	e.UpdatedAt = time.Now()
	r.entries[id] = e
	return nil
}

func (r *MemoryRepository) ExpireEntries(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.Status == EntryActive && !e.ExpiresAt.After(before) {
			e.Status = EntryExpired
			e.UpdatedAt = time.Now()
			r.entries[id] = e
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CreateOffer(_ context.Context, o Offer) (*Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[o.EntryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if e.Status != EntryActive {
		return nil, ErrEntryStateChanged
	}
	now := time.Now()
	e.Status = EntryNotified
	e.OfferCount++
	e.UpdatedAt = now
	r.entries[e.ID] = e

	o.CreatedAt, o.UpdatedAt = now, now
	o.Opening.ResourceIDs = slices.Clone(o.Opening.ResourceIDs)
	r.offers[o.ID] = o
	return &o, nil
}

func (r *MemoryRepository) GetOffer(_ context.Context, id uuid.UUID) (*Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return &o, nil
}

func (r *MemoryRepository) listOffers(keep func(o *Offer) bool) []Offer {
	var out []Offer
	for _, o := range r.offers {
		if keep(&o) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b Offer) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (r *MemoryRepository) ListOffersByPatient(_ context.Context, patientID uuid.UUID, status OfferStatus) ([]Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listOffers(func(o *Offer) bool {
		return o.PatientID == patientID && (status == "" || o.Status == status)
	}), nil
}

func (r *MemoryRepository) ListOffersByOpening(_ context.Context, sourceAppointmentID uuid.UUID) ([]Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listOffers(func(o *Offer) bool { return o.Opening.SourceAppointmentID == sourceAppointmentID }), nil
}

func (r *MemoryRepository) ListExpiredOffers(_ context.Context, before time.Time) ([]Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listOffers(func(o *Offer) bool { return o.Status == OfferPending && !o.ExpiresAt.After(before) }), nil
}

func (r *MemoryRepository) ResolveOffer(_ context.Context, id uuid.UUID, from, to OfferStatus) (*Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	if o.Status != from {
		return nil, ErrOfferNotPending
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	r.offers[id] = o
	return &o, nil
}

var _ Repository = (*MemoryRepository)(nil)
