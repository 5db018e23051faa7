package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is the single-process store behind STORAGE_DRIVER=memory
// and the service tests. It enforces the same uniqueness and no-overlap
// rules as the postgres schema.
type MemoryRepository struct {
	mu            sync.RWMutex
	types         map[uuid.UUID]AppointmentType
	appointments  map[uuid.UUID]Appointment
	blocks        map[uuid.UUID]ProviderBlock
	cancellations map[uuid.UUID]CancellationRecord // keyed by appointment
	events        []EventLog
	now           func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		types:         make(map[uuid.UUID]AppointmentType),
		appointments:  make(map[uuid.UUID]Appointment),
		blocks:        make(map[uuid.UUID]ProviderBlock),
		cancellations: make(map[uuid.UUID]CancellationRecord),
		now:           time.Now,
	}
}

func cloneAppointment(a Appointment) Appointment {
	a.ResourceIDs = append([]uuid.UUID(nil), a.ResourceIDs...)
	a.OverriddenIDs = append([]uuid.UUID(nil), a.OverriddenIDs...)
	if a.SeriesID != nil {
		id := *a.SeriesID
		a.SeriesID = &id
	}
	if a.SeriesIndex != nil {
		idx := *a.SeriesIndex
		a.SeriesIndex = &idx
	}
	return a
}

func (r *MemoryRepository) GetType(_ context.Context, id uuid.UUID) (*AppointmentType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[id]
	if !ok {
		return nil, ErrTypeNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) ListTypes(_ context.Context) ([]AppointmentType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AppointmentType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) InsertType(_ context.Context, t AppointmentType) (*AppointmentType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.ResourceCategories = append([]string(nil), t.ResourceCategories...)
	r.types[t.ID] = t
	return &t, nil
}

func (r *MemoryRepository) UpdateType(_ context.Context, t AppointmentType) (*AppointmentType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.types[t.ID]
	if !ok {
		return nil, ErrTypeNotFound
	}
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = r.now()
	r.types[t.ID] = t
	return &t, nil
}

func (r *MemoryRepository) CountByType(_ context.Context, typeID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.appointments {
		if a.AppointmentTypeID == typeID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a = cloneAppointment(a)
	return &a, nil
}

func (r *MemoryRepository) filter(keep func(a *Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if keep(&a) {
			out = append(out, cloneAppointment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.filter(func(a *Appointment) bool { return a.PatientID == patientID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) ListByProvider(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(a *Appointment) bool {
		return a.ProviderID == providerID && !a.Start.Before(from) && a.Start.Before(to)
	}), nil
}

func (r *MemoryRepository) ListBySeries(_ context.Context, seriesID uuid.UUID) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(a *Appointment) bool {
		return a.SeriesID != nil && *a.SeriesID == seriesID
	}), nil
}

func (r *MemoryRepository) PatientTimeline(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(a *Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *MemoryRepository) ListPatientIDs(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, a := range r.appointments {
		if _, ok := seen[a.PatientID]; ok {
			continue
		}
		seen[a.PatientID] = struct{}{}
		out = append(out, a.PatientID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (r *MemoryRepository) FindOverlapping(_ context.Context, q OverlapQuery) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(a *Appointment) bool {
		if !a.Occupying() || !overlaps(q.From, q.To, a.BufferedStart, a.BufferedEnd) {
			return false
		}
		if a.ProviderID == q.ProviderID || a.PatientID == q.PatientID {
			return true
		}
		for _, rid := range q.ResourceIDs {
			if a.hasResource(rid) {
				return true
			}
		}
		return false
	}), nil
}

func (r *MemoryRepository) ListProviderBlocks(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]ProviderBlock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ProviderBlock
	for _, b := range r.blocks {
		if b.ProviderID == providerID && overlaps(from, to, b.Start, b.End) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *MemoryRepository) InsertProviderBlock(_ context.Context, b ProviderBlock) (*ProviderBlock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[b.ID] = b
	return &b, nil
}

// checkInvariant must be called with the write lock held.
func (r *MemoryRepository) checkInvariant(a *Appointment) error {
	if a.SeriesID != nil && a.SeriesIndex != nil {
		for _, other := range r.appointments {
			if other.ID != a.ID && other.SeriesID != nil && other.SeriesIndex != nil &&
				*other.SeriesID == *a.SeriesID && *other.SeriesIndex == *a.SeriesIndex {
				return ErrDuplicateOccurrence
			}
		}
	}
	if !a.Exclusive() {
		return nil
	}
	for _, other := range r.appointments {
		if other.ID == a.ID || !other.Exclusive() {
			continue
		}
		if !overlaps(a.BufferedStart, a.BufferedEnd, other.BufferedStart, other.BufferedEnd) {
			continue
		}
		if other.ProviderID == a.ProviderID {
			return ErrInvariantViolation
		}
		for _, rid := range a.ResourceIDs {
			if other.hasResource(rid) {
				return ErrInvariantViolation
			}
		}
	}
	return nil
}

func (r *MemoryRepository) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.appointments[a.ID]; exists {
		return nil, ErrDuplicateOccurrence
	}
	now := r.now()
	a = cloneAppointment(a)
	a.CreatedAt, a.UpdatedAt = now, now
	a.Version = 1
	if err := r.checkInvariant(&a); err != nil {
		return nil, err
	}
	r.appointments[a.ID] = a
	if a.Override {
		for _, id := range a.OverriddenIDs {
			if other, ok := r.appointments[id]; ok {
				other.Override = true
				other.UpdatedAt = now
				r.appointments[id] = other
			}
		}
	}
	out := cloneAppointment(a)
	return &out, nil
}

func (r *MemoryRepository) UpdateSchedule(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if cur.Version != a.Version {
		return nil, ErrStaleAppointment
	}
	a = cloneAppointment(a)
	a.Version = cur.Version + 1
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = r.now()
	if err := r.checkInvariant(&a); err != nil {
		return nil, err
	}
	r.appointments[a.ID] = a
	if a.Override {
		for _, id := range a.OverriddenIDs {
			if other, ok := r.appointments[id]; ok {
				other.Override = true
				r.appointments[id] = other
			}
		}
	}
	out := cloneAppointment(a)
	return &out, nil
}

func (r *MemoryRepository) ClearOverride(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	next := cloneAppointment(cur)
	next.Override, next.OverriddenIDs = false, nil
	if err := r.checkInvariant(&next); err != nil {
		return nil, err
	}
	next.Version++
	next.UpdatedAt = r.now()
	r.appointments[id] = next
	out := cloneAppointment(next)
	return &out, nil
}

func (r *MemoryRepository) updateStatusLocked(id uuid.UUID, from, to Status, reason string) (*Appointment, error) {
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if reason != "" {
		a.CancelReason = reason
	}
	a.Version++
	a.UpdatedAt = r.now()
	r.appointments[id] = a
	out := cloneAppointment(a)
	return &out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateStatusLocked(id, from, to, "")
}

func (r *MemoryRepository) CloseWithCancellation(_ context.Context, id uuid.UUID, from, to Status, rec CancellationRecord) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.cancellations[id]; exists {
		return nil, ErrStaleAppointment
	}
	a, err := r.updateStatusLocked(id, from, to, rec.Reason)
	if err != nil {
		return nil, err
	}
	now := r.now()
	rec.AppointmentID = id
	rec.CreatedAt, rec.UpdatedAt = now, now
	r.cancellations[id] = rec
	return a, nil
}

func (r *MemoryRepository) GetCancellation(_ context.Context, appointmentID uuid.UUID) (*CancellationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.cancellations[appointmentID]
	if !ok {
		return nil, ErrCancellationNotFound
	}
	return &rec, nil
}

func (r *MemoryRepository) ListCancellationsByPatient(_ context.Context, patientID uuid.UUID) ([]CancellationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []CancellationRecord
	for _, rec := range r.cancellations {
		if rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateRecovery(_ context.Context, appointmentID uuid.UUID, from, to RecoveryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.cancellations[appointmentID]
	if !ok || rec.Recovery != from {
		return ErrCancellationNotFound
	}
	rec.Recovery = to
	rec.UpdatedAt = r.now()
	r.cancellations[appointmentID] = rec
	return nil
}

func (r *MemoryRepository) MarkUnrecoveredBefore(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rec := range r.cancellations {
		a, ok := r.appointments[id]
		if !ok || rec.Recovery != RecoveryPending || !a.Start.Before(before) {
			continue
		}
		rec.Recovery = RecoveryUnrecovered
		rec.UpdatedAt = r.now()
		r.cancellations[id] = rec
		n++
	}
	return n, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns the logged events in insertion order.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

// AllAppointments returns every stored appointment ordered by start.
func (r *MemoryRepository) AllAppointments() []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(*Appointment) bool { return true })
}
