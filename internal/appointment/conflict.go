package appointment

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Dimension names the constraint a candidate collides on.
type Dimension string

const (
	DimensionProvider            Dimension = "PROVIDER"
	DimensionResource            Dimension = "RESOURCE"
	DimensionPatientDoubleBook   Dimension = "PATIENT_DOUBLE_BOOK"
	DimensionProviderUnavailable Dimension = "PROVIDER_UNAVAILABLE"
)

var dimensionOrder = map[Dimension]int{
	DimensionProvider:            0,
	DimensionResource:            1,
	DimensionPatientDoubleBook:   2,
	DimensionProviderUnavailable: 3,
}

// Conflict is one violated dimension. RESOURCE conflicts are reported once
// per colliding resource.
type Conflict struct {
	Dimension      Dimension   `json:"dimension"`
	ResourceID     *uuid.UUID  `json:"resource_id,omitempty"`
	AppointmentIDs []uuid.UUID `json:"appointment_ids,omitempty"`
	BlockIDs       []uuid.UUID `json:"block_ids,omitempty"`
}

type ConflictList []Conflict

func (l ConflictList) Has(d Dimension) bool {
	for _, c := range l {
		if c.Dimension == d {
			return true
		}
	}
	return false
}

// AppointmentIDs returns every colliding appointment once, in first-seen order.
func (l ConflictList) AppointmentIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, c := range l {
		for _, id := range c.AppointmentIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Candidate is a proposed booking. ExcludeID skips the appointment being
// rescheduled.
type Candidate struct {
	PatientID         uuid.UUID
	ProviderID        uuid.UUID
	ResourceIDs       []uuid.UUID
	AppointmentTypeID uuid.UUID
	Start             time.Time
	End               time.Time
	ExcludeID         *uuid.UUID
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// collides reports whether two occupying rows share a dimension and their
// buffered intervals intersect.
func collides(a, b *Appointment) bool {
	if a.ID == b.ID || !a.Occupying() || !b.Occupying() {
		return false
	}
	if !overlaps(a.BufferedStart, a.BufferedEnd, b.BufferedStart, b.BufferedEnd) {
		return false
	}
	if a.ProviderID == b.ProviderID || a.PatientID == b.PatientID {
		return true
	}
	for _, rid := range a.ResourceIDs {
		if b.hasResource(rid) {
			return true
		}
	}
	return false
}

// Detect compares the buffered candidate against existing appointments and
// provider blocks. It does no I/O; callers load the neighbourhood first.
func Detect(c Candidate, typ *AppointmentType, existing []Appointment, blocks []ProviderBlock) ConflictList {
	start, end := typ.Buffered(c.Start, c.End)

	var (
		provider []Appointment
		patient  []Appointment
		resource = make(map[uuid.UUID][]Appointment)
	)
	for i := range existing {
		a := existing[i]
		if c.ExcludeID != nil && a.ID == *c.ExcludeID {
			continue
		}
		if !a.Occupying() || !overlaps(start, end, a.BufferedStart, a.BufferedEnd) {
			continue
		}
		if a.ProviderID == c.ProviderID {
			provider = append(provider, a)
		}
		if a.PatientID == c.PatientID {
			patient = append(patient, a)
		}
		for _, rid := range c.ResourceIDs {
			if a.hasResource(rid) {
				resource[rid] = append(resource[rid], a)
			}
		}
	}

	var out ConflictList
	if len(provider) > 0 {
		out = append(out, Conflict{Dimension: DimensionProvider, AppointmentIDs: idsByStart(provider)})
	}
	for rid, hits := range resource {
		out = append(out, Conflict{Dimension: DimensionResource, ResourceID: &rid, AppointmentIDs: idsByStart(hits)})
	}
	if len(patient) > 0 {
		out = append(out, Conflict{Dimension: DimensionPatientDoubleBook, AppointmentIDs: idsByStart(patient)})
	}

	var blocked []uuid.UUID
	for _, b := range blocks {
		if b.ProviderID == c.ProviderID && overlaps(start, end, b.Start, b.End) {
			blocked = append(blocked, b.ID)
		}
	}
	if len(blocked) > 0 {
		out = append(out, Conflict{Dimension: DimensionProviderUnavailable, BlockIDs: blocked})
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := dimensionOrder[out[i].Dimension], dimensionOrder[out[j].Dimension]
		if di != dj {
			return di < dj
		}
		if out[i].ResourceID != nil && out[j].ResourceID != nil {
			return bytes.Compare(out[i].ResourceID[:], out[j].ResourceID[:]) < 0
		}
		return false
	})
	return out
}

func idsByStart(appts []Appointment) []uuid.UUID {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].Start.Equal(appts[j].Start) {
			return appts[i].Start.Before(appts[j].Start)
		}
		return bytes.Compare(appts[i].ID[:], appts[j].ID[:]) < 0
	})
	ids := make([]uuid.UUID, len(appts))
	for i, a := range appts {
		ids[i] = a.ID
	}
	return ids
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
