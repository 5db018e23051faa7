package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// occupiesTime is true for every status whose interval is still a real
// commitment of the provider and resources.
func (s Status) occupiesTime() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

type SubStatus string

const (
	SubStatusNone           SubStatus = ""
	SubStatusNeedsAttention SubStatus = "NEEDS_ATTENTION"
)

type Source string

const (
	SourceFrontDesk  Source = "FRONT_DESK"
	SourceOnline     Source = "ONLINE"
	SourcePhone      Source = "PHONE"
	SourceRecurrence Source = "RECURRENCE"
	SourceWaitlist   Source = "WAITLIST"
)

func (s Source) Valid() bool {
	switch s {
	case SourceFrontDesk, SourceOnline, SourcePhone, SourceRecurrence, SourceWaitlist:
		return true
	}
	return false
}

type Appointment struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	ProviderID        uuid.UUID
	ResourceIDs       []uuid.UUID
	AppointmentTypeID uuid.UUID
	Start             time.Time
	End               time.Time
	BufferedStart     time.Time
	BufferedEnd       time.Time
	Status            Status
	SubStatus         SubStatus
	Source            Source
	SeriesID          *uuid.UUID
	SeriesIndex       *int
	Override          bool
	OverriddenIDs     []uuid.UUID
	CancelReason      string
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Occupying reports whether the appointment blocks its provider, resources
// and patient for conflict detection. Rows awaiting manual resolution do not.
func (a *Appointment) Occupying() bool {
	return a.Status.occupiesTime() && a.SubStatus == SubStatusNone
}

// Exclusive reports whether the row takes part in the stored no-overlap
// constraint. Overridden rows are excluded there but still detected.
func (a *Appointment) Exclusive() bool {
	return a.Occupying() && !a.Override
}

func (a *Appointment) NeedsAttention() bool {
	return a.SubStatus == SubStatusNeedsAttention
}

func (a *Appointment) hasResource(id uuid.UUID) bool {
	for _, r := range a.ResourceIDs {
		if r == id {
			return true
		}
	}
	return false
}

type AppointmentType struct {
	ID                 uuid.UUID
	Name               string
	Color              string
	Duration           time.Duration
	PreBuffer          time.Duration
	PostBuffer         time.Duration
	ResourceCategories []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Buffered widens [start,end) by the type's prep and cleanup time.
func (t *AppointmentType) Buffered(start, end time.Time) (time.Time, time.Time) {
	return start.Add(-t.PreBuffer), end.Add(t.PostBuffer)
}

func (t *AppointmentType) structurallyEqual(o *AppointmentType) bool {
	if t.Duration != o.Duration || t.PreBuffer != o.PreBuffer || t.PostBuffer != o.PostBuffer {
		return false
	}
	if len(t.ResourceCategories) != len(o.ResourceCategories) {
		return false
	}
	for i := range t.ResourceCategories {
		if t.ResourceCategories[i] != o.ResourceCategories[i] {
			return false
		}
	}
	return true
}

type CancellationType string

const (
	CancellationVoluntary         CancellationType = "VOLUNTARY"
	CancellationLate              CancellationType = "LATE"
	CancellationNoShow            CancellationType = "NO_SHOW"
	CancellationPracticeInitiated CancellationType = "PRACTICE_INITIATED"
)

type RecoveryStatus string

const (
	RecoveryPending     RecoveryStatus = "PENDING"
	RecoveryRecovered   RecoveryStatus = "RECOVERED"
	RecoveryUnrecovered RecoveryStatus = "UNRECOVERED"
)

// CancellationRecord is written whenever an appointment ends as CANCELLED
// or NO_SHOW. Recovery tracks whether the freed time was refilled.
type CancellationRecord struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	Type          CancellationType
	Reason        string
	Recovery      RecoveryStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProviderBlock is a stretch of time a provider cannot be booked (breaks,
// time off, meetings).
type ProviderBlock struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	Start      time.Time
	End        time.Time
	Reason     string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// History is everything the risk scorer needs to know about one patient.
type History struct {
	PatientID     uuid.UUID
	Appointments  []Appointment
	Cancellations []CancellationRecord
}
