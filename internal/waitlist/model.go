package waitlist

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEntryNotFound      = errors.New("waitlist entry not found")
	ErrOfferNotFound      = errors.New("waitlist offer not found")
	ErrOfferNotPending    = errors.New("offer is no longer pending")
	ErrOfferExpired       = errors.New("offer hold has expired")
	ErrEntryStateChanged  = errors.New("waitlist entry changed concurrently")
	ErrEntryNotCancelable = errors.New("waitlist entry can no longer be cancelled")
	ErrInvalidPriority    = errors.New("invalid waitlist priority")
	ErrInvalidWindow      = errors.New("invalid time window")
	ErrMissingPatient     = errors.New("patient_id is required")
)

type Priority string

const (
	PriorityUrgent   Priority = "URGENT"
	PriorityHigh     Priority = "HIGH"
	PriorityStandard Priority = "STANDARD"
	PriorityFlexible Priority = "FLEXIBLE"
)

var priorityRanks = map[Priority]int{
	PriorityUrgent:   0,
	PriorityHigh:     1,
	PriorityStandard: 2,
	PriorityFlexible: 3,
}

// Rank orders priorities; lower is served first.
func (p Priority) Rank() int {
	if r, ok := priorityRanks[p]; ok {
		return r
	}
	return len(priorityRanks)
}

func (p Priority) Valid() bool {
	_, ok := priorityRanks[p]
	return ok
}

type EntryStatus string

const (
	EntryActive    EntryStatus = "ACTIVE"
	EntryNotified  EntryStatus = "NOTIFIED"
	EntryScheduled EntryStatus = "SCHEDULED"
	EntryExpired   EntryStatus = "EXPIRED"
	EntryCancelled EntryStatus = "CANCELLED"
)

type OfferStatus string

const (
	OfferPending     OfferStatus = "PENDING"
	OfferAccepted    OfferStatus = "ACCEPTED"
	OfferDeclined    OfferStatus = "DECLINED"
	OfferExpired     OfferStatus = "EXPIRED"
	OfferInvalidated OfferStatus = "INVALIDATED"
)

// Window is one acceptable slot shape. Minutes are minutes after local
// midnight; a zero LatestMinute means end of day. An empty Days set accepts
// every weekday.
type Window struct {
	Days           []time.Weekday `json:"days,omitempty"`
	EarliestMinute int            `json:"earliest_minute"`
	LatestMinute   int            `json:"latest_minute"`
	From           *time.Time     `json:"from,omitempty"`
	To             *time.Time     `json:"to,omitempty"`
}

type Entry struct {
	ID                uuid.UUID   `json:"id"`
	PatientID         uuid.UUID   `json:"patient_id"`
	ProviderID        *uuid.UUID  `json:"provider_id,omitempty"`
	AppointmentTypeID *uuid.UUID  `json:"appointment_type_id,omitempty"`
	Windows           []Window    `json:"windows"`
	Priority          Priority    `json:"priority"`
	Status            EntryStatus `json:"status"`
	OfferCount        int         `json:"offer_count"`
	// NeedsFollowUp is set when offer delivery exhausted its retries.
	NeedsFollowUp bool      `json:"needs_follow_up"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Opening is a freed slot, usually the footprint of a cancelled appointment.
type Opening struct {
	SourceAppointmentID uuid.UUID   `json:"source_appointment_id"`
	ProviderID          uuid.UUID   `json:"provider_id"`
	ResourceIDs         []uuid.UUID `json:"resource_ids"`
	AppointmentTypeID   uuid.UUID   `json:"appointment_type_id"`
	Start               time.Time   `json:"start"`
	End                 time.Time   `json:"end"`
}

type Offer struct {
	ID        uuid.UUID   `json:"id"`
	EntryID   uuid.UUID   `json:"entry_id"`
	PatientID uuid.UUID   `json:"patient_id"`
	Opening   Opening     `json:"opening"`
	Status    OfferStatus `json:"status"`
	ExpiresAt time.Time   `json:"expires_at"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
