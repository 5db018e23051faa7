package recurrence

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MaxOccurrencesCap bounds every series regardless of its end date.
const MaxOccurrencesCap = 52

var (
	ErrSeriesNotFound   = errors.New("recurring series not found")
	ErrInvalidPattern   = errors.New("invalid recurrence pattern")
	ErrSeriesNotActive  = errors.New("recurring series is not active")
	ErrInvalidSeriesOp  = errors.New("operation not allowed in the series' current status")
	ErrCursorMoved      = errors.New("series cursor moved concurrently")
	ErrUnknownTimeZone  = errors.New("unknown time zone")
	ErrMissingSeriesRef = errors.New("patient, provider and appointment type are required")
)

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// LastWeek selects the last matching weekday of a month.
const LastWeek = -1

// Pattern describes which days a series lands on. Weekly patterns use
// DaysOfWeek; monthly patterns use either DayOfMonth or WeekOfMonth with a
// single weekday in DaysOfWeek.
type Pattern struct {
	Frequency   Frequency      `json:"frequency"`
	Interval    int            `json:"interval"`
	DaysOfWeek  []time.Weekday `json:"days_of_week,omitempty"`
	DayOfMonth  int            `json:"day_of_month,omitempty"`
	WeekOfMonth int            `json:"week_of_month,omitempty"`
}

// Series owns only its pattern, bounds and generation cursor. Generated
// appointments point back at it by ID.
type Series struct {
	ID                uuid.UUID
	PatientID         uuid.UUID
	ProviderID        uuid.UUID
	ResourceIDs       []uuid.UUID
	AppointmentTypeID uuid.UUID
	Pattern           Pattern
	// StartAt is the earliest occurrence and fixes the local time of day.
	StartAt        time.Time
	TimeZone       string
	EndDate        *time.Time
	MaxOccurrences int
	// GeneratedCount is the number of pattern positions already consumed,
	// whether they produced an appointment or were skipped.
	GeneratedCount int
	ResumedAt      *time.Time
	Status         Status
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Occurrence is one pattern position. Index is zero-based.
type Occurrence struct {
	Index int
	Start time.Time
}
