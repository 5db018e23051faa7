package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OverlapQuery selects occupying appointments whose buffered interval
// intersects [From, To) and that share the provider, the patient or any of
// the resources.
type OverlapQuery struct {
	ProviderID  uuid.UUID
	PatientID   uuid.UUID
	ResourceIDs []uuid.UUID
	From        time.Time
	To          time.Time
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Appointment types
	GetType(ctx context.Context, id uuid.UUID) (*AppointmentType, error)
	ListTypes(ctx context.Context) ([]AppointmentType, error)
	InsertType(ctx context.Context, t AppointmentType) (*AppointmentType, error)
	UpdateType(ctx context.Context, t AppointmentType) (*AppointmentType, error)
	CountByType(ctx context.Context, typeID uuid.UUID) (int, error)

	// Reads
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]Appointment, error)
	PatientTimeline(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListPatientIDs(ctx context.Context) ([]uuid.UUID, error)

	// For conflict checks
	FindOverlapping(ctx context.Context, q OverlapQuery) ([]Appointment, error)
	ListProviderBlocks(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]ProviderBlock, error)
	InsertProviderBlock(ctx context.Context, b ProviderBlock) (*ProviderBlock, error)

	// Writes. InsertAppointment also flags a.OverriddenIDs when a.Override
	// is set. Overlaps that reach the store fail with ErrInvariantViolation.
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateSchedule(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	// ClearOverride returns a flagged row to the no-overlap constraint.
	ClearOverride(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CloseWithCancellation(ctx context.Context, id uuid.UUID, from, to Status, rec CancellationRecord) (*Appointment, error)

	// Cancellation records
	GetCancellation(ctx context.Context, appointmentID uuid.UUID) (*CancellationRecord, error)
	ListCancellationsByPatient(ctx context.Context, patientID uuid.UUID) ([]CancellationRecord, error)
	UpdateRecovery(ctx context.Context, appointmentID uuid.UUID, from, to RecoveryStatus) error
	MarkUnrecoveredBefore(ctx context.Context, before time.Time) (int, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
