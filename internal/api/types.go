package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-core/internal/appointment"
	"github.com/hackgods/scheduling-core/internal/recurrence"
	"github.com/hackgods/scheduling-core/internal/risk"
	"github.com/hackgods/scheduling-core/internal/waitlist"
)

type CreateAppointmentRequest struct {
	PatientID         uuid.UUID   `json:"patient_id"`
	ProviderID        uuid.UUID   `json:"provider_id"`
	ResourceIDs       []uuid.UUID `json:"resource_ids"`
	AppointmentTypeID uuid.UUID   `json:"appointment_type_id"`
	Start             time.Time   `json:"start"`
	End               *time.Time  `json:"end,omitempty"`
	Source            string      `json:"source"`
	Override          bool        `json:"override"`
	// WaitlistOnConflict queues the patient when the slot is taken.
	WaitlistOnConflict bool `json:"waitlist_on_conflict"`
}

type RescheduleRequest struct {
	Start       time.Time    `json:"start"`
	End         *time.Time   `json:"end,omitempty"`
	ProviderID  *uuid.UUID   `json:"provider_id,omitempty"`
	ResourceIDs *[]uuid.UUID `json:"resource_ids,omitempty"`
	Override    bool         `json:"override"`
}

type TransitionRequest struct {
	Event string `json:"event"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
	Type   string `json:"type,omitempty"`
}

type AppointmentResponse struct {
	ID                uuid.UUID   `json:"id"`
	PatientID         uuid.UUID   `json:"patient_id"`
	ProviderID        uuid.UUID   `json:"provider_id"`
	ResourceIDs       []uuid.UUID `json:"resource_ids"`
	AppointmentTypeID uuid.UUID   `json:"appointment_type_id"`
	Start             time.Time   `json:"start"`
	End               time.Time   `json:"end"`
	Status            string      `json:"status"`
	SubStatus         string      `json:"sub_status,omitempty"`
	Source            string      `json:"source"`
	SeriesID          *uuid.UUID  `json:"series_id,omitempty"`
	SeriesIndex       *int        `json:"series_index,omitempty"`
	Override          bool        `json:"override"`
	OverriddenIDs     []uuid.UUID `json:"overridden_ids,omitempty"`
	CancelReason      string      `json:"cancel_reason,omitempty"`
	Version           int         `json:"version"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resources := a.ResourceIDs
	if resources == nil {
		resources = []uuid.UUID{}
	}
	return AppointmentResponse{
		ID:                a.ID,
		PatientID:         a.PatientID,
		ProviderID:        a.ProviderID,
		ResourceIDs:       resources,
		AppointmentTypeID: a.AppointmentTypeID,
		Start:             a.Start,
		End:               a.End,
		Status:            string(a.Status),
		SubStatus:         string(a.SubStatus),
		Source:            string(a.Source),
		SeriesID:          a.SeriesID,
		SeriesIndex:       a.SeriesIndex,
		Override:          a.Override,
		OverriddenIDs:     a.OverriddenIDs,
		CancelReason:      a.CancelReason,
		Version:           a.Version,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, len(appts))
	for i := range appts {
		out[i] = toAppointmentResponse(&appts[i])
	}
	return out
}

// WaitlistedResponse is returned with 202 when a conflicting booking was
// queued on the waitlist instead.
type WaitlistedResponse struct {
	Conflicts     appointment.ConflictList `json:"conflicts"`
	WaitlistEntry *waitlist.Entry          `json:"waitlist_entry"`
}

// AppointmentTypeRequest carries durations in minutes.
type AppointmentTypeRequest struct {
	Name               string   `json:"name"`
	Color              string   `json:"color"`
	DurationMinutes    int      `json:"duration_minutes"`
	PreBufferMinutes   int      `json:"pre_buffer_minutes"`
	PostBufferMinutes  int      `json:"post_buffer_minutes"`
	ResourceCategories []string `json:"resource_categories"`
}

func (r AppointmentTypeRequest) toModel(id uuid.UUID) appointment.AppointmentType {
	return appointment.AppointmentType{
		ID:                 id,
		Name:               r.Name,
		Color:              r.Color,
		Duration:           time.Duration(r.DurationMinutes) * time.Minute,
		PreBuffer:          time.Duration(r.PreBufferMinutes) * time.Minute,
		PostBuffer:         time.Duration(r.PostBufferMinutes) * time.Minute,
		ResourceCategories: r.ResourceCategories,
	}
}

type AppointmentTypeResponse struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Color              string    `json:"color"`
	DurationMinutes    int       `json:"duration_minutes"`
	PreBufferMinutes   int       `json:"pre_buffer_minutes"`
	PostBufferMinutes  int       `json:"post_buffer_minutes"`
	ResourceCategories []string  `json:"resource_categories"`
}

func toTypeResponse(t *appointment.AppointmentType) AppointmentTypeResponse {
	cats := t.ResourceCategories
	if cats == nil {
		cats = []string{}
	}
	return AppointmentTypeResponse{
		ID:                 t.ID,
		Name:               t.Name,
		Color:              t.Color,
		DurationMinutes:    int(t.Duration / time.Minute),
		PreBufferMinutes:   int(t.PreBuffer / time.Minute),
		PostBufferMinutes:  int(t.PostBuffer / time.Minute),
		ResourceCategories: cats,
	}
}

type ProviderBlockRequest struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason"`
}

type ProviderBlockResponse struct {
	ID         uuid.UUID `json:"id"`
	ProviderID uuid.UUID `json:"provider_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `json:"reason,omitempty"`
}

func toBlockResponse(b *appointment.ProviderBlock) ProviderBlockResponse {
	return ProviderBlockResponse{ID: b.ID, ProviderID: b.ProviderID, Start: b.Start, End: b.End, Reason: b.Reason}
}

type CreateSeriesRequest struct {
	PatientID         uuid.UUID          `json:"patient_id"`
	ProviderID        uuid.UUID          `json:"provider_id"`
	ResourceIDs       []uuid.UUID        `json:"resource_ids"`
	AppointmentTypeID uuid.UUID          `json:"appointment_type_id"`
	Pattern           recurrence.Pattern `json:"pattern"`
	StartAt           time.Time          `json:"start_at"`
	TimeZone          string             `json:"time_zone"`
	EndDate           *time.Time         `json:"end_date,omitempty"`
	MaxOccurrences    int                `json:"max_occurrences"`
}

type SeriesResponse struct {
	ID                uuid.UUID          `json:"id"`
	PatientID         uuid.UUID          `json:"patient_id"`
	ProviderID        uuid.UUID          `json:"provider_id"`
	ResourceIDs       []uuid.UUID        `json:"resource_ids"`
	AppointmentTypeID uuid.UUID          `json:"appointment_type_id"`
	Pattern           recurrence.Pattern `json:"pattern"`
	StartAt           time.Time          `json:"start_at"`
	TimeZone          string             `json:"time_zone"`
	EndDate           *time.Time         `json:"end_date,omitempty"`
	MaxOccurrences    int                `json:"max_occurrences"`
	GeneratedCount    int                `json:"generated_count"`
	Status            string             `json:"status"`
	ResumedAt         *time.Time         `json:"resumed_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

func toSeriesResponse(s *recurrence.Series) SeriesResponse {
	resources := s.ResourceIDs
	if resources == nil {
		resources = []uuid.UUID{}
	}
	return SeriesResponse{
		ID:                s.ID,
		PatientID:         s.PatientID,
		ProviderID:        s.ProviderID,
		ResourceIDs:       resources,
		AppointmentTypeID: s.AppointmentTypeID,
		Pattern:           s.Pattern,
		StartAt:           s.StartAt,
		TimeZone:          s.TimeZone,
		EndDate:           s.EndDate,
		MaxOccurrences:    s.MaxOccurrences,
		GeneratedCount:    s.GeneratedCount,
		Status:            string(s.Status),
		ResumedAt:         s.ResumedAt,
		CreatedAt:         s.CreatedAt,
	}
}

type CreateWaitlistEntryRequest struct {
	PatientID         uuid.UUID         `json:"patient_id"`
	ProviderID        *uuid.UUID        `json:"provider_id,omitempty"`
	AppointmentTypeID *uuid.UUID        `json:"appointment_type_id,omitempty"`
	Windows           []waitlist.Window `json:"windows"`
	Priority          string            `json:"priority"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
}

type HistoryResponse struct {
	PatientID     uuid.UUID              `json:"patient_id"`
	Appointments  []AppointmentResponse  `json:"appointments"`
	Cancellations []CancellationResponse `json:"cancellations"`
}

type CancellationResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Type          string    `json:"type"`
	Reason        string    `json:"reason,omitempty"`
	Recovery      string    `json:"recovery"`
	CreatedAt     time.Time `json:"created_at"`
}

func toHistoryResponse(h *appointment.History) HistoryResponse {
	out := HistoryResponse{
		PatientID:     h.PatientID,
		Appointments:  toAppointmentResponses(h.Appointments),
		Cancellations: make([]CancellationResponse, len(h.Cancellations)),
	}
	for i, c := range h.Cancellations {
		out.Cancellations[i] = CancellationResponse{
			ID:            c.ID,
			AppointmentID: c.AppointmentID,
			Type:          string(c.Type),
			Reason:        c.Reason,
			Recovery:      string(c.Recovery),
			CreatedAt:     c.CreatedAt,
		}
	}
	return out
}

type RiskResponse struct {
	PatientID  uuid.UUID    `json:"patient_id"`
	Score      float64      `json:"score"`
	Level      risk.Level   `json:"level"`
	Factors    risk.Factors `json:"factors"`
	ComputedAt time.Time    `json:"computed_at"`
}

type ErrorResponse struct {
	Error     string                   `json:"error"`
	Details   string                   `json:"details,omitempty"`
	Conflicts appointment.ConflictList `json:"conflicts,omitempty"`
}
