package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-core/internal/appointment"
	"github.com/hackgods/scheduling-core/internal/recurrence"
	"github.com/hackgods/scheduling-core/internal/risk"
	"github.com/hackgods/scheduling-core/internal/waitlist"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

type errorMapping struct {
	target error
	status int
	code   string
}

// errorTable is walked in order; the first errors.Is match wins.
var errorTable = []errorMapping{
	{errBadRequest, http.StatusBadRequest, "bad_request"},

	{appointment.ErrConflict, http.StatusConflict, "conflict"},
	{appointment.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
	{appointment.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{appointment.ErrStaleAppointment, http.StatusConflict, "stale_appointment"},
	{appointment.ErrNeedsAttention, http.StatusConflict, "needs_attention"},
	{appointment.ErrTypeInUse, http.StatusConflict, "type_in_use"},
	{appointment.ErrDuplicateOccurrence, http.StatusConflict, "duplicate_occurrence"},
	{recurrence.ErrSeriesNotActive, http.StatusConflict, "series_not_active"},
	{recurrence.ErrInvalidSeriesOp, http.StatusConflict, "invalid_series_operation"},
	{recurrence.ErrCursorMoved, http.StatusConflict, "series_busy"},
	{waitlist.ErrOfferNotPending, http.StatusConflict, "offer_not_pending"},
	{waitlist.ErrOfferExpired, http.StatusConflict, "offer_expired"},
	{waitlist.ErrEntryNotCancelable, http.StatusConflict, "entry_not_cancelable"},
	{waitlist.ErrEntryStateChanged, http.StatusConflict, "entry_state_changed"},

	{appointment.ErrAppointmentNotFound, http.StatusNotFound, "appointment_not_found"},
	{appointment.ErrTypeNotFound, http.StatusNotFound, "appointment_type_not_found"},
	{recurrence.ErrSeriesNotFound, http.StatusNotFound, "series_not_found"},
	{waitlist.ErrEntryNotFound, http.StatusNotFound, "waitlist_entry_not_found"},
	{waitlist.ErrOfferNotFound, http.StatusNotFound, "offer_not_found"},
	{risk.ErrSnapshotNotFound, http.StatusNotFound, "risk_snapshot_not_found"},

	{appointment.ErrInvalidInterval, http.StatusBadRequest, "invalid_interval"},
	{appointment.ErrMissingResources, http.StatusBadRequest, "missing_resources"},
	{appointment.ErrMissingParticipant, http.StatusBadRequest, "missing_participant"},
	{appointment.ErrInvalidSource, http.StatusBadRequest, "invalid_source"},
	{appointment.ErrReasonRequired, http.StatusBadRequest, "reason_required"},
	{appointment.ErrInvalidCancellationType, http.StatusBadRequest, "invalid_cancellation_type"},
	{appointment.ErrInvalidType, http.StatusBadRequest, "invalid_appointment_type"},
	{recurrence.ErrInvalidPattern, http.StatusBadRequest, "invalid_pattern"},
	{recurrence.ErrUnknownTimeZone, http.StatusBadRequest, "unknown_time_zone"},
	{recurrence.ErrMissingSeriesRef, http.StatusBadRequest, "missing_series_reference"},
	{waitlist.ErrInvalidPriority, http.StatusBadRequest, "invalid_priority"},
	{waitlist.ErrInvalidWindow, http.StatusBadRequest, "invalid_window"},
	{waitlist.ErrMissingPatient, http.StatusBadRequest, "missing_patient"},

	{appointment.ErrInvariantViolation, http.StatusInternalServerError, "invariant_violation"},
}

func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: code, Details: err.Error()}

	var conflict *appointment.ConflictError
	if errors.As(err, &conflict) {
		resp.Conflicts = conflict.Conflicts
	}

	var ev *zerolog.Event
	if status >= http.StatusInternalServerError {
		ev = h.logger.Error().Err(err)
		// Internal details stay in the log.
		if code == "internal_error" {
			resp.Details = ""
		}
	} else {
		ev = h.logger.Debug().Str("reason", err.Error())
	}
	ev.Str("request_id", GetRequestID(r.Context())).Str("code", code).Msg("request failed")

	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func uuidQuery(r *http.Request, name string) (uuid.UUID, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, badRequest("invalid %s %q", name, raw)
	}
	return id, true, nil
}

func timeQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, badRequest("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, badRequest("invalid %s %q", name, raw)
	}
	return t, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return n, nil
}
