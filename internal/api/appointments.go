package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-core/internal/appointment"
)

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	source := appointment.Source(req.Source)
	if source == "" {
		source = appointment.SourceFrontDesk
	}
	create := appointment.CreateRequest{
		PatientID:         req.PatientID,
		ProviderID:        req.ProviderID,
		ResourceIDs:       req.ResourceIDs,
		AppointmentTypeID: req.AppointmentTypeID,
		Start:             req.Start,
		Source:            source,
		Override:          req.Override,
	}
	if req.End != nil {
		create.End = *req.End
	}

	appt, err := h.appointments.Create(r.Context(), create)
	if err != nil {
		var conflict *appointment.ConflictError
		if req.WaitlistOnConflict && h.waitlist != nil && errors.As(err, &conflict) {
			entry, werr := h.waitlist.EnqueueFailedBooking(r.Context(), create)
			if werr != nil {
				h.writeError(w, r, werr)
				return
			}
			writeJSON(w, http.StatusAccepted, WaitlistedResponse{
				Conflicts:     conflict.Conflicts,
				WaitlistEntry: entry,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.appointments.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// listAppointments filters by patient_id (paged) or by provider_id with a
// from/to range.
func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	patientID, hasPatient, err := uuidQuery(r, "patient_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	providerID, hasProvider, err := uuidQuery(r, "provider_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var appts []appointment.Appointment
	switch {
	case hasPatient:
		limit, err := intQuery(r, "limit", 20)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		offset, err := intQuery(r, "offset", 0)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		appts, err = h.appointments.ListByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	case hasProvider:
		from, err := timeQuery(r, "from")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		to, err := timeQuery(r, "to")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		appts, err = h.appointments.ListByProvider(r.Context(), providerID, from, to)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	default:
		h.writeError(w, r, badRequest("patient_id or provider_id is required"))
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req RescheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	rr := appointment.RescheduleRequest{
		Start:       req.Start,
		ProviderID:  req.ProviderID,
		ResourceIDs: req.ResourceIDs,
		Override:    req.Override,
	}
	if req.End != nil {
		rr.End = *req.End
	}
	appt, err := h.appointments.Reschedule(r.Context(), id, rr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) transitionAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req TransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	ev, err := appointment.ParseEvent(req.Event)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ev == appointment.EventCancel {
		h.writeError(w, r, badRequest("use the cancel endpoint to cancel with a reason"))
		return
	}

	appt, err := h.appointments.Transition(r.Context(), id, ev)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.appointments.Cancel(r.Context(), id, appointment.CancelRequest{
		Reason: req.Reason,
		Type:   appointment.CancellationType(req.Type),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) patientHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hist, err := h.appointments.PatientHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryResponse(hist))
}

func (h *handlers) createType(w http.ResponseWriter, r *http.Request) {
	var req AppointmentTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.appointments.CreateType(r.Context(), req.toModel(uuid.Nil))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTypeResponse(t))
}

func (h *handlers) listTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.appointments.ListTypes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]AppointmentTypeResponse, len(types))
	for i := range types {
		out[i] = toTypeResponse(&types[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) getType(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.appointments.GetType(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTypeResponse(t))
}

func (h *handlers) updateType(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req AppointmentTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.appointments.UpdateType(r.Context(), req.toModel(id))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTypeResponse(t))
}

func (h *handlers) addProviderBlock(w http.ResponseWriter, r *http.Request) {
	providerID, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req ProviderBlockRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.appointments.AddProviderBlock(r.Context(), appointment.ProviderBlock{
		ProviderID: providerID,
		Start:      req.Start,
		End:        req.End,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockResponse(b))
}

func (h *handlers) listProviderBlocks(w http.ResponseWriter, r *http.Request) {
	providerID, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, err := timeQuery(r, "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := timeQuery(r, "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	blocks, err := h.appointments.ListProviderBlocks(r.Context(), providerID, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ProviderBlockResponse, len(blocks))
	for i := range blocks {
		out[i] = toBlockResponse(&blocks[i])
	}
	writeJSON(w, http.StatusOK, out)
}
