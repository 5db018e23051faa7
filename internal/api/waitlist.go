package api

import (
	"net/http"

	"github.com/hackgods/scheduling-core/internal/waitlist"
)

func (h *handlers) createWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateWaitlistEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.waitlist.CreateEntry(r.Context(), waitlist.CreateEntryRequest{
		PatientID:         req.PatientID,
		ProviderID:        req.ProviderID,
		AppointmentTypeID: req.AppointmentTypeID,
		Windows:           req.Windows,
		Priority:          waitlist.Priority(req.Priority),
		ExpiresAt:         req.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handlers) getWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.waitlist.GetEntry(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handlers) listWaitlistEntries(w http.ResponseWriter, r *http.Request) {
	patientID, ok, err := uuidQuery(r, "patient_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, r, badRequest("patient_id is required"))
		return
	}
	entries, err := h.waitlist.ListEntries(r.Context(), patientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []waitlist.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) cancelWaitlistEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.waitlist.CancelEntry(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handlers) pendingOffers(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offers, err := h.waitlist.PendingOffers(r.Context(), patientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if offers == nil {
		offers = []waitlist.Offer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

// acceptOffer books the held slot. A slot taken in the meantime surfaces
// as a 409 with the conflicts.
func (h *handlers) acceptOffer(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.waitlist.Accept(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) declineOffer(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offer, err := h.waitlist.Decline(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}
