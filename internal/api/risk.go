package api

import "net/http"

func (h *handlers) patientRisk(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	get := h.risk.Snapshot
	if r.URL.Query().Get("refresh") == "true" {
		get = h.risk.Recompute
	}
	snap, err := get(r.Context(), patientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RiskResponse{
		PatientID:  snap.PatientID,
		Score:      snap.Score,
		Level:      h.risk.Level(snap.Score),
		Factors:    snap.Factors,
		ComputedAt: snap.ComputedAt,
	})
}
