package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/scheduling-core/internal/recurrence"
)

type GenerateResponse struct {
	Series    SeriesResponse `json:"series"`
	Generated int            `json:"generated"`
	Flagged   int            `json:"flagged"`
	Skipped   int            `json:"skipped"`
	Completed bool           `json:"completed"`
}

// createSeries stores the series and books its first window of occurrences.
func (h *handlers) createSeries(w http.ResponseWriter, r *http.Request) {
	var req CreateSeriesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.series.CreateSeries(r.Context(), recurrence.Series{
		PatientID:         req.PatientID,
		ProviderID:        req.ProviderID,
		ResourceIDs:       req.ResourceIDs,
		AppointmentTypeID: req.AppointmentTypeID,
		Pattern:           req.Pattern,
		StartAt:           req.StartAt,
		TimeZone:          req.TimeZone,
		EndDate:           req.EndDate,
		MaxOccurrences:    req.MaxOccurrences,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondGenerated(w, r, http.StatusCreated, s.ID)
}

func (h *handlers) generateSeries(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondGenerated(w, r, http.StatusOK, id)
}

func (h *handlers) respondGenerated(w http.ResponseWriter, r *http.Request, status int, id uuid.UUID) {
	report, err := h.series.Generate(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.series.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, GenerateResponse{
		Series:    toSeriesResponse(s),
		Generated: report.Generated,
		Flagged:   report.Flagged,
		Skipped:   report.Skipped,
		Completed: report.Completed,
	})
}

func (h *handlers) getSeries(w http.ResponseWriter, r *http.Request) {
	h.seriesOp(w, r, h.series.Get)
}

func (h *handlers) pauseSeries(w http.ResponseWriter, r *http.Request) {
	h.seriesOp(w, r, h.series.Pause)
}

func (h *handlers) resumeSeries(w http.ResponseWriter, r *http.Request) {
	h.seriesOp(w, r, h.series.Resume)
}

func (h *handlers) cancelSeries(w http.ResponseWriter, r *http.Request) {
	h.seriesOp(w, r, h.series.Cancel)
}

func (h *handlers) seriesOp(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*recurrence.Series, error)) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := op(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSeriesResponse(s))
}
