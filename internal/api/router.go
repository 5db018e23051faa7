package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-core/internal/appointment"
	"github.com/hackgods/scheduling-core/internal/recurrence"
	"github.com/hackgods/scheduling-core/internal/risk"
	"github.com/hackgods/scheduling-core/internal/waitlist"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Series       *recurrence.Engine
	Waitlist     *waitlist.Matcher
	Risk         *risk.Scorer
	Health       *HealthHandler
	Metrics      http.Handler
	Logger       zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	h := &handlers{
		appointments: cfg.Appointments,
		series:       cfg.Series,
		waitlist:     cfg.Waitlist,
		risk:         cfg.Risk,
		logger:       cfg.Logger.With().Str("component", "api").Logger(),
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.createAppointment)
		r.Get("/", h.listAppointments)
		r.Get("/{id}", h.getAppointment)
		r.Post("/{id}/reschedule", h.rescheduleAppointment)
		r.Post("/{id}/transitions", h.transitionAppointment)
		r.Post("/{id}/cancel", h.cancelAppointment)
	})

	r.Route("/appointment-types", func(r chi.Router) {
		r.Post("/", h.createType)
		r.Get("/", h.listTypes)
		r.Get("/{id}", h.getType)
		r.Put("/{id}", h.updateType)
	})

	r.Post("/providers/{id}/blocks", h.addProviderBlock)
	r.Get("/providers/{id}/blocks", h.listProviderBlocks)

	r.Route("/series", func(r chi.Router) {
		r.Post("/", h.createSeries)
		r.Get("/{id}", h.getSeries)
		r.Post("/{id}/pause", h.pauseSeries)
		r.Post("/{id}/resume", h.resumeSeries)
		r.Post("/{id}/cancel", h.cancelSeries)
		r.Post("/{id}/generate", h.generateSeries)
	})

	r.Route("/waitlist", func(r chi.Router) {
		r.Post("/", h.createWaitlistEntry)
		r.Get("/", h.listWaitlistEntries)
		r.Get("/{id}", h.getWaitlistEntry)
		r.Delete("/{id}", h.cancelWaitlistEntry)
	})
	r.Post("/offers/{id}/accept", h.acceptOffer)
	r.Post("/offers/{id}/decline", h.declineOffer)

	r.Get("/patients/{id}/offers", h.pendingOffers)
	r.Get("/patients/{id}/history", h.patientHistory)
	r.Get("/patients/{id}/risk", h.patientRisk)

	return r
}

type handlers struct {
	appointments *appointment.Service
	series       *recurrence.Engine
	waitlist     *waitlist.Matcher
	risk         *risk.Scorer
	logger       zerolog.Logger
}
