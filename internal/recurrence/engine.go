package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/scheduling-core/internal/appointment"
	"github.com/hackgods/scheduling-core/internal/batch"
	"github.com/hackgods/scheduling-core/internal/observability/metrics"
)

// Booker is the slice of the appointment service the engine drives.
type Booker interface {
	Create(ctx context.Context, req appointment.CreateRequest) (*appointment.Appointment, error)
	CreateNeedsAttention(ctx context.Context, req appointment.CreateRequest, cause error) (*appointment.Appointment, error)
	ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, req appointment.CancelRequest) (*appointment.Appointment, error)
}

const seriesCancelReason = "series cancelled"

type Engine struct {
	repo    Repository
	booker  Booker
	horizon time.Duration
	logger  zerolog.Logger
	metrics *metrics.SchedulingMetrics
	now     func() time.Time
}

func NewEngine(repo Repository, booker Booker, horizon time.Duration, logger zerolog.Logger, m *metrics.SchedulingMetrics) *Engine {
	return &Engine{
		repo:    repo,
		booker:  booker,
		horizon: horizon,
		logger:  logger.With().Str("component", "recurrence-engine").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// GenerateReport summarises one generation pass over a series.
type GenerateReport struct {
	SeriesID  uuid.UUID `json:"series_id"`
	Generated int       `json:"generated"`
	Flagged   int       `json:"flagged"`
	Skipped   int       `json:"skipped"`
	Completed bool      `json:"completed"`
}

func (e *Engine) CreateSeries(ctx context.Context, s Series) (*Series, error) {
	if s.PatientID == uuid.Nil || s.ProviderID == uuid.Nil || s.AppointmentTypeID == uuid.Nil {
		return nil, ErrMissingSeriesRef
	}
	if err := s.Normalize(); err != nil {
		return nil, err
	}
	s.ID = uuid.New()
	s.Status = StatusActive
	s.GeneratedCount = 0
	s.ResumedAt = nil

	created, err := e.repo.Create(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("create series: %w", err)
	}
	e.logger.Info().
		Str("series_id", created.ID.String()).
		Str("frequency", string(created.Pattern.Frequency)).
		Int("max_occurrences", created.MaxOccurrences).
		Msg("series created")
	return created, nil
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Series, error) {
	return e.repo.Get(ctx, id)
}

func (e *Engine) ListActive(ctx context.Context) ([]Series, error) {
	return e.repo.ListByStatus(ctx, StatusActive)
}

// Generate materialises the series' occurrences up to the horizon. Each
// position advances the cursor exactly once, so rerunning is a no-op and
// positions that were skipped or detached are never recreated.
func (e *Engine) Generate(ctx context.Context, id uuid.UUID) (*GenerateReport, error) {
	s, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusActive {
		return nil, ErrSeriesNotActive
	}

	now := e.now()
	occurrences, exhausted, err := s.Expand(now.Add(e.horizon))
	if err != nil {
		return nil, err
	}

	report := &GenerateReport{SeriesID: s.ID}
	log := e.logger.With().Str("series_id", s.ID.String()).Logger()

	for _, occ := range occurrences {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if occ.Start.Before(now) || (s.ResumedAt != nil && occ.Start.Before(*s.ResumedAt)) {
			report.Skipped++
		} else {
			flagged, err := e.book(ctx, s, occ)
			if err != nil {
				return report, fmt.Errorf("generate occurrence %d: %w", occ.Index, err)
			}
			report.Generated++
			if flagged {
				report.Flagged++
			}
		}

		if err := e.repo.AdvanceCursor(ctx, s.ID, occ.Index, occ.Index+1); err != nil {
			if errors.Is(err, ErrCursorMoved) {
				log.Warn().Int("index", occ.Index).Msg("cursor moved by another run; stopping")
				return report, nil
			}
			return report, fmt.Errorf("advance cursor: %w", err)
		}
		s.GeneratedCount = occ.Index + 1
	}

	if exhausted {
		if _, err := e.repo.UpdateStatus(ctx, s.ID, StatusActive, StatusCompleted, nil); err != nil {
			if !errors.Is(err, ErrInvalidSeriesOp) {
				return report, fmt.Errorf("complete series: %w", err)
			}
		} else {
			report.Completed = true
		}
	}

	if report.Generated > 0 || report.Completed {
		log.Info().
			Int("generated", report.Generated).
			Int("flagged", report.Flagged).
			Int("skipped", report.Skipped).
			Bool("completed", report.Completed).
			Msg("series generated")
	}
	return report, nil
}

// book creates one occurrence. A conflicting slot is kept as NEEDS_ATTENTION
// rather than dropped.
func (e *Engine) book(ctx context.Context, s *Series, occ Occurrence) (flagged bool, err error) {
	seriesID := s.ID
	index := occ.Index
	req := appointment.CreateRequest{
		PatientID:         s.PatientID,
		ProviderID:        s.ProviderID,
		ResourceIDs:       s.ResourceIDs,
		AppointmentTypeID: s.AppointmentTypeID,
		Start:             occ.Start,
		Source:            appointment.SourceRecurrence,
		SeriesID:          &seriesID,
		SeriesIndex:       &index,
		FlagConflicts:     true,
	}

	created, err := e.booker.Create(ctx, req)
	switch {
	case err == nil:
		return created.NeedsAttention(), nil
	case errors.Is(err, appointment.ErrDuplicateOccurrence):
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	}

	e.logger.Warn().Err(err).
		Str("series_id", s.ID.String()).
		Int("index", occ.Index).
		Msg("occurrence could not be booked; flagging for attention")

	if _, ferr := e.booker.CreateNeedsAttention(ctx, req, err); ferr != nil {
		if errors.Is(ferr, appointment.ErrDuplicateOccurrence) {
			return false, nil
		}
		return false, errors.Join(err, ferr)
	}
	return true, nil
}

func (e *Engine) Pause(ctx context.Context, id uuid.UUID) (*Series, error) {
	s, err := e.repo.UpdateStatus(ctx, id, StatusActive, StatusPaused, nil)
	if err != nil {
		return nil, e.statusError(ctx, id, err)
	}
	e.logger.Info().Str("series_id", id.String()).Msg("series paused")
	return s, nil
}

// Resume reactivates a paused series. Positions that fell inside the pause
// are skipped on the next generation, not backfilled.
func (e *Engine) Resume(ctx context.Context, id uuid.UUID) (*Series, error) {
	now := e.now()
	s, err := e.repo.UpdateStatus(ctx, id, StatusPaused, StatusActive, &now)
	if err != nil {
		return nil, e.statusError(ctx, id, err)
	}
	e.logger.Info().Str("series_id", id.String()).Msg("series resumed")
	return s, nil
}

// Cancel ends the series and cancels its future attached occurrences.
// Detached occurrences belong to the patient's normal schedule and stay.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*Series, error) {
	current, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusActive && current.Status != StatusPaused {
		return nil, ErrInvalidSeriesOp
	}
	s, err := e.repo.UpdateStatus(ctx, id, current.Status, StatusCancelled, nil)
	if err != nil {
		return nil, err
	}

	appts, err := e.booker.ListBySeries(ctx, id)
	if err != nil {
		return s, fmt.Errorf("list series occurrences: %w", err)
	}
	now := e.now()
	var errs []error
	for _, a := range appts {
		if a.Status.Terminal() || !a.Start.After(now) {
			continue
		}
		_, err := e.booker.Cancel(ctx, a.ID, appointment.CancelRequest{
			Reason: seriesCancelReason,
			Type:   appointment.CancellationPracticeInitiated,
		})
		if err != nil && !errors.Is(err, appointment.ErrInvalidTransition) {
			errs = append(errs, fmt.Errorf("cancel occurrence %s: %w", a.ID, err))
		}
	}
	e.logger.Info().Str("series_id", id.String()).Int("occurrences", len(appts)).Msg("series cancelled")
	return s, errors.Join(errs...)
}

func (e *Engine) statusError(ctx context.Context, id uuid.UUID, err error) error {
	if errors.Is(err, ErrInvalidSeriesOp) {
		if _, gerr := e.repo.Get(ctx, id); errors.Is(gerr, ErrSeriesNotFound) {
			return ErrSeriesNotFound
		}
	}
	return err
}

// RunBatch generates every active series. One failing series does not stop
// the others; the result's exit code reports partial failure.
func (e *Engine) RunBatch(ctx context.Context) *batch.Result {
	res := batch.NewResult("recurrence")
	series, err := e.repo.ListByStatus(ctx, StatusActive)
	if err != nil {
		res.Abort(fmt.Errorf("list active series: %w", err))
		return res
	}

	for _, s := range series {
		if ctx.Err() != nil {
			res.Abort(ctx.Err())
			return res
		}
		if _, err := e.Generate(ctx, s.ID); err != nil && !errors.Is(err, ErrSeriesNotActive) {
			e.metrics.ObserveBatchItem("recurrence", "failed")
			e.logger.Error().Err(err).Str("series_id", s.ID.String()).Msg("series generation failed")
			res.Failed(s.ID.String(), err)
			continue
		}
		e.metrics.ObserveBatchItem("recurrence", "ok")
		res.Succeeded()
	}
	return res
}
