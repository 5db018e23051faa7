package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/scheduling-core/internal/appointment"
	"github.com/hackgods/scheduling-core/internal/batch"
	"github.com/hackgods/scheduling-core/internal/events"
	"github.com/hackgods/scheduling-core/internal/observability/metrics"
)

var tracer = otel.Tracer("github.com/hackgods/scheduling-core/internal/risk")

// HistorySource supplies the per-patient lifecycle the score is built from.
type HistorySource interface {
	PatientHistory(ctx context.Context, patientID uuid.UUID) (*appointment.History, error)
	ListPatientIDs(ctx context.Context) ([]uuid.UUID, error)
}

type Options struct {
	Thresholds       Thresholds
	BaselineDays     int
	DecayConcurrency int
}

type Scorer struct {
	store   Store
	history HistorySource
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.SchedulingMetrics
	now     func() time.Time
	locks   *keyedMutex
}

func NewScorer(store Store, history HistorySource, opts Options, logger zerolog.Logger, m *metrics.SchedulingMetrics) *Scorer {
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds
	}
	if opts.BaselineDays <= 0 {
		opts.BaselineDays = defaultBaselineDays
	}
	if opts.DecayConcurrency <= 0 {
		opts.DecayConcurrency = 8
	}
	return &Scorer{
		store:   store,
		history: history,
		opts:    opts,
		logger:  logger.With().Str("component", "risk-scorer").Logger(),
		metrics: m,
		now:     time.Now,
		locks:   newKeyedMutex(),
	}
}

func (s *Scorer) SetClock(now func() time.Time) { s.now = now }

// Level derives the bucket for a score with the configured thresholds.
func (s *Scorer) Level(score float64) Level {
	return s.opts.Thresholds.Level(score)
}

// Recompute scores one patient and stores a new snapshot. Calls for the same
// patient are serialized; other patients are unaffected.
func (s *Scorer) Recompute(ctx context.Context, patientID uuid.UUID) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "risk.Recompute", trace.WithAttributes(attribute.String("patient_id", patientID.String())))
	defer span.End()

	unlock := s.locks.lock(patientID)
	defer unlock()

	started := time.Now()
	h, err := s.history.PatientHistory(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient history: %w", err)
	}

	now := s.now()
	score, factors := Compute(InputsFromHistory(h), now, s.opts.BaselineDays)
	snap := Snapshot{
		ID:         uuid.New(),
		PatientID:  patientID,
		Score:      score,
		Factors:    factors,
		ComputedAt: now,
	}
	if err := s.store.Save(ctx, snap); err != nil {
		return nil, err
	}
	s.metrics.ObserveRiskRecompute(time.Since(started).Seconds())

	s.logger.Debug().
		Str("patient_id", patientID.String()).
		Float64("score", score).
		Str("level", string(s.Level(score))).
		Msg("risk recomputed")
	return &snap, nil
}

// Snapshot returns the latest snapshot, computing a first one on demand.
func (s *Scorer) Snapshot(ctx context.Context, patientID uuid.UUID) (*Snapshot, error) {
	snap, err := s.store.Latest(ctx, patientID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return s.Recompute(ctx, patientID)
	}
	return snap, err
}

// HandleEvent is the bus handler. Only lifecycle outcomes move the score.
func (s *Scorer) HandleEvent(ctx context.Context, ev events.DomainEvent) error {
	switch ev.Type {
	case events.TypeCompleted, events.TypeCancelled, events.TypeNoShow:
	default:
		return nil
	}
	_, err := s.Recompute(ctx, ev.PatientID)
	return err
}

// RunDecay recomputes every known patient so the inactivity factor keeps
// growing without new events. Per-patient failures are recorded and the
// pass continues.
func (s *Scorer) RunDecay(ctx context.Context) *batch.Result {
	res := batch.NewResult("risk-decay")
	ids, err := s.history.ListPatientIDs(ctx)
	if err != nil {
		res.Abort(fmt.Errorf("list patients: %w", err))
		return res
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.DecayConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := s.Recompute(gctx, id); err != nil {
				s.metrics.ObserveBatchItem("risk-decay", "failed")
				s.logger.Error().Err(err).Str("patient_id", id.String()).Msg("risk recompute failed")
				res.Failed(id.String(), err)
				return nil
			}
			s.metrics.ObserveBatchItem("risk-decay", "ok")
			res.Succeeded()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		res.Abort(err)
	}

	processed, failed := res.Counts()
	s.logger.Info().Int("patients", len(ids)).Int("processed", processed).Int("failed", failed).Msg("risk decay pass finished")
	return res
}

// keyedMutex hands out one mutex per patient and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*keyedLock)}
}

func (k *keyedMutex) lock(id uuid.UUID) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
