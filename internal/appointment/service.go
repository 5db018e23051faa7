package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/scheduling-core/internal/config"
	"github.com/hackgods/scheduling-core/internal/events"
	"github.com/hackgods/scheduling-core/internal/observability/metrics"
	redisclient "github.com/hackgods/scheduling-core/internal/redis"
)

const (
	EventOverrideAudit   = "override_audit"
	EventOverrideCleared = "override_cleared"
	EventNeedsAttention  = "needs_attention"
)

var tracer = otel.Tracer("github.com/hackgods/scheduling-core/internal/appointment")

type Service struct {
	repo      Repository
	locker    redisclient.Locker
	publisher events.Publisher
	cfg       config.Config
	logger    zerolog.Logger
	metrics   *metrics.SchedulingMetrics
	now       func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, publisher events.Publisher, cfg config.Config, logger zerolog.Logger, m *metrics.SchedulingMetrics) *Service {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With().Str("component", "appointment-service").Logger(),
		metrics:   m,
		now:       time.Now,
	}
}

// SetClock replaces the wall clock, for tests and simulations.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type CreateRequest struct {
	PatientID         uuid.UUID
	ProviderID        uuid.UUID
	ResourceIDs       []uuid.UUID
	AppointmentTypeID uuid.UUID
	Start             time.Time
	End               time.Time // zero means Start plus the type's duration
	Source            Source
	// Override commits despite conflicts. Authorization happens upstream.
	Override    bool
	SeriesID    *uuid.UUID
	SeriesIndex *int
	// FlagConflicts commits a colliding request as NEEDS_ATTENTION instead
	// of rejecting it.
	FlagConflicts bool
}

func (s *Service) prepare(ctx context.Context, req CreateRequest) (*Appointment, *AppointmentType, error) {
	if req.PatientID == uuid.Nil || req.ProviderID == uuid.Nil {
		return nil, nil, ErrMissingParticipant
	}
	if req.Source == "" {
		req.Source = SourceFrontDesk
	}
	if !req.Source.Valid() {
		return nil, nil, ErrInvalidSource
	}

	typ, err := s.repo.GetType(ctx, req.AppointmentTypeID)
	if err != nil {
		if errors.Is(err, ErrTypeNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load appointment type: %w", err)
	}

	end := req.End
	if end.IsZero() {
		end = req.Start.Add(typ.Duration)
	}
	if !end.After(req.Start) {
		return nil, nil, ErrInvalidInterval
	}
	resources := dedupeIDs(req.ResourceIDs)
	if len(resources) < len(typ.ResourceCategories) {
		return nil, nil, ErrMissingResources
	}

	bs, be := typ.Buffered(req.Start, end)
	return &Appointment{
		ID:                uuid.New(),
		PatientID:         req.PatientID,
		ProviderID:        req.ProviderID,
		ResourceIDs:       resources,
		AppointmentTypeID: typ.ID,
		Start:             req.Start,
		End:               end,
		BufferedStart:     bs,
		BufferedEnd:       be,
		Status:            StatusScheduled,
		Source:            req.Source,
		SeriesID:          req.SeriesID,
		SeriesIndex:       req.SeriesIndex,
	}, typ, nil
}

func lockKeys(a *Appointment) []string {
	keys := []string{redisclient.ProviderKey(a.ProviderID), redisclient.PatientKey(a.PatientID)}
	for _, r := range a.ResourceIDs {
		keys = append(keys, redisclient.ResourceKey(r))
	}
	return keys
}

func candidateOf(a *Appointment) Candidate {
	return Candidate{
		PatientID:         a.PatientID,
		ProviderID:        a.ProviderID,
		ResourceIDs:       a.ResourceIDs,
		AppointmentTypeID: a.AppointmentTypeID,
		Start:             a.Start,
		End:               a.End,
	}
}

// Check runs the conflict detector against the current store without
// committing anything.
func (s *Service) Check(ctx context.Context, c Candidate) (ConflictList, error) {
	typ, err := s.repo.GetType(ctx, c.AppointmentTypeID)
	if err != nil {
		return nil, err
	}
	if c.End.IsZero() {
		c.End = c.Start.Add(typ.Duration)
	}
	c.ResourceIDs = dedupeIDs(c.ResourceIDs)
	return s.detect(ctx, c, typ)
}

func (s *Service) detect(ctx context.Context, c Candidate, typ *AppointmentType) (ConflictList, error) {
	from, to := typ.Buffered(c.Start, c.End)
	existing, err := s.repo.FindOverlapping(ctx, OverlapQuery{
		ProviderID:  c.ProviderID,
		PatientID:   c.PatientID,
		ResourceIDs: c.ResourceIDs,
		From:        from,
		To:          to,
	})
	if err != nil {
		return nil, fmt.Errorf("load overlapping appointments: %w", err)
	}
	blocks, err := s.repo.ListProviderBlocks(ctx, c.ProviderID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load provider blocks: %w", err)
	}
	conflicts := Detect(c, typ, existing, blocks)
	for _, cf := range conflicts {
		s.metrics.ObserveConflict(string(cf.Dimension))
	}
	return conflicts, nil
}

// Create validates and commits a booking. Validation and commit run under
// locks on the provider, each resource and the patient so two requests
// cannot both pass against the same stale view.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Create", trace.WithAttributes(
		attribute.String("provider_id", req.ProviderID.String()),
		attribute.String("source", string(req.Source)),
	))
	defer span.End()

	appt, typ, err := s.prepare(ctx, req)
	if err != nil {
		s.metrics.ObserveBooking("invalid")
		return nil, err
	}

	var created *Appointment
	err = s.locker.WithLocks(ctx, lockKeys(appt), func(lockCtx context.Context) error {
		conflicts, err := s.detect(lockCtx, candidateOf(appt), typ)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			switch {
			case req.Override:
				appt.Override = true
				appt.OverriddenIDs = conflicts.AppointmentIDs()
			case req.FlagConflicts:
				appt.SubStatus = SubStatusNeedsAttention
			default:
				return &ConflictError{Conflicts: conflicts}
			}
		}

		created, err = s.repo.InsertAppointment(lockCtx, *appt)
		if err != nil {
			return err
		}

		if created.Override {
			s.logEvent(lockCtx, created.ID, EventOverrideAudit, map[string]any{
				"overridden_ids": created.OverriddenIDs,
				"conflicts":      conflicts,
			})
			s.logger.Warn().
				Str("appointment_id", created.ID.String()).
				Int("overridden", len(created.OverriddenIDs)).
				Msg("booking committed with override")
		}
		if created.NeedsAttention() {
			s.logEvent(lockCtx, created.ID, EventNeedsAttention, map[string]any{"conflicts": conflicts})
		}
		return nil
	})
	if err != nil {
		return nil, s.bookingFailed(span, err)
	}

	s.metrics.ObserveBooking("committed")
	s.emit(ctx, events.TypeBooked, created, "", false)
	return created, nil
}

// CreateNeedsAttention commits the request directly as NEEDS_ATTENTION.
// Such rows hold no time, so no lock or detection is required. Recurrence
// generation falls back to it when a normal create fails.
func (s *Service) CreateNeedsAttention(ctx context.Context, req CreateRequest, cause error) (*Appointment, error) {
	appt, _, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	appt.SubStatus = SubStatusNeedsAttention

	created, err := s.repo.InsertAppointment(ctx, *appt)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if cause != nil {
		payload["cause"] = cause.Error()
	}
	s.logEvent(ctx, created.ID, EventNeedsAttention, payload)
	s.emit(ctx, events.TypeBooked, created, "", false)
	return created, nil
}

func (s *Service) bookingFailed(span trace.Span, err error) error {
	var conflictErr *ConflictError
	switch {
	case errors.As(err, &conflictErr):
		s.metrics.ObserveBooking("conflict")
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.metrics.ObserveBooking("locked")
		err = ErrSlotBeingBooked
	case errors.Is(err, ErrInvariantViolation):
		s.metrics.ObserveBooking("error")
		s.metrics.ObserveInvariantViolation()
		s.logger.Error().Err(err).Bool("invariant_violation", true).Msg("overlap reached the store")
	case errors.Is(err, ErrDuplicateOccurrence):
		s.metrics.ObserveBooking("duplicate")
	default:
		s.metrics.ObserveBooking("error")
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type RescheduleRequest struct {
	Start       time.Time
	End         time.Time    // zero means Start plus the type's duration
	ProviderID  *uuid.UUID   // nil keeps the current provider
	ResourceIDs *[]uuid.UUID // nil keeps the current resources
	Override    bool
}

// Reschedule moves an appointment that has not been checked in. The new
// time is validated like a fresh booking, excluding the appointment itself.
// A series occurrence is detached from its series.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Reschedule", trace.WithAttributes(attribute.String("appointment_id", id.String())))
	defer span.End()

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reschedulable(current.Status) {
		return nil, &TransitionError{From: current.Status, Event: EventReschedule}
	}

	next := *current
	if req.ProviderID != nil {
		next.ProviderID = *req.ProviderID
	}
	if req.ResourceIDs != nil {
		next.ResourceIDs = dedupeIDs(*req.ResourceIDs)
	}

	var updated *Appointment
	err = s.locker.WithLocks(ctx, lockKeys(&next), func(lockCtx context.Context) error {
		fresh, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return err
		}
		if !reschedulable(fresh.Status) {
			return &TransitionError{From: fresh.Status, Event: EventReschedule}
		}
		typ, err := s.repo.GetType(lockCtx, fresh.AppointmentTypeID)
		if err != nil {
			return fmt.Errorf("load appointment type: %w", err)
		}

		end := req.End
		if end.IsZero() {
			end = req.Start.Add(typ.Duration)
		}
		if !end.After(req.Start) {
			return ErrInvalidInterval
		}
		if len(next.ResourceIDs) < len(typ.ResourceCategories) {
			return ErrMissingResources
		}

		next.Version = fresh.Version
		next.Start, next.End = req.Start, end
		next.BufferedStart, next.BufferedEnd = typ.Buffered(req.Start, end)
		next.SubStatus = SubStatusNone
		next.SeriesID, next.SeriesIndex = nil, nil
		next.Override, next.OverriddenIDs = false, nil

		c := candidateOf(&next)
		c.ExcludeID = &id
		conflicts, err := s.detect(lockCtx, c, typ)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			if !req.Override {
				return &ConflictError{Conflicts: conflicts}
			}
			next.Override = true
			next.OverriddenIDs = conflicts.AppointmentIDs()
		}

		updated, err = s.repo.UpdateSchedule(lockCtx, next)
		if err != nil {
			return err
		}
		if fresh.Override {
			s.settleOverrides(lockCtx, fresh)
		}
		if updated.Override {
			s.logEvent(lockCtx, updated.ID, EventOverrideAudit, map[string]any{
				"overridden_ids": updated.OverriddenIDs,
				"conflicts":      conflicts,
			})
		}
		return nil
	})
	if err != nil {
		return nil, s.bookingFailed(span, err)
	}

	if current.SeriesID != nil {
		s.logger.Info().
			Str("appointment_id", id.String()).
			Str("series_id", current.SeriesID.String()).
			Msg("occurrence detached from series")
	}
	s.metrics.ObserveBooking("rescheduled")
	s.emit(ctx, events.TypeRescheduled, updated, "", false)
	return updated, nil
}

// Transition applies a lifecycle event that needs no extra input. Use
// Cancel for cancellations.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, ev Event) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Transition", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
		attribute.String("event", string(ev)),
	))
	defer span.End()

	if ev == EventCancel {
		return nil, ErrReasonRequired
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	to, err := Next(appt.Status, ev)
	if err != nil {
		return nil, err
	}
	if appt.NeedsAttention() && ev != EventNoShow {
		return nil, ErrNeedsAttention
	}

	var updated *Appointment
	if to == StatusNoShow {
		updated, err = s.repo.CloseWithCancellation(ctx, id, appt.Status, to, CancellationRecord{
			ID:        uuid.New(),
			PatientID: appt.PatientID,
			Type:      CancellationNoShow,
			Reason:    "no show",
			Recovery:  RecoveryPending,
		})
	} else {
		updated, err = s.repo.UpdateStatus(ctx, id, appt.Status, to)
	}
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStaleAppointment
		}
		return nil, fmt.Errorf("transition appointment: %w", err)
	}

	cancellationType := CancellationType("")
	if to == StatusNoShow {
		cancellationType = CancellationNoShow
	}
	s.emit(ctx, domainEventFor(ev), updated, cancellationType, to == StatusNoShow && appt.Occupying())
	return updated, nil
}

type CancelRequest struct {
	Reason string
	// Type defaults to VOLUNTARY. VOLUNTARY becomes LATE inside the late
	// cancellation window.
	Type CancellationType
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, req CancelRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.Cancel", trace.WithAttributes(attribute.String("appointment_id", id.String())))
	defer span.End()

	if req.Reason == "" {
		return nil, ErrReasonRequired
	}
	switch req.Type {
	case "":
		req.Type = CancellationVoluntary
	case CancellationVoluntary, CancellationLate, CancellationPracticeInitiated:
	default:
		return nil, ErrInvalidCancellationType
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	to, err := Next(appt.Status, EventCancel)
	if err != nil {
		return nil, err
	}

	if req.Type == CancellationVoluntary && appt.Start.Sub(s.now()) < s.cfg.LateCancelWindow {
		req.Type = CancellationLate
	}

	updated, err := s.repo.CloseWithCancellation(ctx, id, appt.Status, to, CancellationRecord{
		ID:        uuid.New(),
		PatientID: appt.PatientID,
		Type:      req.Type,
		Reason:    req.Reason,
		Recovery:  RecoveryPending,
	})
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStaleAppointment
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	if appt.Override {
		s.settleOverrides(ctx, appt)
	}
	s.emit(ctx, events.TypeCancelled, updated, req.Type, appt.Occupying())
	return updated, nil
}

// MarkRecovered records that a cancelled slot was refilled.
func (s *Service) MarkRecovered(ctx context.Context, appointmentID uuid.UUID) error {
	if err := s.repo.UpdateRecovery(ctx, appointmentID, RecoveryPending, RecoveryRecovered); err != nil {
		return fmt.Errorf("mark recovered: %w", err)
	}
	return nil
}

// CloseStaleCancellations marks cancellations whose slot has passed without
// being refilled as UNRECOVERED.
func (s *Service) CloseStaleCancellations(ctx context.Context) (int, error) {
	n, err := s.repo.MarkUnrecoveredBefore(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("cancellations marked unrecovered")
	}
	return n, nil
}

// settleOverrides clears the override flag on rows around prior's old
// interval that no longer collide with anything, so they return to the
// no-overlap constraint.
func (s *Service) settleOverrides(ctx context.Context, prior *Appointment) {
	around, err := s.repo.FindOverlapping(ctx, OverlapQuery{
		ProviderID:  prior.ProviderID,
		PatientID:   prior.PatientID,
		ResourceIDs: prior.ResourceIDs,
		From:        prior.BufferedStart,
		To:          prior.BufferedEnd,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", prior.ID.String()).Msg("load override partners failed")
		return
	}
	for i := range around {
		partner := &around[i]
		if partner.ID == prior.ID || !partner.Override {
			continue
		}
		neighbours, err := s.repo.FindOverlapping(ctx, OverlapQuery{
			ProviderID:  partner.ProviderID,
			PatientID:   partner.PatientID,
			ResourceIDs: partner.ResourceIDs,
			From:        partner.BufferedStart,
			To:          partner.BufferedEnd,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", partner.ID.String()).Msg("load override neighbours failed")
			continue
		}
		alone := true
		for j := range neighbours {
			if collides(partner, &neighbours[j]) {
				alone = false
				break
			}
		}
		if !alone {
			continue
		}
		if _, err := s.repo.ClearOverride(ctx, partner.ID); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", partner.ID.String()).Msg("clear override failed")
			continue
		}
		s.logEvent(ctx, partner.ID, EventOverrideCleared, map[string]any{"released_by": prior.ID})
	}
}

func (s *Service) emit(ctx context.Context, typ events.Type, a *Appointment, cancellationType CancellationType, freed bool) {
	s.logEvent(ctx, a.ID, string(typ), map[string]any{
		"status":     a.Status,
		"sub_status": a.SubStatus,
		"start":      a.Start,
		"end":        a.End,
	})

	ev := events.DomainEvent{
		ID:                uuid.New(),
		Type:              typ,
		AppointmentID:     a.ID,
		PatientID:         a.PatientID,
		ProviderID:        a.ProviderID,
		ResourceIDs:       a.ResourceIDs,
		AppointmentTypeID: a.AppointmentTypeID,
		Start:             a.Start,
		End:               a.End,
		CancellationType:  string(cancellationType),
		FreedSlot:         freed,
		OccurredAt:        s.now(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", string(typ)).
			Str("appointment_id", a.ID.String()).
			Msg("failed to publish domain event")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

// Queries

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListByPatient retrieves appointments for a specific patient
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if !to.After(from) {
		return nil, ErrInvalidInterval
	}
	return s.repo.ListByProvider(ctx, providerID, from, to)
}

func (s *Service) ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListBySeries(ctx, seriesID)
}

func (s *Service) PatientHistory(ctx context.Context, patientID uuid.UUID) (*History, error) {
	appts, err := s.repo.PatientTimeline(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient timeline: %w", err)
	}
	cancellations, err := s.repo.ListCancellationsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient cancellations: %w", err)
	}
	return &History{PatientID: patientID, Appointments: appts, Cancellations: cancellations}, nil
}

func (s *Service) ListPatientIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListPatientIDs(ctx)
}

// Appointment types

func validateType(t *AppointmentType) error {
	if t.Duration <= 0 || t.PreBuffer < 0 || t.PostBuffer < 0 {
		return ErrInvalidType
	}
	return nil
}

func (s *Service) CreateType(ctx context.Context, t AppointmentType) (*AppointmentType, error) {
	if err := validateType(&t); err != nil {
		return nil, err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return s.repo.InsertType(ctx, t)
}

// UpdateType edits a type. Duration, buffers and resource categories are
// frozen once any appointment references the type.
func (s *Service) UpdateType(ctx context.Context, t AppointmentType) (*AppointmentType, error) {
	if err := validateType(&t); err != nil {
		return nil, err
	}
	current, err := s.repo.GetType(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if !current.structurallyEqual(&t) {
		n, err := s.repo.CountByType(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, ErrTypeInUse
		}
	}
	return s.repo.UpdateType(ctx, t)
}

func (s *Service) GetType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	return s.repo.GetType(ctx, id)
}

func (s *Service) ListTypes(ctx context.Context) ([]AppointmentType, error) {
	return s.repo.ListTypes(ctx)
}

// Provider availability

func (s *Service) AddProviderBlock(ctx context.Context, b ProviderBlock) (*ProviderBlock, error) {
	if b.ProviderID == uuid.Nil {
		return nil, ErrMissingParticipant
	}
	if !b.End.After(b.Start) {
		return nil, ErrInvalidInterval
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return s.repo.InsertProviderBlock(ctx, b)
}

func (s *Service) ListProviderBlocks(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]ProviderBlock, error) {
	return s.repo.ListProviderBlocks(ctx, providerID, from, to)
}
