package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/scheduling-core/internal/appointment"
	"github.com/hackgods/scheduling-core/internal/config"
	"github.com/hackgods/scheduling-core/internal/events"
	"github.com/hackgods/scheduling-core/internal/notify"
	"github.com/hackgods/scheduling-core/internal/observability/metrics"
)

var tracer = otel.Tracer("github.com/hackgods/scheduling-core/internal/waitlist")

// Booker is the part of the appointment service an accepted offer needs.
type Booker interface {
	Create(ctx context.Context, req appointment.CreateRequest) (*appointment.Appointment, error)
	Check(ctx context.Context, c appointment.Candidate) (appointment.ConflictList, error)
	MarkRecovered(ctx context.Context, appointmentID uuid.UUID) error
}

type Options struct {
	HoldPeriod      time.Duration
	MaxOffers       int
	EntryTTL        time.Duration
	NotifyAttempts  int
	NotifyBaseDelay time.Duration
	Location        *time.Location
}

func OptionsFromConfig(cfg config.Config) (Options, error) {
	loc, err := time.LoadLocation(cfg.ClinicTimeZone)
	if err != nil {
		return Options{}, fmt.Errorf("load clinic time zone: %w", err)
	}
	return Options{
		HoldPeriod:      cfg.WaitlistHoldPeriod,
		MaxOffers:       cfg.WaitlistMaxOffers,
		EntryTTL:        cfg.WaitlistEntryTTL,
		NotifyAttempts:  cfg.NotifyMaxAttempts,
		NotifyBaseDelay: cfg.NotifyBaseDelay,
		Location:        loc,
	}, nil
}

type Matcher struct {
	repo     Repository
	booker   Booker
	notifier notify.Notifier
	opts     Options
	logger   zerolog.Logger
	metrics  *metrics.SchedulingMetrics
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewMatcher(repo Repository, booker Booker, notifier notify.Notifier, opts Options, logger zerolog.Logger, m *metrics.SchedulingMetrics) *Matcher {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.NotifyAttempts < 1 {
		opts.NotifyAttempts = 1
	}
	l := logger.With().Str("component", "waitlist-matcher").Logger()
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Matcher{
		repo:     repo,
		booker:   booker,
		notifier: notifier,
		opts:     opts,
		logger:   l,
		metrics:  m,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (m *Matcher) SetClock(now func() time.Time) { m.now = now }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type CreateEntryRequest struct {
	PatientID         uuid.UUID
	ProviderID        *uuid.UUID
	AppointmentTypeID *uuid.UUID
	Windows           []Window
	Priority          Priority
	ExpiresAt         *time.Time // nil means now plus the configured entry lifetime
}

func (m *Matcher) CreateEntry(ctx context.Context, req CreateEntryRequest) (*Entry, error) {
	if req.PatientID == uuid.Nil {
		return nil, ErrMissingPatient
	}
	if req.Priority == "" {
		req.Priority = PriorityStandard
	}
	if !req.Priority.Valid() {
		return nil, ErrInvalidPriority
	}
	for _, w := range req.Windows {
		if err := w.validate(); err != nil {
			return nil, err
		}
	}

	now := m.now()
	expires := now.Add(m.opts.EntryTTL)
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidWindow)
		}
		expires = *req.ExpiresAt
	}

	entry, err := m.repo.CreateEntry(ctx, Entry{
		ID:                uuid.New(),
		PatientID:         req.PatientID,
		ProviderID:        req.ProviderID,
		AppointmentTypeID: req.AppointmentTypeID,
		Windows:           req.Windows,
		Priority:          req.Priority,
		Status:            EntryActive,
		ExpiresAt:         expires,
		CreatedAt:         now,
	})
	if err != nil {
		return nil, fmt.Errorf("create waitlist entry: %w", err)
	}
	m.logger.Info().
		Str("entry_id", entry.ID.String()).
		Str("priority", string(entry.Priority)).
		Msg("waitlist entry created")
	return entry, nil
}

// EnqueueFailedBooking adds the patient to the waitlist for the day of a
// booking that was rejected.
func (m *Matcher) EnqueueFailedBooking(ctx context.Context, req appointment.CreateRequest) (*Entry, error) {
	local := req.Start.In(m.opts.Location)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.opts.Location)
	to := from.AddDate(0, 0, 1)
	provider, typ := req.ProviderID, req.AppointmentTypeID

	return m.CreateEntry(ctx, CreateEntryRequest{
		PatientID:         req.PatientID,
		ProviderID:        &provider,
		AppointmentTypeID: &typ,
		Windows:           []Window{{From: &from, To: &to}},
		Priority:          PriorityStandard,
	})
}

func (m *Matcher) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return m.repo.GetEntry(ctx, id)
}

func (m *Matcher) ListEntries(ctx context.Context, patientID uuid.UUID) ([]Entry, error) {
	return m.repo.ListEntriesByPatient(ctx, patientID)
}

// CancelEntry withdraws an entry. A pending offer for it is invalidated and
// its opening moves on to the next candidate.
func (m *Matcher) CancelEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	entry, err := m.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != EntryActive && entry.Status != EntryNotified {
		return nil, ErrEntryNotCancelable
	}
	updated, err := m.repo.UpdateEntryStatus(ctx, id, entry.Status, EntryCancelled)
	if err != nil {
		return nil, err
	}

	if entry.Status == EntryNotified {
		offers, err := m.repo.ListOffersByPatient(ctx, entry.PatientID, OfferPending)
		if err != nil {
			return updated, err
		}
		for _, o := range offers {
			if o.EntryID != id {
				continue
			}
			if _, err := m.repo.ResolveOffer(ctx, o.ID, OfferPending, OfferInvalidated); err != nil {
				continue
			}
			m.metrics.ObserveOffer("invalidated")
			m.reoffer(ctx, o.Opening)
		}
	}
	return updated, nil
}

// PendingOffers lists the patient's offers still awaiting a response.
func (m *Matcher) PendingOffers(ctx context.Context, patientID uuid.UUID) ([]Offer, error) {
	offers, err := m.repo.ListOffersByPatient(ctx, patientID, OfferPending)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := offers[:0]
	for _, o := range offers {
		if now.Before(o.ExpiresAt) {
			out = append(out, o)
		}
	}
	return out, nil
}

// HandleCancellation is the bus handler for cancelled appointments. Only
// cancellations that released held time produce an opening.
func (m *Matcher) HandleCancellation(ctx context.Context, ev events.DomainEvent) error {
	if ev.Type != events.TypeCancelled || !ev.FreedSlot {
		return nil
	}
	_, err := m.Match(ctx, Opening{
		SourceAppointmentID: ev.AppointmentID,
		ProviderID:          ev.ProviderID,
		ResourceIDs:         ev.ResourceIDs,
		AppointmentTypeID:   ev.AppointmentTypeID,
		Start:               ev.Start,
		End:                 ev.End,
	})
	return err
}

// Match offers the opening to the best matching entry that has not been
// offered it yet. It returns nil when there is no candidate, when the
// opening is already under offer, and when the time is still booked.
func (m *Matcher) Match(ctx context.Context, o Opening) (*Offer, error) {
	ctx, span := tracer.Start(ctx, "waitlist.Match", trace.WithAttributes(
		attribute.String("source_appointment_id", o.SourceAppointmentID.String()),
	))
	defer span.End()

	now := m.now()
	log := m.logger.With().Str("source_appointment_id", o.SourceAppointmentID.String()).Logger()
	if !o.Start.After(now) {
		log.Debug().Msg("opening already started; released")
		return nil, nil
	}

	previous, err := m.repo.ListOffersByOpening(ctx, o.SourceAppointmentID)
	if err != nil {
		return nil, fmt.Errorf("list offers for opening: %w", err)
	}
	offered := make(map[uuid.UUID]struct{}, len(previous))
	for _, p := range previous {
		switch p.Status {
		case OfferAccepted:
			return nil, nil
		case OfferPending:
			log.Debug().Str("offer_id", p.ID.String()).Msg("opening already under offer")
			return nil, nil
		}
		offered[p.EntryID] = struct{}{}
	}

	held, err := m.booker.Check(ctx, appointment.Candidate{
		ProviderID:        o.ProviderID,
		ResourceIDs:       o.ResourceIDs,
		AppointmentTypeID: o.AppointmentTypeID,
		Start:             o.Start,
		End:               o.End,
	})
	if err != nil {
		return nil, fmt.Errorf("check opening: %w", err)
	}
	if len(held) > 0 {
		m.metrics.ObserveOffer("occupied")
		log.Info().Int("conflicts", len(held)).Msg("opening still occupied; not offered")
		return nil, nil
	}

	candidates, err := m.repo.ListActiveEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}
	Rank(candidates)

	for i := range candidates {
		entry := &candidates[i]
		if _, seen := offered[entry.ID]; seen {
			continue
		}
		if !entry.Matches(o, now, m.opts.Location) {
			continue
		}

		offer, err := m.repo.CreateOffer(ctx, Offer{
			ID:        uuid.New(),
			EntryID:   entry.ID,
			PatientID: entry.PatientID,
			Opening:   o,
			Status:    OfferPending,
			ExpiresAt: now.Add(m.opts.HoldPeriod),
		})
		if errors.Is(err, ErrEntryStateChanged) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create offer: %w", err)
		}

		m.metrics.ObserveOffer("offered")
		log.Info().
			Str("offer_id", offer.ID.String()).
			Str("entry_id", entry.ID.String()).
			Str("priority", string(entry.Priority)).
			Time("expires_at", offer.ExpiresAt).
			Msg("opening offered")
		m.deliver(ctx, offer)
		return offer, nil
	}

	m.metrics.ObserveOffer("released")
	log.Info().Msg("no waitlist candidate; opening released")
	return nil, nil
}

// deliver retries the notification with exponential backoff, resending only
// on channels that have not delivered yet. Exhausting the attempts flags the
// entry for staff follow-up; the hold keeps running.
func (m *Matcher) deliver(ctx context.Context, offer *Offer) {
	msg := notify.Message{
		OfferID:           offer.ID,
		EntryID:           offer.EntryID,
		PatientID:         offer.PatientID,
		ProviderID:        offer.Opening.ProviderID,
		ResourceIDs:       offer.Opening.ResourceIDs,
		AppointmentTypeID: offer.Opening.AppointmentTypeID,
		Start:             offer.Opening.Start,
		End:               offer.Opening.End,
		ExpiresAt:         offer.ExpiresAt,
	}

	pending := notify.Channels(m.notifier)
	var lastErr error
	for attempt := 0; attempt < m.opts.NotifyAttempts; attempt++ {
		failed := pending[:0:0]
		for _, ch := range pending {
			if err := ch.Notify(ctx, msg); err != nil {
				lastErr = err
				failed = append(failed, ch)
			}
		}
		if len(failed) == 0 {
			return
		}
		pending = failed
		m.logger.Warn().Err(lastErr).
			Str("offer_id", offer.ID.String()).
			Int("attempt", attempt+1).
			Int("failed_channels", len(failed)).
			Msg("offer notification failed")
		if attempt < m.opts.NotifyAttempts-1 {
			if err := m.sleep(ctx, m.opts.NotifyBaseDelay*time.Duration(1<<uint(attempt))); err != nil {
				lastErr = err
				break
			}
		}
	}

	m.metrics.ObserveOffer("follow_up")
	m.logger.Error().Err(lastErr).
		Str("offer_id", offer.ID.String()).
		Str("entry_id", offer.EntryID.String()).
		Msg("offer notification exhausted retries; flagged for follow-up")
	if err := m.repo.SetFollowUp(context.WithoutCancel(ctx), offer.EntryID, true); err != nil {
		m.logger.Error().Err(err).Str("entry_id", offer.EntryID.String()).Msg("flag follow-up failed")
	}
}

// Accept books the offered slot for the entry's patient. The booking goes
// through the normal conflict-checked path, so a slot taken in the meantime
// is rejected with the usual conflict and the entry goes back to ACTIVE.
// Any other failure, such as lock contention, leaves the offer PENDING.
func (m *Matcher) Accept(ctx context.Context, offerID uuid.UUID) (*appointment.Appointment, error) {
	ctx, span := tracer.Start(ctx, "waitlist.Accept", trace.WithAttributes(attribute.String("offer_id", offerID.String())))
	defer span.End()

	offer, err := m.repo.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.Status != OfferPending {
		return nil, ErrOfferNotPending
	}
	if !m.now().Before(offer.ExpiresAt) {
		if err := m.expire(ctx, *offer); err != nil {
			m.logger.Error().Err(err).Str("offer_id", offer.ID.String()).Msg("expire offer failed")
		}
		return nil, ErrOfferExpired
	}

	if _, err := m.repo.ResolveOffer(ctx, offerID, OfferPending, OfferAccepted); err != nil {
		return nil, err
	}

	appt, err := m.booker.Create(ctx, appointment.CreateRequest{
		PatientID:         offer.PatientID,
		ProviderID:        offer.Opening.ProviderID,
		ResourceIDs:       offer.Opening.ResourceIDs,
		AppointmentTypeID: offer.Opening.AppointmentTypeID,
		Start:             offer.Opening.Start,
		End:               offer.Opening.End,
		Source:            appointment.SourceWaitlist,
	})
	if err != nil && !errors.Is(err, appointment.ErrConflict) {
		// Not a taken slot; the hold stands and the patient may try again.
		m.metrics.ObserveOffer("retry")
		if _, rerr := m.repo.ResolveOffer(context.WithoutCancel(ctx), offerID, OfferAccepted, OfferPending); rerr != nil {
			m.logger.Error().Err(rerr).Str("offer_id", offerID.String()).Msg("restore pending offer failed")
		}
		m.logger.Warn().Err(err).Str("offer_id", offerID.String()).Msg("offer acceptance failed; offer kept pending")
		return nil, err
	}
	if err != nil {
		m.metrics.ObserveOffer("conflict")
		if _, rerr := m.repo.ResolveOffer(ctx, offerID, OfferAccepted, OfferInvalidated); rerr != nil {
			m.logger.Error().Err(rerr).Str("offer_id", offerID.String()).Msg("invalidate offer failed")
		}
		if _, rerr := m.repo.UpdateEntryStatus(ctx, offer.EntryID, EntryNotified, EntryActive); rerr != nil && !errors.Is(rerr, ErrEntryStateChanged) {
			m.logger.Error().Err(rerr).Str("entry_id", offer.EntryID.String()).Msg("release entry failed")
		}
		return nil, err
	}

	if _, err := m.repo.UpdateEntryStatus(ctx, offer.EntryID, EntryNotified, EntryScheduled); err != nil {
		m.logger.Error().Err(err).Str("entry_id", offer.EntryID.String()).Msg("mark entry scheduled failed")
	}
	if err := m.booker.MarkRecovered(ctx, offer.Opening.SourceAppointmentID); err != nil {
		m.logger.Warn().Err(err).Str("source_appointment_id", offer.Opening.SourceAppointmentID.String()).Msg("mark cancellation recovered failed")
	}
	m.invalidateOthers(ctx, *offer)

	m.metrics.ObserveOffer("accepted")
	m.logger.Info().
		Str("offer_id", offerID.String()).
		Str("appointment_id", appt.ID.String()).
		Msg("waitlist offer accepted")
	return appt, nil
}

func (m *Matcher) invalidateOthers(ctx context.Context, accepted Offer) {
	offers, err := m.repo.ListOffersByOpening(ctx, accepted.Opening.SourceAppointmentID)
	if err != nil {
		m.logger.Error().Err(err).Msg("list sibling offers failed")
		return
	}
	for _, o := range offers {
		if o.ID == accepted.ID || o.Status != OfferPending {
			continue
		}
		if _, err := m.repo.ResolveOffer(ctx, o.ID, OfferPending, OfferInvalidated); err != nil {
			continue
		}
		m.metrics.ObserveOffer("invalidated")
		m.release(ctx, o.EntryID)
	}
}

// Decline returns the entry to the queue and offers the opening to the next
// candidate.
func (m *Matcher) Decline(ctx context.Context, offerID uuid.UUID) (*Offer, error) {
	offer, err := m.repo.ResolveOffer(ctx, offerID, OfferPending, OfferDeclined)
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveOffer("declined")
	m.release(ctx, offer.EntryID)
	m.reoffer(ctx, offer.Opening)
	return offer, nil
}

// release puts a NOTIFIED entry back to ACTIVE, or retires it once it has
// used up its offers.
func (m *Matcher) release(ctx context.Context, entryID uuid.UUID) {
	entry, err := m.repo.GetEntry(ctx, entryID)
	if err != nil {
		m.logger.Error().Err(err).Str("entry_id", entryID.String()).Msg("load entry failed")
		return
	}
	to := EntryActive
	if m.opts.MaxOffers > 0 && entry.OfferCount >= m.opts.MaxOffers {
		to = EntryExpired
	}
	if _, err := m.repo.UpdateEntryStatus(ctx, entryID, EntryNotified, to); err != nil && !errors.Is(err, ErrEntryStateChanged) {
		m.logger.Error().Err(err).Str("entry_id", entryID.String()).Msg("release entry failed")
		return
	}
	if to == EntryExpired {
		m.logger.Info().Str("entry_id", entryID.String()).Int("offers", entry.OfferCount).Msg("entry retired after max offers")
	}
}

func (m *Matcher) reoffer(ctx context.Context, o Opening) {
	if _, err := m.Match(ctx, o); err != nil {
		m.logger.Error().Err(err).Str("source_appointment_id", o.SourceAppointmentID.String()).Msg("re-offer failed")
	}
}

func (m *Matcher) expire(ctx context.Context, o Offer) error {
	if _, err := m.repo.ResolveOffer(ctx, o.ID, OfferPending, OfferExpired); err != nil {
		if errors.Is(err, ErrOfferNotPending) {
			return nil
		}
		return err
	}
	m.metrics.ObserveOffer("expired")
	m.release(ctx, o.EntryID)
	m.reoffer(ctx, o.Opening)
	return nil
}

type SweepReport struct {
	ExpiredOffers  int `json:"expired_offers"`
	ExpiredEntries int `json:"expired_entries"`
}

// Sweep expires lapsed holds, passing each opening to the next candidate,
// and retires entries past their lifetime.
func (m *Matcher) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := m.now()

	offers, err := m.repo.ListExpiredOffers(ctx, now)
	if err != nil {
		return report, fmt.Errorf("list expired offers: %w", err)
	}
	var errs []error
	for _, o := range offers {
		if err := m.expire(ctx, o); err != nil {
			errs = append(errs, fmt.Errorf("expire offer %s: %w", o.ID, err))
			continue
		}
		report.ExpiredOffers++
	}

	n, err := m.repo.ExpireEntries(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire entries: %w", err))
	}
	report.ExpiredEntries = n

	if report.ExpiredOffers > 0 || report.ExpiredEntries > 0 {
		m.logger.Info().
			Int("expired_offers", report.ExpiredOffers).
			Int("expired_entries", report.ExpiredEntries).
			Msg("waitlist sweep")
	}
	return report, errors.Join(errs...)
}
