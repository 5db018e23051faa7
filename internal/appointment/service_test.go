package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/scheduling-core/internal/config"
	"github.com/hackgods/scheduling-core/internal/events"
	redisclient "github.com/hackgods/scheduling-core/internal/redis"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func (p *recordingPublisher) last() events.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	pub      *recordingPublisher
	cleaning *AppointmentType
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := NewMemoryRepository()
	pub := &recordingPublisher{}
	locker := redisclient.NewLocalLocker(redisclient.LockOptions{TTL: time.Second, Attempts: 50, RetryDelay: time.Millisecond})
	cfg := config.Config{LateCancelWindow: 24 * time.Hour}
	svc := NewService(repo, locker, pub, cfg, zerolog.Nop(), nil)

	now := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	cleaning, err := svc.CreateType(context.Background(), AppointmentType{Name: "Cleaning", Duration: 30 * time.Minute})
	require.NoError(t, err)

	return &fixture{svc: svc, repo: repo, pub: pub, cleaning: cleaning, now: now}
}

func (f *fixture) book(t *testing.T, provider uuid.UUID, resources []uuid.UUID, start time.Time) *Appointment {
	t.Helper()
	a, err := f.svc.Create(context.Background(), CreateRequest{
		PatientID:         uuid.New(),
		ProviderID:        provider,
		ResourceIDs:       resources,
		AppointmentTypeID: f.cleaning.ID,
		Start:             start,
	})
	require.NoError(t, err)
	return a
}

func TestCreateRejectsProviderConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider, chairC, chairD := uuid.New(), uuid.New(), uuid.New()

	first := f.book(t, provider, []uuid.UUID{chairC}, at(9, 0))
	assert.Equal(t, at(9, 30), first.End)
	assert.Equal(t, StatusScheduled, first.Status)

	_, err := f.svc.Create(ctx, CreateRequest{
		PatientID:         uuid.New(),
		ProviderID:        provider,
		ResourceIDs:       []uuid.UUID{chairD},
		AppointmentTypeID: f.cleaning.ID,
		Start:             at(9, 15),
		End:               at(9, 45),
	})
	require.ErrorIs(t, err, ErrConflict)

	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, DimensionProvider, conflictErr.Conflicts[0].Dimension)
	assert.Equal(t, []uuid.UUID{first.ID}, conflictErr.Conflicts[0].AppointmentIDs)

	assert.Len(t, f.repo.AllAppointments(), 1)
	assert.Equal(t, []events.Type{events.TypeBooked}, f.pub.types())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	withRoom, err := f.svc.CreateType(ctx, AppointmentType{Name: "Surgery", Duration: time.Hour, ResourceCategories: []string{"room"}})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"missing provider", CreateRequest{PatientID: uuid.New(), AppointmentTypeID: f.cleaning.ID, Start: at(9, 0)}, ErrMissingParticipant},
		{"unknown type", CreateRequest{PatientID: uuid.New(), ProviderID: uuid.New(), AppointmentTypeID: uuid.New(), Start: at(9, 0)}, ErrTypeNotFound},
		{"end before start", CreateRequest{PatientID: uuid.New(), ProviderID: uuid.New(), AppointmentTypeID: f.cleaning.ID, Start: at(9, 0), End: at(8, 0)}, ErrInvalidInterval},
		{"missing room", CreateRequest{PatientID: uuid.New(), ProviderID: uuid.New(), AppointmentTypeID: withRoom.ID, Start: at(9, 0)}, ErrMissingResources},
		{"bad source", CreateRequest{PatientID: uuid.New(), ProviderID: uuid.New(), AppointmentTypeID: f.cleaning.ID, Start: at(9, 0), Source: "FAX"}, ErrInvalidSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateOverrideFlagsBothAppointments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	first := f.book(t, provider, nil, at(9, 0))

	second, err := f.svc.Create(ctx, CreateRequest{
		PatientID:         uuid.New(),
		ProviderID:        provider,
		AppointmentTypeID: f.cleaning.ID,
		Start:             at(9, 0),
		Override:          true,
	})
	require.NoError(t, err)
	assert.True(t, second.Override)
	assert.Equal(t, []uuid.UUID{first.ID}, second.OverriddenIDs)

	reloaded, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Override)

	var audited bool
	for _, ev := range f.repo.Events() {
		if ev.EventType == EventOverrideAudit && *ev.AppointmentID == second.ID {
			audited = true
		}
	}
	assert.True(t, audited, "override must be logged")
}

func TestRescheduleAwayClearsOverridePartner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	first := f.book(t, provider, nil, at(9, 0))
	second, err := f.svc.Create(ctx, CreateRequest{
		PatientID:         uuid.New(),
		ProviderID:        provider,
		AppointmentTypeID: f.cleaning.ID,
		Start:             at(9, 0),
		Override:          true,
	})
	require.NoError(t, err)

	moved, err := f.svc.Reschedule(ctx, second.ID, RescheduleRequest{Start: at(11, 0)})
	require.NoError(t, err)
	assert.False(t, moved.Override)

	reloaded, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Override)
	assert.True(t, reloaded.Exclusive())

	intruder := *reloaded
	intruder.ID, intruder.PatientID = uuid.New(), uuid.New()
	_, err = f.repo.InsertAppointment(ctx, intruder)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestCancelOverrideKeepsFlagWhileStillOverlapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	first := f.book(t, provider, nil, at(9, 0))
	squeeze := func() *Appointment {
		a, err := f.svc.Create(ctx, CreateRequest{
			PatientID:         uuid.New(),
			ProviderID:        provider,
			AppointmentTypeID: f.cleaning.ID,
			Start:             at(9, 0),
			Override:          true,
		})
		require.NoError(t, err)
		return a
	}
	second, third := squeeze(), squeeze()

	_, err := f.svc.Cancel(ctx, second.ID, CancelRequest{Reason: "double entry"})
	require.NoError(t, err)
	for _, id := range []uuid.UUID{first.ID, third.ID} {
		a, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, a.Override, "row still overlaps another")
	}

	_, err = f.svc.Cancel(ctx, third.ID, CancelRequest{Reason: "double entry"})
	require.NoError(t, err)
	a, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, a.Override)
}

func TestCreateFlagConflictsMarksNeedsAttention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	f.book(t, provider, nil, at(9, 0))

	flagged, err := f.svc.Create(ctx, CreateRequest{
		PatientID:         uuid.New(),
		ProviderID:        provider,
		AppointmentTypeID: f.cleaning.ID,
		Start:             at(9, 0),
		FlagConflicts:     true,
	})
	require.NoError(t, err)
	assert.True(t, flagged.NeedsAttention())
	assert.False(t, flagged.Occupying())

	_, err = f.svc.Transition(ctx, flagged.ID, EventConfirm)
	assert.ErrorIs(t, err, ErrNeedsAttention)
}

func TestConcurrentCreatesCommitOnce(t *testing.T) {
	f := newFixture(t)
	provider, chair := uuid.New(), uuid.New()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), CreateRequest{
				PatientID:         uuid.New(),
				ProviderID:        provider,
				ResourceIDs:       []uuid.UUID{chair},
				AppointmentTypeID: f.cleaning.ID,
				Start:             at(10, 0),
			})
			if err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrConflict) || errors.Is(err, ErrSlotBeingBooked), err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, committed)
	assertNoOverlaps(t, f.repo.AllAppointments())
}

func assertNoOverlaps(t *testing.T, appts []Appointment) {
	t.Helper()
	for i := range appts {
		for j := i + 1; j < len(appts); j++ {
			a, b := appts[i], appts[j]
			if !a.Exclusive() || !b.Exclusive() {
				continue
			}
			if !overlaps(a.BufferedStart, a.BufferedEnd, b.BufferedStart, b.BufferedEnd) {
				continue
			}
			assert.NotEqual(t, a.ProviderID, b.ProviderID, "provider overlap %s %s", a.ID, b.ID)
			for _, r := range a.ResourceIDs {
				assert.False(t, b.hasResource(r), "resource overlap %s %s", a.ID, b.ID)
			}
		}
	}
}

func TestLockContentionSurfacesSlotBeingBooked(t *testing.T) {
	repo := NewMemoryRepository()
	locker := redisclient.NewLocalLocker(redisclient.LockOptions{TTL: time.Second, Attempts: 1, RetryDelay: time.Millisecond})
	svc := NewService(repo, locker, nil, config.Config{}, zerolog.Nop(), nil)
	typ, err := svc.CreateType(context.Background(), AppointmentType{Name: "Exam", Duration: 20 * time.Minute})
	require.NoError(t, err)

	provider := uuid.New()
	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = locker.WithLocks(context.Background(), []string{redisclient.ProviderKey(provider)}, func(context.Context) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held
	defer close(hold)

	_, err = svc.Create(context.Background(), CreateRequest{
		PatientID:         uuid.New(),
		ProviderID:        provider,
		AppointmentTypeID: typ.ID,
		Start:             at(9, 0),
	})
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestTransitionsEmitEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, uuid.New(), nil, at(9, 0))

	for _, ev := range []Event{EventConfirm, EventCheckIn, EventStart, EventComplete} {
		var err error
		a, err = f.svc.Transition(ctx, a.ID, ev)
		require.NoError(t, err, ev)
	}
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, []events.Type{
		events.TypeBooked, events.TypeConfirmed, events.TypeCheckedIn, events.TypeStarted, events.TypeCompleted,
	}, f.pub.types())

	_, err := f.svc.Transition(ctx, a.ID, EventCheckIn)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusCompleted, te.From)
	assert.Equal(t, EventCheckIn, te.Event)
}

func TestNoShowWritesCancellationRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, uuid.New(), nil, at(9, 0))

	updated, err := f.svc.Transition(ctx, a.ID, EventNoShow)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, updated.Status)

	rec, err := f.repo.GetCancellation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, CancellationNoShow, rec.Type)
	assert.Equal(t, RecoveryPending, rec.Recovery)
	assert.Equal(t, "NO_SHOW", f.pub.last().CancellationType)
}

func TestCancelClassifiesLateCancellations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soon := f.now.Add(3 * time.Hour)
	later := f.now.Add(72 * time.Hour)

	tests := []struct {
		name  string
		start time.Time
		typ   CancellationType
		want  CancellationType
	}{
		{"voluntary well ahead", later, "", CancellationVoluntary},
		{"voluntary inside window is late", soon, CancellationVoluntary, CancellationLate},
		{"practice initiated stays", soon, CancellationPracticeInitiated, CancellationPracticeInitiated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := f.book(t, uuid.New(), nil, tt.start)
			updated, err := f.svc.Cancel(ctx, a.ID, CancelRequest{Reason: "schedule change", Type: tt.typ})
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, updated.Status)
			assert.Equal(t, "schedule change", updated.CancelReason)

			rec, err := f.repo.GetCancellation(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Type)
			assert.Equal(t, string(tt.want), f.pub.last().CancellationType)
		})
	}

	a := f.book(t, uuid.New(), nil, later.Add(time.Hour))
	_, err := f.svc.Cancel(ctx, a.ID, CancelRequest{})
	assert.ErrorIs(t, err, ErrReasonRequired)
	_, err = f.svc.Cancel(ctx, a.ID, CancelRequest{Reason: "x", Type: CancellationNoShow})
	assert.ErrorIs(t, err, ErrInvalidCancellationType)

	_, err = f.svc.Cancel(ctx, a.ID, CancelRequest{Reason: "moving"})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, a.ID, CancelRequest{Reason: "again"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelFreesTheSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	a := f.book(t, provider, nil, at(14, 0))

	_, err := f.svc.Cancel(ctx, a.ID, CancelRequest{Reason: "sick"})
	require.NoError(t, err)
	assert.True(t, f.pub.last().FreedSlot)

	again := f.book(t, provider, nil, at(14, 0))
	assert.NotEqual(t, a.ID, again.ID)
}

func TestRecoveryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refilled := f.book(t, uuid.New(), nil, f.now.Add(48*time.Hour))
	lapsed := f.book(t, uuid.New(), nil, f.now.Add(-2*time.Hour))

	_, err := f.svc.Cancel(ctx, refilled.ID, CancelRequest{Reason: "travel"})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, lapsed.ID, CancelRequest{Reason: "travel"})
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkRecovered(ctx, refilled.ID))
	assert.ErrorIs(t, f.svc.MarkRecovered(ctx, refilled.ID), ErrCancellationNotFound)

	n, err := f.svc.CloseStaleCancellations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := f.repo.GetCancellation(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, RecoveryUnrecovered, rec.Recovery)
}

func TestRescheduleDetachesSeriesOccurrence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	seriesID := uuid.New()
	idx := 4

	occ, err := f.svc.Create(ctx, CreateRequest{
		PatientID:         uuid.New(),
		ProviderID:        provider,
		AppointmentTypeID: f.cleaning.ID,
		Start:             at(9, 0),
		Source:            SourceRecurrence,
		SeriesID:          &seriesID,
		SeriesIndex:       &idx,
	})
	require.NoError(t, err)

	moved, err := f.svc.Reschedule(ctx, occ.ID, RescheduleRequest{Start: at(11, 0)})
	require.NoError(t, err)
	assert.Nil(t, moved.SeriesID)
	assert.Equal(t, at(11, 30), moved.End)
	assert.Equal(t, occ.Version+1, moved.Version)

	inSeries, err := f.svc.ListBySeries(ctx, seriesID)
	require.NoError(t, err)
	assert.Empty(t, inSeries)
	assert.Equal(t, events.TypeRescheduled, f.pub.last().Type)
}

func TestRescheduleRevalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	blocker := f.book(t, provider, nil, at(10, 0))
	a := f.book(t, provider, nil, at(9, 0))

	_, err := f.svc.Reschedule(ctx, a.ID, RescheduleRequest{Start: at(10, 15)})
	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.Equal(t, []uuid.UUID{blocker.ID}, conflictErr.Conflicts.AppointmentIDs())

	// a slot that only overlaps the appointment itself is fine
	moved, err := f.svc.Reschedule(ctx, a.ID, RescheduleRequest{Start: at(9, 15)})
	require.NoError(t, err)
	assert.Equal(t, at(9, 15), moved.Start)

	_, err = f.svc.Transition(ctx, a.ID, EventCheckIn)
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, a.ID, RescheduleRequest{Start: at(13, 0)})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRescheduleClearsNeedsAttention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	f.book(t, provider, nil, at(9, 0))

	flagged, err := f.svc.Create(ctx, CreateRequest{
		PatientID:         uuid.New(),
		ProviderID:        provider,
		AppointmentTypeID: f.cleaning.ID,
		Start:             at(9, 0),
		FlagConflicts:     true,
	})
	require.NoError(t, err)

	resolved, err := f.svc.Reschedule(ctx, flagged.ID, RescheduleRequest{Start: at(15, 0)})
	require.NoError(t, err)
	assert.False(t, resolved.NeedsAttention())
	assert.True(t, resolved.Occupying())
}

func TestProviderBlockRejectsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := uuid.New()
	_, err := f.svc.AddProviderBlock(ctx, ProviderBlock{ProviderID: provider, Start: at(12, 0), End: at(13, 0), Reason: "lunch"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateRequest{PatientID: uuid.New(), ProviderID: provider, AppointmentTypeID: f.cleaning.ID, Start: at(12, 15)})
	var conflictErr *ConflictError
	require.True(t, errors.As(err, &conflictErr))
	assert.True(t, conflictErr.Conflicts.Has(DimensionProviderUnavailable))

	overridden, err := f.svc.Create(ctx, CreateRequest{PatientID: uuid.New(), ProviderID: provider, AppointmentTypeID: f.cleaning.ID, Start: at(12, 15), Override: true})
	require.NoError(t, err)
	assert.True(t, overridden.Override)
	assert.Empty(t, overridden.OverriddenIDs)
}

func TestUpdateTypeFreezesStructureOnceReferenced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	renamed := *f.cleaning
	renamed.Duration = 45 * time.Minute
	updated, err := f.svc.UpdateType(ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, updated.Duration)

	f.book(t, uuid.New(), nil, at(9, 0))

	longer := *updated
	longer.Duration = time.Hour
	_, err = f.svc.UpdateType(ctx, longer)
	assert.ErrorIs(t, err, ErrTypeInUse)

	recolored := *updated
	recolored.Name = "Hygiene"
	recolored.Color = "#00aa88"
	got, err := f.svc.UpdateType(ctx, recolored)
	require.NoError(t, err)
	assert.Equal(t, "Hygiene", got.Name)
}

func TestPatientHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()
	for i, h := range []int{9, 11, 13} {
		a, err := f.svc.Create(ctx, CreateRequest{PatientID: patient, ProviderID: uuid.New(), AppointmentTypeID: f.cleaning.ID, Start: at(h, 0)})
		require.NoError(t, err)
		if i == 1 {
			_, err = f.svc.Transition(ctx, a.ID, EventNoShow)
			require.NoError(t, err)
		}
	}

	h, err := f.svc.PatientHistory(ctx, patient)
	require.NoError(t, err)
	assert.Len(t, h.Appointments, 3)
	require.Len(t, h.Cancellations, 1)
	assert.Equal(t, CancellationNoShow, h.Cancellations[0].Type)

	ids, err := f.svc.ListPatientIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, patient)
}
