package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/scheduling-core/internal/appointment"
	"github.com/hackgods/scheduling-core/internal/config"
	"github.com/hackgods/scheduling-core/internal/waitlist"
)

func memoryConfig() config.Config {
	return config.Config{
		StorageDriver:        config.StorageMemory,
		LockTTL:              time.Second,
		LockAttempts:         3,
		LockRetryDelay:       time.Millisecond,
		LateCancelWindow:     24 * time.Hour,
		GenerationHorizon:    30 * 24 * time.Hour,
		WaitlistHoldPeriod:   30 * time.Minute,
		WaitlistMaxOffers:    3,
		WaitlistEntryTTL:     30 * 24 * time.Hour,
		NotifyMaxAttempts:    1,
		NotifyBaseDelay:      time.Millisecond,
		ClinicTimeZone:       "UTC",
		RiskThresholds:       [3]float64{30, 60, 80},
		RiskBaselineDays:     90,
		RiskDecayConcurrency: 2,
	}
}

func TestMemoryAppRoutesCancellationsToSubscribers(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	a.Start(ctx)

	typ, err := a.Appointments.CreateType(ctx, appointment.AppointmentType{Name: "Exam", Duration: 30 * time.Minute})
	require.NoError(t, err)

	provider := uuid.New()
	waiting := uuid.New()
	_, err = a.Waitlist.CreateEntry(ctx, waitlist.CreateEntryRequest{PatientID: waiting, ProviderID: &provider})
	require.NoError(t, err)

	booked, err := a.Appointments.Create(ctx, appointment.CreateRequest{
		PatientID:         uuid.New(),
		ProviderID:        provider,
		AppointmentTypeID: typ.ID,
		Start:             time.Now().Add(72 * time.Hour).Truncate(time.Minute),
	})
	require.NoError(t, err)
	_, err = a.Appointments.Cancel(ctx, booked.ID, appointment.CancelRequest{Reason: "moved away"})
	require.NoError(t, err)

	// Close drains the bus, so every subscriber has run afterwards.
	a.Close()

	offers, err := a.Waitlist.PendingOffers(ctx, waiting)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, booked.ID, offers[0].Opening.SourceAppointmentID)

	snap, err := a.Risk.Snapshot(ctx, booked.PatientID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Factors.Cancellations)
}

func TestUnknownClinicZoneFails(t *testing.T) {
	cfg := memoryConfig()
	cfg.ClinicTimeZone = "Mars/Olympus_Mons"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}
