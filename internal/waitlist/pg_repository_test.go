package waitlist

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	entryRowColumns = []string{
		"id", "patient_id", "provider_id", "appointment_type_id", "windows", "priority", "status",
		"offer_count", "needs_follow_up", "expires_at", "created_at", "updated_at",
	}
	offerRowColumns = []string{
		"id", "entry_id", "patient_id", "source_appointment_id", "provider_id", "resource_ids",
		"appointment_type_id", "start_time", "end_time", "status", "expires_at", "created_at", "updated_at",
	}
)

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPgRepositoryWithExec(mock), mock
}

func TestPgGetEntryDecodesWindows(t *testing.T) {
	repo, mock := newMockRepo(t)
	id, patient := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT").WithArgs(id).WillReturnRows(
		pgxmock.NewRows(entryRowColumns).AddRow(
			id, patient, (*uuid.UUID)(nil), (*uuid.UUID)(nil),
			[]byte(`[{"days":[1,3],"earliest_minute":540,"latest_minute":720}]`),
			"URGENT", "ACTIVE", 0, false, now.Add(time.Hour), now, now,
		),
	)

	e, err := repo.GetEntry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, PriorityUrgent, e.Priority)
	assert.Equal(t, EntryActive, e.Status)
	require.Len(t, e.Windows, 1)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, e.Windows[0].Days)
	assert.Equal(t, 540, e.Windows[0].EarliestMinute)
	assert.Nil(t, e.ProviderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateOfferClaimsEntry(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	o := Offer{
		ID:        uuid.New(),
		EntryID:   uuid.New(),
		PatientID: uuid.New(),
		Opening: Opening{
			SourceAppointmentID: uuid.New(),
			ProviderID:          uuid.New(),
			AppointmentTypeID:   uuid.New(),
			Start:               start,
			End:                 start.Add(30 * time.Minute),
		},
		Status:    OfferPending,
		ExpiresAt: now.Add(30 * time.Minute),
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE waitlist_entries").WithArgs(o.EntryID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO waitlist_offers").
		WithArgs(o.ID, o.EntryID, o.PatientID, o.Opening.SourceAppointmentID, o.Opening.ProviderID, []uuid.UUID{},
			o.Opening.AppointmentTypeID, o.Opening.Start, o.Opening.End, "PENDING", o.ExpiresAt).
		WillReturnRows(pgxmock.NewRows(offerRowColumns).AddRow(
			o.ID, o.EntryID, o.PatientID, o.Opening.SourceAppointmentID, o.Opening.ProviderID, []uuid.UUID{},
			o.Opening.AppointmentTypeID, o.Opening.Start, o.Opening.End, "PENDING", o.ExpiresAt, now, now,
		))
	mock.ExpectCommit()

	created, err := repo.CreateOffer(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, OfferPending, created.Status)
	assert.Equal(t, o.Opening.Start, created.Opening.Start)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgCreateOfferEntryAlreadyClaimed(t *testing.T) {
	repo, mock := newMockRepo(t)
	o := Offer{ID: uuid.New(), EntryID: uuid.New()}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE waitlist_entries").WithArgs(o.EntryID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := repo.CreateOffer(context.Background(), o)
	assert.ErrorIs(t, err, ErrEntryStateChanged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgResolveOfferNotPending(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE waitlist_offers").WithArgs(id, "PENDING", "ACCEPTED").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT").WithArgs(id).WillReturnRows(
		pgxmock.NewRows(offerRowColumns).AddRow(
			id, uuid.New(), uuid.New(), uuid.New(), uuid.New(), []uuid.UUID{},
			uuid.New(), now, now.Add(time.Hour), "DECLINED", now, now, now,
		),
	)

	_, err := repo.ResolveOffer(context.Background(), id, OfferPending, OfferAccepted)
	assert.ErrorIs(t, err, ErrOfferNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgExpireEntries(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE waitlist_entries").WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := repo.ExpireEntries(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
