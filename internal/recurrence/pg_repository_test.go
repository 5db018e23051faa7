package recurrence

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

var seriesRowColumns = []string{
	"id", "patient_id", "provider_id", "resource_ids", "appointment_type_id",
	"frequency", "interval_count", "days_of_week", "day_of_month", "week_of_month",
	"start_at", "time_zone", "end_date", "max_occurrences", "generated_count", "resumed_at",
	"status", "version", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PgRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPgRepositoryWithExec(mock), mock
}

func TestPgGetSeries(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	start := utc(2026, 3, 2, 9)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT").WithArgs(id).WillReturnRows(
		pgxmock.NewRows(seriesRowColumns).AddRow(
			id, uuid.New(), uuid.New(), []uuid.UUID{}, uuid.New(),
			"WEEKLY", 1, []int{1, 3}, 0, 0,
			start, "UTC", (*time.Time)(nil), 10, 4, (*time.Time)(nil),
			"ACTIVE", 5, now, now,
		),
	)

	s, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, Weekly, s.Pattern.Frequency)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, s.Pattern.DaysOfWeek)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, 4, s.GeneratedCount)
	assert.Nil(t, s.EndDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetSeriesNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrSeriesNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgAdvanceCursor(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE recurring_series").WithArgs(id, 3, 4).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE recurring_series").WithArgs(id, 3, 4).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.AdvanceCursor(context.Background(), id, 3, 4))
	assert.ErrorIs(t, repo.AdvanceCursor(context.Background(), id, 3, 4), ErrCursorMoved)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateStatusMismatch(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("UPDATE recurring_series").
		WithArgs(id, "ACTIVE", "PAUSED", (*time.Time)(nil)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateStatus(context.Background(), id, StatusActive, StatusPaused, nil)
	assert.ErrorIs(t, err, ErrInvalidSeriesOp)
	require.NoError(t, mock.ExpectationsWereMet())
}
