package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/scheduling-core/internal/db"
)

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithExec(q db.Querier) *PgRepository {
	return &PgRepository{pool: q}
}

const seriesColumns = `
	id, patient_id, provider_id, resource_ids, appointment_type_id,
	frequency, interval_count, days_of_week, day_of_month, week_of_month,
	start_at, time_zone, end_date, max_occurrences, generated_count, resumed_at,
	status, version, created_at, updated_at`

func scanSeries(row pgx.Row) (*Series, error) {
	var s Series
	var frequency, status string
	var days []int

	err := row.Scan(
		&s.ID, &s.PatientID, &s.ProviderID, &s.ResourceIDs, &s.AppointmentTypeID,
		&frequency, &s.Pattern.Interval, &days, &s.Pattern.DayOfMonth, &s.Pattern.WeekOfMonth,
		&s.StartAt, &s.TimeZone, &s.EndDate, &s.MaxOccurrences, &s.GeneratedCount, &s.ResumedAt,
		&status, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSeriesNotFound
		}
		return nil, err
	}

	s.Pattern.Frequency = Frequency(frequency)
	s.Status = Status(status)
	for _, d := range days {
		s.Pattern.DaysOfWeek = append(s.Pattern.DaysOfWeek, time.Weekday(d))
	}
	return &s, nil
}

func (r *PgRepository) Create(ctx context.Context, s Series) (*Series, error) {
	days := make([]int, len(s.Pattern.DaysOfWeek))
	for i, d := range s.Pattern.DaysOfWeek {
		days[i] = int(d)
	}
	resources := s.ResourceIDs
	if resources == nil {
		resources = []uuid.UUID{}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO recurring_series (
			id, patient_id, provider_id, resource_ids, appointment_type_id,
			frequency, interval_count, days_of_week, day_of_month, week_of_month,
			start_at, time_zone, end_date, max_occurrences, generated_count, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING `+seriesColumns,
		s.ID, s.PatientID, s.ProviderID, resources, s.AppointmentTypeID,
		string(s.Pattern.Frequency), s.Pattern.Interval, days, s.Pattern.DayOfMonth, s.Pattern.WeekOfMonth,
		s.StartAt, s.TimeZone, s.EndDate, s.MaxOccurrences, s.GeneratedCount, string(s.Status))
	return scanSeries(row)
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Series, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+seriesColumns+` FROM recurring_series WHERE id = $1`, id)
	return scanSeries(row)
}

func (r *PgRepository) ListByStatus(ctx context.Context, status Status) ([]Series, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+seriesColumns+`
		FROM recurring_series
		WHERE status = $1
		ORDER BY created_at, id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list series by status: %w", err)
	}
	defer rows.Close()

	var result []Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) AdvanceCursor(ctx context.Context, id uuid.UUID, from, to int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recurring_series
		SET generated_count = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND generated_count = $2 AND status = 'ACTIVE'
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("advance series cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCursorMoved
	}
	return nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, resumedAt *time.Time) (*Series, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE recurring_series
		SET status = $3,
		    resumed_at = COALESCE($4, resumed_at),
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+seriesColumns,
		id, string(from), string(to), resumedAt)
	s, err := scanSeries(row)
	if errors.Is(err, ErrSeriesNotFound) {
		return nil, ErrInvalidSeriesOp
	}
	return s, err
}
