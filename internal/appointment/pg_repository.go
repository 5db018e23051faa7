package appointment

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

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `
	a.id, a.patient_id, a.provider_id,
	ARRAY(SELECT r.resource_id FROM appointment_resources r WHERE r.appointment_id = a.id ORDER BY r.resource_id),
	a.appointment_type_id, a.start_time, a.end_time, a.buffered_start, a.buffered_end,
	a.status, a.sub_status, a.source, a.series_id, a.series_index,
	a.override_flag, a.overridden_ids, a.cancel_reason, a.version, a.created_at, a.updated_at`

const occupyingPredicate = `a.status IN ('SCHEDULED', 'CONFIRMED', 'CHECKED_IN', 'IN_PROGRESS', 'COMPLETED') AND a.sub_status = ''`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, subStatus, source string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.ResourceIDs,
		&a.AppointmentTypeID,
		&a.Start,
		&a.End,
		&a.BufferedStart,
		&a.BufferedEnd,
		&status,
		&subStatus,
		&source,
		&a.SeriesID,
		&a.SeriesIndex,
		&a.Override,
		&a.OverriddenIDs,
		&a.CancelReason,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = Status(status)
	a.SubStatus = SubStatus(subStatus)
	a.Source = Source(source)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanType(row pgx.Row) (*AppointmentType, error) {
	var t AppointmentType
	var duration, pre, post int

	err := row.Scan(&t.ID, &t.Name, &t.Color, &duration, &pre, &post, &t.ResourceCategories, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTypeNotFound
		}
		return nil, err
	}

	t.Duration = time.Duration(duration) * time.Minute
	t.PreBuffer = time.Duration(pre) * time.Minute
	t.PostBuffer = time.Duration(post) * time.Minute
	return &t, nil
}

func scanCancellation(row pgx.Row) (*CancellationRecord, error) {
	var c CancellationRecord
	var typ, recovery string

	err := row.Scan(&c.ID, &c.AppointmentID, &c.PatientID, &typ, &c.Reason, &recovery, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCancellationNotFound
		}
		return nil, err
	}

	c.Type = CancellationType(typ)
	c.Recovery = RecoveryStatus(recovery)
	return &c, nil
}

// translateWriteError maps constraint failures onto domain errors.
func translateWriteError(err error) error {
	switch {
	case db.IsCode(err, db.CodeExclusionViolation):
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	case db.IsCode(err, db.CodeUniqueViolation):
		return ErrDuplicateOccurrence
	}
	return err
}

func minutes(d time.Duration) int { return int(d / time.Minute) }

// Appointment types

const typeColumns = `id, name, color, duration_minutes, pre_buffer_minutes, post_buffer_minutes, resource_categories, created_at, updated_at`

func (r *PgRepository) GetType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+typeColumns+` FROM appointment_types WHERE id = $1`, id)
	return scanType(row)
}

func (r *PgRepository) ListTypes(ctx context.Context) ([]AppointmentType, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+typeColumns+` FROM appointment_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list appointment types: %w", err)
	}
	defer rows.Close()

	var result []AppointmentType
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertType(ctx context.Context, t AppointmentType) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_types (id, name, color, duration_minutes, pre_buffer_minutes, post_buffer_minutes, resource_categories)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+typeColumns,
		t.ID, t.Name, t.Color, minutes(t.Duration), minutes(t.PreBuffer), minutes(t.PostBuffer), t.ResourceCategories)
	return scanType(row)
}

func (r *PgRepository) UpdateType(ctx context.Context, t AppointmentType) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointment_types
		SET name = $2, color = $3, duration_minutes = $4, pre_buffer_minutes = $5,
		    post_buffer_minutes = $6, resource_categories = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+typeColumns,
		t.ID, t.Name, t.Color, minutes(t.Duration), minutes(t.PreBuffer), minutes(t.PostBuffer), t.ResourceCategories)
	return scanType(row)
}

func (r *PgRepository) CountByType(ctx context.Context, typeID uuid.UUID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE appointment_type_id = $1`, typeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments by type: %w", err)
	}
	return n, nil
}

// Reads

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, r.pool, id)
}

func getAppointment(ctx context.Context, q rowQuerier, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments a WHERE a.id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.patient_id = $1
		ORDER BY a.start_time, a.id
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.provider_id = $1 AND a.start_time >= $2 AND a.start_time < $3
		ORDER BY a.start_time, a.id
	`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by provider: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.series_id = $1
		ORDER BY a.series_index
	`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by series: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) PatientTimeline(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.patient_id = $1
		ORDER BY a.start_time, a.id
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient timeline: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListPatientIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT patient_id FROM appointments ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("list patient ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// For conflict checks

func (r *PgRepository) FindOverlapping(ctx context.Context, q OverlapQuery) ([]Appointment, error) {
	resourceIDs := q.ResourceIDs
	if resourceIDs == nil {
		resourceIDs = []uuid.UUID{}
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.buffered_start < $2
		  AND a.buffered_end > $1
		  AND `+occupyingPredicate+`
		  AND (a.provider_id = $3
		       OR a.patient_id = $4
		       OR EXISTS (SELECT 1 FROM appointment_resources r
		                  WHERE r.appointment_id = a.id AND r.resource_id = ANY($5)))
		ORDER BY a.buffered_start, a.id
	`, q.From, q.To, q.ProviderID, q.PatientID, resourceIDs)
	if err != nil {
		return nil, fmt.Errorf("find overlapping appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListProviderBlocks(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]ProviderBlock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, start_time, end_time, reason
		FROM provider_blocks
		WHERE provider_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list provider blocks: %w", err)
	}
	defer rows.Close()

	var blocks []ProviderBlock
	for rows.Next() {
		var b ProviderBlock
		if err := rows.Scan(&b.ID, &b.ProviderID, &b.Start, &b.End, &b.Reason); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (r *PgRepository) InsertProviderBlock(ctx context.Context, b ProviderBlock) (*ProviderBlock, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO provider_blocks (id, provider_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, b.ID, b.ProviderID, b.Start, b.End, b.Reason)
	if err != nil {
		return nil, fmt.Errorf("insert provider block: %w", err)
	}
	return &b, nil
}

// Writes

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	return r.inTx(ctx, func(tx pgx.Tx) (*Appointment, error) {
		overridden := a.OverriddenIDs
		if overridden == nil {
			overridden = []uuid.UUID{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (
				id, patient_id, provider_id, appointment_type_id, start_time, end_time,
				buffered_start, buffered_end, status, sub_status, source, series_id, series_index,
				override_flag, overridden_ids, cancel_reason, version, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, now(), now())
		`, a.ID, a.PatientID, a.ProviderID, a.AppointmentTypeID, a.Start, a.End,
			a.BufferedStart, a.BufferedEnd, string(a.Status), string(a.SubStatus), string(a.Source),
			a.SeriesID, a.SeriesIndex, a.Override, overridden, a.CancelReason)
		if err != nil {
			return nil, translateWriteError(err)
		}

		if err := writeResources(ctx, tx, &a); err != nil {
			return nil, err
		}
		if a.Override && len(a.OverriddenIDs) > 0 {
			if err := flagOverridden(ctx, tx, a.OverriddenIDs); err != nil {
				return nil, err
			}
		}
		return getAppointment(ctx, tx, a.ID)
	})
}

func (r *PgRepository) UpdateSchedule(ctx context.Context, a Appointment) (*Appointment, error) {
	return r.inTx(ctx, func(tx pgx.Tx) (*Appointment, error) {
		overridden := a.OverriddenIDs
		if overridden == nil {
			overridden = []uuid.UUID{}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET provider_id = $3, start_time = $4, end_time = $5, buffered_start = $6, buffered_end = $7,
			    sub_status = $8, series_id = $9, series_index = $10, override_flag = $11,
			    overridden_ids = $12, version = version + 1, updated_at = now()
			WHERE id = $1 AND version = $2
		`, a.ID, a.Version, a.ProviderID, a.Start, a.End, a.BufferedStart, a.BufferedEnd,
			string(a.SubStatus), a.SeriesID, a.SeriesIndex, a.Override, overridden)
		if err != nil {
			return nil, translateWriteError(err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrStaleAppointment
		}

		if _, err := tx.Exec(ctx, `DELETE FROM appointment_resources WHERE appointment_id = $1`, a.ID); err != nil {
			return nil, fmt.Errorf("clear appointment resources: %w", err)
		}
		if err := writeResources(ctx, tx, &a); err != nil {
			return nil, err
		}
		if a.Override && len(a.OverriddenIDs) > 0 {
			if err := flagOverridden(ctx, tx, a.OverriddenIDs); err != nil {
				return nil, err
			}
		}
		return getAppointment(ctx, tx, a.ID)
	})
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	return r.inTx(ctx, func(tx pgx.Tx) (*Appointment, error) {
		if err := updateStatusTx(ctx, tx, id, from, to, ""); err != nil {
			return nil, err
		}
		return getAppointment(ctx, tx, id)
	})
}

func (r *PgRepository) ClearOverride(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.inTx(ctx, func(tx pgx.Tx) (*Appointment, error) {
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET override_flag = false, overridden_ids = '{}', version = version + 1, updated_at = now()
			WHERE id = $1
		`, id)
		if err != nil {
			return nil, translateWriteError(err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrAppointmentNotFound
		}
		a, err := getAppointment(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `UPDATE appointment_resources SET occupying = $2 WHERE appointment_id = $1`, id, a.Exclusive()); err != nil {
			return nil, translateWriteError(err)
		}
		return a, nil
	})
}

func (r *PgRepository) CloseWithCancellation(ctx context.Context, id uuid.UUID, from, to Status, rec CancellationRecord) (*Appointment, error) {
	return r.inTx(ctx, func(tx pgx.Tx) (*Appointment, error) {
		if err := updateStatusTx(ctx, tx, id, from, to, rec.Reason); err != nil {
			return nil, err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO cancellation_records (id, appointment_id, patient_id, cancellation_type, reason, recovery_status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, rec.ID, id, rec.PatientID, string(rec.Type), rec.Reason, string(rec.Recovery))
		if err != nil {
			if db.IsCode(err, db.CodeUniqueViolation) {
				return nil, ErrStaleAppointment
			}
			return nil, fmt.Errorf("insert cancellation record: %w", err)
		}
		return getAppointment(ctx, tx, id)
	})
}

func updateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to Status, reason string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = CASE WHEN $4::text = '' THEN cancel_reason ELSE $4::text END,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, id, string(to), string(from), reason)
	if err != nil {
		return translateWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	if !to.occupiesTime() {
		if _, err := tx.Exec(ctx, `UPDATE appointment_resources SET occupying = false WHERE appointment_id = $1`, id); err != nil {
			return fmt.Errorf("release appointment resources: %w", err)
		}
	}
	return nil
}

func writeResources(ctx context.Context, tx pgx.Tx, a *Appointment) error {
	for _, rid := range a.ResourceIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointment_resources (appointment_id, resource_id, buffered_start, buffered_end, occupying)
			VALUES ($1, $2, $3, $4, $5)
		`, a.ID, rid, a.BufferedStart, a.BufferedEnd, a.Exclusive())
		if err != nil {
			return translateWriteError(err)
		}
	}
	return nil
}

func flagOverridden(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	if _, err := tx.Exec(ctx, `UPDATE appointments SET override_flag = true, updated_at = now() WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("flag overridden appointments: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE appointment_resources SET occupying = false WHERE appointment_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("release overridden resources: %w", err)
	}
	return nil
}

func (r *PgRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) (*Appointment, error)) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateWriteError(err)
	}
	return a, nil
}

// Cancellation records

const cancellationColumns = `id, appointment_id, patient_id, cancellation_type, reason, recovery_status, created_at, updated_at`

func (r *PgRepository) GetCancellation(ctx context.Context, appointmentID uuid.UUID) (*CancellationRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+cancellationColumns+` FROM cancellation_records WHERE appointment_id = $1`, appointmentID)
	return scanCancellation(row)
}

func (r *PgRepository) ListCancellationsByPatient(ctx context.Context, patientID uuid.UUID) ([]CancellationRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+cancellationColumns+`
		FROM cancellation_records
		WHERE patient_id = $1
		ORDER BY created_at
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list cancellations by patient: %w", err)
	}
	defer rows.Close()

	var result []CancellationRecord
	for rows.Next() {
		c, err := scanCancellation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func (r *PgRepository) UpdateRecovery(ctx context.Context, appointmentID uuid.UUID, from, to RecoveryStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cancellation_records
		SET recovery_status = $2, updated_at = now()
		WHERE appointment_id = $1 AND recovery_status = $3
	`, appointmentID, string(to), string(from))
	if err != nil {
		return fmt.Errorf("update recovery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCancellationNotFound
	}
	return nil
}

func (r *PgRepository) MarkUnrecoveredBefore(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE cancellation_records c
		SET recovery_status = 'UNRECOVERED', updated_at = now()
		FROM appointments a
		WHERE c.appointment_id = a.id
		  AND c.recovery_status = 'PENDING'
		  AND a.start_time < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("mark unrecovered cancellations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
