package waitlist

import (
	"context"
	"encoding/json"
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

const entryColumns = `
	id, patient_id, provider_id, appointment_type_id, windows, priority, status,
	offer_count, needs_follow_up, expires_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var windows []byte
	var priority, status string

	err := row.Scan(
		&e.ID, &e.PatientID, &e.ProviderID, &e.AppointmentTypeID, &windows, &priority, &status,
		&e.OfferCount, &e.NeedsFollowUp, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	if len(windows) > 0 {
		if err := json.Unmarshal(windows, &e.Windows); err != nil {
			return nil, fmt.Errorf("decode entry windows: %w", err)
		}
	}
	e.Priority = Priority(priority)
	e.Status = EntryStatus(status)
	return &e, nil
}

func (r *PgRepository) listEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list waitlist entries: %w", err)
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateEntry(ctx context.Context, e Entry) (*Entry, error) {
	windows := e.Windows
	if windows == nil {
		windows = []Window{}
	}
	raw, err := json.Marshal(windows)
	if err != nil {
		return nil, fmt.Errorf("encode entry windows: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO waitlist_entries (
			id, patient_id, provider_id, appointment_type_id, windows, priority, priority_rank,
			status, expires_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+entryColumns,
		e.ID, e.PatientID, e.ProviderID, e.AppointmentTypeID, raw, string(e.Priority), e.Priority.Rank(),
		string(e.Status), e.ExpiresAt, e.CreatedAt)
	return scanEntry(row)
}

func (r *PgRepository) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM waitlist_entries WHERE id = $1`, id)
	return scanEntry(row)
}

func (r *PgRepository) ListEntriesByPatient(ctx context.Context, patientID uuid.UUID) ([]Entry, error) {
	return r.listEntries(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE patient_id = $1
		ORDER BY priority_rank, created_at, id
	`, patientID)
}

func (r *PgRepository) ListActiveEntries(ctx context.Context) ([]Entry, error) {
	return r.listEntries(ctx, `
		SELECT `+entryColumns+`
		FROM waitlist_entries
		WHERE status = 'ACTIVE'
		ORDER BY priority_rank, created_at, id
	`)
}

func (r *PgRepository) UpdateEntryStatus(ctx context.Context, id uuid.UUID, from, to EntryStatus) (*Entry, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+entryColumns,
		id, string(from), string(to))
	e, err := scanEntry(row)
	if errors.Is(err, ErrEntryNotFound) {
		if _, gerr := r.GetEntry(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrEntryStateChanged
	}
	return e, err
}

func (r *PgRepository) SetFollowUp(ctx context.Context, id uuid.UUID, needed bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries SET needs_follow_up = $2, updated_at = now() WHERE id = $1
	`, id, needed)
	if err != nil {
		return fmt.Errorf("set follow-up: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *PgRepository) ExpireEntries(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'EXPIRED', updated_at = now()
		WHERE status = 'ACTIVE' AND expires_at <= $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("expire waitlist entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Offers

const offerColumns = `
	id, entry_id, patient_id, source_appointment_id, provider_id, resource_ids,
	appointment_type_id, start_time, end_time, status, expires_at, created_at, updated_at`

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var status string

	err := row.Scan(
		&o.ID, &o.EntryID, &o.PatientID, &o.Opening.SourceAppointmentID, &o.Opening.ProviderID, &o.Opening.ResourceIDs,
		&o.Opening.AppointmentTypeID, &o.Opening.Start, &o.Opening.End, &status, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	o.Status = OfferStatus(status)
	return &o, nil
}

func (r *PgRepository) listOffers(ctx context.Context, query string, args ...any) ([]Offer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list waitlist offers: %w", err)
	}
	defer rows.Close()

	var result []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateOffer(ctx context.Context, o Offer) (*Offer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'NOTIFIED', offer_count = offer_count + 1, updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE'
	`, o.EntryID)
	if err != nil {
		return nil, fmt.Errorf("claim waitlist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrEntryStateChanged
	}

	resources := o.Opening.ResourceIDs
	if resources == nil {
		resources = []uuid.UUID{}
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO waitlist_offers (
			id, entry_id, patient_id, source_appointment_id, provider_id, resource_ids,
			appointment_type_id, start_time, end_time, status, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+offerColumns,
		o.ID, o.EntryID, o.PatientID, o.Opening.SourceAppointmentID, o.Opening.ProviderID, resources,
		o.Opening.AppointmentTypeID, o.Opening.Start, o.Opening.End, string(o.Status), o.ExpiresAt)
	created, err := scanOffer(row)
	if err != nil {
		return nil, fmt.Errorf("insert offer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit offer: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetOffer(ctx context.Context, id uuid.UUID) (*Offer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM waitlist_offers WHERE id = $1`, id)
	return scanOffer(row)
}

func (r *PgRepository) ListOffersByPatient(ctx context.Context, patientID uuid.UUID, status OfferStatus) ([]Offer, error) {
	return r.listOffers(ctx, `
		SELECT `+offerColumns+`
		FROM waitlist_offers
		WHERE patient_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at
	`, patientID, string(status))
}

func (r *PgRepository) ListOffersByOpening(ctx context.Context, sourceAppointmentID uuid.UUID) ([]Offer, error) {
	return r.listOffers(ctx, `
		SELECT `+offerColumns+`
		FROM waitlist_offers
		WHERE source_appointment_id = $1
		ORDER BY created_at
	`, sourceAppointmentID)
}

func (r *PgRepository) ListExpiredOffers(ctx context.Context, before time.Time) ([]Offer, error) {
	return r.listOffers(ctx, `
		SELECT `+offerColumns+`
		FROM waitlist_offers
		WHERE status = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at
	`, before)
}

func (r *PgRepository) ResolveOffer(ctx context.Context, id uuid.UUID, from, to OfferStatus) (*Offer, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE waitlist_offers
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+offerColumns,
		id, string(from), string(to))
	o, err := scanOffer(row)
	if errors.Is(err, ErrOfferNotFound) {
		if _, gerr := r.GetOffer(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrOfferNotPending
	}
	return o, err
}

var _ Repository = (*PgRepository)(nil)
