package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/scheduling-core/internal/db"
)

// Store keeps snapshots append-only.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Latest(ctx context.Context, patientID uuid.UUID) (*Snapshot, error)
}

type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID][]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[uuid.UUID][]Snapshot)}
}

func (m *MemoryStore) Save(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.PatientID] = append(m.snapshots[s.PatientID], s)
	return nil
}

func (m *MemoryStore) Latest(_ context.Context, patientID uuid.UUID) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Snapshot
	for i := range m.snapshots[patientID] {
		s := m.snapshots[patientID][i]
		if latest == nil || !s.ComputedAt.Before(latest.ComputedAt) {
			latest = &s
		}
	}
	if latest == nil {
		return nil, ErrSnapshotNotFound
	}
	return latest, nil
}

// History returns every snapshot for a patient in insertion order.
func (m *MemoryStore) History(patientID uuid.UUID) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.snapshots[patientID]...)
}

type PgStore struct {
	pool db.Querier
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func newPgStoreWithExec(q db.Querier) *PgStore {
	return &PgStore{pool: q}
}

func (p *PgStore) Save(ctx context.Context, s Snapshot) error {
	factors, err := json.Marshal(s.Factors)
	if err != nil {
		return fmt.Errorf("encode risk factors: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO risk_snapshots (id, patient_id, score, factors, computed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.PatientID, s.Score, factors, s.ComputedAt)
	if err != nil {
		return fmt.Errorf("insert risk snapshot: %w", err)
	}
	return nil
}

func (p *PgStore) Latest(ctx context.Context, patientID uuid.UUID) (*Snapshot, error) {
	var s Snapshot
	var factors []byte
	err := p.pool.QueryRow(ctx, `
		SELECT id, patient_id, score::float8, factors, computed_at
		FROM risk_snapshots
		WHERE patient_id = $1
		ORDER BY computed_at DESC
		LIMIT 1
	`, patientID).Scan(&s.ID, &s.PatientID, &s.Score, &factors, &s.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(factors, &s.Factors); err != nil {
		return nil, fmt.Errorf("decode risk factors: %w", err)
	}
	return &s, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PgStore)(nil)
)
