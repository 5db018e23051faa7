package recurrence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	series map[uuid.UUID]Series
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{series: make(map[uuid.UUID]Series)}
}

func (r *MemoryRepository) Create(_ context.Context, s Series) (*Series, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	s.Version = 1
	r.series[s.ID] = s
	return &s, nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Series, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.series[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) ListByStatus(_ context.Context, status Status) ([]Series, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Series
	for _, s := range r.series {
		if s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) AdvanceCursor(_ context.Context, id uuid.UUID, from, to int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[id]
	if !ok {
		return ErrSeriesNotFound
	}
	if s.Status != StatusActive || s.GeneratedCount != from {
		return ErrCursorMoved
	}
	s.GeneratedCount = to
	s.Version++
	s.UpdatedAt = time.Now()
	r.series[id] = s
	return nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, resumedAt *time.Time) (*Series, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[id]
	if !ok {
		return nil, ErrSeriesNotFound
	}
	if s.Status != from {
		return nil, ErrInvalidSeriesOp
	}
	s.Status = to
	if resumedAt != nil {
		s.ResumedAt = resumedAt
	}
	s.Version++
	s.UpdatedAt = time.Now()
	r.series[id] = s
	return &s, nil
}
