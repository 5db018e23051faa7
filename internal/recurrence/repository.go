package recurrence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s Series) (*Series, error)
	Get(ctx context.Context, id uuid.UUID) (*Series, error)
	ListByStatus(ctx context.Context, status Status) ([]Series, error)
	// AdvanceCursor moves GeneratedCount from `from` to `to` only while the
	// series is still ACTIVE at `from`; otherwise ErrCursorMoved.
	AdvanceCursor(ctx context.Context, id uuid.UUID, from, to int) error
	// UpdateStatus is conditional on the current status; a mismatch reports
	// ErrInvalidSeriesOp.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, resumedAt *time.Time) (*Series, error)
}
