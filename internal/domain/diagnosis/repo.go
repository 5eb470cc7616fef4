package diagnosis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("diagnosis not found")

type Repository interface {
	Create(ctx context.Context, d *Diagnosis) error
	GetByEpisode(ctx context.Context, episodeID uuid.UUID) (*Diagnosis, error)
	// AcquireLock atomically claims the review lock for holder if the lock is
	// free or expired as of now. Returns false when another holder owns a
	// live lock.
	AcquireLock(ctx context.Context, episodeID uuid.UUID, holder string, expiry, now time.Time) (bool, error)
	// ReleaseLock clears the lock if holder owns it. Returns false otherwise.
	ReleaseLock(ctx context.Context, episodeID uuid.UUID, holder string) (bool, error)
	// Update persists status, reviewer, note, source findings and finalized_at,
	// clearing the lock fields.
	Update(ctx context.Context, d *Diagnosis) error
}
