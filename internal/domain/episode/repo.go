package episode

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrConcurrentModification marks an optimistic-concurrency conflict: the
// episode's version moved between read and conditional write. The caller
// should re-read and retry.
var ErrConcurrentModification = errors.New("episode was modified concurrently")

// ErrActiveEpisodeExists marks a violation of the one-active-episode-per-
// patient invariant, enforced by the store at write time.
var ErrActiveEpisodeExists = errors.New("patient already has an active episode")

var ErrNotFound = errors.New("episode not found")

type Repository interface {
	// Create inserts the episode, failing with ErrActiveEpisodeExists if the
	// patient already has a non-finalized, non-discarded episode.
	Create(ctx context.Context, e *Episode) error
	GetByID(ctx context.Context, id uuid.UUID) (*Episode, error)
	// UpdateStatus conditionally moves the episode to the given status if its
	// stored version still matches e.Version, bumping e.Version on success.
	// Fails with ErrConcurrentModification when the version has moved.
	UpdateStatus(ctx context.Context, e *Episode, to Status) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error)
}
