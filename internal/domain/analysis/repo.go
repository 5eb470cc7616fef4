package analysis

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("finding not found")

type Repository interface {
	Create(ctx context.Context, f *Finding) error
	GetByID(ctx context.Context, id uuid.UUID) (*Finding, error)
	// GetByImageAndModel returns the existing finding for an image/model
	// version pair, backing idempotent analysis runs.
	GetByImageAndModel(ctx context.Context, imageID uuid.UUID, modelVersion string) (*Finding, error)
	ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*Finding, error)
}
