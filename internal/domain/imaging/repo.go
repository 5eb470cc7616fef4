package imaging

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("image record not found")

type Repository interface {
	Create(ctx context.Context, img *ImageRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*ImageRecord, error)
	ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*ImageRecord, error)
	CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error)
}
