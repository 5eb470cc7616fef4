package imaging

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInvalidModality  = errors.New("unsupported image modality")
	ErrMissingReference = errors.New("storage reference is required")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Attach records image metadata against an episode. The caller (the workflow
// orchestrator) is responsible for checking the episode accepts images and
// for auditing the attachment.
func (s *Service) Attach(ctx context.Context, img *ImageRecord) error {
	if !ValidModality(img.Modality) {
		return ErrInvalidModality
	}
	if img.StorageReference == "" {
		return ErrMissingReference
	}
	return s.repo.Create(ctx, img)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ImageRecord, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*ImageRecord, error) {
	return s.repo.ListByEpisode(ctx, episodeID)
}

func (s *Service) CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error) {
	return s.repo.CountByEpisode(ctx, episodeID)
}
