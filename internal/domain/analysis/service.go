package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cervixai/screening/internal/domain/imaging"
)

// Service is the gateway between the workflow and the model serving endpoint.
// It owns retry policy for transient scorer failures and guarantees at most
// one stored finding per (image, model version) pair.
type Service struct {
	repo    Repository
	scorer  ScorerClient
	retries int
	backoff time.Duration
	sleep   func(time.Duration)
}

func NewService(repo Repository, scorer ScorerClient, retries int, backoff time.Duration) *Service {
	return &Service{
		repo:    repo,
		scorer:  scorer,
		retries: retries,
		backoff: backoff,
		sleep:   time.Sleep,
	}
}

// AnalyzeImage scores one image and persists the result as a Finding.
// Transient scorer failures are retried with linear backoff up to the
// configured attempt budget; permanent rejections are returned immediately.
// If a finding already exists for the image and the scorer's model version,
// it is returned unchanged.
func (s *Service) AnalyzeImage(ctx context.Context, img *imaging.ImageRecord) (*Finding, error) {
	result, err := s.scoreWithRetry(ctx, ScoreRequest{
		ImageID:          img.ID,
		EpisodeID:        img.EpisodeID,
		Modality:         string(img.Modality),
		StorageReference: img.StorageReference,
	})
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByImageAndModel(ctx, img.ID, result.ModelVersion)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup existing finding: %w", err)
	}

	note := result.Note
	if note == "" {
		note = lowConfidenceNote(result)
	}

	f := &Finding{
		ImageID:      img.ID,
		EpisodeID:    img.EpisodeID,
		RiskScore:    result.RiskScore,
		Category:     result.Category,
		Regions:      result.Regions,
		ModelVersion: result.ModelVersion,
		Note:         note,
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("store finding: %w", err)
	}
	return f, nil
}

func (s *Service) scoreWithRetry(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, ctx.Err())
			default:
			}
			s.sleep(time.Duration(attempt) * s.backoff)
			log.Debug().
				Stringer("image_id", req.ImageID).
				Int("attempt", attempt).
				Msg("retrying analysis request")
		}

		result, err := s.scorer.Score(ctx, req)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrAnalysisRejected) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// lowConfidenceNote flags results a reviewer should not take at face value:
// mid-band risk scores and weak region detections.
func lowConfidenceNote(result *ScoreResult) string {
	if result.RiskScore >= 0.35 && result.RiskScore <= 0.65 {
		return "model confidence is low; correlate with clinical findings"
	}
	for _, r := range result.Regions {
		if r.Confidence < 0.5 {
			return "one or more regions scored below the confidence threshold"
		}
	}
	return ""
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Finding, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*Finding, error) {
	return s.repo.ListByEpisode(ctx, episodeID)
}
