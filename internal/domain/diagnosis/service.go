package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyUnderReview marks a begin-review attempt while another
	// reviewer holds a live lock.
	ErrAlreadyUnderReview = errors.New("episode is already under review")
	// ErrNotLockHolder marks a finalize/reject/release by a caller who does
	// not hold the review lock (or whose lock has expired).
	ErrNotLockHolder = errors.New("caller does not hold the review lock")
	// ErrInvalidReviewState marks an operation against a diagnosis whose
	// status does not admit it.
	ErrInvalidReviewState = errors.New("diagnosis is not in a reviewable state")
	// ErrNoSourceFindings marks a finalize with no supporting findings.
	ErrNoSourceFindings = errors.New("finalized diagnosis requires at least one source finding")
	// ErrReasonRequired marks a reject without a reason note.
	ErrReasonRequired = errors.New("rejection requires a reason")
)

// Service coordinates the review of a diagnosis: a single advisory lock per
// episode, claimed with a compare-and-swap and honored until it expires.
type Service struct {
	repo    Repository
	lockTTL time.Duration
	now     func() time.Time
}

func NewService(repo Repository, lockTTL time.Duration) *Service {
	return &Service{repo: repo, lockTTL: lockTTL, now: time.Now}
}

// Open creates the pending diagnosis for an episode entering review.
func (s *Service) Open(ctx context.Context, episodeID uuid.UUID, sourceFindings []uuid.UUID) (*Diagnosis, error) {
	d := &Diagnosis{
		EpisodeID:      episodeID,
		Status:         StatusPendingReview,
		SourceFindings: sourceFindings,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("open diagnosis: %w", err)
	}
	return d, nil
}

func (s *Service) GetByEpisode(ctx context.Context, episodeID uuid.UUID) (*Diagnosis, error) {
	return s.repo.GetByEpisode(ctx, episodeID)
}

// BeginReview claims the review lock for reviewerID. The claim is a single
// conditional write: it succeeds when the lock is free, already held by the
// same reviewer, or expired. Losing the race returns ErrAlreadyUnderReview.
func (s *Service) BeginReview(ctx context.Context, episodeID uuid.UUID, reviewerID string) (*Diagnosis, error) {
	now := s.now()
	ok, err := s.repo.AcquireLock(ctx, episodeID, reviewerID, now.Add(s.lockTTL), now)
	if err != nil {
		return nil, fmt.Errorf("acquire review lock: %w", err)
	}
	if !ok {
		d, getErr := s.repo.GetByEpisode(ctx, episodeID)
		if getErr != nil {
			return nil, getErr
		}
		if d.Status == StatusFinalized || d.Status == StatusRejected {
			return nil, ErrInvalidReviewState
		}
		return nil, fmt.Errorf("%w: held by %s until %s", ErrAlreadyUnderReview, d.LockHolder, d.LockExpiry.Format(time.RFC3339))
	}
	return s.repo.GetByEpisode(ctx, episodeID)
}

// Finalize records the reviewer's accepted diagnosis. The caller must hold a
// live lock and supply at least one source finding.
func (s *Service) Finalize(ctx context.Context, episodeID uuid.UUID, reviewerID, note string, sourceFindings []uuid.UUID) (*Diagnosis, error) {
	d, err := s.checkHolder(ctx, episodeID, reviewerID)
	if err != nil {
		return nil, err
	}
	if len(sourceFindings) > 0 {
		d.SourceFindings = sourceFindings
	}
	if len(d.SourceFindings) == 0 {
		return nil, ErrNoSourceFindings
	}

	now := s.now()
	d.Status = StatusFinalized
	d.ReviewerID = reviewerID
	d.ClinicalNote = note
	d.FinalizedAt = &now
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("finalize diagnosis: %w", err)
	}
	return d, nil
}

// Reject records the reviewer's refusal of the proposed diagnosis. A reason
// is mandatory.
func (s *Service) Reject(ctx context.Context, episodeID uuid.UUID, reviewerID, reason string) (*Diagnosis, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	d, err := s.checkHolder(ctx, episodeID, reviewerID)
	if err != nil {
		return nil, err
	}

	d.Status = StatusRejected
	d.ReviewerID = reviewerID
	d.ClinicalNote = reason
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("reject diagnosis: %w", err)
	}
	return d, nil
}

// Release voluntarily gives up the review lock without a verdict, returning
// the diagnosis to pending_review.
func (s *Service) Release(ctx context.Context, episodeID uuid.UUID, reviewerID string) error {
	ok, err := s.repo.ReleaseLock(ctx, episodeID, reviewerID)
	if err != nil {
		return fmt.Errorf("release review lock: %w", err)
	}
	if !ok {
		if _, getErr := s.repo.GetByEpisode(ctx, episodeID); getErr != nil {
			return getErr
		}
		return ErrNotLockHolder
	}
	return nil
}

func (s *Service) checkHolder(ctx context.Context, episodeID uuid.UUID, reviewerID string) (*Diagnosis, error) {
	d, err := s.repo.GetByEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusUnderReview {
		return nil, ErrInvalidReviewState
	}
	if !d.LockedBy(reviewerID, s.now()) {
		return nil, ErrNotLockHolder
	}
	return d, nil
}
