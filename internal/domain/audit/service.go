package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrWriteFailure marks an audit append that could not be persisted. It is
// fatal to the triggering operation: a workflow transition that cannot be
// audited must not be considered to have happened, so callers run the append
// in the same transaction as the state mutation.
var ErrWriteFailure = errors.New("audit write failure")

// VerificationError reports the first entry whose stored hash does not match
// the recomputed chain.
type VerificationError struct {
	EntryID int64
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("audit chain broken at entry %d", e.EntryID)
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Record appends one entry to the episode's hash chain. The payload is
// serialized as-is into the entry; the hash covers the previous entry's hash
// so tampering with any stored record invalidates every later hash.
func (s *Service) Record(ctx context.Context, episodeID uuid.UUID, actorID, eventType string, payload interface{}) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", ErrWriteFailure, err)
	}

	prev, err := s.repo.LatestForEpisode(ctx, episodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: read chain head: %v", ErrWriteFailure, err)
	}

	e := &Entry{
		EpisodeID: episodeID,
		ActorID:   actorID,
		EventType: eventType,
		Payload:   raw,
		// TIMESTAMPTZ keeps microseconds; hashing finer precision would break
		// verification after a storage round-trip.
		Timestamp: s.now().UTC().Truncate(time.Microsecond),
	}
	if prev != nil {
		e.PrevHash = prev.Hash
	}
	e.Hash = e.ComputeHash()

	if err := s.repo.Append(ctx, e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	return e, nil
}

// Read returns the ordered history of an episode. It does not mutate and can
// be restarted from any point via Search with a Since cursor.
func (s *Service) Read(ctx context.Context, episodeID uuid.UUID) ([]*Entry, error) {
	return s.repo.ListByEpisode(ctx, episodeID)
}

// Search returns a filtered page of entries for compliance review.
func (s *Service) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Entry, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// Verify replays an episode's chain and recomputes every hash. It returns a
// *VerificationError naming the first broken entry, or nil if the chain is
// intact.
func (s *Service) Verify(ctx context.Context, episodeID uuid.UUID) error {
	entries, err := s.repo.ListByEpisode(ctx, episodeID)
	if err != nil {
		return err
	}

	prevHash := ""
	for _, e := range entries {
		if e.PrevHash != prevHash {
			return &VerificationError{EntryID: e.EntryID}
		}
		if e.ComputeHash() != e.Hash {
			return &VerificationError{EntryID: e.EntryID}
		}
		prevHash = e.Hash
	}
	return nil
}
