package audit

import (
	"context"

	"github.com/google/uuid"
)

// SearchParams filters audit entries for compliance queries.
type SearchParams struct {
	EpisodeID *uuid.UUID
	ActorID   string
	EventType string
	Since     *int64 // exclusive lower bound on entry_id, for restartable reads
}

type Repository interface {
	// Append inserts the entry and fills in its storage-assigned EntryID.
	Append(ctx context.Context, e *Entry) error
	// LatestForEpisode returns the most recent entry for an episode, or nil
	// if the episode has no history yet.
	LatestForEpisode(ctx context.Context, episodeID uuid.UUID) (*Entry, error)
	// ListByEpisode returns all entries for an episode ordered by EntryID.
	ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*Entry, error)
	// Search returns a filtered page of entries ordered by EntryID.
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Entry, int, error)
}
