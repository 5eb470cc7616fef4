package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable workflow event record. Entries are never updated or
// deleted; the sequence for an episode, ordered by EntryID, reconstructs its
// full history. EntryID is a global monotonic counter assigned by storage,
// independent of wall clock.
type Entry struct {
	EntryID   int64           `db:"entry_id" json:"entry_id"`
	EpisodeID uuid.UUID       `db:"episode_id" json:"episode_id"`
	ActorID   string          `db:"actor_id" json:"actor_id"`
	EventType string          `db:"event_type" json:"event_type"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	PrevHash  string          `db:"prev_hash" json:"prev_hash"`
	Hash      string          `db:"hash" json:"hash"`
	Timestamp time.Time       `db:"recorded_at" json:"timestamp"`
}

// ComputeHash derives the entry's chain hash. Each hash covers the previous
// entry's hash, so the chain for an episode can be verified end-to-end
// without trusting the storage layer. EntryID is excluded: ordering is
// already fixed by the chain itself.
//
// The hashed fields must survive a storage round-trip byte for byte. The
// timestamp is normalized to UTC at microsecond precision (TIMESTAMPTZ drops
// nanoseconds), and the payload column is plain json, which Postgres stores
// verbatim.
func (e *Entry) ComputeHash() string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte{0})
	h.Write([]byte(e.EpisodeID.String()))
	h.Write([]byte{0})
	h.Write([]byte(e.ActorID))
	h.Write([]byte{0})
	h.Write([]byte(e.EventType))
	h.Write([]byte{0})
	h.Write(e.Payload)
	h.Write([]byte{0})
	h.Write([]byte(e.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// TransitionPayload is the structured snapshot recorded for every episode
// state transition, successful or rejected.
type TransitionPayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
