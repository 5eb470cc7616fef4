package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRepo struct {
	entries []*Entry
	nextID  int64
	failing bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{nextID: 1}
}

func (m *mockRepo) Append(_ context.Context, e *Entry) error {
	if m.failing {
		return errors.New("store unavailable")
	}
	e.EntryID = m.nextID
	m.nextID++
	stored := *e
	m.entries = append(m.entries, &stored)
	return nil
}

func (m *mockRepo) LatestForEpisode(_ context.Context, episodeID uuid.UUID) (*Entry, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].EpisodeID == episodeID {
			e := *m.entries[i]
			return &e, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) ListByEpisode(_ context.Context, episodeID uuid.UUID) ([]*Entry, error) {
	var out []*Entry
	for _, e := range m.entries {
		if e.EpisodeID == episodeID {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockRepo) Search(_ context.Context, params SearchParams, limit, offset int) ([]*Entry, int, error) {
	var out []*Entry
	for _, e := range m.entries {
		if params.EpisodeID != nil && e.EpisodeID != *params.EpisodeID {
			continue
		}
		if params.ActorID != "" && e.ActorID != params.ActorID {
			continue
		}
		if params.EventType != "" && e.EventType != params.EventType {
			continue
		}
		if params.Since != nil && e.EntryID <= *params.Since {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

// -- Tests --

func TestRecord_BuildsHashChain(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	episodeID := uuid.New()

	e1, err := svc.Record(context.Background(), episodeID, "dr-a", "episode.created", map[string]string{"status": "created"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	e2, err := svc.Record(context.Background(), episodeID, "dr-a", "episode.transitioned",
		TransitionPayload{From: "created", To: "images_pending", Accepted: true})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if e1.PrevHash != "" {
		t.Errorf("expected genesis entry with empty prev hash, got %q", e1.PrevHash)
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("expected e2.PrevHash = e1.Hash")
	}
	if e2.EntryID <= e1.EntryID {
		t.Errorf("expected monotonic entry ids, got %d then %d", e1.EntryID, e2.EntryID)
	}
}

func TestRecord_IndependentChainsPerEpisode(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ep1, ep2 := uuid.New(), uuid.New()

	if _, err := svc.Record(context.Background(), ep1, "a", "episode.created", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	e, err := svc.Record(context.Background(), ep2, "a", "episode.created", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if e.PrevHash != "" {
		t.Errorf("expected ep2's first entry to start a fresh chain, got prev %q", e.PrevHash)
	}
}

func TestVerify_IntactChain(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	episodeID := uuid.New()

	for i := 0; i < 5; i++ {
		if _, err := svc.Record(context.Background(), episodeID, "dr-a", "episode.transitioned", i); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if err := svc.Verify(context.Background(), episodeID); err != nil {
		t.Fatalf("expected intact chain, got %v", err)
	}
}

func TestVerify_DetectsTamperedPayload(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	episodeID := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := svc.Record(context.Background(), episodeID, "dr-a", "episode.transitioned", i); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	// Tamper with the middle entry behind the service's back.
	repo.entries[1].Payload = []byte(`"forged"`)

	err := svc.Verify(context.Background(), episodeID)
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if verr.EntryID != repo.entries[1].EntryID {
		t.Errorf("expected broken entry %d, got %d", repo.entries[1].EntryID, verr.EntryID)
	}
}

func TestVerify_DetectsRewrittenHash(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	episodeID := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := svc.Record(context.Background(), episodeID, "dr-a", "episode.transitioned", i); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	// An attacker who recomputes one hash still breaks the link to the next.
	repo.entries[1].Payload = []byte(`"forged"`)
	repo.entries[1].Hash = repo.entries[1].ComputeHash()

	if err := svc.Verify(context.Background(), episodeID); err == nil {
		t.Fatal("expected chain break to be detected")
	}
}

// storageFidelityRepo stores entries the way Postgres returns them:
// TIMESTAMPTZ keeps microseconds and reads back in an arbitrary zone. The
// payload column is plain json, so its bytes survive unchanged.
type storageFidelityRepo struct {
	mockRepo
}

func (m *storageFidelityRepo) Append(ctx context.Context, e *Entry) error {
	if err := m.mockRepo.Append(ctx, e); err != nil {
		return err
	}
	stored := m.entries[len(m.entries)-1]
	stored.Timestamp = stored.Timestamp.Truncate(time.Microsecond).In(time.FixedZone("session", 2*60*60))
	return nil
}

func TestVerify_SurvivesStorageRoundTrip(t *testing.T) {
	repo := &storageFidelityRepo{mockRepo: *newMockRepo()}
	svc := NewService(repo)
	// A wall clock with nanosecond precision, which storage will not keep.
	svc.now = func() time.Time {
		return time.Date(2026, 4, 2, 9, 30, 0, 123456789, time.UTC)
	}
	episodeID := uuid.New()

	payloads := []interface{}{
		map[string]string{"zeta": "1", "alpha": "2"}, // key order must not matter
		TransitionPayload{From: "created", To: "images_pending", Accepted: true},
		nil,
	}
	for _, p := range payloads {
		if _, err := svc.Record(context.Background(), episodeID, "dr-a", "episode.transitioned", p); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if err := svc.Verify(context.Background(), episodeID); err != nil {
		t.Fatalf("expected chain to verify against stored entries, got %v", err)
	}
}

func TestRecord_WriteFailureIsFatal(t *testing.T) {
	repo := newMockRepo()
	repo.failing = true
	svc := NewService(repo)

	_, err := svc.Record(context.Background(), uuid.New(), "dr-a", "episode.created", nil)
	if !errors.Is(err, ErrWriteFailure) {
		t.Fatalf("expected ErrWriteFailure, got %v", err)
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	e := &Entry{
		EpisodeID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ActorID:   "dr-a",
		EventType: "episode.created",
		Payload:   []byte(`{"status":"created"}`),
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if e.ComputeHash() != e.ComputeHash() {
		t.Fatal("expected stable hash for identical content")
	}

	other := *e
	other.ActorID = "dr-b"
	if e.ComputeHash() == other.ComputeHash() {
		t.Fatal("expected different hash for different actor")
	}
}
