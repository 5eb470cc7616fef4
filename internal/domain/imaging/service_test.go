package imaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	images map[uuid.UUID]*ImageRecord
}

func newMockRepo() *mockRepo {
	return &mockRepo{images: make(map[uuid.UUID]*ImageRecord)}
}

func (m *mockRepo) Create(ctx context.Context, img *ImageRecord) error {
	img.ID = uuid.New()
	img.UploadedAt = time.Now()
	cp := *img
	m.images[img.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*ImageRecord, error) {
	img, ok := m.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	return img, nil
}

func (m *mockRepo) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*ImageRecord, error) {
	var out []*ImageRecord
	for _, img := range m.images {
		if img.EpisodeID == episodeID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (m *mockRepo) CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error) {
	list, _ := m.ListByEpisode(ctx, episodeID)
	return len(list), nil
}

func TestAttach(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()
	episodeID := uuid.New()

	img := &ImageRecord{
		EpisodeID:        episodeID,
		Modality:         ModalityPapSmear,
		StorageReference: "blob://abc123",
		UploadedBy:       "clinician-1",
	}
	if err := svc.Attach(ctx, img); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if img.ID == uuid.Nil {
		t.Error("expected id assigned")
	}

	n, err := svc.CountByEpisode(ctx, episodeID)
	if err != nil || n != 1 {
		t.Errorf("expected count 1, got %d (err %v)", n, err)
	}
}

func TestAttachValidation(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	err := svc.Attach(ctx, &ImageRecord{Modality: "xray", StorageReference: "blob://x"})
	if !errors.Is(err, ErrInvalidModality) {
		t.Errorf("expected ErrInvalidModality, got %v", err)
	}

	err = svc.Attach(ctx, &ImageRecord{Modality: ModalityColposcopy})
	if !errors.Is(err, ErrMissingReference) {
		t.Errorf("expected ErrMissingReference, got %v", err)
	}
}
