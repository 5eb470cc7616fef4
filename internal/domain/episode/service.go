package episode

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service owns episode lifecycle rules. Transitions are validated against the
// state machine before the conditional write; callers that need an audited,
// transactional transition go through the workflow orchestrator instead of
// calling Transition directly.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create opens a new episode for the patient in the created state. The store
// rejects the insert when the patient already has an active episode.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, reason string) (*Episode, error) {
	e := &Episode{
		PatientID: patientID,
		Status:    StatusCreated,
		Reason:    reason,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Episode, error) {
	return s.repo.GetByID(ctx, id)
}

// Transition validates and applies a single status transition. The episode's
// in-memory version must match the stored version or the write fails with
// ErrConcurrentModification.
func (s *Service) Transition(ctx context.Context, e *Episode, to Status) error {
	if err := ValidateTransition(e.Status, to); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, e, to); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", e.Status, to, err)
	}
	return nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
