// Package workflow orchestrates the screening episode lifecycle. Every
// mutating operation runs in a single unit of work: the state transition, its
// side effects, and the audit append commit together or not at all. Rejected
// transition attempts are audited too, outside the failing unit of work so the
// record survives the rollback.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cervixai/screening/internal/domain/analysis"
	"github.com/cervixai/screening/internal/domain/audit"
	"github.com/cervixai/screening/internal/domain/diagnosis"
	"github.com/cervixai/screening/internal/domain/episode"
	"github.com/cervixai/screening/internal/domain/imaging"
	"github.com/cervixai/screening/internal/platform/auth"
	"github.com/cervixai/screening/internal/platform/db"
	"github.com/cervixai/screening/internal/platform/events"
)

// Audit event types emitted by the orchestrator.
const (
	EventEpisodeCreated         = "episode.created"
	EventEpisodeTransitioned    = "episode.transitioned"
	EventEpisodeReopened        = "episode.reopened"
	EventEpisodeDiscarded       = "episode.discarded"
	EventTransitionDenied       = "transition.denied"
	EventImageAttached          = "image.attached"
	EventAnalysisCompleted      = "analysis.completed"
	EventAnalysisPartialFailure = "analysis.partial_failure"
	EventAnalysisRejected       = "analysis.rejected"
	EventReviewStarted          = "review.started"
	EventReviewReleased         = "review.released"
	EventDiagnosisFinalized     = "diagnosis.finalized"
	EventDiagnosisRejected      = "diagnosis.rejected"
)

var (
	// ErrNoImages marks an analysis request against an episode with no
	// attached images.
	ErrNoImages = errors.New("episode has no images to analyze")
	// ErrReasonRequired marks a discard without a stated reason.
	ErrReasonRequired = errors.New("a reason is required")
)

// Service is the workflow orchestrator. It is the only writer of episode
// state: domain services validate their own rules, and the orchestrator
// sequences them inside transactions and audits every outcome.
type Service struct {
	runner    db.TxRunner
	episodes  *episode.Service
	images    *imaging.Service
	analyses  *analysis.Service
	diagnoses *diagnosis.Service
	auditor   *audit.Service
	publisher events.Publisher
}

func NewService(
	runner db.TxRunner,
	episodes *episode.Service,
	images *imaging.Service,
	analyses *analysis.Service,
	diagnoses *diagnosis.Service,
	auditor *audit.Service,
	publisher events.Publisher,
) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		runner:    runner,
		episodes:  episodes,
		images:    images,
		analyses:  analyses,
		diagnoses: diagnoses,
		auditor:   auditor,
		publisher: publisher,
	}
}

// CreateEpisode opens a screening episode for a patient and immediately moves
// it to images_pending; both steps are audited in the same transaction. The
// store rejects creation while the patient has another active episode.
func (s *Service) CreateEpisode(ctx context.Context, patientID uuid.UUID, reason string) (*episode.Episode, error) {
	if !auth.HasRole(ctx, "clinician") {
		return nil, auth.ErrUnauthorized
	}
	actor := auth.UserIDFromContext(ctx)

	var e *episode.Episode
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.episodes.Create(ctx, patientID, reason)
		if err != nil {
			return err
		}
		if _, err := s.auditor.Record(ctx, e.ID, actor, EventEpisodeCreated, map[string]string{
			"patient_id": patientID.String(),
			"reason":     reason,
		}); err != nil {
			return err
		}
		return s.transition(ctx, e, episode.StatusImagesPending, actor, "")
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, e.ID, EventEpisodeCreated, nil)
	return e, nil
}

// AttachImage records image metadata against an episode. The first image
// moves the episode from images_pending to analysis_ready; further images
// attach without a transition.
func (s *Service) AttachImage(ctx context.Context, episodeID uuid.UUID, modality imaging.Modality, storageRef string) (*imaging.ImageRecord, error) {
	if !auth.HasRole(ctx, "clinician") {
		return nil, auth.ErrUnauthorized
	}
	actor := auth.UserIDFromContext(ctx)

	var img *imaging.ImageRecord
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.episodes.Get(ctx, episodeID)
		if err != nil {
			return err
		}
		if e.Status != episode.StatusImagesPending && e.Status != episode.StatusAnalysisReady {
			return s.denyTransition(ctx, e, episode.StatusAnalysisReady, actor, "episode does not accept images")
		}

		img = &imaging.ImageRecord{
			EpisodeID:        episodeID,
			Modality:         modality,
			StorageReference: storageRef,
			UploadedBy:       actor,
		}
		if err := s.images.Attach(ctx, img); err != nil {
			return err
		}
		if _, err := s.auditor.Record(ctx, episodeID, actor, EventImageAttached, map[string]string{
			"image_id":          img.ID.String(),
			"modality":          string(modality),
			"storage_reference": storageRef,
		}); err != nil {
			return err
		}

		if e.Status == episode.StatusImagesPending {
			return s.transition(ctx, e, episode.StatusAnalysisReady, actor, "first image attached")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, episodeID, EventImageAttached, map[string]string{"image_id": img.ID.String()})
	return img, nil
}

// AnalysisReport summarizes one analysis pass over an episode's images.
type AnalysisReport struct {
	EpisodeID uuid.UUID           `json:"episode_id"`
	Findings  []*analysis.Finding `json:"findings"`
	Failed    int                 `json:"failed_images"`
}

// RunAnalysis scores every attached image and, on full success, advances the
// episode through analysis_complete to review_pending with a pending
// diagnosis. Findings from a partially failed pass are kept and the episode
// stays analysis_ready so the pass can be re-run; already-scored images are
// skipped by the gateway's idempotency.
//
// A rejected episode is re-opened to analysis_ready first, which is the path
// back into the workflow after a reviewer rejects a diagnosis.
func (s *Service) RunAnalysis(ctx context.Context, episodeID uuid.UUID) (*AnalysisReport, error) {
	if !auth.HasRole(ctx, "clinician") {
		return nil, auth.ErrUnauthorized
	}
	actor := auth.UserIDFromContext(ctx)

	e, err := s.episodes.Get(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	if e.Status == episode.StatusRejected {
		err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.episodes.Transition(ctx, e, episode.StatusAnalysisReady); err != nil {
				return err
			}
			_, err := s.auditor.Record(ctx, e.ID, actor, EventEpisodeReopened, audit.TransitionPayload{
				From: string(episode.StatusRejected), To: string(episode.StatusAnalysisReady), Accepted: true,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	if e.Status != episode.StatusAnalysisReady {
		err := s.denyTransition(ctx, e, episode.StatusAnalysisComplete, actor, "episode is not ready for analysis")
		return nil, err
	}

	imgs, err := s.images.ListByEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if len(imgs) == 0 {
		return nil, ErrNoImages
	}

	// The scorer is called outside any transaction; each stored finding is
	// durable on its own and re-runs are idempotent per (image, model).
	report := &AnalysisReport{EpisodeID: episodeID}
	var scoreErr error
	for _, img := range imgs {
		f, err := s.analyses.AnalyzeImage(ctx, img)
		if err != nil {
			if errors.Is(err, analysis.ErrAnalysisRejected) {
				s.recordAuditOnly(ctx, episodeID, actor, EventAnalysisRejected, map[string]string{
					"image_id": img.ID.String(),
					"error":    err.Error(),
				})
				return nil, err
			}
			report.Failed++
			scoreErr = err
			continue
		}
		report.Findings = append(report.Findings, f)
	}

	if report.Failed > 0 {
		s.recordAuditOnly(ctx, episodeID, actor, EventAnalysisPartialFailure, map[string]interface{}{
			"failed_images": report.Failed,
			"findings":      len(report.Findings),
		})
		return report, fmt.Errorf("analysis incomplete (%d of %d images failed): %w",
			report.Failed, len(imgs), scoreErr)
	}

	findingIDs := make([]uuid.UUID, len(report.Findings))
	for i, f := range report.Findings {
		findingIDs[i] = f.ID
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.episodes.Transition(ctx, e, episode.StatusAnalysisComplete); err != nil {
			return err
		}
		if _, err := s.auditor.Record(ctx, e.ID, actor, EventAnalysisCompleted, map[string]interface{}{
			"findings": findingIDs,
		}); err != nil {
			return err
		}
		if err := s.transition(ctx, e, episode.StatusReviewPending, actor, "analysis complete"); err != nil {
			return err
		}
		_, err := s.diagnoses.Open(ctx, episodeID, findingIDs)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, episodeID, EventAnalysisCompleted, map[string]int{"findings": len(findingIDs)})
	return report, nil
}

// BeginReview claims the episode's review lock for the calling pathologist.
func (s *Service) BeginReview(ctx context.Context, episodeID uuid.UUID) (*diagnosis.Diagnosis, error) {
	if !auth.HasExplicitRole(ctx, "clinician", "pathologist") {
		return nil, auth.ErrUnauthorized
	}
	actor := auth.UserIDFromContext(ctx)

	var d *diagnosis.Diagnosis
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.episodes.Get(ctx, episodeID)
		if err != nil {
			return err
		}
		if e.Status != episode.StatusReviewPending {
			return s.denyTransition(ctx, e, episode.StatusFinalized, actor, "episode is not awaiting review")
		}

		d, err = s.diagnoses.BeginReview(ctx, episodeID, actor)
		if err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, episodeID, actor, EventReviewStarted, map[string]string{
			"lock_expiry": d.LockExpiry.UTC().Format(time.RFC3339),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, episodeID, EventReviewStarted, map[string]string{"reviewer": actor})
	return d, nil
}

// FinalizeDiagnosis records the reviewer's accepted diagnosis and closes the
// episode. The caller must hold the review lock.
func (s *Service) FinalizeDiagnosis(ctx context.Context, episodeID uuid.UUID, note string, sourceFindings []uuid.UUID) (*diagnosis.Diagnosis, error) {
	if !auth.HasExplicitRole(ctx, "clinician", "pathologist") {
		return nil, auth.ErrUnauthorized
	}
	actor := auth.UserIDFromContext(ctx)

	var d *diagnosis.Diagnosis
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.episodes.Get(ctx, episodeID)
		if err != nil {
			return err
		}
		if e.Status != episode.StatusReviewPending {
			return s.denyTransition(ctx, e, episode.StatusFinalized, actor, "episode is not under review")
		}

		d, err = s.diagnoses.Finalize(ctx, episodeID, actor, note, sourceFindings)
		if err != nil {
			return err
		}
		if err := s.episodes.Transition(ctx, e, episode.StatusFinalized); err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, episodeID, actor, EventDiagnosisFinalized, map[string]interface{}{
			"reviewer":        actor,
			"clinical_note":   note,
			"source_findings": d.SourceFindings,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, episodeID, EventDiagnosisFinalized, map[string]string{"reviewer": actor})
	return d, nil
}

// RejectDiagnosis records the reviewer's refusal. The episode moves to
// rejected and can be re-opened by another analysis pass.
func (s *Service) RejectDiagnosis(ctx context.Context, episodeID uuid.UUID, reason string) (*diagnosis.Diagnosis, error) {
	if !auth.HasExplicitRole(ctx, "clinician", "pathologist") {
		return nil, auth.ErrUnauthorized
	}
	actor := auth.UserIDFromContext(ctx)

	var d *diagnosis.Diagnosis
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.episodes.Get(ctx, episodeID)
		if err != nil {
			return err
		}
		if e.Status != episode.StatusReviewPending {
			return s.denyTransition(ctx, e, episode.StatusRejected, actor, "episode is not under review")
		}

		d, err = s.diagnoses.Reject(ctx, episodeID, actor, reason)
		if err != nil {
			return err
		}
		if err := s.episodes.Transition(ctx, e, episode.StatusRejected); err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, episodeID, actor, EventDiagnosisRejected, map[string]string{
			"reviewer": actor,
			"reason":   reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, episodeID, EventDiagnosisRejected, map[string]string{"reason": reason})
	return d, nil
}

// ReleaseReview gives up the review lock without a verdict.
func (s *Service) ReleaseReview(ctx context.Context, episodeID uuid.UUID) error {
	if !auth.HasExplicitRole(ctx, "clinician", "pathologist") {
		return auth.ErrUnauthorized
	}
	actor := auth.UserIDFromContext(ctx)

	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.diagnoses.Release(ctx, episodeID, actor); err != nil {
			return err
		}
		_, err := s.auditor.Record(ctx, episodeID, actor, EventReviewReleased, nil)
		return err
	})
}

// DiscardEpisode administratively cancels an episode from any non-terminal
// state. A reason is mandatory and becomes part of the audit record.
func (s *Service) DiscardEpisode(ctx context.Context, episodeID uuid.UUID, reason string) (*episode.Episode, error) {
	if !auth.HasRole(ctx, "clinician") {
		return nil, auth.ErrUnauthorized
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}
	actor := auth.UserIDFromContext(ctx)

	var e *episode.Episode
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.episodes.Get(ctx, episodeID)
		if err != nil {
			return err
		}
		if err := episode.ValidateTransition(e.Status, episode.StatusDiscarded); err != nil {
			return s.denyTransition(ctx, e, episode.StatusDiscarded, actor, "episode is in a terminal state")
		}
		if err := s.episodes.Transition(ctx, e, episode.StatusDiscarded); err != nil {
			return err
		}
		_, err = s.auditor.Record(ctx, episodeID, actor, EventEpisodeDiscarded, map[string]string{
			"reason": reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, episodeID, EventEpisodeDiscarded, map[string]string{"reason": reason})
	return e, nil
}

// GetEpisode returns the current episode state.
func (s *Service) GetEpisode(ctx context.Context, episodeID uuid.UUID) (*episode.Episode, error) {
	if !auth.HasRole(ctx, "clinician", "pathologist") {
		return nil, auth.ErrUnauthorized
	}
	return s.episodes.Get(ctx, episodeID)
}

// ListEpisodes returns a page of the patient's episodes, newest first.
func (s *Service) ListEpisodes(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*episode.Episode, int, error) {
	if !auth.HasRole(ctx, "clinician", "pathologist") {
		return nil, 0, auth.ErrUnauthorized
	}
	return s.episodes.ListByPatient(ctx, patientID, limit, offset)
}

// ListFindings returns the findings recorded for an episode.
func (s *Service) ListFindings(ctx context.Context, episodeID uuid.UUID) ([]*analysis.Finding, error) {
	if !auth.HasRole(ctx, "clinician", "pathologist") {
		return nil, auth.ErrUnauthorized
	}
	return s.analyses.ListByEpisode(ctx, episodeID)
}

// GetDiagnosis returns the episode's diagnosis, if one has been opened.
func (s *Service) GetDiagnosis(ctx context.Context, episodeID uuid.UUID) (*diagnosis.Diagnosis, error) {
	if !auth.HasRole(ctx, "clinician", "pathologist") {
		return nil, auth.ErrUnauthorized
	}
	return s.diagnoses.GetByEpisode(ctx, episodeID)
}

// EpisodeHistory is an episode together with its full ordered audit trail.
type EpisodeHistory struct {
	Episode *episode.Episode `json:"episode"`
	Entries []*audit.Entry   `json:"entries"`
}

// GetEpisodeHistory returns the episode and its audit chain, oldest first.
func (s *Service) GetEpisodeHistory(ctx context.Context, episodeID uuid.UUID) (*EpisodeHistory, error) {
	if !auth.HasRole(ctx, "clinician", "pathologist") {
		return nil, auth.ErrUnauthorized
	}
	e, err := s.episodes.Get(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	entries, err := s.auditor.Read(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	return &EpisodeHistory{Episode: e, Entries: entries}, nil
}

// transition applies and audits a single approved episode transition inside
// the caller's transaction.
func (s *Service) transition(ctx context.Context, e *episode.Episode, to episode.Status, actor, reason string) error {
	from := e.Status
	if err := s.episodes.Transition(ctx, e, to); err != nil {
		return err
	}
	_, err := s.auditor.Record(ctx, e.ID, actor, EventEpisodeTransitioned, audit.TransitionPayload{
		From: string(from), To: string(to), Accepted: true, Reason: reason,
	})
	return err
}

// denyTransition audits a rejected transition attempt and returns the typed
// error. The audit append runs outside the caller's transaction so the denial
// record survives the rollback.
func (s *Service) denyTransition(ctx context.Context, e *episode.Episode, to episode.Status, actor, reason string) error {
	s.recordAuditOnly(ctx, e.ID, actor, EventTransitionDenied, audit.TransitionPayload{
		From: string(e.Status), To: string(to), Accepted: false, Reason: reason,
	})
	return &episode.InvalidTransitionError{From: e.Status, To: to}
}

// recordAuditOnly appends an audit entry on the pool, independent of any open
// transaction. Failures are logged, not fatal: the triggering operation is
// already being refused.
func (s *Service) recordAuditOnly(ctx context.Context, episodeID uuid.UUID, actor, eventType string, payload interface{}) {
	ctx = db.ContextWithoutTx(context.WithoutCancel(ctx))
	if _, err := s.auditor.Record(ctx, episodeID, actor, eventType, payload); err != nil {
		log.Error().Err(err).
			Stringer("episode_id", episodeID).
			Str("event_type", eventType).
			Msg("failed to audit rejected operation")
	}
}

func (s *Service) notify(ctx context.Context, episodeID uuid.UUID, eventType string, data interface{}) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	evt := events.Event{
		Type:      eventType,
		Topic:     events.EpisodeTopic(episodeID.String()),
		EpisodeID: episodeID.String(),
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("failed to publish workflow event")
	}
}
