package diagnosis

import (
	"time"

	"github.com/google/uuid"
)

// Status is the review state of a diagnosis.
type Status string

const (
	StatusPendingReview Status = "pending_review"
	StatusUnderReview   Status = "under_review"
	StatusFinalized     Status = "finalized"
	StatusRejected      Status = "rejected"
)

// Diagnosis is the reviewable outcome of an episode's analysis. The lock
// fields implement an advisory review lock: while LockHolder is set and
// LockExpiry is in the future, only that reviewer may finalize or reject.
// An expired lock is reclaimable by any pathologist.
type Diagnosis struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	EpisodeID      uuid.UUID   `db:"episode_id" json:"episode_id"`
	Status         Status      `db:"status" json:"status"`
	SourceFindings []uuid.UUID `db:"source_findings" json:"source_findings"`
	ReviewerID     string      `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ClinicalNote   string      `db:"clinical_note" json:"clinical_note,omitempty"`
	LockHolder     string      `db:"lock_holder" json:"lock_holder,omitempty"`
	LockExpiry     *time.Time  `db:"lock_expiry" json:"lock_expiry,omitempty"`
	FinalizedAt    *time.Time  `db:"finalized_at" json:"finalized_at,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// LockedBy reports whether holder currently owns the review lock.
func (d *Diagnosis) LockedBy(holder string, now time.Time) bool {
	return d.LockHolder == holder && d.LockExpiry != nil && d.LockExpiry.After(now)
}
