package episode

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a screening episode.
type Status string

const (
	StatusCreated          Status = "created"
	StatusImagesPending    Status = "images_pending"
	StatusAnalysisReady    Status = "analysis_ready"
	StatusAnalysisComplete Status = "analysis_complete"
	StatusReviewPending    Status = "review_pending"
	StatusFinalized        Status = "finalized"
	StatusRejected         Status = "rejected"
	StatusDiscarded        Status = "discarded"
)

// Episode is one screening cycle for one patient. Episodes are never
// physically deleted; terminal states are retained for audit. Version backs
// optimistic concurrency: every approved transition bumps it, and a
// conditional write that misses means another writer got there first.
type Episode struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Status    Status    `db:"status" json:"status"`
	Version   int64     `db:"version" json:"version"`
	Reason    string    `db:"reason" json:"reason,omitempty"` // reason for screening
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether the episode still occupies the patient's single
// active-episode slot. Rejected episodes stay active: they may be re-opened
// for another analysis pass.
func (e *Episode) Active() bool {
	return e.Status != StatusFinalized && e.Status != StatusDiscarded
}
