package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cervixai/screening/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const diagnosisCols = `id, episode_id, status, source_findings, reviewer_id, clinical_note,
	lock_holder, lock_expiry, finalized_at, created_at, updated_at`

func scanDiagnosis(row pgx.Row) (*Diagnosis, error) {
	var d Diagnosis
	var reviewer, note, holder *string
	err := row.Scan(&d.ID, &d.EpisodeID, &d.Status, &d.SourceFindings, &reviewer, &note,
		&holder, &d.LockExpiry, &d.FinalizedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if reviewer != nil {
		d.ReviewerID = *reviewer
	}
	if note != nil {
		d.ClinicalNote = *note
	}
	if holder != nil {
		d.LockHolder = *holder
	}
	return &d, nil
}

func (r *RepoPG) Create(ctx context.Context, d *Diagnosis) error {
	return r.conn(ctx).QueryRow(ctx,
		`INSERT INTO diagnosis (episode_id, status, source_findings)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		d.EpisodeID, d.Status, d.SourceFindings,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

// GetByEpisode returns the episode's most recent diagnosis. Earlier rejected
// diagnoses remain as history but are never read back through this path.
func (r *RepoPG) GetByEpisode(ctx context.Context, episodeID uuid.UUID) (*Diagnosis, error) {
	q := fmt.Sprintf(`SELECT %s FROM diagnosis WHERE episode_id = $1
		ORDER BY created_at DESC LIMIT 1`, diagnosisCols)
	d, err := scanDiagnosis(r.conn(ctx).QueryRow(ctx, q, episodeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (r *RepoPG) AcquireLock(ctx context.Context, episodeID uuid.UUID, holder string, expiry, now time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE diagnosis
		 SET lock_holder = $1, lock_expiry = $2, status = $3, updated_at = NOW()
		 WHERE episode_id = $4
		   AND status IN ($5, $6)
		   AND (lock_holder IS NULL OR lock_holder = $1 OR lock_expiry <= $7)`,
		holder, expiry, StatusUnderReview, episodeID,
		StatusPendingReview, StatusUnderReview, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RepoPG) ReleaseLock(ctx context.Context, episodeID uuid.UUID, holder string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE diagnosis
		 SET lock_holder = NULL, lock_expiry = NULL, status = $1, updated_at = NOW()
		 WHERE episode_id = $2 AND lock_holder = $3 AND status = $4`,
		StatusPendingReview, episodeID, holder, StatusUnderReview,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RepoPG) Update(ctx context.Context, d *Diagnosis) error {
	return r.conn(ctx).QueryRow(ctx,
		`UPDATE diagnosis
		 SET status = $1, source_findings = $2, reviewer_id = $3, clinical_note = $4,
		     finalized_at = $5, lock_holder = NULL, lock_expiry = NULL, updated_at = NOW()
		 WHERE id = $6
		 RETURNING updated_at`,
		d.Status, d.SourceFindings, d.ReviewerID, d.ClinicalNote,
		d.FinalizedAt, d.ID,
	).Scan(&d.UpdatedAt)
}
