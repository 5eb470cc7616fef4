package episode

import (
	"context"
	"errors"
	"fmt"

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

const episodeCols = `id, patient_id, status, version, reason, created_at, updated_at`

func scanEpisode(row pgx.Row) (*Episode, error) {
	var e Episode
	err := row.Scan(&e.ID, &e.PatientID, &e.Status, &e.Version, &e.Reason, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

// activeEpisodeConstraint is the partial unique index enforcing one active
// episode per patient (see migrations).
const activeEpisodeConstraint = "episode_one_active_per_patient"

func (r *RepoPG) Create(ctx context.Context, e *Episode) error {
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO episode (patient_id, status, version, reason)
		 VALUES ($1, $2, 1, $3)
		 RETURNING id, version, created_at, updated_at`,
		e.PatientID, e.Status, e.Reason,
	).Scan(&e.ID, &e.Version, &e.CreatedAt, &e.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeEpisodeConstraint {
		return ErrActiveEpisodeExists
	}
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Episode, error) {
	q := fmt.Sprintf("SELECT %s FROM episode WHERE id = $1", episodeCols)
	e, err := scanEpisode(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *RepoPG) UpdateStatus(ctx context.Context, e *Episode, to Status) error {
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE episode SET status = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3
		 RETURNING version, updated_at`,
		to, e.ID, e.Version,
	).Scan(&e.Version, &e.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing episode from a lost version race.
		if _, getErr := r.GetByID(ctx, e.ID); getErr != nil {
			return getErr
		}
		return ErrConcurrentModification
	}
	if err != nil {
		return err
	}
	e.Status = to
	return nil
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM episode WHERE patient_id = $1", patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM episode WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, episodeCols)
	rows, err := r.conn(ctx).Query(ctx, q, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, 0, err
		}
		episodes = append(episodes, e)
	}
	return episodes, total, rows.Err()
}
