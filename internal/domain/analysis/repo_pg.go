package analysis

import (
	"context"
	"encoding/json"
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

const findingCols = `id, image_id, episode_id, risk_score, category, regions, model_version, note, created_at`

func scanFinding(row pgx.Row) (*Finding, error) {
	var f Finding
	var regions []byte
	err := row.Scan(&f.ID, &f.ImageID, &f.EpisodeID, &f.RiskScore, &f.Category,
		&regions, &f.ModelVersion, &f.Note, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(regions) > 0 {
		if err := json.Unmarshal(regions, &f.Regions); err != nil {
			return nil, fmt.Errorf("decode regions: %w", err)
		}
	}
	return &f, nil
}

func (r *RepoPG) Create(ctx context.Context, f *Finding) error {
	regions, err := json.Marshal(f.Regions)
	if err != nil {
		return fmt.Errorf("encode regions: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx,
		`INSERT INTO finding (image_id, episode_id, risk_score, category, regions, model_version, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		f.ImageID, f.EpisodeID, f.RiskScore, f.Category, regions, f.ModelVersion, f.Note,
	).Scan(&f.ID, &f.CreatedAt)
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Finding, error) {
	q := fmt.Sprintf("SELECT %s FROM finding WHERE id = $1", findingCols)
	f, err := scanFinding(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func (r *RepoPG) GetByImageAndModel(ctx context.Context, imageID uuid.UUID, modelVersion string) (*Finding, error) {
	q := fmt.Sprintf("SELECT %s FROM finding WHERE image_id = $1 AND model_version = $2", findingCols)
	f, err := scanFinding(r.conn(ctx).QueryRow(ctx, q, imageID, modelVersion))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

func (r *RepoPG) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*Finding, error) {
	q := fmt.Sprintf("SELECT %s FROM finding WHERE episode_id = $1 ORDER BY created_at", findingCols)
	rows, err := r.conn(ctx).Query(ctx, q, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []*Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}
