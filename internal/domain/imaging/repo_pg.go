package imaging

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

const imageCols = `id, episode_id, modality, storage_reference, uploaded_by, uploaded_at`

func scanImage(row pgx.Row) (*ImageRecord, error) {
	var img ImageRecord
	err := row.Scan(&img.ID, &img.EpisodeID, &img.Modality, &img.StorageReference, &img.UploadedBy, &img.UploadedAt)
	return &img, err
}

func (r *RepoPG) Create(ctx context.Context, img *ImageRecord) error {
	return r.conn(ctx).QueryRow(ctx,
		`INSERT INTO image_record (episode_id, modality, storage_reference, uploaded_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, uploaded_at`,
		img.EpisodeID, img.Modality, img.StorageReference, img.UploadedBy,
	).Scan(&img.ID, &img.UploadedAt)
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ImageRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM image_record WHERE id = $1", imageCols)
	img, err := scanImage(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return img, err
}

func (r *RepoPG) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*ImageRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM image_record WHERE episode_id = $1 ORDER BY uploaded_at", imageCols)
	rows, err := r.conn(ctx).Query(ctx, q, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*ImageRecord
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (r *RepoPG) CountByEpisode(ctx context.Context, episodeID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM image_record WHERE episode_id = $1", episodeID).Scan(&n)
	return n, err
}
