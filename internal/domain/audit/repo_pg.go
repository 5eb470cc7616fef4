package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const entryCols = `entry_id, episode_id, actor_id, event_type, payload, prev_hash, hash, recorded_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.EntryID, &e.EpisodeID, &e.ActorID, &e.EventType,
		&e.Payload, &e.PrevHash, &e.Hash, &e.Timestamp,
	)
	return &e, err
}

func (r *RepoPG) Append(ctx context.Context, e *Entry) error {
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO audit_entry (episode_id, actor_id, event_type, payload, prev_hash, hash, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING entry_id`,
		e.EpisodeID, e.ActorID, e.EventType, e.Payload, e.PrevHash, e.Hash, e.Timestamp,
	).Scan(&e.EntryID)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *RepoPG) LatestForEpisode(ctx context.Context, episodeID uuid.UUID) (*Entry, error) {
	q := fmt.Sprintf(`SELECT %s FROM audit_entry WHERE episode_id = $1
		ORDER BY entry_id DESC LIMIT 1`, entryCols)
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, q, episodeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *RepoPG) ListByEpisode(ctx context.Context, episodeID uuid.UUID) ([]*Entry, error) {
	q := fmt.Sprintf(`SELECT %s FROM audit_entry WHERE episode_id = $1 ORDER BY entry_id`, entryCols)
	rows, err := r.conn(ctx).Query(ctx, q, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *RepoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Entry, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if params.EpisodeID != nil {
		where = append(where, fmt.Sprintf("episode_id = $%d", idx))
		args = append(args, *params.EpisodeID)
		idx++
	}
	if params.ActorID != "" {
		where = append(where, fmt.Sprintf("actor_id = $%d", idx))
		args = append(args, params.ActorID)
		idx++
	}
	if params.EventType != "" {
		where = append(where, fmt.Sprintf("event_type = $%d", idx))
		args = append(args, params.EventType)
		idx++
	}
	if params.Since != nil {
		where = append(where, fmt.Sprintf("entry_id > $%d", idx))
		args = append(args, *params.Since)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	countQ := fmt.Sprintf("SELECT COUNT(*) FROM audit_entry %s", whereClause)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM audit_entry %s ORDER BY entry_id LIMIT $%d OFFSET $%d",
		entryCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
