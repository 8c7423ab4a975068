package cue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/cuecast/go/internal/models"
)

const createRoomsTable = `
CREATE TABLE IF NOT EXISTS cue_rooms (
  room       TEXT PRIMARY KEY,
  seq        BIGINT NOT NULL,
  cue_key    TEXT NOT NULL,
  at         TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresRepository keeps the latest record per room in Postgres so a restarted
// server does not hand out seq values a viewer has already seen.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn and ensures the cue_rooms table exists.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createRoomsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create cue_rooms table: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// SaveRecord upserts rec. Older records never overwrite newer ones.
func (r *PostgresRepository) SaveRecord(ctx context.Context, room string, rec models.CueRecord) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO cue_rooms (room, seq, cue_key, at, updated_at)
        VALUES ($1, $2, $3, $4, now())
        ON CONFLICT (room) DO UPDATE
          SET seq = EXCLUDED.seq, cue_key = EXCLUDED.cue_key, at = EXCLUDED.at, updated_at = now()
          WHERE cue_rooms.seq < EXCLUDED.seq
    `, room, rec.Seq, string(rec.CueKey), rec.At)
	if err != nil {
		return fmt.Errorf("upsert cue room %s: %w", room, err)
	}
	return nil
}

// LoadRecords returns the stored record of every room.
func (r *PostgresRepository) LoadRecords(ctx context.Context) (map[string]models.CueRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT room, seq, cue_key, at FROM cue_rooms`)
	if err != nil {
		return nil, fmt.Errorf("query cue rooms: %w", err)
	}

	type row struct {
		Room   string
		Seq    int64
		CueKey string
		At     time.Time
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByPos[row])
	if err != nil {
		return nil, fmt.Errorf("scan cue rooms: %w", err)
	}

	records := make(map[string]models.CueRecord, len(collected))
	for _, c := range collected {
		records[c.Room] = models.CueRecord{
			Seq:    c.Seq,
			CueKey: models.CueKey(c.CueKey),
			At:     c.At.UTC(),
		}
	}
	return records, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}
