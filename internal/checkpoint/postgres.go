package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/station-observation-ingestor/internal/db"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS station_checkpoints (
		partition_key     TEXT        NOT NULL,
		station_key       TEXT        NOT NULL,
		last_committed_at TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (partition_key, station_key)
	)
`

// PostgresStore keeps checkpoints in PostgreSQL
type PostgresStore struct {
	pool         *pgxpool.Pool
	partitionKey string
}

// NewPostgresStore creates a new checkpoint store on top of a pool
func NewPostgresStore(pool *pgxpool.Pool, partitionKey string) *PostgresStore {
	return &PostgresStore{pool: pool, partitionKey: partitionKey}
}

// EnsureSchema creates the checkpoint table if it does not exist yet
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

// TryGetLastCommitted reads the cursor of a station
func (s *PostgresStore) TryGetLastCommitted(ctx context.Context, stationKey string) (time.Time, bool, error) {
	query := `
		SELECT last_committed_at
		FROM station_checkpoints
		WHERE partition_key = $1 AND station_key = $2
	`

	var ts time.Time
	err := s.pool.QueryRow(ctx, query, s.partitionKey, stationKey).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query checkpoint for %s: %w", stationKey, err)
	}

	return ts.UTC(), true, nil
}

// SetLastCommitted upserts the cursor of a station
func (s *PostgresStore) SetLastCommitted(ctx context.Context, stationKey string, ts time.Time) error {
	query := `
		INSERT INTO station_checkpoints (partition_key, station_key, last_committed_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (partition_key, station_key)
		DO UPDATE SET last_committed_at = EXCLUDED.last_committed_at, updated_at = now()
	`

	if _, err := s.pool.Exec(ctx, query, s.partitionKey, stationKey, ts.UTC()); err != nil {
		return fmt.Errorf("failed to upsert checkpoint for %s: %w", stationKey, err)
	}

	return nil
}

// List returns every checkpoint of the partition ordered by station key
func (s *PostgresStore) List(ctx context.Context) ([]db.StationCheckpoint, error) {
	query := `
		SELECT partition_key, station_key, last_committed_at, updated_at
		FROM station_checkpoints
		WHERE partition_key = $1
		ORDER BY station_key
	`

	rows, err := s.pool.Query(ctx, query, s.partitionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []db.StationCheckpoint
	for rows.Next() {
		var c db.StationCheckpoint
		if err := rows.Scan(&c.PartitionKey, &c.StationKey, &c.LastCommittedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return checkpoints, nil
}
