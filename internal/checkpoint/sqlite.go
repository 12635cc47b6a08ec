package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/db"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS station_checkpoints (
		partition_key     TEXT NOT NULL,
		station_key       TEXT NOT NULL,
		last_committed_at TEXT NOT NULL,
		updated_at        TEXT NOT NULL,
		PRIMARY KEY (partition_key, station_key)
	)
`

// SQLiteStore keeps checkpoints in a local SQLite file. Timestamps are stored
// as RFC3339Nano text in UTC.
type SQLiteStore struct {
	db           *sql.DB
	partitionKey string
	now          func() time.Time
}

// OpenSQLiteStore opens (creating if needed) the checkpoint database at path
func OpenSQLiteStore(ctx context.Context, path, partitionKey string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("[SQLITE] failed to open %s: %w", path, err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the worker pool.
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{db: conn, partitionKey: partitionKey, now: time.Now}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("[SQLITE] failed to create checkpoint table: %w", err)
	}

	return s, nil
}

// TryGetLastCommitted reads the cursor of a station
func (s *SQLiteStore) TryGetLastCommitted(ctx context.Context, stationKey string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_committed_at FROM station_checkpoints WHERE partition_key = ? AND station_key = ?`,
		s.partitionKey, stationKey,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query checkpoint for %s: %w", stationKey, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt checkpoint for %s: %w", stationKey, err)
	}

	return ts.UTC(), true, nil
}

// SetLastCommitted upserts the cursor of a station
func (s *SQLiteStore) SetLastCommitted(ctx context.Context, stationKey string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO station_checkpoints (partition_key, station_key, last_committed_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (partition_key, station_key)
		DO UPDATE SET last_committed_at = excluded.last_committed_at, updated_at = excluded.updated_at
	`,
		s.partitionKey,
		stationKey,
		ts.UTC().Format(time.RFC3339Nano),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint for %s: %w", stationKey, err)
	}

	return nil
}

// List returns every checkpoint of the partition ordered by station key
func (s *SQLiteStore) List(ctx context.Context) ([]db.StationCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT partition_key, station_key, last_committed_at, updated_at
		FROM station_checkpoints
		WHERE partition_key = ?
		ORDER BY station_key
	`, s.partitionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []db.StationCheckpoint
	for rows.Next() {
		var (
			c                  db.StationCheckpoint
			committed, updated string
		)
		if err := rows.Scan(&c.PartitionKey, &c.StationKey, &committed, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		if c.LastCommittedAt, err = time.Parse(time.RFC3339Nano, committed); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint for %s: %w", c.StationKey, err)
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint for %s: %w", c.StationKey, err)
		}
		checkpoints = append(checkpoints, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return checkpoints, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
