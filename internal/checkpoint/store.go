// Package checkpoint persists the last committed observation timestamp of
// every station. Stores never retry; callers own the retry policy.
package checkpoint

import (
	"context"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/db"
)

// Store is a key/value upsert of station cursors under one partition key
type Store interface {
	// TryGetLastCommitted returns false when the station has no checkpoint yet
	TryGetLastCommitted(ctx context.Context, stationKey string) (time.Time, bool, error)
	SetLastCommitted(ctx context.Context, stationKey string, ts time.Time) error
}

// Lister is implemented by stores that can enumerate their checkpoints
type Lister interface {
	List(ctx context.Context) ([]db.StationCheckpoint, error)
}
