package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/db"
)

// MemoryStore keeps checkpoints in process memory. Nothing survives a restart,
// so it is only meant for dry runs and tests.
type MemoryStore struct {
	mu           sync.Mutex
	partitionKey string
	rows         map[string]db.StationCheckpoint
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(partitionKey string) *MemoryStore {
	return &MemoryStore{partitionKey: partitionKey, rows: make(map[string]db.StationCheckpoint)}
}

func (s *MemoryStore) TryGetLastCommitted(_ context.Context, stationKey string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[stationKey]
	return row.LastCommittedAt, ok, nil
}

func (s *MemoryStore) SetLastCommitted(_ context.Context, stationKey string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[stationKey] = db.StationCheckpoint{
		PartitionKey:    s.partitionKey,
		StationKey:      stationKey,
		LastCommittedAt: ts.UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]db.StationCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.StationCheckpoint, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationKey < out[j].StationKey })
	return out, nil
}
