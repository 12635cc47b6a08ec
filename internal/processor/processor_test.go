package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/checkpoint"
	"github.com/septivank/station-observation-ingestor/internal/noaa"
	"github.com/septivank/station-observation-ingestor/internal/partition"
	"github.com/septivank/station-observation-ingestor/internal/retry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type pullResult struct {
	observations []noaa.Observation
	err          error
}

type fakeSource struct {
	results []pullResult
	starts  []time.Time
}

func (s *fakeSource) GetObservations(_ context.Context, _ string, start time.Time) ([]noaa.Observation, error) {
	i := len(s.starts)
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.starts = append(s.starts, start)
	return s.results[i].observations, s.results[i].err
}

type fakePublisher struct {
	batches [][]byte
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, body)
	return nil
}

func (p *fakePublisher) observations(t *testing.T) []noaa.Observation {
	t.Helper()
	var all []noaa.Observation
	for _, b := range p.batches {
		var batch []noaa.Observation
		if err := json.Unmarshal(b, &batch); err != nil {
			t.Fatalf("published batch is not a JSON array: %v", err)
		}
		all = append(all, batch...)
	}
	return all
}

type fakeStore struct {
	*checkpoint.MemoryStore
	getErr error
	setErr error
	sets   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: checkpoint.NewMemoryStore("test")}
}

func (s *fakeStore) TryGetLastCommitted(ctx context.Context, key string) (time.Time, bool, error) {
	if s.getErr != nil {
		return time.Time{}, false, s.getErr
	}
	return s.MemoryStore.TryGetLastCommitted(ctx, key)
}

func (s *fakeStore) SetLastCommitted(ctx context.Context, key string, ts time.Time) error {
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	return s.MemoryStore.SetLastCommitted(ctx, key, ts)
}

func (s *fakeStore) committed(t *testing.T) (time.Time, bool) {
	t.Helper()
	ts, ok, err := s.MemoryStore.TryGetLastCommitted(context.Background(), "KSEA")
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	return ts, ok
}

func obs(ts time.Time) noaa.Observation {
	return noaa.Observation{StationID: "https://api.weather.gov/stations/KSEA", Timestamp: ts}
}

func testConfig() Config {
	return Config{
		LookBack:        24 * time.Hour,
		SleepCeiling:    20 * time.Minute,
		PullAttempts:    3,
		MaxMessageBytes: partition.DefaultMaxMessageSize,
	}
}

type fixture struct {
	clock     *clock
	source    *fakeSource
	publisher *fakePublisher
	store     *fakeStore
	proc      *Processor
}

func newFixture(t *testing.T, cfg Config, logger *zap.Logger, results ...pullResult) *fixture {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	f := &fixture{
		clock:     &clock{t: base},
		source:    &fakeSource{results: results},
		publisher: &fakePublisher{},
		store:     newFakeStore(),
	}
	station := noaa.Station{ID: "https://api.weather.gov/stations/KSEA", ShortID: "KSEA"}
	f.proc = New(station, f.source, f.publisher, f.store, cfg, logger, WithClock(f.clock.now))
	return f
}

func TestProcess_CursorAdvance(t *testing.T) {
	cursor := base.Add(-time.Hour)
	t0, t1, t2 := cursor.Add(10*time.Minute), cursor.Add(20*time.Minute), cursor.Add(30*time.Minute)

	f := newFixture(t, testConfig(), nil, pullResult{observations: []noaa.Observation{obs(t2), obs(cursor), obs(t0), obs(t1)}})
	_ = f.store.MemoryStore.SetLastCommitted(context.Background(), "KSEA", cursor)

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(f.publisher.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(f.publisher.batches))
	}
	published := f.publisher.observations(t)
	if len(published) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(published))
	}
	for i, want := range []time.Time{t0, t1, t2} {
		if !published[i].Timestamp.Equal(want) {
			t.Errorf("observation %d: expected %v, got %v", i, want, published[i].Timestamp)
		}
	}

	got, ok := f.store.committed(t)
	if !ok || !got.Equal(t2) {
		t.Errorf("expected checkpoint %v, got %v (ok=%v)", t2, got, ok)
	}
	if !f.source.starts[0].Equal(cursor) {
		t.Errorf("expected pull from stored cursor %v, got %v", cursor, f.source.starts[0])
	}
	if want := base.Add(20 * time.Minute); !f.proc.NextEligible().Equal(want) {
		t.Errorf("expected first pacing at the ceiling (%v), got %v", want, f.proc.NextEligible())
	}
}

func TestProcess_PacingHalvesElapsedTime(t *testing.T) {
	f := newFixture(t, testConfig(), nil,
		pullResult{observations: []noaa.Observation{obs(base.Add(-time.Minute))}},
		pullResult{observations: []noaa.Observation{obs(base.Add(20 * time.Minute))}},
	)

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}

	f.clock.advance(24 * time.Minute)
	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("second Process() error = %v", err)
	}

	if want := base.Add(24*time.Minute + 12*time.Minute); !f.proc.NextEligible().Equal(want) {
		t.Errorf("expected next eligible %v, got %v", want, f.proc.NextEligible())
	}
	if !f.source.starts[1].Equal(base.Add(-time.Minute)) {
		t.Errorf("expected second pull from cached cursor, got %v", f.source.starts[1])
	}
}

func TestProcess_NoNewData(t *testing.T) {
	cursor := base.Add(-time.Hour)
	f := newFixture(t, testConfig(), nil, pullResult{observations: []noaa.Observation{obs(cursor)}})
	_ = f.store.MemoryStore.SetLastCommitted(context.Background(), "KSEA", cursor)

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(f.publisher.batches) != 0 {
		t.Errorf("expected no publish, got %d batches", len(f.publisher.batches))
	}
	got, _ := f.store.committed(t)
	if !got.Equal(cursor) {
		t.Errorf("expected checkpoint at pull-from %v, got %v", cursor, got)
	}
	if f.store.sets != 1 {
		t.Errorf("expected checkpoint write, got %d", f.store.sets)
	}
	if want := base.Add(10 * time.Minute); !f.proc.NextEligible().Equal(want) {
		t.Errorf("expected next eligible %v, got %v", want, f.proc.NextEligible())
	}
}

func TestProcess_LookBackForUnknownStation(t *testing.T) {
	f := newFixture(t, testConfig(), nil, pullResult{observations: nil})

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	want := base.Add(-24 * time.Hour)
	if !f.source.starts[0].Equal(want) {
		t.Errorf("expected pull from %v, got %v", want, f.source.starts[0])
	}
	got, ok := f.store.committed(t)
	if !ok || !got.Equal(want) {
		t.Errorf("expected checkpoint %v, got %v", want, got)
	}
}

func TestProcess_ThrottlingPropagates(t *testing.T) {
	throttled := &retry.RequestError{Method: "GET", URL: "/stations/KSEA/observations", StatusCode: 403, Err: noaa.ErrThrottled}
	f := newFixture(t, testConfig(), nil, pullResult{err: throttled})

	err := f.proc.Process(context.Background())
	if !errors.Is(err, noaa.ErrThrottled) {
		t.Fatalf("expected throttling error, got %v", err)
	}
	var reqErr *retry.RequestError
	if !errors.As(err, &reqErr) || reqErr != throttled {
		t.Errorf("expected the original error unchanged, got %v", err)
	}
	if len(f.source.starts) != 1 {
		t.Errorf("expected a single pull, got %d", len(f.source.starts))
	}
	if f.store.sets != 0 {
		t.Errorf("checkpoint must not be touched, got %d writes", f.store.sets)
	}
	if !f.proc.NextEligible().IsZero() {
		t.Errorf("eligibility must be unchanged, got %v", f.proc.NextEligible())
	}
}

func TestProcess_NotEligibleIsNoop(t *testing.T) {
	f := newFixture(t, testConfig(), nil, pullResult{observations: nil})

	_ = f.proc.Process(context.Background())
	f.clock.advance(time.Minute)
	_ = f.proc.Process(context.Background())

	if len(f.source.starts) != 1 {
		t.Errorf("expected one pull, got %d", len(f.source.starts))
	}
}

func TestProcess_TransientExhaustionSkips(t *testing.T) {
	cfg := testConfig()
	cfg.PullAttempts = 2
	unavailable := &retry.RequestError{Method: "GET", StatusCode: 503, Err: errors.New("unavailable")}
	f := newFixture(t, cfg, nil, pullResult{err: unavailable})

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if len(f.source.starts) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(f.source.starts))
	}
	if f.store.sets != 0 || !f.proc.NextEligible().IsZero() {
		t.Errorf("expected no state change, sets=%d next=%v", f.store.sets, f.proc.NextEligible())
	}
}

func TestProcess_PublishFailureKeepsCursor(t *testing.T) {
	cursor := base.Add(-time.Hour)
	f := newFixture(t, testConfig(), nil, pullResult{observations: []noaa.Observation{obs(base)}})
	_ = f.store.MemoryStore.SetLastCommitted(context.Background(), "KSEA", cursor)
	f.publisher.err = errors.New("broker unavailable")

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if f.store.sets != 0 {
		t.Errorf("checkpoint must not advance, got %d writes", f.store.sets)
	}
	if !f.proc.NextEligible().IsZero() {
		t.Errorf("eligibility must be unchanged, got %v", f.proc.NextEligible())
	}

	f.publisher.err = nil
	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !f.source.starts[1].Equal(cursor) {
		t.Errorf("expected retry from %v, got %v", cursor, f.source.starts[1])
	}
	if len(f.publisher.batches) != 1 {
		t.Errorf("expected the batch to be published on retry")
	}
}

func TestProcess_CheckpointWriteFailureKeepsMemoryCursor(t *testing.T) {
	cursor := base.Add(-time.Hour)
	f := newFixture(t, testConfig(), nil,
		pullResult{observations: []noaa.Observation{obs(base.Add(-time.Minute))}},
		pullResult{observations: nil},
	)
	_ = f.store.MemoryStore.SetLastCommitted(context.Background(), "KSEA", cursor)
	f.store.setErr = errors.New("table unavailable")

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if len(f.publisher.batches) != 1 {
		t.Fatalf("expected publish before checkpoint write")
	}
	if !f.proc.NextEligible().IsZero() {
		t.Errorf("eligibility must be unchanged, got %v", f.proc.NextEligible())
	}

	f.store.setErr = nil
	_ = f.proc.Process(context.Background())
	if want := base.Add(-time.Minute); !f.source.starts[1].Equal(want) {
		t.Errorf("expected pull from in-memory cursor %v, got %v", want, f.source.starts[1])
	}
	got, _ := f.store.committed(t)
	if !got.Equal(base.Add(-time.Minute)) {
		t.Errorf("expected checkpoint to catch up, got %v", got)
	}
}

func TestProcess_CheckpointReadFailureSkips(t *testing.T) {
	f := newFixture(t, testConfig(), nil, pullResult{observations: nil})
	f.store.getErr = errors.New("timeout")

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if len(f.source.starts) != 0 {
		t.Errorf("expected no pull without a cursor, got %d", len(f.source.starts))
	}
}

func TestProcess_OversizedObservationIsReportedDistinctly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := testConfig()
	cfg.MaxMessageBytes = 100
	f := newFixture(t, cfg, zap.New(core), pullResult{observations: []noaa.Observation{obs(base)}})

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if len(f.publisher.batches) != 0 || f.store.sets != 0 {
		t.Errorf("expected no publish and no checkpoint")
	}
	if logs.FilterMessageSnippet("exceeds the maximum message size").Len() != 1 {
		t.Errorf("expected a distinct oversized log entry, got %v", logs.All())
	}
}

func TestProcess_SplitsIntoOrderedBatches(t *testing.T) {
	cfg := testConfig()
	one, err := json.Marshal([]noaa.Observation{obs(base)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	cfg.MaxMessageBytes = len(one) * 2

	items := []noaa.Observation{obs(base.Add(3 * time.Minute)), obs(base.Add(time.Minute)), obs(base.Add(2 * time.Minute))}
	f := newFixture(t, cfg, nil, pullResult{observations: items})
	f.clock.advance(time.Hour)

	if err := f.proc.Process(context.Background()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(f.publisher.batches) < 2 {
		t.Fatalf("expected several batches, got %d", len(f.publisher.batches))
	}
	for _, b := range f.publisher.batches {
		if len(b) > cfg.MaxMessageBytes {
			t.Errorf("batch of %d bytes exceeds %d", len(b), cfg.MaxMessageBytes)
		}
	}
	published := f.publisher.observations(t)
	for i, want := range []time.Time{base.Add(time.Minute), base.Add(2 * time.Minute), base.Add(3 * time.Minute)} {
		if !published[i].Timestamp.Equal(want) {
			t.Errorf("observation %d: expected %v, got %v", i, want, published[i].Timestamp)
		}
	}
}
