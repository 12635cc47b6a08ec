// Package processor pulls new observations of a single station and forwards
// them to the message bus, advancing the station checkpoint only after the
// bus accepted every batch.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/checkpoint"
	"github.com/septivank/station-observation-ingestor/internal/logging"
	"github.com/septivank/station-observation-ingestor/internal/noaa"
	"github.com/septivank/station-observation-ingestor/internal/partition"
	"github.com/septivank/station-observation-ingestor/internal/retry"
	"github.com/septivank/station-observation-ingestor/tools/timeparser"
	"go.uber.org/zap"
)

// ObservationSource fetches observations of one station reported after start
type ObservationSource interface {
	GetObservations(ctx context.Context, stationShortID string, start time.Time) ([]noaa.Observation, error)
}

// Publisher accepts one serialized batch at a time. A nil error means the
// batch is durably accepted.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Config holds per-station polling settings
type Config struct {
	LookBack        time.Duration
	SleepCeiling    time.Duration
	PullAttempts    int
	PullDelay       time.Duration
	PullJitter      time.Duration
	MaxMessageBytes int
}

// Option customizes a Processor
type Option func(*Processor)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor is the per-station polling state machine. Process must not be
// called concurrently on the same instance.
type Processor struct {
	station   noaa.Station
	source    ObservationSource
	publisher Publisher
	store     checkpoint.Store
	cfg       Config
	policy    retry.Policy
	logger    *zap.Logger
	now       func() time.Time

	cursor             time.Time
	hasCursor          bool
	lastSuccessfulPull time.Time
	nextEligible       time.Time
}

// New creates a processor that is eligible immediately
func New(
	station noaa.Station,
	source ObservationSource,
	publisher Publisher,
	store checkpoint.Store,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Processor {
	p := &Processor{
		station:   station,
		source:    source,
		publisher: publisher,
		store:     store,
		cfg:       cfg,
		policy: retry.Policy{
			Name:     fmt.Sprintf("get-observations(%s)", station.ShortID),
			Attempts: cfg.PullAttempts,
			Delay:    cfg.PullDelay,
			Jitter:   cfg.PullJitter,
			Classify: noaa.Classify,
		},
		logger: logging.WithStation(logger, station.ShortID),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StationKey returns the key of all per-station state
func (p *Processor) StationKey() string {
	return p.station.ShortID
}

// NextEligible returns the earliest time the station is worth pulling again
func (p *Processor) NextEligible() time.Time {
	return p.nextEligible
}

// Process runs one polling cycle. The only error it returns is a throttling
// error matching noaa.ErrThrottled; every other failure is logged and the
// station is retried on the next pass.
func (p *Processor) Process(ctx context.Context) error {
	now := p.now()
	if now.Before(p.nextEligible) {
		p.logger.Debug("station not eligible yet",
			zap.Duration("remaining", p.nextEligible.Sub(now)),
		)
		return nil
	}

	from, ok := p.pullFrom(ctx, now)
	if !ok {
		return nil
	}

	observations, ok, err := retry.Do(ctx, p.logger, p.policy, func(ctx context.Context) ([]noaa.Observation, error) {
		return p.source.GetObservations(ctx, p.station.ShortID, from)
	})
	if errors.Is(err, noaa.ErrThrottled) {
		return err
	}
	if err != nil || !ok {
		p.logger.Warn("pull failed, skipping station for this pass", zap.Error(err))
		return nil
	}

	observations = newerThan(observations, from)

	if len(observations) == 0 {
		p.commitQuiet(ctx, from)
		return nil
	}

	p.commitObservations(ctx, from, observations)
	return nil
}

// pullFrom resolves the cursor: cached, then stored, then the look-back window
func (p *Processor) pullFrom(ctx context.Context, now time.Time) (time.Time, bool) {
	if p.hasCursor {
		return p.cursor, true
	}

	ts, found, err := p.store.TryGetLastCommitted(ctx, p.station.ShortID)
	if err != nil {
		p.logger.Error("failed to read checkpoint, skipping station for this pass", zap.Error(err))
		return time.Time{}, false
	}
	if found {
		p.cursor, p.hasCursor = ts, true
		return ts, true
	}

	return now.Add(-p.cfg.LookBack).UTC(), true
}

func (p *Processor) commitObservations(ctx context.Context, from time.Time, observations []noaa.Observation) {
	batches, err := partition.Partition(observations, p.cfg.MaxMessageBytes)
	if err != nil {
		var tooLarge *partition.ItemTooLargeError
		if errors.As(err, &tooLarge) {
			p.logger.Error("single observation exceeds the maximum message size, skipping station for this pass",
				zap.Time("observation_timestamp", observations[tooLarge.Index].Timestamp),
				zap.Int("size", tooLarge.Size),
				zap.Int("max_size", tooLarge.MaxSize),
			)
			return
		}
		p.logger.Error("failed to serialize observations, skipping station for this pass", zap.Error(err))
		return
	}

	for i, batch := range batches {
		if err := p.publisher.Publish(ctx, batch); err != nil {
			p.logger.Error("failed to publish batch, skipping station for this pass",
				zap.Int("batch", i),
				zap.Int("batch_count", len(batches)),
				zap.Error(err),
			)
			return
		}
	}

	latest := observations[len(observations)-1].Timestamp
	p.cursor, p.hasCursor = latest, true

	if err := p.store.SetLastCommitted(ctx, p.station.ShortID, latest); err != nil {
		p.logger.Error("failed to persist checkpoint after publish", zap.Time("cursor", latest), zap.Error(err))
		return
	}

	done := p.now()
	interval := p.cfg.SleepCeiling
	if !p.lastSuccessfulPull.IsZero() {
		interval = timeparser.HalfOf(max(done.Sub(p.lastSuccessfulPull), 0), p.cfg.SleepCeiling)
	}
	p.lastSuccessfulPull = done
	p.nextEligible = done.Add(interval)

	p.logger.Debug("observations published",
		zap.Int("observation_count", len(observations)),
		zap.Int("batch_count", len(batches)),
		zap.Duration("window", done.Sub(from)),
		zap.Time("cursor", latest),
		zap.Duration("next_pull_in", interval),
	)
}

// commitQuiet moves the cursor to the pull-from time so a quiet station does
// not request the same empty window again.
func (p *Processor) commitQuiet(ctx context.Context, from time.Time) {
	p.cursor, p.hasCursor = from, true

	if err := p.store.SetLastCommitted(ctx, p.station.ShortID, from); err != nil {
		p.logger.Error("failed to persist checkpoint", zap.Time("cursor", from), zap.Error(err))
		return
	}

	interval := p.cfg.SleepCeiling / 2
	p.nextEligible = p.now().Add(interval)

	p.logger.Debug("no new data", zap.Duration("next_pull_in", interval))
}

// newerThan drops observations at or before cursor and sorts the rest
// chronologically.
func newerThan(observations []noaa.Observation, cursor time.Time) []noaa.Observation {
	kept := observations[:0:0]
	for _, o := range observations {
		if o.Timestamp.After(cursor) {
			kept = append(kept, o)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})
	return kept
}
