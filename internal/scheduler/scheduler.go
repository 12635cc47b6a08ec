// Package scheduler runs repeated passes over every known station with a
// bounded worker pool, and backs off when weather.gov throttles the caller.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/station-observation-ingestor/internal/directory"
	"github.com/septivank/station-observation-ingestor/internal/logging"
	"github.com/septivank/station-observation-ingestor/internal/noaa"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StationProcessor is one station's polling state machine
type StationProcessor interface {
	Process(ctx context.Context) error
	NextEligible() time.Time
	StationKey() string
}

// Directory provides the station roster
type Directory interface {
	Refresh(ctx context.Context) error
	Stations() []noaa.Station
}

// StationRegistrar receives the roster after each reconciliation, e.g. to
// upsert station metadata in a downstream catalog.
type StationRegistrar interface {
	RegisterStations(ctx context.Context, stations []noaa.Station) error
}

// Factory creates the processor of a newly seen station
type Factory func(station noaa.Station) StationProcessor

// Config holds pass pacing settings
type Config struct {
	Concurrency      int
	MinPassInterval  time.Duration
	ThrottleCooldown time.Duration
	RefreshInterval  time.Duration
}

// PassResult summarizes one pass
type PassResult struct {
	ID         string
	Number     int
	Refreshed  bool
	Stations   int
	Dispatched int
	Throttled  bool
	Elapsed    time.Duration
	Delay      time.Duration
}

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithRegistrar registers the roster after every successful refresh
func WithRegistrar(r StationRegistrar) Option {
	return func(s *Scheduler) { s.registrar = r }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// table is the processor set of one roster generation. It is never mutated
// after construction; reconciliation builds a new one.
type table struct {
	processors []StationProcessor
	index      map[string]int // station id -> position in processors
}

// Scheduler is the top-level control loop. It is not safe for concurrent use.
type Scheduler struct {
	directory Directory
	factory   Factory
	registrar StationRegistrar
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	table       *table
	lastRefresh time.Time
	passes      int
}

// New creates a scheduler with an empty processor table
func New(dir Directory, factory Factory, cfg Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	s := &Scheduler{
		directory: dir,
		factory:   factory,
		cfg:       cfg,
		logger:    logger.Named("scheduler"),
		now:       time.Now,
		table:     &table{index: map[string]int{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes passes until ctx is done. It returns an error only when a
// station processor or the directory failed with something other than
// throttling.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		result, err := s.RunPass(ctx)
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}
		if err != nil {
			return err
		}

		timer := time.NewTimer(result.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunPass executes a single pass and computes the delay before the next one
func (s *Scheduler) RunPass(ctx context.Context) (PassResult, error) {
	s.passes++
	result := PassResult{ID: uuid.NewString(), Number: s.passes}
	logger := logging.WithPass(s.logger, result.ID).With(zap.Int("pass", result.Number))

	start := s.now()
	logger.Info("pass started")

	if s.lastRefresh.IsZero() || start.Sub(s.lastRefresh) > s.cfg.RefreshInterval {
		err := s.directory.Refresh(ctx)
		switch {
		case errors.Is(err, directory.ErrThrottled):
			logger.Warn("throttling detected while loading stations", zap.Error(err))
			result.Throttled = true
		case err != nil:
			logger.Error("station directory refresh failed", zap.Error(err))
			return result, fmt.Errorf("failed to refresh station directory: %w", err)
		default:
			s.reconcile(ctx, logger)
			s.lastRefresh = start
			result.Refreshed = true
		}
	}

	result.Stations = len(s.table.processors)

	if !result.Throttled {
		dispatched, throttled, err := s.dispatch(ctx, logger)
		result.Dispatched = dispatched
		result.Throttled = throttled
		if err != nil {
			return result, err
		}
	}

	result.Delay = s.nextDelay(result.Throttled)
	result.Elapsed = s.now().Sub(start)

	if result.Throttled {
		logger.Warn("pass cancelled, weather.gov throttling detected",
			zap.Int("dispatched", result.Dispatched),
			zap.Duration("elapsed", result.Elapsed),
			zap.Duration("cooldown", result.Delay),
			zap.Time("resume_at", s.now().Add(result.Delay)),
		)
	} else {
		logger.Info("pass finished",
			zap.Int("stations", result.Stations),
			zap.Int("dispatched", result.Dispatched),
			zap.Duration("elapsed", result.Elapsed),
			zap.Duration("next_pass_in", result.Delay),
		)
	}

	return result, nil
}

// reconcile swaps in a processor table for the current roster, keeping the
// processors of stations that persisted.
func (s *Scheduler) reconcile(ctx context.Context, logger *zap.Logger) {
	stations := s.directory.Stations()
	old := s.table

	next := &table{
		processors: make([]StationProcessor, 0, len(stations)),
		index:      make(map[string]int, len(stations)),
	}

	created := 0
	for _, st := range stations {
		if _, dup := next.index[st.ID]; dup {
			continue
		}

		var p StationProcessor
		if i, ok := old.index[st.ID]; ok {
			p = old.processors[i]
		} else {
			p = s.factory(st)
			created++
		}

		next.index[st.ID] = len(next.processors)
		next.processors = append(next.processors, p)
	}

	s.table = next

	logger.Info("processor table reconciled",
		zap.Int("stations", len(next.processors)),
		zap.Int("created", created),
		zap.Int("reused", len(next.processors)-created),
		zap.Int("removed", len(old.processors)-(len(next.processors)-created)),
	)

	if s.registrar != nil {
		if err := s.registrar.RegisterStations(ctx, stations); err != nil {
			logger.Error("station registration failed", zap.Error(err))
		}
	}
}

// dispatch feeds every processor, earliest eligible first, to the worker pool.
// Once a processor reports throttling no further processor is started, while
// the ones already running are allowed to finish.
func (s *Scheduler) dispatch(ctx context.Context, logger *zap.Logger) (int, bool, error) {
	ordered := make([]StationProcessor, len(s.table.processors))
	copy(ordered, s.table.processors)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].NextEligible().Before(ordered[j].NextEligible())
	})

	var (
		g          errgroup.Group
		throttled  atomic.Bool
		failed     atomic.Bool
		dispatched atomic.Int64
	)
	g.SetLimit(s.cfg.Concurrency)

	halted := func() bool {
		return throttled.Load() || failed.Load() || ctx.Err() != nil
	}

	for _, p := range ordered {
		if halted() {
			break
		}

		g.Go(func() error {
			if halted() {
				return nil
			}
			dispatched.Add(1)

			err := p.Process(ctx)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, noaa.ErrThrottled):
				if throttled.CompareAndSwap(false, true) {
					logger.Warn("throttling detected, no further stations will be dispatched this pass",
						zap.String("station", p.StationKey()),
						zap.Error(err),
					)
				}
				return nil
			default:
				failed.Store(true)
				logger.Error("station processor failed", zap.String("station", p.StationKey()), zap.Error(err))
				return fmt.Errorf("station %s: %w", p.StationKey(), err)
			}
		})
	}

	err := g.Wait()
	return int(dispatched.Load()), throttled.Load(), err
}

// nextDelay is the cooldown after throttling, otherwise the time until the
// soonest station becomes eligible but never less than the minimum interval.
func (s *Scheduler) nextDelay(throttled bool) time.Duration {
	if throttled {
		return s.cfg.ThrottleCooldown
	}

	if len(s.table.processors) == 0 {
		return s.cfg.MinPassInterval
	}

	soonest := s.table.processors[0].NextEligible()
	for _, p := range s.table.processors[1:] {
		if next := p.NextEligible(); next.Before(soonest) {
			soonest = next
		}
	}

	return max(s.cfg.MinPassInterval, soonest.Sub(s.now()))
}
