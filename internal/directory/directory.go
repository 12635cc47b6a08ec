// Package directory keeps the roster of weather stations that the scheduler
// polls. The roster is replaced wholesale on every successful refresh.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/noaa"
	"github.com/septivank/station-observation-ingestor/internal/retry"
	"github.com/septivank/station-observation-ingestor/internal/validator"
	"go.uber.org/zap"
)

// ErrThrottled is returned by Refresh when weather.gov rate limited the
// roster call. It also matches noaa.ErrThrottled.
var ErrThrottled = errors.New("station directory refresh throttled")

// RosterSource fetches the full station roster
type RosterSource interface {
	GetStations(ctx context.Context) ([]noaa.Station, error)
}

// Config holds the roster retry budget
type Config struct {
	Attempts   int // retry.Unlimited by default
	RetryDelay time.Duration
}

// Directory is safe for concurrent use. Refresh calls must not overlap.
type Directory struct {
	source    RosterSource
	validator *validator.Validator
	policy    retry.Policy
	logger    *zap.Logger
	stations  atomic.Pointer[[]noaa.Station]
}

// New creates an empty directory
func New(source RosterSource, v *validator.Validator, cfg Config, logger *zap.Logger) *Directory {
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = retry.Unlimited
	}

	d := &Directory{
		source:    source,
		validator: v,
		policy: retry.Policy{
			Name:     "get-stations",
			Attempts: attempts,
			Delay:    cfg.RetryDelay,
			Classify: noaa.Classify,
		},
		logger: logger.Named("directory"),
	}
	empty := []noaa.Station{}
	d.stations.Store(&empty)
	return d
}

// Stations returns the current roster snapshot. The slice is shared and must
// not be modified.
func (d *Directory) Stations() []noaa.Station {
	return *d.stations.Load()
}

// Refresh fetches the roster and swaps it in. The visible list only changes
// when a non-empty, well-formed roster was obtained.
func (d *Directory) Refresh(ctx context.Context) error {
	start := time.Now()

	stations, ok, err := retry.Do(ctx, d.logger, d.policy, d.source.GetStations)
	switch {
	case errors.Is(err, noaa.ErrThrottled):
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	case errors.Is(err, noaa.ErrMalformedResponse):
		d.logger.Warn("malformed station roster, keeping previous list",
			zap.Int("station_count", len(d.Stations())),
			zap.Error(err),
		)
		return nil
	case err != nil:
		return fmt.Errorf("failed to refresh station directory: %w", err)
	case !ok:
		d.logger.Warn("station roster retries exhausted, keeping previous list",
			zap.Int("station_count", len(d.Stations())),
		)
		return nil
	}

	accepted := make([]noaa.Station, 0, len(stations))
	seen := make(map[string]struct{}, len(stations))
	for _, s := range stations {
		if result := d.validator.ValidateStation(s); !result.IsValid {
			d.logger.Warn("dropping invalid roster record",
				zap.String("station_id", s.ID),
				zap.String("reason", result.Reason),
			)
			continue
		}
		if _, dup := seen[s.ShortID]; dup {
			d.logger.Warn("dropping duplicate roster record", zap.String("station", s.ShortID))
			continue
		}
		seen[s.ShortID] = struct{}{}
		accepted = append(accepted, s)
	}

	if len(accepted) == 0 {
		d.logger.Warn("empty station roster, keeping previous list",
			zap.Int("station_count", len(d.Stations())),
		)
		return nil
	}

	d.stations.Store(&accepted)

	d.logger.Info("station directory refreshed",
		zap.Int("station_count", len(accepted)),
		zap.Int("dropped", len(stations)-len(accepted)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return nil
}
