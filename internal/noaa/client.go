package noaa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/retry"
	"github.com/septivank/station-observation-ingestor/tools/timeparser"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrThrottled is matched by every error caused by weather.gov rate limiting.
// The API allows a fixed number of calls per caller per day and signals
// throttling with HTTP 403.
var ErrThrottled = errors.New("weather.gov throttling detected")

// ErrMalformedResponse is matched by errors for bodies that are not the
// expected GeoJSON document.
var ErrMalformedResponse = errors.New("malformed weather.gov response")

const (
	maxResponseBodySize = 32 << 20
	maxErrorBodySize    = 4 << 10
)

// ClientConfig holds weather.gov client settings
type ClientConfig struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxConnsPerHost   int
}

// Client talks to the weather.gov stations API
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new weather.gov client. Outbound calls are paced by a
// token bucket shared by every caller of the client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
				MaxConnsPerHost:     cfg.MaxConnsPerHost,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("noaa"),
	}
}

// Classify maps a failed request to a retry class: throttling is reported
// separately so callers can abort instead of hammering the API.
func Classify(err error) retry.Class {
	if errors.Is(err, ErrThrottled) {
		return retry.Throttled
	}
	return retry.Transient
}

// GetStations fetches the station roster
func (c *Client) GetStations(ctx context.Context) ([]Station, error) {
	var resp stationsResponse
	if err := c.getJSON(ctx, c.baseURL+"/stations", &resp); err != nil {
		return nil, err
	}

	stations := make([]Station, 0, len(resp.Features))
	for _, f := range resp.Features {
		if f.Type != "Feature" || f.Properties == nil || f.Properties.Type != "wx:ObservationStation" {
			continue
		}
		if f.Geometry == nil || f.Geometry.Type != "Point" {
			continue
		}

		station := Station{
			ID:       f.ID,
			ShortID:  f.Properties.StationIdentifier,
			Name:     f.Properties.Name,
			TimeZone: f.Properties.TimeZone,
		}
		// GeoJSON coordinates are [longitude, latitude]
		if len(f.Geometry.Coordinates) >= 2 {
			lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
			station.Longitude = &lon
			station.Latitude = &lat
		}
		stations = append(stations, station)
	}

	return stations, nil
}

// GetObservations fetches observations of one station reported at or after start
func (c *Client) GetObservations(ctx context.Context, stationShortID string, start time.Time) ([]Observation, error) {
	endpoint := fmt.Sprintf("%s/stations/%s/observations?start=%s",
		c.baseURL,
		url.PathEscape(stationShortID),
		url.QueryEscape(timeparser.FormatStartParam(start)),
	)

	var resp observationsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	observations := make([]Observation, 0, len(resp.Features))
	for _, f := range resp.Features {
		if f.Type != "Feature" || f.Properties == nil {
			continue
		}
		p := f.Properties
		if p.Type != "" && p.Type != "wx:ObservationStation" {
			continue
		}

		ts, err := timeparser.ParseObservationTimestamp(p.Timestamp)
		if err != nil {
			c.logger.Warn("skipping observation with malformed timestamp",
				zap.String("station", stationShortID),
				zap.Error(err),
			)
			continue
		}

		obs := Observation{
			StationID:                 p.Station,
			Timestamp:                 ts,
			RawMessage:                p.RawMessage,
			TextDescription:           p.TextDescription,
			Temperature:               p.Temperature,
			Dewpoint:                  p.Dewpoint,
			WindDirection:             p.WindDirection,
			WindSpeed:                 p.WindSpeed,
			WindGust:                  p.WindGust,
			BarometricPressure:        p.BarometricPressure,
			SeaLevelPressure:          p.SeaLevelPressure,
			Visibility:                p.Visibility,
			MaxTemperatureLast24Hours: p.MaxTemperatureLast24Hours,
			MinTemperatureLast24Hours: p.MinTemperatureLast24Hours,
			PrecipitationLastHour:     p.PrecipitationLastHour,
			PrecipitationLast3Hours:   p.PrecipitationLast3Hours,
			PrecipitationLast6Hours:   p.PrecipitationLast6Hours,
			RelativeHumidity:          p.RelativeHumidity,
			WindChill:                 p.WindChill,
			HeatIndex:                 p.HeatIndex,
		}
		if len(p.CloudLayers) > 0 {
			layer := p.CloudLayers[0]
			obs.CloudLayer0 = &layer
		}
		observations = append(observations, obs)
	}

	return observations, nil
}

// getJSON performs a GET and decodes the body into out. Transport and status
// failures come back as *retry.RequestError; decoding failures do not.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait canceled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retry.RequestError{Method: req.Method, URL: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		reqErr := &retry.RequestError{
			Method:     req.Method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
		if resp.StatusCode == http.StatusForbidden {
			reqErr.Err = ErrThrottled
		}
		return reqErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return &retry.RequestError{Method: req.Method, URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w: %w", endpoint, ErrMalformedResponse, err)
	}

	c.logger.Debug("request completed",
		zap.String("url", endpoint),
		zap.Int("status_code", resp.StatusCode),
		zap.Int("body_size", len(body)),
	)

	return nil
}

// Close releases idle connections
func (c *Client) Close() {
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
