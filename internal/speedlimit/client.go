// Package speedlimit proxies road speed-limit lookups to a third-party API.
package speedlimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/trip-recorder/internal/geo"
	"github.com/example/trip-recorder/internal/observability"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 10 * time.Minute

	maxBodyBytes = 1 << 20
)

var (
	// ErrNotConfigured is returned when no upstream endpoint is set.
	ErrNotConfigured = errors.New("speed limit lookup not configured")
	// ErrInvalidCoordinates is returned for out of range lat/lon.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// UpstreamError reports a failed call to the speed-limit provider.
type UpstreamError struct {
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speed limit upstream: %v", e.Err)
	}
	return fmt.Sprintf("speed limit upstream: status %d", e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Result is the upstream JSON body, passed through unchanged.
type Result struct {
	Body   []byte
	Cached bool
}

// Client performs lookups against the upstream HTTP API. The API key is
// injected from configuration and sent as the "key" query parameter.
type Client struct {
	Endpoint string
	APIKey   string
	HTTP     *http.Client
	Cache    Cache
	TTL      time.Duration
	Logger   *slog.Logger
}

func NewClient(endpoint, apiKey string, timeout time.Duration, cache Cache, ttl time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Client{
		Endpoint: endpoint,
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: timeout},
		Cache:    cache,
		TTL:      ttl,
	}
}

// Lookup returns the speed limit payload for a coordinate, serving from the
// cache when possible. Only 2xx bodies are cached.
func (c *Client) Lookup(ctx context.Context, lat, lon float64) (*Result, error) {
	if c == nil || c.Endpoint == "" {
		observability.SpeedLimitLookups.WithLabelValues("not_configured").Inc()
		return nil, ErrNotConfigured
	}
	if !geo.ValidCoord(lat, lon) {
		observability.SpeedLimitLookups.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCoordinates
	}

	key := keyFor(lat, lon)
	if c.Cache != nil {
		body, ok, err := c.Cache.Get(ctx, key)
		if err != nil {
			c.logger().Warn("speed limit cache read failed", "key", key, "error", err)
		} else if ok {
			observability.SpeedLimitLookups.WithLabelValues("cache_hit").Inc()
			return &Result{Body: body, Cached: true}, nil
		}
	}

	body, err := c.fetch(ctx, lat, lon)
	if err != nil {
		observability.SpeedLimitLookups.WithLabelValues("upstream_error").Inc()
		return nil, err
	}
	observability.SpeedLimitLookups.WithLabelValues("ok").Inc()

	if c.Cache != nil {
		if err := c.Cache.Set(ctx, key, body, c.TTL); err != nil {
			c.logger().Warn("speed limit cache write failed", "key", key, "error", err)
		}
	}
	return &Result{Body: body}, nil
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) ([]byte, error) {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	q := u.Query()
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	if c.APIKey != "" {
		q.Set("key", c.APIKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode}
	}
	return body, nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
