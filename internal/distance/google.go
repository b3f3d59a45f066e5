// Package distance looks up driving distances with the Google Distance
// Matrix API.
package distance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL  = "https://maps.googleapis.com/maps/api/distancematrix/json"
	DefaultCacheTTL = 6 * time.Hour
	DefaultTimeout  = 10 * time.Second
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("distance lookup not configured")

	// ErrLookupFailed is returned when the API could not produce a route.
	ErrLookupFailed = errors.New("distance lookup failed")
)

var thousand = decimal.NewFromInt(1000)

// Point is a latitude/longitude pair.
type Point struct {
	Lat float64
	Lng float64
}

// Config holds the Distance Matrix settings.
type Config struct {
	APIKey   string
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// Cache stores computed distances.
type Cache interface {
	GetDistance(ctx context.Context, key string) (decimal.Decimal, bool, error)
	SetDistance(ctx context.Context, key string, km decimal.Decimal, ttl time.Duration) error
}

// Client resolves distances, consulting the cache first.
type Client struct {
	cfg    Config
	http   *resty.Client
	cache  Cache
	logger logrus.FieldLogger
}

// NewClient creates a distance client. cache may be nil.
func NewClient(cfg Config, cache Cache, logger logrus.FieldLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg: cfg,
		http: resty.New().
			SetTransport(newrelic.NewRoundTripper(http.DefaultTransport)).
			SetTimeout(cfg.Timeout),
		cache:  cache,
		logger: logger,
	}
}

// CacheKey is the cache key for a pair of points.
func CacheKey(origin, destination Point) string {
	return fmt.Sprintf("distance:%.6f:%.6f:%.6f:%.6f", origin.Lat, origin.Lng, destination.Lat, destination.Lng)
}

type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Distance struct {
				Value int64 `json:"value"`
			} `json:"distance"`
		} `json:"elements"`
	} `json:"rows"`
}

// DistanceKm returns the driving distance between two points in kilometres.
func (c *Client) DistanceKm(ctx context.Context, origin, destination Point) (decimal.Decimal, error) {
	if c.cfg.APIKey == "" {
		return decimal.Zero, ErrNotConfigured
	}

	key := CacheKey(origin, destination)
	if c.cache != nil {
		km, ok, err := c.cache.GetDistance(ctx, key)
		if err != nil {
			c.logger.WithError(err).Warn("distance cache read failed")
		} else if ok {
			return km, nil
		}
	}

	var body matrixResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"units":        "metric",
			"origins":      fmt.Sprintf("%f,%f", origin.Lat, origin.Lng),
			"destinations": fmt.Sprintf("%f,%f", destination.Lat, destination.Lng),
			"key":          c.cfg.APIKey,
		}).
		SetResult(&body).
		Get(c.cfg.BaseURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%w: HTTP %d", ErrLookupFailed, resp.StatusCode())
	}
	if body.Status != "OK" {
		return decimal.Zero, fmt.Errorf("%w: api status %s", ErrLookupFailed, body.Status)
	}
	if len(body.Rows) == 0 || len(body.Rows[0].Elements) == 0 {
		return decimal.Zero, fmt.Errorf("%w: unexpected response format", ErrLookupFailed)
	}
	element := body.Rows[0].Elements[0]
	if element.Status != "OK" {
		return decimal.Zero, fmt.Errorf("%w: route not available: %s", ErrLookupFailed, element.Status)
	}

	km := decimal.NewFromInt(element.Distance.Value).Div(thousand)

	if c.cache != nil {
		if err := c.cache.SetDistance(ctx, key, km, c.cfg.CacheTTL); err != nil {
			c.logger.WithError(err).Warn("distance cache write failed")
		}
	}
	return km, nil
}
