// Package network resolves addresses through the ipapi.co JSON endpoint. Calls
// go through a circuit breaker so a failing upstream is skipped quickly.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
	"github.com/JakeFAU/visitor-telemetry/internal/telemetry"
)

// DefaultBaseURL is the public ipapi.co endpoint.
const DefaultBaseURL = "https://ipapi.co"

const maxBodyBytes = 64 << 10

// Config holds client configuration.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client performs network geolocation lookups.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[*beacon.Candidate]
	logger  *zap.Logger
}

type ipapiResponse struct {
	City        string   `json:"city"`
	Region      string   `json:"region"`
	CountryName string   `json:"country_name"`
	Org         string   `json:"org"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Error       bool     `json:"error"`
	Reason      string   `json:"reason"`
}

// New creates a Client.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[*beacon.Candidate](gobreaker.Settings{
		Name:        "ipapi",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A miss is a valid answer, not an upstream failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, beacon.ErrNoLocation)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		cb:      cb,
		logger:  logger,
	}
}

// Lookup queries the upstream once for addr. Any failure, including an open
// breaker, is returned as an error; callers treat it as "no location".
func (c *Client) Lookup(ctx context.Context, addr string) (*beacon.Candidate, error) {
	ctx, span := otel.Tracer("geo/network").Start(ctx, "ipapi.lookup", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("client.address", addr))

	start := time.Now()
	cand, err := c.cb.Execute(func() (*beacon.Candidate, error) {
		return c.fetch(ctx, addr)
	})
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, beacon.ErrNoLocation):
		result = "miss"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
	default:
		result = "error"
	}
	telemetry.ObserveGeoNetworkLookup(result, time.Since(start))
	if err != nil {
		span.SetStatus(codes.Error, result)
		return nil, fmt.Errorf("network geolocation for %s: %w", addr, err)
	}
	return cand, nil
}

func (c *Client) fetch(ctx context.Context, addr string) (*beacon.Candidate, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(addr) + "/json/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, beacon.ErrNoLocation
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if body.Error || body.CountryName == "" {
		return nil, beacon.ErrNoLocation
	}

	cand := &beacon.Candidate{
		City:    body.City,
		Region:  body.Region,
		Country: body.CountryName,
		Org:     body.Org,
	}
	if body.Latitude != nil && body.Longitude != nil {
		cand.Coordinates = &beacon.Coordinates{Latitude: *body.Latitude, Longitude: *body.Longitude}
	}
	return cand, nil
}
