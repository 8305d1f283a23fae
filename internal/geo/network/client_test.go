package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

func TestClient_LookupSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/8.8.8.8/json/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"8.8.8.8","city":"Mountain View","region":"California",` +
			`"country_name":"United States","org":"GOOGLE","latitude":37.42301,"longitude":-122.083352}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	cand, err := c.Lookup(context.Background(), "8.8.8.8")

	require.NoError(t, err)
	require.Equal(t, "Mountain View", cand.City)
	require.Equal(t, "California", cand.Region)
	require.Equal(t, "United States", cand.Country)
	require.Equal(t, "GOOGLE", cand.Org)
	require.NotNil(t, cand.Coordinates)
	require.InDelta(t, -122.083352, cand.Coordinates.Longitude, 1e-9)
}

func TestClient_ReservedAddressIsMiss(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"10.0.0.1","error":true,"reason":"Reserved IP Address","reserved":true}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	_, err := c.Lookup(context.Background(), "10.0.0.1")
	require.ErrorIs(t, err, beacon.ErrNoLocation)
}

func TestClient_UpstreamErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	_, err := c.Lookup(context.Background(), "8.8.8.8")
	require.Error(t, err)
	require.False(t, errors.Is(err, beacon.ErrNoLocation))
}

func TestClient_MalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>rate limited</html>`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	_, err := c.Lookup(context.Background(), "8.8.8.8")
	require.Error(t, err)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Hour}, srv.Client(), nil)
	for i := 0; i < 5; i++ {
		_, err := c.Lookup(context.Background(), "8.8.8.8")
		require.Error(t, err)
	}
	require.Equal(t, int32(2), hits.Load())
}

func TestClient_MissesDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"error":true,"reason":"Invalid IP Address"}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, BreakerFailures: 1, BreakerCooldown: time.Hour}, srv.Client(), nil)
	for i := 0; i < 3; i++ {
		_, err := c.Lookup(context.Background(), "bogus")
		require.ErrorIs(t, err, beacon.ErrNoLocation)
	}
	require.Equal(t, int32(3), hits.Load())
}

func TestClient_ContextDeadline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL}, srv.Client(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Lookup(ctx, "8.8.8.8")
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}
