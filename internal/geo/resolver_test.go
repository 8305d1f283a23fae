package geo

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

type fakeOffline struct {
	cand  *beacon.Candidate
	calls atomic.Int32
	last  atomic.Value
}

func (f *fakeOffline) Lookup(addr string) (*beacon.Candidate, bool) {
	f.calls.Add(1)
	f.last.Store(addr)
	if f.cand == nil {
		return nil, false
	}
	return f.cand, true
}

type fakeNetwork struct {
	cand  *beacon.Candidate
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeNetwork) Lookup(ctx context.Context, _ string) (*beacon.Candidate, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.cand, f.err
}

func TestResolver_GPSBeatsOfflineHit(t *testing.T) {
	t.Parallel()

	offline := &fakeOffline{cand: &beacon.Candidate{City: "Hanoi", Coordinates: &beacon.Coordinates{Latitude: 21, Longitude: 105}}}
	network := &fakeNetwork{}
	r := NewResolver(offline, network, time.Second, zap.NewNop())

	gps := beacon.Coordinates{Latitude: 10.762622, Longitude: 106.660172}
	loc, ok := r.Resolve(context.Background(), Query{Address: "1.2.3.4", GPS: &gps})

	require.True(t, ok)
	require.Equal(t, beacon.SourceClientGPS, loc.Source)
	require.Equal(t, beacon.AccuracyHigh, loc.Accuracy)
	require.Equal(t, gps, *loc.Coordinates)
	require.Zero(t, offline.calls.Load())
	require.Zero(t, network.calls.Load())
}

func TestResolver_IPEstimateBeatsDatabases(t *testing.T) {
	t.Parallel()

	offline := &fakeOffline{cand: &beacon.Candidate{City: "Hanoi"}}
	r := NewResolver(offline, nil, time.Second, nil)

	est := &beacon.IPEstimate{Coordinates: &beacon.Coordinates{Latitude: 1.5, Longitude: 2.5}, City: "Hue", Country: "VN"}
	loc, ok := r.Resolve(context.Background(), Query{Address: "1.2.3.4", IPEstimate: est})

	require.True(t, ok)
	require.Equal(t, beacon.SourceClientIPEstimate, loc.Source)
	require.Equal(t, beacon.AccuracyMediumHigh, loc.Accuracy)
	require.Equal(t, "Hue", loc.City)
	require.Zero(t, offline.calls.Load())
}

func TestResolver_OfflineHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	offline := &fakeOffline{cand: &beacon.Candidate{
		City:        "Hanoi",
		Country:     "VN",
		Coordinates: &beacon.Coordinates{Latitude: 21.02851111, Longitude: 105.8048},
	}}
	network := &fakeNetwork{cand: &beacon.Candidate{City: "elsewhere"}}
	r := NewResolver(offline, network, time.Second, nil)

	loc, ok := r.Resolve(context.Background(), Query{Address: "203.0.113.9:443, 10.0.0.1"})

	require.True(t, ok)
	require.Equal(t, beacon.SourceOfflineGeoIP, loc.Source)
	require.Equal(t, beacon.AccuracyLow, loc.Accuracy)
	require.Equal(t, 21.0285, loc.Coordinates.Latitude)
	require.Equal(t, "203.0.113.9", offline.last.Load())
	require.Zero(t, network.calls.Load())
}

func TestResolver_NetworkFallback(t *testing.T) {
	t.Parallel()

	network := &fakeNetwork{cand: &beacon.Candidate{City: "Paris", Org: "AS1 Example"}}
	r := NewResolver(&fakeOffline{}, network, time.Second, nil)

	loc, ok := r.Resolve(context.Background(), Query{Address: "198.51.100.7"})

	require.True(t, ok)
	require.Equal(t, beacon.SourceNetworkGeoIP, loc.Source)
	require.Equal(t, beacon.AccuracyMedium, loc.Accuracy)
	require.Nil(t, loc.Coordinates)
	require.Equal(t, int32(1), network.calls.Load())
}

func TestResolver_NetworkFailureYieldsNoLocation(t *testing.T) {
	t.Parallel()

	network := &fakeNetwork{err: errors.New("boom")}
	r := NewResolver(nil, network, time.Second, nil)

	loc, ok := r.Resolve(context.Background(), Query{Address: "198.51.100.7"})
	require.False(t, ok)
	require.Nil(t, loc)
	require.Equal(t, int32(1), network.calls.Load())
}

func TestResolver_NetworkTimeoutIsAbandoned(t *testing.T) {
	t.Parallel()

	network := &fakeNetwork{cand: &beacon.Candidate{City: "late"}, delay: time.Second}
	r := NewResolver(nil, network, 20*time.Millisecond, nil)

	start := time.Now()
	_, ok := r.Resolve(context.Background(), Query{Address: "198.51.100.7"})
	require.False(t, ok)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, int32(1), network.calls.Load())
}

func TestResolver_UnknownAddressSkipsLookups(t *testing.T) {
	t.Parallel()

	offline := &fakeOffline{}
	network := &fakeNetwork{}
	r := NewResolver(offline, network, time.Second, nil)

	_, ok := r.Resolve(context.Background(), Query{Address: beacon.UnknownAddress})
	require.False(t, ok)
	require.Zero(t, offline.calls.Load())
	require.Zero(t, network.calls.Load())
}

func TestResolver_OnlyPublicIPsReachNetwork(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"not-an-ip", "..", "10.0.0.1", "192.168.1.20", "127.0.0.1", "::1", "0.0.0.0", "fe80::1", "169.254.0.9"} {
		network := &fakeNetwork{cand: &beacon.Candidate{City: "Paris"}}
		r := NewResolver(&fakeOffline{}, network, time.Second, nil)

		_, ok := r.Resolve(context.Background(), Query{Address: addr})
		require.False(t, ok, "address %q", addr)
		require.Zero(t, network.calls.Load(), "address %q", addr)
	}
}

func TestCleanAddress(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"1.2.3.4":           "1.2.3.4",
		" 1.2.3.4:8080 ":    "1.2.3.4",
		"1.2.3.4, 10.0.0.1": "1.2.3.4",
		"[2001:db8::1]:443": "2001:db8::1",
		"2001:db8::1":       "2001:db8::1",
		"::ffff:192.0.2.1":  "192.0.2.1",
		"unknown":           "",
		"":                  "",
		"not-an-ip":         "not-an-ip",
	}
	for in, want := range cases {
		require.Equal(t, want, CleanAddress(in), "input %q", in)
	}
}
