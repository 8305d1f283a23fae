package geo

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
	"github.com/JakeFAU/visitor-telemetry/internal/telemetry"
)

// DefaultNetworkTimeout bounds the single network lookup per visit.
const DefaultNetworkTimeout = 3 * time.Second

// Query is everything the resolver may use for one visit.
type Query struct {
	Address    string
	GPS        *beacon.Coordinates
	IPEstimate *beacon.IPEstimate
}

// Resolver walks the location cascade.
type Resolver struct {
	offline beacon.OfflineGeoSource
	network beacon.NetworkGeoSource
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver builds a Resolver. Either source may be nil to skip that step.
func NewResolver(
	offline beacon.OfflineGeoSource,
	network beacon.NetworkGeoSource,
	timeout time.Duration,
	logger *zap.Logger,
) *Resolver {
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		offline: offline,
		network: network,
		timeout: timeout,
		logger:  logger,
	}
}

// Resolve returns the highest-priority location available for q. A false result
// is not an error; the visit simply has no location.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*beacon.ResolvedLocation, bool) {
	loc, ok := r.resolve(ctx, q)
	if ok {
		telemetry.ObserveGeoResolution(string(loc.Source))
	} else {
		telemetry.ObserveGeoResolution("none")
	}
	return loc, ok
}

func (r *Resolver) resolve(ctx context.Context, q Query) (*beacon.ResolvedLocation, bool) {
	if q.GPS != nil {
		gps := *q.GPS
		return &beacon.ResolvedLocation{
			Candidate: beacon.Candidate{Coordinates: &gps},
			Source:    beacon.SourceClientGPS,
			Accuracy:  beacon.AccuracyHigh,
		}, true
	}
	if est := q.IPEstimate; est != nil && est.Coordinates != nil {
		coords := *est.Coordinates
		return &beacon.ResolvedLocation{
			Candidate: beacon.Candidate{
				Coordinates: &coords,
				City:        est.City,
				Country:     est.Country,
				Org:         est.Org,
			},
			Source:   beacon.SourceClientIPEstimate,
			Accuracy: beacon.AccuracyMediumHigh,
		}, true
	}

	addr := CleanAddress(q.Address)
	if addr == "" {
		return nil, false
	}
	if r.offline != nil {
		if cand, ok := r.offline.Lookup(addr); ok && cand != nil {
			return resolved(cand, beacon.SourceOfflineGeoIP, beacon.AccuracyLow), true
		}
	}
	if r.network == nil || !routable(addr) {
		return nil, false
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	cand, err := r.network.Lookup(lookupCtx, addr)
	if err != nil || cand == nil {
		if err != nil && !errors.Is(err, beacon.ErrNoLocation) {
			r.logger.Debug("network geolocation failed", zap.String("address", addr), zap.Error(err))
		}
		return nil, false
	}
	return resolved(cand, beacon.SourceNetworkGeoIP, beacon.AccuracyMedium), true
}

func resolved(cand *beacon.Candidate, src beacon.LocationSource, acc beacon.Accuracy) *beacon.ResolvedLocation {
	out := &beacon.ResolvedLocation{Candidate: *cand, Source: src, Accuracy: acc}
	out.Coordinates = nil
	if cand.Coordinates != nil {
		if c, ok := Validate(cand.Coordinates.Latitude, cand.Coordinates.Longitude, PrecisionIPEstimate); ok {
			out.Coordinates = &c
		}
	}
	return out
}

// routable reports whether addr is a public IP worth a remote lookup.
func routable(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsUnspecified() &&
		!ip.IsLinkLocalUnicast() && !ip.IsLinkLocalMulticast() && !ip.IsMulticast()
}

// CleanAddress reduces a raw forwarded value ("1.2.3.4:5678, 10.0.0.1") to a
// bare IP. Non-IP leftovers are returned trimmed; the offline database may
// still be asked about them but the network lookup is never made.
func CleanAddress(raw string) string {
	addr := strings.TrimSpace(raw)
	if i := strings.IndexByte(addr, ','); i >= 0 {
		addr = strings.TrimSpace(addr[:i])
	}
	if addr == "" || addr == beacon.UnknownAddress {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	addr = strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	if ip := net.ParseIP(addr); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return addr
}
