// Package enrich turns an admitted submission into the event that is stored
// and announced.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
	"github.com/JakeFAU/visitor-telemetry/internal/geo"
	"github.com/JakeFAU/visitor-telemetry/internal/useragent"
)

// DefaultPath is recorded when the client omits the page path.
const DefaultPath = "/"

// LocationResolver picks a location for a visit.
type LocationResolver interface {
	Resolve(ctx context.Context, q geo.Query) (*beacon.ResolvedLocation, bool)
}

// Enricher validates, classifies and geolocates submissions.
type Enricher struct {
	resolver LocationResolver
	clock    beacon.Clock
	logger   *zap.Logger
}

// New creates an Enricher. A nil resolver disables geolocation.
func New(resolver LocationResolver, clock beacon.Clock, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{resolver: resolver, clock: clock, logger: logger}
}

// Enrich builds the event for sub. Malformed fields are dropped; Enrich never
// fails.
func (e *Enricher) Enrich(ctx context.Context, sub beacon.Submission) beacon.Event {
	received := sub.ReceivedAt
	if received.IsZero() {
		received = e.clock.Now()
	}

	addr := strings.TrimSpace(sub.SourceAddress)
	if addr == "" {
		addr = beacon.UnknownAddress
	}
	path := sub.Path
	if path == "" {
		path = DefaultPath
	}
	referrer := sub.Referrer
	if referrer == "" {
		referrer = sub.HeaderReferer
	}

	hints := hintsFrom(sub)

	evt := beacon.Event{
		SourceAddress: addr,
		RequestID:     sub.RequestID,
		OccurredAt:    occurredAt(sub.Timestamp, received),
		Path:          path,
		UserAgent:     sub.HeaderUserAgent,
		Referrer:      referrer,
		Language:      sub.Language,
		TimeZone:      sub.TimeZone,
		ScreenSize:    beacon.ScreenSize{Width: sub.ScreenWidth.Int(), Height: sub.ScreenHeight.Int()},
		Location:      locationFrom(sub, hints),
		Device:        useragent.Classify(sub.HeaderUserAgent),
		ClientInfo:    clientInfo(sub, received),
		Hints:         hints,
	}

	if e.resolver != nil {
		if loc, ok := e.resolver.Resolve(ctx, geo.Query{
			Address:    addr,
			GPS:        hints.GPS,
			IPEstimate: hints.IPEstimate,
		}); ok {
			evt.Resolved = loc
		}
	}
	return evt
}

func hintsFrom(sub beacon.Submission) beacon.ClientHints {
	hints := beacon.ClientHints{
		LocalTime:               sub.LocalTime,
		LocationSource:          sub.LocationSource,
		EstimatedContinent:      sub.EstimatedContinent,
		EstimatedCity:           sub.EstimatedCity,
		EstimatedCountry:        sub.EstimatedCountry,
		GeolocationError:        sub.GeolocationError,
		GeolocationErrorMessage: sub.GeolocationErrorMessage,
		UserName:                sub.UserName,
		UserQuestion:            sub.UserQuestion,
	}
	if sub.Latitude.Present() && sub.Longitude.Present() {
		if c, ok := geo.Validate(sub.Latitude, sub.Longitude, geo.PrecisionGPS); ok {
			hints.GPS = &c
			hints.GPSAccuracy = floatPtr(sub.Accuracy)
		}
	}
	var ipCoords *beacon.Coordinates
	if sub.IPBasedLatitude.Present() && sub.IPBasedLongitude.Present() {
		if c, ok := geo.Validate(sub.IPBasedLatitude, sub.IPBasedLongitude, geo.PrecisionIPEstimate); ok {
			ipCoords = &c
		}
	}
	if ipCoords != nil || (sub.IPBasedCity != "" && sub.IPBasedCountry != "") {
		hints.IPEstimate = &beacon.IPEstimate{
			Coordinates: ipCoords,
			Source:      sub.IPBasedSource,
			City:        sub.IPBasedCity,
			Country:     sub.IPBasedCountry,
			Org:         sub.IPBasedOrg,
		}
	}
	return hints
}

// locationFrom stores the device fix when valid, otherwise the client IP estimate.
func locationFrom(sub beacon.Submission, hints beacon.ClientHints) beacon.Location {
	loc := beacon.Location{
		Accuracy:         floatPtr(sub.Accuracy),
		Altitude:         floatPtr(sub.Altitude),
		AltitudeAccuracy: floatPtr(sub.AltitudeAccuracy),
		Heading:          floatPtr(sub.Heading),
		Speed:            floatPtr(sub.Speed),
		Address:          strings.TrimSpace(sub.Address),
		AddressDetails:   sub.AddressDetails,
	}
	switch {
	case hints.GPS != nil:
		lat, lng := hints.GPS.Latitude, hints.GPS.Longitude
		loc.Latitude, loc.Longitude = &lat, &lng
	case hints.IPEstimate != nil && hints.IPEstimate.Coordinates != nil:
		lat, lng := hints.IPEstimate.Coordinates.Latitude, hints.IPEstimate.Coordinates.Longitude
		loc.Latitude, loc.Longitude = &lat, &lng
	}
	return loc
}

func clientInfo(sub beacon.Submission, received time.Time) map[string]any {
	info := make(map[string]any, len(sub.Raw)+1)
	for k, v := range sub.Raw {
		info[k] = v
	}
	info["requestInfo"] = map[string]any{
		"requestId":   sub.RequestID,
		"processedAt": received.UnixMilli(),
	}
	return info
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02",
}

// occurredAt prefers the client timestamp (epoch milliseconds or a date string)
// and falls back to the receipt time when it is missing or unparseable.
func occurredAt(raw json.RawMessage, fallback time.Time) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fallback
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return fallback
		}
		if t, ok := fromEpochMillis(s); ok {
			return t
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return fallback
	}
	if t, ok := fromEpochMillis(string(raw)); ok {
		return t
	}
	return fallback
}

// Timestamps before 1970 or past year 9999 are rejected.
const maxEpochMillis = 253402300799999

func fromEpochMillis(s string) (time.Time, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f > maxEpochMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(f)).UTC(), true
}

func floatPtr(n beacon.Numeric) *float64 {
	f, ok := n.Float()
	if !ok {
		return nil
	}
	return &f
}
