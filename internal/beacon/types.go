package beacon

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// UnknownAddress is recorded when no client address could be determined.
const UnknownAddress = "unknown"

// Numeric holds a numeric-like JSON value. Clients send coordinates and sizes
// either as numbers or as strings; anything else decodes to an empty Numeric.
type Numeric struct {
	raw string
}

// NumericOf builds a Numeric from a float, mainly for tests.
func NumericOf(f float64) Numeric {
	return Numeric{raw: strconv.FormatFloat(f, 'f', -1, 64)}
}

// UnmarshalJSON accepts numbers and strings and never fails.
func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		n.raw = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			n.raw = ""
			return nil
		}
		n.raw = strings.TrimSpace(s)
		return nil
	}
	if data[0] == '-' || (data[0] >= '0' && data[0] <= '9') {
		n.raw = string(data)
		return nil
	}
	n.raw = ""
	return nil
}

// MarshalJSON renders the parsed value, or null when it is not a number.
func (n Numeric) MarshalJSON() ([]byte, error) {
	f, ok := n.Float()
	if !ok {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// Present reports whether the client sent a non-empty value.
func (n Numeric) Present() bool { return n.raw != "" }

// String returns the raw client text.
func (n Numeric) String() string { return n.raw }

// Float parses the value.
func (n Numeric) Float() (float64, bool) {
	if n.raw == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(n.raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int truncates the parsed value and defaults to 0.
func (n Numeric) Int() int {
	f, ok := n.Float()
	if !ok {
		return 0
	}
	return int(f)
}

// Submission is the typed envelope of one POST to the ingestion endpoint. The
// recognised fields are decoded into struct fields; Raw keeps the whole body so
// forward-compatible client metadata survives without schema changes.
type Submission struct {
	RequestID      string          `json:"requestId"`
	Path           string          `json:"path"`
	Referrer       string          `json:"referrer"`
	Language       string          `json:"language"`
	TimeZone       string          `json:"timeZone"`
	ScreenWidth    Numeric         `json:"screenWidth"`
	ScreenHeight   Numeric         `json:"screenHeight"`
	Timestamp      json.RawMessage `json:"timestamp"`
	LocalTime      string          `json:"localTime"`
	LocationSource string          `json:"locationSource"`

	Latitude         Numeric        `json:"latitude"`
	Longitude        Numeric        `json:"longitude"`
	Accuracy         Numeric        `json:"accuracy"`
	Altitude         Numeric        `json:"altitude"`
	AltitudeAccuracy Numeric        `json:"altitudeAccuracy"`
	Heading          Numeric        `json:"heading"`
	Speed            Numeric        `json:"speed"`
	Address          string         `json:"address"`
	AddressDetails   map[string]any `json:"addressDetails"`

	IPBasedLatitude  Numeric `json:"ipBasedLatitude"`
	IPBasedLongitude Numeric `json:"ipBasedLongitude"`
	IPBasedCity      string  `json:"ipBasedCity"`
	IPBasedCountry   string  `json:"ipBasedCountry"`
	IPBasedOrg       string  `json:"ipBasedOrg"`
	IPBasedSource    string  `json:"ipBasedSource"`

	EstimatedContinent string `json:"estimatedContinent"`
	EstimatedCity      string `json:"estimatedCity"`
	EstimatedCountry   string `json:"estimatedCountry"`

	GeolocationError        string `json:"geolocationError"`
	GeolocationErrorMessage string `json:"geolocationErrorMessage"`
	UserName                string `json:"userName"`
	UserQuestion            string `json:"userQuestion"`

	// Raw is the complete decoded body.
	Raw map[string]any `json:"-"`

	// Fields below come from the HTTP request, not the body.
	SourceAddress   string    `json:"-"`
	HeaderUserAgent string    `json:"-"`
	HeaderReferer   string    `json:"-"`
	ReceivedAt      time.Time `json:"-"`
}

// ScreenSize is the client viewport in CSS pixels.
type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Coordinates is a validated, rounded WGS84 pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is the stored location of a visit. Every field is optional.
type Location struct {
	Latitude         *float64       `json:"latitude,omitempty"`
	Longitude        *float64       `json:"longitude,omitempty"`
	Accuracy         *float64       `json:"accuracy,omitempty"`
	Altitude         *float64       `json:"altitude,omitempty"`
	AltitudeAccuracy *float64       `json:"altitudeAccuracy,omitempty"`
	Heading          *float64       `json:"heading,omitempty"`
	Speed            *float64       `json:"speed,omitempty"`
	Address          string         `json:"address,omitempty"`
	AddressDetails   map[string]any `json:"addressDetails,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Device is the classifier output for a user-agent string.
type Device struct {
	Family    string `json:"family"`
	OSVersion string `json:"osVersion,omitempty"`
	Browser   string `json:"browser,omitempty"`
	Mobile    bool   `json:"mobile"`
	Bot       bool   `json:"bot"`
}

// Summary renders the "family os browser" line used in alerts.
func (d Device) Summary() string {
	parts := []string{d.Family}
	if d.OSVersion != "" {
		parts = append(parts, d.OSVersion)
	}
	if d.Browser != "" {
		parts = append(parts, d.Browser)
	}
	return strings.Join(parts, " ")
}

// LocationSource names where a resolved location came from.
type LocationSource string

// Location sources in cascade priority order.
const (
	SourceClientGPS        LocationSource = "client-gps"
	SourceClientIPEstimate LocationSource = "client-ip-estimate"
	SourceOfflineGeoIP     LocationSource = "offline-geoip"
	SourceNetworkGeoIP     LocationSource = "network-geoip"
)

// Accuracy is the confidence tier attached to a location source.
type Accuracy string

// Accuracy tiers.
const (
	AccuracyHigh       Accuracy = "high"
	AccuracyMediumHigh Accuracy = "medium-high"
	AccuracyMedium     Accuracy = "medium"
	AccuracyLow        Accuracy = "low"
)

// Candidate is one location answer from a single source.
type Candidate struct {
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	City        string       `json:"city,omitempty"`
	Region      string       `json:"region,omitempty"`
	Country     string       `json:"country,omitempty"`
	Org         string       `json:"org,omitempty"`
}

// ResolvedLocation is the candidate the resolver picked, tagged with its source.
type ResolvedLocation struct {
	Candidate
	Source   LocationSource `json:"source"`
	Accuracy Accuracy       `json:"accuracy"`
}

// IPEstimate is a location the client derived from its own IP lookup. The
// coordinates may be missing when only the place name was usable.
type IPEstimate struct {
	Coordinates *Coordinates
	Source      string
	City        string
	Country     string
	Org         string
}

// ClientHints carries alert-only values taken from the submission.
type ClientHints struct {
	LocalTime               string
	LocationSource          string
	GPS                     *Coordinates
	GPSAccuracy             *float64
	IPEstimate              *IPEstimate
	EstimatedContinent      string
	EstimatedCity           string
	EstimatedCountry        string
	GeolocationError        string
	GeolocationErrorMessage string
	UserName                string
	UserQuestion            string
}

// Event is one enriched visitor record. It is created once per accepted
// submission and never mutated afterwards.
type Event struct {
	ID            string            `json:"id,omitempty"`
	SourceAddress string            `json:"ip"`
	RequestID     string            `json:"-"`
	OccurredAt    time.Time         `json:"time"`
	Path          string            `json:"path"`
	UserAgent     string            `json:"userAgent"`
	Referrer      string            `json:"referrer"`
	Language      string            `json:"language"`
	TimeZone      string            `json:"timeZone"`
	ScreenSize    ScreenSize        `json:"screenSize"`
	Location      Location          `json:"location"`
	Device        Device            `json:"device"`
	Resolved      *ResolvedLocation `json:"resolvedLocation,omitempty"`
	ClientInfo    map[string]any    `json:"clientInfo"`

	Hints ClientHints `json:"-"`
}
