package notify

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

const (
	mapsPointURL  = "https://www.google.com/maps?q="
	mapsSearchURL = "https://www.google.com/maps/search/?api=1&query="

	// mapQueryRunes keeps the trailing link well inside one alert.
	mapQueryRunes = 100
)

// linkRule derives a map query from the event, or reports false.
type linkRule struct {
	name  string
	query func(evt beacon.Event) (string, bool)
	point bool
}

// linkRules is checked in order; the first rule with a query produces the link.
var linkRules = []linkRule{
	{name: "exact-coordinates", point: true, query: func(evt beacon.Event) (string, bool) {
		if evt.Hints.GPS == nil {
			return "", false
		}
		return coordQuery(*evt.Hints.GPS), true
	}},
	{name: "ip-coordinates", point: true, query: func(evt beacon.Event) (string, bool) {
		est := evt.Hints.IPEstimate
		if est == nil || est.Coordinates == nil {
			return "", false
		}
		return coordQuery(*est.Coordinates), true
	}},
	{name: "ip-city", query: func(evt beacon.Event) (string, bool) {
		est := evt.Hints.IPEstimate
		if est == nil || est.City == "" || est.Country == "" {
			return "", false
		}
		return est.City + ", " + est.Country, true
	}},
	{name: "address", query: func(evt beacon.Event) (string, bool) {
		return evt.Location.Address, evt.Location.Address != ""
	}},
	{name: "address-details", query: func(evt beacon.Event) (string, bool) {
		details := detailValues(evt.Location.AddressDetails)
		return details, details != ""
	}},
	{name: "estimated-region", query: func(evt beacon.Event) (string, bool) {
		h := evt.Hints
		if h.EstimatedContinent == "" || h.EstimatedCity == "" {
			return "", false
		}
		return h.EstimatedCity + ", " + h.EstimatedContinent, true
	}},
}

// MapLink returns the trailing map URL for evt and the rule that produced it.
func MapLink(evt beacon.Event) (link string, rule string, ok bool) {
	for _, r := range linkRules {
		q, found := r.query(evt)
		if !found {
			continue
		}
		if r.point {
			return mapsPointURL + q, r.name, true
		}
		return SearchLink(q), r.name, true
	}
	return "", "", false
}

// SearchLink builds a Google Maps search URL for a free-text query. Long
// queries are cut to mapQueryRunes.
func SearchLink(query string) string {
	if runes := []rune(query); len(runes) > mapQueryRunes {
		query = string(runes[:mapQueryRunes])
	}
	return mapsSearchURL + url.QueryEscape(query)
}

func coordQuery(c beacon.Coordinates) string {
	return formatFloat(c.Latitude) + "," + formatFloat(c.Longitude)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// detailValues joins the non-empty detail values in key order.
func detailValues(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.TrimSpace(fmt.Sprint(details[k]))
		if v == "" || details[k] == nil {
			continue
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, ", ")
}
