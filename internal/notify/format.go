// Package notify renders visit alerts and hands them to a message sink.
package notify

import (
	"fmt"
	"html"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

// DefaultTimeZone is the zone alert timestamps are shown in.
const DefaultTimeZone = "Asia/Ho_Chi_Minh"

// MaxMessageRunes is the longest alert Telegram accepts.
const MaxMessageRunes = 4096

const (
	timeLayout = "2006-01-02 15:04:05 MST"
	notAvail   = "N/A"

	shortFieldRunes = 120
	longFieldRunes  = 500

	extraInfoHeader = "\n<b>Extra info:</b>\n"
)

// Format renders the HTML alert for evt with its time shown in loc. Client
// text is clipped before escaping and extra-info lines are dropped, longest
// first, until the alert fits in MaxMessageRunes, so the result never needs a
// raw cut.
func Format(evt beacon.Event, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder

	b.WriteString("🚨 <b>New website visit!</b>\n\n")
	fmt.Fprintf(&b, "📱 <b>IP:</b> %s\n", esc(evt.SourceAddress))
	fmt.Fprintf(&b, "⏰ <b>Time:</b> %s\n", evt.OccurredAt.In(loc).Format(timeLayout))
	fmt.Fprintf(&b, "🌐 <b>Path:</b> %s\n", escLong(evt.Path))
	fmt.Fprintf(&b, "🖥️ <b>Device:</b> %s\n", escLong(evt.Device.Summary()))

	if block := locationBlock(evt.Resolved); block != "" {
		b.WriteString(block)
	}

	var tail string
	if link, _, ok := MapLink(evt); ok {
		tail = fmt.Sprintf("\n<a href=\"%s\">🗺️ View on Google Maps</a>", html.EscapeString(link))
	}

	if lines := fitLines(b.String(), extraInfo(evt), tail); len(lines) > 0 {
		b.WriteString(extraInfoHeader)
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	b.WriteString(tail)
	return strings.TrimRight(b.String(), "\n")
}

// fitLines drops the longest lines until head, the extra-info block and tail
// fit together in MaxMessageRunes. Order of the kept lines is preserved.
func fitLines(head string, lines []string, tail string) []string {
	fixed := utf8.RuneCountInString(head) + utf8.RuneCountInString(tail) + utf8.RuneCountInString(extraInfoHeader)
	total := fixed
	for _, l := range lines {
		total += utf8.RuneCountInString(l) + 1
	}
	for total > MaxMessageRunes && len(lines) > 0 {
		longest := 0
		for i, l := range lines {
			if utf8.RuneCountInString(l) > utf8.RuneCountInString(lines[longest]) {
				longest = i
			}
		}
		total -= utf8.RuneCountInString(lines[longest]) + 1
		lines = append(lines[:longest:longest], lines[longest+1:]...)
	}
	return lines
}

// locationBlock is rendered only for locations found by the server itself;
// client supplied coordinates already appear in the extra info.
func locationBlock(loc *beacon.ResolvedLocation) string {
	if loc == nil {
		return ""
	}
	if loc.Source != beacon.SourceOfflineGeoIP && loc.Source != beacon.SourceNetworkGeoIP {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📍 <b>Location:</b> %s, %s\n", orNA(loc.City), orNA(loc.Country))
	if loc.Source == beacon.SourceOfflineGeoIP {
		fmt.Fprintf(&b, "🌍 <b>Region:</b> %s\n", orNA(loc.Region))
	} else {
		fmt.Fprintf(&b, "🌐 <b>ISP:</b> %s\n", orNA(loc.Org))
	}
	if loc.Coordinates != nil {
		q := coordQuery(*loc.Coordinates)
		fmt.Fprintf(&b, "🧭 <b>Coordinates:</b> %s, %s <a href=\"%s\">View map</a>\n",
			formatFloat(loc.Coordinates.Latitude), formatFloat(loc.Coordinates.Longitude), html.EscapeString(SearchLink(q)))
	} else {
		fmt.Fprintf(&b, "🧭 <b>Coordinates:</b> %s\n", notAvail)
	}
	return b.String()
}

func extraInfo(evt beacon.Event) []string {
	h := evt.Hints
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	if evt.Referrer != "" {
		add("📤 Referrer: %s", escLong(evt.Referrer))
	}
	if evt.Language != "" {
		add("🌐 Language: %s", esc(evt.Language))
	}
	if evt.TimeZone != "" {
		add("🕒 Time zone: %s", esc(evt.TimeZone))
	}
	if h.EstimatedContinent != "" && h.EstimatedCity != "" {
		add("🌎 Estimated region: %s, %s", esc(h.EstimatedContinent), esc(h.EstimatedCity))
	}
	if h.EstimatedCountry != "" {
		add("🏁 Estimated country: %s", esc(h.EstimatedCountry))
	}
	if h.LocalTime != "" {
		add("⏱️ Local time: %s", esc(h.LocalTime))
	}
	if est := h.IPEstimate; est != nil {
		src := est.Source
		if src == "" {
			src = "unknown source"
		}
		if est.Coordinates != nil {
			add("📌 IP location (%s): %s, %s", esc(src),
				formatFloat(est.Coordinates.Latitude), formatFloat(est.Coordinates.Longitude))
		}
		if est.City != "" && est.Country != "" {
			add("🏙️ IP place: %s, %s", esc(est.City), esc(est.Country))
		}
		if est.Org != "" {
			add("🌐 Organization: %s", esc(est.Org))
		}
	}
	if h.GPS != nil {
		src := h.LocationSource
		if src == "" {
			src = "unknown"
		}
		add("📍 Coordinates (%s): %s, %s", esc(src), formatFloat(h.GPS.Latitude), formatFloat(h.GPS.Longitude))
		if h.GPSAccuracy != nil {
			add("🎯 Accuracy: %.0f metres", math.Abs(*h.GPSAccuracy))
		}
	}
	if evt.Location.Address != "" {
		add("🏡 Address: %s", escLong(evt.Location.Address))
	}
	if details := detailPairs(evt.Location.AddressDetails); details != "" {
		add("📋 Details: %s", escLong(details))
	}
	if h.GeolocationError != "" || h.GeolocationErrorMessage != "" {
		msg := h.GeolocationError
		if h.GeolocationErrorMessage != "" {
			if msg != "" {
				msg += ": "
			}
			msg += h.GeolocationErrorMessage
		}
		add("⚠️ Geolocation error: %s", escLong(msg))
	}
	if h.UserName != "" {
		add("👤 User name: %s", esc(h.UserName))
	}
	if h.UserQuestion != "" {
		add("❓ User question: %s", escLong(h.UserQuestion))
	}
	return lines
}

func detailPairs(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k, v := range details {
		if v == nil || strings.TrimSpace(fmt.Sprint(v)) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, details[k]))
	}
	return strings.Join(parts, ", ")
}

func orNA(s string) string {
	if s == "" {
		return notAvail
	}
	return esc(s)
}

// esc escapes short client text for Telegram HTML, at most shortFieldRunes
// after escaping.
func esc(s string) string {
	return escClip(s, shortFieldRunes)
}

func escLong(s string) string {
	return escClip(s, longFieldRunes)
}

// escClip escapes s rune by rune and stops before the escaped text would pass
// limit, so a cut never lands inside an entity.
func escClip(s string, limit int) string {
	escaped := html.EscapeString(s)
	if utf8.RuneCountInString(escaped) <= limit {
		return escaped
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		e := html.EscapeString(string(r))
		w := utf8.RuneCountInString(e)
		if n+w > limit-1 {
			break
		}
		b.WriteString(e)
		n += w
	}
	b.WriteString("…")
	return b.String()
}
