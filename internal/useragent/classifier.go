// Package useragent classifies raw User-Agent strings into a device family and a
// browser label using fixed, ordered pattern tables.
package useragent

import (
	"regexp"
	"strings"

	mssola "github.com/mssola/useragent"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

// Unknown is the device family reported when nothing matches.
const Unknown = "unknown"

type deviceRule struct {
	token     string
	family    string
	osVersion *regexp.Regexp
}

// Device families are matched by substring, first hit wins. "Android" must stay
// ahead of "Linux" and the iOS devices ahead of "Mac".
var deviceRules = []deviceRule{
	{token: "Android", family: "Android", osVersion: regexp.MustCompile(`Android [0-9.]+`)},
	{token: "iPhone", family: "iPhone", osVersion: regexp.MustCompile(`iPhone OS [0-9_]+`)},
	{token: "iPad", family: "iPad", osVersion: regexp.MustCompile(`iPad.*OS [0-9_]+`)},
	{token: "Windows", family: "Windows", osVersion: regexp.MustCompile(`Windows NT [0-9.]+`)},
	{token: "Mac", family: "Mac OS", osVersion: regexp.MustCompile(`Mac OS X [0-9_]+`)},
	{token: "Linux", family: "Linux"},
}

type browserRule struct {
	name    string
	pattern *regexp.Regexp
}

// Browser order is a compatibility contract: Chromium-based Edge and Opera also
// carry a Chrome token and therefore report as Chrome.
var browserRules = []browserRule{
	{name: "Chrome", pattern: regexp.MustCompile(`Chrome/([0-9.]+)`)},
	{name: "Firefox", pattern: regexp.MustCompile(`Firefox/([0-9.]+)`)},
	{name: "Safari", pattern: regexp.MustCompile(`Safari/([0-9.]+)`)},
	{name: "Edge", pattern: regexp.MustCompile(`Edg(?:e)?/([0-9.]+)`)},
	{name: "Opera", pattern: regexp.MustCompile(`OPR/([0-9.]+)`)},
}

// Classify maps a user agent to its device family, best-effort OS version and
// browser label. Mobile and bot flags come from mssola/useragent.
func Classify(ua string) beacon.Device {
	dev := beacon.Device{Family: Unknown}
	if strings.TrimSpace(ua) == "" {
		return dev
	}
	for _, rule := range deviceRules {
		if !strings.Contains(ua, rule.token) {
			continue
		}
		dev.Family = rule.family
		if rule.osVersion != nil {
			dev.OSVersion = strings.ReplaceAll(rule.osVersion.FindString(ua), "_", ".")
		}
		break
	}
	for _, rule := range browserRules {
		if m := rule.pattern.FindStringSubmatch(ua); m != nil {
			dev.Browser = strings.TrimSpace(rule.name + " " + m[1])
			break
		}
	}
	parsed := mssola.New(ua)
	dev.Mobile = parsed.Mobile()
	dev.Bot = parsed.Bot()
	return dev
}
