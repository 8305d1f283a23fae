package geo

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

// Precision is the number of decimal places kept for a coordinate tier.
type Precision int

// Rounding tiers: IP-derived estimates keep ~11 m, device GPS keeps ~0.11 m.
const (
	PrecisionIPEstimate Precision = 4
	PrecisionGPS        Precision = 6
)

// Validate parses a latitude/longitude pair, rejects anything outside WGS84 and
// rounds both values to p decimal places. Accepted inputs are floats, integers,
// json.Number, numeric strings and beacon.Numeric.
func Validate(lat, lng any, p Precision) (beacon.Coordinates, bool) {
	la, ok := toFloat(lat)
	if !ok {
		return beacon.Coordinates{}, false
	}
	lo, ok := toFloat(lng)
	if !ok {
		return beacon.Coordinates{}, false
	}
	if la < -90 || la > 90 || lo < -180 || lo > 180 {
		return beacon.Coordinates{}, false
	}
	return beacon.Coordinates{
		Latitude:  Round(la, p),
		Longitude: Round(lo, p),
	}, true
}

// Round rounds f half away from zero to p decimal places.
func Round(f float64, p Precision) float64 {
	scale := math.Pow(10, float64(p))
	return math.Round(f*scale) / scale
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case *float64:
		if t == nil {
			return 0, false
		}
		f = *t
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case beacon.Numeric:
		parsed, ok := t.Float()
		if !ok {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
