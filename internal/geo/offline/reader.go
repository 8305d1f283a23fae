// Package offline looks addresses up in a local MaxMind GeoIP2/GeoLite2 City
// database.
package offline

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/JakeFAU/visitor-telemetry/internal/beacon"
)

type cityDB interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// Reader answers lookups from an mmdb file loaded at startup.
type Reader struct {
	db     cityDB
	logger *zap.Logger
}

// Open loads the database at path.
func Open(path string, logger *zap.Logger) (*Reader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %q: %w", path, err)
	}
	return newReader(db, logger), nil
}

func newReader(db cityDB, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{db: db, logger: logger}
}

// Lookup returns the city record for addr. Private, malformed or unknown
// addresses report false.
func (r *Reader) Lookup(addr string) (*beacon.Candidate, bool) {
	ip := net.ParseIP(addr)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return nil, false
	}
	rec, err := r.db.City(ip)
	if err != nil {
		r.logger.Debug("geoip lookup failed", zap.String("address", addr), zap.Error(err))
		return nil, false
	}
	if rec == nil || (rec.City.GeoNameID == 0 && rec.Country.IsoCode == "") {
		return nil, false
	}

	cand := &beacon.Candidate{
		City:    rec.City.Names["en"],
		Country: rec.Country.Names["en"],
	}
	if cand.Country == "" {
		cand.Country = rec.Country.IsoCode
	}
	if len(rec.Subdivisions) > 0 {
		cand.Region = rec.Subdivisions[0].Names["en"]
	}
	if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
		cand.Coordinates = &beacon.Coordinates{
			Latitude:  rec.Location.Latitude,
			Longitude: rec.Location.Longitude,
		}
	}
	return cand, true
}

// Close releases the database.
func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close geoip database: %w", err)
	}
	return nil
}
