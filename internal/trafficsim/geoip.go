package trafficsim

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

type geoIP struct {
	db *geoip2.Reader
}

func openGeoIP(dbPath string) (*geoIP, error) {
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip db: %w", err)
	}
	return &geoIP{db: db}, nil
}

func (g *geoIP) Close() error {
	return g.db.Close()
}

// Country returns the ISO code for a literal IP. Hostnames are not resolved.
func (g *geoIP) Country(host string) (string, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("not an IP address: %s", host)
	}
	rec, err := g.db.Country(ip)
	if err != nil {
		return "", fmt.Errorf("geoip lookup failed: %w", err)
	}
	return rec.Country.IsoCode, nil
}
