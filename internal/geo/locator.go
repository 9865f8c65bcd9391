package geo

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
	"github.com/rotisserie/eris"
)

// Locator resolves an IP address to coordinates.
type Locator interface {
	Locate(ip string) (lat, lng float64, ok bool)
}

// MaxMind is a Locator backed by a MaxMind-format database. A nil *MaxMind
// resolves nothing.
type MaxMind struct {
	reader *maxminddb.Reader
}

type cityRecord struct {
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// OpenMaxMind opens a database file. An empty path returns a nil locator.
func OpenMaxMind(path string) (*MaxMind, error) {
	if path == "" {
		return nil, nil
	}
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open geoip database %s", path)
	}
	return &MaxMind{reader: r}, nil
}

// MaxMindFromBytes opens an in-memory database.
func MaxMindFromBytes(data []byte) (*MaxMind, error) {
	r, err := maxminddb.FromBytes(data)
	if err != nil {
		return nil, eris.Wrap(err, "failed to read geoip database")
	}
	return &MaxMind{reader: r}, nil
}

// Locate looks ip up. Records without a location report ok=false.
func (m *MaxMind) Locate(ip string) (lat, lng float64, ok bool) {
	if m == nil || m.reader == nil {
		return 0, 0, false
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return 0, 0, false
	}
	var rec cityRecord
	if err := m.reader.Lookup(addr, &rec); err != nil {
		return 0, 0, false
	}
	if rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return 0, 0, false
	}
	return rec.Location.Latitude, rec.Location.Longitude, true
}

// Close releases the database.
func (m *MaxMind) Close() error {
	if m == nil || m.reader == nil {
		return nil
	}
	return m.reader.Close()
}
