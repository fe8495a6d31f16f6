// Package geo provides the spherical primitives shared by the facility store,
// the search engine and the ingestion pipeline.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID is the spatial reference used throughout (WGS84).
const SRID = 4326

// Coordinate bounds, inclusive.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

var (
	// ErrLatitudeRange is returned for latitudes outside [-90, 90].
	ErrLatitudeRange = eris.New("geo: latitude out of range")
	// ErrLongitudeRange is returned for longitudes outside [-180, 180].
	ErrLongitudeRange = eris.New("geo: longitude out of range")
)

// Point is a WGS84 position in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// NewPoint returns a Point. It does not validate; call Validate.
func NewPoint(lat, lng float64) Point {
	return Point{Lat: lat, Lng: lng}
}

// Validate reports whether the point lies within the WGS84 coordinate range.
// NaN is rejected.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < MinLatitude || p.Lat > MaxLatitude {
		return eris.Wrapf(ErrLatitudeRange, "latitude %v", p.Lat)
	}
	if math.IsNaN(p.Lng) || p.Lng < MinLongitude || p.Lng > MaxLongitude {
		return eris.Wrapf(ErrLongitudeRange, "longitude %v", p.Lng)
	}
	return nil
}

// Geom converts the point into a go-geom point with SRID 4326. Coordinates are
// ordered (x=lng, y=lat).
func (p Point) Geom() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat}).SetSRID(SRID)
}

// EWKB encodes the point as little-endian EWKB with SRID 4326, suitable for
// ST_GeomFromEWKB.
func (p Point) EWKB() ([]byte, error) {
	data, err := ewkb.Marshal(p.Geom(), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode EWKB")
	}
	return data, nil
}
