// Package overpass fetches raw OpenStreetMap elements around a point from an
// Overpass API endpoint.
package overpass

import (
	"strconv"

	"github.com/access-atlas/atlas/internal/geo"
)

// SourceName identifies OpenStreetMap data in facility external ids.
const SourceName = "osm"

// Element is one raw OSM element as returned by Overpass. It is never
// persisted.
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *Center           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Center is the centroid Overpass attaches to ways and relations for
// "out center".
type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ExternalID returns the "<type>/<id>" key, e.g. "node/123".
func (e Element) ExternalID() string {
	return e.Type + "/" + strconv.FormatInt(e.ID, 10)
}

// Point returns the element location, using the center for non-nodes.
func (e Element) Point() geo.Point {
	if e.Type != "node" && e.Center != nil {
		return geo.Point{Lat: e.Center.Lat, Lng: e.Center.Lon}
	}
	return geo.Point{Lat: e.Lat, Lng: e.Lon}
}

// Tag returns the tag value for key, or "".
func (e Element) Tag(key string) string {
	return e.Tags[key]
}

type response struct {
	Elements []Element `json:"elements"`
	Remark   string    `json:"remark,omitempty"`
}
