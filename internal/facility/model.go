// Package facility owns the canonical accessibility facility record and its
// spatially indexed stores (PostGIS, SQLite R*Tree, in-memory R-tree).
package facility

import (
	"time"

	"github.com/access-atlas/atlas/internal/geo"
)

// Type is the canonical facility classification.
type Type string

// Facility types, in catalog order.
const (
	TypeToilet   Type = "toilet"
	TypeParking  Type = "parking"
	TypeRamp     Type = "ramp"
	TypeElevator Type = "elevator"
	TypeEntrance Type = "entrance"
	TypeStation  Type = "station"
)

// Valid reports whether t is a member of the catalog.
func (t Type) Valid() bool {
	_, ok := catalogIndex[t]
	return ok
}

// Accessibility holds independent tri-state flags. A nil flag means unknown,
// which is distinct from an explicit false.
type Accessibility struct {
	Wheelchair           *bool `json:"wheelchair_accessible"`
	HasRamp              *bool `json:"has_ramp"`
	HasElevator          *bool `json:"has_elevator"`
	HasAccessibleToilet  *bool `json:"has_accessible_toilet"`
	HasAccessibleParking *bool `json:"has_accessible_parking"`
	HasAutomaticDoor     *bool `json:"has_automatic_door"`
}

// Facility is a stored accessibility point of interest.
type Facility struct {
	ID          string            `json:"id"`
	Type        Type              `json:"type"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Address     string            `json:"address,omitempty"`
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	Accessibility
	Verified     bool       `json:"verified"`
	QualityScore float64    `json:"quality_score"`
	Sources      []string   `json:"sources"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Point returns the facility location.
func (f *Facility) Point() geo.Point {
	return geo.Point{Lat: f.Latitude, Lng: f.Longitude}
}

// Candidate is a normalized facility that has not been persisted yet. Source
// and ExternalID form the dedup key; both are empty for records that did not
// come from an ingestion source.
type Candidate struct {
	Type        Type    `json:"type"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Address     string  `json:"address,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Accessibility
	Verified     bool     `json:"verified"`
	QualityScore float64  `json:"quality_score"`
	Sources      []string `json:"sources"`
	Source       string   `json:"source,omitempty"`
	ExternalID   string   `json:"external_id,omitempty"`
}

// Point returns the candidate location.
func (c *Candidate) Point() geo.Point {
	return geo.Point{Lat: c.Latitude, Lng: c.Longitude}
}

// Filter restricts a proximity query. Zero values mean no restriction.
type Filter struct {
	Types      []Type
	Wheelchair *bool
}

// Matches reports whether f passes the filter.
func (flt Filter) Matches(f *Facility) bool {
	if len(flt.Types) > 0 {
		found := false
		for _, t := range flt.Types {
			if f.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if flt.Wheelchair != nil {
		if f.Wheelchair == nil || *f.Wheelchair != *flt.Wheelchair {
			return false
		}
	}
	return true
}

// NearQuery describes a radius search around Center.
type NearQuery struct {
	Center       geo.Point
	RadiusMeters float64
	Filter       Filter
	Limit        int
	Offset       int
}

// Match pairs a facility with its great-circle distance from the query center.
type Match struct {
	Facility       Facility `json:"facility"`
	DistanceMeters float64  `json:"distance_meters"`
}
