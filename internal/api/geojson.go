package api

import (
	"net/http"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/access-atlas/atlas/internal/search"
)

// writeFeatureCollection renders results as GeoJSON points with the facility
// fields as properties.
func (h *handler) writeFeatureCollection(w http.ResponseWriter, r *http.Request, resp *search.Response) {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(resp.Results))}
	for _, res := range resp.Results {
		f := res.Facility
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       f.ID,
			Geometry: f.Point().Geom(),
			Properties: map[string]any{
				"type":                   f.Type,
				"name":                   f.Name,
				"address":                f.Address,
				"distance_meters":        res.DistanceMeters,
				"wheelchair_accessible":  f.Wheelchair,
				"has_ramp":               f.HasRamp,
				"has_elevator":           f.HasElevator,
				"has_accessible_toilet":  f.HasAccessibleToilet,
				"has_accessible_parking": f.HasAccessibleParking,
				"has_automatic_door":     f.HasAutomaticDoor,
				"verified":               f.Verified,
				"quality_score":          f.QualityScore,
			},
		})
	}

	b, err := fc.MarshalJSON()
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
