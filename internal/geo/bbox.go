package geo

import "math"

// BBox is an axis-aligned box in degrees. MinLng <= MaxLng always holds; boxes
// that would cross the antimeridian are split by BoundingBoxes.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether p lies inside the box (edges inclusive).
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// boxPad widens every box slightly so floating-point error in the box math
// never excludes a point that the exact distance test would accept.
const boxPad = 1e-9

// BoundingBoxes returns one or two boxes that together cover every point
// within radiusMeters of center. The result is a conservative prefilter for
// spatial indexes: callers must still apply the exact Distance test.
//
// Near the poles the longitude span becomes the full range; across the
// antimeridian the cover is split into two boxes.
func BoundingBoxes(center Point, radiusMeters float64) []BBox {
	angular := radiusMeters / EarthRadiusMeters
	if angular >= math.Pi {
		return []BBox{{MinLat: MinLatitude, MinLng: MinLongitude, MaxLat: MaxLatitude, MaxLng: MaxLongitude}}
	}

	lat := toRadians(center.Lat)
	minLat := toDegrees(lat-angular) - boxPad
	maxLat := toDegrees(lat+angular) + boxPad

	if minLat <= MinLatitude || maxLat >= MaxLatitude {
		return []BBox{{
			MinLat: math.Max(minLat, MinLatitude),
			MinLng: MinLongitude,
			MaxLat: math.Min(maxLat, MaxLatitude),
			MaxLng: MaxLongitude,
		}}
	}

	ratio := math.Sin(angular) / math.Cos(lat)
	if ratio >= 1 {
		return []BBox{{MinLat: minLat, MinLng: MinLongitude, MaxLat: maxLat, MaxLng: MaxLongitude}}
	}
	dLng := toDegrees(math.Asin(ratio)) + boxPad
	minLng := center.Lng - dLng
	maxLng := center.Lng + dLng

	switch {
	case minLng < MinLongitude:
		return []BBox{
			{MinLat: minLat, MinLng: MinLongitude, MaxLat: maxLat, MaxLng: maxLng},
			{MinLat: minLat, MinLng: minLng + 360, MaxLat: maxLat, MaxLng: MaxLongitude},
		}
	case maxLng > MaxLongitude:
		return []BBox{
			{MinLat: minLat, MinLng: minLng, MaxLat: maxLat, MaxLng: MaxLongitude},
			{MinLat: minLat, MinLng: MinLongitude, MaxLat: maxLat, MaxLng: maxLng - 360},
		}
	default:
		return []BBox{{MinLat: minLat, MinLng: minLng, MaxLat: maxLat, MaxLng: maxLng}}
	}
}
