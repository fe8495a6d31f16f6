// Package normalize maps raw OpenStreetMap elements onto facility candidates.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/access-atlas/atlas/internal/facility"
	"github.com/access-atlas/atlas/internal/overpass"
)

// DefaultQualityScores holds the per-source curation score.
var DefaultQualityScores = map[string]float64{
	overpass.SourceName: 0.7,
}

// UnknownSourceQuality scores sources missing from the table.
const UnknownSourceQuality = 0.5

// Options configures a Normalizer.
type Options struct {
	// SkipUnclassified drops elements no rule matches instead of filing
	// them as entrances.
	SkipUnclassified bool
	// QualityScores overrides DefaultQualityScores per source.
	QualityScores map[string]float64
	// Source names the provider; defaults to "osm".
	Source string
}

// Normalizer turns elements into candidates. It holds no mutable state and
// is safe for concurrent use.
type Normalizer struct {
	skipUnclassified bool
	source           string
	quality          float64
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	source := opts.Source
	if source == "" {
		source = overpass.SourceName
	}
	quality, ok := opts.QualityScores[source]
	if !ok {
		quality, ok = DefaultQualityScores[source]
	}
	if !ok {
		quality = UnknownSourceQuality
	}
	return &Normalizer{
		skipUnclassified: opts.SkipUnclassified,
		source:           source,
		quality:          quality,
	}
}

// Normalize maps el to a candidate. It returns false to skip elements that
// are not nodes, and unclassified ones when so configured.
func (n *Normalizer) Normalize(el overpass.Element) (*facility.Candidate, bool) {
	if el.Type != "node" {
		return nil, false
	}

	t := tags(el.Tags)
	typ, ok := classify(t)
	if !ok {
		if n.skipUnclassified {
			return nil, false
		}
		typ = facility.TypeEntrance
	}

	c := &facility.Candidate{
		Type:          typ,
		Description:   clean(t["description"]),
		Address:       address(t),
		Latitude:      el.Lat,
		Longitude:     el.Lon,
		Accessibility: accessibility(typ, t),
		QualityScore:  n.quality,
		Sources:       []string{n.source},
		Source:        n.source,
		ExternalID:    el.ExternalID(),
	}
	c.Name = name(typ, t)
	return c, true
}

func accessibility(typ facility.Type, t tags) facility.Accessibility {
	a := facility.Accessibility{
		Wheelchair:       triState(t["wheelchair"]),
		HasRamp:          firstKnown(triState(t["ramp:wheelchair"]), triState(t["ramp"])),
		HasElevator:      triState(t["elevator"]),
		HasAutomaticDoor: automaticDoor(t["automatic_door"]),
	}
	if t.is("highway", "elevator") {
		a.HasElevator = ptr(true)
	}

	a.HasAccessibleToilet = triState(t["toilets:wheelchair"])
	if a.HasAccessibleToilet == nil && typ == facility.TypeToilet {
		a.HasAccessibleToilet = a.Wheelchair
	}

	a.HasAccessibleParking = disabledCapacity(t["capacity:disabled"])
	if t.is("parking_space", "disabled") {
		a.HasAccessibleParking = ptr(true)
	}
	if a.HasAccessibleParking == nil && typ == facility.TypeParking {
		a.HasAccessibleParking = a.Wheelchair
	}
	return a
}

// name prefers the element's own name, then synthesizes one from the type's
// display name and any street address.
func name(typ facility.Type, t tags) string {
	if v := clean(t["name"]); v != "" {
		return v
	}
	display := string(typ)
	if info, ok := facility.Lookup(typ); ok {
		display = info.Name
	}
	if street := streetLine(t); street != "" {
		return display + ", " + street
	}
	return display
}

func streetLine(t tags) string {
	return strings.TrimSpace(clean(t["addr:street"]) + " " + clean(t["addr:housenumber"]))
}

func address(t tags) string {
	var parts []string
	if street := streetLine(t); street != "" {
		parts = append(parts, street)
	}
	city := strings.TrimSpace(clean(t["addr:postcode"]) + " " + clean(t["addr:city"]))
	if city != "" {
		parts = append(parts, city)
	}
	return strings.Join(parts, ", ")
}

// clean NFC-normalizes and trims a free-text tag value.
func clean(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
