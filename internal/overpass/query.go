package overpass

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/access-atlas/atlas/internal/geo"
)

// tagSelectors lists the Overpass tag filters that can yield a facility.
var tagSelectors = []string{
	`["wheelchair"]`,
	`["toilets:wheelchair"]`,
	`["amenity"="toilets"]`,
	`["amenity"="parking"]["capacity:disabled"]`,
	`["parking_space"="disabled"]`,
	`["highway"="elevator"]`,
	`["ramp"]`,
	`["ramp:wheelchair"]`,
	`["entrance"]`,
	`["public_transport"="station"]`,
	`["railway"="station"]`,
	`["amenity"="bus_station"]`,
}

// BuildQuery renders the Overpass QL union for nodes and ways within
// radiusMeters of center. serverTimeout is passed to Overpass as [timeout:N].
func BuildQuery(center geo.Point, radiusMeters float64, serverTimeout int) string {
	around := fmt.Sprintf("(around:%s,%s,%s)",
		strconv.FormatFloat(radiusMeters, 'f', -1, 64),
		strconv.FormatFloat(center.Lat, 'f', -1, 64),
		strconv.FormatFloat(center.Lng, 'f', -1, 64),
	)

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n(\n", serverTimeout)
	for _, kind := range []string{"node", "way"} {
		for _, sel := range tagSelectors {
			b.WriteString("  ")
			b.WriteString(kind)
			b.WriteString(around)
			b.WriteString(sel)
			b.WriteString(";\n")
		}
	}
	b.WriteString(");\nout center;\n")
	return b.String()
}
