package normalize

import "github.com/access-atlas/atlas/internal/facility"

type tags map[string]string

func (t tags) has(key string) bool {
	_, ok := t[key]
	return ok
}

func (t tags) is(key string, values ...string) bool {
	v, ok := t[key]
	if !ok {
		return false
	}
	for _, want := range values {
		if v == want {
			return true
		}
	}
	return false
}

// rule classifies an element when match reports true.
type rule struct {
	typ   facility.Type
	match func(t tags) bool
}

// rules are evaluated in order; the first match wins. Elements routinely
// carry tags for several categories (a station with an elevator), so the
// order is part of the contract.
var rules = []rule{
	{facility.TypeToilet, func(t tags) bool {
		return t.has("toilets:wheelchair") || (t.is("amenity", "toilets") && t.has("wheelchair"))
	}},
	{facility.TypeParking, func(t tags) bool {
		return (t.is("amenity", "parking") && (t.has("capacity:disabled") || t.has("wheelchair"))) ||
			t.is("parking_space", "disabled")
	}},
	{facility.TypeElevator, func(t tags) bool {
		return t.is("highway", "elevator") || t.has("elevator")
	}},
	{facility.TypeRamp, func(t tags) bool {
		return t.has("ramp") || t.has("ramp:wheelchair")
	}},
	{facility.TypeEntrance, func(t tags) bool {
		return t.has("entrance")
	}},
	{facility.TypeStation, func(t tags) bool {
		return t.has("public_transport") ||
			t.is("railway", "station", "halt", "tram_stop") ||
			t.is("amenity", "bus_station")
	}},
}

// classify returns the first matching type, or false when no rule matched.
func classify(t tags) (facility.Type, bool) {
	for _, r := range rules {
		if r.match(t) {
			return r.typ, true
		}
	}
	return "", false
}
