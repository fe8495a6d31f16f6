package normalize

import (
	"strconv"
	"strings"
)

// triState maps an OSM tag value to a nullable flag. Only explicit values
// decide; absent, empty and qualified values such as "limited" stay unknown.
func triState(value string) *bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "designated", "true", "1":
		return ptr(true)
	case "no", "false", "0":
		return ptr(false)
	default:
		return nil
	}
}

// automaticDoor understands the door operation modes in addition to yes/no.
func automaticDoor(value string) *bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "button", "motion", "floor", "continuous", "slowdown_button":
		return ptr(true)
	default:
		return triState(value)
	}
}

// disabledCapacity reads capacity:disabled, which is either a count or yes/no.
func disabledCapacity(value string) *bool {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return ptr(n > 0)
	}
	return triState(value)
}

// firstKnown returns the first non-nil flag.
func firstKnown(flags ...*bool) *bool {
	for _, f := range flags {
		if f != nil {
			return f
		}
	}
	return nil
}

func ptr(b bool) *bool { return &b }
