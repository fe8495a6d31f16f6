package facility

import (
	"errors"
	"math"

	"github.com/rotisserie/eris"

	"github.com/access-atlas/atlas/internal/geo"
)

var (
	// ErrNotFound is returned by lookups that match no live facility.
	ErrNotFound = eris.New("facility: not found")

	// ErrDuplicate is returned by Create when the candidate's (source,
	// external id) pair already belongs to a live facility. The existing id is
	// returned alongside it.
	ErrDuplicate = eris.New("facility: duplicate external id")
)

// Validation error codes. They are stable and surface in API responses.
const (
	CodeInvalidArea       = "invalid_area"
	CodeInvalidRadius     = "invalid_radius"
	CodeInvalidPagination = "invalid_pagination"
	CodeInvalidType       = "invalid_type"
	CodeInvalidQuality    = "invalid_quality"
	CodeInvalidSource     = "invalid_source"
)

// ValidationError reports caller-fixable input. It is never retried.
type ValidationError struct {
	Code    string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "validation: " + e.Code + ": " + e.Field + ": " + e.Message
	}
	return "validation: " + e.Code + ": " + e.Message
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsValidation extracts the *ValidationError from err's chain.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ValidatePoint converts coordinate range failures into an invalid_area
// ValidationError.
func ValidatePoint(p geo.Point) error {
	if err := p.Validate(); err != nil {
		field := "latitude"
		if errors.Is(err, geo.ErrLongitudeRange) {
			field = "longitude"
		}
		return &ValidationError{Code: CodeInvalidArea, Field: field, Message: err.Error()}
	}
	return nil
}

// ValidateCandidate checks the invariants enforced on every write.
func ValidateCandidate(c *Candidate) error {
	if c == nil {
		return &ValidationError{Code: CodeInvalidArea, Field: "candidate", Message: "missing candidate"}
	}
	if err := ValidatePoint(c.Point()); err != nil {
		return err
	}
	if !c.Type.Valid() {
		return &ValidationError{Code: CodeInvalidType, Field: "type", Message: "unknown facility type " + string(c.Type)}
	}
	if c.QualityScore < 0 || c.QualityScore > 1 || math.IsNaN(c.QualityScore) {
		return &ValidationError{Code: CodeInvalidQuality, Field: "quality_score", Message: "quality score must be within [0, 1]"}
	}
	if (c.Source == "") != (c.ExternalID == "") {
		return &ValidationError{Code: CodeInvalidSource, Field: "external_id", Message: "source and external id must be set together"}
	}
	return nil
}
