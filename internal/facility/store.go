package facility

import (
	"context"
	"sort"

	"github.com/access-atlas/atlas/internal/geo"
)

// Store persists facilities behind a spatial index.
type Store interface {
	// Create validates and persists a candidate, returning the new id. When the
	// candidate's (source, external id) already belongs to a live facility,
	// nothing is written and the existing id is returned with ErrDuplicate.
	Create(ctx context.Context, c *Candidate) (string, error)

	// Get returns a live facility by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Facility, error)

	// QueryNear returns live facilities within q.RadiusMeters (great-circle,
	// inclusive) of q.Center that pass q.Filter, ordered by distance then id,
	// paginated by q.Limit/q.Offset. The int is the unpaginated match count.
	QueryNear(ctx context.Context, q NearQuery) ([]Match, int, error)

	// FindByExternalID returns the live facility carrying the given dedup key,
	// or ErrNotFound.
	FindByExternalID(ctx context.Context, source, externalID string) (*Facility, error)

	// Delete tombstones a facility. Tombstoned facilities are kept in storage
	// but excluded from every query and release their dedup keys.
	Delete(ctx context.Context, id string) error

	// ListTypes returns the ordered facility type catalog.
	ListTypes(ctx context.Context) ([]TypeInfo, error)

	// Close releases underlying resources.
	Close() error
}

// refine applies the exact distance test and filter to index candidates,
// sorts by (distance, id) and paginates. It is shared by the stores whose
// spatial index only yields a bounding-box prefilter.
func refine(candidates []*Facility, q NearQuery) ([]Match, int) {
	matches := make([]Match, 0, len(candidates))
	for _, f := range candidates {
		if f.DeletedAt != nil || !q.Filter.Matches(f) {
			continue
		}
		d := geo.Distance(q.Center, f.Point())
		if d > q.RadiusMeters {
			continue
		}
		matches = append(matches, Match{Facility: *f, DistanceMeters: d})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceMeters != matches[j].DistanceMeters {
			return matches[i].DistanceMeters < matches[j].DistanceMeters
		}
		return matches[i].Facility.ID < matches[j].Facility.ID
	})

	total := len(matches)
	return paginate(matches, q.Limit, q.Offset), total
}

func paginate(matches []Match, limit, offset int) []Match {
	if offset >= len(matches) {
		return []Match{}
	}
	if offset > 0 {
		matches = matches[offset:]
	}
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches
}
