package facility

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tidwall/rtree"

	"github.com/access-atlas/atlas/internal/geo"
)

// MemoryStore implements Store in process memory with an R-tree over
// (lng, lat). Tombstoned records stay in the map but leave the index.
type MemoryStore struct {
	mu         sync.RWMutex
	facilities map[string]*Facility
	external   map[externalKey]string
	index      rtree.RTreeG[string]
	now        func() time.Time
}

type externalKey struct {
	source string
	id     string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		facilities: make(map[string]*Facility),
		external:   make(map[externalKey]string),
		now:        time.Now,
	}
}

func indexPoint(p geo.Point) [2]float64 {
	return [2]float64{p.Lng, p.Lat}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, c *Candidate) (string, error) {
	if err := ValidateCandidate(c); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := externalKey{source: c.Source, id: c.ExternalID}
	if c.Source != "" {
		if existing, ok := s.external[key]; ok {
			return existing, ErrDuplicate
		}
	}

	now := s.now().UTC()
	f := &Facility{
		ID:            uuid.NewString(),
		Type:          c.Type,
		Name:          c.Name,
		Description:   c.Description,
		Address:       c.Address,
		Latitude:      c.Latitude,
		Longitude:     c.Longitude,
		Accessibility: c.Accessibility,
		Verified:      c.Verified,
		QualityScore:  c.QualityScore,
		Sources:       append([]string(nil), c.Sources...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if c.Source != "" {
		f.ExternalIDs = map[string]string{c.Source: c.ExternalID}
		s.external[key] = f.ID
	}

	s.facilities[f.ID] = f
	pt := indexPoint(f.Point())
	s.index.Insert(pt, pt, f.ID)
	return f.ID, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.facilities[id]
	if !ok || f.DeletedAt != nil {
		return nil, eris.Wrapf(ErrNotFound, "facility: get %s", id)
	}
	return cloneFacility(f), nil
}

// QueryNear implements Store.
func (s *MemoryStore) QueryNear(_ context.Context, q NearQuery) ([]Match, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*Facility
	seen := make(map[string]bool)
	for _, box := range geo.BoundingBoxes(q.Center, q.RadiusMeters) {
		minPt := [2]float64{box.MinLng, box.MinLat}
		maxPt := [2]float64{box.MaxLng, box.MaxLat}
		s.index.Search(minPt, maxPt, func(_, _ [2]float64, id string) bool {
			if !seen[id] {
				seen[id] = true
				candidates = append(candidates, cloneFacility(s.facilities[id]))
			}
			return true
		})
	}

	matches, total := refine(candidates, q)
	return matches, total, nil
}

// FindByExternalID implements Store.
func (s *MemoryStore) FindByExternalID(_ context.Context, source, externalID string) (*Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.external[externalKey{source: source, id: externalID}]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "facility: external id %s/%s", source, externalID)
	}
	return cloneFacility(s.facilities[id]), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.facilities[id]
	if !ok || f.DeletedAt != nil {
		return eris.Wrapf(ErrNotFound, "facility: delete %s", id)
	}

	now := s.now().UTC()
	f.DeletedAt = &now
	f.UpdatedAt = now
	for source, ext := range f.ExternalIDs {
		delete(s.external, externalKey{source: source, id: ext})
	}
	pt := indexPoint(f.Point())
	s.index.Delete(pt, pt, f.ID)
	return nil
}

// ListTypes implements Store.
func (s *MemoryStore) ListTypes(_ context.Context) ([]TypeInfo, error) {
	return Catalog(), nil
}

// Len returns the number of live facilities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func cloneFacility(f *Facility) *Facility {
	out := *f
	out.Sources = append([]string(nil), f.Sources...)
	if f.ExternalIDs != nil {
		out.ExternalIDs = make(map[string]string, len(f.ExternalIDs))
		for k, v := range f.ExternalIDs {
			out.ExternalIDs[k] = v
		}
	}
	return &out
}
