package facility

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/access-atlas/atlas/internal/geo"
)

func boolPtr(b bool) *bool { return &b }

// runStoreContract exercises the behavior every Store driver shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		c := validCandidate()
		c.Wheelchair = boolPtr(true)
		c.HasAccessibleToilet = boolPtr(true)

		id, err := s.Create(ctx, c)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		f, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, TypeToilet, f.Type)
		assert.Equal(t, "Bahnhof WC", f.Name)
		assert.InDelta(t, 52.52, f.Latitude, 1e-9)
		assert.Equal(t, map[string]string{"osm": "node/1"}, f.ExternalIDs)
		assert.Equal(t, []string{"osm"}, f.Sources)
		require.NotNil(t, f.Wheelchair)
		assert.True(t, *f.Wheelchair)
		assert.Nil(t, f.HasRamp)
		assert.False(t, f.CreatedAt.IsZero())
	})

	t.Run("get unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "00000000-0000-0000-0000-000000000000")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("invalid candidate", func(t *testing.T) {
		s := newStore(t)
		c := validCandidate()
		c.Latitude = 999
		_, err := s.Create(ctx, c)
		assert.True(t, IsValidation(err))
	})

	t.Run("duplicate returns existing id", func(t *testing.T) {
		s := newStore(t)
		first, err := s.Create(ctx, validCandidate())
		require.NoError(t, err)

		again, err := s.Create(ctx, validCandidate())
		assert.True(t, errors.Is(err, ErrDuplicate))
		assert.Equal(t, first, again)

		matches, total, err := s.QueryNear(ctx, NearQuery{Center: geo.Point{Lat: 52.52, Lng: 13.405}, RadiusMeters: 100})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, matches, 1)
	})

	t.Run("find by external id", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Create(ctx, validCandidate())
		require.NoError(t, err)

		f, err := s.FindByExternalID(ctx, "osm", "node/1")
		require.NoError(t, err)
		assert.Equal(t, id, f.ID)

		_, err = s.FindByExternalID(ctx, "osm", "node/2")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("delete tombstones and releases key", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Create(ctx, validCandidate())
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))

		_, err = s.Get(ctx, id)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.Delete(ctx, id), ErrNotFound))

		matches, total, err := s.QueryNear(ctx, NearQuery{Center: geo.Point{Lat: 52.52, Lng: 13.405}, RadiusMeters: 1000})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, matches)

		replacement, err := s.Create(ctx, validCandidate())
		require.NoError(t, err)
		assert.NotEqual(t, id, replacement)
	})

	t.Run("filters", func(t *testing.T) {
		s := newStore(t)
		center := geo.Point{Lat: 48.8566, Lng: 2.3522}
		seed := []*Candidate{
			{Type: TypeToilet, Name: "a", Latitude: 48.8566, Longitude: 2.3522, Accessibility: Accessibility{Wheelchair: boolPtr(true)}},
			{Type: TypeRamp, Name: "b", Latitude: 48.8570, Longitude: 2.3522, Accessibility: Accessibility{Wheelchair: boolPtr(false)}},
			{Type: TypeToilet, Name: "c", Latitude: 48.8575, Longitude: 2.3522},
		}
		for _, c := range seed {
			_, err := s.Create(ctx, c)
			require.NoError(t, err)
		}

		_, total, err := s.QueryNear(ctx, NearQuery{Center: center, RadiusMeters: 500, Filter: Filter{Types: []Type{TypeToilet}}})
		require.NoError(t, err)
		assert.Equal(t, 2, total)

		matches, total, err := s.QueryNear(ctx, NearQuery{Center: center, RadiusMeters: 500, Filter: Filter{Wheelchair: boolPtr(true)}})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "a", matches[0].Facility.Name)

		_, total, err = s.QueryNear(ctx, NearQuery{Center: center, RadiusMeters: 500, Filter: Filter{Wheelchair: boolPtr(false)}})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("ordering and pagination", func(t *testing.T) {
		s := newStore(t)
		center := geo.Point{Lat: 10, Lng: 10}
		for i := 0; i < 5; i++ {
			_, err := s.Create(ctx, &Candidate{
				Type: TypeEntrance, Name: fmt.Sprintf("e%d", i),
				Latitude: 10 + float64(i)*0.001, Longitude: 10,
			})
			require.NoError(t, err)
		}

		page, total, err := s.QueryNear(ctx, NearQuery{Center: center, RadiusMeters: 10000, Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, page, 2)
		assert.Equal(t, "e1", page[0].Facility.Name)
		assert.Equal(t, "e2", page[1].Facility.Name)
		assert.Less(t, page[0].DistanceMeters, page[1].DistanceMeters)

		page, total, err = s.QueryNear(ctx, NearQuery{Center: center, RadiusMeters: 10000, Limit: 2, Offset: 10})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Empty(t, page)
	})

	t.Run("antimeridian", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, &Candidate{Type: TypeStation, Name: "east", Latitude: 0, Longitude: 179.999})
		require.NoError(t, err)
		_, err = s.Create(ctx, &Candidate{Type: TypeStation, Name: "west", Latitude: 0, Longitude: -179.999})
		require.NoError(t, err)

		matches, total, err := s.QueryNear(ctx, NearQuery{Center: geo.Point{Lat: 0, Lng: 180}, RadiusMeters: 1000})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, matches, 2)
	})

	t.Run("matches brute force", func(t *testing.T) {
		s := newStore(t)
		r := rand.New(rand.NewPCG(3, 5))
		var all []*Facility
		for i := 0; i < 200; i++ {
			c := &Candidate{
				Type:      TypeEntrance,
				Name:      fmt.Sprintf("p%d", i),
				Latitude:  45 + r.Float64()*0.2,
				Longitude: 7 + r.Float64()*0.2,
			}
			id, err := s.Create(ctx, c)
			require.NoError(t, err)
			all = append(all, &Facility{ID: id, Latitude: c.Latitude, Longitude: c.Longitude})
		}

		for trial := 0; trial < 20; trial++ {
			center := geo.Point{Lat: 45 + r.Float64()*0.2, Lng: 7 + r.Float64()*0.2}
			radius := 500 + r.Float64()*5000

			var want []string
			for _, f := range all {
				if geo.Distance(center, f.Point()) <= radius {
					want = append(want, f.ID)
				}
			}
			sort.Strings(want)

			matches, total, err := s.QueryNear(ctx, NearQuery{Center: center, RadiusMeters: radius})
			require.NoError(t, err)
			var got []string
			for _, m := range matches {
				got = append(got, m.Facility.ID)
			}
			sort.Strings(got)
			assert.Equal(t, len(want), total)
			assert.Equal(t, want, got)
		}
	})

	t.Run("list types", func(t *testing.T) {
		s := newStore(t)
		types, err := s.ListTypes(ctx)
		require.NoError(t, err)
		assert.Len(t, types, 6)
	})
}
