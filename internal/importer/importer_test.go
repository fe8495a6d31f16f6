package importer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/access-atlas/atlas/internal/facility"
	"github.com/access-atlas/atlas/internal/geo"
	"github.com/access-atlas/atlas/internal/normalize"
	"github.com/access-atlas/atlas/internal/overpass"
	"github.com/access-atlas/atlas/internal/resilience"
)

var berlin = Area{Latitude: 52.52, Longitude: 13.405, RadiusMeters: 1000}

type fakeFetcher struct {
	elements []overpass.Element
	err      error
	calls    atomic.Int32
}

func (f *fakeFetcher) FetchArea(_ context.Context, _ geo.Point, _ float64) ([]overpass.Element, error) {
	f.calls.Add(1)
	return f.elements, f.err
}

func berlinElements() []overpass.Element {
	return []overpass.Element{
		{Type: "node", ID: 1, Lat: 52.5201, Lon: 13.4049, Tags: map[string]string{"toilets:wheelchair": "yes"}},
		{Type: "node", ID: 2, Lat: 52.5210, Lon: 13.4060, Tags: map[string]string{"highway": "elevator", "name": "Aufzug U2"}},
		{Type: "node", ID: 3, Lat: 52.5190, Lon: 13.4030, Tags: map[string]string{"railway": "station", "wheelchair": "yes"}},
		{Type: "way", ID: 4, Center: &overpass.Center{Lat: 52.52, Lon: 13.40}, Tags: map[string]string{"amenity": "parking", "capacity:disabled": "4"}},
	}
}

func newTestImporter(store facility.Store, f Fetcher, opts Options) *Importer {
	return New(store, f, normalize.New(normalize.Options{}), opts)
}

func TestImportArea_Berlin(t *testing.T) {
	store := facility.NewMemoryStore()
	f := &fakeFetcher{elements: berlinElements()}

	sum, err := newTestImporter(store, f, Options{}).ImportArea(context.Background(), berlin)
	require.NoError(t, err)
	assert.Equal(t, StateDone, sum.State)
	assert.Equal(t, 4, sum.TotalFetched)
	assert.Equal(t, 3, sum.Imported)
	assert.Equal(t, 1, sum.SkippedUnsupported)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, sum.Failed)
	assert.False(t, sum.FinishedAt.Before(sum.StartedAt))

	toilet, err := store.FindByExternalID(context.Background(), "osm", "node/1")
	require.NoError(t, err)
	assert.Equal(t, facility.TypeToilet, toilet.Type)
	require.NotNil(t, toilet.HasAccessibleToilet)
	assert.True(t, *toilet.HasAccessibleToilet)
	assert.Nil(t, toilet.Wheelchair)
}

func TestImportArea_Idempotent(t *testing.T) {
	store := facility.NewMemoryStore()
	im := newTestImporter(store, &fakeFetcher{elements: berlinElements()}, Options{})

	_, err := im.ImportArea(context.Background(), berlin)
	require.NoError(t, err)

	sum, err := im.ImportArea(context.Background(), berlin)
	require.NoError(t, err)
	assert.Zero(t, sum.Imported)
	assert.Equal(t, 3, sum.Duplicates)
	assert.Equal(t, 4, sum.Skipped)
	assert.Equal(t, 3, store.Len())
}

func TestImportArea_BadElementDoesNotAbort(t *testing.T) {
	var elements []overpass.Element
	for i := 1; i <= 5; i++ {
		elements = append(elements, overpass.Element{
			Type: "node", ID: int64(i), Lat: 52.52, Lon: 13.405,
			Tags: map[string]string{"entrance": "yes"},
		})
	}
	elements[2].Lat = 999

	store := facility.NewMemoryStore()
	sum, err := newTestImporter(store, &fakeFetcher{elements: elements}, Options{}).ImportArea(context.Background(), berlin)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.TotalFetched)
	assert.Equal(t, 4, sum.Imported)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, StateDone, sum.State)
}

func TestImportArea_InvalidArea(t *testing.T) {
	tests := []Area{
		{Latitude: 91, Longitude: 0, RadiusMeters: 100},
		{Latitude: 0, Longitude: 181, RadiusMeters: 100},
		{Latitude: 0, Longitude: 0, RadiusMeters: 0},
		{Latitude: 0, Longitude: 0, RadiusMeters: 6000},
	}
	for _, area := range tests {
		f := &fakeFetcher{}
		sum, err := newTestImporter(facility.NewMemoryStore(), f, Options{MaxRadiusMeters: 5000}).ImportArea(context.Background(), area)
		ve, ok := facility.AsValidation(err)
		require.True(t, ok, "%+v: %v", area, err)
		assert.Equal(t, facility.CodeInvalidArea, ve.Code)
		assert.Nil(t, sum)
		assert.Zero(t, f.calls.Load())
	}
}

func TestImportArea_SourceFailureAborts(t *testing.T) {
	f := &fakeFetcher{err: &overpass.SourceError{Kind: overpass.ErrSourceUnavailable, Err: errors.New("502")}}
	sum, err := newTestImporter(facility.NewMemoryStore(), f, Options{}).ImportArea(context.Background(), berlin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, overpass.ErrSourceUnavailable))
	require.NotNil(t, sum)
	assert.Equal(t, StateFailed, sum.State)
	assert.NotEmpty(t, sum.Error)
	assert.Zero(t, sum.TotalFetched)
}

// slowStore delays every Create.
type slowStore struct {
	facility.Store
	delay time.Duration
}

func (s *slowStore) Create(ctx context.Context, c *facility.Candidate) (string, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return s.Store.Create(ctx, c)
}

func TestImportArea_TimeoutReturnsPartialCounts(t *testing.T) {
	var elements []overpass.Element
	for i := 1; i <= 50; i++ {
		elements = append(elements, overpass.Element{
			Type: "node", ID: int64(i), Lat: 52.52, Lon: 13.405,
			Tags: map[string]string{"entrance": "yes"},
		})
	}
	store := &slowStore{Store: facility.NewMemoryStore(), delay: 10 * time.Millisecond}
	im := newTestImporter(store, &fakeFetcher{elements: elements}, Options{RunTimeout: 55 * time.Millisecond})

	sum, err := im.ImportArea(context.Background(), berlin)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunTimeout))
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, 50, sum.TotalFetched)
	assert.Greater(t, sum.Imported, 0)
	assert.Less(t, sum.Imported, 50)
	assert.Zero(t, sum.Failed, "timed-out element is not counted as a bad record")
}

func TestImportArea_ParentCancelIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := newTestImporter(facility.NewMemoryStore(), &fakeFetcher{elements: berlinElements()}, Options{}).ImportArea(ctx, berlin)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRunTimeout))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateFailed, sum.State)
}

// racingStore misses on lookup but reports the key as taken on create, as
// happens when two runs overlap.
type racingStore struct {
	facility.Store
}

func (racingStore) FindByExternalID(context.Context, string, string) (*facility.Facility, error) {
	return nil, facility.ErrNotFound
}

func (racingStore) Create(context.Context, *facility.Candidate) (string, error) {
	return "existing", facility.ErrDuplicate
}

func TestImportArea_CreateRaceCountsDuplicate(t *testing.T) {
	sum, err := newTestImporter(racingStore{Store: facility.NewMemoryStore()}, &fakeFetcher{elements: berlinElements()}, Options{}).
		ImportArea(context.Background(), berlin)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Duplicates)
	assert.Zero(t, sum.Imported)
	assert.Zero(t, sum.Failed)
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []Area
	complete []*Summary
	failed   []*Summary
}

func (r *fakeRecorder) Start(_ context.Context, area Area) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, area)
	return int64(len(r.started)), nil
}

func (r *fakeRecorder) Complete(_ context.Context, _ int64, s *Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = append(r.complete, s)
	return nil
}

func (r *fakeRecorder) Fail(_ context.Context, _ int64, s *Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, s)
	return nil
}

func TestImportArea_RecordsRuns(t *testing.T) {
	rec := &fakeRecorder{}
	opts := Options{Recorder: rec}

	_, err := newTestImporter(facility.NewMemoryStore(), &fakeFetcher{elements: berlinElements()}, opts).ImportArea(context.Background(), berlin)
	require.NoError(t, err)

	_, err = newTestImporter(facility.NewMemoryStore(), &fakeFetcher{err: errors.New("boom")}, opts).ImportArea(context.Background(), berlin)
	require.Error(t, err)

	assert.Len(t, rec.started, 2)
	require.Len(t, rec.complete, 1)
	assert.Equal(t, 3, rec.complete[0].Imported)
	require.Len(t, rec.failed, 1)
	assert.Contains(t, rec.failed[0].Error, "boom")
}

func TestImportAreas_RunsIndependently(t *testing.T) {
	store := facility.NewMemoryStore()
	f := &areaFetcher{byLat: map[float64][]overpass.Element{
		10: {{Type: "node", ID: 10, Lat: 10, Lon: 10, Tags: map[string]string{"entrance": "yes"}}},
		20: {{Type: "node", ID: 20, Lat: 20, Lon: 20, Tags: map[string]string{"ramp": "yes"}}},
	}}
	im := newTestImporter(store, f, Options{Concurrency: 3})

	results := im.ImportAreas(context.Background(), []Area{
		{Latitude: 10, Longitude: 10, RadiusMeters: 100},
		{Latitude: 30, Longitude: 30, RadiusMeters: 100},
		{Latitude: 20, Longitude: 20, RadiusMeters: 100},
	})
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Summary.Imported)
	assert.True(t, errors.Is(results[1].Err, overpass.ErrSourceUnavailable))
	require.NoError(t, results[2].Err)
	assert.Equal(t, 1, results[2].Summary.Imported)
	assert.Equal(t, 2, store.Len())
}

type areaFetcher struct {
	byLat map[float64][]overpass.Element
}

func (f *areaFetcher) FetchArea(_ context.Context, center geo.Point, _ float64) ([]overpass.Element, error) {
	els, ok := f.byLat[center.Lat]
	if !ok {
		return nil, &overpass.SourceError{Kind: overpass.ErrSourceUnavailable, Err: fmt.Errorf("no data at %v", center)}
	}
	return els, nil
}

func TestImportArea_EndToEndWithOverpass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elements": [
			{"type": "node", "id": 11, "lat": 52.5205, "lon": 13.4052, "tags": {"amenity": "toilets", "wheelchair": "yes"}},
			{"type": "node", "id": 12, "lat": 52.5215, "lon": 13.4041, "tags": {"entrance": "main", "automatic_door": "motion"}}
		]}`))
	}))
	defer srv.Close()

	client := overpass.NewClient(overpass.Options{
		Endpoint: srv.URL,
		Retry:    resilience.RetryConfig{MaxAttempts: 1},
	}, overpass.NoopGate{})
	store := facility.NewMemoryStore()

	sum, err := New(store, client, normalize.New(normalize.Options{}), Options{}).ImportArea(context.Background(), berlin)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Imported)

	matches, total, err := store.QueryNear(context.Background(), facility.NearQuery{Center: berlin.Center(), RadiusMeters: 500})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "node/11", matches[0].Facility.ExternalIDs["osm"])
}
