package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/facility"
	"github.com/access-atlas/atlas/internal/importer"
	"github.com/access-atlas/atlas/internal/overpass"
	"github.com/access-atlas/atlas/internal/search"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func boolPtr(b bool) *bool { return &b }

type fakeImporter struct {
	sum  *importer.Summary
	err  error
	got  importer.Area
	runs int
}

func (f *fakeImporter) ImportArea(_ context.Context, area importer.Area) (*importer.Summary, error) {
	f.runs++
	f.got = area
	return f.sum, f.err
}

type fakePurger struct{ calls int }

func (p *fakePurger) Purge(context.Context) (int, error) {
	p.calls++
	return 0, nil
}

type fixture struct {
	srv   *httptest.Server
	store *facility.MemoryStore
	ids   []string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := facility.NewMemoryStore()
	var ids []string
	for i, c := range []facility.Candidate{
		{Type: facility.TypeToilet, Name: "Bahnhof WC", Latitude: 52.52, Longitude: 13.405, Accessibility: facility.Accessibility{Wheelchair: boolPtr(true)}},
		{Type: facility.TypeRamp, Name: "Rampe", Latitude: 52.521, Longitude: 13.405},
		{Type: facility.TypeElevator, Name: "Aufzug", Latitude: 52.522, Longitude: 13.405, Accessibility: facility.Accessibility{Wheelchair: boolPtr(true)}},
	} {
		c := c
		c.QualityScore = 0.7
		c.Sources = []string{"osm"}
		c.Source = "osm"
		c.ExternalID = "node/" + string(rune('1'+i))
		id, err := store.Create(context.Background(), &c)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	srv := httptest.NewServer(NewRouter(search.NewEngine(store, search.Options{}), opts))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: store, ids: ids}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{SourceState: func() string { return "closed" }})
	resp, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "closed", body["source"])
}

func TestSearchFacilities(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.get(t, "/v1/facilities?lat=52.52&lng=13.405&radius=1000&limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("X-Total-Count"))
	assert.EqualValues(t, 3, body["total"])
	assert.EqualValues(t, 2, body["limit"])

	results := body["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, f.ids[0], first["facility"].(map[string]any)["id"])
	assert.InDelta(t, 0, first["distance_meters"], 1e-6)
}

func TestSearchFacilities_Filters(t *testing.T) {
	f := newFixture(t, Options{})

	_, body := f.get(t, "/v1/facilities?lat=52.52&lng=13.405&radius=1000&types=elevator,toilet&wheelchair=true")
	assert.EqualValues(t, 2, body["total"])

	_, body = f.get(t, "/v1/facilities?lat=52.52&lng=13.405&radius=1000&types=ramp")
	assert.EqualValues(t, 1, body["total"])
}

func TestSearchFacilities_GeoJSON(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.get(t, "/v1/facilities?lat=52.52&lng=13.405&radius=150&format=geojson")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "FeatureCollection", body["type"])

	features := body["features"].([]any)
	require.Len(t, features, 2)
	feat := features[0].(map[string]any)
	assert.Equal(t, f.ids[0], feat["id"])
	coords := feat["geometry"].(map[string]any)["coordinates"].([]any)
	assert.InDelta(t, 13.405, coords[0], 1e-9)
	assert.InDelta(t, 52.52, coords[1], 1e-9)
	props := feat["properties"].(map[string]any)
	assert.Equal(t, "toilet", props["type"])
	assert.Equal(t, true, props["wheelchair_accessible"])
	assert.Nil(t, props["has_ramp"])
}

func TestSearchFacilities_BadRequests(t *testing.T) {
	f := newFixture(t, Options{})

	tests := []struct {
		query string
		code  string
		field string
	}{
		{"lng=13.4&radius=100", facility.CodeInvalidArea, "latitude"},
		{"lat=abc&lng=13.4&radius=100", facility.CodeInvalidArea, "latitude"},
		{"lat=95&lng=13.4&radius=100", facility.CodeInvalidArea, "latitude"},
		{"lat=52&lng=13.4", facility.CodeInvalidRadius, "radius_meters"},
		{"lat=52&lng=13.4&radius=-1", facility.CodeInvalidRadius, "radius_meters"},
		{"lat=52&lng=13.4&radius=100&limit=x", facility.CodeInvalidPagination, "limit"},
		{"lat=52&lng=13.4&radius=100&limit=1000", facility.CodeInvalidPagination, "limit"},
		{"lat=52&lng=13.4&radius=100&offset=-3", facility.CodeInvalidPagination, "offset"},
		{"lat=52&lng=13.4&radius=100&types=bench", facility.CodeInvalidType, "types"},
		{"lat=52&lng=13.4&radius=100&wheelchair=maybe", codeInvalidRequest, "wheelchair"},
		{"lat=52&lng=13.4&radius=100&format=kml", codeInvalidRequest, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, body := f.get(t, "/v1/facilities?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, body["error"])
			assert.Equal(t, tt.field, body["field"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestGetFacility(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.get(t, "/v1/facilities/"+f.ids[1])
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Rampe", body["name"])
	assert.Equal(t, map[string]any{"osm": "node/2"}, body["external_ids"])

	require.NoError(t, f.store.Delete(context.Background(), f.ids[1]))
	resp, body = f.get(t, "/v1/facilities/"+f.ids[1])
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, codeNotFound, body["error"])
}

func TestListTypes(t *testing.T) {
	f := newFixture(t, Options{})

	resp, body := f.get(t, "/v1/facility-types")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	types := body["types"].([]any)
	require.Len(t, types, 6)
	assert.Equal(t, "toilet", types[0].(map[string]any)["id"])
}

func postImport(t *testing.T, f *fixture, payload string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+"/v1/imports", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestCreateImport(t *testing.T) {
	im := &fakeImporter{sum: &importer.Summary{TotalFetched: 4, Imported: 3, Skipped: 1, SkippedUnsupported: 1, State: importer.StateDone}}
	purger := &fakePurger{}
	f := newFixture(t, Options{Importer: im, Purger: purger})

	resp, body := postImport(t, f, `{"latitude": 52.52, "longitude": 13.405, "radius_meters": 1000}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["imported"])
	assert.Equal(t, "done", body["state"])
	assert.Equal(t, importer.Area{Latitude: 52.52, Longitude: 13.405, RadiusMeters: 1000}, im.got)
	assert.Equal(t, 1, purger.calls)
}

func TestCreateImport_Errors(t *testing.T) {
	partial := &importer.Summary{TotalFetched: 10, Imported: 2, State: importer.StateFailed}
	tests := []struct {
		name   string
		err    error
		sum    *importer.Summary
		status int
		code   string
	}{
		{"validation", &facility.ValidationError{Code: facility.CodeInvalidArea, Field: "radius_meters", Message: "too big"}, nil, http.StatusBadRequest, facility.CodeInvalidArea},
		{"rate limited", &overpass.SourceError{Kind: overpass.ErrSourceRateLimited, Err: errors.New("429")}, partial, http.StatusTooManyRequests, codeSourceRateLimited},
		{"unavailable", &overpass.SourceError{Kind: overpass.ErrSourceUnavailable, Err: errors.New("502")}, partial, http.StatusBadGateway, codeSourceUnavailable},
		{"timeout", importer.ErrRunTimeout, partial, http.StatusBadGateway, codeImportTimeout},
		{"unexpected", errors.New("disk full"), nil, http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{Importer: &fakeImporter{sum: tt.sum, err: tt.err}})
			resp, body := postImport(t, f, `{"latitude": 52.52, "longitude": 13.405, "radius_meters": 1000}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, body["error"])
			if tt.sum != nil {
				assert.EqualValues(t, 2, body["summary"].(map[string]any)["imported"])
			} else {
				assert.Nil(t, body["summary"])
			}
		})
	}
}

func TestCreateImport_MalformedBody(t *testing.T) {
	im := &fakeImporter{}
	f := newFixture(t, Options{Importer: im})

	for _, payload := range []string{`{"latitude": "north"}`, `not json`, `{"lat": 1}`} {
		resp, body := postImport(t, f, payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, payload)
		assert.Equal(t, codeInvalidRequest, body["error"])
	}
	assert.Zero(t, im.runs)
}

func TestCreateImport_Disabled(t *testing.T) {
	f := newFixture(t, Options{})
	resp, body := postImport(t, f, `{"latitude": 52.52, "longitude": 13.405, "radius_meters": 1000}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, codeImportDisabled, body["error"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Options{CORSOrigins: []string{"https://atlas.example"}})

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/v1/facilities", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://atlas.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://atlas.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
