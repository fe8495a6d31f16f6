// Package search answers proximity queries over the facility store.
package search

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/access-atlas/atlas/internal/facility"
	"github.com/access-atlas/atlas/internal/geo"
)

// Request is a proximity query. A nil Wheelchair and empty Types mean no
// restriction; Limit 0 selects the default page size.
type Request struct {
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
	RadiusMeters float64  `json:"radius_meters"`
	Types        []string `json:"types,omitempty"`
	Wheelchair   *bool    `json:"wheelchair,omitempty"`
	Limit        int      `json:"limit"`
	Offset       int      `json:"offset"`
}

// Result is one facility with its distance from the query center.
type Result struct {
	Facility       facility.Facility `json:"facility"`
	DistanceMeters float64           `json:"distance_meters"`
}

// Response is a page of results. Total counts every match before pagination.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Searcher is implemented by Engine and its decorators.
type Searcher interface {
	Search(ctx context.Context, req Request) (*Response, error)
	Types(ctx context.Context) ([]facility.TypeInfo, error)
	Get(ctx context.Context, id string) (*facility.Facility, error)
}

// Options bounds incoming requests.
type Options struct {
	MaxRadiusMeters float64
	DefaultLimit    int
	MaxLimit        int
}

// DefaultOptions are used for zero fields.
var DefaultOptions = Options{
	MaxRadiusMeters: 50_000,
	DefaultLimit:    20,
	MaxLimit:        100,
}

// Engine validates requests and runs them against a Store.
type Engine struct {
	store facility.Store
	opts  Options
}

// NewEngine creates an Engine.
func NewEngine(store facility.Store, opts Options) *Engine {
	if opts.MaxRadiusMeters <= 0 {
		opts.MaxRadiusMeters = DefaultOptions.MaxRadiusMeters
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultOptions.MaxLimit
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultOptions.DefaultLimit
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	return &Engine{store: store, opts: opts}
}

// Search implements Searcher.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	q, err := e.query(Canonical(req))
	if err != nil {
		return nil, err
	}

	matches, total, err := e.store.QueryNear(ctx, q)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{Facility: m.Facility, DistanceMeters: m.DistanceMeters}
	}
	return &Response{Results: results, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// Types implements Searcher.
func (e *Engine) Types(ctx context.Context) ([]facility.TypeInfo, error) {
	return e.store.ListTypes(ctx)
}

// Get implements Searcher.
func (e *Engine) Get(ctx context.Context, id string) (*facility.Facility, error) {
	return e.store.Get(ctx, id)
}

// query validates req and translates it to a store query.
func (e *Engine) query(req Request) (facility.NearQuery, error) {
	center := geo.Point{Lat: req.Latitude, Lng: req.Longitude}
	if err := facility.ValidatePoint(center); err != nil {
		return facility.NearQuery{}, err
	}

	if math.IsNaN(req.RadiusMeters) || req.RadiusMeters <= 0 || req.RadiusMeters > e.opts.MaxRadiusMeters {
		return facility.NearQuery{}, &facility.ValidationError{
			Code:    facility.CodeInvalidRadius,
			Field:   "radius_meters",
			Message: "radius must be positive and within the search ceiling",
		}
	}

	limit := req.Limit
	switch {
	case limit < 0 || limit > e.opts.MaxLimit:
		return facility.NearQuery{}, &facility.ValidationError{
			Code:    facility.CodeInvalidPagination,
			Field:   "limit",
			Message: "limit must be between 0 and the page ceiling",
		}
	case limit == 0:
		limit = e.opts.DefaultLimit
	}
	if req.Offset < 0 {
		return facility.NearQuery{}, &facility.ValidationError{
			Code:    facility.CodeInvalidPagination,
			Field:   "offset",
			Message: "offset must not be negative",
		}
	}

	var types []facility.Type
	for _, raw := range req.Types {
		t := facility.Type(raw)
		if !t.Valid() {
			return facility.NearQuery{}, &facility.ValidationError{
				Code:    facility.CodeInvalidType,
				Field:   "types",
				Message: "unknown facility type " + raw,
			}
		}
		types = append(types, t)
	}

	return facility.NearQuery{
		Center:       center,
		RadiusMeters: req.RadiusMeters,
		Filter:       facility.Filter{Types: types, Wheelchair: req.Wheelchair},
		Limit:        limit,
		Offset:       req.Offset,
	}, nil
}

// Canonical lowercases, trims, sorts and dedups the type list so equivalent
// requests compare equal.
func Canonical(req Request) Request {
	if len(req.Types) == 0 {
		req.Types = nil
		return req
	}
	seen := make(map[string]bool, len(req.Types))
	types := make([]string, 0, len(req.Types))
	for _, t := range req.Types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	sort.Strings(types)
	if len(types) == 0 {
		types = nil
	}
	req.Types = types
	return req
}
