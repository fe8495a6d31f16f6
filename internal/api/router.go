// Package api exposes search, facility lookup, the type catalog and import
// triggers over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/importer"
	"github.com/access-atlas/atlas/internal/search"
)

// AreaImporter runs a single area import.
type AreaImporter interface {
	ImportArea(ctx context.Context, area importer.Area) (*importer.Summary, error)
}

// Purger drops cached search responses after a write.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Options configures the router. Importer may be nil, in which case
// POST /v1/imports answers 503.
type Options struct {
	Importer    AreaImporter
	Purger      Purger
	CORSOrigins []string
	// SourceState reports the ingestion circuit state for /health.
	SourceState func() string
}

type handler struct {
	searcher search.Searcher
	opts     Options
	log      *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(searcher search.Searcher, opts Options) http.Handler {
	h := &handler{
		searcher: searcher,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "api")),
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Total-Count"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/facilities", h.searchFacilities)
		r.Get("/facilities/{id}", h.getFacility)
		r.Get("/facility-types", h.listTypes)
		r.Post("/imports", h.createImport)
	})
	return r
}

// requestLogger logs one line per request at Info.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
