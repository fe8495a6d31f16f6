// Package importer drives an area import: fetch raw elements, normalize them,
// drop duplicates by external id and write the rest to the facility store.
package importer

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/facility"
	"github.com/access-atlas/atlas/internal/geo"
	"github.com/access-atlas/atlas/internal/overpass"
)

// ErrRunTimeout is returned with partial counts when a run exceeds its
// deadline.
var ErrRunTimeout = eris.New("importer: run timed out")

// State is the phase of an import run.
type State string

// Run states. Failed is reachable from every other state.
const (
	StateFetching      State = "fetching"
	StateNormalizing   State = "normalizing"
	StateDeduplicating State = "deduplicating"
	StateWriting       State = "writing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Area is the circle to import.
type Area struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
}

// Center returns the area center.
func (a Area) Center() geo.Point {
	return geo.Point{Lat: a.Latitude, Lng: a.Longitude}
}

// Validate checks the coordinates and that 0 < radius <= maxRadius.
func (a Area) Validate(maxRadius float64) error {
	if err := facility.ValidatePoint(a.Center()); err != nil {
		return err
	}
	if math.IsNaN(a.RadiusMeters) || a.RadiusMeters <= 0 || a.RadiusMeters > maxRadius {
		return &facility.ValidationError{
			Code:    facility.CodeInvalidArea,
			Field:   "radius_meters",
			Message: "radius must be positive and at most the import ceiling",
		}
	}
	return nil
}

// Summary reports the outcome of one run. Skipped is SkippedUnsupported
// plus Duplicates.
type Summary struct {
	Area               Area      `json:"area"`
	TotalFetched       int       `json:"total_fetched"`
	Imported           int       `json:"imported"`
	Skipped            int       `json:"skipped"`
	SkippedUnsupported int       `json:"skipped_unsupported"`
	Duplicates         int       `json:"duplicates"`
	Failed             int       `json:"failed"`
	State              State     `json:"state"`
	Error              string    `json:"error,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Fetcher retrieves raw elements for an area.
type Fetcher interface {
	FetchArea(ctx context.Context, center geo.Point, radiusMeters float64) ([]overpass.Element, error)
}

// Normalizer maps a raw element to a candidate, or reports false to skip it.
type Normalizer interface {
	Normalize(el overpass.Element) (*facility.Candidate, bool)
}

// RunRecorder persists run history. Recording failures are logged and never
// fail the run.
type RunRecorder interface {
	Start(ctx context.Context, area Area) (int64, error)
	Complete(ctx context.Context, runID int64, s *Summary) error
	Fail(ctx context.Context, runID int64, s *Summary) error
}

// Options configures an Importer.
type Options struct {
	MaxRadiusMeters float64
	RunTimeout      time.Duration
	Concurrency     int
	Recorder        RunRecorder
}

// Importer runs area imports against a store.
type Importer struct {
	store      facility.Store
	fetcher    Fetcher
	normalizer Normalizer
	opts       Options
	now        func() time.Time
}

// New creates an Importer.
func New(store facility.Store, fetcher Fetcher, normalizer Normalizer, opts Options) *Importer {
	if opts.MaxRadiusMeters <= 0 {
		opts.MaxRadiusMeters = 5000
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Importer{
		store:      store,
		fetcher:    fetcher,
		normalizer: normalizer,
		opts:       opts,
		now:        time.Now,
	}
}

// ImportArea runs one import. Invalid areas are rejected before any fetch.
// A fetch failure or timeout returns the partial summary with State=failed
// alongside the error; a single bad element only increments Failed.
func (im *Importer) ImportArea(ctx context.Context, area Area) (*Summary, error) {
	if err := area.Validate(im.opts.MaxRadiusMeters); err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "importer"),
		zap.Float64("lat", area.Latitude),
		zap.Float64("lng", area.Longitude),
		zap.Float64("radius_m", area.RadiusMeters),
	)

	sum := &Summary{Area: area, State: StateFetching, StartedAt: im.now().UTC()}
	runID := im.recordStart(ctx, log, area)

	runCtx, cancel := context.WithTimeout(ctx, im.opts.RunTimeout)
	defer cancel()

	err := im.run(runCtx, log, sum)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = eris.Wrapf(ErrRunTimeout, "importer: after %s in state %s", im.opts.RunTimeout, sum.State)
	}

	sum.Skipped = sum.SkippedUnsupported + sum.Duplicates
	sum.FinishedAt = im.now().UTC()
	if err != nil {
		sum.State = StateFailed
		sum.Error = err.Error()
		log.Error("import failed", append(summaryFields(sum), zap.Error(err))...)
		im.recordFinish(ctx, log, runID, sum)
		return sum, err
	}

	sum.State = StateDone
	log.Info("import complete", summaryFields(sum)...)
	im.recordFinish(ctx, log, runID, sum)
	return sum, nil
}

func (im *Importer) run(ctx context.Context, log *zap.Logger, sum *Summary) error {
	elements, err := im.fetcher.FetchArea(ctx, sum.Area.Center(), sum.Area.RadiusMeters)
	if err != nil {
		return eris.Wrap(err, "importer: fetch area")
	}
	sum.TotalFetched = len(elements)

	for _, el := range elements {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "importer: run interrupted")
		}
		if err := im.importElement(ctx, log, sum, el); err != nil {
			return err
		}
	}
	return nil
}

// importElement handles one element. It returns an error only when the run
// itself must stop.
func (im *Importer) importElement(ctx context.Context, log *zap.Logger, sum *Summary, el overpass.Element) error {
	sum.State = StateNormalizing
	cand, ok := im.normalizer.Normalize(el)
	if !ok {
		sum.SkippedUnsupported++
		return nil
	}

	sum.State = StateDeduplicating
	_, err := im.store.FindByExternalID(ctx, cand.Source, cand.ExternalID)
	switch {
	case err == nil:
		sum.Duplicates++
		return nil
	case !errors.Is(err, facility.ErrNotFound):
		return im.elementFailed(ctx, log, sum, el, err)
	}

	sum.State = StateWriting
	_, err = im.store.Create(ctx, cand)
	switch {
	case err == nil:
		sum.Imported++
	case errors.Is(err, facility.ErrDuplicate):
		sum.Duplicates++
	default:
		return im.elementFailed(ctx, log, sum, el, err)
	}
	return nil
}

func (im *Importer) elementFailed(ctx context.Context, log *zap.Logger, sum *Summary, el overpass.Element, err error) error {
	if ctx.Err() != nil {
		return eris.Wrap(err, "importer: run interrupted")
	}
	sum.Failed++
	log.Warn("element failed", zap.String("external_id", el.ExternalID()), zap.Error(err))
	return nil
}

func (im *Importer) recordStart(ctx context.Context, log *zap.Logger, area Area) int64 {
	if im.opts.Recorder == nil {
		return 0
	}
	id, err := im.opts.Recorder.Start(ctx, area)
	if err != nil {
		log.Warn("record run start", zap.Error(err))
		return 0
	}
	return id
}

func (im *Importer) recordFinish(ctx context.Context, log *zap.Logger, runID int64, sum *Summary) {
	if im.opts.Recorder == nil || runID == 0 {
		return
	}
	// The run context may already be done; history is written on a short
	// detached deadline.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	if sum.State == StateDone {
		err = im.opts.Recorder.Complete(recCtx, runID, sum)
	} else {
		err = im.opts.Recorder.Fail(recCtx, runID, sum)
	}
	if err != nil {
		log.Warn("record run finish", zap.Int64("run_id", runID), zap.Error(err))
	}
}

func summaryFields(s *Summary) []zap.Field {
	return []zap.Field{
		zap.Int("fetched", s.TotalFetched),
		zap.Int("imported", s.Imported),
		zap.Int("skipped_unsupported", s.SkippedUnsupported),
		zap.Int("duplicates", s.Duplicates),
		zap.Int("failed", s.Failed),
		zap.Duration("elapsed", s.FinishedAt.Sub(s.StartedAt)),
	}
}
