package importer

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Result pairs an area with its run outcome.
type Result struct {
	Area    Area     `json:"area"`
	Summary *Summary `json:"summary,omitempty"`
	Err     error    `json:"-"`
}

// ImportAreas runs one import per area, up to Options.Concurrency at a time.
// Each run is sequential on its own; a failed run does not cancel the
// others. Results are returned in input order.
func (im *Importer) ImportAreas(ctx context.Context, areas []Area) []Result {
	log := zap.L().With(zap.String("component", "importer.batch"))
	results := make([]Result, len(areas))
	var done, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(im.opts.Concurrency)

	for i, area := range areas {
		g.Go(func() error {
			sum, err := im.ImportArea(ctx, area)
			results[i] = Result{Area: area, Summary: sum, Err: err}
			if err != nil {
				failed.Add(1)
			} else {
				done.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("batch import complete",
		zap.Int("areas", len(areas)),
		zap.Int64("done", done.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results
}
