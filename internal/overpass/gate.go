package overpass

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Gate spaces out requests to the source. Wait blocks until the caller may
// send one request.
type Gate interface {
	Wait(ctx context.Context) error
}

// IntervalGate admits one request per interval, with at most one caller
// waiting on the limiter at a time. Share one gate across every import in the
// process.
type IntervalGate struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewIntervalGate creates a gate admitting one request per interval. A
// non-positive interval disables spacing.
func NewIntervalGate(interval time.Duration) *IntervalGate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &IntervalGate{
		sem:     make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Wait implements Gate.
func (g *IntervalGate) Wait(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "overpass: wait for rate gate")
	}
	defer func() { <-g.sem }()

	return eris.Wrap(g.limiter.Wait(ctx), "overpass: wait for rate gate")
}

// NoopGate never blocks.
type NoopGate struct{}

// Wait implements Gate.
func (NoopGate) Wait(ctx context.Context) error {
	return ctx.Err()
}
