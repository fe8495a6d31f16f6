// Package monitoring watches import run history and the ingestion source,
// and posts alerts to a webhook when either looks unhealthy.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/access-atlas/atlas/internal/importer"
	"github.com/access-atlas/atlas/internal/resilience"
)

// runScanLimit caps how many recent runs a single collection reads.
const runScanLimit = 1000

// MetricsSnapshot holds a point-in-time view of import health.
type MetricsSnapshot struct {
	// Import runs started within the lookback window.
	ImportTotal    int     `json:"import_total"`
	ImportComplete int     `json:"import_complete"`
	ImportFailed   int     `json:"import_failed"`
	ImportRunning  int     `json:"import_running"`
	ImportFailRate float64 `json:"import_fail_rate"`

	// Element counts summed over those runs.
	Fetched         int `json:"fetched"`
	Imported        int `json:"imported"`
	Duplicates      int `json:"duplicates"`
	ElementFailures int `json:"element_failures"`

	SourceState string `json:"source_state"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunSource lists recent import runs, newest first.
type RunSource interface {
	Recent(ctx context.Context, limit int) ([]importer.RunEntry, error)
}

// Collector gathers metrics from the run log and the source circuit.
type Collector struct {
	runs   RunSource
	source func() resilience.CircuitState
	now    func() time.Time
}

// NewCollector creates a collector. source may be nil.
func NewCollector(runs RunSource, source func() resilience.CircuitState) *Collector {
	return &Collector{runs: runs, source: source, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		SourceState:   "unknown",
	}
	if c.source != nil {
		snap.SourceState = c.source().String()
	}

	runs, err := c.runs.Recent(ctx, runScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.ImportTotal++
		switch r.Status {
		case "complete":
			snap.ImportComplete++
		case "failed":
			snap.ImportFailed++
		case "running":
			snap.ImportRunning++
		}
		snap.Fetched += r.TotalFetched
		snap.Imported += r.Imported
		snap.Duplicates += r.Duplicates
		snap.ElementFailures += r.Failed
	}

	if finished := snap.ImportComplete + snap.ImportFailed; finished > 0 {
		snap.ImportFailRate = float64(snap.ImportFailed) / float64(finished)
	}
	return snap, nil
}
