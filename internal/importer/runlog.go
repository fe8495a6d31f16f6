package importer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/access-atlas/atlas/internal/db"
)

// RunEntry is a row of access.import_runs.
type RunEntry struct {
	ID                 int64      `json:"id"`
	Area               Area       `json:"area"`
	Status             string     `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	TotalFetched       int        `json:"total_fetched"`
	Imported           int        `json:"imported"`
	SkippedUnsupported int        `json:"skipped_unsupported"`
	Duplicates         int        `json:"duplicates"`
	Failed             int        `json:"failed"`
	Error              string     `json:"error,omitempty"`
}

// RunLog implements RunRecorder on the access.import_runs table.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start implements RunRecorder.
func (l *RunLog) Start(ctx context.Context, area Area) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO access.import_runs (area_lat, area_lng, radius_meters, status, started_at)
		 VALUES ($1, $2, $3, 'running', now()) RETURNING id`,
		area.Latitude, area.Longitude, area.RadiusMeters,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "runlog: start")
	}
	return id, nil
}

// Complete implements RunRecorder.
func (l *RunLog) Complete(ctx context.Context, runID int64, s *Summary) error {
	return l.finish(ctx, runID, "complete", s)
}

// Fail implements RunRecorder.
func (l *RunLog) Fail(ctx context.Context, runID int64, s *Summary) error {
	return l.finish(ctx, runID, "failed", s)
}

func (l *RunLog) finish(ctx context.Context, runID int64, status string, s *Summary) error {
	var errMsg *string
	if s.Error != "" {
		errMsg = &s.Error
	}
	_, err := l.pool.Exec(ctx,
		`UPDATE access.import_runs
		 SET status = $1, finished_at = now(), total_fetched = $2, imported = $3,
		     skipped_unsupported = $4, duplicates = $5, failed = $6, error = $7
		 WHERE id = $8`,
		status, s.TotalFetched, s.Imported, s.SkippedUnsupported, s.Duplicates, s.Failed, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: %s run %d", status, runID)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (l *RunLog) Recent(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, area_lat, area_lng, radius_meters, status, started_at, finished_at,
		        total_fetched, imported, skipped_unsupported, duplicates, failed, COALESCE(error, '')
		 FROM access.import_runs ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var e RunEntry
		if err := rows.Scan(
			&e.ID, &e.Area.Latitude, &e.Area.Longitude, &e.Area.RadiusMeters, &e.Status,
			&e.StartedAt, &e.FinishedAt, &e.TotalFetched, &e.Imported,
			&e.SkippedUnsupported, &e.Duplicates, &e.Failed, &e.Error,
		); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "runlog: iterate runs")
}
