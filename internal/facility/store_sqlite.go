package facility

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/access-atlas/atlas/internal/geo"
)

// SQLiteStore implements Store on modernc.org/sqlite with an R*Tree virtual
// table as the bounding-box prefilter.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// sqlitePragmas apply to every pooled connection. Writers take the lock at
// BEGIN and wait up to busy_timeout for it.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
	"&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate"

// sqliteDSN appends the connection pragmas to path.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqlitePragmas
	}
	return path + "?" + sqlitePragmas
}

// NewSQLiteStore opens a SQLite database at path in WAL mode. Call Migrate
// before use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if strings.HasPrefix(path, ":memory:") {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS facilities (
	rid                    INTEGER PRIMARY KEY,
	id                     TEXT NOT NULL UNIQUE,
	type                   TEXT NOT NULL,
	name                   TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	address                TEXT NOT NULL DEFAULT '',
	latitude               REAL NOT NULL,
	longitude              REAL NOT NULL,
	wheelchair             INTEGER,
	has_ramp               INTEGER,
	has_elevator           INTEGER,
	has_accessible_toilet  INTEGER,
	has_accessible_parking INTEGER,
	has_automatic_door     INTEGER,
	verified               INTEGER NOT NULL DEFAULT 0,
	quality_score          REAL NOT NULL DEFAULT 0,
	sources                TEXT NOT NULL DEFAULT '[]',
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL,
	deleted_at             TEXT
);

CREATE VIRTUAL TABLE IF NOT EXISTS facility_rtree USING rtree(
	rid, min_lng, max_lng, min_lat, max_lat
);

CREATE TABLE IF NOT EXISTS facility_external_ids (
	facility_id TEXT NOT NULL REFERENCES facilities(id),
	source      TEXT NOT NULL,
	external_id TEXT NOT NULL,
	released_at TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_facility_external_ids_live
	ON facility_external_ids(source, external_id) WHERE released_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_facility_external_ids_facility
	ON facility_external_ids(facility_id);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

const sqliteColumns = `
	f.id, f.type, f.name, f.description, f.address, f.latitude, f.longitude,
	f.wheelchair, f.has_ramp, f.has_elevator, f.has_accessible_toilet,
	f.has_accessible_parking, f.has_automatic_door,
	f.verified, f.quality_score, f.sources, f.created_at, f.updated_at,
	(SELECT json_group_object(e.source, e.external_id)
	 FROM facility_external_ids e
	 WHERE e.facility_id = f.id AND e.released_at IS NULL)`

func scanSQLiteFacility(row rowScanner) (*Facility, error) {
	var (
		f                Facility
		typ              string
		flags            [6]sql.NullBool
		sources          string
		created, updated string
		extIDs           sql.NullString
	)
	err := row.Scan(
		&f.ID, &typ, &f.Name, &f.Description, &f.Address, &f.Latitude, &f.Longitude,
		&flags[0], &flags[1], &flags[2], &flags[3], &flags[4], &flags[5],
		&f.Verified, &f.QualityScore, &sources, &created, &updated, &extIDs,
	)
	if err != nil {
		return nil, err
	}

	f.Type = Type(typ)
	f.Wheelchair = nullBool(flags[0])
	f.HasRamp = nullBool(flags[1])
	f.HasElevator = nullBool(flags[2])
	f.HasAccessibleToilet = nullBool(flags[3])
	f.HasAccessibleParking = nullBool(flags[4])
	f.HasAutomaticDoor = nullBool(flags[5])

	if err := json.Unmarshal([]byte(sources), &f.Sources); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode sources")
	}
	if extIDs.Valid && extIDs.String != "" {
		if err := json.Unmarshal([]byte(extIDs.String), &f.ExternalIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode external ids")
		}
		if len(f.ExternalIDs) == 0 {
			f.ExternalIDs = nil
		}
	}
	if f.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	if f.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse updated_at")
	}
	return &f, nil
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, c *Candidate) (string, error) {
	if err := ValidateCandidate(c); err != nil {
		return "", err
	}

	sources := c.Sources
	if sources == nil {
		sources = []string{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: encode sources")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin create")
	}
	defer tx.Rollback() //nolint:errcheck

	id := uuid.NewString()
	now := s.now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO facilities (
			id, type, name, description, address, latitude, longitude,
			wheelchair, has_ramp, has_elevator, has_accessible_toilet,
			has_accessible_parking, has_automatic_door,
			verified, quality_score, sources, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(c.Type), c.Name, c.Description, c.Address, c.Latitude, c.Longitude,
		c.Wheelchair, c.HasRamp, c.HasElevator, c.HasAccessibleToilet,
		c.HasAccessibleParking, c.HasAutomaticDoor,
		c.Verified, c.QualityScore, string(sourcesJSON), now, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert facility")
	}
	rid, err := res.LastInsertId()
	if err != nil {
		return "", eris.Wrap(err, "sqlite: facility rowid")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO facility_rtree (rid, min_lng, max_lng, min_lat, max_lat) VALUES (?, ?, ?, ?, ?)`,
		rid, c.Longitude, c.Longitude, c.Latitude, c.Latitude,
	); err != nil {
		return "", eris.Wrap(err, "sqlite: index facility")
	}

	if c.Source != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO facility_external_ids (facility_id, source, external_id)
			VALUES (?, ?, ?)
			ON CONFLICT (source, external_id) WHERE released_at IS NULL DO NOTHING`,
			id, c.Source, c.ExternalID,
		)
		if err != nil {
			return "", eris.Wrap(err, "sqlite: insert external id")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var existing string
			err := tx.QueryRowContext(ctx, `
				SELECT facility_id FROM facility_external_ids
				WHERE source = ? AND external_id = ? AND released_at IS NULL`,
				c.Source, c.ExternalID,
			).Scan(&existing)
			if err != nil {
				return "", eris.Wrap(err, "sqlite: lookup duplicate")
			}
			return existing, ErrDuplicate
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit create")
	}
	return id, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Facility, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM facilities f WHERE f.id = ? AND f.deleted_at IS NULL`, id)
	f, err := scanSQLiteFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "facility: get %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get facility")
	}
	return f, nil
}

// QueryNear implements Store.
func (s *SQLiteStore) QueryNear(ctx context.Context, q NearQuery) ([]Match, int, error) {
	var candidates []*Facility
	seen := make(map[string]bool)
	for _, box := range geo.BoundingBoxes(q.Center, q.RadiusMeters) {
		found, err := s.queryBox(ctx, box)
		if err != nil {
			return nil, 0, err
		}
		for _, f := range found {
			if !seen[f.ID] {
				seen[f.ID] = true
				candidates = append(candidates, f)
			}
		}
	}

	matches, total := refine(candidates, q)
	return matches, total, nil
}

func (s *SQLiteStore) queryBox(ctx context.Context, box geo.BBox) ([]*Facility, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM facility_rtree r
		JOIN facilities f ON f.rid = r.rid
		WHERE r.min_lng <= ? AND r.max_lng >= ?
		  AND r.min_lat <= ? AND r.max_lat >= ?
		  AND f.deleted_at IS NULL`,
		box.MaxLng, box.MinLng, box.MaxLat, box.MinLat,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query box")
	}
	defer rows.Close()

	var out []*Facility
	for rows.Next() {
		f, err := scanSQLiteFacility(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan facility")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate box")
}

// FindByExternalID implements Store.
func (s *SQLiteStore) FindByExternalID(ctx context.Context, source, externalID string) (*Facility, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM facilities f
		JOIN facility_external_ids x ON x.facility_id = f.id
		WHERE x.source = ? AND x.external_id = ?
		  AND x.released_at IS NULL AND f.deleted_at IS NULL`,
		source, externalID,
	)
	f, err := scanSQLiteFacility(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "facility: external id %s/%s", source, externalID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find by external id")
	}
	return f, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC().Format(time.RFC3339Nano)

	var rid int64
	err = tx.QueryRowContext(ctx,
		`SELECT rid FROM facilities WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&rid)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "facility: delete %s", id)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: lookup for delete")
	}

	for _, stmt := range []struct {
		sql  string
		args []any
	}{
		{`UPDATE facilities SET deleted_at = ?, updated_at = ? WHERE rid = ?`, []any{now, now, rid}},
		{`DELETE FROM facility_rtree WHERE rid = ?`, []any{rid}},
		{`UPDATE facility_external_ids SET released_at = ? WHERE facility_id = ? AND released_at IS NULL`, []any{now, id}},
	} {
		if _, err := tx.ExecContext(ctx, stmt.sql, stmt.args...); err != nil {
			return eris.Wrap(err, "sqlite: tombstone")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit delete")
}

// ListTypes implements Store.
func (s *SQLiteStore) ListTypes(_ context.Context) ([]TypeInfo, error) {
	return Catalog(), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
