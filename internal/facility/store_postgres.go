package facility

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/access-atlas/atlas/internal/db"
)

// PostgresStore implements Store on PostGIS. Distances use the sphere
// (use_spheroid = false) so results agree with the other drivers.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const facilityColumns = `
	f.id::text, f.type, f.name, f.description, f.address, f.latitude, f.longitude,
	f.wheelchair, f.has_ramp, f.has_elevator, f.has_accessible_toilet,
	f.has_accessible_parking, f.has_automatic_door,
	f.verified, f.quality_score, f.sources, f.created_at, f.updated_at,
	COALESCE((
		SELECT jsonb_object_agg(e.source, e.external_id)
		FROM access.facility_external_ids e
		WHERE e.facility_id = f.id AND e.released_at IS NULL
	), '{}'::jsonb)`

const centerGeog = `ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography`

const nearPredicate = `
	f.deleted_at IS NULL
	AND ST_DWithin(f.geog, ` + centerGeog + `, $3, false)
	AND ($4::text[] IS NULL OR f.type = ANY($4))
	AND ($5::boolean IS NULL OR f.wheelchair = $5)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFacility(row rowScanner, extra ...any) (*Facility, error) {
	var (
		f      Facility
		typ    string
		extIDs []byte
	)
	dest := []any{
		&f.ID, &typ, &f.Name, &f.Description, &f.Address, &f.Latitude, &f.Longitude,
		&f.Wheelchair, &f.HasRamp, &f.HasElevator, &f.HasAccessibleToilet,
		&f.HasAccessibleParking, &f.HasAutomaticDoor,
		&f.Verified, &f.QualityScore, &f.Sources, &f.CreatedAt, &f.UpdatedAt,
		&extIDs,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	f.Type = Type(typ)
	if len(extIDs) > 0 {
		if err := json.Unmarshal(extIDs, &f.ExternalIDs); err != nil {
			return nil, eris.Wrap(err, "facility: decode external ids")
		}
		if len(f.ExternalIDs) == 0 {
			f.ExternalIDs = nil
		}
	}
	return &f, nil
}

// Create implements Store. The facility row and its dedup key are written in
// one transaction; a key already held by a live facility rolls it back.
func (s *PostgresStore) Create(ctx context.Context, c *Candidate) (string, error) {
	if err := ValidateCandidate(c); err != nil {
		return "", err
	}

	point, err := c.Point().EWKB()
	if err != nil {
		return "", eris.Wrap(err, "facility: encode point")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "facility: begin create")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	sources := c.Sources
	if sources == nil {
		sources = []string{}
	}

	var id string
	err = tx.QueryRow(ctx, `
		INSERT INTO access.facilities (
			type, name, description, address, latitude, longitude, geog,
			wheelchair, has_ramp, has_elevator, has_accessible_toilet,
			has_accessible_parking, has_automatic_door,
			verified, quality_score, sources
		) VALUES (
			$1, $2, $3, $4, $5, $6, ST_GeomFromEWKB($7)::geography,
			$8, $9, $10, $11, $12, $13, $14, $15, $16
		) RETURNING id::text`,
		string(c.Type), c.Name, c.Description, c.Address, c.Latitude, c.Longitude, point,
		c.Wheelchair, c.HasRamp, c.HasElevator, c.HasAccessibleToilet,
		c.HasAccessibleParking, c.HasAutomaticDoor,
		c.Verified, c.QualityScore, sources,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrap(err, "facility: insert facility")
	}

	if c.Source != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO access.facility_external_ids (facility_id, source, external_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (source, external_id) WHERE released_at IS NULL DO NOTHING`,
			id, c.Source, c.ExternalID,
		)
		if err != nil {
			return "", eris.Wrap(err, "facility: insert external id")
		}
		if tag.RowsAffected() == 0 {
			if err := tx.Rollback(ctx); err != nil {
				return "", eris.Wrap(err, "facility: rollback duplicate")
			}
			existing, err := s.liveExternalID(ctx, c.Source, c.ExternalID)
			if err != nil {
				return "", err
			}
			return existing, ErrDuplicate
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "facility: commit create")
	}
	return id, nil
}

func (s *PostgresStore) liveExternalID(ctx context.Context, source, externalID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT facility_id::text FROM access.facility_external_ids
		WHERE source = $1 AND external_id = $2 AND released_at IS NULL`,
		source, externalID,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrap(err, "facility: lookup duplicate")
	}
	return id, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Facility, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, eris.Wrapf(ErrNotFound, "facility: get %s", id)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+facilityColumns+` FROM access.facilities f WHERE f.id = $1 AND f.deleted_at IS NULL`,
		id,
	)
	f, err := scanFacility(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "facility: get %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "facility: get")
	}
	return f, nil
}

// QueryNear implements Store. It counts first and skips the page query when
// nothing matches.
func (s *PostgresStore) QueryNear(ctx context.Context, q NearQuery) ([]Match, int, error) {
	var types []string
	for _, t := range q.Filter.Types {
		types = append(types, string(t))
	}
	args := []any{q.Center.Lng, q.Center.Lat, q.RadiusMeters, types, q.Filter.Wheelchair}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM access.facilities f WHERE `+nearPredicate,
		args...,
	).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "facility: count near")
	}
	if total == 0 || q.Offset >= total {
		return []Match{}, total, nil
	}

	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+facilityColumns+`, ST_Distance(f.geog, `+centerGeog+`, false) AS distance
		FROM access.facilities f
		WHERE `+nearPredicate+`
		ORDER BY distance, f.id
		LIMIT $6 OFFSET $7`,
		append(args, limit, q.Offset)...,
	)
	if err != nil {
		return nil, 0, eris.Wrap(err, "facility: query near")
	}
	defer rows.Close()

	matches := make([]Match, 0)
	for rows.Next() {
		var dist float64
		f, err := scanFacility(rows, &dist)
		if err != nil {
			return nil, 0, eris.Wrap(err, "facility: scan near")
		}
		matches = append(matches, Match{Facility: *f, DistanceMeters: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "facility: iterate near")
	}
	return matches, total, nil
}

// FindByExternalID implements Store.
func (s *PostgresStore) FindByExternalID(ctx context.Context, source, externalID string) (*Facility, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+facilityColumns+`
		FROM access.facilities f
		JOIN access.facility_external_ids x ON x.facility_id = f.id
		WHERE x.source = $1 AND x.external_id = $2
		  AND x.released_at IS NULL AND f.deleted_at IS NULL`,
		source, externalID,
	)
	f, err := scanFacility(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "facility: external id %s/%s", source, externalID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "facility: find by external id")
	}
	return f, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return eris.Wrapf(ErrNotFound, "facility: delete %s", id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "facility: begin delete")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE access.facilities SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return eris.Wrap(err, "facility: tombstone")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "facility: delete %s", id)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE access.facility_external_ids SET released_at = now()
		WHERE facility_id = $1 AND released_at IS NULL`,
		id,
	); err != nil {
		return eris.Wrap(err, "facility: release external ids")
	}

	return eris.Wrap(tx.Commit(ctx), "facility: commit delete")
}

// ListTypes implements Store.
func (s *PostgresStore) ListTypes(_ context.Context) ([]TypeInfo, error) {
	return Catalog(), nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
