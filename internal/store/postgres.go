package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/proximity-cli/internal/db"
	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
)

// PostgresStore implements Store using pgx. A UNIQUE constraint on
// external_id backs ErrAlreadyExists.
type PostgresStore struct {
	pool    db.Pool
	postgis bool
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostGIS adds a geometry(Point, 4326) column populated on insert.
func WithPostGIS() PostgresOption {
	return func(s *PostgresStore) {
		s.postgis = true
	}
}

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool}
	for _, o := range opts {
		o(s)
	}
	return s
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	geohash_2   TEXT NOT NULL,
	geohash_3   TEXT NOT NULL,
	geohash_4   TEXT NOT NULL,
	geohash_5   TEXT NOT NULL,
	geohash_6   TEXT NOT NULL,
	attributes  JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_geohash_2 ON entities(geohash_2);
CREATE INDEX IF NOT EXISTS idx_entities_geohash_3 ON entities(geohash_3);
CREATE INDEX IF NOT EXISTS idx_entities_geohash_4 ON entities(geohash_4);
CREATE INDEX IF NOT EXISTS idx_entities_geohash_5 ON entities(geohash_5);
CREATE INDEX IF NOT EXISTS idx_entities_geohash_6 ON entities(geohash_6);
`

const postgisMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
ALTER TABLE entities ADD COLUMN IF NOT EXISTS location geometry(Point, 4326);
CREATE INDEX IF NOT EXISTS idx_entities_location ON entities USING GIST (location);
`

const (
	insertEntitySQL = `INSERT INTO entities (` + entityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (external_id) DO NOTHING`

	insertEntityGeomSQL = `INSERT INTO entities (` + entityColumns + `, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, ST_GeomFromEWKB($12))
		ON CONFLICT (external_id) DO NOTHING`
)

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	if s.postgis {
		if _, err := s.pool.Exec(ctx, postgisMigration); err != nil {
			return eris.Wrap(err, "postgres: migrate postgis")
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) QueryByBucket(ctx context.Context, precision int, bucket string) ([]model.Entity, error) {
	if err := checkPrecision(precision); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE `+geohashColumn(precision)+` = $1`, bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query bucket %s", bucket)
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanPostgresEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate bucket rows")
}

func (s *PostgresStore) QueryByExternalID(ctx context.Context, externalID string) (*model.Entity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE external_id = $1`, externalID)
	e, err := scanPostgresEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) Insert(ctx context.Context, e *model.Entity) error {
	if err := checkEntity(e); err != nil {
		return err
	}

	attrs, err := json.Marshal(nonNilAttrs(e.Attributes))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attributes")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	h := indexHashes(e)

	query := insertEntitySQL
	args := []any{e.ID, e.ExternalID, e.Location.Lat, e.Location.Lon,
		h[0], h[1], h[2], h[3], h[4], attrs, created}
	if s.postgis {
		wkb, err := EncodePoint(e.Location)
		if err != nil {
			return err
		}
		query = insertEntityGeomSQL
		args = append(args, wkb)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert %s", e.ExternalID)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// EncodePoint returns p as little-endian EWKB with SRID 4326.
func EncodePoint(p geo.Point) ([]byte, error) {
	g := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(4326)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode point")
	}
	return data, nil
}

func scanPostgresEntity(row rowScanner) (*model.Entity, error) {
	var (
		e     model.Entity
		h     [5]string
		attrs []byte
	)
	err := row.Scan(&e.ID, &e.ExternalID, &e.Location.Lat, &e.Location.Lon,
		&h[0], &h[1], &h[2], &h[3], &h[4], &attrs, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan entity")
	}

	e.Geohashes = hashMap(h[:])
	if e.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, err
	}
	return &e, nil
}
