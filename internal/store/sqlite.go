package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/proximity-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	latitude    REAL NOT NULL,
	longitude   REAL NOT NULL,
	geohash_2   TEXT NOT NULL,
	geohash_3   TEXT NOT NULL,
	geohash_4   TEXT NOT NULL,
	geohash_5   TEXT NOT NULL,
	geohash_6   TEXT NOT NULL,
	attributes  TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_geohash_2 ON entities(geohash_2);
CREATE INDEX IF NOT EXISTS idx_entities_geohash_3 ON entities(geohash_3);
CREATE INDEX IF NOT EXISTS idx_entities_geohash_4 ON entities(geohash_4);
CREATE INDEX IF NOT EXISTS idx_entities_geohash_5 ON entities(geohash_5);
CREATE INDEX IF NOT EXISTS idx_entities_geohash_6 ON entities(geohash_6);
`

const entityColumns = `id, external_id, latitude, longitude, geohash_2, geohash_3, geohash_4, geohash_5, geohash_6, attributes, created_at`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) QueryByBucket(ctx context.Context, precision int, bucket string) ([]model.Entity, error) {
	if err := checkPrecision(precision); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE `+geohashColumn(precision)+` = ?`, bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query bucket %s", bucket)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Entity
	for rows.Next() {
		e, err := scanSQLiteEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate bucket rows")
}

func (s *SQLiteStore) QueryByExternalID(ctx context.Context, externalID string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE external_id = ?`, externalID)
	e, err := scanSQLiteEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, e *model.Entity) error {
	if err := checkEntity(e); err != nil {
		return err
	}

	attrs, err := json.Marshal(nonNilAttrs(e.Attributes))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attributes")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	h := indexHashes(e)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (`+entityColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO NOTHING`,
		e.ID, e.ExternalID, e.Location.Lat, e.Location.Lon,
		h[0], h[1], h[2], h[3], h[4], string(attrs), created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert %s", e.ExternalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntity(row rowScanner) (*model.Entity, error) {
	var (
		e       model.Entity
		h       [5]string
		attrs   string
		created string
	)
	err := row.Scan(&e.ID, &e.ExternalID, &e.Location.Lat, &e.Location.Lon,
		&h[0], &h[1], &h[2], &h[3], &h[4], &attrs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan entity")
	}

	e.Geohashes = hashMap(h[:])
	if e.Attributes, err = decodeAttributes([]byte(attrs)); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	return &e, nil
}
