// Package store persists indexed entities behind a backend-neutral interface.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
)

// Store is the equality-lookup index the search engine and backfill merger
// run against.
type Store interface {
	// QueryByBucket returns every entity whose geohash at precision equals
	// bucket. Order is unspecified.
	QueryByBucket(ctx context.Context, precision int, bucket string) ([]model.Entity, error)

	// QueryByExternalID returns the entity with the given provider id, or
	// nil when none exists.
	QueryByExternalID(ctx context.Context, externalID string) (*model.Entity, error)

	// Insert adds e. It returns ErrAlreadyExists when an entity with the
	// same external id is already stored; other failures leave prior state
	// intact.
	Insert(ctx context.Context, e *model.Entity) error

	// Migrate creates the backend schema if needed.
	Migrate(ctx context.Context) error

	Close() error
}

var (
	// ErrAlreadyExists reports a uniqueness conflict on external id.
	ErrAlreadyExists = eris.New("store: entity already exists")

	// ErrInvalidPrecision reports a bucket query outside the index precisions.
	ErrInvalidPrecision = eris.New("store: precision is not indexed")
)

// IsAlreadyExists reports whether err is an external id conflict.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func checkPrecision(precision int) error {
	if !geo.IsIndexPrecision(precision) {
		return eris.Wrapf(ErrInvalidPrecision, "precision %d", precision)
	}
	return nil
}

func checkEntity(e *model.Entity) error {
	if e == nil {
		return eris.New("store: nil entity")
	}
	if e.ID == "" || e.ExternalID == "" {
		return eris.Errorf("store: entity requires id and external id (id=%q external_id=%q)", e.ID, e.ExternalID)
	}
	return nil
}

// geohashColumn returns the column or field name holding keys at precision.
// Callers must validate precision first.
func geohashColumn(precision int) string {
	return fmt.Sprintf("geohash_%d", precision)
}

// indexHashes returns e's keys at every index precision, filling any the
// entity does not carry.
func indexHashes(e *model.Entity) []string {
	out := make([]string, len(geo.IndexPrecisions))
	for i, p := range geo.IndexPrecisions {
		out[i] = e.Geohash(p)
	}
	return out
}

// hashMap pairs keys listed in IndexPrecisions order with their precision.
func hashMap(keys []string) map[int]string {
	out := make(map[int]string, len(keys))
	for i, p := range geo.IndexPrecisions {
		if i < len(keys) {
			out[p] = keys[i]
		}
	}
	return out
}

func nonNilAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	return attrs
}

func decodeAttributes(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, eris.Wrap(err, "store: decode attributes")
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}
