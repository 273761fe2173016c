// Package model defines the entities and requests shared by the search and
// backfill subsystems.
package model

import (
	"time"

	"github.com/sells-group/proximity-cli/internal/geo"
)

// Entity is an indexed point of interest.
type Entity struct {
	ID         string            `json:"id" yaml:"id"`
	ExternalID string            `json:"external_id" yaml:"external_id"`
	Location   geo.Point         `json:"location" yaml:"location"`
	Geohashes  map[int]string    `json:"geohashes,omitempty" yaml:"geohashes,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at" yaml:"created_at"`
}

// Geohash returns the entity's key at precision, computing it from the
// location when the denormalized map lacks it.
func (e *Entity) Geohash(precision int) string {
	if h, ok := e.Geohashes[precision]; ok {
		return h
	}
	return geo.Encode(e.Location, precision)
}

// Attr returns an attribute value or "".
func (e *Entity) Attr(key string) string {
	return e.Attributes[key]
}

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	out := e
	if e.Geohashes != nil {
		out.Geohashes = make(map[int]string, len(e.Geohashes))
		for k, v := range e.Geohashes {
			out.Geohashes[k] = v
		}
	}
	if e.Attributes != nil {
		out.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// RawCandidate is an unnormalized result from a discovery provider.
type RawCandidate struct {
	ExternalID string            `json:"external_id" yaml:"external_id"`
	Location   geo.Point         `json:"location" yaml:"location"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}
