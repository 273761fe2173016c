// Package backfill normalizes provider candidates, filters them, and
// inserts the new ones into the index idempotently.
package backfill

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
	"github.com/sells-group/proximity-cli/internal/store"
)

// Skip reasons.
const (
	ReasonInvalidLocation = "invalid_location"
	ReasonLookupFailed    = "lookup_failed"
	ReasonInsertFailed    = "insert_failed"
)

// Skip records a candidate that could not be merged.
type Skip struct {
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of one Merge.
type Result struct {
	Inserted []model.Entity `json:"inserted"`
	// Existing holds external ids already present in the index.
	Existing []string `json:"existing,omitempty"`
	Rejected int      `json:"rejected"`
	Skipped  []Skip   `json:"skipped,omitempty"`
}

// Option configures a Merger.
type Option func(*Merger)

// WithEligibility sets the eligibility predicate. The default admits all.
func WithEligibility(fn Eligibility) Option {
	return func(m *Merger) {
		if fn != nil {
			m.eligible = fn
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Merger) { m.now = now }
}

// WithIDFunc overrides entity id generation.
func WithIDFunc(fn func() string) Option {
	return func(m *Merger) { m.newID = fn }
}

// Merger inserts candidates that are not yet indexed.
type Merger struct {
	store    store.Store
	eligible Eligibility
	now      func() time.Time
	newID    func() string
}

// NewMerger creates a Merger writing to s.
func NewMerger(s store.Store, opts ...Option) *Merger {
	m := &Merger{
		store:    s,
		eligible: AllowAll,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Merge processes raw in order. Failures on individual candidates are
// recorded in the result and never abort the batch.
func (m *Merger) Merge(ctx context.Context, raw []model.RawCandidate) *Result {
	log := zap.L().With(zap.String("component", "backfill"))
	res := &Result{Inserted: []model.Entity{}}

	for _, c := range raw {
		if !c.Location.Valid() {
			res.Skipped = append(res.Skipped, Skip{ExternalID: c.ExternalID, Reason: ReasonInvalidLocation})
			continue
		}
		e := m.normalize(c)
		if !m.eligible(e) {
			res.Rejected++
			continue
		}

		existing, err := m.store.QueryByExternalID(ctx, e.ExternalID)
		if err != nil {
			log.Warn("backfill: lookup failed", zap.String("external_id", e.ExternalID), zap.Error(err))
			res.Skipped = append(res.Skipped, Skip{ExternalID: e.ExternalID, Reason: ReasonLookupFailed, Error: err.Error()})
			continue
		}
		if existing != nil {
			res.Existing = append(res.Existing, e.ExternalID)
			continue
		}

		if err := m.store.Insert(ctx, &e); err != nil {
			if store.IsAlreadyExists(err) {
				res.Existing = append(res.Existing, e.ExternalID)
				continue
			}
			log.Warn("backfill: insert failed", zap.String("external_id", e.ExternalID), zap.Error(err))
			res.Skipped = append(res.Skipped, Skip{ExternalID: e.ExternalID, Reason: ReasonInsertFailed, Error: err.Error()})
			continue
		}
		res.Inserted = append(res.Inserted, e)
	}

	log.Debug("backfill: merged candidates",
		zap.Int("candidates", len(raw)),
		zap.Int("inserted", len(res.Inserted)),
		zap.Int("existing", len(res.Existing)),
		zap.Int("rejected", res.Rejected),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res
}

func (m *Merger) normalize(c model.RawCandidate) model.Entity {
	var attrs map[string]string
	if len(c.Attributes) > 0 {
		attrs = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			attrs[k] = v
		}
	}
	return model.Entity{
		ID:         m.newID(),
		ExternalID: c.ExternalID,
		Location:   c.Location,
		Geohashes:  geo.Hashes(c.Location),
		Attributes: attrs,
		CreatedAt:  m.now().UTC(),
	}
}
