// Package search runs progressive radius proximity searches over the
// geohash index and escalates to external discovery when the index is
// too sparse.
package search

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/proximity-cli/internal/backfill"
	"github.com/sells-group/proximity-cli/internal/discovery"
	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
	"github.com/sells-group/proximity-cli/internal/store"
)

// Result sources.
const (
	SourceLocal    = "local"
	SourceProvider = "provider"
)

// Points this close to the circle edge count as inside.
const edgeToleranceMeters = 0.001

// Escalations for points sharing a precision 9 cell (about 5 m) are
// coalesced.
const escalationKeyPrecision = 9

// Config tunes the engine.
type Config struct {
	// Tiers are search radii in Unit, strictly increasing.
	Tiers []float64
	Unit  geo.Unit
	// Table maps radii in Unit to index precisions. Empty uses the default.
	Table             geo.PrecisionTable
	ProviderTimeout   time.Duration
	BucketConcurrency int
}

// DefaultConfig returns the standard 2 to 32 mile ladder.
func DefaultConfig() Config {
	return Config{
		Tiers:             []float64{2, 4, 8, 16, 32},
		Unit:              geo.Miles,
		Table:             geo.DefaultPrecisionTable(geo.Miles),
		ProviderTimeout:   10 * time.Second,
		BucketConcurrency: 9,
	}
}

// Match is an entity and its distance from the query point in the
// engine's unit.
type Match struct {
	model.Entity
	Distance float64 `json:"distance"`
}

// Result is the outcome of one search.
type Result struct {
	Entities []Match `json:"entities"`
	Source   string  `json:"source"`
	// Radius and Precision describe the last tier searched locally.
	Radius        float64          `json:"radius"`
	Unit          string           `json:"unit"`
	Precision     int              `json:"precision"`
	Escalated     bool             `json:"escalated"`
	Backfill      *backfill.Result `json:"backfill,omitempty"`
	ProviderError string           `json:"provider_error,omitempty"`
	BucketErrors  int              `json:"bucket_errors,omitempty"`
}

// Engine answers proximity searches.
type Engine struct {
	store    store.Store
	provider discovery.Provider
	merger   *backfill.Merger
	planner  *geo.Planner
	cfg      Config

	flight singleflight.Group
}

// NewEngine validates cfg and builds an engine. A nil provider disables
// escalation.
func NewEngine(s store.Store, provider discovery.Provider, merger *backfill.Merger, cfg Config) (*Engine, error) {
	if s == nil {
		return nil, eris.New("search: store is required")
	}
	if len(cfg.Tiers) == 0 {
		return nil, eris.New("search: at least one tier is required")
	}
	for i, t := range cfg.Tiers {
		if t <= 0 {
			return nil, eris.Errorf("search: tier %v must be positive", t)
		}
		if i > 0 && t <= cfg.Tiers[i-1] {
			return nil, eris.Errorf("search: tiers must be strictly increasing (%v after %v)", t, cfg.Tiers[i-1])
		}
	}
	if cfg.Unit.Meters <= 0 {
		cfg.Unit = geo.Miles
	}
	if len(cfg.Table) == 0 {
		cfg.Table = geo.DefaultPrecisionTable(cfg.Unit)
	}
	planner, err := geo.NewPlanner(cfg.Table)
	if err != nil {
		return nil, eris.Wrap(err, "search: precision table")
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	if cfg.BucketConcurrency <= 0 {
		cfg.BucketConcurrency = DefaultConfig().BucketConcurrency
	}
	if provider == nil {
		provider = discovery.Nop{}
	}
	if merger == nil {
		merger = backfill.NewMerger(s)
	}

	tiers := make([]float64, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	cfg.Tiers = tiers

	return &Engine{store: s, provider: provider, merger: merger, planner: planner, cfg: cfg}, nil
}

// Search returns the req.MinCount nearest entities when the index or the
// provider can supply them, and fewer otherwise. Only validation failures and cancellation of
// ctx are returned as errors; degraded outcomes are reported on the Result.
func (e *Engine) Search(ctx context.Context, req model.SearchRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.Float64("lat", req.Point.Lat),
		zap.Float64("lon", req.Point.Lon),
		zap.Int("min_count", req.MinCount),
	)
	res := &Result{Source: SourceLocal, Unit: e.cfg.Unit.Name}

	var local []Match
	for _, tier := range e.cfg.Tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		plan := e.planner.Plan(req.Point, tier)
		candidates, failed := e.queryBuckets(ctx, plan)
		res.BucketErrors += failed
		local = e.within(req.Point, candidates, tier)
		res.Radius, res.Precision = tier, plan.Precision

		log.Debug("search: tier evaluated",
			zap.Float64("radius", tier),
			zap.Int("precision", plan.Precision),
			zap.Int("buckets", len(plan.Buckets)),
			zap.Bool("partial", plan.Partial),
			zap.Int("candidates", len(candidates)),
			zap.Int("matches", len(local)),
		)
		if len(local) >= req.MinCount {
			res.Entities = local[:req.MinCount]
			return res, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Escalated = true
	log.Info("search: escalating to provider",
		zap.String("provider", e.provider.Name()),
		zap.Int("local", len(local)),
	)

	merged, err := e.escalate(ctx, req.Point)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("search: provider failed, returning local results", zap.Error(err))
		res.ProviderError = err.Error()
		res.Entities = local
		return res, nil
	}
	res.Backfill = merged

	inserted := e.rank(req.Point, merged.Inserted)
	if len(local) > len(inserted) {
		res.Entities = local
		return res, nil
	}
	if len(inserted) > req.MinCount {
		inserted = inserted[:req.MinCount]
	}
	res.Entities = inserted
	res.Source = SourceProvider
	return res, nil
}

// queryBuckets fetches every bucket in plan concurrently and merges the
// results by entity id. Failed buckets contribute nothing and are counted.
func (e *Engine) queryBuckets(ctx context.Context, plan geo.Plan) (map[string]model.Entity, int) {
	results := make([][]model.Entity, len(plan.Buckets))
	var failed atomic.Int32

	var g errgroup.Group
	g.SetLimit(e.cfg.BucketConcurrency)
	for i, bucket := range plan.Buckets {
		g.Go(func() error {
			ents, err := e.store.QueryByBucket(ctx, plan.Precision, bucket)
			if err != nil {
				zap.L().Warn("search: bucket query failed",
					zap.Int("precision", plan.Precision),
					zap.String("bucket", bucket),
					zap.Error(err),
				)
				failed.Add(1)
				return nil
			}
			results[i] = ents
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]model.Entity)
	for _, ents := range results {
		for _, ent := range ents {
			out[ent.ID] = ent
		}
	}
	return out, int(failed.Load())
}

// within keeps candidates inside radius, sorted nearest first.
func (e *Engine) within(p geo.Point, candidates map[string]model.Entity, radius float64) []Match {
	limit := e.cfg.Unit.ToMeters(radius) + edgeToleranceMeters
	out := make([]Match, 0, len(candidates))
	for _, ent := range candidates {
		m := geo.DistanceMeters(p, ent.Location)
		if m > limit {
			continue
		}
		out = append(out, Match{Entity: ent, Distance: e.cfg.Unit.FromMeters(m)})
	}
	sortMatches(out)
	return out
}

// rank orders entities by distance from p without any radius filter.
func (e *Engine) rank(p geo.Point, ents []model.Entity) []Match {
	out := make([]Match, len(ents))
	for i, ent := range ents {
		out[i] = Match{Entity: ent, Distance: geo.Distance(p, ent.Location, e.cfg.Unit)}
	}
	sortMatches(out)
	return out
}

func sortMatches(m []Match) {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].Distance != m[j].Distance {
			return m[i].Distance < m[j].Distance
		}
		return m[i].ID < m[j].ID
	})
}

// escalate calls the provider and merges its candidates. Concurrent
// escalations for the same cell share one call and one merge, so every
// waiter sees the same inserted entities. The shared work is detached
// from any single caller's cancellation.
func (e *Engine) escalate(ctx context.Context, p geo.Point) (*backfill.Result, error) {
	key := geo.Encode(p, escalationKeyPrecision)
	ch := e.flight.DoChan(key, func() (any, error) {
		shared := context.WithoutCancel(ctx)

		pctx, cancel := context.WithTimeout(shared, e.cfg.ProviderTimeout)
		defer cancel()
		raw, err := e.provider.Search(pctx, p)
		if err != nil {
			return nil, eris.Wrapf(err, "search: provider %s", e.provider.Name())
		}
		return e.merger.Merge(shared, raw), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*backfill.Result), nil
	}
}
