// Package discovery adapts external place-search services into raw
// candidates for backfill.
package discovery

import (
	"context"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
)

// Provider finds candidates near a point. Results are best effort, may be
// unordered, and may be empty.
type Provider interface {
	Name() string
	Search(ctx context.Context, p geo.Point) ([]model.RawCandidate, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, p geo.Point) ([]model.RawCandidate, error)

func (f ProviderFunc) Name() string { return "func" }

func (f ProviderFunc) Search(ctx context.Context, p geo.Point) ([]model.RawCandidate, error) {
	return f(ctx, p)
}

// Nop never finds anything. It stands in when no provider is configured.
type Nop struct{}

func (Nop) Name() string { return "nop" }

func (Nop) Search(context.Context, geo.Point) ([]model.RawCandidate, error) { return nil, nil }
