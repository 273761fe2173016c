package geo

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMilesPlanner(t *testing.T) *Planner {
	t.Helper()
	pl, err := NewPlanner(DefaultPrecisionTable(Miles))
	require.NoError(t, err)
	return pl
}

func TestPrecisionFor(t *testing.T) {
	table := DefaultPrecisionTable(Miles)

	tests := []struct {
		radius float64
		want   int
	}{
		{0.1, 5},
		{0.34, 5},
		{1, 4},
		{2, 3},
		{8, 3},
		{16, 2},
		{45, 2},
		{500, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.PrecisionFor(tt.radius), "radius %v", tt.radius)
	}
}

func TestPrecisionFor_ThresholdIsInclusive(t *testing.T) {
	table := PrecisionTable{{MaxRadius: 5, Precision: 4}, {MaxRadius: 10, Precision: 3}}
	assert.Equal(t, 4, table.PrecisionFor(5))
	assert.Equal(t, 3, table.PrecisionFor(5.0001))
	assert.Equal(t, 3, table.PrecisionFor(11))
}

func TestPrecisionTable_Validate(t *testing.T) {
	assert.Error(t, PrecisionTable{}.Validate())
	assert.Error(t, PrecisionTable{{MaxRadius: 1, Precision: 7}}.Validate())
	assert.Error(t, PrecisionTable{{MaxRadius: 0, Precision: 3}}.Validate())
	assert.NoError(t, DefaultPrecisionTable(Kilometers).Validate())

	_, err := NewPlanner(nil)
	assert.Error(t, err)
}

func TestDefaultPrecisionTable_Units(t *testing.T) {
	km := DefaultPrecisionTable(Kilometers)
	assert.InDelta(t, 17.7, km[2].MaxRadius, 1e-9)
	mi := DefaultPrecisionTable(Miles)
	assert.InDelta(t, 11.0, mi[2].MaxRadius, 0.01)
}

func TestPlan_AtMostNineBuckets(t *testing.T) {
	pl := newMilesPlanner(t)
	p := Point{Lat: 42.3397, Lon: -71.0917}

	for _, r := range []float64{0.2, 1, 2, 4, 8, 16, 32, 100} {
		plan := pl.Plan(p, r)
		assert.LessOrEqual(t, len(plan.Buckets), 9)
		assert.NotEmpty(t, plan.Buckets)
		for _, b := range plan.Buckets {
			assert.Len(t, b, plan.Precision)
		}
		assert.Contains(t, plan.Buckets, Encode(p, plan.Precision))
	}
}

func TestPlan_NoDuplicateBuckets(t *testing.T) {
	pl := newMilesPlanner(t)
	plan := pl.Plan(Point{Lat: 89.99, Lon: 0}, 16)
	seen := map[string]bool{}
	for _, b := range plan.Buckets {
		assert.False(t, seen[b], "duplicate bucket %s", b)
		seen[b] = true
	}
}

func TestPlan_CoversCircle(t *testing.T) {
	pl := newMilesPlanner(t)
	rng := rand.New(rand.NewPCG(7, 11))

	radii := []float64{0.1, 0.35, 1, 1.5, 2, 4, 8, 11, 16, 32, 45}
	for i := 0; i < 500; i++ {
		p := Point{Lat: rng.Float64()*118 - 59, Lon: rng.Float64()*360 - 180}
		for _, r := range radii {
			plan := pl.Plan(p, r)
			buckets := map[string]bool{}
			for _, b := range plan.Buckets {
				buckets[b] = true
			}
			for bearing := 0.0; bearing < 360; bearing += 15 {
				q := Destination(p, bearing, Miles.ToMeters(r))
				require.True(t, buckets[Encode(q, plan.Precision)],
					"point %v radius %v bearing %v escaped buckets %v", p, r, bearing, plan.Buckets)
			}
		}
	}
}

func TestPlan_CoversCircleAtHighLatitude(t *testing.T) {
	pl := newMilesPlanner(t)
	rng := rand.New(rand.NewPCG(13, 17))

	radii := []float64{0.1, 0.35, 1, 2, 4, 8, 16, 32}
	checked := 0
	for i := 0; i < 400; i++ {
		lat := 60 + rng.Float64()*25
		if i%2 == 1 {
			lat = -lat
		}
		p := Point{Lat: lat, Lon: rng.Float64()*360 - 180}
		for _, r := range radii {
			plan := pl.Plan(p, r)
			if plan.Partial {
				continue
			}
			buckets := map[string]bool{}
			for _, b := range plan.Buckets {
				buckets[b] = true
			}
			for bearing := 0.0; bearing < 360; bearing += 10 {
				q := Destination(p, bearing, Miles.ToMeters(r))
				require.True(t, buckets[Encode(q, plan.Precision)],
					"point %v radius %v bearing %v escaped buckets %v", p, r, bearing, plan.Buckets)
				checked++
			}
		}
	}
	assert.Positive(t, checked)
}

func TestPlan_HighLatitudeUsesCoarserPrecision(t *testing.T) {
	pl := newMilesPlanner(t)

	mid := pl.Plan(Point{Lat: 45, Lon: 10}, 8)
	assert.Equal(t, 3, mid.Precision)
	assert.False(t, mid.Partial)

	north := pl.Plan(Point{Lat: 73, Lon: 10}, 8)
	assert.Equal(t, 2, north.Precision)
	assert.False(t, north.Partial)

	q := Destination(Point{Lat: 73, Lon: 10}, 90, Miles.ToMeters(8))
	assert.Contains(t, north.Buckets, Encode(q, north.Precision))

	assert.True(t, pl.Plan(Point{Lat: 80, Lon: 10}, 32).Partial)
	assert.False(t, pl.Plan(Point{Lat: 42, Lon: 10}, 32).Partial)
}

func TestPlannerTable_SortedCopy(t *testing.T) {
	pl, err := NewPlanner(PrecisionTable{{MaxRadius: 10, Precision: 3}, {MaxRadius: 1, Precision: 5}})
	require.NoError(t, err)
	table := pl.Table()
	assert.Equal(t, 5, table[0].Precision)
	table[0].Precision = 2
	assert.Equal(t, 5, pl.Table()[0].Precision)
}
