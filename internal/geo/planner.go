package geo

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
)

// PrecisionThreshold maps a maximum search radius to the geohash precision
// used for radii up to and including MaxRadius.
type PrecisionThreshold struct {
	MaxRadius float64 `yaml:"max_radius" mapstructure:"max_radius"`
	Precision int     `yaml:"precision" mapstructure:"precision"`
}

// PrecisionTable is the ordered set of thresholds consulted by a Planner.
type PrecisionTable []PrecisionThreshold

// Thresholds in meters. A 3x3 block of precision+1 cells fully contains a
// disk of MaxRadius for any point with |lat| <= 60. Plan stretches the
// radius poleward of that to keep the guarantee.
var defaultThresholdsMeters = PrecisionTable{
	{MaxRadius: 560, Precision: 5},
	{MaxRadius: 2400, Precision: 4},
	{MaxRadius: 17700, Precision: 3},
	{MaxRadius: 72400, Precision: 2},
}

// DefaultPrecisionTable returns the built-in thresholds expressed in u.
func DefaultPrecisionTable(u Unit) PrecisionTable {
	out := make(PrecisionTable, len(defaultThresholdsMeters))
	for i, th := range defaultThresholdsMeters {
		out[i] = PrecisionThreshold{MaxRadius: u.FromMeters(th.MaxRadius), Precision: th.Precision}
	}
	return out
}

// Validate checks that the table is usable for planning.
func (t PrecisionTable) Validate() error {
	if len(t) == 0 {
		return eris.New("geo: precision table is empty")
	}
	for _, th := range t {
		if !IsIndexPrecision(th.Precision) {
			return eris.Errorf("geo: precision %d is not an index precision", th.Precision)
		}
		if th.MaxRadius <= 0 {
			return eris.Errorf("geo: precision %d has non-positive max radius %v", th.Precision, th.MaxRadius)
		}
	}
	return nil
}

// PrecisionFor returns the finest precision whose threshold covers radius,
// or the coarsest precision when radius exceeds every threshold.
func (t PrecisionTable) PrecisionFor(radius float64) int {
	best, coarsest := 0, 0
	for _, th := range t {
		if coarsest == 0 || th.Precision < coarsest {
			coarsest = th.Precision
		}
		if th.MaxRadius >= radius && th.Precision > best {
			best = th.Precision
		}
	}
	if best == 0 {
		return coarsest
	}
	return best
}

// Plan is the set of buckets to query for one radius.
type Plan struct {
	Precision int
	Buckets   []string
	// Partial is set when even the coarsest precision cannot hold the
	// whole disk, so entities near its edge may be missed.
	Partial bool
}

// coverageLat is the latitude the default thresholds were sized for.
const coverageLat = 60.0

// latitudeStretch scales a radius so that the thresholds, sized for
// coverageLat, stay valid where cells are narrower in meters.
func latitudeStretch(lat float64) float64 {
	c := math.Cos(math.Abs(lat) * math.Pi / 180)
	limit := math.Cos(coverageLat * math.Pi / 180)
	if c >= limit {
		return 1
	}
	if c <= 0 {
		return math.Inf(1)
	}
	return limit / c
}

// Planner selects index buckets covering a circle around a point.
type Planner struct {
	table PrecisionTable
}

// NewPlanner returns a Planner over a validated copy of table.
func NewPlanner(table PrecisionTable) (*Planner, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	t := make(PrecisionTable, len(table))
	copy(t, table)
	sort.Slice(t, func(i, j int) bool { return t[i].MaxRadius < t[j].MaxRadius })
	return &Planner{table: t}, nil
}

// Table returns the planner's thresholds sorted by radius.
func (pl *Planner) Table() PrecisionTable {
	out := make(PrecisionTable, len(pl.table))
	copy(out, pl.table)
	return out
}

// Plan anchors p one level finer than the search precision, expands the
// anchor to its 3x3 neighborhood, and rolls each cell up to its parent.
// Above 60 degrees of latitude the precision is chosen for a radius
// widened by the shrinking cell width, so coarser buckets are used.
// The result never holds more than nine buckets.
func (pl *Planner) Plan(p Point, radius float64) Plan {
	effective := radius * latitudeStretch(p.Lat)
	precision := pl.table.PrecisionFor(effective)
	anchor := Encode(p, precision+1)

	cells := append([]string{anchor}, Neighbors(anchor)...)
	seen := make(map[string]struct{}, len(cells))
	buckets := make([]string, 0, len(cells))
	for _, c := range cells {
		parent := Parent(c)
		if _, dup := seen[parent]; dup {
			continue
		}
		seen[parent] = struct{}{}
		buckets = append(buckets, parent)
	}
	return Plan{
		Precision: precision,
		Buckets:   buckets,
		Partial:   effective > pl.table[len(pl.table)-1].MaxRadius,
	}
}
