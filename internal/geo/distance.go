package geo

import (
	"strings"

	orbgeo "github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"
)

// Unit is a distance unit expressed as meters per unit.
type Unit struct {
	Name   string
	Meters float64
}

var (
	Meters     = Unit{Name: "m", Meters: 1}
	Kilometers = Unit{Name: "km", Meters: 1000}
	Miles      = Unit{Name: "mi", Meters: 1609.344}
)

// ParseUnit resolves a unit name such as "mi", "miles", "km" or "m".
func ParseUnit(name string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mi", "mile", "miles":
		return Miles, nil
	case "km", "kilometer", "kilometers", "kilometre", "kilometres":
		return Kilometers, nil
	case "m", "meter", "meters", "metre", "metres":
		return Meters, nil
	default:
		return Unit{}, eris.Errorf("geo: unknown distance unit %q", name)
	}
}

// ToMeters converts v units to meters.
func (u Unit) ToMeters(v float64) float64 {
	return v * u.Meters
}

// FromMeters converts m meters to units.
func (u Unit) FromMeters(m float64) float64 {
	return m / u.Meters
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Point) float64 {
	return orbgeo.DistanceHaversine(a.Orb(), b.Orb())
}

// Distance returns the haversine distance between a and b in unit u.
func Distance(a, b Point, u Unit) float64 {
	return u.FromMeters(DistanceMeters(a, b))
}

// Destination returns the point reached by travelling meters from p along
// the given bearing (degrees clockwise from north).
func Destination(p Point, bearing, meters float64) Point {
	return FromOrb(orbgeo.PointAtBearingAndDistance(p.Orb(), bearing, meters))
}
