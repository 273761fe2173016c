// Package geo provides geohash bucketing, bucket planning, and geodesic
// distance for proximity search.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat" firestore:"lat"`
	Lon float64 `json:"lon" yaml:"lon" firestore:"lon"`
}

// Valid reports whether the point lies within latitude [-90, 90] and
// longitude [-180, 180].
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Orb returns the point in orb's (lon, lat) order.
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb point back to a Point, wrapping longitude into
// [-180, 180].
func FromOrb(o orb.Point) Point {
	return Point{Lat: o.Lat(), Lon: wrapLon(o.Lon())}
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
