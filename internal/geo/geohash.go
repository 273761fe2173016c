package geo

import (
	"math"
	"strings"

	"github.com/mmcloughlin/geohash"
)

// Alphabet is the base-32 geohash alphabet.
const Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

const (
	MinPrecision = 1
	MaxPrecision = 12
)

// IndexPrecisions are the precisions denormalized onto every stored entity.
var IndexPrecisions = []int{2, 3, 4, 5, 6}

// IsIndexPrecision reports whether entities carry a key at precision p.
func IsIndexPrecision(p int) bool {
	return p >= IndexPrecisions[0] && p <= IndexPrecisions[len(IndexPrecisions)-1]
}

// Encode returns the geohash of p with the given number of characters.
// Precision is clamped to [MinPrecision, MaxPrecision].
func Encode(p Point, precision int) string {
	lat, lon := p.Lat, wrapLon(p.Lon)
	if lat >= 90 {
		lat = math.Nextafter(90, 0)
	}
	if lon >= 180 {
		lon = -180
	}
	return geohash.EncodeWithPrecision(lat, lon, uint(clampPrecision(precision)))
}

// Hashes returns p's geohash at every index precision.
func Hashes(p Point) map[int]string {
	full := Encode(p, IndexPrecisions[len(IndexPrecisions)-1])
	out := make(map[int]string, len(IndexPrecisions))
	for _, prec := range IndexPrecisions {
		out[prec] = full[:prec]
	}
	return out
}

// Parent returns the enclosing cell one level coarser.
func Parent(key string) string {
	if key == "" {
		return ""
	}
	return key[:len(key)-1]
}

// ValidKey reports whether key is a non-empty geohash of supported length.
func ValidKey(key string) bool {
	if len(key) < MinPrecision || len(key) > MaxPrecision {
		return false
	}
	for _, r := range key {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}

// compass offsets in (lat, lon) cell units: N, NE, E, SE, S, SW, W, NW.
var compass = [8][2]float64{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// Neighbors returns the distinct cells adjacent to key at the same precision.
// Longitude wraps across the antimeridian; cells past a pole are omitted, so
// polar cells yield fewer than eight neighbors.
func Neighbors(key string) []string {
	if !ValidKey(key) {
		return nil
	}

	box := geohash.BoundingBox(key)
	lat, lon := box.Center()
	dLat := box.MaxLat - box.MinLat
	dLon := box.MaxLng - box.MinLng
	precision := len(key)

	seen := map[string]struct{}{key: {}}
	out := make([]string, 0, len(compass))
	for _, off := range compass {
		nLat := lat + off[0]*dLat
		if nLat > 90 || nLat < -90 {
			continue
		}
		n := Encode(Point{Lat: nLat, Lon: lon + off[1]*dLon}, precision)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func clampPrecision(p int) int {
	if p < MinPrecision {
		return MinPrecision
	}
	if p > MaxPrecision {
		return MaxPrecision
	}
	return p
}
