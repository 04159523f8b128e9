// Package geo implements the Haversine distance, forward bearing, and
// circular-mean bearing used by the matcher and estimator. Grounded on
// ponytojas-gtfs-simulator-go/internal/db's hand-rolled haversine/bearing
// helpers — the pack's own precedent for this exact math on stdlib math,
// with no third-party geodesy dependency anywhere in the corpus.
package geo

import (
	"fmt"
	"math"

	"github.com/travigo/transitcore/internal/xferrors"
)

// EarthRadiusMeters is the mean Earth radius used by the Haversine formula.
const EarthRadiusMeters = 6371000.0

// NoiseFloorMeters is the minimum segment distance considered in
// average bearing computation; shorter segments are GPS jitter.
const NoiseFloorMeters = 1.0

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64
	Lng float64
}

func (c Coordinate) finite() bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) &&
		!math.IsNaN(c.Lng) && !math.IsInf(c.Lng, 0)
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) (float64, error) {
	if !a.finite() || !b.finite() {
		return 0, xferrors.Wrap(xferrors.BadInput, fmt.Sprintf("non-finite coordinate in distance(%v, %v)", a, b))
	}
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	sa := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(sa), math.Sqrt(1-sa))
	return EarthRadiusMeters * c, nil
}

// Bearing returns the initial forward azimuth from a to b in [0, 360).
// Returns ok=false when either point is non-finite.
func Bearing(a, b Coordinate) (deg float64, ok bool) {
	if !a.finite() || !b.finite() {
		return 0, false
	}
	y := math.Sin(toRad(b.Lng-a.Lng)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) -
		math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lng-a.Lng))
	brng := math.Atan2(y, x) * 180 / math.Pi
	return normalize360(brng), true
}

func normalize360(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// Sample is one history entry's coordinate; AverageBearing needs no
// timestamp.
type Sample struct {
	Coordinate Coordinate
}

// AverageBearing computes the circular mean of the bearings of adjacent
// pairs in history, skipping pairs whose distance is below
// NoiseFloorMeters. Returns ok=false when no qualifying segment exists.
//
// Ordinary arithmetic mean of bearings is wrong across the 0/360
// discontinuity (e.g. mean(1, 359) should be 0, not 180); summing unit
// vectors and taking atan2 of the sum handles the wraparound correctly.
func AverageBearing(history []Sample) (deg float64, ok bool) {
	var sumCos, sumSin float64
	var n int
	for i := 1; i < len(history); i++ {
		a := history[i-1].Coordinate
		b := history[i].Coordinate
		d, err := Distance(a, b)
		if err != nil || d < NoiseFloorMeters {
			continue
		}
		brng, bok := Bearing(a, b)
		if !bok {
			continue
		}
		rad := toRad(brng)
		sumCos += math.Cos(rad)
		sumSin += math.Sin(rad)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return normalize360(math.Atan2(sumSin, sumCos) * 180 / math.Pi), true
}

// CircularDistance returns the shortest angular distance between two
// bearings in degrees, in [0, 180].
func CircularDistance(a, b float64) float64 {
	diff := math.Abs(a - b)
	if diff > 180 {
		return 360 - diff
	}
	return diff
}
