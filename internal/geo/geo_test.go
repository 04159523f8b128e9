package geo_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travigo/transitcore/internal/geo"
)

func TestDistanceHaversineKnownPoints(t *testing.T) {
	// London to Paris, roughly 343 km.
	london := geo.Coordinate{Lat: 51.5074, Lng: -0.1278}
	paris := geo.Coordinate{Lat: 48.8566, Lng: 2.3522}

	d, err := geo.Distance(london, paris)
	require.NoError(t, err)
	assert.InDelta(t, 343000, d, 5000)
}

func TestDistanceRejectsNonFinite(t *testing.T) {
	bad := geo.Coordinate{Lat: math.NaN(), Lng: 0}
	_, err := geo.Distance(bad, geo.Coordinate{})
	require.Error(t, err)
}

func TestBearingReverseDiffersBy180(t *testing.T) {
	// Both points lie on one meridian, where the great-circle initial
	// azimuth and its reverse are exactly opposite.
	a := geo.Coordinate{Lat: 10, Lng: 10}
	b := geo.Coordinate{Lat: 20, Lng: 10}

	ab, ok := geo.Bearing(a, b)
	require.True(t, ok)
	ba, ok := geo.Bearing(b, a)
	require.True(t, ok)

	// Signed distance of (ab - ba) from 180 degrees.
	diff := math.Mod(ab-ba+360, 360) - 180
	assert.InDelta(t, 0, diff, 1e-6)
}

func TestBearingNonFiniteReturnsNotOk(t *testing.T) {
	_, ok := geo.Bearing(geo.Coordinate{Lat: math.Inf(1)}, geo.Coordinate{})
	assert.False(t, ok)
}

func TestAverageBearingSkipsNoiseFloor(t *testing.T) {
	// All points within ~0.1m of each other: below the 1.0m noise floor.
	history := []geo.Sample{
		{Coordinate: geo.Coordinate{Lat: 10.00000, Lng: 10.00000}},
		{Coordinate: geo.Coordinate{Lat: 10.000001, Lng: 10.000001}},
	}
	_, ok := geo.AverageBearing(history)
	assert.False(t, ok)
}

func TestAverageBearingEastwardTrend(t *testing.T) {
	history := []geo.Sample{
		{Coordinate: geo.Coordinate{Lat: 10.0000, Lng: 10.0000}},
		{Coordinate: geo.Coordinate{Lat: 10.0000, Lng: 10.0010}},
		{Coordinate: geo.Coordinate{Lat: 10.0000, Lng: 10.0020}},
	}
	brng, ok := geo.AverageBearing(history)
	require.True(t, ok)
	assert.InDelta(t, 90, brng, 1)
}

func TestCircularDistanceAcrossDiscontinuity(t *testing.T) {
	assert.InDelta(t, 2, geo.CircularDistance(359, 1), 1e-9)
	assert.InDelta(t, 45, geo.CircularDistance(10, 55), 1e-9)
}
