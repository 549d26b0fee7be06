package geo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplePoints = []Point{
	{Latitude: 0, Longitude: 0},
	{Latitude: 28.6139, Longitude: 77.2090},
	{Latitude: -33.8688, Longitude: 151.2093},
	{Latitude: 90, Longitude: 0},
	{Latitude: -90, Longitude: 180},
	{Latitude: 51.5074, Longitude: -0.1278},
}

func TestDistanceIdentityAndSymmetry(t *testing.T) {
	for _, p := range samplePoints {
		assert.Equal(t, 0.0, Distance(p, p))
		for _, q := range samplePoints {
			assert.InDelta(t, Distance(p, q), Distance(q, p), 1e-6)
		}
	}
}

func TestDistanceKnownValues(t *testing.T) {
	// one degree of longitude on the equator
	got := Distance(Point{0, 0, time.Time{}}, Point{0, 1, time.Time{}})
	assert.InDelta(t, EarthRadiusKm*1000*math.Pi/180, got, 1e-4)

	antipodal := Distance(Point{Latitude: 0, Longitude: 0}, Point{Latitude: 0, Longitude: 180})
	assert.InDelta(t, EarthRadiusKm*1000*math.Pi, antipodal, 1e-3)
}

func TestSpeedAndHeadingWithoutPrevious(t *testing.T) {
	curr := Point{Latitude: 10, Longitude: 10, Timestamp: time.Now()}
	assert.Equal(t, 0.0, Speed(nil, curr))
	assert.Equal(t, 0.0, Heading(nil, curr))
}

func TestSpeedGuardsNonPositiveElapsed(t *testing.T) {
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	prev := Point{Latitude: 0, Longitude: 0, Timestamp: ts}

	assert.Equal(t, 0.0, Speed(&prev, Point{Latitude: 1, Longitude: 1, Timestamp: ts}))
	assert.Equal(t, 0.0, Speed(&prev, Point{Latitude: 1, Longitude: 1, Timestamp: ts.Add(-time.Minute)}))
}

func TestSpeedOverOneMinute(t *testing.T) {
	ts := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	prev := Point{Latitude: 0, Longitude: 0, Timestamp: ts}
	curr := Point{Latitude: 0.01, Longitude: 0.01, Timestamp: ts.Add(time.Minute)}

	want := Distance(prev, curr) / 1000 * 60
	got := Speed(&prev, curr)
	assert.Equal(t, want, got)
	assert.InDelta(t, 94.35, got, 0.05)
}

func TestHeadingRange(t *testing.T) {
	for _, p := range samplePoints {
		for _, q := range samplePoints {
			h := Heading(&p, q)
			assert.GreaterOrEqual(t, h, 0.0)
			assert.Less(t, h, 360.0)
		}
	}
}

func TestHeadingCardinalDirections(t *testing.T) {
	origin := Point{Latitude: 0, Longitude: 0}
	assert.InDelta(t, 0, Heading(&origin, Point{Latitude: 1, Longitude: 0}), 1e-9)
	assert.InDelta(t, 90, Heading(&origin, Point{Latitude: 0, Longitude: 1}), 1e-9)
	assert.InDelta(t, 180, Heading(&origin, Point{Latitude: -1, Longitude: 0}), 1e-9)
	assert.InDelta(t, 270, Heading(&origin, Point{Latitude: 0, Longitude: -1}), 1e-9)
}

func TestTotalDistance(t *testing.T) {
	assert.Equal(t, 0.0, TotalDistance(nil))
	assert.Equal(t, 0.0, TotalDistance([]Point{{Latitude: 5, Longitude: 5}}))

	// equally spaced points along the equator
	pts := []Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 0.5},
		{Latitude: 0, Longitude: 1},
	}
	leg := Distance(pts[0], pts[1])
	require.Greater(t, leg, 0.0)
	assert.InDelta(t, 2*leg, TotalDistance(pts), 1e-6)
}
