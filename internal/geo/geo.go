// Package geo holds the great-circle math used to derive kinematics from
// consecutive position reports. All inputs are WGS84 degrees.
package geo

import (
	"math"
	"time"
)

const EarthRadiusKm = 6371.0

type Point struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance returns the haversine distance between p1 and p2 in meters.
func Distance(p1, p2 Point) float64 {
	lat1, lat2 := radians(p1.Latitude), radians(p2.Latitude)
	dLat := lat2 - lat1
	dLon := radians(p2.Longitude) - radians(p1.Longitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// antipodal rounding can push a slightly past 1
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c * 1000
}

// Speed returns km/h between prev and curr, or 0 without a usable previous point.
func Speed(prev *Point, curr Point) float64 {
	if prev == nil {
		return 0
	}
	hours := curr.Timestamp.Sub(prev.Timestamp).Hours()
	if hours <= 0 {
		return 0
	}
	return Distance(*prev, curr) / 1000 / hours
}

// Heading returns the initial bearing from prev to curr in [0, 360).
func Heading(prev *Point, curr Point) float64 {
	if prev == nil {
		return 0
	}
	lat1, lat2 := radians(prev.Latitude), radians(curr.Latitude)
	dLon := radians(curr.Longitude) - radians(prev.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	deg := math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
	if deg >= 360 || deg < 0 {
		return 0
	}
	return deg
}

// TotalDistance sums leg distances over points already in timestamp order.
func TotalDistance(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}
