package geo

import (
	"math"

	"github.com/example/homeservice-dispatch/internal/models"
)

// DispatchRadiusKm is the hard cutoff for candidate technicians.
const DispatchRadiusKm = 2.0

const earthRadiusM = 6371000.0

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// DistanceKm is the great-circle distance between two coordinates in kilometres.
// Both filtering and the displayed distance go through this function.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000
}

// Within reports whether b lies inside radiusKm of a.
func Within(a, b models.Coord, radiusKm float64) bool {
	return DistanceKm(a, b) <= radiusKm
}

// Bearing returns the initial heading from a to b in degrees [0, 360).
func Bearing(a, b models.Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}
