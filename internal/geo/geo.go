package geo

import (
	"github.com/golang/geo/s2"

	"github.com/example/trip-recorder/internal/models"
)

const EarthRadiusMeters = 6371000.0

// DistanceMeters is the great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// PathLengthKm sums the distance between consecutive points, which must be
// ordered by timestamp.
func PathLengthKm(points []models.LocationPoint) float64 {
	var meters float64
	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		meters += DistanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	}
	return meters / 1000
}

// ValidCoord reports whether lat/lon are within WGS84 bounds.
func ValidCoord(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
