package geospatial

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371000.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Rect builds a closed lat/lng rectangle from degree edges. The longitude
// interval always runs eastward from west to east.
func Rect(south, west, north, east float64) s2.Rect {
	return s2.Rect{
		Lat: r1.Interval{Lo: degrees(south), Hi: degrees(north)},
		Lng: s1.IntervalFromEndpoints(degrees(west), degrees(east)),
	}
}

// RectContains reports whether (lat, lng) lies in r, edges included.
func RectContains(r s2.Rect, lat, lng float64) bool {
	return r.ContainsLatLng(s2.LatLngFromDegrees(lat, lng))
}

// CellEdgeMeters returns the approximate north-south and east-west extent of
// a square grid cell of sizeDeg degrees centred at lat.
func CellEdgeMeters(lat, sizeDeg float64) (northSouth, eastWest float64) {
	half := sizeDeg / 2
	northSouth = Haversine(lat-half, 0, lat+half, 0)
	eastWest = Haversine(lat, -half, lat, half)
	return northSouth, eastWest
}

func degrees(v float64) float64 {
	return (s1.Angle(v) * s1.Degree).Radians()
}
