package heatmap

import "math"

type gridTier struct {
	maxZoom int
	cellDeg float64
}

// gridTiers are checked in ascending maxZoom order; the first match wins.
var gridTiers = []gridTier{
	{maxZoom: 5, cellDeg: 1.0},             // ~111 km
	{maxZoom: 8, cellDeg: 0.25},            // ~28 km
	{maxZoom: 11, cellDeg: 0.05},           // ~5.5 km
	{maxZoom: 13, cellDeg: 0.01},           // ~1.1 km
	{maxZoom: math.MaxInt, cellDeg: 0.005}, // ~550 m
}

// CellSize returns the grid cell edge length in degrees for a map zoom level.
// Every integer maps to a tier; zooms past the last threshold use the finest grid.
func CellSize(zoom int) float64 {
	for _, t := range gridTiers {
		if zoom <= t.maxZoom {
			return t.cellDeg
		}
	}
	return gridTiers[len(gridTiers)-1].cellDeg
}

// Snap moves v to the nearest multiple of size. Halfway values round away
// from zero (math.Round), so with size 1.0 both 0.5 and -0.5 snap outward.
// Negative zero is normalised to positive zero.
func Snap(v, size float64) float64 {
	s := math.Round(v/size) * size
	if s == 0 {
		return 0
	}
	return s
}

// cellKey identifies a grid cell by its snapped coordinates. Two reports
// share a cell iff both components are bit-identical after snapping.
type cellKey struct {
	lat, lng float64
}

func keyFor(lat, lng, size float64) cellKey {
	return cellKey{lat: Snap(lat, size), lng: Snap(lng, size)}
}
