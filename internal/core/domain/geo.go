package domain

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BoundingBox represents a viewport in degrees. Boxes crossing the
// antimeridian are not supported: West must be less than East.
type BoundingBox struct {
	South float64 `json:"south" validate:"gte=-90,lte=90"`
	North float64 `json:"north" validate:"gte=-90,lte=90,gtfield=South"`
	West  float64 `json:"west" validate:"gte=-180,lte=180"`
	East  float64 `json:"east" validate:"gte=-180,lte=180,gtfield=West"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.South && p.Lat <= b.North && p.Lng >= b.West && p.Lng <= b.East
}
