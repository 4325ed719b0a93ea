package model

// GeoPoint is a WGS84 latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// TargetPolygon is the reference footprint (the terrace). Corners are
// traced NW, NE, SE, SW.
type TargetPolygon struct {
	NW GeoPoint
	NE GeoPoint
	SE GeoPoint
	SW GeoPoint
}

// Corners returns the boundary in tracing order.
func (t TargetPolygon) Corners() []GeoPoint {
	return []GeoPoint{t.NW, t.NE, t.SE, t.SW}
}

// Centroid returns the arithmetic mean of the corners.
func (t TargetPolygon) Centroid() GeoPoint {
	var lat, lon float64
	for _, c := range t.Corners() {
		lat += c.Lat
		lon += c.Lon
	}
	return GeoPoint{Lat: lat / 4, Lon: lon / 4}
}
