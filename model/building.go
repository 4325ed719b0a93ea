package model

// Vertex3 is a vertex in the source reference frame of a building model.
// X/Y are easting/northing (or longitude/latitude for geographic sources),
// Z is elevation in metres.
type Vertex3 struct {
	X float64
	Y float64
	Z float64
}

// Building is a single building as handed over by a geometry loader.
// ID carries the EGID; buildings without one are rejected.
type Building struct {
	ID       string
	Name     string
	Vertices []Vertex3
}

// VertexRecord is one ground-truth point of a building in WGS84.
type VertexRecord struct {
	BuildingID string
	Latitude   float64
	Longitude  float64

	// GroundElevation is the lowest z of the building, shared by all of its
	// vertices and used as the observer altitude for solar calculations.
	GroundElevation float64

	// HeightAboveGround is z minus GroundElevation, never negative.
	HeightAboveGround float64
}
