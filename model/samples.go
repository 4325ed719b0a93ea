package model

import "time"

// SolarPosition is the apparent position of the sun at one instant.
type SolarPosition struct {
	Time      time.Time
	Elevation float64 // degrees, negative below the horizon
	Azimuth   float64 // degrees clockwise from north, [0, 360)
}

// SolarPositionSample ties a solar position to one building vertex.
type SolarPositionSample struct {
	Time              time.Time
	BuildingID        string
	Latitude          float64
	Longitude         float64
	HeightAboveGround float64
	Elevation         float64
	Azimuth           float64
}

// ShadowSample extends a SolarPositionSample with the projected shadow tip.
//
// Undefined is set when the sun is at or below the horizon; ShadowLength is
// still the raw value of the formula but the tip coordinates are NaN and the
// sample never contributes to an intersection ratio.
type ShadowSample struct {
	SolarPositionSample

	ShadowBearing float64 // degrees
	ShadowLength  float64 // metres
	TipLatitude   float64
	TipLongitude  float64
	Undefined     bool
}

// IntersectionResult is the share of the target area covered by the shadow
// of one building at one instant.
type IntersectionResult struct {
	Time       time.Time
	BuildingID string
	Ratio      float64
	Points     int // defined shadow tips that formed the hull
}

// SunlitWindow holds the first and last instants at which the sun is above
// the morning and evening thresholds. Either side may be absent.
type SunlitWindow struct {
	First    time.Time
	Last     time.Time
	HasFirst bool
	HasLast  bool
}
