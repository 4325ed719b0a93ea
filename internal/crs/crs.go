// Package crs converts source coordinates of building models into WGS84.
package crs

import (
	"fmt"
	"strings"
)

// Transformer maps a source x/y pair into WGS84 latitude/longitude degrees.
type Transformer interface {
	ToWGS84(x, y float64) (lat, lon float64)
}

// Identity is used for sources already in WGS84 with x = longitude and
// y = latitude.
type Identity struct{}

func (Identity) ToWGS84(x, y float64) (float64, float64) { return y, x }

// Swiss converts Swiss national grid coordinates (LV95 or LV03) with the
// swisstopo approximate formulas, accurate to about one metre.
type Swiss struct {
	// FalseEasting and FalseNorthing of the grid origin (Bern).
	FalseEasting  float64
	FalseNorthing float64
}

// LV95 is EPSG:2056.
var LV95 = Swiss{FalseEasting: 2600000, FalseNorthing: 1200000}

// LV03 is EPSG:21781.
var LV03 = Swiss{FalseEasting: 600000, FalseNorthing: 200000}

func (s Swiss) ToWGS84(easting, northing float64) (float64, float64) {
	y := (easting - s.FalseEasting) / 1e6
	x := (northing - s.FalseNorthing) / 1e6

	lon := 2.6779094 +
		4.728982*y +
		0.791484*y*x +
		0.1306*y*x*x -
		0.0436*y*y*y
	lat := 16.9023892 +
		3.238272*x -
		0.270978*y*y -
		0.002528*x*x -
		0.0447*y*y*x -
		0.0140*x*x*x

	// unit 10000" -> degrees
	return lat * 100 / 36, lon * 100 / 36
}

// ForName resolves a CRS identifier such as "EPSG:2056".
func ForName(name string) (Transformer, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "EPSG:4326", "WGS84":
		return Identity{}, nil
	case "EPSG:2056", "LV95":
		return LV95, nil
	case "EPSG:21781", "LV03":
		return LV03, nil
	default:
		return nil, fmt.Errorf("unsupported source CRS %q", name)
	}
}
