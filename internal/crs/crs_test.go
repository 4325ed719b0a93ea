package crs

import (
	"math"
	"testing"
)

func TestSwissLV95ToWGS84(t *testing.T) {
	// swisstopo reference point: 2700000 / 1100000 ~ 46.04413 N, 8.73050 E.
	lat, lon := LV95.ToWGS84(2700000, 1100000)
	if math.Abs(lat-46.04413) > 1e-4 || math.Abs(lon-8.73050) > 1e-4 {
		t.Fatalf("LV95 -> (%f, %f), want ~(46.04413, 8.73050)", lat, lon)
	}
}

func TestSwissOriginIsBern(t *testing.T) {
	lat95, lon95 := LV95.ToWGS84(2600000, 1200000)
	lat03, lon03 := LV03.ToWGS84(600000, 200000)
	if lat95 != lat03 || lon95 != lon03 {
		t.Fatalf("LV95 and LV03 origins differ: (%f,%f) vs (%f,%f)", lat95, lon95, lat03, lon03)
	}
	if math.Abs(lat95-46.95108) > 1e-4 || math.Abs(lon95-7.43864) > 1e-4 {
		t.Fatalf("origin = (%f, %f), want Bern ~(46.95108, 7.43864)", lat95, lon95)
	}
}

func TestForName(t *testing.T) {
	for _, name := range []string{"", "EPSG:4326", "epsg:2056", "LV03"} {
		if _, err := ForName(name); err != nil {
			t.Fatalf("ForName(%q): %v", name, err)
		}
	}
	if _, err := ForName("EPSG:3857"); err == nil {
		t.Fatalf("expected unsupported CRS error")
	}

	tr, _ := ForName("EPSG:4326")
	lat, lon := tr.ToWGS84(6.15, 46.2)
	if lat != 46.2 || lon != 6.15 {
		t.Fatalf("identity swapped axes: (%f, %f)", lat, lon)
	}
}
