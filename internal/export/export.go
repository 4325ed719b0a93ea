// Package export writes analysis results as GeoJSON and CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/shadowcast/core"
	"github.com/signalsfoundry/shadowcast/model"
)

// Hull is the shadow outline of one building at one instant.
type Hull struct {
	Time       time.Time
	BuildingID string
	Ring       orb.Ring
	Ratio      float64
}

// Hulls builds the shadow outlines of every group that spans an area.
func Hulls(target *core.Target, samples []model.ShadowSample) []Hull {
	groups := core.GroupShadows(samples)
	out := make([]Hull, 0, len(groups))
	for _, g := range groups {
		ring := target.ShadowHull(g.Tips)
		if ring == nil {
			continue
		}
		out = append(out, Hull{
			Time:       g.Time,
			BuildingID: g.BuildingID,
			Ring:       ring,
			Ratio:      target.IntersectionRatio(g.Tips),
		})
	}
	return out
}

// FeatureCollection renders the target and the hulls as GeoJSON features.
// The target feature carries kind=target, hull features kind=shadow.
func FeatureCollection(target *core.Target, hulls []Hull) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	tf := geojson.NewFeature(orb.Polygon{targetRing(target)})
	tf.Properties["kind"] = "target"
	tf.Properties["area_m2"] = TargetArea(target)
	fc.Append(tf)

	for _, h := range hulls {
		f := geojson.NewFeature(orb.Polygon{h.Ring})
		f.Properties["kind"] = "shadow"
		f.Properties["building_id"] = h.BuildingID
		f.Properties["time"] = h.Time.Format(time.RFC3339)
		f.Properties["ratio"] = h.Ratio
		fc.Append(f)
	}
	return fc
}

// TargetArea is the geodesic area of the target in square metres.
func TargetArea(target *core.Target) float64 {
	return geo.Area(orb.Polygon{targetRing(target)})
}

func targetRing(target *core.Target) orb.Ring {
	corners := target.Corners()
	ring := make(orb.Ring, 0, len(corners)+1)
	for _, c := range corners {
		ring = append(ring, orb.Point{c.Lon, c.Lat})
	}
	return append(ring, ring[0])
}

// WriteGeoJSON writes FeatureCollection(target, hulls) to w.
func WriteGeoJSON(w io.Writer, target *core.Target, hulls []Hull) error {
	data, err := FeatureCollection(target, hulls).MarshalJSON()
	if err != nil {
		return fmt.Errorf("export: marshal geojson: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("export: write geojson: %w", err)
	}
	return nil
}

var shadowHeader = []string{
	"time", "building_id", "latitude", "longitude", "height_above_ground",
	"elevation", "azimuth", "shadow_bearing", "shadow_length",
	"tip_latitude", "tip_longitude", "undefined",
}

// WriteShadowsCSV writes the shadow table. NaN values are written as
// empty cells.
func WriteShadowsCSV(w io.Writer, samples []model.ShadowSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(shadowHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for i := range samples {
		s := &samples[i]
		rec := []string{
			s.Time.Format(time.RFC3339),
			s.BuildingID,
			formatFloat(s.Latitude),
			formatFloat(s.Longitude),
			formatFloat(s.HeightAboveGround),
			formatFloat(s.Elevation),
			formatFloat(s.Azimuth),
			formatFloat(s.ShadowBearing),
			formatFloat(s.ShadowLength),
			formatFloat(s.TipLatitude),
			formatFloat(s.TipLongitude),
			strconv.FormatBool(s.Undefined),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("export: write shadow row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteIntersectionsCSV writes the intersection table.
func WriteIntersectionsCSV(w io.Writer, results []model.IntersectionResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "building_id", "ratio", "points"}); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for i, r := range results {
		rec := []string{
			r.Time.Format(time.RFC3339),
			r.BuildingID,
			formatFloat(r.Ratio),
			strconv.Itoa(r.Points),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("export: write intersection row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
