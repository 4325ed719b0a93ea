package core

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/shadowcast/model"
)

// ShadowBearing is the direction from a point to the tip of its shadow,
// opposite the solar azimuth, in [0, 360).
func ShadowBearing(azimuth float64) float64 {
	return normalizeDeg(azimuth + 180)
}

// ShadowLength is the horizontal length of the shadow of a vertical segment
// of the given height. It is only meaningful for elevations in (0, 90];
// callers filter other values. A zero height always casts a zero shadow.
func ShadowLength(elevation, height float64) float64 {
	if height == 0 {
		return 0
	}
	return height / math.Tan(elevation*deg2rad)
}

// Project casts the shadow of one vertex under one solar position.
func Project(rec model.VertexRecord, pos model.SolarPosition) model.ShadowSample {
	s := model.ShadowSample{
		SolarPositionSample: model.SolarPositionSample{
			Time:              pos.Time,
			BuildingID:        rec.BuildingID,
			Latitude:          rec.Latitude,
			Longitude:         rec.Longitude,
			HeightAboveGround: rec.HeightAboveGround,
			Elevation:         pos.Elevation,
			Azimuth:           pos.Azimuth,
		},
		ShadowBearing: ShadowBearing(pos.Azimuth),
		ShadowLength:  ShadowLength(pos.Elevation, rec.HeightAboveGround),
	}

	if !(pos.Elevation > 0) {
		s.Undefined = true
		s.TipLatitude = math.NaN()
		s.TipLongitude = math.NaN()
		return s
	}

	s.TipLatitude, s.TipLongitude = TranslatePoint(rec.Latitude, rec.Longitude, s.ShadowLength, s.ShadowBearing)
	return s
}

// ProjectTable projects every record against its own row of positions.
// positions[i] must be aligned with times for records[i].
func ProjectTable(records []model.VertexRecord, times []time.Time, positions [][]model.SolarPosition) ([]model.ShadowSample, error) {
	if len(positions) != len(records) {
		return nil, fmt.Errorf("%w: %d records, %d position rows", ErrLengthMismatch, len(records), len(positions))
	}
	out := make([]model.ShadowSample, 0, len(records)*len(times))
	for i, rec := range records {
		row := positions[i]
		if len(row) != len(times) {
			return nil, fmt.Errorf("%w: record %d has %d positions for %d timestamps",
				ErrLengthMismatch, i, len(row), len(times))
		}
		for _, pos := range row {
			out = append(out, Project(rec, pos))
		}
	}
	return out, nil
}
