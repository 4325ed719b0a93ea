package core

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/signalsfoundry/shadowcast/model"
)

// Vec3 is a vector in a local east/north/up frame, metres.
type Vec3 struct {
	X, Y, Z float64
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// SunDirection returns the unit vector pointing at the sun.
func SunDirection(azimuth, elevation float64) Vec3 {
	sinAz, cosAz := math.Sincos(azimuth * deg2rad)
	sinEl, cosEl := math.Sincos(elevation * deg2rad)
	v := Vec3{X: cosEl * sinAz, Y: cosEl * cosAz, Z: sinEl}
	n := v.Norm()
	if n == 0 {
		return v
	}
	return Vec3{X: v.X / n, Y: v.Y / n, Z: v.Z / n}
}

// Prism is a footprint extruded from the ground to Height metres.
type Prism struct {
	Footprint []model.GeoPoint
	Height    float64
}

// IsSunlit casts a ray from observer, raised by observerHeight metres,
// towards the sun and reports whether it escapes the prism. A sun at or
// below the horizon never lights the observer.
func IsSunlit(observer model.GeoPoint, observerHeight float64, sun Vec3, prism Prism) bool {
	if sun.Z <= 0 {
		return false
	}
	if observerHeight >= prism.Height || len(prism.Footprint) < 3 {
		return true
	}

	ring := make(orb.Ring, 0, len(prism.Footprint)+1)
	for _, p := range prism.Footprint {
		e, n := toENU(observer, p)
		ring = append(ring, orb.Point{e, n})
	}
	ring = closeRing(ring)

	// The ray leaves the prism's height band after travelling tMax.
	tMax := (prism.Height - observerHeight) / sun.Z
	start := orb.Point{0, 0}
	end := orb.Point{sun.X * tMax, sun.Y * tMax}

	if planar.RingContains(ring, start) || planar.RingContains(ring, end) {
		return false
	}
	for i := 0; i < len(ring)-1; i++ {
		if segmentsIntersect(start, end, ring[i], ring[i+1]) {
			return false
		}
	}
	return true
}

// ShadowAdjustedLastSunlit walks backwards over the positions above the
// evening threshold and returns the last one at which the observer is not
// shadowed by the prism.
func ShadowAdjustedLastSunlit(positions []model.SolarPosition, observer model.GeoPoint, observerHeight float64, prism Prism, evening float64) (time.Time, bool) {
	for i := len(positions) - 1; i >= 0; i-- {
		p := positions[i]
		if !(p.Elevation > evening) {
			continue
		}
		if IsSunlit(observer, observerHeight, SunDirection(p.Azimuth, p.Elevation), prism) {
			return p.Time, true
		}
	}
	return time.Time{}, false
}

// BuildingFromTarget places a rectangular building whose north-east ground
// corner touches the target's NW corner. It extends length metres south and
// width metres west, rotated with the target's north edge.
func BuildingFromTarget(t model.TargetPolygon, length, width, height float64) Prism {
	origin := t.NW
	ne, nn := toENU(origin, t.NE)
	angle := math.Atan2(nn, ne)
	sinA, cosA := math.Sincos(angle)

	local := [][2]float64{
		{0, 0},
		{0, -length},
		{-width, -length},
		{-width, 0},
	}
	footprint := make([]model.GeoPoint, 0, len(local))
	for _, p := range local {
		e := p[0]*cosA - p[1]*sinA
		n := p[0]*sinA + p[1]*cosA
		footprint = append(footprint, fromENU(origin, e, n))
	}
	return Prism{Footprint: footprint, Height: height}
}

// toENU projects p onto the tangent plane at origin (equirectangular).
func toENU(origin, p model.GeoPoint) (east, north float64) {
	cosLat := math.Cos(origin.Lat * deg2rad)
	east = (p.Lon - origin.Lon) * deg2rad * EarthRadiusM * cosLat
	north = (p.Lat - origin.Lat) * deg2rad * EarthRadiusM
	return east, north
}

func fromENU(origin model.GeoPoint, east, north float64) model.GeoPoint {
	cosLat := math.Cos(origin.Lat * deg2rad)
	return model.GeoPoint{
		Lat: origin.Lat + north/EarthRadiusM*rad2deg,
		Lon: origin.Lon + east/(EarthRadiusM*cosLat)*rad2deg,
	}
}
