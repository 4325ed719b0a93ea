package core

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/signalsfoundry/shadowcast/model"
)

// minPlanarArea is the smallest target area accepted, in square projected
// metres.
const minPlanarArea = 1e-6

// minHullFill is the smallest hull area, relative to the squared diagonal
// of its bounding box, that still counts as spanning an area. s2 returns a
// hair-thin loop rather than a segment for collinear points.
const minHullFill = 1e-6

// Target is a validated reference footprint, pre-projected into the planar
// frame used for overlap scoring.
type Target struct {
	corners []model.GeoPoint
	ring    orb.Ring // projected, closed, counter-clockwise
	area    float64
}

// NewTarget validates the footprint. The corners must trace a simple
// polygon with a non-zero area.
func NewTarget(corners []model.GeoPoint) (*Target, error) {
	if len(corners) < 3 {
		return nil, fmt.Errorf("%w: got %d corners", ErrTooFewPoints, len(corners))
	}
	for i, c := range corners {
		if !finite(c.Lat) || !finite(c.Lon) {
			return nil, fmt.Errorf("%w: corner %d is not finite", ErrInvalidInput, i)
		}
	}
	if n := len(distinct(corners)); n < 3 {
		return nil, fmt.Errorf("%w: only %d distinct corners", ErrDegenerateTarget, n)
	}

	ring := projectRing(corners)
	area := ringArea(ring)
	if area <= minPlanarArea {
		return nil, fmt.Errorf("%w: area %.3g", ErrDegenerateTarget, area)
	}
	if i, j, ok := selfIntersection(ring); ok {
		return nil, fmt.Errorf("%w: edges %d and %d cross", ErrSelfIntersectingTarget, i, j)
	}
	if ring.Orientation() != orb.CCW {
		ring.Reverse()
	}

	return &Target{
		corners: append([]model.GeoPoint(nil), corners...),
		ring:    ring,
		area:    area,
	}, nil
}

// NewTargetFromPolygon validates a NW/NE/SE/SW footprint.
func NewTargetFromPolygon(p model.TargetPolygon) (*Target, error) {
	return NewTarget(p.Corners())
}

// Corners returns the target corners in their original order.
func (t *Target) Corners() []model.GeoPoint {
	return append([]model.GeoPoint(nil), t.corners...)
}

// Area returns the target area in the planar frame.
func (t *Target) Area() float64 { return t.area }

// IntersectionRatio returns the share of the target covered by the convex
// hull of points, in [0, 1]. Non-finite points are ignored and fewer than
// three distinct points cover nothing.
func (t *Target) IntersectionRatio(points []model.GeoPoint) float64 {
	hull := t.projectedHull(points)
	if !spansArea(hull) {
		return 0
	}
	clipped := clipToConvex(t.ring, hull)
	if len(clipped) < 3 {
		return 0
	}
	return clamp01(ringArea(closeRing(clipped)) / t.area)
}

// ShadowHull returns the convex hull of points as a closed lon/lat ring, or
// nil when the points do not span an area.
func (t *Target) ShadowHull(points []model.GeoPoint) orb.Ring {
	loop := hullLoop(points)
	if loop == nil || loop.NumVertices() < 3 {
		return nil
	}
	ring := make(orb.Ring, 0, loop.NumVertices()+1)
	for _, v := range loop.Vertices() {
		ll := s2.LatLngFromPoint(v)
		ring = append(ring, orb.Point{ll.Lng.Degrees(), ll.Lat.Degrees()})
	}
	ring = closeRing(ring)
	if !spansArea(ring) {
		return nil
	}
	return ring
}

// IntersectionRatio validates target and scores points against it.
func IntersectionRatio(points, target []model.GeoPoint) (float64, error) {
	t, err := NewTarget(target)
	if err != nil {
		return 0, err
	}
	return t.IntersectionRatio(points), nil
}

func (t *Target) projectedHull(points []model.GeoPoint) orb.Ring {
	loop := hullLoop(points)
	if loop == nil {
		return nil
	}
	if loop.IsFull() {
		// Points spread over a hemisphere; the target is trivially covered.
		return closeRing(t.ring.Clone())
	}
	if loop.NumVertices() < 3 {
		return nil
	}
	ring := make(orb.Ring, 0, loop.NumVertices()+1)
	for _, v := range loop.Vertices() {
		ll := s2.LatLngFromPoint(v)
		ring = append(ring, project.WGS84.ToMercator(orb.Point{ll.Lng.Degrees(), ll.Lat.Degrees()}))
	}
	ring = closeRing(ring)
	if ring.Orientation() != orb.CCW {
		ring.Reverse()
	}
	return ring
}

// hullLoop builds the spherical convex hull of the finite, distinct points.
func hullLoop(points []model.GeoPoint) *s2.Loop {
	finitePts := make([]model.GeoPoint, 0, len(points))
	for _, p := range points {
		if finite(p.Lat) && finite(p.Lon) {
			finitePts = append(finitePts, p)
		}
	}
	uniq := distinct(finitePts)
	if len(uniq) < 3 {
		return nil
	}
	q := s2.NewConvexHullQuery()
	for _, p := range uniq {
		q.AddPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon)))
	}
	return q.ConvexHull()
}

func projectRing(points []model.GeoPoint) orb.Ring {
	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, project.WGS84.ToMercator(orb.Point{p.Lon, p.Lat}))
	}
	return closeRing(ring)
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

func ringArea(r orb.Ring) float64 {
	return math.Abs(planar.Area(r))
}

// spansArea reports whether a closed ring is more than a degenerate sliver.
func spansArea(r orb.Ring) bool {
	if len(r) < 4 {
		return false
	}
	b := r.Bound()
	dx, dy := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	diag2 := dx*dx + dy*dy
	return diag2 > 0 && ringArea(r) > minHullFill*diag2
}

// clipToConvex clips subject by a convex, counter-clockwise clipper
// (Sutherland-Hodgman). Both rings are closed; the result is open.
func clipToConvex(subject, clipper orb.Ring) []orb.Point {
	output := append([]orb.Point(nil), subject[:len(subject)-1]...)
	edges := len(clipper) - 1
	for i := 0; i < edges; i++ {
		if len(output) == 0 {
			return nil
		}
		a, b := clipper[i], clipper[i+1]
		input := output
		output = make([]orb.Point, 0, len(input)+2)
		for j := range input {
			cur := input[j]
			next := input[(j+1)%len(input)]
			curIn := cross(a, b, cur) >= 0
			nextIn := cross(a, b, next) >= 0
			switch {
			case curIn && nextIn:
				output = append(output, next)
			case curIn && !nextIn:
				if p, ok := lineIntersection(cur, next, a, b); ok {
					output = append(output, p)
				}
			case !curIn && nextIn:
				if p, ok := lineIntersection(cur, next, a, b); ok {
					output = append(output, p)
				}
				output = append(output, next)
			}
		}
	}
	return output
}

// cross is the z component of (b-a) x (p-a); positive when p is left of ab.
func cross(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

// lineIntersection intersects segment pq with the infinite line ab.
func lineIntersection(p, q, a, b orb.Point) (orb.Point, bool) {
	d1 := cross(a, b, p)
	d2 := cross(a, b, q)
	den := d1 - d2
	if den == 0 {
		return orb.Point{}, false
	}
	t := d1 / den
	return orb.Point{p[0] + t*(q[0]-p[0]), p[1] + t*(q[1]-p[1])}, true
}

// selfIntersection reports the first pair of non-adjacent edges of the
// closed ring that touch or cross.
func selfIntersection(r orb.Ring) (int, int, bool) {
	n := len(r) - 1
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(r[i], r[i+1], r[j], r[j+1]) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(p3, p4, p1):
		return true
	case d2 == 0 && onSegment(p3, p4, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, p3):
		return true
	case d4 == 0 && onSegment(p1, p2, p4):
		return true
	}
	return false
}

// onSegment reports whether collinear point p lies within the box of ab.
func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

func distinct(points []model.GeoPoint) []model.GeoPoint {
	seen := make(map[model.GeoPoint]struct{}, len(points))
	out := make([]model.GeoPoint, 0, len(points))
	for _, p := range points {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// ShadowGroup collects the shadow tips of one building at one instant.
type ShadowGroup struct {
	Time       time.Time
	BuildingID string
	Tips       []model.GeoPoint
	Undefined  int
}

type groupKey struct {
	instant    int64
	buildingID string
}

// GroupShadows groups samples by exact instant and building. Undefined
// samples are counted but contribute no tip. Groups are ordered by time,
// then building.
func GroupShadows(samples []model.ShadowSample) []ShadowGroup {
	index := make(map[groupKey]int)
	var groups []ShadowGroup
	for _, s := range samples {
		key := groupKey{instant: s.Time.UnixNano(), buildingID: s.BuildingID}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, ShadowGroup{Time: s.Time, BuildingID: s.BuildingID})
		}
		if s.Undefined {
			groups[i].Undefined++
			continue
		}
		groups[i].Tips = append(groups[i].Tips, model.GeoPoint{Lat: s.TipLatitude, Lon: s.TipLongitude})
	}
	sort.Slice(groups, func(a, b int) bool {
		if !groups[a].Time.Equal(groups[b].Time) {
			return groups[a].Time.Before(groups[b].Time)
		}
		return groups[a].BuildingID < groups[b].BuildingID
	})
	return groups
}

// ScoreGroups scores every group with at least one defined tip. Groups in
// which the sun is down for every vertex produce no result.
func ScoreGroups(t *Target, groups []ShadowGroup) []model.IntersectionResult {
	out := make([]model.IntersectionResult, 0, len(groups))
	for _, g := range groups {
		if len(g.Tips) == 0 {
			continue
		}
		out = append(out, model.IntersectionResult{
			Time:       g.Time,
			BuildingID: g.BuildingID,
			Ratio:      t.IntersectionRatio(g.Tips),
			Points:     len(g.Tips),
		})
	}
	return out
}
