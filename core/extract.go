package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/shadowcast/model"
)

// CoordinateTransformer maps source-frame x/y into WGS84 degrees.
type CoordinateTransformer interface {
	ToWGS84(x, y float64) (lat, lon float64)
}

// ExtractVertices flattens a building into ground-truth vertex records.
// The lowest z becomes the ground elevation of every record. A nil
// transformer treats X as longitude and Y as latitude.
func ExtractVertices(b model.Building, tr CoordinateTransformer) ([]model.VertexRecord, error) {
	if strings.TrimSpace(b.ID) == "" {
		return nil, ErrMissingBuildingID
	}
	if len(b.Vertices) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoVertices, b.ID)
	}

	ground := math.Inf(1)
	for _, v := range b.Vertices {
		if !finite(v.X) || !finite(v.Y) || !finite(v.Z) {
			return nil, fmt.Errorf("%w: building %q has a non-finite vertex", ErrInvalidInput, b.ID)
		}
		ground = math.Min(ground, v.Z)
	}

	out := make([]model.VertexRecord, 0, len(b.Vertices))
	for _, v := range b.Vertices {
		lat, lon := v.Y, v.X
		if tr != nil {
			lat, lon = tr.ToWGS84(v.X, v.Y)
		}
		out = append(out, model.VertexRecord{
			BuildingID:        b.ID,
			Latitude:          lat,
			Longitude:         lon,
			GroundElevation:   ground,
			HeightAboveGround: v.Z - ground,
		})
	}
	return out, nil
}

// MergeByID folds buildings sharing an identifier into one, in order of
// first appearance. Vertices are concatenated and the first name wins.
// Buildings with a blank identifier are passed through unmerged.
func MergeByID(buildings []model.Building) []model.Building {
	index := make(map[string]int, len(buildings))
	out := make([]model.Building, 0, len(buildings))
	for _, b := range buildings {
		if strings.TrimSpace(b.ID) == "" {
			out = append(out, b)
			continue
		}
		i, ok := index[b.ID]
		if !ok {
			index[b.ID] = len(out)
			b.Vertices = append([]model.Vertex3(nil), b.Vertices...)
			out = append(out, b)
			continue
		}
		out[i].Vertices = append(out[i].Vertices, b.Vertices...)
	}
	return out
}

// ExtractAll extracts every building after merging those that share an
// identifier, so each building ID gets a single ground elevation. Buildings
// that fail are skipped and reported individually; the others are returned
// in order of first appearance.
func ExtractAll(buildings []model.Building, tr CoordinateTransformer) ([]model.VertexRecord, []*BuildingError) {
	var (
		records  []model.VertexRecord
		failures []*BuildingError
	)
	for _, b := range MergeByID(buildings) {
		recs, err := ExtractVertices(b, tr)
		if err != nil {
			failures = append(failures, &BuildingError{BuildingID: b.ID, Err: err})
			continue
		}
		records = append(records, recs...)
	}
	return records, failures
}
