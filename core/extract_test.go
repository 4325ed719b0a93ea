package core

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/shadowcast/model"
)

type shiftTransformer struct{ dLat, dLon float64 }

func (s shiftTransformer) ToWGS84(x, y float64) (float64, float64) {
	return y + s.dLat, x + s.dLon
}

func TestExtractVerticesHeights(t *testing.T) {
	b := model.Building{ID: "1001", Vertices: []model.Vertex3{
		{X: 6.15, Y: 46.20, Z: 390},
		{X: 6.16, Y: 46.20, Z: 386},
		{X: 6.16, Y: 46.21, Z: 404},
	}}
	recs, err := ExtractVertices(b, nil)
	if err != nil {
		t.Fatalf("ExtractVertices: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records", len(recs))
	}
	wantHeights := []float64{4, 0, 18}
	for i, r := range recs {
		if r.GroundElevation != 386 {
			t.Fatalf("record %d ground = %v", i, r.GroundElevation)
		}
		if math.Abs(r.HeightAboveGround-wantHeights[i]) > 1e-9 || r.HeightAboveGround < 0 {
			t.Fatalf("record %d height = %v, want %v", i, r.HeightAboveGround, wantHeights[i])
		}
		if r.BuildingID != "1001" {
			t.Fatalf("record %d building = %q", i, r.BuildingID)
		}
	}
	if recs[0].Latitude != 46.20 || recs[0].Longitude != 6.15 {
		t.Fatalf("identity mapping swapped axes: %+v", recs[0])
	}
}

func TestExtractVerticesUsesTransformer(t *testing.T) {
	b := model.Building{ID: "x", Vertices: []model.Vertex3{{X: 1, Y: 2, Z: 0}}}
	recs, err := ExtractVertices(b, shiftTransformer{dLat: 44, dLon: 5})
	if err != nil {
		t.Fatalf("ExtractVertices: %v", err)
	}
	if recs[0].Latitude != 46 || recs[0].Longitude != 6 {
		t.Fatalf("transformed record = %+v", recs[0])
	}
}

func TestExtractVerticesErrors(t *testing.T) {
	tests := []struct {
		name string
		b    model.Building
		want error
	}{
		{"missing id", model.Building{Vertices: []model.Vertex3{{}}}, ErrMissingBuildingID},
		{"blank id", model.Building{ID: "  ", Vertices: []model.Vertex3{{}}}, ErrMissingBuildingID},
		{"no vertices", model.Building{ID: "a"}, ErrNoVertices},
		{"nan vertex", model.Building{ID: "a", Vertices: []model.Vertex3{{Z: math.NaN()}}}, ErrInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ExtractVertices(tc.b, nil)
			if !errors.Is(err, tc.want) || !IsInputError(err) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestExtractAllReportsPerBuilding(t *testing.T) {
	buildings := []model.Building{
		{ID: "a", Vertices: []model.Vertex3{{X: 6, Y: 46, Z: 1}, {X: 6, Y: 46, Z: 3}}},
		{ID: "b"},
		{ID: "c", Vertices: []model.Vertex3{{X: 7, Y: 47, Z: 0}}},
	}
	recs, failures := ExtractAll(buildings, nil)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[2].BuildingID != "c" {
		t.Fatalf("order lost: %+v", recs)
	}
	if len(failures) != 1 || failures[0].BuildingID != "b" {
		t.Fatalf("failures = %v", failures)
	}
	if !errors.Is(failures[0], ErrNoVertices) {
		t.Fatalf("failure does not unwrap: %v", failures[0])
	}
}

func TestExtractAllMergesSharedIDs(t *testing.T) {
	buildings := []model.Building{
		{ID: "A", Vertices: []model.Vertex3{{X: 6, Y: 46, Z: 400}, {X: 6, Y: 46, Z: 460}}},
		{ID: "B", Vertices: []model.Vertex3{{X: 7, Y: 47, Z: 10}}},
		{ID: "A", Vertices: []model.Vertex3{{X: 6.1, Y: 46, Z: 420}, {X: 6.1, Y: 46, Z: 440}}},
	}
	recs, failures := ExtractAll(buildings, nil)
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}
	if len(recs) != 5 {
		t.Fatalf("got %d records, want 5", len(recs))
	}

	grounds := map[float64]bool{}
	var heights []float64
	for _, r := range recs {
		if r.BuildingID != "A" {
			continue
		}
		grounds[r.GroundElevation] = true
		heights = append(heights, r.HeightAboveGround)
	}
	if len(grounds) != 1 || !grounds[400] {
		t.Fatalf("ground elevations for A = %v, want only 400", grounds)
	}
	want := []float64{0, 60, 20, 40}
	for i := range want {
		if heights[i] != want[i] {
			t.Fatalf("heights = %v, want %v", heights, want)
		}
	}
	if recs[4].BuildingID != "B" {
		t.Fatalf("order of first appearance lost: %+v", recs)
	}
}

func TestMergeByIDKeepsInputIntact(t *testing.T) {
	first := []model.Vertex3{{X: 1, Y: 1, Z: 1}}
	buildings := []model.Building{
		{ID: "A", Name: "main", Vertices: first},
		{ID: "", Vertices: []model.Vertex3{{X: 2, Y: 2, Z: 2}}},
		{ID: "A", Name: "part", Vertices: []model.Vertex3{{X: 3, Y: 3, Z: 3}}},
		{ID: ""},
	}
	merged := MergeByID(buildings)
	if len(merged) != 3 {
		t.Fatalf("got %d buildings, want 3", len(merged))
	}
	if merged[0].Name != "main" || len(merged[0].Vertices) != 2 {
		t.Fatalf("merged A = %+v", merged[0])
	}
	if len(first) != 1 || len(buildings[0].Vertices) != 1 {
		t.Fatalf("input vertices modified")
	}
	if merged[1].ID != "" || merged[2].ID != "" {
		t.Fatalf("blank identifiers merged: %+v", merged)
	}
}
