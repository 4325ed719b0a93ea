package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/shadowcast/internal/logging"
	"github.com/signalsfoundry/shadowcast/model"
)

type fakeRecorder struct {
	mu        sync.Mutex
	defined   int
	undefined int
	groups    int
	batches   map[string]int
	lookups   int64
}

func (f *fakeRecorder) ObserveSamples(defined, undefined int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defined += defined
	f.undefined += undefined
}

func (f *fakeRecorder) ObserveGroups(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups += n
}

func (f *fakeRecorder) ObserveBatch(status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batches == nil {
		f.batches = make(map[string]int)
	}
	f.batches[status]++
}

func (f *fakeRecorder) ObserveCache(hits, misses int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups += hits + misses
}

// box returns the ground and roof corners of an axis-aligned block.
func box(south, north, west, east, ground, roof float64) []model.Vertex3 {
	var out []model.Vertex3
	for _, z := range []float64{ground, roof} {
		out = append(out,
			model.Vertex3{X: west, Y: south, Z: z},
			model.Vertex3{X: east, Y: south, Z: z},
			model.Vertex3{X: east, Y: north, Z: z},
			model.Vertex3{X: west, Y: north, Z: z},
		)
	}
	return out
}

func pipelineFixture(t *testing.T, opts ...PipelineOption) *Pipeline {
	t.Helper()
	target, err := NewTargetFromPolygon(terrace)
	if err != nil {
		t.Fatalf("NewTargetFromPolygon: %v", err)
	}
	p, err := NewPipeline(NewSolarEngine(DefaultSolarConfig()), target, opts...)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

var pipelineTimes = []time.Time{
	time.Date(2023, 6, 21, 0, 0, 0, 0, time.UTC),
	time.Date(2023, 6, 21, 11, 30, 0, 0, time.UTC),
	time.Date(2023, 6, 21, 11, 40, 0, 0, time.UTC),
}

func TestNewPipelineRejectsNil(t *testing.T) {
	target, err := NewTargetFromPolygon(terrace)
	if err != nil {
		t.Fatalf("NewTargetFromPolygon: %v", err)
	}
	if _, err := NewPipeline(nil, target); err == nil {
		t.Fatalf("expected error for nil engine")
	}
	if _, err := NewPipeline(NewSolarEngine(DefaultSolarConfig()), nil); err == nil {
		t.Fatalf("expected error for nil target")
	}
}

func TestPipelineRun(t *testing.T) {
	rec := &fakeRecorder{}
	p := pipelineFixture(t, WithWorkers(2), WithMetrics(rec))

	buildings := []model.Building{
		// A 60 m block just south of the terrace shades it completely
		// around solar noon.
		{ID: "b-tower", Vertices: box(46.20270, 46.20275, 6.15165, 6.15190, 400, 460)},
		{ID: "broken"},
		{ID: "a-far", Vertices: box(46.21000, 46.21010, 6.16000, 6.16010, 380, 390)},
	}

	res, err := p.Run(context.Background(), buildings, pipelineTimes)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Failures) != 1 || res.Failures[0].BuildingID != "broken" {
		t.Fatalf("failures = %v", res.Failures)
	}
	if !errors.Is(res.Failures[0], ErrNoVertices) {
		t.Fatalf("failure cause = %v", res.Failures[0].Err)
	}

	if got, want := len(res.Shadows), (8+8)*len(pipelineTimes); got != want {
		t.Fatalf("shadows = %d, want %d", got, want)
	}
	if res.Stats.Undefined != 16 {
		t.Fatalf("undefined = %d, want 16", res.Stats.Undefined)
	}
	if res.Stats.Buildings != 3 || res.Stats.Failed != 1 || res.Stats.Vertices != 16 {
		t.Fatalf("stats = %+v", res.Stats)
	}

	// Night groups produce nothing; two buildings at two daytime instants.
	if len(res.Intersections) != 4 {
		t.Fatalf("intersections = %d, want 4", len(res.Intersections))
	}
	wantOrder := []struct {
		at time.Time
		id string
	}{
		{pipelineTimes[1], "a-far"},
		{pipelineTimes[1], "b-tower"},
		{pipelineTimes[2], "a-far"},
		{pipelineTimes[2], "b-tower"},
	}
	for i, w := range wantOrder {
		got := res.Intersections[i]
		if !got.Time.Equal(w.at) || got.BuildingID != w.id {
			t.Fatalf("intersection %d = %v/%s, want %v/%s", i, got.Time, got.BuildingID, w.at, w.id)
		}
		switch got.BuildingID {
		case "a-far":
			if got.Ratio != 0 {
				t.Fatalf("distant building ratio = %v", got.Ratio)
			}
		case "b-tower":
			if got.Ratio < 0.99 || got.Ratio > 1 {
				t.Fatalf("tower ratio = %v", got.Ratio)
			}
		}
		if got.Points != 8 {
			t.Fatalf("points = %d, want 8", got.Points)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.batches[BatchOK] != 2 || rec.batches[BatchFailed] != 1 {
		t.Fatalf("batches = %v", rec.batches)
	}
	if rec.defined != 32 || rec.undefined != 16 || rec.groups != 4 {
		t.Fatalf("recorder = %+v", rec)
	}
	if rec.lookups == 0 {
		t.Fatalf("cache lookups not reported")
	}
}

func TestPipelineRunDuplicateIDs(t *testing.T) {
	p := pipelineFixture(t)
	// A building and a building part carrying the same EGID.
	buildings := []model.Building{
		{ID: "A", Name: "hall", Vertices: box(46.20270, 46.20275, 6.15165, 6.15190, 400, 460)},
		{ID: "A", Name: "annex", Vertices: box(46.20265, 46.20270, 6.15170, 6.15180, 420, 440)},
	}
	at := pipelineTimes[1:2]

	res, err := p.Run(context.Background(), buildings, at)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stats.Buildings != 1 || len(res.Failures) != 0 {
		t.Fatalf("stats = %+v, failures = %v", res.Stats, res.Failures)
	}
	if len(res.Intersections) != 1 {
		t.Fatalf("intersections for one (time, building) = %d, want 1", len(res.Intersections))
	}
	if got := res.Intersections[0].Points; got != 16 {
		t.Fatalf("points = %d, want 16", got)
	}

	// Heights are measured from the lowest vertex of the merged building.
	minHeight, maxHeight := math.Inf(1), math.Inf(-1)
	for _, s := range res.Shadows {
		minHeight = math.Min(minHeight, s.HeightAboveGround)
		maxHeight = math.Max(maxHeight, s.HeightAboveGround)
	}
	if minHeight != 0 || maxHeight != 60 {
		t.Fatalf("height range = [%v, %v], want [0, 60]", minHeight, maxHeight)
	}

	records, failures := ExtractAll(buildings, nil)
	if len(failures) != 0 {
		t.Fatalf("ExtractAll failures = %v", failures)
	}
	viaRecords, err := p.RunRecords(context.Background(), records, at)
	if err != nil {
		t.Fatalf("RunRecords: %v", err)
	}
	if len(viaRecords.Intersections) != 1 || viaRecords.Intersections[0].Ratio != res.Intersections[0].Ratio {
		t.Fatalf("Run and RunRecords disagree: %+v vs %+v", res.Intersections, viaRecords.Intersections)
	}
}

func TestPipelineRunCancelled(t *testing.T) {
	p := pipelineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	buildings := []model.Building{{ID: "x", Vertices: box(46.2, 46.3, 6.1, 6.2, 0, 10)}}
	if _, err := p.Run(ctx, buildings, pipelineTimes); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPipelineRunRecords(t *testing.T) {
	p := pipelineFixture(t)
	records := []model.VertexRecord{
		{BuildingID: "ok", Latitude: 46.2027, Longitude: 6.1517, GroundElevation: 400, HeightAboveGround: 0},
		{BuildingID: "neg", Latitude: 46.2027, Longitude: 6.1517, GroundElevation: 400, HeightAboveGround: -1},
		{BuildingID: "ok", Latitude: 46.2027, Longitude: 6.1518, GroundElevation: 400, HeightAboveGround: 12},
		{BuildingID: "ok", Latitude: 46.2028, Longitude: 6.1518, GroundElevation: 400, HeightAboveGround: 12},
	}
	res, err := p.RunRecords(context.Background(), records, pipelineTimes[1:])
	if err != nil {
		t.Fatalf("RunRecords: %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].BuildingID != "neg" || !IsInputError(res.Failures[0]) {
		t.Fatalf("failures = %v", res.Failures)
	}
	if len(res.Shadows) != 6 {
		t.Fatalf("shadows = %d, want 6", len(res.Shadows))
	}
	for _, r := range res.Intersections {
		if r.BuildingID != "ok" || r.Ratio < 0 || r.Ratio > 1 {
			t.Fatalf("unexpected intersection %+v", r)
		}
	}
}

func TestNaNFractions(t *testing.T) {
	samples := []model.ShadowSample{
		{ShadowLength: math.NaN()},
		{ShadowLength: 1},
		{ShadowLength: math.NaN(), ShadowBearing: math.NaN()},
		{},
	}
	got := nanFractions(samples)
	want := map[string]float64{"elevation": 0, "azimuth": 0, "shadow_bearing": 0.25, "shadow_length": 0.5}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %v, want %v", k, got[k], v)
		}
	}
	if empty := nanFractions(nil); len(empty) != 4 || empty["elevation"] != 0 {
		t.Fatalf("empty fractions = %v", empty)
	}
}

func TestPipelineSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	p := pipelineFixture(t, WithTracer(tp.Tracer("test")))

	buildings := []model.Building{
		{ID: "a", Vertices: box(46.2, 46.3, 6.1, 6.2, 0, 10)},
		{ID: "b", Vertices: box(46.2, 46.3, 6.1, 6.2, 0, 10)},
	}
	buildings = append(buildings, model.Building{ID: "c"})
	ctx := logging.ContextWithRunID(context.Background(), "run-42")
	if _, err := p.Run(ctx, buildings, pipelineTimes); err != nil {
		t.Fatalf("Run: %v", err)
	}

	counts := make(map[string]int)
	status := make(map[string]string)
	for _, span := range sr.Ended() {
		counts[span.Name()]++
		attrs := spanAttrs(span.Attributes())
		switch span.Name() {
		case "pipeline.run":
			if attrs["run_id"].AsString() != "run-42" {
				t.Fatalf("run span attributes = %v", span.Attributes())
			}
		case "pipeline.building":
			id := attrs["building_id"].AsString()
			status[id] = attrs["status"].AsString()
			if id == "a" && (attrs["vertices"].AsInt64() != 8 || attrs["samples"].AsInt64() != 24) {
				t.Fatalf("building span attributes = %v", span.Attributes())
			}
		}
	}
	if counts["pipeline.run"] != 1 || counts["pipeline.building"] != 3 {
		t.Fatalf("spans = %v", counts)
	}
	if status["a"] != BatchOK || status["b"] != BatchOK || status["c"] != BatchFailed {
		t.Fatalf("span status = %v", status)
	}
}

func spanAttrs(kvs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}
