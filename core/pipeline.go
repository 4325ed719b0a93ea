package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/shadowcast/internal/logging"
	"github.com/signalsfoundry/shadowcast/model"
)

const tracerName = "github.com/signalsfoundry/shadowcast/core"

// Batch status labels passed to Recorder.ObserveBatch.
const (
	BatchOK     = "ok"
	BatchFailed = "failed"
)

// Recorder receives pipeline counters. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveSamples(defined, undefined int)
	ObserveGroups(n int)
	ObserveBatch(status string, d time.Duration)
	ObserveCache(hits, misses int64)
}

// Stats summarises one run. NaNFraction reports, per output column, the
// share of shadow rows holding NaN.
type Stats struct {
	Buildings   int
	Failed      int
	Vertices    int
	Samples     int
	Undefined   int
	Groups      int
	NaNFraction map[string]float64
}

// Result is the output of a pipeline run.
type Result struct {
	Shadows       []model.ShadowSample
	Intersections []model.IntersectionResult
	Failures      []*BuildingError
	Stats         Stats
}

// Pipeline turns building vertices and a timestamp grid into shadow
// samples and per-building intersection ratios against one target.
type Pipeline struct {
	engine      *SolarEngine
	target      *Target
	transformer CoordinateTransformer
	workers     int

	log     logging.Logger
	metrics Recorder
	tracer  trace.Tracer
}

// PipelineOption customises Pipeline construction.
type PipelineOption func(*Pipeline)

// WithWorkers bounds the number of buildings processed concurrently.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithTransformer sets the source CRS transformer used when extracting
// vertices from buildings.
func WithTransformer(tr CoordinateTransformer) PipelineOption {
	return func(p *Pipeline) {
		p.transformer = tr
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r Recorder) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = r
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) PipelineOption {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// NewPipeline wires an engine and a validated target.
func NewPipeline(engine *SolarEngine, target *Target, opts ...PipelineOption) (*Pipeline, error) {
	if engine == nil {
		return nil, errors.New("pipeline: solar engine is nil")
	}
	if target == nil {
		return nil, errors.New("pipeline: target is nil")
	}
	p := &Pipeline{
		engine:  engine,
		target:  target,
		workers: runtime.NumCPU(),
		log:     logging.Noop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

type batch struct {
	id       string
	building *model.Building
	records  []model.VertexRecord
}

type batchResult struct {
	shadows       []model.ShadowSample
	intersections []model.IntersectionResult
	groups        int
	vertices      int
	failure       *BuildingError
}

// Run extracts the vertices of every building and processes one batch per
// building ID; entries sharing an ID are merged first. A building that
// fails is recorded in Result.Failures and does not stop the others;
// cancelling ctx does.
func (p *Pipeline) Run(ctx context.Context, buildings []model.Building, times []time.Time) (*Result, error) {
	merged := MergeByID(buildings)
	batches := make([]batch, len(merged))
	for i := range merged {
		batches[i] = batch{id: merged[i].ID, building: &merged[i]}
	}
	return p.run(ctx, batches, times)
}

// RunRecords processes vertex records that were extracted elsewhere,
// partitioned by building ID in order of first appearance.
func (p *Pipeline) RunRecords(ctx context.Context, records []model.VertexRecord, times []time.Time) (*Result, error) {
	index := make(map[string]int)
	var batches []batch
	for _, rec := range records {
		i, ok := index[rec.BuildingID]
		if !ok {
			i = len(batches)
			index[rec.BuildingID] = i
			batches = append(batches, batch{id: rec.BuildingID})
		}
		batches[i].records = append(batches[i].records, rec)
	}
	return p.run(ctx, batches, times)
}

func (p *Pipeline) run(ctx context.Context, batches []batch, times []time.Time) (*Result, error) {
	attrs := []attribute.KeyValue{
		attribute.Int("buildings", len(batches)),
		attribute.Int("timestamps", len(times)),
		attribute.Int("workers", p.workers),
	}
	if id := logging.RunIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("run_id", id))
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attrs...))
	defer span.End()

	p.log.Info(ctx, "pipeline started",
		logging.Int("buildings", len(batches)),
		logging.Int("timestamps", len(times)),
		logging.Int("workers", p.workers),
	)

	cache := NewPositionCache(p.engine, times)
	results := make([]batchResult, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range batches {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.runBatch(gctx, batches[i], times, cache)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	res := assemble(results)
	res.Stats.Buildings = len(batches)

	hits, misses := cache.Stats()
	if p.metrics != nil {
		p.metrics.ObserveCache(hits, misses)
	}

	span.SetAttributes(
		attribute.Int("samples", res.Stats.Samples),
		attribute.Int("groups", res.Stats.Groups),
		attribute.Int("failed", res.Stats.Failed),
	)
	p.log.Info(ctx, "pipeline finished",
		logging.Int("samples", res.Stats.Samples),
		logging.Int("undefined", res.Stats.Undefined),
		logging.Int("groups", res.Stats.Groups),
		logging.Int("failed", res.Stats.Failed),
		logging.Any("cache_hits", hits),
		logging.Any("cache_misses", misses),
	)
	for col, frac := range res.Stats.NaNFraction {
		p.log.Debug(ctx, "nan fraction", logging.String("column", col), logging.Any("fraction", frac))
	}
	return res, nil
}

func (p *Pipeline) runBatch(ctx context.Context, b batch, times []time.Time, cache *PositionCache) batchResult {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.building", trace.WithAttributes(attribute.String("building_id", b.id)))
	defer span.End()

	out, err := p.scoreBatch(b, times, cache)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("status", BatchFailed), attribute.Bool("input_error", IsInputError(err)))
		p.log.Warn(ctx, "building skipped", logging.String("building_id", b.id), logging.String("error", err.Error()))
		if p.metrics != nil {
			p.metrics.ObserveBatch(BatchFailed, time.Since(start))
		}
		return batchResult{failure: &BuildingError{BuildingID: b.id, Err: err}}
	}

	undefined := 0
	for i := range out.shadows {
		if out.shadows[i].Undefined {
			undefined++
		}
	}
	span.SetAttributes(
		attribute.String("status", BatchOK),
		attribute.Int("vertices", out.vertices),
		attribute.Int("samples", len(out.shadows)),
		attribute.Int("undefined", undefined),
		attribute.Int("groups", out.groups),
	)
	if p.metrics != nil {
		p.metrics.ObserveSamples(len(out.shadows)-undefined, undefined)
		p.metrics.ObserveGroups(len(out.intersections))
		p.metrics.ObserveBatch(BatchOK, time.Since(start))
	}
	return out
}

func (p *Pipeline) scoreBatch(b batch, times []time.Time, cache *PositionCache) (batchResult, error) {
	records := b.records
	if b.building != nil {
		recs, err := ExtractVertices(*b.building, p.transformer)
		if err != nil {
			return batchResult{}, err
		}
		records = recs
	}
	if len(records) == 0 {
		return batchResult{}, fmt.Errorf("%w: %q", ErrNoVertices, b.id)
	}

	shadows := make([]model.ShadowSample, 0, len(records)*len(times))
	for _, rec := range records {
		if rec.BuildingID != b.id {
			return batchResult{}, fmt.Errorf("%w: record of %q in batch %q", ErrInvalidInput, rec.BuildingID, b.id)
		}
		if rec.HeightAboveGround < 0 {
			return batchResult{}, fmt.Errorf("%w: negative height above ground %.3f", ErrInvalidInput, rec.HeightAboveGround)
		}
		positions, _ := cache.Get(Location{
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			Altitude:  rec.GroundElevation,
		})
		for _, pos := range positions {
			shadows = append(shadows, Project(rec, pos))
		}
	}

	// Every vertex of the building is projected; groups are complete.
	groups := GroupShadows(shadows)
	return batchResult{
		shadows:       shadows,
		intersections: ScoreGroups(p.target, groups),
		groups:        len(groups),
		vertices:      len(records),
	}, nil
}

func assemble(results []batchResult) *Result {
	res := &Result{}
	for _, r := range results {
		if r.failure != nil {
			res.Failures = append(res.Failures, r.failure)
			continue
		}
		res.Shadows = append(res.Shadows, r.shadows...)
		res.Intersections = append(res.Intersections, r.intersections...)
		res.Stats.Vertices += r.vertices
	}
	sort.SliceStable(res.Intersections, func(i, j int) bool {
		a, b := res.Intersections[i], res.Intersections[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.BuildingID < b.BuildingID
	})

	res.Stats.Failed = len(res.Failures)
	res.Stats.Samples = len(res.Shadows)
	res.Stats.Groups = len(res.Intersections)
	res.Stats.NaNFraction = nanFractions(res.Shadows)
	for i := range res.Shadows {
		if res.Shadows[i].Undefined {
			res.Stats.Undefined++
		}
	}
	return res
}

func nanFractions(samples []model.ShadowSample) map[string]float64 {
	cols := map[string]float64{
		"elevation":      0,
		"azimuth":        0,
		"shadow_bearing": 0,
		"shadow_length":  0,
	}
	if len(samples) == 0 {
		return cols
	}
	for _, s := range samples {
		if math.IsNaN(s.Elevation) {
			cols["elevation"]++
		}
		if math.IsNaN(s.Azimuth) {
			cols["azimuth"]++
		}
		if math.IsNaN(s.ShadowBearing) {
			cols["shadow_bearing"]++
		}
		if math.IsNaN(s.ShadowLength) {
			cols["shadow_length"]++
		}
	}
	n := float64(len(samples))
	for k := range cols {
		cols[k] /= n
	}
	return cols
}
