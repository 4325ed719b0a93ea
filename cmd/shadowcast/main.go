package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/shadowcast/core"
	"github.com/signalsfoundry/shadowcast/internal/cityjson"
	"github.com/signalsfoundry/shadowcast/internal/config"
	"github.com/signalsfoundry/shadowcast/internal/crs"
	"github.com/signalsfoundry/shadowcast/internal/export"
	"github.com/signalsfoundry/shadowcast/internal/logging"
	"github.com/signalsfoundry/shadowcast/internal/observability"
	"github.com/signalsfoundry/shadowcast/internal/store"
	"github.com/signalsfoundry/shadowcast/kb"
	"github.com/signalsfoundry/shadowcast/model"
	"github.com/signalsfoundry/shadowcast/timectrl"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (defaults to $SHADOWCAST_CONFIG or ./shadowcast.yaml)")
	date := flag.String("date", "", "analysis date YYYY-MM-DD in the configured timezone (defaults to today)")
	step := flag.Duration("step", 0, "sampling step, overrides the configured step")
	input := flag.String("input", "", "CityJSON building model, overrides input.path")
	workers := flag.Int("workers", 0, "buildings processed concurrently, overrides the configured value")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(cfg, *date, *step, *input, *workers); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, log = logging.WithRunLogger(ctx, log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "shadow analysis failed", logging.Err(err))
		os.Exit(1)
	}
}

// applyFlags overlays non-zero flag values and revalidates.
func applyFlags(cfg *config.Config, date string, step time.Duration, input string, workers int) error {
	if date != "" {
		cfg.Date = date
	}
	if step > 0 {
		cfg.Step = step
	}
	if input != "" {
		cfg.Input.Path = input
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	return cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	if cfg.Input.Path == "" {
		return errors.New("no building model given; set --input or input.path")
	}

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		RunID:       logging.RunIDFromContext(ctx),
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewPipelineCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go func() {
		if err := collector.Serve(metricsCtx, cfg.Metrics.Addr, log); err != nil {
			log.Warn(ctx, "metrics endpoint exited", logging.Err(err))
		}
	}()

	loc, err := cfg.TimeZone()
	if err != nil {
		return err
	}
	day := cfg.Date
	if day == "" {
		day = time.Now().In(loc).Format(timectrl.DateLayout)
	}
	times, err := timectrl.DayGridFor(day, cfg.Timezone, cfg.Step)
	if err != nil {
		return err
	}

	polygon := cfg.TargetPolygon()
	target, err := core.NewTargetFromPolygon(polygon)
	if err != nil {
		return fmt.Errorf("terrace: %w", err)
	}
	log.Info(ctx, "terrace",
		logging.String("borders", core.DescribeTerrace(polygon)),
		logging.Float("area_m2", export.TargetArea(target)),
	)

	transformer, err := crs.ForName(cfg.Input.SourceCRS)
	if err != nil {
		return err
	}

	loaded, err := cityjson.NewLoader(cityjson.WithLogger(log)).LoadFile(ctx, cfg.Input.Path)
	if err != nil {
		return err
	}
	registry := kb.NewRegistry()
	unsubscribe := registry.Subscribe(func(ev kb.Event) {
		collector.SetBuildingsLoaded(ev.Count)
	})
	defer unsubscribe()
	rejected := registry.AddAll(loaded.Buildings)
	for _, i := range sortedKeys(rejected) {
		log.Warn(ctx, "building rejected",
			logging.String("building_id", loaded.Buildings[i].ID),
			logging.Err(rejected[i]),
		)
	}
	log.Info(ctx, "building model loaded",
		logging.String("path", cfg.Input.Path),
		logging.String("version", loaded.Version),
		logging.Int("buildings", registry.Len()),
		logging.Int("dropped", len(loaded.Dropped)),
	)

	engine := core.NewSolarEngine(cfg.SolarConfig())
	window := engine.SunlitWindow(engine.PositionsAt(times, cfg.Location.Latitude, cfg.Location.Longitude))
	logWindow(ctx, log, window, loc)

	pipeline, err := core.NewPipeline(engine, target,
		core.WithWorkers(cfg.Workers),
		core.WithTransformer(transformer),
		core.WithLogger(log),
		core.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := pipeline.Run(ctx, registry.List(), times)
	if err != nil {
		return err
	}
	for _, f := range res.Failures {
		log.Warn(ctx, "building failed", logging.String("building_id", f.BuildingID), logging.Err(f.Err))
	}
	log.Info(ctx, "shadow analysis complete",
		logging.String("date", day),
		logging.Int("timestamps", len(times)),
		logging.Int("samples", res.Stats.Samples),
		logging.Int("intersections", res.Stats.Groups),
		logging.Duration("elapsed", time.Since(start)),
	)

	return writeOutputs(ctx, cfg, day, target, res, log)
}

func writeOutputs(ctx context.Context, cfg *config.Config, day string, target *core.Target, res *core.Result, log logging.Logger) error {
	if path := cfg.Output.SQLite; path != "" {
		if err := persist(ctx, path, store.Run{
			ID:       logging.RunIDFromContext(ctx),
			Date:     day,
			Step:     cfg.Step,
			Timezone: cfg.Timezone,
		}, res); err != nil {
			return err
		}
		log.Info(ctx, "results stored", logging.String("path", path))
	}

	if dir := cfg.Output.CSVDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create csv dir: %w", err)
		}
		if err := writeFile(filepath.Join(dir, "shadows.csv"), func(f *os.File) error {
			return export.WriteShadowsCSV(f, res.Shadows)
		}); err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dir, "intersections.csv"), func(f *os.File) error {
			return export.WriteIntersectionsCSV(f, res.Intersections)
		}); err != nil {
			return err
		}
		log.Info(ctx, "csv written", logging.String("dir", dir))
	}

	if path := cfg.Output.GeoJSON; path != "" {
		hulls := export.Hulls(target, res.Shadows)
		if err := writeFile(path, func(f *os.File) error {
			return export.WriteGeoJSON(f, target, hulls)
		}); err != nil {
			return err
		}
		log.Info(ctx, "geojson written", logging.String("path", path), logging.Int("hulls", len(hulls)))
	}
	return nil
}

func persist(ctx context.Context, path string, run store.Run, res *core.Result) error {
	st, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err = st.CreateRun(ctx, run)
	if err != nil {
		return err
	}
	if err := st.SaveShadows(ctx, run.ID, res.Shadows); err != nil {
		return err
	}
	return st.SaveIntersections(ctx, run.ID, res.Intersections)
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func logWindow(ctx context.Context, log logging.Logger, w model.SunlitWindow, loc *time.Location) {
	var fields []logging.Field
	if w.HasFirst {
		fields = append(fields, logging.String("first_sunlit", w.First.In(loc).Format(time.DateTime)))
	}
	if w.HasLast {
		fields = append(fields, logging.String("last_sunlit", w.Last.In(loc).Format(time.DateTime)))
	}
	log.Info(ctx, "sunlit window", fields...)
}

func sortedKeys(m map[int]error) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
