package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/shadowcast/core"
	"github.com/signalsfoundry/shadowcast/internal/config"
	"github.com/signalsfoundry/shadowcast/internal/logging"
	"github.com/signalsfoundry/shadowcast/timectrl"
)

// obstacle describes the extruded footprint placed against the terrace.
type obstacle struct {
	enabled bool
	length  float64
	width   float64
	height  float64
}

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	date := flag.String("date", "", "date YYYY-MM-DD in the configured timezone (defaults to today)")
	step := flag.Duration("step", 30*time.Second, "sampling step")
	observerHeight := flag.Float64("observer-height", 1, "observer height above the terrace, metres")
	withBuilding := flag.Bool("building", true, "report the last sunlit time behind the neighbouring building")
	length := flag.Float64("building-length", 81, "building extent southward from the terrace NW corner, metres")
	width := flag.Float64("building-width", 15, "building extent westward, metres")
	height := flag.Float64("building-height", 18, "building height, metres")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if *date != "" {
		cfg.Date = *date
	}
	cfg.Step = *step
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	ctx := context.Background()

	obs := obstacle{enabled: *withBuilding, length: *length, width: *width, height: *height}
	if err := run(ctx, cfg, *observerHeight, obs, os.Stdout, log); err != nil {
		log.Error(ctx, "sunlit report failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, observerHeight float64, obs obstacle, out io.Writer, log logging.Logger) error {
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

	terrace := cfg.TargetPolygon()
	if _, err := core.NewTargetFromPolygon(terrace); err != nil {
		return fmt.Errorf("terrace: %w", err)
	}
	center := terrace.Centroid()

	engine := core.NewSolarEngine(cfg.SolarConfig())
	positions := engine.PositionsAt(times, center.Lat, center.Lon)
	log.Debug(ctx, "solar positions computed", logging.Int("samples", len(positions)), logging.String("date", day))

	fmt.Fprintln(out, core.DescribeTerrace(terrace))

	window := engine.SunlitWindow(positions)
	fmt.Fprintf(out, "First sunlit time: %s\n", formatInstant(window.First, window.HasFirst, loc))
	fmt.Fprintf(out, "Last sunlit time: %s\n", formatInstant(window.Last, window.HasLast, loc))

	if !obs.enabled {
		return nil
	}
	prism := core.BuildingFromTarget(terrace, obs.length, obs.width, obs.height)
	last, ok := core.ShadowAdjustedLastSunlit(positions, center, observerHeight, prism, cfg.Thresholds.Evening)
	fmt.Fprintf(out, "Shadow-adjusted last sunlit time: %s\n", formatInstant(last, ok, loc))
	return nil
}

func formatInstant(t time.Time, ok bool, loc *time.Location) string {
	if !ok {
		return "none"
	}
	return t.In(loc).Format("2006-01-02 15:04:05 MST")
}
