package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/signalsfoundry/shadowcast/internal/config"
	"github.com/signalsfoundry/shadowcast/internal/logging"
	"github.com/signalsfoundry/shadowcast/internal/store"
)

// A 60 m block just south of the default terrace, in WGS84 lon/lat.
const towerModel = `{
  "type": "CityJSON",
  "version": "2.0",
  "CityObjects": {
    "tower": {
      "type": "Building",
      "attributes": {"EGID": 9001},
      "geometry": [{"type": "Solid", "lod": "2", "boundaries": [[[[0, 1, 2, 3]], [[4, 5, 6, 7]]]]}]
    }
  },
  "vertices": [
    [6.15165, 46.20268, 400], [6.15190, 46.20268, 400], [6.15190, 46.20274, 400], [6.15165, 46.20274, 400],
    [6.15165, 46.20268, 460], [6.15190, 46.20268, 460], [6.15190, 46.20274, 460], [6.15165, 46.20274, 460]
  ]
}`

func TestRunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "tower.city.json")
	if err := os.WriteFile(input, []byte(towerModel), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	cfg := config.Default()
	cfg.Input.Path = input
	cfg.Input.SourceCRS = "EPSG:4326"
	cfg.Output.SQLite = filepath.Join(dir, "runs.db")
	cfg.Output.CSVDir = filepath.Join(dir, "csv")
	cfg.Output.GeoJSON = filepath.Join(dir, "shadows.geojson")
	if err := applyFlags(cfg, "2023-06-21", time.Hour, "", 2); err != nil {
		t.Fatalf("applyFlags: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx, log := logging.WithRunLogger(ctx, logging.Noop())

	if err := run(ctx, cfg, log); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := os.Stat(cfg.Output.GeoJSON); err != nil {
		t.Fatalf("geojson missing: %v", err)
	}

	f, err := os.Open(filepath.Join(cfg.Output.CSVDir, "intersections.csv"))
	if err != nil {
		t.Fatalf("open intersections.csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read intersections.csv: %v", err)
	}
	if len(rows) < 2 {
		t.Fatalf("intersections.csv has no data rows")
	}
	best := 0.0
	for _, row := range rows[1:] {
		ratio, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			t.Fatalf("parse ratio %q: %v", row[2], err)
		}
		best = max(best, ratio)
	}
	if best < 0.5 {
		t.Fatalf("tower never shades the terrace, best ratio %v", best)
	}

	st, err := store.Open(ctx, cfg.Output.SQLite)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	runID := logging.RunIDFromContext(ctx)
	stored, err := st.Intersections(ctx, runID)
	if err != nil {
		t.Fatalf("Intersections: %v", err)
	}
	if len(stored) != len(rows)-1 {
		t.Fatalf("stored %d intersections, csv has %d", len(stored), len(rows)-1)
	}
	total, undefined, err := st.ShadowCounts(ctx, runID)
	if err != nil {
		t.Fatalf("ShadowCounts: %v", err)
	}
	if total != 8*24 || undefined == 0 || undefined == total {
		t.Fatalf("shadow counts total=%d undefined=%d", total, undefined)
	}
}

func TestRunRequiresInput(t *testing.T) {
	cfg := config.Default()
	if err := run(context.Background(), cfg, logging.Noop()); err == nil {
		t.Fatalf("expected an error without an input model")
	}
}

func TestApplyFlagsRevalidates(t *testing.T) {
	cfg := config.Default()
	if err := applyFlags(cfg, "21.06.2023", 0, "", 0); err == nil {
		t.Fatalf("expected an invalid date to be rejected")
	}
}
