// Package config loads layered run configuration: built-in defaults, an
// optional YAML file, then SHADOWCAST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/signalsfoundry/shadowcast/core"
	"github.com/signalsfoundry/shadowcast/model"
	"github.com/signalsfoundry/shadowcast/timectrl"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: SHADOWCAST_LOCATION__LATITUDE -> location.latitude.
const EnvPrefix = "SHADOWCAST_"

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "SHADOWCAST_CONFIG"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"shadowcast.yaml",
	"shadowcast.yml",
}

type Config struct {
	Location   LocationConfig   `koanf:"location"`
	Timezone   string           `koanf:"timezone" validate:"required,timezone"`
	Date       string           `koanf:"date" validate:"omitempty,datetime=2006-01-02"`
	Step       time.Duration    `koanf:"step" validate:"gt=0"`
	Thresholds ThresholdsConfig `koanf:"thresholds"`
	Atmosphere AtmosphereConfig `koanf:"atmosphere"`
	Terrace    TerraceConfig    `koanf:"terrace"`
	Input      InputConfig      `koanf:"input"`
	Output     OutputConfig     `koanf:"output"`
	Workers    int              `koanf:"workers" validate:"gte=0"`
	Logging    LoggingConfig    `koanf:"logging"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Tracing    TracingConfig    `koanf:"tracing"`
}

type LocationConfig struct {
	Latitude  float64 `koanf:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `koanf:"longitude" validate:"gte=-180,lte=180"`
	Altitude  float64 `koanf:"altitude"`
}

type ThresholdsConfig struct {
	Morning float64 `koanf:"morning" validate:"gte=-90,lte=90"`
	Evening float64 `koanf:"evening" validate:"gte=-90,lte=90"`
}

type AtmosphereConfig struct {
	PressureHPa   float64 `koanf:"pressure_hpa" validate:"gt=0"`
	TemperatureC  float64 `koanf:"temperature_c" validate:"gte=-100,lte=100"`
	DeltaTSeconds float64 `koanf:"delta_t_seconds"`
	Refraction    bool    `koanf:"refraction"`
}

// TerraceConfig holds the four corners of the target, each [lat, lon].
type TerraceConfig struct {
	NW []float64 `koanf:"nw" validate:"len=2,dive,gte=-180,lte=180"`
	NE []float64 `koanf:"ne" validate:"len=2,dive,gte=-180,lte=180"`
	SE []float64 `koanf:"se" validate:"len=2,dive,gte=-180,lte=180"`
	SW []float64 `koanf:"sw" validate:"len=2,dive,gte=-180,lte=180"`
}

type InputConfig struct {
	Path      string `koanf:"path"`
	SourceCRS string `koanf:"source_crs"`
}

type OutputConfig struct {
	SQLite  string `koanf:"sqlite"`
	CSVDir  string `koanf:"csv_dir"`
	GeoJSON string `koanf:"geojson"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Exporter    string  `koanf:"exporter" validate:"oneof=stdout otlp otlpgrpc"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio" validate:"gte=0,lte=1"`
}

// Default returns the built-in configuration.
func Default() *Config {
	solar := core.DefaultSolarConfig()
	return &Config{
		Location: LocationConfig{
			Latitude:  solar.Default.Latitude,
			Longitude: solar.Default.Longitude,
			Altitude:  solar.Default.Altitude,
		},
		Timezone: timectrl.DefaultTimezone,
		Step:     time.Hour,
		Thresholds: ThresholdsConfig{
			Morning: core.DefaultMorningThreshold,
			Evening: core.DefaultEveningThreshold,
		},
		Atmosphere: AtmosphereConfig{
			PressureHPa:   solar.PressureHPa,
			TemperatureC:  solar.TemperatureC,
			DeltaTSeconds: solar.DeltaT,
			Refraction:    solar.Refraction,
		},
		Terrace: TerraceConfig{
			NW: []float64{46.202880, 6.151700},
			NE: []float64{46.202880, 6.151830},
			SE: []float64{46.202790, 6.151830},
			SW: []float64{46.202790, 6.151700},
		},
		Input: InputConfig{SourceCRS: "EPSG:2056"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "shadowcast",
			SampleRatio: 1,
		},
	}
}

// Load layers defaults, the YAML file at path (or the one found through
// SHADOWCAST_CONFIG / DefaultConfigPaths when path is empty) and the
// environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processCornerFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps SHADOWCAST_ATMOSPHERE__PRESSURE_HPA to
// atmosphere.pressure_hpa. The config path variable itself is skipped.
func envTransformFunc(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

var cornerPaths = []string{"terrace.nw", "terrace.ne", "terrace.se", "terrace.sw"}

// processCornerFields turns "lat,lon" strings coming from the environment
// into two-element lists.
func processCornerFields(k *koanf.Koanf) error {
	for _, path := range cornerPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(raw, ",")
		if len(parts) != 2 {
			return fmt.Errorf("%s: want \"lat,lon\", got %q", path, raw)
		}
		pair := make([]float64, 2)
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			pair[i] = v
		}
		if err := k.Set(path, pair); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules the struct
// tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error
	for name, corner := range map[string][]float64{
		"nw": c.Terrace.NW, "ne": c.Terrace.NE, "se": c.Terrace.SE, "sw": c.Terrace.SW,
	} {
		if corner[0] < -90 || corner[0] > 90 {
			errs = append(errs, fmt.Errorf("terrace.%s: latitude %.6f out of range", name, corner[0]))
		}
	}
	if c.Tracing.Enabled && strings.HasPrefix(c.Tracing.Exporter, "otlp") && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required for the otlp exporter"))
	}
	return errors.Join(errs...)
}

// SolarConfig converts the location and atmosphere sections.
func (c *Config) SolarConfig() core.SolarConfig {
	return core.SolarConfig{
		Default: core.Location{
			Latitude:  c.Location.Latitude,
			Longitude: c.Location.Longitude,
			Altitude:  c.Location.Altitude,
		},
		PressureHPa:      c.Atmosphere.PressureHPa,
		TemperatureC:     c.Atmosphere.TemperatureC,
		DeltaT:           c.Atmosphere.DeltaTSeconds,
		Refraction:       c.Atmosphere.Refraction,
		MorningThreshold: c.Thresholds.Morning,
		EveningThreshold: c.Thresholds.Evening,
	}
}

// TargetPolygon returns the terrace corners.
func (c *Config) TargetPolygon() model.TargetPolygon {
	pt := func(v []float64) model.GeoPoint { return model.GeoPoint{Lat: v[0], Lon: v[1]} }
	return model.TargetPolygon{
		NW: pt(c.Terrace.NW),
		NE: pt(c.Terrace.NE),
		SE: pt(c.Terrace.SE),
		SW: pt(c.Terrace.SW),
	}
}

// TimeZone resolves the configured timezone.
func (c *Config) TimeZone() (*time.Location, error) {
	return timectrl.LoadLocation(c.Timezone)
}
