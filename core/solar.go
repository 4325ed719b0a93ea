package core

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/solar"

	"github.com/signalsfoundry/shadowcast/model"
)

const (
	// astronomicalUnitKm is the mean Earth-Sun distance. Solar parallax at
	// this range is below 9 arcseconds, so the exact radius vector is not needed.
	astronomicalUnitKm = 149597870.7

	// Apparent solar radius plus standard horizon refraction, degrees. Below
	// this the refraction correction is not applied.
	sunRadiusDeg         = 0.26667
	horizonRefractionDeg = 0.5667
)

// Default thresholds for the sunlit window, degrees.
const (
	DefaultMorningThreshold = -0.9
	DefaultEveningThreshold = -0.833
)

// Location is an observer on the WGS84 ellipsoid. Altitude is in metres.
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// SolarConfig parameterises a SolarEngine. Each analysis carries its own
// config so several can run side by side.
type SolarConfig struct {
	// Default is used by PositionsAt and wherever no altitude is known.
	Default Location

	PressureHPa  float64
	TemperatureC float64
	// DeltaT is TT-UT in seconds.
	DeltaT     float64
	Refraction bool

	MorningThreshold float64
	EveningThreshold float64
}

// DefaultSolarConfig returns the reference location and a standard atmosphere.
func DefaultSolarConfig() SolarConfig {
	return SolarConfig{
		Default: Location{
			Latitude:  46.202836,
			Longitude: 6.151757,
			Altitude:  386.0,
		},
		PressureHPa:      1013.25,
		TemperatureC:     12,
		DeltaT:           67.0,
		Refraction:       true,
		MorningThreshold: DefaultMorningThreshold,
		EveningThreshold: DefaultEveningThreshold,
	}
}

// SolarEngine computes apparent solar elevation and azimuth.
// It holds no mutable state and is safe for concurrent use.
type SolarEngine struct {
	cfg SolarConfig
}

// NewSolarEngine constructs an engine; a zero pressure falls back to the
// standard atmosphere.
func NewSolarEngine(cfg SolarConfig) *SolarEngine {
	if cfg.PressureHPa <= 0 {
		cfg.PressureHPa = 1013.25
	}
	return &SolarEngine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *SolarEngine) Config() SolarConfig { return e.cfg }

// Position returns the solar position for a single instant.
func (e *SolarEngine) Position(t time.Time, loc Location) model.SolarPosition {
	ut := t.UTC()
	jd := julian.TimeToJD(ut)
	jde := jd + e.cfg.DeltaT/86400

	ra, dec := solar.ApparentEquatorial(jde)
	sinRA, cosRA := math.Sincos(ra.Rad())
	sinDec, cosDec := math.Sincos(dec.Rad())
	sunECI := satellite.Vector3{
		X: astronomicalUnitKm * cosDec * cosRA,
		Y: astronomicalUnitKm * cosDec * sinRA,
		Z: astronomicalUnitKm * sinDec,
	}

	observer := satellite.LatLong{
		Latitude:  loc.Latitude * deg2rad,
		Longitude: loc.Longitude * deg2rad,
	}
	look := satellite.ECIToLookAngles(sunECI, observer, loc.Altitude/1000, jd)

	elevation := look.El * rad2deg
	if e.cfg.Refraction {
		elevation += e.refraction(elevation)
	}

	return model.SolarPosition{
		Time:      t,
		Elevation: elevation,
		Azimuth:   normalizeDeg(look.Az * rad2deg),
	}
}

// Positions returns one solar position per timestamp, in the same order.
func (e *SolarEngine) Positions(times []time.Time, loc Location) []model.SolarPosition {
	out := make([]model.SolarPosition, len(times))
	for i, t := range times {
		out[i] = e.Position(t, loc)
	}
	return out
}

// PositionsAt is Positions with the configured default altitude.
func (e *SolarEngine) PositionsAt(times []time.Time, lat, lon float64) []model.SolarPosition {
	return e.Positions(times, Location{Latitude: lat, Longitude: lon, Altitude: e.cfg.Default.Altitude})
}

// SunlitWindow applies the configured morning and evening thresholds.
func (e *SolarEngine) SunlitWindow(positions []model.SolarPosition) model.SunlitWindow {
	return SunlitWindow(positions, e.cfg.MorningThreshold, e.cfg.EveningThreshold)
}

// refraction follows the SPA atmospheric refraction correction, degrees.
func (e *SolarEngine) refraction(e0 float64) float64 {
	if e0 < -(sunRadiusDeg + horizonRefractionDeg) {
		return 0
	}
	return (e.cfg.PressureHPa / 1010.0) * (283.0 / (273.0 + e.cfg.TemperatureC)) *
		1.02 / (60.0 * math.Tan((e0+10.3/(e0+5.11))*deg2rad))
}

// SunlitWindow returns the earliest instant whose elevation is strictly above
// morning and the latest strictly above evening.
func SunlitWindow(positions []model.SolarPosition, morning, evening float64) model.SunlitWindow {
	var w model.SunlitWindow
	for _, p := range positions {
		if p.Elevation > morning && (!w.HasFirst || p.Time.Before(w.First)) {
			w.First = p.Time
			w.HasFirst = true
		}
		if p.Elevation > evening && (!w.HasLast || p.Time.After(w.Last)) {
			w.Last = p.Time
			w.HasLast = true
		}
	}
	return w
}

func normalizeDeg(v float64) float64 {
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	if v >= 360 {
		v = 0
	}
	return v
}

type positionKey struct {
	lat, lon, alt float64
}

// PositionCache memoises solar positions over one timestamp grid, keyed by
// observer location. Vertices that share a footprint corner share a result.
type PositionCache struct {
	engine *SolarEngine
	times  []time.Time

	entries sync.Map // positionKey -> []model.SolarPosition
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewPositionCache binds a cache to a grid.
func NewPositionCache(engine *SolarEngine, times []time.Time) *PositionCache {
	return &PositionCache{engine: engine, times: times}
}

// Get returns the positions for loc and whether they came from the cache.
// The returned slice is shared and must not be modified.
func (c *PositionCache) Get(loc Location) ([]model.SolarPosition, bool) {
	key := positionKey{loc.Latitude, loc.Longitude, loc.Altitude}
	if v, ok := c.entries.Load(key); ok {
		c.hits.Add(1)
		return v.([]model.SolarPosition), true
	}
	c.misses.Add(1)
	v, _ := c.entries.LoadOrStore(key, c.engine.Positions(c.times, loc))
	return v.([]model.SolarPosition), false
}

// Stats returns cache hits and misses so far.
func (c *PositionCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
