package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/shadowcast/internal/logging"
)

// PipelineCollector bundles the Prometheus metrics of a shadow run. It
// satisfies core.Recorder.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	ShadowSamples   *prometheus.CounterVec
	Groups          prometheus.Counter
	Batches         *prometheus.CounterVec
	BatchDurations  prometheus.Histogram
	CacheLookups    *prometheus.CounterVec
	BuildingsLoaded prometheus.Gauge
}

// NewPipelineCollector registers pipeline metrics against reg, defaulting
// to the global Prometheus registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	samples, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowcast_shadow_samples_total",
		Help: "Shadow samples produced, labeled by state (defined or undefined).",
	}, []string{"state"}), "shadowcast_shadow_samples_total")
	if err != nil {
		return nil, err
	}

	groups, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadowcast_intersection_groups_total",
		Help: "Intersection ratios computed, one per (timestamp, building) group.",
	}), "shadowcast_intersection_groups_total")
	if err != nil {
		return nil, err
	}

	batches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowcast_building_batches_total",
		Help: "Building batches processed, labeled by status.",
	}, []string{"status"}), "shadowcast_building_batches_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shadowcast_batch_duration_seconds",
		Help:    "Time spent projecting and scoring one building.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}), "shadowcast_batch_duration_seconds")
	if err != nil {
		return nil, err
	}

	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowcast_solar_cache_lookups_total",
		Help: "Solar position cache lookups, labeled by result (hit or miss).",
	}, []string{"result"}), "shadowcast_solar_cache_lookups_total")
	if err != nil {
		return nil, err
	}

	loaded, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shadowcast_buildings_loaded",
		Help: "Number of buildings loaded from the city model.",
	}), "shadowcast_buildings_loaded")
	if err != nil {
		return nil, err
	}

	return &PipelineCollector{
		gatherer:        gatherer,
		ShadowSamples:   samples,
		Groups:          groups,
		Batches:         batches,
		BatchDurations:  durations,
		CacheLookups:    lookups,
		BuildingsLoaded: loaded,
	}, nil
}

func (c *PipelineCollector) ObserveSamples(defined, undefined int) {
	if c == nil {
		return
	}
	c.ShadowSamples.WithLabelValues("defined").Add(float64(defined))
	c.ShadowSamples.WithLabelValues("undefined").Add(float64(undefined))
}

func (c *PipelineCollector) ObserveGroups(n int) {
	if c == nil {
		return
	}
	c.Groups.Add(float64(n))
}

func (c *PipelineCollector) ObserveBatch(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Batches.WithLabelValues(status).Inc()
	c.BatchDurations.Observe(d.Seconds())
}

func (c *PipelineCollector) ObserveCache(hits, misses int64) {
	if c == nil {
		return
	}
	c.CacheLookups.WithLabelValues("hit").Add(float64(hits))
	c.CacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// SetBuildingsLoaded records how many buildings the input held.
func (c *PipelineCollector) SetBuildingsLoaded(n int) {
	if c == nil {
		return
	}
	c.BuildingsLoaded.Set(float64(n))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled. An empty
// addr disables the endpoint.
func (c *PipelineCollector) Serve(ctx context.Context, addr string, log logging.Logger) error {
	if addr == "" {
		return nil
	}
	if log == nil {
		log = logging.Noop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "metrics endpoint listening", logging.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
