package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Metrics provides Prometheus metrics for the build pipeline.
type Metrics struct {
	config MetricsConfig

	// Build metrics
	builds        *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec

	// Artifact metrics
	modules       *prometheus.GaugeVec
	excluded      *prometheus.GaugeVec
	artifactBytes *prometheus.GaugeVec

	// Error metrics
	warnings *prometheus.CounterVec
	errors   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Total number of builds by final status",
			},
			[]string{"name", "status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of a whole build in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of a pipeline stage in seconds",
				Buckets:   buckets,
			},
			[]string{"stage", "status"},
		),

		modules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_modules",
				Help:      "Number of modules in the last artifact",
			},
			[]string{"name"},
		),
		excluded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_excluded_modules",
				Help:      "Number of modules removed by the exclusion filter in the last build",
			},
			[]string{"name"},
		),
		artifactBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "artifact_bytes",
				Help:      "Size of the last artifact in bytes",
			},
			[]string{"name"},
		),

		warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "warnings_total",
				Help:      "Total number of non-fatal warnings by class",
			},
			[]string{"class"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of fatal errors by class",
			},
			[]string{"class"},
		),
	}

	collectors := []prometheus.Collector{
		m.builds, m.buildDuration, m.stageDuration,
		m.modules, m.excluded, m.artifactBytes,
		m.warnings, m.errors,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return m, nil
}

// RecordStage records the duration of one pipeline stage.
func (m *Metrics) RecordStage(stage engine.Stage, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(string(stage), statusLabel(err)).Observe(duration.Seconds())
}

// RecordBuild records a finished build.
func (m *Metrics) RecordBuild(build *engine.BuildRecord) {
	status := string(build.Status)
	m.builds.WithLabelValues(build.Name, status).Inc()
	m.buildDuration.WithLabelValues(status).Observe(build.Duration().Seconds())

	for _, w := range build.Warnings {
		m.warnings.WithLabelValues(string(w.Class)).Inc()
	}

	if build.Status == engine.BuildStatusSucceeded {
		m.modules.WithLabelValues(build.Name).Set(float64(build.Modules))
		m.excluded.WithLabelValues(build.Name).Set(float64(build.Excluded))
		m.artifactBytes.WithLabelValues(build.Name).Set(float64(build.ArtifactSize))
	}
}

// RecordError counts a fatal error by class.
func (m *Metrics) RecordError(err error) {
	class := string(engine.ErrorClassInternal)
	if c, ok := engine.ClassOf(err); ok {
		class = string(c)
	}
	m.errors.WithLabelValues(class).Inc()
}

// Registry returns the registry holding every froyopack metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteFile writes the metrics in text exposition format, for the
// node_exporter textfile collector. It is a no-op without a configured file.
func (m *Metrics) WriteFile() error {
	if m.config.File == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.File, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "succeeded"
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
