package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Telemetry bundles the logger, tracer and metrics of one invocation.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that records nothing.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion)
	metrics, _ := NewMetrics(MetricsConfig{Namespace: cfg.Metrics.Namespace})
	return &Telemetry{
		Logger:  zerolog.Nop(),
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}
}

// Shutdown flushes pending spans and writes the metrics file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracer.Shutdown(ctx),
		t.Metrics.WriteFile(),
	)
}

// StageContext instruments one pipeline stage with a span, a timer and a
// stage logger.
type StageContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger zerolog.Logger

	stage   engine.Stage
	timer   *Timer
	metrics *Metrics
}

// StartStage begins an instrumented pipeline stage.
func (t *Telemetry) StartStage(ctx context.Context, stage engine.Stage) *StageContext {
	spanCtx, span := t.Tracer.StartStageSpan(ctx, stage)

	logCtx := t.Logger.With().Str("stage", string(stage))
	if id := TraceID(spanCtx); id != "" {
		logCtx = logCtx.Str("trace_id", id)
	}
	logger := logCtx.Logger()
	logger.Debug().Msg("stage started")

	return &StageContext{
		Ctx:     spanCtx,
		Span:    span,
		Logger:  logger,
		stage:   stage,
		timer:   NewTimer(),
		metrics: t.Metrics,
	}
}

// End finishes the stage, recording its duration and outcome, and returns
// the duration.
func (sc *StageContext) End(err error) time.Duration {
	duration := sc.timer.Duration()
	sc.metrics.RecordStage(sc.stage, duration, err)

	if err != nil {
		RecordError(sc.Span, err)
		sc.Logger.Debug().Err(err).Dur("duration", duration).Msg("stage failed")
	} else {
		RecordSuccess(sc.Span)
		sc.Logger.Debug().Dur("duration", duration).Msg("stage finished")
	}
	sc.Span.End()
	return duration
}
