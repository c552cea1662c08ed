package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/openfroyo/froyopack/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "json logs", mutate: func(c *Config) { c.Logging.Format = "json" }},
		{name: "stdout traces", mutate: func(c *Config) { c.Tracing.Exporter = "stdout" }},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: true},
		{name: "bad sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"trace": zerolog.TraceLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Info().Msg("hidden")
	logger.Warn().Str("component", "assembler").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info to be filtered, got %q", out)
	}
	if !strings.Contains(out, `"component":"assembler"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("unexpected log output %q", out)
	}
}

func TestMetrics_WriteFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "froyopack.prom")
	m, err := NewMetrics(MetricsConfig{Namespace: "froyopack", File: file})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	started := time.Now()
	done := started.Add(1500 * time.Millisecond)
	m.RecordBuild(&engine.BuildRecord{
		Name:         "app",
		Status:       engine.BuildStatusSucceeded,
		Modules:      4,
		Excluded:     2,
		ArtifactSize: 1024,
		Warnings:     []*engine.PackError{engine.NewGraphResolutionWarning("x", "missing")},
		StartedAt:    started,
		CompletedAt:  &done,
	})
	m.RecordStage(engine.StageAssemble, 20*time.Millisecond, nil)
	m.RecordError(engine.NewConfigError("bad mode", nil))
	m.RecordError(errors.New("plain"))

	if err := m.WriteFile(); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	for _, want := range []string{
		`froyopack_builds_total{name="app",status="succeeded"} 1`,
		`froyopack_artifact_excluded_modules{name="app"} 2`,
		`froyopack_artifact_bytes{name="app"} 1024`,
		`froyopack_warnings_total{class="graph_warning"} 1`,
		`froyopack_errors_total{class="config"} 1`,
		`froyopack_errors_total{class="internal"} 1`,
		`froyopack_stage_duration_seconds_count{stage="assemble",status="succeeded"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics file missing %q", want)
		}
	}
}

func TestMetrics_WriteFileDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	if err := m.WriteFile(); err != nil {
		t.Errorf("expected no-op without a file, got %v", err)
	}
}

func TestStartStage_RecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := newTracer(exporter, TracingConfig{}, "froyopack", "test")
	if err != nil {
		t.Fatalf("newTracer failed: %v", err)
	}
	metrics, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	tel := &Telemetry{Logger: zerolog.Nop(), Tracer: tracer, Metrics: metrics, Config: DefaultConfig()}

	ctx, root := tracer.StartBuildSpan(context.Background(), "app", "froyopack.cue")
	ok := tel.StartStage(ctx, engine.StageGraph)
	ok.End(nil)
	failed := tel.StartStage(ctx, engine.StageEmbed)
	failed.End(engine.NewResourceMissingError("icon", "icon.ico", nil))
	root.End()

	if err := tracer.provider.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}

	spans := map[string]tracetest.SpanStub{}
	for _, s := range exporter.GetSpans() {
		spans[s.Name] = s
	}

	graph, found := spans["build.graph"]
	if !found {
		t.Fatalf("missing build.graph span, got %d spans", len(spans))
	}
	if graph.Status.Code != codes.Ok {
		t.Errorf("expected ok status, got %v", graph.Status.Code)
	}
	if graph.Parent.SpanID() != spans["build"].SpanContext.SpanID() {
		t.Error("expected stage span to be a child of the build span")
	}

	embed := spans["build.embed"]
	if embed.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", embed.Status.Code)
	}
	var class string
	for _, attr := range embed.Attributes {
		if attr.Key == AttrErrorClass {
			class = attr.Value.AsString()
		}
	}
	if class != string(engine.ErrorClassResourceMissing) {
		t.Errorf("expected error class attribute, got %q", class)
	}

	_ = tracer.Shutdown(context.Background())
}

func TestNop(t *testing.T) {
	tel := Nop()
	stage := tel.StartStage(context.Background(), engine.StageWrite)
	stage.End(nil)
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
