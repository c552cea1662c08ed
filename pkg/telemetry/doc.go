// Package telemetry provides the observability stack of froyopack.
//
// A Telemetry value bundles three things for one invocation:
//
//  1. Structured logging with zerolog (console or JSON on stderr)
//  2. Tracing with OpenTelemetry: one root span per build and one child
//     span per pipeline stage, exported to stdout or an OTLP gRPC collector
//  3. Prometheus metrics for builds, stages and artifacts, written as a
//     node_exporter textfile when the process finishes
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//	cfg.Metrics.File = "/var/lib/node_exporter/froyopack.prom"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	stage := tel.StartStage(ctx, engine.StageGraph)
//	graph, err := builder.Build(stage.Ctx, entry)
//	stage.End(err)
//
// Packages never reach for a global logger; they receive a zerolog.Logger
// and derive a component logger from it.
package telemetry
