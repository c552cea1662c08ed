package telemetry_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/telemetry"
)

// Example_metricsFile records a build and writes the metrics textfile on shutdown.
func Example_metricsFile() {
	dir, _ := os.MkdirTemp("", "froyopack-metrics")
	defer os.RemoveAll(dir)

	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = os.Stdout
	cfg.Logging.Level = "error"
	cfg.Metrics.File = filepath.Join(dir, "froyopack.prom")

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}

	started := time.Now()
	done := started.Add(time.Second)
	tel.Metrics.RecordBuild(&engine.BuildRecord{
		Name:         "inventory",
		Status:       engine.BuildStatusSucceeded,
		Modules:      7,
		ArtifactSize: 2048,
		StartedAt:    started,
		CompletedAt:  &done,
	})

	if err := tel.Shutdown(context.Background()); err != nil {
		panic(err)
	}

	data, _ := os.ReadFile(cfg.Metrics.File)
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "froyopack_artifact_modules") {
			fmt.Println(line)
		}
	}
	// Output: froyopack_artifact_modules{name="inventory"} 7
}
