package engine_test

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Example_exclusion shows how excluding a module also prunes everything that
// was reachable only through it.
func Example_exclusion() {
	graph := engine.NewModuleGraph("app")
	for _, name := range []string{"app", "app.cli", "tests", "tests.fixtures", "util"} {
		graph.AddNode(&engine.ModuleNode{Name: name, Kind: engine.KindCode})
	}
	_ = graph.AddEdge("app", "app.cli")
	_ = graph.AddEdge("app", "tests")
	_ = graph.AddEdge("tests", "tests.fixtures")
	_ = graph.AddEdge("tests", "util")
	_ = graph.AddEdge("app.cli", "util")

	filtered, report := engine.ApplyExclusions(graph, engine.NewExclusionPolicy("tests", "docs"))

	fmt.Println("retained:", filtered.Names())
	fmt.Println("excluded:", report.Excluded)
	fmt.Println("pruned:", report.Pruned)
	fmt.Println("unused:", report.UnusedPatterns)
	// Output:
	// retained: [app app.cli util]
	// excluded: [tests tests.fixtures]
	// pruned: []
	// unused: [docs]
}

// Example_errorHandling shows how callers classify pipeline errors.
func Example_errorHandling() {
	err := fmt.Errorf("embedding failed: %w",
		engine.NewResourceMissingError("favicon.ico", "/src/favicon.ico", os.ErrNotExist))

	fmt.Println(engine.IsResourceMissing(err))
	fmt.Println(engine.IsWarning(err))
	fmt.Println(errors.Is(err, os.ErrNotExist))
	fmt.Println(errors.Is(err, &engine.PackError{Class: engine.ErrorClassResourceMissing}))

	warning := engine.NewGraphResolutionWarning("app.plugins", "dynamic import cannot be followed")
	fmt.Println(warning)
	// Output:
	// true
	// false
	// true
	// true
	// [graph_warning] dynamic import cannot be followed (module=app.plugins)
}

// Example_buildRecord shows the lifecycle of a recorded build.
func Example_buildRecord() {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &engine.BuildRecord{
		Name:      "inventory",
		Status:    engine.BuildStatusRunning,
		StartedAt: start,
	}
	fmt.Println(rec.Status.IsTerminal())

	done := start.Add(1500 * time.Millisecond)
	rec.Status = engine.BuildStatusSucceeded
	rec.CompletedAt = &done
	fmt.Println(rec.Status.IsTerminal(), rec.Duration())
	// Output:
	// false
	// true 1.5s
}
