package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// GraphBuilder discovers the transitive dependency graph of a program.
// Modules are analyzed in parallel on a bounded pool of workers; each module
// is analyzed at most once no matter how many modules reference it.
type GraphBuilder struct {
	// analyzer extracts the direct references of a single module
	analyzer Analyzer

	// maxParallel is the maximum number of modules analyzed concurrently
	maxParallel int

	logger zerolog.Logger
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder(analyzer Analyzer, maxParallel int, logger zerolog.Logger) *GraphBuilder {
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}

	return &GraphBuilder{
		analyzer:    analyzer,
		maxParallel: maxParallel,
		logger:      logger.With().Str("component", "graph-builder").Logger(),
	}
}

// Build produces the full transitive graph reachable from the entry file.
// Unresolvable references become unresolved nodes plus warnings on the graph;
// only analyzer I/O failures and cancellation are returned as errors.
func (b *GraphBuilder) Build(ctx context.Context, entryPath string) (*ModuleGraph, error) {
	if b.analyzer == nil {
		return nil, NewInternalError("graph builder has no analyzer", nil)
	}

	entry, err := b.analyzer.Entry(entryPath)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	graph := NewModuleGraph(entry.Name)
	graph.AddNode(entry)

	d := &discovery{
		ctx:      ctx,
		analyzer: b.analyzer,
		graph:    graph,
		sem:      make(chan struct{}, b.maxParallel),
	}

	d.wg.Add(1)
	go d.visit(entry)
	d.wg.Wait()

	if d.err != nil {
		return nil, d.err
	}

	b.logger.Debug().
		Str("entry", entry.Name).
		Int("modules", graph.Len()).
		Int("warnings", len(graph.Warnings())).
		Int("workers", b.maxParallel).
		Dur("duration", time.Since(start)).
		Msg("dependency graph built")

	for _, cycle := range graph.Cycles() {
		b.logger.Debug().Str("cycle", FormatCycle(cycle)).Msg("import cycle")
	}

	return graph, nil
}

// discovery holds the shared state of a single Build call.
type discovery struct {
	ctx      context.Context
	analyzer Analyzer
	graph    *ModuleGraph
	sem      chan struct{}
	wg       sync.WaitGroup

	// mu protects err
	mu  sync.Mutex
	err error
}

func (d *discovery) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == nil {
		d.err = err
	}
}

func (d *discovery) failed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err != nil
}

// visit analyzes node and schedules every newly discovered scannable dependency.
func (d *discovery) visit(node *ModuleNode) {
	defer d.wg.Done()

	if err := d.ctx.Err(); err != nil {
		d.fail(err)
		return
	}

	select {
	case d.sem <- struct{}{}:
	case <-d.ctx.Done():
		d.fail(d.ctx.Err())
		return
	}
	if d.failed() {
		<-d.sem
		return
	}
	deps, warnings, err := d.analyzer.Analyze(d.ctx, node)
	<-d.sem

	if err != nil {
		d.fail(fmt.Errorf("failed to analyze %s: %w", node.Name, err))
		return
	}

	for _, w := range warnings {
		d.graph.AddWarning(w)
	}

	for _, dep := range deps {
		inserted := d.graph.AddNode(dep)
		if err := d.graph.AddEdge(node.Name, dep.Name); err != nil {
			d.fail(err)
			return
		}
		if inserted && dep.Scannable() {
			d.wg.Add(1)
			go d.visit(dep)
		}
	}
}
