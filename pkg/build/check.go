package build

import (
	"context"

	"github.com/openfroyo/froyopack/pkg/config"
	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/policy"
)

// Check is the outcome of a dry run.
type Check struct {
	Config *config.BuildConfig

	// Graph is the discovered graph before exclusions.
	Graph *engine.ModuleGraph

	// Filtered is the graph after exclusions; nil when they were skipped.
	Filtered  *engine.ModuleGraph
	Exclusion *engine.ExclusionReport

	// Policy is nil unless policies were evaluated.
	Policy *policy.Result

	// Warnings are the non-fatal findings of the stages that ran.
	Warnings []*engine.PackError
}

// Validate runs every stage up to and including resource embedding, so
// configuration, policy and missing-resource errors surface without writing
// anything. Builds are not recorded.
func (b *Builder) Validate(ctx context.Context, configPath string) (*Check, error) {
	return b.dryRun(ctx, configPath,
		engine.StageGraph, engine.StageFilter, engine.StagePolicy, engine.StageEmbed)
}

// Graph discovers the dependency graph of a configuration, optionally
// applying the configured and policy exclusions.
func (b *Builder) Graph(ctx context.Context, configPath string, exclude bool) (*Check, error) {
	stages := []engine.Stage{engine.StageGraph}
	if exclude {
		stages = append(stages, engine.StageFilter)
	}
	return b.dryRun(ctx, configPath, stages...)
}

func (b *Builder) dryRun(ctx context.Context, configPath string, stages ...engine.Stage) (*Check, error) {
	r := b.newRun(Options{ConfigPath: configPath})
	if err := r.stage(ctx, engine.StageConfig, r.loadConfig); err != nil {
		return nil, err
	}
	r.open()

	err := r.runSteps(ctx, r.steps(stages...))
	return &Check{
		Config:    r.cfg,
		Graph:     r.graph,
		Filtered:  r.filtered,
		Exclusion: r.exclusion,
		Policy:    r.verdict,
		Warnings:  r.warnings,
	}, err
}
