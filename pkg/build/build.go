// Package build runs the packaging pipeline for one build configuration:
// dependency discovery, exclusion, policy checks, resource embedding,
// payload assembly and the final write of the artifact.
//
// Stages run in order and the first fatal error stops the build before
// anything is written. Warnings are collected on the build record and in the
// build report, never returned as errors.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/analyzers"
	"github.com/openfroyo/froyopack/pkg/archive"
	"github.com/openfroyo/froyopack/pkg/config"
	"github.com/openfroyo/froyopack/pkg/engine"
	"github.com/openfroyo/froyopack/pkg/policy"
	"github.com/openfroyo/froyopack/pkg/report"
	"github.com/openfroyo/froyopack/pkg/resources"
	"github.com/openfroyo/froyopack/pkg/resources/wasmenc"
	"github.com/openfroyo/froyopack/pkg/stores"
	"github.com/openfroyo/froyopack/pkg/telemetry"
)

// Options tunes one build.
type Options struct {
	// ConfigPath is the build configuration file.
	ConfigPath string

	// Clean removes the work and dist directories before building.
	Clean bool

	// Stub overrides the configured bootstrap stub.
	Stub string

	// Jobs overrides the configured number of discovery workers.
	Jobs int

	// Progress is called as payload entries are compressed.
	Progress archive.ProgressFunc
}

// Result describes a finished build.
type Result struct {
	Config    *config.BuildConfig
	Record    *engine.BuildRecord
	Artifact  *archive.Artifact
	Graph     *engine.ModuleGraph
	Exclusion *engine.ExclusionReport
	Policy    *policy.Result

	// ReportPath is where the build report was written, if anywhere.
	ReportPath string

	// Unchanged is set when the payload digest equals the last successful
	// build of the same artifact.
	Unchanged bool
}

// Builder runs builds. It is safe to reuse across builds but not to run
// builds concurrently on one Builder.
type Builder struct {
	telemetry *telemetry.Telemetry
	recorder  engine.BuildRecorder
	logger    zerolog.Logger

	loader *config.Loader

	// executable returns the default stub.
	executable func() (string, error)
}

// NewBuilder creates a builder. recorder may be nil, in which case no build
// history is kept.
func NewBuilder(t *telemetry.Telemetry, recorder engine.BuildRecorder) *Builder {
	if t == nil {
		t = telemetry.Nop()
	}
	return &Builder{
		telemetry:  t,
		recorder:   recorder,
		logger:     t.Logger.With().Str("component", "builder").Logger(),
		loader:     config.NewLoader(),
		executable: os.Executable,
	}
}

// run holds the state of one build.
type run struct {
	b    *Builder
	opts Options

	cfg      *config.BuildConfig
	record   *engine.BuildRecord
	policies *policy.Engine
	warnings []*engine.PackError

	buf       bytes.Buffer
	report    *report.Encoder
	configDur time.Duration
	opened    bool

	graph     *engine.ModuleGraph
	filtered  *engine.ModuleGraph
	exclusion *engine.ExclusionReport
	verdict   *policy.Result
	embedded  *resources.Embedded
	payload   *archive.Payload
	artifact  *archive.Artifact
}

func (b *Builder) newRun(opts Options) *run {
	r := &run{b: b, opts: opts}
	r.report = report.NewEncoder(&r.buf)
	return r
}

// stage runs fn instrumented as one pipeline stage.
func (r *run) stage(ctx context.Context, stage engine.Stage, fn func(ctx context.Context, logger zerolog.Logger) error) error {
	sc := r.b.telemetry.StartStage(ctx, stage)
	err := fn(sc.Ctx, sc.Logger)
	d := sc.End(err)
	if !r.opened {
		// The report opens once the configuration is known.
		r.configDur = d
		return err
	}
	_ = r.report.EncodeStage(stage, d, err)
	return err
}

// Build runs the whole pipeline. On failure no artifact is written; the
// partial report is left in the work directory and the failed build is
// recorded.
func (b *Builder) Build(ctx context.Context, opts Options) (*Result, error) {
	r := b.newRun(opts)

	if err := r.stage(ctx, engine.StageConfig, r.loadConfig); err != nil {
		b.telemetry.Metrics.RecordError(err)
		return nil, err
	}

	ctx, span := b.telemetry.Tracer.StartBuildSpan(ctx, r.cfg.Name, r.cfg.SourcePath)
	defer span.End()

	r.start(ctx)

	err := r.execute(ctx)
	res := r.finish(ctx, err)
	if err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}
	telemetry.RecordSuccess(span)
	return res, nil
}

// open starts reporting stages, beginning with the configuration stage.
func (r *run) open() {
	r.opened = true
	_ = r.report.EncodeStage(engine.StageConfig, r.configDur, nil)
}

type step struct {
	stage engine.Stage
	fn    func(context.Context, zerolog.Logger) error
}

func (r *run) steps(stages ...engine.Stage) []step {
	fns := map[engine.Stage]func(context.Context, zerolog.Logger) error{
		engine.StageGraph:    r.buildGraph,
		engine.StageFilter:   r.filter,
		engine.StagePolicy:   r.checkPolicies,
		engine.StageEmbed:    r.embed,
		engine.StageAssemble: r.assemble,
		engine.StageWrite:    r.write,
	}
	out := make([]step, 0, len(stages))
	for _, s := range stages {
		out = append(out, step{stage: s, fn: fns[s]})
	}
	return out
}

func (r *run) execute(ctx context.Context) error {
	return r.runSteps(ctx, r.steps(engine.Stages[1:]...))
}

func (r *run) runSteps(ctx context.Context, steps []step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.stage(ctx, s.stage, s.fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) loadConfig(ctx context.Context, logger zerolog.Logger) error {
	cfg, err := r.b.loader.Load(r.opts.ConfigPath)
	if err != nil {
		return err
	}
	if r.opts.Stub != "" {
		cfg.Stub = r.opts.Stub
	}
	if r.opts.Jobs > 0 {
		cfg.Jobs = r.opts.Jobs
	}
	r.cfg = cfg

	if r.opts.Clean {
		if err := clean(cfg, logger); err != nil {
			return err
		}
	}

	policies, err := policy.NewEngine(r.b.logger)
	if err != nil {
		return engine.NewInternalError("failed to start policy engine", err)
	}
	if err := policies.LoadPolicies(ctx, cfg.Policies); err != nil {
		return err
	}
	r.policies = policies

	logger.Info().Str("name", cfg.Name).Str("entry", cfg.Entry).Str("kind", cfg.Kind).Msg("configuration loaded")
	return nil
}

// start opens the build record and the report.
func (r *run) start(ctx context.Context) {
	r.record = &engine.BuildRecord{
		ID:         uuid.NewString(),
		Name:       r.cfg.Name,
		ConfigPath: r.cfg.SourcePath,
		Status:     engine.BuildStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	_ = r.report.EncodeBuild(&report.BuildHeader{
		ID:         r.record.ID,
		Name:       r.cfg.Name,
		ConfigPath: r.cfg.SourcePath,
		Program:    r.cfg.Kind,
		Entry:      r.cfg.Entry,
	})
	r.open()
	r.save(ctx)
}

func (r *run) buildGraph(ctx context.Context, logger zerolog.Logger) error {
	analyzer, err := analyzers.New(r.cfg.Kind, r.cfg.Paths)
	if err != nil {
		return engine.NewConfigError("no analyzer for program", err).WithPath(r.cfg.SourcePath)
	}

	graph, err := engine.NewGraphBuilder(analyzer, r.cfg.Jobs, r.b.logger).Build(ctx, r.cfg.Entry)
	if err != nil {
		return err
	}
	r.graph = graph
	r.warnings = append(r.warnings, graph.Warnings()...)

	for _, c := range graph.Cycles() {
		logger.Debug().Str("cycle", engine.FormatCycle(c)).Msg("import cycle")
	}
	logger.Info().Int("modules", graph.Len()).Int("unresolved", len(graph.Unresolved())).Msg("dependency graph built")
	return r.report.EncodeGraph(graph)
}

func (r *run) filter(ctx context.Context, logger zerolog.Logger) error {
	filtered, rep, pol, err := r.b.exclude(ctx, r.cfg, r.policies, r.graph)
	if err != nil {
		return err
	}
	r.filtered, r.exclusion = filtered, rep

	for _, p := range rep.UnusedPatterns {
		logger.Warn().Str("pattern", p).Msg("exclusion pattern matched no module")
	}
	logger.Info().
		Int("excluded", len(rep.Excluded)).
		Int("pruned", len(rep.Pruned)).
		Int("retained", rep.Retained).
		Msg("exclusions applied")
	return r.report.EncodeExclusion(pol, rep)
}

// exclude unions the configured patterns with the policy exclude rules and
// filters the graph.
func (b *Builder) exclude(ctx context.Context, cfg *config.BuildConfig, policies *policy.Engine, graph *engine.ModuleGraph) (*engine.ModuleGraph, *engine.ExclusionReport, engine.ExclusionPolicy, error) {
	patterns := append([]string{}, cfg.Exclude...)

	extra, err := policies.ExclusionSource(policyInput(cfg)).Exclusions(ctx, graph)
	if err != nil {
		return nil, nil, engine.ExclusionPolicy{}, err
	}
	patterns = append(patterns, extra...)

	pol := engine.NewExclusionPolicy(patterns...)
	filtered, rep := engine.ApplyExclusions(graph, pol)
	return filtered, rep, pol, nil
}

func (r *run) checkPolicies(ctx context.Context, logger zerolog.Logger) error {
	verdict, err := r.policies.Evaluate(ctx, policyInput(r.cfg).WithGraph(r.filtered))
	if err != nil {
		return err
	}
	r.verdict = verdict
	r.warnings = append(r.warnings, verdict.PackWarnings()...)

	logger.Debug().Strs("policies", verdict.EvaluatedPolicies).Msg("policies evaluated")
	return verdict.Err()
}

func (r *run) embed(ctx context.Context, logger zerolog.Logger) error {
	encoder, release, err := wasmenc.Resolve(ctx, r.cfg.IconEncoder, filepath.Dir(r.cfg.SourcePath), r.b.logger)
	if err != nil {
		return err
	}
	defer release()

	embedded, err := resources.NewEmbedder(encoder, r.b.logger).Embed(r.cfg.Descriptors())
	if err != nil {
		return err
	}
	r.embedded = embedded

	logger.Info().
		Int("native", embedded.Table.Len()).
		Int("bundled", len(embedded.Bundled)).
		Str("encoder", encoder.Name()).
		Msg("resources embedded")
	return nil
}

func (r *run) assemble(ctx context.Context, logger zerolog.Logger) error {
	layout := archive.LayoutOnefile
	if !r.cfg.Onefile {
		layout = archive.LayoutDirectory
	}

	payload, err := archive.NewAssembler(r.cfg.Jobs, r.b.logger).
		WithProgress(r.opts.Progress).
		Assemble(ctx, r.filtered, r.embedded.Bundled, archive.Manifest{
			Name:        r.cfg.Name,
			Program:     r.cfg.Kind,
			Layout:      layout,
			Extract:     r.cfg.Extract,
			Console:     r.cfg.Console,
			Interpreter: r.cfg.Interpreter,
		})
	if err != nil {
		return err
	}
	r.payload = payload

	logger.Info().
		Int("entries", len(payload.Index.Entries)).
		Int64("bytes", payload.Size()).
		Str("digest", payload.Digest()).
		Msg("payload assembled")
	return nil
}

func (r *run) write(ctx context.Context, logger zerolog.Logger) error {
	stub := r.cfg.Stub
	if stub == "" {
		exe, err := r.b.executable()
		if err != nil {
			return engine.NewInternalError("failed to locate the default stub", err)
		}
		stub = exe
	}
	if _, err := os.Stat(stub); err != nil {
		return engine.NewConfigError("bootstrap stub not found", err).WithPath(stub)
	}

	artifact, err := archive.WriteArtifact(ctx, r.payload, archive.WriteOptions{
		Output: r.cfg.ArtifactPath(),
		Stub:   stub,
		Table:  r.embedded.Table,
	})
	if err != nil {
		return err
	}
	r.artifact = artifact

	logger.Info().Str("path", artifact.Path).Int64("bytes", artifact.Size).Msg("artifact written")
	return nil
}

// finish closes the record and the report, whatever the outcome.
func (r *run) finish(ctx context.Context, buildErr error) *Result {
	res := &Result{
		Config:    r.cfg,
		Record:    r.record,
		Artifact:  r.artifact,
		Graph:     r.filtered,
		Exclusion: r.exclusion,
		Policy:    r.verdict,
	}

	done := time.Now().UTC()
	rec := r.record
	rec.CompletedAt = &done
	rec.Warnings = r.warnings
	if r.filtered != nil {
		rec.Modules = r.filtered.Len()
	}
	if r.exclusion != nil {
		rec.Excluded = r.exclusion.Removed()
	}

	if buildErr != nil {
		rec.Status = engine.BuildStatusFailed
		rec.Error = buildErr.Error()
		r.b.telemetry.Metrics.RecordError(buildErr)
	} else {
		rec.Status = engine.BuildStatusSucceeded
		rec.ArtifactPath = r.artifact.Path
		rec.ArtifactSize = r.artifact.Size
		rec.IndexDigest = r.artifact.Digest
		res.Unchanged = r.unchanged(ctx)
	}

	_ = r.report.EncodeWarnings(r.warnings)
	_ = r.report.EncodeSummary(rec)
	res.ReportPath = r.writeReport(buildErr == nil)

	r.save(ctx)
	r.b.telemetry.Metrics.RecordBuild(rec)

	event := r.b.logger.Info()
	if buildErr != nil {
		event = r.b.logger.Error().Err(buildErr)
	}
	event.Str("build_id", rec.ID).
		Str("status", string(rec.Status)).
		Int("warnings", len(rec.Warnings)).
		Dur("duration", rec.Duration()).
		Msg("build finished")
	return res
}

// unchanged compares the digest with the last successful build. It must run
// before the current record is saved as succeeded.
func (r *run) unchanged(ctx context.Context) bool {
	if r.b.recorder == nil {
		return false
	}
	prev, err := r.b.recorder.GetLatestBuild(ctx, r.record.Name)
	if err != nil {
		if !errors.Is(err, stores.ErrNotFound) {
			r.b.logger.Warn().Err(err).Msg("failed to read build history")
		}
		return false
	}
	if prev.IndexDigest != r.record.IndexDigest {
		return false
	}
	r.b.logger.Info().
		Str("previous_build", prev.ID).
		Str("digest", prev.IndexDigest).
		Msg("inputs unchanged since previous build")
	return true
}

// writeReport writes the report next to the artifact, or into the work
// directory when there is no artifact.
func (r *run) writeReport(succeeded bool) string {
	path := filepath.Join(r.cfg.WorkDir, r.cfg.Name+".report.jsonl")
	if succeeded {
		path = report.Path(r.artifact.Path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		r.b.logger.Warn().Err(err).Msg("failed to create report directory")
		return ""
	}
	if err := os.WriteFile(path, r.buf.Bytes(), 0o644); err != nil {
		r.b.logger.Warn().Err(err).Str("path", path).Msg("failed to write build report")
		return ""
	}
	return path
}

// save records the build. History is auxiliary: failures are logged only.
func (r *run) save(ctx context.Context) {
	if r.b.recorder == nil {
		return
	}
	if err := r.b.recorder.SaveBuild(ctx, r.record); err != nil {
		r.b.logger.Warn().Err(err).Str("build_id", r.record.ID).Msg("failed to record build")
	}
}

// clean removes the work and dist directories. A directory holding the
// configuration itself is never removed.
func clean(cfg *config.BuildConfig, logger zerolog.Logger) error {
	root := filepath.Dir(cfg.SourcePath)
	for _, dir := range []string{cfg.WorkDir, cfg.DistDir} {
		if dir == "" {
			continue
		}
		if within(root, dir) {
			return engine.NewConfigError(fmt.Sprintf("refusing to clean %s: it contains the configuration", dir), nil).
				WithPath(cfg.SourcePath)
		}
		if err := os.RemoveAll(dir); err != nil {
			return engine.NewInternalError("failed to clean directory", err).WithPath(dir)
		}
		logger.Debug().Str("dir", dir).Msg("cleaned")
	}
	return nil
}

// within reports whether path is dir or lies beneath it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func policyInput(cfg *config.BuildConfig) policy.Input {
	layout := archive.LayoutOnefile
	if !cfg.Onefile {
		layout = archive.LayoutDirectory
	}
	in := policy.Input{
		Name:    cfg.Name,
		Program: cfg.Kind,
		Entry:   cfg.Entry,
		Layout:  string(layout),
		Extract: cfg.Extract,
		Console: cfg.Console,
		Exclude: cfg.Exclude,
	}
	for _, res := range cfg.Resources {
		in.Resources = append(in.Resources, policy.ResourceInput{Name: res.Name, Source: res.Source, Mode: res.Mode})
	}
	return in
}
