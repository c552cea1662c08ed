package report

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/openfroyo/froyopack/pkg/engine"
)

func sampleGraph() *engine.ModuleGraph {
	g := engine.NewModuleGraph("app")
	g.AddNode(&engine.ModuleNode{Name: "app", Path: "/src/app.py", LogicalPath: "app.py", Kind: engine.KindCode})
	g.AddNode(&engine.ModuleNode{Name: "helper", Path: "/src/helper.py", LogicalPath: "helper.py", Kind: engine.KindCode})
	g.AddNode(&engine.ModuleNode{Name: "plugins.extra", Kind: engine.KindCode, Unresolved: true, Reason: "not found"})
	_ = g.AddEdge("app", "helper")
	_ = g.AddEdge("app", "plugins.extra")
	return g
}

func TestReport_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	done := started.Add(time.Second)
	warning := engine.NewGraphResolutionWarning("plugins.extra", "module not found on search path")
	summary := &engine.BuildRecord{
		ID:          "b-1",
		Name:        "app",
		Status:      engine.BuildStatusSucceeded,
		IndexDigest: "abc",
		Modules:     2,
		Excluded:    1,
		Warnings:    []*engine.PackError{warning},
		StartedAt:   started,
		CompletedAt: &done,
	}
	policy := engine.NewExclusionPolicy("unittest", "tkinter")
	exclusion := &engine.ExclusionReport{Excluded: []string{"unittest"}, UnusedPatterns: []string{"tkinter"}, Retained: 3}

	steps := []func() error{
		func() error {
			return enc.EncodeBuild(&BuildHeader{ID: "b-1", Name: "app", ConfigPath: "froyopack.cue", Program: "python", Entry: "app.py"})
		},
		func() error { return enc.EncodeStage(engine.StageGraph, 120*time.Millisecond, nil) },
		func() error { return enc.EncodeExclusion(policy, exclusion) },
		func() error { return enc.EncodeGraph(sampleGraph()) },
		func() error { return enc.EncodeWarnings([]*engine.PackError{warning}) },
		func() error { return enc.EncodeStage(engine.StageWrite, 5*time.Millisecond, nil) },
		func() error { return enc.EncodeSummary(summary) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}

	if lines := strings.Count(buf.String(), "\n"); lines != 9 {
		t.Errorf("expected 9 lines, got %d", lines)
	}

	rep, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !rep.Complete() {
		t.Error("expected a complete report")
	}
	if rep.Build.Entry != "app.py" {
		t.Errorf("unexpected header %+v", rep.Build)
	}

	wantStages := []StageRecord{{Stage: engine.StageGraph, DurationMS: 120}, {Stage: engine.StageWrite, DurationMS: 5}}
	if diff := cmp.Diff(wantStages, rep.Stages); diff != "" {
		t.Errorf("stages mismatch (-want +got):\n%s", diff)
	}

	gotModules := []string{}
	for _, m := range rep.Modules {
		gotModules = append(gotModules, m.Name)
	}
	if diff := cmp.Diff([]string{"app", "helper", "plugins.extra"}, gotModules); diff != "" {
		t.Errorf("modules mismatch (-want +got):\n%s", diff)
	}
	if !rep.Modules[2].Unresolved {
		t.Error("expected plugins.extra to be unresolved")
	}

	if diff := cmp.Diff([]string{"tkinter", "unittest"}, rep.Exclusion.Patterns); diff != "" {
		t.Errorf("patterns mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(*exclusion, rep.Exclusion.ExclusionReport); diff != "" {
		t.Errorf("exclusion mismatch (-want +got):\n%s", diff)
	}

	ignoreErr := cmpopts.IgnoreFields(engine.PackError{}, "Err")
	if diff := cmp.Diff([]*engine.PackError{warning}, rep.Warnings, ignoreErr); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(summary, rep.Summary, ignoreErr); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "not json", input: "{oops\n"},
		{name: "unknown type", input: `{"type":"chatter","ts":"2026-03-01T10:00:00Z"}` + "\n"},
		{name: "no header", input: `{"type":"stage","ts":"2026-03-01T10:00:00Z","data":{"stage":"graph"}}` + "\n"},
		{name: "bad payload", input: `{"type":"build","ts":"2026-03-01T10:00:00Z","data":{"name":7}}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRead_Incomplete(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.EncodeBuild(&BuildHeader{Name: "app"}); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := enc.EncodeStage(engine.StageEmbed, time.Millisecond, engine.NewResourceMissingError("icon", "icon.ico", nil)); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	rep, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rep.Complete() {
		t.Error("expected an incomplete report")
	}
	if len(rep.Stages) != 1 || !strings.Contains(rep.Stages[0].Error, "icon") {
		t.Errorf("expected the failed stage to be recorded, got %+v", rep.Stages)
	}
}

func TestEncoder_InvalidType(t *testing.T) {
	if err := NewEncoder(io.Discard).Encode("chatter", nil); err == nil {
		t.Error("expected error for unknown record type")
	}
}

func TestDecoder_SkipsBlankLines(t *testing.T) {
	dec := NewDecoder(strings.NewReader("\n" + `{"type":"build","ts":"2026-03-01T10:00:00Z"}` + "\n\n"))
	rec, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.Type != RecordTypeBuild {
		t.Errorf("unexpected record %s", rec.Type)
	}
	if _, err := dec.Decode(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
