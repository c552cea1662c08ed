// Package report reads and writes the build report: one JSON record per
// line describing a single build, written next to the artifact as
// <name>.report.jsonl.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// RecordType identifies the payload of a report line.
type RecordType string

const (
	// RecordTypeBuild opens the report.
	RecordTypeBuild RecordType = "build"

	// RecordTypeStage reports a finished pipeline stage.
	RecordTypeStage RecordType = "stage"

	// RecordTypeModule lists a module that made it into the payload.
	RecordTypeModule RecordType = "module"

	// RecordTypeExclusion lists the result of the exclusion filter.
	RecordTypeExclusion RecordType = "exclusion"

	// RecordTypeWarning carries a non-fatal warning.
	RecordTypeWarning RecordType = "warning"

	// RecordTypeSummary closes the report with the build record.
	RecordTypeSummary RecordType = "summary"
)

// Validate checks if the record type is valid.
func (t RecordType) Validate() error {
	switch t {
	case RecordTypeBuild, RecordTypeStage, RecordTypeModule, RecordTypeExclusion,
		RecordTypeWarning, RecordTypeSummary:
		return nil
	default:
		return fmt.Errorf("unknown record type: %s", t)
	}
}

// Record is a single report line.
type Record struct {
	Type      RecordType      `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// BuildHeader opens a report.
type BuildHeader struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ConfigPath string `json:"config_path"`
	Program    string `json:"program"`
	Entry      string `json:"entry"`
}

// StageRecord reports a finished pipeline stage.
type StageRecord struct {
	Stage      engine.Stage `json:"stage"`
	DurationMS int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
}

// ModuleRecord describes a module in the payload.
type ModuleRecord struct {
	Name        string            `json:"name"`
	Kind        engine.ModuleKind `json:"kind"`
	LogicalPath string            `json:"logical_path,omitempty"`
	Unresolved  bool              `json:"unresolved,omitempty"`
}

// ExclusionRecord is the outcome of the exclusion filter plus the patterns
// that were applied.
type ExclusionRecord struct {
	Patterns []string `json:"patterns"`
	engine.ExclusionReport
}
