package engine

import (
	"fmt"
	"time"
)

// BuildStatus represents the overall status of a build.
type BuildStatus string

const (
	// BuildStatusRunning indicates the build is in progress.
	BuildStatusRunning BuildStatus = "running"

	// BuildStatusSucceeded indicates the artifact was written.
	BuildStatusSucceeded BuildStatus = "succeeded"

	// BuildStatusFailed indicates the build stopped and no artifact was written.
	BuildStatusFailed BuildStatus = "failed"
)

// IsTerminal returns true if the build status represents a final state.
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSucceeded || s == BuildStatusFailed
}

// Validate checks if the build status is valid.
func (s BuildStatus) Validate() error {
	switch s {
	case BuildStatusRunning, BuildStatusSucceeded, BuildStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid build status: %s", s)
	}
}

// Stage names a step of the build pipeline.
type Stage string

const (
	StageConfig   Stage = "config"
	StageGraph    Stage = "graph"
	StageFilter   Stage = "filter"
	StagePolicy   Stage = "policy"
	StageEmbed    Stage = "embed"
	StageAssemble Stage = "assemble"
	StageWrite    Stage = "write"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageConfig, StageGraph, StageFilter, StagePolicy, StageEmbed, StageAssemble, StageWrite}

// BuildRecord is the persisted summary of a single build.
type BuildRecord struct {
	// ID is the unique build identifier.
	ID string `json:"id"`

	// Name is the artifact name.
	Name string `json:"name"`

	// ConfigPath is the build configuration that was used.
	ConfigPath string `json:"config_path"`

	// Status is the build status.
	Status BuildStatus `json:"status"`

	// ArtifactPath is where the artifact was written.
	ArtifactPath string `json:"artifact_path,omitempty"`

	// IndexDigest is the hex sha256 of the payload index; identical for unchanged inputs.
	IndexDigest string `json:"index_digest,omitempty"`

	// ArtifactSize is the artifact size in bytes.
	ArtifactSize int64 `json:"artifact_size"`

	// Modules is the number of modules in the payload.
	Modules int `json:"modules"`

	// Excluded is the number of modules removed by the exclusion filter.
	Excluded int `json:"excluded"`

	// Warnings holds non-fatal warnings raised during the build.
	Warnings []*PackError `json:"warnings,omitempty"`

	// Error is the failure message for failed builds.
	Error string `json:"error,omitempty"`

	// StartedAt is when the build started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the build finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the build duration, or zero while running.
func (b *BuildRecord) Duration() time.Duration {
	if b.CompletedAt == nil {
		return 0
	}
	return b.CompletedAt.Sub(b.StartedAt)
}
