// Package engine provides the core types of the froyopack build pipeline:
// the module dependency graph, the parallel graph builder and the exclusion filter.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a pipeline error.
type ErrorClass string

const (
	// ErrorClassConfig indicates a malformed build configuration or an unknown embedding mode.
	// Raised before anything is written.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassResourceMissing indicates a resource source file that does not exist.
	// The build is aborted and no artifact is produced.
	ErrorClassResourceMissing ErrorClass = "resource_missing"

	// ErrorClassGraphWarning indicates a reference the graph builder could not resolve.
	// Never fatal; collected into the build report.
	ErrorClassGraphWarning ErrorClass = "graph_warning"

	// ErrorClassCorruptArtifact indicates a missing or invalid footer, magic or index checksum.
	ErrorClassCorruptArtifact ErrorClass = "corrupt_artifact"

	// ErrorClassCleanupWarning indicates the extraction directory could not be removed.
	// Logged only; never changes the program's exit code.
	ErrorClassCleanupWarning ErrorClass = "cleanup_warning"

	// ErrorClassPolicyWarning is a non-blocking finding of a build policy.
	ErrorClassPolicyWarning ErrorClass = "policy_warning"

	// ErrorClassInternal indicates an I/O or encoding failure inside the pipeline.
	ErrorClassInternal ErrorClass = "internal"
)

// PackError represents a classified error with context.
type PackError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Module is the module or resource name the error refers to, if applicable.
	Module string `json:"module,omitempty"`

	// Path is the file path the error refers to, if applicable.
	Path string `json:"path,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *PackError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Module != "" {
		msg += fmt.Sprintf(" (module=%s)", e.Module)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PackError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *PackError) Is(target error) bool {
	t, ok := target.(*PackError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, err error) *PackError {
	return &PackError{
		Class:   ErrorClassConfig,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewResourceMissingError creates an error for a resource source that does not exist.
func NewResourceMissingError(name, path string, err error) *PackError {
	return &PackError{
		Class:   ErrorClassResourceMissing,
		Message: "resource source not found",
		Code:    ErrCodeNotFound,
		Module:  name,
		Path:    path,
		Err:     err,
	}
}

// NewGraphResolutionWarning creates a warning for an unresolved or ambiguous reference.
func NewGraphResolutionWarning(module, message string) *PackError {
	return &PackError{
		Class:   ErrorClassGraphWarning,
		Message: message,
		Code:    ErrCodeUnresolved,
		Module:  module,
	}
}

// NewPolicyWarning creates a warning raised by a build policy.
func NewPolicyWarning(policy, module, message string) *PackError {
	return &PackError{
		Class:   ErrorClassPolicyWarning,
		Message: message,
		Code:    ErrCodePolicyWarning,
		Module:  module,
		Details: map[string]interface{}{"policy": policy},
	}
}

// NewCorruptArtifactError creates an error for an artifact that fails validation.
func NewCorruptArtifactError(message string, err error) *PackError {
	return &PackError{
		Class:   ErrorClassCorruptArtifact,
		Message: message,
		Code:    ErrCodeCorrupt,
		Err:     err,
	}
}

// NewCleanupWarning creates a warning for a failed extraction cleanup.
func NewCleanupWarning(path string, err error) *PackError {
	return &PackError{
		Class:   ErrorClassCleanupWarning,
		Message: "failed to remove extraction directory",
		Code:    ErrCodeCleanup,
		Path:    path,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *PackError {
	return &PackError{
		Class:   ErrorClassInternal,
		Message: message,
		Code:    ErrCodeInternal,
		Err:     err,
	}
}

// WithModule adds module context to an error.
func (e *PackError) WithModule(name string) *PackError {
	e.Module = name
	return e
}

// WithPath adds file path context to an error.
func (e *PackError) WithPath(path string) *PackError {
	e.Path = path
	return e
}

// WithCode adds an error code to an error.
func (e *PackError) WithCode(code string) *PackError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *PackError) WithDetail(key string, value interface{}) *PackError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first PackError in the chain.
func ClassOf(err error) (ErrorClass, bool) {
	var e *PackError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsConfigError returns true if the error is a configuration error.
func IsConfigError(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == ErrorClassConfig
}

// IsResourceMissing returns true if the error reports a missing resource source.
func IsResourceMissing(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == ErrorClassResourceMissing
}

// IsCorrupt returns true if the error reports a corrupt artifact.
func IsCorrupt(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == ErrorClassCorruptArtifact
}

// IsWarning returns true if the error is a non-fatal warning.
// Graph resolution, policy and cleanup warnings are never escalated.
func IsWarning(err error) bool {
	c, ok := ClassOf(err)
	return ok && (c == ErrorClassGraphWarning || c == ErrorClassPolicyWarning || c == ErrorClassCleanupWarning)
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnresolved    = "UNRESOLVED_REFERENCE"
	ErrCodeDynamic       = "DYNAMIC_REFERENCE"
	ErrCodeCorrupt       = "CORRUPT_ARTIFACT"
	ErrCodeChecksum      = "CHECKSUM_MISMATCH"
	ErrCodeCleanup       = "CLEANUP_FAILED"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeUnknownMode   = "UNKNOWN_EMBED_MODE"
	ErrCodePolicyDenied  = "POLICY_DENIED"
	ErrCodePolicyWarning = "POLICY_WARNING"
)
