package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Severity represents the severity level of a policy finding.
type Severity string

const (
	// SeverityWarning is reported in the build report and never blocks a build.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the build before anything is written.
	SeverityError Severity = "error"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to deny results that do not set their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single policy finding.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Module is the module or resource the finding refers to, if any.
	Module string `json:"module,omitempty"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Severity is the finding severity.
	Severity Severity `json:"severity"`
}

// String formats the violation for error messages.
func (v Violation) String() string {
	if v.Module != "" {
		return fmt.Sprintf("%s: %s (%s)", v.Policy, v.Message, v.Module)
	}
	return fmt.Sprintf("%s: %s", v.Policy, v.Message)
}

// Result is the outcome of evaluating every enabled policy against one input.
type Result struct {
	// Allowed is false when any finding has error severity.
	Allowed bool `json:"allowed"`

	// Violations lists blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// Exclusions is the union of every exclude set, sorted.
	Exclusions []string `json:"exclusions,omitempty"`

	// EvaluatedPolicies lists the names of the policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Err returns a config error listing every blocking violation, or nil.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.String())
	}
	return engine.NewConfigError("build denied by policy: "+strings.Join(msgs, "; "), nil).
		WithCode(engine.ErrCodePolicyDenied)
}

// PackWarnings converts the non-blocking findings into build warnings.
func (r *Result) PackWarnings() []*engine.PackError {
	out := make([]*engine.PackError, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, engine.NewPolicyWarning(w.Policy, w.Module, w.Message))
	}
	return out
}

// Input is the document policies are evaluated against, exposed to Rego as
// `input`.
type Input struct {
	Name      string          `json:"name"`
	Program   string          `json:"program"`
	Entry     string          `json:"entry"`
	Layout    string          `json:"layout"`
	Extract   string          `json:"extract"`
	Console   bool            `json:"console"`
	Exclude   []string        `json:"exclude"`
	Modules   []ModuleInput   `json:"modules"`
	Resources []ResourceInput `json:"resources"`
}

// ModuleInput describes one graph node.
type ModuleInput struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	LogicalPath string `json:"logical_path,omitempty"`
	Path        string `json:"path,omitempty"`
	Size        int64  `json:"size"`
	Unresolved  bool   `json:"unresolved"`
}

// ResourceInput describes one configured resource.
type ResourceInput struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Mode   string `json:"mode"`
}

// WithGraph returns a copy of the input whose modules are the graph's
// nodes, in name order.
func (in Input) WithGraph(g *engine.ModuleGraph) Input {
	nodes := g.Nodes()
	in.Modules = make([]ModuleInput, 0, len(nodes))
	for _, n := range nodes {
		m := ModuleInput{
			Name:        n.Name,
			Kind:        string(n.Kind),
			LogicalPath: n.LogicalPath,
			Path:        n.Path,
			Unresolved:  n.Unresolved,
		}
		if n.Path != "" {
			if info, err := os.Stat(n.Path); err == nil {
				m.Size = info.Size()
			}
		}
		in.Modules = append(in.Modules, m)
	}
	in.Exclude = append([]string{}, in.Exclude...)
	sort.Strings(in.Exclude)
	return in
}
