package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyopack/pkg/engine"
)

// Engine evaluates Rego build policies. Each policy package may define
// three rules over `input`:
//
//	deny    set of strings or {message, module, severity} objects
//	warn    set of strings or {message, module} objects
//	exclude set of module names or patterns to drop from the graph
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy represents a prepared Rego policy.
type compiledPolicy struct {
	policy   *Policy
	pkg      string
	query    rego.PreparedEvalQuery
	compiled time.Time
	builtin  bool
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(context.Background(), &builtins[i], true); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	return e, nil
}

// LoadPolicies loads and compiles policy files or directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return engine.NewConfigError("failed to load policies", err)
	}
	return e.SetPolicies(ctx, policies)
}

// SetPolicies replaces every loaded (non built-in) policy. Nothing changes
// if any policy fails to compile.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	staged := make(map[string]*compiledPolicy, len(e.policies)+len(policies))
	for name, cp := range e.policies {
		if cp.builtin {
			staged[name] = cp
		}
	}

	for i := range policies {
		p := policies[i]
		cp, err := compile(ctx, &p)
		if err != nil {
			return engine.NewConfigError(fmt.Sprintf("failed to compile policy %s", p.Name), err).WithPath(p.Source)
		}
		if existing, ok := staged[p.Name]; ok && existing.builtin {
			e.logger.Debug().Str("policy", p.Name).Msg("policy overrides built-in")
		}
		staged[p.Name] = cp
	}

	e.policies = staged
	e.logger.Debug().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// Evaluate runs every enabled policy against the input.
func (e *Engine) Evaluate(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()

	doc, err := toDocument(in)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}
	exclusions := map[string]bool{}

	for _, name := range sortedKeys(e.policies) {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		rules, err := cp.eval(ctx, doc)
		if err != nil {
			return nil, engine.NewConfigError(fmt.Sprintf("policy %s failed to evaluate", name), err)
		}

		for _, d := range asSet(rules["deny"]) {
			v := createViolation(cp.policy, d, cp.policy.Severity)
			if v.Severity == SeverityError {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
		for _, w := range asSet(rules["warn"]) {
			v := createViolation(cp.policy, w, SeverityWarning)
			v.Severity = SeverityWarning
			result.Warnings = append(result.Warnings, v)
		}
		for _, x := range asSet(rules["exclude"]) {
			if s, ok := x.(string); ok && s != "" {
				exclusions[s] = true
			}
		}
	}

	result.Exclusions = sortedKeys(exclusions)
	result.Duration = time.Since(start)

	e.logger.Debug().
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Int("exclusions", len(result.Exclusions)).
		Dur("duration", result.Duration).
		Msg("policy evaluation completed")

	return result, nil
}

// ExclusionSource adapts the engine's exclude rules to the exclusion
// filter. base supplies everything but the modules, which come from the
// graph being filtered.
func (e *Engine) ExclusionSource(base Input) engine.ExclusionSource {
	return &exclusionSource{engine: e, base: base}
}

type exclusionSource struct {
	engine *Engine
	base   Input
}

func (s *exclusionSource) Exclusions(ctx context.Context, graph *engine.ModuleGraph) ([]string, error) {
	result, err := s.engine.Evaluate(ctx, s.base.WithGraph(graph))
	if err != nil {
		return nil, err
	}
	return result.Exclusions, nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies in name order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range sortedKeys(e.policies) {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("policy toggled")
	return nil
}

func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy, builtin bool) error {
	cp, err := compile(ctx, policy)
	if err != nil {
		return err
	}
	cp.builtin = builtin

	e.mu.Lock()
	e.policies[policy.Name] = cp
	e.mu.Unlock()
	return nil
}

// compile parses a policy and prepares a query for its whole package.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	if policy.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}

	module, err := ast.ParseModuleWithOpts(policy.Name+".rego", policy.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	pkg := module.Package.Path.String()

	query, err := rego.New(
		rego.Module(policy.Name+".rego", policy.Rego),
		rego.Query(pkg),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityError
	}

	return &compiledPolicy{
		policy:   policy,
		pkg:      pkg,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// eval returns the rules of the policy package as a document.
func (cp *compiledPolicy) eval(ctx context.Context, input any) (map[string]any, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, nil
	}
	rules, _ := rs[0].Expressions[0].Value.(map[string]any)
	return rules, nil
}

// createViolation converts one deny or warn element into a Violation.
func createViolation(policy *Policy, result any, severity Severity) Violation {
	v := Violation{Policy: policy.Name, Severity: severity}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]any:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if mod, ok := r["module"].(string); ok {
			v.Module = mod
		}
		if sev, ok := r["severity"].(string); ok && (sev == string(SeverityError) || sev == string(SeverityWarning)) {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// asSet returns the elements of a Rego set or array value.
func asSet(v any) []any {
	items, _ := v.([]any)
	return items
}

// toDocument converts the input to plain JSON values.
func toDocument(in Input) (any, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, engine.NewInternalError("failed to encode policy input", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewInternalError("failed to decode policy input", err)
	}
	return doc, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
