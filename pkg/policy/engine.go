package policy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Engine evaluates builtin and user policies. User policies can be
// replaced at runtime; builtin policies stay loaded.
type Engine struct {
	mu       sync.RWMutex
	builtin  []*compiledPolicy
	user     []*compiledPolicy
	logger   zerolog.Logger
	loadedAt time.Time
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with the builtin policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		cp, err := compile(context.Background(), &builtins[i])
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
		e.builtin = append(e.builtin, cp)
	}

	e.logger.Debug().Int("count", len(e.builtin)).Msg("Built-in policies loaded")
	return e, nil
}

// compile parses the module and prepares data.<package>.deny.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{policy: policy, query: query}, nil
}

// Evaluate runs every enabled policy against input. A policy that fails to
// evaluate is reported as a warning and does not block.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Decision, error) {
	start := time.Now()
	e.mu.RLock()
	policies := make([]*compiledPolicy, 0, len(e.builtin)+len(e.user))
	policies = append(policies, e.builtin...)
	policies = append(policies, e.user...)
	e.mu.RUnlock()

	decision := &Decision{Allowed: true, EvaluatedPolicies: []string{}}
	for _, cp := range policies {
		if !cp.policy.Enabled {
			continue
		}
		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, cp.policy.Name)

		violations, err := evaluate(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Str("resource", input.Resource.ID).
				Msg("Policy evaluation failed")
			decision.Warnings = append(decision.Warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		for _, v := range violations {
			if v.Severity.Blocking() {
				decision.Allowed = false
			}
		}
		decision.Violations = append(decision.Violations, violations...)
	}
	decision.Duration = time.Since(start)

	e.logger.Debug().
		Str("resource_id", input.Resource.ID).
		Str("operation", input.Operation).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Dur("duration", decision.Duration).
		Msg("Policy evaluation completed")

	return decision, nil
}

func evaluate(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy, d, input))
		}
	}
	return violations, nil
}

// newViolation reads a deny entry, which is either a message string or an
// object with message and optional severity and resource.
func newViolation(policy *Policy, result interface{}, input Input) Violation {
	v := Violation{
		Policy:   policy.Name,
		Resource: input.Resource.ID,
		Severity: policy.Severity,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if res, ok := r["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	if v.Message == "" {
		v.Message = "denied by policy " + policy.Name
	}
	return v
}

// SetPolicies replaces the user policies. Every policy is compiled first;
// if any fails the previous set stays active.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		p := policies[i]
		if p.Severity == "" {
			p.Severity = SeverityError
		}
		cp, err := compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled = append(compiled, cp)
	}
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].policy.Name < compiled[j].policy.Name })

	e.mu.Lock()
	e.user = compiled
	e.loadedAt = time.Now()
	e.mu.Unlock()

	e.logger.Info().Int("count", len(compiled)).Msg("User policies loaded")
	return nil
}

// LoadDir loads every policy under dir. An empty or missing dir is a no-op.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	policies, err := loadDir(dir, e.logger)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Debug().Str("dir", dir).Msg("Policy directory does not exist")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.SetPolicies(ctx, policies)
}

// Watch reloads the user policies whenever a file under dir changes. It
// stops when ctx is done.
func (e *Engine) Watch(ctx context.Context, dir string) error {
	return watchDir(ctx, dir, e.logger, func(policies []Policy) error {
		return e.SetPolicies(ctx, policies)
	})
}

// ListPolicies returns builtin policies followed by user policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.builtin)+len(e.user))
	for _, cp := range e.builtin {
		out = append(out, *cp.policy)
	}
	for _, cp := range e.user {
		out = append(out, *cp.policy)
	}
	return out
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	for _, p := range e.ListPolicies() {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("policy not found: %s", name)
}

// LoadedAt returns when the user policies were last replaced.
func (e *Engine) LoadedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadedAt
}
