package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/errdefs"
)

// Engine evaluates Rego policies against access requests. It implements
// engine.Authorizer.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
	paths    []string
	loader   *Loader
	onDeny   func(engine.AccessRequest, string)
}

var _ engine.Authorizer = (*Engine)(nil)

type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l.With().Str("component", "policy-engine").Logger() }
}

// WithPaths adds policy files or directories loaded after the built-in
// policies. A file policy replaces a built-in one of the same name.
func WithPaths(paths ...string) Option {
	return func(e *Engine) { e.paths = append(e.paths, paths...) }
}

// WithDenyHook sets a function called with every refused request and the
// reason.
func WithDenyHook(fn func(engine.AccessRequest, string)) Option {
	return func(e *Engine) { e.onDeny = fn }
}

// NewEngine creates a policy engine with the built-in policies and those
// found under the configured paths.
func NewEngine(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.loader = NewLoader(e.logger)

	if err := e.ReloadPolicies(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Authorize refuses req when any enabled policy denies it. Evaluation
// failures refuse the request too.
func (e *Engine) Authorize(ctx context.Context, req engine.AccessRequest) error {
	d, err := e.Evaluate(ctx, req)
	if err != nil {
		return errdefs.Wrap(errdefs.ClassSecurity, errdefs.CodeAccessDenied, "policy evaluation failed", err).
			WithAddress(req.Address.String()).
			WithOperation(req.Operation)
	}
	if d.Allowed {
		return nil
	}

	msgs := make([]string, len(d.Denials))
	names := make([]string, len(d.Denials))
	for i, den := range d.Denials {
		msgs[i] = den.Message
		names[i] = den.Policy
	}
	reason := strings.Join(msgs, "; ")
	e.logger.Warn().
		Str("user", req.Caller.User).
		Str("operation", req.Operation).
		Str("address", req.Address.String()).
		Strs("policies", names).
		Msg("Access denied")
	if e.onDeny != nil {
		e.onDeny(req, reason)
	}
	return errdefs.New(errdefs.ClassSecurity, errdefs.CodeAccessDenied, reason).
		WithAddress(req.Address.String()).
		WithOperation(req.Operation).
		WithDetail("policies", names)
}

// Evaluate runs every enabled policy against req.
func (e *Engine) Evaluate(ctx context.Context, req engine.AccessRequest) (*Decision, error) {
	started := time.Now()
	input := NewInput(req)

	e.mu.RLock()
	defer e.mu.RUnlock()

	d := &Decision{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		d.EvaluatedPolicies = append(d.EvaluatedPolicies, name)

		denials, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		d.Denials = append(d.Denials, denials...)
	}
	d.Allowed = len(d.Denials) == 0
	d.Duration = time.Since(started)
	return d, nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Denial, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var out []Denial
	for _, result := range rs {
		if len(result.Expressions) == 0 {
			continue
		}
		set, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, v := range set {
			out = append(out, Denial{Policy: cp.policy.Name, Message: denialMessage(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Message < out[j].Message })
	return out, nil
}

func denialMessage(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if msg, ok := t["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", v)
}

// compile parses p and prepares the query of its deny set.
func (e *Engine) compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	query := module.Package.Path.String() + ".deny"

	pq, err := rego.New(
		rego.Module(p.Name+".rego", p.Rego),
		rego.Store(e.store),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}
	return &compiledPolicy{policy: p, query: pq, compiled: time.Now()}, nil
}

// ReloadPolicies recompiles the built-in policies and rereads the
// configured paths. On error the previous policies stay in effect.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	policies := GetBuiltinPolicies()
	if len(e.paths) > 0 {
		e.loader.ClearCache()
		loaded, err := e.loader.LoadFromPaths(ctx, e.paths)
		if err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
		policies = append(policies, loaded...)
	}
	return e.replace(ctx, policies)
}

// SetPolicies replaces the custom policies, keeping the built-in ones
// unless a custom policy shares their name.
func (e *Engine) SetPolicies(ctx context.Context, custom []Policy) error {
	return e.replace(ctx, append(GetBuiltinPolicies(), custom...))
}

func (e *Engine) replace(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = time.Now()
		}
		cp, err := e.compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// enabled flags survive a reload
	for name, cp := range compiled {
		if old, ok := e.policies[name]; ok && !old.policy.Enabled {
			cp.policy.Enabled = false
		}
	}
	e.policies = compiled
	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded")
	return nil
}

// Watch reloads the policies whenever a file under the configured paths
// changes, until ctx is done.
func (e *Engine) Watch(ctx context.Context) error {
	if len(e.paths) == 0 {
		return nil
	}
	return e.loader.Watch(ctx, e.paths, func(custom []Policy) error {
		return e.SetPolicies(ctx, custom)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
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
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// sortedNames must be called with mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
