package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/webplane/pkg/errdefs"
)

// ErrShutdown is returned by mutating calls after Shutdown.
var ErrShutdown = errors.New("service registry is shut down")

// Registry owns the installed services and drives them towards the state
// implied by their modes and dependencies. All bookkeeping happens under a
// single lock; start and stop callbacks run on their own goroutines outside
// of it.
type Registry struct {
	mu          sync.Mutex
	controllers map[Name]*Controller

	// changed is closed and replaced on every state transition.
	changed chan struct{}

	logger    zerolog.Logger
	listeners []Listener
	pending   []Transition
	notifyMu  sync.Mutex

	baseCtx        context.Context
	cancelAll      context.CancelFunc
	wg             sync.WaitGroup
	reloadRequired bool
	shuttingDown   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l.With().Str("component", "services").Logger() }
}

// WithListener adds a transition listener. Listeners are called in
// transition order and must not call back into the registry.
func WithListener(l Listener) Option {
	return func(r *Registry) { r.listeners = append(r.listeners, l) }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		controllers: make(map[Name]*Controller),
		changed:     make(chan struct{}),
		logger:      zerolog.Nop(),
		baseCtx:     ctx,
		cancelAll:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddListener registers a listener after construction.
func (r *Registry) AddListener(l Listener) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Install adds a service. Dependencies that are not installed yet are
// latent: the service waits for them.
func (r *Registry) Install(desc Descriptor) (*Controller, error) {
	if desc.Name.IsZero() {
		return nil, errdefs.New(errdefs.ClassRuntime, errdefs.CodeSchemaViolation, "service name is required")
	}
	if desc.Mode == "" {
		desc.Mode = ModeActive
	}
	if err := desc.Mode.Validate(); err != nil {
		return nil, errdefs.Wrap(errdefs.ClassRuntime, errdefs.CodeSchemaViolation, "invalid descriptor", err).WithAddress(desc.Name.String())
	}
	if desc.Mode == ModeRemove {
		return nil, errdefs.Runtime(errdefs.CodeSchemaViolation, "cannot install a service in mode %s", ModeRemove).WithAddress(desc.Name.String())
	}
	desc.Dependencies = append([]Dependency(nil), desc.Dependencies...)

	r.mu.Lock()
	defer r.unlock()

	if r.shuttingDown {
		return nil, ErrShutdown
	}
	if _, exists := r.controllers[desc.Name]; exists {
		return nil, errdefs.Runtime(errdefs.CodeDuplicateService, "service %s is already installed", desc.Name).WithAddress(desc.Name.String())
	}

	g := r.graphLocked()
	for _, d := range desc.Dependencies {
		g.addEdge(desc.Name, d.Name)
	}
	g.addNode(desc.Name)
	if cycle := g.detectCycle(); cycle != nil {
		return nil, errdefs.Runtime(errdefs.CodeCyclicDependency, "dependency cycle: %s", formatCycle(cycle)).
			WithAddress(desc.Name.String()).
			WithDetail("cycle", formatCycle(cycle))
	}

	c := &Controller{reg: r, desc: desc, mode: desc.Mode, state: StateDown}
	r.controllers[desc.Name] = c
	r.logger.Debug().Str("service", desc.Name.String()).Str("mode", string(desc.Mode)).Msg("Service installed")

	r.reconcileLocked()
	return c, nil
}

// Lookup returns the controller of an installed service.
func (r *Registry) Lookup(name Name) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[name]
	return c, ok
}

// Names returns the installed service names in order.
func (r *Registry) Names() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedNamesLocked()
}

// Remove sets the service to mode REMOVE. Without cascade it fails with
// ServiceInUse when installed services depend on it; with cascade those
// dependents are removed first. The returned Removal completes when every
// affected service has stopped and left the registry.
func (r *Registry) Remove(name Name, cascade bool) (*Removal, error) {
	r.mu.Lock()
	defer r.unlock()
	return r.removeLocked(name, cascade)
}

func (r *Registry) removeLocked(name Name, cascade bool) (*Removal, error) {
	c, ok := r.controllers[name]
	if !ok {
		return nil, errdefs.Runtime(errdefs.CodeServiceNotFound, "service %s is not installed", name).WithAddress(name.String())
	}

	targets := []*Controller{c}
	if cascade {
		for _, dn := range r.transitiveDependentsLocked(name) {
			targets = append(targets, r.controllers[dn])
		}
	} else if users := r.blockingDependentsLocked(name); len(users) > 0 {
		return nil, errdefs.Runtime(errdefs.CodeServiceInUse, "service %s is required by %s", name, joinNames(users)).
			WithAddress(name.String()).
			WithDetail("dependents", namesToStrings(users))
	}

	rem := &Removal{done: make(chan struct{}), remaining: len(targets)}
	sub := newDependencyGraph()
	set := make(map[Name]bool, len(targets))
	for _, t := range targets {
		set[t.desc.Name] = true
	}
	for _, t := range targets {
		sub.addNode(t.desc.Name)
		for _, d := range t.desc.Dependencies {
			if set[d.Name] {
				sub.addEdge(t.desc.Name, d.Name)
			}
		}
	}
	rem.order = sub.stopOrder()

	for _, t := range targets {
		t.mode = ModeRemove
		t.removals = append(t.removals, rem)
	}
	r.logger.Debug().Str("service", name.String()).Bool("cascade", cascade).Int("count", len(targets)).Msg("Service removal requested")

	r.reconcileLocked()
	return rem, nil
}

// SetMode changes a service's mode. Mode REMOVE behaves like a
// non-cascading Remove.
func (r *Registry) SetMode(name Name, mode Mode) error {
	if err := mode.Validate(); err != nil {
		return errdefs.Wrap(errdefs.ClassRuntime, errdefs.CodeSchemaViolation, "invalid mode", err).WithAddress(name.String())
	}

	r.mu.Lock()
	defer r.unlock()

	if mode == ModeRemove {
		_, err := r.removeLocked(name, false)
		return err
	}
	c, ok := r.controllers[name]
	if !ok {
		return errdefs.Runtime(errdefs.CodeServiceNotFound, "service %s is not installed", name).WithAddress(name.String())
	}
	if c.mode == ModeRemove {
		return errdefs.Runtime(errdefs.CodeServiceNotFound, "service %s is being removed", name).WithAddress(name.String())
	}
	c.mode = mode
	r.reconcileLocked()
	return nil
}

// Restart stops an up service and its active dependents, then starts them
// again. A failed service is retried.
func (r *Registry) Restart(name Name) error {
	r.mu.Lock()
	defer r.unlock()

	c, ok := r.controllers[name]
	if !ok {
		return errdefs.Runtime(errdefs.CodeServiceNotFound, "service %s is not installed", name).WithAddress(name.String())
	}
	r.restartLocked(c)
	r.reconcileLocked()
	return nil
}

func (r *Registry) restartLocked(c *Controller) {
	c.restartRequired = false
	switch c.state {
	case StateUp, StateStarting:
		c.restartPending = true
	case StateStartFailed:
		c.failure = nil
		r.setStateLocked(c, StateDown, nil)
	}
}

// Retry moves a failed service back to DOWN so it is started again.
func (r *Registry) Retry(name Name) error {
	r.mu.Lock()
	defer r.unlock()

	c, ok := r.controllers[name]
	if !ok {
		return errdefs.Runtime(errdefs.CodeServiceNotFound, "service %s is not installed", name).WithAddress(name.String())
	}
	if c.state == StateStartFailed {
		c.failure = nil
		r.setStateLocked(c, StateDown, nil)
		r.reconcileLocked()
	}
	return nil
}

// MarkRestartRequired flags a service and everything that depends on it.
// Nothing is stopped until ApplyRestarts or Restart.
func (r *Registry) MarkRestartRequired(name Name) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.controllers[name]
	if !ok {
		return errdefs.Runtime(errdefs.CodeServiceNotFound, "service %s is not installed", name).WithAddress(name.String())
	}
	c.restartRequired = true
	for _, dn := range r.transitiveDependentsLocked(name) {
		r.controllers[dn].restartRequired = true
	}
	return nil
}

// MarkReloadRequired flags that every service needs a restart.
func (r *Registry) MarkReloadRequired() {
	r.mu.Lock()
	r.reloadRequired = true
	r.mu.Unlock()
}

// ReloadRequired reports whether MarkReloadRequired was called since the
// last ApplyRestarts.
func (r *Registry) ReloadRequired() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadRequired
}

// RestartRequired returns the services flagged for restart.
func (r *Registry) RestartRequired() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Name
	for _, n := range r.sortedNamesLocked() {
		if r.controllers[n].restartRequired {
			out = append(out, n)
		}
	}
	return out
}

// ApplyRestarts restarts every flagged service, or all services when a
// reload is pending, and waits for the registry to settle.
func (r *Registry) ApplyRestarts(ctx context.Context) (map[Name]error, error) {
	r.mu.Lock()
	for _, n := range r.sortedNamesLocked() {
		c := r.controllers[n]
		if r.reloadRequired || c.restartRequired {
			r.restartLocked(c)
		}
	}
	r.reloadRequired = false
	r.reconcileLocked()
	r.unlock()

	return r.AwaitStability(ctx)
}

// AwaitStability blocks until no start or stop is in flight among the named
// services and their dependencies, or among all services when no name is
// given. It returns the problems found once stable: failed starts, missing
// dependencies and failed dependencies. A cancelled context yields Timeout.
func (r *Registry) AwaitStability(ctx context.Context, names ...Name) (map[Name]error, error) {
	for {
		r.mu.Lock()
		scope := r.scopeLocked(names)
		stable := true
		for _, c := range scope {
			if c.state.IsTransitional() {
				stable = false
				break
			}
		}
		if stable {
			problems := r.problemsLocked(scope)
			r.mu.Unlock()
			return problems, nil
		}
		ch := r.changed
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, errdefs.Wrap(errdefs.ClassRuntime, errdefs.CodeTimeout, "services did not stabilize", ctx.Err()).
				WithDetail("services", namesToStrings(names))
		}
	}
}

// Shutdown stops every service in dependency order and waits for all
// callbacks to return.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shuttingDown = true
	r.reconcileLocked()
	r.unlock()

	if _, err := r.AwaitStability(ctx); err != nil {
		return err
	}
	r.cancelAll()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errdefs.Wrap(errdefs.ClassRuntime, errdefs.CodeTimeout, "service callbacks did not return", ctx.Err())
	}
}

// Info is a point-in-time view of one service.
type Info struct {
	Name            string   `json:"name"`
	Mode            Mode     `json:"mode"`
	State           State    `json:"state"`
	Dependencies    []string `json:"dependencies,omitempty"`
	Missing         []string `json:"missing,omitempty"`
	Failure         string   `json:"failure,omitempty"`
	RestartRequired bool     `json:"restart_required,omitempty"`
}

// Dump returns every installed service in name order.
func (r *Registry) Dump() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.controllers))
	for _, n := range r.sortedNamesLocked() {
		c := r.controllers[n]
		info := Info{
			Name:            n.String(),
			Mode:            c.mode,
			State:           c.state,
			RestartRequired: c.restartRequired,
		}
		for _, d := range c.desc.Dependencies {
			info.Dependencies = append(info.Dependencies, d.Name.String())
		}
		info.Missing = namesToStrings(r.missingLocked(c))
		if c.failure != nil {
			info.Failure = c.failure.Error()
		}
		out = append(out, info)
	}
	return out
}

// ToDOT renders the dependency graph in Graphviz format.
func (r *Registry) ToDOT() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[Name]State, len(r.controllers))
	for n, c := range r.controllers {
		states[n] = c.state
	}
	return r.graphLocked().toDOT(states)
}

// StopOrder returns the installed services with dependents before their
// dependencies.
func (r *Registry) StopOrder() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Name
	for _, n := range r.graphLocked().stopOrder() {
		if _, ok := r.controllers[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Removal tracks an asynchronous removal.
type Removal struct {
	done      chan struct{}
	remaining int
	order     []Name

	mu      sync.Mutex
	stopped []Name
}

// Done is closed once every affected service has left the registry.
func (rm *Removal) Done() <-chan struct{} { return rm.done }

// Wait blocks until the removal completes or ctx is done.
func (rm *Removal) Wait(ctx context.Context) error {
	select {
	case <-rm.done:
		return nil
	case <-ctx.Done():
		return errdefs.Wrap(errdefs.ClassRuntime, errdefs.CodeTimeout, "service removal did not complete", ctx.Err())
	}
}

// Order returns the planned stop order, dependents first.
func (rm *Removal) Order() []Name { return append([]Name(nil), rm.order...) }

// Stopped returns the services removed so far, in the order they left.
func (rm *Removal) Stopped() []Name {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return append([]Name(nil), rm.stopped...)
}

func (rm *Removal) record(n Name) {
	rm.mu.Lock()
	rm.stopped = append(rm.stopped, n)
	rm.remaining--
	finished := rm.remaining == 0
	rm.mu.Unlock()
	if finished {
		close(rm.done)
	}
}

// unlock releases the registry lock and delivers queued transitions.
func (r *Registry) unlock() {
	pending := r.pending
	r.pending = nil
	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()
	for _, t := range pending {
		for _, l := range r.listeners {
			l(t)
		}
	}
}

func (r *Registry) setStateLocked(c *Controller, to State, err error) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	r.pending = append(r.pending, Transition{Name: c.desc.Name, From: from, To: to, Err: err})
	close(r.changed)
	r.changed = make(chan struct{})

	ev := r.logger.Debug()
	switch {
	case to == StateStartFailed:
		ev = r.logger.Error().Err(err)
	case err != nil:
		ev = r.logger.Warn().Err(err)
	}
	ev.Str("service", c.desc.Name.String()).Str("from", string(from)).Str("to", string(to)).Msg("Service transition")
}

func (r *Registry) sortedNamesLocked() []Name {
	out := make([]Name, 0, len(r.controllers))
	for n := range r.controllers {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

func (r *Registry) graphLocked() *dependencyGraph {
	g := newDependencyGraph()
	for n, c := range r.controllers {
		g.addNode(n)
		for _, d := range c.desc.Dependencies {
			g.addEdge(n, d.Name)
		}
	}
	return g
}

// transitiveDependentsLocked returns every installed service that reaches
// name through required edges. Optional edges do not propagate removal.
func (r *Registry) transitiveDependentsLocked(name Name) []Name {
	seen := map[Name]bool{name: true}
	queue := []Name{name}
	var out []Name
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range r.sortedNamesLocked() {
			if seen[n] {
				continue
			}
			if d, ok := r.controllers[n].dependsOn(cur); ok && !d.Optional {
				seen[n] = true
				out = append(out, n)
				queue = append(queue, n)
			}
		}
	}
	return out
}

func (r *Registry) blockingDependentsLocked(name Name) []Name {
	var out []Name
	for _, n := range r.sortedNamesLocked() {
		c := r.controllers[n]
		if c.mode == ModeRemove {
			continue
		}
		if d, ok := c.dependsOn(name); ok && !d.Optional {
			out = append(out, n)
		}
	}
	return out
}

func (r *Registry) missingLocked(c *Controller) []Name {
	var out []Name
	for _, d := range c.desc.Dependencies {
		if _, ok := r.controllers[d.Name]; !ok && !d.Optional {
			out = append(out, d.Name)
		}
	}
	return out
}

// scopeLocked returns the named controllers and their installed transitive
// dependencies.
func (r *Registry) scopeLocked(names []Name) []*Controller {
	if len(names) == 0 {
		out := make([]*Controller, 0, len(r.controllers))
		for _, n := range r.sortedNamesLocked() {
			out = append(out, r.controllers[n])
		}
		return out
	}
	seen := make(map[Name]bool)
	var out []*Controller
	var visit func(Name)
	visit = func(n Name) {
		if seen[n] {
			return
		}
		seen[n] = true
		c, ok := r.controllers[n]
		if !ok {
			return
		}
		out = append(out, c)
		for _, d := range c.desc.Dependencies {
			visit(d.Name)
		}
	}
	for _, n := range names {
		visit(n)
	}
	return out
}

func (r *Registry) problemsLocked(scope []*Controller) map[Name]error {
	problems := make(map[Name]error)
	for _, c := range scope {
		name := c.desc.Name
		if c.state == StateStartFailed {
			problems[name] = errdefs.Wrap(errdefs.ClassRuntime, errdefs.CodeServiceStartFailure,
				fmt.Sprintf("service %s failed to start", name), c.failure).WithAddress(name.String())
			continue
		}
		if c.mode == ModeNever || c.mode == ModeRemove || c.state == StateUp {
			continue
		}
		if missing := r.missingLocked(c); len(missing) > 0 {
			problems[name] = errdefs.Runtime(errdefs.CodeMissingDependencies, "service %s is missing dependencies %s", name, joinNames(missing)).
				WithAddress(name.String()).
				WithDetail("missing", namesToStrings(missing))
			continue
		}
		var failed []Name
		for _, d := range c.desc.Dependencies {
			if dc, ok := r.controllers[d.Name]; ok && dc.state == StateStartFailed {
				failed = append(failed, d.Name)
			}
		}
		if len(failed) > 0 {
			problems[name] = errdefs.Runtime(errdefs.CodeServiceStartFailure, "service %s has failed dependencies %s", name, joinNames(failed)).
				WithAddress(name.String()).
				WithDetail("failed", namesToStrings(failed))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return problems
}

func joinNames(names []Name) string {
	return "[" + strings.Join(namesToStrings(names), ", ") + "]"
}

func namesToStrings(names []Name) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.String()
	}
	return out
}
