package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/webplane/pkg/alias"
	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/services"
)

// DefaultVerifyTimeout bounds the verify stage when neither the operation
// nor the controller sets a timeout.
const DefaultVerifyTimeout = 30 * time.Second

// Result describes how an operation ended.
type Result struct {
	OperationID uuid.UUID `json:"operation_id"`
	Outcome     Outcome   `json:"outcome"`

	// Stage is the last stage reached: COMPLETE or ROLLED-BACK on a clean
	// finish, otherwise the stage that failed.
	Stage Stage `json:"stage"`

	Response model.Value `json:"response"`

	// Compensation undoes the operation's model changes; nil for reads.
	Compensation *Operation `json:"compensation,omitempty"`

	RestartRequired bool          `json:"restart_required,omitempty"`
	ReloadRequired  bool          `json:"reload_required,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Controller executes management operations against a resource tree and a
// service registry.
type Controller struct {
	tree     *model.Tree
	services *services.Registry
	mode     RunningMode

	aliases       []*alias.Resolver
	authorizer    Authorizer
	journal       Journal
	instr         Instrumentation
	logger        zerolog.Logger
	verifyTimeout time.Duration

	locks *subtreeLocks

	mu            sync.RWMutex
	registrations map[*model.ResourceDefinition]*Registration
}

// Option configures a Controller.
type Option func(*Controller)

// WithServices sets the service registry used by the runtime stage.
func WithServices(reg *services.Registry) Option {
	return func(c *Controller) { c.services = reg }
}

// WithRunningMode sets the running mode.
func WithRunningMode(m RunningMode) Option {
	return func(c *Controller) { c.mode = m }
}

// WithAliases adds alias resolvers applied to every submitted address.
func WithAliases(rs ...*alias.Resolver) Option {
	return func(c *Controller) { c.aliases = append(c.aliases, rs...) }
}

// WithAuthorizer sets the access control hook.
func WithAuthorizer(a Authorizer) Option {
	return func(c *Controller) { c.authorizer = a }
}

// WithJournal sets the journal of finished operations.
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithInstrumentation sets the tracing and metrics hook.
func WithInstrumentation(i Instrumentation) Option {
	return func(c *Controller) { c.instr = i }
}

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l.With().Str("component", "engine").Logger() }
}

// WithVerifyTimeout sets the default verify timeout.
func WithVerifyTimeout(d time.Duration) Option {
	return func(c *Controller) { c.verifyTimeout = d }
}

// NewController creates a controller. In normal mode without a registry a
// private one is created.
func NewController(tree *model.Tree, opts ...Option) *Controller {
	c := &Controller{
		tree:          tree,
		mode:          ModeNormal,
		instr:         noopInstrumentation{},
		logger:        zerolog.Nop(),
		verifyTimeout: DefaultVerifyTimeout,
		locks:         newSubtreeLocks(),
		registrations: make(map[*model.ResourceDefinition]*Registration),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mode == ModeNormal && c.services == nil {
		c.services = services.NewRegistry(services.WithLogger(c.logger))
	}
	return c
}

// Tree returns the resource tree.
func (c *Controller) Tree() *model.Tree { return c.tree }

// Services returns the service registry; nil in admin-only mode unless one
// was supplied.
func (c *Controller) Services() *services.Registry { return c.services }

// RunningMode returns the running mode.
func (c *Controller) RunningMode() RunningMode { return c.mode }

// Register binds behaviour to a resource definition, replacing any earlier
// registration.
func (c *Controller) Register(def *model.ResourceDefinition, reg Registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := reg
	cp.Operations = make(map[string]StepFunc, len(reg.Operations))
	for k, v := range reg.Operations {
		cp.Operations[k] = v
	}
	c.registrations[def] = &cp
}

// RegisterOperation adds a custom operation to a resource definition.
func (c *Controller) RegisterOperation(def *model.ResourceDefinition, name string, fn StepFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg, ok := c.registrations[def]
	if !ok {
		reg = &Registration{}
		c.registrations[def] = reg
	}
	if reg.Operations == nil {
		reg.Operations = make(map[string]StepFunc)
	}
	reg.Operations[name] = fn
}

// OperationNames returns the custom operations registered for def.
func (c *Controller) OperationNames(def *model.ResourceDefinition) []string {
	reg := c.registration(def)
	if reg == nil {
		return nil
	}
	out := make([]string, 0, len(reg.Operations))
	for k := range reg.Operations {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Controller) registration(def *model.ResourceDefinition) *Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registrations[def]
}

// Canonical rewrites every address of op through the alias resolvers.
func (c *Controller) Canonical(op *Operation) *Operation {
	if len(c.aliases) == 0 {
		return op
	}
	out := op.Clone()
	var rewrite func(o *Operation)
	rewrite = func(o *Operation) {
		for _, r := range c.aliases {
			o.Address = r.ToCanonical(o.Address)
		}
		for _, s := range o.Steps {
			rewrite(s)
		}
	}
	rewrite(out)
	return out
}

// Execute runs op through the model, runtime and verify stages. On failure
// the returned Result reports how far the operation got and whether it was
// rolled back.
func (c *Controller) Execute(ctx context.Context, op *Operation) (*Result, error) {
	if op == nil {
		return nil, errors.New("operation is nil")
	}
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	op = c.Canonical(op)

	started := time.Now()
	ctx, finish := c.instr.StartOperation(ctx, op)
	res := &Result{OperationID: op.ID, Stage: StageReceived}

	err := c.execute(ctx, op, res)
	res.Duration = time.Since(started)
	finish(res, err)

	c.recordJournal(ctx, op, res, err, started)
	c.logResult(op, res, err)
	return res, err
}

func (c *Controller) execute(ctx context.Context, op *Operation, res *Result) error {
	if err := c.authorize(ctx, op); err != nil {
		res.Outcome = OutcomeFailed
		return err
	}
	var hold *lockHold
	if !op.IsReadOnly() {
		var err error
		hold, err = c.locks.acquire(ctx, op.Addresses())
		if err != nil {
			res.Outcome = OutcomeFailed
			return err
		}
		defer hold.release()
	}
	return c.run(ctx, op, res, hold, false)
}

// run executes the stages of op under hold. Compensations run with rollback
// set: they are neither rolled back nor verified themselves.
func (c *Controller) run(ctx context.Context, op *Operation, res *Result, hold *lockHold, rollback bool) error {
	x := newContext(ctx, c, op, rollback)
	x.hold = hold

	fn, err := c.stepFor(op)
	if err != nil {
		res.Outcome = OutcomeFailed
		return err
	}

	res.Stage = StageModel
	if err := x.runStage(StageModel, []*step{{op: op, fn: fn}}); err != nil {
		x.restore()
		res.Outcome = OutcomeFailed
		x.complete(OutcomeFailed)
		return err
	}
	res.Response = x.response
	res.Compensation = x.compensation()

	if c.mode == ModeNormal {
		res.Stage = StageRuntime
		if err := x.runStage(StageRuntime, x.queued[StageRuntime]); err != nil {
			return c.fail(ctx, x, res, err)
		}

		if op.Headers.Verify && !rollback {
			x.AddStep(StageVerify, op, c.verifyStep)
		}
		if len(x.queued[StageVerify]) > 0 {
			res.Stage = StageVerify
			if err := x.runStage(StageVerify, x.queued[StageVerify]); err != nil {
				return c.fail(ctx, x, res, err)
			}
		}
	}

	res.RestartRequired = x.restartRequired
	res.ReloadRequired = x.reloadRequired
	res.Stage = StageComplete
	res.Outcome = OutcomeSuccess
	x.complete(OutcomeSuccess)
	return nil
}

// fail handles a runtime or verify failure by applying the compensation
// collected during the model stage.
func (c *Controller) fail(ctx context.Context, x *Context, res *Result, cause error) error {
	if x.rollback || !x.root.Headers.rollbackEnabled() {
		res.Outcome = OutcomeFailed
		x.complete(OutcomeFailed)
		return cause
	}

	failures := make(map[string]error)
	if res.Compensation != nil {
		rctx := context.WithoutCancel(ctx)
		ops := res.Compensation.Flatten()
		x.logger.Warn().Err(cause).Int("compensations", len(ops)).Msg("Rolling back operation")
		for _, comp := range ops {
			comp.Headers.Caller = x.root.Headers.Caller
			var cres Result
			if err := c.run(rctx, comp, &cres, x.hold, true); err != nil {
				failures[comp.String()] = err
			}
		}
	}

	if len(failures) > 0 {
		res.Outcome = OutcomeFailed
		x.complete(OutcomeFailed)
		return errdefs.Rollback(cause, failures).WithOperation(x.root.Name).WithAddress(x.root.Address.String())
	}
	res.Stage = StageRolledBack
	res.Outcome = OutcomeRolledBack
	x.complete(OutcomeRolledBack)
	return cause
}

// verifyStep waits for every service the runtime stage installed or
// restarted.
func (c *Controller) verifyStep(x *Context, op *Operation) error {
	reg := c.services
	if reg == nil || len(x.tracked) == 0 {
		return nil
	}
	timeout := op.Headers.VerifyTimeout
	if timeout <= 0 {
		timeout = c.verifyTimeout
	}
	vctx, cancel := context.WithTimeout(x.ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	problems := make(map[services.Name]error)
	g, gctx := errgroup.WithContext(vctx)
	for _, name := range x.tracked {
		name := name
		g.Go(func() error {
			found, err := reg.AwaitStability(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			for n, p := range found {
				problems[n] = p
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return combineProblems(problems)
}

func combineProblems(problems map[services.Name]error) error {
	if len(problems) == 0 {
		return nil
	}
	names := make([]services.Name, 0, len(problems))
	for n := range problems {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })
	if len(names) == 1 {
		return problems[names[0]]
	}
	detail := make(map[string]string, len(names))
	for _, n := range names {
		detail[n.String()] = problems[n].Error()
	}
	return errdefs.Runtime(errdefs.CodeServiceStartFailure, "%d services failed to reach their expected state", len(names)).
		WithCause(problems[names[0]]).
		WithDetail("services", detail)
}

func (c *Controller) authorize(ctx context.Context, op *Operation) error {
	if c.authorizer == nil {
		return nil
	}
	for _, leaf := range op.Flatten() {
		req := AccessRequest{
			Caller:    op.Headers.Caller,
			Operation: leaf.Name,
			Address:   leaf.Address,
			ReadOnly:  leaf.IsReadOnly(),
		}
		if def, err := c.tree.DefinitionFor(leaf.Address); err == nil {
			req.Constraints = def.EffectiveConstraints()
		}
		if err := c.authorizer.Authorize(ctx, req); err != nil {
			return annotate(err, leaf)
		}
	}
	return nil
}

func (c *Controller) recordJournal(ctx context.Context, op *Operation, res *Result, err error, started time.Time) {
	if c.journal == nil || op.IsReadOnly() {
		return
	}
	rec := OperationRecord{
		ID:        op.ID,
		Operation: op.Name,
		Address:   op.Address.String(),
		Command:   op.String(),
		Caller:    op.Headers.Caller.User,
		Outcome:   res.Outcome,
		Stage:     res.Stage,
		StartedAt: started,
		Duration:  res.Duration,
	}
	if err != nil {
		rec.Error = err.Error()
		rec.ErrorCode = string(errdefs.CodeOf(err))
	}
	if res.Compensation != nil {
		rec.Compensation = res.Compensation.String()
	}
	if jerr := c.journal.RecordOperation(context.WithoutCancel(ctx), rec); jerr != nil {
		c.logger.Error().Err(jerr).Str("operation_id", op.ID.String()).Msg("Failed to journal operation")
	}
}

func (c *Controller) logResult(op *Operation, res *Result, err error) {
	ev := c.logger.Debug()
	if err != nil {
		ev = c.logger.Warn().Err(err)
	}
	ev.Str("operation_id", op.ID.String()).
		Str("operation", op.Name).
		Str("address", op.Address.String()).
		Str("outcome", string(res.Outcome)).
		Str("stage", string(res.Stage)).
		Dur("duration", res.Duration).
		Msg("Operation finished")
}

// Describe returns the ADD operations that rebuild the subtree at addr.
func (c *Controller) Describe(addr model.Address) ([]*Operation, error) {
	for _, r := range c.aliases {
		addr = r.ToCanonical(addr)
	}
	snap, err := c.tree.Get(addr)
	if err != nil {
		return nil, err
	}
	return Describe(snap), nil
}

// ExecuteAll runs ops in order and stops at the first failure.
func (c *Controller) ExecuteAll(ctx context.Context, ops []*Operation) error {
	for i, op := range ops {
		if _, err := c.Execute(ctx, op); err != nil {
			return fmt.Errorf("operation %d (%s) failed: %w", i+1, op, err)
		}
	}
	return nil
}
