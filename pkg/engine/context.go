package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/services"
)

type step struct {
	op       *Operation
	fn       StepFunc
	children []*step
}

type preimage struct {
	addr model.Address
	snap *model.Resource
}

// Context is the execution context shared by every step of one operation.
// It is not safe for concurrent use; steps run one at a time.
type Context struct {
	ctx  context.Context
	c    *Controller
	root *Operation

	stage   Stage
	current *step
	queued  map[Stage][]*step

	// preimages holds the original state of every subtree the model stage
	// touched, keyed by the topmost touched address.
	preimages []preimage

	tracked    []services.Name
	trackedSet map[services.Name]bool

	response        model.Value
	restartRequired bool
	reloadRequired  bool
	completions     []func(Outcome)

	// hold covers the subtrees the operation may mutate. Steps touching
	// other subtrees extend it.
	hold *lockHold

	// rollback marks the execution of a compensation.
	rollback bool
	logger   zerolog.Logger
}

func newContext(ctx context.Context, c *Controller, root *Operation, rollback bool) *Context {
	return &Context{
		ctx:        ctx,
		c:          c,
		root:       root,
		stage:      StageReceived,
		queued:     make(map[Stage][]*step),
		trackedSet: make(map[services.Name]bool),
		rollback:   rollback,
		logger:     c.logger.With().Str("operation_id", root.ID.String()).Logger(),
	}
}

// Context returns the context.Context of the running operation.
func (x *Context) Context() context.Context { return x.ctx }

// Stage returns the stage currently running.
func (x *Context) Stage() Stage { return x.stage }

// Operation returns the operation of the step currently running.
func (x *Context) Operation() *Operation {
	if x.current == nil {
		return x.root
	}
	return x.current.op
}

// Root returns the submitted operation.
func (x *Context) Root() *Operation { return x.root }

// RunningMode returns the controller's running mode.
func (x *Context) RunningMode() RunningMode { return x.c.mode }

// IsRollback reports whether the operation is a compensation being applied.
func (x *Context) IsRollback() bool { return x.rollback }

// Logger returns a logger tagged with the operation ID.
func (x *Context) Logger() zerolog.Logger { return x.logger }

// Services returns the service registry.
func (x *Context) Services() *services.Registry { return x.c.services }

// SetResult sets the operation's response value.
func (x *Context) SetResult(v model.Value) { x.response = v }

// AddStep schedules op. A step added for the stage that is currently running
// runs as a child of the running step: after it returns and before its next
// sibling. Steps for later stages run in registration order once their stage
// begins. A nil fn uses the handler registered for op.
func (x *Context) AddStep(stage Stage, op *Operation, fn StepFunc) {
	if !stage.IsStep() || (x.stage.IsStep() && stage.order() < x.stage.order()) {
		panic(fmt.Sprintf("cannot add a %s step while in stage %s", stage, x.stage))
	}
	if fn == nil {
		resolved, err := x.c.stepFor(op)
		if err != nil {
			fn = func(*Context, *Operation) error { return err }
		} else {
			fn = resolved
		}
	}
	s := &step{op: op, fn: fn}
	if stage == x.stage && x.current != nil {
		x.current.children = append(x.current.children, s)
		return
	}
	x.queued[stage] = append(x.queued[stage], s)
}

// OnComplete registers fn to run once the operation reached its outcome.
// Callbacks run in reverse registration order, so those of chained steps run
// before those of the step that chained them.
func (x *Context) OnComplete(fn func(Outcome)) {
	x.completions = append(x.completions, fn)
}

func (x *Context) runStage(stage Stage, steps []*step) error {
	if len(steps) == 0 {
		return nil
	}
	ctx, done := x.c.instr.StartStage(x.ctx, x.root, stage)
	outer := x.ctx
	x.ctx = ctx
	x.stage = stage

	var err error
	for _, s := range steps {
		if err = x.runStep(s); err != nil {
			break
		}
	}

	x.ctx = outer
	done(err)
	return err
}

func (x *Context) runStep(s *step) error {
	if err := x.ctx.Err(); err != nil {
		return errdefs.Wrap(errdefs.ClassInternal, errdefs.CodeTimeout, "operation cancelled", err)
	}
	parent := x.current
	x.current = s
	defer func() { x.current = parent }()

	if err := s.fn(x, s.op); err != nil {
		return annotate(err, s.op)
	}
	for i := 0; i < len(s.children); i++ {
		if err := x.runStep(s.children[i]); err != nil {
			return err
		}
	}
	return nil
}

func (x *Context) complete(outcome Outcome) {
	for i := len(x.completions) - 1; i >= 0; i-- {
		x.completions[i](outcome)
	}
}

// ReadResource returns a snapshot of the resource at addr.
func (x *Context) ReadResource(addr model.Address) (*model.Resource, error) {
	return x.c.tree.Get(addr)
}

// CreateResource adds a resource to the tree.
func (x *Context) CreateResource(addr model.Address, attrs map[string]model.Value) (*model.Resource, error) {
	if err := x.requireModelStage(); err != nil {
		return nil, err
	}
	if addr.IsRoot() {
		return nil, errdefs.Model(errdefs.CodeDuplicateResource, "the root resource always exists")
	}
	if err := x.lock(addr); err != nil {
		return nil, err
	}
	x.record(addr)
	return x.c.tree.CreateChild(addr.Parent(), addr.Last(), attrs)
}

// RemoveResource removes the resource at addr and returns the removed
// subtree.
func (x *Context) RemoveResource(addr model.Address, cascade bool) (*model.Resource, error) {
	if err := x.requireModelStage(); err != nil {
		return nil, err
	}
	if err := x.lock(addr); err != nil {
		return nil, err
	}
	x.record(addr)
	return x.c.tree.RemoveChild(addr, cascade)
}

// WriteAttribute stores an attribute and returns the previous raw value.
func (x *Context) WriteAttribute(addr model.Address, name string, v model.Value) (model.Value, error) {
	if err := x.requireModelStage(); err != nil {
		return model.Value{}, err
	}
	if err := x.lock(addr); err != nil {
		return model.Value{}, err
	}
	x.record(addr)
	return x.c.tree.WriteAttribute(addr, name, v)
}

// UndefineAttribute unsets an attribute and returns the previous raw value.
func (x *Context) UndefineAttribute(addr model.Address, name string) (model.Value, error) {
	if err := x.requireModelStage(); err != nil {
		return model.Value{}, err
	}
	if err := x.lock(addr); err != nil {
		return model.Value{}, err
	}
	x.record(addr)
	return x.c.tree.UndefineAttribute(addr, name)
}

// lock makes sure the operation holds the subtree at addr.
func (x *Context) lock(addr model.Address) error {
	if x.hold == nil {
		return nil
	}
	return x.hold.extend(x.ctx, addr)
}

func (x *Context) requireModelStage() error {
	if x.stage != StageModel {
		return errdefs.New(errdefs.ClassInternal, errdefs.CodeSchemaViolation,
			fmt.Sprintf("the tree can only be modified in the %s stage", StageModel))
	}
	return nil
}

// record keeps the pre-image of the subtree at addr unless an enclosing
// subtree was already recorded. Recorded descendants are folded into the new
// pre-image so it reflects the state before the operation began.
func (x *Context) record(addr model.Address) {
	for _, p := range x.preimages {
		if addr.HasPrefix(p.addr) {
			return
		}
	}

	snap := x.c.tree.Snapshot(addr)
	kept := make([]preimage, 0, len(x.preimages)+1)
	for _, p := range x.preimages {
		if !p.addr.HasPrefix(addr) {
			kept = append(kept, p)
			continue
		}
		if snap == nil {
			continue
		}
		if err := snap.Graft(p.addr.Relative(addr), p.snap); err != nil {
			x.logger.Warn().Err(err).Str("address", p.addr.String()).Msg("Failed to fold pre-image")
		}
	}
	x.preimages = append(kept, preimage{addr: addr, snap: snap})
}

// restore puts every recorded pre-image back, newest first.
func (x *Context) restore() {
	for i := len(x.preimages) - 1; i >= 0; i-- {
		p := x.preimages[i]
		if err := x.c.tree.Replace(p.addr, p.snap); err != nil && p.snap != nil {
			x.logger.Error().Err(err).Str("address", p.addr.String()).Msg("Failed to restore pre-image")
		}
	}
}

// compensation derives the operation undoing the model stage by diffing the
// current tree against the recorded pre-images.
func (x *Context) compensation() *Operation {
	var ops []*Operation
	for i := len(x.preimages) - 1; i >= 0; i-- {
		p := x.preimages[i]
		ops = append(ops, Compensate(p.addr, x.c.tree.Snapshot(p.addr), p.snap)...)
	}
	return Combine(ops)
}

// TrackService adds a service to the set awaited by the verify stage.
func (x *Context) TrackService(name services.Name) {
	if !x.trackedSet[name] {
		x.trackedSet[name] = true
		x.tracked = append(x.tracked, name)
	}
}

// Tracked reports whether the operation installed or restarted name.
func (x *Context) Tracked(name services.Name) bool { return x.trackedSet[name] }

// MarkRestartRequired flags name, and its dependents, for a later restart.
func (x *Context) MarkRestartRequired(name services.Name) {
	reg := x.c.services
	if reg == nil || x.trackedSet[name] {
		return
	}
	if err := reg.MarkRestartRequired(name); err != nil {
		x.logger.Debug().Err(err).Str("service", name.String()).Msg("Service not installed; nothing to restart")
		return
	}
	x.restartRequired = true
}

// MarkReloadRequired flags that every service needs a restart.
func (x *Context) MarkReloadRequired() {
	if reg := x.c.services; reg != nil {
		reg.MarkReloadRequired()
		x.reloadRequired = true
	}
}

// RestartService restarts name now and tracks it for verification.
func (x *Context) RestartService(name services.Name) error {
	reg := x.c.services
	if reg == nil || x.trackedSet[name] {
		return nil
	}
	if _, ok := reg.Lookup(name); !ok {
		return nil
	}
	if err := reg.Restart(name); err != nil {
		return err
	}
	x.TrackService(name)
	return nil
}

// annotate fills in the operation and address of a classified error.
func annotate(err error, op *Operation) error {
	e, ok := err.(*errdefs.Error)
	if !ok || (e.Operation != "" && e.Address != "") {
		return err
	}
	out := *e
	if out.Operation == "" {
		out.Operation = op.Name
	}
	if out.Address == "" {
		out.Address = op.Address.String()
	}
	return &out
}
