package transform

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
)

// Registry holds the rules that translate a subsystem's operations and
// resources for consumers of older model versions.
type Registry struct {
	subsystem model.Address
	current   Version
	logger    zerolog.Logger

	mu    sync.RWMutex
	rules map[Version]*ResourceRule
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l.With().Str("component", "transform").Logger() }
}

// NewRegistry creates a registry for the subsystem at subsystem whose model
// is at version current.
func NewRegistry(subsystem model.Address, current Version, opts ...Option) *Registry {
	r := &Registry{
		subsystem: model.NewAddress(subsystem...),
		current:   current,
		logger:    zerolog.Nop(),
		rules:     make(map[Version]*ResourceRule),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register sets the rule applied for target version v. The rule describes
// the subsystem resource itself.
func (r *Registry) Register(v Version, rule *ResourceRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[v] = rule
}

// Current returns the subsystem's own model version.
func (r *Registry) Current() Version { return r.current }

// Subsystem returns the address the rules are rooted at.
func (r *Registry) Subsystem() model.Address { return model.NewAddress(r.subsystem...) }

// Versions returns the versions with registered rules, oldest first.
func (r *Registry) Versions() []Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Version, 0, len(r.rules))
	for v := range r.rules {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (r *Registry) ruleFor(target Version) (*ResourceRule, bool, error) {
	if target.Compare(r.current) >= 0 {
		return nil, false, nil
	}
	r.mu.RLock()
	rule, ok := r.rules[target]
	r.mu.RUnlock()
	if !ok {
		return nil, false, errdefs.Newf(errdefs.ClassTransformation, errdefs.CodeVersionIncompatibility,
			"no transformation registered for model version %s", target).
			WithAddress(r.subsystem.String())
	}
	return rule, true, nil
}

// TransformOperation rewrites op for a consumer at version target. It
// returns nil when the operation has no equivalent and should not be sent.
// Composite operations are transformed step by step.
func (r *Registry) TransformOperation(target Version, op *engine.Operation) (*engine.Operation, error) {
	root, needed, err := r.ruleFor(target)
	if err != nil || !needed {
		return op, err
	}
	return r.transformOperation(target, root, op)
}

func (r *Registry) transformOperation(target Version, root *ResourceRule, op *engine.Operation) (*engine.Operation, error) {
	if op.Name == engine.OpComposite {
		out := op.Clone()
		out.Steps = nil
		for _, s := range op.Steps {
			t, err := r.transformOperation(target, root, s)
			if err != nil {
				return nil, err
			}
			if t != nil {
				out.Steps = append(out.Steps, t)
			}
		}
		if len(out.Steps) == 0 {
			return nil, nil
		}
		return out, nil
	}

	if !op.Address.HasPrefix(r.subsystem) {
		return op, nil
	}
	addr, rule, discarded, err := r.resolve(target, root, op.Address)
	if err != nil {
		return nil, annotate(err, op)
	}
	if discarded {
		r.logger.Debug().Str("operation", op.Name).Str("address", op.Address.String()).
			Str("version", target.String()).Msg("Discarding operation on resource unknown to target")
		return nil, nil
	}

	out := op.Clone()
	out.Address = addr
	if rule == nil {
		return out, nil
	}
	if fn, ok := rule.overrides[op.Name]; ok {
		return fn(addr, out)
	}

	switch op.Name {
	case engine.OpAdd:
		if rejections := rule.transformAttributes(addr, out.Params); len(rejections) > 0 {
			return nil, rejectError(target, addr, op.Name, rejections)
		}
		return out, nil
	case engine.OpWriteAttribute, engine.OpUndefineAttribute:
		return r.transformAttributeOperation(target, rule, out)
	}
	return out, nil
}

func (r *Registry) transformAttributeOperation(target Version, rule *ResourceRule, op *engine.Operation) (*engine.Operation, error) {
	name := op.AttributeName()
	ar, ok := rule.attributes[name]
	if !ok {
		return op, nil
	}
	v := model.Undefined()
	if op.Name == engine.OpWriteAttribute {
		v = op.Param(engine.ParamValue)
	}

	res := ar.apply(op.Address, name, v)
	switch {
	case len(res.rejected) > 0:
		return nil, rejectError(target, op.Address, op.Name, map[string][]string{name: res.rejected})
	case res.discarded:
		r.logger.Debug().Str("attribute", name).Str("address", op.Address.String()).
			Str("version", target.String()).Msg("Discarding attribute operation")
		return nil, nil
	}

	out := engine.NewUndefineAttribute(op.Address, name)
	if res.value.IsDefined() {
		out = engine.NewWriteAttribute(op.Address, name, res.value)
	}
	out.ID = op.ID
	out.Headers = op.Headers
	return out, nil
}

// resolve walks the rules along addr below the subsystem. It returns the
// address as the target version knows it and the rule of the addressed
// resource, nil when no rule covers it.
func (r *Registry) resolve(target Version, root *ResourceRule, addr model.Address) (model.Address, *ResourceRule, bool, error) {
	out := model.NewAddress(addr[:len(r.subsystem)]...)
	rule := root
	for _, e := range addr[len(r.subsystem):] {
		mapped := e
		if rule != nil {
			c := rule.findChild(e, false)
			switch {
			case c == nil:
				rule = nil
			case c.action == childReject:
				return nil, nil, false, errdefs.Newf(errdefs.ClassTransformation, errdefs.CodeVersionIncompatibility,
					"resource %s is not supported by model version %s", e, target).
					WithAddress(addr.String()).
					WithDetail("version", target.String())
			case c.action == childDiscard:
				return nil, nil, true, nil
			default:
				if c.redirect != nil {
					mapped = *c.redirect
					if mapped.IsWildcard() {
						mapped.Name = e.Name
					}
				}
				rule = c.rule
			}
		}
		out = out.Append(mapped)
	}
	return out, rule, false, nil
}

// TransformOperations transforms each operation, dropping discarded ones.
func (r *Registry) TransformOperations(target Version, ops []*engine.Operation) ([]*engine.Operation, error) {
	out := make([]*engine.Operation, 0, len(ops))
	for _, op := range ops {
		t, err := r.TransformOperation(target, op)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, t)
		}
	}
	return out, nil
}

// TransformResource renders the subtree res as the target version sees it:
// an object of raw attribute values with children grouped by type and keyed
// by name. Discarded children are left out; a rejected child or attribute
// fails the whole transformation.
func (r *Registry) TransformResource(target Version, res *model.Resource) (model.Value, error) {
	root, needed, err := r.ruleFor(target)
	if err != nil {
		return model.Value{}, err
	}
	addr := res.Address()
	if !needed || !addr.HasPrefix(r.subsystem) {
		return render(res, nil, target, addr)
	}
	mapped, rule, discarded, err := r.resolve(target, root, addr)
	if err != nil {
		return model.Value{}, err
	}
	if discarded {
		return model.Undefined(), nil
	}
	return render(res, rule, target, mapped)
}

func render(res *model.Resource, rule *ResourceRule, target Version, addr model.Address) (model.Value, error) {
	out := res.Model(false)
	if rule != nil {
		if rejections := rule.transformAttributes(addr, out); len(rejections) > 0 {
			return model.Value{}, rejectError(target, addr, "", rejections)
		}
	}

	groups := make(map[string]map[string]model.Value)
	for _, child := range res.AllChildren() {
		e := child.Address().Last()
		var sub *ResourceRule
		if rule != nil {
			if c := rule.findChild(e, false); c != nil {
				switch c.action {
				case childReject:
					return model.Value{}, errdefs.Newf(errdefs.ClassTransformation, errdefs.CodeVersionIncompatibility,
						"resource %s is not supported by model version %s", e, target).
						WithAddress(child.Address().String())
				case childDiscard:
					continue
				}
				if c.redirect != nil {
					name := c.redirect.Name
					if c.redirect.IsWildcard() {
						name = e.Name
					}
					e = model.Element(c.redirect.Type, name)
				}
				sub = c.rule
			}
		}
		v, err := render(child, sub, target, addr.Append(e))
		if err != nil {
			return model.Value{}, err
		}
		if groups[e.Type] == nil {
			groups[e.Type] = make(map[string]model.Value)
		}
		groups[e.Type][e.Name] = v
	}
	for typ, children := range groups {
		out[typ] = model.Object(children)
	}
	return model.Object(out), nil
}

func rejectError(target Version, addr model.Address, op string, rejections map[string][]string) error {
	names := make([]string, 0, len(rejections))
	for n := range rejections {
		names = append(names, n)
	}
	sort.Strings(names)
	detail := make(map[string]string, len(names))
	for _, n := range names {
		detail[n] = strings.Join(rejections[n], "; ")
	}
	msg := fmt.Sprintf("attributes [%s] cannot be transformed to model version %s", strings.Join(names, ", "), target)
	e := errdefs.New(errdefs.ClassTransformation, errdefs.CodeVersionIncompatibility, msg).
		WithAddress(addr.String()).
		WithDetail("version", target.String()).
		WithDetail("rejections", detail)
	if op != "" {
		e = e.WithOperation(op)
	}
	return e
}

func annotate(err error, op *engine.Operation) error {
	if e, ok := err.(*errdefs.Error); ok && e.Operation == "" {
		return e.WithOperation(op.Name)
	}
	return err
}
