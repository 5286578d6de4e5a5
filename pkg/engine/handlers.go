package engine

import (
	"errors"
	"fmt"

	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/services"
)

func (c *Controller) stepFor(op *Operation) (StepFunc, error) {
	switch op.Name {
	case OpAdd:
		return c.addStep, nil
	case OpRemove:
		return c.removeStep, nil
	case OpWriteAttribute:
		return c.writeAttributeStep, nil
	case OpUndefineAttribute:
		return c.undefineAttributeStep, nil
	case OpReadResource:
		return c.readResourceStep, nil
	case OpReadAttribute:
		return c.readAttributeStep, nil
	case OpDescribe:
		return c.describeStep, nil
	case OpComposite:
		return c.compositeStep, nil
	}

	if def, err := c.tree.DefinitionFor(op.Address); err == nil {
		if reg := c.registration(def); reg != nil {
			if fn, ok := reg.Operations[op.Name]; ok {
				return fn, nil
			}
		}
	}
	return nil, errdefs.Model(errdefs.CodeUnknownOperation, "unknown operation %q", op.Name).
		WithAddress(op.Address.String()).
		WithOperation(op.Name)
}

func (c *Controller) addStep(x *Context, op *Operation) error {
	r, err := x.CreateResource(op.Address, op.Params)
	if err != nil {
		return err
	}
	if reg := c.registration(r.Definition()); reg != nil && reg.AfterAdd != nil {
		if err := reg.AfterAdd(x, op); err != nil {
			return err
		}
	}
	x.AddStep(StageRuntime, op, c.addRuntime)
	return nil
}

func (c *Controller) addRuntime(x *Context, op *Operation) error {
	r, err := x.ReadResource(op.Address)
	if errors.Is(err, errdefs.ErrResourceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if reg := c.registration(r.Definition()); reg != nil && reg.Runtime != nil {
		return reg.Runtime.Install(x, r)
	}
	if owner, ok := c.owner(op.Address); ok {
		x.MarkRestartRequired(owner.service)
	}
	return nil
}

func (c *Controller) removeStep(x *Context, op *Operation) error {
	removed, err := x.RemoveResource(op.Address, op.BoolParam(ParamCascade, false))
	if err != nil {
		return err
	}
	x.AddStep(StageRuntime, op, func(x *Context, op *Operation) error {
		return c.removeRuntime(x, op, removed)
	})
	return nil
}

func (c *Controller) removeRuntime(x *Context, op *Operation, removed *model.Resource) error {
	handled := false
	for _, r := range postOrder(removed) {
		reg := c.registration(r.Definition())
		if reg == nil || reg.Runtime == nil {
			continue
		}
		handled = true
		if err := reg.Runtime.Uninstall(x, r); err != nil {
			return err
		}
	}
	if !handled {
		if owner, ok := c.owner(op.Address.Parent()); ok {
			x.MarkRestartRequired(owner.service)
		}
	}
	return nil
}

func (c *Controller) writeAttributeStep(x *Context, op *Operation) error {
	return c.attributeStep(x, op, op.Param(ParamValue))
}

func (c *Controller) undefineAttributeStep(x *Context, op *Operation) error {
	return c.attributeStep(x, op, model.Undefined())
}

func (c *Controller) attributeStep(x *Context, op *Operation, v model.Value) error {
	name := op.AttributeName()
	if name == "" {
		return errdefs.Model(errdefs.CodeMissingRequired, "parameter %q is required", ParamName)
	}

	var prev model.Value
	var err error
	if v.IsDefined() {
		prev, err = x.WriteAttribute(op.Address, name, v)
	} else {
		prev, err = x.UndefineAttribute(op.Address, name)
	}
	if err != nil {
		return err
	}

	cur := c.tree.Snapshot(op.Address)
	if cur == nil || cur.Raw(name).Equal(prev) {
		return nil
	}
	x.AddStep(StageRuntime, op, func(x *Context, op *Operation) error {
		return c.attributeRuntime(x, op, name)
	})
	return nil
}

// attributeRuntime reacts to an attribute change according to the
// attribute's mutability class.
func (c *Controller) attributeRuntime(x *Context, op *Operation, name string) error {
	def, err := c.tree.DefinitionFor(op.Address)
	if err != nil {
		return err
	}
	attr, ok := def.Attribute(name)
	if !ok {
		return nil
	}
	owner, ok := c.owner(op.Address)
	if !ok {
		if attr.Class() == model.RestartAllServices {
			x.MarkReloadRequired()
		}
		return nil
	}

	switch attr.Class() {
	case model.RuntimeWritable:
		if applier, ok := owner.handler.(AttributeApplier); ok {
			snap := c.tree.Snapshot(op.Address)
			if snap == nil {
				return nil
			}
			return applier.ApplyAttribute(x, op.Address, name, snap.Get(name))
		}
		return x.RestartService(owner.service)
	case model.RestartResource:
		x.MarkRestartRequired(owner.service)
	case model.RestartAllServices:
		x.MarkRestartRequired(owner.service)
		x.MarkReloadRequired()
	}
	return nil
}

func (c *Controller) readResourceStep(x *Context, op *Operation) error {
	r, err := x.ReadResource(op.Address)
	if err != nil {
		return err
	}
	x.SetResult(ResourceValue(r, op.BoolParam(ParamRecursive, false), op.BoolParam(ParamIncludeDefaults, true)))
	return nil
}

func (c *Controller) readAttributeStep(x *Context, op *Operation) error {
	name := op.AttributeName()
	if name == "" {
		return errdefs.Model(errdefs.CodeMissingRequired, "parameter %q is required", ParamName)
	}
	r, err := x.ReadResource(op.Address)
	if err != nil {
		return err
	}
	v, err := r.Read(name)
	if err != nil {
		return err
	}
	if !op.BoolParam(ParamIncludeDefaults, true) {
		v = r.Raw(name)
	}
	x.SetResult(v)
	return nil
}

func (c *Controller) describeStep(x *Context, op *Operation) error {
	r, err := x.ReadResource(op.Address)
	if err != nil {
		return err
	}
	ops := Describe(r)
	out := make([]model.Value, len(ops))
	for i, d := range ops {
		out[i] = model.String(d.String())
	}
	x.SetResult(model.List(out...))
	return nil
}

// compositeStep runs the steps as children; the response collects each
// step's response under "step-N".
func (c *Controller) compositeStep(x *Context, op *Operation) error {
	results := make([]model.Value, len(op.Steps))
	for i, s := range op.Steps {
		fn, err := c.stepFor(s)
		if err != nil {
			return err
		}
		i := i
		x.AddStep(StageModel, s, func(x *Context, sop *Operation) error {
			saved := x.response
			x.response = model.Undefined()
			err := fn(x, sop)
			results[i] = x.response
			x.response = saved
			return err
		})
	}
	x.AddStep(StageModel, op, func(x *Context, _ *Operation) error {
		out := make(map[string]model.Value, len(results))
		for i, v := range results {
			out[fmt.Sprintf("step-%d", i+1)] = v
		}
		x.SetResult(model.Object(out))
		return nil
	})
	return nil
}

// ResourceValue renders a resource as an object value. Children appear under
// their type, keyed by name; without recursion their values are undefined.
func ResourceValue(r *model.Resource, recursive, includeDefaults bool) model.Value {
	out := make(map[string]model.Value)
	for _, a := range r.Definition().Attributes() {
		if includeDefaults {
			out[a.Name] = r.Get(a.Name)
		} else {
			out[a.Name] = r.Raw(a.Name)
		}
	}
	for _, typ := range r.Definition().ChildTypes() {
		children := make(map[string]model.Value)
		for _, ch := range r.Children(typ) {
			name := ch.Address().Last().Name
			if recursive {
				children[name] = ResourceValue(ch, true, includeDefaults)
			} else {
				children[name] = model.Undefined()
			}
		}
		if len(children) == 0 {
			out[typ] = model.Undefined()
		} else {
			out[typ] = model.Object(children)
		}
	}
	return model.Object(out)
}

type ownerInfo struct {
	addr    model.Address
	handler ResourceHandler
	service services.Name
}

// owner finds the closest resource at or above addr whose definition has a
// runtime handler.
func (c *Controller) owner(addr model.Address) (ownerInfo, bool) {
	root := c.tree.RootDefinition()
	for i := len(addr); i >= 1; i-- {
		prefix := model.NewAddress(addr[:i]...)
		def := root.Find(prefix)
		if def == nil {
			continue
		}
		if reg := c.registration(def); reg != nil && reg.Runtime != nil {
			return ownerInfo{addr: prefix, handler: reg.Runtime, service: reg.Runtime.ServiceName(prefix)}, true
		}
	}
	return ownerInfo{}, false
}

func postOrder(r *model.Resource) []*model.Resource {
	var out []*model.Resource
	var visit func(*model.Resource)
	visit = func(n *model.Resource) {
		children := n.AllChildren()
		for i := len(children) - 1; i >= 0; i-- {
			visit(children[i])
		}
		out = append(out, n)
	}
	visit(r)
	return out
}
