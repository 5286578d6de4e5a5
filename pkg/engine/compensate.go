package engine

import (
	"github.com/openfroyo/webplane/pkg/model"
)

// Diff returns the operations that turn the subtree from into the subtree
// to, both rooted at addr. A nil snapshot means the resource is absent.
//
// Removals come first, deepest resource first; then attribute writes and
// undefines; then additions, parents before children. A resource whose
// read-only attributes differ is removed and added again.
//
// Plan uses Diff(addr, live, desired). Compensations go through Compensate.
func Diff(addr model.Address, from, to *model.Resource) []*Operation {
	return diffWith(differ{}, addr, from, to)
}

// Compensate returns the operations undoing the change from before to after.
// It is Diff(addr, after, before) except that each remove carries the
// attribute values the resource held, so a journal entry records what the
// undone add created.
func Compensate(addr model.Address, after, before *model.Resource) []*Operation {
	return diffWith(differ{keepAttributes: true}, addr, after, before)
}

func diffWith(d differ, addr model.Address, from, to *model.Resource) []*Operation {
	d.diff(addr, from, to)
	out := make([]*Operation, 0, len(d.removes)+len(d.writes)+len(d.adds))
	out = append(out, d.removes...)
	out = append(out, d.writes...)
	out = append(out, d.adds...)
	return out
}

// Combine folds operations into one: nil for none, the operation itself for
// one, a composite otherwise.
func Combine(ops []*Operation) *Operation {
	switch len(ops) {
	case 0:
		return nil
	case 1:
		return ops[0]
	}
	return NewComposite(ops...)
}

// Describe returns the ADD operations that rebuild the subtree, parents
// before children.
func Describe(r *model.Resource) []*Operation {
	var d differ
	d.addSubtree(r)
	return d.adds
}

type differ struct {
	keepAttributes bool

	removes []*Operation
	writes  []*Operation
	adds    []*Operation
}

func (d *differ) diff(addr model.Address, from, to *model.Resource) {
	switch {
	case from == nil && to == nil:
		return
	case from == nil:
		d.addSubtree(to)
		return
	case to == nil:
		d.removeSubtree(from)
		return
	}

	if requiresRecreate(from, to) {
		d.removeSubtree(from)
		d.addSubtree(to)
		return
	}

	d.attributes(addr, from, to)

	for _, c := range from.AllChildren() {
		e := c.Address().Last()
		if tc := to.Child(e); tc != nil {
			d.diff(addr.Append(e), c, tc)
		} else {
			d.removeSubtree(c)
		}
	}
	for _, tc := range to.AllChildren() {
		if from.Child(tc.Address().Last()) == nil {
			d.addSubtree(tc)
		}
	}
}

func (d *differ) attributes(addr model.Address, from, to *model.Resource) {
	for _, def := range attributeNames(from, to) {
		fs, ts := from.State(def), to.State(def)
		switch {
		case ts == model.StateUnset && fs == model.StateUnset:
		case ts == model.StateUnset:
			d.writes = append(d.writes, NewUndefineAttribute(addr, def))
		case fs == model.StateUnset || !from.Raw(def).Equal(to.Raw(def)):
			d.writes = append(d.writes, NewWriteAttribute(addr, def, to.Raw(def)))
		}
	}
}

func (d *differ) addSubtree(r *model.Resource) {
	d.adds = append(d.adds, NewAdd(r.Address(), r.Model(false)))
	for _, c := range r.AllChildren() {
		d.addSubtree(c)
	}
}

func (d *differ) removeSubtree(r *model.Resource) {
	children := r.AllChildren()
	for i := len(children) - 1; i >= 0; i-- {
		d.removeSubtree(children[i])
	}
	if d.keepAttributes {
		d.removes = append(d.removes, New(OpRemove, r.Address(), r.Model(false)))
		return
	}
	d.removes = append(d.removes, NewRemove(r.Address()))
}

// attributeNames lists the attribute names of from and to in definition
// order.
func attributeNames(from, to *model.Resource) []string {
	def := to.Definition()
	if def == nil {
		def = from.Definition()
	}
	if def == nil {
		return nil
	}
	attrs := def.Attributes()
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

func requiresRecreate(from, to *model.Resource) bool {
	def := to.Definition()
	if def == nil {
		return false
	}
	for _, a := range def.Attributes() {
		if a.Class() != model.ReadOnly {
			continue
		}
		if from.State(a.Name) != to.State(a.Name) || !from.Raw(a.Name).Equal(to.Raw(a.Name)) {
			return true
		}
	}
	return false
}
