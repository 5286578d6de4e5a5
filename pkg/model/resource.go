package model

import (
	"fmt"
	"sort"

	"github.com/openfroyo/webplane/pkg/errdefs"
)

// AttributeState distinguishes the three ways an attribute can read.
type AttributeState int

const (
	// StateUnset means the attribute was never written; reads fall back to
	// the schema default.
	StateUnset AttributeState = iota
	// StateNull means the attribute was explicitly set to null.
	StateNull
	// StateSet means the attribute holds an explicit value.
	StateSet
)

func (s AttributeState) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateSet:
		return "set"
	}
	return "unset"
}

type childSet struct {
	order  []string
	byName map[string]*Resource
}

// Resource is a node of the configuration tree. Values handed out by Tree are
// detached snapshots; mutating them does not affect the tree.
type Resource struct {
	def        *ResourceDefinition
	address    Address
	version    uint64
	attributes map[string]Value
	childTypes []string
	children   map[string]*childSet

	// slot is the position among same-type siblings when the snapshot was
	// taken from a tree, -1 when unknown.
	slot int
}

func newResource(def *ResourceDefinition, addr Address, attrs map[string]Value) *Resource {
	r := &Resource{
		def:        def,
		address:    NewAddress(addr...),
		attributes: make(map[string]Value, len(attrs)),
		children:   make(map[string]*childSet),
		slot:       -1,
	}
	for k, v := range attrs {
		r.attributes[k] = v
	}
	return r
}

// NewDetached builds a standalone resource, used for snapshots assembled
// outside a tree (documents, transformation output).
func NewDetached(def *ResourceDefinition, addr Address, attrs map[string]Value) *Resource {
	return newResource(def, addr, attrs)
}

// Address returns the resource's address.
func (r *Resource) Address() Address { return NewAddress(r.address...) }

// Definition returns the resource's schema.
func (r *Resource) Definition() *ResourceDefinition { return r.def }

// Version is bumped on every change to the resource or its direct children.
func (r *Resource) Version() uint64 { return r.version }

// State reports whether name is unset, explicitly null or set.
func (r *Resource) State(name string) AttributeState {
	v, ok := r.attributes[name]
	switch {
	case !ok:
		return StateUnset
	case v.IsNull():
		return StateNull
	}
	return StateSet
}

// Raw returns the explicitly stored value, undefined when unset.
func (r *Resource) Raw(name string) Value {
	return r.attributes[name]
}

// Read returns the attribute value, applying the schema default when unset.
func (r *Resource) Read(name string) (Value, error) {
	def, ok := r.def.Attribute(name)
	if !ok {
		return Value{}, errdefs.Model(errdefs.CodeUnknownAttribute, "unknown attribute %q", name).WithAddress(r.address.String())
	}
	if v, set := r.attributes[name]; set {
		return v, nil
	}
	return def.Default, nil
}

// Get is Read without the error for known-good attribute names.
func (r *Resource) Get(name string) Value {
	v, _ := r.Read(name)
	return v
}

// Model returns the attribute map. With includeDefaults, unset attributes
// that have a default are filled in; other unset attributes are omitted.
func (r *Resource) Model(includeDefaults bool) map[string]Value {
	out := make(map[string]Value, len(r.attributes))
	for k, v := range r.attributes {
		out[k] = v
	}
	if includeDefaults && r.def != nil {
		for _, def := range r.def.attributes {
			if _, set := out[def.Name]; !set && def.HasDefault() {
				out[def.Name] = def.Default
			}
		}
	}
	return out
}

// ChildTypes returns the types that currently have children, in order of
// first insertion.
func (r *Resource) ChildTypes() []string {
	out := make([]string, 0, len(r.childTypes))
	for _, t := range r.childTypes {
		if cs := r.children[t]; cs != nil && len(cs.order) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Children returns the children of one type in insertion order.
func (r *Resource) Children(typ string) []*Resource {
	cs := r.children[typ]
	if cs == nil {
		return nil
	}
	out := make([]*Resource, 0, len(cs.order))
	for _, n := range cs.order {
		out = append(out, cs.byName[n])
	}
	return out
}

// AllChildren returns every child grouped by type, types in insertion order.
func (r *Resource) AllChildren() []*Resource {
	var out []*Resource
	for _, t := range r.ChildTypes() {
		out = append(out, r.Children(t)...)
	}
	return out
}

// Child returns the child at e or nil.
func (r *Resource) Child(e PathElement) *Resource {
	cs := r.children[e.Type]
	if cs == nil {
		return nil
	}
	return cs.byName[e.Name]
}

// HasChildren reports whether any child exists.
func (r *Resource) HasChildren() bool {
	for _, cs := range r.children {
		if len(cs.order) > 0 {
			return true
		}
	}
	return false
}

// Descendant walks rel below r, returning nil when any step is missing.
func (r *Resource) Descendant(rel Address) *Resource {
	cur := r
	for _, e := range rel {
		cur = cur.Child(e)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (r *Resource) addChild(c *Resource) {
	r.insertChild(c, -1)
}

// insertChild adds c at position at among its same-type siblings, or last
// when at is out of range. A child that already exists keeps its position.
func (r *Resource) insertChild(c *Resource, at int) {
	e := c.address.Last()
	cs := r.children[e.Type]
	if cs == nil {
		cs = &childSet{byName: make(map[string]*Resource)}
		r.children[e.Type] = cs
		r.childTypes = append(r.childTypes, e.Type)
	}
	if _, exists := cs.byName[e.Name]; !exists {
		if at < 0 || at >= len(cs.order) {
			cs.order = append(cs.order, e.Name)
		} else {
			cs.order = append(cs.order, "")
			copy(cs.order[at+1:], cs.order[at:])
			cs.order[at] = e.Name
		}
	}
	cs.byName[e.Name] = c
	r.version++
}

func (r *Resource) childIndex(e PathElement) int {
	cs := r.children[e.Type]
	if cs == nil {
		return -1
	}
	for i, n := range cs.order {
		if n == e.Name {
			return i
		}
	}
	return -1
}

func (r *Resource) removeChild(e PathElement) *Resource {
	cs := r.children[e.Type]
	if cs == nil {
		return nil
	}
	c, ok := cs.byName[e.Name]
	if !ok {
		return nil
	}
	delete(cs.byName, e.Name)
	for i, n := range cs.order {
		if n == e.Name {
			cs.order = append(cs.order[:i], cs.order[i+1:]...)
			break
		}
	}
	r.version++
	return c
}

// Snapshot returns a detached deep copy of the subtree.
func (r *Resource) Snapshot() *Resource {
	return r.relocate(r.address)
}

// relocate deep-copies the subtree and rebases its addresses at addr.
func (r *Resource) relocate(addr Address) *Resource {
	out := newResource(r.def, addr, r.attributes)
	for _, t := range r.childTypes {
		cs := r.children[t]
		if cs == nil {
			continue
		}
		for _, n := range cs.order {
			c := cs.byName[n]
			out.addChild(c.relocate(addr.Append(c.address.Last())))
		}
	}
	out.version = r.version
	return out
}

// Graft replaces, inserts or (with repl nil) removes the descendant at rel.
// It mutates r and must only be used on detached snapshots.
func (r *Resource) Graft(rel Address, repl *Resource) error {
	if len(rel) == 0 {
		return fmt.Errorf("cannot graft onto the snapshot root")
	}
	parent := r.Descendant(rel.Parent())
	if parent == nil {
		return fmt.Errorf("no resource at %s below %s", rel.Parent(), r.address)
	}
	last := rel.Last()
	if repl == nil {
		parent.removeChild(last)
		return nil
	}
	parent.insertChild(repl.relocate(parent.address.Append(last)), repl.slot)
	return nil
}

// Walk visits the subtree in pre-order, parents before children.
func (r *Resource) Walk(fn func(*Resource) error) error {
	if err := fn(r); err != nil {
		return err
	}
	for _, c := range r.AllChildren() {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Equal compares explicit attribute state and children, ignoring child
// ordering and versions.
func (r *Resource) Equal(o *Resource) bool {
	if r == nil || o == nil {
		return r == nil && o == nil
	}
	if !r.address.Equal(o.address) || len(r.attributes) != len(o.attributes) {
		return false
	}
	for k, v := range r.attributes {
		ov, ok := o.attributes[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	rt, ot := r.ChildTypes(), o.ChildTypes()
	if len(rt) != len(ot) {
		return false
	}
	sort.Strings(rt)
	sort.Strings(ot)
	for i := range rt {
		if rt[i] != ot[i] {
			return false
		}
		rc, oc := r.children[rt[i]], o.children[ot[i]]
		if len(rc.byName) != len(oc.byName) {
			return false
		}
		for n, c := range rc.byName {
			if !c.Equal(oc.byName[n]) {
				return false
			}
		}
	}
	return true
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s%v", r.address, r.attributes)
}
