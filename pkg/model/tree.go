package model

import (
	"sync"

	"github.com/openfroyo/webplane/pkg/errdefs"
)

// Tree is the addressable configuration store. All reads return detached
// snapshots, so callers never observe a node while it is being mutated.
type Tree struct {
	mu      sync.RWMutex
	rootDef *ResourceDefinition
	root    *Resource
	version uint64
}

// NewTree creates an empty tree governed by the root definition.
func NewTree(rootDef *ResourceDefinition) *Tree {
	return &Tree{
		rootDef: rootDef,
		root:    newResource(rootDef, Address{}, nil),
	}
}

// RootDefinition returns the schema root.
func (t *Tree) RootDefinition() *ResourceDefinition {
	return t.rootDef
}

// Version increases on every successful mutation.
func (t *Tree) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// DefinitionFor resolves the schema for addr whether or not it exists.
func (t *Tree) DefinitionFor(addr Address) (*ResourceDefinition, error) {
	def := t.rootDef.Find(addr)
	if def == nil {
		return nil, errdefs.Model(errdefs.CodeSchemaViolation, "no resource type is registered at %s", addr).WithAddress(addr.String())
	}
	return def, nil
}

func (t *Tree) lookup(addr Address) *Resource {
	return t.root.Descendant(addr)
}

func notFound(addr Address) error {
	return errdefs.Model(errdefs.CodeResourceNotFound, "resource not found").WithAddress(addr.String())
}

// Get returns a snapshot of the resource at addr.
func (t *Tree) Get(addr Address) (*Resource, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r := t.lookup(addr)
	if r == nil {
		return nil, notFound(addr)
	}
	return r.Snapshot(), nil
}

// Snapshot returns a detached copy of the subtree at addr, nil when absent.
func (t *Tree) Snapshot(addr Address) *Resource {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r := t.lookup(addr)
	if r == nil {
		return nil
	}
	snap := r.Snapshot()
	if !addr.IsRoot() {
		snap.slot = t.lookup(addr.Parent()).childIndex(addr.Last())
	}
	return snap
}

// Exists reports whether a resource lives at addr.
func (t *Tree) Exists(addr Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(addr) != nil
}

// CreateChild adds a resource of type e under parent with the given
// attributes, validated against the child's schema.
func (t *Tree) CreateChild(parent Address, e PathElement, attrs map[string]Value) (*Resource, error) {
	addr := parent.Append(e)
	if e.IsWildcard() {
		return nil, errdefs.Model(errdefs.CodeSchemaViolation, "wildcard name in concrete address").WithAddress(addr.String())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.lookup(parent)
	if p == nil {
		return nil, notFound(parent)
	}
	def := p.def.Child(e)
	if def == nil {
		return nil, errdefs.Model(errdefs.CodeSchemaViolation, "child %s is not allowed under %s", e, parent).WithAddress(addr.String())
	}
	if p.Child(e) != nil {
		return nil, errdefs.Model(errdefs.CodeDuplicateResource, "resource already exists").WithAddress(addr.String())
	}
	validated, err := def.Validate(attrs)
	if err != nil {
		return nil, withAddress(err, addr)
	}

	r := newResource(def, addr, validated)
	p.addChild(r)
	t.version++
	return r.Snapshot(), nil
}

// RemoveChild detaches the resource at addr and returns it. Without cascade
// the resource must have no children.
func (t *Tree) RemoveChild(addr Address, cascade bool) (*Resource, error) {
	if addr.IsRoot() {
		return nil, errdefs.Model(errdefs.CodeSchemaViolation, "the root resource cannot be removed")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.lookup(addr)
	if r == nil {
		return nil, notFound(addr)
	}
	if r.HasChildren() && !cascade {
		return nil, errdefs.Model(errdefs.CodeResourceHasChildren, "resource has children and cascade was not requested").WithAddress(addr.String())
	}
	t.lookup(addr.Parent()).removeChild(addr.Last())
	t.version++
	return r, nil
}

// ReadAttribute reads an attribute, applying the schema default when unset.
func (t *Tree) ReadAttribute(addr Address, name string) (Value, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r := t.lookup(addr)
	if r == nil {
		return Value{}, notFound(addr)
	}
	return r.Read(name)
}

func (t *Tree) writable(addr Address, name string) (*Resource, *AttributeDefinition, error) {
	r := t.lookup(addr)
	if r == nil {
		return nil, nil, notFound(addr)
	}
	def, ok := r.def.Attribute(name)
	if !ok {
		return nil, nil, errdefs.Model(errdefs.CodeUnknownAttribute, "unknown attribute %q", name).WithAddress(addr.String())
	}
	if def.Class() == ReadOnly {
		return nil, nil, errdefs.Model(errdefs.CodeImmutable, "attribute %q cannot be modified", name).WithAddress(addr.String())
	}
	return r, def, nil
}

// WriteAttribute stores v and returns the previously stored raw value.
// Writing undefined is equivalent to UndefineAttribute.
func (t *Tree) WriteAttribute(addr Address, name string, v Value) (Value, error) {
	if !v.IsDefined() {
		return t.UndefineAttribute(addr, name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r, def, err := t.writable(addr, name)
	if err != nil {
		return Value{}, err
	}
	coerced, err := def.Validate(v)
	if err != nil {
		return Value{}, withAddress(err, addr)
	}
	prev := r.attributes[name]
	r.attributes[name] = coerced
	r.version++
	t.version++
	return prev, nil
}

// UndefineAttribute returns the attribute to the unset state and returns the
// previously stored raw value.
func (t *Tree) UndefineAttribute(addr Address, name string) (Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, def, err := t.writable(addr, name)
	if err != nil {
		return Value{}, err
	}
	if def.Required {
		return Value{}, errdefs.Model(errdefs.CodeMissingRequired, "attribute %q is required", name).WithAddress(addr.String())
	}
	prev, set := r.attributes[name]
	if set {
		delete(r.attributes, name)
		r.version++
		t.version++
	}
	return prev, nil
}

// Replace makes the subtree at addr equal to snap, or removes it when snap
// is nil. The parent must exist. It bypasses validation and is meant for
// restoring pre-images taken with Snapshot: a resource that was removed in
// between goes back to the position it held among its siblings.
func (t *Tree) Replace(addr Address, snap *Resource) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if addr.IsRoot() {
		if snap == nil {
			t.root = newResource(t.rootDef, Address{}, nil)
		} else {
			t.root = snap.relocate(Address{})
		}
		t.version++
		return nil
	}
	p := t.lookup(addr.Parent())
	if p == nil {
		return notFound(addr.Parent())
	}
	if snap == nil {
		if p.removeChild(addr.Last()) != nil {
			t.version++
		}
		return nil
	}
	p.insertChild(snap.relocate(addr), snap.slot)
	t.version++
	return nil
}

// Walk visits a snapshot of the subtree at addr in parent-before-child order.
func (t *Tree) Walk(addr Address, fn func(*Resource) error) error {
	snap := t.Snapshot(addr)
	if snap == nil {
		return notFound(addr)
	}
	return snap.Walk(fn)
}

func withAddress(err error, addr Address) error {
	if e, ok := err.(*errdefs.Error); ok && e.Address == "" {
		e.Address = addr.String()
	}
	return err
}
