package model

import (
	"fmt"
	"sort"

	"github.com/openfroyo/webplane/pkg/errdefs"
)

// Mutability classifies what a change to an attribute requires at runtime.
type Mutability string

const (
	// RuntimeWritable attributes are applied to the running service directly.
	RuntimeWritable Mutability = "runtime-writable"

	// RestartResource attributes take effect once the owning service restarts.
	RestartResource Mutability = "restart-resource"

	// RestartAllServices attributes take effect once every service restarts.
	RestartAllServices Mutability = "restart-all-services"

	// ReadOnly attributes are fixed once the resource exists.
	ReadOnly Mutability = "read-only"
)

// AttributeDefinition describes one attribute of a resource.
type AttributeDefinition struct {
	Name            string
	Type            Type
	Required        bool
	Default         Value
	Mutability      Mutability
	AllowExpression bool
	Description     string

	// Validator runs after type coercion on defined, non-null values.
	Validator func(Value) error
}

// HasDefault reports whether the schema supplies a default.
func (a *AttributeDefinition) HasDefault() bool {
	return a.Default.IsDefined()
}

// Class returns the mutability class, defaulting to restart-all-services.
func (a *AttributeDefinition) Class() Mutability {
	if a.Mutability == "" {
		return RestartAllServices
	}
	return a.Mutability
}

// Validate checks v against the definition and returns the coerced value.
func (a *AttributeDefinition) Validate(v Value) (Value, error) {
	switch {
	case !v.IsDefined() || v.IsNull():
		if a.Required {
			return v, errdefs.Model(errdefs.CodeMissingRequired, "attribute %q is required", a.Name)
		}
		return v, nil
	case v.IsExpression():
		if !a.AllowExpression {
			return v, errdefs.Model(errdefs.CodeWrongType, "attribute %q does not support expressions", a.Name)
		}
		return v, nil
	}
	out, ok := v.Coerce(a.Type)
	if !ok {
		return v, errdefs.Model(errdefs.CodeWrongType, "attribute %q expects %s, got %s", a.Name, a.Type, v.Kind())
	}
	if a.Validator != nil {
		if err := a.Validator(out); err != nil {
			return v, errdefs.Model(errdefs.CodeSchemaViolation, "invalid value %s for attribute %q", out, a.Name).WithCause(err)
		}
	}
	return out, nil
}

// AttributeBuilder assembles an AttributeDefinition.
type AttributeBuilder struct {
	def AttributeDefinition
}

// NewAttribute starts a definition for an optional attribute that requires
// all services to restart on change.
func NewAttribute(name string, t Type) *AttributeBuilder {
	return &AttributeBuilder{def: AttributeDefinition{Name: name, Type: t, Mutability: RestartAllServices}}
}

func (b *AttributeBuilder) Required() *AttributeBuilder {
	b.def.Required = true
	return b
}

func (b *AttributeBuilder) Default(v Value) *AttributeBuilder {
	b.def.Default = v
	return b
}

func (b *AttributeBuilder) Mutability(m Mutability) *AttributeBuilder {
	b.def.Mutability = m
	return b
}

func (b *AttributeBuilder) AllowExpression() *AttributeBuilder {
	b.def.AllowExpression = true
	return b
}

func (b *AttributeBuilder) Describe(s string) *AttributeBuilder {
	b.def.Description = s
	return b
}

func (b *AttributeBuilder) Validate(fn func(Value) error) *AttributeBuilder {
	b.def.Validator = fn
	return b
}

// Range restricts an INT attribute to [min, max].
func (b *AttributeBuilder) Range(min, max int64) *AttributeBuilder {
	return b.Validate(func(v Value) error {
		i, _ := v.AsInt()
		if i < min || i > max {
			return fmt.Errorf("%d is outside [%d, %d]", i, min, max)
		}
		return nil
	})
}

// OneOf restricts a STRING attribute to the given values.
func (b *AttributeBuilder) OneOf(allowed ...string) *AttributeBuilder {
	return b.Validate(func(v Value) error {
		s, _ := v.AsString()
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %v", s, allowed)
	})
}

func (b *AttributeBuilder) Build() *AttributeDefinition {
	def := b.def
	return &def
}

// ResourceDefinition is the schema of one kind of resource: its attributes
// and the kinds of children it may hold.
type ResourceDefinition struct {
	// Element is the path element pattern, e.g. connector=* or configuration=ssl.
	Element PathElement

	Description string

	// Constraints names the sensitivity classifications applied to the
	// resource, consulted by access control.
	Constraints []string

	attributes []*AttributeDefinition
	attrIndex  map[string]*AttributeDefinition
	children   []*ResourceDefinition
	parent     *ResourceDefinition
}

// NewResourceDefinition creates a definition with the given attributes.
func NewResourceDefinition(e PathElement, attrs ...*AttributeDefinition) *ResourceDefinition {
	d := &ResourceDefinition{
		Element:   e,
		attrIndex: make(map[string]*AttributeDefinition, len(attrs)),
	}
	for _, a := range attrs {
		if _, dup := d.attrIndex[a.Name]; dup {
			panic(fmt.Sprintf("duplicate attribute %q on %s", a.Name, e))
		}
		d.attributes = append(d.attributes, a)
		d.attrIndex[a.Name] = a
	}
	return d
}

// NewRootDefinition creates the definition of the tree root.
func NewRootDefinition() *ResourceDefinition {
	return NewResourceDefinition(PathElement{})
}

// WithConstraints attaches sensitivity classifications.
func (d *ResourceDefinition) WithConstraints(names ...string) *ResourceDefinition {
	d.Constraints = append(d.Constraints, names...)
	return d
}

// WithDescription sets the description.
func (d *ResourceDefinition) WithDescription(s string) *ResourceDefinition {
	d.Description = s
	return d
}

// AddChild registers a child definition and returns it.
func (d *ResourceDefinition) AddChild(c *ResourceDefinition) *ResourceDefinition {
	for _, existing := range d.children {
		if existing.Element == c.Element {
			panic(fmt.Sprintf("duplicate child %s under %s", c.Element, d.Element))
		}
	}
	c.parent = d
	d.children = append(d.children, c)
	return c
}

// Parent returns the enclosing definition, nil at the root.
func (d *ResourceDefinition) Parent() *ResourceDefinition {
	return d.parent
}

// Attributes returns the attribute definitions in declaration order.
func (d *ResourceDefinition) Attributes() []*AttributeDefinition {
	out := make([]*AttributeDefinition, len(d.attributes))
	copy(out, d.attributes)
	return out
}

// Attribute looks up an attribute definition by name.
func (d *ResourceDefinition) Attribute(name string) (*AttributeDefinition, bool) {
	a, ok := d.attrIndex[name]
	return a, ok
}

// Children returns the child definitions in registration order.
func (d *ResourceDefinition) Children() []*ResourceDefinition {
	out := make([]*ResourceDefinition, len(d.children))
	copy(out, d.children)
	return out
}

// ChildTypes returns the distinct child types in registration order.
func (d *ResourceDefinition) ChildTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range d.children {
		if !seen[c.Element.Type] {
			seen[c.Element.Type] = true
			out = append(out, c.Element.Type)
		}
	}
	return out
}

// Child finds the definition for a concrete child element. An exact
// (type, name) registration wins over a wildcard of the same type.
func (d *ResourceDefinition) Child(e PathElement) *ResourceDefinition {
	var wildcard *ResourceDefinition
	for _, c := range d.children {
		if c.Element == e {
			return c
		}
		if c.Element.Type == e.Type && c.Element.IsWildcard() {
			wildcard = c
		}
	}
	return wildcard
}

// HasChildType reports whether any child definition has the given type.
func (d *ResourceDefinition) HasChildType(typ string) bool {
	for _, c := range d.children {
		if c.Element.Type == typ {
			return true
		}
	}
	return false
}

// Find resolves the definition for an address relative to d.
func (d *ResourceDefinition) Find(rel Address) *ResourceDefinition {
	cur := d
	for _, e := range rel {
		cur = cur.Child(e)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Path returns the definition's pattern address from the root.
func (d *ResourceDefinition) Path() Address {
	var elems []PathElement
	for cur := d; cur != nil && cur.parent != nil; cur = cur.parent {
		elems = append(elems, cur.Element)
	}
	out := make(Address, len(elems))
	for i := range elems {
		out[i] = elems[len(elems)-1-i]
	}
	return out
}

// EffectiveConstraints returns the constraints of d and all its ancestors.
func (d *ResourceDefinition) EffectiveConstraints() []string {
	seen := make(map[string]bool)
	var out []string
	for cur := d; cur != nil; cur = cur.parent {
		for _, c := range cur.Constraints {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks a full attribute set for a new resource and returns the
// coerced values. Undefined entries are dropped; explicit nulls are kept.
func (d *ResourceDefinition) Validate(attrs map[string]Value) (map[string]Value, error) {
	out := make(map[string]Value, len(attrs))
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def, ok := d.attrIndex[name]
		if !ok {
			return nil, errdefs.Model(errdefs.CodeUnknownAttribute, "unknown attribute %q", name)
		}
		v, err := def.Validate(attrs[name])
		if err != nil {
			return nil, err
		}
		if v.IsDefined() {
			out[name] = v
		}
	}
	for _, def := range d.attributes {
		if !def.Required {
			continue
		}
		if v, ok := out[def.Name]; !ok || v.IsNull() {
			return nil, errdefs.Model(errdefs.CodeMissingRequired, "attribute %q is required", def.Name)
		}
	}
	return out, nil
}
