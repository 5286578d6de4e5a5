package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/webplane/pkg/model"
)

// Standard operation names.
const (
	OpAdd               = "add"
	OpRemove            = "remove"
	OpWriteAttribute    = "write-attribute"
	OpUndefineAttribute = "undefine-attribute"
	OpReadResource      = "read-resource"
	OpReadAttribute     = "read-attribute"
	OpComposite         = "composite"
	OpDescribe          = "describe"
)

// Well-known parameter names.
const (
	ParamName            = "name"
	ParamValue           = "value"
	ParamCascade         = "cascade"
	ParamRecursive       = "recursive"
	ParamIncludeDefaults = "include-defaults"
)

// Caller identifies who submitted an operation.
type Caller struct {
	User  string   `json:"user,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Headers control how an operation is executed.
type Headers struct {
	// Verify blocks until services touched by the runtime stage settle and
	// fails the operation if any of them failed.
	Verify bool `json:"verify,omitempty"`

	// VerifyTimeout bounds the verify stage; zero uses the controller's
	// default.
	VerifyTimeout time.Duration `json:"verify_timeout,omitempty"`

	Caller Caller `json:"caller,omitempty"`

	// RollbackOnRuntimeFailure defaults to true when nil.
	RollbackOnRuntimeFailure *bool `json:"rollback_on_runtime_failure,omitempty"`
}

func (h Headers) rollbackEnabled() bool {
	return h.RollbackOnRuntimeFailure == nil || *h.RollbackOnRuntimeFailure
}

// Operation is a management request addressed at a resource.
type Operation struct {
	ID      uuid.UUID              `json:"id"`
	Name    string                 `json:"operation"`
	Address model.Address          `json:"address"`
	Params  map[string]model.Value `json:"params,omitempty"`
	Steps   []*Operation           `json:"steps,omitempty"`
	Headers Headers                `json:"headers,omitempty"`
}

// New creates an operation with a fresh ID.
func New(name string, addr model.Address, params map[string]model.Value) *Operation {
	op := &Operation{
		ID:      uuid.New(),
		Name:    name,
		Address: model.NewAddress(addr...),
		Params:  make(map[string]model.Value, len(params)),
	}
	for k, v := range params {
		op.Params[k] = v
	}
	return op
}

// NewAdd creates an ADD operation carrying the resource's attributes.
func NewAdd(addr model.Address, attrs map[string]model.Value) *Operation {
	return New(OpAdd, addr, attrs)
}

// NewRemove creates a REMOVE operation.
func NewRemove(addr model.Address) *Operation {
	return New(OpRemove, addr, nil)
}

// NewWriteAttribute creates a WRITE-ATTRIBUTE operation.
func NewWriteAttribute(addr model.Address, name string, v model.Value) *Operation {
	return New(OpWriteAttribute, addr, map[string]model.Value{
		ParamName:  model.String(name),
		ParamValue: v,
	})
}

// NewUndefineAttribute creates an UNDEFINE-ATTRIBUTE operation.
func NewUndefineAttribute(addr model.Address, name string) *Operation {
	return New(OpUndefineAttribute, addr, map[string]model.Value{ParamName: model.String(name)})
}

// NewReadResource creates a READ-RESOURCE operation.
func NewReadResource(addr model.Address) *Operation {
	return New(OpReadResource, addr, nil)
}

// NewReadAttribute creates a READ-ATTRIBUTE operation.
func NewReadAttribute(addr model.Address, name string) *Operation {
	return New(OpReadAttribute, addr, map[string]model.Value{ParamName: model.String(name)})
}

// NewDescribe creates a DESCRIBE operation.
func NewDescribe(addr model.Address) *Operation {
	return New(OpDescribe, addr, nil)
}

// NewComposite wraps steps into one atomic operation.
func NewComposite(steps ...*Operation) *Operation {
	op := New(OpComposite, model.RootAddress, nil)
	op.Steps = steps
	return op
}

// WithParam sets a parameter and returns the operation.
func (op *Operation) WithParam(name string, v model.Value) *Operation {
	if op.Params == nil {
		op.Params = make(map[string]model.Value)
	}
	op.Params[name] = v
	return op
}

// Param returns a parameter, undefined when absent.
func (op *Operation) Param(name string) model.Value {
	return op.Params[name]
}

// BoolParam reads a boolean parameter with a fallback.
func (op *Operation) BoolParam(name string, def bool) bool {
	v, ok := op.Params[name].Coerce(model.TypeBool)
	if !ok || !v.IsDefined() || v.IsNull() {
		return def
	}
	b, _ := v.AsBool()
	return b
}

// AttributeName returns the "name" parameter of attribute operations.
func (op *Operation) AttributeName() string {
	return op.Params[ParamName].Text()
}

// IsReadOnly reports whether the operation never mutates the tree.
func (op *Operation) IsReadOnly() bool {
	switch op.Name {
	case OpReadResource, OpReadAttribute, OpDescribe:
		return true
	case OpComposite:
		for _, s := range op.Steps {
			if !s.IsReadOnly() {
				return false
			}
		}
		return true
	}
	return false
}

// Addresses returns the addresses targeted by the operation and its steps.
func (op *Operation) Addresses() []model.Address {
	if op.Name != OpComposite {
		return []model.Address{op.Address}
	}
	var out []model.Address
	for _, s := range op.Steps {
		out = append(out, s.Addresses()...)
	}
	return out
}

// Clone returns a deep copy that keeps the ID.
func (op *Operation) Clone() *Operation {
	if op == nil {
		return nil
	}
	out := &Operation{
		ID:      op.ID,
		Name:    op.Name,
		Address: model.NewAddress(op.Address...),
		Params:  make(map[string]model.Value, len(op.Params)),
		Headers: op.Headers,
	}
	out.Headers.Caller.Roles = append([]string(nil), op.Headers.Caller.Roles...)
	for k, v := range op.Params {
		out.Params[k] = v
	}
	for _, s := range op.Steps {
		out.Steps = append(out.Steps, s.Clone())
	}
	return out
}

// Flatten returns the leaf operations of a composite in execution order.
func (op *Operation) Flatten() []*Operation {
	if op.Name != OpComposite {
		return []*Operation{op}
	}
	var out []*Operation
	for _, s := range op.Steps {
		out = append(out, s.Flatten()...)
	}
	return out
}

// String renders the operation in command syntax,
// e.g. /subsystem=web/connector=http:write-attribute(name="scheme",value="https").
func (op *Operation) String() string {
	if op.Name == OpComposite {
		parts := make([]string, len(op.Steps))
		for i, s := range op.Steps {
			parts[i] = s.String()
		}
		return "composite{" + strings.Join(parts, "; ") + "}"
	}

	var b strings.Builder
	b.WriteString(op.Address.String())
	b.WriteByte(':')
	b.WriteString(op.Name)
	if len(op.Params) > 0 {
		keys := make([]string, 0, len(op.Params))
		for k := range op.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('(')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(op.Params[k].String())
		}
		b.WriteByte(')')
	}
	return b.String()
}
