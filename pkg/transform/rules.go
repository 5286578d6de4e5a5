package transform

import (
	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/model"
)

// Checker rejects an attribute value the target version cannot represent.
// Values are undefined when the attribute is unset.
type Checker struct {
	// Reason is reported in the rejection.
	Reason string
	Reject func(addr model.Address, name string, v model.Value) bool
}

// hasValue reports whether v carries a value. Unset and explicit null both
// mean "no value" to a consumer that cannot tell them apart.
func hasValue(v model.Value) bool {
	return v.IsDefined() && !v.IsNull()
}

func containsExpression(v model.Value) bool {
	switch v.Kind() {
	case model.KindExpression:
		return true
	case model.KindList:
		for _, e := range v.AsList() {
			if containsExpression(e) {
				return true
			}
		}
	case model.KindObject:
		for _, k := range v.Keys() {
			if containsExpression(v.Get(k)) {
				return true
			}
		}
	}
	return false
}

var (
	// RejectDefined rejects any value.
	RejectDefined = Checker{
		Reason: "attribute is not supported by the target version",
		Reject: func(_ model.Address, _ string, v model.Value) bool { return hasValue(v) },
	}

	// RejectUndefined rejects a missing value.
	RejectUndefined = Checker{
		Reason: "attribute must be defined for the target version",
		Reject: func(_ model.Address, _ string, v model.Value) bool { return !hasValue(v) },
	}

	// RejectExpressions rejects values containing expressions.
	RejectExpressions = Checker{
		Reason: "expressions are not supported by the target version",
		Reject: func(_ model.Address, _ string, v model.Value) bool { return containsExpression(v) },
	}
)

// RejectIf builds a custom checker.
func RejectIf(reason string, fn func(v model.Value) bool) Checker {
	return Checker{
		Reason: reason,
		Reject: func(_ model.Address, _ string, v model.Value) bool { return fn(v) },
	}
}

// Discarder decides whether an attribute is silently dropped.
type Discarder func(v model.Value) bool

// DiscardAlways drops the attribute whatever its value.
func DiscardAlways(model.Value) bool { return true }

// DiscardUndefined drops the attribute when it has no value.
func DiscardUndefined(v model.Value) bool { return !hasValue(v) }

// DiscardValue drops the attribute when it equals match. With
// includeUndefined an unset attribute is dropped too.
func DiscardValue(match model.Value, includeUndefined bool) Discarder {
	return func(v model.Value) bool {
		if !hasValue(v) {
			return includeUndefined
		}
		return v.Equal(match)
	}
}

// Converter rewrites an attribute value; returning undefined removes it.
type Converter func(addr model.Address, name string, v model.Value) model.Value

// DefaultIfUndefined replaces a missing value with def.
func DefaultIfUndefined(def model.Value) Converter {
	return func(_ model.Address, _ string, v model.Value) model.Value {
		if !hasValue(v) {
			return def
		}
		return v
	}
}

// AttributeRule is the per-attribute pipeline: discard, then reject checks,
// then conversion.
type AttributeRule struct {
	Discard  Discarder
	Checkers []Checker
	Convert  Converter
}

// OperationOverride replaces the attribute pipeline for one operation kind.
// Returning nil discards the operation.
type OperationOverride func(addr model.Address, op *engine.Operation) (*engine.Operation, error)

// ResourceRule describes how one resource type is transformed. Children
// without a rule pass through unchanged.
type ResourceRule struct {
	attrNames  []string
	attributes map[string]*AttributeRule
	children   []*childRule
	overrides  map[string]OperationOverride
}

type childAction int

const (
	childTransform childAction = iota
	childReject
	childDiscard
)

type childRule struct {
	element  model.PathElement
	action   childAction
	redirect *model.PathElement
	rule     *ResourceRule
}

// NewResourceRule creates an empty rule.
func NewResourceRule() *ResourceRule {
	return &ResourceRule{
		attributes: make(map[string]*AttributeRule),
		overrides:  make(map[string]OperationOverride),
	}
}

// Attributes starts a rule for the named attributes.
func (r *ResourceRule) Attributes(names ...string) *AttributeBuilder {
	rules := make([]*AttributeRule, len(names))
	for i, n := range names {
		ar, ok := r.attributes[n]
		if !ok {
			ar = &AttributeRule{}
			r.attributes[n] = ar
			r.attrNames = append(r.attrNames, n)
		}
		rules[i] = ar
	}
	return &AttributeBuilder{parent: r, rules: rules}
}

// Child returns the rule for children matching e, creating it.
func (r *ResourceRule) Child(e model.PathElement) *ResourceRule {
	if c := r.findChild(e, true); c != nil && c.action == childTransform {
		return c.rule
	}
	c := &childRule{element: e, rule: NewResourceRule()}
	r.children = append(r.children, c)
	return c.rule
}

// RedirectChild is Child for a resource the target version addresses as to.
func (r *ResourceRule) RedirectChild(e, to model.PathElement) *ResourceRule {
	rule := r.Child(e)
	c := r.findChild(e, true)
	c.redirect = &to
	return rule
}

// RejectChild makes operations on children matching e fail.
func (r *ResourceRule) RejectChild(e model.PathElement) *ResourceRule {
	r.children = append(r.children, &childRule{element: e, action: childReject})
	return r
}

// DiscardChild silently drops children matching e.
func (r *ResourceRule) DiscardChild(e model.PathElement) *ResourceRule {
	r.children = append(r.children, &childRule{element: e, action: childDiscard})
	return r
}

// Override replaces the attribute pipeline for operation name.
func (r *ResourceRule) Override(name string, fn OperationOverride) *ResourceRule {
	r.overrides[name] = fn
	return r
}

// findChild returns the rule for e: an exact element first, then a wildcard
// of the same type. With exact, only an identical element matches.
func (r *ResourceRule) findChild(e model.PathElement, exact bool) *childRule {
	for _, c := range r.children {
		if c.element == e {
			return c
		}
	}
	if exact {
		return nil
	}
	for _, c := range r.children {
		if c.element.Matches(e) {
			return c
		}
	}
	return nil
}

// AttributeBuilder configures the rules of a set of attributes.
type AttributeBuilder struct {
	parent *ResourceRule
	rules  []*AttributeRule
}

// Reject adds reject checks.
func (b *AttributeBuilder) Reject(checkers ...Checker) *AttributeBuilder {
	for _, r := range b.rules {
		r.Checkers = append(r.Checkers, checkers...)
	}
	return b
}

// Discard sets the discard decision.
func (b *AttributeBuilder) Discard(d Discarder) *AttributeBuilder {
	for _, r := range b.rules {
		r.Discard = d
	}
	return b
}

// Convert sets the value converter.
func (b *AttributeBuilder) Convert(c Converter) *AttributeBuilder {
	for _, r := range b.rules {
		r.Convert = c
	}
	return b
}

// End returns the resource rule.
func (b *AttributeBuilder) End() *ResourceRule { return b.parent }

// attributeResult is the outcome of running one attribute through its rule.
type attributeResult struct {
	value     model.Value
	discarded bool
	rejected  []string
}

func (ar *AttributeRule) apply(addr model.Address, name string, v model.Value) attributeResult {
	if ar.Discard != nil && ar.Discard(v) {
		return attributeResult{discarded: true}
	}
	var rejected []string
	for _, c := range ar.Checkers {
		if c.Reject(addr, name, v) {
			rejected = append(rejected, c.Reason)
		}
	}
	if len(rejected) > 0 {
		return attributeResult{value: v, rejected: rejected}
	}
	if ar.Convert != nil {
		v = ar.Convert(addr, name, v)
	}
	return attributeResult{value: v}
}

// transformAttributes runs every ruled attribute of attrs through its rule,
// in place. Attributes without a rule are left alone. It returns the
// rejection reasons keyed by attribute name.
func (r *ResourceRule) transformAttributes(addr model.Address, attrs map[string]model.Value) map[string][]string {
	var rejections map[string][]string
	for _, name := range r.attrNames {
		res := r.attributes[name].apply(addr, name, attrs[name])
		switch {
		case len(res.rejected) > 0:
			if rejections == nil {
				rejections = make(map[string][]string)
			}
			rejections[name] = res.rejected
		case res.discarded || !res.value.IsDefined():
			delete(attrs, name)
		default:
			attrs[name] = res.value
		}
	}
	return rejections
}
