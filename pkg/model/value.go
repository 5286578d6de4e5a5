package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the dynamic kind of a Value.
type Kind uint8

const (
	// KindUndefined is the state of an attribute that was never set.
	KindUndefined Kind = iota
	// KindNull is an explicitly set null.
	KindNull
	KindString
	KindInt
	KindBool
	KindList
	KindObject
	// KindExpression is an unresolved "${...}" expression.
	KindExpression
)

var kindNames = [...]string{"undefined", "null", "string", "int", "bool", "list", "object", "expression"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// expressionKey is the JSON envelope key for expression values.
const expressionKey = "EXPRESSION_VALUE"

// Value is an immutable, typed attribute or parameter value. The zero value
// is undefined.
type Value struct {
	kind Kind
	s    string
	i    int64
	b    bool
	list []Value
	obj  map[string]Value
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{} }

// Null returns an explicit null.
func Null() Value { return Value{kind: KindNull} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Expression returns an unresolved expression such as "${jboss.bind.address}".
func Expression(expr string) Value { return Value{kind: KindExpression, s: expr} }

// List returns a list value holding a copy of vs.
func List(vs ...Value) Value {
	out := make([]Value, len(vs))
	copy(out, vs)
	return Value{kind: KindList, list: out}
}

// StringList returns a list of string values.
func StringList(ss ...string) Value {
	out := make([]Value, len(ss))
	for i, s := range ss {
		out[i] = String(s)
	}
	return Value{kind: KindList, list: out}
}

// Object returns an object value holding a copy of m.
func Object(m map[string]Value) Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return Value{kind: KindObject, obj: out}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsDefined reports whether the value is anything but undefined. An explicit
// null is defined.
func (v Value) IsDefined() bool { return v.kind != KindUndefined }

// IsNull reports whether the value is an explicit null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsExpression reports whether the value is an unresolved expression.
func (v Value) IsExpression() bool { return v.kind == KindExpression }

// AsString returns the string payload of a string or expression value.
func (v Value) AsString() (string, bool) {
	if v.kind == KindString || v.kind == KindExpression {
		return v.s, true
	}
	return "", false
}

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) {
	if v.kind == KindInt {
		return v.i, true
	}
	return 0, false
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

// AsList returns a copy of the list elements.
func (v Value) AsList() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out
}

// AsStrings returns list elements rendered as text.
func (v Value) AsStrings() []string {
	if v.kind != KindList {
		return nil
	}
	out := make([]string, 0, len(v.list))
	for _, e := range v.list {
		out = append(out, e.Text())
	}
	return out
}

// AsObject returns a copy of the object fields.
func (v Value) AsObject() map[string]Value {
	if v.kind != KindObject {
		return nil
	}
	out := make(map[string]Value, len(v.obj))
	for k, e := range v.obj {
		out[k] = e
	}
	return out
}

// Keys returns the object keys in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns an object field, undefined when absent.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Undefined()
	}
	return v.obj[key]
}

// Len returns the number of list elements or object fields.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindObject:
		return len(v.obj)
	}
	return 0
}

// Equal reports deep equality. Undefined equals only undefined and null
// equals only null.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUndefined, KindNull:
		return true
	case KindString, KindExpression:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	}
	return false
}

// Text renders scalars without quoting; used for service configuration and
// CLI output.
func (v Value) Text() string {
	switch v.kind {
	case KindString, KindExpression:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return v.String()
}

// String renders the value in management CLI syntax.
func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.s)
	case KindExpression:
		return "expression " + strconv.Quote(v.s)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindObject:
		keys := v.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + "=>" + v.obj[k].String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return ""
}

// Interface converts to plain Go values: nil, string, int64, bool, []any,
// map[string]any. Expressions render as their "${...}" text.
func (v Value) Interface() any {
	switch v.kind {
	case KindString, KindExpression:
		return v.s
	case KindInt:
		return v.i
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Interface()
		}
		return out
	}
	return nil
}

// IsExpressionText reports whether s looks like "${...}".
func IsExpressionText(s string) bool {
	i := strings.Index(s, "${")
	return i >= 0 && strings.Contains(s[i:], "}")
}

// FromInterface converts decoded document data into a Value. Strings of the
// form "${...}" become expressions.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		if IsExpressionText(t) {
			return Expression(t), nil
		}
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows", t)
		}
		return Int(int64(t)), nil
	case float64:
		if t != math.Trunc(t) {
			return Value{}, fmt.Errorf("non-integral number %v is not supported", t)
		}
		return Int(int64(t)), nil
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return Value{}, fmt.Errorf("non-integral number %s is not supported", t)
		}
		return Int(i), nil
	case []string:
		return StringList(t...), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromInterface(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = ev
		}
		return Value{kind: KindList, list: out}, nil
	case map[string]any:
		if len(t) == 1 {
			if expr, ok := t[expressionKey].(string); ok {
				return Expression(expr), nil
			}
		}
		out := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromInterface(e)
			if err != nil {
				return Value{}, err
			}
			out[k] = ev
		}
		return Value{kind: KindObject, obj: out}, nil
	case map[string]string:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = String(e)
		}
		return Value{kind: KindObject, obj: out}, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// MarshalJSON encodes the value. Undefined and null both encode as null;
// expressions use an {"EXPRESSION_VALUE": "..."} envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindExpression:
		return json.Marshal(map[string]string{expressionKey: v.s})
	case KindList:
		return json.Marshal(v.list)
	case KindObject:
		return json.Marshal(v.obj)
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a value produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}
	out, err := fromJSON(x)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// fromJSON differs from FromInterface in that plain strings stay strings;
// expressions only come back through their envelope.
func fromJSON(x any) (Value, error) {
	switch t := x.(type) {
	case string:
		return String(t), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = ev
		}
		return Value{kind: KindList, list: out}, nil
	case map[string]any:
		if len(t) == 1 {
			if expr, ok := t[expressionKey].(string); ok {
				return Expression(expr), nil
			}
		}
		out := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			out[k] = ev
		}
		return Value{kind: KindObject, obj: out}, nil
	}
	return FromInterface(x)
}

// Type is the declared type of an attribute.
type Type string

const (
	TypeString Type = "STRING"
	TypeInt    Type = "INT"
	TypeBool   Type = "BOOLEAN"
	TypeList   Type = "LIST"
	TypeObject Type = "OBJECT"
)

// Coerce converts v to type t where a lossless conversion exists. Undefined,
// null and expressions pass through unchanged.
func (v Value) Coerce(t Type) (Value, bool) {
	switch v.kind {
	case KindUndefined, KindNull, KindExpression:
		return v, true
	}
	switch t {
	case TypeString:
		switch v.kind {
		case KindString:
			return v, true
		case KindInt, KindBool:
			return String(v.Text()), true
		}
	case TypeInt:
		switch v.kind {
		case KindInt:
			return v, true
		case KindString:
			i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
			if err == nil {
				return Int(i), true
			}
		}
	case TypeBool:
		switch v.kind {
		case KindBool:
			return v, true
		case KindString:
			switch strings.ToLower(strings.TrimSpace(v.s)) {
			case "true":
				return Bool(true), true
			case "false":
				return Bool(false), true
			}
		}
	case TypeList:
		if v.kind == KindList {
			return v, true
		}
	case TypeObject:
		if v.kind == KindObject {
			return v, true
		}
	}
	return v, false
}
