package model

import (
	"fmt"
	"strings"

	"github.com/openfroyo/webplane/pkg/errdefs"
)

// Wildcard matches any element name in definition paths and address patterns.
const Wildcard = "*"

// PathElement is one (type, name) step of a resource address.
type PathElement struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Element is shorthand for constructing a PathElement.
func Element(typ, name string) PathElement {
	return PathElement{Type: typ, Name: name}
}

// IsWildcard reports whether the element matches every name of its type.
func (e PathElement) IsWildcard() bool {
	return e.Name == Wildcard
}

// Matches reports whether e, used as a pattern, matches other.
func (e PathElement) Matches(other PathElement) bool {
	return e.Type == other.Type && (e.IsWildcard() || e.Name == other.Name)
}

func (e PathElement) String() string {
	return e.Type + "=" + e.Name
}

// Address is an ordered sequence of path elements from the root.
// Methods never modify the receiver.
type Address []PathElement

// RootAddress is the address of the tree root.
var RootAddress = Address{}

// NewAddress copies elems into a fresh address.
func NewAddress(elems ...PathElement) Address {
	out := make(Address, len(elems))
	copy(out, elems)
	return out
}

// ParseAddress parses the "/type=name/type=name" form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "/" {
		return Address{}, nil
	}
	s = strings.TrimPrefix(s, "/")
	parts := strings.Split(s, "/")
	out := make(Address, 0, len(parts))
	for _, p := range parts {
		typ, name, ok := strings.Cut(p, "=")
		if !ok || typ == "" || name == "" {
			return nil, errdefs.Model(errdefs.CodeSchemaViolation, "invalid address element %q in %q", p, s)
		}
		out = append(out, Element(typ, name))
	}
	return out, nil
}

// MustParseAddress is ParseAddress for static addresses; it panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	if len(a) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, e := range a {
		b.WriteByte('/')
		b.WriteString(e.String())
	}
	return b.String()
}

// Len returns the number of elements.
func (a Address) Len() int {
	return len(a)
}

// IsRoot reports whether a addresses the tree root.
func (a Address) IsRoot() bool {
	return len(a) == 0
}

// Append returns a new address with elems appended.
func (a Address) Append(elems ...PathElement) Address {
	out := make(Address, 0, len(a)+len(elems))
	out = append(out, a...)
	return append(out, elems...)
}

// Parent returns the address of the parent resource. The root is its own parent.
func (a Address) Parent() Address {
	if len(a) == 0 {
		return Address{}
	}
	return NewAddress(a[:len(a)-1]...)
}

// Last returns the final element; the zero element for the root.
func (a Address) Last() PathElement {
	if len(a) == 0 {
		return PathElement{}
	}
	return a[len(a)-1]
}

// Sub returns a copy of elements [start:end).
func (a Address) Sub(start, end int) Address {
	return NewAddress(a[start:end]...)
}

// Equal reports element-wise equality.
func (a Address) Equal(b Address) bool {
	return a.Compare(b) == 0
}

// Compare orders addresses lexicographically over elements, comparing type
// then name. A proper prefix sorts first.
func (a Address) Compare(b Address) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(a[i].Type, b[i].Type); c != 0 {
			return c
		}
		if c := strings.Compare(a[i].Name, b[i].Name); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// HasPrefix reports whether p is an ancestor-or-self of a.
func (a Address) HasPrefix(p Address) bool {
	if len(p) > len(a) {
		return false
	}
	for i := range p {
		if a[i] != p[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether one address is an ancestor-or-self of the other,
// i.e. whether their subtrees intersect.
func (a Address) Overlaps(b Address) bool {
	return a.HasPrefix(b) || b.HasPrefix(a)
}

// Matches reports whether a matches pattern element-wise, honouring wildcard
// names in the pattern.
func (a Address) Matches(pattern Address) bool {
	if len(a) != len(pattern) {
		return false
	}
	for i := range a {
		if !pattern[i].Matches(a[i]) {
			return false
		}
	}
	return true
}

// IndexOf returns the index of the first element equal to e, or -1.
func (a Address) IndexOf(e PathElement) int {
	for i := range a {
		if a[i] == e {
			return i
		}
	}
	return -1
}

// Relative returns the elements of a below prefix p. It panics when p is not
// a prefix of a.
func (a Address) Relative(p Address) Address {
	if !a.HasPrefix(p) {
		panic(fmt.Sprintf("address %s is not below %s", a, p))
	}
	return NewAddress(a[len(p):]...)
}

// MarshalText renders the address in its string form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the string form.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
