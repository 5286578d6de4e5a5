package web

import (
	"fmt"
	"os"
	"strings"

	"github.com/openfroyo/webplane/pkg/model"
)

// PropertyLookup resolves the property names used in expressions.
type PropertyLookup func(name string) (string, bool)

// EnvLookup resolves "env.NAME" from the environment and any other name
// from props.
func EnvLookup(props map[string]string) PropertyLookup {
	return func(name string) (string, bool) {
		if env, ok := strings.CutPrefix(name, "env."); ok {
			return os.LookupEnv(env)
		}
		v, ok := props[name]
		return v, ok
	}
}

// ResolveExpression replaces every "${a,b:default}" in s. The first name
// that resolves wins; without one the default is used.
func ResolveExpression(s string, lookup PropertyLookup) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unterminated expression in %q", s)
		}
		b.WriteString(s[:start])

		body := s[start+2 : start+end]
		names, def, hasDefault := strings.Cut(body, ":")
		resolved := false
		for _, n := range strings.Split(names, ",") {
			if v, ok := lookup(strings.TrimSpace(n)); ok {
				b.WriteString(v)
				resolved = true
				break
			}
		}
		if !resolved {
			if !hasDefault {
				return "", fmt.Errorf("cannot resolve expression ${%s}", body)
			}
			b.WriteString(def)
		}
		s = s[start+end+1:]
	}
}

// attributes reads resolved, typed attribute values of a resource. The first
// resolution failure is kept in err.
type attributes struct {
	r      *model.Resource
	lookup PropertyLookup
	err    error
}

func (a *attributes) value(name string) model.Value {
	v := a.r.Get(name)
	if !v.IsExpression() {
		return v
	}
	text, err := ResolveExpression(v.Text(), a.lookup)
	if err != nil {
		a.fail(fmt.Errorf("attribute %s of %s: %w", name, a.r.Address(), err))
		return model.Undefined()
	}
	out := model.String(text)
	if def, ok := a.r.Definition().Attribute(name); ok {
		c, ok := out.Coerce(def.Type)
		if !ok {
			a.fail(fmt.Errorf("attribute %s of %s: %q is not a valid %s", name, a.r.Address(), text, def.Type))
			return model.Undefined()
		}
		out = c
	}
	return out
}

func (a *attributes) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

func (a *attributes) str(name string) string {
	v := a.value(name)
	if !v.IsDefined() || v.IsNull() {
		return ""
	}
	return v.Text()
}

func (a *attributes) int(name string) int {
	i, _ := a.value(name).AsInt()
	return int(i)
}

func (a *attributes) bool(name string) bool {
	b, _ := a.value(name).AsBool()
	return b
}

func (a *attributes) strings(name string) []string {
	var out []string
	for _, e := range a.value(name).AsList() {
		if e.IsExpression() {
			text, err := ResolveExpression(e.Text(), a.lookup)
			if err != nil {
				a.fail(fmt.Errorf("attribute %s of %s: %w", name, a.r.Address(), err))
				continue
			}
			out = append(out, text)
			continue
		}
		out = append(out, e.Text())
	}
	return out
}

func (a *attributes) params(name string) map[string]string {
	v := a.value(name)
	if v.Kind() != model.KindObject {
		return nil
	}
	out := make(map[string]string, v.Len())
	for _, k := range v.Keys() {
		e := v.Get(k)
		if e.IsExpression() {
			text, err := ResolveExpression(e.Text(), a.lookup)
			if err != nil {
				a.fail(fmt.Errorf("attribute %s of %s: %w", name, a.r.Address(), err))
				continue
			}
			out[k] = text
			continue
		}
		out[k] = e.Text()
	}
	return out
}
