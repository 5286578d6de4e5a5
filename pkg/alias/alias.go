// Package alias rewrites resource addresses between their alias and
// canonical forms.
//
// Aliases are data: a Table lists (depth, aliased element) -> canonical
// element entries relative to an anchor element such as subsystem=web. One
// pure function, Rewrite, evaluates a table against an address; the Resolver
// adds memoisation on top.
package alias

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/openfroyo/webplane/pkg/model"
)

// Entry maps an aliased element at a depth below the anchor to its
// canonical element. The anchor itself is depth 0. Context, when set, is the
// type of the parent element in canonical form; the entry applies only
// beneath such a parent.
type Entry struct {
	Depth     int
	Context   string
	Alias     model.PathElement
	Canonical model.PathElement
}

func (e Entry) applies(depth int, parent model.PathElement) bool {
	return e.Depth == depth && (e.Context == "" || e.Context == parent.Type)
}

// Table is a set of alias entries scoped to an anchor element.
type Table struct {
	Anchor  model.PathElement
	Entries []Entry
}

type key struct {
	depth   int
	context string
	elem    model.PathElement
}

// Validate rejects tables that could not be evaluated idempotently: an entry
// whose canonical element is itself an alias at the same depth and context,
// or two entries for the same alias.
func (t Table) Validate() error {
	aliases := make(map[key]bool, len(t.Entries))
	for _, e := range t.Entries {
		if e.Depth < 1 {
			return fmt.Errorf("alias %s: depth must be at least 1", e.Alias)
		}
		k := key{e.Depth, e.Context, e.Alias}
		if aliases[k] {
			return fmt.Errorf("alias %s at depth %d registered twice", e.Alias, e.Depth)
		}
		aliases[k] = true
	}
	for _, e := range t.Entries {
		if aliases[key{e.Depth, e.Context, e.Canonical}] || aliases[key{e.Depth, "", e.Canonical}] {
			return fmt.Errorf("canonical element %s at depth %d is also an alias", e.Canonical, e.Depth)
		}
	}
	return nil
}

// Direction selects which way Rewrite maps elements.
type Direction int

const (
	ToCanonical Direction = iota
	ToAlias
)

// Rewrite maps every element of a that the table declares for its depth
// below the anchor and its parent's type; everything else is left
// untouched. Addresses without the anchor are returned unchanged.
//
// Contexts are matched against the canonical parent, so ToAlias first
// canonicalises the address and then maps it back.
func Rewrite(t Table, dir Direction, a model.Address) model.Address {
	anchor := a.IndexOf(t.Anchor)
	if anchor < 0 {
		return a
	}
	canon := model.NewAddress(a...)
	for i := anchor + 1; i < len(canon); i++ {
		for _, e := range t.Entries {
			if e.applies(i-anchor, canon[i-1]) && canon[i] == e.Alias {
				canon[i] = e.Canonical
				break
			}
		}
	}
	if dir == ToCanonical {
		return canon
	}

	out := model.NewAddress(canon...)
	for i := anchor + 1; i < len(out); i++ {
		for _, e := range t.Entries {
			if e.applies(i-anchor, canon[i-1]) && canon[i] == e.Canonical {
				out[i] = e.Alias
				break
			}
		}
	}
	return out
}

// Resolver evaluates a table with memoisation.
type Resolver struct {
	table  Table
	cache  *cache.Cache
	logger zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = l.With().Str("component", "alias").Logger() }
}

// NewResolver validates the table and returns a resolver for it.
func NewResolver(t Table, opts ...Option) (*Resolver, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{
		table:  t,
		cache:  cache.New(30*time.Minute, time.Hour),
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Table returns the resolver's table.
func (r *Resolver) Table() Table {
	return r.table
}

// ToCanonical rewrites alias elements to their canonical form.
func (r *Resolver) ToCanonical(a model.Address) model.Address {
	return r.resolve(ToCanonical, a)
}

// ToAlias rewrites canonical elements to their alias form.
func (r *Resolver) ToAlias(a model.Address) model.Address {
	return r.resolve(ToAlias, a)
}

// IsAlias reports whether a contains at least one alias element.
func (r *Resolver) IsAlias(a model.Address) bool {
	return !r.ToCanonical(a).Equal(a)
}

func (r *Resolver) resolve(dir Direction, a model.Address) model.Address {
	k := fmt.Sprintf("%d%s", dir, a)
	if v, ok := r.cache.Get(k); ok {
		return model.NewAddress(v.(model.Address)...)
	}
	out := Rewrite(r.table, dir, a)
	if !out.Equal(a) {
		r.logger.Debug().Str("from", a.String()).Str("to", out.String()).Msg("Rewrote aliased address")
	}
	r.cache.SetDefault(k, out)
	return model.NewAddress(out...)
}
