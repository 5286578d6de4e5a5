package alias

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/openfroyo/webplane/pkg/model"
)

var webTable = Table{
	Anchor: model.Element("subsystem", "web"),
	Entries: []Entry{
		{Depth: 2, Context: "connector", Alias: model.Element("ssl", "configuration"), Canonical: model.Element("configuration", "ssl")},
		{Depth: 2, Context: "virtual-server", Alias: model.Element("access-log", "configuration"), Canonical: model.Element("configuration", "access-log")},
		{Depth: 3, Context: "configuration", Alias: model.Element("directory", "configuration"), Canonical: model.Element("setting", "directory")},
	},
}

func TestResolver_ToCanonical(t *testing.T) {
	r, err := NewResolver(webTable)
	require.NoError(t, err)

	got := r.ToCanonical(model.MustParseAddress("/subsystem=web/connector=https/ssl=configuration"))
	require.Equal(t, "/subsystem=web/connector=https/configuration=ssl", got.String())

	got = r.ToCanonical(model.MustParseAddress("/subsystem=web/virtual-server=a/access-log=configuration/directory=configuration"))
	require.Equal(t, "/subsystem=web/virtual-server=a/configuration=access-log/setting=directory", got.String())

	// wrong depth is left alone
	addr := model.MustParseAddress("/subsystem=web/ssl=configuration")
	require.True(t, r.ToCanonical(addr).Equal(addr))

	// the anchor may sit below other elements
	got = r.ToCanonical(model.MustParseAddress("/profile=full/subsystem=web/connector=x/ssl=configuration"))
	require.Equal(t, "/profile=full/subsystem=web/connector=x/configuration=ssl", got.String())
}

func TestResolver_ParentContext(t *testing.T) {
	r, err := NewResolver(webTable)
	require.NoError(t, err)

	// ssl is only an alias beneath a connector
	addr := model.MustParseAddress("/subsystem=web/virtual-server=a/ssl=configuration")
	require.True(t, r.ToCanonical(addr).Equal(addr))
	require.False(t, r.IsAlias(addr))

	// and access-log only beneath a virtual server
	addr = model.MustParseAddress("/subsystem=web/connector=http/access-log=configuration")
	require.True(t, r.ToCanonical(addr).Equal(addr))

	canonical := model.MustParseAddress("/subsystem=web/virtual-server=a/configuration=ssl")
	require.True(t, r.ToAlias(canonical).Equal(canonical))

	// the depth-3 entry matches the canonical parent whichever form it was given in
	got := r.ToAlias(model.MustParseAddress("/subsystem=web/virtual-server=a/access-log=configuration/setting=directory"))
	require.Equal(t, "/subsystem=web/virtual-server=a/access-log=configuration/directory=configuration", got.String())
}

func TestResolver_ToAlias(t *testing.T) {
	r, err := NewResolver(webTable)
	require.NoError(t, err)
	canonical := model.MustParseAddress("/subsystem=web/connector=https/configuration=ssl")
	alias := r.ToAlias(canonical)
	require.Equal(t, "/subsystem=web/connector=https/ssl=configuration", alias.String())
	require.True(t, r.IsAlias(alias))
	require.False(t, r.IsAlias(canonical))
}

func TestTable_Validate(t *testing.T) {
	bad := Table{
		Anchor: model.Element("subsystem", "web"),
		Entries: []Entry{
			{Depth: 2, Alias: model.Element("a", "x"), Canonical: model.Element("b", "x")},
			{Depth: 2, Alias: model.Element("b", "x"), Canonical: model.Element("c", "x")},
		},
	}
	_, err := NewResolver(bad)
	require.Error(t, err)
}

func TestResolver_Idempotent(t *testing.T) {
	r, err := NewResolver(webTable)
	require.NoError(t, err)

	elems := []model.PathElement{
		model.Element("connector", "http"),
		model.Element("ssl", "configuration"),
		model.Element("configuration", "ssl"),
		model.Element("access-log", "configuration"),
		model.Element("directory", "configuration"),
		model.Element("virtual-server", "default-host"),
		model.Element("setting", "directory"),
	}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 4).Draw(t, "n")
		addr := model.Address{model.Element("subsystem", "web")}
		for i := 0; i < n; i++ {
			addr = addr.Append(rapid.SampledFrom(elems).Draw(t, "elem"))
		}
		once := r.ToCanonical(addr)
		twice := r.ToCanonical(once)
		if !once.Equal(twice) {
			t.Fatalf("not idempotent: %s -> %s -> %s", addr, once, twice)
		}
		if once.Len() != addr.Len() {
			t.Fatalf("length changed: %s -> %s", addr, once)
		}
		back := r.ToCanonical(r.ToAlias(once))
		if !back.Equal(once) {
			t.Fatalf("alias round trip changed %s to %s", once, back)
		}
	})
}
