package web

import (
	"github.com/openfroyo/webplane/pkg/alias"
)

// AliasTable maps the legacy addressing of the configuration singletons
// to the canonical one. Depths are counted from subsystem=web and contexts
// name the canonical parent type.
var AliasTable = alias.Table{
	Anchor: SubsystemElement,
	Entries: []alias.Entry{
		{Depth: 2, Context: ConnectorElement.Type, Alias: sslAlias, Canonical: SSLElement},
		{Depth: 2, Context: VirtualServerElement.Type, Alias: accessLogAlias, Canonical: AccessLogElement},
		{Depth: 2, Context: VirtualServerElement.Type, Alias: ssoAlias, Canonical: SSOElement},
		{Depth: 3, Context: AccessLogElement.Type, Alias: directoryAlias, Canonical: DirectoryElement},
	},
}

// NewAliasResolver returns a resolver for AliasTable.
func NewAliasResolver(opts ...alias.Option) *alias.Resolver {
	r, err := alias.NewResolver(AliasTable, opts...)
	if err != nil {
		panic("web: invalid alias table: " + err.Error())
	}
	return r
}
