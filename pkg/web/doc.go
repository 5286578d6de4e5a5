// Package web is the web subsystem: the resource definitions of
// subsystem=web, the runtime handlers that turn them into container
// connectors, hosts and valves, the legacy alias table and the
// transformers for older model versions.
//
// Wiring a controller:
//
//	root := model.NewRootDefinition()
//	defs := web.NewDefinitions(root)
//	ctrl := engine.NewController(model.NewTree(root),
//		engine.WithServices(registry),
//		engine.WithAliases(web.NewAliasResolver()))
//	web.Register(ctrl, defs, adapter)
//
// Connectors depend on a socket binding service and, optionally, on their
// redirect and proxy bindings. Virtual servers optionally depend on the path
// their access log directory is relative to. InstallSocketBinding and
// InstallPath provide those services.
package web
