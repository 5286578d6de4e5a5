// Package config reads webplane's inputs: subsystem documents, scripted
// operations and the daemon configuration.
//
// # Documents
//
// A subsystem document declares resources below the tree root. CUEParser
// reads CUE (and JSON, which CUE accepts) and HCLParser reads HCL; Load
// picks one by file extension. Both check every attribute and child
// against the resource definitions and report all problems at once in a
// *ParseError carrying file positions. CUE documents are additionally
// unified with a schema generated from the definitions by GenerateSchema.
//
// Document.Operations turns the declared resources into ADD operations,
// parents first, siblings in document order. WithDefaultChildren adds
// resources that a subsystem creates implicitly, so that a document and the
// live tree it produced describe the same state.
//
//	root := model.NewRootDefinition()
//	defs := web.NewDefinitions(root)
//	doc, err := config.Load(root, "web.cue",
//		config.WithDefaultChildren(web.SubsystemAddress, web.DefaultConfiguration()...))
//	if err != nil {
//		return err
//	}
//	_, err = ctrl.Execute(ctx, doc.Composite())
//
// # Scripted operations
//
// A Script registers a Starlark program as a custom operation on the
// resource definitions its address pattern names. The script reads
// address, params and model and answers with writes and result; writes
// become chained write-attribute steps, so they are compensated and rolled
// back like any other change.
//
// # Daemon configuration
//
// LoadDaemon reads webplane.yaml with viper on top of DefaultDaemon,
// applies WEBPLANE_* environment overrides and validates the result.
// Watcher reports changes to a single file with debouncing.
package config
