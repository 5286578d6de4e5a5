// Package transform rewrites management operations and resources for
// consumers that run an older version of a subsystem's model.
//
// Rules are registered per target version as a tree of ResourceRule values
// rooted at the subsystem resource. Each attribute passes through a fixed
// pipeline: a Discarder may drop it silently, Checkers may reject it, and a
// Converter may rewrite it. Child rules can reject, discard or redirect
// whole resources, and operation overrides replace the pipeline for one
// operation kind.
//
// Example:
//
//	rule := transform.NewResourceRule()
//	rule.Attributes("default-session-timeout").
//		Discard(transform.DiscardValue(model.Int(30), true)).
//		Reject(transform.RejectDefined)
//	rule.RejectChild(model.Element("valve", model.Wildcard))
//
//	reg := transform.NewRegistry(model.MustParseAddress("/subsystem=web"), transform.V(2, 1, 0))
//	reg.Register(transform.V(1, 1, 0), rule)
//	op, err := reg.TransformOperation(transform.V(1, 1, 0), add)
//
// A rejected attribute fails the transformation with a
// VersionIncompatibility error; the operation is never forwarded in a
// silently altered form. An unset attribute and one explicitly set to its
// default are different inputs: only a Discarder such as DiscardValue treats
// them alike.
package transform
