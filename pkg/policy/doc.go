// Package policy authorizes management operations with Open Policy Agent.
//
// Every policy is a Rego module whose deny rule produces the reasons a
// request is refused. An Engine evaluates all enabled policies against the
// Input built from an engine.AccessRequest and refuses the request when any
// deny entry exists:
//
//	package webplane.sensitive_targets
//
//	import rego.v1
//
//	deny contains msg if {
//	    not input.read_only
//	    "web-connector" in input.constraints
//	    not "administrator" in input.caller.roles
//	    msg := "connectors are restricted to administrators"
//	}
//
// The engine ships with the policies returned by GetBuiltinPolicies. Files
// ending in .rego or .json under the paths given with WithPaths are loaded
// on top of them and replace built-in policies of the same name.
//
//	pe, err := policy.NewEngine(ctx,
//	    policy.WithLogger(logger),
//	    policy.WithPaths("/etc/webplane/policies"),
//	)
//	if err != nil {
//	    return err
//	}
//	ctrl := engine.NewController(tree, engine.WithAuthorizer(pe))
//	go pe.Watch(ctx)
//
// Authorize refuses a request with a security error coded access-denied.
// Failing to evaluate a policy refuses the request as well.
package policy
