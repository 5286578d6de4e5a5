// Package engine executes management operations against the resource tree
// and the service graph.
//
// # Overview
//
// Every submitted Operation moves through a fixed state machine:
//
//	RECEIVED -> MODEL -> RUNTIME? -> VERIFY? -> COMPLETE | ROLLED-BACK
//
// The stages are:
//
//  1. Model - validate parameters and mutate the resource tree
//  2. Runtime - translate the committed model into service graph calls
//     (normal running mode only)
//  3. Verify - optionally wait for the services touched by the runtime stage
//
// A model stage failure restores the tree and has no runtime effect. A
// runtime or verify failure applies the operation's compensation, in
// reverse order, through the full pipeline and then reports the original
// error. If the compensation itself fails the error is RollbackFailed and
// carries every compensation failure.
//
// # Steps
//
// Handlers run as steps and may schedule more steps through
// Context.AddStep. A step added for the running stage is a child of the
// running step and completes before it; steps added for a later stage run
// once that stage begins, in registration order.
//
// # Compensation
//
// The model stage records a pre-image of every subtree it touches.
// Compensations are derived mechanically with Diff, which also drives Plan
// and Converge for re-reading documents:
//
//	comp := engine.Combine(engine.Diff(addr, after, before))
//
// # Usage
//
//	ctrl := engine.NewController(tree,
//		engine.WithServices(registry),
//		engine.WithAliases(resolver),
//		engine.WithLogger(log.Logger),
//	)
//	op, _ := engine.ParseOperation(`/subsystem=web/connector=http:write-attribute(name=scheme,value=https)`)
//	res, err := ctrl.Execute(ctx, op)
//
// # Concurrency
//
// Mutating operations lock the subtrees they address; operations on
// disjoint subtrees run concurrently. A chained step that mutates a resource
// outside those subtrees extends the lock first. Service start and stop callbacks never
// run under these locks.
package engine
