// Package model implements the configuration tree managed by the operation
// engine.
//
// # Overview
//
// A Tree holds Resources addressed by an Address, an ordered list of
// (type, name) PathElements such as /subsystem=web/connector=http. Every
// resource is governed by a ResourceDefinition that lists its attributes and
// the child types it may contain.
//
// Attribute values are immutable Values. An attribute is in one of three
// states: unset (reads return the schema default, or undefined when there is
// none), explicitly null, or set. The states are kept apart everywhere;
// nothing in this package treats "set to the default" as "unset".
//
// Reads return detached snapshots. Snapshots are also the unit of undo: the
// engine records a Snapshot before mutating a subtree and can restore it with
// Tree.Replace.
package model
