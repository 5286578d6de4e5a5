// Package stores persists the operation journal in SQLite. Every mutating
// operation the engine finishes is recorded with its outcome and
// compensation, next to the state transitions of the runtime services.
package stores
