package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/services"
)

// StepFunc is the body of an operation step.
type StepFunc func(ctx *Context, op *Operation) error

// ResourceHandler connects a resource definition to the service graph.
type ResourceHandler interface {
	// ServiceName returns the service that backs the resource at addr.
	ServiceName(addr model.Address) services.Name

	// Install is called in the runtime stage after the resource was added.
	Install(ctx *Context, r *model.Resource) error

	// Uninstall is called in the runtime stage after the resource was
	// removed. It should wait for the service to leave the registry.
	Uninstall(ctx *Context, r *model.Resource) error
}

// Registration binds behaviour to a resource definition.
type Registration struct {
	// Runtime installs and removes the resource's service. Resources
	// without one are served by the closest ancestor that has one.
	Runtime ResourceHandler

	// AfterAdd runs in the model stage right after the resource was
	// created; it may chain further steps.
	AfterAdd StepFunc

	// Operations are custom operations keyed by name.
	Operations map[string]StepFunc
}

// AccessRequest is what an Authorizer decides on.
type AccessRequest struct {
	Caller      Caller        `json:"caller"`
	Operation   string        `json:"operation"`
	Address     model.Address `json:"address"`
	Constraints []string      `json:"constraints,omitempty"`
	ReadOnly    bool          `json:"read_only"`
}

// Authorizer decides whether a caller may run an operation step.
type Authorizer interface {
	// Authorize returns an AccessDenied error to refuse the request.
	Authorize(ctx context.Context, req AccessRequest) error
}

// OperationRecord is the journal entry of a finished operation.
type OperationRecord struct {
	ID           uuid.UUID     `json:"id"`
	Operation    string        `json:"operation"`
	Address      string        `json:"address"`
	Command      string        `json:"command"`
	Caller       string        `json:"caller,omitempty"`
	Outcome      Outcome       `json:"outcome"`
	Stage        Stage         `json:"stage"`
	Error        string        `json:"error,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	Compensation string        `json:"compensation,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Journal persists finished mutating operations.
type Journal interface {
	RecordOperation(ctx context.Context, rec OperationRecord) error
}

// Instrumentation observes operations and stages.
type Instrumentation interface {
	// StartOperation returns a context for the operation and a function to
	// call once it finished.
	StartOperation(ctx context.Context, op *Operation) (context.Context, func(res *Result, err error))

	// StartStage returns a context for the stage and a function to call once
	// it finished.
	StartStage(ctx context.Context, op *Operation, stage Stage) (context.Context, func(err error))
}

type noopInstrumentation struct{}

func (noopInstrumentation) StartOperation(ctx context.Context, _ *Operation) (context.Context, func(*Result, error)) {
	return ctx, func(*Result, error) {}
}

func (noopInstrumentation) StartStage(ctx context.Context, _ *Operation, _ Stage) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// AttributeApplier is implemented by resource handlers that can apply
// runtime-writable attributes to a running service. Handlers without it get
// the service restarted instead.
type AttributeApplier interface {
	ApplyAttribute(ctx *Context, addr model.Address, name string, v model.Value) error
}
