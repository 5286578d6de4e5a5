package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/services"
)

// Telemetry combines logging, tracing, metrics and events. It observes the
// operation engine as its Instrumentation and the service registry as a
// Listener.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

var _ engine.Instrumentation = (*Telemetry)(nil)

type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment, cfg.ResourceAttributes)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// nil when there is none.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// StartOperation opens the span of op and returns the function recording
// its outcome.
func (t *Telemetry) StartOperation(ctx context.Context, op *engine.Operation) (context.Context, func(*engine.Result, error)) {
	id := op.ID.String()
	ctx, span := t.Tracer.StartOperationSpan(ctx, id, op.Name, op.Address.String())
	if op.Headers.Caller.User != "" {
		span.SetAttributes(AttrCaller.String(op.Headers.Caller.User))
	}
	logger := t.Logger.WithOperationID(id).WithAddress(op.Address.String())
	if traceID := TraceID(ctx); traceID != "" {
		logger = logger.WithField("trace_id", traceID)
	}
	ctx = logger.WithContext(ctx)
	t.Metrics.RecordOperationStarted()

	return ctx, func(res *engine.Result, err error) {
		defer span.End()

		outcome := engine.OutcomeFailed
		var duration time.Duration
		var restart bool
		if res != nil {
			outcome = res.Outcome
			duration = res.Duration
			restart = res.RestartRequired
			span.SetAttributes(
				AttrOutcome.String(string(res.Outcome)),
				AttrStage.String(string(res.Stage)),
				AttrRestartRequired.Bool(res.RestartRequired),
				AttrReloadRequired.Bool(res.ReloadRequired),
			)
		}
		t.Metrics.RecordOperationCompleted(op.Name, string(outcome), duration, restart)

		event := Event{
			Type:        EventTypeOperationCompleted,
			Source:      "engine",
			OperationID: id,
			Address:     op.Address.String(),
			Level:       EventLevelInfo,
			Message:     fmt.Sprintf("%s completed", op),
			Data:        map[string]any{"operation": op.Name, "outcome": string(outcome)},
		}

		if err != nil {
			class, code := errdefs.ClassOf(err), errdefs.CodeOf(err)
			RecordError(span, err)
			span.SetAttributes(AttrErrorClass.String(string(class)), AttrErrorCode.String(string(code)))
			t.Metrics.RecordError(string(class), string(code))

			event.Type = EventTypeOperationFailed
			event.Level = EventLevelError
			event.Message = fmt.Sprintf("%s failed: %v", op, err)
			if outcome == engine.OutcomeRolledBack {
				event.Type = EventTypeOperationRolledBack
				event.Level = EventLevelWarning
			}
			event.Data["error_code"] = string(code)
		} else {
			RecordSuccess(span)
		}
		if perr := t.Events.Publish(event); perr != nil {
			zl := logger.Zerolog()
			zl.Warn().Msg(perr.Error())
		}
	}
}

// StartStage opens the span of one stage of op.
func (t *Telemetry) StartStage(ctx context.Context, _ *engine.Operation, stage engine.Stage) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := t.Tracer.StartStageSpan(ctx, string(stage))
	return ctx, func(err error) {
		defer span.End()
		t.Metrics.RecordStage(string(stage), time.Since(started))
		if err != nil {
			RecordError(span, err)
			return
		}
		RecordSuccess(span)
	}
}

// ServiceListener returns a listener that counts and publishes service
// transitions. Failed starts are logged at error level.
func (t *Telemetry) ServiceListener() services.Listener {
	logger := t.Logger.NewComponentLogger("services")
	return func(tr services.Transition) {
		name := tr.Name.String()
		failed := tr.To == services.StateStartFailed
		t.Metrics.RecordServiceTransition(name, string(tr.From), string(tr.To), failed)

		event := Event{
			Type:    EventTypeServiceTransition,
			Source:  "services",
			Service: name,
			Level:   EventLevelInfo,
			Message: fmt.Sprintf("Service %s moved from %s to %s", name, tr.From, tr.To),
			Data:    map[string]any{"from": string(tr.From), "to": string(tr.To)},
		}
		if failed {
			event.Type = EventTypeServiceFailed
			event.Level = EventLevelError
			if tr.Err != nil {
				event.Data["error"] = tr.Err.Error()
			}
			logger.WithService(name).WithError(tr.Err).Error("Service failed to start")
		}
		_ = t.Events.Publish(event)
	}
}

// PolicyDenied records a refused operation step.
func (t *Telemetry) PolicyDenied(req engine.AccessRequest, reason string) {
	constraint := ""
	if len(req.Constraints) > 0 {
		constraint = req.Constraints[0]
	}
	t.Metrics.RecordPolicyDenial(constraint)
	_ = t.Events.Publish(Event{
		Type:    EventTypePolicyDenied,
		Source:  "policy",
		Address: req.Address.String(),
		Level:   EventLevelWarning,
		Message: reason,
		Data: map[string]any{
			"operation": req.Operation,
			"user":      req.Caller.User,
		},
	})
}

// DocumentReloaded publishes the outcome of re-applying a document.
func (t *Telemetry) DocumentReloaded(path string, operations int, err error) {
	event := Event{
		Type:    EventTypeDocumentReloaded,
		Source:  "config",
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("Document %s reloaded with %d operations", path, operations),
		Data:    map[string]any{"path": path, "operations": operations},
	}
	if err != nil {
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("Document %s reload failed: %v", path, err)
	}
	_ = t.Events.Publish(event)
}

// Shutdown stops the event bus and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}
