package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for operations and services.
type Metrics struct {
	config MetricsConfig

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	stageDuration     *prometheus.HistogramVec
	activeOperations  prometheus.Gauge
	restartRequired   prometheus.Gauge

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	serviceTransitions *prometheus.CounterVec
	serviceFailures    *prometheus.CounterVec

	policyDenials *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a collector. A disabled configuration yields a
// collector whose methods do nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.HistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of finished management operations",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of management operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of operation stages in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of executing operations",
			},
		),
		restartRequired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "restart_required",
				Help:      "1 when a finished operation left the server needing a restart",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of operation failures by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of operation failures by error code",
			},
			[]string{"code"},
		),
		serviceTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_transitions_total",
				Help:      "Total number of service lifecycle transitions",
			},
			[]string{"from", "to"},
		),
		serviceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_start_failures_total",
				Help:      "Total number of failed service starts",
			},
			[]string{"service"},
		),
		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of operation steps refused by policy",
			},
			[]string{"constraint"},
		),
	}

	registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.stageDuration,
		m.activeOperations,
		m.restartRequired,
		m.errorsByClass,
		m.errorsByCode,
		m.serviceTransitions,
		m.serviceFailures,
		m.policyDenials,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m, nil
}

// Registry returns the Prometheus registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordOperationStarted counts an operation in flight.
func (m *Metrics) RecordOperationStarted() {
	if m.activeOperations == nil {
		return
	}
	m.activeOperations.Inc()
}

// RecordOperationCompleted records a finished operation.
func (m *Metrics) RecordOperationCompleted(operation, outcome string, duration time.Duration, restartRequired bool) {
	if m.operationsTotal == nil {
		return
	}
	m.activeOperations.Dec()
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if restartRequired {
		m.restartRequired.Set(1)
	}
}

// ClearRestartRequired resets the restart gauge once restarts were applied.
func (m *Metrics) ClearRestartRequired() {
	if m.restartRequired == nil {
		return
	}
	m.restartRequired.Set(0)
}

// RecordStage records the duration of an operation stage.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordError records a failure by class and, when known, by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// RecordServiceTransition records a service lifecycle transition.
func (m *Metrics) RecordServiceTransition(service, from, to string, failed bool) {
	if m.serviceTransitions == nil {
		return
	}
	m.serviceTransitions.WithLabelValues(from, to).Inc()
	if failed {
		m.serviceFailures.WithLabelValues(service).Inc()
	}
}

// RecordPolicyDenial records a refused operation step.
func (m *Metrics) RecordPolicyDenial(constraint string) {
	if m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(constraint).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is done.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.config.Enabled {
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
