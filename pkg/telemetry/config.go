package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration of a webplane process.
type Config struct {
	// ServiceName identifies the process in traces and events.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`

	// Environment names the deployment (development, staging, production).
	Environment string `mapstructure:"environment" yaml:"environment"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`

	// ResourceAttributes are added to the trace resource.
	ResourceAttributes map[string]string `mapstructure:"resource_attributes" yaml:"resource_attributes,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `mapstructure:"level" yaml:"level"`

	// Format is console or json.
	Format string `mapstructure:"format" yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" yaml:"output"`

	EnableCaller bool `mapstructure:"enable_caller" yaml:"enable_caller"`

	// EnableSampling keeps SamplingInitial messages per second, then every
	// SamplingThereafter-th.
	EnableSampling     bool `mapstructure:"enable_sampling" yaml:"enable_sampling"`
	SamplingInitial    int  `mapstructure:"sampling_initial" yaml:"sampling_initial"`
	SamplingThereafter int  `mapstructure:"sampling_thereafter" yaml:"sampling_thereafter"`

	// TimeFormat is unix, unixms, unixmicro or rfc3339.
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `mapstructure:"exporter" yaml:"exporter"`

	// Endpoint is the OTLP collector address, e.g. localhost:4317.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// SamplingRate is the fraction of traces kept, 0.0 to 1.0.
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`

	MaxExportBatchSize int           `mapstructure:"max_export_batch_size" yaml:"max_export_batch_size"`
	ExportTimeout      time.Duration `mapstructure:"export_timeout" yaml:"export_timeout"`

	// Headers are sent with every OTLP export.
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddress is the address of the metrics HTTP endpoint.
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`

	Path string `mapstructure:"path" yaml:"path"`

	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace" yaml:"namespace"`

	// HistogramBuckets are the latency buckets in seconds.
	HistogramBuckets []float64 `mapstructure:"histogram_buckets" yaml:"histogram_buckets,omitempty"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`

	// FlushInterval bounds how long a partial batch waits for delivery.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`

	MaxBatchSize int `mapstructure:"max_batch_size" yaml:"max_batch_size"`

	// EnableAsync delivers events from a background goroutine. Without it
	// Publish delivers before returning.
	EnableAsync bool `mapstructure:"enable_async" yaml:"enable_async"`
}

// DefaultConfig returns the telemetry configuration used when none is
// given. Tracing is off until an exporter is configured.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "webplane",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "otlp",
			Endpoint:           "localhost:4317",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "webplane",
			HistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("an endpoint is required for the otlp exporter")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	if c.Events.Enabled && c.Events.MaxBatchSize <= 0 {
		return fmt.Errorf("event batch size must be positive, got: %d", c.Events.MaxBatchSize)
	}
	return nil
}
