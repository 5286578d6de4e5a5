package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides, e.g. WEBPLANE_MODE or
// WEBPLANE_JOURNAL_PATH.
const EnvPrefix = "WEBPLANE"

// DefaultDaemon returns the configuration used when no file is given.
func DefaultDaemon() *Daemon {
	return &Daemon{
		Mode: engine.ModeNormal,
		SocketBindings: map[string]string{
			"http":  "0.0.0.0:8080",
			"https": "0.0.0.0:8443",
		},
		Paths: map[string]string{
			"server.log.dir": "/var/log/webplane",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "webplane.db",
		},
		VerifyTimeout: engine.DefaultVerifyTimeout,
		Telemetry:     *telemetry.DefaultConfig(),
	}
}

// LoadDaemon reads the daemon configuration from path on top of the
// defaults, applies WEBPLANE_* environment overrides and validates the
// result. An empty path uses the defaults and the environment only.
func LoadDaemon(path string) (*Daemon, error) {
	base, err := RenderDaemon(DefaultDaemon())
	if err != nil {
		return nil, err
	}

	// Path names such as server.log.dir contain dots.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("failed to load default configuration: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	var d Daemon
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks the struct constraints and the telemetry settings.
func (d *Daemon) Validate() error {
	if err := validator.New().Struct(d); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := d.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// VerifyTimeoutOrDefault returns the configured verify timeout, falling
// back to the engine default.
func (d *Daemon) VerifyTimeoutOrDefault() time.Duration {
	if d.VerifyTimeout <= 0 {
		return engine.DefaultVerifyTimeout
	}
	return d.VerifyTimeout
}

// RenderDaemon renders d as YAML, the format LoadDaemon reads.
func RenderDaemon(d *Daemon) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render configuration: %w", err)
	}
	return buf.Bytes(), nil
}
