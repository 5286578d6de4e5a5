package container

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Adapter validates specs and forwards them to an Engine, using the
// engine's optional features where it has them.
type Adapter struct {
	engine    Engine
	caps      Capabilities
	validator *validator.Validate
	logger    zerolog.Logger
}

type adapterOptions struct {
	logger   zerolog.Logger
	required []string
}

// Option configures an Adapter.
type Option func(*adapterOptions)

// WithLogger sets the adapter logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *adapterOptions) { o.logger = l }
}

// WithRequiredCapabilities makes NewAdapter fail when the engine lacks
// any of the named capabilities.
func WithRequiredCapabilities(names ...string) Option {
	return func(o *adapterOptions) { o.required = append(o.required, names...) }
}

// NewAdapter resolves the engine's capabilities and returns an adapter.
func NewAdapter(e Engine, opts ...Option) (*Adapter, error) {
	o := adapterOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	caps := ResolveCapabilities(e)
	if err := caps.Validate(o.required); err != nil {
		return nil, err
	}

	a := &Adapter{
		engine:    e,
		caps:      caps,
		validator: validator.New(),
		logger:    o.logger.With().Str("component", "container").Logger(),
	}
	a.logger.Debug().Strs("capabilities", caps.Names()).Msg("Container engine resolved")
	return a, nil
}

// Capabilities returns the features resolved at construction.
func (a *Adapter) Capabilities() Capabilities { return a.caps }

// StartConnector opens a connector. When the engine has native TLS and
// preferNative is set, the SSL configuration goes through it instead of
// the connector spec.
func (a *Adapter) StartConnector(ctx context.Context, spec ConnectorSpec, preferNative bool) error {
	if err := a.validator.Struct(spec); err != nil {
		return fmt.Errorf("connector %s validation failed: %w", spec.Name, err)
	}
	if spec.Paused && a.caps.ConnectorToggle == nil {
		return fmt.Errorf("connector %s cannot start paused: %w", spec.Name, ErrUnsupported)
	}

	ssl := spec.SSL
	native := ssl != nil && preferNative && a.caps.NativeSSL != nil
	if native {
		spec.SSL = nil
	} else if ssl != nil && preferNative {
		a.logger.Warn().Str("connector", spec.Name).Msg("Native TLS requested but not available, using engine TLS")
	}
	if ssl != nil {
		if err := a.validator.Struct(ssl); err != nil {
			return fmt.Errorf("connector %s ssl validation failed: %w", spec.Name, err)
		}
	}

	if err := a.engine.AddConnector(ctx, spec); err != nil {
		return fmt.Errorf("failed to add connector %s: %w", spec.Name, err)
	}
	if native {
		if err := a.caps.NativeSSL.ConfigureNativeSSL(ctx, spec.Name, *ssl); err != nil {
			if rerr := a.engine.RemoveConnector(ctx, spec.Name); rerr != nil {
				a.logger.Error().Err(rerr).Str("connector", spec.Name).Msg("Failed to remove half-configured connector")
			}
			return fmt.Errorf("failed to configure native tls on connector %s: %w", spec.Name, err)
		}
	}

	a.logger.Info().Str("connector", spec.Name).Str("address", spec.Address).
		Str("scheme", spec.Scheme).Bool("paused", spec.Paused).Msg("Connector started")
	return nil
}

// StopConnector closes a connector.
func (a *Adapter) StopConnector(ctx context.Context, name string) error {
	if err := a.engine.RemoveConnector(ctx, name); err != nil {
		return fmt.Errorf("failed to remove connector %s: %w", name, err)
	}
	a.logger.Info().Str("connector", name).Msg("Connector stopped")
	return nil
}

// SetConnectorEnabled pauses or resumes a running connector. It returns
// ErrUnsupported when the engine cannot do this in place.
func (a *Adapter) SetConnectorEnabled(ctx context.Context, name string, enabled bool) error {
	if a.caps.ConnectorToggle == nil {
		return ErrUnsupported
	}
	if err := a.caps.ConnectorToggle.SetConnectorEnabled(ctx, name, enabled); err != nil {
		return fmt.Errorf("failed to set connector %s enabled=%t: %w", name, enabled, err)
	}
	return nil
}

// StartHost adds a virtual host.
func (a *Adapter) StartHost(ctx context.Context, spec HostSpec) error {
	if err := a.validator.Struct(spec); err != nil {
		return fmt.Errorf("host %s validation failed: %w", spec.Name, err)
	}
	if err := a.engine.AddHost(ctx, spec); err != nil {
		return fmt.Errorf("failed to add host %s: %w", spec.Name, err)
	}
	a.logger.Info().Str("host", spec.Name).Strs("aliases", spec.Aliases).Msg("Host started")
	return nil
}

// StopHost removes a virtual host.
func (a *Adapter) StopHost(ctx context.Context, name string) error {
	if err := a.engine.RemoveHost(ctx, name); err != nil {
		return fmt.Errorf("failed to remove host %s: %w", name, err)
	}
	a.logger.Info().Str("host", name).Msg("Host stopped")
	return nil
}

// StartValve adds a global valve.
func (a *Adapter) StartValve(ctx context.Context, spec ValveSpec) error {
	if err := a.validator.Struct(spec); err != nil {
		return fmt.Errorf("valve %s validation failed: %w", spec.Name, err)
	}
	if err := a.engine.AddValve(ctx, spec); err != nil {
		return fmt.Errorf("failed to add valve %s: %w", spec.Name, err)
	}
	a.logger.Info().Str("valve", spec.Name).Str("class", spec.ClassName).Msg("Valve started")
	return nil
}

// StopValve removes a global valve.
func (a *Adapter) StopValve(ctx context.Context, name string) error {
	if err := a.engine.RemoveValve(ctx, name); err != nil {
		return fmt.Errorf("failed to remove valve %s: %w", name, err)
	}
	a.logger.Info().Str("valve", name).Msg("Valve stopped")
	return nil
}
