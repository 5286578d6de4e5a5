package web

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/openfroyo/webplane/pkg/container"
	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/services"
)

// Subsystem wires the web resource definitions to the operation engine and
// the container.
type Subsystem struct {
	defs    *Definitions
	tree    *model.Tree
	adapter *container.Adapter
	caps    container.Capabilities
	lookup  PropertyLookup
	logger  zerolog.Logger
}

// Option configures a Subsystem.
type Option func(*Subsystem)

// WithLogger sets the subsystem logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Subsystem) { s.logger = l.With().Str("component", "web").Logger() }
}

// WithProperties sets how expressions are resolved. The default reads the
// environment.
func WithProperties(lookup PropertyLookup) Option {
	return func(s *Subsystem) { s.lookup = lookup }
}

// Register attaches the subsystem behaviour to ctrl. The adapter may be nil
// when the controller runs admin-only.
func Register(ctrl *engine.Controller, defs *Definitions, adapter *container.Adapter, opts ...Option) *Subsystem {
	s := &Subsystem{
		defs:    defs,
		tree:    ctrl.Tree(),
		adapter: adapter,
		lookup:  EnvLookup(nil),
		logger:  zerolog.Nop(),
	}
	if adapter != nil {
		s.caps = adapter.Capabilities()
	}
	for _, opt := range opts {
		opt(s)
	}

	ctrl.Register(defs.Subsystem, engine.Registration{
		Runtime:  &serverHandler{s},
		AfterAdd: s.addDefaultConfiguration,
	})
	ctrl.Register(defs.Connector, engine.Registration{Runtime: &connectorHandler{s}})
	ctrl.Register(defs.VirtualServer, engine.Registration{Runtime: &hostHandler{s}})
	ctrl.Register(defs.Valve, engine.Registration{Runtime: &valveHandler{s}})
	return s
}

// Definitions returns the resource definitions.
func (s *Subsystem) Definitions() *Definitions { return s.defs }

// DefaultConfiguration lists the singletons created with the subsystem.
func DefaultConfiguration() []model.PathElement {
	return []model.PathElement{ContainerElement, StaticResourcesElement, JSPElement}
}

// addDefaultConfiguration chains ADD steps for the configuration
// singletons unless they exist or the submitted operation adds them itself.
func (s *Subsystem) addDefaultConfiguration(x *engine.Context, op *engine.Operation) error {
	explicit := make(map[string]bool)
	for _, o := range x.Root().Flatten() {
		if o.Name == engine.OpAdd {
			explicit[o.Address.String()] = true
		}
	}
	for _, e := range DefaultConfiguration() {
		addr := op.Address.Append(e)
		if explicit[addr.String()] {
			continue
		}
		if _, err := x.ReadResource(addr); err == nil {
			continue
		}
		x.AddStep(engine.StageModel, engine.NewAdd(addr, nil), nil)
	}
	return nil
}

func (s *Subsystem) attributes(r *model.Resource) *attributes {
	return &attributes{r: r, lookup: s.lookup}
}

func (s *Subsystem) requireAdapter() error {
	if s.adapter == nil {
		return errdefs.Runtime(errdefs.CodeServiceStartFailure, "no container engine configured")
	}
	return nil
}

// uninstall removes a service and waits until it left the registry.
func uninstall(x *engine.Context, name services.Name) error {
	rm, err := x.Services().Remove(name, false)
	if errors.Is(err, errdefs.ErrServiceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return rm.Wait(x.Context())
}

// install registers desc and tracks it for verification.
func install(x *engine.Context, desc services.Descriptor) error {
	if _, err := x.Services().Install(desc); err != nil {
		return err
	}
	x.TrackService(desc.Name)
	return nil
}
