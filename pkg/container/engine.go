package container

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Engine is the embedded web container. Service start and stop callbacks
// call these methods and nothing else. Remove methods must tolerate names
// that are not present.
type Engine interface {
	AddConnector(ctx context.Context, spec ConnectorSpec) error
	RemoveConnector(ctx context.Context, name string) error
	AddHost(ctx context.Context, spec HostSpec) error
	RemoveHost(ctx context.Context, name string) error
	AddValve(ctx context.Context, spec ValveSpec) error
	RemoveValve(ctx context.Context, name string) error
}

// NativeSSL is implemented by engines with a native TLS implementation.
type NativeSSL interface {
	ConfigureNativeSSL(ctx context.Context, connector string, ssl SSLSpec) error
}

// ConnectorToggler is implemented by engines that can pause a connector
// without removing it.
type ConnectorToggler interface {
	SetConnectorEnabled(ctx context.Context, connector string, enabled bool) error
}

// Capability names an optional engine feature.
type Capability string

const (
	CapNativeSSL       Capability = "native-ssl"
	CapConnectorToggle Capability = "connector-toggle"
)

// ErrUnsupported is returned when an engine lacks the capability an
// operation needs.
var ErrUnsupported = errors.New("capability not supported by container engine")

// Capabilities are the optional features of an engine, resolved once.
// A nil field means the feature is absent.
type Capabilities struct {
	NativeSSL       NativeSSL
	ConnectorToggle ConnectorToggler
}

// ResolveCapabilities inspects e for optional features.
func ResolveCapabilities(e Engine) Capabilities {
	var caps Capabilities
	if v, ok := e.(NativeSSL); ok {
		caps.NativeSSL = v
	}
	if v, ok := e.(ConnectorToggler); ok {
		caps.ConnectorToggle = v
	}
	return caps
}

// Has reports whether the capability is present.
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapNativeSSL:
		return c.NativeSSL != nil
	case CapConnectorToggle:
		return c.ConnectorToggle != nil
	}
	return false
}

// Names lists the present capabilities, sorted.
func (c Capabilities) Names() []string {
	var out []string
	for _, capability := range []Capability{CapNativeSSL, CapConnectorToggle} {
		if c.Has(capability) {
			out = append(out, string(capability))
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks that every requested capability is present.
func (c Capabilities) Validate(requested []string) error {
	var missing []string
	for _, name := range requested {
		if !c.Has(Capability(name)) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required capabilities: %s", strings.Join(missing, ", "))
	}
	return nil
}
