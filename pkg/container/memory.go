package container

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryEngine is an Engine that keeps its objects in memory and records
// every call. The serve command runs on it and tests inspect it.
type MemoryEngine struct {
	mu         sync.Mutex
	connectors map[string]*MemoryConnector
	hosts      map[string]HostSpec
	valves     map[string]ValveSpec
	events     []string
	failures   map[string]error
}

// MemoryConnector is a connector held by a MemoryEngine.
type MemoryConnector struct {
	Spec      ConnectorSpec
	NativeSSL *SSLSpec
	Paused    bool
}

// NewMemoryEngine creates an empty engine with native TLS and connector
// toggling.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		connectors: make(map[string]*MemoryConnector),
		hosts:      make(map[string]HostSpec),
		valves:     make(map[string]ValveSpec),
		failures:   make(map[string]error),
	}
}

// FailOn makes the call named call for object name fail with err, for
// example FailOn("add-connector", "http", err). A nil err clears it.
func (m *MemoryEngine) FailOn(call, name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := call + " " + name
	if err == nil {
		delete(m.failures, key)
		return
	}
	m.failures[key] = err
}

func (m *MemoryEngine) record(call, name string) error {
	key := call + " " + name
	if err := m.failures[key]; err != nil {
		return err
	}
	m.events = append(m.events, key)
	return nil
}

// Events returns the successful calls in order, as "call name".
func (m *MemoryEngine) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// ResetEvents clears the call log.
func (m *MemoryEngine) ResetEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

func (m *MemoryEngine) AddConnector(_ context.Context, spec ConnectorSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connectors[spec.Name]; ok {
		return fmt.Errorf("connector %s already exists", spec.Name)
	}
	for _, c := range m.connectors {
		if c.Spec.Address == spec.Address {
			return fmt.Errorf("address %s already in use by connector %s", spec.Address, c.Spec.Name)
		}
	}
	if err := m.record("add-connector", spec.Name); err != nil {
		return err
	}
	m.connectors[spec.Name] = &MemoryConnector{Spec: spec, Paused: spec.Paused}
	return nil
}

func (m *MemoryEngine) RemoveConnector(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.connectors[name]; !ok {
		return nil
	}
	if err := m.record("remove-connector", name); err != nil {
		return err
	}
	delete(m.connectors, name)
	return nil
}

func (m *MemoryEngine) AddHost(_ context.Context, spec HostSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hosts[spec.Name]; ok {
		return fmt.Errorf("host %s already exists", spec.Name)
	}
	if err := m.record("add-host", spec.Name); err != nil {
		return err
	}
	m.hosts[spec.Name] = spec
	return nil
}

func (m *MemoryEngine) RemoveHost(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hosts[name]; !ok {
		return nil
	}
	if err := m.record("remove-host", name); err != nil {
		return err
	}
	delete(m.hosts, name)
	return nil
}

func (m *MemoryEngine) AddValve(_ context.Context, spec ValveSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.valves[spec.Name]; ok {
		return fmt.Errorf("valve %s already exists", spec.Name)
	}
	if err := m.record("add-valve", spec.Name); err != nil {
		return err
	}
	m.valves[spec.Name] = spec
	return nil
}

func (m *MemoryEngine) RemoveValve(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.valves[name]; !ok {
		return nil
	}
	if err := m.record("remove-valve", name); err != nil {
		return err
	}
	delete(m.valves, name)
	return nil
}

// ConfigureNativeSSL implements NativeSSL.
func (m *MemoryEngine) ConfigureNativeSSL(_ context.Context, connector string, ssl SSLSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connectors[connector]
	if !ok {
		return fmt.Errorf("connector %s not found", connector)
	}
	if err := m.record("native-ssl", connector); err != nil {
		return err
	}
	c.NativeSSL = &ssl
	return nil
}

// SetConnectorEnabled implements ConnectorToggler.
func (m *MemoryEngine) SetConnectorEnabled(_ context.Context, connector string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connectors[connector]
	if !ok {
		return fmt.Errorf("connector %s not found", connector)
	}
	call := "pause-connector"
	if enabled {
		call = "resume-connector"
	}
	if err := m.record(call, connector); err != nil {
		return err
	}
	c.Paused = !enabled
	return nil
}

// Connector returns a copy of the named connector.
func (m *MemoryEngine) Connector(name string) (MemoryConnector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connectors[name]
	if !ok {
		return MemoryConnector{}, false
	}
	return *c, true
}

// Host returns the named host.
func (m *MemoryEngine) Host(name string) (HostSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hosts[name]
	return h, ok
}

// Valve returns the named valve.
func (m *MemoryEngine) Valve(name string) (ValveSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.valves[name]
	return v, ok
}

// Snapshot lists the names of every object, sorted, by kind.
func (m *MemoryEngine) Snapshot() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]string{
		"connectors": sortedKeys(m.connectors),
		"hosts":      sortedKeys(m.hosts),
		"valves":     sortedKeys(m.valves),
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BasicEngine hides the optional features of an engine.
type BasicEngine struct{ Engine }

var (
	_ Engine           = (*MemoryEngine)(nil)
	_ NativeSSL        = (*MemoryEngine)(nil)
	_ ConnectorToggler = (*MemoryEngine)(nil)
	_ Engine           = BasicEngine{}
)
