package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// nameSep separates name parts internally; it never appears in rendered names.
const nameSep = "\x1f"

// Name is a hierarchical service name. Names are comparable and can be used
// as map keys.
type Name struct {
	key string
}

// NewName builds a name from its parts.
func NewName(parts ...string) Name {
	return Name{key: strings.Join(parts, nameSep)}
}

// ParseName parses the dotted form produced by String. Parts containing dots
// must be quoted.
func ParseName(s string) (Name, error) {
	var parts []string
	var cur strings.Builder
	quoted := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			quoted = !quoted
		case ch == '.' && !quoted:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	if quoted {
		return Name{}, fmt.Errorf("unterminated quote in service name %q", s)
	}
	parts = append(parts, cur.String())
	for _, p := range parts {
		if p == "" {
			return Name{}, fmt.Errorf("empty part in service name %q", s)
		}
	}
	return NewName(parts...), nil
}

// IsZero reports whether the name is empty.
func (n Name) IsZero() bool { return n.key == "" }

// Parts returns the name's parts.
func (n Name) Parts() []string {
	if n.key == "" {
		return nil
	}
	return strings.Split(n.key, nameSep)
}

// Append returns a child name.
func (n Name) Append(parts ...string) Name {
	return NewName(append(n.Parts(), parts...)...)
}

// Parent returns the enclosing name; the zero name has no parent.
func (n Name) Parent() Name {
	p := n.Parts()
	if len(p) <= 1 {
		return Name{}
	}
	return NewName(p[:len(p)-1]...)
}

// IsParentOf reports whether n is a strict ancestor of o.
func (n Name) IsParentOf(o Name) bool {
	return n.key != "" && strings.HasPrefix(o.key, n.key+nameSep)
}

func (n Name) String() string {
	parts := n.Parts()
	for i, p := range parts {
		if strings.ContainsAny(p, ".\"") {
			parts[i] = `"` + strings.ReplaceAll(p, `"`, "") + `"`
		}
	}
	return strings.Join(parts, ".")
}

func (n Name) less(o Name) bool { return n.key < o.key }

// Mode controls whether a service should be running.
type Mode string

const (
	// ModeActive services start as soon as their dependencies are up.
	ModeActive Mode = "ACTIVE"
	// ModeOnDemand services start only while a wanted dependent needs them.
	ModeOnDemand Mode = "ON_DEMAND"
	// ModeNever services are installed but never started.
	ModeNever Mode = "NEVER"
	// ModeRemove services stop and leave the registry.
	ModeRemove Mode = "REMOVE"
)

// Validate checks the mode against the known values.
func (m Mode) Validate() error {
	switch m {
	case ModeActive, ModeOnDemand, ModeNever, ModeRemove:
		return nil
	}
	return fmt.Errorf("invalid service mode: %q", m)
}

// State is a service's lifecycle state.
type State string

const (
	StateDown        State = "DOWN"
	StateStarting    State = "STARTING"
	StateUp          State = "UP"
	StateStartFailed State = "START_FAILED"
	StateStopping    State = "STOPPING"
	StateRemoved     State = "REMOVED"
)

// IsTransitional reports whether a start or stop callback is in flight.
func (s State) IsTransitional() bool {
	return s == StateStarting || s == StateStopping
}

// IsActive reports whether the service holds, or is acquiring, a live
// instance.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateUp || s == StateStopping
}

// Injector receives the value of a dependency before its dependent starts
// and loses it after the dependent stops.
type Injector interface {
	Inject(value any) error
	Uninject()
}

// InjectedValue is a typed Injector.
type InjectedValue[T any] struct {
	mu  sync.RWMutex
	v   T
	set bool
}

// Inject implements Injector.
func (iv *InjectedValue[T]) Inject(value any) error {
	t, ok := value.(T)
	if !ok {
		var zero T
		return fmt.Errorf("cannot inject %T into %T", value, zero)
	}
	iv.mu.Lock()
	iv.v, iv.set = t, true
	iv.mu.Unlock()
	return nil
}

// Uninject implements Injector.
func (iv *InjectedValue[T]) Uninject() {
	iv.mu.Lock()
	var zero T
	iv.v, iv.set = zero, false
	iv.mu.Unlock()
}

// Get returns the injected value.
func (iv *InjectedValue[T]) Get() (T, bool) {
	iv.mu.RLock()
	defer iv.mu.RUnlock()
	return iv.v, iv.set
}

// Dependency declares that a service needs another one.
type Dependency struct {
	Name Name

	// Injector, when set, receives the dependency's instance.
	Injector Injector

	// Optional dependencies that are not installed are ignored. Installed
	// optional dependencies behave like required ones.
	Optional bool
}

// StartContext is handed to a service's start function.
type StartContext struct {
	// Context is cancelled when the start is no longer wanted; long starts
	// should watch it.
	Context context.Context

	Name Name

	values map[Name]any
}

// StopRequested is closed when the start is no longer wanted.
func (sc *StartContext) StopRequested() <-chan struct{} {
	return sc.Context.Done()
}

// Dependency returns the instance of an up dependency.
func (sc *StartContext) Dependency(name Name) (any, bool) {
	v, ok := sc.values[name]
	return v, ok
}

// StartFunc produces the live instance of a service.
type StartFunc func(sc *StartContext) (any, error)

// StopFunc releases a live instance. It may be called for an instance whose
// underlying resource is already gone and must tolerate that.
type StopFunc func(ctx context.Context, instance any) error

// Descriptor describes a service to install.
type Descriptor struct {
	Name         Name
	Description  string
	Mode         Mode
	Start        StartFunc
	Stop         StopFunc
	Dependencies []Dependency
}

// Transition records a lifecycle change.
type Transition struct {
	Name Name
	From State
	To   State
	Err  error
}

// Listener observes transitions. Listeners run outside the registry lock.
type Listener func(Transition)
