package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/services"
)

var webAddr = model.MustParseAddress("/subsystem=web")

func connAddr(name string) model.Address {
	return webAddr.Append(model.Element("connector", name))
}

func serverAddr(name string) model.Address {
	return webAddr.Append(model.Element("virtual-server", name))
}

type schema struct {
	root      *model.ResourceDefinition
	web       *model.ResourceDefinition
	connector *model.ResourceDefinition
	ssl       *model.ResourceDefinition
	server    *model.ResourceDefinition
}

func testSchema() schema {
	var s schema
	s.root = model.NewRootDefinition()
	s.web = s.root.AddChild(model.NewResourceDefinition(model.Element("subsystem", "web"),
		model.NewAttribute("default-session-timeout", model.TypeInt).Default(model.Int(30)).Build(),
		model.NewAttribute("instance-id", model.TypeString).Mutability(model.RestartResource).Build(),
	))
	s.connector = s.web.AddChild(model.NewResourceDefinition(model.Element("connector", model.Wildcard),
		model.NewAttribute("protocol", model.TypeString).Required().Build(),
		model.NewAttribute("socket-binding", model.TypeString).Required().Build(),
		model.NewAttribute("scheme", model.TypeString).Default(model.String("http")).Build(),
		model.NewAttribute("enabled", model.TypeBool).Default(model.Bool(true)).Mutability(model.RuntimeWritable).Build(),
		model.NewAttribute("max-connections", model.TypeInt).Mutability(model.RestartResource).Build(),
		model.NewAttribute("name", model.TypeString).Mutability(model.ReadOnly).Build(),
	).WithConstraints("web-connector"))
	s.ssl = s.connector.AddChild(model.NewResourceDefinition(model.Element("configuration", "ssl"),
		model.NewAttribute("key-alias", model.TypeString).Mutability(model.RestartResource).Build(),
	))
	s.server = s.web.AddChild(model.NewResourceDefinition(model.Element("virtual-server", model.Wildcard),
		model.NewAttribute("alias", model.TypeList).Build(),
		model.NewAttribute("default-web-module", model.TypeString).Build(),
	))
	return s
}

// connectorHandler installs one service per connector that depends on the
// connector's socket binding.
type connectorHandler struct {
	mu          sync.Mutex
	installErr  error
	startErr    error
	applied     []string
	installed   []string
	uninstalled []string
}

func (h *connectorHandler) ServiceName(addr model.Address) services.Name {
	return services.NewName("web", "connector", addr.Last().Name)
}

func (h *connectorHandler) Install(x *Context, r *model.Resource) error {
	h.mu.Lock()
	installErr, startErr := h.installErr, h.startErr
	h.installed = append(h.installed, r.Address().String())
	h.mu.Unlock()
	if installErr != nil {
		return installErr
	}

	mode := services.ModeActive
	if enabled, _ := r.Get("enabled").AsBool(); !enabled {
		mode = services.ModeNever
	}
	addr := r.Address().String()
	name := h.ServiceName(r.Address())
	_, err := x.Services().Install(services.Descriptor{
		Name: name,
		Mode: mode,
		Start: func(sc *services.StartContext) (any, error) {
			if startErr != nil {
				return nil, startErr
			}
			return addr, nil
		},
		Dependencies: []services.Dependency{
			{Name: bindingName(r.Get("socket-binding").Text())},
		},
	})
	if err != nil {
		return err
	}
	x.TrackService(name)
	return nil
}

func (h *connectorHandler) Uninstall(x *Context, r *model.Resource) error {
	h.mu.Lock()
	h.uninstalled = append(h.uninstalled, r.Address().String())
	h.mu.Unlock()

	rm, err := x.Services().Remove(h.ServiceName(r.Address()), false)
	if errors.Is(err, errdefs.ErrServiceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return rm.Wait(x.Context())
}

func (h *connectorHandler) ApplyAttribute(x *Context, addr model.Address, name string, v model.Value) error {
	h.mu.Lock()
	h.applied = append(h.applied, name+"="+v.Text())
	h.mu.Unlock()
	if name != "enabled" {
		return nil
	}
	mode := services.ModeActive
	if enabled, _ := v.AsBool(); !enabled {
		mode = services.ModeNever
	}
	return x.Services().SetMode(h.ServiceName(addr), mode)
}

func (h *connectorHandler) appliedValues() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.applied...)
}

func bindingName(name string) services.Name {
	return services.NewName("socket-binding", name)
}

type fixture struct {
	schema  schema
	tree    *model.Tree
	reg     *services.Registry
	ctrl    *Controller
	handler *connectorHandler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{schema: testSchema(), handler: &connectorHandler{}}
	f.tree = model.NewTree(f.schema.root)
	f.reg = services.NewRegistry()
	f.ctrl = NewController(f.tree, append([]Option{WithServices(f.reg)}, opts...)...)
	f.ctrl.Register(f.schema.connector, Registration{Runtime: f.handler})

	f.mustExecute(t, NewAdd(webAddr, nil))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.reg.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	})
	return f
}

// newAdminFixture builds a controller without a runtime.
func newAdminFixture(t fatalf) *fixture {
	f := &fixture{schema: testSchema(), handler: &connectorHandler{}}
	f.tree = model.NewTree(f.schema.root)
	f.ctrl = NewController(f.tree, WithRunningMode(ModeAdminOnly))
	f.ctrl.Register(f.schema.connector, Registration{Runtime: f.handler})
	f.mustExecute(t, NewAdd(webAddr, nil))
	return f
}

type fatalf interface {
	Helper()
	Fatalf(format string, args ...any)
}

func (f *fixture) mustExecute(t fatalf, op *Operation) *Result {
	t.Helper()
	res, err := f.ctrl.Execute(context.Background(), op)
	if err != nil {
		t.Fatalf("Execute(%s) failed: %v", op, err)
	}
	return res
}

func (f *fixture) installBinding(t *testing.T, name string) {
	t.Helper()
	_, err := f.reg.Install(services.Descriptor{
		Name:  bindingName(name),
		Start: func(*services.StartContext) (any, error) { return 8080, nil },
	})
	if err != nil {
		t.Fatalf("Failed to install socket binding: %v", err)
	}
}

func (f *fixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.reg.AwaitStability(ctx); err != nil {
		t.Fatalf("AwaitStability failed: %v", err)
	}
}

func httpConnector(name, binding string) *Operation {
	return NewAdd(connAddr(name), map[string]model.Value{
		"protocol":       model.String("HTTP/1.1"),
		"socket-binding": model.String(binding),
	})
}
