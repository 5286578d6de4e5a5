package web

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/openfroyo/webplane/pkg/container"
	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/services"
)

// Server is the value of the subsystem service.
type Server struct {
	DefaultVirtualServer string
	InstanceID           string
	Native               bool
	SessionTimeout       int
}

type serverHandler struct{ s *Subsystem }

func (h *serverHandler) ServiceName(model.Address) services.Name { return ServerName }

func (h *serverHandler) Install(x *engine.Context, r *model.Resource) error {
	addr := r.Address()
	return install(x, services.Descriptor{
		Name:        ServerName,
		Description: "web subsystem",
		Start: func(sc *services.StartContext) (any, error) {
			r, err := h.s.tree.Get(addr)
			if err != nil {
				return nil, err
			}
			a := h.s.attributes(r)
			srv := &Server{
				DefaultVirtualServer: a.str(AttrDefaultVirtualServer),
				InstanceID:           a.str(AttrInstanceID),
				Native:               a.bool(AttrNative),
				SessionTimeout:       a.int(AttrDefaultSessionTime),
			}
			if a.err != nil {
				return nil, a.err
			}
			return srv, nil
		},
	})
}

func (h *serverHandler) Uninstall(x *engine.Context, _ *model.Resource) error {
	return uninstall(x, ServerName)
}

// connectorHandler runs one container connector per connector resource.
// Bindings are resolved when the service is installed.
type connectorHandler struct{ s *Subsystem }

func (h *connectorHandler) ServiceName(addr model.Address) services.Name {
	return ConnectorName(addr.Last().Name)
}

func (h *connectorHandler) Install(x *engine.Context, r *model.Resource) error {
	if err := h.s.requireAdapter(); err != nil {
		return err
	}
	a := h.s.attributes(r)
	addr := r.Address()
	name := addr.Last().Name
	binding := a.str(AttrSocketBinding)
	redirect := a.str(AttrRedirectBinding)
	proxy := a.str(AttrProxyBinding)
	enabled := a.bool(AttrEnabled)
	if a.err != nil {
		return a.err
	}

	deps := []services.Dependency{
		{Name: ServerName},
		{Name: SocketBindingName(binding)},
	}
	if redirect != "" {
		deps = append(deps, services.Dependency{Name: SocketBindingName(redirect), Optional: true})
	}
	if proxy != "" {
		deps = append(deps, services.Dependency{Name: SocketBindingName(proxy), Optional: true})
	}

	// Without in-place toggling a disabled connector is simply not started.
	mode := services.ModeActive
	if !enabled && h.s.caps.ConnectorToggle == nil {
		mode = services.ModeNever
	}

	return install(x, services.Descriptor{
		Name:         h.ServiceName(addr),
		Description:  "connector " + name,
		Mode:         mode,
		Dependencies: deps,
		Start: func(sc *services.StartContext) (any, error) {
			return h.start(sc, addr, binding, redirect, proxy)
		},
		Stop: func(ctx context.Context, _ any) error {
			return h.s.adapter.StopConnector(ctx, name)
		},
	})
}

func (h *connectorHandler) start(sc *services.StartContext, addr model.Address, binding, redirect, proxy string) (any, error) {
	r, err := h.s.tree.Get(addr)
	if err != nil {
		return nil, err
	}
	a := h.s.attributes(r)
	spec := container.ConnectorSpec{
		Name:           addr.Last().Name,
		Protocol:       a.str(AttrProtocol),
		Scheme:         a.str(AttrScheme),
		Secure:         a.bool(AttrSecure),
		EnableLookups:  a.bool(AttrEnableLookups),
		ProxyName:      a.str(AttrProxyName),
		ProxyPort:      a.int(AttrProxyPort),
		RedirectPort:   a.int(AttrRedirectPort),
		MaxPostSize:    a.int(AttrMaxPostSize),
		MaxSavePost:    a.int(AttrMaxSavePostSize),
		MaxConnections: a.int(AttrMaxConnections),
		Executor:       a.str(AttrExecutor),
		VirtualServers: a.strings(AttrVirtualServer),
	}
	// Engines without toggling never start a disabled connector; see Install.
	spec.Paused = !a.bool(AttrEnabled)

	sb, ok := bindingValue(sc, binding)
	if !ok {
		return nil, fmt.Errorf("socket binding %s is not available", binding)
	}
	spec.Address = sb.Address()
	if rb, ok := bindingValue(sc, redirect); ok {
		spec.RedirectAddress = rb.Address()
		spec.RedirectPort = rb.Port
	}
	if pb, ok := bindingValue(sc, proxy); ok {
		spec.ProxyAddress = pb.Address()
		if spec.ProxyPort == 0 {
			spec.ProxyPort = pb.Port
		}
	}

	if ssl := r.Child(SSLElement); ssl != nil {
		spec.SSL = h.sslSpec(ssl, a)
	}
	if a.err != nil {
		return nil, a.err
	}

	native := false
	if v, ok := sc.Dependency(ServerName); ok {
		if srv, ok := v.(*Server); ok {
			native = srv.Native
		}
	}
	if err := h.s.adapter.StartConnector(sc.Context, spec, native); err != nil {
		return nil, err
	}
	return spec, nil
}

func (h *connectorHandler) sslSpec(r *model.Resource, parent *attributes) *container.SSLSpec {
	a := h.s.attributes(r)
	spec := &container.SSLSpec{
		KeyAlias:           a.str(AttrKeyAlias),
		Password:           a.str(AttrPassword),
		CertificateKeyFile: a.str(AttrCertKeyFile),
		CertificateFile:    a.str(AttrCertFile),
		CACertificateFile:  a.str(AttrCACertFile),
		CipherSuite:        a.str(AttrCipherSuite),
		Protocol:           a.str(AttrSSLProtocol),
		VerifyClient:       a.str(AttrVerifyClient),
		VerifyDepth:        a.int(AttrVerifyDepth),
		SessionCacheSize:   a.int(AttrSessionCacheSize),
		SessionTimeout:     a.int(AttrSessionTimeout),
	}
	if spec.Protocol == "" {
		spec.Protocol = a.str(AttrProtocol)
	}
	if a.err != nil {
		parent.fail(a.err)
	}
	return spec
}

func bindingValue(sc *services.StartContext, name string) (SocketBinding, bool) {
	if name == "" {
		return SocketBinding{}, false
	}
	v, ok := sc.Dependency(SocketBindingName(name))
	if !ok {
		return SocketBinding{}, false
	}
	b, ok := v.(SocketBinding)
	return b, ok
}

func (h *connectorHandler) Uninstall(x *engine.Context, r *model.Resource) error {
	return uninstall(x, h.ServiceName(r.Address()))
}

// ApplyAttribute handles enabled, the only runtime-writable connector
// attribute.
func (h *connectorHandler) ApplyAttribute(x *engine.Context, addr model.Address, name string, v model.Value) error {
	if name != AttrEnabled {
		return x.RestartService(h.ServiceName(addr))
	}
	enabled, ok := v.AsBool()
	if !ok {
		r, err := x.ReadResource(addr)
		if err != nil {
			return err
		}
		a := h.s.attributes(r)
		enabled = a.bool(AttrEnabled)
		if a.err != nil {
			return a.err
		}
	}
	svc := h.ServiceName(addr)

	if h.s.caps.ConnectorToggle == nil {
		mode := services.ModeActive
		if !enabled {
			mode = services.ModeNever
		}
		if err := x.Services().SetMode(svc, mode); err != nil {
			return err
		}
		if enabled {
			x.TrackService(svc)
		}
		return nil
	}

	ctrl, ok := x.Services().Lookup(svc)
	if !ok || ctrl.State() != services.StateUp {
		// The start function reads the attribute.
		return nil
	}
	return h.s.adapter.SetConnectorEnabled(x.Context(), addr.Last().Name, enabled)
}

// hostHandler runs one container host per virtual server, including its
// access log, single sign-on and rewrite children.
type hostHandler struct{ s *Subsystem }

func (h *hostHandler) ServiceName(addr model.Address) services.Name {
	return HostName(addr.Last().Name)
}

func (h *hostHandler) Install(x *engine.Context, r *model.Resource) error {
	if err := h.s.requireAdapter(); err != nil {
		return err
	}
	addr := r.Address()
	name := addr.Last().Name

	deps := []services.Dependency{{Name: ServerName}}
	relativeTo := DefaultLogDirPath
	if dir := r.Descendant(model.NewAddress(AccessLogElement, DirectoryElement)); dir != nil {
		a := h.s.attributes(dir)
		if rt := a.str(AttrRelativeTo); rt != "" {
			relativeTo = rt
		}
		if a.err != nil {
			return a.err
		}
	}
	deps = append(deps, services.Dependency{Name: PathName(relativeTo), Optional: true})

	return install(x, services.Descriptor{
		Name:         h.ServiceName(addr),
		Description:  "virtual server " + name,
		Dependencies: deps,
		Start: func(sc *services.StartContext) (any, error) {
			return h.start(sc, addr, relativeTo)
		},
		Stop: func(ctx context.Context, _ any) error {
			return h.s.adapter.StopHost(ctx, name)
		},
	})
}

func (h *hostHandler) start(sc *services.StartContext, addr model.Address, relativeTo string) (any, error) {
	r, err := h.s.tree.Get(addr)
	if err != nil {
		return nil, err
	}
	a := h.s.attributes(r)
	spec := container.HostSpec{
		Name:              addr.Last().Name,
		Aliases:           a.strings(AttrAlias),
		DefaultWebModule:  a.str(AttrDefaultWebModule),
		EnableWelcomeRoot: a.bool(AttrEnableWelcomeRoot),
	}

	if al := r.Child(AccessLogElement); al != nil {
		la := h.s.attributes(al)
		spec.AccessLog = &container.AccessLogSpec{
			Pattern:     la.str(AttrPattern),
			Prefix:      la.str(AttrPrefix),
			Rotate:      la.bool(AttrRotate),
			Extended:    la.bool(AttrExtended),
			ResolveHost: la.bool(AttrResolveHosts),
		}
		if dir := al.Child(DirectoryElement); dir != nil {
			da := h.s.attributes(dir)
			spec.AccessLog.Directory = h.directory(sc, relativeTo, da.str(AttrPath))
			a.fail(da.err)
		} else {
			spec.AccessLog.Directory = h.directory(sc, relativeTo, "")
		}
		a.fail(la.err)
	}

	if sso := r.Child(SSOElement); sso != nil {
		sa := h.s.attributes(sso)
		spec.SSO = &container.SSOSpec{
			CacheContainer: sa.str(AttrCacheContainer),
			CacheName:      sa.str(AttrCacheName),
			Domain:         sa.str(AttrDomain),
			Reauthenticate: sa.bool(AttrReauthenticate),
			HTTPOnly:       sa.bool(AttrHTTPOnly),
		}
		a.fail(sa.err)
	}

	for _, rw := range r.Children(RewriteElement.Type) {
		ra := h.s.attributes(rw)
		rule := container.RewriteSpec{
			Name:         rw.Address().Last().Name,
			Pattern:      ra.str(AttrPattern),
			Substitution: ra.str(AttrSubstitution),
			Flags:        ra.str(AttrFlags),
		}
		for _, c := range rw.Children(ConditionElement.Type) {
			ca := h.s.attributes(c)
			rule.Conditions = append(rule.Conditions, container.ConditionSpec{
				Name:    c.Address().Last().Name,
				Test:    ca.str(AttrTest),
				Pattern: ca.str(AttrPattern),
				Flags:   ca.str(AttrFlags),
			})
			a.fail(ca.err)
		}
		spec.Rewrites = append(spec.Rewrites, rule)
		a.fail(ra.err)
	}

	if a.err != nil {
		return nil, a.err
	}
	if err := h.s.adapter.StartHost(sc.Context, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// directory resolves the access log directory against the relative-to
// path when that path is provided.
func (h *hostHandler) directory(sc *services.StartContext, relativeTo, path string) string {
	base := ""
	if v, ok := sc.Dependency(PathName(relativeTo)); ok {
		base, _ = v.(string)
	}
	switch {
	case path == "":
		return base
	case filepath.IsAbs(path) || base == "":
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

func (h *hostHandler) Uninstall(x *engine.Context, r *model.Resource) error {
	return uninstall(x, h.ServiceName(r.Address()))
}

// valveHandler runs one global valve per valve resource.
type valveHandler struct{ s *Subsystem }

func (h *valveHandler) ServiceName(addr model.Address) services.Name {
	return ValveName(addr.Last().Name)
}

func (h *valveHandler) Install(x *engine.Context, r *model.Resource) error {
	if err := h.s.requireAdapter(); err != nil {
		return err
	}
	addr := r.Address()
	name := addr.Last().Name
	a := h.s.attributes(r)
	mode := services.ModeActive
	if !a.bool(AttrEnabled) {
		mode = services.ModeNever
	}
	if a.err != nil {
		return a.err
	}

	return install(x, services.Descriptor{
		Name:         h.ServiceName(addr),
		Description:  "valve " + name,
		Mode:         mode,
		Dependencies: []services.Dependency{{Name: ServerName}},
		Start: func(sc *services.StartContext) (any, error) {
			r, err := h.s.tree.Get(addr)
			if err != nil {
				return nil, err
			}
			a := h.s.attributes(r)
			spec := container.ValveSpec{
				Name:      name,
				Module:    a.str(AttrModule),
				ClassName: a.str(AttrClassName),
				Params:    a.params(AttrParam),
			}
			if a.err != nil {
				return nil, a.err
			}
			if err := h.s.adapter.StartValve(sc.Context, spec); err != nil {
				return nil, err
			}
			return spec, nil
		},
		Stop: func(ctx context.Context, _ any) error {
			return h.s.adapter.StopValve(ctx, name)
		},
	})
}

func (h *valveHandler) Uninstall(x *engine.Context, r *model.Resource) error {
	return uninstall(x, h.ServiceName(r.Address()))
}

// ApplyAttribute switches a valve on or off through its service mode.
func (h *valveHandler) ApplyAttribute(x *engine.Context, addr model.Address, name string, v model.Value) error {
	svc := h.ServiceName(addr)
	if name != AttrEnabled {
		return x.RestartService(svc)
	}
	enabled, _ := v.AsBool()
	mode := services.ModeActive
	if !enabled {
		mode = services.ModeNever
	}
	if err := x.Services().SetMode(svc, mode); err != nil {
		return err
	}
	if enabled {
		x.TrackService(svc)
	}
	return nil
}
