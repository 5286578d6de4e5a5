package web

import (
	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/transform"
)

// CurrentVersion is the model version of the subsystem.
var CurrentVersion = transform.V(2, 1, 0)

const defaultRedirectPort = 443

// Legacy addressing of the configuration singletons.
var (
	sslAlias       = model.Element("ssl", "configuration")
	ssoAlias       = model.Element("sso", "configuration")
	accessLogAlias = model.Element("access-log", "configuration")
	directoryAlias = model.Element("directory", "configuration")
)

// attribute name lists used by the expression checks
var (
	connectorAttributes = []string{
		AttrName, AttrProtocol, AttrSocketBinding, AttrScheme, AttrExecutor, AttrEnabled,
		AttrEnableLookups, AttrProxyName, AttrProxyPort, AttrMaxPostSize, AttrMaxSavePostSize,
		AttrSecure, AttrRedirectPort, AttrMaxConnections, AttrVirtualServer,
	}
	sslAttributes = []string{
		AttrName, AttrKeyAlias, AttrPassword, AttrCertKeyFile, AttrCipherSuite, AttrProtocol,
		AttrVerifyClient, AttrVerifyDepth, AttrCertFile, AttrCACertFile, AttrCARevocationURL,
		AttrCACertPassword, AttrKeystoreType, AttrTruststoreType, AttrSessionCacheSize,
		AttrSessionTimeout, AttrSSLProtocol,
	}
	ssoAttributes       = []string{AttrCacheContainer, AttrCacheName, AttrDomain, AttrReauthenticate, AttrHTTPOnly}
	accessLogAttributes = []string{AttrPattern, AttrResolveHosts, AttrExtended, AttrPrefix, AttrRotate}
	conditionAttributes = []string{AttrTest, AttrPattern, AttrFlags}
	containerAttributes = []string{AttrMimeMapping, AttrWelcomeFile}
)

func names(attrs []struct {
	name string
	typ  model.Type
}) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.name
	}
	return out
}

// NewTransformers returns the transformation registry for every legacy
// model version the subsystem can talk to.
func NewTransformers(opts ...transform.Option) *transform.Registry {
	r := transform.NewRegistry(SubsystemAddress, CurrentVersion, opts...)
	r.Register(transform.V(1, 1, 0), rules11x(0))
	r.Register(transform.V(1, 1, 1), rules11x(1))
	r.Register(transform.V(1, 2, 0), rules120())
	r.Register(transform.V(1, 3, 0), rules130())
	r.Register(transform.V(1, 4, 0), rules140())
	r.Register(transform.V(2, 0, 0), rules130())
	return r
}

// sessionTimeout is shared by every legacy version: the attribute only
// survives at its default.
func sessionTimeout(root *transform.ResourceRule) {
	root.Attributes(AttrDefaultSessionTime).
		Discard(transform.DiscardValue(model.Int(30), true)).
		Reject(transform.RejectDefined)
}

func ssoHTTPOnly(sso *transform.ResourceRule) {
	sso.Attributes(AttrHTTPOnly).
		Discard(transform.DiscardValue(model.Bool(true), true)).
		Reject(transform.RejectDefined)
}

func connectorBindings(conn *transform.ResourceRule) {
	conn.Attributes(AttrProxyBinding, AttrRedirectBinding).
		Discard(transform.DiscardUndefined).
		Reject(transform.RejectDefined)
}

var virtualServerRejection = transform.RejectIf(
	"virtual-server on a connector is ignored by version 1.1.0 (JBPAPP-9314)",
	func(v model.Value) bool { return v.IsDefined() && !v.IsNull() },
)

func rules11x(micro int) *transform.ResourceRule {
	root := transform.NewResourceRule()
	sessionTimeout(root)
	root.RejectChild(ValveElement)

	root.Child(JSPElement).Attributes(names(jspAttributes)...).Reject(transform.RejectExpressions)
	root.Child(StaticResourcesElement).Attributes(names(staticResourceAttributes)...).Reject(transform.RejectExpressions)
	root.Child(ContainerElement).Attributes(containerAttributes...).Reject(transform.RejectExpressions)

	conn := root.Child(ConnectorElement)
	conn.Attributes(connectorAttributes...).Reject(transform.RejectExpressions)
	conn.Attributes(AttrRedirectPort).Convert(transform.DefaultIfUndefined(model.Int(defaultRedirectPort)))
	conn.Attributes(AttrMaxConnections).Discard(transform.DiscardAlways)
	connectorBindings(conn)
	conn.Override(engine.OpUndefineAttribute, func(addr model.Address, op *engine.Operation) (*engine.Operation, error) {
		if op.AttributeName() != AttrRedirectPort {
			return op, nil
		}
		out := engine.NewWriteAttribute(addr, AttrRedirectPort, model.Int(defaultRedirectPort))
		out.ID, out.Headers = op.ID, op.Headers
		return out, nil
	})
	if micro == 0 {
		conn.Attributes(AttrVirtualServer).Reject(virtualServerRejection)
	}

	ssl := conn.RedirectChild(SSLElement, sslAlias)
	ssl.Attributes(sslAttributes...).Reject(transform.RejectExpressions)
	ssl.Attributes(AttrSSLProtocol).Discard(transform.DiscardUndefined).Reject(transform.RejectDefined)
	ssl.Attributes(AttrCipherSuite).Reject(transform.RejectUndefined)
	ssl.Attributes(AttrName).Convert(func(addr model.Address, _ string, v model.Value) model.Value {
		if v.IsDefined() && !v.IsNull() && v.Text() == addr.Last().Type {
			return model.Undefined()
		}
		return v
	})

	host := root.Child(VirtualServerElement)
	host.Attributes(AttrDefaultWebModule).Reject(transform.RejectExpressions)

	rewrite := host.Child(RewriteElement)
	rewrite.Attributes(AttrFlags, AttrPattern, AttrSubstitution).Reject(transform.RejectExpressions)
	cond := rewrite.Child(ConditionElement)
	cond.Attributes(conditionAttributes...).Reject(transform.RejectExpressions)
	cond.Attributes(AttrFlags).Reject(transform.RejectUndefined)

	sso := host.RedirectChild(SSOElement, ssoAlias)
	sso.Attributes(ssoAttributes...).Reject(transform.RejectExpressions)
	ssoHTTPOnly(sso)

	accessLog := host.RedirectChild(AccessLogElement, accessLogAlias)
	accessLog.Attributes(accessLogAttributes...).Reject(transform.RejectExpressions)
	accessLog.RedirectChild(DirectoryElement, directoryAlias)

	return root
}

func rules120() *transform.ResourceRule {
	root := transform.NewResourceRule()
	sessionTimeout(root)

	host := root.Child(VirtualServerElement)
	host.Child(RewriteElement).Child(ConditionElement).
		Attributes(AttrFlags).Reject(transform.RejectUndefined)
	ssoHTTPOnly(host.Child(SSOElement))

	conn := root.Child(ConnectorElement)
	connectorBindings(conn)
	ssl := conn.Child(SSLElement)
	ssl.Attributes(AttrCipherSuite).Reject(transform.RejectUndefined)
	ssl.Attributes(AttrSSLProtocol).Discard(transform.DiscardUndefined).Reject(transform.RejectDefined)
	return root
}

// rules130 also serves 2.0.0, which shares the 1.3.0 rule set.
func rules130() *transform.ResourceRule {
	root := transform.NewResourceRule()
	sessionTimeout(root)
	ssoHTTPOnly(root.Child(VirtualServerElement).Child(SSOElement))

	conn := root.Child(ConnectorElement)
	connectorBindings(conn)
	conn.Attributes(AttrSSLProtocol).Discard(transform.DiscardUndefined)
	conn.Child(SSLElement).Attributes(AttrCipherSuite).Reject(transform.RejectUndefined)
	return root
}

func rules140() *transform.ResourceRule {
	root := transform.NewResourceRule()
	sessionTimeout(root)
	ssoHTTPOnly(root.Child(VirtualServerElement).Child(SSOElement))
	return root
}
