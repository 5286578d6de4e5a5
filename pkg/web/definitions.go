package web

import (
	"github.com/openfroyo/webplane/pkg/model"
)

// Subsystem name and resource path elements.
const (
	SubsystemName = "web"

	ConstraintConnector = "web-connector"
	ConstraintValve     = "web-valve"
)

var (
	SubsystemElement       = model.Element("subsystem", SubsystemName)
	ConnectorElement       = model.Element("connector", model.Wildcard)
	SSLElement             = model.Element("configuration", "ssl")
	VirtualServerElement   = model.Element("virtual-server", model.Wildcard)
	AccessLogElement       = model.Element("configuration", "access-log")
	DirectoryElement       = model.Element("setting", "directory")
	SSOElement             = model.Element("configuration", "sso")
	RewriteElement         = model.Element("rewrite", model.Wildcard)
	ConditionElement       = model.Element("condition", model.Wildcard)
	ValveElement           = model.Element("valve", model.Wildcard)
	JSPElement             = model.Element("configuration", "jsp")
	StaticResourcesElement = model.Element("configuration", "static-resources")
	ContainerElement       = model.Element("configuration", "container")

	// SubsystemAddress is the address of the subsystem resource.
	SubsystemAddress = model.NewAddress(SubsystemElement)
)

// Attribute names shared by handlers and transformers.
const (
	AttrDefaultVirtualServer = "default-virtual-server"
	AttrInstanceID           = "instance-id"
	AttrNative               = "native"
	AttrDefaultSessionTime   = "default-session-timeout"

	AttrName              = "name"
	AttrProtocol          = "protocol"
	AttrSocketBinding     = "socket-binding"
	AttrScheme            = "scheme"
	AttrExecutor          = "executor"
	AttrEnabled           = "enabled"
	AttrEnableLookups     = "enable-lookups"
	AttrProxyBinding      = "proxy-binding"
	AttrProxyName         = "proxy-name"
	AttrProxyPort         = "proxy-port"
	AttrMaxPostSize       = "max-post-size"
	AttrMaxSavePostSize   = "max-save-post-size"
	AttrSecure            = "secure"
	AttrRedirectBinding   = "redirect-binding"
	AttrRedirectPort      = "redirect-port"
	AttrMaxConnections    = "max-connections"
	AttrVirtualServer     = "virtual-server"
	AttrKeyAlias          = "key-alias"
	AttrPassword          = "password"
	AttrCertKeyFile       = "certificate-key-file"
	AttrCipherSuite       = "cipher-suite"
	AttrVerifyClient      = "verify-client"
	AttrVerifyDepth       = "verify-depth"
	AttrCertFile          = "certificate-file"
	AttrCACertFile        = "ca-certificate-file"
	AttrCARevocationURL   = "ca-revocation-url"
	AttrCACertPassword    = "ca-certificate-password"
	AttrKeystoreType      = "keystore-type"
	AttrTruststoreType    = "truststore-type"
	AttrSessionCacheSize  = "session-cache-size"
	AttrSessionTimeout    = "session-timeout"
	AttrSSLProtocol       = "ssl-protocol"
	AttrAlias             = "alias"
	AttrEnableWelcomeRoot = "enable-welcome-root"
	AttrDefaultWebModule  = "default-web-module"
	AttrPattern           = "pattern"
	AttrResolveHosts      = "resolve-hosts"
	AttrExtended          = "extended"
	AttrPrefix            = "prefix"
	AttrRotate            = "rotate"
	AttrPath              = "path"
	AttrRelativeTo        = "relative-to"
	AttrCacheContainer    = "cache-container"
	AttrCacheName         = "cache-name"
	AttrDomain            = "domain"
	AttrReauthenticate    = "reauthenticate"
	AttrHTTPOnly          = "http-only"
	AttrSubstitution      = "substitution"
	AttrFlags             = "flags"
	AttrTest              = "test"
	AttrModule            = "module"
	AttrClassName         = "class-name"
	AttrParam             = "param"
	AttrMimeMapping       = "mime-mapping"
	AttrWelcomeFile       = "welcome-file"
)

// jspAttributes are the JSP compiler options. Their defaults belong to the
// container.
var jspAttributes = []struct {
	name string
	typ  model.Type
}{
	{"development", model.TypeBool},
	{"disabled", model.TypeBool},
	{"keep-generated", model.TypeBool},
	{"trim-spaces", model.TypeBool},
	{"tag-pooling", model.TypeBool},
	{"mapped-file", model.TypeBool},
	{"check-interval", model.TypeInt},
	{"modification-test-interval", model.TypeInt},
	{"recompile-on-fail", model.TypeBool},
	{"smap", model.TypeBool},
	{"dump-smap", model.TypeBool},
	{"generate-strings-as-char-arrays", model.TypeBool},
	{"error-on-use-bean-invalid-class-attribute", model.TypeBool},
	{"scratch-dir", model.TypeString},
	{"source-vm", model.TypeString},
	{"target-vm", model.TypeString},
	{"java-encoding", model.TypeString},
	{"x-powered-by", model.TypeBool},
	{"display-source-fragment", model.TypeBool},
}

var staticResourceAttributes = []struct {
	name string
	typ  model.Type
}{
	{"listings", model.TypeBool},
	{"sendfile", model.TypeInt},
	{"file-encoding", model.TypeString},
	{"read-only", model.TypeBool},
	{"webdav", model.TypeBool},
	{"secret", model.TypeString},
	{"max-depth", model.TypeInt},
	{"disabled", model.TypeBool},
}

// Definitions holds the resource definitions of the subsystem.
type Definitions struct {
	Subsystem       *model.ResourceDefinition
	Connector       *model.ResourceDefinition
	SSL             *model.ResourceDefinition
	VirtualServer   *model.ResourceDefinition
	AccessLog       *model.ResourceDefinition
	Directory       *model.ResourceDefinition
	SSO             *model.ResourceDefinition
	Rewrite         *model.ResourceDefinition
	Condition       *model.ResourceDefinition
	Valve           *model.ResourceDefinition
	JSP             *model.ResourceDefinition
	StaticResources *model.ResourceDefinition
	Container       *model.ResourceDefinition
}

func str(name string) *model.AttributeBuilder {
	return model.NewAttribute(name, model.TypeString).AllowExpression()
}

func integer(name string) *model.AttributeBuilder {
	return model.NewAttribute(name, model.TypeInt).AllowExpression()
}

func boolean(name string) *model.AttributeBuilder {
	return model.NewAttribute(name, model.TypeBool).AllowExpression()
}

// NewDefinitions builds the subsystem definitions and attaches them below
// root.
func NewDefinitions(root *model.ResourceDefinition) *Definitions {
	d := &Definitions{}

	d.Subsystem = root.AddChild(model.NewResourceDefinition(SubsystemElement,
		str(AttrDefaultVirtualServer).Default(model.String("default-host")).Build(),
		str(AttrInstanceID).Build(),
		boolean(AttrNative).Default(model.Bool(true)).Build(),
		integer(AttrDefaultSessionTime).Default(model.Int(30)).Range(0, 1<<31-1).Build(),
	).WithDescription("The web subsystem"))

	d.Connector = d.Subsystem.AddChild(model.NewResourceDefinition(ConnectorElement,
		model.NewAttribute(AttrName, model.TypeString).Mutability(model.ReadOnly).Build(),
		str(AttrProtocol).Required().Mutability(model.RestartResource).
			OneOf("HTTP/1.1", "AJP/1.3", "org.apache.coyote.http11.Http11NioProtocol", "org.apache.coyote.http11.Http11AprProtocol").Build(),
		// Binding changes alter service dependencies and take effect on reload.
		str(AttrSocketBinding).Required().Build(),
		str(AttrScheme).Default(model.String("http")).Mutability(model.RestartResource).Build(),
		str(AttrExecutor).Mutability(model.RestartResource).Build(),
		boolean(AttrEnabled).Default(model.Bool(true)).Mutability(model.RuntimeWritable).Build(),
		boolean(AttrEnableLookups).Default(model.Bool(false)).Mutability(model.RestartResource).Build(),
		str(AttrProxyBinding).Build(),
		str(AttrProxyName).Mutability(model.RestartResource).Build(),
		integer(AttrProxyPort).Mutability(model.RestartResource).Range(1, 65535).Build(),
		integer(AttrMaxPostSize).Default(model.Int(2097152)).Mutability(model.RestartResource).Range(0, 1<<31-1).Build(),
		integer(AttrMaxSavePostSize).Default(model.Int(4096)).Mutability(model.RestartResource).Range(0, 1<<31-1).Build(),
		boolean(AttrSecure).Default(model.Bool(false)).Mutability(model.RestartResource).Build(),
		str(AttrRedirectBinding).Build(),
		integer(AttrRedirectPort).Mutability(model.RestartResource).Range(1, 65535).Build(),
		integer(AttrMaxConnections).Mutability(model.RestartResource).Range(1, 1<<31-1).Build(),
		model.NewAttribute(AttrVirtualServer, model.TypeList).Mutability(model.RestartResource).Build(),
	).WithConstraints(ConstraintConnector).WithDescription("A web connector"))

	sslAttrs := []*model.AttributeDefinition{
		model.NewAttribute(AttrName, model.TypeString).Mutability(model.RestartResource).Build(),
	}
	for _, n := range []string{AttrKeyAlias, AttrPassword, AttrCertKeyFile, AttrCipherSuite, AttrProtocol,
		AttrCertFile, AttrCACertFile, AttrCARevocationURL, AttrCACertPassword, AttrKeystoreType, AttrTruststoreType, AttrSSLProtocol} {
		sslAttrs = append(sslAttrs, str(n).Mutability(model.RestartResource).Build())
	}
	sslAttrs = append(sslAttrs,
		str(AttrVerifyClient).Default(model.String("false")).Mutability(model.RestartResource).
			OneOf("true", "false", "want", "optional", "optionalNoCA", "require", "none").Build(),
		integer(AttrVerifyDepth).Mutability(model.RestartResource).Range(0, 1<<31-1).Build(),
		integer(AttrSessionCacheSize).Mutability(model.RestartResource).Range(0, 1<<31-1).Build(),
		integer(AttrSessionTimeout).Mutability(model.RestartResource).Range(0, 1<<31-1).Build(),
	)
	d.SSL = d.Connector.AddChild(model.NewResourceDefinition(SSLElement, sslAttrs...).
		WithConstraints(ConstraintConnector).WithDescription("TLS configuration of a connector"))

	d.VirtualServer = d.Subsystem.AddChild(model.NewResourceDefinition(VirtualServerElement,
		model.NewAttribute(AttrName, model.TypeString).Mutability(model.ReadOnly).Build(),
		model.NewAttribute(AttrAlias, model.TypeList).Mutability(model.RestartResource).Build(),
		boolean(AttrEnableWelcomeRoot).Default(model.Bool(false)).Mutability(model.RestartResource).Build(),
		str(AttrDefaultWebModule).Default(model.String("ROOT.war")).Mutability(model.RestartResource).Build(),
	).WithDescription("A virtual host"))

	d.AccessLog = d.VirtualServer.AddChild(model.NewResourceDefinition(AccessLogElement,
		str(AttrPattern).Default(model.String("common")).Mutability(model.RestartResource).Build(),
		boolean(AttrResolveHosts).Default(model.Bool(false)).Mutability(model.RestartResource).Build(),
		boolean(AttrExtended).Default(model.Bool(false)).Mutability(model.RestartResource).Build(),
		str(AttrPrefix).Default(model.String("access_log.")).Mutability(model.RestartResource).Build(),
		boolean(AttrRotate).Default(model.Bool(true)).Mutability(model.RestartResource).Build(),
	).WithDescription("Request logging of a virtual host"))

	d.Directory = d.AccessLog.AddChild(model.NewResourceDefinition(DirectoryElement,
		str(AttrPath).Mutability(model.RestartResource).Build(),
		str(AttrRelativeTo).Default(model.String(DefaultLogDirPath)).Mutability(model.RestartResource).Build(),
	).WithDescription("Directory the access log is written to"))

	d.SSO = d.VirtualServer.AddChild(model.NewResourceDefinition(SSOElement,
		str(AttrCacheContainer).Mutability(model.RestartResource).Build(),
		str(AttrCacheName).Mutability(model.RestartResource).Build(),
		str(AttrDomain).Mutability(model.RestartResource).Build(),
		boolean(AttrReauthenticate).Default(model.Bool(false)).Mutability(model.RestartResource).Build(),
		boolean(AttrHTTPOnly).Default(model.Bool(true)).Mutability(model.RestartResource).Build(),
	).WithDescription("Single sign-on of a virtual host"))

	d.Rewrite = d.VirtualServer.AddChild(model.NewResourceDefinition(RewriteElement,
		str(AttrPattern).Required().Mutability(model.RestartResource).Build(),
		str(AttrSubstitution).Required().Mutability(model.RestartResource).Build(),
		str(AttrFlags).Required().Mutability(model.RestartResource).Build(),
	).WithDescription("A URL rewrite rule"))

	d.Condition = d.Rewrite.AddChild(model.NewResourceDefinition(ConditionElement,
		str(AttrTest).Required().Mutability(model.RestartResource).Build(),
		str(AttrPattern).Required().Mutability(model.RestartResource).Build(),
		str(AttrFlags).Mutability(model.RestartResource).Build(),
	).WithDescription("A condition of a rewrite rule"))

	d.Valve = d.Subsystem.AddChild(model.NewResourceDefinition(ValveElement,
		str(AttrModule).Required().Mutability(model.RestartResource).Build(),
		str(AttrClassName).Required().Mutability(model.RestartResource).Build(),
		boolean(AttrEnabled).Default(model.Bool(true)).Mutability(model.RuntimeWritable).Build(),
		model.NewAttribute(AttrParam, model.TypeObject).Mutability(model.RestartResource).Build(),
	).WithConstraints(ConstraintValve).WithDescription("A global valve"))

	var jsp []*model.AttributeDefinition
	for _, a := range jspAttributes {
		jsp = append(jsp, model.NewAttribute(a.name, a.typ).AllowExpression().Build())
	}
	d.JSP = d.Subsystem.AddChild(model.NewResourceDefinition(JSPElement, jsp...).
		WithDescription("JSP compiler options"))

	var static []*model.AttributeDefinition
	for _, a := range staticResourceAttributes {
		static = append(static, model.NewAttribute(a.name, a.typ).AllowExpression().Build())
	}
	d.StaticResources = d.Subsystem.AddChild(model.NewResourceDefinition(StaticResourcesElement, static...).
		WithDescription("Static resource serving options"))

	d.Container = d.Subsystem.AddChild(model.NewResourceDefinition(ContainerElement,
		model.NewAttribute(AttrMimeMapping, model.TypeObject).Build(),
		model.NewAttribute(AttrWelcomeFile, model.TypeList).Build(),
	).WithDescription("Container-wide defaults"))

	return d
}

// ConnectorAddress returns the address of the named connector.
func ConnectorAddress(name string) model.Address {
	return SubsystemAddress.Append(model.Element("connector", name))
}

// VirtualServerAddress returns the address of the named virtual server.
func VirtualServerAddress(name string) model.Address {
	return SubsystemAddress.Append(model.Element("virtual-server", name))
}

// ValveAddress returns the address of the named valve.
func ValveAddress(name string) model.Address {
	return SubsystemAddress.Append(model.Element("valve", name))
}
