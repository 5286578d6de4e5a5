package container

// ConnectorSpec is everything the container needs to open a connector.
type ConnectorSpec struct {
	Name     string `json:"name" validate:"required"`
	Protocol string `json:"protocol" validate:"required"`
	Scheme   string `json:"scheme" validate:"required"`

	// Address is the resolved socket binding, host:port.
	Address string `json:"address" validate:"required,hostname_port"`

	Secure         bool     `json:"secure"`
	EnableLookups  bool     `json:"enable_lookups"`
	ProxyName      string   `json:"proxy_name,omitempty"`
	ProxyPort      int      `json:"proxy_port,omitempty" validate:"omitempty,min=1,max=65535"`
	RedirectPort   int      `json:"redirect_port,omitempty" validate:"omitempty,min=1,max=65535"`
	MaxPostSize    int      `json:"max_post_size,omitempty" validate:"omitempty,min=0"`
	MaxSavePost    int      `json:"max_save_post_size,omitempty" validate:"omitempty,min=0"`
	MaxConnections int      `json:"max_connections,omitempty" validate:"omitempty,min=1"`
	Executor       string   `json:"executor,omitempty"`
	VirtualServers []string `json:"virtual_servers,omitempty"`

	// RedirectAddress and ProxyAddress come from the optional redirect and
	// proxy bindings, when installed.
	RedirectAddress string `json:"redirect_address,omitempty" validate:"omitempty,hostname_port"`
	ProxyAddress    string `json:"proxy_address,omitempty" validate:"omitempty,hostname_port"`

	SSL *SSLSpec `json:"ssl,omitempty"`

	// Paused connectors are added without accepting requests. Only engines
	// with ConnectorToggler honour it.
	Paused bool `json:"paused,omitempty"`
}

// SSLSpec is the TLS configuration of a connector.
type SSLSpec struct {
	KeyAlias           string `json:"key_alias,omitempty"`
	Password           string `json:"-"`
	CertificateKeyFile string `json:"certificate_key_file,omitempty"`
	CertificateFile    string `json:"certificate_file,omitempty"`
	CACertificateFile  string `json:"ca_certificate_file,omitempty"`
	CipherSuite        string `json:"cipher_suite,omitempty"`
	Protocol           string `json:"protocol,omitempty"`
	VerifyClient       string `json:"verify_client,omitempty" validate:"omitempty,oneof=true false want optional optionalNoCA require none"`
	VerifyDepth        int    `json:"verify_depth,omitempty" validate:"omitempty,min=0"`
	SessionCacheSize   int    `json:"session_cache_size,omitempty" validate:"omitempty,min=0"`
	SessionTimeout     int    `json:"session_timeout,omitempty" validate:"omitempty,min=0"`
}

// HostSpec describes a virtual host.
type HostSpec struct {
	Name              string   `json:"name" validate:"required"`
	Aliases           []string `json:"aliases,omitempty" validate:"dive,required"`
	DefaultWebModule  string   `json:"default_web_module,omitempty"`
	EnableWelcomeRoot bool     `json:"enable_welcome_root"`

	AccessLog *AccessLogSpec `json:"access_log,omitempty"`
	SSO       *SSOSpec       `json:"sso,omitempty"`
	Rewrites  []RewriteSpec  `json:"rewrites,omitempty" validate:"dive"`
}

// AccessLogSpec configures request logging for a host. Directory is the
// resolved filesystem path.
type AccessLogSpec struct {
	Pattern     string `json:"pattern"`
	Prefix      string `json:"prefix"`
	Rotate      bool   `json:"rotate"`
	Extended    bool   `json:"extended"`
	ResolveHost bool   `json:"resolve_hosts"`
	Directory   string `json:"directory,omitempty"`
}

// SSOSpec configures single sign-on for a host.
type SSOSpec struct {
	CacheContainer string `json:"cache_container,omitempty"`
	CacheName      string `json:"cache_name,omitempty"`
	Domain         string `json:"domain,omitempty"`
	Reauthenticate bool   `json:"reauthenticate"`
	HTTPOnly       bool   `json:"http_only"`
}

// RewriteSpec is one rewrite rule with its conditions.
type RewriteSpec struct {
	Name         string          `json:"name" validate:"required"`
	Pattern      string          `json:"pattern" validate:"required"`
	Substitution string          `json:"substitution" validate:"required"`
	Flags        string          `json:"flags"`
	Conditions   []ConditionSpec `json:"conditions,omitempty" validate:"dive"`
}

// ConditionSpec guards a rewrite rule.
type ConditionSpec struct {
	Name    string `json:"name" validate:"required"`
	Test    string `json:"test" validate:"required"`
	Pattern string `json:"pattern" validate:"required"`
	Flags   string `json:"flags"`
}

// ValveSpec describes a global valve.
type ValveSpec struct {
	Name      string            `json:"name" validate:"required"`
	Module    string            `json:"module" validate:"required"`
	ClassName string            `json:"class_name" validate:"required"`
	Params    map[string]string `json:"params,omitempty"`
}
