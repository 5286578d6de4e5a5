package container

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpSpec() ConnectorSpec {
	return ConnectorSpec{
		Name:     "http",
		Protocol: "HTTP/1.1",
		Scheme:   "http",
		Address:  "127.0.0.1:8080",
	}
}

func TestResolveCapabilities(t *testing.T) {
	caps := ResolveCapabilities(NewMemoryEngine())
	assert.True(t, caps.Has(CapNativeSSL))
	assert.True(t, caps.Has(CapConnectorToggle))
	assert.Equal(t, []string{"connector-toggle", "native-ssl"}, caps.Names())

	basic := ResolveCapabilities(BasicEngine{NewMemoryEngine()})
	assert.False(t, basic.Has(CapNativeSSL))
	assert.Empty(t, basic.Names())
	assert.False(t, basic.Has("unknown"))
}

func TestNewAdapter_RequiredCapabilities(t *testing.T) {
	_, err := NewAdapter(BasicEngine{NewMemoryEngine()}, WithRequiredCapabilities("native-ssl"))
	if err == nil {
		t.Fatal("Expected missing capability error")
	}
	assert.Contains(t, err.Error(), "missing required capabilities: native-ssl")

	_, err = NewAdapter(NewMemoryEngine(), WithRequiredCapabilities("native-ssl", "connector-toggle"))
	require.NoError(t, err)
}

func TestAdapter_StartConnector(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()
	a, err := NewAdapter(engine)
	require.NoError(t, err)

	require.NoError(t, a.StartConnector(ctx, httpSpec(), false))
	c, ok := engine.Connector("http")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:8080", c.Spec.Address)

	require.NoError(t, a.StopConnector(ctx, "http"))
	_, ok = engine.Connector("http")
	assert.False(t, ok)

	// Stopping twice is harmless.
	require.NoError(t, a.StopConnector(ctx, "http"))
	assert.Equal(t, []string{"add-connector http", "remove-connector http"}, engine.Events())
}

func TestAdapter_StartConnector_Invalid(t *testing.T) {
	a, err := NewAdapter(NewMemoryEngine())
	require.NoError(t, err)

	cases := map[string]func(*ConnectorSpec){
		"missing protocol": func(s *ConnectorSpec) { s.Protocol = "" },
		"bad address":      func(s *ConnectorSpec) { s.Address = "nowhere" },
		"bad proxy port":   func(s *ConnectorSpec) { s.ProxyPort = 70000 },
		"bad ssl":          func(s *ConnectorSpec) { s.SSL = &SSLSpec{VerifyClient: "sometimes"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			spec := httpSpec()
			mutate(&spec)
			if err := a.StartConnector(context.Background(), spec, false); err == nil {
				t.Fatalf("Expected validation error")
			}
		})
	}
}

func TestAdapter_StartConnector_NativeSSL(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()
	a, err := NewAdapter(engine)
	require.NoError(t, err)

	spec := httpSpec()
	spec.Name, spec.Scheme, spec.Address = "https", "https", "127.0.0.1:8443"
	spec.SSL = &SSLSpec{KeyAlias: "server", CertificateKeyFile: "/etc/keystore"}
	require.NoError(t, a.StartConnector(ctx, spec, true))

	c, _ := engine.Connector("https")
	assert.Nil(t, c.Spec.SSL)
	require.NotNil(t, c.NativeSSL)
	assert.Equal(t, "server", c.NativeSSL.KeyAlias)

	// Without native TLS the configuration stays on the connector.
	basic := NewMemoryEngine()
	b, err := NewAdapter(BasicEngine{basic})
	require.NoError(t, err)
	require.NoError(t, b.StartConnector(ctx, spec, true))
	bc, _ := basic.Connector("https")
	require.NotNil(t, bc.Spec.SSL)
	assert.Nil(t, bc.NativeSSL)
}

func TestAdapter_StartConnector_NativeFailureRemovesConnector(t *testing.T) {
	engine := NewMemoryEngine()
	engine.FailOn("native-ssl", "https", errors.New("no keystore"))
	a, err := NewAdapter(engine)
	require.NoError(t, err)

	spec := httpSpec()
	spec.Name = "https"
	spec.SSL = &SSLSpec{KeyAlias: "server"}
	err = a.StartConnector(context.Background(), spec, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no keystore")

	_, ok := engine.Connector("https")
	assert.False(t, ok, "Expected half-configured connector to be removed")
}

func TestAdapter_SetConnectorEnabled(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()
	a, err := NewAdapter(engine)
	require.NoError(t, err)
	require.NoError(t, a.StartConnector(ctx, httpSpec(), false))

	require.NoError(t, a.SetConnectorEnabled(ctx, "http", false))
	c, _ := engine.Connector("http")
	assert.True(t, c.Paused)

	b, err := NewAdapter(BasicEngine{engine})
	require.NoError(t, err)
	if err := b.SetConnectorEnabled(ctx, "http", true); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Expected ErrUnsupported, got %v", err)
	}
}

func TestAdapter_StartConnectorPaused(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()
	a, err := NewAdapter(engine)
	require.NoError(t, err)

	spec := httpSpec()
	spec.Paused = true
	require.NoError(t, a.StartConnector(ctx, spec, false))
	c, ok := engine.Connector("http")
	require.True(t, ok)
	assert.True(t, c.Paused)
	assert.Equal(t, []string{"add-connector http"}, engine.Events())

	b, err := NewAdapter(BasicEngine{NewMemoryEngine()})
	require.NoError(t, err)
	if err := b.StartConnector(ctx, spec, false); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Expected ErrUnsupported, got %v", err)
	}
}

func TestAdapter_HostsAndValves(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()
	a, err := NewAdapter(engine)
	require.NoError(t, err)

	host := HostSpec{
		Name:    "default-host",
		Aliases: []string{"localhost", "example.com"},
		Rewrites: []RewriteSpec{{
			Name: "r1", Pattern: "^/old/(.*)$", Substitution: "/new/$1",
			Conditions: []ConditionSpec{{Name: "c1", Test: "%{HTTP_HOST}", Pattern: "example.com"}},
		}},
	}
	require.NoError(t, a.StartHost(ctx, host))
	if err := a.StartHost(ctx, host); err == nil {
		t.Fatal("Expected duplicate host error")
	}

	bad := HostSpec{Name: "other", Rewrites: []RewriteSpec{{Name: "r"}}}
	require.Error(t, a.StartHost(ctx, bad))

	valve := ValveSpec{Name: "request-dumper", Module: "org.example", ClassName: "org.example.Dumper"}
	require.NoError(t, a.StartValve(ctx, valve))
	require.Error(t, a.StartValve(ctx, ValveSpec{Name: "v"}))

	assert.Equal(t, map[string][]string{
		"connectors": {},
		"hosts":      {"default-host"},
		"valves":     {"request-dumper"},
	}, engine.Snapshot())

	require.NoError(t, a.StopHost(ctx, "default-host"))
	require.NoError(t, a.StopValve(ctx, "request-dumper"))
	assert.Equal(t, []string{
		"add-host default-host",
		"add-valve request-dumper",
		"remove-host default-host",
		"remove-valve request-dumper",
	}, engine.Events())
}

func TestMemoryEngine_AddressInUse(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()
	require.NoError(t, engine.AddConnector(ctx, httpSpec()))

	other := httpSpec()
	other.Name = "other"
	if err := engine.AddConnector(ctx, other); err == nil {
		t.Fatal("Expected address conflict")
	}

	engine.FailOn("remove-connector", "http", errors.New("busy"))
	require.Error(t, engine.RemoveConnector(ctx, "http"))
	engine.FailOn("remove-connector", "http", nil)
	require.NoError(t, engine.RemoveConnector(ctx, "http"))

	engine.ResetEvents()
	assert.Empty(t, engine.Events())
}
