package web

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/transform"
)

var (
	v110 = transform.V(1, 1, 0)
	v111 = transform.V(1, 1, 1)
	v120 = transform.V(1, 2, 0)
	v140 = transform.V(1, 4, 0)
	v200 = transform.V(2, 0, 0)
)

func assertIncompatible(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrVersionIncompatibility), "got %v", err)
}

func TestTransformers_Versions(t *testing.T) {
	r := NewTransformers()
	assert.Equal(t, []transform.Version{v110, v111, v120, transform.V(1, 3, 0), v140, v200}, r.Versions())
	assert.Equal(t, CurrentVersion, r.Current())

	op := engine.NewAdd(ConnectorAddress("http"), attrs(AttrMaxConnections, 10))
	out, err := r.TransformOperation(CurrentVersion, op)
	require.NoError(t, err)
	assert.Same(t, op, out, "Expected the current version to pass operations through")
}

func TestTransformers_VirtualServerOnConnector(t *testing.T) {
	r := NewTransformers()
	op := engine.NewAdd(ConnectorAddress("http"), attrs(
		AttrProtocol, "HTTP/1.1",
		AttrSocketBinding, "http",
		AttrVirtualServer, []any{"default-host"},
	))

	_, err := r.TransformOperation(v110, op)
	assertIncompatible(t, err)
	assert.Contains(t, err.Error(), AttrVirtualServer)

	out, err := r.TransformOperation(v111, op)
	require.NoError(t, err)
	assert.Equal(t, model.StringList("default-host"), out.Param(AttrVirtualServer))
}

func TestTransformers_ConnectorAdd11x(t *testing.T) {
	r := NewTransformers()
	op := engine.NewAdd(ConnectorAddress("http"), attrs(
		AttrProtocol, "HTTP/1.1",
		AttrSocketBinding, "http",
		AttrMaxConnections, 100,
	))

	out, err := r.TransformOperation(v111, op)
	require.NoError(t, err)
	assert.False(t, out.Param(AttrMaxConnections).IsDefined(), "Expected max-connections to be discarded")
	assert.Equal(t, model.Int(443), out.Param(AttrRedirectPort))
	assert.False(t, op.Param(AttrRedirectPort).IsDefined(), "Expected the input operation to be left alone")

	expr := engine.NewAdd(ConnectorAddress("http"), map[string]model.Value{
		AttrProtocol:      model.String("HTTP/1.1"),
		AttrSocketBinding: model.Expression("${web.binding:http}"),
	})
	_, err = r.TransformOperation(v111, expr)
	assertIncompatible(t, err)

	out, err = r.TransformOperation(v120, expr)
	require.NoError(t, err)
	assert.True(t, out.Param(AttrSocketBinding).IsExpression())
}

func TestTransformers_RedirectPortUndefine(t *testing.T) {
	r := NewTransformers()
	op := engine.NewUndefineAttribute(ConnectorAddress("http"), AttrRedirectPort)
	op.Headers.Verify = true

	out, err := r.TransformOperation(v111, op)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, engine.OpWriteAttribute, out.Name)
	assert.Equal(t, model.Int(443), out.Param(engine.ParamValue))
	assert.Equal(t, op.ID, out.ID)
	assert.True(t, out.Headers.Verify)

	out, err = r.TransformOperation(v111, engine.NewWriteAttribute(ConnectorAddress("http"), AttrMaxConnections, model.Int(5)))
	require.NoError(t, err)
	assert.Nil(t, out, "Expected max-connections writes to be discarded")
}

func TestTransformers_Valve(t *testing.T) {
	r := NewTransformers()
	op := engine.NewAdd(ValveAddress("dumper"), attrs(AttrModule, "m", AttrClassName, "c"))

	for _, v := range []transform.Version{v110, v111} {
		_, err := r.TransformOperation(v, op)
		assertIncompatible(t, err)
	}
	out, err := r.TransformOperation(v120, op)
	require.NoError(t, err)
	assert.Equal(t, op.Address, out.Address)
}

func TestTransformers_SessionTimeout(t *testing.T) {
	r := NewTransformers()
	for _, v := range []transform.Version{v110, v120, v140, v200} {
		_, err := r.TransformOperation(v, engine.NewWriteAttribute(SubsystemAddress, AttrDefaultSessionTime, model.Int(60)))
		assertIncompatible(t, err)

		out, err := r.TransformOperation(v, engine.NewWriteAttribute(SubsystemAddress, AttrDefaultSessionTime, model.Int(30)))
		require.NoError(t, err)
		assert.Nil(t, out, "Expected the default timeout to be discarded for %s", v)
	}
}

func TestTransformers_SSL(t *testing.T) {
	r := NewTransformers()
	ssl := ConnectorAddress("https").Append(SSLElement)
	noCipher := engine.NewAdd(ssl, attrs(AttrKeyAlias, "k"))

	_, err := r.TransformOperation(v120, noCipher)
	assertIncompatible(t, err)

	out, err := r.TransformOperation(v140, noCipher)
	require.NoError(t, err)
	assert.Equal(t, ssl, out.Address)

	out, err = r.TransformOperation(v111, engine.NewAdd(ssl, attrs(AttrKeyAlias, "k", AttrCipherSuite, "ALL")))
	require.NoError(t, err)
	assert.Equal(t, ConnectorAddress("https").Append(sslAlias), out.Address)

	_, err = r.TransformOperation(v120, engine.NewAdd(ssl, attrs(AttrCipherSuite, "ALL", AttrSSLProtocol, "TLSv1.2")))
	assertIncompatible(t, err)
}

func TestTransformers_Bindings(t *testing.T) {
	r := NewTransformers()
	op := engine.NewAdd(ConnectorAddress("http"), attrs(
		AttrProtocol, "HTTP/1.1",
		AttrSocketBinding, "http",
		AttrRedirectBinding, "https",
	))
	_, err := r.TransformOperation(v200, op)
	assertIncompatible(t, err)

	out, err := r.TransformOperation(v140, op)
	require.NoError(t, err)
	assert.Equal(t, model.String("https"), out.Param(AttrRedirectBinding))
}

func TestTransformers_Composite(t *testing.T) {
	r := NewTransformers()
	op := engine.NewComposite(
		engine.NewWriteAttribute(ConnectorAddress("http"), AttrMaxConnections, model.Int(5)),
		engine.NewWriteAttribute(ConnectorAddress("http"), AttrScheme, model.String("https")),
	)
	out, err := r.TransformOperation(v111, op)
	require.NoError(t, err)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, AttrScheme, out.Steps[0].AttributeName())
}

func TestTransformers_Resource(t *testing.T) {
	e := newEnv(t, envConfig{admin: true})
	e.exec(t, engine.NewComposite(
		engine.NewAdd(SubsystemAddress, nil),
		engine.NewAdd(ConnectorAddress("http"), attrs(
			AttrProtocol, "HTTP/1.1",
			AttrSocketBinding, "http",
			AttrMaxConnections, 50,
		)),
		engine.NewAdd(ConnectorAddress("http").Append(SSLElement), attrs(
			AttrName, "ssl",
			AttrKeyAlias, "server",
			AttrCipherSuite, "ALL",
		)),
	))
	res, err := e.tree.Get(SubsystemAddress)
	require.NoError(t, err)

	r := NewTransformers()
	v, err := r.TransformResource(v111, res)
	require.NoError(t, err)

	conn := v.Get("connector").Get("http")
	assert.False(t, conn.Get(AttrMaxConnections).IsDefined())
	assert.Equal(t, model.Int(443), conn.Get(AttrRedirectPort))

	ssl := conn.Get("ssl").Get("configuration")
	require.True(t, ssl.IsDefined(), "Expected ssl under its legacy address, got %s", conn)
	assert.Equal(t, model.String("server"), ssl.Get(AttrKeyAlias))
	assert.False(t, ssl.Get(AttrName).IsDefined(), "Expected the default ssl name to be dropped")
	assert.True(t, v.Get("configuration").Get("jsp").IsDefined())

	e.exec(t, engine.NewAdd(ValveAddress("dumper"), attrs(AttrModule, "m", AttrClassName, "c")))
	res, err = e.tree.Get(SubsystemAddress)
	require.NoError(t, err)
	_, err = r.TransformResource(v111, res)
	assertIncompatible(t, err)
}
