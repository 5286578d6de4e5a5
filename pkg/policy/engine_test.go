package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/web"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	pe, err := NewEngine(context.Background(), opts...)
	require.NoError(t, err)
	return pe
}

func request(user string, roles []string, op string, addr model.Address, readOnly bool, constraints ...string) engine.AccessRequest {
	return engine.AccessRequest{
		Caller:      engine.Caller{User: user, Roles: roles},
		Operation:   op,
		Address:     addr,
		Constraints: constraints,
		ReadOnly:    readOnly,
	}
}

func TestNewEngine_Builtins(t *testing.T) {
	pe := newTestEngine(t)

	policies := pe.ListPolicies()
	require.Len(t, policies, 2)
	assert.Equal(t, "monitor_read_only", policies[0].Name)
	assert.Equal(t, "sensitive_targets", policies[1].Name)
	for _, p := range policies {
		assert.True(t, p.Builtin)
		assert.True(t, p.Enabled)
	}
}

func TestEvaluate_BuiltinPolicies(t *testing.T) {
	pe := newTestEngine(t)
	conn := web.ConnectorAddress("http")

	tests := []struct {
		name    string
		req     engine.AccessRequest
		allowed bool
		denials []string
	}{
		{
			name:    "administrator writes connector",
			req:     request("alice", []string{RoleAdministrator}, engine.OpWriteAttribute, conn, false, web.ConstraintConnector),
			allowed: true,
		},
		{
			name:    "superuser role is case insensitive",
			req:     request("alice", []string{"superuser"}, engine.OpRemove, conn, false, web.ConstraintConnector),
			allowed: true,
		},
		{
			name:    "operator writes connector",
			req:     request("bob", []string{RoleOperator}, engine.OpWriteAttribute, conn, false, web.ConstraintConnector),
			denials: []string{"sensitive_targets"},
		},
		{
			name:    "operator writes subsystem",
			req:     request("bob", []string{RoleOperator}, engine.OpWriteAttribute, web.SubsystemAddress, false),
			allowed: true,
		},
		{
			name:    "operator reads connector",
			req:     request("bob", []string{RoleOperator}, engine.OpReadResource, conn, true, web.ConstraintConnector),
			allowed: true,
		},
		{
			name:    "monitor writes subsystem",
			req:     request("carol", []string{RoleMonitor}, engine.OpWriteAttribute, web.SubsystemAddress, false),
			denials: []string{"monitor_read_only"},
		},
		{
			name:    "monitor writes connector",
			req:     request("carol", []string{RoleMonitor}, engine.OpAdd, conn, false, web.ConstraintConnector),
			denials: []string{"monitor_read_only", "sensitive_targets"},
		},
		{
			name:    "monitor reads",
			req:     request("carol", []string{RoleMonitor, RoleAuditor}, engine.OpReadAttribute, conn, true, web.ConstraintConnector),
			allowed: true,
		},
		{
			name:    "user without roles writes",
			req:     request("dave", nil, engine.OpWriteAttribute, web.SubsystemAddress, false),
			denials: []string{"monitor_read_only"},
		},
		{
			name:    "internal caller",
			req:     request("", nil, engine.OpRemove, conn, false, web.ConstraintConnector),
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := pe.Evaluate(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, []string{"monitor_read_only", "sensitive_targets"}, d.EvaluatedPolicies)

			var got []string
			for _, den := range d.Denials {
				got = append(got, den.Policy)
				assert.NotEmpty(t, den.Message)
			}
			assert.Equal(t, tt.denials, got)
		})
	}
}

func TestAuthorize_Denied(t *testing.T) {
	var hooked []string
	pe := newTestEngine(t, WithDenyHook(func(req engine.AccessRequest, reason string) {
		hooked = append(hooked, req.Operation+": "+reason)
	}))

	conn := web.ConnectorAddress("https")
	err := pe.Authorize(context.Background(),
		request("bob", []string{RoleOperator}, engine.OpRemove, conn, false, web.ConstraintConnector))
	require.Error(t, err)

	assert.Equal(t, errdefs.ClassSecurity, errdefs.ClassOf(err))
	assert.Equal(t, errdefs.CodeAccessDenied, errdefs.CodeOf(err))
	var e *errdefs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, conn.String(), e.Address)
	assert.Equal(t, engine.OpRemove, e.Operation)
	assert.Contains(t, err.Error(), "requires the Administrator role")

	require.Len(t, hooked, 1)
	assert.Contains(t, hooked[0], "remove: ")

	assert.NoError(t, pe.Authorize(context.Background(),
		request("alice", []string{RoleAdministrator}, engine.OpRemove, conn, false, web.ConstraintConnector)))
	assert.Len(t, hooked, 1)
}

func TestAuthorize_Controller(t *testing.T) {
	pe := newTestEngine(t)
	root := model.NewRootDefinition()
	defs := web.NewDefinitions(root)
	ctrl := engine.NewController(model.NewTree(root),
		engine.WithRunningMode(engine.ModeAdminOnly),
		engine.WithAuthorizer(pe),
	)
	web.Register(ctrl, defs, nil)
	ctx := context.Background()

	_, err := ctrl.Execute(ctx, engine.NewAdd(web.SubsystemAddress, nil))
	require.NoError(t, err)

	add := engine.NewAdd(web.ConnectorAddress("http"), map[string]model.Value{
		"socket-binding": model.String("http"),
	})
	add.Headers.Caller = engine.Caller{User: "bob", Roles: []string{RoleOperator}}
	res, err := ctrl.Execute(ctx, add)
	require.Error(t, err)
	assert.Equal(t, errdefs.CodeAccessDenied, errdefs.CodeOf(err))
	if res != nil {
		assert.Equal(t, engine.OutcomeFailed, res.Outcome)
	}
	_, err = ctrl.Tree().Get(web.ConnectorAddress("http"))
	assert.Error(t, err, "Expected the connector not to be created")

	add.Headers.Caller.Roles = []string{RoleAdministrator}
	_, err = ctrl.Execute(ctx, add)
	require.NoError(t, err)

	read := engine.NewReadResource(web.ConnectorAddress("http"))
	read.Headers.Caller = engine.Caller{User: "carol", Roles: []string{RoleMonitor}}
	_, err = ctrl.Execute(ctx, read)
	assert.NoError(t, err)
}

func TestEngine_CustomPolicyDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "no_ajp.rego"), `# Forbid AJP connectors.
package custom.no_ajp

import rego.v1

deny contains {"message": "ajp connectors are forbidden"} if {
	input.operation == "add"
	some e in input.elements
	e.type == "connector"
	e.name == "ajp"
}
`)

	pe := newTestEngine(t, WithPaths(dir))

	p, err := pe.GetPolicy("no_ajp")
	require.NoError(t, err)
	assert.Equal(t, "Forbid AJP connectors.", p.Description)
	assert.Equal(t, filepath.Join(dir, "no_ajp.rego"), p.Source)
	assert.False(t, p.Builtin)

	d, err := pe.Evaluate(context.Background(),
		request("", nil, engine.OpAdd, web.ConnectorAddress("ajp"), false, web.ConstraintConnector))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.Len(t, d.Denials, 1)
	assert.Equal(t, Denial{Policy: "no_ajp", Message: "ajp connectors are forbidden"}, d.Denials[0])

	d, err = pe.Evaluate(context.Background(),
		request("", nil, engine.OpAdd, web.ConnectorAddress("http"), false, web.ConstraintConnector))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestEngine_FilePolicyReplacesBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "policy.json"), `{
  "name": "monitor_read_only",
  "description": "monitors may do anything",
  "enabled": true,
  "rego": "package webplane.relaxed\n\nimport rego.v1\n\ndeny contains msg if {\n\tfalse\n\tmsg := \"never\"\n}\n"
}`)

	pe := newTestEngine(t, WithPaths(dir))
	p, err := pe.GetPolicy("monitor_read_only")
	require.NoError(t, err)
	assert.False(t, p.Builtin)
	assert.Equal(t, "monitors may do anything", p.Description)

	assert.NoError(t, pe.Authorize(context.Background(),
		request("carol", []string{RoleMonitor}, engine.OpWriteAttribute, web.SubsystemAddress, false)))
}

func TestEngine_InvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.rego"), "package broken\n\ndeny contains msg if {\n")

	_, err := NewEngine(context.Background(), WithPaths(dir))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	_, err = NewEngine(context.Background(), WithPaths(filepath.Join(dir, "missing")))
	assert.Error(t, err)
}

func TestEngine_EnableDisable(t *testing.T) {
	pe := newTestEngine(t)
	req := request("carol", []string{RoleMonitor}, engine.OpWriteAttribute, web.SubsystemAddress, false)

	require.Error(t, pe.Authorize(context.Background(), req))

	require.NoError(t, pe.DisablePolicy("monitor_read_only"))
	assert.NoError(t, pe.Authorize(context.Background(), req))

	d, err := pe.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"sensitive_targets"}, d.EvaluatedPolicies)

	// a reload keeps the policy disabled
	require.NoError(t, pe.ReloadPolicies(context.Background()))
	assert.NoError(t, pe.Authorize(context.Background(), req))

	require.NoError(t, pe.EnablePolicy("monitor_read_only"))
	assert.Error(t, pe.Authorize(context.Background(), req))

	assert.Error(t, pe.EnablePolicy("unknown"))
	_, err = pe.GetPolicy("unknown")
	assert.Error(t, err)
}

func TestEngine_Watch(t *testing.T) {
	dir := t.TempDir()
	pe := newTestEngine(t, WithPaths(dir))
	pe.loader.ReloadDelay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pe.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	req := request("", nil, engine.OpWriteAttribute, web.SubsystemAddress, false)
	require.NoError(t, pe.Authorize(context.Background(), req))

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "freeze.rego"), `package custom.freeze

import rego.v1

deny contains "the model is frozen" if {
	not input.read_only
}
`)

	assert.Eventually(t, func() bool {
		return pe.Authorize(context.Background(), req) != nil
	}, 5*time.Second, 20*time.Millisecond, "Expected the new policy to be loaded")

	require.NoError(t, os.Remove(filepath.Join(dir, "freeze.rego")))
	assert.Eventually(t, func() bool {
		return pe.Authorize(context.Background(), req) == nil
	}, 5*time.Second, 20*time.Millisecond, "Expected the removed policy to be unloaded")
}

func TestNewInput(t *testing.T) {
	roles := []string{RoleOperator}
	in := NewInput(request("bob", roles, engine.OpAdd, web.ConnectorAddress("http"), false, web.ConstraintConnector))
	roles[0] = "changed"

	assert.Equal(t, CallerInput{User: "bob", Roles: []string{RoleOperator}}, in.Caller)
	assert.Equal(t, "/subsystem=web/connector=http", in.Address)
	assert.Equal(t, []ElementInput{{Type: "subsystem", Name: "web"}, {Type: "connector", Name: "http"}}, in.Elements)
	assert.Equal(t, []string{web.ConstraintConnector}, in.Constraints)

	empty := NewInput(engine.AccessRequest{})
	assert.NotNil(t, empty.Caller.Roles)
	assert.NotNil(t, empty.Constraints)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
