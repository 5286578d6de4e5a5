package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/webplane/pkg/engine"
)

func writeDaemon(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "webplane.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDaemon_Defaults(t *testing.T) {
	d, err := LoadDaemon("")
	require.NoError(t, err)

	assert.Equal(t, engine.ModeNormal, d.Mode)
	assert.Equal(t, "0.0.0.0:8080", d.SocketBindings["http"])
	assert.True(t, d.Journal.Enabled)
	assert.Equal(t, "/var/log/webplane", d.Paths["server.log.dir"])
	assert.Equal(t, engine.DefaultVerifyTimeout, d.VerifyTimeoutOrDefault())
}

func TestLoadDaemon_File(t *testing.T) {
	path := writeDaemon(t, `
mode: admin-only
document: /etc/webplane/web.cue
socket_bindings:
  ajp: 127.0.0.1:8009
paths:
  server.log.dir: /srv/log
properties:
  web.binding: ajp
verify_timeout: 10s
journal:
  enabled: false
scripts:
  - name: touch
    address: /subsystem=web
    source: result = 1
`)
	d, err := LoadDaemon(path)
	require.NoError(t, err)

	assert.Equal(t, engine.ModeAdminOnly, d.Mode)
	assert.Equal(t, "/etc/webplane/web.cue", d.Document)
	assert.Equal(t, "127.0.0.1:8009", d.SocketBindings["ajp"])
	assert.Equal(t, "ajp", d.Properties["web.binding"])
	assert.Equal(t, "/srv/log", d.Paths["server.log.dir"])
	assert.Equal(t, 10*time.Second, d.VerifyTimeout)
	assert.False(t, d.Journal.Enabled)
	require.Len(t, d.Scripts, 1)
	assert.Equal(t, "touch", d.Scripts[0].Name)
}

func TestLoadDaemon_Environment(t *testing.T) {
	t.Setenv("WEBPLANE_VERIFY_TIMEOUT", "5s")
	t.Setenv("WEBPLANE_JOURNAL_PATH", "/var/lib/webplane/journal.db")

	d, err := LoadDaemon("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d.VerifyTimeout)
	assert.Equal(t, "/var/lib/webplane/journal.db", d.Journal.Path)
}

func TestLoadDaemon_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown mode", "mode: sideways\n"},
		{"bad socket binding", "socket_bindings:\n  ajp: nohostport\n"},
		{"journal without path", "journal:\n  enabled: true\n  path: \"\"\n"},
		{"missing policy dir", "policy_dir: /does/not/exist\n"},
		{"script without source", "scripts:\n  - name: touch\n    address: /subsystem=web\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDaemon(writeDaemon(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadDaemon(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRenderDaemon(t *testing.T) {
	d := DefaultDaemon()
	d.Mode = engine.ModeAdminOnly
	d.Properties = map[string]string{"web.max": "200"}

	out, err := RenderDaemon(d)
	require.NoError(t, err)
	assert.Contains(t, string(out), "mode: admin-only")

	path := writeDaemon(t, string(out))
	loaded, err := LoadDaemon(path)
	require.NoError(t, err)
	assert.Equal(t, d.Mode, loaded.Mode)
	assert.Equal(t, d.SocketBindings, loaded.SocketBindings)
	assert.Equal(t, "200", loaded.Properties["web.max"])
	assert.Equal(t, d.VerifyTimeout, loaded.VerifyTimeout)
}
