package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/web"
)

const webHCL = `
subsystem "web" {
  default-virtual-server = "default-host"
  native                 = false

  connector "http" {
    protocol       = "HTTP/1.1"
    socket-binding = "$${web.binding:http}"
    max-post-size  = 1048576
  }

  virtual-server "default-host" {
    alias = ["localhost"]

    configuration "access-log" {
      prefix = "access."

      setting "directory" {
        path = "logs"
      }
    }
  }

  valve "dumper" {
    module     = "org.example"
    class-name = "org.example.Dumper"
    param = {
      level = "debug"
    }
  }
}
`

func TestHCLParser_ParseInline(t *testing.T) {
	p := NewHCLParser(webRoot())
	doc, err := p.ParseInline(webHCL, "web.hcl")
	require.NoError(t, err)

	ops := doc.Operations()
	assert.Equal(t, []string{
		"/subsystem=web",
		"/subsystem=web/connector=http",
		"/subsystem=web/virtual-server=default-host",
		"/subsystem=web/virtual-server=default-host/configuration=access-log",
		"/subsystem=web/virtual-server=default-host/configuration=access-log/setting=directory",
		"/subsystem=web/valve=dumper",
	}, operationStrings(ops))

	assert.Equal(t, model.Bool(false), ops[0].Param("native"))
	assert.Equal(t, model.Expression("${web.binding:http}"), ops[1].Param("socket-binding"))
	assert.Equal(t, model.Int(1048576), ops[1].Param("max-post-size"))
	assert.Equal(t, model.StringList("localhost"), ops[2].Param("alias"))
	assert.Equal(t, "debug", ops[5].Param("param").Get("level").Text())
}

func TestHCLParser_Invalid(t *testing.T) {
	p := NewHCLParser(webRoot())
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{"syntax", "subsystem \"web\" {", 0},
		{"unknown attribute", "subsystem \"web\" {\n  connector \"http\" {\n    colour = \"red\"\n  }\n}\n", 3},
		{"missing label", "subsystem \"web\" {\n  connector {\n  }\n}\n", 2},
		{"unknown block", "subsystem \"web\" {\n  mailer \"smtp\" {\n  }\n}\n", 2},
		{"fractional number", "subsystem \"web\" {\n  default-session-timeout = 1.5\n}\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseInline(tt.content, "bad.hcl")
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected a ParseError, got %v", err)
			}
			require.NotEmpty(t, pe.Errors)
			if tt.line > 0 {
				assert.Equal(t, "bad.hcl", pe.Errors[0].File)
				assert.Equal(t, tt.line, pe.Errors[0].Line)
			}
		})
	}
}

func TestHCLParser_ReportsEveryProblem(t *testing.T) {
	p := NewHCLParser(webRoot())
	_, err := p.ParseInline(`
subsystem "web" {
  colour = "red"
  connector "http" {
    shape = "round"
  }
}
`, "bad.hcl")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Len(t, pe.Errors, 2)
}

func TestLoad_HCL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "web.hcl")
	require.NoError(t, os.WriteFile(path, []byte(webHCL), 0o644))

	doc, err := Load(webRoot(), path, WithDefaultChildren(web.SubsystemAddress, web.DefaultConfiguration()...))
	require.NoError(t, err)
	assert.Len(t, doc.Operations(), 9)
}
