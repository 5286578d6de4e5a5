package config

import (
	"context"
	"strings"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry(cuecontext.New())

	err := sr.RegisterSchema("custom", `
#Schema: {
	name:  string
	port?: int & >0
}
`)
	require.NoError(t, err)

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("Expected to find custom schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}
	assert.Equal(t, []string{"custom"}, sr.ListSchemas())

	ctx := context.Background()
	assert.NoError(t, sr.ValidateAgainstSchema(ctx, "custom", map[string]any{"name": "web", "port": 8080}))
	assert.Error(t, sr.ValidateAgainstSchema(ctx, "custom", map[string]any{"name": "web", "port": -1}))
	assert.Error(t, sr.ValidateAgainstSchema(ctx, "custom", map[string]any{"name": "web", "colour": "red"}))
	assert.Error(t, sr.ValidateAgainstSchema(ctx, "missing", map[string]any{}))
}

func TestSchemaRegistry_RegisterInvalid(t *testing.T) {
	sr := NewSchemaRegistry(cuecontext.New())
	assert.Error(t, sr.RegisterSchema("broken", "#Schema: {"))
	assert.Error(t, sr.RegisterSchema("nodef", "name: string"))
}

func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema(webRoot())

	for _, want := range []string{
		`"subsystem"?: {`,
		`"web"?: {`,
		`"connector"?: {`,
		`[string]: {`,
		`"socket-binding"?: string | null`,
		`"max-connections"?: int | #Expression | null`,
		`"ssl"?: {`,
	} {
		if !strings.Contains(schema, want) {
			t.Errorf("Expected schema to contain %s", want)
		}
	}

	sr := NewSchemaRegistry(cuecontext.New())
	require.NoError(t, sr.RegisterSchema(documentSchema, schema))
}
