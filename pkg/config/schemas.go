package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"

	"github.com/openfroyo/webplane/pkg/model"
)

// SchemaRegistry holds named CUE schemas. Every schema source defines a
// #Schema definition that documents are unified with.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates an empty registry compiling into ctx.
func NewSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	return &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}
}

// RegisterSchema compiles schema and stores its #Schema definition under
// name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.MakePath(cue.Def("Schema")))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define #Schema", name)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateValue unifies val with the named schema and requires the result
// to be concrete.
func (sr *SchemaRegistry) ValidateValue(name string, val cue.Value) error {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}
	return schema.Unify(val).Validate(cue.Concrete(true))
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, name string, data any) error {
	val := sr.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if err := sr.ValidateValue(name, val); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns the registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GenerateSchema renders the shape of documents below root as CUE. The
// result is closed: unknown attributes and children fail validation.
// Attribute types are checked loosely since every scalar may also be an
// expression; requiredness and ranges are left to the resource model.
func GenerateSchema(root *model.ResourceDefinition) string {
	var b strings.Builder
	b.WriteString("#Expression: string & =~\"\\\\$\\\\{.*\\\\}\"\n\n#Schema: ")
	writeResource(&b, root, 0)
	b.WriteString("\n")
	return b.String()
}

func writeResource(b *strings.Builder, def *model.ResourceDefinition, depth int) {
	indent := strings.Repeat("\t", depth+1)
	b.WriteString("{\n")
	for _, a := range def.Attributes() {
		fmt.Fprintf(b, "%s%q?: %s\n", indent, a.Name, cueType(a.Type))
	}
	for _, typ := range def.ChildTypes() {
		fmt.Fprintf(b, "%s%q?: {\n", indent, typ)
		for _, c := range def.Children() {
			if c.Element.Type != typ {
				continue
			}
			b.WriteString(indent + "\t")
			if c.Element.IsWildcard() {
				b.WriteString("[string]: ")
			} else {
				fmt.Fprintf(b, "%q?: ", c.Element.Name)
			}
			writeResource(b, c, depth+1)
			b.WriteString("\n")
		}
		b.WriteString(indent + "}\n")
	}
	b.WriteString(strings.Repeat("\t", depth) + "}")
}

func cueType(t model.Type) string {
	switch t {
	case model.TypeString:
		return "string | null"
	case model.TypeInt:
		return "int | #Expression | null"
	case model.TypeBool:
		return "bool | #Expression | null"
	case model.TypeList:
		return "[...] | null"
	case model.TypeObject:
		return "{...} | null"
	}
	return "_"
}
