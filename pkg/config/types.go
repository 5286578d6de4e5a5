package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/telemetry"
)

// Node is one resource declared in a subsystem document.
type Node struct {
	Element    model.PathElement
	Attributes map[string]model.Value
	Children   []*Node

	// Pos is where the resource was declared, as "file:line:column".
	Pos string
}

// Document is a parsed subsystem document: the resources below the root, in
// declaration order.
type Document struct {
	Sources   []string
	Resources []*Node
}

// Operations returns one ADD per declared resource, parents before their
// children and siblings in declaration order.
func (d *Document) Operations() []*engine.Operation {
	var ops []*engine.Operation
	var walk func(parent model.Address, n *Node)
	walk = func(parent model.Address, n *Node) {
		addr := parent.Append(n.Element)
		attrs := make(map[string]model.Value, len(n.Attributes))
		for k, v := range n.Attributes {
			attrs[k] = v
		}
		ops = append(ops, engine.NewAdd(addr, attrs))
		for _, c := range n.Children {
			walk(addr, c)
		}
	}
	for _, n := range d.Resources {
		walk(model.RootAddress, n)
	}
	return ops
}

// Composite wraps Operations in a single composite operation so that the
// document is applied, and rolled back, as a unit.
func (d *Document) Composite() *engine.Operation {
	return engine.NewComposite(d.Operations()...)
}

// ValidationError is a problem found while reading a document.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ParseError collects every problem found in a document.
type ParseError struct {
	Errors []ValidationError
}

func (e *ParseError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("invalid document: %s", strings.Join(msgs, "; "))
}

// Daemon is the configuration of a webplane server process.
type Daemon struct {
	// Mode is the running mode of the operation engine.
	Mode engine.RunningMode `mapstructure:"mode" yaml:"mode" validate:"required,oneof=normal admin-only"`

	// Document is the subsystem document applied at boot.
	Document string `mapstructure:"document" yaml:"document,omitempty"`

	// SocketBindings maps binding names to host:port.
	SocketBindings map[string]string `mapstructure:"socket_bindings" yaml:"socket_bindings,omitempty" validate:"dive,keys,required,endkeys,hostname_port"`

	// Paths maps path names to directories.
	Paths map[string]string `mapstructure:"paths" yaml:"paths,omitempty" validate:"dive,keys,required,endkeys,required"`

	// Properties resolve the ${...} expressions of the document.
	Properties map[string]string `mapstructure:"properties" yaml:"properties,omitempty"`

	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`

	// PolicyDir holds custom Rego policies; empty uses the built-in ones.
	PolicyDir string `mapstructure:"policy_dir" yaml:"policy_dir,omitempty" validate:"omitempty,dir"`

	Scripts []ScriptConfig `mapstructure:"scripts" yaml:"scripts,omitempty" validate:"dive"`

	VerifyTimeout time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout" validate:"gte=0"`

	// Watch re-converges the live tree when the document changes.
	Watch bool `mapstructure:"watch" yaml:"watch"`

	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`
}

// JournalConfig configures the operation journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" validate:"required_if=Enabled true"`
}

// ScriptConfig declares a custom operation implemented in Starlark.
type ScriptConfig struct {
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Address is the resource pattern the operation is registered on, for
	// example /subsystem=web/connector=*.
	Address string `mapstructure:"address" yaml:"address" validate:"required,startswith=/"`

	File   string `mapstructure:"file" yaml:"file,omitempty" validate:"required_without=Source"`
	Source string `mapstructure:"source" yaml:"source,omitempty" validate:"required_without=File"`
}
