package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/webplane/pkg/model"
)

// Option configures document parsing.
type Option func(*options)

type options struct {
	defaults []defaultChildren
	logger   zerolog.Logger
}

type defaultChildren struct {
	pattern model.Address
	elems   []model.PathElement
}

func newOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithDefaultChildren adds an empty child resource for each of elems to
// every declared resource matching pattern that does not declare it.
func WithDefaultChildren(pattern model.Address, elems ...model.PathElement) Option {
	return func(o *options) {
		o.defaults = append(o.defaults, defaultChildren{pattern: pattern, elems: elems})
	}
}

// WithLogger sets the parser logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l.With().Str("component", "config").Logger() }
}

// Parser reads subsystem documents.
type Parser interface {
	Parse(path string) (*Document, error)
	ParseInline(content, filename string) (*Document, error)
}

// Load parses the document at path, choosing HCL for .hcl files and CUE
// for everything else, including directories and JSON.
func Load(root *model.ResourceDefinition, path string, opts ...Option) (*Document, error) {
	p, err := ParserFor(root, path, opts...)
	if err != nil {
		return nil, err
	}
	return p.Parse(path)
}

// ParserFor returns the parser for the document at path.
func ParserFor(root *model.ResourceDefinition, path string, opts ...Option) (Parser, error) {
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		return NewHCLParser(root, opts...), nil
	}
	return NewCUEParser(root, opts...)
}

// builder turns document fields into nodes, checking them against the
// resource definitions. Problems are collected rather than returned so that
// one pass reports all of them.
type builder struct {
	opts options
	errs []ValidationError
}

type fieldKind int

const (
	fieldUnknown fieldKind = iota
	fieldAttribute
	fieldChildren
)

func (b *builder) classify(def *model.ResourceDefinition, key string) fieldKind {
	if _, ok := def.Attribute(key); ok {
		return fieldAttribute
	}
	if def.HasChildType(key) {
		return fieldChildren
	}
	return fieldUnknown
}

func (b *builder) fail(pos, path, format string, args ...any) {
	file, line, col := splitPos(pos)
	b.errs = append(b.errs, ValidationError{
		File:     file,
		Line:     line,
		Column:   col,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	})
}

// unknownField reports a key that is neither an attribute nor a child type.
func (b *builder) unknownField(def *model.ResourceDefinition, addr model.Address, key, pos string) {
	b.fail(pos, addr.String(), "unknown attribute or child type %q of %s", key, def.Element)
}

// child resolves the definition of a declared child resource.
func (b *builder) child(def *model.ResourceDefinition, addr model.Address, e model.PathElement, pos string) *model.ResourceDefinition {
	c := def.Child(e)
	if c == nil {
		b.fail(pos, addr.String(), "resource %s is not allowed here", e)
	}
	return c
}

// finish adds the configured default children to n, then recurses.
func (b *builder) finish(parent model.Address, n *Node) {
	addr := parent.Append(n.Element)
	for _, d := range b.opts.defaults {
		if !addr.Matches(d.pattern) {
			continue
		}
		for _, e := range d.elems {
			if hasChild(n, e) {
				continue
			}
			b.opts.logger.Debug().Str("address", addr.Append(e).String()).Msg("Adding default resource")
			n.Children = append(n.Children, &Node{Element: e, Attributes: map[string]model.Value{}, Pos: n.Pos})
		}
	}
	for _, c := range n.Children {
		b.finish(addr, c)
	}
}

func (b *builder) document(sources []string, nodes []*Node) (*Document, error) {
	if len(b.errs) > 0 {
		return nil, &ParseError{Errors: b.errs}
	}
	for _, n := range nodes {
		b.finish(model.RootAddress, n)
	}
	return &Document{Sources: sources, Resources: nodes}, nil
}

func hasChild(n *Node, e model.PathElement) bool {
	for _, c := range n.Children {
		if c.Element == e {
			return true
		}
	}
	return false
}

// splitPos splits "file:line:col" as rendered by the CUE and HCL position
// types. Anything it cannot parse is returned as the file.
func splitPos(pos string) (string, int, int) {
	if pos == "-" {
		return "", 0, 0
	}
	var line, col int
	parts := strings.Split(pos, ":")
	if len(parts) < 3 {
		return pos, 0, 0
	}
	if _, err := fmt.Sscanf(parts[len(parts)-2]+" "+parts[len(parts)-1], "%d %d", &line, &col); err != nil {
		return pos, 0, 0
	}
	return strings.Join(parts[:len(parts)-2], ":"), line, col
}

func readSource(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	return data, nil
}
