package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"

	"github.com/openfroyo/webplane/pkg/model"
)

// documentSchema is the name the document shape is registered under.
const documentSchema = "document"

// CUEParser reads subsystem documents written in CUE or JSON. Documents
// nest resources as type: name: {attributes and children}, for example
//
//	subsystem: web: connector: http: {
//		protocol:         "HTTP/1.1"
//		"socket-binding": "http"
//	}
type CUEParser struct {
	ctx     *cue.Context
	root    *model.ResourceDefinition
	schemas *SchemaRegistry
	opts    options
}

// NewCUEParser creates a parser for documents below root. The document
// shape is derived from the resource definitions.
func NewCUEParser(root *model.ResourceDefinition, opts ...Option) (*CUEParser, error) {
	ctx := cuecontext.New()
	cp := &CUEParser{
		ctx:     ctx,
		root:    root,
		schemas: NewSchemaRegistry(ctx),
		opts:    newOptions(opts),
	}
	if err := cp.schemas.RegisterSchema(documentSchema, GenerateSchema(root)); err != nil {
		return nil, err
	}
	return cp, nil
}

// Schemas returns the parser's schema registry.
func (cp *CUEParser) Schemas() *SchemaRegistry { return cp.schemas }

// Parse reads a file or, for a directory, the CUE package it holds.
func (cp *CUEParser) Parse(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", path, err)
	}
	if info.IsDir() {
		val, files, errs := cp.loadDirectory(path)
		if len(errs) > 0 {
			return nil, &ParseError{Errors: errs}
		}
		return cp.extract(val, files)
	}
	data, err := readSource(path)
	if err != nil {
		return nil, err
	}
	return cp.ParseInline(string(data), path)
}

// ParseInline reads document content; filename is used in positions.
func (cp *CUEParser) ParseInline(content, filename string) (*Document, error) {
	val := cp.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &ParseError{Errors: convertCUEErrors(err)}
	}
	return cp.extract(val, []string{filename})
}

func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return cue.Value{}, nil, []ValidationError{{File: dir, Message: "no CUE files found", Severity: "error"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, convertCUEErrors(inst.Err)
	}
	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, convertCUEErrors(err)
	}
	var files []string
	for _, f := range inst.Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	return val, files, nil
}

func (cp *CUEParser) extract(val cue.Value, sources []string) (*Document, error) {
	if err := cp.schemas.ValidateValue(documentSchema, val); err != nil {
		return nil, &ParseError{Errors: convertCUEErrors(err)}
	}

	b := &builder{opts: cp.opts}
	nodes := cp.children(b, cp.root, model.RootAddress, val)
	return b.document(sources, nodes)
}

// children reads the child resources of the resource at addr from the
// fields of val, skipping its attributes.
func (cp *CUEParser) children(b *builder, def *model.ResourceDefinition, addr model.Address, val cue.Value) []*Node {
	var out []*Node
	types, err := val.Fields()
	if err != nil {
		b.fail(val.Pos().String(), addr.String(), "expected a struct: %v", err)
		return nil
	}
	for types.Next() {
		key := types.Selector().Unquoted()
		switch b.classify(def, key) {
		case fieldAttribute:
			continue
		case fieldUnknown:
			b.unknownField(def, addr, key, types.Value().Pos().String())
			continue
		}
		named, err := types.Value().Fields()
		if err != nil {
			b.fail(types.Value().Pos().String(), addr.String(), "children of type %s must be a struct keyed by name", key)
			continue
		}
		for named.Next() {
			if n := cp.node(b, def, addr, model.Element(key, named.Selector().Unquoted()), named.Value()); n != nil {
				out = append(out, n)
			}
		}
	}
	return out
}

func (cp *CUEParser) node(b *builder, parent *model.ResourceDefinition, parentAddr model.Address, e model.PathElement, val cue.Value) *Node {
	pos := val.Pos().String()
	def := b.child(parent, parentAddr, e, pos)
	if def == nil {
		return nil
	}
	addr := parentAddr.Append(e)
	n := &Node{Element: e, Attributes: make(map[string]model.Value), Pos: pos}

	fields, err := val.Fields()
	if err != nil {
		b.fail(pos, addr.String(), "resource body must be a struct")
		return nil
	}
	for fields.Next() {
		key := fields.Selector().Unquoted()
		if b.classify(def, key) != fieldAttribute {
			continue
		}
		v, err := cueToValue(fields.Value())
		if err != nil {
			b.fail(fields.Value().Pos().String(), addr.String(), "attribute %s: %v", key, err)
			continue
		}
		n.Attributes[key] = v
	}
	n.Children = cp.children(b, def, addr, val)
	return n
}

// cueToValue converts a concrete CUE value. Strings that look like
// ${...} become expressions.
func cueToValue(v cue.Value) (model.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return model.Null(), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return model.Value{}, err
		}
		return model.Bool(b), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return model.Value{}, err
		}
		return model.Int(i), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return model.Value{}, err
		}
		return model.FromInterface(s)
	case cue.ListKind:
		it, err := v.List()
		if err != nil {
			return model.Value{}, err
		}
		var out []model.Value
		for it.Next() {
			e, err := cueToValue(it.Value())
			if err != nil {
				return model.Value{}, err
			}
			out = append(out, e)
		}
		return model.List(out...), nil
	case cue.StructKind:
		it, err := v.Fields()
		if err != nil {
			return model.Value{}, err
		}
		out := make(map[string]model.Value)
		for it.Next() {
			e, err := cueToValue(it.Value())
			if err != nil {
				return model.Value{}, err
			}
			out[it.Selector().Unquoted()] = e
		}
		return model.Object(out), nil
	}
	return model.Value{}, fmt.Errorf("unsupported value of kind %s", v.Kind())
}

func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil), Severity: "error"}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = strings.Join(path, ".")
		}
		out = append(out, ve)
	}
	return out
}
