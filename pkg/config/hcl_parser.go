package config

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/openfroyo/webplane/pkg/model"
)

// HCLParser reads subsystem documents written in HCL. Resources are blocks
// labelled with their name:
//
//	subsystem "web" {
//	  connector "http" {
//	    protocol       = "HTTP/1.1"
//	    socket-binding = "http"
//	  }
//	}
//
// Expressions are written with an escaped template, "$${name:default}".
type HCLParser struct {
	root *model.ResourceDefinition
	opts options
}

// NewHCLParser creates a parser for documents below root.
func NewHCLParser(root *model.ResourceDefinition, opts ...Option) *HCLParser {
	return &HCLParser{root: root, opts: newOptions(opts)}
}

// Parse reads the file at path.
func (hp *HCLParser) Parse(path string) (*Document, error) {
	data, err := readSource(path)
	if err != nil {
		return nil, err
	}
	return hp.ParseInline(string(data), path)
}

// ParseInline reads document content; filename is used in positions.
func (hp *HCLParser) ParseInline(content, filename string) (*Document, error) {
	file, diags := hclparse.NewParser().ParseHCL([]byte(content), filename)
	if diags.HasErrors() {
		return nil, &ParseError{Errors: convertDiagnostics(diags)}
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("unexpected HCL body type %T", file.Body)
	}

	b := &builder{opts: hp.opts}
	if len(body.Attributes) > 0 {
		for _, a := range sortedAttributes(body) {
			b.unknownField(hp.root, model.RootAddress, a.Name, hclPos(a.SrcRange))
		}
	}
	nodes := hp.blocks(b, hp.root, model.RootAddress, body.Blocks)
	return b.document([]string{filename}, nodes)
}

func (hp *HCLParser) blocks(b *builder, def *model.ResourceDefinition, addr model.Address, blocks hclsyntax.Blocks) []*Node {
	var out []*Node
	for _, blk := range blocks {
		pos := hclPos(blk.DefRange())
		if b.classify(def, blk.Type) != fieldChildren {
			b.unknownField(def, addr, blk.Type, pos)
			continue
		}
		if len(blk.Labels) != 1 {
			b.fail(pos, addr.String(), "block %s needs exactly one label, the resource name", blk.Type)
			continue
		}
		if n := hp.node(b, def, addr, model.Element(blk.Type, blk.Labels[0]), blk.Body, pos); n != nil {
			out = append(out, n)
		}
	}
	return out
}

func (hp *HCLParser) node(b *builder, parent *model.ResourceDefinition, parentAddr model.Address, e model.PathElement, body *hclsyntax.Body, pos string) *Node {
	def := b.child(parent, parentAddr, e, pos)
	if def == nil {
		return nil
	}
	addr := parentAddr.Append(e)
	n := &Node{Element: e, Attributes: make(map[string]model.Value), Pos: pos}

	for _, a := range sortedAttributes(body) {
		apos := hclPos(a.SrcRange)
		if b.classify(def, a.Name) != fieldAttribute {
			b.unknownField(def, addr, a.Name, apos)
			continue
		}
		cv, diags := a.Expr.Value(nil)
		if diags.HasErrors() {
			b.errs = append(b.errs, convertDiagnostics(diags)...)
			continue
		}
		v, err := ctyToValue(cv)
		if err != nil {
			b.fail(apos, addr.String(), "attribute %s: %v", a.Name, err)
			continue
		}
		n.Attributes[a.Name] = v
	}
	n.Children = hp.blocks(b, def, addr, body.Blocks)
	return n
}

// sortedAttributes returns the attributes of body in source order.
func sortedAttributes(body *hclsyntax.Body) []*hclsyntax.Attribute {
	out := make([]*hclsyntax.Attribute, 0, len(body.Attributes))
	for _, a := range body.Attributes {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SrcRange.Start.Byte < out[j].SrcRange.Start.Byte })
	return out
}

func ctyToValue(v cty.Value) (model.Value, error) {
	if v.IsNull() {
		return model.Null(), nil
	}
	if !v.IsWhollyKnown() {
		return model.Value{}, fmt.Errorf("value is not known")
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return model.FromInterface(v.AsString())
	case t == cty.Bool:
		return model.Bool(v.True()), nil
	case t == cty.Number:
		bf := v.AsBigFloat()
		if !bf.IsInt() {
			return model.Value{}, fmt.Errorf("non-integral number %s is not supported", bf.Text('g', -1))
		}
		i, acc := bf.Int64()
		if acc != big.Exact {
			return model.Value{}, fmt.Errorf("integer %s overflows", bf.Text('f', 0))
		}
		return model.Int(i), nil
	case t.IsListType() || t.IsTupleType() || t.IsSetType():
		var out []model.Value
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			e, err := ctyToValue(ev)
			if err != nil {
				return model.Value{}, err
			}
			out = append(out, e)
		}
		return model.List(out...), nil
	case t.IsObjectType() || t.IsMapType():
		out := make(map[string]model.Value)
		for k, ev := range v.AsValueMap() {
			e, err := ctyToValue(ev)
			if err != nil {
				return model.Value{}, err
			}
			out[k] = e
		}
		return model.Object(out), nil
	}
	return model.Value{}, fmt.Errorf("unsupported value of type %s", t.FriendlyName())
}

func hclPos(r hcl.Range) string {
	return fmt.Sprintf("%s:%d:%d", r.Filename, r.Start.Line, r.Start.Column)
}

func convertDiagnostics(diags hcl.Diagnostics) []ValidationError {
	var out []ValidationError
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		ve := ValidationError{Message: d.Summary, Severity: "error"}
		if d.Detail != "" {
			ve.Message += ": " + d.Detail
		}
		if d.Subject != nil {
			ve.File = d.Subject.Filename
			ve.Line = d.Subject.Start.Line
			ve.Column = d.Subject.Start.Column
		}
		out = append(out, ve)
	}
	return out
}
