package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
)

// ParseOperation reads the command syntax produced by Operation.String:
//
//	/subsystem=web/connector=http:write-attribute(name=scheme,value="https")
//	/subsystem=web/virtual-server=default:add(alias=["localhost"])
//	:read-resource(recursive=true)
//
// Unquoted words are strings; true, false, null, undefined and integers
// keep their kinds.
func ParseOperation(s string) (*Operation, error) {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, ":")
	if idx < 0 {
		return nil, parseError(s, "missing ':' between address and operation")
	}
	addr, err := model.ParseAddress(s[:idx])
	if err != nil {
		return nil, err
	}

	rest := s[idx+1:]
	name := rest
	var params map[string]model.Value
	if open := strings.Index(rest, "("); open >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return nil, parseError(s, "unterminated parameter list")
		}
		name = rest[:open]
		p := &valueParser{src: rest[open+1 : len(rest)-1]}
		params, err = p.params()
		if err != nil {
			return nil, parseError(s, err.Error())
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, parseError(s, "missing operation name")
	}
	return New(name, addr, params), nil
}

// ParseValue reads a single value in command syntax.
func ParseValue(s string) (model.Value, error) {
	p := &valueParser{src: s}
	v, err := p.value()
	if err != nil {
		return model.Value{}, err
	}
	p.skipSpace()
	if !p.done() {
		return model.Value{}, fmt.Errorf("unexpected %q after value", p.src[p.pos:])
	}
	return v, nil
}

func parseError(src, msg string) error {
	return errdefs.Model(errdefs.CodeSchemaViolation, "cannot parse operation %q: %s", src, msg)
}

type valueParser struct {
	src string
	pos int
}

func (p *valueParser) done() bool { return p.pos >= len(p.src) }

func (p *valueParser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *valueParser) skipSpace() {
	for !p.done() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *valueParser) expect(tok string) error {
	p.skipSpace()
	if !strings.HasPrefix(p.src[p.pos:], tok) {
		return fmt.Errorf("expected %q at offset %d", tok, p.pos)
	}
	p.pos += len(tok)
	return nil
}

func (p *valueParser) params() (map[string]model.Value, error) {
	out := make(map[string]model.Value)
	p.skipSpace()
	if p.done() {
		return out, nil
	}
	for {
		p.skipSpace()
		key := p.word()
		if key == "" {
			return nil, fmt.Errorf("expected parameter name at offset %d", p.pos)
		}
		if err := p.expect("="); err != nil {
			return nil, err
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		out[key] = v
		p.skipSpace()
		if p.done() {
			return out, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

// word reads an unquoted token.
func (p *valueParser) word() string {
	start := p.pos
	for !p.done() && !strings.ContainsRune(",=()[]{}\" \t\n", rune(p.src[p.pos])) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *valueParser) quoted() (string, error) {
	if p.peek() != '"' {
		return "", fmt.Errorf("expected '\"' at offset %d", p.pos)
	}
	end := p.pos + 1
	for end < len(p.src) {
		if p.src[end] == '\\' {
			end += 2
			continue
		}
		if p.src[end] == '"' {
			break
		}
		end++
	}
	if end >= len(p.src) {
		return "", fmt.Errorf("unterminated string at offset %d", p.pos)
	}
	s, err := strconv.Unquote(p.src[p.pos : end+1])
	if err != nil {
		return "", err
	}
	p.pos = end + 1
	return s, nil
}

func (p *valueParser) value() (model.Value, error) {
	p.skipSpace()
	switch p.peek() {
	case '"':
		s, err := p.quoted()
		if err != nil {
			return model.Value{}, err
		}
		return model.String(s), nil
	case '[':
		return p.list()
	case '{':
		return p.object()
	case 0:
		return model.Value{}, fmt.Errorf("missing value at end of input")
	}

	w := p.word()
	switch w {
	case "":
		return model.Value{}, fmt.Errorf("unexpected %q at offset %d", p.peek(), p.pos)
	case "undefined":
		return model.Undefined(), nil
	case "null":
		return model.Null(), nil
	case "true":
		return model.Bool(true), nil
	case "false":
		return model.Bool(false), nil
	case "expression":
		p.skipSpace()
		s, err := p.quoted()
		if err != nil {
			return model.Value{}, err
		}
		return model.Expression(s), nil
	}
	if i, err := strconv.ParseInt(w, 10, 64); err == nil {
		return model.Int(i), nil
	}
	return model.String(w), nil
}

func (p *valueParser) list() (model.Value, error) {
	p.pos++
	var items []model.Value
	for {
		p.skipSpace()
		if p.peek() == ']' {
			p.pos++
			return model.List(items...), nil
		}
		if len(items) > 0 {
			if err := p.expect(","); err != nil {
				return model.Value{}, err
			}
		}
		v, err := p.value()
		if err != nil {
			return model.Value{}, err
		}
		items = append(items, v)
	}
}

func (p *valueParser) object() (model.Value, error) {
	p.pos++
	out := make(map[string]model.Value)
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return model.Object(out), nil
		}
		if len(out) > 0 {
			if err := p.expect(","); err != nil {
				return model.Value{}, err
			}
			p.skipSpace()
		}
		var key string
		if p.peek() == '"' {
			k, err := p.quoted()
			if err != nil {
				return model.Value{}, err
			}
			key = k
		} else {
			key = p.word()
		}
		if key == "" {
			return model.Value{}, fmt.Errorf("expected key at offset %d", p.pos)
		}
		p.skipSpace()
		if strings.HasPrefix(p.src[p.pos:], "=>") {
			p.pos += 2
		} else if err := p.expect("="); err != nil {
			return model.Value{}, err
		}
		v, err := p.value()
		if err != nil {
			return model.Value{}, err
		}
		out[key] = v
	}
}
