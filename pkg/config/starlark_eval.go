package config

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/webplane/pkg/model"
)

// DefaultScriptTimeout bounds a script run when none is configured.
const DefaultScriptTimeout = 5 * time.Second

// StarlarkResult holds the globals a script left behind.
type StarlarkResult struct {
	Output        map[string]model.Value
	ExecutionTime time.Duration
}

// StarlarkEvaluator runs Starlark scripts with a deadline.
type StarlarkEvaluator struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewStarlarkEvaluator creates an evaluator. Script print output goes to
// logger at debug level.
func NewStarlarkEvaluator(timeout time.Duration, logger zerolog.Logger) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return &StarlarkEvaluator{timeout: timeout, logger: logger}
}

// Evaluate executes script with input as predeclared globals. The run is
// cancelled when ctx ends or the timeout passes. Globals starting with an
// underscore are private and left out of the result.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, input map[string]model.Value) (*StarlarkResult, error) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			se.logger.Debug().Str("script", filename).Msg(msg)
		},
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	predeclared := starlark.StringDict{"struct": starlark.NewBuiltin("struct", starlarkstruct.Make)}
	for k, v := range input {
		predeclared[k] = toStarlark(v)
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("script %s timed out after %s: %w", filename, se.timeout, err)
		}
		return nil, fmt.Errorf("script %s failed: %w", filename, err)
	}

	out := make(map[string]model.Value, len(globals))
	for name, g := range globals {
		if name == "" || name[0] == '_' {
			continue
		}
		if _, isFunc := g.(*starlark.Function); isFunc {
			continue
		}
		v, err := fromStarlark(g)
		if err != nil {
			return nil, fmt.Errorf("script %s: global %s: %w", filename, name, err)
		}
		out[name] = v
	}
	return &StarlarkResult{Output: out, ExecutionTime: time.Since(started)}, nil
}

func toStarlark(v model.Value) starlark.Value {
	switch v.Kind() {
	case model.KindString, model.KindExpression:
		return starlark.String(v.Text())
	case model.KindInt:
		i, _ := v.AsInt()
		return starlark.MakeInt64(i)
	case model.KindBool:
		b, _ := v.AsBool()
		return starlark.Bool(b)
	case model.KindList:
		elems := make([]starlark.Value, 0, v.Len())
		for _, e := range v.AsList() {
			elems = append(elems, toStarlark(e))
		}
		return starlark.NewList(elems)
	case model.KindObject:
		d := starlark.NewDict(v.Len())
		for _, k := range v.Keys() {
			_ = d.SetKey(starlark.String(k), toStarlark(v.Get(k)))
		}
		return d
	}
	return starlark.None
}

func fromStarlark(v starlark.Value) (model.Value, error) {
	switch t := v.(type) {
	case starlark.NoneType:
		return model.Null(), nil
	case starlark.Bool:
		return model.Bool(bool(t)), nil
	case starlark.Int:
		i, ok := t.Int64()
		if !ok {
			return model.Value{}, fmt.Errorf("integer %s too large", t)
		}
		return model.Int(i), nil
	case starlark.String:
		return model.FromInterface(string(t))
	case *starlark.List:
		out := make([]model.Value, 0, t.Len())
		for i := 0; i < t.Len(); i++ {
			e, err := fromStarlark(t.Index(i))
			if err != nil {
				return model.Value{}, err
			}
			out = append(out, e)
		}
		return model.List(out...), nil
	case starlark.Tuple:
		out := make([]model.Value, 0, len(t))
		for _, item := range t {
			e, err := fromStarlark(item)
			if err != nil {
				return model.Value{}, err
			}
			out = append(out, e)
		}
		return model.List(out...), nil
	case *starlark.Dict:
		out := make(map[string]model.Value, t.Len())
		for _, item := range t.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return model.Value{}, fmt.Errorf("dict key %s is not a string", item[0])
			}
			e, err := fromStarlark(item[1])
			if err != nil {
				return model.Value{}, err
			}
			out[string(k)] = e
		}
		return model.Object(out), nil
	case *starlarkstruct.Struct:
		out := make(map[string]model.Value)
		for _, name := range t.AttrNames() {
			attr, err := t.Attr(name)
			if err != nil {
				return model.Value{}, err
			}
			e, err := fromStarlark(attr)
			if err != nil {
				return model.Value{}, err
			}
			out[name] = e
		}
		return model.Object(out), nil
	}
	return model.Value{}, fmt.Errorf("unsupported starlark type %s", v.Type())
}
