package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
)

// Script is a custom operation implemented in Starlark. The script sees
// three globals:
//
//	address  the target address as a string
//	params   the operation parameters
//	model    the target's attributes, defaults included
//
// It may set writes, a dict of attribute name to value applied as chained
// write-attribute steps (None undefines), and result, the operation's
// response.
type Script struct {
	Name    string
	Pattern model.Address
	File    string
	Source  string
}

// LoadScripts reads the configured scripts.
func LoadScripts(cfgs []ScriptConfig) ([]Script, error) {
	out := make([]Script, 0, len(cfgs))
	for _, c := range cfgs {
		pattern, err := model.ParseAddress(c.Address)
		if err != nil {
			return nil, fmt.Errorf("script %s: %w", c.Name, err)
		}
		s := Script{Name: c.Name, Pattern: pattern, File: c.File, Source: c.Source}
		if s.Source == "" {
			data, err := os.ReadFile(c.File)
			if err != nil {
				return nil, fmt.Errorf("failed to read script %s: %w", c.Name, err)
			}
			s.Source = string(data)
		}
		if s.File == "" {
			s.File = c.Name + ".star"
		}
		out = append(out, s)
	}
	return out, nil
}

// RegisterScripts registers each script as a custom operation on the
// resource definition its pattern names. Register subsystems first: a
// later Register replaces the operations of a definition.
func RegisterScripts(ctrl *engine.Controller, eval *StarlarkEvaluator, scripts []Script) error {
	root := ctrl.Tree().RootDefinition()
	for _, s := range scripts {
		def := root.Find(s.Pattern)
		if def == nil {
			return fmt.Errorf("script %s: no resource definition at %s", s.Name, s.Pattern)
		}
		ctrl.RegisterOperation(def, s.Name, s.step(eval))
	}
	return nil
}

func (s Script) step(eval *StarlarkEvaluator) engine.StepFunc {
	return func(x *engine.Context, op *engine.Operation) error {
		r, err := x.ReadResource(op.Address)
		if err != nil {
			return err
		}
		params := make(map[string]model.Value, len(op.Params))
		for k, v := range op.Params {
			params[k] = v
		}
		input := map[string]model.Value{
			"address": model.String(op.Address.String()),
			"params":  model.Object(params),
			"model":   model.Object(r.Model(true)),
		}

		res, err := eval.Evaluate(x.Context(), s.File, s.Source, input)
		if err != nil {
			return fmt.Errorf("scripted operation %s failed: %w", s.Name, err)
		}

		if writes, ok := res.Output["writes"]; ok {
			if writes.Kind() != model.KindObject {
				return errdefs.Model(errdefs.CodeWrongType, "scripted operation %s: writes must be a dict", s.Name)
			}
			keys := writes.Keys()
			sort.Strings(keys)
			for _, k := range keys {
				v := writes.Get(k)
				w := engine.NewUndefineAttribute(op.Address, k)
				if !v.IsNull() {
					w = engine.NewWriteAttribute(op.Address, k, v)
				}
				x.AddStep(engine.StageModel, w, nil)
			}
		}
		if result, ok := res.Output["result"]; ok {
			x.SetResult(result)
		}
		return nil
	}
}
