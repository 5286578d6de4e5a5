package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
)

// Plan is the set of operations that converges a live subtree to a desired
// one.
type Plan struct {
	Address    model.Address `json:"address"`
	Operations []*Operation  `json:"operations"`
	Summary    PlanSummary   `json:"summary"`
}

// PlanSummary counts planned operations by kind.
type PlanSummary struct {
	ToAdd    int `json:"to_add"`
	ToRemove int `json:"to_remove"`
	ToWrite  int `json:"to_write"`
}

// Empty reports whether the live subtree already matches.
func (p *Plan) Empty() bool { return len(p.Operations) == 0 }

// DesiredState replays ADD operations, parents first, on an empty tree and
// returns the subtree at addr. Operations are validated as they would be by
// the model stage.
func DesiredState(rootDef *model.ResourceDefinition, addr model.Address, ops []*Operation) (*model.Resource, error) {
	scratch := model.NewTree(rootDef)
	for i, op := range ops {
		if op.Name != OpAdd {
			return nil, errdefs.Model(errdefs.CodeUnknownOperation, "desired state may only contain %s operations, got %s", OpAdd, op.Name).
				WithAddress(op.Address.String())
		}
		if err := ensureParents(scratch, op.Address.Parent(), addr); err != nil {
			return nil, err
		}
		if _, err := scratch.CreateChild(op.Address.Parent(), op.Address.Last(), op.Params); err != nil {
			return nil, fmt.Errorf("failed to apply operation %d (%s): %w", i+1, op, err)
		}
	}
	return scratch.Snapshot(addr), nil
}

// ensureParents creates empty placeholders for ancestors above the planned
// subtree so documents rooted below the tree root can be replayed.
func ensureParents(t *model.Tree, parent, root model.Address) error {
	for i := 1; i <= len(parent); i++ {
		prefix := model.NewAddress(parent[:i]...)
		if len(prefix) >= len(root) || !root.HasPrefix(prefix) || t.Exists(prefix) {
			continue
		}
		if _, err := t.CreateChild(prefix.Parent(), prefix.Last(), nil); err != nil {
			return err
		}
	}
	return nil
}

// Plan compares the live subtree at addr with desired; nil desired plans
// the subtree's removal.
func (c *Controller) Plan(addr model.Address, desired *model.Resource) *Plan {
	for _, r := range c.aliases {
		addr = r.ToCanonical(addr)
	}
	ops := Diff(addr, c.tree.Snapshot(addr), desired)
	p := &Plan{Address: addr, Operations: ops}
	for _, op := range ops {
		switch op.Name {
		case OpAdd:
			p.Summary.ToAdd++
		case OpRemove:
			p.Summary.ToRemove++
		default:
			p.Summary.ToWrite++
		}
	}
	return p
}

// Converge plans and applies, as one composite operation, the changes that
// make the subtree at addr match the ADD operations in ops.
func (c *Controller) Converge(ctx context.Context, addr model.Address, ops []*Operation, headers Headers) (*Plan, *Result, error) {
	canonical := make([]*Operation, len(ops))
	for i, op := range ops {
		canonical[i] = c.Canonical(op)
	}
	desired, err := DesiredState(c.tree.RootDefinition(), addr, canonical)
	if err != nil {
		return nil, nil, err
	}
	plan := c.Plan(addr, desired)
	if plan.Empty() {
		return plan, nil, nil
	}
	op := NewComposite(plan.Operations...)
	op.Headers = headers
	res, err := c.Execute(ctx, op)
	return plan, res, err
}
