package engine_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/web"
)

// Example_compensation adds a connector to a model-only controller and
// undoes it with the returned compensation.
func Example_compensation() {
	root := model.NewRootDefinition()
	defs := web.NewDefinitions(root)
	ctrl := engine.NewController(model.NewTree(root), engine.WithRunningMode(engine.ModeAdminOnly))
	web.Register(ctrl, defs, nil)

	ctx := context.Background()
	if _, err := ctrl.Execute(ctx, engine.NewAdd(web.SubsystemAddress, nil)); err != nil {
		fmt.Println(err)
		return
	}

	res, err := ctrl.Execute(ctx, engine.NewAdd(web.ConnectorAddress("http"), map[string]model.Value{
		"protocol":       model.String("HTTP/1.1"),
		"socket-binding": model.String("http"),
	}))
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(res.Outcome, res.Stage, res.Compensation.Name)

	ops, _ := ctrl.Describe(web.SubsystemAddress)
	fmt.Println(len(ops), "operations describe the subsystem")

	if _, err := ctrl.Execute(ctx, res.Compensation); err != nil {
		fmt.Println(err)
		return
	}
	_, err = ctrl.Tree().Get(web.ConnectorAddress("http"))
	fmt.Println(err != nil)

	// Output:
	// success COMPLETE remove
	// 5 operations describe the subsystem
	// true
}
