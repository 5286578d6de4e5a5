package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
	"github.com/openfroyo/webplane/pkg/services"
)

func TestExecute_AddInstallsService(t *testing.T) {
	f := newFixture(t)

	res := f.mustExecute(t, httpConnector("http", "http"))
	if res.Outcome != OutcomeSuccess || res.Stage != StageComplete {
		t.Fatalf("Expected success at COMPLETE, got %s at %s", res.Outcome, res.Stage)
	}
	if res.OperationID == uuid.Nil {
		t.Error("Expected an operation ID to be assigned")
	}

	name := services.NewName("web", "connector", "http")
	c, ok := f.reg.Lookup(name)
	if !ok {
		t.Fatalf("Expected service %s to be installed", name)
	}
	if c.Mode() != services.ModeActive {
		t.Errorf("Expected ACTIVE mode, got %s", c.Mode())
	}

	// The socket binding is not installed yet: the connector waits.
	f.settle(t)
	if c.State() != services.StateDown {
		t.Errorf("Expected DOWN while the binding is missing, got %s", c.State())
	}

	f.installBinding(t, "http")
	f.settle(t)
	if c.State() != services.StateUp {
		t.Errorf("Expected UP once the binding is installed, got %s", c.State())
	}
}

func TestExecute_AddCompensationRestoresTree(t *testing.T) {
	f := newFixture(t)
	before := f.tree.Snapshot(webAddr)

	res := f.mustExecute(t, httpConnector("http", "http"))
	if res.Compensation == nil || res.Compensation.Name != OpRemove {
		t.Fatalf("Expected a remove compensation, got %v", res.Compensation)
	}
	if !res.Compensation.Address.Equal(connAddr("http")) {
		t.Errorf("Expected compensation at %s, got %s", connAddr("http"), res.Compensation.Address)
	}
	if !res.Compensation.Param("protocol").Equal(model.String("HTTP/1.1")) {
		t.Errorf("Expected the remove to carry protocol, got %s", res.Compensation)
	}
	if !res.Compensation.Param("socket-binding").Equal(model.String("http")) {
		t.Errorf("Expected the remove to carry socket-binding, got %s", res.Compensation)
	}

	f.mustExecute(t, res.Compensation)
	if !f.tree.Snapshot(webAddr).Equal(before) {
		t.Error("Expected the compensation to restore the tree")
	}
	if _, ok := f.reg.Lookup(services.NewName("web", "connector", "http")); ok {
		t.Error("Expected the compensation to remove the service")
	}
}

func TestExecute_RemoveCompensationRestoresAttributes(t *testing.T) {
	f := newFixture(t)
	f.mustExecute(t, NewAdd(serverAddr("default"), map[string]model.Value{
		"alias":              model.StringList("localhost", "example.com"),
		"default-web-module": model.Null(),
	}))
	before := f.tree.Snapshot(webAddr)

	res := f.mustExecute(t, NewRemove(serverAddr("default")))
	comp := res.Compensation
	if comp == nil || comp.Name != OpAdd {
		t.Fatalf("Expected an add compensation, got %v", comp)
	}
	if !comp.Param("alias").Equal(model.StringList("localhost", "example.com")) {
		t.Errorf("Expected alias to be carried, got %s", comp.Param("alias"))
	}
	if !comp.Param("default-web-module").IsNull() {
		t.Errorf("Expected explicit null to be carried, got %s", comp.Param("default-web-module"))
	}

	f.mustExecute(t, comp)
	if !f.tree.Snapshot(webAddr).Equal(before) {
		t.Error("Expected the compensation to restore the virtual server")
	}
}

func TestExecute_WriteCompensation(t *testing.T) {
	f := newFixture(t)
	f.mustExecute(t, httpConnector("http", "http"))

	res := f.mustExecute(t, NewWriteAttribute(connAddr("http"), "scheme", model.String("https")))
	if res.Compensation == nil || res.Compensation.Name != OpUndefineAttribute {
		t.Fatalf("Expected an undefine compensation for a previously unset attribute, got %v", res.Compensation)
	}

	f.mustExecute(t, res.Compensation)
	r, _ := f.tree.Get(connAddr("http"))
	if r.State("scheme") != model.StateUnset {
		t.Errorf("Expected scheme to be unset again, got %s", r.State("scheme"))
	}
	if !r.Get("scheme").Equal(model.String("http")) {
		t.Errorf("Expected default scheme, got %s", r.Get("scheme"))
	}
}

func TestExecute_ModelFailureLeavesTreeUntouched(t *testing.T) {
	f := newFixture(t)
	before := f.tree.Snapshot(webAddr)

	op := NewComposite(
		httpConnector("http", "http"),
		NewAdd(connAddr("ajp"), map[string]model.Value{
			"protocol":       model.String("AJP/1.3"),
			"socket-binding": model.String("ajp"),
			"bogus":          model.Int(1),
		}),
	)
	res, err := f.ctrl.Execute(context.Background(), op)
	if !errors.Is(err, errdefs.ErrUnknownAttribute) {
		t.Fatalf("Expected UnknownAttribute, got %v", err)
	}
	if res.Outcome != OutcomeFailed || res.Stage != StageModel {
		t.Errorf("Expected failure in MODEL, got %s in %s", res.Outcome, res.Stage)
	}
	if !f.tree.Snapshot(webAddr).Equal(before) {
		t.Error("Expected the tree to be unchanged")
	}
	if len(f.reg.Names()) != 0 {
		t.Errorf("Expected no services, got %v", f.reg.Names())
	}

	var e *errdefs.Error
	if errors.As(err, &e) && e.Address != connAddr("ajp").String() {
		t.Errorf("Expected the error to name %s, got %q", connAddr("ajp"), e.Address)
	}
}

func TestExecute_ModelFailureRestoresSiblingOrder(t *testing.T) {
	f := newAdminFixture(t)
	for _, name := range []string{"a", "b", "c"} {
		f.mustExecute(t, httpConnector(name, name))
	}

	op := NewComposite(
		NewRemove(connAddr("b")),
		NewAdd(connAddr("d"), map[string]model.Value{"bogus": model.Int(1)}),
	)
	if _, err := f.ctrl.Execute(context.Background(), op); err == nil {
		t.Fatal("Expected the composite to fail")
	}

	web, err := f.tree.Get(webAddr)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var got []string
	for _, c := range web.Children("connector") {
		got = append(got, c.Address().Last().Name)
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("Expected connectors a,b,c after the failed remove, got %v", got)
	}
}

func TestExecute_RuntimeFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	before := f.tree.Snapshot(webAddr)
	boom := errors.New("connector could not be registered")
	f.handler.installErr = boom

	res, err := f.ctrl.Execute(context.Background(), httpConnector("http", "http"))
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the runtime error, got %v", err)
	}
	if res.Outcome != OutcomeRolledBack || res.Stage != StageRolledBack {
		t.Errorf("Expected rolled-back, got %s at %s", res.Outcome, res.Stage)
	}
	if !f.tree.Snapshot(webAddr).Equal(before) {
		t.Error("Expected the rollback to restore the tree")
	}
}

func TestExecute_RuntimeFailureWithoutRollback(t *testing.T) {
	f := newFixture(t)
	f.handler.installErr = errors.New("boom")

	op := httpConnector("http", "http")
	off := false
	op.Headers.RollbackOnRuntimeFailure = &off

	res, err := f.ctrl.Execute(context.Background(), op)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if res.Outcome != OutcomeFailed || res.Stage != StageRuntime {
		t.Errorf("Expected failure at RUNTIME, got %s at %s", res.Outcome, res.Stage)
	}
	if !f.tree.Exists(connAddr("http")) {
		t.Error("Expected the model change to be kept")
	}
}

// failingUninstall fails removals so the compensation of an add cannot
// complete.
type failingUninstall struct {
	*connectorHandler
}

func (h failingUninstall) Install(x *Context, r *model.Resource) error {
	if !x.IsRollback() {
		return errors.New("install failed")
	}
	return nil
}

func (h failingUninstall) Uninstall(*Context, *model.Resource) error {
	return errors.New("uninstall failed")
}

func TestExecute_RollbackFailure(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Register(f.schema.connector, Registration{Runtime: failingUninstall{f.handler}})

	res, err := f.ctrl.Execute(context.Background(), httpConnector("http", "http"))
	if !errors.Is(err, errdefs.ErrRollbackFailed) {
		t.Fatalf("Expected RollbackFailed, got %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", res.Outcome)
	}
	if !strings.Contains(err.Error(), "install failed") {
		t.Errorf("Expected the original cause in %q", err)
	}
}

func TestExecute_VerifyFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.installBinding(t, "http")
	f.settle(t)
	f.handler.startErr = errors.New("address already in use")

	op := httpConnector("http", "http")
	op.Headers.Verify = true
	op.Headers.VerifyTimeout = 5 * time.Second

	res, err := f.ctrl.Execute(context.Background(), op)
	if !errors.Is(err, errdefs.ErrServiceStartFailure) {
		t.Fatalf("Expected ServiceStartFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "address already in use") {
		t.Errorf("Expected the start failure cause in %q", err)
	}
	if res.Outcome != OutcomeRolledBack {
		t.Errorf("Expected rolled-back, got %s", res.Outcome)
	}
	if f.tree.Exists(connAddr("http")) {
		t.Error("Expected the connector to be removed by the rollback")
	}
	if _, ok := f.reg.Lookup(services.NewName("web", "connector", "http")); ok {
		t.Error("Expected the service to be removed by the rollback")
	}
}

func TestExecute_VerifySuccess(t *testing.T) {
	f := newFixture(t)
	f.installBinding(t, "http")

	op := httpConnector("http", "http")
	op.Headers.Verify = true
	res := f.mustExecute(t, op)
	if res.Stage != StageComplete {
		t.Errorf("Expected COMPLETE, got %s", res.Stage)
	}
	c, _ := f.reg.Lookup(services.NewName("web", "connector", "http"))
	if c.State() != services.StateUp {
		t.Errorf("Expected verified service to be UP, got %s", c.State())
	}
}

func TestExecute_AttributeClasses(t *testing.T) {
	name := services.NewName("web", "connector", "http")

	t.Run("restart-all-services", func(t *testing.T) {
		f := newFixture(t)
		f.installBinding(t, "http")
		f.mustExecute(t, httpConnector("http", "http"))
		f.settle(t)

		res := f.mustExecute(t, NewWriteAttribute(connAddr("http"), "scheme", model.String("https")))
		if !res.RestartRequired || !res.ReloadRequired {
			t.Errorf("Expected restart and reload required, got %v/%v", res.RestartRequired, res.ReloadRequired)
		}
		if !reflect.DeepEqual(f.reg.RestartRequired(), []services.Name{name}) {
			t.Errorf("Expected %s flagged, got %v", name, f.reg.RestartRequired())
		}
		if !f.reg.ReloadRequired() {
			t.Error("Expected the registry to require a reload")
		}
		c, _ := f.reg.Lookup(name)
		if c.State() != services.StateUp {
			t.Errorf("Expected the service to keep running, got %s", c.State())
		}
	})

	t.Run("restart-resource", func(t *testing.T) {
		f := newFixture(t)
		f.installBinding(t, "http")
		f.mustExecute(t, httpConnector("http", "http"))
		f.settle(t)

		res := f.mustExecute(t, NewWriteAttribute(connAddr("http"), "max-connections", model.Int(100)))
		if !res.RestartRequired || res.ReloadRequired {
			t.Errorf("Expected only restart required, got %v/%v", res.RestartRequired, res.ReloadRequired)
		}
	})

	t.Run("runtime-writable", func(t *testing.T) {
		f := newFixture(t)
		f.installBinding(t, "http")
		f.mustExecute(t, httpConnector("http", "http"))
		f.settle(t)

		res := f.mustExecute(t, NewWriteAttribute(connAddr("http"), "enabled", model.Bool(false)))
		if res.RestartRequired || res.ReloadRequired {
			t.Error("Expected a runtime-writable change to apply directly")
		}
		if got := f.handler.appliedValues(); !reflect.DeepEqual(got, []string{"enabled=false"}) {
			t.Errorf("Expected enabled=false applied, got %v", got)
		}
		f.settle(t)
		c, _ := f.reg.Lookup(name)
		if c.State() != services.StateDown || c.Mode() != services.ModeNever {
			t.Errorf("Expected DOWN/NEVER, got %s/%s", c.State(), c.Mode())
		}
	})

	t.Run("child of owner", func(t *testing.T) {
		f := newFixture(t)
		f.installBinding(t, "http")
		f.mustExecute(t, httpConnector("http", "http"))
		f.settle(t)

		res := f.mustExecute(t, NewAdd(connAddr("http").Append(model.Element("configuration", "ssl")), map[string]model.Value{
			"key-alias": model.String("server"),
		}))
		if !res.RestartRequired {
			t.Error("Expected adding a child to flag the owning connector")
		}
	})

	t.Run("unchanged value", func(t *testing.T) {
		f := newFixture(t)
		f.installBinding(t, "http")
		f.mustExecute(t, httpConnector("http", "http"))
		f.mustExecute(t, NewWriteAttribute(connAddr("http"), "max-connections", model.Int(100)))
		f.reg.ApplyRestarts(context.Background())
		f.settle(t)

		res := f.mustExecute(t, NewWriteAttribute(connAddr("http"), "max-connections", model.Int(100)))
		if res.RestartRequired {
			t.Error("Expected rewriting the same value to have no runtime effect")
		}
	})
}

func TestExecute_StepOrdering(t *testing.T) {
	f := newFixture(t)

	var log []string
	add := func(s string) StepFunc {
		return func(*Context, *Operation) error {
			log = append(log, s)
			return nil
		}
	}
	f.ctrl.RegisterOperation(f.schema.web, "chain", func(x *Context, op *Operation) error {
		log = append(log, "A")
		x.OnComplete(func(o Outcome) { log = append(log, "done A "+string(o)) })
		x.AddStep(StageRuntime, op, add("R"))
		x.AddStep(StageModel, op, func(x *Context, op *Operation) error {
			log = append(log, "A1")
			x.AddStep(StageModel, op, func(x *Context, op *Operation) error {
				log = append(log, "A1a")
				x.OnComplete(func(Outcome) { log = append(log, "done A1a") })
				return nil
			})
			return nil
		})
		x.AddStep(StageModel, op, add("A2"))
		return nil
	})

	f.mustExecute(t, New("chain", webAddr, nil))

	want := []string{"A", "A1", "A1a", "A2", "R", "done A1a", "done A success"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("Expected %v, got %v", want, log)
	}
	if got := f.ctrl.OperationNames(f.schema.web); !reflect.DeepEqual(got, []string{"chain"}) {
		t.Errorf("Expected [chain], got %v", got)
	}
}

func TestExecute_AfterAddChainsChildren(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Register(f.schema.connector, Registration{
		Runtime: f.handler,
		AfterAdd: func(x *Context, op *Operation) error {
			ssl := op.Address.Append(model.Element("configuration", "ssl"))
			x.AddStep(StageModel, NewAdd(ssl, nil), nil)
			return nil
		},
	})

	res := f.mustExecute(t, httpConnector("https", "https"))
	if !f.tree.Exists(connAddr("https").Append(model.Element("configuration", "ssl"))) {
		t.Error("Expected the chained child to be created")
	}

	f.mustExecute(t, res.Compensation)
	if f.tree.Exists(connAddr("https")) {
		t.Error("Expected the compensation to remove the connector and its child")
	}
}

func TestExecute_ChainedStepLocksItsAddress(t *testing.T) {
	f := newAdminFixture(t)
	f.mustExecute(t, httpConnector("http", "http"))
	f.ctrl.RegisterOperation(f.schema.connector, "touch-subsystem", func(x *Context, op *Operation) error {
		x.AddStep(StageModel, op, func(x *Context, op *Operation) error {
			_, err := x.WriteAttribute(webAddr, "default-session-timeout", model.Int(45))
			return err
		})
		return nil
	})

	held, err := f.ctrl.locks.acquire(context.Background(), []model.Address{webAddr})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.ctrl.Execute(ctx, New("touch-subsystem", connAddr("http"), nil))
	if !errors.Is(err, errdefs.ErrTimeout) {
		t.Fatalf("Expected the chained write to wait for the subsystem lock, got %v", err)
	}
	if v, _ := f.tree.ReadAttribute(webAddr, "default-session-timeout"); v.Equal(model.Int(45)) {
		t.Error("Expected the chained write not to happen while the subsystem is locked")
	}

	held.release()
	f.mustExecute(t, New("touch-subsystem", connAddr("http"), nil))
	if v, _ := f.tree.ReadAttribute(webAddr, "default-session-timeout"); !v.Equal(model.Int(45)) {
		t.Errorf("Expected the chained write once the lock is free, got %s", v)
	}
}

func TestExecute_AddStepForEarlierStagePanics(t *testing.T) {
	f := newFixture(t)
	f.ctrl.RegisterOperation(f.schema.web, "late", func(x *Context, op *Operation) error {
		x.AddStep(StageRuntime, op, func(x *Context, op *Operation) error {
			defer func() {
				if recover() == nil {
					t.Error("Expected adding a model step during RUNTIME to panic")
				}
			}()
			x.AddStep(StageModel, op, nil)
			return nil
		})
		return nil
	})
	f.mustExecute(t, New("late", webAddr, nil))
}

func TestExecute_AdminOnly(t *testing.T) {
	f := newAdminFixture(t)
	if f.ctrl.Services() != nil {
		t.Fatal("Expected no service registry in admin-only mode")
	}

	res := f.mustExecute(t, httpConnector("http", "http"))
	if res.Stage != StageComplete || res.RestartRequired {
		t.Errorf("Expected a model-only completion, got %s restart=%v", res.Stage, res.RestartRequired)
	}
	if len(f.handler.installed) != 0 {
		t.Errorf("Expected no runtime handler calls, got %v", f.handler.installed)
	}
	if !f.tree.Exists(connAddr("http")) {
		t.Error("Expected the connector in the tree")
	}
}

func TestExecute_UnknownOperation(t *testing.T) {
	f := newAdminFixture(t)
	_, err := f.ctrl.Execute(context.Background(), New("frobnicate", webAddr, nil))
	if !errors.Is(err, errdefs.ErrUnknownOperation) {
		t.Errorf("Expected UnknownOperation, got %v", err)
	}
}

func TestExecute_Reads(t *testing.T) {
	f := newAdminFixture(t)
	f.mustExecute(t, httpConnector("http", "http"))

	res := f.mustExecute(t, NewReadAttribute(connAddr("http"), "scheme"))
	if !res.Response.Equal(model.String("http")) {
		t.Errorf("Expected the default scheme, got %s", res.Response)
	}
	if res.Compensation != nil {
		t.Error("Expected reads to have no compensation")
	}

	res = f.mustExecute(t, NewReadAttribute(connAddr("http"), "scheme").WithParam(ParamIncludeDefaults, model.Bool(false)))
	if res.Response.IsDefined() {
		t.Errorf("Expected undefined without defaults, got %s", res.Response)
	}

	res = f.mustExecute(t, NewReadResource(webAddr).WithParam(ParamRecursive, model.Bool(true)))
	conn := res.Response.Get("connector").Get("http")
	if !conn.Get("protocol").Equal(model.String("HTTP/1.1")) {
		t.Errorf("Expected recursive read to include the connector, got %s", res.Response)
	}

	res = f.mustExecute(t, NewReadResource(webAddr))
	if res.Response.Get("connector").Get("http").IsDefined() {
		t.Error("Expected a non-recursive read to list children without values")
	}

	_, err := f.ctrl.Execute(context.Background(), NewReadAttribute(connAddr("http"), "nope"))
	if !errors.Is(err, errdefs.ErrUnknownAttribute) {
		t.Errorf("Expected UnknownAttribute, got %v", err)
	}
}

func TestExecute_CompositeResponse(t *testing.T) {
	f := newAdminFixture(t)
	res := f.mustExecute(t, NewComposite(
		httpConnector("http", "http"),
		NewReadAttribute(connAddr("http"), "protocol"),
	))
	if !res.Response.Get("step-2").Equal(model.String("HTTP/1.1")) {
		t.Errorf("Expected step-2 to hold the read, got %s", res.Response)
	}
	if res.Compensation == nil || res.Compensation.Name != OpRemove {
		t.Errorf("Expected a single remove compensation, got %v", res.Compensation)
	}
}

func TestExecute_Describe(t *testing.T) {
	f := newAdminFixture(t)
	f.mustExecute(t, httpConnector("http", "http"))
	f.mustExecute(t, NewAdd(connAddr("http").Append(model.Element("configuration", "ssl")), nil))

	ops, err := f.ctrl.Describe(webAddr)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	var got []string
	for _, op := range ops {
		got = append(got, op.Address.String())
	}
	want := []string{
		"/subsystem=web",
		"/subsystem=web/connector=http",
		"/subsystem=web/connector=http/configuration=ssl",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	res := f.mustExecute(t, NewDescribe(webAddr))
	if res.Response.Len() != 3 {
		t.Errorf("Expected 3 described operations, got %s", res.Response)
	}
}

type denyConstraint string

func (d denyConstraint) Authorize(_ context.Context, req AccessRequest) error {
	if req.ReadOnly {
		return nil
	}
	for _, c := range req.Constraints {
		if c == string(d) {
			return errdefs.New(errdefs.ClassSecurity, errdefs.CodeAccessDenied, "caller may not modify "+c)
		}
	}
	return nil
}

func TestExecute_AuthorizerDenies(t *testing.T) {
	f := newFixture(t, WithAuthorizer(denyConstraint("web-connector")))
	before := f.tree.Snapshot(webAddr)

	_, err := f.ctrl.Execute(context.Background(), httpConnector("http", "http"))
	if !errors.Is(err, errdefs.ErrAccessDenied) {
		t.Fatalf("Expected AccessDenied, got %v", err)
	}
	if !f.tree.Snapshot(webAddr).Equal(before) {
		t.Error("Expected a denied operation to leave the tree untouched")
	}

	f.mustExecute(t, NewAdd(serverAddr("default"), nil))
}

type memJournal struct {
	mu      sync.Mutex
	records []OperationRecord
}

func (j *memJournal) RecordOperation(_ context.Context, rec OperationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func TestExecute_Journal(t *testing.T) {
	j := &memJournal{}
	f := newFixture(t, WithJournal(j))

	op := httpConnector("http", "http")
	op.Headers.Caller = Caller{User: "admin"}
	f.mustExecute(t, op)
	f.mustExecute(t, NewReadResource(connAddr("http")))
	f.ctrl.Execute(context.Background(), NewAdd(connAddr("broken"), nil))

	if len(j.records) != 3 {
		t.Fatalf("Expected 3 journal records (subsystem, connector, failure), got %d", len(j.records))
	}
	rec := j.records[1]
	if rec.Outcome != OutcomeSuccess || rec.Caller != "admin" || rec.Operation != OpAdd {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if !strings.HasPrefix(rec.Compensation, connAddr("http").String()+":remove") {
		t.Errorf("Expected remove compensation, got %q", rec.Compensation)
	}
	failed := j.records[2]
	if failed.Outcome != OutcomeFailed || failed.ErrorCode != string(errdefs.CodeMissingRequired) {
		t.Errorf("Expected a failed record with MissingRequired, got %+v", failed)
	}
}

func TestExecuteAll_StopsAtFirstFailure(t *testing.T) {
	f := newAdminFixture(t)
	err := f.ctrl.ExecuteAll(context.Background(), []*Operation{
		httpConnector("http", "http"),
		httpConnector("http", "http"),
		httpConnector("ajp", "ajp"),
	})
	if !errors.Is(err, errdefs.ErrDuplicateResource) {
		t.Fatalf("Expected DuplicateResource, got %v", err)
	}
	if f.tree.Exists(connAddr("ajp")) {
		t.Error("Expected execution to stop at the failing operation")
	}
}

func TestConverge(t *testing.T) {
	f := newAdminFixture(t)
	doc := []*Operation{
		NewAdd(webAddr, nil),
		httpConnector("http", "http"),
		NewAdd(serverAddr("default"), map[string]model.Value{"alias": model.StringList("localhost")}),
	}

	plan, res, err := f.ctrl.Converge(context.Background(), webAddr, doc, Headers{})
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if plan.Summary.ToAdd != 2 || res.Outcome != OutcomeSuccess {
		t.Errorf("Expected 2 additions, got %+v (%v)", plan.Summary, res.Outcome)
	}

	desired, err := DesiredState(f.schema.root, webAddr, doc)
	if err != nil {
		t.Fatalf("DesiredState failed: %v", err)
	}
	if p := f.ctrl.Plan(webAddr, desired); !p.Empty() {
		t.Errorf("Expected an empty plan after converging, got %v", p.Operations)
	}

	doc = []*Operation{
		NewAdd(webAddr, nil),
		httpConnector("http", "http").WithParam("scheme", model.String("https")),
	}
	plan, _, err = f.ctrl.Converge(context.Background(), webAddr, doc, Headers{})
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if plan.Summary.ToRemove != 1 || plan.Summary.ToWrite != 1 || plan.Summary.ToAdd != 0 {
		t.Errorf("Unexpected summary %+v", plan.Summary)
	}
	if f.tree.Exists(serverAddr("default")) {
		t.Error("Expected the virtual server to be removed")
	}
	if v, _ := f.tree.ReadAttribute(connAddr("http"), "scheme"); !v.Equal(model.String("https")) {
		t.Errorf("Expected scheme https, got %s", v)
	}

	_, err = DesiredState(f.schema.root, webAddr, []*Operation{NewRemove(webAddr)})
	if !errors.Is(err, errdefs.ErrUnknownOperation) {
		t.Errorf("Expected only add operations to be accepted, got %v", err)
	}
}

func TestPlan_ReadOnlyChangeRecreates(t *testing.T) {
	f := newAdminFixture(t)
	f.mustExecute(t, httpConnector("http", "http").WithParam("name", model.String("a")))

	desired, err := DesiredState(f.schema.root, connAddr("http"), []*Operation{
		httpConnector("http", "http").WithParam("name", model.String("b")),
	})
	if err != nil {
		t.Fatalf("DesiredState failed: %v", err)
	}
	plan := f.ctrl.Plan(connAddr("http"), desired)
	if plan.Summary.ToRemove != 1 || plan.Summary.ToAdd != 1 {
		t.Errorf("Expected remove and re-add, got %+v", plan.Summary)
	}
}
