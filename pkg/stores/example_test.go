package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/stores"
)

// ExampleOpen demonstrates opening a migrated in-memory journal.
func ExampleOpen() {
	store, err := stores.Open(context.Background(), stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Journal ready")
	// Output: Journal ready
}

// ExampleSQLiteStore_RecordOperation demonstrates journaling an operation
// and reading it back.
func ExampleSQLiteStore_RecordOperation() {
	ctx := context.Background()
	store, _ := stores.Open(ctx, stores.Config{Path: ":memory:"})
	defer store.Close()

	id := uuid.New()
	_ = store.RecordOperation(ctx, engine.OperationRecord{
		ID:           id,
		Operation:    engine.OpAdd,
		Address:      "/subsystem=web/connector=http",
		Command:      `/subsystem=web/connector=http:add(socket-binding="http")`,
		Caller:       "admin",
		Outcome:      engine.OutcomeSuccess,
		Stage:        engine.StageComplete,
		Compensation: "/subsystem=web/connector=http:remove",
		StartedAt:    time.Now(),
		Duration:     3 * time.Millisecond,
	})

	op, err := store.GetOperation(ctx, id.String())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(op.Outcome, op.Address)
	fmt.Println(*op.Compensation)
	// Output:
	// success /subsystem=web/connector=http
	// /subsystem=web/connector=http:remove
}

// ExampleSQLiteStore_ListOperations demonstrates filtering the journal by
// address.
func ExampleSQLiteStore_ListOperations() {
	ctx := context.Background()
	store, _ := stores.Open(ctx, stores.Config{Path: ":memory:"})
	defer store.Close()

	start := time.Now()
	for i, addr := range []string{"/subsystem=web", "/subsystem=web/connector=http", "/subsystem=webservices"} {
		_ = store.RecordOperation(ctx, engine.OperationRecord{
			ID:        uuid.New(),
			Operation: engine.OpAdd,
			Address:   addr,
			Command:   addr + ":add",
			Outcome:   engine.OutcomeSuccess,
			Stage:     engine.StageComplete,
			StartedAt: start.Add(time.Duration(i) * time.Second),
		})
	}

	ops, _ := store.ListOperations(ctx, stores.OperationFilter{AddressPrefix: "/subsystem=web"})
	for _, op := range ops {
		fmt.Println(op.Command)
	}
	// Output:
	// /subsystem=web/connector=http:add
	// /subsystem=web:add
}
