package stores

import (
	"context"
	"time"

	"github.com/openfroyo/webplane/pkg/engine"
)

// Operation is a journaled management operation.
type Operation struct {
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Address   string         `json:"address"`
	Command   string         `json:"command"`
	Caller    string         `json:"caller,omitempty"`
	Outcome   engine.Outcome `json:"outcome"`
	Stage     engine.Stage   `json:"stage"`
	Error     *string        `json:"error,omitempty"`
	ErrorCode *string        `json:"error_code,omitempty"`
	// Compensation is the command that undoes the operation.
	Compensation *string       `json:"compensation,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// ServiceEvent is a journaled service state transition.
type ServiceEvent struct {
	ID        int64     `json:"id"`
	Service   string    `json:"service"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Error     *string   `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OperationFilter selects journaled operations. Zero fields match
// everything.
type OperationFilter struct {
	// AddressPrefix matches the address and everything below it.
	AddressPrefix string
	Caller        string
	Outcome       engine.Outcome
	Since         time.Time
	Limit         int
	Offset        int
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.Journal

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	GetOperation(ctx context.Context, id string) (*Operation, error)
	ListOperations(ctx context.Context, filter OperationFilter) ([]*Operation, error)
	PruneOperations(ctx context.Context, before time.Time) (int64, error)

	RecordServiceEvent(ctx context.Context, event *ServiceEvent) error
	ListServiceEvents(ctx context.Context, service *string, limit, offset int) ([]*ServiceEvent, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
