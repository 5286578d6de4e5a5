package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/webplane/pkg/engine"
	"github.com/openfroyo/webplane/pkg/services"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a journal entry does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: opens its own database
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "journal").Logger(),
	}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init opens the database and enables WAL mode for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path
	if !isMemory(dsn) {
		dsn = "file:" + dsn + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.logger.Debug().Str("path", s.cfg.Path).Msg("Journal opened")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// RecordOperation journals a finished operation. Recording the same
// operation ID twice fails.
func (s *SQLiteStore) RecordOperation(ctx context.Context, rec engine.OperationRecord) error {
	query := `
		INSERT INTO operations (id, operation, address, command, caller, outcome, stage,
			error, error_code, compensation, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID.String(),
		rec.Operation,
		rec.Address,
		rec.Command,
		rec.Caller,
		string(rec.Outcome),
		string(rec.Stage),
		nullString(rec.Error),
		nullString(rec.ErrorCode),
		nullString(rec.Compensation),
		rec.StartedAt.UTC(),
		rec.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}

	return nil
}

const operationColumns = `id, operation, address, command, caller, outcome, stage,
	error, error_code, compensation, started_at, duration_ns`

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (*Operation, error) {
	op := &Operation{}
	var nanos int64
	err := row.Scan(
		&op.ID,
		&op.Operation,
		&op.Address,
		&op.Command,
		&op.Caller,
		&op.Outcome,
		&op.Stage,
		&op.Error,
		&op.ErrorCode,
		&op.Compensation,
		&op.StartedAt,
		&nanos,
	)
	if err != nil {
		return nil, err
	}
	op.Duration = time.Duration(nanos)
	return op, nil
}

// GetOperation retrieves a journaled operation by ID
func (s *SQLiteStore) GetOperation(ctx context.Context, id string) (*Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = ?`

	op, err := scanOperation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}

	return op, nil
}

// ListOperations returns the operations matching filter, most recent
// first.
func (s *SQLiteStore) ListOperations(ctx context.Context, filter OperationFilter) ([]*Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations WHERE 1=1`
	var args []any

	if filter.AddressPrefix != "" {
		prefix := strings.TrimSuffix(filter.AddressPrefix, "/")
		query += ` AND (address = ? OR substr(address, 1, ?) = ?)`
		args = append(args, prefix, len(prefix)+1, prefix+"/")
	}
	if filter.Caller != "" {
		query += ` AND caller = ?`
		args = append(args, filter.Caller)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY started_at DESC, rowid DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}

	return ops, rows.Err()
}

// PruneOperations deletes operations started before the given time and
// returns how many were removed.
func (s *SQLiteStore) PruneOperations(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune operations: %w", err)
	}

	return result.RowsAffected()
}

// RecordServiceEvent appends a service transition.
func (s *SQLiteStore) RecordServiceEvent(ctx context.Context, event *ServiceEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO service_events (service, from_state, to_state, error, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.Service,
		event.From,
		event.To,
		event.Error,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record service event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get service event ID: %w", err)
	}
	event.ID = id

	return nil
}

// ListServiceEvents returns service transitions in the order they were
// recorded, optionally for one service.
func (s *SQLiteStore) ListServiceEvents(ctx context.Context, service *string, limit, offset int) ([]*ServiceEvent, error) {
	query := `SELECT id, service, from_state, to_state, error, timestamp FROM service_events WHERE 1=1`
	var args []any

	if service != nil {
		query += ` AND service = ?`
		args = append(args, *service)
	}

	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list service events: %w", err)
	}
	defer rows.Close()

	var events []*ServiceEvent
	for rows.Next() {
		e := &ServiceEvent{}
		if err := rows.Scan(&e.ID, &e.Service, &e.From, &e.To, &e.Error, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan service event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// ServiceListener returns a listener journaling every service transition.
func (s *SQLiteStore) ServiceListener() services.Listener {
	return func(t services.Transition) {
		ev := &ServiceEvent{
			Service: t.Name.String(),
			From:    string(t.From),
			To:      string(t.To),
		}
		if t.Err != nil {
			msg := t.Err.Error()
			ev.Error = &msg
		}
		if err := s.RecordServiceEvent(context.Background(), ev); err != nil {
			s.logger.Error().Err(err).Str("service", ev.Service).Msg("Failed to journal service transition")
		}
	}
}

// HealthCheck performs a health check on the database
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}

	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
