package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnsupportedKind is returned by New when no backend is registered for the
// requested kind.
var ErrUnsupportedKind = errors.New("storage: unsupported kind")

// Config is the minimal configuration needed to open a warehouse.
//
// Kind selects a registered backend ("sqlite", "postgres", "mssql"). DSN is
// passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Warehouse is a relational store that the loader writes into and the
// verifier reads from.
//
// All writes go through a Tx so a load is atomic: callers Begin, do their
// work, and Commit. Each backend implements the same semantics in its own
// dialect.
type Warehouse interface {
	// Close releases backend resources. Callers should treat it as "call once".
	Close()

	// Begin opens a write transaction.
	Begin(ctx context.Context) (Tx, error)

	// CountRows returns SELECT COUNT(*) for table.
	CountRows(ctx context.Context, table string) (int64, error)

	// CountOrphans returns the number of non-NULL fk.Column values in table
	// that have no matching fk.RefColumn row in fk.RefTable.
	CountOrphans(ctx context.Context, table string, fk ForeignKeySpec) (int64, error)
}

// Tx is an open write transaction.
//
// After Commit or Rollback the Tx must not be used again. Rollback after a
// successful Commit is a no-op, so `defer tx.Rollback(ctx)` is always safe.
type Tx interface {
	// EnsureTables creates tables and their indexes when they do not exist.
	// Existing tables are left untouched.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// DeleteAll removes every row from table.
	DeleteAll(ctx context.Context, table string) error

	// InsertRows bulk-inserts rows aligned with columns and returns the number
	// of rows written. Backends split rows into statements that respect their
	// bind-parameter limits.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Factory opens a Warehouse for cfg.
type Factory func(ctx context.Context, cfg Config) (Warehouse, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind. Call it from an init() function in
// the backend package.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New opens a Warehouse using the factory registered for cfg.Kind.
//
// Safe for concurrent use with Register.
func New(ctx context.Context, cfg Config) (Warehouse, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RowsPerStatement returns how many rows of width columns fit in a single
// multi-row INSERT under a bind-parameter limit of maxParams. maxRows caps the
// result when positive. The result is at least 1.
func RowsPerStatement(columns, maxParams, maxRows int) int {
	n := maxParams
	if columns > 0 {
		n = maxParams / columns
	}
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	if n < 1 {
		n = 1
	}
	return n
}
