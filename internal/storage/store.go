package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
//
// When to use:
//   - Use Config when constructing a Store via Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - Open returns an error if Kind is empty or unsupported.
type Config struct {
	Kind string
	DSN  string
}

// Session executes named statements from the backend's statement table.
//
// Statements are addressed by Op, never by SQL text: the backend owns the
// dialect and the loader only knows what it wants done.
type Session interface {
	// Exec runs a statement that returns no rows. Errors are classified with
	// ErrDuplicateKey / ErrConstraint where the backend can tell.
	Exec(ctx context.Context, op Op, args ...any) error

	// QueryOne runs a statement expected to yield at most one row and scans it
	// into dest. found is false (with a nil error) when there is no row.
	QueryOne(ctx context.Context, op Op, args []any, dest ...any) (found bool, err error)
}

// Querier is the read half of Session. The fact resolver only needs this.
type Querier interface {
	QueryOne(ctx context.Context, op Op, args []any, dest ...any) (found bool, err error)
}

// Tx is a Session bound to one transaction.
//
// Edge cases:
//   - Rollback after a successful Commit is a no-op, so callers may always
//     defer Rollback.
type Tx interface {
	Session
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is a backend-agnostic handle to the warehouse database.
//
// IMPORTANT: This interface is intentionally minimal. Each backend implements
// insert-or-ignore in its own idiomatic way (Postgres ON CONFLICT, SQL Server
// NOT EXISTS, etc).
type Store interface {
	// Begin opens a transaction. The loader uses one per input file.
	Begin(ctx context.Context) (Tx, error)

	// EnsureTables creates tables and constraints that do not exist yet.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// Dialect reports the registered backend kind ("postgres", "sqlite", ...).
	Dialect() string

	// Close releases backend resources. Treat it as "call once".
	Close()
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
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

// Open constructs a Store using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. Open takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds in sorted order.
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
