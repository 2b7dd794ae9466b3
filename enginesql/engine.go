package enginesql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/juleafs/julea/semantics"
)

// catalogueTable is the control table recording every schema this engine
// has created, mirroring the original's "schema_structure" bookkeeping
// table (sql-generic-ddl.c: sql_generic_schema_create).
const catalogueTable = "julea_schema_structure"

// Engine is the shared, per-process coordinator for one opened database: a
// connection pool, a DriverSpec describing that pool's dialect, and (for
// drivers that cannot interleave batches safely) a single global lock.
//
// Grounded on sql-generic-tcl.c's G_LOCK(sql_backend_lock), which guards
// the whole batch lifecycle for single-threaded client libraries.
type Engine struct {
	db     *sql.DB
	spec   *DriverSpec
	logger *slog.Logger

	mu sync.Mutex // held only when spec.SingleThreaded
}

// NewEngine wraps an already-open *sql.DB with the engine logic. Callers
// obtain db from a concrete dialect package (sqldriver/sqlite,
// sqldriver/mysql).
func NewEngine(db *sql.DB, spec *DriverSpec, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, spec: spec, logger: logger}
}

// EnsureCatalogue creates the schema-structure control table if it does
// not already exist. Must be called once before any SchemaCreate.
func (e *Engine) EnsureCatalogue(ctx context.Context) error {
	q := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (`+
			`%snamespace%s TEXT NOT NULL, `+
			`%sname%s TEXT NOT NULL, `+
			`%sfield%s TEXT NOT NULL, `+
			`%stype%s INT NOT NULL)`,
		catalogueTable,
		e.spec.Quote, e.spec.Quote,
		e.spec.Quote, e.spec.Quote,
		e.spec.Quote, e.spec.Quote,
		e.spec.Quote, e.spec.Quote,
	)
	if _, err := e.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("enginesql: ensure catalogue: %w", err)
	}
	return nil
}

// NewConn returns a fresh worker-local Conn over this engine's pool.
func (e *Engine) NewConn() *Conn {
	return newConn(e)
}

// lock acquires the engine-wide lock when the driver demands single
// threading, and returns the matching unlock func (a no-op otherwise).
func (e *Engine) lock() func() {
	if !e.spec.SingleThreaded {
		return func() {}
	}
	e.mu.Lock()
	return e.mu.Unlock
}

// Close closes the underlying pool.
func (e *Engine) Close() error { return e.db.Close() }

// The methods below give *Engine the shape of backend.DB (package backend
// depends on enginesql, not the reverse, so the interface itself lives
// there; these are just the package-level operation funcs promoted to
// methods for that wiring).

func (e *Engine) BatchStart(ctx context.Context, namespace string, sem semantics.Semantics) (*Batch, error) {
	return BatchStart(ctx, e, namespace, sem)
}

// BatchStartOn opens a batch on an existing *Conn (see BatchStartOn's
// package-level doc), so its statement/schema caches outlive this single
// batch.
func (e *Engine) BatchStartOn(ctx context.Context, conn *Conn, namespace string, sem semantics.Semantics) (*Batch, error) {
	return BatchStartOn(ctx, conn, namespace, sem)
}

func (e *Engine) BatchExecute(ctx context.Context, b *Batch) error { return b.Execute(ctx) }

func (e *Engine) BatchAbort(ctx context.Context, b *Batch) error { return b.Abort(ctx) }

func (e *Engine) SchemaCreate(ctx context.Context, b *Batch, schema *Schema) error {
	return SchemaCreate(ctx, b, schema)
}

func (e *Engine) SchemaGet(ctx context.Context, conn *Conn, namespace, name string) (*Schema, error) {
	return SchemaGet(ctx, conn, namespace, name)
}

func (e *Engine) SchemaDelete(ctx context.Context, b *Batch, namespace, name string) error {
	return SchemaDelete(ctx, b, namespace, name)
}

func (e *Engine) Insert(ctx context.Context, b *Batch, schema *Schema, entry Row) (uint64, error) {
	return Insert(ctx, b, schema, entry)
}

func (e *Engine) Update(ctx context.Context, b *Batch, schema *Schema, sel *Selector, entry Row) (int64, error) {
	return Update(ctx, b, schema, sel, entry)
}

func (e *Engine) Delete(ctx context.Context, b *Batch, schema *Schema, sel *Selector) (int64, error) {
	return Delete(ctx, b, schema, sel)
}

func (e *Engine) Query(ctx context.Context, conn *Conn, schema *Schema, sel *Selector) (*Iterator, error) {
	return Query(ctx, conn, schema, sel)
}
