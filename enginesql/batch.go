package enginesql

import (
	"context"
	"fmt"

	"github.com/juleafs/julea"
	"github.com/juleafs/julea/semantics"
)

// Batch binds one client batch (§4.3, §7) to a backend transaction. Every
// CRUD method on Batch is poisoned the instant an internal operation
// fails: once poisoned, further calls return ErrBatchPoisoned immediately
// without touching the connection, matching scenario 4 of §8.
//
// Grounded on sql-generic-tcl.c's _backend_batch_start/execute/abort.
type Batch struct {
	conn      *Conn
	namespace string
	semantics semantics.Semantics

	unlock func()

	open     bool
	poisoned bool
	err      error
}

// BatchStart opens a new batch against namespace with the given
// semantics, on a fresh Conn of its own. Prefer BatchStartOn when the
// caller already holds a long-lived Conn (the server dispatch loop's
// per-connection handle, §4.3's "per thread"): starting a batch on a
// borrowed Conn is what lets its statement and schema caches survive
// across the many batches one connection opens over its lifetime.
func BatchStart(ctx context.Context, e *Engine, namespace string, sem semantics.Semantics) (*Batch, error) {
	return BatchStartOn(ctx, e.NewConn(), namespace, sem)
}

// BatchStartOn opens a new batch against namespace using an existing
// Conn instead of minting a fresh one. When sem.Atomicity() is atomic
// (§6), a transaction is opened immediately; for the none/operation
// atomicity levels, statements run directly against the pool and only
// DDL ever opens an ad hoc transaction of its own.
func BatchStartOn(ctx context.Context, conn *Conn, namespace string, sem semantics.Semantics) (*Batch, error) {
	unlock := conn.engine.lock()
	b := &Batch{conn: conn, namespace: namespace, semantics: sem, unlock: unlock}
	if sem.Atomicity() == semantics.AtomicityBatch {
		tx, err := conn.db.BeginTx(ctx, nil)
		if err != nil {
			unlock()
			return nil, fmt.Errorf("enginesql: batch start: %w", err)
		}
		conn.tx = tx
		b.open = true
	}
	return b, nil
}

// poison marks the batch unusable: any open transaction is rolled back,
// err is recorded, and the held lock (if any) is released. Idempotent.
func (b *Batch) poison(err error) error {
	if b.poisoned {
		return b.err
	}
	b.poisoned = true
	b.err = err
	if b.open && b.conn.tx != nil {
		_ = b.conn.tx.Rollback()
		b.conn.tx = nil
		b.open = false
	}
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
	return err
}

// checkOpen returns ErrBatchPoisoned if the batch has already failed.
func (b *Batch) checkOpen() error {
	if b.poisoned {
		return julea.ErrBatchPoisoned
	}
	return nil
}

// Execute commits the batch's transaction (if one is open) and releases
// any held lock. Calling Execute on an already-poisoned batch returns the
// error that poisoned it, without attempting to commit.
func (b *Batch) Execute(ctx context.Context) error {
	if b.poisoned {
		return b.err
	}
	if b.open && b.conn.tx != nil {
		if err := b.conn.tx.Commit(); err != nil {
			return b.poison(fmt.Errorf("enginesql: batch execute: commit: %w", err))
		}
		b.conn.tx = nil
		b.open = false
	}
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
	return nil
}

// Abort rolls back any open transaction and marks the batch poisoned with
// ErrBatchPoisoned, so subsequent calls fail fast.
func (b *Batch) Abort(ctx context.Context) error {
	return b.poison(julea.ErrBatchPoisoned)
}

// Fail poisons the batch with err, as if one of its own CRUD methods had
// failed. Callers outside this package use it to propagate a failure that
// happened before reaching the engine (a malformed wire payload, say) into
// the same poison-and-rollback path a driver error would take.
func (b *Batch) Fail(err error) error {
	return b.poison(err)
}

// breakOutForDDL commits any open batch transaction so DDL can run ad
// hoc, returning a resume func that reopens a transaction matching the
// batch's original atomicity once DDL and catalogue writes are done.
// Mirrors "open a transaction (or break out of the batch transaction)" in
// sql-generic-ddl.c.
func (b *Batch) breakOutForDDL(ctx context.Context) (resume func() error, err error) {
	wasOpen := b.open && b.conn.tx != nil
	if wasOpen {
		if err := b.conn.tx.Commit(); err != nil {
			return nil, fmt.Errorf("enginesql: break out for ddl: %w", err)
		}
		b.conn.tx = nil
		b.open = false
	}
	return func() error {
		if !wasOpen {
			return nil
		}
		tx, err := b.conn.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("enginesql: resume batch tx: %w", err)
		}
		b.conn.tx = tx
		b.open = true
		return nil
	}, nil
}
