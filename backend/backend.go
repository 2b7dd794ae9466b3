// Package backend defines the plug-in contract JULEA's storage daemon
// hosts: three Go interfaces, one per backend family, exactly mirroring
// the vtables in spec §6's "Backend plug-in contract". Per this module's
// explicit Non-goal, no posix/null/gio storage implementation ships here;
// package backend/memtest provides the minimal in-memory double the
// dispatch loop and client-batch tests run against, the way JULEA's own
// daemon/backend/null.c exists purely as a test double rather than a
// production backend.
package backend

import (
	"context"
	"time"

	"github.com/juleafs/julea/enginesql"
	"github.com/juleafs/julea/semantics"
)

// Type is one of the three backend families a module may implement.
type Type uint8

const (
	TypeObject Type = iota
	TypeKV
	TypeDB
)

func (t Type) String() string {
	switch t {
	case TypeObject:
		return "object"
	case TypeKV:
		return "kv"
	case TypeDB:
		return "db"
	default:
		return "unknown"
	}
}

// Component declares which side(s) of the daemon a backend module runs on.
type Component uint8

const (
	ComponentClient Component = 1 << iota
	ComponentServer
)

func (c Component) HostsClient() bool { return c&ComponentClient != 0 }
func (c Component) HostsServer() bool { return c&ComponentServer != 0 }

// Descriptor is the plug-in entry point's return value: what family of
// backend this module implements, and which daemon component(s) load it.
type Descriptor struct {
	Type      Type
	Component Component
}

// ObjectHandle identifies an open object, opaque to callers.
type ObjectHandle any

// Object is the vtable a backend module implements to persist arbitrary
// bytes at paths derived from (namespace, name).
type Object interface {
	Create(ctx context.Context, namespace, name string) (ObjectHandle, error)
	Open(ctx context.Context, namespace, name string) (ObjectHandle, error)
	Delete(ctx context.Context, h ObjectHandle) error
	Close(ctx context.Context, h ObjectHandle) error
	Status(ctx context.Context, h ObjectHandle) (mtime time.Time, size uint64, err error)
	Sync(ctx context.Context, h ObjectHandle) error
	Read(ctx context.Context, h ObjectHandle, buf []byte, offset uint64) (n int, err error)
	Write(ctx context.Context, h ObjectHandle, buf []byte, offset uint64) (n int, err error)
}

// KVBatch is an open key-value batch, opaque to callers.
type KVBatch any

// KVIterator walks the result of GetAll/GetByPrefix.
type KVIterator interface {
	Next(ctx context.Context) (key string, value []byte, ok bool, err error)
	Close() error
}

// KV is the vtable a backend module implements to persist key→value
// pairs, scoped per namespace.
type KV interface {
	BatchStart(ctx context.Context, namespace string, sem semantics.Semantics) (KVBatch, error)
	BatchExecute(ctx context.Context, b KVBatch) error
	Put(ctx context.Context, b KVBatch, key string, value []byte) error
	Delete(ctx context.Context, b KVBatch, key string) error
	Get(ctx context.Context, b KVBatch, key string) ([]byte, error)
	GetAll(ctx context.Context, namespace string) (KVIterator, error)
	GetByPrefix(ctx context.Context, namespace, prefix string) (KVIterator, error)
}

// DB is the vtable the generic structured-data engine (package enginesql)
// satisfies. Unlike Object/KV, its batch/selector/row types are concrete
// (enginesql.Batch, enginesql.Selector, enginesql.Row) rather than opaque
// any, since enginesql is this module's only db implementation and the
// spec's db operations are typed in terms of those concepts already.
type DB interface {
	// NewConn returns a fresh worker-local connection for read-only calls
	// that fall outside a batch (SchemaGet, Query): those two ops read
	// committed state and never need a transaction of their own.
	NewConn() *enginesql.Conn
	BatchStart(ctx context.Context, namespace string, sem semantics.Semantics) (*enginesql.Batch, error)
	// BatchStartOn opens a batch on a caller-supplied Conn (typically the
	// server dispatch loop's per-connection handle) instead of minting a
	// fresh one, so the Conn's statement/schema caches persist across the
	// many batches one connection opens over its lifetime.
	BatchStartOn(ctx context.Context, conn *enginesql.Conn, namespace string, sem semantics.Semantics) (*enginesql.Batch, error)
	BatchExecute(ctx context.Context, b *enginesql.Batch) error
	BatchAbort(ctx context.Context, b *enginesql.Batch) error
	SchemaCreate(ctx context.Context, b *enginesql.Batch, schema *enginesql.Schema) error
	SchemaGet(ctx context.Context, conn *enginesql.Conn, namespace, name string) (*enginesql.Schema, error)
	SchemaDelete(ctx context.Context, b *enginesql.Batch, namespace, name string) error
	Insert(ctx context.Context, b *enginesql.Batch, schema *enginesql.Schema, entry enginesql.Row) (id uint64, err error)
	Update(ctx context.Context, b *enginesql.Batch, schema *enginesql.Schema, sel *enginesql.Selector, entry enginesql.Row) (n int64, err error)
	Delete(ctx context.Context, b *enginesql.Batch, schema *enginesql.Schema, sel *enginesql.Selector) (n int64, err error)
	Query(ctx context.Context, conn *enginesql.Conn, schema *enginesql.Schema, sel *enginesql.Selector) (*enginesql.Iterator, error)
}
