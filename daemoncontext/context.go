// Package daemoncontext implements design note C9: replacing JULEA's
// global mutable backend pointers (jd_object_backend, jd_kv_backend,
// jd_db_backend in original_source/server/server.c) with a single
// explicit, immutable value constructed once during startup and passed
// down by reference to every connection handler. Because it never
// mutates after construction, reads need no locking; only the daemon-wide
// statistics it carries are mutated, and those are guarded by their own
// mutex (package stats documents the discipline).
package daemoncontext

import (
	"log/slog"
	"sync"

	"github.com/juleafs/julea/backend"
	"github.com/juleafs/julea/stats"
)

// Context is the immutable set of backends and shared resources every
// server connection dispatches against.
type Context struct {
	Object backend.Object
	KV     backend.KV
	DB     backend.DB

	Logger *slog.Logger

	statsMu sync.Mutex
	stats   stats.Counters
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithObject registers the object backend this daemon hosts.
func WithObject(b backend.Object) Option { return func(c *Context) { c.Object = b } }

// WithKV registers the kv backend this daemon hosts.
func WithKV(b backend.KV) Option { return func(c *Context) { c.KV = b } }

// WithDB registers the db backend this daemon hosts.
func WithDB(b backend.DB) Option { return func(c *Context) { c.DB = b } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(c *Context) { c.Logger = l } }

// New constructs an immutable Context. A nil logger defaults to
// slog.Default().
func New(opts ...Option) *Context {
	c := &Context{Logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// HostsObject reports whether this daemon has an object backend loaded.
func (c *Context) HostsObject() bool { return c.Object != nil }

// HostsKV reports whether this daemon has a kv backend loaded.
func (c *Context) HostsKV() bool { return c.KV != nil }

// HostsDB reports whether this daemon has a db backend loaded.
func (c *Context) HostsDB() bool { return c.DB != nil }

// FoldStatistics folds a connection's per-connection counters into the
// daemon-wide total under the context's mutex, mirroring
// jd_statistics_mutex in original_source/server/server.c.
func (c *Context) FoldStatistics(conn *stats.Counters) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	conn.AddTo(&c.stats)
}

// Statistics returns a snapshot of the daemon-wide statistics
// accumulated from every connection that has closed so far.
func (c *Context) Statistics() stats.Snapshot {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats.Snapshot()
}
