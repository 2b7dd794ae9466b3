// Package batchclient implements JULEA's client-side batch engine (§4.4,
// C5): callers accumulate operations on a Batch, and Execute partitions
// them by target server, coalesces same-opcode operations bound for the
// same server into one outbound wire.Message, and dispatches one message
// run per server in parallel via golang.org/x/sync/errgroup, the teacher's
// own fan-out idiom. It is the client-side mirror of juleaserver: the two
// packages share wire and wiredb so neither can drift from the other's
// framing.
//
// The C client library this package would normally be grounded on
// (client/) was filtered out of the retrieval pack except for
// client/item/jitem.c, so the message-grouping and reply-demultiplexing
// shape below is derived from §4.4's contract text directly: each Execute
// dials one fresh connection per target server and closes it when that
// server's messages are done (no client-side connection pool survived the
// filter to ground one on).
package batchclient

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/juleafs/julea/semantics"
	"github.com/juleafs/julea/wire"
)

// idCounter hands out the wire message IDs Execute stamps on each
// outbound request; replies on the same connection are consumed
// synchronously so the value only needs to be unique enough to show up
// usefully in logs, not to correlate concurrent in-flight requests.
var idCounter atomic.Uint64

func nextID() uint64 { return idCounter.Add(1) }

// OpError pairs a failed operation's index within its Batch with the error
// its completion callback reported, per §4.4 "Replies": "partial failure
// surfaces as batch.errors: a vector of (op-index, error) pairs".
type OpError struct {
	Index int
	Err   error
}

func (e OpError) Error() string { return e.Err.Error() }
func (e OpError) Unwrap() error { return e.Err }

// Encode appends one operation's record to b: the op's own AddOperation
// call followed by whatever Append* calls the opcode's wire shape needs.
type Encode func(b *wire.Builder)

// Decode parses this operation's reply record from rd, which is already
// positioned at the start of the record (the decoder must consume exactly
// what it appended and no more). conn is passed alongside rd because a
// handful of replies (object reads) attach their payload as a trailing
// side payload rather than inline record bytes; most decoders ignore it.
type Decode func(rd *wire.Reader, conn net.Conn) error

// Op is one operation queued on a Batch, mirroring §4.4's "(target
// server-index derivable from its key, opcode, encoded record bytes,
// completion-callback)" tuple.
type Op struct {
	// Server is the "host:port" address this op targets.
	Server string
	// Opcode identifies the wire operation family and kind.
	Opcode wire.Opcode
	// GroupKey disambiguates operations that share (Server, Opcode) but
	// cannot share one outbound message because their Header writes
	// different leading fields (e.g. two db.Insert ops against different
	// schemas). Ops with equal (Server, Opcode, GroupKey) are coalesced
	// into a single message. Leave empty when Opcode alone determines the
	// message's leading fields (object/kv family messages carry only a
	// namespace, itself part of GroupKey when it varies).
	GroupKey string
	// Header appends the message-wide leading fields shared by every op
	// in this op's group (e.g. the namespace string, or for db mutations
	// the atomicity byte followed by namespace and schema name). Called
	// exactly once per outbound message, using the first op placed in
	// that group.
	Header Encode
	// Body appends this op's own record: an AddOperation call followed by
	// whatever payload the opcode needs.
	Body Encode
	// SidePayload, if non-nil, is attached as a side payload immediately
	// after Body runs (object writes carry their bulk bytes this way).
	SidePayload []byte
	// Decode parses this op's reply record, or is nil if the opcode never
	// replies with op-specific data (nothing to do beyond noting success).
	Decode Decode
}

// Dialer opens the connection a Batch uses to reach one server. The
// default is a plain net.Dialer; tests substitute an in-memory pipe.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

type netDialer struct{}

func (netDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// NewNetDialer returns the plain TCP Dialer Batch uses by default,
// exported for callers of the standalone streaming helpers (KVGetAll,
// KVGetByPrefix, DBQuery) that take a Dialer directly.
func NewNetDialer() Dialer { return netDialer{} }

// Batch is an ordered list of operations sharing one semantics descriptor
// (§3 "Batch"), executed by Execute.
type Batch struct {
	sem    semantics.Semantics
	dialer Dialer
	ops    []Op
	errs   []OpError
}

// New starts an empty batch carrying sem, the semantics every grouped
// message's safety flag bits and (for db mutations) atomicity byte derive
// from.
func New(sem semantics.Semantics) *Batch {
	return &Batch{sem: sem, dialer: netDialer{}}
}

// WithDialer overrides the default net.Dialer-backed connection strategy,
// for tests.
func (b *Batch) WithDialer(d Dialer) *Batch {
	b.dialer = d
	return b
}

// Add queues op, returning its index within the batch (stable across
// Execute, used to correlate OpError.Index back to the caller's own op
// list).
func (b *Batch) Add(op Op) int {
	b.ops = append(b.ops, op)
	return len(b.ops) - 1
}

// Len reports how many operations have been queued.
func (b *Batch) Len() int { return len(b.ops) }

// Errors returns the (op-index, error) pairs recorded by the most recent
// Execute call, in the order they were encountered.
func (b *Batch) Errors() []OpError { return b.errs }

// Execute dispatches every queued operation and returns the first error
// encountered, if any (§4.4 "execute returns the first error but the
// vector is available for introspection"). Messages to distinct servers
// run concurrently; within one server, messages run serially in the order
// their group was first populated, preserving per-connection op ordering
// (§5 "operations targeting the same server preserve their relative
// order").
func (b *Batch) Execute(ctx context.Context) error {
	b.errs = nil
	plan := planServers(b.ops)

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var collected []OpError
	for _, sp := range plan {
		sp := sp
		g.Go(func() error {
			errs, err := b.runServer(gctx, sp)
			if len(errs) > 0 {
				mu.Lock()
				collected = append(collected, errs...)
				mu.Unlock()
			}
			return err
		})
	}
	runErr := g.Wait()
	b.errs = append(b.errs, collected...)
	if runErr != nil {
		return runErr
	}
	if len(b.errs) > 0 {
		return b.errs[0]
	}
	return nil
}

// runServer dials sp.addr once and runs every group destined for it, in
// order, over that one connection.
func (b *Batch) runServer(ctx context.Context, sp serverPlan) ([]OpError, error) {
	conn, err := b.dialer.Dial(ctx, sp.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var errs []OpError
	for _, grp := range sp.groups {
		groupErrs, err := b.runGroup(conn, grp)
		errs = append(errs, groupErrs...)
		if err != nil {
			return errs, err
		}
	}
	return errs, nil
}

// runGroup sends one coalesced message for grp's operations and, unless
// the opcode/semantics combination suppresses replies, reads back one
// reply message and dispatches its records, in order, to the ops' Decode.
// Only that one reply message is read: when it holds fewer records than
// len(grp.indices) (a server that flushed a partial reply, or a
// single-record error reply), the remaining ops are not decoded.
func (b *Batch) runGroup(conn net.Conn, grp opGroup) ([]OpError, error) {
	first := b.ops[grp.indices[0]]

	builder := wire.NewBuilder(first.Opcode, nextID(), 0)
	builder.SetSafety(b.sem)
	if first.Header != nil {
		first.Header(builder)
	}
	for _, idx := range grp.indices {
		b.ops[idx].Body(builder)
		if sp := b.ops[idx].SidePayload; sp != nil {
			builder.AttachSend(sp)
		}
	}

	msg := builder.Finalize()
	if _, err := msg.WriteTo(conn); err != nil {
		return nil, err
	}

	if !expectsReply(first.Opcode, b.sem) {
		return nil, nil
	}

	rd, err := wire.ReadFrom(conn)
	if err != nil {
		return nil, err
	}

	var errs []OpError
	for i, idx := range grp.indices {
		if i >= int(rd.Count()) {
			break
		}
		if b.ops[idx].Decode == nil {
			continue
		}
		if derr := b.ops[idx].Decode(rd, conn); derr != nil {
			errs = append(errs, OpError{Index: idx, Err: derr})
		}
	}
	return errs, nil
}

// expectsReply reports whether a group's opcode produces a reply message
// at all. Object/kv write-family opcodes only reply when the semantics'
// safety axis requests it (§9); every other opcode always replies.
func expectsReply(op wire.Opcode, sem semantics.Semantics) bool {
	switch op {
	case wire.OpObjectCreate, wire.OpObjectDelete, wire.OpObjectWrite,
		wire.OpKVPut, wire.OpKVDelete:
		network, storage := sem.FlagBits()
		return network || storage
	default:
		return true
	}
}

