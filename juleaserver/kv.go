package juleaserver

import (
	"context"
	"net"

	"github.com/juleafs/julea/backend"
	"github.com/juleafs/julea/wire"
)

// dispatchKV routes one kv-family message, mirroring loop.c's
// J_MESSAGE_KV_* cases. Put/Delete are batched through one
// backend.KV.BatchStart/BatchExecute pair per message, the way the
// original accumulates operations against a single GDBusBatch before
// executing it once; Get opens a batch for its lookups but never executes
// it, and GetAll/GetByPrefix read directly, unbatched.
func (s *Server) dispatchKV(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	switch rd.Opcode() {
	case wire.OpKVPut:
		return s.handleKVPut(ctx, conn, rd, cs)
	case wire.OpKVDelete:
		return s.handleKVDelete(ctx, conn, rd, cs)
	case wire.OpKVGet:
		return s.handleKVGet(ctx, conn, rd, cs)
	case wire.OpKVGetAll:
		return s.handleKVGetAll(ctx, conn, rd)
	case wire.OpKVGetByPrefix:
		return s.handleKVGetByPrefix(ctx, conn, rd)
	default:
		return writeErrorReply(conn, rd, errUnhandledOpcode(rd.Opcode()))
	}
}

func (s *Server) handleKVPut(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem := rd.Semantics()
	reply := wantsSafetyReply(sem)

	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	batch, berr := s.ctx.KV.BatchStart(ctx, namespace, sem)
	if berr != nil {
		return writeErrorReply(conn, rd, berr)
	}

	b := wire.NewBuilder(wire.OpKVPut, rd.Header.ID, 0)
	b.SetReply()

	for i := uint32(0); i < rd.Count(); i++ {
		key, err := rd.String()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}
		value, err := rd.Bytes()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		perr := s.ctx.KV.Put(ctx, batch, key, value)
		if perr == nil {
			cs.stats.BytesWritten.Add(int64(len(value)))
		}

		if reply {
			b.AddOperation(0)
			if perr != nil {
				b.AppendString(perr.Error())
			} else {
				b.AppendString("")
			}
		}
	}

	execErr := s.ctx.KV.BatchExecute(ctx, batch)
	if execErr != nil {
		return writeErrorReply(conn, rd, execErr)
	}

	if !reply {
		return nil
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

func (s *Server) handleKVDelete(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem := rd.Semantics()
	reply := wantsSafetyReply(sem)

	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	batch, berr := s.ctx.KV.BatchStart(ctx, namespace, sem)
	if berr != nil {
		return writeErrorReply(conn, rd, berr)
	}

	b := wire.NewBuilder(wire.OpKVDelete, rd.Header.ID, 0)
	b.SetReply()

	for i := uint32(0); i < rd.Count(); i++ {
		key, err := rd.String()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		derr := s.ctx.KV.Delete(ctx, batch, key)

		if reply {
			b.AddOperation(0)
			if derr != nil {
				b.AppendString(derr.Error())
			} else {
				b.AppendString("")
			}
		}
	}

	if execErr := s.ctx.KV.BatchExecute(ctx, batch); execErr != nil {
		return writeErrorReply(conn, rd, execErr)
	}

	if !reply {
		return nil
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

func (s *Server) handleKVGet(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	batch, berr := s.ctx.KV.BatchStart(ctx, namespace, rd.Semantics())
	if berr != nil {
		return writeErrorReply(conn, rd, berr)
	}

	b := wire.NewBuilder(wire.OpKVGet, rd.Header.ID, 0)
	b.SetReply()

	for i := uint32(0); i < rd.Count(); i++ {
		key, err := rd.String()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		value, gerr := s.ctx.KV.Get(ctx, batch, key)
		b.AddOperation(8 + len(value))
		if gerr != nil {
			b.AppendUint64(0)
			continue
		}
		cs.stats.BytesRead.Add(int64(len(value)))
		b.AppendBytes(value)
	}

	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

func (s *Server) handleKVGetAll(ctx context.Context, conn net.Conn, rd *wire.Reader) error {
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	return s.streamKVIterator(ctx, conn, rd, func() (backend.KVIterator, error) {
		return s.ctx.KV.GetAll(ctx, namespace)
	})
}

func (s *Server) handleKVGetByPrefix(ctx context.Context, conn net.Conn, rd *wire.Reader) error {
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	prefix, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	return s.streamKVIterator(ctx, conn, rd, func() (backend.KVIterator, error) {
		return s.ctx.KV.GetByPrefix(ctx, namespace, prefix)
	})
}

// streamKVIterator drains a backend.KVIterator into one reply operation
// per key/value pair, mirroring loop.c's J_MESSAGE_KV_GET_ALL /
// J_MESSAGE_KV_GET_BY_PREFIX cases, which write one operation per result
// as the iterator yields it rather than buffering the whole result set.
func (s *Server) streamKVIterator(ctx context.Context, conn net.Conn, rd *wire.Reader, open func() (backend.KVIterator, error)) error {
	it, err := open()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	defer it.Close()

	b := wire.NewBuilder(rd.Opcode(), rd.Header.ID, 0)
	b.SetReply()

	for {
		key, value, ok, nerr := it.Next(ctx)
		if nerr != nil {
			return writeErrorReply(conn, rd, nerr)
		}
		if !ok {
			break
		}
		b.AddOperation(len(key) + 1 + 8 + len(value))
		b.AppendString(key)
		b.AppendBytes(value)
	}

	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}
