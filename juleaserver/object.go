package juleaserver

import (
	"context"
	"net"

	"github.com/juleafs/julea/semantics"
	"github.com/juleafs/julea/wire"
)

// dispatchObject routes one object-family message, mirroring loop.c's
// J_MESSAGE_OBJECT_* cases.
func (s *Server) dispatchObject(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	switch rd.Opcode() {
	case wire.OpObjectCreate:
		return s.handleObjectCreate(ctx, conn, rd, cs)
	case wire.OpObjectDelete:
		return s.handleObjectDelete(ctx, conn, rd, cs)
	case wire.OpObjectRead:
		return s.handleObjectRead(ctx, conn, rd, cs)
	case wire.OpObjectWrite:
		return s.handleObjectWrite(ctx, conn, rd, cs)
	case wire.OpObjectStatus:
		return s.handleObjectStatus(ctx, conn, rd, cs)
	default:
		return writeErrorReply(conn, rd, errUnhandledOpcode(rd.Opcode()))
	}
}

func (s *Server) handleObjectCreate(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem := rd.Semantics()
	reply := wantsSafetyReply(sem)

	b := wire.NewBuilder(wire.OpObjectCreate, rd.Header.ID, 0)
	b.SetReply()

	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	for i := uint32(0); i < rd.Count(); i++ {
		name, err := rd.String()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		h, cerr := s.ctx.Object.Create(ctx, namespace, name)
		if cerr == nil {
			cs.stats.FilesCreated.Add(1)
			if sem.Safety() == semantics.SafetyStorage {
				_ = s.ctx.Object.Sync(ctx, h)
				cs.stats.Sync.Add(1)
			}
			_ = s.ctx.Object.Close(ctx, h)
		}

		if reply {
			b.AddOperation(0)
		}
	}

	if !reply {
		return nil
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

func (s *Server) handleObjectDelete(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem := rd.Semantics()
	reply := wantsSafetyReply(sem)

	b := wire.NewBuilder(wire.OpObjectDelete, rd.Header.ID, 0)
	b.SetReply()

	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	for i := uint32(0); i < rd.Count(); i++ {
		name, err := rd.String()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		if h, oerr := s.ctx.Object.Open(ctx, namespace, name); oerr == nil {
			if derr := s.ctx.Object.Delete(ctx, h); derr == nil {
				cs.stats.FilesDeleted.Add(1)
			}
		}

		if reply {
			b.AddOperation(0)
		}
	}

	if !reply {
		return nil
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

// handleObjectRead mirrors loop.c's J_MESSAGE_OBJECT_READ: the read
// destination buffer for each operation is carved from the connection's
// arena; when a requested length exceeds the arena's total capacity, the
// operation reports zero bytes read (matching the original's "length >
// memory_chunk_size" branch) rather than failing the whole message; when
// the arena is merely exhausted by prior operations in this message, the
// in-progress reply is flushed and the arena reset before continuing.
func (s *Server) handleObjectRead(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	name, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	h, openErr := s.ctx.Object.Open(ctx, namespace, name)

	b := wire.NewBuilder(wire.OpObjectRead, rd.Header.ID, 0)
	b.SetReply()

	flush := func() error {
		msg := b.Finalize()
		if _, werr := msg.WriteTo(conn); werr != nil {
			return werr
		}
		b = wire.NewBuilder(wire.OpObjectRead, rd.Header.ID, 0)
		b.SetReply()
		cs.arena.Reset()
		return nil
	}

	for i := uint32(0); i < rd.Count(); i++ {
		length, err := rd.Uint64()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}
		offset, err := rd.Uint64()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		if int(length) > cs.arena.Cap() {
			b.AddOperation(8)
			b.AppendUint64(0)
			continue
		}

		buf := cs.arena.Get(int(length))
		if buf == nil {
			if ferr := flush(); ferr != nil {
				return ferr
			}
			buf = cs.arena.Get(int(length))
		}

		var n int
		if openErr == nil {
			n, _ = s.ctx.Object.Read(ctx, h, buf, offset)
		}
		cs.stats.BytesRead.Add(int64(n))

		b.AddOperation(8)
		b.AppendUint64(uint64(n))
		if n > 0 {
			b.AttachSend(buf[:n])
		}
		cs.stats.BytesSent.Add(int64(n))
	}

	if openErr == nil {
		_ = s.ctx.Object.Close(ctx, h)
	}

	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	cs.arena.Reset()
	return werr
}

// handleObjectWrite mirrors J_MESSAGE_OBJECT_WRITE: each operation's raw
// bytes arrive as a length-prefixed side payload immediately following
// the header the client attached it after (§4.1's "side payloads are
// streamed on demand by whichever side consumes them"), each read into a
// buffer of its own; the arena is not used for write data, only reset
// once the message is handled.
func (s *Server) handleObjectWrite(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem := rd.Semantics()
	reply := wantsSafetyReply(sem)

	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	name, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	h, openErr := s.ctx.Object.Open(ctx, namespace, name)

	b := wire.NewBuilder(wire.OpObjectWrite, rd.Header.ID, 0)
	b.SetReply()

	for i := uint32(0); i < rd.Count(); i++ {
		length, err := rd.Uint64()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}
		offset, err := rd.Uint64()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		data, err := wire.ReadSidePayload(conn)
		if err != nil {
			return err
		}
		cs.stats.BytesReceived.Add(int64(len(data)))
		_ = length // length is redundant with len(data); kept for wire symmetry with the read request shape

		var n int
		if openErr == nil {
			n, _ = s.ctx.Object.Write(ctx, h, data, offset)
		}
		cs.stats.BytesWritten.Add(int64(n))

		if reply {
			b.AddOperation(8)
			b.AppendUint64(uint64(n))
		}
	}

	if sem.Safety() == semantics.SafetyStorage && openErr == nil {
		_ = s.ctx.Object.Sync(ctx, h)
		cs.stats.Sync.Add(1)
	}
	if openErr == nil {
		_ = s.ctx.Object.Close(ctx, h)
	}

	if !reply {
		cs.arena.Reset()
		return nil
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	cs.arena.Reset()
	return werr
}

func (s *Server) handleObjectStatus(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	b := wire.NewBuilder(wire.OpObjectStatus, rd.Header.ID, 0)
	b.SetReply()

	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	for i := uint32(0); i < rd.Count(); i++ {
		name, err := rd.String()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		var mtimeUsec int64
		var size uint64
		if h, oerr := s.ctx.Object.Open(ctx, namespace, name); oerr == nil {
			if mtime, sz, serr := s.ctx.Object.Status(ctx, h); serr == nil {
				mtimeUsec = mtime.UnixMicro()
				size = sz
				cs.stats.FilesStated.Add(1)
			}
			_ = s.ctx.Object.Close(ctx, h)
		}

		b.AddOperation(16)
		b.AppendUint64(uint64(mtimeUsec))
		b.AppendUint64(size)
	}

	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

func errUnhandledOpcode(op wire.Opcode) error {
	return &unhandledOpcodeError{op: op}
}

type unhandledOpcodeError struct{ op wire.Opcode }

func (e *unhandledOpcodeError) Error() string {
	return "juleaserver: unhandled opcode " + opString(e.op)
}

func opString(op wire.Opcode) string {
	fam, ok := wire.FamilyOf(op)
	if !ok {
		return "unknown"
	}
	return fam.String()
}
