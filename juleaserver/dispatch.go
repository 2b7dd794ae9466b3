package juleaserver

import (
	"context"
	"net"

	"github.com/juleafs/julea"
	"github.com/juleafs/julea/semantics"
	"github.com/juleafs/julea/wire"
)

// dispatch routes one decoded message to the handler for its opcode,
// after validating this daemon hosts the backend family the opcode
// belongs to (§4.2 step 2). A transport-level error return is fatal for
// the connection (caller closes the socket); protocol-level errors (an
// unknown opcode, or a family this daemon doesn't host) are written back
// as a single-operation error reply and the connection stays open.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	family, known := wire.FamilyOf(rd.Opcode())
	if !known {
		return writeErrorReply(conn, rd, julea.ErrUnknownOpcode)
	}

	switch family {
	case wire.FamilyMeta:
		return s.dispatchMeta(ctx, conn, rd, cs)
	case wire.FamilyObject:
		if !s.ctx.HostsObject() {
			return writeErrorReply(conn, rd, julea.ErrWrongBackendHere)
		}
		return s.dispatchObject(ctx, conn, rd, cs)
	case wire.FamilyKV:
		if !s.ctx.HostsKV() {
			return writeErrorReply(conn, rd, julea.ErrWrongBackendHere)
		}
		return s.dispatchKV(ctx, conn, rd, cs)
	case wire.FamilyDB:
		if !s.ctx.HostsDB() {
			return writeErrorReply(conn, rd, julea.ErrWrongBackendHere)
		}
		return s.dispatchDB(ctx, conn, rd, cs)
	default:
		return writeErrorReply(conn, rd, julea.ErrUnknownOpcode)
	}
}

// writeErrorReply sends a single-operation reply carrying err's text as a
// string record, per §7 ("Protocol errors... reported once as a
// single-operation error reply; connection stays up").
func writeErrorReply(conn net.Conn, rd *wire.Reader, err error) error {
	b := wire.NewBuilder(rd.Opcode(), rd.Header.ID, 0)
	b.SetReply()
	b.AddOperation(0)
	b.AppendString(err.Error())
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

// wantsSafetyReply reports whether sem's safety axis is at least
// *network*, the condition under which object/kv write-family opcodes
// reserve a reply slot at all (§4.2 step 3; §9 "Clients at none MAY
// receive no reply at all").
func wantsSafetyReply(sem semantics.Semantics) bool {
	network, storage := sem.FlagBits()
	return network || storage
}
