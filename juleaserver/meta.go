package juleaserver

import (
	"context"
	"net"

	"github.com/juleafs/julea"
	"github.com/juleafs/julea/wire"
)

// dispatchMeta handles OpNone/OpPing/OpStatistics, mirroring loop.c's
// J_MESSAGE_PING and J_MESSAGE_STATISTICS cases (§8 scenario 1).
func (s *Server) dispatchMeta(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	switch rd.Opcode() {
	case wire.OpNone:
		return nil
	case wire.OpPing:
		return s.handlePing(conn, rd)
	case wire.OpStatistics:
		return s.handleStatistics(conn, rd, cs)
	default:
		return writeErrorReply(conn, rd, julea.ErrUnknownOpcode)
	}
}

// handlePing replies with one operation record per hosted backend family
// ("object", "kv", "db"), exactly as loop.c's J_MESSAGE_PING case does
// for jd_object_backend/jd_kv_backend (extended here with jd_db_backend,
// which the original's ping handler never reported).
func (s *Server) handlePing(conn net.Conn, rd *wire.Reader) error {
	b := wire.NewBuilder(wire.OpPing, rd.Header.ID, 0)
	b.SetReply()

	if s.ctx.HostsObject() {
		b.AddOperation(0)
		b.AppendString("object")
	}
	if s.ctx.HostsKV() {
		b.AddOperation(0)
		b.AppendString("kv")
	}
	if s.ctx.HostsDB() {
		b.AddOperation(0)
		b.AppendString("db")
	}

	msg := b.Finalize()
	_, err := msg.WriteTo(conn)
	return err
}

// handleStatistics replies with the eight §4.2 counters: this
// connection's own tally if the request's first byte is zero, or the
// daemon-wide total (folded from every closed connection so far)
// otherwise. Mirrors J_MESSAGE_STATISTICS's get_all flag.
func (s *Server) handleStatistics(conn net.Conn, rd *wire.Reader, cs *connState) error {
	getAll, err := rd.Uint8()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	var snap = cs.stats.Snapshot()
	if getAll != 0 {
		snap = s.ctx.Statistics()
	}

	b := wire.NewBuilder(wire.OpStatistics, rd.Header.ID, 64)
	b.SetReply()
	b.AddOperation(8 * 8)
	b.AppendUint64(snap.FilesCreated)
	b.AppendUint64(snap.FilesDeleted)
	b.AppendUint64(snap.FilesStated)
	b.AppendUint64(snap.Sync)
	b.AppendUint64(snap.BytesRead)
	b.AppendUint64(snap.BytesWritten)
	b.AppendUint64(snap.BytesReceived)
	b.AppendUint64(snap.BytesSent)

	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}
