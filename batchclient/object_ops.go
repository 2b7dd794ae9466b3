package batchclient

import (
	"net"

	"github.com/juleafs/julea/wire"
)

// objectHeader returns the Header func every object-family op shares:
// write the namespace once per message, mirroring handleObjectCreate/
// handleObjectDelete's single leading rd.String() read.
func objectHeader(namespace string) Encode {
	return func(b *wire.Builder) { b.AppendString(namespace) }
}

// ObjectCreate queues a create for (namespace, name). Ops sharing a
// namespace on the same server coalesce into one message.
func ObjectCreate(server, namespace, name string) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpObjectCreate,
		GroupKey: namespace,
		Header:   objectHeader(namespace),
		Body: func(b *wire.Builder) {
			b.AddOperation(len(name) + 1)
			b.AppendString(name)
		},
		Decode: func(rd *wire.Reader, conn net.Conn) error { return nil },
	}
}

// ObjectDelete queues a delete for (namespace, name).
func ObjectDelete(server, namespace, name string) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpObjectDelete,
		GroupKey: namespace,
		Header:   objectHeader(namespace),
		Body: func(b *wire.Builder) {
			b.AddOperation(len(name) + 1)
			b.AppendString(name)
		},
		Decode: func(rd *wire.Reader, conn net.Conn) error { return nil },
	}
}

// ObjectRead queues one [offset, offset+length) read range against
// (namespace, name). Because handleObjectRead opens the object once per
// message and reads every op's range against that single handle, ops
// targeting different (namespace, name) pairs must not share a group:
// GroupKey carries both. result receives the bytes actually read (which
// may be shorter than length, per §4.1's short-read semantics).
func ObjectRead(server, namespace, name string, length, offset uint64, result *[]byte) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpObjectRead,
		GroupKey: namespace + "\x00" + name,
		Header: func(b *wire.Builder) {
			b.AppendString(namespace)
			b.AppendString(name)
		},
		Body: func(b *wire.Builder) {
			b.AddOperation(16)
			b.AppendUint64(length)
			b.AppendUint64(offset)
		},
		Decode: func(rd *wire.Reader, conn net.Conn) error {
			n, err := rd.Uint64()
			if err != nil {
				return err
			}
			if n == 0 {
				*result = nil
				return nil
			}
			data, err := wire.ReadSidePayload(conn)
			if err != nil {
				return err
			}
			*result = data
			return nil
		},
	}
}

// ObjectWrite queues a [offset, offset+len(data)) write against
// (namespace, name).
func ObjectWrite(server, namespace, name string, data []byte, offset uint64, written *uint64) Op {
	return Op{
		Server:      server,
		Opcode:      wire.OpObjectWrite,
		GroupKey:    namespace + "\x00" + name,
		SidePayload: data,
		Header: func(b *wire.Builder) {
			b.AppendString(namespace)
			b.AppendString(name)
		},
		Body: func(b *wire.Builder) {
			b.AddOperation(16)
			b.AppendUint64(uint64(len(data)))
			b.AppendUint64(offset)
		},
		Decode: func(rd *wire.Reader, conn net.Conn) error {
			n, err := rd.Uint64()
			if err != nil {
				return err
			}
			if written != nil {
				*written = n
			}
			return nil
		},
	}
}

// ObjectStatus queues a status lookup for (namespace, name).
func ObjectStatus(server, namespace, name string, mtimeUsec *int64, size *uint64) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpObjectStatus,
		GroupKey: namespace,
		Header:   objectHeader(namespace),
		Body: func(b *wire.Builder) {
			b.AddOperation(len(name) + 1)
			b.AppendString(name)
		},
		Decode: func(rd *wire.Reader, conn net.Conn) error {
			mt, err := rd.Uint64()
			if err != nil {
				return err
			}
			sz, err := rd.Uint64()
			if err != nil {
				return err
			}
			if mtimeUsec != nil {
				*mtimeUsec = int64(mt)
			}
			if size != nil {
				*size = sz
			}
			return nil
		},
	}
}

