package batchclient

import (
	"context"
	"errors"
	"net"

	"github.com/juleafs/julea/wire"
)

func kvHeader(namespace string) Encode {
	return func(b *wire.Builder) { b.AppendString(namespace) }
}

// kvReplyString decodes the (possibly empty) error-string record
// handleKVPut/handleKVDelete append per operation, turning a non-empty
// string into an error.
func kvReplyString(rd *wire.Reader, _ net.Conn) error {
	msg, err := rd.String()
	if err != nil {
		return err
	}
	if msg != "" {
		return errors.New(msg)
	}
	return nil
}

// KVPut queues a put of key→value under namespace.
func KVPut(server, namespace, key string, value []byte) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpKVPut,
		GroupKey: namespace,
		Header:   kvHeader(namespace),
		Body: func(b *wire.Builder) {
			b.AddOperation(len(key) + 1 + 8 + len(value))
			b.AppendString(key)
			b.AppendBytes(value)
		},
		Decode: kvReplyString,
	}
}

// KVDelete queues a delete of key under namespace.
func KVDelete(server, namespace, key string) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpKVDelete,
		GroupKey: namespace,
		Header:   kvHeader(namespace),
		Body: func(b *wire.Builder) {
			b.AddOperation(len(key) + 1)
			b.AppendString(key)
		},
		Decode: kvReplyString,
	}
}

// KVGet queues a lookup of key under namespace; result receives the
// stored bytes, or an empty slice if the key was absent or the lookup
// failed (handleKVGet folds both cases into a zero-length value record).
func KVGet(server, namespace, key string, result *[]byte) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpKVGet,
		GroupKey: namespace,
		Header:   kvHeader(namespace),
		Body: func(b *wire.Builder) {
			b.AddOperation(len(key) + 1)
			b.AppendString(key)
		},
		Decode: func(rd *wire.Reader, _ net.Conn) error {
			value, err := rd.Bytes()
			if err != nil {
				return err
			}
			*result = value
			return nil
		},
	}
}

// KVGetAll issues a standalone (non-batched) request streaming every
// key/value pair stored under namespace, mirroring streamKVIterator's
// one-record-per-result reply shape: unlike Put/Delete/Get, the reply's
// record count is the result count, not the request's op count, so this
// cannot be folded into a Batch's 1:1 op/reply model and instead dials
// and drains its own connection.
func KVGetAll(ctx context.Context, dialer Dialer, server, namespace string) (map[string][]byte, error) {
	return kvStream(ctx, dialer, server, wire.OpKVGetAll, func(b *wire.Builder) {
		b.AppendString(namespace)
	})
}

// KVGetByPrefix is KVGetAll restricted to keys starting with prefix.
func KVGetByPrefix(ctx context.Context, dialer Dialer, server, namespace, prefix string) (map[string][]byte, error) {
	return kvStream(ctx, dialer, server, wire.OpKVGetByPrefix, func(b *wire.Builder) {
		b.AppendString(namespace)
		b.AppendString(prefix)
	})
}

func kvStream(ctx context.Context, dialer Dialer, server string, op wire.Opcode, header Encode) (map[string][]byte, error) {
	conn, err := dialer.Dial(ctx, server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	b := wire.NewBuilder(op, nextID(), 0)
	header(b)
	if _, err := b.Finalize().WriteTo(conn); err != nil {
		return nil, err
	}

	rd, err := wire.ReadFrom(conn)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte)
	for !rd.Done() {
		key, err := rd.String()
		if err != nil {
			return out, err
		}
		value, err := rd.Bytes()
		if err != nil {
			return out, err
		}
		out[key] = value
	}
	return out, nil
}
