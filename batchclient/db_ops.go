package batchclient

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/juleafs/julea/enginesql"
	"github.com/juleafs/julea/semantics"
	"github.com/juleafs/julea/wire"
	"github.com/juleafs/julea/wire/bsondoc"
	"github.com/juleafs/julea/wiredb"
)

// dbMutationHeader writes the atomicity byte readDBSemantics expects
// ahead of the namespace string, mirroring juleaserver's own
// "atomicity travels as an explicit payload field, not a header flag"
// design (db.go's readDBSemantics doc comment).
func dbMutationHeader(sem semantics.Semantics, rest ...string) Encode {
	return func(b *wire.Builder) {
		b.AppendUint8(uint8(sem.Atomicity()))
		for _, s := range rest {
			b.AppendString(s)
		}
	}
}

func encodeSelectorOperand(b *wire.Builder, schema *enginesql.Schema, sel *enginesql.Selector) error {
	if sel == nil {
		b.AppendUint8(0)
		return nil
	}
	doc, err := wiredb.EncodeSelector(schema, sel)
	if err != nil {
		return err
	}
	b.AppendUint8(1)
	b.AppendBytes(doc.Encode())
	return nil
}

// DBSchemaCreate queues a schema definition under namespace.
func DBSchemaCreate(server string, sem semantics.Semantics, namespace, name string, schema *enginesql.Schema) Op {
	doc := wiredb.EncodeSchema(schema)
	encoded := doc.Encode()
	return Op{
		Server:   server,
		Opcode:   wire.OpDBSchemaCreate,
		GroupKey: fmt.Sprintf("%d:%s", sem.Atomicity(), namespace),
		Header:   dbMutationHeader(sem, namespace),
		Body: func(b *wire.Builder) {
			b.AddOperation(len(name) + 1 + 8 + len(encoded))
			b.AppendString(name)
			b.AppendBytes(encoded)
		},
		Decode: kvReplyString,
	}
}

// DBSchemaDelete queues removal of the schema named (namespace, name).
func DBSchemaDelete(server string, sem semantics.Semantics, namespace, name string) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpDBSchemaDelete,
		GroupKey: fmt.Sprintf("%d:%s", sem.Atomicity(), namespace),
		Header:   dbMutationHeader(sem, namespace),
		Body: func(b *wire.Builder) {
			b.AddOperation(len(name) + 1)
			b.AppendString(name)
		},
		Decode: kvReplyString,
	}
}

// DBSchemaGet queues a lookup of the schema named (namespace, name). found
// reports whether the schema exists; result receives the decoded schema
// when it does. This op carries no atomicity byte: SchemaGet reads
// committed state outside any transaction (see backend.DB.NewConn).
func DBSchemaGet(server, namespace, name string, found *bool, result **enginesql.Schema) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpDBSchemaGet,
		GroupKey: namespace,
		Header:   func(b *wire.Builder) { b.AppendString(namespace) },
		Body: func(b *wire.Builder) {
			b.AddOperation(len(name) + 1)
			b.AppendString(name)
		},
		Decode: func(rd *wire.Reader, _ net.Conn) error {
			ok, err := rd.Uint8()
			if err != nil {
				return err
			}
			if ok == 0 {
				msg, err := rd.String()
				if err != nil {
					return err
				}
				*found = false
				return errors.New(msg)
			}
			raw, err := rd.Bytes()
			if err != nil {
				return err
			}
			doc, err := bsondoc.Decode(raw)
			if err != nil {
				return err
			}
			schema, err := wiredb.DecodeSchema(namespace, name, doc)
			if err != nil {
				return err
			}
			*found = true
			*result = schema
			return nil
		},
	}
}

// DBInsert queues insertion of row into the (namespace, name) schema.
// resultID receives the new row's id.
func DBInsert(server string, sem semantics.Semantics, namespace, name string, schema *enginesql.Schema, row enginesql.Row, resultID *uint64) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpDBInsert,
		GroupKey: fmt.Sprintf("%d:%s:%s", sem.Atomicity(), namespace, name),
		Header:   dbMutationHeader(sem, namespace, name),
		Body: func(b *wire.Builder) {
			doc, err := wiredb.EncodeRow(schema, row)
			if err != nil {
				b.AddOperation(0)
				return
			}
			encoded := doc.Encode()
			b.AddOperation(8 + len(encoded))
			b.AppendBytes(encoded)
		},
		Decode: func(rd *wire.Reader, _ net.Conn) error {
			ok, err := rd.Uint8()
			if err != nil {
				return err
			}
			id, err := rd.Uint64()
			if err != nil {
				return err
			}
			msg, err := rd.String()
			if err != nil {
				return err
			}
			if ok == 0 {
				return errors.New(msg)
			}
			if resultID != nil {
				*resultID = id
			}
			return nil
		},
	}
}

// DBUpdate queues an update of every row matching sel (or every row, if
// sel is nil) in (namespace, name) with row's fields. affected receives
// the number of rows updated.
func DBUpdate(server string, sem semantics.Semantics, namespace, name string, schema *enginesql.Schema, sel *enginesql.Selector, row enginesql.Row, affected *int64) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpDBUpdate,
		GroupKey: fmt.Sprintf("%d:%s:%s", sem.Atomicity(), namespace, name),
		Header:   dbMutationHeader(sem, namespace, name),
		Body: func(b *wire.Builder) {
			if err := encodeSelectorOperand(b, schema, sel); err != nil {
				b.AddOperation(0)
				return
			}
			doc, err := wiredb.EncodeRow(schema, row)
			if err != nil {
				b.AddOperation(0)
				return
			}
			encoded := doc.Encode()
			b.AddOperation(8 + len(encoded))
			b.AppendBytes(encoded)
		},
		Decode: func(rd *wire.Reader, _ net.Conn) error {
			ok, err := rd.Uint8()
			if err != nil {
				return err
			}
			n, err := rd.Uint64()
			if err != nil {
				return err
			}
			msg, err := rd.String()
			if err != nil {
				return err
			}
			if ok == 0 {
				return errors.New(msg)
			}
			if affected != nil {
				*affected = int64(n)
			}
			return nil
		},
	}
}

// DBDelete queues deletion of every row matching sel (or every row, if
// sel is nil) in (namespace, name). affected receives the number of rows
// deleted.
func DBDelete(server string, sem semantics.Semantics, namespace, name string, schema *enginesql.Schema, sel *enginesql.Selector, affected *int64) Op {
	return Op{
		Server:   server,
		Opcode:   wire.OpDBDelete,
		GroupKey: fmt.Sprintf("%d:%s:%s", sem.Atomicity(), namespace, name),
		Header:   dbMutationHeader(sem, namespace, name),
		Body: func(b *wire.Builder) {
			if err := encodeSelectorOperand(b, schema, sel); err != nil {
				b.AddOperation(0)
				return
			}
		},
		Decode: func(rd *wire.Reader, _ net.Conn) error {
			ok, err := rd.Uint8()
			if err != nil {
				return err
			}
			n, err := rd.Uint64()
			if err != nil {
				return err
			}
			msg, err := rd.String()
			if err != nil {
				return err
			}
			if ok == 0 {
				return errors.New(msg)
			}
			if affected != nil {
				*affected = int64(n)
			}
			return nil
		},
	}
}

// DBRow is one result row from DBQuery.
type DBRow struct {
	ID  uint64
	Row enginesql.Row
}

// DBQuery issues a standalone (non-batched) query against (namespace,
// name), streaming back every row matching sel (or every row, if sel is
// nil). Like KVGetAll, the reply's record count is the result count
// rather than the request's op count, so it dials and drains its own
// connection instead of joining a Batch.
func DBQuery(ctx context.Context, dialer Dialer, server, namespace, name string, schema *enginesql.Schema, sel *enginesql.Selector) ([]DBRow, error) {
	conn, err := dialer.Dial(ctx, server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	b := wire.NewBuilder(wire.OpDBQuery, nextID(), 0)
	b.AppendString(namespace)
	b.AppendString(name)
	if err := encodeSelectorOperand(b, schema, sel); err != nil {
		return nil, err
	}
	if _, err := b.Finalize().WriteTo(conn); err != nil {
		return nil, err
	}

	rd, err := wire.ReadFrom(conn)
	if err != nil {
		return nil, err
	}

	var rows []DBRow
	for !rd.Done() {
		raw, err := rd.Bytes()
		if err != nil {
			return rows, err
		}
		doc, err := bsondoc.Decode(raw)
		if err != nil {
			return rows, err
		}
		row, id, err := wiredb.DecodeRow(schema, doc)
		if err != nil {
			return rows, err
		}
		rows = append(rows, DBRow{ID: id, Row: row})
	}
	return rows, nil
}
