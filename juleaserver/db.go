package juleaserver

import (
	"context"
	"errors"
	"net"

	"github.com/juleafs/julea"
	"github.com/juleafs/julea/enginesql"
	"github.com/juleafs/julea/semantics"
	"github.com/juleafs/julea/wire"
	"github.com/juleafs/julea/wire/bsondoc"
	"github.com/juleafs/julea/wiredb"
)

// dispatchDB routes one db-family message, mirroring jd_handle_message's
// J_MESSAGE_DB_* fallthrough block (loop.c): SchemaCreate/SchemaDelete and
// Insert/Update/Delete go through the atomicity-mapped dbBatchScope, since
// they all run on an *enginesql.Batch; SchemaGet and Query read through the
// connection's db Conn without a batch.
func (s *Server) dispatchDB(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	switch rd.Opcode() {
	case wire.OpDBSchemaCreate:
		return s.handleDBSchemaCreate(ctx, conn, rd, cs)
	case wire.OpDBSchemaGet:
		return s.handleDBSchemaGet(ctx, conn, rd, cs)
	case wire.OpDBSchemaDelete:
		return s.handleDBSchemaDelete(ctx, conn, rd, cs)
	case wire.OpDBInsert:
		return s.handleDBInsert(ctx, conn, rd, cs)
	case wire.OpDBUpdate:
		return s.handleDBUpdate(ctx, conn, rd, cs)
	case wire.OpDBDelete:
		return s.handleDBDelete(ctx, conn, rd, cs)
	case wire.OpDBQuery:
		return s.handleDBQuery(ctx, conn, rd, cs)
	default:
		return writeErrorReply(conn, rd, errUnhandledOpcode(rd.Opcode()))
	}
}

// dbBatchScope opens, per the message's atomicity axis, either one
// enginesql.Batch shared by every operation (AtomicityBatch) or a fresh
// one-operation batch on every call to next (AtomicityOperation/None).
// This is the Go shape of jd_handle_message's J_MESSAGE_DB_* fallthrough:
// "atomicity=batch opens one transaction for the whole message...
// atomicity=operation|none opens and closes one transaction per operation."
type dbBatchScope struct {
	ctx       context.Context
	s         *Server
	conn      *enginesql.Conn
	namespace string
	sem       semantics.Semantics
	shared    *enginesql.Batch
}

func newDBBatchScope(ctx context.Context, s *Server, cs *connState, namespace string, sem semantics.Semantics) *dbBatchScope {
	return &dbBatchScope{ctx: ctx, s: s, conn: s.dbConnFor(cs), namespace: namespace, sem: sem}
}

// readDBSemantics reads the one-byte atomicity value every db-family
// message carries as the first field of its payload and folds it onto the
// safety axis wire.Reader.Semantics already reconstructs from the header's
// flags. Atomicity never rides the header's flag bits (spec's flag table
// is exactly reply/safety_network/safety_storage/compressed): it governs
// how many operations share one backend transaction, which only matters
// to the db family, so it travels as an explicit payload field instead of
// a wire-wide header bit.
func readDBSemantics(rd *wire.Reader) (semantics.Semantics, error) {
	raw, err := rd.Uint8()
	if err != nil {
		return semantics.Semantics{}, err
	}
	return rd.Semantics().WithAtomicity(semantics.Atomicity(raw)), nil
}

// next returns the batch the next operation should run against.
func (sc *dbBatchScope) next() (*enginesql.Batch, error) {
	if sc.sem.Atomicity() == semantics.AtomicityBatch {
		if sc.shared == nil {
			b, err := sc.s.ctx.DB.BatchStartOn(sc.ctx, sc.conn, sc.namespace, sc.sem)
			if err != nil {
				return nil, err
			}
			sc.shared = b
		}
		return sc.shared, nil
	}
	return sc.s.ctx.DB.BatchStartOn(sc.ctx, sc.conn, sc.namespace, sc.sem)
}

// done commits a per-operation batch immediately (operation/none atomicity)
// and is a no-op for the shared batch, which finish commits once at the
// end of the message.
func (sc *dbBatchScope) done(b *enginesql.Batch) error {
	if sc.sem.Atomicity() == semantics.AtomicityBatch {
		return nil
	}
	return sc.s.ctx.DB.BatchExecute(sc.ctx, b)
}

// finish commits the shared batch, if one was opened.
func (sc *dbBatchScope) finish() error {
	if sc.shared == nil {
		return nil
	}
	return sc.s.ctx.DB.BatchExecute(sc.ctx, sc.shared)
}

func (s *Server) handleDBSchemaCreate(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem, err := readDBSemantics(rd)
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	scope := newDBBatchScope(ctx, s, cs, namespace, sem)

	b := wire.NewBuilder(wire.OpDBSchemaCreate, rd.Header.ID, 0)
	b.SetReply()

	for i := uint32(0); i < rd.Count(); i++ {
		name, err := rd.String()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}
		raw, err := rd.Bytes()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		doc, derr := bsondoc.Decode(raw)
		if derr != nil {
			b.AddOperation(0)
			b.AppendString(derr.Error())
			continue
		}
		schema, serr := wiredb.DecodeSchema(namespace, name, doc)
		if serr != nil {
			b.AddOperation(0)
			b.AppendString(serr.Error())
			continue
		}

		batch, berr := scope.next()
		if berr != nil {
			b.AddOperation(0)
			b.AppendString(berr.Error())
			continue
		}
		cerr := s.ctx.DB.SchemaCreate(ctx, batch, schema)
		_ = scope.done(batch)

		b.AddOperation(0)
		if cerr != nil {
			b.AppendString(cerr.Error())
		} else {
			b.AppendString("")
		}
	}

	if ferr := scope.finish(); ferr != nil {
		return writeErrorReply(conn, rd, ferr)
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

func (s *Server) handleDBSchemaGet(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	b := wire.NewBuilder(wire.OpDBSchemaGet, rd.Header.ID, 0)
	b.SetReply()

	dbconn := s.dbConnFor(cs)
	for i := uint32(0); i < rd.Count(); i++ {
		name, err := rd.String()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		schema, gerr := s.ctx.DB.SchemaGet(ctx, dbconn, namespace, name)
		if gerr != nil {
			b.AddOperation(0)
			b.AppendUint8(0)
			b.AppendString(gerr.Error())
			continue
		}
		doc := wiredb.EncodeSchema(schema)
		encoded := doc.Encode()
		b.AddOperation(1 + 8 + len(encoded))
		b.AppendUint8(1)
		b.AppendBytes(encoded)
	}

	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

func (s *Server) handleDBSchemaDelete(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem, err := readDBSemantics(rd)
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	scope := newDBBatchScope(ctx, s, cs, namespace, sem)

	b := wire.NewBuilder(wire.OpDBSchemaDelete, rd.Header.ID, 0)
	b.SetReply()

	for i := uint32(0); i < rd.Count(); i++ {
		name, err := rd.String()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		batch, berr := scope.next()
		if berr != nil {
			b.AddOperation(0)
			b.AppendString(berr.Error())
			continue
		}
		derr := s.ctx.DB.SchemaDelete(ctx, batch, namespace, name)
		_ = scope.done(batch)

		b.AddOperation(0)
		if derr != nil {
			b.AppendString(derr.Error())
		} else {
			b.AppendString("")
		}
	}

	if ferr := scope.finish(); ferr != nil {
		return writeErrorReply(conn, rd, ferr)
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

// schemaForRequest loads the schema named in every db CRUD request once per
// message, the way the original caches it in jd_handle_message's local
// `jschema` for the duration of the db switch case.
func (s *Server) schemaForRequest(ctx context.Context, cs *connState, namespace, name string) (*enginesql.Schema, error) {
	return s.ctx.DB.SchemaGet(ctx, s.dbConnFor(cs), namespace, name)
}

func (s *Server) handleDBInsert(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem, err := readDBSemantics(rd)
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	name, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}

	schema, serr := s.schemaForRequest(ctx, cs, namespace, name)
	if serr != nil {
		return writeErrorReply(conn, rd, serr)
	}

	scope := newDBBatchScope(ctx, s, cs, namespace, sem)

	b := wire.NewBuilder(wire.OpDBInsert, rd.Header.ID, 0)
	b.SetReply()

	// failed notes that some operation already carries its own error
	// record; under AtomicityBatch that error has poisoned the shared batch
	// and finish only returns it again, so it must not replace the reply.
	failed := false
	writeInsertErr := func(err error) {
		failed = true
		b.AddOperation(9 + len(err.Error()) + 1)
		b.AppendUint8(0)
		b.AppendUint64(0)
		b.AppendString(err.Error())
	}

	for i := uint32(0); i < rd.Count(); i++ {
		raw, err := rd.Bytes()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		batch, berr := scope.next()
		if berr != nil {
			writeInsertErr(berr)
			continue
		}

		doc, derr := bsondoc.Decode(raw)
		if derr != nil {
			writeInsertErr(batch.Fail(derr))
			_ = scope.done(batch)
			continue
		}
		row, _, rerr := wiredb.DecodeRow(schema, doc)
		if rerr != nil {
			writeInsertErr(batch.Fail(rerr))
			_ = scope.done(batch)
			continue
		}

		id, ierr := s.ctx.DB.Insert(ctx, batch, schema, row)
		_ = scope.done(batch)

		if ierr != nil {
			writeInsertErr(ierr)
			continue
		}
		b.AddOperation(9 + 1)
		b.AppendUint8(1)
		b.AppendUint64(id)
		b.AppendString("")
	}

	if ferr := scope.finish(); ferr != nil && !failed {
		return writeErrorReply(conn, rd, ferr)
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

// readSelectorOperand reads one operation's selector payload: a uint8
// present flag, then (if set) the length-prefixed bson document. Used by
// handleDBQuery, whose message carries exactly one selector for the
// whole request rather than one per reply-bearing operation, so there is
// no per-op reply slot for readSelectorDoc/DecodeSelector's validation
// errors to land in and aborting the connection on any failure is fine.
func readSelectorOperand(rd *wire.Reader, schema *enginesql.Schema) (*enginesql.Selector, error) {
	doc, err := readSelectorDoc(rd)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return wiredb.DecodeSelector(schema, doc)
}

// readSelectorDoc reads one operation's selector payload up to, but not
// including, schema-validated decoding: a uint8 present flag, then (if
// set) the length-prefixed bson document. Callers that loop over
// multiple operations per message (handleDBUpdate, handleDBDelete) read
// the doc here — a genuine transport-level failure (short read, bad
// length, malformed bson) still aborts the connection like any other
// wire.Reader error — then call wiredb.DecodeSelector themselves once a
// batch is open, so a field-name validation failure can be reported as
// that operation's own per-op error instead of tearing down the
// connection.
func readSelectorDoc(rd *wire.Reader) (*bsondoc.Document, error) {
	present, err := rd.Uint8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	raw, err := rd.Bytes()
	if err != nil {
		return nil, err
	}
	return bsondoc.Decode(raw)
}

func (s *Server) handleDBUpdate(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem, err := readDBSemantics(rd)
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	name, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	schema, serr := s.schemaForRequest(ctx, cs, namespace, name)
	if serr != nil {
		return writeErrorReply(conn, rd, serr)
	}

	scope := newDBBatchScope(ctx, s, cs, namespace, sem)

	b := wire.NewBuilder(wire.OpDBUpdate, rd.Header.ID, 0)
	b.SetReply()

	// failed: see handleDBInsert.
	failed := false
	writeUpdateErr := func(err error) {
		failed = true
		b.AddOperation(1 + 8 + len(err.Error()) + 1)
		b.AppendUint8(0)
		b.AppendUint64(0)
		b.AppendString(err.Error())
	}

	for i := uint32(0); i < rd.Count(); i++ {
		selDoc, selErr := readSelectorDoc(rd)
		if selErr != nil {
			return writeErrorReply(conn, rd, selErr)
		}
		raw, err := rd.Bytes()
		if err != nil {
			return writeErrorReply(conn, rd, err)
		}

		batch, berr := scope.next()
		if berr != nil {
			writeUpdateErr(berr)
			continue
		}

		var sel *enginesql.Selector
		if selDoc != nil {
			var selDecErr error
			sel, selDecErr = wiredb.DecodeSelector(schema, selDoc)
			if selDecErr != nil {
				writeUpdateErr(batch.Fail(selDecErr))
				_ = scope.done(batch)
				continue
			}
		}

		doc, derr := bsondoc.Decode(raw)
		if derr != nil {
			writeUpdateErr(batch.Fail(derr))
			_ = scope.done(batch)
			continue
		}
		row, _, rerr := wiredb.DecodeRow(schema, doc)
		if rerr != nil {
			writeUpdateErr(batch.Fail(rerr))
			_ = scope.done(batch)
			continue
		}

		n, uerr := s.ctx.DB.Update(ctx, batch, schema, sel, row)
		_ = scope.done(batch)

		if uerr != nil {
			writeUpdateErr(uerr)
			continue
		}
		b.AddOperation(1 + 8 + 1)
		b.AppendUint8(1)
		b.AppendUint64(uint64(n))
		b.AppendString("")
	}

	if ferr := scope.finish(); ferr != nil && !failed {
		return writeErrorReply(conn, rd, ferr)
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

func (s *Server) handleDBDelete(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	sem, err := readDBSemantics(rd)
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	name, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	schema, serr := s.schemaForRequest(ctx, cs, namespace, name)
	if serr != nil {
		return writeErrorReply(conn, rd, serr)
	}

	scope := newDBBatchScope(ctx, s, cs, namespace, sem)

	b := wire.NewBuilder(wire.OpDBDelete, rd.Header.ID, 0)
	b.SetReply()

	// failed: see handleDBInsert.
	failed := false
	writeDeleteErr := func(err error) {
		failed = true
		b.AddOperation(1 + 8 + len(err.Error()) + 1)
		b.AppendUint8(0)
		b.AppendUint64(0)
		b.AppendString(err.Error())
	}

	for i := uint32(0); i < rd.Count(); i++ {
		selDoc, selErr := readSelectorDoc(rd)
		if selErr != nil {
			return writeErrorReply(conn, rd, selErr)
		}

		batch, berr := scope.next()
		if berr != nil {
			writeDeleteErr(berr)
			continue
		}

		var sel *enginesql.Selector
		if selDoc != nil {
			var selDecErr error
			sel, selDecErr = wiredb.DecodeSelector(schema, selDoc)
			if selDecErr != nil {
				writeDeleteErr(batch.Fail(selDecErr))
				_ = scope.done(batch)
				continue
			}
		}

		n, derr := s.ctx.DB.Delete(ctx, batch, schema, sel)
		_ = scope.done(batch)

		if derr != nil {
			writeDeleteErr(derr)
			continue
		}
		b.AddOperation(1 + 8 + 1)
		b.AppendUint8(1)
		b.AppendUint64(uint64(n))
		b.AppendString("")
	}

	if ferr := scope.finish(); ferr != nil && !failed {
		return writeErrorReply(conn, rd, ferr)
	}
	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

// handleDBQuery is a single-operation request (namespace, schema name,
// one selector) whose reply streams one operation per matching row,
// mirroring loop.c's J_MESSAGE_DB_QUERY -> j_backend_db_query ->
// iterate-and-append-each-row loop.
func (s *Server) handleDBQuery(ctx context.Context, conn net.Conn, rd *wire.Reader, cs *connState) error {
	namespace, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	name, err := rd.String()
	if err != nil {
		return writeErrorReply(conn, rd, err)
	}
	schema, serr := s.schemaForRequest(ctx, cs, namespace, name)
	if serr != nil {
		return writeErrorReply(conn, rd, serr)
	}
	sel, selErr := readSelectorOperand(rd, schema)
	if selErr != nil {
		return writeErrorReply(conn, rd, selErr)
	}

	it, qerr := s.ctx.DB.Query(ctx, s.dbConnFor(cs), schema, sel)
	if qerr != nil {
		return writeErrorReply(conn, rd, qerr)
	}
	defer it.Close()

	b := wire.NewBuilder(wire.OpDBQuery, rd.Header.ID, 0)
	b.SetReply()

	for {
		nerr := it.Next()
		if nerr != nil {
			if errors.Is(nerr, julea.ErrIteratorNoMoreElements) {
				break
			}
			return writeErrorReply(conn, rd, nerr)
		}
		row, rerr := it.Row()
		if rerr != nil {
			return writeErrorReply(conn, rd, rerr)
		}
		id, row := splitRowID(row)
		normalized, nerr2 := normalizeQueryRow(schema, row)
		if nerr2 != nil {
			return writeErrorReply(conn, rd, nerr2)
		}
		doc, eerr := wiredb.EncodeRow(schema, normalized)
		if eerr != nil {
			return writeErrorReply(conn, rd, eerr)
		}
		doc.SetInt64("_id", int64(id))
		encoded := doc.Encode()

		b.AddOperation(8 + len(encoded))
		cs.stats.BytesSent.Add(int64(len(encoded)))
		b.AppendBytes(encoded)
	}

	msg := b.Finalize()
	_, werr := msg.WriteTo(conn)
	return werr
}

// splitRowID pulls the "_id" entry enginesql.Iterator.Row() mixes into its
// result (Query always selects it as the first column) out of the row map,
// returning it alongside the remaining schema-field entries.
func splitRowID(row enginesql.Row) (uint64, enginesql.Row) {
	var id uint64
	if v, ok := row["_id"]; ok {
		id = driverInt(v)
		delete(row, "_id")
	}
	return id, row
}

// normalizeQueryRow converts the driver's scanned column values (typically
// int64/float64/string/[]byte/nil from database/sql, regardless of the
// schema's declared width) into the Go types wiredb.EncodeRow expects for
// each field, per schema.Fields' declared FieldType.
func normalizeQueryRow(schema *enginesql.Schema, row enginesql.Row) (enginesql.Row, error) {
	out := make(enginesql.Row, len(row))
	for field, v := range row {
		if v == nil {
			continue
		}
		ft, ok := schema.Field(field)
		if !ok {
			continue
		}
		switch ft {
		case enginesql.TypeSInt32:
			out[field] = int32(driverInt(v))
		case enginesql.TypeUInt32:
			out[field] = uint32(driverInt(v))
		case enginesql.TypeSInt64:
			out[field] = driverInt(v)
		case enginesql.TypeUInt64, enginesql.TypeID:
			out[field] = uint64(driverInt(v))
		case enginesql.TypeFloat32:
			out[field] = float32(driverFloat(v))
		case enginesql.TypeFloat64:
			out[field] = driverFloat(v)
		case enginesql.TypeString:
			out[field] = driverString(v)
		case enginesql.TypeBlob:
			if b, ok := v.([]byte); ok {
				out[field] = b
			}
		}
	}
	return out, nil
}

func driverInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func driverFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func driverString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}
