package juleaserver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juleafs/julea/backend/memtest"
	"github.com/juleafs/julea/batchclient"
	"github.com/juleafs/julea/daemoncontext"
	"github.com/juleafs/julea/enginesql"
	"github.com/juleafs/julea/juleaserver"
	"github.com/juleafs/julea/semantics"
	"github.com/juleafs/julea/sqldriver/sqlite"
)

// startServer boots a Server over every backend family on an ephemeral
// TCP port and returns its address and daemon context; teardown is
// registered with t.Cleanup.
func startServer(t *testing.T) (addr string, dctx *daemoncontext.Context) {
	t.Helper()

	engine, err := sqlite.Open("file::memory:?cache=shared", nil)
	require.NoError(t, err)
	require.NoError(t, engine.EnsureCatalogue(context.Background()))
	t.Cleanup(func() { _ = engine.Close() })

	dctx = daemoncontext.New(
		daemoncontext.WithObject(memtest.NewObject()),
		daemoncontext.WithKV(memtest.NewKV()),
		daemoncontext.WithDB(engine),
	)

	srv := juleaserver.New(dctx, 0)
	require.NoError(t, srv.Listen(context.Background(), "127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	})

	return srv.Addr().String(), dctx
}

func TestObjectCreateWriteReadRoundTrip(t *testing.T) {
	addr, _ := startServer(t)

	b := batchclient.New(semantics.Default().WithSafety(semantics.SafetyStorage))
	b.Add(batchclient.ObjectCreate(addr, "ns", "obj1"))
	require.NoError(t, b.Execute(context.Background()))

	var written uint64
	b = batchclient.New(semantics.Default().WithSafety(semantics.SafetyStorage))
	b.Add(batchclient.ObjectWrite(addr, "ns", "obj1", []byte("hello world"), 0, &written))
	require.NoError(t, b.Execute(context.Background()))
	assert.Equal(t, uint64(11), written)

	var data []byte
	b = batchclient.New(semantics.Default())
	b.Add(batchclient.ObjectRead(addr, "ns", "obj1", 11, 0, &data))
	require.NoError(t, b.Execute(context.Background()))
	assert.Equal(t, "hello world", string(data))

	var mtime int64
	var size uint64
	b = batchclient.New(semantics.Default())
	b.Add(batchclient.ObjectStatus(addr, "ns", "obj1", &mtime, &size))
	require.NoError(t, b.Execute(context.Background()))
	assert.Equal(t, uint64(11), size)
}

func TestObjectDeleteThenReadReturnsNoData(t *testing.T) {
	addr, _ := startServer(t)

	b := batchclient.New(semantics.Default().WithSafety(semantics.SafetyStorage))
	b.Add(batchclient.ObjectCreate(addr, "ns", "gone"))
	require.NoError(t, b.Execute(context.Background()))

	b = batchclient.New(semantics.Default().WithSafety(semantics.SafetyStorage))
	b.Add(batchclient.ObjectDelete(addr, "ns", "gone"))
	require.NoError(t, b.Execute(context.Background()))

	var data []byte
	b = batchclient.New(semantics.Default())
	b.Add(batchclient.ObjectRead(addr, "ns", "gone", 8, 0, &data))
	require.NoError(t, b.Execute(context.Background()))
	assert.Nil(t, data)
}

func TestKVPutGetDeleteRoundTrip(t *testing.T) {
	addr, _ := startServer(t)

	b := batchclient.New(semantics.Default().WithSafety(semantics.SafetyStorage))
	b.Add(batchclient.KVPut(addr, "cfg", "color", []byte("blue")))
	require.NoError(t, b.Execute(context.Background()))

	var value []byte
	b = batchclient.New(semantics.Default())
	b.Add(batchclient.KVGet(addr, "cfg", "color", &value))
	require.NoError(t, b.Execute(context.Background()))
	assert.Equal(t, "blue", string(value))

	got, err := batchclient.KVGetAll(context.Background(), batchclient.NewNetDialer(), addr, "cfg")
	require.NoError(t, err)
	assert.Equal(t, []byte("blue"), got["color"])

	b = batchclient.New(semantics.Default().WithSafety(semantics.SafetyStorage))
	b.Add(batchclient.KVDelete(addr, "cfg", "color"))
	require.NoError(t, b.Execute(context.Background()))

	value = nil
	b = batchclient.New(semantics.Default())
	b.Add(batchclient.KVGet(addr, "cfg", "color", &value))
	require.NoError(t, b.Execute(context.Background()))
	assert.Empty(t, value)
}

func TestDBSchemaInsertQueryRoundTrip(t *testing.T) {
	addr, _ := startServer(t)

	schema := &enginesql.Schema{
		Namespace:  "accounts",
		Name:       "users",
		FieldOrder: []string{"name", "age"},
		Fields: map[string]enginesql.FieldType{
			"name": enginesql.TypeString,
			"age":  enginesql.TypeUInt32,
		},
	}

	sem := semantics.Default().WithAtomicity(semantics.AtomicityOperation)

	b := batchclient.New(sem)
	b.Add(batchclient.DBSchemaCreate(addr, sem, "accounts", "users", schema))
	require.NoError(t, b.Execute(context.Background()))

	var id1, id2 uint64
	b = batchclient.New(sem.WithAtomicity(semantics.AtomicityBatch))
	b.Add(batchclient.DBInsert(addr, sem.WithAtomicity(semantics.AtomicityBatch), "accounts", "users", schema,
		enginesql.Row{"name": "alice", "age": uint32(30)}, &id1))
	b.Add(batchclient.DBInsert(addr, sem.WithAtomicity(semantics.AtomicityBatch), "accounts", "users", schema,
		enginesql.Row{"name": "bob", "age": uint32(40)}, &id2))
	require.NoError(t, b.Execute(context.Background()))
	assert.NotZero(t, id1)
	assert.NotZero(t, id2)

	rows, err := batchclient.DBQuery(context.Background(), batchclient.NewNetDialer(), addr, "accounts", "users", schema, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	sel := enginesql.Leaf("name", enginesql.CmpEQ, "alice")
	var affected int64
	b = batchclient.New(sem)
	b.Add(batchclient.DBUpdate(addr, sem, "accounts", "users", schema, sel, enginesql.Row{"age": uint32(31)}, &affected))
	require.NoError(t, b.Execute(context.Background()))
	assert.Equal(t, int64(1), affected)

	b = batchclient.New(sem)
	b.Add(batchclient.DBDelete(addr, sem, "accounts", "users", schema, sel, &affected))
	require.NoError(t, b.Execute(context.Background()))
	assert.Equal(t, int64(1), affected)

	rows, err = batchclient.DBQuery(context.Background(), batchclient.NewNetDialer(), addr, "accounts", "users", schema, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// TestDBBatchAtomicityRollsBackOnTypeMismatch is scenario 4 of §8: within
// one atomicity=batch message, a type-mismatched row poisons the whole
// batch, so neither row is visible once Execute returns.
func TestDBBatchAtomicityRollsBackOnTypeMismatch(t *testing.T) {
	addr, _ := startServer(t)

	schema := &enginesql.Schema{
		Namespace:  "shop",
		Name:       "items",
		FieldOrder: []string{"name", "qty"},
		Fields: map[string]enginesql.FieldType{
			"name": enginesql.TypeString,
			"qty":  enginesql.TypeUInt32,
		},
	}

	sem := semantics.Default().WithAtomicity(semantics.AtomicityOperation)
	b := batchclient.New(sem)
	b.Add(batchclient.DBSchemaCreate(addr, sem, "shop", "items", schema))
	require.NoError(t, b.Execute(context.Background()))

	// mismatchedSchema shares items' namespace/name but declares "qty" as a
	// string, so encoding a row against it produces a wire document the
	// real server-side schema (qty: uint32) will reject on decode — the
	// client-visible equivalent of sending a string where the schema
	// expects an int.
	mismatchedSchema := &enginesql.Schema{
		Namespace:  "shop",
		Name:       "items",
		FieldOrder: []string{"name", "qty"},
		Fields: map[string]enginesql.FieldType{
			"name": enginesql.TypeString,
			"qty":  enginesql.TypeString,
		},
	}

	batchSem := semantics.Default().WithAtomicity(semantics.AtomicityBatch)
	var idGood, idBad uint64
	b = batchclient.New(batchSem)
	b.Add(batchclient.DBInsert(addr, batchSem, "shop", "items", schema,
		enginesql.Row{"name": "x", "qty": uint32(1)}, &idGood))
	b.Add(batchclient.DBInsert(addr, batchSem, "shop", "items", mismatchedSchema,
		enginesql.Row{"name": "y", "qty": "not-an-int"}, &idBad))
	err := b.Execute(context.Background())
	assert.Error(t, err)
	assert.Len(t, b.Errors(), 1)

	rows, qerr := batchclient.DBQuery(context.Background(), batchclient.NewNetDialer(), addr, "shop", "items", schema, nil)
	require.NoError(t, qerr)
	assert.Empty(t, rows, "batch must leave no visible rows once poisoned")
}
