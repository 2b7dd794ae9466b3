package enginesql_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/juleafs/julea/enginesql"
	"github.com/juleafs/julea/semantics"
)

var testSpec = &enginesql.DriverSpec{
	Dialect:             "sqlmock",
	Quote:               "",
	AutoincrementClause: "INTEGER PRIMARY KEY AUTOINCREMENT",
	Uint64Type:          "BIGINT UNSIGNED",
	LastInsertIDQuery:   "SELECT last_insert_rowid()",
}

func testSchema() *enginesql.Schema {
	return &enginesql.Schema{
		Namespace:  "ns",
		Name:       "t",
		FieldOrder: []string{"name"},
		Fields:     map[string]enginesql.FieldType{"name": enginesql.TypeString},
	}
}

// TestConnCachesPreparedStatementAcrossBatches exercises §8 scenario 6:
// running the same logical Insert ten times on one *Conn (the "thread" of
// §4.3) triggers exactly one underlying Prepare call, because
// Conn.prepare caches by SQL text and BatchStartOn reuses the caller's
// Conn instead of minting a fresh one per batch.
func TestConnCachesPreparedStatementAcrossBatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	engine := enginesql.NewEngine(db, testSpec, nil)
	conn := engine.NewConn()
	schema := testSchema()

	insertSQL := regexp.QuoteMeta(`INSERT INTO julea_ns_t (name) VALUES (?)`)
	lastIDSQL := regexp.QuoteMeta(`SELECT last_insert_rowid()`)

	const n = 10
	ctx := context.Background()
	for i := 0; i < n; i++ {
		// Each statement is prepared just before its first execution, so
		// only the first iteration expects the two Prepare calls.
		if i == 0 {
			mock.ExpectPrepare(insertSQL)
		}
		mock.ExpectExec(insertSQL).WithArgs("alice").WillReturnResult(sqlmock.NewResult(1, 1))
		if i == 0 {
			mock.ExpectPrepare(lastIDSQL)
		}
		mock.ExpectQuery(lastIDSQL).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		b, err := engine.BatchStartOn(ctx, conn, "ns", semantics.Default())
		require.NoError(t, err)

		id, err := engine.Insert(ctx, b, schema, enginesql.Row{"name": "alice"})
		require.NoError(t, err)
		require.Equal(t, uint64(1), id)

		require.NoError(t, engine.BatchExecute(ctx, b))
	}

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestBatchStartMintsFreshConnEachTime documents the contrasting
// behaviour of the plain BatchStart helper: each call gets a brand-new
// Conn, so the same SQL text is prepared again on every call. Callers
// that want statement-cache reuse across batches (the server dispatch
// loop, package juleaserver) must hold onto one Conn and call
// BatchStartOn instead.
func TestBatchStartMintsFreshConnEachTime(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	engine := enginesql.NewEngine(db, testSpec, nil)
	schema := testSchema()

	insertSQL := regexp.QuoteMeta(`INSERT INTO julea_ns_t (name) VALUES (?)`)
	lastIDSQL := regexp.QuoteMeta(`SELECT last_insert_rowid()`)

	ctx := context.Background()
	const n = 3
	for i := 0; i < n; i++ {
		mock.ExpectPrepare(insertSQL)
		mock.ExpectExec(insertSQL).WithArgs("alice").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectPrepare(lastIDSQL)
		mock.ExpectQuery(lastIDSQL).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		b, err := engine.BatchStart(ctx, "ns", semantics.Default())
		require.NoError(t, err)

		_, err = engine.Insert(ctx, b, schema, enginesql.Row{"name": "alice"})
		require.NoError(t, err)

		require.NoError(t, engine.BatchExecute(ctx, b))
	}

	require.NoError(t, mock.ExpectationsWereMet())
}
