// Package sqlite wires modernc.org/sqlite's pure-Go database/sql driver
// into enginesql's DriverSpec, the way sql-generic.c's mysql.c overrides
// the generic sql-generic.c backend's JSQLSpecifics for each DBMS.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/juleafs/julea/dialect"
	"github.com/juleafs/julea/enginesql"
)

// Spec is the DriverSpec for SQLite databases opened through
// modernc.org/sqlite. SQLite connections are single-threaded: a given
// *sql.DB may multiplex many goroutines, but only one write transaction
// may be in flight at a time, so SingleThreaded is true.
var Spec = &enginesql.DriverSpec{
	Dialect:             dialect.SQLite,
	Quote:               `"`,
	AutoincrementClause: "INTEGER PRIMARY KEY AUTOINCREMENT",
	Uint64Type:          "UNSIGNED BIG INT",
	LastInsertIDQuery:   "SELECT last_insert_rowid()",
	SingleThreaded:      true,
}

// Open opens dsn (a modernc.org/sqlite data source, e.g. "file:julea.db")
// and returns an enginesql.Engine ready to have its catalogue ensured.
func Open(dsn string, logger *slog.Logger) (*enginesql.Engine, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldriver/sqlite: open: %w", err)
	}
	// A single connection avoids SQLITE_BUSY storms from this driver's lack
	// of built-in connection-level write serialisation.
	db.SetMaxOpenConns(1)
	return enginesql.NewEngine(db, Spec, logger), nil
}
