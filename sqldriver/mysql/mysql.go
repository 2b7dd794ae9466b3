// Package mysql wires github.com/go-sql-driver/mysql into enginesql's
// DriverSpec. Grounded on original_source/backend/db/mysql.c's overrides
// of the generic SQL specifics (quote character, autoincrement clause,
// last-insert-id query).
package mysql

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/go-sql-driver/mysql"

	"github.com/juleafs/julea/dialect"
	"github.com/juleafs/julea/enginesql"
)

// Spec is the DriverSpec for MySQL/MariaDB databases opened through
// go-sql-driver/mysql. MySQL's InnoDB driver multiplexes write
// transactions across connections safely, so SingleThreaded is false.
var Spec = &enginesql.DriverSpec{
	Dialect:             dialect.MySQL,
	Quote:               "`",
	AutoincrementClause: "BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY",
	Uint64Type:          "BIGINT UNSIGNED",
	LastInsertIDQuery:   "SELECT LAST_INSERT_ID()",
	SingleThreaded:      false,
}

// Open opens dsn (a go-sql-driver/mysql DSN, e.g.
// "user:pass@tcp(host:3306)/julea") and returns an enginesql.Engine ready
// to have its catalogue ensured.
func Open(dsn string, logger *slog.Logger) (*enginesql.Engine, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldriver/mysql: open: %w", err)
	}
	return enginesql.NewEngine(db, Spec, logger), nil
}
