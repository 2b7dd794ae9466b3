// Package dialect names the DBMS dialects the generic SQL engine (package
// enginesql) supports.
//
// # Supported Dialects
//
// The two concrete DriverSpec implementations under sqldriver target:
//
//   - SQLite: embedded, pure-Go (modernc.org/sqlite)
//   - MySQL: network DBMS (go-sql-driver/mysql)
//
// Each is identified by a constant string:
//
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// enginesql uses these only to select a DriverSpec; it talks to the
// underlying database directly through database/sql's *sql.DB/*sql.Tx,
// not through an intermediate dialect-specific driver interface.
package dialect
