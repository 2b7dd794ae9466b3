package enginesql

// DriverSpec captures the handful of DBMS-specific decisions the generic
// engine needs but cannot express portably: quoting style, the
// autoincrement clause, the widened unsigned-64-bit column type, and how
// to recover the row id of the statement just executed. One DriverSpec
// value exists per supported dialect (see sqldriver/sqlite,
// sqldriver/mysql); the engine itself never branches on dialect name.
//
// Grounded on original_source/backend/db/sql-generic.c's
// JSQLSpecifics.sql_* string table and mysql.c's overrides of it.
type DriverSpec struct {
	// Dialect is the dialect name constant this spec configures
	// (dialect.SQLite or dialect.MySQL).
	Dialect string

	// Quote is the identifier quoting character pair's opening/closing rune,
	// e.g. `"` for SQLite, "`" for MySQL.
	Quote string

	// AutoincrementClause is the whole definition of the _id column in
	// CREATE TABLE (type, key and autoincrement keywords together), e.g.
	// "INTEGER PRIMARY KEY AUTOINCREMENT" (SQLite) or
	// "BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY" (MySQL).
	AutoincrementClause string

	// Uint64Type is the column type used for TypeUInt64/TypeID fields other
	// than the primary key, e.g. "UNSIGNED BIG INT" (SQLite) or
	// "BIGINT UNSIGNED" (MySQL).
	Uint64Type string

	// LastInsertIDQuery is run in the same connection/transaction
	// immediately after an INSERT to recover the generated row id, e.g.
	// "SELECT last_insert_rowid()" or "SELECT LAST_INSERT_ID()".
	LastInsertIDQuery string

	// SingleThreaded, when true, forces the engine to serialise every batch
	// through Engine's global lock (§4.3's "not thread-safe" drivers,
	// e.g. SQLite connections opened without the shared cache).
	SingleThreaded bool
}

// columnType maps a FieldType to the DriverSpec's SQL column type, used by
// schema DDL generation.
func (d *DriverSpec) columnType(ft FieldType) string {
	switch ft {
	case TypeSInt32:
		return "INT"
	case TypeUInt32:
		return "INT UNSIGNED"
	case TypeSInt64:
		return "BIGINT"
	case TypeUInt64:
		return d.Uint64Type
	case TypeFloat32:
		return "FLOAT"
	case TypeFloat64:
		return "DOUBLE PRECISION"
	case TypeString:
		return "TEXT"
	case TypeBlob:
		return "BLOB"
	case TypeID:
		return d.Uint64Type
	default:
		return "TEXT"
	}
}

func (d *DriverSpec) quote(ident string) string {
	return d.Quote + ident + d.Quote
}
