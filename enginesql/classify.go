package enginesql

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/juleafs/julea"
)

// MySQL error numbers that correspond to the backend-db error taxonomy.
// Adapted from the teacher's dialect/sql/sqlgraph constraint classifier
// (errorNumberer probing a *mysql.MySQLError.Number); the SQLSTATE/lib/pq
// branch of that classifier is dropped along with Postgres support (see
// DOMAIN STACK).
const (
	mysqlDupEntry        = 1062
	mysqlNoSuchTable     = 1146
	mysqlBadFieldError   = 1054
	mysqlParseError      = 1064
)

// classifyDriverError wraps a raw database/sql error into one of this
// package's julea sentinel errors where the driver gives enough
// information to do so, and otherwise wraps it in a julea.DriverError
// carrying whatever code the driver did report.
func classifyDriverError(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDupEntry:
			return julea.ErrAlreadyExists
		case mysqlNoSuchTable:
			return julea.ErrSchemaNotFound
		case mysqlBadFieldError:
			return julea.ErrVariableNotFound
		default:
			return julea.NewDriverError(strconv.Itoa(int(me.Number)), me.Message, err)
		}
	}
	// modernc.org/sqlite surfaces errors as plain fmt-formatted strings
	// rather than a typed error carrying a result code, so fall back to
	// substring matching on the three conditions the engine needs to tell
	// apart from a generic IO failure.
	msg := err.Error()
	switch {
	case containsAny(msg, "UNIQUE constraint failed", "constraint failed: UNIQUE"):
		return julea.ErrAlreadyExists
	case containsAny(msg, "no such table"):
		return julea.ErrSchemaNotFound
	case containsAny(msg, "no such column"):
		return julea.ErrVariableNotFound
	default:
		return julea.NewDriverError("", msg, err)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
