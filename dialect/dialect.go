package dialect

// Dialect name constants, matching the two concrete DriverSpec
// implementations under sqldriver (§DOMAIN STACK).
const (
	SQLite = "sqlite"
	MySQL  = "mysql"
)
