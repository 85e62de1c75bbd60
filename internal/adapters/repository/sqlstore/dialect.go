package sqlstore

import (
	"strconv"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	name       string
	driverName string
	identity   string
	numbered   bool
}

var ( //nolint:gochecknoglobals // immutable dialect descriptions
	sqliteDialect = dialect{
		name:       DriverSQLite,
		driverName: "sqlite",
		identity:   "INTEGER PRIMARY KEY AUTOINCREMENT",
	}
	postgresDialect = dialect{
		name:       DriverPostgres,
		driverName: "pgx",
		identity:   "BIGSERIAL PRIMARY KEY",
		numbered:   true,
	}
)

// rebind rewrites ? placeholders to $n for dialects with numbered parameters.
// Queries in this package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// ddl expands the identity column placeholder of a schema statement.
func (d dialect) ddl(stmt string) string {
	return strings.ReplaceAll(stmt, "{{identity}}", d.identity)
}
