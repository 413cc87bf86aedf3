package mysql

import (
	"fmt"
	"strings"

	"txetl/internal/ddl"
	"txetl/internal/schema"
)

// Dialect renders CREATE TABLE for MySQL, which supports IF NOT EXISTS but
// quotes identifiers with backticks.
var Dialect = ddl.Dialect{QuoteIdent: backtick}

func backtick(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// MapType maps a schema column to a MySQL column type. TEXT cannot be a
// primary key without a prefix length, so key text columns are VARCHAR.
func MapType(c schema.Column) string {
	switch c.Type {
	case schema.Integer:
		return "INT"
	case schema.Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", c.Precision, c.Scale)
	case schema.Timestamp:
		return "DATETIME(6)"
	default:
		if c.PrimaryKey {
			return "VARCHAR(255)"
		}
		return "TEXT"
	}
}
