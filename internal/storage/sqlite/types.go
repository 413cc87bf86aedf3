package sqlite

import (
	"fmt"

	"txetl/internal/schema"
)

// MapType maps a schema column to a SQLite declared type. Declared types only
// select a column affinity in SQLite; NUMERIC(p,s) keeps the textual shape of
// the DDL consistent with the other backends.
func MapType(c schema.Column) string {
	switch c.Type {
	case schema.Integer:
		return "INTEGER"
	case schema.Decimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", c.Precision, c.Scale)
	case schema.Timestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
