package postgres

import (
	"fmt"

	"txetl/internal/schema"
)

// MapType maps a schema column to a Postgres column type.
func MapType(c schema.Column) string {
	switch c.Type {
	case schema.Integer:
		return "INT"
	case schema.Decimal:
		return fmt.Sprintf("NUMERIC(%d,%d)", c.Precision, c.Scale)
	case schema.Timestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
