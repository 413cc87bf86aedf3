package mssql

import (
	"fmt"

	"txetl/internal/ddl"
	"txetl/internal/schema"
)

// Dialect renders CREATE TABLE for SQL Server. T-SQL has no CREATE TABLE IF
// NOT EXISTS, so the statement is wrapped in an OBJECT_ID guard.
var Dialect = ddl.Dialect{
	QuoteIdent: msIdent,
	Guard: func(fqn, create string) string {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n%s;\nEND;", msFQN(fqn), create)
	},
}

// MapType maps a schema column to a SQL Server column type. Key text columns
// use NVARCHAR(450) because NVARCHAR(MAX) cannot be indexed.
func MapType(c schema.Column) string {
	switch c.Type {
	case schema.Integer:
		return "INT"
	case schema.Decimal:
		return fmt.Sprintf("DECIMAL(%d,%d)", c.Precision, c.Scale)
	case schema.Timestamp:
		return "DATETIME2"
	default:
		if c.PrimaryKey {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	}
}
