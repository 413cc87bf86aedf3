// Package ddl defines a small, backend-agnostic model for SQL DDL and a
// renderer for CREATE TABLE statements.
//
// Backends supply a Dialect describing how identifiers are quoted and how the
// statement is guarded against an existing table. Everything else (column
// order, NOT NULL handling, PRIMARY KEY clause) is shared.
package ddl

import (
	"fmt"
	"strings"
)

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: logical column name (unquoted; quoting happens at render time)
//   - SQLType: target SQL type (e.g., TEXT, INT, NUMERIC(10,2))
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Default: raw default expression
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the fully-qualified table name (FQN) and an ordered list of
// columns. The FQN is expected in dotted form (e.g., "schema.table").
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}

// Names returns the column names in order.
func (t TableDef) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Dialect captures the per-backend differences in CREATE TABLE rendering.
type Dialect struct {
	// QuoteIdent quotes one identifier segment.
	QuoteIdent func(string) string

	// Guard wraps the rendered CREATE TABLE statement so it is a no-op when
	// the table already exists. The default prepends IF NOT EXISTS.
	Guard func(fqn, create string) string
}

// QuoteFQN quotes a possibly schema-qualified name segment by segment. Empty
// segments are ignored.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, d.QuoteIdent(p))
	}
	return strings.Join(out, ".")
}

// DoubleQuote quotes an identifier ANSI-style, escaping embedded quotes:
//
//	DoubleQuote(`pcv`)        => `"pcv"`
//	DoubleQuote(`weird"name`) => `"weird""name"`
func DoubleQuote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// ANSI is the dialect shared by Postgres and SQLite.
var ANSI = Dialect{QuoteIdent: DoubleQuote}

// BuildCreateTableSQL renders a deterministic, create-if-absent statement for
// t in dialect d.
//
// Rules:
//   - t.FQN must be non-empty.
//   - Each column must have a non-empty Name and SQLType.
//   - Primary-key columns are always NOT NULL.
//   - PRIMARY KEY is rendered as a separate clause in column order.
func BuildCreateTableSQL(t TableDef, d Dialect) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("ddl: table FQN must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: at least one column is required")
	}
	if d.QuoteIdent == nil {
		d.QuoteIdent = DoubleQuote
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, 1)

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("ddl: column with empty name in table %s", fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("ddl: column %s missing SQLType", name)
		}

		var sb strings.Builder
		sb.WriteString(d.QuoteIdent(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.QuoteIdent(name))
		}
	}

	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	body := fmt.Sprintf("%s (\n  %s\n)", d.QuoteFQN(fqn), strings.Join(cols, ",\n  "))
	if d.Guard != nil {
		return d.Guard(fqn, "CREATE TABLE "+body), nil
	}
	return "CREATE TABLE IF NOT EXISTS " + body, nil
}
