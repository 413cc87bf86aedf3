// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql and the pure-Go modernc.org/sqlite driver.
//
// SQLite has no bulk-load API like Postgres COPY, so Upsert runs chunked
// multi-row INSERT ... ON CONFLICT statements inside one transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"txetl/internal/ddl"
	"txetl/internal/schema"
	"txetl/internal/storage"
)

// rowsPerStatement bounds the bind parameters of one INSERT well below
// SQLite's limit.
const rowsPerStatement = 500

// timestampLayout is how timestamps are stored (TEXT, UTC).
const timestampLayout = "2006-01-02 15:04:05.999999999"

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a file path or URI, e.g. "etl.db" or "file:etl.db?_pragma=busy_timeout(5000)".
	DSN string

	// Table is the destination table; "main.transactions" is accepted.
	Table string
}

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository opens cfg.DSN and returns a Repository plus a close function.
// The pool is capped at one connection so the repository behaves like a single
// scoped connection (and so ":memory:" databases are not split).
func NewRepository(ctx context.Context, cfg Config) (*Repository, func() error, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, nil, fmt.Errorf("sqlite: table must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Repository{db: db, cfg: cfg}, db.Close, nil
}

// EnsureTable implements storage.Repository.
func (r *Repository) EnsureTable(ctx context.Context, def schema.Definition) error {
	stmt, err := ddl.BuildCreateTableSQL(def.TableDef(r.cfg.Table, MapType), ddl.ANSI)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: create table: %w", err)
	}
	return nil
}

// Columns implements storage.Repository.
func (r *Repository) Columns(ctx context.Context) ([]string, error) {
	schemaName, table := splitFQN(r.cfg.Table)
	rows, err := r.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?, ?)", table, schemaName)
	if err != nil {
		return nil, fmt.Errorf("sqlite: table info: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan table info: %w", err)
		}
		out = append(out, strings.ToLower(name))
	}
	return out, rows.Err()
}

// Upsert implements storage.Repository. All chunks share one transaction.
func (r *Repository) Upsert(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}
	if len(req.Columns) == 0 || req.Key == "" {
		return 0, fmt.Errorf("sqlite: upsert needs columns and a key")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	var affected int64
	for start := 0; start < len(req.Rows); start += rowsPerStatement {
		end := min(start+rowsPerStatement, len(req.Rows))
		chunk := req.Rows[start:end]

		args := make([]any, 0, len(chunk)*len(req.Columns))
		for i, row := range chunk {
			if len(row) != len(req.Columns) {
				rollback()
				return 0, fmt.Errorf("sqlite: row %d has %d values for %d columns", start+i+1, len(row), len(req.Columns))
			}
			for _, v := range row {
				args = append(args, encode(v))
			}
		}

		res, err := tx.ExecContext(ctx, buildUpsertSQL(r.cfg.Table, req.Columns, req.Key, len(chunk), req.Policy), args...)
		if err != nil {
			rollback()
			return 0, fmt.Errorf("sqlite: upsert rows %d-%d: %w", start+1, end, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			rollback()
			return 0, fmt.Errorf("sqlite: rows affected: %w", err)
		}
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit: %w", err)
	}
	return affected, nil
}

// buildUpsertSQL renders a multi-row INSERT for n rows with an ON CONFLICT
// clause on key.
func buildUpsertSQL(table string, cols []string, key string, n int, policy storage.ConflictPolicy) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ddl.DoubleQuote(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", ddl.ANSI.QuoteFQN(table), strings.Join(quoted, ", "))
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) ", ddl.DoubleQuote(key))

	var sets []string
	for _, c := range cols {
		if c == key {
			continue
		}
		q := ddl.DoubleQuote(c)
		sets = append(sets, q+" = excluded."+q)
	}
	if policy == storage.Ignore || len(sets) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	return b.String()
}

// encode converts record values into types SQLite stores predictably.
func encode(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		return t.String()
	case time.Time:
		return t.UTC().Format(timestampLayout)
	default:
		return v
	}
}

// splitFQN splits "schema.table"; schema defaults to "main".
func splitFQN(fqn string) (string, string) {
	if i := strings.LastIndex(fqn, "."); i >= 0 {
		return fqn[:i], fqn[i+1:]
	}
	return "main", fqn
}
