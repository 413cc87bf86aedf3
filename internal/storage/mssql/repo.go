// Package mssql implements a Microsoft SQL Server repository using the
// go-mssqldb bulk copy API. Upsert bulk-copies the batch into a session temp
// table (#txetl_stage) and MERGEs it into the target inside one transaction.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
	"github.com/shopspring/decimal"

	"txetl/internal/ddl"
	"txetl/internal/schema"
	"txetl/internal/storage"
)

const stageTable = "#txetl_stage"

// Config holds MSSQL repository configuration.
type Config struct {
	DSN   string // sqlserver:// URL or ADO-style connection string
	Table string // e.g. "dbo.transactions"
}

// Repository is an MSSQL-backed implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository validates the DSN, connects and returns a Repository plus a
// close function. The pool holds a single connection so the session temp
// table and the transaction share it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func() error, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, nil, fmt.Errorf("mssql: table must not be empty")
	}
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return &Repository{db: db, cfg: cfg}, db.Close, nil
}

// EnsureTable implements storage.Repository.
func (r *Repository) EnsureTable(ctx context.Context, def schema.Definition) error {
	stmt, err := ddl.BuildCreateTableSQL(def.TableDef(r.cfg.Table, MapType), Dialect)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mssql: create table: %w", err)
	}
	return nil
}

// Columns implements storage.Repository.
func (r *Repository) Columns(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT LOWER(c.name) FROM sys.columns AS c WHERE c.object_id = OBJECT_ID(@p1) ORDER BY c.column_id",
		msFQN(r.cfg.Table))
	if err != nil {
		return nil, fmt.Errorf("mssql: inspect columns: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("mssql: scan column: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Upsert implements storage.Repository.
func (r *Repository) Upsert(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}
	if len(req.Columns) == 0 || req.Key == "" {
		return 0, fmt.Errorf("mssql: upsert needs columns and a key")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	if _, err := tx.ExecContext(ctx, buildStageSQL(r.cfg.Table, req.Columns)); err != nil {
		rollback()
		return 0, fmt.Errorf("create stage: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(stageTable, mssql.BulkOptions{}, req.Columns...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i, row := range req.Rows {
		if len(row) != len(req.Columns) {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %d values for %d columns", i+1, len(row), len(req.Columns))
		}
		args := make([]any, len(row))
		for j, v := range row {
			args[j] = encode(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %w", i+1, err)
		}
	}
	_, err = stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}

	res, err := tx.ExecContext(ctx, buildMergeSQL(r.cfg.Table, req.Columns, req.Key, req.Policy))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("merge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE "+stageTable); err != nil {
		rollback()
		return 0, fmt.Errorf("drop stage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// buildStageSQL creates an empty session temp table shaped like the target.
func buildStageSQL(table string, cols []string) string {
	return fmt.Sprintf("SELECT TOP 0 %s INTO %s FROM %s",
		strings.Join(mapIdent(cols), ", "), stageTable, msFQN(table))
}

// buildMergeSQL renders the MERGE from the stage table for policy.
func buildMergeSQL(table string, cols []string, key string, policy storage.ConflictPolicy) string {
	var sets []string
	src := make([]string, len(cols))
	for i, c := range cols {
		src[i] = "S." + msIdent(c)
		if c != key {
			sets = append(sets, fmt.Sprintf("T.%s = S.%s", msIdent(c), msIdent(c)))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s WITH (HOLDLOCK) AS T USING %s AS S ON T.%s = S.%s",
		msFQN(table), stageTable, msIdent(key), msIdent(key))
	if policy != storage.Ignore && len(sets) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED BY TARGET THEN INSERT (%s) VALUES (%s);",
		strings.Join(mapIdent(cols), ", "), strings.Join(src, ", "))
	return b.String()
}

// encode converts record values for the bulk copy: decimals travel as exact
// strings, timestamps as UTC.
func encode(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		return t.String()
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "dbo.transactions" to
// [dbo].[transactions].
func msFQN(name string) string {
	parts := strings.Split(name, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, msIdent(p))
		}
	}
	return strings.Join(out, ".")
}

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = msIdent(c)
	}
	return out
}
