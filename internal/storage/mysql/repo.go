// Package mysql implements a MySQL/MariaDB storage.Repository on
// database/sql and github.com/go-sql-driver/mysql.
//
// Upsert runs chunked multi-row INSERT ... ON DUPLICATE KEY UPDATE
// statements in one transaction. The table must use a transactional engine
// (InnoDB, the default) for the batch to be all-or-nothing.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"txetl/internal/ddl"
	"txetl/internal/schema"
	"txetl/internal/storage"
)

const rowsPerStatement = 500

// Config holds MySQL repository configuration.
type Config struct {
	// DSN in go-sql-driver form, e.g. "etl:pw@tcp(db:3306)/shop".
	DSN string
	// Table is "table" or "database.table".
	Table string
}

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository parses the DSN, forces UTC time handling, connects and
// returns a Repository plus a close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func() error, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, nil, fmt.Errorf("mysql: table must not be empty")
	}
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC

	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql: connector: %w", err)
	}
	db := sql.OpenDB(conn)
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mysql: ping: %w", err)
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
		return fmt.Errorf("mysql: create table: %w", err)
	}
	return nil
}

// Columns implements storage.Repository.
func (r *Repository) Columns(ctx context.Context) ([]string, error) {
	var dbName any // nil selects the connection's default database
	table := r.cfg.Table
	if i := strings.LastIndex(table, "."); i >= 0 {
		dbName, table = table[:i], table[i+1:]
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT LOWER(COLUMN_NAME) FROM information_schema.COLUMNS "+
			"WHERE TABLE_SCHEMA = COALESCE(?, DATABASE()) AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION",
		dbName, table)
	if err != nil {
		return nil, fmt.Errorf("mysql: inspect columns: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("mysql: scan column: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Upsert implements storage.Repository. The affected count follows MySQL
// semantics: 1 per inserted row, 2 per updated row, 0 per unchanged row.
func (r *Repository) Upsert(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}
	if len(req.Columns) == 0 || req.Key == "" {
		return 0, fmt.Errorf("mysql: upsert needs columns and a key")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mysql: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var affected int64
	for start := 0; start < len(req.Rows); start += rowsPerStatement {
		end := min(start+rowsPerStatement, len(req.Rows))
		chunk := req.Rows[start:end]

		args := make([]any, 0, len(chunk)*len(req.Columns))
		for i, row := range chunk {
			if len(row) != len(req.Columns) {
				return 0, fmt.Errorf("mysql: row %d has %d values for %d columns", start+i+1, len(row), len(req.Columns))
			}
			for _, v := range row {
				args = append(args, encode(v))
			}
		}
		res, err := tx.ExecContext(ctx, buildUpsertSQL(r.cfg.Table, req.Columns, req.Key, len(chunk), req.Policy), args...)
		if err != nil {
			return 0, fmt.Errorf("mysql: upsert rows %d-%d: %w", start+1, end, describe(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mysql: rows affected: %w", err)
		}
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mysql: commit: %w", err)
	}
	return affected, nil
}

// buildUpsertSQL renders a multi-row INSERT for n rows. Ignore turns the
// duplicate-key branch into a no-op assignment; INSERT IGNORE would also
// downgrade type errors to warnings.
func buildUpsertSQL(table string, cols []string, key string, n int, policy storage.ConflictPolicy) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = backtick(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", Dialect.QuoteFQN(table), strings.Join(quoted, ", "))
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	b.WriteString(" ON DUPLICATE KEY UPDATE ")

	var sets []string
	if policy != storage.Ignore {
		for _, c := range cols {
			if c == key {
				continue
			}
			q := backtick(c)
			sets = append(sets, q+" = VALUES("+q+")")
		}
	}
	if len(sets) == 0 {
		k := backtick(key)
		sets = []string{k + " = " + k}
	}
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

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

// describe adds the server error number, which identifies the failure
// (1062 duplicate key, 1366 bad value, ...) better than the text.
func describe(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return fmt.Errorf("%w (error %d)", err, me.Number)
	}
	return err
}
