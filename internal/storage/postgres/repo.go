// Package postgres implements a Postgres repository using pgx v5. Upsert
// COPYs the batch into a transaction-scoped temp table and merges it into the
// target with INSERT ... ON CONFLICT, all in one transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"txetl/internal/ddl"
	"txetl/internal/schema"
	"txetl/internal/storage"
)

// stageTable is the temp table the batch is copied into.
const stageTable = "txetl_stage"

// pgConnLike is the subset of *pgx.Conn the repository uses; tests inject a
// fake.
type pgConnLike interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// Config holds Postgres repository configuration.
type Config struct {
	DSN   string // pgx connection string or URL
	Table string // target table, e.g. "transactions" or "public.transactions"
}

// Repository is a Postgres-backed implementation of storage.Repository over
// a single connection.
type Repository struct {
	conn pgConnLike
	cfg  Config
}

// NewRepository connects with pgx.Connect and returns the repository plus a
// close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func() error, error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, nil, fmt.Errorf("postgres: table must not be empty")
	}
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: connect: %w", err)
	}
	closeFn := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return conn.Close(ctx)
	}
	return &Repository{conn: conn, cfg: cfg}, closeFn, nil
}

func newRepositoryFromConn(conn pgConnLike, cfg Config) *Repository {
	return &Repository{conn: conn, cfg: cfg}
}

// EnsureTable implements storage.Repository.
func (r *Repository) EnsureTable(ctx context.Context, def schema.Definition) error {
	stmt, err := ddl.BuildCreateTableSQL(def.TableDef(r.cfg.Table, MapType), ddl.ANSI)
	if err != nil {
		return err
	}
	if _, err := r.conn.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create table: %w", describe(err))
	}
	return nil
}

const columnsSQL = `SELECT coalesce(array_agg(lower(column_name::text) ORDER BY ordinal_position), '{}'::text[])
FROM information_schema.columns
WHERE table_schema = coalesce($1::text, current_schema()) AND table_name = $2`

// Columns implements storage.Repository.
func (r *Repository) Columns(ctx context.Context) ([]string, error) {
	schemaName, table := splitFQN(r.cfg.Table)
	var cols []string
	if err := r.conn.QueryRow(ctx, columnsSQL, schemaName, table).Scan(&cols); err != nil {
		return nil, fmt.Errorf("postgres: inspect columns: %w", describe(err))
	}
	return cols, nil
}

// Upsert implements storage.Repository. The transaction is rolled back on
// every error so the target table is left as it was. EnsureTable runs
// outside this transaction, so a table it just created stays behind, empty,
// when the load fails.
func (r *Repository) Upsert(ctx context.Context, req storage.UpsertRequest) (n int64, err error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}
	if len(req.Columns) == 0 || req.Key == "" {
		return 0, fmt.Errorf("postgres: upsert needs columns and a key")
	}

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin: %w", describe(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		ddl.DoubleQuote(stageTable), ddl.ANSI.QuoteFQN(r.cfg.Table))
	if _, err = tx.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("postgres: create stage: %w", describe(err))
	}

	src := pgx.CopyFromSlice(len(req.Rows), func(i int) ([]any, error) {
		row := req.Rows[i]
		if len(row) != len(req.Columns) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i+1, len(row), len(req.Columns))
		}
		out := make([]any, len(row))
		for j, v := range row {
			out[j] = encode(v)
		}
		return out, nil
	})
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{stageTable}, req.Columns, src)
	if err != nil {
		return 0, fmt.Errorf("postgres: copy into stage: %w", describe(err))
	}

	tag, err := tx.Exec(ctx, buildMergeSQL(r.cfg.Table, req.Columns, req.Key, req.Policy))
	if err != nil {
		return 0, fmt.Errorf("postgres: merge %d staged rows: %w", copied, describe(err))
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", describe(err))
	}
	return tag.RowsAffected(), nil
}

// buildMergeSQL renders the INSERT ... SELECT from the stage table with the
// conflict clause for policy.
func buildMergeSQL(table string, cols []string, key string, policy storage.ConflictPolicy) string {
	quoted := make([]string, len(cols))
	var sets []string
	for i, c := range cols {
		q := ddl.DoubleQuote(c)
		quoted[i] = q
		if c != key {
			sets = append(sets, q+" = EXCLUDED."+q)
		}
	}
	list := strings.Join(quoted, ", ")

	action := "DO NOTHING"
	if policy != storage.Ignore && len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		ddl.ANSI.QuoteFQN(table), list, list, ddl.DoubleQuote(stageTable), ddl.DoubleQuote(key), action)
}

// encode converts record values into types pgx encodes without extra
// registration. Decimals become pgtype.Numeric so no float conversion happens.
func encode(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		return pgtype.Numeric{Int: t.Coefficient(), Exp: t.Exponent(), Valid: true}
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

// describe adds the server detail and SQLSTATE of a *pgconn.PgError.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s; SQLSTATE %s)", err, pgErr.Detail, pgErr.SQLState())
	}
	return err
}

// splitFQN splits "schema.table". A nil schema means current_schema().
func splitFQN(fqn string) (*string, string) {
	if i := strings.LastIndex(fqn, "."); i >= 0 {
		s := fqn[:i]
		return &s, fqn[i+1:]
	}
	return nil, fqn
}
