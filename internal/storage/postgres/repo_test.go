package postgres

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"txetl/internal/schema"
	"txetl/internal/storage"
)

// fakeRow implements pgx.Row for the columns query.
type fakeRow struct {
	cols []string
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]string)) = r.cols
	return nil
}

// fakePgConn implements pgConnLike.
type fakePgConn struct {
	execs    []string
	execErr  error
	row      *fakeRow
	rowArgs  []any
	tx       *fakePgTx
	beginErr error
	closed   bool
}

func (c *fakePgConn) Exec(ctx context.Context, q string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, q)
	return pgconn.CommandTag{}, c.execErr
}

func (c *fakePgConn) QueryRow(ctx context.Context, q string, args ...any) pgx.Row {
	c.rowArgs = args
	return c.row
}

func (c *fakePgConn) Begin(ctx context.Context) (pgx.Tx, error) {
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	return c.tx, nil
}

func (c *fakePgConn) Close(ctx context.Context) error { c.closed = true; return nil }

// fakePgTx implements pgx.Tx with instrumentation for Exec, CopyFrom,
// Commit and Rollback.
type fakePgTx struct {
	execs      []string
	mergeErr   error
	copyErr    error
	copyTable  pgx.Identifier
	copyCols   []string
	copied     [][]any
	committed  bool
	rolledBack bool
}

func (t *fakePgTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakePgTx) Exec(ctx context.Context, q string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, q)
	if strings.HasPrefix(q, "INSERT") {
		if t.mergeErr != nil {
			return pgconn.CommandTag{}, t.mergeErr
		}
		return pgconn.NewCommandTag("INSERT 0 " + strconv.Itoa(len(t.copied))), nil
	}
	return pgconn.CommandTag{}, nil
}

func (t *fakePgTx) Query(ctx context.Context, q string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *fakePgTx) QueryRow(ctx context.Context, q string, args ...any) pgx.Row { return nil }

func (t *fakePgTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	t.copyTable, t.copyCols = table, cols
	for src.Next() {
		v, err := src.Values()
		if err != nil {
			return 0, err
		}
		t.copied = append(t.copied, v)
	}
	if err := src.Err(); err != nil {
		return 0, err
	}
	if t.copyErr != nil {
		return 0, t.copyErr
	}
	return int64(len(t.copied)), nil
}

func (t *fakePgTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakePgTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakePgTx) Conn() *pgx.Conn                                              { return nil }
func (t *fakePgTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakePgTx) Deallocate(ctx context.Context, name string) error { return nil }
func (t *fakePgTx) Commit(ctx context.Context) error                  { t.committed = true; return nil }
func (t *fakePgTx) Rollback(ctx context.Context) error                { t.rolledBack = true; return nil }

func sampleRequest(policy storage.ConflictPolicy) storage.UpsertRequest {
	cols := schema.Transactions().Names()
	row := func(id string) []any {
		return []any{
			id, int64(7), "P1", nil, int64(3),
			decimal.RequireFromString("2.01"), "card",
			time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600)),
			"CZ", decimal.RequireFromString("6.02"),
		}
	}
	return storage.UpsertRequest{Columns: cols, Key: schema.TransactionID, Rows: [][]any{row("a"), row("b")}, Policy: policy}
}

func TestEnsureTable_RendersSchemaDDL(t *testing.T) {
	t.Parallel()

	conn := &fakePgConn{}
	r := newRepositoryFromConn(conn, Config{Table: "public.transactions"})
	if err := r.EnsureTable(context.Background(), schema.Transactions()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if len(conn.execs) != 1 {
		t.Fatalf("execs = %v", conn.execs)
	}
	ddl := conn.execs[0]
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "public"."transactions"`,
		`"transaction_id" TEXT NOT NULL`,
		`"user_id" INT,`,
		`"price_per_unit" NUMERIC(10,2)`,
		`"transaction_date" TIMESTAMP`,
		`PRIMARY KEY ("transaction_id")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("DDL missing %q:\n%s", want, ddl)
		}
	}
}

func TestEnsureTable_Error(t *testing.T) {
	t.Parallel()

	conn := &fakePgConn{execErr: &pgconn.PgError{Code: "42501", Message: "permission denied", Detail: "no CREATE on schema"}}
	r := newRepositoryFromConn(conn, Config{Table: "transactions"})
	err := r.EnsureTable(context.Background(), schema.Transactions())
	if err == nil || !strings.Contains(err.Error(), "no CREATE on schema") || !strings.Contains(err.Error(), "42501") {
		t.Fatalf("err = %v", err)
	}
}

func TestColumns(t *testing.T) {
	t.Parallel()

	conn := &fakePgConn{row: &fakeRow{cols: []string{"transaction_id", "user_id"}}}
	r := newRepositoryFromConn(conn, Config{Table: "sales.transactions"})
	cols, err := r.Columns(context.Background())
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if !reflect.DeepEqual(cols, []string{"transaction_id", "user_id"}) {
		t.Fatalf("cols = %v", cols)
	}
	if s, ok := conn.rowArgs[0].(*string); !ok || *s != "sales" || conn.rowArgs[1] != "transactions" {
		t.Fatalf("args = %#v", conn.rowArgs)
	}

	conn = &fakePgConn{row: &fakeRow{}}
	r = newRepositoryFromConn(conn, Config{Table: "transactions"})
	if _, err := r.Columns(context.Background()); err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if s, _ := conn.rowArgs[0].(*string); s != nil {
		t.Fatalf("unqualified table should use current_schema(), got %q", *s)
	}
}

func TestUpsert_StagesCopiesAndMerges(t *testing.T) {
	t.Parallel()

	tx := &fakePgTx{}
	r := newRepositoryFromConn(&fakePgConn{tx: tx}, Config{Table: "transactions"})
	n, err := r.Upsert(context.Background(), sampleRequest(storage.Update))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if !tx.committed || tx.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
	if len(tx.execs) != 2 {
		t.Fatalf("execs = %v", tx.execs)
	}
	if want := `CREATE TEMP TABLE "txetl_stage" (LIKE "transactions" INCLUDING DEFAULTS) ON COMMIT DROP`; tx.execs[0] != want {
		t.Fatalf("stage DDL = %s", tx.execs[0])
	}
	if !reflect.DeepEqual(tx.copyTable, pgx.Identifier{stageTable}) || len(tx.copyCols) != 10 {
		t.Fatalf("copy target = %v %v", tx.copyTable, tx.copyCols)
	}
	merge := tx.execs[1]
	if !strings.Contains(merge, `ON CONFLICT ("transaction_id") DO UPDATE SET "user_id" = EXCLUDED."user_id"`) {
		t.Fatalf("merge = %s", merge)
	}
	if strings.Contains(merge, `"transaction_id" = EXCLUDED`) {
		t.Fatalf("key column must not be updated: %s", merge)
	}

	price, ok := tx.copied[0][5].(pgtype.Numeric)
	if !ok || !price.Valid || price.Int.Int64() != 201 || price.Exp != -2 {
		t.Fatalf("price encoded as %#v", tx.copied[0][5])
	}
	ts, ok := tx.copied[0][7].(time.Time)
	if !ok || ts.Location() != time.UTC || ts.Hour() != 2 {
		t.Fatalf("timestamp encoded as %#v", tx.copied[0][7])
	}
	if tx.copied[0][3] != nil {
		t.Fatalf("null must stay nil, got %#v", tx.copied[0][3])
	}
}

func TestUpsert_IgnorePolicy(t *testing.T) {
	t.Parallel()

	tx := &fakePgTx{}
	r := newRepositoryFromConn(&fakePgConn{tx: tx}, Config{Table: "transactions"})
	if _, err := r.Upsert(context.Background(), sampleRequest(storage.Ignore)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !strings.HasSuffix(tx.execs[1], `ON CONFLICT ("transaction_id") DO NOTHING`) {
		t.Fatalf("merge = %s", tx.execs[1])
	}
}

func TestUpsert_FailuresRollBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tx   *fakePgTx
		req  func() storage.UpsertRequest
	}{
		{name: "copy", tx: &fakePgTx{copyErr: errors.New("invalid input syntax")}},
		{name: "merge", tx: &fakePgTx{mergeErr: &pgconn.PgError{Code: "22003", Message: "numeric field overflow"}}},
		{name: "row shape", tx: &fakePgTx{}, req: func() storage.UpsertRequest {
			req := sampleRequest(storage.Update)
			req.Rows[1] = req.Rows[1][:2]
			return req
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := sampleRequest(storage.Update)
			if tt.req != nil {
				req = tt.req()
			}
			r := newRepositoryFromConn(&fakePgConn{tx: tt.tx}, Config{Table: "transactions"})
			n, err := r.Upsert(context.Background(), req)
			if err == nil || n != 0 {
				t.Fatalf("Upsert = %d, %v; want error", n, err)
			}
			if tt.tx.committed || !tt.tx.rolledBack {
				t.Fatalf("committed=%v rolledBack=%v", tt.tx.committed, tt.tx.rolledBack)
			}
		})
	}
}

func TestEnsureTable_OutlivesFailedUpsert(t *testing.T) {
	t.Parallel()

	tx := &fakePgTx{copyErr: errors.New("invalid input syntax")}
	conn := &fakePgConn{tx: tx}
	r := newRepositoryFromConn(conn, Config{Table: "transactions"})
	ctx := context.Background()
	if err := r.EnsureTable(ctx, schema.Transactions()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if _, err := r.Upsert(ctx, sampleRequest(storage.Update)); err == nil {
		t.Fatalf("Upsert: want error")
	}
	if len(conn.execs) != 1 || !strings.HasPrefix(conn.execs[0], "CREATE TABLE IF NOT EXISTS") {
		t.Fatalf("table DDL must run on the connection, execs = %v", conn.execs)
	}
	for _, q := range tx.execs {
		if strings.Contains(q, "CREATE TABLE IF NOT EXISTS") {
			t.Fatalf("table DDL ran inside the load transaction: %s", q)
		}
	}
	if !tx.rolledBack || tx.committed {
		t.Fatalf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestUpsert_BeginError(t *testing.T) {
	t.Parallel()

	r := newRepositoryFromConn(&fakePgConn{beginErr: errors.New("conn busy")}, Config{Table: "transactions"})
	if _, err := r.Upsert(context.Background(), sampleRequest(storage.Update)); err == nil || !strings.Contains(err.Error(), "conn busy") {
		t.Fatalf("err = %v", err)
	}
}

func TestFactory_UsesSeamAndCloses(t *testing.T) {
	conn := &fakePgConn{}
	orig := newRepository
	t.Cleanup(func() { newRepository = orig })
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func() error, error) {
		if cfg.Table != "transactions" || cfg.DSN != "postgres://u@h/db" {
			t.Fatalf("cfg = %+v", cfg)
		}
		return newRepositoryFromConn(conn, cfg), func() error { return conn.Close(ctx) }, nil
	}

	repo, err := storage.New(context.Background(), storage.Config{Kind: "postgres", DSN: "postgres://u@h/db", Table: "transactions"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = repo.Close()
	_ = repo.Close()
	if !conn.closed {
		t.Fatalf("connection not closed")
	}
}

func TestMapType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		col  schema.Column
		want string
	}{
		{schema.Column{Type: schema.Text}, "TEXT"},
		{schema.Column{Type: schema.Integer}, "INT"},
		{schema.Column{Type: schema.Decimal, Precision: 10, Scale: 2}, "NUMERIC(10,2)"},
		{schema.Column{Type: schema.Timestamp}, "TIMESTAMP"},
	}
	for _, tt := range tests {
		if got := MapType(tt.col); got != tt.want {
			t.Fatalf("MapType(%v) = %q, want %q", tt.col.Type, got, tt.want)
		}
	}
}
