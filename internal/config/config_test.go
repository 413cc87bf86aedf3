package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"txetl/internal/storage"
)

func load(t *testing.T, env map[string]string, args ...string) *Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := LoadFromArgs(fs, func(k string) string { return env[k] }, args)
	if err != nil {
		t.Fatalf("LoadFromArgs: %v", err)
	}
	return cfg
}

func TestLoadFromArgs_Defaults(t *testing.T) {
	t.Parallel()

	cfg := load(t, nil)
	if cfg.DBDriver != "postgres" || cfg.Table != "transactions" {
		t.Fatalf("driver/table defaults: %+v", cfg)
	}
	if cfg.SourceTimeout != 10*time.Second {
		t.Fatalf("timeout = %s; want 10s", cfg.SourceTimeout)
	}
	if cfg.UpsertPolicy != "update" || cfg.Dedupe {
		t.Fatalf("policy/dedupe defaults: %q %v", cfg.UpsertPolicy, cfg.Dedupe)
	}
	if cfg.LogFile != "etl.log" || cfg.JobName != "transactions_etl" || cfg.MetricsBackend != "none" {
		t.Fatalf("ambient defaults: %+v", cfg)
	}
	if cfg.RawCSV != "" || cfg.TransformedCSV != "" {
		t.Fatalf("artifacts should be off by default")
	}
}

func TestLoadFromArgs_EnvThenFlags(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"SOURCE_URL":          "https://api.example.com/tx",
		"SOURCE_TIMEOUT":      "3",
		"SOURCE_INSECURE_TLS": "yes",
		"DB_DRIVER":           "sqlite",
		"DB_DSN":              "file:env.db",
		"DEDUPE":              "on",
		"UPSERT_POLICY":       "ignore",
	}
	cfg := load(t, env, "-dsn=file:flag.db", "-source_timeout=750ms", "-v")

	if cfg.SourceURL != env["SOURCE_URL"] || !cfg.SourceInsecureTLS || !cfg.Dedupe {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.DSN != "file:flag.db" {
		t.Fatalf("flag should win over env: %q", cfg.DSN)
	}
	if cfg.SourceTimeout != 750*time.Millisecond {
		t.Fatalf("timeout = %s", cfg.SourceTimeout)
	}
	if cfg.Level() != "debug" {
		t.Fatalf("-v should force debug, got %q", cfg.Level())
	}
	if got := cfg.Storage(); got.Kind != "sqlite" || got.DSN != "file:flag.db" {
		t.Fatalf("Storage() = %+v", got)
	}
	if got := cfg.Source(); got.Timeout != 750*time.Millisecond || !got.InsecureSkipVerify {
		t.Fatalf("Source() = %+v", got)
	}
}

func TestLoadFromArgs_BareSecondsAndBadValues(t *testing.T) {
	t.Parallel()

	if cfg := load(t, map[string]string{"SOURCE_TIMEOUT": "3"}); cfg.SourceTimeout != 3*time.Second {
		t.Fatalf("bare seconds: %s", cfg.SourceTimeout)
	}
	if cfg := load(t, map[string]string{"SOURCE_TIMEOUT": "soon", "DEDUPE": "maybe"}); cfg.SourceTimeout != 10*time.Second || cfg.Dedupe {
		t.Fatalf("bad env should fall back to defaults: %+v", cfg)
	}
}

func TestLoadFromArgs_UnknownFlag(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := LoadFromArgs(fs, func(string) string { return "" }, []string{"-nope"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestStorageDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"postgres defaults", nil, "postgres://postgres@localhost:5432/postgres?sslmode=disable"},
		{"postgres parts", map[string]string{
			"DB_HOST": "db", "DB_PORT": "6543", "DB_NAME": "shop", "DB_USER": "etl", "DB_PASSWORD": "p@ss", "DB_SSLMODE": "require",
		}, "postgres://etl:p%40ss@db:6543/shop?sslmode=require"},
		{"explicit dsn wins", map[string]string{"DB_DSN": "postgres://x@y/z"}, "postgres://x@y/z"},
		{"mssql never built", map[string]string{"DB_DRIVER": "mssql"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := load(t, tt.env).StorageDSN(); got != tt.want {
				t.Fatalf("StorageDSN() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	t.Parallel()

	cfg := load(t, map[string]string{
		"SOURCE_URL":     "https://api.example.com/tx?key=abc",
		"SOURCE_API_KEY": "abc",
		"DB_DSN":         "postgres://etl:hunter2@db/shop",
		"DB_PASSWORD":    "hunter2",
	})
	r := cfg.Redacted()
	for _, s := range []string{r.SourceURL, r.SourceAPIKey, r.DSN, r.DBPassword} {
		if strings.Contains(s, "abc") || strings.Contains(s, "hunter2") {
			t.Fatalf("secret leaked: %+v", r)
		}
	}
	if cfg.DBPassword != "hunter2" {
		t.Fatalf("Redacted mutated the receiver")
	}
}

func TestRedactDSN(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"", ""},
		{"file:/tmp/tx.db", "file:/tmp/tx.db"},
		{"sqlserver://sa:Secret1@h:1433?database=d", "sqlserver://sa:xxxxx@h:1433?database=d"},
		{"host=db user=etl password=s3cret dbname=shop", "host=db user=etl password=xxxxx dbname=shop"},
		{"server=h;user id=sa;Password=s3cret;database=d", "server=h;user id=sa;Password=xxxxx;database=d"},
	}
	for _, tt := range tests {
		if got := RedactDSN(tt.in); got != tt.want {
			t.Fatalf("RedactDSN(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "TXETL_TEST_FROM_FILE=file\nTXETL_TEST_PRESET=file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TXETL_TEST_PRESET", "process")
	t.Cleanup(func() { os.Unsetenv("TXETL_TEST_FROM_FILE") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("TXETL_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("file value not loaded: %q", got)
	}
	if got := os.Getenv("TXETL_TEST_PRESET"); got != "process" {
		t.Fatalf("process env should win, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	kinds := []string{"mssql", "postgres", "sqlite"}
	good := map[string]string{"SOURCE_URL": "https://api.example.com/tx"}

	tests := []struct {
		name     string
		env      map[string]string
		wantPath string
		wantErr  bool
	}{
		{"valid postgres", good, "", false},
		{"missing url", map[string]string{}, "SOURCE_URL", true},
		{"relative url", map[string]string{"SOURCE_URL": "/tx"}, "SOURCE_URL", true},
		{"unknown driver", merge(good, "DB_DRIVER", "oracle"), "DB_DRIVER", true},
		{"sqlite needs dsn", merge(good, "DB_DRIVER", "sqlite"), "DB_DSN", true},
		{"bad policy", merge(good, "UPSERT_POLICY", "replace"), "UPSERT_POLICY", true},
		{"pushgateway needs url", merge(good, "METRICS_BACKEND", "pushgateway"), "PUSHGATEWAY_URL", true},
		{"unknown metrics", merge(good, "METRICS_BACKEND", "graphite"), "METRICS_BACKEND", true},
		{"same artifact paths", merge(merge(good, "RAW_CSV_PATH", "a.csv"), "TRANSFORMED_CSV_PATH", "a.csv"), "TRANSFORMED_CSV_PATH", true},
		{"insecure tls warns", merge(good, "SOURCE_INSECURE_TLS", "true"), "SOURCE_INSECURE_TLS", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			issues := Validate(load(t, tt.env), kinds)
			if HasErrors(issues) != tt.wantErr {
				t.Fatalf("HasErrors = %v; issues = %v", !tt.wantErr, issues)
			}
			if tt.wantPath == "" {
				if len(issues) != 0 {
					t.Fatalf("unexpected issues: %v", issues)
				}
				return
			}
			for _, iss := range issues {
				if iss.Path == tt.wantPath {
					return
				}
			}
			t.Fatalf("no issue at %s: %v", tt.wantPath, issues)
		})
	}
}

func TestValidate_PolicyMatchesStorage(t *testing.T) {
	t.Parallel()

	cfg := load(t, map[string]string{"SOURCE_URL": "http://h/x", "UPSERT_POLICY": "IGNORE"})
	if HasErrors(Validate(cfg, []string{"postgres"})) {
		t.Fatalf("IGNORE should be accepted")
	}
	if p, _ := storage.ParseConflictPolicy(cfg.UpsertPolicy); p != storage.Ignore {
		t.Fatalf("policy = %q", p)
	}
}

func merge(base map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for bk, bv := range base {
		out[bk] = bv
	}
	out[k] = v
	return out
}
