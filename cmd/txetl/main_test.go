package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"txetl/internal/pipeline"
)

func runWith(t *testing.T, env map[string]string, args ...string) (int, string) {
	t.Helper()
	fs := flag.NewFlagSet("txetl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var stderr bytes.Buffer
	code := run(context.Background(), fs, func(k string) string { return env[k] }, args, &stderr)
	return code, stderr.String()
}

func baseEnv(t *testing.T, sourceURL string) map[string]string {
	dir := t.TempDir()
	return map[string]string{
		"SOURCE_URL": sourceURL,
		"DB_DRIVER":  "sqlite",
		"DB_DSN":     filepath.Join(dir, "tx.db"),
		"LOG_FILE":   filepath.Join(dir, "etl.log"),
	}
}

func TestRun_ValidateOnly(t *testing.T) {
	t.Parallel()

	code, out := runWith(t, baseEnv(t, "https://api.example.com/tx"), "-validate")
	if code != pipeline.ExitOK || !strings.Contains(out, "configuration is valid") {
		t.Fatalf("code = %d, out = %s", code, out)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Parallel()

	env := baseEnv(t, "")
	env["UPSERT_POLICY"] = "merge"
	code, out := runWith(t, env)
	if code != pipeline.ExitConfig {
		t.Fatalf("code = %d; want %d", code, pipeline.ExitConfig)
	}
	for _, want := range []string{"SOURCE_URL", "UPSERT_POLICY", "configuration is invalid"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_BadFlag(t *testing.T) {
	t.Parallel()

	if code, _ := runWith(t, nil, "-no-such-flag"); code != pipeline.ExitConfig {
		t.Fatalf("code = %d", code)
	}
}

func TestRun_CompletedAndLogFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"transaction_id":"T1","quantity":1,"price_per_unit":"9.99"}]`)
	}))
	defer srv.Close()

	env := baseEnv(t, srv.URL)
	dir := filepath.Dir(env["DB_DSN"])
	code, out := runWith(t, env, "-raw_csv="+filepath.Join(dir, "raw.csv"))
	if code != pipeline.ExitOK {
		t.Fatalf("code = %d\n%s", code, out)
	}
	logged, err := os.ReadFile(env["LOG_FILE"])
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(logged), `"status":"Completed"`) {
		t.Fatalf("log file lacks final status:\n%s", logged)
	}
	if _, err := os.Stat(filepath.Join(dir, "raw.csv")); err != nil {
		t.Fatalf("raw artifact: %v", err)
	}
}

func TestRun_SourceDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if code, out := runWith(t, baseEnv(t, srv.URL)); code != pipeline.ExitFetchError {
		t.Fatalf("code = %d\n%s", code, out)
	}
}

func TestRun_LoadFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"transaction_id":"T1"},{"transaction_id":"T1"}]`)
	}))
	defer srv.Close()

	// Duplicate keys are rejected before any database access.
	if code, out := runWith(t, baseEnv(t, srv.URL)); code != pipeline.ExitLoadError {
		t.Fatalf("code = %d\n%s", code, out)
	}
}
