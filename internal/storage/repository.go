// Package storage contains the storage-agnostic sink contract, the backend
// registry and the Writer that loads one batch through a scoped connection.
//
// Backends (postgres, sqlite, mssql) register a Factory at init time; import
// txetl/internal/storage/all to enable every built-in backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"txetl/internal/schema"
)

var (
	// ErrSinkFailure is wrapped by every Writer.Write error.
	ErrSinkFailure = errors.New("sink failure")

	// ErrSchemaMismatch means the existing table lacks schema columns.
	ErrSchemaMismatch = errors.New("existing table does not match schema")

	// ErrUnsupportedKind is returned by New for unregistered backends.
	ErrUnsupportedKind = errors.New("unsupported storage kind")
)

// ConflictPolicy decides what an upsert does with a row whose key already
// exists. Both policies are idempotent.
type ConflictPolicy string

const (
	// Update replaces every non-key column with the incoming values.
	Update ConflictPolicy = "update"
	// Ignore keeps the existing row untouched.
	Ignore ConflictPolicy = "ignore"
)

// ParseConflictPolicy accepts "update" and "ignore" (case-insensitive). An
// empty string selects Update.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return Update, nil
	case Update, Ignore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown upsert policy %q (want update|ignore)", s)
	}
}

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name: "postgres", "sqlite", "mssql".
	Kind string
	// DSN is passed to the backend driver unchanged.
	DSN string
	// Table is the destination table, optionally schema-qualified.
	Table string
}

// UpsertRequest is one atomic bulk upsert. Rows are aligned to Columns and
// hold the values produced by records.Transaction.Values.
type UpsertRequest struct {
	Columns []string
	Key     string
	Rows    [][]any
	Policy  ConflictPolicy
}

// Repository is an open connection to one destination table. It is not safe
// for concurrent use.
type Repository interface {
	// EnsureTable creates the table for def if it does not exist. Existing
	// tables are never altered.
	EnsureTable(ctx context.Context, def schema.Definition) error

	// Columns returns the column names of the existing table, lower-cased.
	Columns(ctx context.Context) ([]string, error)

	// Upsert applies every row or none and returns the affected row count.
	Upsert(ctx context.Context, req UpsertRequest) (int64, error)

	// Close releases the connection.
	Close() error
}
