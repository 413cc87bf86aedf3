package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"txetl/internal/logging"
	"txetl/internal/records"
	"txetl/internal/schema"
)

// Writer loads a normalized batch into the destination table.
//
// Each Write opens its own connection and closes it before returning, on
// every path including a panic in a backend. No connection outlives a call.
type Writer struct {
	Config Config
	Schema schema.Definition
	Policy ConflictPolicy

	// open defaults to New; tests replace it.
	open Factory
}

// NewWriter returns a Writer for the transactions schema.
func NewWriter(cfg Config, policy ConflictPolicy) *Writer {
	return &Writer{Config: cfg, Schema: schema.Transactions(), Policy: policy}
}

// Write validates batch, ensures the table exists and applies one atomic
// upsert keyed on the schema's primary key. On failure nothing from batch is
// committed and the returned error wraps ErrSinkFailure.
func (w *Writer) Write(ctx context.Context, batch []records.Transaction) (n int64, err error) {
	log := logging.FromContext(ctx).With().Str("table", w.Config.Table).Str("kind", w.Config.Kind).Logger()
	if len(batch) == 0 {
		log.Warn().Msg("empty batch, nothing written")
		return 0, nil
	}
	if err := w.Schema.Validate(batch); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSinkFailure, err)
	}

	open := w.open
	if open == nil {
		open = New
	}
	repo, err := open(ctx, w.Config)
	if err != nil {
		return 0, fmt.Errorf("%w: connect: %w", ErrSinkFailure, err)
	}
	log.Debug().Msg("connection opened")
	defer func() {
		if cerr := repo.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("close connection")
			if err == nil {
				err = fmt.Errorf("%w: close: %w", ErrSinkFailure, cerr)
			}
		}
		log.Debug().Msg("connection closed")
	}()

	if err := repo.EnsureTable(ctx, w.Schema); err != nil {
		return 0, fmt.Errorf("%w: ensure table: %w", ErrSinkFailure, err)
	}
	if err := w.checkColumns(ctx, repo); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSinkFailure, err)
	}

	rows := make([][]any, len(batch))
	for i, t := range batch {
		rows[i] = t.Values()
	}
	policy := w.Policy
	if policy == "" {
		policy = Update
	}

	start := time.Now()
	n, err = repo.Upsert(ctx, UpsertRequest{
		Columns: w.Schema.Names(),
		Key:     w.Schema.Key().Name,
		Rows:    rows,
		Policy:  policy,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: upsert: %w", ErrSinkFailure, err)
	}
	log.Info().
		Int("rows", len(rows)).
		Int64("affected", n).
		Str("policy", string(policy)).
		Dur("took", time.Since(start)).
		Msg("batch upserted")
	return n, nil
}

func (w *Writer) checkColumns(ctx context.Context, repo Repository) error {
	have, err := repo.Columns(ctx)
	if err != nil {
		return fmt.Errorf("inspect table: %w", err)
	}
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[strings.ToLower(c)] = struct{}{}
	}
	var missing []string
	for _, c := range w.Schema.Names() {
		if _, ok := set[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s missing %s", ErrSchemaMismatch, w.Config.Table, strings.Join(missing, ", "))
	}
	return nil
}
