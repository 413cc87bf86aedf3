package postgres

import (
	"context"

	"txetl/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// wrappedRepo implements storage.Repository by delegating to *Repository and
// closing the connection through the function returned by NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func() error
}

var _ storage.Repository = (*wrappedRepo)(nil)

// Close implements storage.Repository. Only the first call closes.
func (w *wrappedRepo) Close() error {
	if w.closeFn == nil {
		return nil
	}
	fn := w.closeFn
	w.closeFn = nil
	return fn()
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}
