package mysql

import (
	"context"

	"txetl/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

var _ storage.Repository = (*wrappedRepo)(nil)

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN, Table: cfg.Table})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}

// wrappedRepo adds a Close that releases the pool exactly once.
type wrappedRepo struct {
	*Repository
	closeFn func() error
}

func (w *wrappedRepo) Close() error {
	if w.closeFn == nil {
		return nil
	}
	fn := w.closeFn
	w.closeFn = nil
	return fn()
}
