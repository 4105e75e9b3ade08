package store

import (
	"context"
	"fmt"

	"github.com/andresmejia3/aibum/internal/cluster"
	"github.com/andresmejia3/aibum/internal/config"
)

// Backend is a person group persister that can also be wiped and released.
type Backend interface {
	cluster.Persister
	Reset(ctx context.Context) error
	Close(ctx context.Context)
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*FileStore)(nil)
)

// Open returns the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.Path), nil
	case config.BackendPostgres:
		s, err := New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
