// Package postgres implements the ranking and event-log stores on PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/okian/parry/internal/adapters/repository"
	"github.com/okian/parry/pkg/metrics"
)

const backendName = "postgres"

// Option configures Storage.
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// Storage owns the pgx pool and serves both store interfaces.
type Storage struct {
	pool *pgxpool.Pool
}

var (
	_ repository.RankingStore = (*Storage)(nil)
	_ repository.Pinger       = (*Storage)(nil)
	_ repository.EventStore   = (*EventLogs)(nil)
)

// NewStorage connects to dsn and verifies the connection.
func NewStorage(ctx context.Context, dsn string, opts ...Option) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %w", repository.ErrStorage, err)
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", repository.ErrStorage, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %w", repository.ErrStorage, err)
	}

	return &Storage{pool: pool}, nil
}

// Ping checks the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return s.fail("ping", err)
	}
	return nil
}

// Close releases every pooled connection.
func (s *Storage) Close() {
	s.pool.Close()
}

// fail records a backend error and wraps it as ErrStorage.
func (s *Storage) fail(op string, err error) error {
	metrics.RecordRepositoryError(backendName, op)
	return fmt.Errorf("%w: %s: %w", repository.ErrStorage, op, err)
}

// Truncate empties every table and resets ids. Used by tests.
func (s *Storage) Truncate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE rankings, game_event_logs RESTART IDENTITY`); err != nil {
		return s.fail("truncate", err)
	}
	return nil
}
