// Package store provides database access for the control plane.
//
// # Design
//
// The store uses raw SQL with pgx against four tables:
//
//	heartbeat_events  append-only agent health signals
//	system_logs       structured audit records written by the gateway
//	system_config     the singleton operational mode row
//	notifications     the operator inbox
//
// Read methods return nil, nil when a row is not found.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStoreFromURL creates a new store by connecting to the given database URL.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for migrations and bulk copy.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
