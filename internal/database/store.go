package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hypetrain/hypetrain/internal/config"
	"github.com/hypetrain/hypetrain/internal/models"
)

// Store bundles the repositories the engine needs behind the configured driver.
type Store struct {
	Queue    models.QueueRepository
	Activity models.ActivityRepository
	Accounts models.AccountRepository

	db     *sql.DB
	memory *MemoryStore
}

// Open builds the store for cfg.Driver. The postgres driver connects, applies
// pending migrations and wires the Postgres repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		mem := NewMemoryStore()
		return &Store{Queue: mem, Activity: mem, Accounts: mem, memory: mem}, nil
	case config.DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}

	url, err := BuildDatabaseURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build database URL: %w", err)
	}

	dbCfg := DefaultConfig()
	dbCfg.URL = url
	if cfg.MaxConnections > 0 {
		dbCfg.MaxConnections = cfg.MaxConnections
	}

	db, err := Connect(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewPostgresStore(db), nil
}

// NewPostgresStore wires the Postgres repositories over an open pool.
func NewPostgresStore(db *sql.DB) *Store {
	return &Store{
		Queue:    NewPostgresQueueRepository(db),
		Activity: NewPostgresActivityRepository(db),
		Accounts: NewPostgresAccountRepository(db),
		db:       db,
	}
}

// Memory returns the backing MemoryStore, or nil for the postgres driver.
func (s *Store) Memory() *MemoryStore {
	return s.memory
}

// Ping checks the backing database. The memory driver is always healthy.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return HealthCheck(ctx, s.db)
}

// Stats returns pool statistics, or nil for the memory driver.
func (s *Store) Stats() *PoolStats {
	if s.db == nil {
		return nil
	}
	stats := Stats(s.db)
	return &stats
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
