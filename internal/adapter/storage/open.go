package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/config"
)

var driverNames = map[string]string{
	"mysql":    "mysql",
	"postgres": "pgx",
	"sqlite":   "sqlite",
}

// Open connects to the configured database, verifies it with a ping and
// returns the matching store.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*SQLStore, error) {
	driver, ok := driverNames[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	var store *SQLStore
	switch cfg.Driver {
	case "mysql":
		store = NewMySQLAdapter(db, logger)
	case "postgres":
		store = NewPostgresAdapter(db, logger)
	default:
		store = NewSQLiteAdapter(db, logger)
	}
	if cfg.Driver != "sqlite" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Lifetime())
	}
	store.SetTxRetries(cfg.TxRetries)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return store, nil
}

// OpenMemory returns a migrated in-memory SQLite store.
func OpenMemory(ctx context.Context, logger *zap.Logger) (*SQLStore, error) {
	store, err := Open(ctx, config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", TxRetries: defaultTxRetries}, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
