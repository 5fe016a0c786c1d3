package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goliatone/go-record-service/record"
	_ "github.com/lib/pq" // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	// DriverPostgres selects lib/pq with the bun postgres dialect.
	DriverPostgres = "postgres"
	// DriverSQLite selects mattn/go-sqlite3 with the bun sqlite dialect.
	DriverSQLite = "sqlite3"

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultPingAttempts    = 5
)

// Config describes how to reach the database.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingAttempts    uint
	Logger          zerolog.Logger
}

// Open connects to the configured database, sizes the pool and waits until a
// ping succeeds or the attempts run out.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	var db *bun.DB
	switch cfg.Driver {
	case DriverPostgres:
		db = bun.NewDB(sqldb, pgdialect.New())
		sqldb.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, defaultMaxOpenConns))
		sqldb.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, defaultMaxIdleConns))
	case DriverSQLite:
		db = bun.NewDB(sqldb, sqlitedialect.New())
		// sqlite serializes writers; one connection also keeps in-memory databases alive.
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
	default:
		_ = sqldb.Close()
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnMaxLifetime
	}
	sqldb.SetConnMaxLifetime(lifetime)

	db.AddQueryHook(NewQueryLogger(cfg.Logger))

	attempts := cfg.PingAttempts
	if attempts == 0 {
		attempts = defaultPingAttempts
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			cfg.Logger.Warn().Err(err).Dur("retry_in", next).Msg("database ping failed")
		}),
	)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			cfg.Logger.Error().Err(closeErr).Msg("failed to close database after ping failure")
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cfg.Logger.Info().Str("driver", cfg.Driver).Msg("database connection established")
	return db, nil
}

// CreateSchema creates the owners and records tables when they do not exist.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*record.Owner)(nil),
		(*record.Record)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().WithForeignKeys().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		name   string
		column string
	}{
		{name: "ix_records_owner_id", column: "owner_id"},
		{name: "ix_records_title", column: "title"},
	}
	for _, ix := range indexes {
		_, err := db.NewCreateIndex().
			Model((*record.Record)(nil)).
			Index(ix.name).
			Column(ix.column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", ix.name, err)
		}
	}
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
