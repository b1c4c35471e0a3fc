package database

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/logger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know; it takes ? placeholders.
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

// Open connects to the database selected by cfg.Driver. The memory driver has no database.
func Open(ctx context.Context, cfg coreconfig.StorageConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case coreconfig.DriverPostgres:
		return ConnectPostgres(ctx, cfg.Postgres)
	case coreconfig.DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("db open: driver %q has no database", cfg.Driver)
	}
}

// PostgresDSN renders the key/value connection string for lib/pq.
func PostgresDSN(cfg coreconfig.PostgresConfig) string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)
}

// ConnectPostgres opens the database connection, configures the pool, and verifies connectivity.
func ConnectPostgres(ctx context.Context, cfg coreconfig.PostgresConfig) (*sqlx.DB, error) {
	if err := WaitForPostgres(ctx, PostgresDSN(cfg), 30*time.Second); err != nil {
		logger.DB.Error("db not ready",
			slog.String("event", "db.connect"),
			slog.String("driver", driverPostgres),
			slog.String("host", cfg.Host),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("database not ready: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	db, err := sqlx.ConnectContext(connectCtx, driverPostgres, PostgresDSN(cfg))
	took := time.Since(start)
	if err != nil {
		logger.DB.Error("db connect failed",
			slog.String("event", "db.connect"),
			slog.String("driver", driverPostgres),
			slog.String("host", cfg.Host),
			slog.String("port", cfg.Port),
			slog.String("db", cfg.Name),
			slog.Duration("duration", logger.RoundMS(took)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	logger.DB.Info("db connected",
		slog.String("event", "db.connect"),
		slog.String("driver", driverPostgres),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return db, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file.
// SQLite allows one writer, so the pool is pinned to a single connection.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	clean := filepath.Clean(path)
	dsn := "file:" + clean + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	start := time.Now()
	db, err := sqlx.ConnectContext(ctx, driverSQLite, dsn)
	if err != nil {
		logger.DB.Error("db connect failed",
			slog.String("event", "db.connect"),
			slog.String("driver", driverSQLite),
			slog.String("db", clean),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	logger.DB.Info("db connected",
		slog.String("event", "db.connect"),
		slog.String("driver", driverSQLite),
		slog.String("db", clean),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return db, nil
}

// WaitForPostgres pings the server until it answers or timeout is reached.
func WaitForPostgres(ctx context.Context, dsn string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		db, err := sqlx.Open(driverPostgres, dsn)
		if err == nil {
			err = db.PingContext(ctx)
			_ = db.Close()
			if err == nil {
				return nil
			}
		}
		lastErr = err
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout reached waiting for database: %w", lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
