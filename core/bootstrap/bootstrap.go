package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	coredatabase "github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/core/logger"
)

// Options control the infrastructure bootstrap: logger, database and schema.
type Options struct {
	Config *coreconfig.Config
	// Migrations holds the *.sql files applied to the opened database.
	Migrations fs.FS

	LoggerInit func(*coreconfig.Config) error
	Open       func(context.Context, coreconfig.StorageConfig) (*sqlx.DB, error)
	Migrate    func(*sqlx.DB, fs.FS) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
// DB is nil when the memory driver is selected.
type Result struct {
	DB *sqlx.DB
}

// Close releases the database handle, if any.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger, opens the configured database and applies migrations.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	storage := opts.Config.Storage
	if storage.Driver == coreconfig.DriverMemory {
		logger.DB.Warn("sessions are kept in memory and lost on restart",
			slog.String("event", "db.open"),
			slog.String("driver", storage.Driver),
		)
		return &Result{}, nil
	}

	open := opts.Open
	if open == nil {
		open = coredatabase.Open
	}
	db, err := open(ctx, storage)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	if opts.Migrations != nil {
		migrate := opts.Migrate
		if migrate == nil {
			migrate = coredatabase.RunMigrations
		}
		if err := migrate(db, opts.Migrations); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
	}

	return &Result{DB: db}, nil
}
