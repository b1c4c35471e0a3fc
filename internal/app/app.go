// Package app wires the relay bot: storage, session manager, admin set,
// audit sink, broadcast pool and the Telegram routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/relaybot/core/bootstrap"
	"github.com/m3rciful/relaybot/core/cmd"
	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/logger"
	coretelegram "github.com/m3rciful/relaybot/core/telegram"
	tgsender "github.com/m3rciful/relaybot/core/telegram/sender"
	"github.com/m3rciful/relaybot/internal/admins"
	"github.com/m3rciful/relaybot/internal/audit"
	"github.com/m3rciful/relaybot/internal/relay"
	"github.com/m3rciful/relaybot/internal/session"
	"github.com/m3rciful/relaybot/internal/storage/sqlstore"
	"github.com/m3rciful/relaybot/internal/storage/sqlstore/migrations"
)

// App holds the wired components for one bot process.
type App struct {
	cfg   *coreconfig.Config
	infra *bootstrap.Result

	Sessions  *session.Manager
	Admins    *admins.Set
	Messenger *coretelegram.BotMessenger
	Pool      *tgsender.Pool
	Service   *relay.Service
	Registry  *coretelegram.Registry

	metrics *metricsServer
}

// Bootstrap initializes logging and storage from the loaded configuration
// and wires the application. It is the runner's Bootstrap hook.
func Bootstrap(ctx context.Context, carrier cmd.ConfigCarrier) (cmd.TelegramApp, error) {
	cfg := carrier.CoreConfig()
	infra, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:     cfg,
		Migrations: migrations.FS,
	})
	if err != nil {
		return nil, err
	}

	var store session.Store
	if infra.DB != nil {
		store = sqlstore.New(infra.DB)
	} else {
		store = session.NewMemoryStore()
	}

	a, err := New(ctx, cfg, store)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	a.infra = infra
	return a, nil
}

// New loads persisted sessions from store and wires every component.
// The messenger stays unbound until the bot starts.
func New(ctx context.Context, cfg *coreconfig.Config, store session.Store) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config provided")
	}

	sessions := session.NewManager(store)
	snap, err := sessions.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	adminSet := admins.New(cfg.Telegram.Admins, snap.AdminSet, store)
	messenger := coretelegram.NewBotMessenger()
	pool := tgsender.NewPool(coretelegram.BroadcastPoolOptions(cfg.Broadcast))

	sendTimeout := time.Duration(cfg.Broadcast.DeliveryTimeoutMS) * time.Millisecond
	sink := audit.New(cfg.Telegram.AuditChatID, adminSet, messenger, sendTimeout)
	svc := relay.New(relay.Deps{
		Sessions:     sessions,
		Admins:       adminSet,
		Audit:        sink,
		Messenger:    messenger,
		Broadcaster:  relay.NewBroadcaster(sessions, messenger, pool),
		ReplyTimeout: sendTimeout,
	})

	a := &App{
		cfg:       cfg,
		Sessions:  sessions,
		Admins:    adminSet,
		Messenger: messenger,
		Pool:      pool,
		Service:   svc,
		metrics:   newMetricsServer(cfg.Metrics.Listen),
	}
	a.Registry = a.buildRegistry()

	auditMode := "admins"
	if cfg.Telegram.AuditChatID != 0 {
		auditMode = "chat"
	}
	logger.TWire.Info("app wired",
		slog.String("event", "wire"),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("audit", auditMode),
		slog.Int("admins", adminSet.Len()),
		slog.Int("broadcast_workers", cfg.Broadcast.Workers),
	)
	return a, nil
}

// TelegramRunOptions implements cmd.TelegramApp.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{
		Config:      a.cfg,
		Registry:    a.Registry,
		Pool:        a.Pool,
		Messenger:   a.Messenger,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, nil),
		Routes:      a.routes(),
		OnStart: func(ctx context.Context, _ coretelegram.Runtime) error {
			return a.metrics.Start(ctx)
		},
		OnStop: func(ctx context.Context, _ coretelegram.Runtime) error {
			return a.metrics.Shutdown(ctx)
		},
	}, nil
}

// Close releases the pool and the database. It runs after the bot stopped.
func (a *App) Close() error {
	a.Pool.Close()
	var errs []error
	if err := a.infra.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close db: %w", err))
	}
	return errors.Join(errs...)
}
