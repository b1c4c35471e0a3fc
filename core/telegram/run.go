package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/logger"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"
	tgsender "github.com/m3rciful/relaybot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// defaultPollTimeout applies when the config leaves the long-poll timeout unset.
const defaultPollTimeout = 10 * time.Second

// stopGrace bounds OnStop hooks; the run context is already done when they fire.
const stopGrace = 10 * time.Second

// Middleware is a named global middleware installed with bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds a handler to a telebot endpoint (a command string or tele.OnText).
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions configures RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry

	// Pool runs outbound deliveries; one is built from PoolOptions when nil
	// and closed when the bot stops.
	PoolOptions tgsender.Options
	Pool        *tgsender.Pool

	// Messenger, when set, is bound to the bot before any update is handled.
	Messenger *BotMessenger

	Middlewares []Middleware
	Routes      []Route

	// KeepWebhook skips removing a stale webhook before long polling.
	KeepWebhook bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is what lifecycle hooks see of the running bot.
type Runtime struct {
	Bot      *tele.Bot
	Pool     *tgsender.Pool
	Registry *Registry
}

// RunTelegram builds the bot, installs middlewares and routes, and serves
// updates until ctx is done. Cancellation is a clean stop and returns nil.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return errors.New("telegram: nil config provided")
	}
	cfg := opts.Config

	pollOpts := pollerOptions(cfg)
	poller := BuildPoller(pollOpts)
	pollTimeout := time.Duration(pollOpts.LongPollTimeoutSeconds) * time.Second

	started := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Telegram.Token,
		Poller:  poller,
		Client:  BuildHTTPClient(pollTimeout),
		OnError: onBotError,
	})
	if err != nil {
		return fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	logRunMode(ctx, poller, pollTimeout, time.Since(started))

	if opts.Messenger != nil {
		opts.Messenger.Bind(bot)
	}
	if clearsWebhook(cfg, opts.KeepWebhook) {
		removeWebhook(ctx, bot)
	}

	rt := Runtime{Bot: bot, Pool: opts.Pool, Registry: opts.Registry}
	if rt.Registry == nil {
		rt.Registry = NewRegistry()
	}
	if rt.Pool == nil {
		rt.Pool = tgsender.NewPool(opts.PoolOptions)
		defer rt.Pool.Close()
	}

	install(bot, opts.Middlewares, opts.Routes)
	SetupCommands(bot, rt.Registry)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runErr := serve(ctx, bot)

	if opts.OnStop != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
		defer cancel()
		if err := opts.OnStop(stopCtx, rt); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// pollerOptions maps the config onto BuildPoller input, defaulting the
// long-poll timeout.
func pollerOptions(cfg *coreconfig.Config) PollerOptions {
	seconds := cfg.Telegram.LongPollTimeoutSeconds
	if seconds <= 0 {
		seconds = int(defaultPollTimeout / time.Second)
	}
	return PollerOptions{
		RunMode:                cfg.Telegram.RunMode,
		LongPollTimeoutSeconds: seconds,
		Webhook: WebhookOptions{
			Listen: cfg.Webhook.Listen,
			Port:   cfg.Webhook.Port,
			URL:    cfg.Webhook.URL,
		},
	}
}

// clearsWebhook reports whether a leftover webhook must go before long polling;
// Telegram refuses getUpdates while one is set.
func clearsWebhook(cfg *coreconfig.Config, keep bool) bool {
	if keep {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(cfg.Telegram.RunMode), coreconfig.RunModeLongpoll)
}

func removeWebhook(ctx context.Context, bot *tele.Bot) {
	if err := bot.RemoveWebhook(false); err != nil {
		logger.TG.LogAttrs(ctx, slog.LevelWarn, "tg.webhook",
			slog.String("status", "fail"),
			slog.String("event", "delete_webhook"),
			slog.String("err", tgsender.SanitizeError(err)),
		)
		return
	}
	logger.TG.LogAttrs(ctx, slog.LevelInfo, "tg.webhook",
		slog.String("status", "ok"),
		slog.String("event", "delete_webhook"),
	)
}

func logRunMode(ctx context.Context, poller tele.Poller, pollTimeout, took time.Duration) {
	attrs := []slog.Attr{slog.Duration("duration", logger.RoundMS(took))}
	if wh, ok := poller.(*tele.Webhook); ok {
		attrs = append(attrs,
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", wh.Listen),
			slog.String("public_url", wh.Endpoint.PublicURL),
		)
	} else {
		attrs = append(attrs,
			slog.String("mode", "polling"),
			slog.Duration("poll_timeout", pollTimeout),
		)
	}
	logger.TG.LogAttrs(ctx, slog.LevelInfo, "tg.mode", attrs...)
}

// install applies middlewares in order and binds routes. Incomplete entries
// are ignored.
func install(bot *tele.Bot, mws []Middleware, routes []Route) {
	for _, mw := range mws {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	for _, r := range routes {
		if r.Endpoint != nil && r.Handler != nil {
			bot.Handle(r.Endpoint, r.Handler)
		}
	}
}

// serve blocks in bot.Start until ctx is done or the poller exits on its own.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	}
}

// onBotError routes telebot's internal errors into the structured log.
func onBotError(err error, c tele.Context) {
	ctx := context.Background()
	if c != nil {
		ctx = tghelpers.BuildContext(c)
	}
	logger.TG.LogAttrs(ctx, slog.LevelError, "tg.error",
		slog.String("status", "fail"),
		slog.String("err", tgsender.SanitizeError(err)),
		slog.String("error_kind", tgsender.ErrorKind(err)),
	)
}
