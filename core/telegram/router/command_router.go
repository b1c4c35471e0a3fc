package router

import (
	"log/slog"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	tg "github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/commands"
	"github.com/m3rciful/relaybot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	// Admins gates AdminOnly commands. Nil leaves them open.
	Admins        middleware.AdminChecker
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes prepares command handlers wrapped with shared middleware.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	all := reg.Commands()
	routes := make([]tg.Route, 0, len(all))
	admin := 0
	for name, def := range all {
		h := wrapCommand(name, def, opts)
		h = middleware.RecoverMiddleware(h)
		h = middleware.LoggerMiddleware(h)
		routes = append(routes, tg.Route{Endpoint: name, Handler: h})
		if def.AdminOnly {
			admin++
		}
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(all)),
		slog.Int("admin_commands", admin),
	)

	return routes
}

// wrapCommand adds the admin gate and the handler summary line.
func wrapCommand(name string, def commands.Command, opts CommandRouteOptions) tele.HandlerFunc {
	handlerName := normalizeHandlerName(name)
	h := def.Handler
	if def.AdminOnly {
		h = middleware.AdminOnlyMiddleware(middleware.AdminOptions{
			Admins:   opts.Admins,
			OnReject: opts.OnAdminReject,
		})(h)
	}
	return func(c tele.Context) error {
		return handleWithSummary(c, handlerName, time.Now(), func() error {
			return h(c)
		})
	}
}
