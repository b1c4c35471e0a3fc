package router

import (
	"time"

	tg "github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// TextOptions controls routing of text that telebot did not match to a command endpoint.
type TextOptions struct {
	Commands    CommandRouteOptions
	UnknownText tele.HandlerFunc
}

// TextRoutes builds the OnText handler: aliases and "/cmd@bot" forms resolve
// to their command, everything else goes to the registry text fallback.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if reg != nil && len(text) > 1 && text[0] == '/' {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil {
				return wrapCommand(key, cmd, opts.Commands)(c)
			}
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "text", start, func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", nil)
		return nil
	}

	return []tg.Route{
		{
			Endpoint: tele.OnText,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
		},
	}
}
