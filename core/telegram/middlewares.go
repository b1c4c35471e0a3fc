package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/telegram/middleware"
	tgsender "github.com/m3rciful/relaybot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// DefaultMiddlewares builds the global middleware chain: recover, rate limit
// (when configured), update logging, then metrics.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited func(tele.Context) error) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
	}

	if cfg != nil {
		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		if interval > 0 {
			ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
			for _, t := range cfg.RateLimit.ExcludeUpdates {
				ex[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
					Interval:  interval,
					Exclude:   ex,
					OnLimited: onLimited,
				}),
			})
		}
	}

	mws = append(mws,
		Middleware{Name: "logger", Use: middleware.LoggerMiddleware},
		Middleware{Name: "metrics", Use: middleware.MessageMetricsMiddleware},
	)

	return mws
}

// BroadcastPoolOptions sizes the outbound pool from the broadcast section.
// The queue holds a few rounds of work per worker so Submit rarely blocks.
func BroadcastPoolOptions(cfg coreconfig.BroadcastConfig) tgsender.Options {
	return tgsender.Options{
		Workers:     cfg.Workers,
		QueueSize:   cfg.Workers * 16,
		MaxRetries:  cfg.MaxRetries,
		MaxDuration: time.Duration(cfg.DeliveryTimeoutMS) * time.Millisecond,
	}
}
