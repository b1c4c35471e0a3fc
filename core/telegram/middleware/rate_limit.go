package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/m3rciful/relaybot/core/logger"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

var rateLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relaybot_telegram_rate_limited_total",
		Help: "Updates dropped by the per-user rate limit, by update kind.",
	},
	[]string{"kind"},
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	// Now overrides the clock in tests.
	Now func() time.Time
}

type lastSeen struct {
	mu     sync.Mutex
	byUser map[int64]time.Time
	swept  time.Time
}

// allow records now for userID and reports whether interval has passed since
// the previous accepted update. Entries older than interval are swept
// at most once per interval.
func (l *lastSeen) allow(userID int64, now time.Time, interval time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.swept) > interval {
		for id, ts := range l.byUser {
			if now.Sub(ts) >= interval {
				delete(l.byUser, id)
			}
		}
		l.swept = now
	}
	if last, ok := l.byUser[userID]; ok && now.Sub(last) < interval {
		return false
	}
	l.byUser[userID] = now
	return true
}

// RateLimitMiddleware returns a middleware that enforces a minimum interval
// between updates from the same user.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	seen := &lastSeen{byUser: make(map[int64]time.Time)}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}

			kind := UpdateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}

			if seen.allow(user.ID, now(), opts.Interval) {
				return next(c)
			}

			rateLimited.WithLabelValues(kind).Inc()
			ctx := tghelpers.BuildContext(c)
			logger.TG.LogAttrs(ctx, slog.LevelWarn, "tg.rate_limit",
				slog.String("status", "rate_limited"),
				slog.String("kind", kind),
				slog.Int64("user_id", user.ID),
				slog.Int64("interval_ms", opts.Interval.Milliseconds()),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
