package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// receipts remembers update ids already logged. Routes wrap the logger a
// second time under the global chain, so each update passes it twice.
var receipts = &seenUpdates{at: make(map[int]time.Time), ttl: 10 * time.Second}

type seenUpdates struct {
	mu    sync.Mutex
	at    map[int]time.Time
	ttl   time.Duration
	swept time.Time
}

// first reports whether id is seen for the first time within ttl.
func (s *seenUpdates) first(id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.swept) > s.ttl {
		for k, ts := range s.at {
			if now.Sub(ts) > s.ttl {
				delete(s.at, k)
			}
		}
		s.swept = now
	}
	if _, ok := s.at[id]; ok {
		return false
	}
	s.at[id] = now
	return true
}

// LoggerMiddleware attaches the per-update log context (rid, update, user and
// chat ids) and logs one sampled debug receipt line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)

		upd := c.Update()
		if !logger.ShouldSampleDebug() || !receipts.first(upd.ID, time.Now()) {
			return next(c)
		}

		attrs := []slog.Attr{
			slog.String("status", "ok"),
			slog.String("kind", UpdateKind(upd)),
		}
		if chat := c.Chat(); chat != nil {
			attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
		}
		if user := c.Sender(); user != nil && user.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
		}
		if upd.Message != nil {
			if t := c.Text(); t != "" {
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
			}
			if reply := upd.Message.ReplyTo; reply != nil && reply.Sender != nil {
				attrs = append(attrs, slog.Int64("reply_to", reply.Sender.ID))
			}
		}
		logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", attrs...)

		return next(c)
	}
}
