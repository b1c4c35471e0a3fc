package middleware

import (
	"context"
	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// AdminChecker reports whether a user may run admin-only commands.
// The set behind it may change at runtime.
type AdminChecker interface {
	Contains(userID int64) bool
}

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	Admins   AdminChecker
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets only admins reach downstream handlers. Others are
// dropped silently unless OnReject is set.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		if opts.Admins == nil {
			return next
		}
		return func(c tele.Context) error {
			user := c.Sender()
			if user != nil && opts.Admins.Contains(user.ID) {
				return next(c)
			}
			var userID int64
			if user != nil {
				userID = user.ID
			}
			logger.TG.LogAttrs(context.Background(), slog.LevelDebug, "access.reject",
				slog.String("status", "skip"),
				slog.Int64("user_id", userID),
				slog.String("payload", logger.SanitizeLimit(c.Text(), 64)),
			)
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}
