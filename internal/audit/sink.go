// Package audit forwards notable session events to an admin-visible
// destination: a single configured chat, or every admin directly.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/m3rciful/relaybot/core/logger"
)

// Sink receives audit entries. Relay never fails: delivery problems are
// logged and counted per destination.
type Sink interface {
	Relay(ctx context.Context, text string)
}

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// AdminLister returns the current admin ids.
type AdminLister interface {
	List() []int64
}

var deliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relaybot_audit_deliveries_total",
		Help: "Audit entries sent, by sink strategy and outcome.",
	},
	[]string{"sink", "outcome"},
)

// DefaultTimeout bounds one audit send when New is given no timeout.
const DefaultTimeout = 10 * time.Second

// New picks the strategy once: a non-zero chatID selects the channel sink,
// otherwise entries fan out to the admin set. timeout bounds each send;
// zero or less means DefaultTimeout.
func New(chatID int64, admins AdminLister, sender Sender, timeout time.Duration) Sink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if chatID != 0 {
		logger.Audit.Info("audit sink selected",
			slog.String("event", "audit.sink"),
			slog.String("sink", "channel"),
			slog.Int64("chat_id", chatID),
		)
		return &ChannelSink{ChatID: chatID, Sender: sender, Timeout: timeout}
	}
	logger.Audit.Info("audit sink selected",
		slog.String("event", "audit.sink"),
		slog.String("sink", "admins"),
	)
	return &AdminFanoutSink{Admins: admins, Sender: sender, Timeout: timeout}
}

// ChannelSink posts every entry to one chat.
type ChannelSink struct {
	ChatID  int64
	Sender  Sender
	Timeout time.Duration
}

func (s *ChannelSink) Relay(ctx context.Context, text string) {
	deliver(ctx, s.Sender, s.Timeout, "channel", s.ChatID, text)
}

// AdminFanoutSink sends every entry to each admin in turn. A failure for
// one admin does not stop the others.
type AdminFanoutSink struct {
	Admins  AdminLister
	Sender  Sender
	Timeout time.Duration
}

func (s *AdminFanoutSink) Relay(ctx context.Context, text string) {
	if s.Admins == nil {
		return
	}
	for _, id := range s.Admins.List() {
		deliver(ctx, s.Sender, s.Timeout, "admins", id, text)
	}
}

// deliver sends one entry. A positive timeout bounds the send so a slow
// destination cannot hold the calling handler.
func deliver(ctx context.Context, sender Sender, timeout time.Duration, sink string, chatID int64, text string) {
	sendCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := sender.Send(sendCtx, chatID, text); err != nil {
		deliveries.WithLabelValues(sink, "failed").Inc()
		logger.Audit.LogAttrs(ctx, slog.LevelError, "audit.relay",
			slog.String("status", "fail"),
			slog.String("sink", sink),
			slog.Int64("target", chatID),
			slog.String("err", err.Error()),
		)
		return
	}
	deliveries.WithLabelValues(sink, "delivered").Inc()
	logger.Audit.LogAttrs(ctx, slog.LevelDebug, "audit.relay",
		slog.String("status", "ok"),
		slog.String("sink", sink),
		slog.Int64("target", chatID),
	)
}
