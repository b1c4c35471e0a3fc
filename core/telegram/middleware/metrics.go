package middleware

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

var (
	updatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_telegram_updates_total",
			Help: "Inbound Telegram updates by kind.",
		},
		[]string{"kind"},
	)

	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaybot_telegram_handler_duration_seconds",
			Help:    "Handler latency by handler name and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "status"},
	)

	sentMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaybot_telegram_sent_messages_total",
		Help: "Messages sent while handling updates.",
	})
)

// MessageMetricsMiddleware counts updates and the messages sent while handling them.
// The sent counter travels in the stored request context.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		updatesTotal.WithLabelValues(UpdateKind(c.Update())).Inc()

		ctx, sent := tghelpers.WithSentCounter(tghelpers.BuildContext(c))
		tghelpers.StoreContext(c, ctx)
		err := next(c)
		sentMessages.Add(float64(sent.Load()))
		return err
	}
}

// ObserveHandler records the latency of one handled update.
func ObserveHandler(handler, status string, d time.Duration) {
	handlerDuration.WithLabelValues(handler, status).Observe(d.Seconds())
}

// GetCounters reads how many messages were sent for the current update.
func GetCounters(c tele.Context) int {
	ctx, ok := tghelpers.ContextFrom(c)
	if !ok {
		return 0
	}
	return tghelpers.SentCount(ctx)
}

// UpdateKind classifies an update as "command", "message" or "other".
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Message != nil && strings.HasPrefix(upd.Message.Text, "/"):
		return "command"
	case upd.Message != nil && upd.Message.Text != "":
		return "message"
	}
	return "other"
}
