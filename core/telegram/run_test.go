package telegram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/relaybot/core/config"
)

func TestRunTelegramRequiresConfig(t *testing.T) {
	err := RunTelegram(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil config")
}

func TestPollerOptionsDefaultsTimeout(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.RunMode = coreconfig.RunModeLongpoll
	assert.Equal(t, 10, pollerOptions(cfg).LongPollTimeoutSeconds)

	cfg.Telegram.LongPollTimeoutSeconds = 25
	assert.Equal(t, 25, pollerOptions(cfg).LongPollTimeoutSeconds)
}

func TestPollerOptionsCarriesWebhook(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.RunMode = coreconfig.RunModeWebhook
	cfg.Webhook.Listen = "0.0.0.0"
	cfg.Webhook.Port = 8443
	cfg.Webhook.URL = "https://relay.example.org/hook"

	wh, ok := BuildPoller(pollerOptions(cfg)).(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8443", wh.Listen)
	assert.Equal(t, "https://relay.example.org/hook", wh.Endpoint.PublicURL)
}

func TestClearsWebhook(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.RunMode = " LongPoll "
	assert.True(t, clearsWebhook(cfg, false))
	assert.False(t, clearsWebhook(cfg, true))

	cfg.Telegram.RunMode = coreconfig.RunModeWebhook
	assert.False(t, clearsWebhook(cfg, false))
}

func TestInstallSkipsIncompleteEntries(t *testing.T) {
	bot, err := tele.NewBot(tele.Settings{Offline: true, Synchronous: true})
	require.NoError(t, err)

	var used []string
	mw := func(name string) Middleware {
		return Middleware{Name: name, Use: func(next tele.HandlerFunc) tele.HandlerFunc {
			return func(c tele.Context) error {
				used = append(used, name)
				return next(c)
			}
		}}
	}
	handled := 0
	install(bot,
		[]Middleware{mw("first"), {Name: "empty"}, mw("second")},
		[]Route{
			{Endpoint: "/id", Handler: func(tele.Context) error { handled++; return nil }},
			{Endpoint: "/none"},
		},
	)

	bot.ProcessUpdate(tele.Update{Message: &tele.Message{
		Text:     "/id",
		Sender:   &tele.User{ID: 1},
		Chat:     &tele.Chat{ID: 1},
		Entities: tele.Entities{{Type: tele.EntityCommand, Offset: 0, Length: 3}},
	}})

	assert.Equal(t, 1, handled)
	assert.Equal(t, []string{"first", "second"}, used)
}
