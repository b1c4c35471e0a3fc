package app

import (
	"context"

	coretelegram "github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/commands"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"
	"github.com/m3rciful/relaybot/core/telegram/router"
	"github.com/m3rciful/relaybot/internal/relay"
	"github.com/m3rciful/relaybot/internal/session"

	tele "gopkg.in/telebot.v4"
)

func init() {
	router.RegisterErrorCode(session.ErrPersist, "PERSIST")
}

func (a *App) buildRegistry() *coretelegram.Registry {
	svc := a.Service
	reg := coretelegram.NewRegistry()
	reg.RegisterCommand("/start", commands.Command{
		Description: "Register or change your nickname",
		Handler:     handle(svc.Start),
	})
	reg.RegisterCommand("/end", commands.Command{
		Description: "End your session",
		Handler:     handle(svc.End),
	})
	reg.RegisterCommand("/id", commands.Command{
		Description: "Show your user and chat id",
		Handler:     handle(svc.ID),
	})
	reg.RegisterCommand("/message", commands.Command{
		Description: "Broadcast the next message to active users",
		AdminOnly:   true,
		Handler:     handle(svc.Message),
	})
	reg.RegisterCommand("/status", commands.Command{
		Description: "List active users and their answers",
		AdminOnly:   true,
		Handler:     handle(svc.Status),
	})
	reg.RegisterCommand("/add_admin", commands.Command{
		Description: "Grant admin rights to the author of the replied message",
		AdminOnly:   true,
		Handler:     handle(svc.AddAdmin),
	})
	reg.SetTextFallback(handle(svc.HandleText))
	return reg
}

func (a *App) routes() []coretelegram.Route {
	opts := router.CommandRouteOptions{Admins: a.Admins}
	routes := router.CommandRoutes(a.Registry, opts)
	return append(routes, router.TextRoutes(a.Registry, router.TextOptions{Commands: opts})...)
}

// handle adapts a relay operation to a telebot handler. The context carries
// the update's log metadata and sent-message counter.
func handle(fn func(context.Context, relay.Event) error) tele.HandlerFunc {
	return func(c tele.Context) error {
		return fn(tghelpers.BuildContext(c), EventFrom(c))
	}
}

// EventFrom converts an inbound update into a relay event.
func EventFrom(c tele.Context) relay.Event {
	ev := relay.Event{Text: c.Text()}
	if u := c.Sender(); u != nil {
		ev.SenderID = u.ID
		ev.Username = u.Username
	}
	if ch := c.Chat(); ch != nil {
		ev.ChatID = ch.ID
	}
	if m := c.Message(); m != nil && m.ReplyTo != nil && m.ReplyTo.Sender != nil {
		ev.ReplyToSenderID = m.ReplyTo.Sender.ID
	}
	return ev
}
