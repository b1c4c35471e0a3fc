// Package relay implements the conversation state machines: user
// registration and scenario responses, admin commands, and broadcasts.
// Handlers take a transport-neutral Event and answer through a Messenger.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/admins"
	"github.com/m3rciful/relaybot/internal/audit"
	"github.com/m3rciful/relaybot/internal/session"
)

// Messenger delivers plain text to a chat.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Event is one inbound message or command.
type Event struct {
	SenderID int64
	Username string
	ChatID   int64
	// ReplyToSenderID is the author of the message being replied to, 0 if none.
	ReplyToSenderID int64
	Text            string
}

// Who names the sender in audit entries: the username, or the id when unset.
func (e Event) Who() string {
	if e.Username != "" {
		return e.Username
	}
	return strconv.FormatInt(e.SenderID, 10)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Sessions    *session.Manager
	Admins      *admins.Set
	Audit       audit.Sink
	Messenger   Messenger
	Broadcaster *Broadcaster
	// ReplyTimeout bounds each reply; zero or less means DefaultReplyTimeout.
	ReplyTimeout time.Duration
}

// DefaultReplyTimeout bounds a reply when Deps sets none.
const DefaultReplyTimeout = 10 * time.Second

// Service dispatches events to the user and admin state machines.
type Service struct {
	sessions     *session.Manager
	admins       *admins.Set
	audit        audit.Sink
	out          Messenger
	broadcaster  *Broadcaster
	replyTimeout time.Duration
}

// New builds a Service. All dependencies are required.
func New(d Deps) *Service {
	timeout := d.ReplyTimeout
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &Service{
		sessions:     d.Sessions,
		admins:       d.Admins,
		audit:        d.Audit,
		out:          d.Messenger,
		broadcaster:  d.Broadcaster,
		replyTimeout: timeout,
	}
}

// ID answers any sender with its user id and the chat id.
func (s *Service) ID(ctx context.Context, ev Event) error {
	return s.reply(ctx, ev, fmt.Sprintf(textID, ev.SenderID, ev.ChatID))
}

func (s *Service) reply(ctx context.Context, ev Event, text string) error {
	if err := s.send(ctx, ev.ChatID, text); err != nil {
		return fmt.Errorf("reply to chat %d: %w", ev.ChatID, err)
	}
	return nil
}

// fail reports a generic failure to the sender and returns cause so the
// router logs the handler as failed.
func (s *Service) fail(ctx context.Context, ev Event, cause error) error {
	if err := s.send(ctx, ev.ChatID, textFailure); err != nil {
		logger.FromContext(ctx).LogAttrs(ctx, slog.LevelWarn, "relay.reply",
			slog.String("status", "fail"),
			slog.Int64("chat_id", ev.ChatID),
			slog.String("err", err.Error()),
		)
	}
	return cause
}

// send bounds one outbound message by the reply timeout.
func (s *Service) send(ctx context.Context, chatID int64, text string) error {
	ctx, cancel := context.WithTimeout(ctx, s.replyTimeout)
	defer cancel()
	return s.out.Send(ctx, chatID, text)
}
