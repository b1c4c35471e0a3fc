package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/relaybot/core/logger"
)

// authorized reports whether ev comes from an admin. Others are dropped
// without an answer.
func (s *Service) authorized(ctx context.Context, ev Event, command string) bool {
	if s.admins.Contains(ev.SenderID) {
		return true
	}
	relayEvents.WithLabelValues("unauthorized").Inc()
	logger.Admins.LogAttrs(ctx, slog.LevelDebug, "admins.reject",
		slog.String("command", command),
		slog.Int64("user_id", ev.SenderID),
	)
	return false
}

// Message arms broadcast capture: the admin's next text is sent to every active user.
func (s *Service) Message(ctx context.Context, ev Event) error {
	if !s.authorized(ctx, ev, "message") {
		return nil
	}
	if err := s.sessions.SetAdminPending(ctx, ev.SenderID, true); err != nil {
		return s.fail(ctx, ev, err)
	}
	relayEvents.WithLabelValues("message").Inc()
	return s.reply(ctx, ev, textBroadcastPrompt)
}

// Status lists active users by id with their numbered responses.
func (s *Service) Status(ctx context.Context, ev Event) error {
	if !s.authorized(ctx, ev, "status") {
		return nil
	}
	relayEvents.WithLabelValues("status").Inc()
	return s.reply(ctx, ev, s.statusText())
}

func (s *Service) statusText() string {
	users := s.sessions.ActiveUsers()
	if len(users) == 0 {
		return textNoActiveUsers
	}
	blocks := make([]string, 0, len(users))
	for _, e := range users {
		var b strings.Builder
		b.WriteString(strconv.FormatInt(e.ID, 10))
		b.WriteByte(' ')
		b.WriteString(e.Session.NicknameOr(textNickNotSet))
		b.WriteString(":\n")
		if len(e.Session.Responses) == 0 {
			b.WriteString(textNoAnswers)
		}
		for i, r := range e.Session.Responses {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d. %s", i+1, r)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// AddAdmin grants admin rights to the author of the message the command replies to.
func (s *Service) AddAdmin(ctx context.Context, ev Event) error {
	if !s.authorized(ctx, ev, "add_admin") {
		return nil
	}
	if ev.ReplyToSenderID == 0 {
		return s.reply(ctx, ev, textAddAdminUsage)
	}
	added, err := s.admins.Add(ctx, ev.ReplyToSenderID, ev.SenderID)
	if err != nil {
		return s.fail(ctx, ev, err)
	}
	if !added {
		return s.reply(ctx, ev, textAddAdminExists)
	}
	relayEvents.WithLabelValues("add_admin").Inc()
	return s.reply(ctx, ev, fmt.Sprintf(textAddAdminDone, ev.ReplyToSenderID))
}

// broadcastFromAdmin consumes the admin's pending flag with ev.Text as the
// broadcast body. handled is false when another event consumed the flag first.
func (s *Service) broadcastFromAdmin(ctx context.Context, ev Event) (handled bool, err error) {
	var report Report
	consumed, err := s.sessions.ConsumeAdminPending(ctx, ev.SenderID, func(ctx context.Context) error {
		report = s.broadcaster.Broadcast(ctx, ev.SenderID, ev.Text)
		return nil
	})
	if !consumed {
		return false, nil
	}
	if err != nil {
		// Deliveries already went out; only clearing the flag failed.
		return true, s.fail(ctx, ev, err)
	}
	relayEvents.WithLabelValues("broadcast").Inc()
	ack := fmt.Sprintf(textBroadcastDone, report.Count(OutcomeDelivered), report.Count(OutcomeFailed))
	return true, s.reply(ctx, ev, ack)
}
