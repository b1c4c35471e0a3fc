package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/session"
)

// Start begins registration. An unknown or never-registered user gets a
// fresh active record; a registered user only re-enters nickname capture,
// keeping responses, activity and any scenario still awaiting an answer.
func (s *Service) Start(ctx context.Context, ev Event) error {
	fresh := false
	_, err := s.sessions.UpdateUser(ctx, ev.SenderID, func(u *session.UserSession, exists bool) (bool, error) {
		if !exists || !u.Registered() {
			*u = session.UserSession{
				Responses: []string{},
				Active:    true,
				State:     session.StateAwaitingNickname,
			}
			fresh = true
			return true, nil
		}
		if u.ScenarioQueued() {
			u.State = session.StateNicknameThenResponse
		} else {
			u.State = session.StateAwaitingNickname
		}
		return true, nil
	})
	if err != nil {
		return s.fail(ctx, ev, err)
	}
	relayEvents.WithLabelValues("start").Inc()
	if fresh {
		return s.reply(ctx, ev, textStartNew)
	}
	return s.reply(ctx, ev, textStartRename)
}

// End deactivates the sender. Ending twice is harmless: the second call
// only answers that the session is already over.
func (s *Service) End(ctx context.Context, ev Event) error {
	var ended session.UserSession
	ok := false
	_, err := s.sessions.UpdateUser(ctx, ev.SenderID, func(u *session.UserSession, exists bool) (bool, error) {
		if !exists || !u.Active {
			return false, nil
		}
		u.Active = false
		ended = *u
		ok = true
		return true, nil
	})
	if err != nil {
		return s.fail(ctx, ev, err)
	}
	if !ok {
		return s.reply(ctx, ev, textAlreadyEnded)
	}
	relayEvents.WithLabelValues("end").Inc()
	if err := s.reply(ctx, ev, textEnded); err != nil {
		return err
	}
	s.audit.Relay(ctx, fmt.Sprintf(auditEnded, ev.Who(), ended.NicknameOr(textNickNotSet)))
	return nil
}

// HandleText routes free text. An admin arming a broadcast wins over any
// user state; otherwise the sender's state decides what the text means.
func (s *Service) HandleText(ctx context.Context, ev Event) error {
	if s.admins.Contains(ev.SenderID) && s.sessions.AdminPending(ev.SenderID) {
		handled, err := s.broadcastFromAdmin(ctx, ev)
		if handled || err != nil {
			return err
		}
	}

	const (
		none = iota
		registered
		renamed
		answered
	)
	outcome := none
	var previous string
	current, err := s.sessions.UpdateUser(ctx, ev.SenderID, func(u *session.UserSession, exists bool) (bool, error) {
		if !exists {
			return false, nil
		}
		switch u.State {
		case session.StateAwaitingNickname, session.StateNicknameThenResponse:
			if u.Nickname == nil {
				outcome = registered
			} else {
				outcome = renamed
				previous = *u.Nickname
			}
			u.Nickname = session.Ptr(ev.Text)
			if u.State == session.StateNicknameThenResponse {
				u.State = session.StateAwaitingResponse
			} else {
				u.State = session.StateIdle
			}
			return true, nil
		case session.StateAwaitingResponse:
			u.Responses = append(u.Responses, ev.Text)
			u.State = session.StateIdle
			outcome = answered
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return s.fail(ctx, ev, err)
	}

	switch outcome {
	case registered, renamed:
		relayEvents.WithLabelValues("nickname").Inc()
		if err := s.reply(ctx, ev, textRegistered); err != nil {
			return err
		}
		if outcome == registered {
			s.audit.Relay(ctx, fmt.Sprintf(auditRegistered, ev.Who(), ev.Text))
		} else {
			s.audit.Relay(ctx, fmt.Sprintf(auditRenamed, ev.Who(), previous, ev.Text))
		}
		return nil
	case answered:
		relayEvents.WithLabelValues("response").Inc()
		logger.Sessions.LogAttrs(ctx, slog.LevelInfo, "relay.response",
			slog.Int64("target", ev.SenderID),
			slog.Int("responses", len(current.Responses)),
		)
		if err := s.reply(ctx, ev, textThanks); err != nil {
			return err
		}
		s.audit.Relay(ctx, fmt.Sprintf(auditAnswered, ev.Who(), current.NicknameOr(textNickNotSet), ev.Text))
		return nil
	}

	relayEvents.WithLabelValues("fallback").Inc()
	return s.reply(ctx, ev, textFallback)
}
