package telegram

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// MaxMessageRunes is Telegram's limit for one text message.
const MaxMessageRunes = 4096

// ErrNotBound is returned by BotMessenger.Send before a bot is bound.
var ErrNotBound = errors.New("telegram: messenger has no bot")

// TextSender is the part of *tele.Bot used to deliver text.
type TextSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// BotMessenger sends plain text through a bot. It is created before the bot
// exists and bound once the runtime starts.
type BotMessenger struct {
	bot atomic.Pointer[boundSender]
}

type boundSender struct{ TextSender }

// NewBotMessenger returns an unbound messenger.
func NewBotMessenger() *BotMessenger {
	return &BotMessenger{}
}

// Bind attaches the sender used for all following sends.
func (m *BotMessenger) Bind(s TextSender) {
	m.bot.Store(&boundSender{s})
}

// Send delivers text to chatID, split into several messages when it exceeds
// MaxMessageRunes. Plain text only: no parse mode is applied. A done ctx
// abandons the remaining parts.
func (m *BotMessenger) Send(ctx context.Context, chatID int64, text string) error {
	b := m.bot.Load()
	if b == nil {
		return ErrNotBound
	}
	for _, part := range SplitText(text, MaxMessageRunes) {
		if err := sendPart(ctx, b, chatID, part); err != nil {
			return err
		}
		tghelpers.CountSent(ctx)
	}
	return nil
}

// sendPart runs the blocking API call so that ctx can bound it. The call
// itself is still limited by the HTTP client timeout.
func sendPart(ctx context.Context, b TextSender, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, err := b.Send(tele.ChatID(chatID), text)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SplitText cuts text into parts of at most limit runes, preferring line
// breaks. A single line longer than limit is cut at the rune boundary.
func SplitText(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var (
		parts []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		ln := utf8.RuneCountInString(line)
		if n+ln <= limit {
			cur.WriteString(line)
			n += ln
			continue
		}
		flush()
		for ln > limit {
			head, rest := cutRunes(line, limit)
			parts = append(parts, head)
			line = rest
			ln -= limit
		}
		cur.WriteString(line)
		n = ln
	}
	flush()
	for i, p := range parts {
		if trimmed := strings.TrimRight(p, "\n"); trimmed != "" {
			parts[i] = trimmed
		}
	}
	return parts
}

func cutRunes(s string, n int) (string, string) {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], s[pos:]
		}
		i++
	}
	return s, ""
}
