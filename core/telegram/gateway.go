package telegram

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/m3rciful/relaybot/core/telegram/netutil"
	"github.com/m3rciful/relaybot/relay"

	tele "gopkg.in/telebot.v4"
)

var tokenPattern = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// RedactToken strips bot tokens from error text before it reaches logs or chat replies.
func RedactToken(s string) string {
	return tokenPattern.ReplaceAllString(s, "bot<redacted>")
}

type redactedError struct{ err error }

func (e redactedError) Error() string { return RedactToken(e.err.Error()) }
func (e redactedError) Unwrap() error { return e.err }

// BotGateway adapts a telebot bot to the relay.Gateway interface.
type BotGateway struct {
	bot *tele.Bot
}

// NewBotGateway wraps bot for photo delivery.
func NewBotGateway(bot *tele.Bot) *BotGateway {
	return &BotGateway{bot: bot}
}

// SendPhoto delivers a stored photo by file reference to the given chat.
func (g *BotGateway) SendPhoto(ctx context.Context, chatID int64, ref relay.MediaRef, caption string) error {
	if err := ctx.Err(); err != nil {
		return relay.Permanent(err)
	}
	photo := &tele.Photo{File: tele.File{FileID: string(ref)}, Caption: caption}
	_, err := g.bot.Send(tele.ChatID(chatID), photo)
	if err == nil {
		return nil
	}
	return ClassifySendError(err)
}

// ClassifySendError maps a telebot send failure onto the relay retry model.
// Flood errors carry the retry-after hint from the API; network timeouts are
// retryable without a hint; everything else is permanent.
func ClassifySendError(err error) error {
	if err == nil {
		return nil
	}
	wrapped := redactedError{err: err}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return relay.Transient(wrapped, time.Duration(flood.RetryAfter)*time.Second)
	}
	if netutil.ShouldRetry(err) || netutil.IsTimeout(err) {
		return relay.Transient(wrapped, 0)
	}
	return relay.Permanent(wrapped)
}
