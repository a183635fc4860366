package bot

import (
	"context"
	"fmt"
	"strconv"

	"github.com/m3rciful/relaybot/access"
	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/telegram/format"
	"github.com/m3rciful/relaybot/core/telegram/keyboard"

	tele "gopkg.in/telebot.v4"
	"log/slog"
)

const (
	cbApprove = "approve_user"
	cbReject  = "reject_user"
)

// Messenger is the narrow send surface AdminNotifier needs from the bot.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// AdminNotifier delivers verification alerts to admins and grant
// confirmations to requesters. It is constructed before the bot exists and
// bound to the live connection on startup.
type AdminNotifier struct {
	admins *access.AdminSet
	send   Messenger
}

// NewAdminNotifier creates an unbound notifier over the admin set.
func NewAdminNotifier(admins *access.AdminSet) *AdminNotifier {
	return &AdminNotifier{admins: admins}
}

// Bind attaches the live bot connection.
func (n *AdminNotifier) Bind(m Messenger) {
	n.send = m
}

// PendingRequest alerts every admin about a new access request with inline
// approve and reject buttons carrying the requester id.
func (n *AdminNotifier) PendingRequest(ctx context.Context, ident access.Identity) error {
	if n.send == nil {
		logger.Warn(ctx, "access", "notify.unbound",
			slog.Int64("user_id", ident.ID),
		)
		return nil
	}

	payload := strconv.FormatInt(ident.ID, 10)
	markup := keyboard.InlineButtonsRows([]keyboard.InlineBtn{
		{Text: "✅ Approve", Unique: cbApprove, Data: payload},
		{Text: "🚫 Reject", Unique: cbReject, Data: payload},
	})
	who, err := format.EscapeMarkdown(ident.Handle(), format.MarkdownV1)
	if err != nil {
		who = strconv.FormatInt(ident.ID, 10)
	}
	text := fmt.Sprintf("*Access request* from %s (id %d)", who, ident.ID)
	if ident.FullName != "" {
		name, nameErr := format.EscapeMarkdown(ident.FullName, format.MarkdownV1)
		if nameErr == nil {
			text = fmt.Sprintf("*Access request* from %s %s (id %d)", name, who, ident.ID)
		}
	}
	text += fmt.Sprintf("\nDecide with /approve %d or /reject %d.", ident.ID, ident.ID)
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup}

	var firstErr error
	notified := 0
	for _, adminID := range n.admins.List() {
		_, err := n.send.Send(tele.ChatID(adminID), text, opts)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logger.Warn(ctx, "access", "notify.admin_fail",
				slog.Int64("admin_id", adminID),
				slog.String("err", err.Error()),
			)
			continue
		}
		notified++
	}
	if notified == 0 && firstErr != nil {
		return fmt.Errorf("notify admins: %w", firstErr)
	}
	return nil
}

// Approved tells the requester their access is active.
func (n *AdminNotifier) Approved(ctx context.Context, ident access.Identity) error {
	if n.send == nil {
		logger.Warn(ctx, "access", "notify.unbound",
			slog.Int64("user_id", ident.ID),
		)
		return nil
	}
	chatID := ident.ChatID
	if chatID == 0 {
		chatID = ident.ID
	}
	_, err := n.send.Send(tele.ChatID(chatID), "You are approved. Photos will arrive here.")
	if err != nil {
		return fmt.Errorf("notify requester %d: %w", ident.ID, err)
	}
	return nil
}
