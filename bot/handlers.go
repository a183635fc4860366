package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/relaybot/access"
	"github.com/m3rciful/relaybot/core/logger"
	tgcallbacks "github.com/m3rciful/relaybot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"
	"github.com/m3rciful/relaybot/relay"

	tele "gopkg.in/telebot.v4"
	"log/slog"
)

// recordCaller upserts the caller's contact details before any command logic
// runs, so handles and chat ids seen once stay resolvable.
func (a *App) recordCaller(c tele.Context) (context.Context, access.Identity) {
	ctx := tghelpers.BuildContext(c)
	user := c.Sender()
	if user == nil {
		return ctx, access.Identity{}
	}
	chatID := user.ID
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
	}
	fullName := strings.TrimSpace(user.FirstName + " " + user.LastName)
	ident, err := a.identities.RecordContact(ctx, user.ID, user.Username, fullName, chatID)
	if err != nil {
		logger.Warn(ctx, "access", "contact.record_fail",
			slog.Int64("user_id", user.ID),
			slog.String("err", err.Error()),
		)
	}
	return ctx, ident
}

func (a *App) replyDenied(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	logger.Warn(ctx, "access", "denied",
		slog.String("text", logger.SanitizeLimit(c.Text(), 128)),
	)
	return tghelpers.SendText(c, "This command is restricted to administrators.")
}

func (a *App) replyLimited(c tele.Context) error {
	return tghelpers.SendText(c, "Too fast. Please wait a moment.")
}

func (a *App) handleStart(c tele.Context) error {
	ctx, ident := a.recordCaller(c)
	if ident.ID == 0 {
		return nil
	}
	result, err := a.workflow.SelfOnboard(ctx, ident)
	if err != nil {
		logger.Error(ctx, "access", "onboard.fail",
			slog.Int64("user_id", ident.ID),
			slog.String("err", err.Error()),
		)
		return tghelpers.SendText(c, "Recorded, but saving failed. Check the logs.")
	}
	return tghelpers.SendText(c, onboardReply(result))
}

func (a *App) handleID(c tele.Context) error {
	_, ident := a.recordCaller(c)
	if ident.ID == 0 {
		return nil
	}
	return tghelpers.SendMD(c, fmt.Sprintf("Your id: `%d`", ident.ID))
}

// resolveTarget interprets a command argument as either a numeric id or a
// known @handle. The bool reports whether an identity record backs the id.
func (a *App) resolveTarget(arg string) (int64, access.Identity, bool, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, access.Identity{}, false, errors.New("empty target")
	}
	if strings.HasPrefix(arg, "@") {
		ident, ok := a.identities.LookupHandle(strings.TrimPrefix(arg, "@"))
		if !ok {
			return 0, access.Identity{}, false, fmt.Errorf("unknown handle %s", arg)
		}
		return ident.ID, ident, true, nil
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, access.Identity{}, false, fmt.Errorf("bad id %q", arg)
	}
	ident, ok := a.identities.Lookup(id)
	return id, ident, ok, nil
}

func (a *App) handleAddUser(c tele.Context) error {
	ctx, _ := a.recordCaller(c)
	args := c.Args()
	if len(args) != 1 {
		return tghelpers.SendText(c, "Usage: /add_user <id|@handle>")
	}
	id, ident, known, err := a.resolveTarget(args[0])
	if err != nil {
		return tghelpers.SendText(c, fmt.Sprintf("Cannot add: %v", err))
	}
	chatID, label := id, args[0]
	if known {
		chatID = ident.ChatID
		label = ident.Handle()
	}
	outcome, err := a.roster.Add(ctx, id, chatID, label)
	if err != nil {
		return tghelpers.SendText(c, "Added, but saving the roster failed. Check the logs.")
	}
	return tghelpers.SendText(c, addReply(outcome, label))
}

func (a *App) handleShowUsers(c tele.Context) error {
	a.recordCaller(c)
	return tghelpers.SendText(c, rosterReply(a.roster.List()))
}

func (a *App) handleRemoveUser(c tele.Context) error {
	ctx, _ := a.recordCaller(c)
	args := c.Args()
	if len(args) != 1 {
		return tghelpers.SendText(c, "Usage: /remove_user <id|@handle>")
	}
	id, ident, known, err := a.resolveTarget(args[0])
	if err != nil {
		return tghelpers.SendText(c, fmt.Sprintf("Cannot remove: %v", err))
	}
	label := args[0]
	if known {
		label = ident.Handle()
	}
	outcome, err := a.roster.Remove(ctx, id)
	if err != nil {
		return tghelpers.SendText(c, "Removed, but saving the roster failed. Check the logs.")
	}
	return tghelpers.SendText(c, removeReply(outcome, label))
}

func (a *App) handleClearUsers(c tele.Context) error {
	ctx, _ := a.recordCaller(c)
	n, err := a.roster.Clear(ctx)
	if err != nil {
		return tghelpers.SendText(c, "Cleared, but saving the roster failed. Check the logs.")
	}
	return tghelpers.SendText(c, fmt.Sprintf("Roster cleared (%d removed).", n))
}

func (a *App) handleAuthorize(c tele.Context) error {
	return a.decide(c, "/authorize", true)
}

func (a *App) handleApprove(c tele.Context) error {
	return a.decide(c, "/approve", true)
}

func (a *App) handleReject(c tele.Context) error {
	return a.decide(c, "/reject", false)
}

func (a *App) decide(c tele.Context, usage string, approve bool) error {
	ctx, caller := a.recordCaller(c)
	args := c.Args()
	if len(args) != 1 {
		return tghelpers.SendText(c, fmt.Sprintf("Usage: %s <id|@handle>", usage))
	}
	id, _, _, err := a.resolveTarget(args[0])
	if err != nil {
		return tghelpers.SendText(c, fmt.Sprintf("Cannot decide: %v", err))
	}
	return a.applyDecision(ctx, c, caller.ID, id, approve)
}

func (a *App) applyDecision(ctx context.Context, c tele.Context, adminID, targetID int64, approve bool) error {
	var (
		outcome access.DecisionOutcome
		verb    string
		err     error
	)
	if approve {
		verb = "approved"
		outcome, err = a.workflow.Approve(ctx, adminID, targetID)
	} else {
		verb = "rejected"
		outcome, err = a.workflow.Reject(ctx, adminID, targetID)
	}
	if err != nil {
		if errors.Is(err, access.ErrUnknownIdentity) {
			return tghelpers.SendText(c, fmt.Sprintf("User %d is unknown; they must /start the bot first.", targetID))
		}
		logger.Error(ctx, "access", "decision.fail",
			slog.Int64("target_id", targetID),
			slog.String("err", err.Error()),
		)
		return tghelpers.SendText(c, fmt.Sprintf("Decision for %d recorded, but saving it failed. Check the logs.", targetID))
	}
	return tghelpers.SendText(c, decisionReply(outcome, verb, targetID))
}

func (a *App) callbackApprove(c tele.Context) error {
	return a.callbackDecision(c, true)
}

func (a *App) callbackReject(c tele.Context) error {
	return a.callbackDecision(c, false)
}

func (a *App) callbackDecision(c tele.Context, approve bool) error {
	ctx, caller := a.recordCaller(c)
	targetID, err := tgcallbacks.PayloadInt64(c)
	if err != nil {
		logger.Warn(ctx, "access", "callback.bad_payload",
			slog.String("err", err.Error()),
		)
		return tghelpers.SendText(c, "Malformed decision payload.")
	}
	if err := a.applyDecision(ctx, c, caller.ID, targetID, approve); err != nil {
		return err
	}
	// Drop the buttons so the alert can not be acted on twice.
	verb := "Rejected"
	if approve {
		verb = "Approved"
	}
	return tghelpers.EditMD(c, fmt.Sprintf("%s user `%d`.", verb, targetID))
}

func (a *App) handleSendImage(c tele.Context) error {
	ctx, _ := a.recordCaller(c)
	args := c.Args()
	if len(args) < 1 {
		return tghelpers.SendText(c, "Usage: /send_image <file_ref> [caption]")
	}
	ref := relay.MediaRef(args[0])
	caption := strings.Join(args[1:], " ")
	report := a.DistributeToRoster(ctx, ref, caption)
	return tghelpers.SendText(c, reportReply(report))
}

func (a *App) handleUnknownText(c tele.Context) error {
	a.recordCaller(c)
	return tghelpers.SendText(c, "Send /start to request access. Administrators can send a photo to distribute it.")
}

func (a *App) handlePhoto(c tele.Context) error {
	ctx, _ := a.recordCaller(c)
	msg := c.Message()
	if msg == nil || msg.Photo == nil {
		return nil
	}
	photo := msg.Photo

	// Echo the stored file details back to the sender before fanning out.
	details := fmt.Sprintf("Photo received: %dx%d, %d bytes\nfile_ref: %s",
		photo.Width, photo.Height, photo.FileSize, photo.FileID)
	if msg.Caption != "" {
		details += "\ncaption: " + msg.Caption
	}
	if err := tghelpers.SendText(c, details); err != nil {
		logger.Warn(ctx, "relay", "echo.fail",
			slog.String("err", err.Error()),
		)
	}

	report := a.DistributeToRoster(ctx, relay.MediaRef(photo.FileID), msg.Caption)
	return tghelpers.SendText(c, reportReply(report))
}
