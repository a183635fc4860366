package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/m3rciful/relaybot/access"
	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/storage"
	coretelegram "github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/commands"
	tgrouter "github.com/m3rciful/relaybot/core/telegram/router"
	"github.com/m3rciful/relaybot/relay"

	tele "gopkg.in/telebot.v4"
	"log/slog"
)

// App wires the access domain and the fan-out engine behind Telegram handlers.
type App struct {
	cfg *coreconfig.Config

	admins     *access.AdminSet
	policy     *access.Policy
	identities *access.IdentityStore
	roster     *access.Roster
	workflow   *access.Workflow
	notifier   *AdminNotifier

	gw     relay.Gateway
	engine *relay.Engine
}

// New builds the application from configuration and an opened snapshot directory.
func New(cfg *coreconfig.Config, store *storage.Dir) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bot: nil config provided")
	}
	if store == nil {
		return nil, fmt.Errorf("bot: nil store provided")
	}

	admins := access.NewAdminSet(cfg.Telegram.AdminIDs)

	identities, err := access.NewIdentityStore(store)
	if err != nil {
		return nil, fmt.Errorf("bot: identity store: %w", err)
	}
	roster, err := access.NewRoster(store)
	if err != nil {
		return nil, fmt.Errorf("bot: roster: %w", err)
	}

	notifier := NewAdminNotifier(admins)
	workflow, err := access.NewWorkflow(store, identities, roster, admins, notifier)
	if err != nil {
		return nil, fmt.Errorf("bot: workflow: %w", err)
	}

	return &App{
		cfg:        cfg,
		admins:     admins,
		policy:     access.NewPolicy(admins),
		identities: identities,
		roster:     roster,
		workflow:   workflow,
		notifier:   notifier,
	}, nil
}

// SetGateway overrides the delivery gateway. Used by tests; the runtime
// default is the live bot connection bound in TelegramRunOptions.
func (a *App) SetGateway(gw relay.Gateway) {
	a.gw = gw
	a.engine = relay.NewEngine(gw, a.retryPolicy())
}

func (a *App) retryPolicy() relay.Retry {
	return relay.Retry{
		MaxAttempts: a.cfg.Relay.MaxAttempts,
		Backoff:     time.Duration(a.cfg.Relay.BackoffMS) * time.Millisecond,
	}
}

// Destinations maps the active roster onto relay destinations, appending the
// mirror channel when one is configured.
func (a *App) Destinations() []relay.Destination {
	entries := a.roster.List()
	dests := make([]relay.Destination, 0, len(entries)+1)
	for _, e := range entries {
		dests = append(dests, relay.Destination{ID: e.ID, ChatID: e.ChatID, Label: e.Label})
	}
	if ch := a.cfg.Relay.ChannelID; ch != 0 {
		dests = append(dests, relay.Destination{ID: ch, ChatID: ch, Label: "channel"})
	}
	return dests
}

// DistributeToRoster fans a photo out to every roster member.
func (a *App) DistributeToRoster(ctx context.Context, ref relay.MediaRef, caption string) relay.Report {
	if a.engine == nil {
		logger.Error(ctx, "relay", "engine.unbound")
		return relay.Report{}
	}
	return a.engine.Distribute(ctx, ref, caption, a.Destinations())
}

// TelegramRunOptions assembles the bot runtime: registry, routes, middleware
// chain, and the lifecycle hook that binds the live delivery gateway.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	a.registerCommands(reg)
	if err := a.registerCallbacks(reg); err != nil {
		return coretelegram.RunOptions{}, err
	}

	routes := tgrouter.CommandRoutes(reg, tgrouter.CommandRouteOptions{
		IsAdmin:       a.allow(access.ActionManageRoster),
		OnAdminReject: a.replyDenied,
	})
	routes = append(routes, tgrouter.CallbackRoute(reg, tgrouter.CallbackOptions{}))
	routes = append(routes, tgrouter.PhotoRoute(a.restrict(access.ActionSendMedia, a.handlePhoto)))
	reg.SetTextFallback(a.handleUnknownText)
	routes = append(routes, tgrouter.TextRoute(reg))

	return coretelegram.RunOptions{
		Config:      a.cfg,
		Registry:    reg,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, a.replyLimited),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			if a.gw == nil {
				a.SetGateway(coretelegram.NewBotGateway(rt.Bot))
			}
			a.notifier.Bind(rt.Bot)
			logger.Info(ctx, "app", "wired",
				slog.Int("admins", a.admins.Len()),
				slog.Int("roster", a.roster.Len()),
				slog.Int("identities", a.identities.Len()),
			)
			return nil
		},
	}, nil
}

func (a *App) registerCommands(reg *coretelegram.Registry) {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.handleStart,
		Description: "Request access or confirm it is active",
	})
	reg.RegisterCommand("/id", commands.Command{
		Handler:     a.handleID,
		Description: "Show your numeric Telegram id",
	})
	reg.RegisterCommand("/add_user", commands.Command{
		Handler:     a.handleAddUser,
		Description: "Add a recipient to the photo roster",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/show_users", commands.Command{
		Handler:     a.handleShowUsers,
		Description: "List roster recipients",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/remove_user", commands.Command{
		Handler:     a.handleRemoveUser,
		Description: "Remove a recipient from the roster",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/clear_users", commands.Command{
		Handler:     a.handleClearUsers,
		Description: "Empty the photo roster",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/authorize", commands.Command{
		Handler:     a.handleAuthorize,
		Description: "Grant access to a user id",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/approve", commands.Command{
		Handler:     a.handleApprove,
		Description: "Approve a pending access request",
		AdminOnly:   true,
		Hidden:      true,
	})
	reg.RegisterCommand("/reject", commands.Command{
		Handler:     a.handleReject,
		Description: "Reject a pending access request",
		AdminOnly:   true,
		Hidden:      true,
	})
	reg.RegisterCommand("/send_image", commands.Command{
		Handler:     a.handleSendImage,
		Description: "Distribute a stored photo to the roster",
		AdminOnly:   true,
	})
}

func (a *App) registerCallbacks(reg *coretelegram.Registry) error {
	if err := reg.RegisterCallback(cbApprove, a.restrict(access.ActionManageRoster, a.callbackApprove)); err != nil {
		return err
	}
	return reg.RegisterCallback(cbReject, a.restrict(access.ActionManageRoster, a.callbackReject))
}

// allow adapts the policy decision for a fixed action to the router's
// per-id check.
func (a *App) allow(action access.Action) func(int64) bool {
	return func(id int64) bool { return a.policy.Allow(id, action) }
}

// restrict gates a handler behind a policy decision for the sender.
func (a *App) restrict(action access.Action, h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		user := c.Sender()
		if user == nil || !a.policy.Allow(user.ID, action) {
			return a.replyDenied(c)
		}
		return h(c)
	}
}
