package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m3rciful/relaybot/access"
	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/storage"
	"github.com/m3rciful/relaybot/relay"

	tele "gopkg.in/telebot.v4"
)

type sentMessage struct {
	To   string
	What interface{}
}

type fakeMessenger struct {
	sent []sentMessage
	fail bool
}

func (m *fakeMessenger) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	if m.fail {
		return nil, fmt.Errorf("send refused")
	}
	m.sent = append(m.sent, sentMessage{To: to.Recipient(), What: what})
	return &tele.Message{}, nil
}

type fakeGateway struct {
	sent map[int64][]relay.MediaRef
}

func (g *fakeGateway) SendPhoto(_ context.Context, chatID int64, ref relay.MediaRef, _ string) error {
	if g.sent == nil {
		g.sent = make(map[int64][]relay.MediaRef)
	}
	g.sent[chatID] = append(g.sent[chatID], ref)
	return nil
}

func testApp(t *testing.T, adminIDs ...int64) (*App, *fakeMessenger, *fakeGateway) {
	t.Helper()
	cfg := &coreconfig.Config{}
	cfg.Telegram.AdminIDs = adminIDs
	dir, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	app, err := New(cfg, dir)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	messenger := &fakeMessenger{}
	app.notifier.Bind(messenger)
	gw := &fakeGateway{}
	app.SetGateway(gw)
	return app, messenger, gw
}

// Full onboarding path: a stranger requests access, the admin approves, and
// the next distributed photo reaches them.
func TestOnboardApproveDistribute(t *testing.T) {
	app, messenger, gw := testApp(t, 1)
	ctx := context.Background()

	ident, err := app.identities.RecordContact(ctx, 42, "alice", "Alice", 4242)
	if err != nil {
		t.Fatalf("record contact: %v", err)
	}

	result, err := app.workflow.SelfOnboard(ctx, ident)
	if err != nil {
		t.Fatalf("self onboard: %v", err)
	}
	if result != access.OnboardPendingNew {
		t.Fatalf("result = %v, want pending-new", result)
	}
	if len(messenger.sent) != 1 {
		t.Fatalf("admin alerts = %d, want 1", len(messenger.sent))
	}
	if messenger.sent[0].To != "1" {
		t.Fatalf("alert went to %s, want admin 1", messenger.sent[0].To)
	}
	alert, ok := messenger.sent[0].What.(string)
	if !ok {
		t.Fatalf("alert is %T, want string", messenger.sent[0].What)
	}
	// The alert names both decision commands alongside the buttons.
	if !strings.Contains(alert, "/approve 42") || !strings.Contains(alert, "/reject 42") {
		t.Fatalf("alert missing decision commands: %q", alert)
	}

	outcome, err := app.workflow.Approve(ctx, 1, 42)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome != access.Decided {
		t.Fatalf("outcome = %v, want decided", outcome)
	}
	if !app.roster.Contains(42) {
		t.Fatal("approved user missing from roster")
	}
	// Requester got the grant confirmation in their chat.
	last := messenger.sent[len(messenger.sent)-1]
	if last.To != "4242" {
		t.Fatalf("confirmation went to %s, want 4242", last.To)
	}

	report := app.DistributeToRoster(ctx, "img123", "")
	if len(report.Delivered) != 1 || report.Delivered[0] != 42 {
		t.Fatalf("delivered = %v, want [42]", report.Delivered)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("failed = %v, want none", report.Failed)
	}
	refs := gw.sent[4242]
	if len(refs) != 1 || refs[0] != "img123" {
		t.Fatalf("chat 4242 received %v, want [img123]", refs)
	}
}

func TestDestinationsAppendChannel(t *testing.T) {
	app, _, _ := testApp(t, 1)
	ctx := context.Background()

	if _, err := app.roster.Add(ctx, 42, 4242, "@alice"); err != nil {
		t.Fatalf("add: %v", err)
	}
	app.cfg.Relay.ChannelID = -100500

	dests := app.Destinations()
	if len(dests) != 2 {
		t.Fatalf("destinations = %d, want 2", len(dests))
	}
	last := dests[len(dests)-1]
	if last.ChatID != -100500 || last.Label != "channel" {
		t.Fatalf("channel destination = %+v", last)
	}
}

func TestNotifierSurvivesAdminSendFailure(t *testing.T) {
	app, messenger, _ := testApp(t, 1)
	ctx := context.Background()
	messenger.fail = true

	ident, err := app.identities.RecordContact(ctx, 42, "alice", "Alice", 4242)
	if err != nil {
		t.Fatalf("record contact: %v", err)
	}
	// A failed alert must not block the pending record.
	if _, err := app.workflow.SelfOnboard(ctx, ident); err != nil {
		t.Fatalf("self onboard: %v", err)
	}
	if got := app.workflow.PendingIDs(); len(got) != 1 || got[0] != 42 {
		t.Fatalf("pending = %v, want [42]", got)
	}
}

// cmdContext is the minimal slice of tele.Context the handlers touch.
// Unstubbed methods panic via the embedded nil interface.
type cmdContext struct {
	tele.Context
	user    *tele.User
	vals    map[string]interface{}
	replies []string
}

func newCmdContext(user *tele.User) *cmdContext {
	return &cmdContext{user: user, vals: make(map[string]interface{})}
}

func (c *cmdContext) Sender() *tele.User { return c.user }

func (c *cmdContext) Chat() *tele.Chat {
	if c.user == nil {
		return nil
	}
	return &tele.Chat{ID: c.user.ID}
}

func (c *cmdContext) Update() tele.Update { return tele.Update{ID: 7} }

func (c *cmdContext) Text() string { return "/start" }

func (c *cmdContext) Get(key string) interface{} { return c.vals[key] }

func (c *cmdContext) Set(key string, val interface{}) { c.vals[key] = val }

func (c *cmdContext) Send(what interface{}, _ ...interface{}) error {
	if s, ok := what.(string); ok {
		c.replies = append(c.replies, s)
	}
	return nil
}

func TestStartReportsSnapshotFailure(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.AdminIDs = []int64{1}
	path := filepath.Join(t.TempDir(), "data")
	dir, err := storage.Open(path)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	app, err := New(cfg, dir)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	app.notifier.Bind(&fakeMessenger{})

	// Replace the snapshot directory with a plain file so every save fails.
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("plant file: %v", err)
	}

	c := newCmdContext(&tele.User{ID: 1, Username: "admin"})
	if err := app.handleStart(c); err != nil {
		t.Fatalf("handle start: %v", err)
	}
	if len(c.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(c.replies))
	}
	if want := "Recorded, but saving failed. Check the logs."; c.replies[0] != want {
		t.Fatalf("reply = %q, want %q", c.replies[0], want)
	}
}

func TestRestrictConsultsPolicy(t *testing.T) {
	app, _, _ := testApp(t, 1)
	called := false
	h := app.restrict(access.ActionSendMedia, func(tele.Context) error {
		called = true
		return nil
	})

	outsider := newCmdContext(&tele.User{ID: 42})
	if err := h(outsider); err != nil {
		t.Fatalf("outsider call: %v", err)
	}
	if called {
		t.Fatal("handler ran for non-admin")
	}
	if len(outsider.replies) != 1 {
		t.Fatalf("outsider replies = %d, want denial", len(outsider.replies))
	}

	admin := newCmdContext(&tele.User{ID: 1})
	if err := h(admin); err != nil {
		t.Fatalf("admin call: %v", err)
	}
	if !called {
		t.Fatal("handler did not run for admin")
	}
}

func TestAllowAdaptsPolicy(t *testing.T) {
	app, _, _ := testApp(t, 1)
	check := app.allow(access.ActionManageRoster)
	if !check(1) {
		t.Fatal("admin denied roster management")
	}
	if check(42) {
		t.Fatal("non-admin granted roster management")
	}
}

func TestTelegramRunOptionsWiring(t *testing.T) {
	app, _, _ := testApp(t, 1)

	opts, err := app.TelegramRunOptions()
	if err != nil {
		t.Fatalf("run options: %v", err)
	}
	if opts.Registry == nil {
		t.Fatal("registry not set")
	}
	if len(opts.Routes) == 0 {
		t.Fatal("no routes wired")
	}
	if _, _, ok := opts.Registry.LookupCommand("/send_image"); !ok {
		t.Fatal("/send_image not registered")
	}
	if _, ok := opts.Registry.GetCallback(cbApprove); !ok {
		t.Fatal("approve callback not registered")
	}
}
