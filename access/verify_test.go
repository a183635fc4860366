package access

import (
	"context"
	"errors"
	"testing"

	"github.com/m3rciful/relaybot/core/storage"
)

type fakeNotifier struct {
	pending  []Identity
	approved []Identity
}

func (n *fakeNotifier) PendingRequest(_ context.Context, ident Identity) error {
	n.pending = append(n.pending, ident)
	return nil
}

func (n *fakeNotifier) Approved(_ context.Context, ident Identity) error {
	n.approved = append(n.approved, ident)
	return nil
}

type workflowFixture struct {
	dir        *storage.Dir
	identities *IdentityStore
	roster     *Roster
	workflow   *Workflow
	notifier   *fakeNotifier
}

func newWorkflowFixture(t *testing.T, admins ...int64) *workflowFixture {
	t.Helper()
	dir := testDir(t)

	identities, err := NewIdentityStore(dir)
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	roster, err := NewRoster(dir)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	notifier := &fakeNotifier{}
	workflow, err := NewWorkflow(dir, identities, roster, NewAdminSet(admins), notifier)
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	return &workflowFixture{
		dir:        dir,
		identities: identities,
		roster:     roster,
		workflow:   workflow,
		notifier:   notifier,
	}
}

func (f *workflowFixture) contact(t *testing.T, id int64, username string) Identity {
	t.Helper()
	ident, err := f.identities.RecordContact(context.Background(), id, username, username, id*100)
	if err != nil {
		t.Fatalf("record contact: %v", err)
	}
	return ident
}

func TestSelfOnboardIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 1)
	alice := f.contact(t, 42, "alice")

	result, err := f.workflow.SelfOnboard(ctx, alice)
	if err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if result != OnboardPendingNew {
		t.Fatalf("first onboard = %v, want OnboardPendingNew", result)
	}
	if len(f.notifier.pending) != 1 || f.notifier.pending[0].ID != 42 {
		t.Fatalf("admin notifications = %+v", f.notifier.pending)
	}

	result, err = f.workflow.SelfOnboard(ctx, alice)
	if err != nil {
		t.Fatalf("repeat onboard: %v", err)
	}
	if result != OnboardPendingAgain {
		t.Fatalf("repeat onboard = %v, want OnboardPendingAgain", result)
	}
	if len(f.notifier.pending) != 1 {
		t.Fatalf("admins re-notified on repeat onboard: %d notifications", len(f.notifier.pending))
	}
}

func TestSelfOnboardAdminJoinsRoster(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 1)
	admin := f.contact(t, 1, "boss")

	result, err := f.workflow.SelfOnboard(ctx, admin)
	if err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if result != OnboardAdmin {
		t.Fatalf("onboard = %v, want OnboardAdmin", result)
	}
	if !f.roster.Contains(1) {
		t.Fatal("admin missing from roster after onboard")
	}
	if len(f.notifier.pending) != 0 {
		t.Fatal("admin onboard must not create a pending request")
	}
}

func TestApproveUnknownIdentity(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 1)

	_, err := f.workflow.Approve(ctx, 1, 999)
	if !errors.Is(err, ErrUnknownIdentity) {
		t.Fatalf("expected ErrUnknownIdentity, got %v", err)
	}
	if f.roster.Len() != 0 {
		t.Fatal("approve of unknown identity must not touch the roster")
	}
	if f.workflow.Status(999) != "" {
		t.Fatal("approve of unknown identity must not create records")
	}
}

func TestApproveAddsRosterEntry(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 1)
	alice := f.contact(t, 42, "alice")

	if _, err := f.workflow.SelfOnboard(ctx, alice); err != nil {
		t.Fatalf("onboard: %v", err)
	}

	outcome, err := f.workflow.Approve(ctx, 1, 42)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome != Decided {
		t.Fatalf("approve outcome = %v, want Decided", outcome)
	}
	if f.workflow.Status(42) != StatusVerified {
		t.Fatalf("status = %q, want verified", f.workflow.Status(42))
	}
	if !f.roster.Contains(42) {
		t.Fatal("approved identity missing from roster")
	}
	entry := f.roster.List()[0]
	if entry.ChatID != 4200 {
		t.Fatalf("roster entry uses wrong address: %+v", entry)
	}
	if len(f.notifier.approved) != 1 || f.notifier.approved[0].ID != 42 {
		t.Fatalf("requester notification = %+v", f.notifier.approved)
	}

	outcome, err = f.workflow.Approve(ctx, 1, 42)
	if err != nil {
		t.Fatalf("repeat approve: %v", err)
	}
	if outcome != AlreadyDecided {
		t.Fatalf("repeat approve = %v, want AlreadyDecided", outcome)
	}
}

func TestApprovePersistsRosterAndRecordsTogether(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 1)
	alice := f.contact(t, 42, "alice")
	if _, err := f.workflow.SelfOnboard(ctx, alice); err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if _, err := f.workflow.Approve(ctx, 1, 42); err != nil {
		t.Fatalf("approve: %v", err)
	}

	reloadedRoster, err := NewRoster(f.dir)
	if err != nil {
		t.Fatalf("reload roster: %v", err)
	}
	if !reloadedRoster.Contains(42) {
		t.Fatal("roster snapshot missing approved entry")
	}

	reloadedIdentities, err := NewIdentityStore(f.dir)
	if err != nil {
		t.Fatalf("reload identities: %v", err)
	}
	reloaded, err := NewWorkflow(f.dir, reloadedIdentities, reloadedRoster, NewAdminSet([]int64{1}), nil)
	if err != nil {
		t.Fatalf("reload workflow: %v", err)
	}
	if reloaded.Status(42) != StatusVerified {
		t.Fatalf("verified record not durable: status %q", reloaded.Status(42))
	}
}

func TestRejectPendingAndNoop(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 1)
	alice := f.contact(t, 42, "alice")

	outcome, err := f.workflow.Reject(ctx, 1, 42)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if outcome != NothingPending {
		t.Fatalf("reject of non-pending = %v, want NothingPending", outcome)
	}

	if _, err := f.workflow.SelfOnboard(ctx, alice); err != nil {
		t.Fatalf("onboard: %v", err)
	}
	outcome, err = f.workflow.Reject(ctx, 1, 42)
	if err != nil {
		t.Fatalf("reject pending: %v", err)
	}
	if outcome != Decided {
		t.Fatalf("reject pending = %v, want Decided", outcome)
	}
	if f.workflow.Status(42) != StatusRejected {
		t.Fatalf("status = %q, want rejected", f.workflow.Status(42))
	}
	if f.roster.Len() != 0 {
		t.Fatal("reject must not touch the roster")
	}

	// Rejection is terminal for this run: onboarding again must not create
	// a new pending request.
	result, err := f.workflow.SelfOnboard(ctx, alice)
	if err != nil {
		t.Fatalf("onboard after reject: %v", err)
	}
	if result != OnboardRejected {
		t.Fatalf("onboard after reject = %v, want OnboardRejected", result)
	}
	if len(f.notifier.pending) != 1 {
		t.Fatalf("admins notified after rejection: %d notifications", len(f.notifier.pending))
	}
}

func TestVerifiedReentrySelfHeals(t *testing.T) {
	ctx := context.Background()
	f := newWorkflowFixture(t, 1)
	alice := f.contact(t, 42, "alice")

	if _, err := f.workflow.SelfOnboard(ctx, alice); err != nil {
		t.Fatalf("onboard: %v", err)
	}
	if _, err := f.workflow.Approve(ctx, 1, 42); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.roster.Remove(ctx, 42); err != nil {
		t.Fatalf("remove: %v", err)
	}

	result, err := f.workflow.SelfOnboard(ctx, alice)
	if err != nil {
		t.Fatalf("re-onboard: %v", err)
	}
	if result != OnboardVerified {
		t.Fatalf("re-onboard = %v, want OnboardVerified", result)
	}
	if !f.roster.Contains(42) {
		t.Fatal("roster entry not restored for verified identity")
	}
}
