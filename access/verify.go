package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/storage"
	"log/slog"
)

// verifiedUsersDoc is the snapshot document holding the verified terminal
// state records.
const verifiedUsersDoc = "verified_users.json"

// ErrUnknownIdentity indicates the target id has no identity store record.
var ErrUnknownIdentity = errors.New("access: unknown identity")

// Status is the verification state of an identity.
type Status string

const (
	// StatusPending marks an identity awaiting an admin decision.
	StatusPending Status = "pending"
	// StatusVerified marks an approved identity. Terminal.
	StatusVerified Status = "verified"
	// StatusRejected marks a refused identity. Terminal.
	StatusRejected Status = "rejected"
)

// VerificationRecord tracks one identity inside the workflow.
type VerificationRecord struct {
	ID        int64
	Status    Status
	DecidedAt time.Time
	DecidedBy int64
}

// OnboardResult is the branch taken by a self-onboard event.
type OnboardResult int

const (
	// OnboardAdmin: the caller is in the admin set.
	OnboardAdmin OnboardResult = iota
	// OnboardVerified: the caller was approved earlier; a missing roster
	// entry has been restored.
	OnboardVerified
	// OnboardPendingNew: a new pending request was created and admins were
	// notified.
	OnboardPendingNew
	// OnboardPendingAgain: the caller was already pending; admins were not
	// re-notified.
	OnboardPendingAgain
	// OnboardRejected: the caller was rejected earlier in this run.
	OnboardRejected
)

// DecisionOutcome reports the effect of an approve/reject command.
type DecisionOutcome int

const (
	// Decided: the workflow state changed.
	Decided DecisionOutcome = iota
	// AlreadyDecided: the target was already in the requested terminal state.
	AlreadyDecided
	// NothingPending: reject was called for an id with no pending request.
	NothingPending
)

type verifiedDoc struct {
	Username string `json:"username"`
	ChatID   int64  `json:"chat_id"`
}

// Notifier delivers workflow notifications outside the triggering chat.
// The bot layer implements it over the messaging gateway.
type Notifier interface {
	// PendingRequest alerts every admin about a new verification request.
	PendingRequest(ctx context.Context, ident Identity) error
	// Approved tells the requester their access was granted.
	Approved(ctx context.Context, ident Identity) error
}

// Workflow is the admin-gated verification state machine:
// unknown -> pending -> verified | rejected. Verified records and the
// roster entries they create are persisted together; pending and rejected
// state lives in memory and is rebuilt by idempotent re-requests.
type Workflow struct {
	dir        *storage.Dir
	identities *IdentityStore
	roster     *Roster
	admins     *AdminSet
	notifier   Notifier

	verified map[int64]VerificationRecord
	pending  map[int64]VerificationRecord
	rejected map[int64]VerificationRecord
}

// NewWorkflow loads the verified records and wires the workflow over the
// shared aggregates.
func NewWorkflow(dir *storage.Dir, identities *IdentityStore, roster *Roster, admins *AdminSet, notifier Notifier) (*Workflow, error) {
	w := &Workflow{
		dir:        dir,
		identities: identities,
		roster:     roster,
		admins:     admins,
		notifier:   notifier,
		verified:   make(map[int64]VerificationRecord),
		pending:    make(map[int64]VerificationRecord),
		rejected:   make(map[int64]VerificationRecord),
	}

	var doc map[string]verifiedDoc
	switch err := dir.Load(verifiedUsersDoc, &doc); err {
	case nil:
	case storage.ErrNotFound:
		return w, nil
	default:
		return nil, fmt.Errorf("verification records: %w", err)
	}

	for key := range doc {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logger.ACCESS.Warn("skipping malformed verified key",
				slog.String("event", "verify.load"),
				slog.String("key", logger.SanitizeLimit(key, 64)),
			)
			continue
		}
		w.verified[id] = VerificationRecord{ID: id, Status: StatusVerified}
	}

	logger.ACCESS.Info("verification records loaded",
		slog.String("event", "verify.load"),
		slog.Int("verified", len(w.verified)),
	)
	return w, nil
}

// Status returns the verification state of an identity. Unknown identities
// report an empty status.
func (w *Workflow) Status(id int64) Status {
	if _, ok := w.verified[id]; ok {
		return StatusVerified
	}
	if _, ok := w.pending[id]; ok {
		return StatusPending
	}
	if _, ok := w.rejected[id]; ok {
		return StatusRejected
	}
	return ""
}

// PendingIDs returns the ids currently awaiting a decision, ascending.
func (w *Workflow) PendingIDs() []int64 {
	out := make([]int64, 0, len(w.pending))
	for id := range w.pending {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SelfOnboard runs the workflow entry for the identity behind a /start
// event. Re-entering while pending does not re-notify admins; re-entering
// while verified restores a missing roster entry.
func (w *Workflow) SelfOnboard(ctx context.Context, ident Identity) (OnboardResult, error) {
	if w.admins.Contains(ident.ID) {
		// Built-in administrators receive distributions too; make sure the
		// roster knows them.
		if _, err := w.roster.Add(ctx, ident.ID, ident.ChatID, ident.Handle()); err != nil {
			return OnboardAdmin, err
		}
		return OnboardAdmin, nil
	}

	if _, ok := w.verified[ident.ID]; ok {
		if !w.roster.Contains(ident.ID) {
			logger.Warn(ctx, "access.verify", "roster.selfheal",
				slog.Int64("identity_id", ident.ID),
			)
			if _, err := w.roster.Add(ctx, ident.ID, ident.ChatID, ident.Handle()); err != nil {
				return OnboardVerified, err
			}
		}
		return OnboardVerified, nil
	}

	if _, ok := w.rejected[ident.ID]; ok {
		return OnboardRejected, nil
	}

	if _, ok := w.pending[ident.ID]; ok {
		return OnboardPendingAgain, nil
	}

	w.pending[ident.ID] = VerificationRecord{ID: ident.ID, Status: StatusPending}
	logger.Info(ctx, "access.verify", "request.created",
		slog.Int64("identity_id", ident.ID),
		slog.String("username", logger.SanitizeLimit(ident.Username, 64)),
		slog.Int("admins", w.admins.Len()),
	)
	if w.notifier != nil {
		if err := w.notifier.PendingRequest(ctx, ident); err != nil {
			logger.Warn(ctx, "access.verify", "admin.notify.failed",
				slog.Int64("identity_id", ident.ID),
				slog.String("err", err.Error()),
			)
		}
	}
	return OnboardPendingNew, nil
}

// Approve moves the target into the verified terminal state and creates its
// roster entry from the stored destination address. The verified records
// and the roster snapshot are persisted together. The target must exist in
// the identity store; a lost pending record (for example after a restart)
// does not block approval.
func (w *Workflow) Approve(ctx context.Context, adminID, targetID int64) (DecisionOutcome, error) {
	ident, ok := w.identities.Lookup(targetID)
	if !ok {
		return Decided, fmt.Errorf("approve %d: %w", targetID, ErrUnknownIdentity)
	}
	if _, verified := w.verified[targetID]; verified {
		return AlreadyDecided, nil
	}

	record := VerificationRecord{
		ID:        targetID,
		Status:    StatusVerified,
		DecidedAt: time.Now().UTC(),
		DecidedBy: adminID,
	}
	w.verified[targetID] = record
	delete(w.pending, targetID)
	delete(w.rejected, targetID)

	// The roster mutation is not written through here; SaveAll below
	// persists roster and verified records in the same pass.
	w.roster.insert(targetID, ident.ChatID, ident.Handle())

	logger.Info(ctx, "access.verify", "request.approved",
		slog.Int64("identity_id", targetID),
		slog.Int64("admin_id", adminID),
	)
	if err := w.dir.SaveAll(w.roster.document(), w.document()); err != nil {
		logger.Error(ctx, "access.verify", "snapshot.diverged",
			slog.Int64("identity_id", targetID),
			slog.String("err", err.Error()),
		)
		return Decided, fmt.Errorf("approve %d: %w", targetID, err)
	}

	if w.notifier != nil {
		if err := w.notifier.Approved(ctx, ident); err != nil {
			logger.Warn(ctx, "access.verify", "requester.notify.failed",
				slog.Int64("identity_id", targetID),
				slog.String("err", err.Error()),
			)
		}
	}
	return Decided, nil
}

// Reject removes the pending record for the target. The roster is not
// touched; nothing was added while pending. Rejecting an id that is not
// pending is a reported no-op.
func (w *Workflow) Reject(ctx context.Context, adminID, targetID int64) (DecisionOutcome, error) {
	if _, ok := w.pending[targetID]; !ok {
		if _, rejected := w.rejected[targetID]; rejected {
			return AlreadyDecided, nil
		}
		return NothingPending, nil
	}

	delete(w.pending, targetID)
	w.rejected[targetID] = VerificationRecord{
		ID:        targetID,
		Status:    StatusRejected,
		DecidedAt: time.Now().UTC(),
		DecidedBy: adminID,
	}

	logger.Info(ctx, "access.verify", "request.rejected",
		slog.Int64("identity_id", targetID),
		slog.Int64("admin_id", adminID),
	)
	return Decided, nil
}

// document exposes the verified records snapshot for combined saves.
func (w *Workflow) document() storage.Document {
	doc := make(map[string]verifiedDoc, len(w.verified))
	for id := range w.verified {
		var entry verifiedDoc
		if ident, ok := w.identities.Lookup(id); ok {
			entry.Username = ident.Username
			entry.ChatID = ident.ChatID
		}
		doc[strconv.FormatInt(id, 10)] = entry
	}
	return storage.Document{Name: verifiedUsersDoc, Value: doc}
}
