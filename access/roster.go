package access

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/storage"
	"log/slog"
)

// rosterDoc is the snapshot document name for the forward roster.
const rosterDoc = "roster.json"

// RosterEntry is a destination eligible to receive distributed media.
type RosterEntry struct {
	ID     int64
	ChatID int64
	Label  string
}

// AddOutcome reports the result of a roster add. AlreadyPresent is a normal
// outcome, not an error.
type AddOutcome int

const (
	// Added indicates a new roster entry was created.
	Added AddOutcome = iota
	// AlreadyPresent indicates the identity was already on the roster.
	AlreadyPresent
)

// RemoveOutcome reports the result of a roster removal.
type RemoveOutcome int

const (
	// Removed indicates the entry existed and was deleted.
	Removed RemoveOutcome = iota
	// NotPresent indicates no entry existed for the identity.
	NotPresent
)

type rosterEntryDoc struct {
	ChatID int64  `json:"chat_id"`
	Label  string `json:"label"`
}

// Roster is the durable, insertion-ordered set of forward destinations,
// keyed by identity id. Every mutation writes the snapshot through before
// reporting success.
type Roster struct {
	dir     *storage.Dir
	entries map[int64]RosterEntry
	order   []int64
}

// NewRoster loads the roster snapshot. Legacy revisions of the forward list
// were keyed by display handle with a bare numeric chat id value; those
// entries are re-keyed by the numeric id on load with the old key kept as
// the display label. After a load the roster is always id-keyed.
func NewRoster(dir *storage.Dir) (*Roster, error) {
	r := &Roster{
		dir:     dir,
		entries: make(map[int64]RosterEntry),
	}

	var doc map[string]json.RawMessage
	switch err := dir.Load(rosterDoc, &doc); err {
	case nil:
	case storage.ErrNotFound:
		return r, nil
	default:
		return nil, fmt.Errorf("roster: %w", err)
	}

	migrated := 0
	for key, raw := range doc {
		entry, ok := decodeRosterEntry(key, raw)
		if !ok {
			logger.ACCESS.Warn("skipping malformed roster entry",
				slog.String("event", "roster.load"),
				slog.String("key", logger.SanitizeLimit(key, 64)),
			)
			continue
		}
		if _, legacy := entry.legacyKey(key); legacy {
			migrated++
		}
		r.entries[entry.ID] = entry
	}

	// Snapshot documents are JSON maps; rebuild a deterministic display
	// order after a restart.
	r.order = make([]int64, 0, len(r.entries))
	for id := range r.entries {
		r.order = append(r.order, id)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })

	attrs := []slog.Attr{
		slog.String("event", "roster.load"),
		slog.Int("count", len(r.entries)),
	}
	if migrated > 0 {
		attrs = append(attrs, slog.Int("migrated", migrated))
	}
	logger.ACCESS.LogAttrs(context.Background(), slog.LevelInfo, "roster loaded", attrs...)

	if migrated > 0 {
		// Persist the normalized keying so the legacy shape never loads twice.
		if err := r.save(); err != nil {
			return nil, fmt.Errorf("roster: rewrite migrated snapshot: %w", err)
		}
	}
	return r, nil
}

func decodeRosterEntry(key string, raw json.RawMessage) (RosterEntry, bool) {
	id, idErr := strconv.ParseInt(key, 10, 64)

	var entry rosterEntryDoc
	if err := json.Unmarshal(raw, &entry); err == nil && entry.ChatID != 0 {
		if idErr != nil {
			return RosterEntry{}, false
		}
		return RosterEntry{ID: id, ChatID: entry.ChatID, Label: entry.Label}, true
	}

	// Legacy shape: "handle": 123456789
	var chatID int64
	if err := json.Unmarshal(raw, &chatID); err == nil && chatID != 0 {
		if idErr == nil {
			return RosterEntry{ID: id, ChatID: chatID}, true
		}
		return RosterEntry{ID: chatID, ChatID: chatID, Label: key}, true
	}

	return RosterEntry{}, false
}

// legacyKey reports whether the entry was loaded from a handle-keyed
// document revision.
func (e RosterEntry) legacyKey(key string) (string, bool) {
	if _, err := strconv.ParseInt(key, 10, 64); err != nil {
		return key, true
	}
	return key, false
}

// Add inserts a destination for the identity. Adding an identity that is
// already present reports AlreadyPresent and performs no write.
func (r *Roster) Add(ctx context.Context, id, chatID int64, label string) (AddOutcome, error) {
	if _, exists := r.entries[id]; exists {
		return AlreadyPresent, nil
	}
	r.entries[id] = RosterEntry{ID: id, ChatID: chatID, Label: label}
	r.order = append(r.order, id)

	logger.Info(ctx, "access.roster", "roster.add",
		slog.Int64("identity_id", id),
		slog.Int64("chat_id", chatID),
		slog.Int("count", len(r.entries)),
	)
	if err := r.save(); err != nil {
		logger.Error(ctx, "access.roster", "snapshot.diverged",
			slog.Int64("identity_id", id),
			slog.String("err", err.Error()),
		)
		return Added, fmt.Errorf("roster add %d: %w", id, err)
	}
	return Added, nil
}

// Remove deletes the destination for the identity if present.
func (r *Roster) Remove(ctx context.Context, id int64) (RemoveOutcome, error) {
	if _, exists := r.entries[id]; !exists {
		return NotPresent, nil
	}
	delete(r.entries, id)
	for i, ordered := range r.order {
		if ordered == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	logger.Info(ctx, "access.roster", "roster.remove",
		slog.Int64("identity_id", id),
		slog.Int("count", len(r.entries)),
	)
	if err := r.save(); err != nil {
		logger.Error(ctx, "access.roster", "snapshot.diverged",
			slog.Int64("identity_id", id),
			slog.String("err", err.Error()),
		)
		return Removed, fmt.Errorf("roster remove %d: %w", id, err)
	}
	return Removed, nil
}

// Clear empties the roster and reports how many entries were removed.
func (r *Roster) Clear(ctx context.Context) (int, error) {
	removed := len(r.entries)
	if removed == 0 {
		return 0, nil
	}
	r.entries = make(map[int64]RosterEntry)
	r.order = nil

	logger.Info(ctx, "access.roster", "roster.clear",
		slog.Int("removed", removed),
	)
	if err := r.save(); err != nil {
		logger.Error(ctx, "access.roster", "snapshot.diverged",
			slog.String("err", err.Error()),
		)
		return removed, fmt.Errorf("roster clear: %w", err)
	}
	return removed, nil
}

// insert mutates the roster without writing the snapshot. Used by the
// verification workflow, which persists the roster together with its own
// records in one SaveAll pass.
func (r *Roster) insert(id, chatID int64, label string) {
	if _, exists := r.entries[id]; exists {
		return
	}
	r.entries[id] = RosterEntry{ID: id, ChatID: chatID, Label: label}
	r.order = append(r.order, id)
}

// Contains reports whether the identity has a roster entry.
func (r *Roster) Contains(id int64) bool {
	_, ok := r.entries[id]
	return ok
}

// Len reports the number of roster entries.
func (r *Roster) Len() int {
	return len(r.entries)
}

// List returns the entries in insertion order.
func (r *Roster) List() []RosterEntry {
	out := make([]RosterEntry, 0, len(r.entries))
	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok {
			out = append(out, entry)
		}
	}
	return out
}

// doc returns the persisted shape of the roster.
func (r *Roster) doc() map[string]rosterEntryDoc {
	doc := make(map[string]rosterEntryDoc, len(r.entries))
	for id, entry := range r.entries {
		doc[strconv.FormatInt(id, 10)] = rosterEntryDoc{
			ChatID: entry.ChatID,
			Label:  entry.Label,
		}
	}
	return doc
}

// document exposes the roster snapshot for combined multi-document saves.
func (r *Roster) document() storage.Document {
	return storage.Document{Name: rosterDoc, Value: r.doc()}
}

func (r *Roster) save() error {
	return r.dir.Save(rosterDoc, r.doc())
}
