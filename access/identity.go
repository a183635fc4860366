package access

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/storage"
	"log/slog"
)

// identityStoreDoc is the snapshot document name for the identity store.
const identityStoreDoc = "identity_store.json"

// Identity describes a sender or recipient known to the bot. Identities are
// keyed by the numeric Telegram user id and are never deleted.
type Identity struct {
	ID        int64
	Username  string
	FullName  string
	ChatID    int64
	StartTime time.Time
}

// Handle returns the @-handle when a username is known, otherwise the id.
func (i Identity) Handle() string {
	if i.Username != "" {
		return "@" + i.Username
	}
	return strconv.FormatInt(i.ID, 10)
}

type identityDoc struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	ChatID    int64     `json:"chat_id"`
	StartTime time.Time `json:"start_time"`
}

// IdentityStore is the durable, append-only record of every user that has
// ever contacted the bot.
type IdentityStore struct {
	dir   *storage.Dir
	users map[int64]Identity
}

// NewIdentityStore loads the identity snapshot from the data directory. A
// missing document yields an empty store.
func NewIdentityStore(dir *storage.Dir) (*IdentityStore, error) {
	s := &IdentityStore{
		dir:   dir,
		users: make(map[int64]Identity),
	}

	var doc map[string]identityDoc
	switch err := dir.Load(identityStoreDoc, &doc); err {
	case nil:
	case storage.ErrNotFound:
		return s, nil
	default:
		return nil, fmt.Errorf("identity store: %w", err)
	}

	for key, entry := range doc {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logger.ACCESS.Warn("skipping malformed identity key",
				slog.String("event", "identity.load"),
				slog.String("key", logger.SanitizeLimit(key, 64)),
			)
			continue
		}
		s.users[id] = Identity{
			ID:        id,
			Username:  strings.TrimPrefix(entry.Username, "@"),
			FullName:  entry.FullName,
			ChatID:    entry.ChatID,
			StartTime: entry.StartTime,
		}
	}

	logger.ACCESS.Info("identity store loaded",
		slog.String("event", "identity.load"),
		slog.Int("count", len(s.users)),
	)
	return s, nil
}

// RecordContact upserts the identity observed on an inbound event and writes
// the snapshot through. The first contact timestamp is preserved across
// updates. A persistence failure is returned to the caller; the in-memory
// record is kept either way.
func (s *IdentityStore) RecordContact(ctx context.Context, id int64, username, fullName string, chatID int64) (Identity, error) {
	username = strings.TrimPrefix(username, "@")

	ident, known := s.users[id]
	if !known {
		ident = Identity{ID: id, StartTime: time.Now().UTC()}
	}
	changed := !known ||
		ident.Username != username ||
		ident.FullName != fullName ||
		ident.ChatID != chatID
	ident.Username = username
	ident.FullName = fullName
	ident.ChatID = chatID
	s.users[id] = ident

	if !changed {
		return ident, nil
	}

	logger.Debug(ctx, "access.identity", "contact.recorded",
		slog.Int64("identity_id", id),
		slog.Bool("first_contact", !known),
	)
	if err := s.dir.Save(identityStoreDoc, s.doc()); err != nil {
		logger.Error(ctx, "access.identity", "snapshot.diverged",
			slog.Int64("identity_id", id),
			slog.String("err", err.Error()),
		)
		return ident, fmt.Errorf("record contact %d: %w", id, err)
	}
	return ident, nil
}

// Lookup returns the identity for the given id.
func (s *IdentityStore) Lookup(id int64) (Identity, bool) {
	ident, ok := s.users[id]
	return ident, ok
}

// LookupHandle resolves a display handle (with or without the leading @)
// to an identity. Handles are not unique over time; the match is the
// last-recorded identity carrying the handle.
func (s *IdentityStore) LookupHandle(username string) (Identity, bool) {
	username = strings.TrimPrefix(username, "@")
	if username == "" {
		return Identity{}, false
	}
	for _, ident := range s.users {
		if strings.EqualFold(ident.Username, username) {
			return ident, true
		}
	}
	return Identity{}, false
}

// Len reports the number of known identities.
func (s *IdentityStore) Len() int {
	return len(s.users)
}

// All returns every known identity ordered by id.
func (s *IdentityStore) All() []Identity {
	out := make([]Identity, 0, len(s.users))
	for _, ident := range s.users {
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *IdentityStore) doc() map[string]identityDoc {
	doc := make(map[string]identityDoc, len(s.users))
	for id, ident := range s.users {
		doc[strconv.FormatInt(id, 10)] = identityDoc{
			Username:  ident.Username,
			FullName:  ident.FullName,
			ChatID:    ident.ChatID,
			StartTime: ident.StartTime,
		}
	}
	return doc
}
