package access

import (
	"context"
	"testing"
)

func TestRecordContactUpsert(t *testing.T) {
	ctx := context.Background()
	dir := testDir(t)

	store, err := NewIdentityStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	first, err := store.RecordContact(ctx, 42, "@alice", "Alice A", 4242)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Username != "alice" {
		t.Fatalf("leading @ not stripped: %q", first.Username)
	}
	if first.StartTime.IsZero() {
		t.Fatal("first contact timestamp not set")
	}

	second, err := store.RecordContact(ctx, 42, "alice_new", "Alice A", 4242)
	if err != nil {
		t.Fatalf("record update: %v", err)
	}
	if second.Username != "alice_new" {
		t.Fatalf("handle not updated: %q", second.Username)
	}
	if !second.StartTime.Equal(first.StartTime) {
		t.Fatal("first contact timestamp must be preserved on update")
	}
	if store.Len() != 1 {
		t.Fatalf("expected single identity, got %d", store.Len())
	}
}

func TestIdentityLookup(t *testing.T) {
	ctx := context.Background()
	store, err := NewIdentityStore(testDir(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.RecordContact(ctx, 42, "alice", "Alice", 4242); err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, ok := store.Lookup(42); !ok {
		t.Fatal("expected 42 to be known")
	}
	if _, ok := store.Lookup(99); ok {
		t.Fatal("expected 99 to be unknown")
	}

	ident, ok := store.LookupHandle("@Alice")
	if !ok || ident.ID != 42 {
		t.Fatalf("handle lookup = (%+v, %v)", ident, ok)
	}
	if _, ok := store.LookupHandle("nobody"); ok {
		t.Fatal("expected unknown handle to miss")
	}
}

func TestIdentityStorePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := testDir(t)

	store, err := NewIdentityStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	recorded, err := store.RecordContact(ctx, 42, "alice", "Alice A", 4242)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	reloaded, err := NewIdentityStore(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	ident, ok := reloaded.Lookup(42)
	if !ok {
		t.Fatal("identity lost across restart")
	}
	if ident.Username != "alice" || ident.FullName != "Alice A" || ident.ChatID != 4242 {
		t.Fatalf("reloaded identity = %+v", ident)
	}
	if !ident.StartTime.Equal(recorded.StartTime) {
		t.Fatalf("start time changed across restart: %v != %v", ident.StartTime, recorded.StartTime)
	}
}
