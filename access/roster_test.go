package access

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m3rciful/relaybot/core/storage"
)

func testDir(t *testing.T) *storage.Dir {
	t.Helper()
	dir, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	return dir
}

func TestRosterAddIdempotent(t *testing.T) {
	ctx := context.Background()
	roster, err := NewRoster(testDir(t))
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}

	outcome, err := roster.Add(ctx, 42, 4242, "@alice")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if outcome != Added {
		t.Fatalf("first add outcome = %v, want Added", outcome)
	}

	outcome, err = roster.Add(ctx, 42, 4242, "@alice")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if outcome != AlreadyPresent {
		t.Fatalf("second add outcome = %v, want AlreadyPresent", outcome)
	}
	if roster.Len() != 1 {
		t.Fatalf("expected one entry, got %d", roster.Len())
	}
}

func TestRosterRemoveAbsent(t *testing.T) {
	ctx := context.Background()
	roster, err := NewRoster(testDir(t))
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}
	if _, err := roster.Add(ctx, 1, 100, "one"); err != nil {
		t.Fatalf("add: %v", err)
	}

	outcome, err := roster.Remove(ctx, 99)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if outcome != NotPresent {
		t.Fatalf("remove outcome = %v, want NotPresent", outcome)
	}
	if roster.Len() != 1 {
		t.Fatalf("roster changed by absent removal: %d entries", roster.Len())
	}
}

func TestRosterListInsertionOrder(t *testing.T) {
	ctx := context.Background()
	roster, err := NewRoster(testDir(t))
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}
	for _, id := range []int64{30, 10, 20} {
		if _, err := roster.Add(ctx, id, id*10, ""); err != nil {
			t.Fatalf("add %d: %v", id, err)
		}
	}

	got := roster.List()
	want := []int64{30, 10, 20}
	if len(got) != len(want) {
		t.Fatalf("list length = %d, want %d", len(got), len(want))
	}
	for i, entry := range got {
		if entry.ID != want[i] {
			t.Fatalf("list[%d].ID = %d, want %d", i, entry.ID, want[i])
		}
	}
}

func TestRosterClear(t *testing.T) {
	ctx := context.Background()
	roster, err := NewRoster(testDir(t))
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}
	for _, id := range []int64{1, 2, 3} {
		if _, err := roster.Add(ctx, id, id, ""); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	removed, err := roster.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if removed != 3 {
		t.Fatalf("clear removed = %d, want 3", removed)
	}
	if roster.Len() != 0 {
		t.Fatalf("roster not empty after clear")
	}

	removed, err = roster.Clear(ctx)
	if err != nil || removed != 0 {
		t.Fatalf("second clear = (%d, %v), want (0, nil)", removed, err)
	}
}

func TestRosterSnapshotDurability(t *testing.T) {
	ctx := context.Background()
	dir := testDir(t)

	roster, err := NewRoster(dir)
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}
	if _, err := roster.Add(ctx, 42, 4242, "@alice"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := roster.Add(ctx, 7, 777, "@bob"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := roster.Remove(ctx, 7); err != nil {
		t.Fatalf("remove: %v", err)
	}

	reloaded, err := NewRoster(dir)
	if err != nil {
		t.Fatalf("reload roster: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("reloaded roster has %d entries, want 1", reloaded.Len())
	}
	entry := reloaded.List()[0]
	if entry.ID != 42 || entry.ChatID != 4242 || entry.Label != "@alice" {
		t.Fatalf("reloaded entry = %+v", entry)
	}
}

func TestRosterLegacyHandleKeyedMigration(t *testing.T) {
	base := t.TempDir()
	legacy := `{"alice": 4242, "bob": 777}`
	if err := os.WriteFile(filepath.Join(base, "roster.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed legacy roster: %v", err)
	}

	dir, err := storage.Open(base)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	roster, err := NewRoster(dir)
	if err != nil {
		t.Fatalf("new roster: %v", err)
	}

	if roster.Len() != 2 {
		t.Fatalf("expected 2 migrated entries, got %d", roster.Len())
	}
	if !roster.Contains(4242) || !roster.Contains(777) {
		t.Fatalf("migrated ids missing: %+v", roster.List())
	}
	for _, entry := range roster.List() {
		if entry.Label != "alice" && entry.Label != "bob" {
			t.Fatalf("legacy handle not preserved as label: %+v", entry)
		}
	}

	// The normalized document must be rewritten so a second load sees only
	// id-keyed entries.
	reloaded, err := NewRoster(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Len() != 2 || !reloaded.Contains(4242) {
		t.Fatalf("normalized snapshot not persisted: %+v", reloaded.List())
	}
}
