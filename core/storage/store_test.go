package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sampleDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	in := sampleDoc{Name: "roster", Count: 3}
	if err := dir.Save("sample.json", in); err != nil {
		t.Fatalf("save: %v", err)
	}

	var out sampleDoc
	if err := dir.Load("sample.json", &out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestLoadMissingDocument(t *testing.T) {
	dir, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var out sampleDoc
	if err := dir.Load("absent.json", &out); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveReplacesFullContent(t *testing.T) {
	dir, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := dir.Save("doc.json", map[string]int{"a": 1, "b": 2}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := dir.Save("doc.json", map[string]int{"c": 3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	var out map[string]int
	if err := dir.Load("doc.json", &out); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 1 || out["c"] != 3 {
		t.Fatalf("expected full rewrite, got %v", out)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	base := t.TempDir()
	dir, err := Open(base)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := dir.Save("doc.json", sampleDoc{Name: "x"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "doc.json" {
			t.Fatalf("unexpected leftover file %s", e.Name())
		}
	}
}

func TestSaveAllAggregatesFailures(t *testing.T) {
	dir, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// A channel cannot be marshalled, forcing a per-document failure.
	err = dir.SaveAll(
		Document{Name: "good.json", Value: sampleDoc{Name: "ok"}},
		Document{Name: "bad.json", Value: make(chan int)},
	)
	if err == nil {
		t.Fatal("expected aggregated error")
	}

	var out sampleDoc
	if err := dir.Load("good.json", &out); err != nil {
		t.Fatalf("good document should still be written: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir.path, "bad.json")); !os.IsNotExist(statErr) {
		t.Fatal("bad document should not exist")
	}
}
