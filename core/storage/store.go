package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/m3rciful/relaybot/core/logger"
	"log/slog"
)

// ErrNotFound indicates that a snapshot document does not exist yet.
var ErrNotFound = errors.New("storage: document not found")

// Dir is a handle to the directory holding the snapshot documents. Every
// mutating domain operation writes through it before reporting success.
type Dir struct {
	path string
}

// Open ensures the data directory exists and returns a handle to it.
func Open(path string) (*Dir, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: empty directory path")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir %s: %w", path, err)
	}
	logger.STORE.Info("storage ready",
		slog.String("event", "storage.open"),
		slog.String("dir", path),
	)
	return &Dir{path: path}, nil
}

// Path returns the location of a named document inside the data directory.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.path, name)
}

// Load reads a JSON document into v. A missing file returns ErrNotFound so
// callers can start from an empty aggregate on first run.
func (d *Dir) Load(name string, v interface{}) error {
	data, err := os.ReadFile(d.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("storage: decode %s: %w", name, err)
	}
	return nil
}

// Save writes a JSON document atomically: the full new content goes to a
// temporary file in the same directory which is then renamed over the
// previous snapshot.
func (d *Dir) Save(name string, v interface{}) error {
	start := time.Now()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", name, err)
	}

	target := d.Path(name)
	tmp, err := os.CreateTemp(d.path, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: replace %s: %w", name, err)
	}

	logger.STORE.Debug("snapshot written",
		slog.String("event", "storage.save"),
		slog.String("doc", name),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Document pairs a snapshot name with the value to persist.
type Document struct {
	Name  string
	Value interface{}
}

// SaveAll persists several documents in one pass, attempting every document
// even if an earlier one fails, and aggregates failures.
func (d *Dir) SaveAll(docs ...Document) error {
	var result *multierror.Error
	for _, doc := range docs {
		if err := d.Save(doc.Name, doc.Value); err != nil {
			logger.STORE.Error("snapshot write failed",
				slog.String("event", "storage.save"),
				slog.String("doc", doc.Name),
				slog.String("err", err.Error()),
			)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
