package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"parley/cmd/internal/chat"
)

// FileStore writes the snapshot as a JSON file, replacing it atomically with a
// temp file and rename.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path. Parent directories are created
// on the first save.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("persist: empty snapshot path")
	}
	return &FileStore{path: filepath.Clean(path)}, nil
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string { return s.path }

// Load implements SnapshotStore.
func (s *FileStore) Load(ctx context.Context) (chat.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return chat.Snapshot{}, false, err
	}

	raw, err := os.ReadFile(s.path) // #nosec G304 - path comes from configuration
	if errors.Is(err, os.ErrNotExist) {
		return chat.Snapshot{}, false, nil
	}
	if err != nil {
		return chat.Snapshot{}, false, fmt.Errorf("persist: read snapshot: %w", err)
	}

	snap, err := decode(raw)
	if err != nil {
		return chat.Snapshot{}, false, err
	}
	return snap, true, nil
}

// Save implements SnapshotStore.
func (s *FileStore) Save(ctx context.Context, snap chat.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encode(snap)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("persist: create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("persist: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("persist: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("persist: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("persist: replace snapshot: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
