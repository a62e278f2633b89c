// Package persist stores chat engine snapshots.
//
// A SnapshotStore is a sink for the whole engine document, keyed by name. One
// process owns the state; stores never merge or partially update a snapshot.
package persist

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"parley/cmd/internal/chat"
)

// DefaultKey is the snapshot key used when none is configured.
const DefaultKey = "parley:chat-storage"

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("persist: store closed")

// SnapshotStore loads and saves engine snapshots.
//
// Requirements:
//   - Save replaces the stored document atomically: a concurrent Load sees the
//     old or the new snapshot, never a mix.
//   - Load reports found=false without error when nothing was saved yet.
type SnapshotStore interface {
	Load(ctx context.Context) (snap chat.Snapshot, found bool, err error)
	Save(ctx context.Context, snap chat.Snapshot) error
	Close() error
}

func encode(snap chat.Snapshot) ([]byte, error) {
	raw, err := snap.Marshal()
	if err != nil {
		return nil, fmt.Errorf("persist: encode snapshot: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (chat.Snapshot, error) {
	snap, err := chat.UnmarshalSnapshot(raw)
	if err != nil {
		return chat.Snapshot{}, fmt.Errorf("persist: %w", err)
	}
	return snap, nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	if len(key) > 200 {
		return "", errors.New("persist: key too long")
	}
	return key, nil
}

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidIdent(s string) bool {
	return identRE.MatchString(s)
}
