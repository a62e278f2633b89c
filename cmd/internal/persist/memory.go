package persist

import (
	"context"
	"sync"

	"parley/cmd/internal/chat"
)

// MemoryStore keeps the encoded snapshot in memory. It is useful in tests and
// for processes that only need snapshots across engine restarts.
type MemoryStore struct {
	mu     sync.Mutex
	raw    []byte
	saves  int
	closed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Load implements SnapshotStore.
func (s *MemoryStore) Load(ctx context.Context) (chat.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return chat.Snapshot{}, false, err
	}
	s.mu.Lock()
	raw, closed := s.raw, s.closed
	s.mu.Unlock()

	if closed {
		return chat.Snapshot{}, false, ErrClosed
	}
	if raw == nil {
		return chat.Snapshot{}, false, nil
	}
	snap, err := decode(raw)
	if err != nil {
		return chat.Snapshot{}, false, err
	}
	return snap, true, nil
}

// Save implements SnapshotStore.
func (s *MemoryStore) Save(ctx context.Context, snap chat.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.raw = raw
	s.saves++
	return nil
}

// Saves returns the number of successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Close implements SnapshotStore.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
