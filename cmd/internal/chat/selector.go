package chat

import "time"

// Selector tracks which room is active. It is the single writer of that
// pointer and forwards every change to the MessageStore.
type Selector struct {
	current string
	store   *MessageStore
}

// NewSelector returns a selector with no active room.
func NewSelector(store *MessageStore) *Selector {
	return &Selector{store: store}
}

// Current returns the active room id, "" when none.
func (s *Selector) Current() string { return s.current }

// Activate makes roomID the active room and resets the store's view.
// An empty roomID clears the selection.
func (s *Selector) Activate(roomID string, now time.Time) {
	s.current = roomID
	s.store.Reset(roomID, now)
}

// Forget clears the pointer when it targets roomID. The store view is cleared
// by its own cascade.
func (s *Selector) Forget(roomID string) bool {
	if roomID == "" || s.current != roomID {
		return false
	}
	s.current = ""
	return true
}
