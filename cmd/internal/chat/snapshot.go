package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// Snapshot is the serializable engine state: a flat keyed document.
//
// Messages and Cursors are keyed by room id. Only the active room has a
// materialized view, so at most one key is present in each.
type Snapshot struct {
	Version      int                  `json:"version"`
	SavedAt      time.Time            `json:"saved_at"`
	Rooms        []Room               `json:"rooms"`
	ActiveRoomID string               `json:"active_room_id,omitempty"`
	Messages     map[string][]Message `json:"messages"`
	Cursors      map[string]Cursor    `json:"cursors"`
	NextSeq      int64                `json:"next_seq"`
}

// Marshal encodes the snapshot as JSON.
func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot decodes and validates a JSON snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("chat: decode snapshot: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// Validate checks the schema version and ordering invariants.
func (s Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("chat: unsupported snapshot version: got=%d want=%d", s.Version, SnapshotVersion)
	}
	for roomID, msgs := range s.Messages {
		for i, m := range msgs {
			if m.RoomID != roomID {
				return fmt.Errorf("chat: snapshot message %s filed under room %s belongs to %s", m.ID, roomID, m.RoomID)
			}
			if i > 0 && m.Seq <= msgs[i-1].Seq {
				return fmt.Errorf("chat: snapshot messages of room %s out of order at %d", roomID, i)
			}
		}
	}
	return nil
}

// Snapshot captures the current state. In-flight timers are not part of it.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Version:  SnapshotVersion,
		SavedAt:  e.clock.Now(),
		Rooms:    e.dir.List(),
		Messages: make(map[string][]Message),
		Cursors:  make(map[string]Cursor),
		NextSeq:  e.store.nextSeq,
	}
	if id := e.sel.Current(); id != "" {
		s.ActiveRoomID = id
		s.Messages[id] = e.store.Messages()
		c := e.store.Cursor()
		c.Loading = false
		s.Cursors[id] = c
	}
	return s
}

// Restore replaces the whole state with s. Outstanding timers are cancelled
// and typing state is cleared. An active room that no longer exists is dropped.
func (e *Engine) Restore(s Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dir := NewDirectory()
	if err := dir.restore(s.Rooms); err != nil {
		return err
	}

	e.cancelTasks()
	for _, roomID := range e.sim.typingRooms() {
		e.typingChanged(roomID, false)
	}
	e.sim.reset()
	*e.dir = *dir

	active := s.ActiveRoomID
	if active != "" && !dir.Exists(active) {
		e.log.Warn("snapshot.restore.active_missing", "room_id", active)
		active = ""
	}

	cursor := Cursor{HasMore: true}
	var msgs []Message
	if active != "" {
		msgs = append([]Message(nil), s.Messages[active]...)
		if c, ok := s.Cursors[active]; ok {
			cursor = Cursor{PageIndex: c.PageIndex, HasMore: c.HasMore}
		}
	}
	e.store.restore(active, msgs, cursor, s.NextSeq)
	e.sel.current = active

	e.metrics.roomsRestored(dir.Len())
	e.metrics.typingCycles(0)
	e.log.Info("snapshot.restore", "rooms", dir.Len(), "active_room_id", active, "messages", len(msgs))

	e.emit(Event{Kind: EventRoomListChanged})
	if active != "" {
		e.emit(Event{Kind: EventMessagesChanged, RoomID: active})
	}
	return nil
}

func (s *MessageStore) restore(roomID string, msgs []Message, cursor Cursor, nextSeq int64) {
	s.roomID = roomID
	s.msgs = msgs
	s.cursor = cursor
	s.loading = make(map[string]struct{})

	if nextSeq < 1 {
		nextSeq = 1
	}
	if n := len(msgs); n > 0 && msgs[n-1].Seq >= nextSeq {
		nextSeq = msgs[n-1].Seq + 1
	}
	s.nextSeq = nextSeq
}
