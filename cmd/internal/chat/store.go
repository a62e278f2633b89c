package chat

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// AppendListener observes every message appended to a room, materialized or not.
type AppendListener interface {
	OnMessageAppended(m Message)
}

// MessageStore is the authoritative ordered log of the active room view and the
// pagination protocol over it.
//
// Requirements:
//   - Materialized messages are strictly ascending by Seq (and by Timestamp).
//   - Appends extend the tail, page loads prepend to the head.
//   - At most one page load in flight per room.
type MessageStore struct {
	cfg Config

	roomID string // owner of the materialized view; "" when no room is active
	msgs   []Message
	cursor Cursor

	loading map[string]struct{} // rooms with a page load in flight
	nextSeq int64               // next tail seq, always > every issued tail seq

	listeners []AppendListener
}

// NewMessageStore constructs an empty store.
func NewMessageStore(cfg Config) *MessageStore {
	return &MessageStore{
		cfg:     cfg,
		cursor:  Cursor{HasMore: true},
		loading: make(map[string]struct{}),
		nextSeq: 1,
	}
}

// Listen registers an append listener. Listeners run in registration order.
func (s *MessageStore) Listen(l AppendListener) {
	if l != nil {
		s.listeners = append(s.listeners, l)
	}
}

// RoomID returns the room that owns the materialized view.
func (s *MessageStore) RoomID() string { return s.roomID }

// Messages returns a copy of the materialized messages in order.
func (s *MessageStore) Messages() []Message {
	return append([]Message(nil), s.msgs...)
}

// Cursor returns the pagination cursor of the active view.
func (s *MessageStore) Cursor() Cursor {
	c := s.cursor
	if s.roomID != "" {
		_, c.Loading = s.loading[s.roomID]
	}
	return c
}

// Reset clears the view and makes roomID its owner. A non-empty roomID gets
// page 0 materialized synchronously.
func (s *MessageStore) Reset(roomID string, now time.Time) {
	s.roomID = roomID
	s.msgs = nil
	s.cursor = Cursor{PageIndex: 0, HasMore: true}

	if roomID == "" {
		return
	}
	s.prependPage(now)
}

// Append validates in and appends it to the tail of the active view.
// It fails with ErrInvalidState when in.RoomID is not the active room.
func (s *MessageStore) Append(in AppendInput, now time.Time) (Message, error) {
	const op = "chat.Append"

	in, err := normalizeAppend(op, in)
	if err != nil {
		return Message{}, err
	}
	if s.roomID == "" {
		return Message{}, invalidStateErr(op, "no active room")
	}
	if in.RoomID != s.roomID {
		return Message{}, invalidStateErr(op, fmt.Sprintf("room %s is not active", in.RoomID))
	}
	return s.commit(in, now, true), nil
}

// Deliver records a message for roomID whether or not it is the active room.
// It is materialized only when roomID owns the view; listeners always run.
// Callers must check that the room exists.
func (s *MessageStore) Deliver(in AppendInput, now time.Time) (Message, bool, error) {
	in, err := normalizeAppend("chat.Deliver", in)
	if err != nil {
		return Message{}, false, err
	}
	materialize := in.RoomID == s.roomID
	return s.commit(in, now, materialize), materialize, nil
}

func (s *MessageStore) commit(in AppendInput, now time.Time, materialize bool) Message {
	ts := now
	if materialize && len(s.msgs) > 0 {
		if last := s.msgs[len(s.msgs)-1].Timestamp; !ts.After(last) {
			ts = last.Add(time.Nanosecond)
		}
	}

	m := Message{
		ID:        NewID(ts),
		Seq:       s.nextSeq,
		RoomID:    in.RoomID,
		Content:   in.Content,
		Kind:      in.Kind,
		Sender:    in.Sender,
		Timestamp: ts,
		ImageData: in.ImageData,
	}
	s.nextSeq++

	if materialize {
		s.msgs = append(s.msgs, m)
	}
	for _, l := range s.listeners {
		l.OnMessageAppended(m)
	}
	return m
}

// BeginLoad marks a page load in flight for roomID.
// It returns false without error when there is nothing to do: no more pages or
// a load already in flight.
func (s *MessageStore) BeginLoad(roomID string) (bool, error) {
	const op = "chat.LoadOlderPage"

	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return false, validationErr(op, "missing room id")
	}
	if roomID != s.roomID {
		return false, invalidStateErr(op, fmt.Sprintf("room %s is not active", roomID))
	}
	if !s.cursor.HasMore {
		return false, nil
	}
	if _, busy := s.loading[roomID]; busy {
		return false, nil
	}
	s.loading[roomID] = struct{}{}
	return true, nil
}

// CompleteLoad ends the in-flight load of roomID and materializes the next page
// when roomID still owns the view. It returns the number of prepended messages.
func (s *MessageStore) CompleteLoad(roomID string, now time.Time) int {
	delete(s.loading, roomID)
	if roomID == "" || roomID != s.roomID || !s.cursor.HasMore {
		return 0
	}
	return s.prependPage(now)
}

// DeleteRoomMessages drops every message of roomID and its in-flight load.
// It reports whether roomID owned the view; the view is then cleared.
func (s *MessageStore) DeleteRoomMessages(roomID string) bool {
	delete(s.loading, roomID)
	if roomID == "" || roomID != s.roomID {
		return false
	}
	s.roomID = ""
	s.msgs = nil
	s.cursor = Cursor{HasMore: true}
	return true
}

// prependPage synthesizes page cursor.PageIndex and prepends it.
func (s *MessageStore) prependPage(now time.Time) int {
	page := synthesizePage(s.roomID, s.cursor.PageIndex, s.cfg.PageSize, s.headTime(now), s.headSeq())
	s.msgs = append(page, s.msgs...)
	s.cursor.PageIndex++
	s.cursor.HasMore = s.cursor.PageIndex < s.cfg.MaxPages
	return len(page)
}

func (s *MessageStore) headTime(now time.Time) time.Time {
	if len(s.msgs) == 0 {
		return now
	}
	return s.msgs[0].Timestamp
}

func (s *MessageStore) headSeq() int64 {
	if len(s.msgs) == 0 {
		return s.nextSeq
	}
	return s.msgs[0].Seq
}

// synthesizePage fabricates one page of history strictly older than anchor and
// with seq values strictly below head. The page is built newest-first and
// returned in chronological order.
func synthesizePage(roomID string, page, size int, anchor time.Time, head int64) []Message {
	out := make([]Message, 0, size)
	for i := 0; i < size; i++ {
		idx := page*size + i
		ts := anchor.Add(-time.Duration(i+1) * time.Minute)

		m := Message{
			ID:        NewID(ts),
			Seq:       head - int64(i+1),
			RoomID:    roomID,
			Kind:      KindText,
			Timestamp: ts,
		}
		if idx%2 == 0 {
			m.Sender = SenderUser
			m.Content = fmt.Sprintf("User message %d: This is a sample user message to demonstrate the chat history.", idx+1)
		} else {
			m.Sender = SenderAssistant
			m.Content = fmt.Sprintf("AI response %d: This is a sample AI response to demonstrate the conversation flow.", idx+1)
		}
		out = append(out, m)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func normalizeAppend(op string, in AppendInput) (AppendInput, error) {
	in.RoomID = strings.TrimSpace(in.RoomID)
	in.Content = strings.TrimSpace(in.Content)

	if in.RoomID == "" {
		return in, validationErr(op, "missing room id")
	}
	if in.Kind == "" {
		in.Kind = KindText
	}
	if !in.Kind.Valid() {
		return in, validationErr(op, fmt.Sprintf("unknown kind %q", in.Kind))
	}
	if !in.Sender.Valid() {
		return in, validationErr(op, fmt.Sprintf("unknown sender %q", in.Sender))
	}
	if in.Content == "" {
		return in, validationErr(op, "empty content")
	}
	if utf8.RuneCountInString(in.Content) > maxMessageChars {
		return in, validationErr(op, fmt.Sprintf("content too long: max=%d chars", maxMessageChars))
	}

	switch in.Kind {
	case KindImage:
		if !strings.HasPrefix(in.ImageData, "data:image/") {
			return in, validationErr(op, "image data must be a data:image/ URL")
		}
		if len(in.ImageData) > maxImageBytes {
			return in, validationErr(op, fmt.Sprintf("image too large: max=%d bytes", maxImageBytes))
		}
	case KindText:
		if in.ImageData != "" {
			return in, validationErr(op, "text message with image data")
		}
	}
	return in, nil
}
