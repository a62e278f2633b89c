// Package chat is parley's conversation state engine.
//
// It owns the room directory, the materialized message log of the active room,
// history pagination, and the simulated assistant that answers user messages.
// All mutations are serialized by Engine; the component types in this package
// are not safe for concurrent use on their own.
package chat

import "time"

// Kind is the message content kind.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindText || k == KindImage
}

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// Room is a named conversation thread with summary metadata.
type Room struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessage   string     `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	MessageCount  int64      `json:"message_count"`
}

// Message is an immutable unit of conversation content.
//
// Seq is the issuance sequence that defines order within a materialized list.
// Appended messages take increasing values; history pages take values below
// the current head.
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	ImageData string    `json:"image_data,omitempty"`
}

// Cursor is the pagination state of a room view.
type Cursor struct {
	PageIndex int  `json:"page_index"`
	HasMore   bool `json:"has_more"`
	Loading   bool `json:"loading"`
}

// AppendInput describes a message append request.
type AppendInput struct {
	RoomID    string
	Content   string
	Kind      Kind
	Sender    Sender
	ImageData string
}

// View is a read-only copy of the active room as seen by the presentation layer.
type View struct {
	Room     Room      `json:"room"`
	Messages []Message `json:"messages"`
	Cursor   Cursor    `json:"cursor"`
	Typing   bool      `json:"typing"`
}
