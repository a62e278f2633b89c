// Package v1 defines the Parley chat stream protocol v1 contract.
//
// It is shared between the server and presentation clients and depends on
// nothing but the standard library, so clients can vendor it alone.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a stream session (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session and carries the display name (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeRoomActivate switches the active room; an empty room id clears it (client -> server).
	TypeRoomActivate = "room_activate"
	// TypeMessageSend appends a user message to the active room (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges a send with the canonical message (server -> client).
	TypeMessageAck = "message_ack"
	// TypeHistoryLoad requests the next older page of the active room (client -> server).
	TypeHistoryLoad = "history_load"

	// TypeEvent forwards one engine notification (server -> client).
	TypeEvent = "event"
	// TypeView carries the active room view after it changed (server -> client).
	TypeView = "view"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Event kinds carried by EventPayload.
const (
	EventRoomListChanged = "room-list-changed"
	EventMessagesChanged = "messages-changed"
	EventTypingChanged   = "typing-changed"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeRoomActivate,
		TypeMessageSend,
		TypeMessageAck,
		TypeHistoryLoad,
		TypeEvent,
		TypeView,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// NewEnvelope marshals payload into an envelope of type typ.
func NewEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{V: Version, Type: typ, ID: id, TS: ts, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing field: payload")
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
type HelloPayload struct{}

// HelloAckPayload identifies the stream session.
type HelloAckPayload struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// RoomActivatePayload selects the active room.
type RoomActivatePayload struct {
	RoomID string `json:"room_id"`
}

// MessageSendPayload appends a message. Kind defaults to "text"; image
// messages carry a data URL in ImageData.
type MessageSendPayload struct {
	RoomID      string `json:"room_id"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	Content     string `json:"content"`
	Kind        string `json:"kind,omitempty"`
	ImageData   string `json:"image_data,omitempty"`
}

// Message is the wire form of one chat message.
type Message struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	ImageData string    `json:"image_data,omitempty"`
}

// MessageAckPayload acknowledges a send request.
type MessageAckPayload struct {
	ClientMsgID string  `json:"client_msg_id,omitempty"`
	Message     Message `json:"message"`
}

// HistoryLoadPayload requests the next older page of RoomID.
type HistoryLoadPayload struct {
	RoomID string `json:"room_id"`
}

// EventPayload is one engine notification.
type EventPayload struct {
	Kind   string `json:"kind"`
	RoomID string `json:"room_id,omitempty"`
	Typing bool   `json:"typing,omitempty"`
}

// Cursor is the pagination state of a view.
type Cursor struct {
	PageIndex int  `json:"page_index"`
	HasMore   bool `json:"has_more"`
	Loading   bool `json:"loading"`
}

// ViewPayload is the active room with its materialized messages.
type ViewPayload struct {
	RoomID   string    `json:"room_id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
	Cursor   Cursor    `json:"cursor"`
	Typing   bool      `json:"typing"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
