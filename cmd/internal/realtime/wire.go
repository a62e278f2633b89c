package realtime

import (
	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/chat/v1"
)

func toWireMessage(m chat.Message) v1.Message {
	return v1.Message{
		ID:        m.ID,
		Seq:       m.Seq,
		RoomID:    m.RoomID,
		Content:   m.Content,
		Kind:      string(m.Kind),
		Sender:    string(m.Sender),
		Timestamp: m.Timestamp,
		ImageData: m.ImageData,
	}
}

func toWireView(v chat.View) v1.ViewPayload {
	msgs := make([]v1.Message, 0, len(v.Messages))
	for _, m := range v.Messages {
		msgs = append(msgs, toWireMessage(m))
	}
	return v1.ViewPayload{
		RoomID:   v.Room.ID,
		Title:    v.Room.Title,
		Messages: msgs,
		Cursor: v1.Cursor{
			PageIndex: v.Cursor.PageIndex,
			HasMore:   v.Cursor.HasMore,
			Loading:   v.Cursor.Loading,
		},
		Typing: v.Typing,
	}
}

func toWireEvent(ev chat.Event) v1.EventPayload {
	return v1.EventPayload{
		Kind:   string(ev.Kind),
		RoomID: ev.RoomID,
		Typing: ev.Typing,
	}
}

func toAppendInput(p v1.MessageSendPayload) chat.AppendInput {
	kind := chat.Kind(p.Kind)
	if p.Kind == "" {
		kind = chat.KindText
	}
	return chat.AppendInput{
		RoomID:    p.RoomID,
		Content:   p.Content,
		Kind:      kind,
		Sender:    chat.SenderUser,
		ImageData: p.ImageData,
	}
}
