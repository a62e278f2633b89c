package v1

import (
	"strings"
	"testing"
	"time"
)

func TestEnvelope_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		env  Envelope
		want string
	}{
		{name: "ok", env: Envelope{V: Version, Type: TypeHello}},
		{name: "missing version", env: Envelope{Type: TypeHello}, want: "missing field: v"},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeHello}, want: "unsupported protocol version"},
		{name: "missing type", env: Envelope{V: Version, Type: " "}, want: "missing field: type"},
		{name: "unknown type", env: Envelope{V: Version, Type: "conversation_join"}, want: "unknown type"},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if tc.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected err=%v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v want containing %q", tc.name, err, tc.want)
		}
	}
}

func TestEnvelope_PayloadRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(TypeMessageSend, "e1", ts, MessageSendPayload{RoomID: "r1", Content: "hi"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var p MessageSendPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.RoomID != "r1" || p.Content != "hi" {
		t.Fatalf("payload=%+v", p)
	}

	empty := Envelope{V: Version, Type: TypeHistoryLoad}
	if err := empty.Decode(&HistoryLoadPayload{}); err == nil {
		t.Fatalf("expected missing payload error")
	}
}
