package chat

import (
	"strings"
	"testing"
	"time"
)

func TestSnapshot_RoundTripRestoresState(t *testing.T) {
	t.Parallel()

	src, clk := newTestEngine(t)
	a := mustRoom(t, src, "Alpha", "first")
	b := mustRoom(t, src, "Beta", "second")
	mustActivate(t, src, a.ID)
	if _, err := src.Send(a.ID, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	clk.Advance(4 * time.Second)
	if _, err := src.LoadOlderPage(a.ID); err != nil {
		t.Fatalf("LoadOlderPage: %v", err)
	}
	clk.Advance(time.Second)

	raw, err := src.Snapshot().Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	snap, err := UnmarshalSnapshot(raw)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}

	dst, dclk := newTestEngine(t)
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	rooms := dst.Rooms()
	if len(rooms) != 2 || rooms[0].ID != b.ID || rooms[1].ID != a.ID {
		t.Fatalf("rooms=%+v", rooms)
	}
	if rooms[1].MessageCount != 2 || rooms[1].LastMessageAt == nil {
		t.Fatalf("room summary=%+v", rooms[1])
	}
	if dst.ActiveRoom() != a.ID {
		t.Fatalf("active=%q want=%q", dst.ActiveRoom(), a.ID)
	}

	want, got := src.Messages(), dst.Messages()
	if len(got) != len(want) {
		t.Fatalf("messages=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Seq != want[i].Seq || !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Fatalf("message %d=%+v want=%+v", i, got[i], want[i])
		}
	}
	if c := dst.Cursor(); c != src.Cursor() {
		t.Fatalf("cursor=%+v want=%+v", c, src.Cursor())
	}

	// New appends continue after the restored tail.
	m, err := dst.Send(a.ID, "after restore")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Seq <= want[len(want)-1].Seq {
		t.Fatalf("seq %d not after restored tail %d", m.Seq, want[len(want)-1].Seq)
	}
	dclk.Advance(4 * time.Second)
	if r, _ := dst.Room(a.ID); r.MessageCount != 4 {
		t.Fatalf("count=%d want=4", r.MessageCount)
	}
}

func TestSnapshot_RestoreCancelsPendingWork(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	r := mustRoom(t, e, "Busy", "timers")
	mustActivate(t, e, r.ID)
	if _, err := e.Send(r.ID, "pending"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	clk.Advance(600 * time.Millisecond)
	if !e.Typing(r.ID) {
		t.Fatalf("expected typing")
	}

	if err := e.Restore(Snapshot{Version: SnapshotVersion}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if e.AnyTyping() || e.PendingReplies() != 0 || clk.Pending() != 0 {
		t.Fatalf("pending work survived restore")
	}
	if len(e.Rooms()) != 0 || e.ActiveRoom() != "" {
		t.Fatalf("state survived restore")
	}
}

func TestSnapshot_RestoreDropsMissingActiveRoom(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	snap := Snapshot{
		Version:      SnapshotVersion,
		Rooms:        []Room{{ID: "r1", Title: "One", Description: "d"}},
		ActiveRoomID: "gone",
	}
	if err := e.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if e.ActiveRoom() != "" {
		t.Fatalf("active=%q want empty", e.ActiveRoom())
	}
}

func TestSnapshot_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		snap Snapshot
		want string
	}{
		{name: "version", snap: Snapshot{Version: 9}, want: "version"},
		{
			name: "wrong room",
			snap: Snapshot{Version: SnapshotVersion, Messages: map[string][]Message{"a": {{ID: "m", RoomID: "b"}}}},
			want: "belongs to",
		},
		{
			name: "order",
			snap: Snapshot{Version: SnapshotVersion, Messages: map[string][]Message{"a": {{RoomID: "a", Seq: 2}, {RoomID: "a", Seq: 2}}}},
			want: "out of order",
		},
	}
	for _, tc := range cases {
		err := tc.snap.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v want containing %q", tc.name, err, tc.want)
		}
	}

	e, _ := newTestEngine(t)
	dup := Snapshot{Version: SnapshotVersion, Rooms: []Room{{ID: "x"}, {ID: "x"}}}
	if err := e.Restore(dup); err == nil {
		t.Fatalf("expected duplicate room error")
	}

	if _, err := UnmarshalSnapshot([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRestore_ClearsTypingForSubscribers(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	r := mustRoom(t, e, "Typing", "restore mid-cycle")
	mustActivate(t, e, r.ID)
	if _, err := e.Send(r.ID, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	sub := e.Subscribe(256)
	defer e.Unsubscribe(sub.ID)

	clk.Advance(600 * time.Millisecond)
	if !e.Typing(r.ID) {
		t.Fatalf("typing=false before restore")
	}
	drain(sub)

	if err := e.Restore(e.Snapshot()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	evs := drain(sub)
	var typingOff bool
	for _, ev := range evs {
		if ev.Kind == EventTypingChanged && ev.RoomID == r.ID && !ev.Typing {
			typingOff = true
		}
	}
	if !typingOff {
		t.Fatalf("restore events=%+v want typing-changed off for %s", evs, r.ID)
	}
	if e.Typing(r.ID) || e.AnyTyping() {
		t.Fatalf("typing=%v any=%v after restore", e.Typing(r.ID), e.AnyTyping())
	}

	clk.Advance(10 * time.Second)
	if n := countKind(drain(sub), EventTypingChanged); n != 0 {
		t.Fatalf("typing events after restore=%d want=0", n)
	}
}
