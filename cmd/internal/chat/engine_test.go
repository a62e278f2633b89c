package chat

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *ManualClock) {
	t.Helper()

	clk := NewManualClock(time.Time{})
	base := []Option{WithClock(clk), WithRand(rand.New(rand.NewPCG(1, 2)))}
	e, err := NewEngine(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e, clk
}

func mustRoom(t *testing.T, e *Engine, title, desc string) Room {
	t.Helper()
	r, err := e.CreateRoom(title, desc)
	if err != nil {
		t.Fatalf("CreateRoom(%q): %v", title, err)
	}
	return r
}

func mustActivate(t *testing.T, e *Engine, roomID string) {
	t.Helper()
	if err := e.ActivateRoom(roomID); err != nil {
		t.Fatalf("ActivateRoom(%s): %v", roomID, err)
	}
}

func repliesAfter(msgs []Message, seq int64) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Sender == SenderAssistant && m.Seq > seq {
			out = append(out, m)
		}
	}
	return out
}

func TestEngine_SendReceivesOneReply(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	r := mustRoom(t, e, "Test", "D")
	mustActivate(t, e, r.ID)

	hi, err := e.Send(r.ID, "Hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := e.ReplyPhase(hi.ID); got != PhaseTypingScheduled {
		t.Fatalf("phase=%q want=%q", got, PhaseTypingScheduled)
	}
	if e.Typing(r.ID) {
		t.Fatalf("typing before typing delay")
	}

	clk.Advance(500 * time.Millisecond)
	if !e.Typing(r.ID) || !e.AnyTyping() {
		t.Fatalf("expected typing after typing delay")
	}
	if got := e.ReplyPhase(hi.ID); got != PhaseTyping {
		t.Fatalf("phase=%q want=%q", got, PhaseTyping)
	}

	clk.Advance(3 * time.Second)
	if e.Typing(r.ID) || e.AnyTyping() {
		t.Fatalf("typing still on after reply")
	}
	if got := e.PendingReplies(); got != 0 {
		t.Fatalf("pending replies=%d want=0", got)
	}

	replies := repliesAfter(e.Messages(), hi.Seq)
	if len(replies) != 1 {
		t.Fatalf("replies=%d want=1", len(replies))
	}
	reply := replies[0]
	if reply.RoomID != r.ID || reply.Content == "" {
		t.Fatalf("bad reply: %+v", reply)
	}

	room, ok := e.Room(r.ID)
	if !ok {
		t.Fatalf("room missing")
	}
	if room.MessageCount != 2 {
		t.Fatalf("message count=%d want=2", room.MessageCount)
	}
	want := string([]rune(reply.Content)[:50]) + "…"
	if room.LastMessage != want {
		t.Fatalf("last message=%q want=%q", room.LastMessage, want)
	}
	if room.LastMessageAt == nil || !room.LastMessageAt.Equal(reply.Timestamp) {
		t.Fatalf("last message at=%v want=%v", room.LastMessageAt, reply.Timestamp)
	}
}

func TestEngine_AppendKeepsSeqOrder(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	r := mustRoom(t, e, "Order", "seq")
	mustActivate(t, e, r.ID)

	for i := 0; i < 10; i++ {
		if _, err := e.Send(r.ID, strings.Repeat("x", i+1)); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		if i%3 == 0 {
			clk.Advance(700 * time.Millisecond)
		}
	}
	if _, err := e.LoadOlderPage(r.ID); err != nil {
		t.Fatalf("LoadOlderPage: %v", err)
	}
	clk.Advance(10 * time.Second)

	msgs := e.Messages()
	if len(msgs) != 2*20+10+10 {
		t.Fatalf("messages=%d want=%d", len(msgs), 60)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq <= msgs[i-1].Seq {
			t.Fatalf("seq not ascending at %d: %d <= %d", i, msgs[i].Seq, msgs[i-1].Seq)
		}
		if !msgs[i].Timestamp.After(msgs[i-1].Timestamp) {
			t.Fatalf("timestamp not ascending at %d", i)
		}
	}

	room, _ := e.Room(r.ID)
	if room.MessageCount != 20 {
		t.Fatalf("message count=%d want=20", room.MessageCount)
	}
}

func TestEngine_MessageCountIncludesUnmaterialized(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	a := mustRoom(t, e, "A", "first")
	b := mustRoom(t, e, "B", "second")

	mustActivate(t, e, a.ID)
	if _, err := e.Send(a.ID, "hello a"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mustActivate(t, e, b.ID)
	clk.Advance(4 * time.Second)

	for _, m := range e.Messages() {
		if m.RoomID != b.ID {
			t.Fatalf("room B view holds a message of %s", m.RoomID)
		}
	}
	ra, _ := e.Room(a.ID)
	if ra.MessageCount != 2 {
		t.Fatalf("room A count=%d want=2", ra.MessageCount)
	}
	rb, _ := e.Room(b.ID)
	if rb.MessageCount != 0 {
		t.Fatalf("room B count=%d want=0", rb.MessageCount)
	}

	// Reactivation materializes history only; the count stays.
	mustActivate(t, e, a.ID)
	ra, _ = e.Room(a.ID)
	if ra.MessageCount != 2 || len(e.Messages()) != 20 {
		t.Fatalf("after reactivation count=%d messages=%d", ra.MessageCount, len(e.Messages()))
	}
}

func TestEngine_DeleteActiveRoom(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	r := mustRoom(t, e, "Gone", "soon")
	keep := mustRoom(t, e, "Keep", "stays")
	mustActivate(t, e, r.ID)

	if err := e.DeleteRoom(r.ID); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if got := e.ActiveRoom(); got != "" {
		t.Fatalf("active room=%q want empty", got)
	}
	if got := len(e.Messages()); got != 0 {
		t.Fatalf("messages=%d want=0", got)
	}
	if _, ok := e.View(); ok {
		t.Fatalf("view should be empty")
	}

	_, err := e.Send(r.ID, "anyone?")
	if !IsInvalidState(err) {
		t.Fatalf("Send after delete err=%v want invalid state", err)
	}

	rooms := e.Rooms()
	if len(rooms) != 1 || rooms[0].ID != keep.ID {
		t.Fatalf("rooms=%+v", rooms)
	}

	if err := e.DeleteRoom(r.ID); !IsInvalidState(err) {
		t.Fatalf("second delete err=%v want invalid state", err)
	}
}

func TestEngine_DeleteInactiveRoomKeepsActive(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	a := mustRoom(t, e, "A", "a")
	b := mustRoom(t, e, "B", "b")
	mustActivate(t, e, a.ID)

	if err := e.DeleteRoom(b.ID); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if e.ActiveRoom() != a.ID || len(e.Messages()) != 20 {
		t.Fatalf("active view changed: active=%q messages=%d", e.ActiveRoom(), len(e.Messages()))
	}
}

func TestEngine_ReplyDiscardedForDeletedRoom(t *testing.T) {
	t.Parallel()

	var asked int
	e, clk := newTestEngine(t, WithResponder(ResponderFunc(func(m Message) string {
		asked++
		return "re: " + m.Content
	})))
	r := mustRoom(t, e, "Short", "lived")
	mustActivate(t, e, r.ID)

	if _, err := e.Send(r.ID, "bye"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	clk.Advance(600 * time.Millisecond)
	if err := e.DeleteRoom(r.ID); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	clk.Advance(5 * time.Second)

	if asked != 1 {
		t.Fatalf("responder calls=%d want=1", asked)
	}
	if e.AnyTyping() || e.PendingReplies() != 0 {
		t.Fatalf("cycle not completed: typing=%v pending=%d", e.AnyTyping(), e.PendingReplies())
	}
	if len(e.Rooms()) != 0 || len(e.Messages()) != 0 {
		t.Fatalf("orphan state: rooms=%d messages=%d", len(e.Rooms()), len(e.Messages()))
	}
}

func TestEngine_LoadOlderPageDeduplicates(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	r := mustRoom(t, e, "Paging", "scroll")
	mustActivate(t, e, r.ID)

	first, err := e.LoadOlderPage(r.ID)
	if err != nil || !first {
		t.Fatalf("first load started=%v err=%v", first, err)
	}
	if !e.Cursor().Loading {
		t.Fatalf("cursor should report loading")
	}
	second, err := e.LoadOlderPage(r.ID)
	if err != nil || second {
		t.Fatalf("second load started=%v err=%v", second, err)
	}

	clk.Advance(500 * time.Millisecond)

	if got := len(e.Messages()); got != 40 {
		t.Fatalf("messages=%d want=40", got)
	}
	c := e.Cursor()
	if c.PageIndex != 2 || !c.HasMore || c.Loading {
		t.Fatalf("cursor=%+v", c)
	}
}

func TestEngine_LoadOlderPageStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	r := mustRoom(t, e, "Paging", "limit")
	mustActivate(t, e, r.ID)

	for i := 0; i < 4; i++ {
		started, err := e.LoadOlderPage(r.ID)
		if err != nil || !started {
			t.Fatalf("load #%d started=%v err=%v", i, started, err)
		}
		clk.Advance(time.Second)
	}

	c := e.Cursor()
	if c.PageIndex != 5 || c.HasMore {
		t.Fatalf("cursor=%+v want page 5 without more", c)
	}
	started, err := e.LoadOlderPage(r.ID)
	if err != nil || started {
		t.Fatalf("load past max started=%v err=%v", started, err)
	}
	clk.Advance(time.Second)
	if got := len(e.Messages()); got != 100 {
		t.Fatalf("messages=%d want=100", got)
	}

	msgs := e.Messages()
	if !strings.HasPrefix(msgs[0].Content, "AI response 100:") {
		t.Fatalf("oldest message=%q", msgs[0].Content)
	}
	if !strings.HasPrefix(msgs[len(msgs)-1].Content, "User message 1:") {
		t.Fatalf("newest message=%q", msgs[len(msgs)-1].Content)
	}
}

func TestEngine_LoadForSwitchedRoomIsDiscarded(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	a := mustRoom(t, e, "A", "a")
	b := mustRoom(t, e, "B", "b")

	mustActivate(t, e, a.ID)
	if _, err := e.LoadOlderPage(a.ID); err != nil {
		t.Fatalf("LoadOlderPage: %v", err)
	}
	mustActivate(t, e, b.ID)
	clk.Advance(time.Second)

	msgs := e.Messages()
	if len(msgs) != 20 {
		t.Fatalf("messages=%d want=20", len(msgs))
	}
	for _, m := range msgs {
		if m.RoomID != b.ID {
			t.Fatalf("room B view holds message of %s", m.RoomID)
		}
	}
	if c := e.Cursor(); c.PageIndex != 1 || c.Loading {
		t.Fatalf("cursor=%+v", c)
	}
}

func TestEngine_ReactivationContinuesInFlightLoad(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	r := mustRoom(t, e, "Again", "same room")
	mustActivate(t, e, r.ID)

	if _, err := e.LoadOlderPage(r.ID); err != nil {
		t.Fatalf("LoadOlderPage: %v", err)
	}
	mustActivate(t, e, r.ID)

	started, err := e.LoadOlderPage(r.ID)
	if err != nil || started {
		t.Fatalf("load during in-flight started=%v err=%v", started, err)
	}
	clk.Advance(time.Second)

	if got := len(e.Messages()); got != 40 {
		t.Fatalf("messages=%d want=40", got)
	}
	if c := e.Cursor(); c.PageIndex != 2 {
		t.Fatalf("page index=%d want=2", c.PageIndex)
	}
}

func TestEngine_LoadOlderPageRequiresActiveRoom(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	a := mustRoom(t, e, "A", "a")
	b := mustRoom(t, e, "B", "b")
	mustActivate(t, e, a.ID)

	if _, err := e.LoadOlderPage(b.ID); !IsInvalidState(err) {
		t.Fatalf("err=%v want invalid state", err)
	}
	if _, err := e.LoadOlderPage(""); !IsValidation(err) {
		t.Fatalf("err=%v want validation", err)
	}
}

func TestEngine_RapidSendsEachGetAReply(t *testing.T) {
	t.Parallel()

	var triggers []string
	e, clk := newTestEngine(t, WithResponder(ResponderFunc(func(m Message) string {
		triggers = append(triggers, m.ID)
		return "re: " + m.Content
	})))
	r := mustRoom(t, e, "Busy", "many")
	mustActivate(t, e, r.ID)

	sent := make(map[string]string)
	var firstSeq int64
	for i, text := range []string{"one", "two", "three"} {
		m, err := e.Send(r.ID, text)
		if err != nil {
			t.Fatalf("Send(%q): %v", text, err)
		}
		if i == 0 {
			firstSeq = m.Seq
		}
		sent[m.ID] = text
	}

	clk.Advance(500 * time.Millisecond)
	if !e.Typing(r.ID) {
		t.Fatalf("expected typing")
	}

	for step := 0; step < 40; step++ {
		clk.Advance(100 * time.Millisecond)
		n := len(repliesAfter(e.Messages(), firstSeq))
		if n < 3 && !e.Typing(r.ID) {
			t.Fatalf("typing cleared with %d/3 replies", n)
		}
	}

	replies := repliesAfter(e.Messages(), firstSeq)
	if len(replies) != 3 {
		t.Fatalf("replies=%d want=3", len(replies))
	}
	if e.Typing(r.ID) {
		t.Fatalf("typing still on")
	}

	seen := make(map[string]bool)
	for _, id := range triggers {
		if _, ok := sent[id]; !ok {
			t.Fatalf("reply to unknown trigger %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Fatalf("distinct triggers=%d want=3", len(seen))
	}
	contents := make(map[string]bool)
	for _, m := range replies {
		contents[m.Content] = true
	}
	for _, text := range sent {
		if !contents["re: "+text] {
			t.Fatalf("missing reply to %q", text)
		}
	}

	room, _ := e.Room(r.ID)
	if room.MessageCount != 6 {
		t.Fatalf("message count=%d want=6", room.MessageCount)
	}
}

func TestEngine_AppendErrors(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	r := mustRoom(t, e, "Errors", "table")
	other := mustRoom(t, e, "Other", "room")

	if _, err := e.Send(r.ID, "no room yet"); !IsInvalidState(err) {
		t.Fatalf("err=%v want invalid state", err)
	}
	mustActivate(t, e, r.ID)

	cases := []struct {
		name  string
		in    AppendInput
		check func(error) bool
	}{
		{name: "other room", in: AppendInput{RoomID: other.ID, Content: "x", Sender: SenderUser}, check: IsInvalidState},
		{name: "unknown room", in: AppendInput{RoomID: "nope", Content: "x", Sender: SenderUser}, check: IsInvalidState},
		{name: "missing room", in: AppendInput{Content: "x", Sender: SenderUser}, check: IsValidation},
		{name: "empty content", in: AppendInput{RoomID: r.ID, Content: "   ", Sender: SenderUser}, check: IsValidation},
		{name: "too long", in: AppendInput{RoomID: r.ID, Content: strings.Repeat("é", 4001), Sender: SenderUser}, check: IsValidation},
		{name: "bad kind", in: AppendInput{RoomID: r.ID, Content: "x", Kind: "video", Sender: SenderUser}, check: IsValidation},
		{name: "bad sender", in: AppendInput{RoomID: r.ID, Content: "x", Sender: "bot"}, check: IsValidation},
		{name: "image without data", in: AppendInput{RoomID: r.ID, Content: "pic", Kind: KindImage, Sender: SenderUser}, check: IsValidation},
		{name: "image bad data", in: AppendInput{RoomID: r.ID, Content: "pic", Kind: KindImage, Sender: SenderUser, ImageData: "http://x/y.png"}, check: IsValidation},
		{name: "text with data", in: AppendInput{RoomID: r.ID, Content: "x", Kind: KindText, Sender: SenderUser, ImageData: "data:image/png;base64,AA=="}, check: IsValidation},
	}

	for _, tc := range cases {
		_, err := e.Append(tc.in)
		if !tc.check(err) {
			t.Fatalf("%s: unexpected err=%v", tc.name, err)
		}
		var op OpError
		if !errors.As(err, &op) || op.Op == "" {
			t.Fatalf("%s: err %v is not an OpError", tc.name, err)
		}
	}

	room, _ := e.Room(r.ID)
	if room.MessageCount != 0 {
		t.Fatalf("failed appends changed count: %d", room.MessageCount)
	}
}

func TestEngine_ImageMessage(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	r := mustRoom(t, e, "Pics", "images")
	mustActivate(t, e, r.ID)

	m, err := e.Append(AppendInput{
		RoomID:    r.ID,
		Content:   "Uploaded image: cat.png",
		Kind:      KindImage,
		Sender:    SenderUser,
		ImageData: "data:image/png;base64,iVBORw0KGgo=",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if m.Kind != KindImage || m.ImageData == "" {
		t.Fatalf("message=%+v", m)
	}
	room, _ := e.Room(r.ID)
	if room.LastMessage != "Uploaded image: cat.png" {
		t.Fatalf("last message=%q", room.LastMessage)
	}
}

func TestEngine_ActivateUnknownRoom(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	if err := e.ActivateRoom("missing"); !IsInvalidState(err) {
		t.Fatalf("err=%v want invalid state", err)
	}
	if err := e.ActivateRoom(""); err != nil {
		t.Fatalf("clearing selection: %v", err)
	}
}

func TestEngine_CloseStopsTimers(t *testing.T) {
	t.Parallel()

	e, clk := newTestEngine(t)
	r := mustRoom(t, e, "Closing", "down")
	mustActivate(t, e, r.ID)
	if _, err := e.Send(r.ID, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := e.LoadOlderPage(r.ID); err != nil {
		t.Fatalf("LoadOlderPage: %v", err)
	}
	if clk.Pending() == 0 {
		t.Fatalf("expected pending timers")
	}

	e.Close()
	if got := clk.Pending(); got != 0 {
		t.Fatalf("pending timers after close=%d", got)
	}
	clk.Advance(10 * time.Second)
	if got := len(e.Messages()); got != 21 {
		t.Fatalf("messages=%d want=21", got)
	}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ReplyDelayMax = cfg.ReplyDelayMin - time.Millisecond
	if _, err := NewEngine(cfg); err == nil {
		t.Fatalf("expected config error")
	}
}
