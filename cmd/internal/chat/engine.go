package chat

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Engine is the one coordinator of the conversation state.
//
// It owns the Directory, MessageStore, Simulator and Selector and serializes
// every operation and timer callback behind a single mutex, so each mutation
// runs to completion before the next begins. Events are published to the Bus
// from inside the mutation that caused them.
type Engine struct {
	log     *slog.Logger
	cfg     Config
	clock   Clock
	bus     *Bus
	metrics *Metrics

	responder Responder
	rnd       *rand.Rand

	mu       sync.Mutex
	closed   bool
	dir      *Directory
	store    *MessageStore
	sim      *Simulator
	sel      *Selector
	tasks    map[uint64]Timer
	nextTask uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option { return func(e *Engine) { e.log = log } }

// WithClock sets the time source used for timestamps and timers.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithBus publishes events to b instead of a private bus.
func WithBus(b *Bus) Option { return func(e *Engine) { e.bus = b } }

// WithMetrics records engine metrics on m.
func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithResponder replaces the assistant's reply generator.
func WithResponder(r Responder) Option { return func(e *Engine) { e.responder = r } }

// WithRand seeds the reply delay randomness.
func WithRand(r *rand.Rand) Option { return func(e *Engine) { e.rnd = r } }

// NewEngine constructs an engine with an empty state.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, tasks: make(map[uint64]Timer)}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.log == nil {
		e.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.bus == nil {
		e.bus = NewBus(e.log)
	}

	e.dir = NewDirectory()
	e.store = NewMessageStore(cfg)
	e.sel = NewSelector(e.store)
	e.sim = newSimulator(cfg, e.responder, e.rnd, simHooks{
		schedule: e.schedule,
		deliver:  e.deliverReply,
		typing:   e.typingChanged,
	})

	e.store.Listen(e.dir)
	e.store.Listen(appendObserver{e})
	e.store.Listen(e.sim)

	return e, nil
}

// appendObserver records metrics and events for every appended message.
type appendObserver struct{ e *Engine }

func (o appendObserver) OnMessageAppended(m Message) {
	o.e.metrics.messageAppended(m)
	o.e.emit(Event{Kind: EventRoomListChanged})
}

// Bus returns the event bus.
func (e *Engine) Bus() *Bus { return e.bus }

// Subscribe registers an event subscriber; queue <= 0 uses the configured default.
func (e *Engine) Subscribe(queue int) *Subscriber {
	if queue <= 0 {
		queue = e.cfg.EventQueueSize
	}
	return e.bus.Subscribe(queue)
}

// Unsubscribe removes a subscriber.
func (e *Engine) Unsubscribe(id string) { e.bus.Unsubscribe(id) }

// CreateRoom adds a room at the head of the directory.
func (e *Engine) CreateRoom(title, description string) (Room, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.dir.Create(title, description, e.clock.Now())
	if err != nil {
		return Room{}, err
	}
	e.metrics.roomCreated(e.dir.Len())
	e.log.Info("room.create", "room_id", r.ID, "rooms", e.dir.Len())
	e.emit(Event{Kind: EventRoomListChanged})
	return r, nil
}

// DeleteRoom removes a room and all of its messages. If it was active, the
// active room is cleared. In-flight replies for it are discarded on delivery.
func (e *Engine) DeleteRoom(roomID string) error {
	roomID = strings.TrimSpace(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.dir.Delete(roomID); err != nil {
		return err
	}
	wasActive := e.store.DeleteRoomMessages(roomID)
	e.sel.Forget(roomID)

	e.metrics.roomDeleted(e.dir.Len())
	e.log.Info("room.delete", "room_id", roomID, "was_active", wasActive)
	e.emit(Event{Kind: EventRoomListChanged})
	if wasActive {
		e.emit(Event{Kind: EventMessagesChanged, RoomID: roomID})
	}
	return nil
}

// Rooms returns all rooms, most recently created first.
func (e *Engine) Rooms() []Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir.List()
}

// SearchRooms filters rooms by a case-insensitive substring of title or description.
func (e *Engine) SearchRooms(query string) []Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir.Search(query)
}

// Room returns one room.
func (e *Engine) Room(roomID string) (Room, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir.Get(roomID)
}

// ActivateRoom switches the active room and materializes its first page.
// An empty roomID clears the selection.
func (e *Engine) ActivateRoom(roomID string) error {
	roomID = strings.TrimSpace(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	if roomID != "" && !e.dir.Exists(roomID) {
		return invalidStateErr("chat.ActivateRoom", "unknown room "+roomID)
	}
	prev := e.sel.Current()
	e.sel.Activate(roomID, e.clock.Now())
	if roomID != "" {
		e.metrics.pageLoaded()
	}

	e.log.Debug("room.activate", "room_id", roomID, "prev_room_id", prev)
	if prev != "" && prev != roomID {
		e.emit(Event{Kind: EventMessagesChanged, RoomID: prev})
	}
	if roomID != "" {
		e.emit(Event{Kind: EventMessagesChanged, RoomID: roomID})
	}
	return nil
}

// ActiveRoom returns the active room id, "" when none.
func (e *Engine) ActiveRoom() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel.Current()
}

// View returns the active room with its materialized messages.
func (e *Engine) View() (View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.sel.Current()
	if id == "" {
		return View{}, false
	}
	r, ok := e.dir.Get(id)
	if !ok {
		return View{}, false
	}
	return View{
		Room:     r,
		Messages: e.store.Messages(),
		Cursor:   e.store.Cursor(),
		Typing:   e.sim.Typing(id),
	}, true
}

// Messages returns the materialized messages of the active room.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Messages()
}

// Cursor returns the pagination cursor of the active room.
func (e *Engine) Cursor() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Cursor()
}

// Append appends a message to the active room. User messages start a reply cycle.
func (e *Engine) Append(in AppendInput) (Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.Append(in, e.clock.Now())
	if err != nil {
		return Message{}, err
	}
	e.log.Debug("message.append", "room_id", m.RoomID, "message_id", m.ID, "seq", m.Seq, "sender", string(m.Sender), "kind", string(m.Kind))
	e.emit(Event{Kind: EventMessagesChanged, RoomID: m.RoomID})
	return m, nil
}

// Send appends a user text message to the active room.
func (e *Engine) Send(roomID, content string) (Message, error) {
	return e.Append(AppendInput{RoomID: roomID, Content: content, Kind: KindText, Sender: SenderUser})
}

// LoadOlderPage schedules the next history page of the active room.
// It reports whether a load was started; repeated calls while one is in flight
// and calls after the last page are no-ops.
func (e *Engine) LoadOlderPage(roomID string) (bool, error) {
	roomID = strings.TrimSpace(roomID)

	e.mu.Lock()
	defer e.mu.Unlock()

	started, err := e.store.BeginLoad(roomID)
	if err != nil || !started {
		return false, err
	}
	e.log.Debug("history.load.start", "room_id", roomID, "page", e.store.Cursor().PageIndex)
	e.emit(Event{Kind: EventMessagesChanged, RoomID: roomID})
	e.schedule(e.cfg.PageLatency, "history.load", func() { e.completeLoad(roomID) })
	return true, nil
}

func (e *Engine) completeLoad(roomID string) {
	n := e.store.CompleteLoad(roomID, e.clock.Now())
	if n == 0 {
		e.log.Debug("history.load.discard", "room_id", roomID, "active_room_id", e.sel.Current())
		return
	}
	e.metrics.pageLoaded()
	c := e.store.Cursor()
	e.log.Debug("history.load.done", "room_id", roomID, "messages", n, "page_index", c.PageIndex, "has_more", c.HasMore)
	e.emit(Event{Kind: EventMessagesChanged, RoomID: roomID})
}

// Typing reports whether the assistant is composing a reply in roomID.
func (e *Engine) Typing(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.Typing(roomID)
}

// AnyTyping reports whether the assistant is composing in any room.
func (e *Engine) AnyTyping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.AnyTyping()
}

// PendingReplies returns the number of reply cycles not yet delivered.
func (e *Engine) PendingReplies() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.Active()
}

// ReplyPhase returns the cycle phase of a user message.
func (e *Engine) ReplyPhase(triggerID string) Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sim.Phase(triggerID)
}

// Close stops every outstanding timer. Late callbacks become no-ops.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	e.cancelTasks()
	e.log.Debug("engine.close")
}

// ---- mutation context helpers (caller holds e.mu) ----

// schedule runs f after d inside the mutation context unless the engine closed
// or the task was cancelled.
func (e *Engine) schedule(d time.Duration, op string, f func()) {
	if e.closed {
		return
	}
	e.nextTask++
	id := e.nextTask

	e.tasks[id] = e.clock.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if _, ok := e.tasks[id]; !ok || e.closed {
			return
		}
		delete(e.tasks, id)
		f()
		e.metrics.typingCycles(e.sim.TypingCycles())
		e.log.Debug("task.done", "op", op, "task_id", id)
	})
}

func (e *Engine) cancelTasks() {
	for id, t := range e.tasks {
		t.Stop()
		delete(e.tasks, id)
	}
}

// deliverReply appends the assistant reply to the trigger's room if it still
// exists. Replies for rooms that are not active count toward the room summary
// but are not materialized into the other room's view.
func (e *Engine) deliverReply(trigger Message, text string) bool {
	if !e.dir.Exists(trigger.RoomID) {
		e.metrics.replyDiscarded()
		e.log.Debug("reply.discard", "room_id", trigger.RoomID, "trigger_id", trigger.ID)
		return false
	}
	m, materialized, err := e.store.Deliver(AppendInput{
		RoomID:  trigger.RoomID,
		Content: text,
		Kind:    KindText,
		Sender:  SenderAssistant,
	}, e.clock.Now())
	if err != nil {
		e.metrics.replyDiscarded()
		e.log.Warn("reply.invalid", "room_id", trigger.RoomID, "trigger_id", trigger.ID, "err", err)
		return false
	}
	e.log.Debug("reply.deliver", "room_id", m.RoomID, "message_id", m.ID, "trigger_id", trigger.ID, "materialized", materialized)
	if materialized {
		e.emit(Event{Kind: EventMessagesChanged, RoomID: m.RoomID})
	}
	return true
}

func (e *Engine) typingChanged(roomID string, on bool) {
	e.emit(Event{Kind: EventTypingChanged, RoomID: roomID, Typing: on})
}

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	e.bus.Publish(ev)
}
