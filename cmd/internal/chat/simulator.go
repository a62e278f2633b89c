package chat

import (
	"maps"
	"math/rand/v2"
	"slices"
	"time"
)

// Phase is the state of one reply cycle.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseTypingScheduled Phase = "typing_scheduled"
	PhaseTyping          Phase = "typing"
	PhaseReplied         Phase = "replied"
)

// simHooks connect the simulator to its owner. All hooks run under the owner's
// mutation context.
type simHooks struct {
	// schedule runs f after d inside the mutation context.
	schedule func(d time.Duration, op string, f func())
	// deliver appends the reply to roomID; it returns false when the reply was discarded.
	deliver func(trigger Message, text string) bool
	// typing is called when a room's typing flag flips.
	typing func(roomID string, on bool)
}

// Simulator answers every user-authored message with a typing phase followed by
// a generated reply.
//
// Each trigger runs its own cycle: Idle -> TypingScheduled -> Typing -> Replied.
// Typing is reference counted per room so overlapping cycles keep the flag on
// until the last one completes.
type Simulator struct {
	cfg       Config
	responder Responder
	rnd       *rand.Rand
	hooks     simHooks

	cycles map[string]Phase // trigger message id -> phase, until the reply is delivered
	typing map[string]int   // room id -> active typing cycles
	total  int
}

func newSimulator(cfg Config, responder Responder, rnd *rand.Rand, hooks simHooks) *Simulator {
	if responder == nil {
		responder = NewTemplateResponder(nil)
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulator{
		cfg:       cfg,
		responder: responder,
		rnd:       rnd,
		hooks:     hooks,
		cycles:    make(map[string]Phase),
		typing:    make(map[string]int),
	}
}

// OnMessageAppended starts a cycle for user-authored messages.
func (s *Simulator) OnMessageAppended(m Message) {
	if m.Sender != SenderUser {
		return
	}
	s.cycles[m.ID] = PhaseTypingScheduled
	s.hooks.schedule(s.cfg.TypingDelay, "reply.typing", func() { s.startTyping(m) })
}

func (s *Simulator) startTyping(trigger Message) {
	s.cycles[trigger.ID] = PhaseTyping
	s.typing[trigger.RoomID]++
	s.total++
	if s.typing[trigger.RoomID] == 1 {
		s.hooks.typing(trigger.RoomID, true)
	}
	s.hooks.schedule(s.replyDelay(), "reply.deliver", func() { s.reply(trigger) })
}

func (s *Simulator) reply(trigger Message) {
	text := s.responder.Reply(trigger)
	if text == "" {
		text = ComposeReply(trigger, 0)
	}
	s.cycles[trigger.ID] = PhaseReplied
	s.hooks.deliver(trigger, text)

	delete(s.cycles, trigger.ID)
	s.total--
	s.typing[trigger.RoomID]--
	if s.typing[trigger.RoomID] <= 0 {
		delete(s.typing, trigger.RoomID)
		s.hooks.typing(trigger.RoomID, false)
	}
}

func (s *Simulator) replyDelay() time.Duration {
	span := s.cfg.ReplyDelayMax - s.cfg.ReplyDelayMin
	if span <= 0 {
		return s.cfg.ReplyDelayMin
	}
	return s.cfg.ReplyDelayMin + time.Duration(s.rnd.Int64N(int64(span)))
}

// Phase returns the phase of the cycle started by triggerID.
// Completed cycles are forgotten and report PhaseIdle.
func (s *Simulator) Phase(triggerID string) Phase {
	if p, ok := s.cycles[triggerID]; ok {
		return p
	}
	return PhaseIdle
}

// Typing reports whether the assistant is composing a reply in roomID.
func (s *Simulator) Typing(roomID string) bool { return s.typing[roomID] > 0 }

// AnyTyping reports whether any cycle is in its typing phase.
func (s *Simulator) AnyTyping() bool { return s.total > 0 }

// TypingCycles returns the number of cycles in the typing phase.
func (s *Simulator) TypingCycles() int { return s.total }

// Active returns the number of cycles that have not replied yet.
func (s *Simulator) Active() int { return len(s.cycles) }

// typingRooms lists rooms whose typing flag is on, sorted by id.
func (s *Simulator) typingRooms() []string {
	var out []string
	for _, id := range slices.Sorted(maps.Keys(s.typing)) {
		if s.typing[id] > 0 {
			out = append(out, id)
		}
	}
	return out
}

func (s *Simulator) reset() {
	s.cycles = make(map[string]Phase)
	s.typing = make(map[string]int)
	s.total = 0
}
