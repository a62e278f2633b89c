package chat

import (
	"math/rand/v2"
	"sync"
)

var replyOpeners = [...]string{
	"That's an interesting question! Let me think about that...",
	"I understand what you're asking. Here's my perspective:",
	"Great point! I'd like to share some thoughts on that:",
	"I appreciate you bringing this up. Here's what I think:",
	"That's a thoughtful question. Let me provide some insights:",
	"I see what you mean. Here's how I'd approach that:",
	"Excellent question! I'd be happy to help with that:",
	"That's a fascinating topic. Here are my thoughts:",
}

const replyBody = "This is a simulated AI response to demonstrate the chat functionality. " +
	"In a real implementation, this would be connected to an actual AI service."

// Responder produces the assistant's reply to a user message.
// Implementations must always return non-empty text.
type Responder interface {
	Reply(trigger Message) string
}

// ComposeReply builds the reply for trigger from opener number pick.
// It depends on nothing but its arguments.
func ComposeReply(_ Message, pick int) string {
	n := len(replyOpeners)
	pick %= n
	if pick < 0 {
		pick += n
	}
	return replyOpeners[pick] + " " + replyBody
}

// TemplateResponder picks a random opener for every reply.
type TemplateResponder struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewTemplateResponder returns a responder drawing from rnd; nil uses a random seed.
func NewTemplateResponder(rnd *rand.Rand) *TemplateResponder {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &TemplateResponder{rnd: rnd}
}

// Reply implements Responder.
func (r *TemplateResponder) Reply(trigger Message) string {
	r.mu.Lock()
	pick := r.rnd.IntN(len(replyOpeners))
	r.mu.Unlock()
	return ComposeReply(trigger, pick)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(trigger Message) string

// Reply implements Responder.
func (f ResponderFunc) Reply(trigger Message) string { return f(trigger) }
