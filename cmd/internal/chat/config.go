package chat

import (
	"errors"
	"fmt"
	"time"
)

// Input limits of the create-room form and the message composer.
const (
	maxTitleChars       = 100
	maxDescriptionChars = 500
	maxMessageChars     = 4000
	maxImageBytes       = 8 << 20 // inline data URL, 8 MiB

	lastMessageChars = 50
	ellipsis         = "…"
)

// Config controls pagination and the response simulator timings.
type Config struct {
	// PageSize is the number of synthesized messages per history page.
	PageSize int
	// MaxPages is the total number of pages a room view can hold, the
	// activation page included.
	MaxPages int
	// PageLatency is the simulated delay before an older page is materialized.
	PageLatency time.Duration

	// TypingDelay is the delay between a user message and the typing phase.
	TypingDelay time.Duration
	// ReplyDelayMin and ReplyDelayMax bound the random delay between the
	// typing phase and the reply. Max is exclusive.
	ReplyDelayMin time.Duration
	ReplyDelayMax time.Duration

	// EventQueueSize is the default per-subscriber event queue size.
	EventQueueSize int
}

// DefaultConfig returns the stock pagination and simulator timings.
func DefaultConfig() Config {
	return Config{
		PageSize:       20,
		MaxPages:       5,
		PageLatency:    500 * time.Millisecond,
		TypingDelay:    500 * time.Millisecond,
		ReplyDelayMin:  1000 * time.Millisecond,
		ReplyDelayMax:  3000 * time.Millisecond,
		EventQueueSize: 64,
	}
}

// Validate checks the config invariants.
func (c Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("chat: page size must be positive, got %d", c.PageSize)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("chat: max pages must be positive, got %d", c.MaxPages)
	}
	if c.PageLatency < 0 || c.TypingDelay < 0 || c.ReplyDelayMin < 0 {
		return errors.New("chat: negative delay")
	}
	if c.ReplyDelayMax < c.ReplyDelayMin {
		return fmt.Errorf("chat: reply delay max %s below min %s", c.ReplyDelayMax, c.ReplyDelayMin)
	}
	if c.EventQueueSize < 0 {
		return errors.New("chat: negative event queue size")
	}
	return nil
}
