package chat

import (
	"time"

	"parley/cmd/internal/ids"
)

// NewID returns a new ULID string stamped with now.
func NewID(now time.Time) string { return ids.New(now) }
