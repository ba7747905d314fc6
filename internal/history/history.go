// Package history keeps the current session's conversation in memory.
package history

import (
	"sync"

	"github.com/localvision/localvision/internal/inference"
)

// Conversation is an ordered, goroutine-safe log of interactions.
type Conversation struct {
	mu    sync.RWMutex
	items []inference.Interaction
	limit int
}

// New returns an empty conversation. A positive limit keeps only the most
// recent interactions.
func New(limit int) *Conversation {
	return &Conversation{limit: limit}
}

// Append adds interactions in order.
func (c *Conversation) Append(items ...inference.Interaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = append(c.items, items...)
	if c.limit > 0 && len(c.items) > c.limit {
		c.items = append(c.items[:0:0], c.items[len(c.items)-c.limit:]...)
	}
}

// Record appends the interaction an envelope represents. Error envelopes
// are not part of the conversation and report false.
func (c *Conversation) Record(env inference.Envelope) bool {
	var kind inference.Kind
	switch env.Kind {
	case inference.EnvelopeDescription:
		kind = inference.KindDescription
	case inference.EnvelopeText:
		kind = inference.KindText
	default:
		return false
	}
	c.Append(inference.Interaction{Actor: inference.ActorAssistant, Kind: kind, Content: env.Content})
	return true
}

// Snapshot returns a copy safe to hand to another goroutine.
func (c *Conversation) Snapshot() []inference.Interaction {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]inference.Interaction, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of interactions.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear forgets everything.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}
