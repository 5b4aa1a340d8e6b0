package agent

import (
	"sync"

	"github.com/farmmind/farmmind/pkg/models"
)

// Conversation is an append-only transcript. History only ever shrinks
// through an explicit Reset.
type Conversation struct {
	mu       sync.RWMutex
	messages []models.Message
}

// NewConversation creates an empty transcript.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds one message to the end.
func (c *Conversation) Append(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// History returns a snapshot of the transcript.
func (c *Conversation) History() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Reset drops the whole transcript.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
