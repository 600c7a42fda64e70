package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message or turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a stored message may carry.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is one entry of the conversation list.
type Conversation struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Message is a single stored message. The owning conversation is the key of
// the sequence it lives in; ConversationID mirrors it for API responses.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Source is a citation attached to an assistant message.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Turn is one entry of an inbound chat request.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
