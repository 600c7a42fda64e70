package models

import (
	"github.com/google/uuid"
)

// --- Error Structs ---

// ErrorResponse defines the standard structure for API errors.
// Details is only set by the chat relay routes.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// --- Chat Relay DTOs ---

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []Turn `json:"messages"`
}

// SendMessageRequest is the body of POST /v1/chat.
// ConversationID is optional; the current conversation is used when absent,
// and a new one is created when there is no current conversation either.
type SendMessageRequest struct {
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Content        string     `json:"content"`
}

// --- Conversation DTOs ---

// CreateConversationRequest defines the body for creating a conversation.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// AddMessageRequest defines the body for appending a message to a conversation.
type AddMessageRequest struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SetSourcesRequest replaces the source list of a message.
type SetSourcesRequest struct {
	Sources []Source `json:"sources"`
}

// SetCurrentRequest changes the current conversation. A null id clears it.
type SetCurrentRequest struct {
	ConversationID *uuid.UUID `json:"conversation_id"`
}

// CurrentResponse reports the current conversation selector.
type CurrentResponse struct {
	ConversationID *uuid.UUID `json:"conversation_id"`
}

// ListConversationsResponse defines the response structure for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// ListMessagesResponse defines the response structure for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// SourcesResponse wraps a source list.
type SourcesResponse struct {
	MessageID *uuid.UUID `json:"message_id,omitempty"`
	Sources   []Source   `json:"sources"`
}

// MessageWithSources is a message together with its citations.
type MessageWithSources struct {
	Message
	Sources []Source `json:"sources"`
}

// ConversationDetailResponse is a conversation with its full history.
type ConversationDetailResponse struct {
	Conversation
	Messages []MessageWithSources `json:"messages"`
}
