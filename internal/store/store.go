package store

import (
	"context"
	"errors"

	"chatrelay-backend/internal/models"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// ErrNotAssistant is returned when sources are attached to a non-assistant message.
var ErrNotAssistant = errors.New("sources can only be attached to assistant messages")

// Store defines the conversation store operations.
// It allows swapping the in-memory table for a database backend.
type Store interface {
	// Mutations
	CreateConversation(ctx context.Context, title string) (models.Conversation, error)
	SetCurrentConversation(ctx context.Context, id *uuid.UUID) error
	// AddMessage appends msg to the conversation's sequence, creating the
	// sequence if needed. A zero ID or Timestamp is filled in.
	AddMessage(ctx context.Context, conversationID uuid.UUID, msg models.Message) (models.Message, error)
	// SetSources replaces the source list of an assistant message.
	SetSources(ctx context.Context, messageID uuid.UUID, sources []models.Source) error
	DeleteConversation(ctx context.Context, id uuid.UUID) error
	ClearCurrentConversation(ctx context.Context) error

	// Reads
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (models.Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (models.Message, error)
	// GetSources returns an empty, non-nil slice when the message has none.
	GetSources(ctx context.Context, messageID uuid.UUID) ([]models.Source, error)
	CurrentConversation(ctx context.Context) (*uuid.UUID, error)
}
