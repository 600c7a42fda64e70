package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxTitleLength = 50
	defaultTitle   = "New Chat"
)

var (
	// ErrEmptyContent is returned when a message has no text.
	ErrEmptyContent = errors.New("message content is required")
	// ErrInvalidRole is returned for roles other than user and assistant.
	ErrInvalidRole = errors.New("role must be 'user' or 'assistant'")
)

// DeriveTitle builds a conversation title from the first user message.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return defaultTitle
	}
	runes := []rune(content)
	if len(runes) > maxTitleLength {
		runes = runes[:maxTitleLength]
	}
	return string(runes)
}

// ConversationService handles conversation-related business logic.
type ConversationService struct {
	store  store.Store
	logger *zap.Logger
}

// NewConversationService creates a new ConversationService.
func NewConversationService(store store.Store, logger *zap.Logger) *ConversationService {
	return &ConversationService{
		store:  store,
		logger: logger.Named("conversations"),
	}
}

// CreateConversation creates a conversation and makes it current.
func (s *ConversationService) CreateConversation(ctx context.Context, title string) (models.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = defaultTitle
	}
	conv, err := s.store.CreateConversation(ctx, title)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create conversation in store: %w", err)
	}
	s.logger.Info("Conversation created", zap.String("conversation_id", conv.ID.String()))
	return conv, nil
}

// ListConversations returns the conversation list. With sortByRecent the list
// is ordered by last update instead of creation.
func (s *ConversationService) ListConversations(ctx context.Context, sortByRecent bool) ([]models.Conversation, error) {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations from store: %w", err)
	}
	if sortByRecent {
		sort.SliceStable(convs, func(i, j int) bool {
			return convs[i].LastUpdated.After(convs[j].LastUpdated)
		})
	}
	return convs, nil
}

// GetConversationDetail returns a conversation with its messages and their sources.
func (s *ConversationService) GetConversationDetail(ctx context.Context, id uuid.UUID) (*models.ConversationDetailResponse, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	detail := &models.ConversationDetailResponse{
		Conversation: conv,
		Messages:     make([]models.MessageWithSources, 0, len(msgs)),
	}
	for _, m := range msgs {
		sources, err := s.store.GetSources(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get sources for message %s: %w", m.ID, err)
		}
		detail.Messages = append(detail.Messages, models.MessageWithSources{Message: m, Sources: sources})
	}
	return detail, nil
}

// AddMessage appends a message to an existing conversation.
func (s *ConversationService) AddMessage(ctx context.Context, conversationID uuid.UUID, role models.Role, content string) (models.Message, error) {
	if !role.Valid() {
		return models.Message{}, ErrInvalidRole
	}
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyContent
	}
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return models.Message{}, err
	}

	msg, err := s.store.AddMessage(ctx, conversationID, models.Message{Role: role, Content: content})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to add message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the messages of an existing conversation.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}

// DeleteConversation removes a conversation with its messages and sources.
func (s *ConversationService) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.GetConversation(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.logger.Info("Conversation deleted", zap.String("conversation_id", id.String()))
	return nil
}

// SetSources replaces the citations of an assistant message and returns the
// stored list. Sources without an id get one; the input slice is not modified.
func (s *ConversationService) SetSources(ctx context.Context, messageID uuid.UUID, sources []models.Source) ([]models.Source, error) {
	stored := make([]models.Source, len(sources))
	copy(stored, sources)
	for i := range stored {
		if stored[i].ID == "" {
			stored[i].ID = uuid.NewString()
		}
	}
	if err := s.store.SetSources(ctx, messageID, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// GetSources returns the citations of a message.
func (s *ConversationService) GetSources(ctx context.Context, messageID uuid.UUID) ([]models.Source, error) {
	if _, err := s.store.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}
	return s.store.GetSources(ctx, messageID)
}

// Current returns the current conversation id, nil when none is selected.
func (s *ConversationService) Current(ctx context.Context) (*uuid.UUID, error) {
	return s.store.CurrentConversation(ctx)
}

// SetCurrent selects a conversation. A nil id starts a fresh, uncommitted chat.
func (s *ConversationService) SetCurrent(ctx context.Context, id *uuid.UUID) error {
	if id == nil {
		return s.store.ClearCurrentConversation(ctx)
	}
	return s.store.SetCurrentConversation(ctx, id)
}

// ClearCurrent deselects the current conversation without creating a new one.
func (s *ConversationService) ClearCurrent(ctx context.Context) error {
	return s.store.ClearCurrentConversation(ctx)
}

// LatestSources returns the sources of the last assistant message of the
// current conversation. The message id is nil when there is nothing to show.
func (s *ConversationService) LatestSources(ctx context.Context) (*uuid.UUID, []models.Source, error) {
	current, err := s.store.CurrentConversation(ctx)
	if err != nil || current == nil {
		return nil, []models.Source{}, err
	}

	msgs, err := s.store.ListMessages(ctx, *current)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list messages: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != models.RoleAssistant {
			continue
		}
		sources, err := s.store.GetSources(ctx, msgs[i].ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get sources: %w", err)
		}
		id := msgs[i].ID
		return &id, sources, nil
	}
	return nil, []models.Source{}, nil
}
