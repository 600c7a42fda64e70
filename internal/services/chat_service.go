package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chatrelay-backend/internal/auth"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/store"

	"go.uber.org/zap"
)

// ErrCommit is returned by Deliver when the reply was streamed completely
// but could not be stored.
var ErrCommit = errors.New("failed to commit reply")

// ChatService runs the send flow: store the user message, relay it to the
// backend, stream the reply and commit it once the stream completed.
type ChatService struct {
	store   store.Store
	adapter *relay.Adapter
	logger  *zap.Logger
}

// NewChatService creates a new ChatService.
func NewChatService(store store.Store, adapter *relay.Adapter, logger *zap.Logger) *ChatService {
	return &ChatService{
		store:   store,
		adapter: adapter,
		logger:  logger.Named("chat"),
	}
}

// PendingReply is an opened backend reply that has not been delivered yet.
type PendingReply struct {
	Conversation models.Conversation
	UserMessage  models.Message
	reply        *relay.Reply
}

// Close releases the backend reply without delivering it.
func (p *PendingReply) Close() error {
	return p.reply.Close()
}

// Send stores the user message and opens the backend reply. The user message
// is kept even when the backend call fails.
func (s *ChatService) Send(ctx context.Context, req models.SendMessageRequest) (*PendingReply, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}

	conv, err := s.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.store.AddMessage(ctx, conv.ID, models.Message{Role: models.RoleUser, Content: req.Content})
	if err != nil {
		return nil, fmt.Errorf("failed to add user message: %w", err)
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	turns := make([]models.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, models.Turn{Role: m.Role, Content: m.Content})
	}

	reply, err := s.adapter.Open(ctx, turns)
	if err != nil {
		s.logger.Error("Failed to open backend reply",
			zap.String("conversation_id", conv.ID.String()), zap.Error(err))
		return nil, err
	}

	return &PendingReply{Conversation: conv, UserMessage: userMsg, reply: reply.WithSourcesFrame()}, nil
}

// Deliver streams the reply to w and commits the assistant message and its
// sources. Nothing is committed when streaming fails. The returned message is
// nil when the stream carried no recognizable text.
func (s *ChatService) Deliver(ctx context.Context, p *PendingReply, w io.Writer) (*models.Message, error) {
	text, err := p.reply.Stream(ctx, w)
	if err != nil {
		s.logger.Warn("Reply stream aborted",
			zap.String("conversation_id", p.Conversation.ID.String()),
			zap.Int("delivered_bytes", len(text)),
			zap.Error(err))
		return nil, err
	}

	if text == "" {
		s.logger.Warn("Reply carried no text, nothing committed",
			zap.String("conversation_id", p.Conversation.ID.String()))
		return nil, nil
	}

	// The client may disconnect right after the last frame; the reply is complete, so keep it.
	commitCtx := context.WithoutCancel(ctx)

	msg, err := s.store.AddMessage(commitCtx, p.Conversation.ID, models.Message{Role: models.RoleAssistant, Content: text})
	if err != nil {
		return nil, fmt.Errorf("%w: assistant message: %v", ErrCommit, err)
	}

	if sources := p.reply.Sources(); len(sources) > 0 {
		if err := s.store.SetSources(commitCtx, msg.ID, sources); err != nil {
			return &msg, fmt.Errorf("%w: sources: %v", ErrCommit, err)
		}
	}

	clientID, _ := auth.GetClientIDFromContext(ctx)
	s.logger.Info("Reply committed",
		zap.String("conversation_id", p.Conversation.ID.String()),
		zap.String("client_id", clientID),
		zap.String("message_id", msg.ID.String()),
		zap.Int("sources", len(p.reply.Sources())),
		zap.Bool("passthrough", p.reply.Passthrough()))
	return &msg, nil
}

// resolveConversation picks the explicit conversation, then the current one,
// and creates a new conversation when neither exists.
func (s *ChatService) resolveConversation(ctx context.Context, req models.SendMessageRequest) (models.Conversation, error) {
	if req.ConversationID != nil {
		conv, err := s.store.GetConversation(ctx, *req.ConversationID)
		if err != nil {
			return models.Conversation{}, err
		}
		if err := s.store.SetCurrentConversation(ctx, &conv.ID); err != nil {
			return models.Conversation{}, fmt.Errorf("failed to select conversation: %w", err)
		}
		return conv, nil
	}

	current, err := s.store.CurrentConversation(ctx)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to read current conversation: %w", err)
	}
	if current != nil {
		conv, err := s.store.GetConversation(ctx, *current)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.Conversation{}, err
		}
		// A dangling selector falls through to a fresh conversation.
	}

	conv, err := s.store.CreateConversation(ctx, DeriveTitle(req.Content))
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}
