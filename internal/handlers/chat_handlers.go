package handlers

import (
	"errors"
	"net/http"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/store"
	"chatrelay-backend/internal/stream"
	"chatrelay-backend/pkg/httputil"

	"go.uber.org/zap"
)

const chatFailure = "Failed to process chat request"

// ChatHandlers serves the streaming chat routes.
type ChatHandlers struct {
	adapter     *relay.Adapter
	chatService *services.ChatService
	logger      *zap.Logger
}

// NewChatHandlers creates a new ChatHandlers instance.
func NewChatHandlers(adapter *relay.Adapter, chatService *services.ChatService, logger *zap.Logger) *ChatHandlers {
	return &ChatHandlers{
		adapter:     adapter,
		chatService: chatService,
		logger:      logger.Named("chat_handlers"),
	}
}

// HandleChat relays the last user turn to the backend and streams the reply.
// Any failure before the first byte is answered with a 500 error envelope.
func (h *ChatHandlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("Invalid chat request body", zap.Error(err))
		httputil.RespondErrorDetails(w, http.StatusInternalServerError, chatFailure, err)
		return
	}

	reply, err := h.adapter.Open(r.Context(), req.Messages)
	if err != nil {
		h.logger.Error("Chat relay failed", zap.Error(err))
		httputil.RespondErrorDetails(w, http.StatusInternalServerError, chatFailure, err)
		return
	}
	defer reply.Close()

	stream.SetHeaders(w)
	w.WriteHeader(http.StatusOK)

	if _, err := reply.Stream(r.Context(), w); err != nil {
		h.abort(err)
	}
}

// HandleSend runs the conversation send flow and streams the assistant reply.
// The conversation used is reported in the X-Conversation-ID header.
func (h *ChatHandlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pending, err := h.chatService.Send(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyContent):
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrNotFound):
			httputil.RespondError(w, http.StatusNotFound, "Conversation not found")
		default:
			httputil.RespondErrorDetails(w, http.StatusInternalServerError, chatFailure, err)
		}
		return
	}
	defer pending.Close()

	w.Header().Set("X-Conversation-ID", pending.Conversation.ID.String())
	stream.SetHeaders(w)
	w.WriteHeader(http.StatusOK)

	if _, err := h.chatService.Deliver(r.Context(), pending, w); err != nil {
		if errors.Is(err, services.ErrCommit) {
			h.logger.Error("Reply delivered but not stored",
				zap.String("conversation_id", pending.Conversation.ID.String()), zap.Error(err))
			return
		}
		h.abort(err)
	}
}

// abort ends a response whose status line was already sent. The client sees
// a broken stream instead of a well-formed but truncated reply.
func (h *ChatHandlers) abort(err error) {
	h.logger.Warn("Aborting streamed response", zap.Error(err))
	panic(http.ErrAbortHandler)
}
