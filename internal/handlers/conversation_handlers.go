package handlers

import (
	"errors"
	"net/http"

	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/pkg/httputil"

	"go.uber.org/zap"
)

// ConversationHandlers serves the conversation store routes.
type ConversationHandlers struct {
	service *services.ConversationService
	logger  *zap.Logger
}

// NewConversationHandlers creates a new ConversationHandlers instance.
func NewConversationHandlers(service *services.ConversationService, logger *zap.Logger) *ConversationHandlers {
	return &ConversationHandlers{
		service: service,
		logger:  logger.Named("conversation_handlers"),
	}
}

// HandleListConversations handles GET /v1/conversations.
// sort=recent orders by last update instead of creation.
func (h *ConversationHandlers) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	byRecent := r.URL.Query().Get("sort") == "recent"

	convs, err := h.service.ListConversations(r.Context(), byRecent)
	if err != nil {
		respondServiceError(w, h.logger, err, "", "Failed to list conversations")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.ListConversationsResponse{Conversations: convs})
}

// HandleCreateConversation handles POST /v1/conversations. The body is optional.
func (h *ConversationHandlers) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	conv, err := h.service.CreateConversation(r.Context(), req.Title)
	if err != nil {
		respondServiceError(w, h.logger, err, "", "Failed to create conversation")
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandlers) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "conversationID", "conversation")
	if !ok {
		return
	}

	detail, err := h.service.GetConversationDetail(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Conversation not found", "Failed to get conversation")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, detail)
}

func (h *ConversationHandlers) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "conversationID", "conversation")
	if !ok {
		return
	}

	if err := h.service.DeleteConversation(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err, "Conversation not found", "Failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "conversationID", "conversation")
	if !ok {
		return
	}

	msgs, err := h.service.ListMessages(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Conversation not found", "Failed to list messages")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.ListMessagesResponse{Messages: msgs})
}

func (h *ConversationHandlers) HandleAddMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "conversationID", "conversation")
	if !ok {
		return
	}

	var req models.AddMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := h.service.AddMessage(r.Context(), id, req.Role, req.Content)
	if err != nil {
		respondServiceError(w, h.logger, err, "Conversation not found", "Failed to add message")
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, msg)
}

func (h *ConversationHandlers) HandleGetSources(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "messageID", "message")
	if !ok {
		return
	}

	sources, err := h.service.GetSources(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err, "Message not found", "Failed to get sources")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.SourcesResponse{MessageID: &id, Sources: sources})
}

// HandleSetSources replaces the source list of an assistant message.
func (h *ConversationHandlers) HandleSetSources(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "messageID", "message")
	if !ok {
		return
	}

	var req models.SetSourcesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sources, err := h.service.SetSources(r.Context(), id, req.Sources)
	if err != nil {
		respondServiceError(w, h.logger, err, "Message not found", "Failed to set sources")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.SourcesResponse{MessageID: &id, Sources: sources})
}

func (h *ConversationHandlers) HandleGetCurrent(w http.ResponseWriter, r *http.Request) {
	current, err := h.service.Current(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "", "Failed to get current conversation")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.CurrentResponse{ConversationID: current})
}

// HandleSetCurrent selects a conversation; a null id clears the selection.
func (h *ConversationHandlers) HandleSetCurrent(w http.ResponseWriter, r *http.Request) {
	var req models.SetCurrentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetCurrent(r.Context(), req.ConversationID); err != nil {
		respondServiceError(w, h.logger, err, "", "Failed to set current conversation")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.CurrentResponse{ConversationID: req.ConversationID})
}

func (h *ConversationHandlers) HandleClearCurrent(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCurrent(r.Context()); err != nil {
		respondServiceError(w, h.logger, err, "", "Failed to clear current conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLatestSources returns the sources of the last assistant reply in the
// current conversation.
func (h *ConversationHandlers) HandleLatestSources(w http.ResponseWriter, r *http.Request) {
	msgID, sources, err := h.service.LatestSources(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "", "Failed to get sources")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.SourcesResponse{MessageID: msgID, Sources: sources})
}
