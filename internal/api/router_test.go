package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"chatrelay-backend/internal/auth"
	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/store/memory"
	"chatrelay-backend/internal/stream"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type testEnv struct {
	router  http.Handler
	backend *httptest.Server
}

func newTestEnv(t *testing.T, jwtSecret string, backend http.HandlerFunc) *testEnv {
	t.Helper()
	return newTestEnvWithLogger(t, jwtSecret, backend, zaptest.NewLogger(t))
}

func newTestEnvWithLogger(t *testing.T, jwtSecret string, backend http.HandlerFunc, logger *zap.Logger) *testEnv {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	st := memory.New()
	adapter := relay.NewAdapter(relay.NewClient(srv.URL, relay.ClientOptions{}, logger), 0, logger)
	chatService := services.NewChatService(st, adapter, logger)
	convService := services.NewConversationService(st, logger)

	router := NewRouter(RouterDependencies{
		ChatHandler:         handlers.NewChatHandlers(adapter, chatService, logger),
		ConversationHandler: handlers.NewConversationHandlers(convService, logger),
		Config:              &config.Config{JWTSecret: jwtSecret, AllowedOrigins: []string{"http://localhost:3000"}},
		Logger:              logger,
	})
	return &testEnv{router: router, backend: srv}
}

func jsonBackend(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, body)
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "", jsonBackend(`{}`))
	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestChatRoute_SynthesizesFrames(t *testing.T) {
	env := newTestEnv(t, "", jsonBackend(`{"output":"hello world"}`))

	rec := env.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "0:\"hello \"\n0:\"world\"\n", rec.Body.String())
}

func TestChatRoute_TextFramesOnlyWithSources(t *testing.T) {
	env := newTestEnv(t, "", jsonBackend(`{"output":"hello world","sources":[{"id":"1","title":"Docs"}]}`))

	rec := env.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0:\"hello \"\n0:\"world\"\n", rec.Body.String())

	for _, line := range strings.Split(strings.TrimSuffix(rec.Body.String(), "\n"), "\n") {
		payload, ok := strings.CutPrefix(line, "0:")
		require.True(t, ok, line)
		var text string
		require.NoError(t, json.Unmarshal([]byte(payload), &text))
	}
}

func TestChatRoute_AbortsOnBrokenBackendStream(t *testing.T) {
	const partial = "0:\"partial\"\n"
	backend := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(partial)+100))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, partial)
		w.(http.Flusher).Flush()

		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		conn.Close()
	}
	// The aborting handler logs from the server goroutine, so keep the logger off the test.
	env := newTestEnvWithLogger(t, "", backend, zap.NewNop())
	front := httptest.NewServer(env.router)
	defer front.Close()

	resp, err := http.Post(front.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err, "a broken backend stream must not end as a complete response")
	assert.Equal(t, partial, string(body))
}

func TestChatRoute_Failures(t *testing.T) {
	env := newTestEnv(t, "", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "secret stack trace", http.StatusBadGateway)
	})

	rec := env.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "Failed to process chat request", body.Error)
	assert.Contains(t, body.Details, "backend API error")
	assert.NotContains(t, body.Details, "secret stack trace")

	rec = env.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"assistant","content":"hi"}]}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "no user message found", decode[models.ErrorResponse](t, rec).Details)
}

func TestSendRoute_StreamsAndCommits(t *testing.T) {
	env := newTestEnv(t, "", jsonBackend(`{"output":"sunny today","sources":["https://w.example"]}`))

	rec := env.do(t, http.MethodPost, "/v1/chat", `{"content":"weather?"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	convID := rec.Header().Get("X-Conversation-ID")
	require.NotEmpty(t, convID)
	assert.Equal(t, "sunny today", mustDecodeText(t, rec.Body.String()))

	rec = env.do(t, http.MethodGet, "/v1/conversations/"+convID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[models.ConversationDetailResponse](t, rec)
	assert.Equal(t, "weather?", detail.Title)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, models.RoleAssistant, detail.Messages[1].Role)
	require.Len(t, detail.Messages[1].Sources, 1)
	assert.Equal(t, "https://w.example", detail.Messages[1].Sources[0].URL)

	rec = env.do(t, http.MethodGet, "/v1/current/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[models.SourcesResponse](t, rec)
	require.NotNil(t, latest.MessageID)
	assert.Equal(t, detail.Messages[1].ID, *latest.MessageID)
}

func mustDecodeText(t *testing.T, body string) string {
	t.Helper()
	text, err := stream.DecodeText(strings.NewReader(body))
	require.NoError(t, err)
	return text
}

func TestSendRoute_Errors(t *testing.T) {
	env := newTestEnv(t, "", jsonBackend(`{"output":"x"}`))

	rec := env.do(t, http.MethodPost, "/v1/chat", `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/chat", `{"conversation_id":"`+uuid.NewString()+`","content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/chat", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationRoutes(t *testing.T) {
	env := newTestEnv(t, "", jsonBackend(`{}`))

	rec := env.do(t, http.MethodPost, "/v1/conversations", `{"title":"Trip"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	conv := decode[models.Conversation](t, rec)
	assert.Equal(t, "Trip", conv.Title)

	rec = env.do(t, http.MethodPost, "/v1/conversations", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "New Chat", decode[models.Conversation](t, rec).Title)

	rec = env.do(t, http.MethodGet, "/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.ListConversationsResponse](t, rec).Conversations, 2)

	base := "/v1/conversations/" + conv.ID.String()
	rec = env.do(t, http.MethodPost, base+"/messages", `{"role":"user","content":"where to?"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	userMsg := decode[models.Message](t, rec)

	rec = env.do(t, http.MethodPost, base+"/messages", `{"role":"assistant","content":"Lisbon"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	botMsg := decode[models.Message](t, rec)

	rec = env.do(t, http.MethodPost, base+"/messages", `{"role":"system","content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/conversations?sort=recent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conv.ID, decode[models.ListConversationsResponse](t, rec).Conversations[0].ID)

	rec = env.do(t, http.MethodGet, base+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.ListMessagesResponse](t, rec).Messages, 2)

	rec = env.do(t, http.MethodPut, "/v1/messages/"+userMsg.ID.String()+"/sources", `{"sources":[{"title":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/messages/"+botMsg.ID.String()+"/sources", `{"sources":[{"title":"Guide","url":"https://g.example"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/messages/"+botMsg.ID.String()+"/sources", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message_id":"`+botMsg.ID.String()+`","sources":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/v1/messages/"+botMsg.ID.String()+"/sources", `{"sources":[{"title":"Guide","url":"https://g.example"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	echoed := decode[models.SourcesResponse](t, rec).Sources
	require.Len(t, echoed, 1)
	assert.NotEmpty(t, echoed[0].ID)

	rec = env.do(t, http.MethodGet, "/v1/messages/"+botMsg.ID.String()+"/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sources := decode[models.SourcesResponse](t, rec).Sources
	require.Len(t, sources, 1)
	assert.Equal(t, "Guide", sources[0].Title)
	assert.NotEmpty(t, sources[0].ID)

	rec = env.do(t, http.MethodGet, "/v1/messages/"+uuid.NewString()+"/sources", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/conversations/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCurrentRoutes(t *testing.T) {
	env := newTestEnv(t, "", jsonBackend(`{}`))

	rec := env.do(t, http.MethodGet, "/v1/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversation_id":null}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/conversations", `{"title":"a"}`)
	conv := decode[models.Conversation](t, rec)

	rec = env.do(t, http.MethodGet, "/v1/current", "")
	current := decode[models.CurrentResponse](t, rec)
	require.NotNil(t, current.ConversationID)
	assert.Equal(t, conv.ID, *current.ConversationID)

	rec = env.do(t, http.MethodPut, "/v1/current", `{"conversation_id":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[models.CurrentResponse](t, env.do(t, http.MethodGet, "/v1/current", "")).ConversationID)

	rec = env.do(t, http.MethodPut, "/v1/current", `{"conversation_id":"`+conv.ID.String()+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/current", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, decode[models.CurrentResponse](t, env.do(t, http.MethodGet, "/v1/current", "")).ConversationID)

	rec = env.do(t, http.MethodGet, "/v1/current/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sources":[]}`, rec.Body.String())
}

func TestV1RequiresTokenWhenConfigured(t *testing.T) {
	env := newTestEnv(t, "test-secret", jsonBackend(`{"output":"ok"}`))

	rec := env.do(t, http.MethodGet, "/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.NewAccessToken("web-ui", "test-secret", time.Hour)
	require.NoError(t, err)
	rec = env.do(t, http.MethodGet, "/v1/conversations", "", "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
