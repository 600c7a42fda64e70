package services

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay-backend/internal/auth"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/relay"
	"chatrelay-backend/internal/store"
	"chatrelay-backend/internal/store/memory"
	"chatrelay-backend/internal/stream"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newChatService(t *testing.T, status int, contentType, body string) (*ChatService, *memory.MemoryStore) {
	t.Helper()
	return newChatServiceWithLogger(t, zaptest.NewLogger(t), status, contentType, body)
}

func newChatServiceWithLogger(t *testing.T, logger *zap.Logger, status int, contentType, body string) (*ChatService, *memory.MemoryStore) {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(backend.Close)

	st := memory.New()
	adapter := relay.NewAdapter(relay.NewClient(backend.URL, relay.ClientOptions{}, logger), 0, logger)
	return NewChatService(st, adapter, logger), st
}

func TestChatService_SendCreatesConversationAndCommits(t *testing.T) {
	ctx := context.Background()
	svc, st := newChatService(t, http.StatusOK, "application/json",
		`{"output":"It is sunny","sources":[{"id":"w1","title":"Weather","url":"https://w.example","snippet":"sun"}]}`)

	pending, err := svc.Send(ctx, models.SendMessageRequest{Content: "How is the weather today in the city?"})
	require.NoError(t, err)
	assert.Equal(t, "How is the weather today in the city?", pending.Conversation.Title)

	var out bytes.Buffer
	msg, err := svc.Deliver(ctx, pending, &out)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "It is sunny", msg.Content)
	assert.Equal(t, models.RoleAssistant, msg.Role)

	msgs, _ := st.ListMessages(ctx, pending.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)

	sources, _ := st.GetSources(ctx, msg.ID)
	assert.Equal(t, []models.Source{{ID: "w1", Title: "Weather", URL: "https://w.example", Snippet: "sun"}}, sources)

	current, _ := st.CurrentConversation(ctx)
	require.NotNil(t, current)
	assert.Equal(t, pending.Conversation.ID, *current)
}

func TestChatService_SendReusesCurrent(t *testing.T) {
	ctx := context.Background()
	svc, st := newChatService(t, http.StatusOK, "application/json", `{"output":"ok"}`)

	first, err := svc.Send(ctx, models.SendMessageRequest{Content: "one"})
	require.NoError(t, err)
	_, err = svc.Deliver(ctx, first, io.Discard)
	require.NoError(t, err)

	second, err := svc.Send(ctx, models.SendMessageRequest{Content: "two"})
	require.NoError(t, err)
	assert.Equal(t, first.Conversation.ID, second.Conversation.ID)
	require.NoError(t, second.Close())

	convs, _ := st.ListConversations(ctx)
	assert.Len(t, convs, 1)
}

func TestChatService_SendExplicitConversation(t *testing.T) {
	ctx := context.Background()
	svc, st := newChatService(t, http.StatusOK, "application/json", `{"output":"ok"}`)

	target, _ := st.CreateConversation(ctx, "target")
	_, _ = st.CreateConversation(ctx, "other")

	pending, err := svc.Send(ctx, models.SendMessageRequest{ConversationID: &target.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, target.ID, pending.Conversation.ID)
	require.NoError(t, pending.Close())

	current, _ := st.CurrentConversation(ctx)
	assert.Equal(t, target.ID, *current)

	missing := uuid.New()
	_, err = svc.Send(ctx, models.SendMessageRequest{ConversationID: &missing, Content: "hi"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChatService_DanglingCurrentStartsFresh(t *testing.T) {
	ctx := context.Background()
	svc, st := newChatService(t, http.StatusOK, "application/json", `{"output":"ok"}`)
	dangling := uuid.New()
	require.NoError(t, st.SetCurrentConversation(ctx, &dangling))

	pending, err := svc.Send(ctx, models.SendMessageRequest{Content: "hi"})
	require.NoError(t, err)
	assert.NotEqual(t, dangling, pending.Conversation.ID)
	require.NoError(t, pending.Close())
}

func TestChatService_BackendFailureKeepsOnlyUserMessage(t *testing.T) {
	ctx := context.Background()
	svc, st := newChatService(t, http.StatusInternalServerError, "text/plain", "boom")

	_, err := svc.Send(ctx, models.SendMessageRequest{Content: "hello"})
	require.ErrorIs(t, err, relay.ErrBackend)

	current, _ := st.CurrentConversation(ctx)
	require.NotNil(t, current)
	msgs, _ := st.ListMessages(ctx, *current)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestChatService_StreamFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	svc, st := newChatService(t, http.StatusOK, "application/json", `{"output":"never stored"}`)

	pending, err := svc.Send(ctx, models.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	msg, err := svc.Deliver(ctx, pending, brokenWriter{})
	assert.Error(t, err)
	assert.Nil(t, msg)

	msgs, _ := st.ListMessages(ctx, pending.Conversation.ID)
	assert.Len(t, msgs, 1)
}

func TestChatService_PassthroughCommitsCollectedText(t *testing.T) {
	ctx := context.Background()
	svc, st := newChatService(t, http.StatusOK, "text/event-stream", "0:\"streamed \"\n0:\"reply\"\n")

	pending, err := svc.Send(ctx, models.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	var out bytes.Buffer
	msg, err := svc.Deliver(ctx, pending, &out)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "streamed reply", msg.Content)
	assert.Equal(t, "0:\"streamed \"\n0:\"reply\"\n", out.String())

	msgs, _ := st.ListMessages(ctx, pending.Conversation.ID)
	assert.Len(t, msgs, 2)
}

func TestChatService_EmptyContent(t *testing.T) {
	svc, _ := newChatService(t, http.StatusOK, "application/json", `{"output":"x"}`)
	_, err := svc.Send(context.Background(), models.SendMessageRequest{Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestChatService_DeliverSendsSourcesFrameAndLogsClient(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc, _ := newChatServiceWithLogger(t, zap.New(core), http.StatusOK, "application/json",
		`{"output":"see docs","sources":[{"id":"d1","title":"Docs"}]}`)
	ctx := auth.WithClientID(context.Background(), "web-ui")

	pending, err := svc.Send(ctx, models.SendMessageRequest{Content: "docs?"})
	require.NoError(t, err)

	var out bytes.Buffer
	_, err = svc.Deliver(ctx, pending, &out)
	require.NoError(t, err)

	first, err := stream.NewDecoder(&out).Next()
	require.NoError(t, err)
	assert.Equal(t, stream.TagData, first.Tag)

	committed := logs.FilterMessage("Reply committed").All()
	require.Len(t, committed, 1)
	assert.Equal(t, "web-ui", committed[0].ContextMap()["client_id"])
}
