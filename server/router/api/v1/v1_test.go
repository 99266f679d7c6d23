package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/loom/ai"
	"github.com/hrygo/loom/ai/metrics"
	"github.com/hrygo/loom/internal/profile"
	"github.com/hrygo/loom/server/auth"
	"github.com/hrygo/loom/server/router/api/v1/chat"
	"github.com/hrygo/loom/store"
	"github.com/hrygo/loom/store/db/sqlite"
)

// scriptedLLM plays back a fixed completion stream.
type scriptedLLM struct {
	text string
}

func (m *scriptedLLM) Complete(context.Context, string, []ai.Message, ai.Sampling) (string, *ai.CallStats, error) {
	return m.text, &ai.CallStats{}, nil
}

func (m *scriptedLLM) DefaultModel() string { return "scripted-model" }

func (m *scriptedLLM) Warmup(context.Context) {}

func (m *scriptedLLM) Stream(context.Context, string, []ai.Message, ai.Sampling) (<-chan ai.Delta, <-chan *ai.StreamResult, <-chan error) {
	deltaChan := make(chan ai.Delta, 1)
	resultChan := make(chan *ai.StreamResult, 1)
	errChan := make(chan error, 1)

	deltaChan <- ai.Delta{Text: m.text}
	close(deltaChan)
	resultChan <- &ai.StreamResult{
		FinishReason: "stop",
		Stats:        &ai.CallStats{PromptTokens: 4, CompletionTokens: 2},
	}
	close(resultChan)
	close(errChan)
	return deltaChan, resultChan, errChan
}

func newTestService(t *testing.T, mode string) (*APIV1Service, *echo.Echo) {
	t.Helper()

	p := &profile.Profile{Mode: mode, Driver: "sqlite", DSN: "file::memory:", SessionTTL: 3600, Version: "test"}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))

	llm := &scriptedLLM{text: "Hello from the model"}
	thread := chat.NewThreadService(s)
	exporter := metrics.NewExporter()
	service := &APIV1Service{
		Profile:    p,
		Store:      s,
		Sessions:   auth.NewMemorySessionStore(time.Hour),
		Exporter:   exporter,
		thread:     thread,
		artifacts:  chat.NewArtifactService(s),
		controller: chat.NewStreamController(s, thread, llm, nil, nil, exporter),
	}

	e := echo.New()
	service.RegisterRoutes(e)
	return service, e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newSessionToken(t *testing.T, e *echo.Echo) string {
	t.Helper()

	rec := doJSON(t, e, http.MethodPost, "/api/v1/sessions", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestSessionRequired(t *testing.T) {
	_, e := newTestService(t, "prod")

	rec := doJSON(t, e, http.MethodGet, "/api/v1/conversations", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/conversations", "bogus-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := newSessionToken(t, e)
	rec = doJSON(t, e, http.MethodGet, "/api/v1/conversations", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDemoModeSkipsAuth(t *testing.T) {
	_, e := newTestService(t, "demo")

	rec := doJSON(t, e, http.MethodGet, "/api/v1/conversations", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConversationLifecycle(t *testing.T) {
	_, e := newTestService(t, "demo")

	rec := doJSON(t, e, http.MethodPost, "/api/v1/conversations", "", `{"title":"Planning"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created conversationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Planning", created.Title)
	assert.Equal(t, store.TitleSourceUser, created.TitleSource)

	// An empty title falls back to the default.
	rec = doJSON(t, e, http.MethodPost, "/api/v1/conversations", "", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var blank conversationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blank))
	assert.Equal(t, store.DefaultConversationTitle, blank.Title)
	assert.Equal(t, store.TitleSourceDefault, blank.TitleSource)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/conversations", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*conversationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = doJSON(t, e, http.MethodPatch, "/api/v1/conversations/1", "", `{"pinned":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated conversationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.True(t, updated.Pinned)

	// Archiving removes the conversation from the default listing.
	rec = doJSON(t, e, http.MethodPatch, "/api/v1/conversations/2", "", `{"archived":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/conversations", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, int32(1), list[0].ID)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/conversations?archived=true", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, int32(2), list[0].ID)

	rec = doJSON(t, e, http.MethodDelete, "/api/v1/conversations/2", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/conversations/2", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamMessageSSE(t *testing.T) {
	_, e := newTestService(t, "demo")

	rec := doJSON(t, e, http.MethodPost, "/api/v1/conversations", "", `{"title":"Chat"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/conversations/1/messages", "", `{"content":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	body := rec.Body.String()
	assert.Contains(t, body, "event: "+chat.EventUserMessage)
	assert.Contains(t, body, "event: "+chat.EventContentDelta)
	assert.Contains(t, body, "event: "+chat.EventMessageComplete)
	assert.Contains(t, body, "Hello from the model")

	// The turn persisted both sides of the exchange.
	rec = doJSON(t, e, http.MethodGet, "/api/v1/conversations/1/messages?order=asc", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var window messageWindowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &window))
	require.Len(t, window.Messages, 2)
	assert.Equal(t, store.RoleUser, window.Messages[0].Role)
	assert.Equal(t, store.RoleAssistant, window.Messages[1].Role)
}

func TestStreamMessageUnknownConversation(t *testing.T) {
	_, e := newTestService(t, "demo")

	rec := doJSON(t, e, http.MethodPost, "/api/v1/conversations/99/messages", "", `{"content":"Hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditMessageEndpoint(t *testing.T) {
	_, e := newTestService(t, "demo")

	doJSON(t, e, http.MethodPost, "/api/v1/conversations", "", `{"title":"Chat"}`)
	rec := doJSON(t, e, http.MethodPost, "/api/v1/conversations/1/messages", "", `{"content":"first question"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Only user messages are editable.
	rec = doJSON(t, e, http.MethodPatch, "/api/v1/messages/2", "", `{"content":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, e, http.MethodPatch, "/api/v1/messages/1", "", `{"content":"revised question"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp editMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "revised question", resp.Message.Content)
	assert.Equal(t, int64(1), resp.TruncatedCount)

	// The edit truncated everything after the message.
	rec = doJSON(t, e, http.MethodGet, "/api/v1/conversations/1/messages", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var window messageWindowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &window))
	assert.Len(t, window.Messages, 1)
}
