package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepromptu/codepromptu/internal/config"
	"github.com/codepromptu/codepromptu/internal/conversation"
	"github.com/codepromptu/codepromptu/internal/embedding"
	"github.com/codepromptu/codepromptu/internal/monitoring"
	"github.com/codepromptu/codepromptu/internal/similarity"
	"github.com/codepromptu/codepromptu/internal/store"
)

type testEnv struct {
	handler    http.Handler
	mem        *store.MemoryStore
	prompts    *store.Service
	correlator *conversation.Correlator
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemoryStore(100)
	embedder := embedding.NewServiceWithBackend(embedding.NewStubBackend(128), 128, 8000, time.Second)
	metrics := monitoring.NewMetrics()
	prompts := store.NewService(mem, embedder, metrics)
	t.Cleanup(func() { prompts.Shutdown(context.Background()) })
	engine := similarity.NewEngine(mem, embedder, config.Default().Similarity)
	correlator := conversation.NewCorrelator(mem, 30*time.Minute)

	srv := NewServer(prompts, engine, correlator, metrics, config.ServerConfig{})
	return &testEnv{
		handler:    srv.Router(),
		mem:        mem,
		prompts:    prompts,
		correlator: correlator,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) createPrompt(t *testing.T, content string) *store.Prompt {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/prompts", map[string]any{"content": content})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var p store.Prompt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return &p
}

func TestCreateAndGetPrompt(t *testing.T) {
	env := newTestServer(t)

	created := env.createPrompt(t, "review this pull request for security issues")
	assert.Equal(t, 1, created.Version)
	assert.True(t, created.IsActive)

	rr := env.do(t, http.MethodGet, "/prompts/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var got store.Prompt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Content, got.Content)
}

func TestCreatePromptValidation(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodPost, "/prompts", map[string]any{"author": "ada"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "content is required")

	rr = env.do(t, http.MethodPost, "/prompts", map[string]any{"content": "x", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "unknown fields are rejected")
}

func TestGetPromptNotFound(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodGet, "/prompts/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/prompts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdatePromptVersioning(t *testing.T) {
	env := newTestServer(t)
	created := env.createPrompt(t, "original content")

	rr := env.do(t, http.MethodPut, "/prompts/"+created.ID.String(), map[string]any{
		"content": "revised content",
		"version": 1,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated store.Prompt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, 2, updated.Version)

	// A writer holding the old version loses.
	rr = env.do(t, http.MethodPut, "/prompts/"+created.ID.String(), map[string]any{
		"content": "conflicting edit",
		"version": 1,
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRetirePrompt(t *testing.T) {
	env := newTestServer(t)
	created := env.createPrompt(t, "to be retired")

	rr := env.do(t, http.MethodDelete, "/prompts/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	// Retired prompts stay readable but drop out of listings.
	rr = env.do(t, http.MethodGet, "/prompts/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/prompts", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var listed []*store.Prompt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestForkPrompt(t *testing.T) {
	env := newTestServer(t)
	parent := env.createPrompt(t, "parent prompt content")

	rr := env.do(t, http.MethodPost, "/prompts/"+parent.ID.String()+"/fork", map[string]any{
		"content": "child prompt content",
		"author":  "ada",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var child store.Prompt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &child))
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, 1, child.Version)

	rr = env.do(t, http.MethodGet, "/prompts/"+child.ID.String()+"/ancestors", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var chain []*store.Prompt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &chain))
	require.Len(t, chain, 1)
	assert.Equal(t, parent.ID, chain[0].ID)
}

func TestListPromptsFilters(t *testing.T) {
	env := newTestServer(t)
	for i := 0; i < 3; i++ {
		env.createPrompt(t, fmt.Sprintf("prompt number %d", i))
	}

	rr := env.do(t, http.MethodGet, "/prompts?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var listed []*store.Prompt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)
}

func TestClassifyEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.createPrompt(t, "summarize the incident report for the postmortem")
	require.NoError(t, env.prompts.Shutdown(context.Background())) // let embeddings land

	rr := env.do(t, http.MethodPost, "/prompts/classify", map[string]any{
		"text": "summarize the incident report for the postmortem",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result similarity.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, similarity.ClassSame, result.Classification)

	rr = env.do(t, http.MethodPost, "/prompts/classify", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSearchSimilarEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.createPrompt(t, "draft a welcome email for new customers")
	require.NoError(t, env.prompts.Shutdown(context.Background()))

	rr := env.do(t, http.MethodPost, "/prompts/search/similar", map[string]any{
		"text":  "draft a welcome email for new clients",
		"limit": 5,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var results []store.SimilarPrompt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSimilarToPromptEndpoint(t *testing.T) {
	env := newTestServer(t)
	anchor := env.createPrompt(t, "translate this paragraph into french")
	neighbor := env.createPrompt(t, "translate this paragraph into german")
	require.NoError(t, env.prompts.Shutdown(context.Background()))

	rr := env.do(t, http.MethodGet, "/prompts/"+anchor.ID.String()+"/similar?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var results []store.SimilarPrompt
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 1, "the anchor itself is excluded")
	assert.Equal(t, neighbor.ID, results[0].Prompt.ID)

	rr = env.do(t, http.MethodGet, "/prompts/"+uuid.NewString()+"/similar", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestServer(t)
	ctx := context.Background()

	_, err := env.correlator.Record(ctx, conversation.Message{
		CorrelationID: "corr-api",
		Type:          store.MessagePrompt,
		Content:       "hello",
	})
	require.NoError(t, err)
	sess, err := env.mem.GetSessionByCorrelation(ctx, "corr-api")
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/conversations/sessions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sessions []*store.ConversationSession
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 1)

	rr = env.do(t, http.MethodGet, "/conversations/sessions/"+sess.ID.String()+"/messages", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []*store.ConversationMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	rr = env.do(t, http.MethodPost, "/conversations/sessions/"+sess.ID.String()+"/close", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	got, err := env.mem.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionClosed, got.Status)
}

func TestIngestUsageEndpoint(t *testing.T) {
	env := newTestServer(t)

	payload := map[string]any{
		"request_id":     "req-manual-1",
		"correlation_id": "corr-manual-1",
		"provider":       "OPENAI",
		"model":          "gpt-4",
		"api_key_hash":   "0123456789abcdef",
	}
	rr := env.do(t, http.MethodPost, "/internal/prompt-usage", payload)
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	n, err := env.mem.CountUsagesByRequestID(context.Background(), "req-manual-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Bad provider enum.
	payload["provider"] = "AZURE"
	payload["request_id"] = "req-manual-2"
	rr = env.do(t, http.MethodPost, "/internal/prompt-usage", payload)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestServer(t)

	rr := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
