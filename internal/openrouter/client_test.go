package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"antshell/internal/llm"
)

func TestChatSendsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req llm.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek/deepseek-chat-v3-0324", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "prompt", req.Messages[0].Content)
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"<cmd>\nshow clock\n</cmd>"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/v1/", "sk-test", 5*time.Second, nil)
	resp, err := c.Chat(context.Background(), llm.ChatRequest{
		Model:    "deepseek/deepseek-chat-v3-0324",
		Messages: []llm.Message{{Role: "user", Content: "prompt"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "<cmd>\nshow clock\n</cmd>", resp.Choices[0].Message.Content)
}

func TestChatClassifiesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit exceeded","code":429}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", 5*time.Second, nil)
	_, err := c.Chat(context.Background(), llm.ChatRequest{Model: "m"})
	pe, ok := llm.IsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorTypeRateLimit, pe.Type)
	assert.Equal(t, "Rate limit exceeded", pe.Message)
	assert.True(t, pe.Retryable)
	require.NotNil(t, pe.RetryAfter)
	assert.Equal(t, 7*time.Second, *pe.RetryAfter)

	_, err = llm.PromptClient{Client: c}.Complete(context.Background(), "x")
	te, ok := llm.IsTransportError(err)
	require.True(t, ok)
	assert.True(t, te.Retryable())
}

func TestChatAuthErrorNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk-bad", time.Second, nil).Chat(context.Background(), llm.ChatRequest{})
	pe, ok := llm.IsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorTypeAuth, pe.Type)
	assert.Equal(t, "bad key", pe.Message)
	assert.False(t, pe.Retryable)
}
