package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	genai "google.golang.org/genai"

	"antshell/internal/llm"
)

func TestConvertMessages(t *testing.T) {
	contents, system := convertMessages([]llm.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "show version"},
		{Role: "assistant", Content: "<cmd>show version</cmd>"},
		{Role: "user", Content: "   "},
	})
	require.Len(t, contents, 2)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.NotNil(t, system)
	assert.Equal(t, "be brief", system.Parts[0].Text)
}

func TestNormalizeModel(t *testing.T) {
	assert.Equal(t, "gemini-2.0-flash", normalizeModel(" models/gemini-2.0-flash "))
}

func TestChatRoundTrip(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"<cmd>show clock</cmd>"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3,"totalTokenCount":10}}`)
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Options{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), llm.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []llm.Message{{Role: "user", Content: "what time is it"}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(gotPath, "models/gemini-2.0-flash:generateContent"), gotPath)
	assert.Contains(t, gotBody, "contents")
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "<cmd>show clock</cmd>", resp.Choices[0].Message.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
}

func TestChatMapsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":401,"message":"API key not valid","status":"UNAUTHENTICATED"}}`)
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Options{APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), llm.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	pe, ok := llm.IsProviderError(err)
	require.True(t, ok, "got %T: %v", err, err)
	assert.Equal(t, llm.ErrorTypeAuth, pe.Type)
	assert.Equal(t, "401", pe.Code)
	assert.False(t, pe.Retryable)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Options{})
	require.Error(t, err)
}
