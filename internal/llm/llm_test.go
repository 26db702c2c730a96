package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"antshell/internal/llm"
	"antshell/internal/llm/mockclient"
)

func TestPromptClientSendsSingleUserMessage(t *testing.T) {
	client := mockclient.NewScripted("<cmd>\nshow version\n</cmd>")
	pc := llm.PromptClient{Client: client, Model: " mock-model ", Temperature: 0.2}

	out, err := pc.Complete(context.Background(), "PROMPT TEXT")
	require.NoError(t, err)
	assert.Equal(t, "<cmd>\nshow version\n</cmd>", out)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "mock-model", calls[0].Model)
	require.Len(t, calls[0].Messages, 1)
	assert.Equal(t, "user", calls[0].Messages[0].Role)
	assert.Equal(t, "PROMPT TEXT", calls[0].Messages[0].Content)
}

func TestPromptClientWrapsFailuresAsTransportErrors(t *testing.T) {
	client := mockclient.New()
	client.FailNext(llm.NewProviderError("openrouter", llm.ErrorTypeRateLimit, "429", "slow down"))
	pc := llm.PromptClient{Client: client}

	_, err := pc.Complete(context.Background(), "x")
	require.Error(t, err)
	te, ok := llm.IsTransportError(err)
	require.True(t, ok)
	assert.Equal(t, "model", te.Op)
	assert.True(t, te.Retryable())
	pe, ok := llm.IsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, llm.ErrorTypeRateLimit, pe.Type)
}

func TestPromptClientTimeoutIsFlagged(t *testing.T) {
	slow := llm.CompleterFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := slow.Complete(ctx, "x")
	wrapped := llm.WrapTransport("model", err)
	te, ok := llm.IsTransportError(wrapped)
	require.True(t, ok)
	assert.True(t, te.Timeout)
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
}

func TestCancelledCallIsNotRetryable(t *testing.T) {
	err := llm.WrapTransport("model", context.Canceled)
	te, ok := llm.IsTransportError(err)
	require.True(t, ok)
	assert.False(t, te.Retryable())
}

func TestClassifyStatus(t *testing.T) {
	tests := map[int]llm.ErrorType{
		401: llm.ErrorTypeAuth,
		402: llm.ErrorTypeQuotaExceeded,
		403: llm.ErrorTypeModeration,
		429: llm.ErrorTypeRateLimit,
		503: llm.ErrorTypeProviderDown,
		418: llm.ErrorTypeUnknown,
	}
	for status, want := range tests {
		assert.Equal(t, want, llm.ClassifyStatus(status), "status %d", status)
	}
}

func TestSwitcherRoutesToActiveProvider(t *testing.T) {
	a := mockclient.NewScripted("from a")
	b := mockclient.NewScripted("from b")
	sw, err := llm.NewSwitcher("missing", []llm.ProviderRegistration{
		{Option: llm.ProviderOption{Key: "b", Label: "B", Model: "model-b"}, Client: b},
		{Option: llm.ProviderOption{Key: "a", Label: "A", Model: "model-a"}, Client: a},
	})
	require.NoError(t, err)
	assert.Equal(t, "a", sw.Active().Key)

	out, err := llm.PromptClient{Client: sw, Model: "ignored"}.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "from a", out)
	assert.Equal(t, "model-a", a.Calls()[0].Model)

	require.NoError(t, sw.SetActive("b"))
	out, err = llm.PromptClient{Client: sw}.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "from b", out)

	assert.Error(t, sw.SetActive("zai"))
	opts := sw.Options()
	require.Len(t, opts, 2)
	assert.Equal(t, "a", opts[0].Key)

	_, err = llm.NewSwitcher("a", nil)
	assert.Error(t, err)
}
