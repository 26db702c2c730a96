package mockclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"antshell/internal/llm"
)

// Client is a deterministic llm.Client used for tests, CI and ANTSHELL_MOCK_LLM=1.
// Scripted replies are returned in order; once exhausted it echoes the last
// user message.
type Client struct {
	mu      sync.Mutex
	prefix  string
	replies []string
	errs    []error
	calls   []llm.ChatRequest
}

// New returns a mock client that echoes the last user message.
func New() *Client {
	return &Client{prefix: "MOCK"}
}

// NewScripted returns a mock client that replies with the given texts in order.
func NewScripted(replies ...string) *Client {
	c := New()
	c.replies = append(c.replies, replies...)
	return c
}

// FailNext queues an error returned by the next Chat call before any scripted reply.
func (c *Client) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// Calls returns the requests received so far.
func (c *Client) Calls() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.ChatRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

// Chat satisfies the llm.Client interface.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return llm.ChatResponse{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)

	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return llm.ChatResponse{}, err
	}

	response := llm.Message{Role: "assistant"}
	switch {
	case len(c.replies) > 0:
		response.Content = c.replies[0]
		c.replies = c.replies[1:]
	case len(req.Messages) > 0:
		last := strings.TrimSpace(req.Messages[len(req.Messages)-1].Content)
		if last == "" {
			response.Content = fmt.Sprintf("%s RESPONSE", c.prefix)
		} else {
			response.Content = fmt.Sprintf("%s RESPONSE: %s", c.prefix, firstLine(last))
		}
	default:
		response.Content = fmt.Sprintf("%s RESPONSE", c.prefix)
	}

	return llm.ChatResponse{
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				Message:      response,
				FinishReason: "stop",
			},
		},
		Usage: &llm.Usage{
			PromptTokens:     42,
			CompletionTokens: 7,
			TotalTokens:      49,
		},
	}, nil
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
