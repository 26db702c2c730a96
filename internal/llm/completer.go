package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"antshell/internal/logging"
)

// PromptClient adapts a chat Client to the Completer boundary by sending the
// composed prompt as a single user message.
type PromptClient struct {
	Client      Client
	Model       string
	Temperature float64
	// Timeout bounds one completion; zero leaves the deadline to the caller.
	Timeout time.Duration
}

// Complete sends prompt to the model and returns the first choice's text.
// Every failure is returned as a *TransportError.
func (p PromptClient) Complete(ctx context.Context, prompt string) (string, error) {
	if p.Client == nil {
		return "", &TransportError{Op: "model", Err: errors.New("llm client missing")}
	}
	callCtx := ctx
	cancel := func() {}
	if p.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
	}
	defer cancel()

	start := time.Now()
	resp, err := p.Client.Chat(callCtx, ChatRequest{
		Model:       strings.TrimSpace(p.Model),
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: p.Temperature,
	})
	logging.DevLog("model call finished in %s: err=%v", time.Since(start).Round(time.Millisecond), err)
	if err != nil {
		return "", wrapTransport("model", err)
	}
	if len(resp.Choices) == 0 {
		return "", &TransportError{Op: "model", Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleterFunc lets plain functions satisfy Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
