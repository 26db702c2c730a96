package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	genai "google.golang.org/genai"

	"antshell/internal/llm"
	"antshell/internal/logging"
)

// Client adapts the Gemini API to llm.Client.
type Client struct {
	client *genai.Client
	logger *log.Logger
}

// Options configures NewClient. BaseURL is only set by tests and proxies.
type Options struct {
	APIKey  string
	BaseURL string
	Logger  *log.Logger
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	gc, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Logger
	}
	return &Client{client: gc, logger: logger}, nil
}

// Chat executes a single generateContent call.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	var out llm.ChatResponse

	contents, system := convertMessages(req.Messages)
	if len(contents) == 0 {
		return out, errors.New("gemini: no user or model messages to send")
	}
	cfg := &genai.GenerateContentConfig{}
	if system != nil {
		cfg.SystemInstruction = system
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}

	model := normalizeModel(req.Model)
	c.logger.Printf("sending %d messages to model %s", len(contents), model)
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		if pe := providerError(err); pe != nil {
			logging.ErrorLog("gemini API error: %s %s", pe.Code, pe.Message)
			return out, pe
		}
		return out, fmt.Errorf("gemini request failed: %w", err)
	}
	out = convertResponse(resp)
	logging.DevLog("gemini: received response with %d choices", len(out.Choices))
	return out, nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	return strings.TrimPrefix(model, "models/")
}

// convertMessages maps chat roles onto Gemini roles. System messages are
// joined into the system instruction.
func convertMessages(msgs []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system []string
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, m.Content)
		case "assistant", "agent", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) == 0 {
		return contents, nil
	}
	return contents, genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
}

func convertResponse(resp *genai.GenerateContentResponse) llm.ChatResponse {
	var out llm.ChatResponse
	if resp == nil {
		return out
	}
	for i, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        i,
			Message:      llm.Message{Role: "assistant", Content: collectText(cand.Content)},
			FinishReason: string(cand.FinishReason),
		})
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out
}

func collectText(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func providerError(err error) *llm.ProviderError {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return nil
		}
		apiErr = *ptr
	}
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Status
	}
	errType := llm.ClassifyStatus(apiErr.Code)
	if apiErr.Status == "RESOURCE_EXHAUSTED" && errType == llm.ErrorTypeUnknown {
		errType = llm.ErrorTypeRateLimit
	}
	return llm.NewProviderError("gemini", errType, strconv.Itoa(apiErr.Code), msg)
}
