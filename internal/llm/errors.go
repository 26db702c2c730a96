package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies provider errors for UI handling
type ErrorType string

const (
	ErrorTypeRateLimit     ErrorType = "rate_limit"     // 429 - too many requests
	ErrorTypeQuotaExceeded ErrorType = "quota_exceeded" // usage limit
	ErrorTypeProviderDown  ErrorType = "provider_down"  // 502/503 - upstream issue
	ErrorTypeAuth          ErrorType = "auth"           // 401 - bad API key
	ErrorTypeModeration    ErrorType = "moderation"     // 403 - content flagged
	ErrorTypeUnknown       ErrorType = "unknown"        // Fallback
)

// ProviderError is a structured error returned by LLM clients
type ProviderError struct {
	Type       ErrorType      // Classification
	Provider   string         // "openrouter", "gemini"
	Code       string         // Raw error code ("429")
	Message    string         // Human-readable message
	RetryAfter *time.Duration // How long to wait (if known)
	Retryable  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a new ProviderError with the given parameters
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:      errType,
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: errType == ErrorTypeRateLimit || errType == ErrorTypeProviderDown,
	}
}

// ClassifyStatus maps an HTTP status code to an ErrorType.
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == 401:
		return ErrorTypeAuth
	case status == 402:
		return ErrorTypeQuotaExceeded
	case status == 403:
		return ErrorTypeModeration
	case status == 429:
		return ErrorTypeRateLimit
	case status >= 500:
		return ErrorTypeProviderDown
	default:
		return ErrorTypeUnknown
	}
}

// TransportError reports a failed or timed-out call to an external
// collaborator. The caller decides whether to retry.
type TransportError struct {
	Op      string // "model" or "terminal"
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s call timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s call failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the same call could succeed.
func (e *TransportError) Retryable() bool {
	if e.Timeout {
		return true
	}
	if pe, ok := IsProviderError(e.Err); ok {
		return pe.Retryable
	}
	return !errors.Is(e.Err, context.Canceled)
}

// IsTransportError checks if err is a TransportError and returns it
func IsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// WrapTransport wraps err as a TransportError for op unless it already is one.
func WrapTransport(op string, err error) error {
	return wrapTransport(op, err)
}

func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := IsTransportError(err); ok {
		return err
	}
	return &TransportError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}
