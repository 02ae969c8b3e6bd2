package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// CompletionRequest is one outbound call. APIKey, when set, replaces the
// provider's configured key for this call only.
type CompletionRequest struct {
	System    string
	User      string
	MaxTokens int64
	JSON      bool
	APIKey    string
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Completer sends a single prompt to a completion provider and returns the raw reply text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, Usage, error)
	Provider() string
	Model() string
}

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s API error: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func isAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// NewCompleter picks the provider implementation by name.
func NewCompleter(provider, model, openAIKey, openAIBaseURL, anthropicKey string) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "openai":
		return &OpenAICompleter{APIKey: openAIKey, BaseURL: openAIBaseURL, ModelName: model}, nil
	case "anthropic":
		return &AnthropicCompleter{APIKey: anthropicKey, ModelName: model}, nil
	default:
		return nil, fmt.Errorf("llm_provider must be 'anthropic' or 'openai', got '%s'", provider)
	}
}
