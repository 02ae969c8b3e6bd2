package llm

import "gptqual/internal/httpx"

var externalHTTPClient = httpx.ExternalHTTPClient()

const (
	defaultOpenAIModel    = "gpt-4o"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIURL      = "https://api.openai.com/v1/chat/completions"

	// DefaultMaxTokens caps every reply; long answers may come back as truncated JSON.
	DefaultMaxTokens = 100
)
