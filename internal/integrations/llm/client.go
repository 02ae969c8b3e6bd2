package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"

	"gptqual/internal/domain"
	"gptqual/internal/prompt"
)

// InvalidJSONMessage is the marker stored under "error" when a reply does not parse.
const InvalidJSONMessage = "Invalid JSON response from API"

// CallError classifies a failed call so front ends can tell a bad key or a
// network problem apart from a model that answered with broken JSON.
type CallError struct {
	Kind domain.ErrorKind
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call failed (%s): %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind carried by err, or transport for unclassified errors.
func KindOf(err error) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindNone
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	return domain.ErrorKindTransport
}

// Response is the decoded reply of one call.
type Response struct {
	Fields      map[string]any
	PromptChars int
	ReplyChars  int
	Usage       Usage
}

// Lookup renders the value under key as a table cell. A missing or null key is absent.
func (r Response) Lookup(key string) (string, bool) {
	v, ok := r.Fields[key]
	if !ok || v == nil {
		return "", false
	}
	return renderValue(v), true
}

// Client wraps a Completer with the fixed request shape, reply parsing and the audit log.
type Client struct {
	Completer Completer
	MaxTokens int64
	Audit     *log.Logger
}

func NewClient(completer Completer, maxTokens int64, audit *log.Logger) *Client {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Client{Completer: completer, MaxTokens: maxTokens, Audit: audit}
}

func (c *Client) Provider() string { return c.Completer.Provider() }
func (c *Client) Model() string    { return c.Completer.Model() }

// Call sends exactly one request. A reply that is not a JSON object yields
// Fields {"error": InvalidJSONMessage} together with a malformed CallError.
func (c *Client) Call(ctx context.Context, userPrompt, apiKey string) (Response, error) {
	resp := Response{PromptChars: utf8.RuneCountInString(userPrompt)}

	text, usage, err := c.Completer.Complete(ctx, CompletionRequest{
		System:    prompt.SystemInstruction,
		User:      userPrompt,
		MaxTokens: c.MaxTokens,
		JSON:      true,
		APIKey:    apiKey,
	})
	resp.Usage = usage
	if err != nil {
		return resp, &CallError{Kind: classifyTransportError(err), Err: err}
	}

	resp.ReplyChars = utf8.RuneCountInString(text)
	c.audit("Completed %s API call with input characters: %d and output characters: %d", c.Provider(), resp.PromptChars, resp.ReplyChars)

	fields, parseErr := parseJSONObject(text)
	if parseErr != nil {
		resp.Fields = map[string]any{"error": InvalidJSONMessage}
		return resp, &CallError{Kind: domain.ErrorKindMalformed, Err: parseErr}
	}
	resp.Fields = fields
	return resp, nil
}

func (c *Client) audit(format string, args ...any) {
	if c.Audit == nil {
		return
	}
	c.Audit.Printf("INFO - "+format, args...)
}

func classifyTransportError(err error) domain.ErrorKind {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && isAuthStatus(statusErr.StatusCode) {
		return domain.ErrorKindAuth
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && isAuthStatus(apiErr.StatusCode) {
		return domain.ErrorKindAuth
	}
	return domain.ErrorKindTransport
}

func parseJSONObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("parsing model reply: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("parsing model reply: not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("parsing model reply: trailing data after JSON object")
	}
	return fields, nil
}

// renderValue turns a decoded JSON value into the cell text: booleans become
// "True"/"False", numbers keep their literal form, composites are re-encoded.
func renderValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
