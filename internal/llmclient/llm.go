// Package llmclient holds thin provider clients for language-model calls.
// Clients only focus on the API call itself. Cross-cutting concerns
// (retries, logging, hooks) are applied via middleware in internal/llm.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var ErrInvalidJSON = errors.New("invalid json from LLM")

// Client is the non-streaming structured interface. GenerateJSON asks the
// model for an application/json response to prompt+input and returns the raw
// payload for the caller to decode.
type Client interface {
	Name() string
	Close() error
	CountTokens(text string) int
	TokenCapacity() int
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
}

// StreamClient runs one conversational model turn and delivers low-level
// stream events in arrival order. The event channel closes when the turn is
// done; at most one error is sent on the error channel.
type StreamClient interface {
	Name() string
	StreamTurn(ctx context.Context, req TurnRequest) (<-chan StreamEvent, <-chan error)
}

// TurnRequest is the input for one streamed turn.
type TurnRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// ToolSpec is the wire-level tool description sent to the model. Description
// is a contract: the model decides applicability from it.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// PermanentError indicates an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// ThrottledError indicates the provider rejected the call due to rate or
// quota limits. Retryable with backoff.
type ThrottledError struct {
	Err error
}

func (e *ThrottledError) Error() string { return e.Err.Error() }
func (e *ThrottledError) Unwrap() error { return e.Err }

func NewThrottledError(err error) error {
	return &ThrottledError{Err: err}
}

// IsThrottled reports whether err is a throttling-class failure. Besides the
// typed wrapper it recognizes the raw markers providers put in error text
// (HTTP 429, Gemini RESOURCE_EXHAUSTED) so unwrapped transport errors are
// still classified correctly.
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}
	var te *ThrottledError
	if errors.As(err, &te) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, http.StatusText(http.StatusTooManyRequests)) ||
		strings.Contains(msg, "429")
}
