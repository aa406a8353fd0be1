// Package provider abstracts the model backend: a local HTTP runner for
// production and a deterministic stub for tests. Transient failures are
// retried with exponential backoff; permanent rejections fail fast.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrRejected indicates a permanent provider error (4xx-class).
	// Never retried.
	ErrRejected = errors.New("provider rejected request")

	// ErrUnreachable indicates a transient transport failure
	// (connection refused, 5xx, timeout). Retried per policy.
	ErrUnreachable = errors.New("provider unreachable")
)

// Request is one completion request in provider wire form.
type Request struct {
	System      string   `json:"system"`
	Prompt      string   `json:"prompt"`
	Stop        []string `json:"stop,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
}

// Response is the completion result with token accounting.
type Response struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// Provider is the polymorphic model backend.
type Provider interface {
	// Complete runs one completion. The context carries cancellation
	// and the per-turn timeout; an in-flight call aborts promptly when
	// the context is cancelled.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Health reports backend reachability.
	Health(ctx context.Context) error
}
