package llm

import (
	"context"
	"errors"
	"strings"
)

// Request is a single-turn completion request. Every pipeline agent is a
// one-shot prompt, so there is no conversation history here.
type Request struct {
	Model       string
	System      string
	Prompt      string
	JSONOutput  bool // ask the backend for a JSON-only response
	Temperature float32
	MaxTokens   int32
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ErrEmptyResponse indicates the backend returned no usable text. Treated as
// retryable by the structured client.
var ErrEmptyResponse = errors.New("llm: backend returned empty response")

// retryableFragments matches the transient failure modes the generation
// backend is known to emit: rate limits, overload, and timeouts.
var retryableFragments = []string{
	"429",
	"500",
	"503",
	"RESOURCE_EXHAUSTED",
	"UNAVAILABLE",
	"INTERNAL",
	"DeadlineExceeded",
	"deadline exceeded",
	"timeout",
}

// IsRetryable reports whether err looks like a transient backend failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}
	msg := err.Error()
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
