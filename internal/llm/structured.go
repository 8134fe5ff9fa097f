package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medihim/ippo-platform/internal/observability/metrics"
	"github.com/medihim/ippo-platform/pkg/logging"
)

const (
	defaultMaxAttempts = 3

	// Backoff grows linearly with the attempt number.
	transientBackoffBase = 5 * time.Second
	parseBackoffBase     = 2 * time.Second
)

// StructuredClient produces JSON values from an unreliable completion
// backend. Transient backend errors are retried with increasing backoff;
// malformed output goes through the repair pass and, if still unparseable,
// a fresh generation. When the whole attempt budget is exhausted the
// best-effort repaired text is returned rather than an error, so stages that
// can degrade gracefully get the chance to.
type StructuredClient struct {
	client      Client
	logger      *logging.Logger
	metrics     *metrics.PipelineMetrics
	maxAttempts int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewStructuredClient wraps the given completion client.
func NewStructuredClient(client Client, logger *logging.Logger, m *metrics.PipelineMetrics, maxAttempts int) *StructuredClient {
	if client == nil {
		panic("llm: completion client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &StructuredClient{
		client:      client,
		logger:      logger,
		metrics:     m,
		maxAttempts: maxAttempts,
		sleep:       sleepCtx,
	}
}

// GenerateJSON asks the backend for a JSON-only response and validates it
// parses. The returned bytes always hold the backend's text; they are only
// guaranteed to parse when err is nil and the attempt budget was not
// exhausted — after exhaustion the best-effort repaired text comes back
// with a nil error and callers decode at their own risk.
func (s *StructuredClient) GenerateJSON(ctx context.Context, prompt, system string) (json.RawMessage, error) {
	var lastText string

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		resp, err := s.completeWithRetry(ctx, prompt, system)
		if err != nil {
			return nil, err
		}
		lastText = resp.Text

		parsed, repaired, parseErr := SafeParse(resp.Text)
		if parseErr == nil {
			if repaired {
				s.metrics.ObserveRepair("repaired")
				s.logger.Warn("repaired malformed JSON from backend")
			}
			return json.RawMessage(parsed), nil
		}

		s.metrics.ObserveRepair("failed")
		if attempt < s.maxAttempts {
			s.metrics.ObserveRetry("malformed_json")
			s.logger.Warn("JSON parse failed, regenerating",
				"attempt", attempt,
				"max_attempts", s.maxAttempts,
			)
			if err := s.sleep(ctx, parseBackoffBase*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
	}

	s.logger.Error("all generation attempts produced unparseable JSON, returning repaired best effort",
		"attempts", s.maxAttempts,
	)
	return json.RawMessage(Repair(lastText)), nil
}

// completeWithRetry retries transient backend failures with increasing
// backoff. Non-retryable errors fail immediately.
func (s *StructuredClient) completeWithRetry(ctx context.Context, prompt, system string) (Response, error) {
	req := Request{
		System:      system,
		Prompt:      prompt,
		JSONOutput:  true,
		Temperature: -1,
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		resp, err := s.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return Response{}, fmt.Errorf("llm: generation failed: %w", err)
		}
		if attempt < s.maxAttempts {
			wait := transientBackoffBase * time.Duration(attempt)
			s.metrics.ObserveRetry("transient")
			s.logger.Warn("retryable backend error, backing off",
				"attempt", attempt,
				"max_attempts", s.maxAttempts,
				"wait", wait.String(),
				"error", err.Error(),
			)
			if err := s.sleep(ctx, wait); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{}, fmt.Errorf("llm: generation failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
