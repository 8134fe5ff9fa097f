package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/medihim/ippo-platform/pkg/logging"
)

// Embedder turns text into fixed-length vectors for similarity search.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// GeminiEmbedder implements Embedder using the Gemini embedding model.
type GeminiEmbedder struct {
	client     *genai.Client
	modelID    string
	dimensions int
	logger     *logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGeminiEmbedder reuses an existing Gemini client for embeddings.
func NewGeminiEmbedder(client *GeminiClient, modelID string, dimensions int, logger *logging.Logger) *GeminiEmbedder {
	if client == nil {
		panic("llm: gemini client cannot be nil")
	}
	if modelID == "" {
		modelID = "models/gemini-embedding-001"
	}
	if dimensions <= 0 {
		dimensions = 768
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GeminiEmbedder{
		client:     client.client,
		modelID:    modelID,
		dimensions: dimensions,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// EmbedDocument embeds text for storage-side indexing.
func (e *GeminiEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, genai.TaskTypeRetrievalDocument)
}

// EmbedQuery embeds text for query-side matching.
func (e *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, genai.TaskTypeRetrievalQuery)
}

func (e *GeminiEmbedder) embed(ctx context.Context, text string, taskType genai.TaskType) ([]float32, error) {
	model := e.client.EmbeddingModel(e.modelID)
	model.TaskType = taskType

	var lastErr error
	for attempt := 1; attempt <= defaultMaxAttempts; attempt++ {
		res, err := model.EmbedContent(ctx, genai.Text(text))
		if err == nil {
			if res.Embedding == nil || len(res.Embedding.Values) == 0 {
				return nil, ErrEmptyResponse
			}
			if len(res.Embedding.Values) != e.dimensions {
				return nil, fmt.Errorf("llm: embedding dimensionality %d, expected %d", len(res.Embedding.Values), e.dimensions)
			}
			return res.Embedding.Values, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, fmt.Errorf("llm: embedding failed: %w", err)
		}
		if attempt < defaultMaxAttempts {
			e.logger.Warn("embedding retry",
				"attempt", attempt,
				"error", err.Error(),
			)
			if err := e.sleep(ctx, 3*time.Second*time.Duration(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("llm: embedding failed after %d attempts: %w", defaultMaxAttempts, lastErr)
}
