package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/medihim/ippo-platform/internal/consultation"
	"github.com/medihim/ippo-platform/internal/knowledge"
	"github.com/medihim/ippo-platform/internal/llm"
	"github.com/medihim/ippo-platform/pkg/logging"
)

// Source provenance kinds, decided by URL pattern.
const (
	SourceLiterature = "pubmed"
	SourceFAQ        = "youtube"
)

// RAGSource is one retrieved knowledge item handed to the report writer.
type RAGSource struct {
	ID         int64   `json:"id"`
	Category   string  `json:"category"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	SourceURL  string  `json:"source_url"`
	SourceType string  `json:"source_type"`
	Similarity float64 `json:"similarity"`
}

// Retriever embeds a keyword query and pulls similar FAQ/literature entries
// for report grounding.
type Retriever struct {
	embedder  llm.Embedder
	store     knowledge.FAQSearcher
	threshold float64
	limit     int
	logger    *logging.Logger
}

// NewRetriever creates the retrieval agent.
func NewRetriever(embedder llm.Embedder, store knowledge.FAQSearcher, threshold float64, limit int, logger *logging.Logger) *Retriever {
	if threshold <= 0 {
		threshold = 0.65
	}
	if limit <= 0 {
		limit = 8
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Retriever{embedder: embedder, store: store, threshold: threshold, limit: limit, logger: logger}
}

// Retrieve searches the knowledge base for entries matching the keyword set,
// scoped to the consultation's category. Retrieval is best-effort: an empty
// result set is not an error, the writer simply gets no grounding context.
func (r *Retriever) Retrieve(ctx context.Context, keywords []string, category consultation.Classification) ([]RAGSource, error) {
	query := strings.Join(keywords, " ")
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pipeline: retrieve: embed query: %w", err)
	}

	matches, err := r.store.Search(ctx, embedding, string(category), r.threshold, r.limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: retrieve: search: %w", err)
	}

	matches, err = r.backfill(ctx, matches)
	if err != nil {
		return nil, err
	}

	sources := make([]RAGSource, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, RAGSource{
			ID:         m.ID,
			Category:   m.Category,
			Question:   m.Question,
			Answer:     m.Answer,
			SourceURL:  m.SourceURL,
			SourceType: provenance(m.SourceURL),
			Similarity: m.Similarity,
		})
	}
	r.logger.Info("knowledge retrieval complete", "query_keywords", len(keywords), "matches", len(sources))
	return sources, nil
}

// backfill re-fetches rows whose display fields came back empty from the
// similarity search.
func (r *Retriever) backfill(ctx context.Context, matches []knowledge.FAQMatch) ([]knowledge.FAQMatch, error) {
	var missing []int64
	for _, m := range matches {
		if m.Answer == "" || m.Question == "" {
			missing = append(missing, m.ID)
		}
	}
	if len(missing) == 0 {
		return matches, nil
	}

	full, err := r.store.GetByIDs(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("pipeline: retrieve: backfill: %w", err)
	}
	byID := make(map[int64]knowledge.FAQMatch, len(full))
	for _, f := range full {
		byID[f.ID] = f
	}
	for i, m := range matches {
		if f, ok := byID[m.ID]; ok && (m.Answer == "" || m.Question == "") {
			f.Similarity = m.Similarity
			matches[i] = f
		}
	}
	return matches, nil
}

// provenance tags a source as literature or FAQ by its URL.
func provenance(url string) string {
	if strings.Contains(url, "pubmed.ncbi.nlm.nih.gov") || strings.Contains(url, "ncbi.nlm.nih.gov/pubmed") {
		return SourceLiterature
	}
	return SourceFAQ
}
