package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// FAQMatch is a single similarity hit from the FAQ vector table.
type FAQMatch struct {
	ID         int64   `json:"id"`
	Category   string  `json:"category"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	SourceURL  string  `json:"source_url"`
	Similarity float64 `json:"similarity"`
}

// FAQSearcher runs similarity search over the FAQ corpus.
type FAQSearcher interface {
	Search(ctx context.Context, embedding []float32, category string, threshold float64, limit int) ([]FAQMatch, error)
	GetByIDs(ctx context.Context, ids []int64) ([]FAQMatch, error)
}

// FAQStore queries the pgvector-backed FAQ table.
type FAQStore struct {
	pool querier
}

func NewFAQStore(pool *pgxpool.Pool) *FAQStore {
	if pool == nil {
		panic("knowledge: pgx pool required")
	}
	return &FAQStore{pool: pool}
}

func newFAQStoreWithExec(exec querier) *FAQStore {
	if exec == nil {
		panic("knowledge: exec required")
	}
	return &FAQStore{pool: exec}
}

// Search returns FAQ rows whose cosine similarity to the embedding meets the
// threshold, best first, capped at limit. An empty category searches the
// whole corpus.
func (s *FAQStore) Search(ctx context.Context, embedding []float32, category string, threshold float64, limit int) ([]FAQMatch, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("knowledge: empty query embedding")
	}
	if limit <= 0 {
		limit = 8
	}

	query := `
		SELECT id, category, question, answer, COALESCE(source_url, ''),
		       1 - (embedding <=> $1::vector) AS similarity
		FROM faq_vectors
		WHERE ($2 = '' OR category = $2)
		  AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4
	`
	rows, err := s.pool.Query(ctx, query, VectorLiteral(embedding), category, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: faq search: %w", err)
	}
	defer rows.Close()

	var matches []FAQMatch
	for rows.Next() {
		var m FAQMatch
		if err := rows.Scan(&m.ID, &m.Category, &m.Question, &m.Answer, &m.SourceURL, &m.Similarity); err != nil {
			return nil, fmt.Errorf("knowledge: scan faq match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: iterate faq matches: %w", err)
	}
	return matches, nil
}

// GetByIDs fetches specific FAQ rows regardless of similarity. Used to
// backfill entries a generated report referenced by id.
func (s *FAQStore) GetByIDs(ctx context.Context, ids []int64) ([]FAQMatch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, category, question, answer, COALESCE(source_url, '')
		FROM faq_vectors
		WHERE id = ANY($1)
	`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("knowledge: faq lookup: %w", err)
	}
	defer rows.Close()

	var matches []FAQMatch
	for rows.Next() {
		var m FAQMatch
		if err := rows.Scan(&m.ID, &m.Category, &m.Question, &m.Answer, &m.SourceURL); err != nil {
			return nil, fmt.Errorf("knowledge: scan faq row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: iterate faq rows: %w", err)
	}
	return matches, nil
}

// Insert adds an FAQ row with its embedding. Used by ingestion tooling.
func (s *FAQStore) Insert(ctx context.Context, category, question, answer, sourceURL string, embedding []float32) (int64, error) {
	query := `
		INSERT INTO faq_vectors (category, question, answer, source_url, embedding)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5::vector)
		RETURNING id
	`
	var id int64
	if err := s.pool.QueryRow(ctx, query, category, question, answer, sourceURL, VectorLiteral(embedding)).Scan(&id); err != nil {
		return 0, fmt.Errorf("knowledge: insert faq: %w", err)
	}
	return id, nil
}

// VectorLiteral renders a float slice in pgvector's input syntax.
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
