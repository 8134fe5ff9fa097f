package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KeywordSource loads the classification keyword dictionary.
type KeywordSource interface {
	Load(ctx context.Context) (*Dictionary, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresKeywordStore reads the keyword dictionary from Postgres.
type PostgresKeywordStore struct {
	pool querier
}

func NewPostgresKeywordStore(pool *pgxpool.Pool) *PostgresKeywordStore {
	if pool == nil {
		panic("knowledge: pgx pool required")
	}
	return &PostgresKeywordStore{pool: pool}
}

func newPostgresKeywordStoreWithExec(exec querier) *PostgresKeywordStore {
	if exec == nil {
		panic("knowledge: exec required")
	}
	return &PostgresKeywordStore{pool: exec}
}

// Load reads every active keyword row and builds a dictionary snapshot.
func (s *PostgresKeywordStore) Load(ctx context.Context) (*Dictionary, error) {
	query := `
		SELECT category, keyword
		FROM classification_keywords
		WHERE active
		ORDER BY category, priority DESC, keyword
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: load keywords: %w", err)
	}
	defer rows.Close()

	entries := make(map[string][]string)
	for rows.Next() {
		var category, keyword string
		if err := rows.Scan(&category, &keyword); err != nil {
			return nil, fmt.Errorf("knowledge: scan keyword: %w", err)
		}
		entries[category] = append(entries[category], keyword)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: iterate keywords: %w", err)
	}
	return NewDictionary(entries), nil
}

// Upsert registers a keyword under a category, reactivating it if it was
// soft-deleted.
func (s *PostgresKeywordStore) Upsert(ctx context.Context, category, keyword string, priority int) error {
	query := `
		INSERT INTO classification_keywords (category, keyword, priority, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (category, keyword)
		DO UPDATE SET priority = EXCLUDED.priority, active = TRUE
	`
	if _, err := s.pool.Exec(ctx, query, category, keyword, priority); err != nil {
		return fmt.Errorf("knowledge: upsert keyword: %w", err)
	}
	return nil
}

// Deactivate soft-deletes a keyword. Returns false when no row matched.
func (s *PostgresKeywordStore) Deactivate(ctx context.Context, category, keyword string) (bool, error) {
	query := `
		UPDATE classification_keywords
		SET active = FALSE
		WHERE category = $1 AND keyword = $2 AND active
	`
	ct, err := s.pool.Exec(ctx, query, category, keyword)
	if err != nil {
		return false, fmt.Errorf("knowledge: deactivate keyword: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
