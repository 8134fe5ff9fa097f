package consultation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores consultations in the relational database.
type PostgresRepository struct {
	pool querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("consultation: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithExec(exec querier) *PostgresRepository {
	if exec == nil {
		panic("consultation: exec required")
	}
	return &PostgresRepository{pool: exec}
}

const consultationColumns = `
	id, customer_id, customer_name, customer_email, customer_line_id,
	original_text, COALESCE(translated_text, ''), speaker_segments,
	COALESCE(customer_utterances, ''), COALESCE(cta_level, ''), cta_signals,
	intent_extraction, COALESCE(classification, ''),
	COALESCE(classification_confidence, 0), COALESCE(classification_reason, ''),
	is_manually_classified, status, COALESCE(error_message, ''),
	created_at, updated_at
`

// Create inserts a new consultation in registered state. The pipeline run
// moves it to processing when a worker picks it up.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateRequest) (*Consultation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	query := `
		INSERT INTO consultations (id, customer_id, customer_name, customer_email, customer_line_id, original_text, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	c := &Consultation{
		ID:             id,
		CustomerID:     req.CustomerID,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		CustomerLineID: req.CustomerLineID,
		OriginalText:   req.OriginalText,
		Status:         StatusRegistered,
	}
	if err := r.pool.QueryRow(ctx, query,
		id,
		req.CustomerID,
		req.CustomerName,
		req.CustomerEmail,
		req.CustomerLineID,
		req.OriginalText,
		StatusRegistered,
	).Scan(&c.CreatedAt); err != nil {
		return nil, fmt.Errorf("consultation: insert failed: %w", err)
	}
	return c, nil
}

// CreateBulk inserts each entry and returns the created ids in input order.
func (r *PostgresRepository) CreateBulk(ctx context.Context, reqs []CreateRequest) ([]string, error) {
	ids := make([]string, 0, len(reqs))
	for i := range reqs {
		c, err := r.Create(ctx, &reqs[i])
		if err != nil {
			return ids, fmt.Errorf("consultation: bulk insert entry %d: %w", i, err)
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// GetByID fetches a single consultation.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Consultation, error) {
	query := `SELECT ` + consultationColumns + ` FROM consultations WHERE id = $1`
	c, err := scanConsultation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consultation: select failed: %w", err)
	}
	return c, nil
}

// List returns a page of consultations plus the unpaged total.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Consultation, int, error) {
	filter.Normalize()

	var total int
	countQuery := `
		SELECT COUNT(*)
		FROM consultations
		WHERE ($1 = '' OR classification = $1)
		  AND ($2 = '' OR status = $2)
	`
	if err := r.pool.QueryRow(ctx, countQuery, filter.Classification, filter.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("consultation: count failed: %w", err)
	}

	query := `
		SELECT ` + consultationColumns + `
		FROM consultations
		WHERE ($1 = '' OR classification = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	offset := (filter.Page - 1) * filter.PageSize
	rows, err := r.pool.Query(ctx, query, filter.Classification, filter.Status, filter.PageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("consultation: list failed: %w", err)
	}
	defer rows.Close()

	var items []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("consultation: scan failed: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("consultation: iterate failed: %w", err)
	}
	return items, total, nil
}

// SetStatus moves the consultation to a new lifecycle state.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status Status) error {
	return r.update(ctx, id, `UPDATE consultations SET status = $2, updated_at = now() WHERE id = $1`, status)
}

// MarkFailed records the absorbing failure state with its error text.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, message string) error {
	return r.update(ctx, id, `
		UPDATE consultations
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`, StatusReportFailed, message)
}

// SaveTranslation checkpoints the translation stage.
func (r *PostgresRepository) SaveTranslation(ctx context.Context, id string, translatedText string) error {
	return r.update(ctx, id, `
		UPDATE consultations
		SET translated_text = $2, updated_at = now()
		WHERE id = $1
	`, translatedText)
}

// SaveCTAAnalysis checkpoints speaker separation and purchase-intent level.
func (r *PostgresRepository) SaveCTAAnalysis(ctx context.Context, id string, cta *CTAAnalysis) error {
	segments, err := json.Marshal(cta.SpeakerSegments)
	if err != nil {
		return fmt.Errorf("consultation: marshal segments: %w", err)
	}
	signals, err := json.Marshal(cta.CTASignals)
	if err != nil {
		return fmt.Errorf("consultation: marshal signals: %w", err)
	}
	return r.update(ctx, id, `
		UPDATE consultations
		SET speaker_segments = $2, customer_utterances = $3, cta_level = $4, cta_signals = $5, updated_at = now()
		WHERE id = $1
	`, segments, cta.CustomerUtterances, cta.CTALevel, signals)
}

// SaveIntent checkpoints the intent-extraction stage.
func (r *PostgresRepository) SaveIntent(ctx context.Context, id string, intent *IntentExtraction) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("consultation: marshal intent: %w", err)
	}
	return r.update(ctx, id, `
		UPDATE consultations
		SET intent_extraction = $2, updated_at = now()
		WHERE id = $1
	`, data)
}

// SaveClassification checkpoints the validated classification.
func (r *PostgresRepository) SaveClassification(ctx context.Context, id string, result ClassificationResult) error {
	return r.update(ctx, id, `
		UPDATE consultations
		SET classification = $2, classification_confidence = $3, classification_reason = $4, updated_at = now()
		WHERE id = $1
	`, result.Classification, result.Confidence, result.Reason)
}

// SaveManualClassification records a human category decision and flags it.
func (r *PostgresRepository) SaveManualClassification(ctx context.Context, id string, class Classification) error {
	return r.update(ctx, id, `
		UPDATE consultations
		SET classification = $2, is_manually_classified = TRUE, status = $3, updated_at = now()
		WHERE id = $1
	`, class, StatusReportGenerating)
}

// UpdateCTALevel overrides the purchase-intent level from the admin UI.
func (r *PostgresRepository) UpdateCTALevel(ctx context.Context, id string, level CTALevel) error {
	return r.update(ctx, id, `
		UPDATE consultations
		SET cta_level = $2, updated_at = now()
		WHERE id = $1
	`, level)
}

func (r *PostgresRepository) update(ctx context.Context, id, query string, args ...any) error {
	ct, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("consultation: update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	var segments, signals, intent []byte
	if err := row.Scan(
		&c.ID,
		&c.CustomerID,
		&c.CustomerName,
		&c.CustomerEmail,
		&c.CustomerLineID,
		&c.OriginalText,
		&c.TranslatedText,
		&segments,
		&c.CustomerUtterances,
		&c.CTALevel,
		&signals,
		&intent,
		&c.Classification,
		&c.ClassificationConfidence,
		&c.ClassificationReason,
		&c.ManuallyClassified,
		&c.Status,
		&c.ErrorMessage,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &c.SpeakerSegments); err != nil {
			return nil, fmt.Errorf("decode speaker_segments: %w", err)
		}
	}
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &c.CTASignals); err != nil {
			return nil, fmt.Errorf("decode cta_signals: %w", err)
		}
	}
	if len(intent) > 0 {
		var ie IntentExtraction
		if err := json.Unmarshal(intent, &ie); err != nil {
			return nil, fmt.Errorf("decode intent_extraction: %w", err)
		}
		c.IntentExtraction = &ie
	}
	return &c, nil
}
