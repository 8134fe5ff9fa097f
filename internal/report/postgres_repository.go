package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

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

// PostgresRepository stores reports in the relational database.
type PostgresRepository struct {
	pool querier
	now  func() time.Time
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("report: pgx pool required")
	}
	return &PostgresRepository{pool: pool, now: time.Now}
}

func newPostgresRepositoryWithExec(exec querier) *PostgresRepository {
	if exec == nil {
		panic("report: exec required")
	}
	return &PostgresRepository{pool: exec, now: time.Now}
}

// Create inserts a fresh draft report with a newly minted access token and a
// full access window.
func (r *PostgresRepository) Create(ctx context.Context, draft *Draft) (*Report, error) {
	id := uuid.New().String()
	token := NewAccessToken()
	now := r.now().UTC()
	expiresAt := now.Add(AccessTTL)

	query := `
		INSERT INTO reports (id, consultation_id, report_data, rag_context, review_count, review_passed, access_token, access_expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	rep := &Report{
		ID:              id,
		ConsultationID:  draft.ConsultationID,
		ReportData:      draft.ReportData,
		RAGContext:      draft.RAGContext,
		ReviewCount:     draft.ReviewCount,
		ReviewPassed:    draft.ReviewPassed,
		AccessToken:     token,
		AccessExpiresAt: expiresAt,
		Status:          StatusDraft,
	}
	if err := r.pool.QueryRow(ctx, query,
		id,
		draft.ConsultationID,
		[]byte(draft.ReportData),
		[]byte(draft.RAGContext),
		draft.ReviewCount,
		draft.ReviewPassed,
		token,
		expiresAt,
		StatusDraft,
	).Scan(&rep.CreatedAt); err != nil {
		return nil, fmt.Errorf("report: insert failed: %w", err)
	}
	return rep, nil
}

// Overwrite replaces a report's body in place after regeneration. The
// existing access token is reused, the validity window restarts, and the
// cached secondary-language translation is invalidated.
func (r *PostgresRepository) Overwrite(ctx context.Context, reportID string, draft *Draft) (*Report, error) {
	now := r.now().UTC()
	expiresAt := now.Add(AccessTTL)

	query := `
		UPDATE reports
		SET report_data = $2,
		    report_data_ko = NULL,
		    rag_context = $3,
		    review_count = $4,
		    review_passed = $5,
		    access_token = COALESCE(NULLIF(access_token, ''), $6),
		    access_expires_at = $7,
		    status = $8,
		    updated_at = now()
		WHERE id = $1
		RETURNING consultation_id, access_token, created_at
	`
	rep := &Report{
		ID:              reportID,
		ReportData:      draft.ReportData,
		RAGContext:      draft.RAGContext,
		ReviewCount:     draft.ReviewCount,
		ReviewPassed:    draft.ReviewPassed,
		AccessExpiresAt: expiresAt,
		Status:          StatusDraft,
	}
	if err := r.pool.QueryRow(ctx, query,
		reportID,
		[]byte(draft.ReportData),
		[]byte(draft.RAGContext),
		draft.ReviewCount,
		draft.ReviewPassed,
		NewAccessToken(),
		expiresAt,
		StatusDraft,
	).Scan(&rep.ConsultationID, &rep.AccessToken, &rep.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("report: overwrite failed: %w", err)
	}
	return rep, nil
}

const reportColumns = `
	r.id, r.consultation_id, r.report_data, r.report_data_ko, r.rag_context,
	r.review_count, r.review_passed, COALESCE(r.review_notes, ''),
	r.access_token, r.access_expires_at, r.status,
	r.email_sent_at, r.email_opened_at, r.created_at, r.updated_at
`

const customerColumns = `
	COALESCE(c.customer_name, ''), COALESCE(c.customer_email, ''),
	COALESCE(c.customer_line_id, ''), COALESCE(c.classification, ''),
	COALESCE(c.cta_level, '')
`

// GetByID fetches a report joined with its consultation's customer fields.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*WithCustomer, error) {
	query := `
		SELECT ` + reportColumns + `, ` + customerColumns + `
		FROM reports r
		JOIN consultations c ON c.id = r.consultation_id
		WHERE r.id = $1
	`
	rep, err := scanWithCustomer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("report: select failed: %w", err)
	}
	return rep, nil
}

// GetByConsultationID fetches the report attached to a consultation.
func (r *PostgresRepository) GetByConsultationID(ctx context.Context, consultationID string) (*Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports r
		WHERE r.consultation_id = $1
	`
	rep, err := scanReport(r.pool.QueryRow(ctx, query, consultationID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("report: select by consultation failed: %w", err)
	}
	return rep, nil
}

// GetByToken fetches a report by its public access token.
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*WithCustomer, error) {
	query := `
		SELECT ` + reportColumns + `, ` + customerColumns + `
		FROM reports r
		JOIN consultations c ON c.id = r.consultation_id
		WHERE r.access_token = $1
	`
	rep, err := scanWithCustomer(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("report: select by token failed: %w", err)
	}
	return rep, nil
}

// List returns every report joined with customer fields, newest first.
func (r *PostgresRepository) List(ctx context.Context) ([]*WithCustomer, error) {
	query := `
		SELECT ` + reportColumns + `, ` + customerColumns + `
		FROM reports r
		JOIN consultations c ON c.id = r.consultation_id
		ORDER BY r.created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("report: list failed: %w", err)
	}
	defer rows.Close()

	var out []*WithCustomer
	for rows.Next() {
		rep, err := scanWithCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("report: scan failed: %w", err)
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: iterate failed: %w", err)
	}
	return out, nil
}

// Approve moves a draft or rejected report to approved.
func (r *PostgresRepository) Approve(ctx context.Context, id string) (*Report, error) {
	query := `
		UPDATE reports
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING consultation_id, access_token
	`
	rep := &Report{ID: id, Status: StatusApproved}
	err := r.pool.QueryRow(ctx, query, id, StatusApproved, StatusDraft, StatusRejected).
		Scan(&rep.ConsultationID, &rep.AccessToken)
	if err == nil {
		return rep, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("report: approve failed: %w", err)
	}

	// Distinguish a missing row from a state conflict.
	var exists int
	if err := r.pool.QueryRow(ctx, `SELECT 1 FROM reports WHERE id = $1`, id).Scan(&exists); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("report: approve lookup failed: %w", err)
	}
	return nil, ErrNotApprovable
}

// Reject marks the report rejected, optionally recording reviewer notes.
func (r *PostgresRepository) Reject(ctx context.Context, id string, notes string) error {
	query := `
		UPDATE reports
		SET status = $2, review_notes = NULLIF($3, ''), updated_at = now()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, StatusRejected, notes)
}

// UpdateData overwrites the report body after a manual edit.
func (r *PostgresRepository) UpdateData(ctx context.Context, id string, data json.RawMessage) error {
	query := `
		UPDATE reports
		SET report_data = $2, updated_at = now()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, []byte(data))
}

// SaveTranslation caches the secondary-language rendering of the body.
func (r *PostgresRepository) SaveTranslation(ctx context.Context, id string, dataKo json.RawMessage) error {
	query := `
		UPDATE reports
		SET report_data_ko = $2, updated_at = now()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, []byte(dataKo))
}

// MarkSent records successful email delivery.
func (r *PostgresRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE reports
		SET status = $2, email_sent_at = $3, updated_at = now()
		WHERE id = $1
	`
	return r.exec(ctx, query, id, StatusSent, at.UTC())
}

// MarkOpened sets the open timestamp the first time only. Returns whether
// this call recorded the open.
func (r *PostgresRepository) MarkOpened(ctx context.Context, token string, at time.Time) (bool, error) {
	query := `
		UPDATE reports
		SET email_opened_at = $2, updated_at = now()
		WHERE access_token = $1 AND email_opened_at IS NULL
	`
	ct, err := r.pool.Exec(ctx, query, token, at.UTC())
	if err != nil {
		return false, fmt.Errorf("report: mark opened failed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query, id string, args ...any) error {
	ct, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("report: update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanReport(row pgx.Row) (*Report, error) {
	var rep Report
	var data, dataKo, ragCtx []byte
	if err := row.Scan(
		&rep.ID,
		&rep.ConsultationID,
		&data,
		&dataKo,
		&ragCtx,
		&rep.ReviewCount,
		&rep.ReviewPassed,
		&rep.ReviewNotes,
		&rep.AccessToken,
		&rep.AccessExpiresAt,
		&rep.Status,
		&rep.EmailSentAt,
		&rep.EmailOpenedAt,
		&rep.CreatedAt,
		&rep.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rep.ReportData = json.RawMessage(data)
	rep.ReportDataKo = json.RawMessage(dataKo)
	rep.RAGContext = json.RawMessage(ragCtx)
	return &rep, nil
}

func scanWithCustomer(row pgx.Row) (*WithCustomer, error) {
	var rep WithCustomer
	var data, dataKo, ragCtx []byte
	if err := row.Scan(
		&rep.ID,
		&rep.ConsultationID,
		&data,
		&dataKo,
		&ragCtx,
		&rep.ReviewCount,
		&rep.ReviewPassed,
		&rep.ReviewNotes,
		&rep.AccessToken,
		&rep.AccessExpiresAt,
		&rep.Status,
		&rep.EmailSentAt,
		&rep.EmailOpenedAt,
		&rep.CreatedAt,
		&rep.UpdatedAt,
		&rep.Customer.CustomerName,
		&rep.Customer.CustomerEmail,
		&rep.Customer.CustomerLineID,
		&rep.Customer.Classification,
		&rep.Customer.CTALevel,
	); err != nil {
		return nil, err
	}
	rep.ReportData = json.RawMessage(data)
	rep.ReportDataKo = json.RawMessage(dataKo)
	rep.RAGContext = json.RawMessage(ragCtx)
	return &rep, nil
}
