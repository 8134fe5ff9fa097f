package report

import (
	"encoding/json"
	"time"
)

// Status is the report lifecycle state.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusSent     Status = "sent"
)

// AccessTTL is the fixed validity window of a public report link.
const AccessTTL = 30 * 24 * time.Hour

// Report is one generated artifact tied to a consultation. The body is an
// opaque structured payload owned by the report-writer prompt.
type Report struct {
	ID              string          `json:"id"`
	ConsultationID  string          `json:"consultation_id"`
	ReportData      json.RawMessage `json:"report_data"`
	ReportDataKo    json.RawMessage `json:"report_data_ko,omitempty"`
	RAGContext      json.RawMessage `json:"rag_context,omitempty"`
	ReviewCount     int             `json:"review_count"`
	ReviewPassed    bool            `json:"review_passed"`
	ReviewNotes     string          `json:"review_notes,omitempty"`
	AccessToken     string          `json:"access_token"`
	AccessExpiresAt time.Time       `json:"access_expires_at"`
	Status          Status          `json:"status"`
	EmailSentAt     *time.Time      `json:"email_sent_at,omitempty"`
	EmailOpenedAt   *time.Time      `json:"email_opened_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Expired reports whether the public access window has elapsed.
func (r *Report) Expired(now time.Time) bool {
	return now.After(r.AccessExpiresAt)
}

// PubliclyReadable reports whether the status allows bearer-token reads.
func (r *Report) PubliclyReadable() bool {
	return r.Status == StatusSent || r.Status == StatusApproved
}

// CustomerSummary carries the joined consultation fields shown in admin
// listings.
type CustomerSummary struct {
	CustomerName   string `json:"customer_name"`
	CustomerEmail  string `json:"customer_email"`
	CustomerLineID string `json:"customer_line_id,omitempty"`
	Classification string `json:"classification"`
	CTALevel       string `json:"cta_level,omitempty"`
}

// WithCustomer is a report joined with its consultation's customer fields.
type WithCustomer struct {
	Report
	Customer CustomerSummary `json:"consultation"`
}

// Draft is the pipeline's handoff payload for a finished write/review loop.
type Draft struct {
	ConsultationID string
	ReportData     json.RawMessage
	RAGContext     json.RawMessage
	ReviewCount    int
	ReviewPassed   bool
}
