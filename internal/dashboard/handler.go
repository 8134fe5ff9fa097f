package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/medihim/ippo-platform/pkg/logging"
)

// StatsResponse contains the operational counters for the admin dashboard.
type StatsResponse struct {
	TotalConsultations int64            `json:"total_consultations"`
	Unclassified       int64            `json:"unclassified"`
	PendingReports     int64            `json:"pending_reports"`
	SentReports        int64            `json:"sent_reports"`
	ViewRatePct        float64          `json:"view_rate_pct"`
	CTABreakdown       map[string]int64 `json:"cta_breakdown"`
}

// Handler serves aggregate statistics over the consultation and report
// tables. It reads via database/sql so the queries stay portable across the
// pgx stdlib driver used in production and sqlmock in tests.
type Handler struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewHandler creates a dashboard stats handler.
func NewHandler(db *sql.DB, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{db: db, logger: logger}
}

// GetStats returns the dashboard counters.
// GET /api/dashboard/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "dashboard disabled", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()

	total, err := h.countRow(ctx, `SELECT COUNT(*) FROM consultations`)
	if err != nil {
		h.fail(w, "count consultations", err)
		return
	}
	unclassified, err := h.countRow(ctx, `SELECT COUNT(*) FROM consultations WHERE status = 'classification_pending'`)
	if err != nil {
		h.fail(w, "count unclassified", err)
		return
	}
	pending, err := h.countRow(ctx, `SELECT COUNT(*) FROM reports WHERE status IN ('draft', 'rejected')`)
	if err != nil {
		h.fail(w, "count pending reports", err)
		return
	}
	sent, err := h.countRow(ctx, `SELECT COUNT(*) FROM reports WHERE status = 'sent'`)
	if err != nil {
		h.fail(w, "count sent reports", err)
		return
	}
	opened, err := h.countRow(ctx, `SELECT COUNT(*) FROM reports WHERE status = 'sent' AND email_opened_at IS NOT NULL`)
	if err != nil {
		h.fail(w, "count opened reports", err)
		return
	}
	breakdown, err := h.ctaBreakdown(ctx)
	if err != nil {
		h.fail(w, "cta breakdown", err)
		return
	}

	viewRate := 0.0
	if sent > 0 {
		viewRate = float64(opened) / float64(sent) * 100.0
	}

	resp := StatsResponse{
		TotalConsultations: total,
		Unclassified:       unclassified,
		PendingReports:     pending,
		SentReports:        sent,
		ViewRatePct:        viewRate,
		CTABreakdown:       breakdown,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) countRow(ctx context.Context, query string) (int64, error) {
	var count int64
	if err := h.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (h *Handler) ctaBreakdown(ctx context.Context) (map[string]int64, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT cta_level, COUNT(*) FROM consultations WHERE cta_level IS NOT NULL GROUP BY cta_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	breakdown := map[string]int64{"hot": 0, "warm": 0, "cool": 0}
	for rows.Next() {
		var level string
		var count int64
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		breakdown[level] = count
	}
	return breakdown, rows.Err()
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("dashboard query failed", "op", op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
