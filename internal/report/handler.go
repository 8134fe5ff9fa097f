package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medihim/ippo-platform/internal/consultation"
	"github.com/medihim/ippo-platform/pkg/logging"
)

// Mailer delivers the tokenized report link to the customer.
type Mailer interface {
	SendReportEmail(ctx context.Context, toEmail, customerName, accessToken string) error
}

// Translator renders the report body into the secondary language.
type Translator interface {
	TranslateReport(ctx context.Context, data json.RawMessage) (json.RawMessage, error)
}

// Regenerator enqueues a regeneration run for an existing report.
type Regenerator interface {
	EnqueueRegenerate(ctx context.Context, reportID, direction string) error
}

// ConsultationStatusSetter mirrors report state onto the consultation row.
type ConsultationStatusSetter interface {
	SetStatus(ctx context.Context, id string, status consultation.Status) error
}

// Handler handles admin HTTP requests for reports.
type Handler struct {
	repo          Repository
	consultations ConsultationStatusSetter
	mailer        Mailer
	translator    Translator
	regenerator   Regenerator
	logger        *logging.Logger
}

// NewHandler creates a report handler.
func NewHandler(repo Repository, consultations ConsultationStatusSetter, mailer Mailer, translator Translator, regenerator Regenerator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		repo:          repo,
		consultations: consultations,
		mailer:        mailer,
		translator:    translator,
		regenerator:   regenerator,
		logger:        logger,
	}
}

// List handles GET /api/reports.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	reports, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list reports", "error", err)
		http.Error(w, "failed to list reports", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []*WithCustomer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": reports})
}

// Get handles GET /api/reports/{reportID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")
	rep, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load report", "error", err, "id", id)
		http.Error(w, "failed to load report", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Approve handles PUT /api/reports/{reportID}/approve. Approval never sends
// email; delivery is a separate action.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")

	rep, err := h.repo.Approve(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "report not found", http.StatusNotFound)
		case errors.Is(err, ErrNotApprovable):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("failed to approve report", "error", err, "id", id)
			http.Error(w, "failed to approve report", http.StatusInternalServerError)
		}
		return
	}

	if err := h.consultations.SetStatus(r.Context(), rep.ConsultationID, consultation.StatusReportApproved); err != nil {
		h.logger.Error("failed to mirror approval onto consultation", "error", err, "consultation_id", rep.ConsultationID)
	}

	h.logger.Info("report approved", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":           id,
		"status":       string(StatusApproved),
		"access_token": rep.AccessToken,
	})
}

// SendEmail handles POST /api/reports/{reportID}/send-email.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")

	rep, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load report", "error", err, "id", id)
		http.Error(w, "failed to load report", http.StatusInternalServerError)
		return
	}
	if rep.Status != StatusApproved && rep.Status != StatusSent {
		http.Error(w, ErrNotSendable.Error(), http.StatusBadRequest)
		return
	}

	if err := h.mailer.SendReportEmail(r.Context(), rep.Customer.CustomerEmail, rep.Customer.CustomerName, rep.AccessToken); err != nil {
		h.logger.Error("report email delivery failed", "error", err, "id", id)
		http.Error(w, "email delivery failed", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	if err := h.repo.MarkSent(r.Context(), id, now); err != nil {
		h.logger.Error("failed to mark report sent", "error", err, "id", id)
		http.Error(w, "failed to record delivery", http.StatusInternalServerError)
		return
	}
	if err := h.consultations.SetStatus(r.Context(), rep.ConsultationID, consultation.StatusReportSent); err != nil {
		h.logger.Error("failed to mirror delivery onto consultation", "error", err, "consultation_id", rep.ConsultationID)
	}

	h.logger.Info("report email sent", "id", id, "to", rep.Customer.CustomerEmail)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":            id,
		"status":        string(StatusSent),
		"email_sent_to": rep.Customer.CustomerEmail,
		"access_token":  rep.AccessToken,
	})
}

// RejectRequest optionally carries reviewer notes.
type RejectRequest struct {
	Notes string `json:"notes"`
}

// Reject handles PUT /api/reports/{reportID}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")

	var req RejectRequest
	if r.Body != nil {
		// The body is optional; ignore decode errors from an empty body.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.repo.Reject(r.Context(), id, req.Notes); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to reject report", "error", err, "id", id)
		http.Error(w, "failed to reject report", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(StatusRejected),
	})
}

// EditRequest replaces the report body with an admin-edited version.
type EditRequest struct {
	ReportData json.RawMessage `json:"report_data"`
}

// Edit handles PUT /api/reports/{reportID}/edit.
func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")

	var req EditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ReportData) == 0 {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpdateData(r.Context(), id, req.ReportData); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to edit report", "error", err, "id", id)
		http.Error(w, "failed to edit report", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"updated": true,
	})
}

// RegenerateRequest steers a fresh write/review loop for an existing report.
type RegenerateRequest struct {
	Direction string `json:"direction"`
}

// Regenerate handles POST /api/reports/{reportID}/regenerate.
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")

	var req RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := h.repo.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load report", "error", err, "id", id)
		http.Error(w, "failed to load report", http.StatusInternalServerError)
		return
	}

	if err := h.regenerator.EnqueueRegenerate(r.Context(), id, req.Direction); err != nil {
		h.logger.Error("failed to enqueue regeneration", "error", err, "id", id)
		http.Error(w, "failed to enqueue regeneration", http.StatusInternalServerError)
		return
	}

	h.logger.Info("report regeneration enqueued", "id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(consultation.StatusReportGenerating),
	})
}

// Translate handles GET /api/reports/{reportID}/translate. The translation
// is cached on the row; regeneration clears the cache.
func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reportID")

	rep, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load report", "error", err, "id", id)
		http.Error(w, "failed to load report", http.StatusInternalServerError)
		return
	}

	if len(rep.ReportDataKo) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"report_data_ko": rep.ReportDataKo,
			"cached":         true,
		})
		return
	}

	translated, err := h.translator.TranslateReport(r.Context(), rep.ReportData)
	if err != nil {
		h.logger.Error("report translation failed", "error", err, "id", id)
		http.Error(w, "report translation failed", http.StatusInternalServerError)
		return
	}
	if err := h.repo.SaveTranslation(r.Context(), id, translated); err != nil {
		h.logger.Error("failed to cache translation", "error", err, "id", id)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"report_data_ko": translated,
		"cached":         false,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
