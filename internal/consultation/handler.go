package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/medihim/ippo-platform/pkg/logging"
)

// Trigger enqueues background pipeline work for a consultation.
type Trigger interface {
	EnqueueRun(ctx context.Context, consultationID string) error
	EnqueueResume(ctx context.Context, consultationID string, class Classification) error
}

// Handler handles HTTP requests for consultations.
type Handler struct {
	repo     Repository
	pipeline Trigger
	logger   *logging.Logger
}

// NewHandler creates a consultation handler.
func NewHandler(repo Repository, pipeline Trigger, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, pipeline: pipeline, logger: logger}
}

// Create handles POST /api/consultations.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.repo.Create(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrMissingText) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to create consultation", "error", err)
		http.Error(w, "failed to create consultation", http.StatusInternalServerError)
		return
	}

	if err := h.pipeline.EnqueueRun(r.Context(), c.ID); err != nil {
		h.logger.Error("failed to enqueue pipeline run", "error", err, "consultation_id", c.ID)
	}

	h.logger.Info("consultation registered", "id", c.ID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":     c.ID,
		"status": string(c.Status),
	})
}

// CreateBulk handles POST /api/consultations/bulk.
func (h *Handler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	var req BulkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ids, err := h.repo.CreateBulk(r.Context(), req.Consultations)
	if err != nil {
		h.logger.Error("bulk create failed", "error", err, "created", len(ids))
		http.Error(w, "failed to register consultations", http.StatusInternalServerError)
		return
	}

	for _, id := range ids {
		if err := h.pipeline.EnqueueRun(r.Context(), id); err != nil {
			h.logger.Error("failed to enqueue pipeline run", "error", err, "consultation_id", id)
		}
	}

	h.logger.Info("bulk consultations registered", "count", len(ids))
	writeJSON(w, http.StatusCreated, map[string]any{
		"created": len(ids),
		"ids":     ids,
	})
}

// ListResponse is the paginated listing payload.
type ListResponse struct {
	Data     []*Consultation `json:"data"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// List handles GET /api/consultations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Classification: r.URL.Query().Get("classification"),
		Status:         r.URL.Query().Get("status"),
		Page:           1,
		PageSize:       20,
	}
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p >= 1 {
		filter.Page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps >= 1 && ps <= 100 {
		filter.PageSize = ps
	}

	items, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list consultations", "error", err)
		http.Error(w, "failed to list consultations", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*Consultation{}
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Data:     items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

// Get handles GET /api/consultations/{consultationID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "consultationID")
	c, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "consultation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load consultation", "error", err, "id", id)
		http.Error(w, "failed to load consultation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ClassifyRequest supplies a manual category for a pending consultation.
type ClassifyRequest struct {
	Classification Classification `json:"classification"`
}

// Classify handles PUT /api/consultations/{consultationID}/classify.
// It resumes a classification_pending pipeline with the human decision.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "consultationID")

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Classification.Valid() || req.Classification == ClassUnclassified {
		http.Error(w, "a resolved classification is required", http.StatusBadRequest)
		return
	}

	c, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "consultation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load consultation", "error", err, "id", id)
		http.Error(w, "failed to load consultation", http.StatusInternalServerError)
		return
	}
	if c.Status != StatusClassificationPending {
		http.Error(w, ErrNotPending.Error(), http.StatusBadRequest)
		return
	}

	if err := h.pipeline.EnqueueResume(r.Context(), id, req.Classification); err != nil {
		h.logger.Error("failed to enqueue pipeline resume", "error", err, "consultation_id", id)
		http.Error(w, "failed to resume pipeline", http.StatusInternalServerError)
		return
	}

	h.logger.Info("manual classification accepted", "id", id, "classification", req.Classification)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(StatusReportGenerating),
	})
}

// CTAUpdateRequest overrides the purchase-intent level.
type CTAUpdateRequest struct {
	CTALevel CTALevel `json:"cta_level"`
}

// UpdateCTA handles PUT /api/consultations/{consultationID}/cta.
func (h *Handler) UpdateCTA(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "consultationID")

	var req CTAUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.CTALevel.Valid() {
		http.Error(w, "cta_level must be hot, warm or cool", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpdateCTALevel(r.Context(), id, req.CTALevel); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "consultation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to update cta level", "error", err, "id", id)
		http.Error(w, "failed to update cta level", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":        id,
		"cta_level": string(req.CTALevel),
	})
}

// UnclassifiedItem is one pending-adjudication summary row.
type UnclassifiedItem struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Date     string   `json:"date"`
	Keywords []string `json:"keywords"`
	Preview  string   `json:"preview"`
	FullText string   `json:"full_text"`
}

// ListUnclassified handles GET /api/unclassified. It summarizes every
// consultation waiting for a human category decision.
func (h *Handler) ListUnclassified(w http.ResponseWriter, r *http.Request) {
	items, _, err := h.repo.List(r.Context(), ListFilter{
		Status:   string(StatusClassificationPending),
		Page:     1,
		PageSize: 100,
	})
	if err != nil {
		h.logger.Error("failed to list unclassified consultations", "error", err)
		http.Error(w, "failed to list unclassified consultations", http.StatusInternalServerError)
		return
	}

	out := make([]UnclassifiedItem, 0, len(items))
	for _, c := range items {
		item := UnclassifiedItem{
			ID:       c.ID,
			Name:     c.CustomerName,
			Date:     c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Preview:  preview(c.OriginalText, 150),
			FullText: c.OriginalText,
		}
		if c.IntentExtraction != nil {
			item.Keywords = c.IntentExtraction.Keywords
		}
		out = append(out, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  out,
		"count": len(out),
	})
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
