package report

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medihim/ippo-platform/pkg/logging"
)

// PublicHandler serves bearer-token report access. The token is the sole
// credential; every read re-checks expiry and status.
type PublicHandler struct {
	repo   Repository
	logger *logging.Logger
	now    func() time.Time
}

// NewPublicHandler creates the public report handler.
func NewPublicHandler(repo Repository, logger *logging.Logger) *PublicHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PublicHandler{repo: repo, logger: logger, now: time.Now}
}

func (h *PublicHandler) load(w http.ResponseWriter, r *http.Request) (*WithCustomer, bool) {
	token := chi.URLParam(r, "token")
	rep, err := h.repo.GetByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return nil, false
		}
		h.logger.Error("failed to load report by token", "error", err)
		http.Error(w, "failed to load report", http.StatusInternalServerError)
		return nil, false
	}
	if rep.Expired(h.now().UTC()) {
		http.Error(w, ErrLinkExpired.Error(), http.StatusGone)
		return nil, false
	}
	return rep, true
}

// Get handles GET /api/public/report/{token}.
func (h *PublicHandler) Get(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.load(w, r)
	if !ok {
		return
	}
	if !rep.PubliclyReadable() {
		http.Error(w, ErrNotAvailable.Error(), http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"report_data":   rep.ReportData,
		"customer_name": rep.Customer.CustomerName,
	})
}

// VerifyRequest carries the customer's self-asserted birth date. Token
// possession is the credential today; the birth date is reserved for a
// second verification factor.
type VerifyRequest struct {
	BirthDate string `json:"birth_date"`
}

// Verify handles POST /api/public/report/{token}/verify.
func (h *PublicHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rep, ok := h.load(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verified":  true,
		"report_id": rep.ID,
	})
}

// Opened handles POST /api/public/report/{token}/opened. The open timestamp
// is recorded only on the first call; repeats are acknowledged but ignored.
func (h *PublicHandler) Opened(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := h.repo.MarkOpened(r.Context(), token, h.now().UTC()); err != nil {
		h.logger.Error("failed to track report open", "error", err)
		http.Error(w, "failed to track open", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"tracked": true})
}
