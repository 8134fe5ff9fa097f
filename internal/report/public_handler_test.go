package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func publicReq(method, token string, body string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, "/api/public/report/"+token, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, "/api/public/report/"+token, nil)
	}
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("token", token)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestPublicReadRoundTrip(t *testing.T) {
	repo := NewInMemoryRepository()
	h := NewPublicHandler(repo, nil)

	rep := seedReport(t, repo)
	repo.Approve(context.Background(), rep.ID)

	w := httptest.NewRecorder()
	h.Get(w, publicReq(http.MethodGet, rep.AccessToken, ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp struct {
		ReportData   json.RawMessage `json:"report_data"`
		CustomerName string          `json:"customer_name"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(resp.ReportData) != `{"summary":"body"}` {
		t.Errorf("body must round-trip exactly, got %s", resp.ReportData)
	}
	if resp.CustomerName != "Tanaka" {
		t.Errorf("unexpected customer name %q", resp.CustomerName)
	}
}

func TestPublicReadBlocksDraft(t *testing.T) {
	repo := NewInMemoryRepository()
	h := NewPublicHandler(repo, nil)
	rep := seedReport(t, repo)

	w := httptest.NewRecorder()
	h.Get(w, publicReq(http.MethodGet, rep.AccessToken, ""))

	if w.Code != http.StatusForbidden {
		t.Fatalf("draft report must not be publicly readable, got %d", w.Code)
	}
}

func TestPublicReadExpiredTokenRegardlessOfStatus(t *testing.T) {
	repo := NewInMemoryRepository()
	h := NewPublicHandler(repo, nil)

	rep := seedReport(t, repo)
	repo.Approve(context.Background(), rep.ID)
	repo.MarkSent(context.Background(), rep.ID, time.Now())

	// Move the handler clock past the 30-day window.
	h.now = func() time.Time { return time.Now().Add(AccessTTL + time.Hour) }

	w := httptest.NewRecorder()
	h.Get(w, publicReq(http.MethodGet, rep.AccessToken, ""))

	if w.Code != http.StatusGone {
		t.Fatalf("expired link must return 410, got %d", w.Code)
	}
}

func TestPublicReadUnknownToken(t *testing.T) {
	repo := NewInMemoryRepository()
	h := NewPublicHandler(repo, nil)

	w := httptest.NewRecorder()
	h.Get(w, publicReq(http.MethodGet, "deadbeef", ""))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestVerifyChecksExpiryOnly(t *testing.T) {
	repo := NewInMemoryRepository()
	h := NewPublicHandler(repo, nil)
	rep := seedReport(t, repo)

	// Verification works for a draft: it proves the link, not readability.
	w := httptest.NewRecorder()
	h.Verify(w, publicReq(http.MethodPost, rep.AccessToken, `{"birth_date":"1990-01-01"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, w.Code)
	}
	var resp struct {
		Verified bool   `json:"verified"`
		ReportID string `json:"report_id"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Verified || resp.ReportID != rep.ID {
		t.Errorf("unexpected verify payload: %+v", resp)
	}
}

func TestOpenedIsIdempotent(t *testing.T) {
	repo := NewInMemoryRepository()
	h := NewPublicHandler(repo, nil)
	rep := seedReport(t, repo)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.Opened(w, publicReq(http.MethodPost, rep.AccessToken, ""))
		if w.Code != http.StatusOK {
			t.Fatalf("open %d: expected %d, got %d", i, http.StatusOK, w.Code)
		}
	}

	got, _ := repo.GetByID(context.Background(), rep.ID)
	if got.EmailOpenedAt == nil {
		t.Fatal("open timestamp not recorded")
	}
	first := *got.EmailOpenedAt

	// A later open must not move the timestamp.
	time.Sleep(5 * time.Millisecond)
	w := httptest.NewRecorder()
	h.Opened(w, publicReq(http.MethodPost, rep.AccessToken, ""))
	got, _ = repo.GetByID(context.Background(), rep.ID)
	if !got.EmailOpenedAt.Equal(first) {
		t.Error("open timestamp must only be set once")
	}
}
