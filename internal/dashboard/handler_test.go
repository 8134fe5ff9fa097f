package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/medihim/ippo-platform/pkg/logging"
)

func TestGetStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	handler := NewHandler(db, logging.Default())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM consultations$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM consultations WHERE status = 'classification_pending'`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reports WHERE status IN \('draft', 'rejected'\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reports WHERE status = 'sent'$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(40))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reports WHERE status = 'sent' AND email_opened_at IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(30))
	mock.ExpectQuery(`SELECT cta_level, COUNT\(\*\) FROM consultations`).
		WillReturnRows(sqlmock.NewRows([]string{"cta_level", "count"}).
			AddRow("hot", 15).
			AddRow("warm", 50))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil)
	rec := httptest.NewRecorder()
	handler.GetStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var resp StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalConsultations != 120 || resp.Unclassified != 7 {
		t.Errorf("unexpected consultation counters: %+v", resp)
	}
	if resp.PendingReports != 12 || resp.SentReports != 40 {
		t.Errorf("unexpected report counters: %+v", resp)
	}
	if resp.ViewRatePct != 75.0 {
		t.Errorf("expected view rate 75.0, got %f", resp.ViewRatePct)
	}
	if resp.CTABreakdown["hot"] != 15 || resp.CTABreakdown["warm"] != 50 || resp.CTABreakdown["cool"] != 0 {
		t.Errorf("unexpected cta breakdown: %v", resp.CTABreakdown)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetStatsWithoutDatabase(t *testing.T) {
	handler := NewHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}
