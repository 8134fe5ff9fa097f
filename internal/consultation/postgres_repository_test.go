package consultation

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestPostgresRepositoryCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO consultations").
		WithArgs(pgxmock.AnyArg(), "c-1", "Tanaka", "tanaka@example.com", "line-1", "some transcript", StatusRegistered).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

	c, err := repo.Create(context.Background(), &CreateRequest{
		CustomerID:     "c-1",
		CustomerName:   "Tanaka",
		CustomerEmail:  "tanaka@example.com",
		CustomerLineID: "line-1",
		OriginalText:   "some transcript",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if c.ID == "" || c.Status != StatusRegistered {
		t.Errorf("unexpected consultation: %+v", c)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryCreateRejectsEmptyText(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)
	if _, err := repo.Create(context.Background(), &CreateRequest{OriginalText: "  "}); err != ErrMissingText {
		t.Errorf("expected ErrMissingText, got %v", err)
	}
}

func TestPostgresRepositoryCheckpoints(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)
	ctx := context.Background()
	id := "abc-123"

	mock.ExpectExec("UPDATE consultations").
		WithArgs(id, "translated body").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.SaveTranslation(ctx, id, "translated body"); err != nil {
		t.Fatalf("save translation: %v", err)
	}

	mock.ExpectExec("UPDATE consultations").
		WithArgs(id, pgxmock.AnyArg(), "customer only text", CTAHot, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.SaveCTAAnalysis(ctx, id, &CTAAnalysis{
		SpeakerSegments:    []SpeakerSegment{{Speaker: "customer", Text: "hi"}},
		CustomerUtterances: "customer only text",
		CTALevel:           CTAHot,
		CTASignals:         []string{"asked about pricing"},
	}); err != nil {
		t.Fatalf("save cta: %v", err)
	}

	mock.ExpectExec("UPDATE consultations").
		WithArgs(id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.SaveIntent(ctx, id, &IntentExtraction{Keywords: []string{"acne"}}); err != nil {
		t.Fatalf("save intent: %v", err)
	}

	mock.ExpectExec("UPDATE consultations").
		WithArgs(id, ClassDermatology, 0.92, "skin maintenance context").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.SaveClassification(ctx, id, ClassificationResult{
		Classification: ClassDermatology,
		Confidence:     0.92,
		Reason:         "skin maintenance context",
	}); err != nil {
		t.Fatalf("save classification: %v", err)
	}

	mock.ExpectExec("UPDATE consultations").
		WithArgs(id, StatusReportFailed, "stage blew up").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.MarkFailed(ctx, id, "stage blew up"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryUpdateMissingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)

	mock.ExpectExec("UPDATE consultations").
		WithArgs("missing", StatusReportReady).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := repo.SetStatus(context.Background(), "missing", StatusReportReady); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
