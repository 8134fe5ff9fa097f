package knowledge

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestPostgresKeywordStoreLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresKeywordStoreWithExec(mock)

	rows := pgxmock.NewRows([]string{"category", "keyword"}).
		AddRow("hair", "transplant").
		AddRow("hair", "loss").
		AddRow("skin", "acne")
	mock.ExpectQuery("SELECT category, keyword").WillReturnRows(rows)

	dict, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if dict.Len() != 2 {
		t.Errorf("expected 2 categories, got %d", dict.Len())
	}
	if got := dict.KeywordsFor("hair"); len(got) != 2 || got[0] != "transplant" {
		t.Errorf("unexpected hair keywords: %v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresKeywordStoreUpsertAndDeactivate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newPostgresKeywordStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO classification_keywords").
		WithArgs("skin", "botox", 5).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := store.Upsert(context.Background(), "skin", "botox", 5); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	mock.ExpectExec("UPDATE classification_keywords").
		WithArgs("skin", "botox").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.Deactivate(context.Background(), "skin", "botox")
	if err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if !ok {
		t.Error("expected deactivate to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
