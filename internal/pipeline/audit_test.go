package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestPostgresAuditLogRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newPostgresAuditLogWithExec(mock)

	mock.ExpectExec("INSERT INTO agent_logs").
		WithArgs("cons-1", "classifier", []byte(`{"text":"x"}`), []byte(`{"classification":"dermatology"}`), int64(1500), "success", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = log.Record(context.Background(), AuditEntry{
		ConsultationID: "cons-1",
		AgentName:      "classifier",
		Input:          json.RawMessage(`{"text":"x"}`),
		Output:         json.RawMessage(`{"classification":"dermatology"}`),
		Duration:       1500 * time.Millisecond,
		Status:         "success",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAuditLogNullsEmptySnapshots(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	log := newPostgresAuditLogWithExec(mock)

	mock.ExpectExec("INSERT INTO agent_logs").
		WithArgs("cons-1", "translator", nil, nil, int64(0), "error", "backend exploded").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = log.Record(context.Background(), AuditEntry{
		ConsultationID: "cons-1",
		AgentName:      "translator",
		Status:         "error",
		ErrorMessage:   "backend exploded",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
