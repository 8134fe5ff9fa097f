package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is one append-only record of a stage agent execution.
type AuditEntry struct {
	ConsultationID string
	AgentName      string
	Input          json.RawMessage
	Output         json.RawMessage
	Duration       time.Duration
	Status         string // "success" or "error"
	ErrorMessage   string
}

// AuditLog records stage agent executions for operator debugging.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresAuditLog appends agent execution records to agent_logs.
type PostgresAuditLog struct {
	pool execer
}

// NewPostgresAuditLog creates a Postgres-backed audit log.
func NewPostgresAuditLog(pool *pgxpool.Pool) *PostgresAuditLog {
	if pool == nil {
		panic("pipeline: database pool cannot be nil")
	}
	return &PostgresAuditLog{pool: pool}
}

func newPostgresAuditLogWithExec(exec execer) *PostgresAuditLog {
	return &PostgresAuditLog{pool: exec}
}

// Record appends one entry. Audit writes never abort a pipeline run; the
// caller decides whether to log or ignore the returned error.
func (l *PostgresAuditLog) Record(ctx context.Context, entry AuditEntry) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO agent_logs (consultation_id, agent_name, input_data, output_data, duration_ms, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		entry.ConsultationID,
		entry.AgentName,
		nullableJSON(entry.Input),
		nullableJSON(entry.Output),
		entry.Duration.Milliseconds(),
		entry.Status,
		entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("pipeline: record audit entry: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// MemoryAuditLog collects entries in memory for tests and local development.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditLog creates an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns a snapshot of the recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
