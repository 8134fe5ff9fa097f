package pipeline

import (
	"context"

	"github.com/medihim/ippo-platform/internal/consultation"
)

// JobKind selects the runner entry point for a queued job.
type JobKind string

const (
	JobRun        JobKind = "run"
	JobResume     JobKind = "resume"
	JobRegenerate JobKind = "regenerate"
)

// Job is one unit of pipeline work. Exactly one of the ID fields is
// meaningful per kind: ConsultationID for run/resume, ReportID for
// regenerate.
type Job struct {
	Kind           JobKind                     `json:"kind"`
	ConsultationID string                      `json:"consultation_id,omitempty"`
	Classification consultation.Classification `json:"classification,omitempty"`
	ReportID       string                      `json:"report_id,omitempty"`
	Direction      string                      `json:"direction,omitempty"`
}

// Queue transports pipeline jobs from the HTTP handlers to the dispatcher
// workers. Receive blocks until a job is available or ctx is done; ack is
// called after the job has been processed.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Receive(ctx context.Context) (job Job, ack func(), err error)
}

// MemoryQueue is a channel-backed Queue for single-process deployments and
// tests.
type MemoryQueue struct {
	jobs chan Job
}

// NewMemoryQueue creates an in-process queue with the given buffer size.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{jobs: make(chan Job, buffer)}
}

// Enqueue adds a job, blocking if the buffer is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a job arrives or ctx is done.
func (q *MemoryQueue) Receive(ctx context.Context) (Job, func(), error) {
	select {
	case job := <-q.jobs:
		return job, func() {}, nil
	case <-ctx.Done():
		return Job{}, nil, ctx.Err()
	}
}
