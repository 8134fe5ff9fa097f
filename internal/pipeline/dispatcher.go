package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/medihim/ippo-platform/internal/consultation"
	"github.com/medihim/ippo-platform/internal/observability/metrics"
	"github.com/medihim/ippo-platform/pkg/logging"
	"golang.org/x/sync/semaphore"
)

// JobRunner is the runner surface the dispatcher drives.
type JobRunner interface {
	Run(ctx context.Context, consultationID string) error
	Resume(ctx context.Context, consultationID string, class consultation.Classification) error
	Regenerate(ctx context.Context, reportID, direction string) error
}

// Dispatcher moves jobs from the queue into the runner. A weighted semaphore
// caps concurrent pipeline runs across all workers so the generation backend
// is never hit by more than maxRuns consultations at once; excess jobs wait
// for a slot rather than failing.
type Dispatcher struct {
	queue   Queue
	runner  JobRunner
	sem     *semaphore.Weighted
	workers int
	metrics *metrics.PipelineMetrics
	logger  *logging.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given worker and concurrency
// caps.
func NewDispatcher(queue Queue, runner JobRunner, workers int, maxRuns int64, m *metrics.PipelineMetrics, logger *logging.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if maxRuns <= 0 {
		maxRuns = 5
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		queue:   queue,
		runner:  runner,
		sem:     semaphore.NewWeighted(maxRuns),
		workers: workers,
		metrics: m,
		logger:  logger,
	}
}

// EnqueueRun queues a full pipeline run for a consultation.
func (d *Dispatcher) EnqueueRun(ctx context.Context, consultationID string) error {
	return d.queue.Enqueue(ctx, Job{Kind: JobRun, ConsultationID: consultationID})
}

// EnqueueResume queues a resume after manual classification.
func (d *Dispatcher) EnqueueResume(ctx context.Context, consultationID string, class consultation.Classification) error {
	return d.queue.Enqueue(ctx, Job{Kind: JobResume, ConsultationID: consultationID, Classification: class})
}

// EnqueueRegenerate queues a report regeneration with steering text.
func (d *Dispatcher) EnqueueRegenerate(ctx context.Context, reportID, direction string) error {
	return d.queue.Enqueue(ctx, Job{Kind: JobRegenerate, ReportID: reportID, Direction: direction})
}

// Start launches the worker loops. They run until ctx is cancelled; Wait
// blocks until in-flight jobs drain.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.Info("pipeline dispatcher started", "workers", d.workers)
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for {
		job, ack, err := d.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			d.logger.Error("queue receive failed", "worker", id, "error", err)
			continue
		}

		if err := d.process(ctx, job); err != nil {
			// The runner has already persisted the failure state; this is
			// operator-facing only.
			d.logger.Error("pipeline job failed",
				"worker", id,
				"kind", string(job.Kind),
				"consultation_id", job.ConsultationID,
				"report_id", job.ReportID,
				"error", err,
			)
		}
		ack()
	}
}

// process acquires a concurrency slot and runs the job. Acquire blocks when
// the cap is reached, queueing the job behind the running ones.
func (d *Dispatcher) process(ctx context.Context, job Job) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("pipeline: acquire run slot: %w", err)
	}
	defer d.sem.Release(1)

	d.metrics.RunStarted()
	defer d.metrics.RunFinished()

	switch job.Kind {
	case JobRun:
		return d.runner.Run(ctx, job.ConsultationID)
	case JobResume:
		return d.runner.Resume(ctx, job.ConsultationID, job.Classification)
	case JobRegenerate:
		return d.runner.Regenerate(ctx, job.ReportID, job.Direction)
	default:
		return fmt.Errorf("pipeline: unknown job kind %q", job.Kind)
	}
}
