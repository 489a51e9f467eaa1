// Package worker drains the job queue. Each Worker claims one job at a time,
// dispatches it to the runner registered for its kind, and records the
// terminal state. Workers share nothing but the store, so scale-out is a
// matter of running more of them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/planwise/internal/cache"
	"github.com/kiranshivaraju/planwise/internal/events"
	"github.com/kiranshivaraju/planwise/internal/metrics"
	"github.com/kiranshivaraju/planwise/internal/store"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

// DefaultPollInterval is the idle sleep after an empty or failed claim.
const DefaultPollInterval = 500 * time.Millisecond

// Queue is the part of the job queue a worker drives.
type Queue interface {
	ClaimNextJob(ctx context.Context) (*models.Job, error)
	MarkJobCompleted(ctx context.Context, id string, result *models.JobResult) error
	MarkJobFailed(ctx context.Context, id string, msg string) error
}

// Reports records the terminal state of the report a job produces.
type Reports interface {
	CompleteReport(ctx context.Context, id string, totalWords, tokensUsed int) error
	FailReport(ctx context.Context, id string, msg string) error
}

// Config holds a Worker's collaborators. Queue, Reports and Registry are required.
type Config struct {
	ID           string
	Queue        Queue
	Reports      Reports
	Registry     *Registry
	Cache        cache.Cache
	Events       events.Publisher
	Metrics      *metrics.Metrics
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Worker runs the claim, process, repeat loop.
type Worker struct {
	id           string
	queue        Queue
	reports      Reports
	registry     *Registry
	cache        cache.Cache
	events       events.Publisher
	metrics      *metrics.Metrics
	pollInterval time.Duration
	logger       *slog.Logger

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) *Worker {
	w := &Worker{
		id:           cfg.ID,
		queue:        cfg.Queue,
		reports:      cfg.Reports,
		registry:     cfg.Registry,
		cache:        cfg.Cache,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
		stopCh:       make(chan struct{}),
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.registry == nil {
		w.registry = NewRegistry()
	}
	if w.cache == nil {
		w.cache = cache.Noop{}
	}
	if w.events == nil {
		w.events = events.Noop{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("worker_id", w.id)
	return w
}

func (w *Worker) ID() string { return w.id }

// Run loops until Stop is called or ctx is cancelled. Both only take effect
// between jobs: a claimed job runs on a context detached from ctx and always
// reaches a terminal state before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	select {
	case <-w.stopCh:
		return nil
	default:
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.running.Store(false)

	unwatch := context.AfterFunc(ctx, w.Stop)
	defer unwatch()

	w.logger.Info("worker started", "poll_interval", w.pollInterval)
	for w.Running() {
		if w.processNext(ctx) {
			continue
		}
		w.idle()
	}
	w.logger.Info("worker stopped")
	return nil
}

// Stop asks the loop to exit at the next iteration boundary. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.running.Store(false)
		close(w.stopCh)
	})
}

// Running reports whether the loop will claim another job.
func (w *Worker) Running() bool {
	select {
	case <-w.stopCh:
		return false
	default:
		return w.running.Load()
	}
}

func (w *Worker) idle() {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stopCh:
	}
}

// processNext claims and runs at most one job. It reports whether a job was claimed.
func (w *Worker) processNext(ctx context.Context) bool {
	job, err := w.queue.ClaimNextJob(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to claim job", "error", err)
			w.metrics.ObserveClaim("error")
		}
		return false
	}
	if job == nil {
		w.metrics.ObserveClaim("empty")
		return false
	}
	w.metrics.ObserveClaim("claimed")

	w.process(context.WithoutCancel(ctx), job)
	return true
}

func (w *Worker) process(ctx context.Context, job *models.Job) {
	logger := w.logger.With("job_id", job.ID, "report_id", job.ReportID, "kind", job.Kind)
	start := time.Now()

	logger.Info("job claimed", "priority", job.Priority, "retry_count", job.RetryCount)
	w.metrics.JobStarted()
	w.mirrorStatus(ctx, logger, job.ID, models.JobStatusProcessing)
	w.publish(ctx, logger, w.event(events.TypeJobClaimed, job, models.JobStatusProcessing))

	result, err := w.run(ctx, logger, job)
	if err != nil {
		w.fail(ctx, logger, job, err)
		w.metrics.JobFinished(models.JobStatusFailed, time.Since(start))
		return
	}

	if err := w.complete(ctx, logger, job, result); err != nil {
		w.fail(ctx, logger, job, err)
		w.metrics.JobFinished(models.JobStatusFailed, time.Since(start))
		return
	}
	w.metrics.JobFinished(models.JobStatusCompleted, time.Since(start))
	logger.Info("job completed", "total_words", result.TotalWords, "tokens_used", result.TokensUsed, "elapsed", time.Since(start))
}

func (w *Worker) run(ctx context.Context, logger *slog.Logger, job *models.Job) (result *models.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()

	if job.PayloadErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, job.PayloadErr)
	}
	runner, err := w.registry.Get(job.Kind)
	if err != nil {
		return nil, err
	}
	result, err = runner.Run(ctx, job)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &models.JobResult{}
	}
	return result, nil
}

// complete records the result. If the result cannot be persisted the error is
// returned so the caller can fail the job instead of leaving it processing.
func (w *Worker) complete(ctx context.Context, logger *slog.Logger, job *models.Job, result *models.JobResult) error {
	err := retryOnce(logger, "mark job completed", func() error {
		return w.queue.MarkJobCompleted(ctx, job.ID, result)
	})
	if err != nil {
		return fmt.Errorf("persisting job result: %w", err)
	}
	if err := w.reports.CompleteReport(ctx, job.ReportID, result.TotalWords, result.TokensUsed); err != nil {
		logReportError(logger, "failed to complete report", err)
	}

	w.mirrorStatus(ctx, logger, job.ID, models.JobStatusCompleted)
	e := w.event(events.TypeJobCompleted, job, models.JobStatusCompleted)
	e.TotalWords = result.TotalWords
	w.publish(ctx, logger, e)
	return nil
}

func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *models.Job, cause error) {
	msg := cause.Error()
	logger.Error("job failed", "error", cause)

	err := retryOnce(logger, "mark job failed", func() error {
		return w.queue.MarkJobFailed(ctx, job.ID, msg)
	})
	if err != nil {
		logger.Error("failed to mark job failed", "error", err)
		return
	}
	if err := w.reports.FailReport(ctx, job.ReportID, msg); err != nil {
		logReportError(logger, "failed to fail report", err)
	}

	w.mirrorStatus(ctx, logger, job.ID, models.JobStatusFailed)
	e := w.event(events.TypeJobFailed, job, models.JobStatusFailed)
	e.Error = msg
	w.publish(ctx, logger, e)
}

// retryOnce runs a terminal job write, repeating it once on error. Both writes
// are unconditional updates, so a repeat is harmless.
func retryOnce(logger *slog.Logger, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	logger.Warn("terminal write failed, retrying", "op", op, "error", err)
	return fn()
}

// logReportError logs a missing report row as a warning only. The job row is
// the source of truth.
func logReportError(logger *slog.Logger, msg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn(msg, "error", err)
		return
	}
	logger.Error(msg, "error", err)
}

func (w *Worker) mirrorStatus(ctx context.Context, logger *slog.Logger, jobID, status string) {
	if err := w.cache.SetJobStatus(ctx, jobID, status); err != nil {
		logger.Warn("failed to mirror job status to cache", "status", status, "error", err)
	}
}

func (w *Worker) event(t events.Type, job *models.Job, status string) events.Event {
	e := events.NewEvent(t, job, status)
	e.WorkerID = w.id
	return e
}

func (w *Worker) publish(ctx context.Context, logger *slog.Logger, e events.Event) {
	if err := w.events.Publish(ctx, e); err != nil {
		logger.Warn("failed to publish job event", "type", e.Type, "error", err)
	}
}
