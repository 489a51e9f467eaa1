package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/planwise/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// maxFailureMessageRunes bounds the failure text merged into payload.current_message.
const maxFailureMessageRunes = 255

// JobQueue is the durable task queue. ClaimNextJob is the only
// mutual-exclusion point between workers.
type JobQueue interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// ClaimNextJob moves the highest-priority, oldest pending job to
	// processing and returns it. Returns nil, nil when nothing is pending.
	ClaimNextJob(ctx context.Context) (*models.Job, error)
	MarkJobCompleted(ctx context.Context, id string, result *models.JobResult) error
	MarkJobFailed(ctx context.Context, id string, msg string) error
	UpdateJobProgress(ctx context.Context, id string, p models.Progress) error
}

// StepStore persists ReportStep rows. Writes are upserts keyed by
// (report_id, step_number); a completed step is never reopened.
type StepStore interface {
	StartStep(ctx context.Context, step models.ReportStep) (models.ReportStep, error)
	CompleteStep(ctx context.Context, step models.ReportStep, res models.StepResult) error
	FailStep(ctx context.Context, step models.ReportStep, msg string) error
	ListSteps(ctx context.Context, reportID string) ([]models.ReportStep, error)
}

// ReportStore writes the terminal state of a report.
type ReportStore interface {
	CreateReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	CompleteReport(ctx context.Context, id string, totalWords, tokensUsed int) error
	FailReport(ctx context.Context, id string, msg string) error
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	JobQueue
	StepStore
	ReportStore
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// prepareJob fills the defaults an enqueuer may leave out.
func prepareJob(job *models.Job) {
	if job.ID == "" {
		job.ID = models.NewJobID()
	}
	if job.Kind == "" {
		job.Kind = models.JobKindAnalyzeBusinessIdea
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.Priority == 0 {
		job.Priority = models.DefaultJobPriority
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
}

func prepareReport(r *models.Report) {
	if r.ID == "" {
		r.ID = models.NewReportID()
	}
	if r.Status == "" {
		r.Status = models.ReportStatusDraft
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
}

func encodePayload(p models.JobPayload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return b, nil
}

func encodeResult(r *models.JobResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode job result: %w", err)
	}
	return b, nil
}

// decodeJobDocuments never fails on the payload: a job that was claimed must
// reach the worker even when its payload is unusable. See Job.PayloadErr.
func decodeJobDocuments(job *models.Job, payload, result []byte) error {
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			job.Payload = models.JobPayload{}
			job.PayloadErr = fmt.Errorf("decode job payload: %w", err)
		}
	}
	if len(result) > 0 {
		var r models.JobResult
		if err := json.Unmarshal(result, &r); err != nil {
			return fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &r
	}
	return nil
}

// truncateRunes truncates s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
