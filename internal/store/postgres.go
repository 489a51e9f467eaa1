package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const pgJobColumns = `job_id, owner_id, report_id, kind, status, priority, payload, result,
	error_message, retry_count, started_at, completed_at, created_at`

func scanPGJob(row rowScanner) (*models.Job, error) {
	var (
		j               models.Job
		payload, result []byte
	)
	if err := row.Scan(&j.ID, &j.OwnerID, &j.ReportID, &j.Kind, &j.Status, &j.Priority, &payload, &result,
		&j.ErrorMessage, &j.RetryCount, &j.StartedAt, &j.CompletedAt, &j.CreatedAt); err != nil {
		return nil, err
	}
	if err := decodeJobDocuments(&j, payload, result); err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	prepareJob(job)
	payload, err := encodePayload(job.Payload)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (job_id, owner_id, report_id, kind, status, priority, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.OwnerID, job.ReportID, job.Kind, job.Status, job.Priority, payload, job.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanPGJob(s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE job_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ClaimNextJob locks the next pending row with SKIP LOCKED so concurrent
// workers never block on, or double-claim, the same job.
func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id string
	err = tx.QueryRow(ctx,
		`SELECT job_id FROM jobs
		 WHERE status = 'pending'
		 ORDER BY priority DESC, created_at ASC
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select next job: %w", err)
	}

	job, err := scanPGJob(tx.QueryRow(ctx,
		`UPDATE jobs SET status = 'processing', started_at = NOW()
		 WHERE job_id = $1
		 RETURNING `+pgJobColumns, id))
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) MarkJobCompleted(ctx context.Context, id string, result *models.JobResult) error {
	doc, err := encodeResult(result)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', completed_at = NOW(), result = $2, error_message = NULL
		 WHERE job_id = $1`, id, doc)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, id string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'failed', completed_at = NOW(), error_message = $2,
		     retry_count = retry_count + 1,
		     payload = COALESCE(payload, '{}'::jsonb) || jsonb_build_object('current_message', $3::text)
		 WHERE job_id = $1`, id, msg, truncateRunes(msg, maxFailureMessageRunes))
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateJobProgress merges the progress fields into the payload, leaving the business context intact.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, p models.Progress) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET payload = COALESCE(payload, '{}'::jsonb) || jsonb_build_object(
		     'current_step', $2::int, 'total_steps', $3::int, 'current_message', $4::text)
		 WHERE job_id = $1`, id, p.CurrentStep, p.TotalSteps, p.CurrentMessage)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Report steps ---

const pgStepColumns = `step_id, report_id, job_id, step_number, name, title, status, content, model_used,
	provider, word_count, duration_ms, error, started_at, completed_at, created_at, updated_at`

func scanPGStep(row rowScanner) (models.ReportStep, error) {
	var st models.ReportStep
	err := row.Scan(&st.ID, &st.ReportID, &st.JobID, &st.Number, &st.Name, &st.Title, &st.Status,
		&st.Content, &st.ModelUsed, &st.Provider, &st.WordCount, &st.DurationMS, &st.Error,
		&st.StartedAt, &st.CompletedAt, &st.CreatedAt, &st.UpdatedAt)
	return st, err
}

// StartStep upserts the step as processing. The conflict update is skipped
// for completed rows, so the stored row is read back afterwards.
func (s *PostgresStore) StartStep(ctx context.Context, step models.ReportStep) (models.ReportStep, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_steps (step_id, report_id, job_id, step_number, name, title, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'processing', NOW())
		 ON CONFLICT (report_id, step_number) DO UPDATE
		 SET status = 'processing', job_id = EXCLUDED.job_id, error = NULL,
		     started_at = COALESCE(report_steps.started_at, NOW()), updated_at = NOW()
		 WHERE report_steps.status <> 'completed'`,
		step.ID, step.ReportID, step.JobID, step.Number, step.Name, step.Title)
	if err != nil {
		return models.ReportStep{}, fmt.Errorf("start step: %w", err)
	}

	stored, err := scanPGStep(s.pool.QueryRow(ctx,
		`SELECT `+pgStepColumns+` FROM report_steps WHERE report_id = $1 AND step_number = $2`,
		step.ReportID, step.Number))
	if err != nil {
		return models.ReportStep{}, fmt.Errorf("read started step: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) CompleteStep(ctx context.Context, step models.ReportStep, res models.StepResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_steps (step_id, report_id, job_id, step_number, name, title, status,
		     content, model_used, provider, word_count, duration_ms, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'completed', $7, $8, $9, $10, $11, NOW(), NOW())
		 ON CONFLICT (report_id, step_number) DO UPDATE
		 SET status = 'completed', job_id = EXCLUDED.job_id, content = EXCLUDED.content,
		     model_used = EXCLUDED.model_used, provider = EXCLUDED.provider,
		     word_count = EXCLUDED.word_count, duration_ms = EXCLUDED.duration_ms,
		     error = NULL, completed_at = NOW(), updated_at = NOW()`,
		step.ID, step.ReportID, step.JobID, step.Number, step.Name, step.Title,
		res.Content, res.Model, res.Provider, res.WordCount, res.DurationMS)
	if err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailStep(ctx context.Context, step models.ReportStep, msg string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO report_steps (step_id, report_id, job_id, step_number, name, title, status,
		     error, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 'failed', $7, NOW())
		 ON CONFLICT (report_id, step_number) DO UPDATE
		 SET status = 'failed', job_id = EXCLUDED.job_id, error = EXCLUDED.error,
		     completed_at = NOW(), updated_at = NOW()
		 WHERE report_steps.status <> 'completed'`,
		step.ID, step.ReportID, step.JobID, step.Number, step.Name, step.Title, msg)
	if err != nil {
		return fmt.Errorf("fail step: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, reportID string) ([]models.ReportStep, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgStepColumns+` FROM report_steps WHERE report_id = $1 ORDER BY step_number`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := []models.ReportStep{}
	for rows.Next() {
		st, err := scanPGStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// --- Reports ---

func (s *PostgresStore) CreateReport(ctx context.Context, r *models.Report) error {
	prepareReport(r)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (report_id, owner_id, title, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.OwnerID, r.Title, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	var r models.Report
	err := s.pool.QueryRow(ctx,
		`SELECT report_id, owner_id, title, status, total_words, tokens_used, last_error,
		        created_at, updated_at, completed_at
		 FROM reports WHERE report_id = $1`, id,
	).Scan(&r.ID, &r.OwnerID, &r.Title, &r.Status, &r.TotalWords, &r.TokensUsed, &r.LastError,
		&r.CreatedAt, &r.UpdatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) CompleteReport(ctx context.Context, id string, totalWords, tokensUsed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports
		 SET status = 'completed', total_words = $2, tokens_used = $3, last_error = NULL,
		     completed_at = NOW(), updated_at = NOW()
		 WHERE report_id = $1`, id, totalWords, tokensUsed)
	if err != nil {
		return fmt.Errorf("complete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailReport(ctx context.Context, id string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = 'failed', last_error = $2, updated_at = NOW()
		 WHERE report_id = $1`, id, msg)
	if err != nil {
		return fmt.Errorf("fail report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
