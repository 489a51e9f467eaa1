package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/planwise/pkg/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS reports (
  report_id    TEXT PRIMARY KEY,
  owner_id     TEXT,
  title        TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL DEFAULT 'draft',
  total_words  INTEGER NOT NULL DEFAULT 0,
  tokens_used  INTEGER NOT NULL DEFAULT 0,
  last_error   TEXT,
  created_at   INTEGER NOT NULL,
  updated_at   INTEGER NOT NULL,
  completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS jobs (
  job_id        TEXT PRIMARY KEY,
  owner_id      TEXT,
  report_id     TEXT NOT NULL,
  kind          TEXT NOT NULL,
  status        TEXT NOT NULL DEFAULT 'pending',
  priority      INTEGER NOT NULL DEFAULT 5,
  payload       TEXT NOT NULL DEFAULT '{}',
  result        TEXT,
  error_message TEXT,
  retry_count   INTEGER NOT NULL DEFAULT 0,
  started_at    INTEGER,
  completed_at  INTEGER,
  created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (priority DESC, created_at ASC) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS report_steps (
  step_id      TEXT PRIMARY KEY,
  report_id    TEXT NOT NULL REFERENCES reports (report_id) ON DELETE CASCADE,
  job_id       TEXT NOT NULL,
  step_number  INTEGER NOT NULL,
  name         TEXT NOT NULL,
  title        TEXT NOT NULL,
  status       TEXT NOT NULL DEFAULT 'pending',
  content      TEXT,
  model_used   TEXT,
  provider     TEXT,
  word_count   INTEGER NOT NULL DEFAULT 0,
  duration_ms  INTEGER NOT NULL DEFAULT 0,
  error        TEXT,
  started_at   INTEGER,
  completed_at INTEGER,
  created_at   INTEGER NOT NULL,
  updated_at   INTEGER NOT NULL,
  UNIQUE (report_id, step_number)
);
`

// SQLiteStore implements the Store interface on a single SQLite file.
// All access goes through one connection, so the claim UPDATE is serialized.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	if strings.Contains(path, "?") {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) nowMS() int64 { return s.now().UnixMilli() }

func fromMS(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

const sqliteJobColumns = `job_id, owner_id, report_id, kind, status, priority, payload, result,
  error_message, retry_count, started_at, completed_at, created_at`

func scanSQLiteJob(row rowScanner) (*models.Job, error) {
	var (
		j                      models.Job
		owner, result, errMsg  sql.NullString
		payload                string
		startedAt, completedAt sql.NullInt64
		createdAt              int64
	)
	if err := row.Scan(&j.ID, &owner, &j.ReportID, &j.Kind, &j.Status, &j.Priority, &payload, &result,
		&errMsg, &j.RetryCount, &startedAt, &completedAt, &createdAt); err != nil {
		return nil, err
	}
	j.OwnerID = nullString(owner)
	j.ErrorMessage = nullString(errMsg)
	j.StartedAt = nullTime(startedAt)
	j.CompletedAt = nullTime(completedAt)
	j.CreatedAt = fromMS(createdAt)

	var resultDoc []byte
	if result.Valid {
		resultDoc = []byte(result.String)
	}
	if err := decodeJobDocuments(&j, []byte(payload), resultDoc); err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.Job) error {
	prepareJob(job)
	payload, err := encodePayload(job.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, owner_id, report_id, kind, status, priority, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.ReportID, job.Kind, job.Status, job.Priority, string(payload), job.CreatedAt.UnixMilli())
	if err != nil {
		if isSQLiteConstraintError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE job_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ClaimNextJob selects and claims in a single statement. The status guard
// in the outer WHERE keeps the claim exclusive even across processes.
func (s *SQLiteStore) ClaimNextJob(ctx context.Context) (*models.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = 'processing', started_at = ?
		 WHERE job_id = (
		   SELECT job_id FROM jobs
		   WHERE status = 'pending'
		   ORDER BY priority DESC, created_at ASC
		   LIMIT 1
		 ) AND status = 'pending'
		 RETURNING `+sqliteJobColumns, s.nowMS()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) MarkJobCompleted(ctx context.Context, id string, result *models.JobResult) error {
	doc, err := encodeResult(result)
	if err != nil {
		return err
	}
	var resultArg any
	if doc != nil {
		resultArg = string(doc)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', completed_at = ?, result = ?, error_message = NULL
		 WHERE job_id = ?`, s.nowMS(), resultArg, id)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return expectRow(res)
}

func (s *SQLiteStore) MarkJobFailed(ctx context.Context, id string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = 'failed', completed_at = ?, error_message = ?, retry_count = retry_count + 1,
		     payload = json_set(COALESCE(payload, '{}'), '$.current_message', ?)
		 WHERE job_id = ?`, s.nowMS(), msg, truncateRunes(msg, maxFailureMessageRunes), id)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return expectRow(res)
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, p models.Progress) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET payload = json_set(COALESCE(payload, '{}'),
		     '$.current_step', ?, '$.total_steps', ?, '$.current_message', ?)
		 WHERE job_id = ?`, p.CurrentStep, p.TotalSteps, p.CurrentMessage, id)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return expectRow(res)
}

// --- Report steps ---

const sqliteStepColumns = `step_id, report_id, job_id, step_number, name, title, status, content, model_used,
  provider, word_count, duration_ms, error, started_at, completed_at, created_at, updated_at`

func scanSQLiteStep(row rowScanner) (models.ReportStep, error) {
	var (
		st                               models.ReportStep
		content, model, provider, errMsg sql.NullString
		startedAt, completedAt           sql.NullInt64
		createdAt, updatedAt             int64
	)
	if err := row.Scan(&st.ID, &st.ReportID, &st.JobID, &st.Number, &st.Name, &st.Title, &st.Status,
		&content, &model, &provider, &st.WordCount, &st.DurationMS, &errMsg,
		&startedAt, &completedAt, &createdAt, &updatedAt); err != nil {
		return models.ReportStep{}, err
	}
	st.Content = nullString(content)
	st.ModelUsed = nullString(model)
	st.Provider = nullString(provider)
	st.Error = nullString(errMsg)
	st.StartedAt = nullTime(startedAt)
	st.CompletedAt = nullTime(completedAt)
	st.CreatedAt = fromMS(createdAt)
	st.UpdatedAt = fromMS(updatedAt)
	return st, nil
}

func (s *SQLiteStore) StartStep(ctx context.Context, step models.ReportStep) (models.ReportStep, error) {
	now := s.nowMS()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO report_steps (step_id, report_id, job_id, step_number, name, title, status,
		     started_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'processing', ?, ?, ?)
		 ON CONFLICT (report_id, step_number) DO UPDATE
		 SET status = 'processing', job_id = excluded.job_id, error = NULL,
		     started_at = COALESCE(report_steps.started_at, excluded.started_at),
		     updated_at = excluded.updated_at
		 WHERE report_steps.status <> 'completed'`,
		step.ID, step.ReportID, step.JobID, step.Number, step.Name, step.Title, now, now, now)
	if err != nil {
		return models.ReportStep{}, fmt.Errorf("start step: %w", err)
	}

	stored, err := scanSQLiteStep(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteStepColumns+` FROM report_steps WHERE report_id = ? AND step_number = ?`,
		step.ReportID, step.Number))
	if err != nil {
		return models.ReportStep{}, fmt.Errorf("read started step: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) CompleteStep(ctx context.Context, step models.ReportStep, res models.StepResult) error {
	now := s.nowMS()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO report_steps (step_id, report_id, job_id, step_number, name, title, status,
		     content, model_used, provider, word_count, duration_ms, started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'completed', ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (report_id, step_number) DO UPDATE
		 SET status = 'completed', job_id = excluded.job_id, content = excluded.content,
		     model_used = excluded.model_used, provider = excluded.provider,
		     word_count = excluded.word_count, duration_ms = excluded.duration_ms,
		     error = NULL, completed_at = excluded.completed_at, updated_at = excluded.updated_at`,
		step.ID, step.ReportID, step.JobID, step.Number, step.Name, step.Title,
		res.Content, res.Model, res.Provider, res.WordCount, res.DurationMS, now, now, now, now)
	if err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailStep(ctx context.Context, step models.ReportStep, msg string) error {
	now := s.nowMS()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO report_steps (step_id, report_id, job_id, step_number, name, title, status,
		     error, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'failed', ?, ?, ?, ?)
		 ON CONFLICT (report_id, step_number) DO UPDATE
		 SET status = 'failed', job_id = excluded.job_id, error = excluded.error,
		     completed_at = excluded.completed_at, updated_at = excluded.updated_at
		 WHERE report_steps.status <> 'completed'`,
		step.ID, step.ReportID, step.JobID, step.Number, step.Name, step.Title, msg, now, now, now)
	if err != nil {
		return fmt.Errorf("fail step: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSteps(ctx context.Context, reportID string) ([]models.ReportStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteStepColumns+` FROM report_steps WHERE report_id = ? ORDER BY step_number`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	steps := []models.ReportStep{}
	for rows.Next() {
		st, err := scanSQLiteStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// --- Reports ---

func (s *SQLiteStore) CreateReport(ctx context.Context, r *models.Report) error {
	prepareReport(r)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (report_id, owner_id, title, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.Title, r.Status, r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli())
	if err != nil {
		if isSQLiteConstraintError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	var (
		r                    models.Report
		owner, lastErr       sql.NullString
		createdAt, updatedAt int64
		completedAt          sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT report_id, owner_id, title, status, total_words, tokens_used, last_error,
		        created_at, updated_at, completed_at
		 FROM reports WHERE report_id = ?`, id,
	).Scan(&r.ID, &owner, &r.Title, &r.Status, &r.TotalWords, &r.TokensUsed, &lastErr,
		&createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	r.OwnerID = nullString(owner)
	r.LastError = nullString(lastErr)
	r.CreatedAt = fromMS(createdAt)
	r.UpdatedAt = fromMS(updatedAt)
	r.CompletedAt = nullTime(completedAt)
	return &r, nil
}

func (s *SQLiteStore) CompleteReport(ctx context.Context, id string, totalWords, tokensUsed int) error {
	now := s.nowMS()
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports
		 SET status = 'completed', total_words = ?, tokens_used = ?, last_error = NULL,
		     completed_at = ?, updated_at = ?
		 WHERE report_id = ?`, totalWords, tokensUsed, now, now, id)
	if err != nil {
		return fmt.Errorf("complete report: %w", err)
	}
	return expectRow(res)
}

func (s *SQLiteStore) FailReport(ctx context.Context, id string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reports SET status = 'failed', last_error = ?, updated_at = ? WHERE report_id = ?`,
		msg, s.nowMS(), id)
	if err != nil {
		return fmt.Errorf("fail report: %w", err)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isSQLiteConstraintError reports a UNIQUE or PRIMARY KEY violation.
func isSQLiteConstraintError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

var _ Store = (*SQLiteStore)(nil)
