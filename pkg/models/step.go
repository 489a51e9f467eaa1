package models

import "time"

const (
	StepStatusPending    = "pending"
	StepStatusProcessing = "processing"
	StepStatusCompleted  = "completed"
	StepStatusFailed     = "failed"
	StepStatusSkipped    = "skipped"
)

// StepDefinition describes one fixed stage of the report pipeline.
type StepDefinition struct {
	Number int
	Name   string
	Title  string
	Prompt string
}

// ReportStep is the persisted state of one step of one report.
// There is exactly one row per (report_id, step_number).
type ReportStep struct {
	ID          string     `db:"step_id"      json:"step_id"`
	ReportID    string     `db:"report_id"    json:"report_id"`
	JobID       string     `db:"job_id"       json:"job_id"`
	Number      int        `db:"step_number"  json:"step_number"`
	Name        string     `db:"name"         json:"name"`
	Title       string     `db:"title"        json:"title"`
	Status      string     `db:"status"       json:"status"`
	Content     *string    `db:"content"      json:"content,omitempty"`
	ModelUsed   *string    `db:"model_used"   json:"model_used,omitempty"`
	Provider    *string    `db:"provider"     json:"provider,omitempty"`
	WordCount   int        `db:"word_count"   json:"word_count"`
	DurationMS  int64      `db:"duration_ms"  json:"duration_ms"`
	Error       *string    `db:"error"        json:"error,omitempty"`
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// StepID derives the deterministic step identifier for a report.
func StepID(reportID, stepName string) string {
	return "step_" + reportID + "_" + stepName
}

// StepResult is what the pipeline persists when a step succeeds.
type StepResult struct {
	Content    string
	WordCount  int
	DurationMS int64
	Model      string
	Provider   string
}
