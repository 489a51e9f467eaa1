package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// JobKindAnalyzeBusinessIdea is the only job kind the worker currently runs.
const JobKindAnalyzeBusinessIdea = "analyze_business_idea"

// DefaultJobPriority is used when the enqueuer does not set one. Higher runs first.
const DefaultJobPriority = 5

const (
	AnalysisDepthBasic    = "basic"
	AnalysisDepthStandard = "standard"
	AnalysisDepthDeep     = "deep"
)

// Job is a unit of work in the task queue. The status reader polls
// status and payload progress until the job is completed or failed.
type Job struct {
	ID           string     `db:"job_id"        json:"job_id"`
	OwnerID      *string    `db:"owner_id"      json:"owner_id,omitempty"`
	ReportID     string     `db:"report_id"     json:"report_id"`
	Kind         string     `db:"kind"          json:"kind"`
	Status       string     `db:"status"        json:"status"`
	Priority     int        `db:"priority"      json:"priority"`
	Payload      JobPayload `db:"payload"       json:"payload"`
	Result       *JobResult `db:"result"        json:"result,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int        `db:"retry_count"   json:"retry_count"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`

	// PayloadErr is set when the stored payload does not decode into JobPayload.
	// The job is still returned so the claimant can fail it.
	PayloadErr error `db:"-" json:"-"`
}

// BusinessContext is the immutable input of a report run, written by the enqueuer.
type BusinessContext struct {
	BusinessName  string   `json:"business_name"`
	BusinessIdea  string   `json:"business_idea"`
	Industry      string   `json:"industry"`
	TargetMarket  string   `json:"target_market"`
	AnalysisDepth string   `json:"analysis_depth"`
	FocusAreas    []string `json:"focus_areas"`
}

// Depth returns the analysis depth, defaulting to standard.
func (c BusinessContext) Depth() string {
	switch c.AnalysisDepth {
	case AnalysisDepthBasic, AnalysisDepthDeep:
		return c.AnalysisDepth
	default:
		return AnalysisDepthStandard
	}
}

// Progress is merged into the job payload while the pipeline runs.
type Progress struct {
	CurrentStep    int    `json:"current_step"`
	TotalSteps     int    `json:"total_steps"`
	CurrentMessage string `json:"current_message"`
}

// JobPayload is the JSON document stored in jobs.payload.
type JobPayload struct {
	BusinessContext
	Progress
}

// JobResult is stored in jobs.result once every step has completed.
type JobResult struct {
	Summary    string          `json:"executive_summary"`
	Sections   []ReportSection `json:"sections"`
	TotalWords int             `json:"total_words"`
	TokensUsed int             `json:"tokens_used"`
}

// ReportSection is the output of a single completed step.
type ReportSection struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
}

// NewJobID returns a job identifier in the task_<hex> form used by enqueuers.
func NewJobID() string { return "task_" + shortHex() }

// NewReportID returns a report identifier in the rep_<hex> form.
func NewReportID() string { return "rep_" + shortHex() }

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
