package models

import "time"

const (
	ReportStatusDraft     = "draft"
	ReportStatusAnalyzing = "analyzing"
	ReportStatusCompleted = "completed"
	ReportStatusFailed    = "failed"
)

// Report is owned by the enqueuer. The worker only writes its terminal state.
type Report struct {
	ID          string     `db:"report_id"    json:"report_id"`
	OwnerID     *string    `db:"owner_id"     json:"owner_id,omitempty"`
	Title       string     `db:"title"        json:"title"`
	Status      string     `db:"status"       json:"status"`
	TotalWords  int        `db:"total_words"  json:"total_words"`
	TokensUsed  int        `db:"tokens_used"  json:"tokens_used"`
	LastError   *string    `db:"last_error"   json:"last_error,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
