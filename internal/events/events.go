// Package events publishes job lifecycle events for downstream consumers
// (notifiers, dashboards). Publishing is best-effort: the store remains the
// source of truth and a lost event never affects a job.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

// Type is the event type. It doubles as the AMQP routing key.
type Type string

const (
	TypeJobClaimed   Type = "job.claimed"
	TypeJobProgress  Type = "job.progress"
	TypeJobCompleted Type = "job.completed"
	TypeJobFailed    Type = "job.failed"
)

// Event is the JSON message body.
type Event struct {
	ID         string           `json:"id"`
	Type       Type             `json:"type"`
	JobID      string           `json:"job_id"`
	ReportID   string           `json:"report_id"`
	WorkerID   string           `json:"worker_id,omitempty"`
	Status     string           `json:"status"`
	Progress   *models.Progress `json:"progress,omitempty"`
	TotalWords int              `json:"total_words,omitempty"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NewEvent stamps a new event for the given job.
func NewEvent(t Type, job *models.Job, status string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		JobID:      job.ID,
		ReportID:   job.ReportID,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop is used when AMQP_URL is not configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

var _ Publisher = Noop{}
