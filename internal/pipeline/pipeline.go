package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/planwise/internal/ai"
	"github.com/kiranshivaraju/planwise/pkg/models"
)

const (
	// DefaultPacing separates consecutive steps.
	DefaultPacing = 300 * time.Millisecond

	maxStepErrorRunes = 1000
	finalMessage      = "All analysis stages completed"
)

// Completer runs one prompt against the provider chain. *ai.Orchestrator satisfies it.
type Completer interface {
	CallWithRetry(ctx context.Context, req models.CompletionRequest) (*ai.Completion, error)
}

// StepStore persists per-step state. Every method is an upsert keyed by step id.
type StepStore interface {
	// StartStep moves the step to processing and returns the stored row.
	// A completed step is returned unchanged.
	StartStep(ctx context.Context, step models.ReportStep) (models.ReportStep, error)
	CompleteStep(ctx context.Context, step models.ReportStep, res models.StepResult) error
	FailStep(ctx context.Context, step models.ReportStep, msg string) error
}

// ProgressSink receives progress updates for the job being processed.
type ProgressSink interface {
	UpdateProgress(ctx context.Context, jobID string, p models.Progress) error
}

// StepObserver is notified when a step finishes.
type StepObserver interface {
	ObserveStep(step, status string, elapsed time.Duration)
}

// Config holds the optional collaborators of a Pipeline.
type Config struct {
	Pacing   time.Duration
	Logger   *slog.Logger
	Sleep    func(ctx context.Context, d time.Duration) error
	Observer StepObserver
}

// Pipeline runs the fixed report steps for one job, strictly in order.
type Pipeline struct {
	completer Completer
	steps     StepStore
	progress  ProgressSink
	pacing    time.Duration
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	observer  StepObserver
}

// New creates a Pipeline. A zero Config.Pacing uses DefaultPacing; a negative one disables pacing.
func New(completer Completer, steps StepStore, progress ProgressSink, cfg Config) *Pipeline {
	p := &Pipeline{
		completer: completer,
		steps:     steps,
		progress:  progress,
		pacing:    cfg.Pacing,
		logger:    cfg.Logger,
		sleep:     cfg.Sleep,
		observer:  cfg.Observer,
	}
	if p.pacing == 0 {
		p.pacing = DefaultPacing
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	return p
}

// Run executes every step for the job's report. The first failing step is
// persisted as failed and aborts the run with a *StepError; later steps are
// never attempted.
func (p *Pipeline) Run(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	logger := p.logger.With("job_id", job.ID, "report_id", job.ReportID)
	result := &models.JobResult{Sections: make([]models.ReportSection, 0, len(Steps))}
	prior := make([]priorSection, 0, len(Steps))

	for i, def := range Steps {
		if i > 0 && p.pacing > 0 {
			if err := p.sleep(ctx, p.pacing); err != nil {
				return nil, err
			}
		}

		p.reportProgress(ctx, logger, job.ID, models.Progress{
			CurrentStep:    def.Number,
			TotalSteps:     len(Steps),
			CurrentMessage: "Processing: " + def.Title,
		})

		section, tokens, err := p.runStep(ctx, logger, job, def, prior)
		if err != nil {
			return nil, &StepError{Number: def.Number, Name: def.Name, Err: err}
		}

		result.Sections = append(result.Sections, section)
		result.TotalWords += section.WordCount
		result.TokensUsed += tokens
		prior = append(prior, priorSection{title: def.Title, content: section.Content})
	}

	p.reportProgress(ctx, logger, job.ID, models.Progress{
		CurrentStep:    len(Steps),
		TotalSteps:     len(Steps),
		CurrentMessage: finalMessage,
	})

	result.Summary = Summarize(result.Sections)
	return result, nil
}

func (p *Pipeline) runStep(ctx context.Context, logger *slog.Logger, job *models.Job, def models.StepDefinition, prior []priorSection) (models.ReportSection, int, error) {
	row := models.ReportStep{
		ID:       models.StepID(job.ReportID, def.Name),
		ReportID: job.ReportID,
		JobID:    job.ID,
		Number:   def.Number,
		Name:     def.Name,
		Title:    def.Title,
	}
	logger = logger.With("step", def.Name)

	stored, err := p.steps.StartStep(ctx, row)
	if err != nil {
		return models.ReportSection{}, 0, fmt.Errorf("starting step: %w", err)
	}
	if stored.Status == models.StepStatusCompleted && stored.Content != nil {
		logger.Info("step already completed, reusing stored content")
		return sectionFromRow(def, stored), 0, nil
	}

	bc := job.Payload.BusinessContext
	temp := Temperature(bc)
	req := models.CompletionRequest{
		Prompt:       StepPrompt(bc, def, prior),
		SystemPrompt: SystemPrompt(bc, def),
		Temperature:  &temp,
	}

	start := time.Now()
	completion, err := p.completer.CallWithRetry(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		p.observe(def.Name, models.StepStatusFailed, elapsed)
		msg := truncateRunes(err.Error(), maxStepErrorRunes)
		if ferr := p.steps.FailStep(ctx, row, msg); ferr != nil {
			logger.Error("failed to record step failure", "error", ferr)
		}
		logger.Error("step failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return models.ReportSection{}, 0, err
	}

	res := models.StepResult{
		Content:    completion.Text,
		WordCount:  WordCount(completion.Text),
		DurationMS: elapsed.Milliseconds(),
		Model:      completion.Model,
		Provider:   completion.Provider,
	}
	if err := p.steps.CompleteStep(ctx, row, res); err != nil {
		p.observe(def.Name, models.StepStatusFailed, elapsed)
		msg := truncateRunes("saving step result: "+err.Error(), maxStepErrorRunes)
		if ferr := p.steps.FailStep(ctx, row, msg); ferr != nil {
			logger.Error("failed to record step failure", "error", ferr)
		}
		return models.ReportSection{}, 0, fmt.Errorf("saving step result: %w", err)
	}
	p.observe(def.Name, models.StepStatusCompleted, elapsed)

	logger.Info("step completed",
		"provider", completion.Provider,
		"model", completion.Model,
		"attempts", completion.Attempts,
		"words", res.WordCount,
		"duration_ms", res.DurationMS,
	)

	return models.ReportSection{
		Name:      def.Name,
		Title:     def.Title,
		Content:   res.Content,
		WordCount: res.WordCount,
		Model:     res.Model,
		Provider:  res.Provider,
	}, completion.TokensUsed, nil
}

// reportProgress never fails the run; progress is advisory.
func (p *Pipeline) reportProgress(ctx context.Context, logger *slog.Logger, jobID string, pr models.Progress) {
	if p.progress == nil {
		return
	}
	if err := p.progress.UpdateProgress(ctx, jobID, pr); err != nil {
		logger.Warn("failed to update progress", "error", err, "current_step", pr.CurrentStep)
	}
}

func (p *Pipeline) observe(step, status string, elapsed time.Duration) {
	if p.observer != nil {
		p.observer.ObserveStep(step, status, elapsed)
	}
}

func sectionFromRow(def models.StepDefinition, row models.ReportStep) models.ReportSection {
	s := models.ReportSection{
		Name:      def.Name,
		Title:     def.Title,
		Content:   *row.Content,
		WordCount: row.WordCount,
	}
	if row.ModelUsed != nil {
		s.Model = *row.ModelUsed
	}
	if row.Provider != nil {
		s.Provider = *row.Provider
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
