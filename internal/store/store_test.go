package store_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/planwise/internal/store"
	"github.com/kiranshivaraju/planwise/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payloadWriter stores doc verbatim as a job's payload, skipping the store's encoder.
type payloadWriter func(t *testing.T, jobID, doc string)

// storeFactory returns an empty store for one subtest and raw access to its payloads.
type storeFactory func(t *testing.T) (store.Store, payloadWriter)

// runStoreSuite exercises the behaviour every backend must share.
func runStoreSuite(t *testing.T, newStore storeFactory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"ClaimEmptyQueue", testClaimEmptyQueue},
		{"ClaimPriorityOrder", testClaimPriorityOrder},
		{"ClaimMarksProcessing", testClaimMarksProcessing},
		{"ClaimExclusive", testClaimExclusive},
		{"JobNotFound", testJobNotFound},
		{"DuplicateJob", testDuplicateJob},
		{"ProgressMerge", testProgressMerge},
		{"MarkJobCompleted", testMarkJobCompleted},
		{"MarkJobFailed", testMarkJobFailed},
		{"StepUpsertIdempotent", testStepUpsertIdempotent},
		{"CompletedStepNotReopened", testCompletedStepNotReopened},
		{"FailedStepRestarts", testFailedStepRestarts},
		{"ListStepsOrdered", testListStepsOrdered},
		{"ReportTerminalStates", testReportTerminalStates},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newStore(t)
			tt.fn(t, s)
		})
	}

	t.Run("ClaimUndecodablePayload", func(t *testing.T) {
		testClaimUndecodablePayload(t, newStore)
	})
}

// --- helpers ---

func newJob(reportID string, priority int, createdAt time.Time) *models.Job {
	return &models.Job{
		ID:        models.NewJobID(),
		ReportID:  reportID,
		Priority:  priority,
		CreatedAt: createdAt,
		Payload: models.JobPayload{
			BusinessContext: models.BusinessContext{
				BusinessName:  "Acme",
				BusinessIdea:  "Subscription coffee for offices",
				Industry:      "food",
				AnalysisDepth: "standard",
				FocusAreas:    []string{"pricing"},
			},
			Progress: models.Progress{TotalSteps: 8},
		},
	}
}

func createReport(t *testing.T, s store.Store) string {
	t.Helper()
	r := &models.Report{Title: "Coffee plan", Status: models.ReportStatusAnalyzing}
	require.NoError(t, s.CreateReport(context.Background(), r))
	return r.ID
}

func stepRow(reportID, jobID string, n int) models.ReportStep {
	names := []string{"market_analysis", "competitor_research", "user_persona", "business_model",
		"risk_assessment", "financial_forecast", "marketing_strategy", "implementation_plan"}
	name := names[n-1]
	return models.ReportStep{
		ID:       models.StepID(reportID, name),
		ReportID: reportID,
		JobID:    jobID,
		Number:   n,
		Name:     name,
		Title:    strings.ReplaceAll(name, "_", " "),
	}
}

// --- queue ---

func testClaimEmptyQueue(t *testing.T, s store.Store) {
	job, err := s.ClaimNextJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func testClaimPriorityOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	a := newJob("rep_a", 5, base)
	b := newJob("rep_b", 9, base.Add(time.Second))
	c := newJob("rep_c", 5, base.Add(2*time.Second))
	for _, j := range []*models.Job{a, b, c} {
		require.NoError(t, s.CreateJob(ctx, j))
	}

	var order []string
	for i := 0; i < 3; i++ {
		j, err := s.ClaimNextJob(ctx)
		require.NoError(t, err)
		require.NotNil(t, j)
		order = append(order, j.ID)
	}
	assert.Equal(t, []string{b.ID, a.ID, c.ID}, order)

	j, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, j)
}

func testClaimMarksProcessing(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob("rep_1", 0, time.Time{})
	require.NoError(t, s.CreateJob(ctx, job))
	assert.Equal(t, models.DefaultJobPriority, job.Priority)
	assert.Equal(t, models.JobKindAnalyzeBusinessIdea, job.Kind)

	claimed, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	require.NotNil(t, claimed.StartedAt)
	assert.Equal(t, "Subscription coffee for offices", claimed.Payload.BusinessIdea)
	assert.Equal(t, []string{"pricing"}, claimed.Payload.FocusAreas)

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, stored.Status)
}

// A payload the worker cannot decode still yields a claimed job, so it can be
// failed instead of blocking the head of the queue.
func testClaimUndecodablePayload(t *testing.T, newStore storeFactory) {
	s, writePayload := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	bad := newJob("rep_bad", 9, base)
	good := newJob("rep_good", 1, base.Add(time.Second))
	require.NoError(t, s.CreateJob(ctx, bad))
	require.NoError(t, s.CreateJob(ctx, good))
	writePayload(t, bad.ID, `{"business_name":"Acme","focus_areas":"marketing"}`)

	claimed, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, bad.ID, claimed.ID)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	require.Error(t, claimed.PayloadErr)
	assert.Contains(t, claimed.PayloadErr.Error(), "focus_areas")

	require.NoError(t, s.MarkJobFailed(ctx, bad.ID, "invalid payload: "+claimed.PayloadErr.Error()))
	stored, err := s.GetJob(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	next, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, good.ID, next.ID)
	assert.NoError(t, next.PayloadErr)
	assert.Equal(t, []string{"pricing"}, next.Payload.FocusAreas)
}

func testClaimExclusive(t *testing.T, s store.Store) {
	ctx := context.Background()
	const jobs = 30
	const workers = 6

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < jobs; i++ {
		require.NoError(t, s.CreateJob(ctx, newJob(fmt.Sprintf("rep_%d", i), 5, base.Add(time.Duration(i)*time.Millisecond))))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
		errs    = make(chan error, workers)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimNextJob(ctx)
				if err != nil {
					errs <- err
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func testJobNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetJob(ctx, "task_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.MarkJobCompleted(ctx, "task_missing", &models.JobResult{}), store.ErrNotFound)
	assert.ErrorIs(t, s.MarkJobFailed(ctx, "task_missing", "x"), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateJobProgress(ctx, "task_missing", models.Progress{}), store.ErrNotFound)
}

func testDuplicateJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob("rep_1", 5, time.Time{})
	require.NoError(t, s.CreateJob(ctx, job))

	dup := *job
	assert.ErrorIs(t, s.CreateJob(ctx, &dup), store.ErrDuplicateKey)
}

func testProgressMerge(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob("rep_1", 5, time.Time{})
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.UpdateJobProgress(ctx, job.ID, models.Progress{CurrentStep: 3, TotalSteps: 8, CurrentMessage: "Processing: Target User Persona"}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Progress{CurrentStep: 3, TotalSteps: 8, CurrentMessage: "Processing: Target User Persona"}, got.Payload.Progress)
	assert.Equal(t, job.Payload.BusinessContext, got.Payload.BusinessContext)
}

func testMarkJobCompleted(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob("rep_1", 5, time.Time{})
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)

	result := &models.JobResult{
		Summary:    "summary",
		Sections:   []models.ReportSection{{Name: "market_analysis", Title: "Market", Content: "text", WordCount: 1, Model: "m", Provider: "p"}},
		TotalWords: 1,
		TokensUsed: 42,
	}
	require.NoError(t, s.MarkJobCompleted(ctx, job.ID, result))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Result)
	assert.Equal(t, *result, *got.Result)
	assert.Nil(t, got.ErrorMessage)
}

func testMarkJobFailed(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob("rep_1", 5, time.Time{})
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobProgress(ctx, job.ID, models.Progress{CurrentStep: 2, TotalSteps: 8, CurrentMessage: "Processing"}))

	msg := strings.Repeat("错", 300)
	require.NoError(t, s.MarkJobFailed(ctx, job.ID, msg))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
	assert.Equal(t, 255, len([]rune(got.Payload.CurrentMessage)))
	assert.Equal(t, 2, got.Payload.CurrentStep)
	assert.NotNil(t, got.CompletedAt)

	// A failed job is never re-claimed.
	next, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

// --- steps ---

func testStepUpsertIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	reportID := createReport(t, s)
	row := stepRow(reportID, "task_1", 1)

	first, err := s.StartStep(ctx, row)
	require.NoError(t, err)
	second, err := s.StartStep(ctx, row)
	require.NoError(t, err)

	assert.Equal(t, models.StepStatusProcessing, second.Status)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, first.StartedAt)
	require.NotNil(t, second.StartedAt)
	assert.True(t, first.StartedAt.Equal(*second.StartedAt))

	require.NoError(t, s.CompleteStep(ctx, row, models.StepResult{Content: "a", WordCount: 1}))
	require.NoError(t, s.CompleteStep(ctx, row, models.StepResult{Content: "b", WordCount: 2}))

	steps, err := s.ListSteps(ctx, reportID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	require.NotNil(t, steps[0].Content)
	assert.Equal(t, "b", *steps[0].Content)
}

func testCompletedStepNotReopened(t *testing.T, s store.Store) {
	ctx := context.Background()
	reportID := createReport(t, s)
	row := stepRow(reportID, "task_1", 2)

	_, err := s.StartStep(ctx, row)
	require.NoError(t, err)
	require.NoError(t, s.CompleteStep(ctx, row, models.StepResult{
		Content: "competitors", WordCount: 1, DurationMS: 1500, Model: "qwen-plus", Provider: "qwen",
	}))

	retry := stepRow(reportID, "task_2", 2)
	stored, err := s.StartStep(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, stored.Status)
	assert.Equal(t, "task_1", stored.JobID)
	require.NotNil(t, stored.Content)
	assert.Equal(t, "competitors", *stored.Content)
	require.NotNil(t, stored.Provider)
	assert.Equal(t, "qwen", *stored.Provider)
	assert.Equal(t, int64(1500), stored.DurationMS)

	require.NoError(t, s.FailStep(ctx, retry, "late failure"))
	steps, err := s.ListSteps(ctx, reportID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.Nil(t, steps[0].Error)
}

func testFailedStepRestarts(t *testing.T, s store.Store) {
	ctx := context.Background()
	reportID := createReport(t, s)
	row := stepRow(reportID, "task_1", 3)

	_, err := s.StartStep(ctx, row)
	require.NoError(t, err)
	require.NoError(t, s.FailStep(ctx, row, "all providers failed"))

	steps, err := s.ListSteps(ctx, reportID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
	require.NotNil(t, steps[0].Error)
	assert.Equal(t, "all providers failed", *steps[0].Error)

	retried, err := s.StartStep(ctx, stepRow(reportID, "task_2", 3))
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusProcessing, retried.Status)
	assert.Equal(t, "task_2", retried.JobID)
	assert.Nil(t, retried.Error)
}

func testListStepsOrdered(t *testing.T, s store.Store) {
	ctx := context.Background()
	reportID := createReport(t, s)
	for _, n := range []int{3, 1, 2} {
		_, err := s.StartStep(ctx, stepRow(reportID, "task_1", n))
		require.NoError(t, err)
	}

	steps, err := s.ListSteps(ctx, reportID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, st := range steps {
		assert.Equal(t, i+1, st.Number)
	}

	empty, err := s.ListSteps(ctx, "rep_none")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// --- reports ---

func testReportTerminalStates(t *testing.T, s store.Store) {
	ctx := context.Background()
	done := createReport(t, s)
	failed := createReport(t, s)

	require.NoError(t, s.CompleteReport(ctx, done, 555, 1200))
	require.NoError(t, s.FailReport(ctx, failed, "step 3 (user_persona): boom"))

	r, err := s.GetReport(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusCompleted, r.Status)
	assert.Equal(t, 555, r.TotalWords)
	assert.Equal(t, 1200, r.TokensUsed)
	assert.NotNil(t, r.CompletedAt)
	assert.Nil(t, r.LastError)

	r, err = s.GetReport(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFailed, r.Status)
	require.NotNil(t, r.LastError)
	assert.Equal(t, "step 3 (user_persona): boom", *r.LastError)

	_, err = s.GetReport(ctx, "rep_missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.ErrorIs(t, s.CompleteReport(ctx, "rep_missing", 1, 1), store.ErrNotFound)
}
