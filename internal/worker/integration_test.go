package worker_test

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/planwise/internal/ai"
	"github.com/kiranshivaraju/planwise/internal/ai/mock"
	"github.com/kiranshivaraju/planwise/internal/ai/openai"
	"github.com/kiranshivaraju/planwise/internal/config"
	"github.com/kiranshivaraju/planwise/internal/pipeline"
	"github.com/kiranshivaraju/planwise/internal/store"
	"github.com/kiranshivaraju/planwise/internal/worker"
	"github.com/kiranshivaraju/planwise/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func openSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, _ := openSQLiteAt(t)
	return s
}

func openSQLiteAt(t *testing.T) (*store.SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planwise.db")
	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

// overwritePayload stores doc as the job's payload as-is, the way a foreign
// enqueuer might.
func overwritePayload(t *testing.T, path, jobID, doc string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`UPDATE jobs SET payload = ? WHERE job_id = ?`, doc, jobID)
	require.NoError(t, err)
}

// newSQLiteWorker wires the real pipeline and orchestrator over a SQLite store.
func newSQLiteWorker(t *testing.T, s *store.SQLiteStore, providers []models.AIProvider) (*worker.Worker, *fakeCache, *recordingPublisher) {
	t.Helper()
	c := newFakeCache()
	pub := &recordingPublisher{}

	orch := ai.NewOrchestrator(providers, ai.NewGateway(ai.GatewayConfig{
		RequestTimeout: 5 * time.Second,
		ConnectTimeout: time.Second,
	}), ai.OrchestratorConfig{Sleep: noSleep})

	pipe := pipeline.New(orch, s, worker.NewProgressFanout(s, c, pub, nil), pipeline.Config{Pacing: -1})

	reg := worker.NewRegistry()
	reg.Register(models.JobKindAnalyzeBusinessIdea, pipe)

	w := worker.New(worker.Config{
		ID:           "worker-e2e",
		Queue:        s,
		Reports:      s,
		Registry:     reg,
		Cache:        c,
		Events:       pub,
		PollInterval: 5 * time.Millisecond,
	})
	return w, c, pub
}

func enqueue(t *testing.T, s *store.SQLiteStore) *models.Job {
	t.Helper()
	ctx := context.Background()

	report := &models.Report{Title: "Office coffee", Status: models.ReportStatusAnalyzing}
	require.NoError(t, s.CreateReport(ctx, report))

	job := &models.Job{
		ReportID: report.ID,
		Payload: models.JobPayload{BusinessContext: models.BusinessContext{
			BusinessName: "Acme Beans",
			BusinessIdea: "Subscription coffee for offices",
			Industry:     "Food & Beverage",
			TargetMarket: "SMB offices",
			FocusAreas:   []string{"pricing"},
		}},
	}
	require.NoError(t, s.CreateJob(ctx, job))
	return job
}

func jobStatus(s *store.SQLiteStore, id string) func() bool {
	return func() bool {
		j, err := s.GetJob(context.Background(), id)
		return err == nil && (j.Status == models.JobStatusCompleted || j.Status == models.JobStatusFailed)
	}
}

func TestWorker_SQLiteEndToEnd(t *testing.T) {
	// The first provider rejects the key; the chain falls through to the mock.
	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(rejected.Close)

	s := openSQLite(t)
	job := enqueue(t, s)
	providers := []models.AIProvider{
		openai.NewProvider(config.ProviderConfig{APIKey: "sk-bad", Endpoint: rejected.URL, Model: "gpt-test"}),
		mock.NewMockProvider(),
	}
	w, c, pub := newSQLiteWorker(t, s, providers)

	runUntil(t, w, jobStatus(s, job.ID))

	ctx := context.Background()
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Sections, pipeline.TotalSteps)
	assert.NotEmpty(t, got.Result.Summary)
	assert.Positive(t, got.Result.TotalWords)
	assert.Equal(t, "All analysis stages completed", got.Payload.CurrentMessage)
	assert.Equal(t, "Acme Beans", got.Payload.BusinessName)

	steps, err := s.ListSteps(ctx, job.ReportID)
	require.NoError(t, err)
	require.Len(t, steps, pipeline.TotalSteps)
	sum := 0
	for i, st := range steps {
		assert.Equal(t, i+1, st.Number)
		assert.Equal(t, models.StepStatusCompleted, st.Status)
		require.NotNil(t, st.Provider)
		assert.Equal(t, "mock", *st.Provider)
		sum += st.WordCount
	}
	assert.Equal(t, got.Result.TotalWords, sum)

	report, err := s.GetReport(ctx, job.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusCompleted, report.Status)
	assert.Equal(t, sum, report.TotalWords)

	status, ok, err := c.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, status)

	types := pub.types()
	require.NotEmpty(t, types)
	assert.Equal(t, "job.claimed", string(types[0]))
	assert.Equal(t, "job.completed", string(types[len(types)-1]))
}

func TestWorker_SQLiteAllProvidersFail(t *testing.T) {
	s := openSQLite(t)
	job := enqueue(t, s)
	w, _, _ := newSQLiteWorker(t, s, []models.AIProvider{mock.NewFailingProvider(errors.New("model overloaded"))})

	runUntil(t, w, jobStatus(s, job.ID))

	ctx := context.Background()
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "step 1 (market_analysis)")
	assert.Nil(t, got.Result)

	steps, err := s.ListSteps(ctx, job.ReportID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)

	report, err := s.GetReport(ctx, job.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFailed, report.Status)
	require.NotNil(t, report.LastError)
}

func TestWorker_SQLiteUndecodablePayloadDoesNotStallQueue(t *testing.T) {
	s, path := openSQLiteAt(t)
	bad := enqueue(t, s)
	overwritePayload(t, path, bad.ID, `{"business_name":"Acme Beans","focus_areas":"marketing"}`)
	good := enqueue(t, s)
	w, _, _ := newSQLiteWorker(t, s, []models.AIProvider{mock.NewMockProvider()})

	runUntil(t, w, func() bool { return jobStatus(s, bad.ID)() && jobStatus(s, good.ID)() })

	ctx := context.Background()
	got, err := s.GetJob(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "invalid payload")
	assert.Contains(t, *got.ErrorMessage, "focus_areas")

	steps, err := s.ListSteps(ctx, bad.ReportID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	got, err = s.GetJob(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}
