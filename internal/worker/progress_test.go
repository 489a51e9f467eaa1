package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kiranshivaraju/planwise/internal/events"
	"github.com/kiranshivaraju/planwise/internal/worker"
	"github.com/kiranshivaraju/planwise/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProgressStore struct {
	err     error
	updates map[string][]models.Progress
}

func (s *fakeProgressStore) UpdateJobProgress(_ context.Context, id string, p models.Progress) error {
	if s.err != nil {
		return s.err
	}
	if s.updates == nil {
		s.updates = make(map[string][]models.Progress)
	}
	s.updates[id] = append(s.updates[id], p)
	return nil
}

func TestProgressFanout_WritesEverywhere(t *testing.T) {
	st := &fakeProgressStore{}
	c := newFakeCache()
	pub := &recordingPublisher{}
	f := worker.NewProgressFanout(st, c, pub, nil)

	p := models.Progress{CurrentStep: 2, TotalSteps: 8, CurrentMessage: "Processing: Competitor Research"}
	require.NoError(t, f.UpdateProgress(context.Background(), "task_1", p))

	assert.Equal(t, []models.Progress{p}, st.updates["task_1"])
	assert.Equal(t, p, c.progress["task_1"])

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, events.TypeJobProgress, e.Type)
	assert.Equal(t, "task_1", e.JobID)
	assert.Equal(t, models.JobStatusProcessing, e.Status)
	require.NotNil(t, e.Progress)
	assert.Equal(t, 2, e.Progress.CurrentStep)
	assert.NotEmpty(t, e.ID)
}

func TestProgressFanout_StoreErrorIsReturned(t *testing.T) {
	st := &fakeProgressStore{err: errors.New("db gone")}
	pub := &recordingPublisher{}
	f := worker.NewProgressFanout(st, nil, pub, nil)

	err := f.UpdateProgress(context.Background(), "task_1", models.Progress{CurrentStep: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
	assert.Empty(t, pub.events)
}

func TestProgressFanout_MirrorErrorsAreIgnored(t *testing.T) {
	st := &fakeProgressStore{}
	c := newFakeCache()
	c.err = errors.New("redis down")
	pub := &recordingPublisher{err: errors.New("broker down")}
	f := worker.NewProgressFanout(st, c, pub, nil)

	require.NoError(t, f.UpdateProgress(context.Background(), "task_1", models.Progress{CurrentStep: 1}))
	assert.Len(t, st.updates["task_1"], 1)
}
