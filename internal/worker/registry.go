package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/planwise/pkg/models"
)

// Runner executes one job of a given kind. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, job *models.Job) (*models.JobResult, error)
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context, job *models.Job) (*models.JobResult, error)

func (f RunnerFunc) Run(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	return f(ctx, job)
}

// Registry maps job kinds to runners.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds or replaces the runner for kind.
func (r *Registry) Register(kind string, runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[kind] = runner
}

// Get returns the runner for kind.
func (r *Registry) Get(kind string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobKind, kind)
	}
	return runner, nil
}
