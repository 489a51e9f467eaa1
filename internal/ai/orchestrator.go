package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/kiranshivaraju/planwise/pkg/models"
)

// Caller performs a single provider call. *Gateway satisfies it.
type Caller interface {
	Call(ctx context.Context, p models.AIProvider, req models.CompletionRequest) (models.ProviderResponse, error)
}

// AttemptObserver is notified after every provider attempt.
type AttemptObserver interface {
	ObserveAttempt(provider, outcome string, elapsed time.Duration)
}

// Completion is a successful model answer and where it came from.
type Completion struct {
	Text       string
	Provider   string
	Model      string
	Attempts   int
	TokensUsed int
}

// OrchestratorConfig holds the optional collaborators of an Orchestrator.
// Zero values fall back to production defaults.
type OrchestratorConfig struct {
	Policy   RetryPolicy
	Logger   *slog.Logger
	Rand     Rand
	Sleep    func(ctx context.Context, d time.Duration) error
	Observer AttemptObserver
}

// Orchestrator walks the provider list in order, retrying each per the policy,
// until one returns usable text.
type Orchestrator struct {
	providers []models.AIProvider
	caller    Caller
	policy    RetryPolicy
	logger    *slog.Logger
	rand      Rand
	sleep     func(ctx context.Context, d time.Duration) error
	observer  AttemptObserver
}

// NewOrchestrator creates an Orchestrator over providers in fallback order.
func NewOrchestrator(providers []models.AIProvider, caller Caller, cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		caller:    caller,
		policy:    cfg.Policy,
		logger:    cfg.Logger,
		rand:      cfg.Rand,
		sleep:     cfg.Sleep,
		observer:  cfg.Observer,
	}
	if o.policy.MaxRetries <= 0 {
		o.policy = DefaultRetryPolicy()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.rand == nil {
		o.rand = &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	if o.sleep == nil {
		o.sleep = sleepCtx
	}
	return o
}

// Providers returns the configured fallback order.
func (o *Orchestrator) Providers() []models.AIProvider {
	return o.providers
}

// CallWithRetry returns the first non-empty completion. When every provider
// has exhausted its budget the error wraps ErrAllProvidersFailed and the last failure.
func (o *Orchestrator) CallWithRetry(ctx context.Context, req models.CompletionRequest) (*Completion, error) {
	if len(o.providers) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	total := 0
	for _, p := range o.providers {
		log := o.logger.With("provider", p.Name(), "model", p.Model())

		for attempt := 1; attempt <= o.policy.MaxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("calling AI providers: %w", err)
			}

			total++
			start := time.Now()
			resp, err := o.caller.Call(ctx, p, req)
			elapsed := time.Since(start)
			if err == nil {
				o.observe(p.Name(), "success", elapsed)
				if attempt > 1 {
					log.Info("provider succeeded after retry", "attempt", attempt)
				}
				return &Completion{
					Text:       resp.Text,
					Provider:   p.Name(),
					Model:      p.Model(),
					Attempts:   total,
					TokensUsed: resp.TokensUsed,
				}, nil
			}

			lastErr = err
			o.observe(p.Name(), errorKind(err).String(), elapsed)

			d := o.policy.decide(err, attempt, o.rand)
			if !d.retry {
				log.Warn("provider attempt failed, moving on", "attempt", attempt, "error", err)
				break
			}

			log.Warn("provider attempt failed, retrying", "attempt", attempt, "delay", d.delay, "error", err)
			if err := o.sleep(ctx, d.delay); err != nil {
				return nil, fmt.Errorf("waiting to retry %s: %w", p.Name(), err)
			}
		}
	}

	return nil, fmt.Errorf("%w. Last error: %w", ErrAllProvidersFailed, lastErr)
}

func (o *Orchestrator) observe(provider, outcome string, elapsed time.Duration) {
	if o.observer != nil {
		o.observer.ObserveAttempt(provider, outcome, elapsed)
	}
}

// errorKind extracts the ErrorKind of err, defaulting to Upstream.
func errorKind(err error) models.ErrorKind {
	var pe *models.ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return models.ErrorKindUpstream
}

// lockedRand makes a math/rand source safe for the concurrent worker loops.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}
