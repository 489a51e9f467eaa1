package ai

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/planwise/pkg/models"
)

// transportAttemptCap bounds attempts on a provider that keeps failing at the transport level.
const transportAttemptCap = 2

// Rand is the jitter source. *math/rand.Rand satisfies it.
type Rand interface {
	Int63n(n int64) int64
}

// RetryPolicy controls per-provider retries.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxJitter  time.Duration
}

// DefaultRetryPolicy is 3 attempts per provider, 1s base, 32s cap, up to 1s jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   32 * time.Second,
		MaxJitter:  time.Second,
	}
}

// Backoff returns the delay after failed attempt k (1-based):
// min(BaseDelay*2^(k-1) + jitter, MaxDelay) with jitter in whole milliseconds from [0, MaxJitter].
func (p RetryPolicy) Backoff(k int, rnd Rand) time.Duration {
	if k < 1 {
		k = 1
	}
	d := p.BaseDelay
	for i := 1; i < k && d < p.MaxDelay; i++ {
		d *= 2
	}
	if rnd != nil && p.MaxJitter > 0 {
		jitterMS := p.MaxJitter.Milliseconds()
		d += time.Duration(rnd.Int63n(jitterMS+1)) * time.Millisecond
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// decision is what the orchestrator does after a failed attempt.
type decision struct {
	retry bool
	delay time.Duration
}

// decide applies the classification table to a failure of attempt (1-based).
func (p RetryPolicy) decide(err error, attempt int, rnd Rand) decision {
	kind := models.ErrorKindUpstream
	var pe *models.ProviderError
	if errors.As(err, &pe) {
		kind = pe.Kind
	}

	switch kind {
	case models.ErrorKindClientRejected, models.ErrorKindMisconfigured:
		return decision{}
	case models.ErrorKindRateLimited:
		if pe.RetryAfter > 0 {
			return decision{retry: attempt < p.MaxRetries, delay: pe.RetryAfter}
		}
	case models.ErrorKindTransport:
		if attempt >= transportAttemptCap {
			return decision{}
		}
	}

	if attempt >= p.MaxRetries {
		return decision{}
	}
	return decision{retry: true, delay: p.Backoff(attempt, rnd)}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
