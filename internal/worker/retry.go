package worker

import (
	"math/rand/v2"
	"time"

	"comic-orchestrator/internal/entity"
	"comic-orchestrator/internal/generation"
)

// MaxJitter bounds the random part of a retry delay.
const MaxJitter = 250 * time.Millisecond

type RetryPolicy struct {
	MaxValidationRetries int
	MaxTransientRetries  int
	BaseDelay            time.Duration
	// Jitter returns a value in [0, MaxJitter). Nil uses math/rand.
	Jitter func() time.Duration
}

// Decision is the outcome of classifying one failed generation call.
type Decision struct {
	Class   generation.Class
	Retry   bool
	Attempt int
	Delay   time.Duration
}

// Classify looks at a failed generation for target t and either books a retry
// on the matching counter in out or declares the failure fatal. A counter that
// already reached its cap is fatal too.
func (p RetryPolicy) Classify(out *entity.Output, t entity.Target, err error) Decision {
	class := generation.ClassOf(err)

	var (
		counters entity.Counters
		max      int
	)
	switch class {
	case generation.ClassValidation:
		counters, max = out.RetryCounts, p.MaxValidationRetries
	case generation.ClassTransient:
		counters, max = out.TransientRetryCounts, p.MaxTransientRetries
	default:
		return Decision{Class: class}
	}

	attempt := counters.Get(t)
	if attempt >= max {
		return Decision{Class: class, Attempt: attempt}
	}
	counters.Inc(t)
	return Decision{
		Class:   class,
		Retry:   true,
		Attempt: attempt,
		Delay:   Backoff(p.BaseDelay, attempt, p.jitter()),
	}
}

// Succeeded forgets every retry problem of t.
func (p RetryPolicy) Succeeded(out *entity.Output, t entity.Target) {
	out.RetryCounts.Clear(t)
	out.TransientRetryCounts.Clear(t)
}

func (p RetryPolicy) jitter() time.Duration {
	if p.Jitter != nil {
		return p.Jitter()
	}
	return time.Duration(rand.Int64N(int64(MaxJitter)))
}

// Backoff returns base*2^attempt + jitter.
func Backoff(base time.Duration, attempt int, jitter time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20
	}
	return base<<attempt + jitter
}
