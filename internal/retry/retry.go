// Package retry provides the single retry policy used across the ingestion
// pipeline, parameterised per call site.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes an exponential retry schedule: BaseDelay * 2^attempt,
// plus a flat random delay of up to Jitter, for up to MaxRetries re-attempts
// after the first try.
type Policy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	Jitter     time.Duration
}

// Notify is invoked before each sleep with the error that caused the retry.
type Notify func(err error, next time.Duration)

// Do runs op under the policy until it succeeds, returns a permanent error,
// or the retry budget is exhausted. The last error is propagated.
func (p Policy) Do(ctx context.Context, op func() error, notify Notify) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = 2
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0
	bo.Reset()

	var b backoff.BackOff = bo
	if p.Jitter > 0 {
		b = &jitteredBackOff{BackOff: bo, bound: p.Jitter}
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx)
	if notify != nil {
		return backoff.RetryNotify(op, b, backoff.Notify(notify))
	}
	return backoff.Retry(op, b)
}

// Permanent marks err as not retryable, stopping the policy immediately.
func Permanent(err error) error { return backoff.Permanent(err) }

// jitteredBackOff adds a flat random delay, bounded independently of the
// grown interval, on top of each backoff step.
type jitteredBackOff struct {
	backoff.BackOff
	bound time.Duration
}

func (j *jitteredBackOff) NextBackOff() time.Duration {
	d := j.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(j.bound)+1))
}
