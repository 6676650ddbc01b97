package batch

import (
	"context"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/metrics"
	"github.com/Ruzakiff/crazygpt/internal/provider"
	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry retries transient provider failures with jittered exponential backoff.
type Retry struct {
	// MaxAttempts bounds the total number of calls; zero reads the settings snapshot.
	MaxAttempts int
	// AttemptTimeout bounds each call; zero leaves the caller's deadline alone.
	AttemptTimeout time.Duration
	Initial        time.Duration
	Max            time.Duration
	Sleep          Sleeper
}

// DefaultRetry is used when a Service is built without WithRetry.
func DefaultRetry() Retry {
	return Retry{
		AttemptTimeout: 20 * time.Second,
		Initial:        500 * time.Millisecond,
		Max:            8 * time.Second,
		Sleep:          SleepContext,
	}
}

func (r Retry) attempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return internalsettings.Int(internalsettings.ReconcileMaxAttemptsKey, internalsettings.DefaultReconcileMaxAttempts, 1)
}

func (r Retry) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if r.Initial > 0 {
		b.InitialInterval = r.Initial
	}
	if r.Max > 0 {
		b.MaxInterval = r.Max
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.Reset()
	return b
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts run out.
func (r Retry) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := r.attempts()
	b := r.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = r.call(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !provider.IsRetryable(lastErr) || attempt == attempts || ctx.Err() != nil {
			break
		}
		wait := b.NextBackOff()
		metrics.ProviderRetries.WithLabelValues(op).Inc()
		log.WithError(lastErr).Debugf("batch: %s attempt %d/%d failed, retrying in %s", op, attempt, attempts, wait)
		if errSleep := sleep(ctx, wait); errSleep != nil {
			return lastErr
		}
	}
	return lastErr
}

func (r Retry) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}
