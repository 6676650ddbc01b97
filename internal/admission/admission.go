// Package admission implements the per-token sliding-window rate limiter that
// gates requests before they reach the ledger.
package admission

import (
	"context"
	"errors"
	"time"

	"github.com/Ruzakiff/crazygpt/internal/clock"
	"github.com/Ruzakiff/crazygpt/internal/metrics"
	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
)

var ErrRateLimited = errors.New("admission: rate limit exceeded")

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Count is the number of admissions inside the window after the check.
	Count int
	// RetryAfter is how long until the oldest admission leaves the window; zero when allowed.
	RetryAfter time.Duration
}

// Store keeps the admission windows. TryAdmit must prune entries at or before
// now-window, reject without mutating when the pruned count reaches limit, and
// otherwise record now, all atomically per key.
type Store interface {
	TryAdmit(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Decision, error)
}

// Controller applies the configured limit and window to a Store.
type Controller struct {
	store Store
	clock clock.Clock
}

// NewController constructs a Controller.
func NewController(store Store, clk clock.Clock) *Controller {
	return &Controller{store: store, clock: clock.OrSystem(clk)}
}

// Limits returns the active limit and window.
func (c *Controller) Limits() (int, time.Duration) {
	limit := internalsettings.Int(internalsettings.AdmissionLimitKey, internalsettings.DefaultAdmissionLimit, 1)
	window := internalsettings.Seconds(internalsettings.AdmissionWindowSecondsKey, internalsettings.DefaultAdmissionWindowSeconds)
	return limit, window
}

// Decide runs one admission check for tokenID.
func (c *Controller) Decide(ctx context.Context, tokenID string) (Decision, error) {
	limit, window := c.Limits()
	dec, err := c.store.TryAdmit(ctx, tokenID, c.clock.NowUTC(), limit, window)
	switch {
	case err != nil:
		metrics.AdmissionDecisions.WithLabelValues("error").Inc()
	case dec.Allowed:
		metrics.AdmissionDecisions.WithLabelValues("allowed").Inc()
	default:
		metrics.AdmissionDecisions.WithLabelValues("rejected").Inc()
	}
	return dec, err
}

// TryAdmit reports whether tokenID may proceed now.
func (c *Controller) TryAdmit(ctx context.Context, tokenID string) (bool, error) {
	dec, err := c.Decide(ctx, tokenID)
	if err != nil {
		return false, err
	}
	return dec.Allowed, nil
}
