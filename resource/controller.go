// Package resource bounds the embedding calls a collection issues.
//
// Embedding providers are remote services with their own concurrency and
// request-rate ceilings; the controller keeps batch ingestion within them.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds embedding call limits.
type Config struct {
	// MaxConcurrentCalls is the maximum number of in-flight embedding
	// calls. If 0, defaults to 4.
	MaxConcurrentCalls int64

	// CallsPerSec is the maximum embedding request rate.
	// If 0, unlimited.
	CallsPerSec float64
}

// Controller manages admission of embedding calls. A nil Controller admits
// everything.
type Controller struct {
	cfg      Config
	callSem  *semaphore.Weighted
	limiter  *rate.Limiter
	inFlight atomic.Int64
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 4
	}

	c := &Controller{
		cfg:     cfg,
		callSem: semaphore.NewWeighted(cfg.MaxConcurrentCalls),
	}

	if cfg.CallsPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSec), 1)
	}

	return c
}

// Acquire blocks until a call slot is available and the rate limiter admits
// the request, or ctx is canceled.
func (c *Controller) Acquire(ctx context.Context) error {
	if c == nil {
		return nil
	}

	if err := c.callSem.Acquire(ctx, 1); err != nil {
		return err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.callSem.Release(1)

			return err
		}
	}

	c.inFlight.Add(1)

	return nil
}

// Release returns a call slot.
func (c *Controller) Release() {
	if c == nil {
		return
	}

	c.inFlight.Add(-1)
	c.callSem.Release(1)
}

// InFlight returns the number of admitted calls not yet released.
func (c *Controller) InFlight() int64 {
	if c == nil {
		return 0
	}

	return c.inFlight.Load()
}
