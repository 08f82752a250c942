package resource

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilControllerAdmitsEverything(t *testing.T) {
	var c *Controller

	require.NoError(t, c.Acquire(context.Background()))
	c.Release()
	assert.Equal(t, int64(0), c.InFlight())
}

func TestConcurrencyBound(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{MaxConcurrentCalls: 2})

	var peak atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			require.NoError(t, c.Acquire(ctx))
			defer c.Release()

			n := c.InFlight()
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}

			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, int64(0), c.InFlight())
}

func TestAcquireHonorsContext(t *testing.T) {
	c := NewController(Config{MaxConcurrentCalls: 1})

	require.NoError(t, c.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	c.Release()
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	c := NewController(Config{MaxConcurrentCalls: 4, CallsPerSec: 100})

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Acquire(ctx))
		c.Release()
	}

	// 5 calls at 100/s with burst 1 need at least ~40ms.
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
