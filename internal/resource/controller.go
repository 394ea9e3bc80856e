package resource

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// Workers is the number of goroutines used by data-parallel loops.
	// If 0, defaults to runtime.GOMAXPROCS(0).
	Workers int

	// MaxBackgroundWorkers is the maximum number of concurrent background jobs.
	// If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// RowsPerSecond throttles background refinement. If 0, unlimited.
	RowsPerSecond float64
}

// Controller manages CPU resources shared by the optimizer and the
// background refinement.
type Controller struct {
	cfg Config

	bgSem       *semaphore.Weighted
	rowsLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.RowsPerSecond > 0 {
		burst := int(cfg.RowsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.rowsLimiter = rate.NewLimiter(rate.Limit(cfg.RowsPerSecond), burst)
	}

	return c
}

// Workers returns the parallelism for data-parallel loops.
func (c *Controller) Workers() int {
	if c == nil {
		return runtime.GOMAXPROCS(0)
	}
	return c.cfg.Workers
}

// AcquireBackground reserves a background worker slot.
// Blocks if all slots are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground reserves a background worker slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// WaitRow blocks until the refinement rate allows one more row.
func (c *Controller) WaitRow(ctx context.Context) error {
	if c == nil || c.rowsLimiter == nil {
		return nil
	}
	return c.rowsLimiter.Wait(ctx)
}

// TryRow reports whether one more row may be refined right now.
func (c *Controller) TryRow() bool {
	if c == nil || c.rowsLimiter == nil {
		return true
	}
	return c.rowsLimiter.AllowN(time.Now(), 1)
}
