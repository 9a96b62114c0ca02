// Package concurrency implements the ConcurrencyController (C6): derives a
// target worker count and exposes an acquire/release gate the orchestrator's
// worker pool waits on. Modeled on balancer/catabalancer/catalyst_balancer.go's
// StartMetricSending ticker-driven background update, generalized from "send
// metrics on a fixed interval" to "recompute target on a fixed interval" -
// the same step-based walk concurrency_manager.py._adjust_concurrent_count
// performs against per-signal set-points (spec.md §4.3).
package concurrency

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/livepeer/mediaindex-core/internal/resource"
)

// Mode selects how the target worker count is derived (concurrency.mode, spec.md §6).
type Mode string

const (
	ModeStatic  Mode = "static"
	ModeDynamic Mode = "dynamic"
)

// SetPoints are the per-signal usage targets dynamic mode steps against
// (concurrency.targets.{cpu,mem,gpu}, spec.md §4.3/§6; defaults 70/70/80).
type SetPoints struct {
	CPU float64
	Mem float64
	GPU float64
}

func DefaultSetPoints() SetPoints {
	return SetPoints{CPU: 70, Mem: 70, GPU: 80}
}

// Controller derives the current target concurrency and gates execution
// through a fixed-size semaphore (golang.org/x/sync/semaphore, sized for max)
// plus an in-flight counter checked against the current target, so the
// orchestrator's worker pool naturally drains down when the target shrinks:
// in-flight workers finish, but no new Acquire succeeds until slots free up.
type Controller struct {
	mode Mode

	min, max, step int
	setpoints      SetPoints
	adjustInterval time.Duration

	mu     sync.Mutex
	target int
	sem    *semaphore.Weighted
	cur    int64

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewStatic(workers int) *Controller {
	return &Controller{mode: ModeStatic, target: workers, sem: semaphore.NewWeighted(int64(workers))}
}

// NewDynamic builds C6's dynamic mode (spec.md §4.3): target starts at base
// and is stepped within [min,max] every adjust_interval against setpoints.
// The semaphore is sized for max, since target only ever steps up to it.
func NewDynamic(min, max, base, step int, setpoints SetPoints, adjustInterval time.Duration) *Controller {
	return &Controller{
		mode:           ModeDynamic,
		min:            min,
		max:            max,
		step:           step,
		setpoints:      setpoints,
		adjustInterval: adjustInterval,
		target:         base,
		sem:            semaphore.NewWeighted(int64(max)),
	}
}

// Target returns the currently active worker-count ceiling.
func (c *Controller) Target() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// AdjustOnce performs one step of the dynamic-mode walk (spec.md §4.3):
// step the target down by step if any signal exceeds its set-point, up by
// step if every signal is at or below 0.8x its set-point, otherwise leave it
// unchanged - clamped to [min,max] either way. No-op in static mode.
func (c *Controller) AdjustOnce(sample resource.Sample) {
	if c.mode != ModeDynamic {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	exceeds := sample.CPUPercent > c.setpoints.CPU ||
		sample.MemoryPercent > c.setpoints.Mem ||
		(sample.HasGPU && sample.GPUMemoryPercent > c.setpoints.GPU)

	allLow := sample.CPUPercent <= 0.8*c.setpoints.CPU &&
		sample.MemoryPercent <= 0.8*c.setpoints.Mem &&
		(!sample.HasGPU || sample.GPUMemoryPercent <= 0.8*c.setpoints.GPU)

	switch {
	case exceeds:
		c.target = max(c.min, c.target-c.step)
	case allLow:
		c.target = min(c.max, c.target+c.step)
	}
}

// StartAdjusting launches the dynamic-mode background ticker, grounded on
// balancer/catabalancer's StartMetricSending idiom: sample on a fixed
// interval, adjust, repeat. sampleFn is typically resource.Monitor.Last.
// No-op in static mode. StopAdjusting must be called to release it.
func (c *Controller) StartAdjusting(sampleFn func() resource.Sample) {
	if c.mode != ModeDynamic {
		return
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.adjustInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.AdjustOnce(sampleFn())
			}
		}
	}()
}

func (c *Controller) StopAdjusting() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

// Acquire blocks until a worker slot is available under the current target,
// respecting ctx cancellation. It enforces the target by refusing to admit
// more concurrent holders than Target() even though the underlying semaphore
// was sized for the max; callers that already hold a slot are unaffected by
// a subsequent shrink (in-flight tasks always run to completion, spec.md §4.3).
func (c *Controller) Acquire(ctx context.Context) error {
	for {
		c.mu.Lock()
		target := c.target
		cur := c.cur
		c.mu.Unlock()
		if cur >= int64(target) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(25 * time.Millisecond):
				continue
			}
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		c.mu.Lock()
		c.cur++
		c.mu.Unlock()
		return nil
	}
}

// Release frees the worker slot acquired by a prior Acquire call.
func (c *Controller) Release() {
	c.mu.Lock()
	c.cur--
	c.mu.Unlock()
	c.sem.Release(1)
}

// InFlight reports the number of currently held worker slots.
func (c *Controller) InFlight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}
