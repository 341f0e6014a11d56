package pool

import (
	"context"
	"time"
)

// AutoscaleConfig controls the background tick loop that resizes a Pool in
// response to its own queue depth rather than host power/thermal state.
type AutoscaleConfig struct {
	MinWorkers   int
	MaxWorkers   int
	TickInterval time.Duration
	// GrowThreshold is the queue depth per worker (integer division) at or
	// above which Autoscale adds a worker on the next tick.
	GrowThreshold int
	// ShrinkThreshold is the queue depth per worker (integer division) at
	// or below which Autoscale removes a worker on the next tick.
	ShrinkThreshold int
}

// DefaultAutoscaleConfig returns conservative defaults: scale up when the
// queue holds at least 4 pending tasks per worker, scale down when it
// holds fewer than 2 (queue depth / workers <= 1).
func DefaultAutoscaleConfig(minWorkers, maxWorkers int) AutoscaleConfig {
	return AutoscaleConfig{
		MinWorkers:      minWorkers,
		MaxWorkers:      maxWorkers,
		TickInterval:    2 * time.Second,
		GrowThreshold:   4,
		ShrinkThreshold: 1,
	}
}

// Autoscale runs p's queue-depth-driven resize loop until ctx is done. Call
// it in a goroutine; it never blocks submission or drainage of the pool.
func (p *Pool) Autoscale(ctx context.Context, cfg AutoscaleConfig) {
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.autoscaleTick(cfg)
		}
	}
}

func (p *Pool) autoscaleTick(cfg AutoscaleConfig) {
	workers := p.Workers()
	depth := p.QueueDepth()
	if workers == 0 {
		return
	}

	perWorker := depth / workers
	switch {
	case perWorker >= cfg.GrowThreshold && workers < cfg.MaxWorkers:
		p.Resize(workers + 1)
	case perWorker <= cfg.ShrinkThreshold && workers > cfg.MinWorkers:
		p.Resize(workers - 1)
	}
}
