// Package dispatcher fans a crawl session out over a worker pool and
// stops the pool once the queue stays drained past the idle window.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
	"github.com/bling0390/vivbliss/internal/metrics"
	"github.com/bling0390/vivbliss/internal/schedule"
	"github.com/bling0390/vivbliss/internal/worker"
)

// Config controls the worker pool.
type Config struct {
	Concurrency  int
	IdleShutdown time.Duration
}

// Dispatcher owns the worker pool for one crawl session.
type Dispatcher struct {
	cfg       Config
	opts      worker.Options
	scheduler *schedule.Scheduler
	clock     catalog.Clock
	logger    *zap.Logger

	lastActivity atomic.Int64
}

// New builds a dispatcher. The worker options are shared by every worker.
func New(cfg Config, opts worker.Options, scheduler *schedule.Scheduler, clock catalog.Clock, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:       cfg,
		opts:      opts,
		scheduler: scheduler,
		clock:     clock,
		logger:    logger,
	}
}

// Run starts the workers and blocks until the crawl drains or ctx ends.
// A drained crawl returns nil; an external cancellation returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.lastActivity.Store(d.clock.Now().UnixNano())

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		w := worker.New(i, d.opts, &d.lastActivity)
		go func() {
			defer wg.Done()
			if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Warn("worker exited", zap.Error(err))
			}
		}()
	}

	drained := d.watchIdle(runCtx, cancel)
	wg.Wait()

	if drained {
		d.logger.Info("crawl drained",
			zap.Int("workers", d.cfg.Concurrency))
		return nil
	}
	return ctx.Err()
}

// watchIdle cancels the pool once no worker has touched the queue for the
// idle window and nothing is left queued. Returns true when the stop was a
// drain rather than an external cancellation.
func (d *Dispatcher) watchIdle(ctx context.Context, cancel context.CancelFunc) bool {
	if d.cfg.IdleShutdown <= 0 {
		<-ctx.Done()
		return false
	}
	ticker := time.NewTicker(d.cfg.IdleShutdown / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			stats := d.scheduler.Stats()
			metrics.SetQueueDepth(stats.Queue.Total)
			if stats.Queue.Total > 0 {
				continue
			}
			idle := d.clock.Now().UnixNano() - d.lastActivity.Load()
			if time.Duration(idle) >= d.cfg.IdleShutdown {
				cancel()
				return true
			}
		}
	}
}
