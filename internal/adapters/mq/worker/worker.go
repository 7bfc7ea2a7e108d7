// Package worker processes queued sites with a bounded set of goroutines.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/atlasbatch/internal/adapters/mq/queue"
	"github.com/okian/atlasbatch/internal/domain/model"
	"github.com/okian/atlasbatch/pkg/logger"
	"github.com/okian/atlasbatch/pkg/metrics"
)

// Processor handles one site start to finish.
type Processor interface {
	Process(ctx context.Context, site model.Site) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, site model.Site) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, site model.Site) error { return f(ctx, site) }

// Queue defines how workers receive sites.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker takes sites off the queue one at a time.
type Worker struct {
	queue     Queue
	processor Processor
	fatal     func(error) bool
	name      string
	logger    logger.Logger
}

// NewWorker creates a worker with configuration options.
func NewWorker(q Queue, p Processor, opts ...Option) *Worker {
	w := &Worker{
		queue:     q,
		processor: p,
		fatal:     func(error) bool { return false },
		name:      "worker",
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run processes sites until the queue is drained or ctx is cancelled.
// It returns the first fatal error; other errors are logged and skipped.
func (w *Worker) Run(ctx context.Context) error {
	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case site, ok := <-jobs:
			if !ok {
				return nil
			}
			if err := w.process(ctx, site); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, site model.Site) error {
	metrics.AddWorkersBusy(1)
	defer metrics.AddWorkersBusy(-1)

	start := time.Now()
	err := w.processor.Process(ctx, site)
	if err == nil {
		w.logger.Debug(ctx, "site processed",
			logger.Int("site_id", site.ID),
			logger.Float64("seconds", time.Since(start).Seconds()))
		return nil
	}
	if w.fatal(err) {
		return fmt.Errorf("site %d: %w", site.ID, err)
	}
	w.logger.Error(ctx, "site failed", logger.Int("site_id", site.ID), logger.Error(err))
	return nil
}

// Pool runs a fixed number of workers over one queue.
type Pool struct {
	workers []*Worker
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers, at least one.
func NewPool(workerCount int, q Queue, p Processor, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	pool := &Pool{
		workers: make([]*Worker, workerCount),
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range workerCount {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewWorker(q, p, workerOpts...)
	}
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Run blocks until every worker stopped. The first fatal error cancels the
// others and is returned.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	err := g.Wait()
	if err != nil {
		p.logger.Error(ctx, "worker pool aborted", logger.Error(err))
	}
	return err
}
