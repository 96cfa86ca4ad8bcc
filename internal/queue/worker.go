package queue

import (
	"context"
	"sync"
	"time"

	"pulsecrm/backend/internal/logging"
)

// Handler processes one delivered job. The returned retryable flag
// decides between backoff-requeue and immediate failure.
type Handler interface {
	Handle(ctx context.Context, job *Job) (retryable bool, err error)
}

// WorkerPool polls the queue with N concurrent workers. Single-owner
// processing per job is the queue's lease guarantee, not the pool's.
type WorkerPool struct {
	queue        Queue
	handler      Handler
	logger       *logging.Logger
	workers      int
	pollInterval time.Duration

	wg sync.WaitGroup
}

// NewWorkerPool creates a pool; Start must be called to begin polling.
func NewWorkerPool(q Queue, h Handler, logger *logging.Logger, workers int, pollInterval time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &WorkerPool{
		queue:        q,
		handler:      h,
		logger:       logger,
		workers:      workers,
		pollInterval: pollInterval,
	}
}

// Start launches the workers plus a lease reaper. Workers drain until
// the context is cancelled; Wait blocks until they exit.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReaper(ctx)
	}()
}

// Wait blocks until all workers have stopped.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) runWorker(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", "error", err)
			p.sleep(ctx, p.pollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.pollInterval)
			continue
		}

		retryable, err := p.handler.Handle(ctx, job)
		if err != nil {
			logger.Warn("job failed",
				"job_id", job.ID,
				"rule_id", job.RuleID,
				"attempt", job.Attempts,
				"retryable", retryable,
				"error", err)
			if failErr := p.queue.Fail(context.WithoutCancel(ctx), job, err, retryable); failErr != nil {
				logger.Error("marking job failed", "job_id", job.ID, "error", failErr)
			}
			continue
		}

		if err := p.queue.Complete(context.WithoutCancel(ctx), job.ID); err != nil {
			logger.Error("marking job done", "job_id", job.ID, "error", err)
		}
	}
}

// runReaper periodically returns expired leases to the queue so jobs
// owned by a crashed worker get redelivered.
func (p *WorkerPool) runReaper(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.ReapExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("reaping expired leases", "error", err)
				}
				continue
			}
			if n > 0 {
				p.logger.Info("requeued expired leases", "count", n)
			}
		}
	}
}

func (p *WorkerPool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
