package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Pool is the bounded worker pool that drains triage jobs. Submission is
// non-blocking: a full queue rejects the job so the ingestion path never
// stalls behind slow runs.
type Pool struct {
	logger *slog.Logger
	jobs   chan func(context.Context)
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool with the given concurrency and queue depth and
// starts its workers.
func NewPool(ctx context.Context, logger *slog.Logger, size, queueDepth int) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 4
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	p := &Pool{
		logger: logger,
		jobs:   make(chan func(context.Context), queueDepth),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						p.logger.Error("worker panic",
							slog.Int("worker", id), slog.Any("panic", r))
					}
				}()
				job(ctx)
			}()
		}
	}
}

// Submit enqueues a job. Returns an error when the queue is full or the pool
// has shut down.
func (p *Pool) Submit(job func(context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("worker pool is shut down")
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return fmt.Errorf("worker queue is full")
	}
}

// Shutdown stops accepting work and waits for in-flight jobs to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
