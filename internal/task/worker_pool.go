package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Common errors returned by the worker pool.
var (
	ErrPoolClosed  = errors.New("worker pool is closed")
	ErrQueueFull   = errors.New("worker pool queue is full")
	ErrPoolStopped = errors.New("job cancelled by worker pool shutdown")
)

// Job is one unit of pool work. The context is the pool's run context;
// jobs must return promptly once it is cancelled.
type Job func(ctx context.Context) error

// Future resolves once its job has finished or been abandoned by shutdown.
type Future struct {
	done chan struct{}
	err  error
}

// Done returns a channel closed when the job is finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the job's error. Valid only after Done is closed.
func (f *Future) Err() error {
	return f.err
}

// Wait blocks until the job finishes or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// WorkerPoolConfig holds configuration options for the worker pool.
type WorkerPoolConfig struct {
	// WorkerCount bounds how many jobs run concurrently. The pool is
	// shared across all tasks, so one large task cannot starve others of
	// more than its queued share. If zero or negative, defaults to 1.
	WorkerCount int

	// QueueSize is the submission buffer. Jobs queue FIFO when all
	// workers are busy. If zero or negative, defaults to 64.
	QueueSize int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 4,
		QueueSize:   64,
	}
}

// WorkerPool executes submitted jobs on a fixed set of worker goroutines.
// Queueing is FIFO per submission order; completion order is unconstrained.
// No job is ever dropped silently: on shutdown, in-flight jobs are awaited
// and queued jobs are resolved with ErrPoolStopped.
type WorkerPool struct {
	jobs        chan queuedJob
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
}

type queuedJob struct {
	run    Job
	future *Future
}

// NewWorkerPool creates a worker pool with the specified configuration.
// Call Start before submitting.
func NewWorkerPool(config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", workerCount)
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		jobs:        make(chan queuedJob, queueSize),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With("component", "worker_pool"),
	}
}

// Start launches the worker goroutines.
func (p *WorkerPool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Debug("worker pool started", "worker_count", p.workerCount)
}

// Submit enqueues a job and returns its future. Returns ErrPoolClosed after
// Stop or Shutdown, and ErrQueueFull when the buffer is at capacity.
func (p *WorkerPool) Submit(job Job) (*Future, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	future := &Future{done: make(chan struct{})}
	select {
	case p.jobs <- queuedJob{run: job, future: future}:
		return future, nil
	default:
		return nil, fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(p.jobs))
	}
}

// Stop drains the queue gracefully: no further submissions are accepted,
// queued jobs still run, and Stop returns once every worker has exited.
func (p *WorkerPool) Stop() {
	p.close()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Shutdown stops the pool without draining: the run context is cancelled so
// in-flight jobs return early, and jobs still queued are resolved with
// ErrPoolStopped instead of running.
func (p *WorkerPool) Shutdown() {
	p.cancel()
	p.close()
	p.wg.Wait()
	p.logger.Info("worker pool shut down")
}

func (p *WorkerPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
}

// worker runs queued jobs until the queue is closed and drained. Once the
// pool context is cancelled, remaining queued jobs are reported as stopped
// rather than executed.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)
	for job := range p.jobs {
		if p.ctx.Err() != nil {
			job.future.resolve(ErrPoolStopped)
			continue
		}
		job.future.resolve(job.run(p.ctx))
	}
	p.logger.Debug("stopping worker", "worker_id", id)
}
