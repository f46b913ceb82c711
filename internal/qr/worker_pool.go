package qr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/koios/purpleqr/pkg/models"
)

// RenderJob represents a render request to be processed by a worker
type RenderJob struct {
	Config models.RenderConfig
	Mode   Mode
	Result chan *RenderResult
}

// RenderResult contains the result of a render job
type RenderResult struct {
	Result Result
	Error  error
}

// WorkerPool runs renders on a fixed set of goroutines. It implements
// Capability.
type WorkerPool struct {
	workers  int
	jobQueue chan *RenderJob
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	timeout  time.Duration
	generate func(models.RenderConfig, Mode) (Result, error)
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// timeout bounds each Render call; zero disables it.
func NewWorkerPool(workers int, logger *zap.Logger, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan *RenderJob, workers*2),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		timeout:  timeout,
		generate: Generate,
	}
}

// Start launches all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting render worker pool",
		zap.Int("workers", wp.workers),
		zap.Int("queue_size", cap(wp.jobQueue)))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop shuts down the workers. Queued jobs that were not picked up fail
// with ErrPoolStopped.
func (wp *WorkerPool) Stop() {
	wp.logger.Info("Stopping render worker pool")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info("Render worker pool stopped")
}

// Submit queues a job and waits for its result
func (wp *WorkerPool) Submit(ctx context.Context, cfg models.RenderConfig, mode Mode) (Result, error) {
	resultChan := make(chan *RenderResult, 1)

	job := &RenderJob{
		Config: cfg,
		Mode:   mode,
		Result: resultChan,
	}

	select {
	case wp.jobQueue <- job:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-wp.ctx.Done():
		return Result{}, ErrPoolStopped
	}

	select {
	case result := <-resultChan:
		return result.Result, result.Error
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-wp.ctx.Done():
		return Result{}, ErrPoolStopped
	}
}

// Render submits the job from a new goroutine and returns immediately
func (wp *WorkerPool) Render(ctx context.Context, cfg models.RenderConfig, mode Mode) *Pending {
	pending := NewPending()

	go func() {
		if wp.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, wp.timeout)
			defer cancel()
		}
		pending.Resolve(wp.Submit(ctx, cfg, mode))
	}()

	return pending
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Render worker started", zap.Int("worker_id", id))

	for {
		select {
		case job := <-wp.jobQueue:
			wp.processJob(id, job)
		case <-wp.ctx.Done():
			wp.logger.Debug("Render worker stopping", zap.Int("worker_id", id))
			return
		}
	}
}

func (wp *WorkerPool) processJob(workerID int, job *RenderJob) {
	wp.logger.Debug("Worker processing job",
		zap.Int("worker_id", workerID),
		zap.Stringer("mode", job.Mode),
		zap.Int("payload_length", len(job.Config.Payload)))

	result, err := wp.run(job)

	job.Result <- &RenderResult{Result: result, Error: err}
	close(job.Result)

	if err != nil {
		wp.logger.Debug("Worker completed job with error",
			zap.Int("worker_id", workerID),
			zap.Stringer("mode", job.Mode),
			zap.Error(err))
	} else {
		wp.logger.Debug("Worker completed job successfully",
			zap.Int("worker_id", workerID),
			zap.Stringer("mode", job.Mode),
			zap.Duration("elapsed", result.Elapsed))
	}
}

// run isolates a panicking drawer so the worker survives it
func (wp *WorkerPool) run(job *RenderJob) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panicked: %v", r)
		}
	}()
	return wp.generate(job.Config, job.Mode)
}
