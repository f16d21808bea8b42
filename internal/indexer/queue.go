package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 32
)

// IndexJob is one queued indexing request.
type IndexJob struct {
	FileID     int64
	EnqueuedAt time.Time
}

// Queue feeds indexing jobs to a fixed worker pool through a bounded
// channel. The pool is small on purpose: it is the cap on concurrent
// embedding traffic. Enqueue never blocks; a full queue surfaces as a
// rate_limited error so the HTTP layer can answer 429.
type Queue struct {
	pipeline *Pipeline
	events   *Publisher
	workers  int
	size     int
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	jobs    chan IndexJob
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue builds a queue. Non-positive workers or size use defaults.
func NewQueue(pipeline *Pipeline, events *Publisher, workers, size int, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		pipeline: pipeline,
		events:   events,
		workers:  workers,
		size:     size,
		logger:   logger,
	}
}

// Start launches the worker pool. Starting a running queue is an error;
// a stopped queue may start again.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return fmt.Errorf("index queue already running")
	}
	q.running = true
	// The job channel is per-run: Stop closes it to drain the workers.
	q.jobs = make(chan IndexJob, q.size)
	q.baseCtx, q.cancel = context.WithCancel(context.Background())

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(q.baseCtx, i, q.jobs)
	}
	q.logger.Info("index queue started",
		zap.Int("workers", q.workers),
		zap.Int("capacity", q.size))
	return nil
}

// Stop rejects further jobs, cancels in-flight runs, and waits for the
// workers to exit. Stopping a stopped queue is a no-op.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("index queue stopped")
}

// Enqueue accepts a file for asynchronous indexing. The call returns as
// soon as the job is queued; progress is observable through the file's
// status and lifecycle events.
func (q *Queue) Enqueue(fileID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return domain.New(domain.KindInternal, "index queue is not running")
	}
	select {
	case q.jobs <- IndexJob{FileID: fileID, EnqueuedAt: time.Now()}:
		q.events.Enqueued(fileID)
		return nil
	default:
		return domain.New(domain.KindRateLimited, "index queue is full")
	}
}

// Depth reports how many jobs are waiting.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) worker(ctx context.Context, id int, jobs <-chan IndexJob) {
	defer q.wg.Done()

	for job := range jobs {
		if ctx.Err() != nil {
			q.logger.Warn("index job dropped during shutdown",
				zap.Int64("file_id", job.FileID))
			continue
		}
		q.runJob(ctx, job)
	}
	q.logger.Debug("index worker exited", zap.Int("worker", id))
}

// runJob executes one pipeline run, converting a panic into error status
// so a poisoned document cannot take the worker down.
func (q *Queue) runJob(ctx context.Context, job IndexJob) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("index worker panicked",
				zap.Int64("file_id", job.FileID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			q.pipeline.fail(job.FileID, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := q.pipeline.Run(ctx, job.FileID); err != nil {
		q.logger.Warn("index run failed",
			zap.Int64("file_id", job.FileID),
			zap.Duration("queued", time.Since(job.EnqueuedAt)),
			zap.Error(err))
	}
}
