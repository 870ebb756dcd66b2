// Package workerpool runs bulk classification on a fixed set of workers.
// Every submission waits for its own results; there is no shared result stream.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrPoolClosed is returned when submitting to a stopped pool
	ErrPoolClosed = errors.New("pool is shutting down")
	// ErrQueueFull is returned when the task queue has no room
	ErrQueueFull = errors.New("task queue is full")
)

// saturation is the queue fill ratio above which the pool reports unhealthy
const saturation = 0.9

// Task is one identifier to classify
type Task struct {
	ID      string
	Payload interface{}
	Context context.Context

	done chan *Result
}

// Result is the outcome of one task
type Result struct {
	TaskID  string
	Success bool
	Error   error
	Data    interface{}
}

// WorkerFunc processes one task
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize bounds tasks waiting for a worker across all callers
	QueueSize int
	// MaxRetries is how often a failed task is run again
	MaxRetries int
	// RetryDelay grows linearly with each retry
	RetryDelay time.Duration
	// GracefulShutdownTimeout bounds how long Stop waits for queued work
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for API-triggered batches
func DefaultConfig() Config {
	return Config{
		Workers:                 8,
		QueueSize:               1000,
		RetryDelay:              50 * time.Millisecond,
		GracefulShutdownTimeout: 10 * time.Second,
	}
}

// Pool is a fixed set of workers fed by a bounded queue
type Pool struct {
	config Config
	fn     WorkerFunc
	logger *zap.Logger

	queue chan *Task
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes enqueues against each other and against Stop closing
	// the queue, so a batch's free-slot check and its sends are atomic
	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once

	submitted int64
	completed int64
	failed    int64
	retried   int64
	busy      int64
}

// New creates a worker pool
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config: cfg,
		fn:     fn,
		logger: logger,
		queue:  make(chan *Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// enqueue admits all tasks or none
func (p *Pool) enqueue(tasks []*Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	// workers only drain the queue while we hold mu, so free never shrinks
	if free := cap(p.queue) - len(p.queue); len(tasks) > free {
		return fmt.Errorf("%w: batch of %d exceeds %d free slots", ErrQueueFull, len(tasks), free)
	}
	for _, t := range tasks {
		p.queue <- t
	}
	atomic.AddInt64(&p.submitted, int64(len(tasks)))
	return nil
}

// SubmitWait runs one task and waits for its result
func (p *Pool) SubmitWait(ctx context.Context, task *Task) (*Result, error) {
	results, err := p.SubmitBatch(ctx, []*Task{task})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// SubmitBatch runs tasks concurrently and returns results in task order.
// The batch is rejected whole if the queue cannot hold it.
func (p *Pool) SubmitBatch(ctx context.Context, tasks []*Task) ([]*Result, error) {
	for _, t := range tasks {
		t.done = make(chan *Result, 1)
		if t.Context == nil {
			t.Context = ctx
		}
	}
	if err := p.enqueue(tasks); err != nil {
		return nil, err
	}

	results := make([]*Result, len(tasks))
	for i, t := range tasks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case results[i] = <-t.done:
		}
	}
	return results, nil
}

// Stop closes the queue and waits for queued tasks up to the shutdown timeout
func (p *Pool) Stop() error {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool")

		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			p.logger.Info("worker pool stopped gracefully")
		case <-time.After(p.config.GracefulShutdownTimeout):
			p.logger.Warn("worker pool shutdown timed out")
		}
		p.cancel()
	})
	return nil
}

func (p *Pool) work(id int) {
	defer p.wg.Done()

	for task := range p.queue {
		atomic.AddInt64(&p.busy, 1)
		res := p.run(task)
		atomic.AddInt64(&p.busy, -1)

		if res.Success {
			atomic.AddInt64(&p.completed, 1)
		} else {
			atomic.AddInt64(&p.failed, 1)
			p.logger.Debug("task failed",
				zap.String("task_id", task.ID),
				zap.Int("worker_id", id),
				zap.Error(res.Error))
		}
		task.done <- res
	}
}

func (p *Pool) run(task *Task) *Result {
	ctx := task.Context
	if ctx == nil {
		ctx = p.ctx
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Result{TaskID: task.ID, Error: err}
		}
		res := p.fn(ctx, task)
		if res.Success {
			return res
		}
		lastErr = res.Error
		if attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.retried, 1)
		select {
		case <-ctx.Done():
			return &Result{TaskID: task.ID, Error: ctx.Err()}
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}

	if p.config.MaxRetries > 0 {
		lastErr = fmt.Errorf("task failed after %d retries: %w", p.config.MaxRetries, lastErr)
	}
	return &Result{TaskID: task.ID, Error: lastErr}
}

// Stats is a point-in-time view of the pool
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	BusyWorkers    int64
	QueueDepth     int
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.submitted),
		TasksCompleted: atomic.LoadInt64(&p.completed),
		TasksFailed:    atomic.LoadInt64(&p.failed),
		TasksRetried:   atomic.LoadInt64(&p.retried),
		BusyWorkers:    atomic.LoadInt64(&p.busy),
		QueueDepth:     len(p.queue),
		QueueCapacity:  cap(p.queue),
		Workers:        p.config.Workers,
	}
}

// IsHealthy reports whether the pool accepts work and its queue is below
// the saturation mark
func (p *Pool) IsHealthy() bool {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return false
	}
	s := p.Stats()
	return float64(s.QueueDepth)/float64(s.QueueCapacity) < saturation
}
