package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work executed by the worker pool.
// Tasks with the same Key never run concurrently.
type Task struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

// PoolConfig holds worker pool configuration
type PoolConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// DefaultPoolConfig returns default worker pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:     4,
		QueueSize:   64,
		TaskTimeout: 30 * time.Second,
	}
}

// Validate checks the pool configuration
func (c PoolConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("%w: queue size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// WorkerPool runs tasks on a bounded number of goroutines
type WorkerPool struct {
	config PoolConfig
	logger *zap.Logger

	tasks     chan Task
	inflight  map[string]struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewWorkerPool creates a worker pool
func NewWorkerPool(config PoolConfig, logger *zap.Logger) (*WorkerPool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		config:   config,
		logger:   logger.Named("worker_pool"),
		tasks:    make(chan Task, config.QueueSize),
		inflight: make(map[string]struct{}),
	}, nil
}

// Start starts the workers
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return nil
	}
	p.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("Worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize),
		zap.Duration("task_timeout", p.config.TaskTimeout),
	)
	return nil
}

// Stop cancels running tasks and waits for the workers to exit.
// Queued tasks are dropped.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool stop timed out")
		return ctx.Err()
	}
}

// Submit queues a task without blocking
func (p *WorkerPool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning {
		return ErrSchedulerNotRunning
	}
	if task.Key != "" {
		if _, busy := p.inflight[task.Key]; busy {
			return ErrTaskAlreadyQueued
		}
	}

	select {
	case p.tasks <- task:
		if task.Key != "" {
			p.inflight[task.Key] = struct{}{}
		}
		return nil
	default:
		return ErrJobQueueFull
	}
}

// InFlight returns the number of keyed tasks queued or running
func (p *WorkerPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

func (p *WorkerPool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			p.execute(ctx, task, workerID)
		}
	}
}

func (p *WorkerPool) execute(ctx context.Context, task Task, workerID int) {
	defer p.release(task.Key)

	if ctx.Err() != nil {
		return
	}
	taskCtx := ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	err := runRecovered(taskCtx, task.Run)
	fields := []zap.Field{
		zap.Int("worker_id", workerID),
		zap.String("task", task.Name),
		zap.String("key", task.Key),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		p.logger.Warn("Task failed", append(fields, zap.Error(err))...)
		return
	}
	p.logger.Debug("Task completed", fields...)
}

func (p *WorkerPool) release(key string) {
	if key == "" {
		return
	}
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}

func runRecovered(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}
