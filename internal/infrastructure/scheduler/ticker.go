package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Periodic calls fn on a fixed interval until stopped
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewPeriodic creates a periodic runner
func NewPeriodic(name string, interval time.Duration, fn func(ctx context.Context), logger *zap.Logger) *Periodic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
	}
}

// Start runs fn once immediately and then on every tick
func (p *Periodic) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isRunning {
		return nil
	}
	if p.interval <= 0 {
		return ErrInvalidConfig
	}
	p.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info("Periodic runner started",
		zap.String("name", p.name),
		zap.Duration("interval", p.interval),
	)
	return nil
}

// Stop stops the loop and waits for an in-progress run
func (p *Periodic) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Periodic) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Periodic) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Periodic run panicked",
				zap.String("name", p.name),
				zap.Any("panic", r),
				zap.Stack("stacktrace"),
			)
		}
	}()
	p.fn(ctx)
}
