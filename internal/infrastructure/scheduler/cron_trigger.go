package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	// JobTimeout bounds a single run; zero means no bound
	JobTimeout time.Duration
	// Location evaluates schedules; nil means UTC
	Location *time.Location
}

// DefaultCronTriggerConfig returns default cron trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		JobTimeout: 10 * time.Minute,
		Location:   time.UTC,
	}
}

// CronEntry describes a registered job
type CronEntry struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

// CronTrigger runs named jobs on standard cron expressions (five fields or
// descriptors such as "@every 1h"). Overlapping runs of the same job are skipped.
type CronTrigger struct {
	config CronTriggerConfig
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]registeredJob
	baseCtx context.Context
	cancel  context.CancelFunc
	running bool
}

type registeredJob struct {
	id   cron.EntryID
	spec string
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(config CronTriggerConfig, logger *zap.Logger) *CronTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cron")
	loc := config.Location
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{l: logger.Sugar()}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &CronTrigger{
		config: config,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		entries: make(map[string]registeredJob),
		baseCtx: baseCtx,
		cancel:  cancel,
	}
}

// Register schedules job under name
func (c *CronTrigger) Register(name, spec string, job func(ctx context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	id, err := c.cron.AddFunc(spec, func() { c.run(name, job) })
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, spec, err)
	}
	c.entries[name] = registeredJob{id: id, spec: spec}
	c.logger.Info("Cron job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (c *CronTrigger) run(name string, job func(ctx context.Context) error) {
	ctx := c.baseCtx
	if c.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	c.logger.Info("Cron job started", zap.String("job", name))
	if err := job(ctx); err != nil {
		c.logger.Error("Cron job failed",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	c.logger.Info("Cron job finished",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// Start starts the cron scheduler
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.cron.Start()
	c.logger.Info("Cron trigger started", zap.Int("jobs", len(c.entries)))
	return nil
}

// Stop stops scheduling, cancels running jobs and waits for them to return
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	done := c.cron.Stop()
	select {
	case <-done.Done():
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists registered jobs sorted by name
func (c *CronTrigger) Entries() []CronEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CronEntry, 0, len(c.entries))
	for name, reg := range c.entries {
		e := c.cron.Entry(reg.id)
		out = append(out, CronEntry{Name: name, Spec: reg.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
