package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when submitting to a stopped pool
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the task queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrTaskAlreadyQueued is returned when a task with the same key is queued or running
	ErrTaskAlreadyQueued = errors.New("task already queued")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrInvalidSchedule is returned for an unparsable cron expression
	ErrInvalidSchedule = errors.New("invalid cron schedule")

	// ErrDuplicateJob is returned when a cron job name is registered twice
	ErrDuplicateJob = errors.New("cron job already registered")
)
