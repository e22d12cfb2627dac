package scheduler

import "errors"

// Domain errors for the scheduler package.
var (
	// ErrJobNotFound is returned for unknown job IDs and for jobs that have
	// already fired (one-off) or been cancelled.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrInvalidCron is returned when a cron expression does not parse.
	ErrInvalidCron = errors.New("scheduler: invalid cron expression")

	// ErrNoCommands is returned when a job has an empty command list.
	ErrNoCommands = errors.New("scheduler: no commands")

	// ErrInvalidCommand is returned when a command lacks device_id or action.
	ErrInvalidCommand = errors.New("scheduler: invalid command")

	// ErrInvalidTrigger is returned when a request names neither or both of
	// a fire time and a cron expression.
	ErrInvalidTrigger = errors.New("scheduler: invalid trigger")

	// ErrSchedulerStopped is returned when submitting to a stopped scheduler.
	ErrSchedulerStopped = errors.New("scheduler: stopped")
)
