package interfaces

import "time"

// SweepStatus reports the state of the scheduler's sweep job.
type SweepStatus struct {
	Schedule  string
	LastRun   *time.Time
	NextRun   *time.Time
	IsRunning bool
	LastError string
	Enqueued  int // jobs enqueued by the last completed sweep
}

// SchedulerService turns due trackers into queued scrape jobs on a cron tick.
type SchedulerService interface {
	// Start begins sweeping on the given cron expression.
	Start(cronExpr string) error

	// Stop halts the scheduler; a sweep in progress finishes first.
	Stop() error

	// TriggerSweepNow runs one sweep outside the cron cadence.
	TriggerSweepNow() error

	// IsRunning returns true if the scheduler is active.
	IsRunning() bool

	// Status returns the sweep job status.
	Status() *SweepStatus
}
