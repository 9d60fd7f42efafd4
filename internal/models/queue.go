package models

import (
	"errors"
	"time"
)

// ErrNoMessage is returned when the queue has nothing visible to reserve.
var ErrNoMessage = errors.New("no messages in queue")

// DLQEntry is a job parked in the dead-letter queue with its terminal
// classification. Entries are inspectable but never retried automatically.
type DLQEntry struct {
	JobID    string    `json:"job_id"`
	Job      ScrapeJob `json:"job"`
	Kind     FailKind  `json:"kind"`
	Detail   string    `json:"detail"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// QueueStats is a point-in-time snapshot for the stats endpoint.
type QueueStats struct {
	Ready    int `json:"ready"`    // visible now
	Delayed  int `json:"delayed"`  // waiting on not_before or backoff
	Reserved int `json:"reserved"` // claimed by a worker, visibility not expired
	DLQ      int `json:"dlq"`
}
