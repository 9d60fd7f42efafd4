package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/pricewatch/internal/models"
)

// Reservation is a claimed job plus the receipts needed to settle it.
// Exactly one of Ack, Nack, or MoveToDLQ must be called per reservation;
// an unsettled reservation becomes visible again after the visibility
// timeout (crash safety).
type Reservation struct {
	Job      *models.ScrapeJob
	Attempt  int // attempts consumed including this reservation
	WorkerID string
}

// JobQueue is the durable FIFO-with-delay queue backing the worker pool.
// Job state machine: READY -> RESERVED -> (ACKED | REQUEUED | DLQ).
type JobQueue interface {
	// Enqueue stores the job; a non-nil notBefore delays first visibility.
	Enqueue(ctx context.Context, job *models.ScrapeJob, notBefore *time.Time) error

	// Reserve claims the oldest visible job for visibilityTimeout, or
	// returns models.ErrNoMessage.
	Reserve(ctx context.Context, workerID string, visibilityTimeout time.Duration) (*Reservation, error)

	// Ack removes a reserved job permanently (terminal success).
	Ack(ctx context.Context, jobID string) error

	// Nack requeues a reserved job, visible again after nextDelay, with the
	// attempt counter bumped.
	Nack(ctx context.Context, jobID string, nextDelay time.Duration) error

	// MoveToDLQ parks a reserved job in the dead-letter queue with its
	// terminal classification.
	MoveToDLQ(ctx context.Context, jobID string, kind models.FailKind, detail string) error

	// ListDLQ returns parked entries for inspection.
	ListDLQ(ctx context.Context, limit int) ([]*models.DLQEntry, error)

	// Stats returns a point-in-time queue snapshot.
	Stats(ctx context.Context) (*models.QueueStats, error)
}

// WorkerPool drives scrape execution concurrently on top of the JobQueue.
type WorkerPool interface {
	Start() error
	Stop() error
}
