package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// queuedJob wraps a scrape job with the queue-side state needed for
// visibility tracking. The job itself stays opaque to the queue except for
// the attempt counter, which the queue owns once the job is enqueued.
type queuedJob struct {
	Job        *models.ScrapeJob `json:"job"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	VisibleAt  time.Time         `json:"visible_at"`
	Reserved   bool              `json:"reserved"`
	WorkerID   string            `json:"worker_id,omitempty"`
}

// BadgerQueue is a durable FIFO-with-delay queue on BadgerDB. Each job is
// stored once under a message key and indexed under a zero-padded
// visibility-timestamp key; both are written in the same transaction so the
// index can never point at a missing message. Reserving a job moves its
// index entry to now+visibilityTimeout, which doubles as crash recovery: a
// worker that dies simply stops extending, and the job surfaces again when
// the timestamp passes.
type BadgerQueue struct {
	db     *badgerdb.DB
	name   string
	logger arbor.ILogger
}

// NewBadgerQueue creates a queue over an existing Badger handle. The queue
// does not own the DB; closing it is the storage manager's job.
func NewBadgerQueue(db *badgerdb.DB, name string, logger arbor.ILogger) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	return &BadgerQueue{db: db, name: name, logger: logger}, nil
}

// Enqueue stores the job, visible immediately unless notBefore is set.
func (q *BadgerQueue) Enqueue(ctx context.Context, job *models.ScrapeJob, notBefore *time.Time) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue invalid job: %w", err)
	}

	now := time.Now()
	qj := queuedJob{
		Job:        job,
		EnqueuedAt: now,
		VisibleAt:  now,
	}
	if notBefore != nil && notBefore.After(now) {
		qj.VisibleAt = *notBefore
	}

	data, err := json.Marshal(&qj)
	if err != nil {
		return fmt.Errorf("failed to marshal queued job: %w", err)
	}

	err = q.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(q.msgKey(job.ID), data); err != nil {
			return err
		}
		return txn.Set(q.indexKey(qj.VisibleAt, job.ID), nil)
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	q.logger.Debug().
		Str("job_id", job.ID).
		Str("origin", string(job.Origin)).
		Str("visible_at", qj.VisibleAt.Format(time.RFC3339)).
		Msg("Job enqueued")
	return nil
}

// Reserve claims the oldest visible job. The index is ordered by visibility
// timestamp, so the scan stops at the first future entry.
func (q *BadgerQueue) Reserve(ctx context.Context, workerID string, visibilityTimeout time.Duration) (*interfaces.Reservation, error) {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 2 * time.Minute
	}

	var claimed queuedJob
	err := q.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := q.indexPrefix()
		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			visibleAt, jobID, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}
			if visibleAt.After(now) {
				break
			}

			item, err := txn.Get(q.msgKey(jobID))
			if err != nil {
				if err == badgerdb.ErrKeyNotFound {
					// Orphaned index entry; drop it and keep scanning.
					if delErr := txn.Delete(key); delErr != nil {
						return delErr
					}
					continue
				}
				return err
			}

			var qj queuedJob
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &qj)
			}); err != nil {
				return err
			}

			qj.Reserved = true
			qj.WorkerID = workerID
			qj.VisibleAt = now.Add(visibilityTimeout)

			data, err := json.Marshal(&qj)
			if err != nil {
				return err
			}
			if err := txn.Set(q.msgKey(jobID), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(q.indexKey(qj.VisibleAt, jobID), nil); err != nil {
				return err
			}

			claimed = qj
			return nil
		}

		return models.ErrNoMessage
	})
	if err != nil {
		return nil, err
	}

	return &interfaces.Reservation{
		Job:      claimed.Job,
		Attempt:  claimed.Job.Attempt,
		WorkerID: workerID,
	}, nil
}

// Ack deletes a job permanently. Acking an unknown job is a no-op so a slow
// worker racing a visibility expiry cannot fail shutdown.
func (q *BadgerQueue) Ack(ctx context.Context, jobID string) error {
	return q.db.Update(func(txn *badgerdb.Txn) error {
		return q.removeJob(txn, jobID)
	})
}

// Nack requeues a reserved job with the attempt counter bumped, visible
// again after nextDelay.
func (q *BadgerQueue) Nack(ctx context.Context, jobID string, nextDelay time.Duration) error {
	return q.db.Update(func(txn *badgerdb.Txn) error {
		qj, oldIndexKey, err := q.loadJob(txn, jobID)
		if err != nil {
			return err
		}

		qj.Job.Attempt++
		qj.Job.Origin = models.JobOriginRetry
		qj.Reserved = false
		qj.WorkerID = ""
		qj.VisibleAt = time.Now().Add(nextDelay)

		data, err := json.Marshal(qj)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(jobID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return txn.Set(q.indexKey(qj.VisibleAt, jobID), nil)
	})
}

// MoveToDLQ parks a reserved job under the dlq prefix with its terminal
// classification and removes it from the live queue in the same transaction.
func (q *BadgerQueue) MoveToDLQ(ctx context.Context, jobID string, kind models.FailKind, detail string) error {
	return q.db.Update(func(txn *badgerdb.Txn) error {
		qj, _, err := q.loadJob(txn, jobID)
		if err != nil {
			return err
		}

		entry := models.DLQEntry{
			JobID:    jobID,
			Job:      *qj.Job,
			Kind:     kind,
			Detail:   detail,
			Attempts: qj.Job.Attempt,
			FailedAt: time.Now(),
		}
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		if err := txn.Set(q.dlqKey(jobID), data); err != nil {
			return err
		}
		return q.removeJob(txn, jobID)
	})
}

// ListDLQ returns parked entries, most recent failures last (insertion
// order by job ID; the DLQ is small enough that callers sort if they care).
func (q *BadgerQueue) ListDLQ(ctx context.Context, limit int) ([]*models.DLQEntry, error) {
	var entries []*models.DLQEntry
	err := q.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(fmt.Sprintf("queue:%s:dlq:", q.name))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry models.DLQEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list DLQ: %w", err)
	}
	return entries, nil
}

// Stats walks the live messages and the DLQ prefix. O(n) over queue depth,
// which stays small because settled jobs are deleted.
func (q *BadgerQueue) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats := &models.QueueStats{}
	err := q.db.View(func(txn *badgerdb.Txn) error {
		now := time.Now()

		opts := badgerdb.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		msgPrefix := []byte(fmt.Sprintf("queue:%s:msg:", q.name))
		for it.Seek(msgPrefix); it.ValidForPrefix(msgPrefix); it.Next() {
			var qj queuedJob
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &qj)
			}); err != nil {
				return err
			}
			switch {
			case qj.Reserved && qj.VisibleAt.After(now):
				stats.Reserved++
			case qj.VisibleAt.After(now):
				stats.Delayed++
			default:
				stats.Ready++
			}
		}

		dlqOpts := badgerdb.DefaultIteratorOptions
		dlqOpts.PrefetchValues = false
		dlqIt := txn.NewIterator(dlqOpts)
		defer dlqIt.Close()

		dlqPrefix := []byte(fmt.Sprintf("queue:%s:dlq:", q.name))
		for dlqIt.Seek(dlqPrefix); dlqIt.ValidForPrefix(dlqPrefix); dlqIt.Next() {
			stats.DLQ++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect queue stats: %w", err)
	}
	return stats, nil
}

// loadJob fetches a live job and the index key it is currently filed under.
func (q *BadgerQueue) loadJob(txn *badgerdb.Txn, jobID string) (*queuedJob, []byte, error) {
	item, err := txn.Get(q.msgKey(jobID))
	if err != nil {
		if err == badgerdb.ErrKeyNotFound {
			return nil, nil, fmt.Errorf("%w: job %s", models.ErrNotFound, jobID)
		}
		return nil, nil, err
	}

	var qj queuedJob
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &qj)
	}); err != nil {
		return nil, nil, err
	}
	return &qj, q.indexKey(qj.VisibleAt, jobID), nil
}

// removeJob deletes a job's message and index entries.
func (q *BadgerQueue) removeJob(txn *badgerdb.Txn, jobID string) error {
	_, indexKey, err := q.loadJob(txn, jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := txn.Delete(indexKey); err != nil && err != badgerdb.ErrKeyNotFound {
		return err
	}
	return txn.Delete(q.msgKey(jobID))
}

func (q *BadgerQueue) msgKey(jobID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.name, jobID))
}

func (q *BadgerQueue) dlqKey(jobID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:dlq:%s", q.name, jobID))
}

func (q *BadgerQueue) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", q.name))
}

// indexKey zero-pads the timestamp to 20 digits so byte order matches time
// order.
func (q *BadgerQueue) indexKey(visibleAt time.Time, jobID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.name, visibleAt.UnixNano(), jobID))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	suffix := strings.TrimPrefix(string(key), string(q.indexPrefix()))
	parts := strings.SplitN(suffix, ":", 2)
	if len(parts) != 2 || len(parts[0]) != 20 {
		return time.Time{}, "", fmt.Errorf("malformed index key %q", key)
	}
	ns, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ns), parts[1], nil
}
