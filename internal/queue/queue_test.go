package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/models"
)

func testDB(t *testing.T) *badgerdb.DB {
	t.Helper()
	opts := badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testQueue(t *testing.T) *BadgerQueue {
	t.Helper()
	q, err := NewBadgerQueue(testDB(t), "test_scrapes", arbor.NewLogger())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func queueJob(id string) *models.ScrapeJob {
	return &models.ScrapeJob{
		ID:          id,
		TrackerID:   "trk_1",
		ProductID:   "prd_1",
		URL:         "https://shop.example.com/p/1",
		Attempt:     1,
		MaxAttempts: 3,
		EnqueuedAt:  time.Now(),
		Origin:      models.JobOriginManual,
	}
}

func TestEnqueueReserveAck(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queueJob("job_1"), nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Job.ID != "job_1" {
		t.Errorf("job ID = %s", res.Job.ID)
	}
	if res.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", res.Attempt)
	}

	// Reserved job must be invisible to a second worker.
	if _, err := q.Reserve(ctx, "w2", time.Minute); !errors.Is(err, models.ErrNoMessage) {
		t.Fatalf("second reserve err = %v, want ErrNoMessage", err)
	}

	if err := q.Ack(ctx, "job_1"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Ready+stats.Delayed+stats.Reserved+stats.DLQ != 0 {
		t.Errorf("stats after ack = %+v, want empty", stats)
	}
}

func TestReserveHonorsFIFO(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	for _, id := range []string{"job_a", "job_b", "job_c"} {
		if err := q.Enqueue(ctx, queueJob(id), nil); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct index timestamps
	}

	for _, want := range []string{"job_a", "job_b", "job_c"} {
		res, err := q.Reserve(ctx, "w1", time.Minute)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if res.Job.ID != want {
			t.Errorf("reserved %s, want %s", res.Job.ID, want)
		}
	}
}

func TestEnqueueWithNotBefore(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	notBefore := time.Now().Add(time.Hour)
	if err := q.Enqueue(ctx, queueJob("job_delayed"), &notBefore); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := q.Reserve(ctx, "w1", time.Minute); !errors.Is(err, models.ErrNoMessage) {
		t.Fatalf("reserve err = %v, want ErrNoMessage for delayed job", err)
	}

	stats, _ := q.Stats(ctx)
	if stats.Delayed != 1 {
		t.Errorf("delayed = %d, want 1", stats.Delayed)
	}
}

func TestNackBumpsAttemptAndDelays(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queueJob("job_1"), nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, "w1", time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := q.Nack(ctx, "job_1", 20*time.Millisecond); err != nil {
		t.Fatalf("nack: %v", err)
	}

	// Not yet visible.
	if _, err := q.Reserve(ctx, "w1", time.Minute); !errors.Is(err, models.ErrNoMessage) {
		t.Fatalf("reserve during delay err = %v, want ErrNoMessage", err)
	}

	time.Sleep(30 * time.Millisecond)
	res, err := q.Reserve(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("reserve after delay: %v", err)
	}
	if res.Job.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", res.Job.Attempt)
	}
	if res.Job.Origin != models.JobOriginRetry {
		t.Errorf("origin = %s, want retry", res.Job.Origin)
	}
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queueJob("job_1"), nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, "w1", 20*time.Millisecond); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	// The crashed worker never acked; the job must surface again.
	res, err := q.Reserve(ctx, "w2", time.Minute)
	if err != nil {
		t.Fatalf("reserve after visibility expiry: %v", err)
	}
	if res.Job.ID != "job_1" {
		t.Errorf("job ID = %s", res.Job.ID)
	}
}

func TestMoveToDLQ(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queueJob("job_1"), nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, "w1", time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := q.MoveToDLQ(ctx, "job_1", models.FailKindTimeout, "deadline exceeded"); err != nil {
		t.Fatalf("move to dlq: %v", err)
	}

	entries, err := q.ListDLQ(ctx, 10)
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(entries))
	}
	if entries[0].Kind != models.FailKindTimeout {
		t.Errorf("kind = %s", entries[0].Kind)
	}
	if entries[0].Detail != "deadline exceeded" {
		t.Errorf("detail = %s", entries[0].Detail)
	}

	// Removed from the live queue.
	if _, err := q.Reserve(ctx, "w1", time.Minute); !errors.Is(err, models.ErrNoMessage) {
		t.Fatalf("reserve after dlq err = %v, want ErrNoMessage", err)
	}
	stats, _ := q.Stats(ctx)
	if stats.DLQ != 1 {
		t.Errorf("dlq stat = %d, want 1", stats.DLQ)
	}
}

func TestAckUnknownJobIsNoop(t *testing.T) {
	q := testQueue(t)
	if err := q.Ack(context.Background(), "job_missing"); err != nil {
		t.Fatalf("ack unknown job: %v", err)
	}
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	q := testQueue(t)
	job := queueJob("job_1")
	job.Attempt = 5 // beyond max_attempts
	if err := q.Enqueue(context.Background(), job, nil); err == nil {
		t.Fatal("expected error for invalid job")
	}
}
