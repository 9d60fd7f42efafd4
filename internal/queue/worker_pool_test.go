package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

type fakeExecutor struct {
	mu       sync.Mutex
	outcomes []models.ScrapeOutcome
	calls    int
}

func (f *fakeExecutor) Execute(_ context.Context, _ *models.ScrapeJob) models.ScrapeOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	outcome := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}
	f.calls++
	return outcome
}

type memTrackerStore struct {
	mu       sync.Mutex
	trackers map[string]*models.CompetitorTracker
}

func newMemTrackerStore(trackers ...*models.CompetitorTracker) *memTrackerStore {
	s := &memTrackerStore{trackers: make(map[string]*models.CompetitorTracker)}
	for _, t := range trackers {
		s.trackers[t.ID] = t
	}
	return s
}

func (s *memTrackerStore) CreateOrGet(_ context.Context, t *models.CompetitorTracker) (*models.CompetitorTracker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[t.ID] = t
	return t, true, nil
}

func (s *memTrackerStore) GetTracker(_ context.Context, id string) (*models.CompetitorTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (s *memTrackerStore) ListTrackers(context.Context, int, int) ([]*models.CompetitorTracker, error) {
	return nil, nil
}
func (s *memTrackerStore) ListByProduct(context.Context, string) ([]*models.CompetitorTracker, error) {
	return nil, nil
}
func (s *memTrackerStore) ListDue(context.Context, time.Time, time.Duration, int) ([]*models.CompetitorTracker, error) {
	return nil, nil
}

func (s *memTrackerStore) UpdateTracker(_ context.Context, t *models.CompetitorTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.trackers[t.ID]
	if current.Version != t.Version {
		return models.ErrVersionConflict
	}
	copied := *t
	copied.Version++
	s.trackers[t.ID] = &copied
	*t = copied
	return nil
}

func (s *memTrackerStore) MarkInFlight(context.Context, string, time.Time) error { return nil }
func (s *memTrackerStore) Revive(context.Context, string) error                  { return nil }
func (s *memTrackerStore) DeleteTracker(context.Context, string) error           { return nil }
func (s *memTrackerStore) CountByStatus(context.Context) (map[models.TrackerStatus]int, error) {
	return nil, nil
}

type memHistoryStore struct {
	mu     sync.Mutex
	points []*models.PricePoint
}

func (s *memHistoryStore) Append(_ context.Context, p *models.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
	return nil
}
func (s *memHistoryStore) RangeByTracker(context.Context, string, time.Time, time.Time) ([]*models.PricePoint, error) {
	return nil, nil
}
func (s *memHistoryStore) Latest(context.Context, string) (*models.PricePoint, error) {
	return nil, models.ErrNotFound
}
func (s *memHistoryStore) HistoryForProduct(context.Context, string, int) ([]*models.PricePoint, error) {
	return nil, nil
}
func (s *memHistoryStore) CountPoints(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points), nil
}
func (s *memHistoryStore) Compact(context.Context, time.Time) (int, error) { return 0, nil }

type memExecutionStore struct {
	mu    sync.Mutex
	execs []*models.ScrapeExecution
}

func (s *memExecutionStore) RecordExecution(_ context.Context, e *models.ScrapeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, e)
	return nil
}
func (s *memExecutionStore) ListExecutions(context.Context, string, int) ([]*models.ScrapeExecution, error) {
	return nil, nil
}
func (s *memExecutionStore) CountExecutions(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.execs), nil
}

type memStorage struct {
	tracker   *memTrackerStore
	history   *memHistoryStore
	execution *memExecutionStore
}

func newMemStorage(trackers ...*models.CompetitorTracker) *memStorage {
	return &memStorage{
		tracker:   newMemTrackerStore(trackers...),
		history:   &memHistoryStore{},
		execution: &memExecutionStore{},
	}
}

func (s *memStorage) ProductStorage() interfaces.ProductStorage     { return nil }
func (s *memStorage) TrackerStorage() interfaces.TrackerStorage     { return s.tracker }
func (s *memStorage) HistoryStorage() interfaces.HistoryStorage     { return s.history }
func (s *memStorage) RuleStorage() interfaces.RuleStorage           { return nil }
func (s *memStorage) ExecutionStorage() interfaces.ExecutionStorage { return s.execution }

func (s *memStorage) CommitObservation(ctx context.Context, point *models.PricePoint, tracker *models.CompetitorTracker) error {
	if err := s.tracker.UpdateTracker(ctx, tracker); err != nil {
		return err
	}
	return s.history.Append(ctx, point)
}

func (s *memStorage) Close() error { return nil }

func testTracker() *models.CompetitorTracker {
	return &models.CompetitorTracker{
		ID:             "trk_1",
		ProductID:      "prd_1",
		CompetitorName: "shop.example.com",
		CanonicalURL:   "https://shop.example.com/p/1",
		Domain:         "shop.example.com",
		Active:         true,
		LastStatus:     models.TrackerStatusNew,
	}
}

func newTestPool(t *testing.T, executor interfaces.ScrapeExecutor, storage interfaces.StorageManager) (*WorkerPool, *BadgerQueue) {
	t.Helper()
	q := testQueue(t)
	pool := NewWorkerPool(PoolConfig{
		Workers:           1,
		PollInterval:      5 * time.Millisecond,
		VisibilityTimeout: time.Minute,
		JobTimeout:        time.Second,
	}, q, executor, storage, nil, &RetryPolicy{
		MaxAttempts:     3,
		BaseBackoff:     time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		HardFailBackoff: 2 * time.Millisecond,
	}, arbor.NewLogger())
	return pool, q
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestWorkerPoolHappyPath(t *testing.T) {
	storage := newMemStorage(testTracker())
	executor := &fakeExecutor{outcomes: []models.ScrapeOutcome{
		models.SuccessOutcome(&models.PriceSignal{
			Price:         19.90,
			Currency:      "EUR",
			ExtractedFrom: models.PriceSourceHTTP,
			AdapterID:     "generic-jsonld",
			Confidence:    1.0,
		}),
	}}

	pool, q := newTestPool(t, executor, storage)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queueJob("job_1"), nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pool.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop()

	waitFor(t, 2*time.Second, func() bool {
		n, _ := storage.history.CountPoints(ctx)
		return n == 1
	})

	point := storage.history.points[0]
	if point.Price != 19.90 || point.Currency != "EUR" {
		t.Errorf("point = %+v", point)
	}
	if point.Source != models.PriceSourceHTTP {
		t.Errorf("source = %s", point.Source)
	}

	tracker, _ := storage.tracker.GetTracker(ctx, "trk_1")
	if tracker.LastStatus != models.TrackerStatusOK {
		t.Errorf("last_status = %s", tracker.LastStatus)
	}
	if tracker.FailureStreak != 0 {
		t.Errorf("failure_streak = %d", tracker.FailureStreak)
	}
	if tracker.LastPrice == nil || *tracker.LastPrice != 19.90 {
		t.Errorf("last_price = %v", tracker.LastPrice)
	}

	waitFor(t, 2*time.Second, func() bool {
		stats, _ := q.Stats(ctx)
		return stats.Ready+stats.Reserved+stats.Delayed+stats.DLQ == 0
	})
}

func TestWorkerPoolRetryThenDLQ(t *testing.T) {
	storage := newMemStorage(testTracker())
	executor := &fakeExecutor{outcomes: []models.ScrapeOutcome{
		models.SoftFail(models.FailKindTimeout, "deadline exceeded"),
	}}

	pool, q := newTestPool(t, executor, storage)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queueJob("job_1"), nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pool.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop()

	waitFor(t, 5*time.Second, func() bool {
		stats, _ := q.Stats(ctx)
		return stats.DLQ == 1
	})

	entries, _ := q.ListDLQ(ctx, 10)
	if len(entries) != 1 {
		t.Fatalf("dlq entries = %d", len(entries))
	}
	if entries[0].Kind != models.FailKindTimeout {
		t.Errorf("dlq kind = %s", entries[0].Kind)
	}
	if entries[0].Attempts != 3 {
		t.Errorf("dlq attempts = %d, want 3", entries[0].Attempts)
	}

	executor.mu.Lock()
	calls := executor.calls
	executor.mu.Unlock()
	if calls != 3 {
		t.Errorf("executor calls = %d, want max_attempts", calls)
	}

	tracker, _ := storage.tracker.GetTracker(ctx, "trk_1")
	if tracker.FailureStreak != 3 {
		t.Errorf("failure_streak = %d, want 3", tracker.FailureStreak)
	}
	if tracker.LastStatus != models.TrackerStatusNetworkError {
		t.Errorf("last_status = %s", tracker.LastStatus)
	}

	if n, _ := storage.history.CountPoints(ctx); n != 0 {
		t.Errorf("history points = %d, want none on failure", n)
	}
	if n, _ := storage.execution.CountExecutions(ctx); n != 3 {
		t.Errorf("execution rows = %d, want one per attempt", n)
	}
}

func TestWorkerPoolNonRetryableGoesStraightToDLQ(t *testing.T) {
	storage := newMemStorage(testTracker())
	executor := &fakeExecutor{outcomes: []models.ScrapeOutcome{
		models.HardFail(models.FailKindDomainBlocked, "host not allowed"),
	}}

	pool, q := newTestPool(t, executor, storage)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queueJob("job_1"), nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pool.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer pool.Stop()

	waitFor(t, 2*time.Second, func() bool {
		stats, _ := q.Stats(ctx)
		return stats.DLQ == 1
	})

	executor.mu.Lock()
	calls := executor.calls
	executor.mu.Unlock()
	if calls != 1 {
		t.Errorf("executor calls = %d, want 1 for non-retryable kind", calls)
	}
}
