package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pricewatch/internal/models"
)

// newTestDB opens a throwaway Badger store under the test's temp directory.
func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatalf("failed to open badger store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}

func testTracker(id, productID, canonicalURL string) *models.CompetitorTracker {
	return &models.CompetitorTracker{
		ID:             id,
		ProductID:      productID,
		CompetitorName: "Rival Shop",
		RawURL:         canonicalURL,
		CanonicalURL:   canonicalURL,
		Domain:         "rival.example",
		Active:         true,
		LastStatus:     models.TrackerStatusNew,
	}
}

func TestCreateOrGetReturnsExistingTracker(t *testing.T) {
	db := newTestDB(t)
	storage := NewTrackerStorage(db, arbor.NewLogger())
	ctx := context.Background()

	first, created, err := storage.CreateOrGet(ctx, testTracker("trk_1", "prd_1", "https://rival.example/p/1"))
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if !created {
		t.Fatal("first create should report created=true")
	}

	second, created, err := storage.CreateOrGet(ctx, testTracker("trk_2", "prd_1", "https://rival.example/p/1"))
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if created {
		t.Error("duplicate create should report created=false")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing tracker %s, got %s", first.ID, second.ID)
	}

	// A different product may track the same URL.
	_, created, err = storage.CreateOrGet(ctx, testTracker("trk_3", "prd_2", "https://rival.example/p/1"))
	if err != nil {
		t.Fatalf("create for second product failed: %v", err)
	}
	if !created {
		t.Error("same URL under a different product should create a new tracker")
	}
}

func TestUpdateTrackerVersionConflict(t *testing.T) {
	db := newTestDB(t)
	storage := NewTrackerStorage(db, arbor.NewLogger())
	ctx := context.Background()

	tracker, _, err := storage.CreateOrGet(ctx, testTracker("trk_1", "prd_1", "https://rival.example/p/1"))
	if err != nil {
		t.Fatal(err)
	}

	stale := *tracker

	tracker.LastStatus = models.TrackerStatusOK
	if err := storage.UpdateTracker(ctx, tracker); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if tracker.Version != stale.Version+1 {
		t.Errorf("version = %d, want %d", tracker.Version, stale.Version+1)
	}

	stale.LastStatus = models.TrackerStatusBlocked
	err = storage.UpdateTracker(ctx, &stale)
	if !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("stale update error = %v, want ErrVersionConflict", err)
	}

	// The losing write must not have landed.
	current, err := storage.GetTracker(ctx, "trk_1")
	if err != nil {
		t.Fatal(err)
	}
	if current.LastStatus != models.TrackerStatusOK {
		t.Errorf("status = %s, want ok", current.LastStatus)
	}
}

func TestUpdateTrackerNotFound(t *testing.T) {
	db := newTestDB(t)
	storage := NewTrackerStorage(db, arbor.NewLogger())

	tracker := testTracker("trk_missing", "prd_1", "https://rival.example/p/9")
	err := storage.UpdateTracker(context.Background(), tracker)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListDueSelection(t *testing.T) {
	db := newTestDB(t)
	storage := NewTrackerStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()

	// Never checked: due, and sorts first.
	never := testTracker("trk_never", "prd_1", "https://rival.example/p/1")

	// Checked long ago: due.
	overdue := testTracker("trk_overdue", "prd_1", "https://rival.example/p/2")
	checked := now.Add(-2 * time.Hour)
	overdue.LastCheckedAt = &checked

	// Checked recently: not due.
	fresh := testTracker("trk_fresh", "prd_1", "https://rival.example/p/3")
	recent := now.Add(-time.Minute)
	fresh.LastCheckedAt = &recent

	// In flight: skipped even though due.
	inflight := testTracker("trk_inflight", "prd_1", "https://rival.example/p/4")
	until := now.Add(time.Minute)
	inflight.InFlightUntil = &until

	// Dead: excluded by the query.
	dead := testTracker("trk_dead", "prd_1", "https://rival.example/p/5")
	dead.LastStatus = models.TrackerStatusDead

	for _, tr := range []*models.CompetitorTracker{never, overdue, fresh, inflight, dead} {
		if _, _, err := storage.CreateOrGet(ctx, tr); err != nil {
			t.Fatalf("create %s: %v", tr.ID, err)
		}
	}

	due, err := storage.ListDue(ctx, now, time.Hour, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	if due[0].ID != "trk_never" {
		t.Errorf("first due = %s, want trk_never", due[0].ID)
	}
	if due[1].ID != "trk_overdue" {
		t.Errorf("second due = %s, want trk_overdue", due[1].ID)
	}

	limited, err := storage.ListDue(ctx, now, time.Hour, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

func TestListDueHonorsPerTrackerInterval(t *testing.T) {
	db := newTestDB(t)
	storage := NewTrackerStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now()

	tracker := testTracker("trk_custom", "prd_1", "https://rival.example/p/1")
	tracker.IntervalSeconds = 30
	checked := now.Add(-time.Minute)
	tracker.LastCheckedAt = &checked

	if _, _, err := storage.CreateOrGet(ctx, tracker); err != nil {
		t.Fatal(err)
	}

	// The 30s override makes it due even though the default interval has not
	// elapsed.
	due, err := storage.ListDue(ctx, now, time.Hour, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 {
		t.Fatalf("len(due) = %d, want 1", len(due))
	}
}

func TestReviveClearsDeadState(t *testing.T) {
	db := newTestDB(t)
	storage := NewTrackerStorage(db, arbor.NewLogger())
	ctx := context.Background()

	tracker := testTracker("trk_dead", "prd_1", "https://rival.example/p/1")
	tracker.LastStatus = models.TrackerStatusDead
	tracker.FailureStreak = 5
	until := time.Now().Add(time.Minute)
	tracker.InFlightUntil = &until

	if _, _, err := storage.CreateOrGet(ctx, tracker); err != nil {
		t.Fatal(err)
	}

	if err := storage.Revive(ctx, "trk_dead"); err != nil {
		t.Fatalf("revive failed: %v", err)
	}

	revived, err := storage.GetTracker(ctx, "trk_dead")
	if err != nil {
		t.Fatal(err)
	}
	if revived.LastStatus != models.TrackerStatusNew {
		t.Errorf("status = %s, want new", revived.LastStatus)
	}
	if revived.FailureStreak != 0 {
		t.Errorf("failure streak = %d, want 0", revived.FailureStreak)
	}
	if revived.InFlightUntil != nil {
		t.Error("in-flight marker should be cleared")
	}
}

func TestCommitObservationIsAtomic(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	manager := &Manager{
		db:      db,
		tracker: NewTrackerStorage(db, logger),
		history: NewHistoryStorage(db, logger),
		logger:  logger,
	}
	ctx := context.Background()

	tracker, _, err := manager.tracker.CreateOrGet(ctx, testTracker("trk_1", "prd_1", "https://rival.example/p/1"))
	if err != nil {
		t.Fatal(err)
	}

	point := &models.PricePoint{
		ID:         "pp_1",
		ProductID:  "prd_1",
		TrackerID:  tracker.ID,
		Price:      19.99,
		Currency:   "USD",
		CapturedAt: time.Now(),
		Source:     models.PriceSourceHTTP,
	}

	price := 19.99
	tracker.LastPrice = &price
	tracker.LastStatus = models.TrackerStatusOK
	if err := manager.CommitObservation(ctx, point, tracker); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	stored, err := manager.tracker.GetTracker(ctx, tracker.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastPrice == nil || *stored.LastPrice != 19.99 {
		t.Error("tracker last price not committed")
	}
	if count, _ := manager.history.CountPoints(ctx); count != 1 {
		t.Errorf("point count = %d, want 1", count)
	}

	// A stale version must abort the whole transaction: no point, no tracker
	// change.
	stale := *stored
	stale.Version = 0
	conflictPoint := &models.PricePoint{
		ID:         "pp_2",
		ProductID:  "prd_1",
		TrackerID:  tracker.ID,
		Price:      18.50,
		Currency:   "USD",
		CapturedAt: time.Now(),
		Source:     models.PriceSourceHTTP,
	}
	err = manager.CommitObservation(ctx, conflictPoint, &stale)
	if !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("error = %v, want ErrVersionConflict", err)
	}
	if count, _ := manager.history.CountPoints(ctx); count != 1 {
		t.Errorf("point count after conflict = %d, want 1", count)
	}
}
