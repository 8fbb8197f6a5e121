package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wager-exchange/internal/models"
	"wager-exchange/internal/services"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if err := db.AutoMigrate(&models.Market{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	db.Exec("DELETE FROM markets")
	return db
}

// fakeTransitioner records requested transitions and reports them applied.
type fakeTransitioner struct {
	mu    sync.Mutex
	calls []struct {
		marketID uuid.UUID
		target   models.MarketStatus
	}
	notify chan models.MarketStatus
}

func newFakeTransitioner() *fakeTransitioner {
	return &fakeTransitioner{notify: make(chan models.MarketStatus, 16)}
}

func (f *fakeTransitioner) AdvanceStatus(ctx context.Context, marketID uuid.UUID, target models.MarketStatus) (*models.Market, error) {
	f.mu.Lock()
	f.calls = append(f.calls, struct {
		marketID uuid.UUID
		target   models.MarketStatus
	}{marketID, target})
	f.mu.Unlock()
	f.notify <- target
	return &models.Market{ID: marketID, Status: target}, nil
}

func (f *fakeTransitioner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitForTransition(t *testing.T, f *fakeTransitioner, want models.MarketStatus) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-f.notify:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for transition to %s", want)
		}
	}
}

func insertMarket(t *testing.T, db *gorm.DB, status models.MarketStatus, closure, resolution time.Time) *models.Market {
	t.Helper()
	market := models.Market{
		ID:             uuid.New(),
		Title:          "timer test",
		Status:         status,
		ClosureTime:    closure,
		ResolutionTime: resolution,
		CreatedAt:      time.Now(),
	}
	if err := db.Create(&market).Error; err != nil {
		t.Fatalf("failed to insert market: %v", err)
	}
	return &market
}

func TestInitCatchesUpMissedClosure(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	insertMarket(t, db, models.MarketStatusOpen, now.Add(-10*time.Minute), now.Add(1*time.Hour))

	transitions := newFakeTransitioner()
	sched := New(db, transitions)
	defer sched.Shutdown()

	if err := sched.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// A closure deadline that passed while the process was down fires
	// immediately.
	waitForTransition(t, transitions, models.MarketStatusClosed)
}

func TestInitCatchesUpMissedResolution(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	insertMarket(t, db, models.MarketStatusClosed, now.Add(-2*time.Hour), now.Add(-1*time.Hour))

	transitions := newFakeTransitioner()
	sched := New(db, transitions)
	defer sched.Shutdown()

	if err := sched.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	waitForTransition(t, transitions, models.MarketStatusResolving)
}

func TestScheduleMarketFiresFutureClosure(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	market := insertMarket(t, db, models.MarketStatusOpen, now.Add(50*time.Millisecond), now.Add(1*time.Hour))

	transitions := newFakeTransitioner()
	sched := New(db, transitions)
	defer sched.Shutdown()

	sched.ScheduleMarket(market)
	waitForTransition(t, transitions, models.MarketStatusClosed)
}

func TestCancelStopsPendingTimers(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	market := insertMarket(t, db, models.MarketStatusOpen, now.Add(100*time.Millisecond), now.Add(200*time.Millisecond))

	transitions := newFakeTransitioner()
	sched := New(db, transitions)
	defer sched.Shutdown()

	sched.ScheduleMarket(market)
	sched.Cancel(market.ID.String())

	time.Sleep(400 * time.Millisecond)
	if got := transitions.callCount(); got != 0 {
		t.Errorf("cancelled timers still fired %d transitions", got)
	}
}

// fakeResolver resolves every market to a fixed outcome.
type fakeResolver struct {
	outcome models.Selection
}

func (r *fakeResolver) ResolveOutcome(ctx context.Context, market *models.Market) (models.Selection, bool, error) {
	return r.outcome, true, nil
}

// fakeSettler records settle calls.
type fakeSettler struct {
	mu      sync.Mutex
	settled []uuid.UUID
	notify  chan uuid.UUID
}

func (s *fakeSettler) SettleMarket(ctx context.Context, marketID uuid.UUID, outcome models.Selection) (*services.SettlementSummary, error) {
	s.mu.Lock()
	s.settled = append(s.settled, marketID)
	s.mu.Unlock()
	s.notify <- marketID
	return &services.SettlementSummary{MarketID: marketID, Status: models.MarketStatusSettled, Outcome: string(outcome)}, nil
}

func TestResolutionTriggerInvokesResolverAndSettler(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	market := insertMarket(t, db, models.MarketStatusClosed, now.Add(-1*time.Hour), now.Add(50*time.Millisecond))

	transitions := newFakeTransitioner()
	settler := &fakeSettler{notify: make(chan uuid.UUID, 1)}
	sched := New(db, transitions)
	sched.SetResolver(&fakeResolver{outcome: models.SelectionYes}, settler)
	defer sched.Shutdown()

	sched.ScheduleMarket(market)

	select {
	case settledID := <-settler.notify:
		if settledID != market.ID {
			t.Errorf("settled the wrong market: %s", settledID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for auto-settlement")
	}
}
