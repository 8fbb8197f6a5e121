package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"wager-exchange/internal/models"
	"wager-exchange/internal/services"
)

// MarketTransitioner advances a market through its lifecycle. Implemented by
// the market service; declared here so the scheduler stays decoupled from it.
type MarketTransitioner interface {
	AdvanceStatus(ctx context.Context, marketID uuid.UUID, target models.MarketStatus) (*models.Market, error)
}

// OutcomeResolver decides the winning outcome once a market's resolution
// deadline fires. The default resolver leaves markets in RESOLVING for a
// manual decision; an oracle-backed resolver can settle automatically.
type OutcomeResolver interface {
	ResolveOutcome(ctx context.Context, market *models.Market) (models.Selection, bool, error)
}

// Settler finalizes a market once a resolver produced an outcome.
type Settler interface {
	SettleMarket(ctx context.Context, marketID uuid.UUID, outcome models.Selection) (*services.SettlementSummary, error)
}

// Scheduler arms in-process timers for market closure and resolution
// deadlines. Timers are rebuilt from the database at startup so restarts do
// not strand markets past their deadlines.
type Scheduler struct {
	db          *gorm.DB
	transitions MarketTransitioner
	resolver    OutcomeResolver
	settler     Settler

	mu     sync.Mutex
	timers map[uuid.UUID][]*time.Timer
	closed bool
}

func New(db *gorm.DB, transitions MarketTransitioner) *Scheduler {
	return &Scheduler{
		db:          db,
		transitions: transitions,
		timers:      make(map[uuid.UUID][]*time.Timer),
	}
}

// SetResolver installs the outcome resolver used when resolution deadlines
// fire. Optional; without one, markets stop at RESOLVING.
func (s *Scheduler) SetResolver(resolver OutcomeResolver, settler Settler) {
	s.resolver = resolver
	s.settler = settler
}

// Init reloads every non-terminal market and re-arms its timers. Deadlines
// that passed while the process was down are caught up immediately.
func (s *Scheduler) Init() error {
	var markets []models.Market
	err := s.db.Where("status IN ?", []models.MarketStatus{
		models.MarketStatusPending,
		models.MarketStatusOpen,
		models.MarketStatusClosed,
		models.MarketStatusResolving,
	}).Find(&markets).Error
	if err != nil {
		return err
	}

	for i := range markets {
		s.ScheduleMarket(&markets[i])
	}
	log.Printf("[Scheduler] Initialized timers for %d active markets", len(markets))
	return nil
}

// ScheduleMarket arms closure and resolution timers for a market, replacing
// any timers already registered for it. Safe to call again after a deadline
// edit.
func (s *Scheduler) ScheduleMarket(market *models.Market) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cancelLocked(market.ID)

	now := time.Now()
	var timers []*time.Timer

	marketID := market.ID
	switch market.Status {
	case models.MarketStatusPending, models.MarketStatusOpen:
		closureDelay := market.ClosureTime.Sub(now)
		if closureDelay <= 0 {
			// Missed while down; close on a zero-delay timer so the
			// transition runs off the caller's goroutine.
			closureDelay = 0
		}
		timers = append(timers, time.AfterFunc(closureDelay, func() {
			s.fireClosure(marketID)
		}))
		fallthrough
	case models.MarketStatusClosed, models.MarketStatusResolving:
		resolutionDelay := market.ResolutionTime.Sub(now)
		if resolutionDelay <= 0 {
			resolutionDelay = 0
		}
		timers = append(timers, time.AfterFunc(resolutionDelay, func() {
			s.fireResolution(marketID)
		}))
	}

	s.timers[market.ID] = timers
	s.mu.Unlock()
}

// Cancel stops and discards any pending timers for a market.
func (s *Scheduler) Cancel(marketID string) {
	id, err := uuid.Parse(marketID)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.cancelLocked(id)
	s.mu.Unlock()
}

func (s *Scheduler) cancelLocked(marketID uuid.UUID) {
	for _, t := range s.timers[marketID] {
		t.Stop()
	}
	delete(s.timers, marketID)
}

// Shutdown stops all pending timers. Already-fired callbacks may still be
// running; they no-op against terminal markets.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for id := range s.timers {
		s.cancelLocked(id)
	}
	s.mu.Unlock()
	log.Println("[Scheduler] Shut down")
}

func (s *Scheduler) fireClosure(marketID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.transitions.AdvanceStatus(ctx, marketID, models.MarketStatusClosed); err != nil {
		log.Printf("[Scheduler] Failed to close market %s: %v", marketID, err)
		return
	}
	log.Printf("[Scheduler] Market %s closed for betting", marketID)
}

func (s *Scheduler) fireResolution(marketID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	market, err := s.transitions.AdvanceStatus(ctx, marketID, models.MarketStatusResolving)
	if err != nil {
		log.Printf("[Scheduler] Failed to move market %s to resolving: %v", marketID, err)
		return
	}
	log.Printf("[Scheduler] Market %s entered resolution", marketID)

	if s.resolver == nil || s.settler == nil {
		return
	}

	outcome, resolved, err := s.resolver.ResolveOutcome(ctx, market)
	if err != nil {
		log.Printf("[Scheduler] Resolver error for market %s: %v", marketID, err)
		return
	}
	if !resolved {
		return
	}
	if _, err := s.settler.SettleMarket(ctx, marketID, outcome); err != nil {
		log.Printf("[Scheduler] Auto-settlement failed for market %s: %v", marketID, err)
		return
	}
	log.Printf("[Scheduler] Market %s auto-settled with outcome %s", marketID, outcome)
}
