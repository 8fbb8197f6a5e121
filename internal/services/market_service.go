package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wager-exchange/internal/models"
	"wager-exchange/internal/totalisator"
)

// defaultResolutionBuffer is how long after closure a market resolves when the
// caller does not supply an explicit resolution timestamp.
const defaultResolutionBuffer = time.Hour

// MarketView is a market enhanced with odds and probabilities computed for a
// specific rake. Two merchants can see different odds for the same market.
type MarketView struct {
	models.Market
	TotalPool     decimal.Decimal `json:"total_pool"`
	Odds          models.OddsPair `json:"odds"`
	Probabilities models.OddsPair `json:"probabilities"`
}

// MarketFilter narrows market listings.
type MarketFilter struct {
	Status   models.MarketStatus
	Category string
	Term     string
}

// MarketService owns market creation, listings and lifecycle transitions.
type MarketService struct {
	db    *gorm.DB
	sched MarketScheduler
	pub   EventPublisher
}

func NewMarketService(db *gorm.DB, pub EventPublisher) *MarketService {
	return &MarketService{db: db, pub: pub}
}

// AttachScheduler wires the timer registry. Wired late because the scheduler
// itself needs the service for transitions.
func (s *MarketService) AttachScheduler(sched MarketScheduler) {
	s.sched = sched
}

// CreateMarket opens a market with seed liquidity and arms its scheduler
// timers. Called by the admin API and the Scout collaborator.
func (s *MarketService) CreateMarket(ctx context.Context, req *models.CreateMarketRequest) (*models.Market, error) {
	if req.DurationSeconds <= 0 {
		return nil, fmt.Errorf("durationSeconds must be positive")
	}
	if req.InitYes.IsNegative() || req.InitNo.IsNegative() {
		return nil, fmt.Errorf("seed liquidity cannot be negative")
	}

	now := time.Now()
	closure := now.Add(time.Duration(req.DurationSeconds) * time.Second)
	resolution := closure.Add(defaultResolutionBuffer)
	if req.ResolutionTimestamp != nil {
		resolution = time.UnixMilli(*req.ResolutionTimestamp)
	}
	if resolution.Before(closure) {
		return nil, fmt.Errorf("resolution timestamp precedes closure")
	}

	market := models.Market{
		ID:              uuid.New(),
		Title:           req.Title,
		Category:        req.Category,
		Term:            req.Term,
		Status:          models.MarketStatusOpen,
		ClosureTime:     closure,
		ResolutionTime:  resolution,
		PoolYes:         req.InitYes,
		PoolNo:          req.InitNo,
		Volume24h:       req.InitYes.Add(req.InitNo),
		SourceOfTruth:   req.SourceOfTruth,
		ConfidenceScore: req.Confidence,
		CreatedAt:       now,
	}

	if err := s.db.WithContext(ctx).Create(&market).Error; err != nil {
		return nil, fmt.Errorf("failed to create market: %w", err)
	}

	if s.sched != nil {
		s.sched.ScheduleMarket(&market)
	}
	log.Printf("[Market] Created market %s (%q), closes %s, resolves %s",
		market.ID, market.Title, closure.Format(time.RFC3339), resolution.Format(time.RFC3339))

	return &market, nil
}

// GetMarket returns one market with odds derived from the given rake.
func (s *MarketService) GetMarket(ctx context.Context, marketID uuid.UUID, rake decimal.Decimal) (*MarketView, error) {
	var market models.Market
	if err := s.db.WithContext(ctx).First(&market, "id = ?", marketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMarketNotFound
		}
		return nil, fmt.Errorf("failed to fetch market: %w", err)
	}
	view := newMarketView(&market, rake)
	return &view, nil
}

// ListMarkets returns markets matching the filter, soonest closure first,
// with odds for the given rake.
func (s *MarketService) ListMarkets(ctx context.Context, filter MarketFilter, rake decimal.Decimal) ([]MarketView, error) {
	status := filter.Status
	if status == "" {
		status = models.MarketStatusOpen
	}

	query := s.db.WithContext(ctx).Where("status = ?", status)
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Term != "" {
		query = query.Where("term = ?", filter.Term)
	}

	var markets []models.Market
	if err := query.Order("closure_time ASC").Find(&markets).Error; err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}

	views := make([]MarketView, 0, len(markets))
	for i := range markets {
		views = append(views, newMarketView(&markets[i], rake))
	}
	return views, nil
}

// AdvanceStatus performs a guarded lifecycle transition and publishes the new
// status. Advancing to the current status is a no-op; anything off the
// transition graph is rejected, so a status never regresses.
func (s *MarketService) AdvanceStatus(ctx context.Context, marketID uuid.UUID, next models.MarketStatus) (*models.Market, error) {
	var market models.Market
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).First(&market, "id = ?", marketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMarketNotFound
			}
			return fmt.Errorf("failed to lock market: %w", err)
		}

		if market.Status == next {
			return nil
		}
		if !market.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, market.Status, next)
		}

		if err := tx.Model(&models.Market{}).
			Where("id = ?", marketID).
			Update("status", next).Error; err != nil {
			return err
		}
		market.Status = next
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed && s.pub != nil {
		s.pub.PublishMarketStatus(marketID.String(), string(next))
	}
	return &market, nil
}

// UpdateMarket applies a partial admin edit and re-arms the scheduler when a
// deadline moved.
func (s *MarketService) UpdateMarket(ctx context.Context, marketID uuid.UUID, req *models.UpdateMarketRequest) (*models.Market, error) {
	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.ClosureTimestamp != nil {
		updates["closure_time"] = time.UnixMilli(*req.ClosureTimestamp)
	}
	if req.ResolutionTimestamp != nil {
		updates["resolution_time"] = time.UnixMilli(*req.ResolutionTimestamp)
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.Term != nil {
		updates["term"] = *req.Term
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.Market{}).Where("id = ?", marketID).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update market: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrMarketNotFound
		}
	}

	var market models.Market
	if err := s.db.WithContext(ctx).First(&market, "id = ?", marketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMarketNotFound
		}
		return nil, err
	}

	// A moved deadline invalidates any armed timers.
	if s.sched != nil && (req.ClosureTimestamp != nil || req.ResolutionTimestamp != nil) {
		s.sched.Cancel(marketID.String())
		if !market.Status.IsTerminal() {
			s.sched.ScheduleMarket(&market)
		}
	}

	return &market, nil
}

// DeleteMarket removes a market and cascades to its wagers. Timers are
// cancelled first so nothing fires against a deleted market.
func (s *MarketService) DeleteMarket(ctx context.Context, marketID uuid.UUID) error {
	if s.sched != nil {
		s.sched.Cancel(marketID.String())
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("market_id = ?", marketID).Delete(&models.Wager{}).Error; err != nil {
			return fmt.Errorf("failed to delete wagers: %w", err)
		}
		res := tx.Where("id = ?", marketID).Delete(&models.Market{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete market: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrMarketNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.pub != nil {
		s.pub.PublishMarketDeleted(marketID.String())
	}
	log.Printf("[Market] Deleted market %s (wagers cascaded)", marketID)
	return nil
}

func newMarketView(m *models.Market, rake decimal.Decimal) MarketView {
	pool := totalisator.Pool{Yes: m.PoolYes, No: m.PoolNo}

	probYes := decimal.NewFromFloat(0.5)
	probNo := decimal.NewFromFloat(0.5)
	if total := pool.Total(); !total.IsZero() {
		probYes = pool.Yes.Div(total)
		probNo = pool.No.Div(total)
	}

	return MarketView{
		Market:    *m,
		TotalPool: pool.Total(),
		Odds: models.OddsPair{
			Yes: totalisator.Odds(pool, "yes", rake),
			No:  totalisator.Odds(pool, "no", rake),
		},
		Probabilities: models.OddsPair{
			Yes: probYes,
			No:  probNo,
		},
	}
}
