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

// SettlementNotifier receives the post-commit hand-off of settled wagers,
// grouped per merchant. Implemented by the webhook notifier; delivery is
// best-effort and never affects settlement.
type SettlementNotifier interface {
	NotifySettlement(merchantID, marketID uuid.UUID, marketStatus string, outcome string, wagers []models.Wager)
}

// SettlementSummary reports the result of settling or voiding a market.
type SettlementSummary struct {
	MarketID    uuid.UUID           `json:"market_id"`
	Status      models.MarketStatus `json:"status"`
	Outcome     string              `json:"outcome,omitempty"`
	WagerCount  int                 `json:"wager_count"`
	WinnerCount int                 `json:"winner_count"`
	TotalPayout decimal.Decimal     `json:"total_payout"`
}

// SettlementService finalizes market outcomes: it writes every wager's payout
// exactly once, transitions the market to a terminal state, and hands settled
// wagers to the notifier after commit.
type SettlementService struct {
	db       *gorm.DB
	notifier SettlementNotifier
	pub      EventPublisher
}

func NewSettlementService(db *gorm.DB, notifier SettlementNotifier, pub EventPublisher) *SettlementService {
	return &SettlementService{
		db:       db,
		notifier: notifier,
		pub:      pub,
	}
}

// SettleMarket computes and persists payouts for every wager on the market
// against the final pool, then marks the market SETTLED. Manual (admin) and
// automatic (Oracle) settlement both land here; only the caller differs.
// Any error rolls back the whole settlement so a retry can be attempted.
func (s *SettlementService) SettleMarket(ctx context.Context, marketID uuid.UUID, outcome models.Selection) (*SettlementSummary, error) {
	if outcome != models.SelectionYes && outcome != models.SelectionNo {
		return nil, ErrInvalidSelection
	}

	summary := SettlementSummary{MarketID: marketID, Status: models.MarketStatusSettled, Outcome: string(outcome)}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var market models.Market
		if err := lockForUpdate(tx).First(&market, "id = ?", marketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMarketNotFound
			}
			return fmt.Errorf("failed to lock market: %w", err)
		}
		if market.Status == models.MarketStatusSettled {
			return ErrAlreadySettled
		}
		if market.Status.IsTerminal() {
			return fmt.Errorf("%w (status: %s)", ErrMarketTerminal, market.Status)
		}
		// SETTLED is only reachable from RESOLVING; a DISPUTED market must
		// re-enter RESOLVING first, and non-resolving markets advance through
		// the lifecycle before settling.
		if !market.Status.CanTransitionTo(models.MarketStatusSettled) {
			return fmt.Errorf("%w (%s -> %s)", ErrInvalidTransition, market.Status, models.MarketStatusSettled)
		}

		var wagers []models.Wager
		if err := tx.Where("market_id = ?", marketID).Find(&wagers).Error; err != nil {
			return fmt.Errorf("failed to fetch wagers: %w", err)
		}

		rakes, err := s.merchantRakes(tx, wagers)
		if err != nil {
			return err
		}

		finalPool := totalisator.Pool{Yes: market.PoolYes, No: market.PoolNo}
		now := time.Now()

		for i := range wagers {
			wager := &wagers[i]

			payout := decimal.Zero
			if wager.Selection == outcome {
				rake, ok := rakes[wager.MerchantID]
				if !ok {
					rake = totalisator.PlatformRake
				}
				payout = totalisator.PotentialPayout(wager.Stake, finalPool, string(outcome), rake)
				summary.WinnerCount++
			}

			err := tx.Model(&models.Wager{}).
				Where("id = ?", wager.ID).
				Updates(map[string]interface{}{
					"payout":     payout,
					"status":     models.WagerStatusSettled,
					"settled_at": now,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to write payout for wager %s: %w", wager.ID, err)
			}

			summary.TotalPayout = summary.TotalPayout.Add(payout)
		}
		summary.WagerCount = len(wagers)

		return tx.Model(&models.Market{}).
			Where("id = ?", marketID).
			Updates(map[string]interface{}{
				"status":     models.MarketStatusSettled,
				"outcome":    outcome,
				"settled_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Settlement] Market %s settled as %q: %d wagers, %d winners, total payout %s",
		marketID, outcome, summary.WagerCount, summary.WinnerCount, summary.TotalPayout)

	s.dispatchNotifications(ctx, marketID, models.MarketStatusSettled, string(outcome))
	return &summary, nil
}

// VoidMarket cancels a market before resolution: every wager's payout is set
// to its stake (a full, selection-independent refund) and the market becomes
// VOIDED.
func (s *SettlementService) VoidMarket(ctx context.Context, marketID uuid.UUID) (*SettlementSummary, error) {
	summary := SettlementSummary{MarketID: marketID, Status: models.MarketStatusVoided}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var market models.Market
		if err := lockForUpdate(tx).First(&market, "id = ?", marketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMarketNotFound
			}
			return fmt.Errorf("failed to lock market: %w", err)
		}
		if market.Status.IsTerminal() {
			return fmt.Errorf("%w (status: %s)", ErrMarketTerminal, market.Status)
		}
		// Rules out voiding a DISPUTED market directly; disputes resolve
		// through RESOLVING.
		if !market.Status.CanTransitionTo(models.MarketStatusVoided) {
			return fmt.Errorf("%w (%s -> %s)", ErrInvalidTransition, market.Status, models.MarketStatusVoided)
		}

		var wagers []models.Wager
		if err := tx.Where("market_id = ?", marketID).Find(&wagers).Error; err != nil {
			return fmt.Errorf("failed to fetch wagers: %w", err)
		}

		now := time.Now()
		for i := range wagers {
			wager := &wagers[i]
			err := tx.Model(&models.Wager{}).
				Where("id = ?", wager.ID).
				Updates(map[string]interface{}{
					"payout":     wager.Stake,
					"status":     models.WagerStatusRefunded,
					"settled_at": now,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to refund wager %s: %w", wager.ID, err)
			}
			summary.TotalPayout = summary.TotalPayout.Add(wager.Stake)
		}
		summary.WagerCount = len(wagers)

		return tx.Model(&models.Market{}).
			Where("id = ?", marketID).
			Updates(map[string]interface{}{
				"status":     models.MarketStatusVoided,
				"settled_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Settlement] Market %s voided: %d wagers refunded, total %s",
		marketID, summary.WagerCount, summary.TotalPayout)

	s.dispatchNotifications(ctx, marketID, models.MarketStatusVoided, "")
	return &summary, nil
}

// merchantRakes fetches rake configs for the distinct merchants behind a
// wager set in ONE bulk query. Per-wager lookups are an N+1 pattern that must
// not occur regardless of wager volume.
func (s *SettlementService) merchantRakes(tx *gorm.DB, wagers []models.Wager) (map[uuid.UUID]decimal.Decimal, error) {
	rakes := make(map[uuid.UUID]decimal.Decimal)
	if len(wagers) == 0 {
		return rakes, nil
	}

	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0, len(wagers))
	for i := range wagers {
		if !seen[wagers[i].MerchantID] {
			seen[wagers[i].MerchantID] = true
			ids = append(ids, wagers[i].MerchantID)
		}
	}

	var merchants []models.Merchant
	if err := tx.Select("id", "default_rake").Where("id IN ?", ids).Find(&merchants).Error; err != nil {
		return nil, fmt.Errorf("failed to bulk-fetch merchant rakes: %w", err)
	}
	for i := range merchants {
		rakes[merchants[i].ID] = merchants[i].DefaultRake
	}
	return rakes, nil
}

// dispatchNotifications re-reads the settled wagers outside the settlement
// transaction, groups them by merchant, and hands each group to the notifier.
// Failures here are logged by the notifier and never reach the settlement
// caller.
func (s *SettlementService) dispatchNotifications(ctx context.Context, marketID uuid.UUID, status models.MarketStatus, outcome string) {
	if s.pub != nil {
		s.pub.PublishMarketStatus(marketID.String(), string(status))
	}
	if s.notifier == nil {
		return
	}

	var wagers []models.Wager
	if err := s.db.WithContext(ctx).Where("market_id = ?", marketID).Find(&wagers).Error; err != nil {
		log.Printf("[Settlement] Failed to re-read wagers for notification on market %s: %v", marketID, err)
		return
	}

	byMerchant := make(map[uuid.UUID][]models.Wager)
	for i := range wagers {
		byMerchant[wagers[i].MerchantID] = append(byMerchant[wagers[i].MerchantID], wagers[i])
	}
	for merchantID, group := range byMerchant {
		s.notifier.NotifySettlement(merchantID, marketID, string(status), outcome, group)
	}
}
