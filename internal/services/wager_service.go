package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wager-exchange/internal/models"
	"wager-exchange/internal/totalisator"
)

// CoolingOffWindow is the anti-sniping window before closure during which new
// wagers are refused.
const CoolingOffWindow = 5 * time.Minute

// maxPoolShare caps a single wager relative to the current pool so one stake
// cannot swing the implied odds past the safety threshold.
var maxPoolShare = decimal.NewFromFloat(0.5)

// WagerService validates and atomically executes stakes against market pools.
type WagerService struct {
	db     *gorm.DB
	ledger *LedgerService
	pub    EventPublisher
}

func NewWagerService(db *gorm.DB, ledger *LedgerService, pub EventPublisher) *WagerService {
	return &WagerService{
		db:     db,
		ledger: ledger,
		pub:    pub,
	}
}

// PlaceWager executes a single stake in one transaction: idempotency replay,
// market row lock, lifecycle and guard checks, conditional balance debit,
// wager insert, ledger entry, pool update. Two wagers on the same market
// serialize on the market row lock; wagers on different markets run in
// parallel.
func (s *WagerService) PlaceWager(
	ctx context.Context,
	merchant *models.Merchant,
	req *models.PlaceWagerRequest,
	idempotencyKey string,
) (*models.WagerReceipt, error) {
	// Validation errors reject before any transaction starts.
	selection, ok := models.ParseSelection(req.Selection)
	if !ok {
		return nil, ErrInvalidSelection
	}
	if !req.Stake.IsPositive() {
		return nil, ErrInvalidStake
	}

	var (
		receipt  models.WagerReceipt
		postPool totalisator.Pool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Idempotency replay: a retried request must be side-effect-free and
		// return the original wager's result.
		if idempotencyKey != "" {
			replay, err := s.lookupReplay(tx, merchant, idempotencyKey)
			if err != nil {
				return err
			}
			if replay != nil {
				receipt = *replay
				return nil
			}
		}

		var market models.Market
		if err := lockForUpdate(tx).First(&market, "id = ?", req.MarketID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMarketNotFound
			}
			return fmt.Errorf("failed to lock market: %w", err)
		}

		now := time.Now()
		if market.Status != models.MarketStatusOpen {
			return fmt.Errorf("%w (status: %s)", ErrMarketNotOpen, market.Status)
		}
		if !now.Before(market.ClosureTime) {
			return ErrBettingClosed
		}
		if !now.Before(market.ClosureTime.Add(-CoolingOffWindow)) {
			return ErrCoolingOff
		}

		// Liquidity guard, skipped only while the pool is still empty
		// (seed liquidity).
		totalPool := market.TotalPool()
		if !totalPool.IsZero() && req.Stake.GreaterThan(totalPool.Mul(maxPoolShare)) {
			return ErrWagerTooLarge
		}

		wager := models.Wager{
			ID:             uuid.New(),
			MerchantID:     merchant.ID,
			MarketID:       market.ID,
			Selection:      selection,
			Stake:          req.Stake,
			Payout:         decimal.Zero,
			Status:         models.WagerStatusAccepted,
			ExternalUserID: req.UserID,
			CreatedAt:      now,
		}
		if idempotencyKey != "" {
			key := idempotencyKey
			wager.IdempotencyKey = &key
		}

		// Debit first: zero rows affected means insufficient funds and the
		// whole transaction unwinds.
		if _, err := s.ledger.Debit(
			tx, merchant.ID, req.Stake,
			models.TransactionTypeWager, &wager.ID,
			fmt.Sprintf("Wager on market %s (%s)", market.ID, selection),
		); err != nil {
			return err
		}

		if err := tx.Create(&wager).Error; err != nil {
			return fmt.Errorf("failed to create wager: %w", err)
		}

		poolColumn := "pool_yes"
		if selection == models.SelectionNo {
			poolColumn = "pool_no"
		}
		err := tx.Model(&models.Market{}).
			Where("id = ?", market.ID).
			Updates(map[string]interface{}{
				poolColumn:   gorm.Expr(poolColumn+" + ?", req.Stake),
				"volume_24h": gorm.Expr("volume_24h + ?", req.Stake),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update market pool: %w", err)
		}

		postPool = totalisator.Pool{Yes: market.PoolYes, No: market.PoolNo}
		if selection == models.SelectionYes {
			postPool.Yes = postPool.Yes.Add(req.Stake)
		} else {
			postPool.No = postPool.No.Add(req.Stake)
		}

		receipt = models.WagerReceipt{
			WagerID:   wager.ID,
			MarketID:  market.ID,
			Selection: selection,
			Stake:     req.Stake,
			Odds: models.OddsPair{
				Yes: totalisator.Odds(postPool, "yes", merchant.DefaultRake),
				No:  totalisator.Odds(postPool, "no", merchant.DefaultRake),
			},
		}
		return nil
	})
	if err != nil {
		// Two in-flight requests with the same key can both miss the replay
		// lookup; the loser hits the unique index. At-most-once holds, so
		// resolve the loser to the winner's receipt instead of an error.
		if idempotencyKey != "" && isDuplicateKeyError(err) {
			replay, lookupErr := s.lookupReplay(s.db.WithContext(ctx), merchant, idempotencyKey)
			if lookupErr == nil && replay != nil {
				log.Printf("[Wager] Concurrent duplicate for merchant %s key %q -> wager %s",
					merchant.ID, idempotencyKey, replay.WagerID)
				return replay, nil
			}
		}
		return nil, err
	}

	// Post-commit: push the fresh odds to subscribers. Fire-and-forget; a
	// failed notification never rolls back the wager.
	if !receipt.Replayed && s.pub != nil {
		s.pub.PublishOdds(receipt.MarketID.String(), map[string]interface{}{
			"marketId": receipt.MarketID,
			"pool_data": map[string]decimal.Decimal{
				"yes": postPool.Yes,
				"no":  postPool.No,
			},
			"total_pool": postPool.Total(),
			"odds":       receipt.Odds,
		})
	}
	if receipt.Replayed {
		log.Printf("[Wager] Idempotent replay for merchant %s key %q -> wager %s",
			merchant.ID, idempotencyKey, receipt.WagerID)
	}

	return &receipt, nil
}

// lookupReplay finds a previously accepted wager for the merchant's
// idempotency key. The replayed receipt carries odds recomputed from the
// market's current pool so a retried client sees a usable quote, not zeros.
// Returns (nil, nil) when the key has not been seen.
func (s *WagerService) lookupReplay(tx *gorm.DB, merchant *models.Merchant, idempotencyKey string) (*models.WagerReceipt, error) {
	var existing models.Wager
	err := tx.Where("merchant_id = ? AND idempotency_key = ?", merchant.ID, idempotencyKey).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}

	var market models.Market
	if err := tx.First(&market, "id = ?", existing.MarketID).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch market for replay: %w", err)
	}

	pool := totalisator.Pool{Yes: market.PoolYes, No: market.PoolNo}
	return &models.WagerReceipt{
		WagerID:   existing.ID,
		MarketID:  existing.MarketID,
		Selection: existing.Selection,
		Stake:     existing.Stake,
		Odds: models.OddsPair{
			Yes: totalisator.Odds(pool, "yes", merchant.DefaultRake),
			No:  totalisator.Odds(pool, "no", merchant.DefaultRake),
		},
		Replayed: true,
	}, nil
}

// isDuplicateKeyError recognizes a unique index violation across the gorm
// translation layer, postgres and the sqlite driver used in tests.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// GetWager returns a single wager scoped to its owning merchant.
func (s *WagerService) GetWager(ctx context.Context, merchantID, wagerID uuid.UUID) (*models.Wager, error) {
	var wager models.Wager
	err := s.db.WithContext(ctx).
		Where("id = ? AND merchant_id = ?", wagerID, merchantID).
		First(&wager).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWagerNotFound
		}
		return nil, fmt.Errorf("failed to fetch wager: %w", err)
	}
	return &wager, nil
}
