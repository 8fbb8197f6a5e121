package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wager-exchange/internal/models"
	"wager-exchange/internal/totalisator"
)

// MerchantService handles merchant onboarding, config edits and balance
// adjustments (the deposit/withdrawal surface).
type MerchantService struct {
	db     *gorm.DB
	ledger *LedgerService
}

func NewMerchantService(db *gorm.DB, ledger *LedgerService) *MerchantService {
	return &MerchantService{db: db, ledger: ledger}
}

// CreateMerchant provisions a merchant and returns it together with the raw
// API key. The raw key is shown to the caller exactly once at onboarding.
func (s *MerchantService) CreateMerchant(ctx context.Context, req *models.CreateMerchantRequest) (*models.Merchant, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("failed to generate API key: %w", err)
	}
	apiKey := base58.Encode(raw)
	hash := sha256.Sum256([]byte(apiKey))

	rake := totalisator.PlatformRake
	if req.DefaultRake != nil {
		rake = *req.DefaultRake
	}
	if rake.IsNegative() || rake.GreaterThan(decimal.NewFromInt(1)) {
		return nil, "", fmt.Errorf("default_rake must be within [0,1]")
	}

	balance := decimal.Zero
	if req.Balance != nil {
		if req.Balance.IsNegative() {
			return nil, "", fmt.Errorf("balance cannot be negative")
		}
		balance = *req.Balance
	}

	merchant := models.Merchant{
		ID:          uuid.New(),
		APIKeyHash:  hex.EncodeToString(hash[:]),
		RawAPIKey:   apiKey,
		Name:        req.Name,
		DefaultRake: rake,
		AllowedIPs:  req.AllowedIPs,
		WebhookURL:  req.WebhookURL,
		Balance:     balance,
	}
	if err := s.db.WithContext(ctx).Create(&merchant).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create merchant: %w", err)
	}

	log.Printf("[Merchant] Provisioned merchant %s (%q)", merchant.ID, merchant.Name)
	return &merchant, apiKey, nil
}

// AuthenticateByKey resolves a merchant from a raw API key via its hash.
func (s *MerchantService) AuthenticateByKey(ctx context.Context, apiKey string) (*models.Merchant, error) {
	hash := sha256.Sum256([]byte(apiKey))

	var merchant models.Merchant
	err := s.db.WithContext(ctx).
		Where("api_key_hash = ?", hex.EncodeToString(hash[:])).
		First(&merchant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMerchantNotFound
		}
		return nil, fmt.Errorf("merchant lookup failed: %w", err)
	}
	return &merchant, nil
}

// GetMerchant fetches a merchant by id.
func (s *MerchantService) GetMerchant(ctx context.Context, merchantID uuid.UUID) (*models.Merchant, error) {
	var merchant models.Merchant
	err := s.db.WithContext(ctx).First(&merchant, "id = ?", merchantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMerchantNotFound
		}
		return nil, fmt.Errorf("merchant lookup failed: %w", err)
	}
	return &merchant, nil
}

// ListMerchants returns all merchants, newest first.
func (s *MerchantService) ListMerchants(ctx context.Context) ([]models.Merchant, error) {
	var merchants []models.Merchant
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&merchants).Error; err != nil {
		return nil, fmt.Errorf("failed to list merchants: %w", err)
	}
	return merchants, nil
}

// UpdateMerchant applies a partial config edit. Fields are validated at write
// time.
func (s *MerchantService) UpdateMerchant(ctx context.Context, merchantID uuid.UUID, req *models.UpdateMerchantRequest) (*models.Merchant, error) {
	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.DefaultRake != nil {
		if req.DefaultRake.IsNegative() || req.DefaultRake.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("default_rake must be within [0,1]")
		}
		updates["default_rake"] = *req.DefaultRake
	}
	if req.WebhookURL != nil {
		updates["webhook_url"] = *req.WebhookURL
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.Merchant{}).Where("id = ?", merchantID).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update merchant: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, ErrMerchantNotFound
		}
	}

	// AllowedIPs goes through the model so the JSON serializer applies.
	if req.AllowedIPs != nil {
		err := s.db.WithContext(ctx).Model(&models.Merchant{ID: merchantID}).
			Update("allowed_ips", *req.AllowedIPs).Error
		if err != nil {
			return nil, fmt.Errorf("failed to update allowed IPs: %w", err)
		}
	}

	return s.GetMerchant(ctx, merchantID)
}

// DeleteMerchant removes a merchant and cascades to its wagers.
func (s *MerchantService) DeleteMerchant(ctx context.Context, merchantID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("merchant_id = ?", merchantID).Delete(&models.Wager{}).Error; err != nil {
			return fmt.Errorf("failed to delete wagers: %w", err)
		}
		res := tx.Where("id = ?", merchantID).Delete(&models.Merchant{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete merchant: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrMerchantNotFound
		}
		return nil
	})
}

// AdjustBalance deposits to or withdraws from a merchant balance, writing the
// matching ledger entry. Withdrawals are conditioned on sufficient funds.
func (s *MerchantService) AdjustBalance(ctx context.Context, merchantID uuid.UUID, amount decimal.Decimal, txType models.TransactionType) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}
	if txType != models.TransactionTypeDeposit && txType != models.TransactionTypeWithdrawal {
		return decimal.Zero, fmt.Errorf("unsupported adjustment type %q", txType)
	}

	var balanceAfter decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if txType == models.TransactionTypeDeposit {
			balanceAfter, err = s.ledger.Credit(tx, merchantID, amount, txType, nil, "Admin deposit")
		} else {
			balanceAfter, err = s.ledger.Debit(tx, merchantID, amount, txType, nil, "Admin withdrawal")
		}
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balanceAfter, nil
}
