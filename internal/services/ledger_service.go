package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wager-exchange/internal/models"
)

// LedgerService owns merchant balance mutations and the append-only
// transaction log. Every method operates on the caller's transaction handle
// so balance change and ledger entry always commit or roll back together.
type LedgerService struct{}

func NewLedgerService() *LedgerService {
	return &LedgerService{}
}

// Debit atomically decrements a merchant balance, conditioned on
// balance >= amount. Zero rows affected means insufficient funds. On success
// it appends a ledger entry carrying the post-debit balance snapshot and
// returns that balance.
func (s *LedgerService) Debit(
	tx *gorm.DB,
	merchantID uuid.UUID,
	amount decimal.Decimal,
	txType models.TransactionType,
	referenceID *uuid.UUID,
	description string,
) (decimal.Decimal, error) {
	res := tx.Model(&models.Merchant{}).
		Where("id = ? AND balance >= ?", merchantID, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return decimal.Zero, fmt.Errorf("failed to debit merchant %s: %w", merchantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, ErrInsufficientFunds
	}

	return s.appendEntry(tx, merchantID, amount, txType, referenceID, description)
}

// Credit increments a merchant balance and appends the matching ledger entry.
func (s *LedgerService) Credit(
	tx *gorm.DB,
	merchantID uuid.UUID,
	amount decimal.Decimal,
	txType models.TransactionType,
	referenceID *uuid.UUID,
	description string,
) (decimal.Decimal, error) {
	res := tx.Model(&models.Merchant{}).
		Where("id = ?", merchantID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return decimal.Zero, fmt.Errorf("failed to credit merchant %s: %w", merchantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, ErrMerchantNotFound
	}

	return s.appendEntry(tx, merchantID, amount, txType, referenceID, description)
}

func (s *LedgerService) appendEntry(
	tx *gorm.DB,
	merchantID uuid.UUID,
	amount decimal.Decimal,
	txType models.TransactionType,
	referenceID *uuid.UUID,
	description string,
) (decimal.Decimal, error) {
	// Re-read the post-update balance for the audit snapshot.
	var merchant models.Merchant
	if err := tx.Select("balance").First(&merchant, "id = ?", merchantID).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance snapshot: %w", err)
	}

	entry := models.Transaction{
		ID:           uuid.New(),
		MerchantID:   merchantID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: merchant.Balance,
		ReferenceID:  referenceID,
		Description:  description,
		CreatedAt:    time.Now(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return merchant.Balance, nil
}

// ListTransactions returns a merchant's ledger entries, newest first.
func (s *LedgerService) ListTransactions(db *gorm.DB, merchantID uuid.UUID, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.Transaction
	err := db.Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return entries, nil
}
