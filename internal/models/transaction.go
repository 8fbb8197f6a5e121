package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TransactionTypeWager      TransactionType = "WAGER"
	TransactionTypePayout     TransactionType = "PAYOUT"
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeRefund     TransactionType = "REFUND"
)

// Transaction is an append-only ledger entry. BalanceAfter snapshots the
// merchant balance at commit time so audits never need a replay.
type Transaction struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"merchant_id"`
	Type         TransactionType `gorm:"size:20;not null;index" json:"type"`
	Amount       decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"balance_after"`
	ReferenceID  *uuid.UUID      `gorm:"type:uuid;index" json:"reference_id,omitempty"`
	Description  string          `gorm:"type:text" json:"description,omitempty"`
	CreatedAt    time.Time       `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for Transaction model
func (Transaction) TableName() string {
	return "transactions"
}
