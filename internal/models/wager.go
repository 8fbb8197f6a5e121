package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Selection is the side of a binary market a wager is placed on.
type Selection string

const (
	SelectionYes Selection = "yes"
	SelectionNo  Selection = "no"
)

// ParseSelection normalizes and validates a selection value.
func ParseSelection(s string) (Selection, bool) {
	switch Selection(strings.ToLower(strings.TrimSpace(s))) {
	case SelectionYes:
		return SelectionYes, true
	case SelectionNo:
		return SelectionNo, true
	}
	return "", false
}

// WagerStatus tracks a wager from acceptance to settlement.
type WagerStatus string

const (
	WagerStatusAccepted WagerStatus = "ACCEPTED"
	WagerStatusSettled  WagerStatus = "SETTLED"
	WagerStatusRefunded WagerStatus = "REFUNDED"
)

// Wager is a single stake placed by a merchant against a market pool.
// The payout field is written exactly once, during settlement.
type Wager struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID     uuid.UUID       `gorm:"type:uuid;not null;index;uniqueIndex:idx_wagers_merchant_idem,priority:1" json:"merchant_id"`
	MarketID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"market_id"`
	Selection      Selection       `gorm:"size:3;not null" json:"selection"`
	Stake          decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"stake"`
	IdempotencyKey *string         `gorm:"size:100;uniqueIndex:idx_wagers_merchant_idem,priority:2" json:"idempotency_key,omitempty"`
	Payout         decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"payout"`
	Status         WagerStatus     `gorm:"size:20;not null;default:ACCEPTED" json:"status"`
	ExternalUserID string          `gorm:"size:100" json:"external_user_id,omitempty"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
}

// TableName specifies the table name for Wager model
func (Wager) TableName() string {
	return "wagers"
}

// PlaceWagerRequest is the merchant-facing wager payload.
type PlaceWagerRequest struct {
	MarketID  uuid.UUID       `json:"marketId" binding:"required"`
	Selection string          `json:"selection" binding:"required"`
	Stake     decimal.Decimal `json:"stake" binding:"required"`
	UserID    string          `json:"userId"`
}

// WagerReceipt is returned from placement. On an idempotent replay it carries
// the original wager's identifiers and Replayed is true.
type WagerReceipt struct {
	WagerID   uuid.UUID       `json:"wagerId"`
	MarketID  uuid.UUID       `json:"marketId"`
	Selection Selection       `json:"selection"`
	Stake     decimal.Decimal `json:"stake"`
	Odds      OddsPair        `json:"odds"`
	Replayed  bool            `json:"-"`
}

// OddsPair is the two-sided odds quote pushed to subscribers and returned
// with placement receipts.
type OddsPair struct {
	Yes decimal.Decimal `json:"yes"`
	No  decimal.Decimal `json:"no"`
}
