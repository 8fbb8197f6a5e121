package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Merchant is a partner integrating against the exchange. The API key is
// stored both hashed (for authentication lookups) and raw (webhook payload
// signing is keyed by the raw key).
type Merchant struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	APIKeyHash  string          `gorm:"size:64;uniqueIndex;not null" json:"-"`
	RawAPIKey   string          `gorm:"size:64;not null" json:"-"`
	Name        string          `gorm:"size:200;not null" json:"name"`
	DefaultRake decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"default_rake"`
	AllowedIPs  []string        `gorm:"serializer:json" json:"allowed_ips"`
	WebhookURL  string          `gorm:"size:500" json:"webhook_url"`
	Balance     decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"balance"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Merchant model
func (Merchant) TableName() string {
	return "merchants"
}

// CreateMerchantRequest is the admin payload for onboarding a merchant.
type CreateMerchantRequest struct {
	Name        string           `json:"name" binding:"required"`
	DefaultRake *decimal.Decimal `json:"default_rake"`
	AllowedIPs  []string         `json:"allowed_ips"`
	WebhookURL  string           `json:"webhook_url"`
	Balance     *decimal.Decimal `json:"balance"`
}

// UpdateMerchantRequest carries optional config edits; nil fields are
// untouched. Validation happens at write time, not at read time.
type UpdateMerchantRequest struct {
	Name        *string          `json:"name"`
	DefaultRake *decimal.Decimal `json:"default_rake"`
	AllowedIPs  *[]string        `json:"allowed_ips"`
	WebhookURL  *string          `json:"webhook_url"`
}
