package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookLog is the audit record of one delivery attempt. Exactly one row is
// written per attempt, whether or not delivery succeeded.
type WebhookLog struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID     uuid.UUID `gorm:"type:uuid;not null;index" json:"merchant_id"`
	MarketID       uuid.UUID `gorm:"type:uuid;not null;index" json:"market_id"`
	EventType      string    `gorm:"size:50;not null" json:"event_type"`
	URL            string    `gorm:"size:500;not null" json:"url"`
	Payload        string    `gorm:"type:text" json:"payload"`
	ResponseStatus *int      `json:"response_status,omitempty"`
	ResponseBody   *string   `gorm:"type:text" json:"response_body,omitempty"`
	ErrorMessage   *string   `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for WebhookLog model
func (WebhookLog) TableName() string {
	return "webhook_logs"
}
