package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketStatus is the lifecycle state of a market. Status only ever advances
// along the transition graph; it never regresses.
type MarketStatus string

const (
	MarketStatusPending   MarketStatus = "PENDING"
	MarketStatusOpen      MarketStatus = "OPEN"
	MarketStatusClosed    MarketStatus = "CLOSED"
	MarketStatusResolving MarketStatus = "RESOLVING"
	MarketStatusSettled   MarketStatus = "SETTLED"
	MarketStatusVoided    MarketStatus = "VOIDED"
	MarketStatusDisputed  MarketStatus = "DISPUTED"
)

// marketTransitions encodes the allowed lifecycle graph.
// DISPUTED is a recoverable dead-end: it can only re-enter RESOLVING.
var marketTransitions = map[MarketStatus][]MarketStatus{
	MarketStatusPending:   {MarketStatusOpen, MarketStatusClosed, MarketStatusVoided},
	MarketStatusOpen:      {MarketStatusClosed, MarketStatusResolving, MarketStatusVoided},
	MarketStatusClosed:    {MarketStatusResolving, MarketStatusVoided},
	MarketStatusResolving: {MarketStatusSettled, MarketStatusVoided, MarketStatusDisputed},
	MarketStatusDisputed:  {MarketStatusResolving},
}

// CanTransitionTo reports whether moving from s to next is a legal advance.
func (s MarketStatus) CanTransitionTo(next MarketStatus) bool {
	for _, allowed := range marketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status is final. SETTLED and VOIDED never
// change again.
func (s MarketStatus) IsTerminal() bool {
	return s == MarketStatusSettled || s == MarketStatusVoided
}

// Market represents a binary prediction market backed by a pari-mutuel pool.
type Market struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Title           string          `gorm:"size:500;not null" json:"title"`
	Category        string          `gorm:"size:50;index" json:"category"`
	Term            string          `gorm:"size:50;index" json:"term"`
	Status          MarketStatus    `gorm:"size:20;not null;default:OPEN;index" json:"status"`
	ClosureTime     time.Time       `gorm:"not null;index" json:"closure_timestamp"`
	ResolutionTime  time.Time       `gorm:"not null;index" json:"resolution_timestamp"`
	PoolYes         decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"pool_yes"`
	PoolNo          decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"pool_no"`
	Volume24h       decimal.Decimal `gorm:"column:volume_24h;type:decimal(15,2);not null" json:"volume_24h"`
	Outcome         *Selection      `gorm:"size:3" json:"outcome,omitempty"`
	SourceOfTruth   string          `gorm:"type:text" json:"source_of_truth"`
	ConfidenceScore float64         `json:"confidence_score"`
	CreatedAt       time.Time       `json:"created_at"`
	SettledAt       *time.Time      `json:"settled_at,omitempty"`
}

// TableName specifies the table name for Market model
func (Market) TableName() string {
	return "markets"
}

// TotalPool is always derived from the two sides; it is never stored as an
// independent source of truth.
func (m *Market) TotalPool() decimal.Decimal {
	return m.PoolYes.Add(m.PoolNo)
}

// CreateMarketRequest is the payload for market creation (admin or Scout).
type CreateMarketRequest struct {
	Title               string          `json:"title" binding:"required"`
	DurationSeconds     int64           `json:"durationSeconds" binding:"required"`
	InitYes             decimal.Decimal `json:"initYes"`
	InitNo              decimal.Decimal `json:"initNo"`
	SourceOfTruth       string          `json:"sourceOfTruth"`
	Confidence          float64         `json:"confidence"`
	ResolutionTimestamp *int64          `json:"resolutionTimestamp"` // unix ms, defaults to closure + 1h
	Category            string          `json:"category"`
	Term                string          `json:"term"`
}

// UpdateMarketRequest carries optional admin edits; nil fields are untouched.
type UpdateMarketRequest struct {
	Title               *string `json:"title"`
	ClosureTimestamp    *int64  `json:"closure_timestamp"`
	ResolutionTimestamp *int64  `json:"resolution_timestamp"`
	Category            *string `json:"category"`
	Term                *string `json:"term"`
}
