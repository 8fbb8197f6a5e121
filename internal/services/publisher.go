package services

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wager-exchange/internal/models"
)

// EventPublisher pushes real-time market projections to subscribers.
// Delivery is fire-and-forget: a failed or missing publisher never affects
// the transaction that produced the event.
type EventPublisher interface {
	PublishOdds(marketID string, payload interface{})
	PublishMarketStatus(marketID string, status string)
	PublishMarketDeleted(marketID string)
}

// MarketScheduler is the timer registry a market service arms on creation
// and cancels on deletion. Implemented by the scheduler package.
type MarketScheduler interface {
	ScheduleMarket(m *models.Market)
	Cancel(marketID string)
}

// lockForUpdate acquires an exclusive row lock for the duration of the
// surrounding transaction. sqlite (used in tests) has no row locks and a
// single writer at a time, so the clause is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
