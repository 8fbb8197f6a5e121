package services

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wager-exchange/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	// :memory: is unique per connection unless using cache=shared, so all
	// tests share one DB and clean their tables up front.
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Merchant{},
		&models.Market{},
		&models.Wager{},
		&models.Transaction{},
		&models.WebhookLog{},
	)
	if err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	db.Exec("DELETE FROM webhook_logs")
	db.Exec("DELETE FROM transactions")
	db.Exec("DELETE FROM wagers")
	db.Exec("DELETE FROM markets")
	db.Exec("DELETE FROM merchants")

	return db
}

func createTestMerchant(t *testing.T, db *gorm.DB, balance string) *models.Merchant {
	apiKey := uuid.NewString()
	hash := sha256.Sum256([]byte(apiKey))
	merchant := models.Merchant{
		ID:          uuid.New(),
		APIKeyHash:  hex.EncodeToString(hash[:]),
		RawAPIKey:   apiKey,
		Name:        "Test Merchant",
		DefaultRake: decimal.NewFromFloat(0.05),
		Balance:     mustDecimal(t, balance),
	}
	if err := db.Create(&merchant).Error; err != nil {
		t.Fatalf("failed to create merchant: %v", err)
	}
	return &merchant
}

func createTestMarket(t *testing.T, db *gorm.DB, status models.MarketStatus, poolYes, poolNo string) *models.Market {
	now := time.Now()
	market := models.Market{
		ID:             uuid.New(),
		Title:          "Will the test pass?",
		Status:         status,
		ClosureTime:    now.Add(1 * time.Hour),
		ResolutionTime: now.Add(2 * time.Hour),
		PoolYes:        mustDecimal(t, poolYes),
		PoolNo:         mustDecimal(t, poolNo),
		Volume24h:      decimal.Zero,
		CreatedAt:      now,
	}
	if err := db.Create(&market).Error; err != nil {
		t.Fatalf("failed to create market: %v", err)
	}
	return &market
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}
