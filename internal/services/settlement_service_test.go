package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wager-exchange/internal/models"
)

func TestSettleMarketPaysWinnersDeterministically(t *testing.T) {
	db := setupTestDB(t)
	merchant := createTestMerchant(t, db, "0")
	market := createTestMarket(t, db, models.MarketStatusResolving, "100", "100")

	// Five winners with stake 10 each on yes, plus losing weight on no.
	var winners []uuid.UUID
	for i := 0; i < 5; i++ {
		w := models.Wager{
			ID:         uuid.New(),
			MerchantID: merchant.ID,
			MarketID:   market.ID,
			Selection:  models.SelectionYes,
			Stake:      mustDecimal(t, "10"),
			Status:     models.WagerStatusAccepted,
			CreatedAt:  time.Now(),
		}
		if err := db.Create(&w).Error; err != nil {
			t.Fatalf("failed to insert wager: %v", err)
		}
		winners = append(winners, w.ID)
	}
	loser := models.Wager{
		ID:         uuid.New(),
		MerchantID: merchant.ID,
		MarketID:   market.ID,
		Selection:  models.SelectionNo,
		Stake:      mustDecimal(t, "20"),
		Status:     models.WagerStatusAccepted,
		CreatedAt:  time.Now(),
	}
	if err := db.Create(&loser).Error; err != nil {
		t.Fatalf("failed to insert wager: %v", err)
	}

	svc := NewSettlementService(db, nil, nil)
	summary, err := svc.SettleMarket(context.Background(), market.ID, models.SelectionYes)
	if err != nil {
		t.Fatalf("SettleMarket failed: %v", err)
	}

	if summary.WagerCount != 6 || summary.WinnerCount != 5 {
		t.Errorf("expected 6 wagers / 5 winners, got %d / %d", summary.WagerCount, summary.WinnerCount)
	}

	// Each winner: 10 * (200 * 0.95) / 100 = 19.00 exactly.
	for _, id := range winners {
		var w models.Wager
		db.First(&w, "id = ?", id)
		if !w.Payout.Equal(mustDecimal(t, "19")) {
			t.Errorf("winner %s: expected payout 19, got %s", id, w.Payout)
		}
		if w.Status != models.WagerStatusSettled {
			t.Errorf("winner %s: expected status SETTLED, got %s", id, w.Status)
		}
		if w.SettledAt == nil {
			t.Errorf("winner %s: settled_at not written", id)
		}
	}

	var settledLoser models.Wager
	db.First(&settledLoser, "id = ?", loser.ID)
	if !settledLoser.Payout.IsZero() {
		t.Errorf("loser payout must be zero, got %s", settledLoser.Payout)
	}
	if settledLoser.Status != models.WagerStatusSettled {
		t.Errorf("loser must still be marked SETTLED, got %s", settledLoser.Status)
	}

	if !summary.TotalPayout.Equal(mustDecimal(t, "95")) {
		t.Errorf("expected total payout 95, got %s", summary.TotalPayout)
	}

	var settledMarket models.Market
	db.First(&settledMarket, "id = ?", market.ID)
	if settledMarket.Status != models.MarketStatusSettled {
		t.Errorf("expected market SETTLED, got %s", settledMarket.Status)
	}
	if settledMarket.Outcome == nil || *settledMarket.Outcome != models.SelectionYes {
		t.Error("market outcome not recorded")
	}

	// Settlement never touches merchant balances; payouts live on wagers.
	var updated models.Merchant
	db.First(&updated, "id = ?", merchant.ID)
	if !updated.Balance.IsZero() {
		t.Errorf("merchant balance must be untouched by settlement, got %s", updated.Balance)
	}
}

// sqlCaptureLogger records every executed statement so tests can assert on
// query counts.
type sqlCaptureLogger struct {
	gormlogger.Interface
	mu         sync.Mutex
	statements []string
}

func (l *sqlCaptureLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	sql, _ := fc()
	l.mu.Lock()
	l.statements = append(l.statements, sql)
	l.mu.Unlock()
}

func (l *sqlCaptureLogger) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.statements {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return n
}

func TestSettleMarketFetchesMerchantRakesInOneQuery(t *testing.T) {
	db := setupTestDB(t)
	market := createTestMarket(t, db, models.MarketStatusResolving, "0", "0")

	// Many wagers across several merchants.
	for m := 0; m < 4; m++ {
		merchant := createTestMerchant(t, db, "0")
		for i := 0; i < 10; i++ {
			w := models.Wager{
				ID:         uuid.New(),
				MerchantID: merchant.ID,
				MarketID:   market.ID,
				Selection:  models.SelectionYes,
				Stake:      mustDecimal(t, "5"),
				Status:     models.WagerStatusAccepted,
				CreatedAt:  time.Now(),
			}
			if err := db.Create(&w).Error; err != nil {
				t.Fatalf("failed to insert wager: %v", err)
			}
		}
	}
	db.Model(&models.Market{}).Where("id = ?", market.ID).Update("pool_yes", mustDecimal(t, "200"))

	capture := &sqlCaptureLogger{Interface: gormlogger.Default.LogMode(gormlogger.Silent)}
	traced := db.Session(&gorm.Session{Logger: capture})

	svc := NewSettlementService(traced, nil, nil)
	if _, err := svc.SettleMarket(context.Background(), market.ID, models.SelectionYes); err != nil {
		t.Fatalf("SettleMarket failed: %v", err)
	}

	if got := capture.count("FROM `merchants`"); got != 1 {
		t.Errorf("expected exactly 1 merchants query regardless of wager count, got %d", got)
	}
}

func TestSettleMarketRejectsTerminalStates(t *testing.T) {
	db := setupTestDB(t)
	settled := createTestMarket(t, db, models.MarketStatusSettled, "100", "100")
	voided := createTestMarket(t, db, models.MarketStatusVoided, "100", "100")

	svc := NewSettlementService(db, nil, nil)

	_, err := svc.SettleMarket(context.Background(), settled.ID, models.SelectionYes)
	if !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("expected ErrAlreadySettled, got %v", err)
	}

	_, err = svc.SettleMarket(context.Background(), voided.ID, models.SelectionYes)
	if !errors.Is(err, ErrMarketTerminal) {
		t.Errorf("expected ErrMarketTerminal, got %v", err)
	}

	_, err = svc.SettleMarket(context.Background(), settled.ID, models.Selection("draw"))
	if !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("expected ErrInvalidSelection for unknown outcome, got %v", err)
	}
}

func TestSettleMarketOnlyFromResolving(t *testing.T) {
	db := setupTestDB(t)
	svc := NewSettlementService(db, nil, nil)

	// SETTLED is only reachable from RESOLVING on the lifecycle graph.
	for _, status := range []models.MarketStatus{
		models.MarketStatusPending,
		models.MarketStatusOpen,
		models.MarketStatusClosed,
		models.MarketStatusDisputed,
	} {
		market := createTestMarket(t, db, status, "100", "100")
		_, err := svc.SettleMarket(context.Background(), market.ID, models.SelectionYes)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("settling from %s: expected ErrInvalidTransition, got %v", status, err)
		}

		var unchanged models.Market
		db.First(&unchanged, "id = ?", market.ID)
		if unchanged.Status != status {
			t.Errorf("rejected settlement moved status %s -> %s", status, unchanged.Status)
		}
	}
}

func TestVoidMarketRejectsDisputed(t *testing.T) {
	db := setupTestDB(t)
	market := createTestMarket(t, db, models.MarketStatusDisputed, "100", "100")

	svc := NewSettlementService(db, nil, nil)

	// A dispute resolves through RESOLVING; it cannot be voided directly.
	_, err := svc.VoidMarket(context.Background(), market.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestVoidMarketRefundsAtStakeValue(t *testing.T) {
	db := setupTestDB(t)
	merchant := createTestMerchant(t, db, "500")
	market := createTestMarket(t, db, models.MarketStatusOpen, "100", "100")

	w := models.Wager{
		ID:         uuid.New(),
		MerchantID: merchant.ID,
		MarketID:   market.ID,
		Selection:  models.SelectionNo,
		Stake:      mustDecimal(t, "42.50"),
		Status:     models.WagerStatusAccepted,
		CreatedAt:  time.Now(),
	}
	if err := db.Create(&w).Error; err != nil {
		t.Fatalf("failed to insert wager: %v", err)
	}

	svc := NewSettlementService(db, nil, nil)
	summary, err := svc.VoidMarket(context.Background(), market.ID)
	if err != nil {
		t.Fatalf("VoidMarket failed: %v", err)
	}
	if !summary.TotalPayout.Equal(mustDecimal(t, "42.50")) {
		t.Errorf("expected total refund 42.50, got %s", summary.TotalPayout)
	}

	var refunded models.Wager
	db.First(&refunded, "id = ?", w.ID)
	if !refunded.Payout.Equal(refunded.Stake) {
		t.Errorf("void refund must equal stake: payout %s stake %s", refunded.Payout, refunded.Stake)
	}
	if refunded.Status != models.WagerStatusRefunded {
		t.Errorf("expected status REFUNDED, got %s", refunded.Status)
	}

	var voidedMarket models.Market
	db.First(&voidedMarket, "id = ?", market.ID)
	if voidedMarket.Status != models.MarketStatusVoided {
		t.Errorf("expected market VOIDED, got %s", voidedMarket.Status)
	}

	// No ledger movement on void; refunds are reported, not paid out here.
	var txCount int64
	db.Model(&models.Transaction{}).Where("merchant_id = ?", merchant.ID).Count(&txCount)
	if txCount != 0 {
		t.Errorf("void must not write ledger entries, found %d", txCount)
	}
}

// recordingNotifier captures the post-commit hand-off for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []struct {
		merchantID uuid.UUID
		status     string
		outcome    string
		wagers     int
	}
}

func (n *recordingNotifier) NotifySettlement(merchantID, marketID uuid.UUID, marketStatus, outcome string, wagers []models.Wager) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, struct {
		merchantID uuid.UUID
		status     string
		outcome    string
		wagers     int
	}{merchantID, marketStatus, outcome, len(wagers)})
}

func TestSettlementNotifiesEachMerchantOnce(t *testing.T) {
	db := setupTestDB(t)
	market := createTestMarket(t, db, models.MarketStatusResolving, "60", "0")

	merchantA := createTestMerchant(t, db, "0")
	merchantB := createTestMerchant(t, db, "0")
	for _, m := range []uuid.UUID{merchantA.ID, merchantA.ID, merchantB.ID} {
		w := models.Wager{
			ID:         uuid.New(),
			MerchantID: m,
			MarketID:   market.ID,
			Selection:  models.SelectionYes,
			Stake:      mustDecimal(t, "20"),
			Status:     models.WagerStatusAccepted,
			CreatedAt:  time.Now(),
		}
		if err := db.Create(&w).Error; err != nil {
			t.Fatalf("failed to insert wager: %v", err)
		}
	}

	notifier := &recordingNotifier{}
	svc := NewSettlementService(db, notifier, nil)
	if _, err := svc.SettleMarket(context.Background(), market.ID, models.SelectionYes); err != nil {
		t.Fatalf("SettleMarket failed: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.calls) != 2 {
		t.Fatalf("expected one notification per merchant, got %d calls", len(notifier.calls))
	}
	for _, call := range notifier.calls {
		if call.outcome != "yes" || call.status != string(models.MarketStatusSettled) {
			t.Errorf("unexpected notification contents: %+v", call)
		}
		switch call.merchantID {
		case merchantA.ID:
			if call.wagers != 2 {
				t.Errorf("merchant A should receive 2 wagers, got %d", call.wagers)
			}
		case merchantB.ID:
			if call.wagers != 1 {
				t.Errorf("merchant B should receive 1 wager, got %d", call.wagers)
			}
		default:
			t.Errorf("notification for unknown merchant %s", call.merchantID)
		}
	}
}
