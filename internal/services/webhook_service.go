package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wager-exchange/internal/models"
)

const (
	webhookEventSettled = "market.settled"
	webhookUserAgent    = "WagerExchange-B2B-Gateway"

	// responseBodyLimit caps how much of a merchant's response is audited.
	responseBodyLimit = 1000

	webhookQueueSize = 256
)

// webhookWager is one wager entry inside a settlement payload.
type webhookWager struct {
	WagerID uuid.UUID       `json:"wagerId"`
	UserID  string          `json:"userId"`
	Won     bool            `json:"won"`
	Payout  decimal.Decimal `json:"payout"`
}

// webhookPayload is the body delivered to a merchant webhook.
type webhookPayload struct {
	Event        string         `json:"event"`
	MarketID     uuid.UUID      `json:"marketId"`
	MarketStatus string         `json:"marketStatus"`
	Outcome      string         `json:"outcome"`
	Timestamp    int64          `json:"timestamp"`
	Wagers       []webhookWager `json:"wagers"`
}

type webhookJob struct {
	merchantID uuid.UUID
	marketID   uuid.UUID
	status     string
	outcome    string
	wagers     []models.Wager
}

// WebhookService delivers settlement results to merchants: best-effort,
// signed, audited. Deliveries run on a dedicated worker fed by a queue so a
// slow merchant endpoint never blocks a settlement caller. No retries; every
// attempt writes exactly one WebhookLog row.
type WebhookService struct {
	db     *gorm.DB
	client *http.Client

	queue  chan webhookJob
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func NewWebhookService(db *gorm.DB, timeout time.Duration) *WebhookService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &WebhookService{
		db:     db,
		client: &http.Client{Timeout: timeout},
		queue:  make(chan webhookJob, webhookQueueSize),
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

// NotifySettlement enqueues a settlement notification for one merchant. If
// the queue is full the notification is dropped and logged; settlement
// correctness never depends on delivery.
func (s *WebhookService) NotifySettlement(merchantID, marketID uuid.UUID, marketStatus, outcome string, wagers []models.Wager) {
	job := webhookJob{
		merchantID: merchantID,
		marketID:   marketID,
		status:     marketStatus,
		outcome:    outcome,
		wagers:     wagers,
	}

	// The closed flag is checked under the same lock Shutdown holds while
	// flipping it, so no enqueue can race the queue close.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- job:
	default:
		log.Printf("[Webhook] Queue full, dropping settlement notification for merchant %s market %s",
			merchantID, marketID)
	}
}

// Shutdown stops accepting notifications and drains in-flight deliveries.
// Safe to call concurrently with NotifySettlement; late notifications are
// dropped. Idempotent.
func (s *WebhookService) Shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		// No producer can enqueue past this point, so the close is safe.
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *WebhookService) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		s.deliver(job)
	}
}

// deliver performs one delivery attempt and always writes the audit row.
func (s *WebhookService) deliver(job webhookJob) {
	var merchant models.Merchant
	if err := s.db.First(&merchant, "id = ?", job.merchantID).Error; err != nil {
		log.Printf("[Webhook] Merchant %s lookup failed: %v", job.merchantID, err)
		return
	}
	if merchant.WebhookURL == "" {
		return
	}

	entries := make([]webhookWager, 0, len(job.wagers))
	for i := range job.wagers {
		w := &job.wagers[i]
		entries = append(entries, webhookWager{
			WagerID: w.ID,
			UserID:  w.ExternalUserID,
			Won:     job.outcome != "" && string(w.Selection) == job.outcome,
			Payout:  w.Payout,
		})
	}

	payload := webhookPayload{
		Event:        webhookEventSettled,
		MarketID:     job.marketID,
		MarketStatus: job.status,
		Outcome:      job.outcome,
		Timestamp:    time.Now().UnixMilli(),
		Wagers:       entries,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Webhook] Failed to marshal payload for merchant %s: %v", merchant.ID, err)
		return
	}

	// HMAC-SHA256 over the exact serialized body, keyed by the merchant's
	// raw API key.
	mac := hmac.New(sha256.New, []byte(merchant.RawAPIKey))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	log.Printf("[Webhook] Delivering settlement to %s for merchant %s...", merchant.WebhookURL, merchant.ID)

	var (
		responseStatus *int
		responseBody   *string
		errorMessage   *string
	)

	req, err := http.NewRequest(http.MethodPost, merchant.WebhookURL, bytes.NewReader(body))
	if err != nil {
		msg := err.Error()
		errorMessage = &msg
	} else {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", signature)
		req.Header.Set("X-Merchant-API-Key", merchant.RawAPIKey)
		req.Header.Set("User-Agent", webhookUserAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			msg := err.Error()
			errorMessage = &msg
			log.Printf("[Webhook] Delivery to merchant %s failed: %v", merchant.ID, err)
		} else {
			responseStatus = &resp.StatusCode
			data, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
			resp.Body.Close()
			respStr := string(data)
			responseBody = &respStr

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				msg := "non-2xx response: " + resp.Status
				errorMessage = &msg
				log.Printf("[Webhook] Merchant %s responded %s", merchant.ID, resp.Status)
			} else {
				log.Printf("[Webhook] Delivered successfully to merchant %s", merchant.ID)
			}
		}
	}

	logRow := models.WebhookLog{
		ID:             uuid.New(),
		MerchantID:     merchant.ID,
		MarketID:       job.marketID,
		EventType:      webhookEventSettled,
		URL:            merchant.WebhookURL,
		Payload:        string(body),
		ResponseStatus: responseStatus,
		ResponseBody:   responseBody,
		ErrorMessage:   errorMessage,
		CreatedAt:      time.Now(),
	}
	if err := s.db.Create(&logRow).Error; err != nil {
		log.Printf("[Webhook] Failed to write audit log for merchant %s: %v", merchant.ID, err)
	}
}
