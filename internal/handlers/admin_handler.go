package handlers

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wager-exchange/internal/auth"
	"wager-exchange/internal/models"
	"wager-exchange/internal/services"
	"wager-exchange/internal/totalisator"
)

// AdminHandler serves the back-office API: merchant onboarding, market
// administration and operational reporting.
type AdminHandler struct {
	db          *gorm.DB
	markets     *services.MarketService
	settlements *services.SettlementService
	merchants   *services.MerchantService
	adminSecret string
}

func NewAdminHandler(
	db *gorm.DB,
	markets *services.MarketService,
	settlements *services.SettlementService,
	merchants *services.MerchantService,
	adminSecret string,
) *AdminHandler {
	return &AdminHandler{
		db:          db,
		markets:     markets,
		settlements: settlements,
		merchants:   merchants,
		adminSecret: adminSecret,
	}
}

// Login exchanges the shared admin secret for a session token
// POST /admin/login
func (h *AdminHandler) Login(c *gin.Context) {
	var req struct {
		Secret string `json:"secret" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.adminSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin secret"})
		return
	}

	token, err := auth.GenerateAdminToken()
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"token": token},
	})
}

// --- Merchants ---

// CreateMerchant provisions a merchant. The raw API key appears in this
// response only; afterwards the system holds it for signing but never
// serves it again.
// POST /admin/merchants
func (h *AdminHandler) CreateMerchant(c *gin.Context) {
	var req models.CreateMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	merchant, apiKey, err := h.merchants.CreateMerchant(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"merchant": merchant,
			"api_key":  apiKey,
		},
	})
}

// GetMerchants lists all merchants
// GET /admin/merchants
func (h *AdminHandler) GetMerchants(c *gin.Context) {
	merchants, err := h.merchants.ListMerchants(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    merchants,
		"count":   len(merchants),
	})
}

// GetMerchantByID returns one merchant
// GET /admin/merchants/:id
func (h *AdminHandler) GetMerchantByID(c *gin.Context) {
	merchantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid merchant id"})
		return
	}

	merchant, err := h.merchants.GetMerchant(c.Request.Context(), merchantID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    merchant,
	})
}

// UpdateMerchant applies a partial merchant config edit
// PUT /admin/merchants/:id
func (h *AdminHandler) UpdateMerchant(c *gin.Context) {
	merchantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid merchant id"})
		return
	}

	var req models.UpdateMerchantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	merchant, err := h.merchants.UpdateMerchant(c.Request.Context(), merchantID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    merchant,
	})
}

// DeleteMerchant removes a merchant and its wagers
// DELETE /admin/merchants/:id
func (h *AdminHandler) DeleteMerchant(c *gin.Context) {
	merchantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid merchant id"})
		return
	}

	if err := h.merchants.DeleteMerchant(c.Request.Context(), merchantID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Merchant deleted",
	})
}

// Deposit credits a merchant balance
// POST /admin/merchants/:id/deposit
func (h *AdminHandler) Deposit(c *gin.Context) {
	h.adjustBalance(c, models.TransactionTypeDeposit)
}

// Withdraw debits a merchant balance, rejecting overdrafts
// POST /admin/merchants/:id/withdraw
func (h *AdminHandler) Withdraw(c *gin.Context) {
	h.adjustBalance(c, models.TransactionTypeWithdrawal)
}

func (h *AdminHandler) adjustBalance(c *gin.Context, txType models.TransactionType) {
	merchantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid merchant id"})
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balance, err := h.merchants.AdjustBalance(c.Request.Context(), merchantID, req.Amount, txType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"merchant_id": merchantID,
			"balance":     balance,
		},
	})
}

// --- Markets ---

// CreateMarket opens a new market
// POST /admin/markets
// GetMarkets lists markets with odds computed under the platform rake
// GET /admin/markets?status=OPEN&category=esports&term=daily
func (h *AdminHandler) GetMarkets(c *gin.Context) {
	filter := services.MarketFilter{
		Status:   models.MarketStatus(c.Query("status")),
		Category: c.Query("category"),
		Term:     c.Query("term"),
	}

	views, err := h.markets.ListMarkets(c.Request.Context(), filter, totalisator.PlatformRake)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    views,
		"count":   len(views),
	})
}

func (h *AdminHandler) CreateMarket(c *gin.Context) {
	var req models.CreateMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	market, err := h.markets.CreateMarket(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    market,
	})
}

// UpdateMarket applies a partial market edit
// PUT /admin/markets/:id
func (h *AdminHandler) UpdateMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	var req models.UpdateMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	market, err := h.markets.UpdateMarket(c.Request.Context(), marketID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    market,
	})
}

// DeleteMarket removes a market and its wagers
// DELETE /admin/markets/:id
func (h *AdminHandler) DeleteMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	if err := h.markets.DeleteMarket(c.Request.Context(), marketID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Market deleted",
	})
}

// TransitionMarket forces a lifecycle transition, e.g. reopening a DISPUTED
// market for resolution
// POST /admin/markets/:id/status
func (h *AdminHandler) TransitionMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	var req struct {
		Status models.MarketStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	market, err := h.markets.AdvanceStatus(c.Request.Context(), marketID, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    market,
	})
}

// SettleMarket finalizes a market with the given outcome
// POST /admin/markets/:id/settle
func (h *AdminHandler) SettleMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	var req struct {
		Outcome string `json:"outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, ok := models.ParseSelection(req.Outcome)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": services.ErrInvalidSelection.Error()})
		return
	}

	summary, err := h.settlements.SettleMarket(c.Request.Context(), marketID, outcome)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summary,
	})
}

// VoidMarket refunds all wagers at stake value
// POST /admin/markets/:id/void
func (h *AdminHandler) VoidMarket(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	summary, err := h.settlements.VoidMarket(c.Request.Context(), marketID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summary,
	})
}

// --- Reporting ---

// GetPayoutSummary aggregates stakes and payouts per merchant for a market
// GET /admin/markets/:id/payouts
func (h *AdminHandler) GetPayoutSummary(c *gin.Context) {
	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	var market models.Market
	if err := h.db.First(&market, "id = ?", marketID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": services.ErrMarketNotFound.Error()})
			return
		}
		respondError(c, err)
		return
	}

	var rows []struct {
		MerchantID  uuid.UUID       `json:"merchant_id"`
		WagerCount  int64           `json:"wager_count"`
		TotalStaked decimal.Decimal `json:"total_staked"`
		TotalPayout decimal.Decimal `json:"total_payout"`
	}
	err = h.db.Model(&models.Wager{}).
		Select("merchant_id, COUNT(*) as wager_count, COALESCE(SUM(stake), 0) as total_staked, COALESCE(SUM(payout), 0) as total_payout").
		Where("market_id = ?", marketID).
		Group("merchant_id").
		Scan(&rows).Error
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"market_id":  marketID,
			"status":     market.Status,
			"outcome":    market.Outcome,
			"total_pool": market.TotalPool(),
			"merchants":  rows,
		},
	})
}

// GetWebhookLogs lists delivery audit rows, newest first
// GET /admin/webhook-logs?merchant_id=&market_id=&limit=100
func (h *AdminHandler) GetWebhookLogs(c *gin.Context) {
	query := h.db.Model(&models.WebhookLog{})

	if v := c.Query("merchant_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid merchant_id"})
			return
		}
		query = query.Where("merchant_id = ?", id)
	}
	if v := c.Query("market_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market_id"})
			return
		}
		query = query.Where("market_id = ?", id)
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []models.WebhookLog
	if err := query.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    logs,
		"count":   len(logs),
	})
}

// GetStats returns platform-wide counters for the back-office dashboard
// GET /admin/stats
func (h *AdminHandler) GetStats(c *gin.Context) {
	var merchantCount, wagerCount int64
	h.db.Model(&models.Merchant{}).Count(&merchantCount)
	h.db.Model(&models.Wager{}).Count(&wagerCount)

	var statusRows []struct {
		Status models.MarketStatus `json:"status"`
		Count  int64               `json:"count"`
	}
	h.db.Model(&models.Market{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&statusRows)

	var totals struct {
		TotalPool   decimal.Decimal
		TotalVolume decimal.Decimal
	}
	h.db.Model(&models.Market{}).
		Select("COALESCE(SUM(pool_yes + pool_no), 0) as total_pool, COALESCE(SUM(volume_24h), 0) as total_volume").
		Scan(&totals)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"merchants":         merchantCount,
			"wagers":            wagerCount,
			"markets_by_status": statusRows,
			"total_pool":        totals.TotalPool,
			"total_volume":      totals.TotalVolume,
		},
	})
}
