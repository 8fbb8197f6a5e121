package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"wager-exchange/internal/auth"
	"wager-exchange/internal/services"
)

// AccountHandler serves the merchant's own balance and ledger views.
type AccountHandler struct {
	db     *gorm.DB
	ledger *services.LedgerService
}

func NewAccountHandler(db *gorm.DB, ledger *services.LedgerService) *AccountHandler {
	return &AccountHandler{db: db, ledger: ledger}
}

// GetBalance returns the caller's current balance
// GET /v1/balance
func (h *AccountHandler) GetBalance(c *gin.Context) {
	merchant, ok := auth.GetMerchant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"merchant_id": merchant.ID,
			"balance":     merchant.Balance,
		},
	})
}

// GetTransactions returns the caller's ledger entries, newest first
// GET /v1/transactions?limit=100
func (h *AccountHandler) GetTransactions(c *gin.Context) {
	merchant, ok := auth.GetMerchant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.ledger.ListTransactions(h.db, merchant.ID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entries,
		"count":   len(entries),
	})
}
