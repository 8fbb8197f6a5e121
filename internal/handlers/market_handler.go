package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wager-exchange/internal/auth"
	"wager-exchange/internal/models"
	"wager-exchange/internal/services"
)

type MarketHandler struct {
	markets *services.MarketService
}

func NewMarketHandler(markets *services.MarketService) *MarketHandler {
	return &MarketHandler{markets: markets}
}

// GetMarkets returns markets with odds computed under the caller's rake.
// GET /v1/markets?status=OPEN&category=esports&term=daily
func (h *MarketHandler) GetMarkets(c *gin.Context) {
	merchant, ok := auth.GetMerchant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	filter := services.MarketFilter{
		Status:   models.MarketStatus(c.Query("status")),
		Category: c.Query("category"),
		Term:     c.Query("term"),
	}

	views, err := h.markets.ListMarkets(c.Request.Context(), filter, merchant.DefaultRake)
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

// GetMarketByID returns a single market projection
// GET /v1/markets/:id
func (h *MarketHandler) GetMarketByID(c *gin.Context) {
	merchant, ok := auth.GetMerchant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	marketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid market id"})
		return
	}

	view, err := h.markets.GetMarket(c.Request.Context(), marketID, merchant.DefaultRake)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    view,
	})
}
