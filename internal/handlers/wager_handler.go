package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wager-exchange/internal/auth"
	"wager-exchange/internal/models"
	"wager-exchange/internal/services"
)

type WagerHandler struct {
	wagers *services.WagerService
}

func NewWagerHandler(wagers *services.WagerService) *WagerHandler {
	return &WagerHandler{wagers: wagers}
}

// PlaceWager accepts a stake on a market outcome. Replays of a previously
// accepted idempotency key return the stored receipt with 200 instead of 201.
// POST /v1/wager
func (h *WagerHandler) PlaceWager(c *gin.Context) {
	merchant, ok := auth.GetMerchant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req models.PlaceWagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	idempotencyKey := c.GetHeader("X-Idempotency-Key")

	receipt, err := h.wagers.PlaceWager(c.Request.Context(), merchant, &req, idempotencyKey)
	if err != nil {
		respondError(c, err)
		return
	}

	if receipt.Replayed {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Idempotent response: Wager already processed",
			"data":    receipt,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    receipt,
	})
}

// GetWager returns one of the caller's wagers
// GET /v1/wagers/:id
func (h *WagerHandler) GetWager(c *gin.Context) {
	merchant, ok := auth.GetMerchant(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	wagerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid wager id"})
		return
	}

	wager, err := h.wagers.GetWager(c.Request.Context(), merchant.ID, wagerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    wager,
	})
}
