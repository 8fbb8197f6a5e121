package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"wager-exchange/internal/services"
)

// respondError maps service errors to HTTP status codes. Unknown errors are
// logged and surfaced as a generic 500 so internals never leak to partners.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrMarketNotFound),
		errors.Is(err, services.ErrMerchantNotFound),
		errors.Is(err, services.ErrWagerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrAlreadySettled),
		errors.Is(err, services.ErrMarketTerminal),
		errors.Is(err, services.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case services.IsStateError(err),
		errors.Is(err, services.ErrInvalidSelection),
		errors.Is(err, services.ErrInvalidStake):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	default:
		log.Printf("[API] Internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
