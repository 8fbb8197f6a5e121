package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"wager-exchange/internal/models"
)

// MerchantAuthenticator resolves a merchant from a raw API key.
// Implemented by the merchant service.
type MerchantAuthenticator interface {
	AuthenticateByKey(ctx context.Context, apiKey string) (*models.Merchant, error)
}

const merchantContextKey = "merchant"

// AdminMiddleware validates back-office JWT tokens and protects admin routes
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>" format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format. Expected: Bearer <token>",
			})
			c.Abort()
			return
		}

		claims, err := ValidateToken(parts[1])
		if err != nil {
			log.Printf("[Auth] Token validation failed: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		if claims.Role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Admin role required",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// MerchantMiddleware authenticates partner requests by API key, enforces the
// per-merchant IP allowlist, and verifies the request body signature on
// mutating methods.
func MerchantMiddleware(merchants MerchantAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-Merchant-API-Key")
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "X-Merchant-API-Key header required",
			})
			c.Abort()
			return
		}

		merchant, err := merchants.AuthenticateByKey(c.Request.Context(), apiKey)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		if len(merchant.AllowedIPs) > 0 && !ipAllowed(c.ClientIP(), merchant.AllowedIPs) {
			log.Printf("[Auth] Merchant %s rejected from IP %s", merchant.ID, c.ClientIP())
			c.JSON(http.StatusForbidden, gin.H{
				"error": "IP address not allowed",
			})
			c.Abort()
			return
		}

		if mutating(c.Request.Method) {
			if !verifySignature(c, merchant.RawAPIKey) {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid or missing request signature",
				})
				c.Abort()
				return
			}
		}

		c.Set(merchantContextKey, merchant)
		c.Next()
	}
}

// GetMerchant retrieves the authenticated merchant from the context
func GetMerchant(c *gin.Context) (*models.Merchant, bool) {
	v, exists := c.Get(merchantContextKey)
	if !exists {
		return nil, false
	}
	merchant, ok := v.(*models.Merchant)
	return merchant, ok
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func ipAllowed(clientIP string, allowed []string) bool {
	for _, ip := range allowed {
		if ip == clientIP {
			return true
		}
	}
	return false
}

// verifySignature checks the HMAC-SHA256 hex digest of the raw request body
// in X-Merchant-Signature, keyed by the merchant's API key. The body is put
// back so binding still works downstream.
func verifySignature(c *gin.Context, key string) bool {
	signature := c.GetHeader("X-Merchant-Signature")
	if signature == "" {
		return false
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return false
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
