package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"wager-exchange/internal/auth"
	"wager-exchange/internal/config"
	"wager-exchange/internal/database"
	"wager-exchange/internal/handlers"
	"wager-exchange/internal/scheduler"
	"wager-exchange/internal/services"
	"wager-exchange/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize JWT
	auth.InitJWT(cfg.App.JWTSecret)

	// Connect to database
	if err := database.Connect(cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db := database.GetDB()

	// WebSocket hub pushes odds and lifecycle events to subscribers
	hub := ws.NewHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	// Initialize services
	ledgerService := services.NewLedgerService()
	merchantService := services.NewMerchantService(db, ledgerService)
	wagerService := services.NewWagerService(db, ledgerService, hub)
	marketService := services.NewMarketService(db, hub)
	webhookService := services.NewWebhookService(db, cfg.Webhook.Timeout)
	settlementService := services.NewSettlementService(db, webhookService, hub)

	// Scheduler drives closure and resolution deadlines. The market service
	// needs it for timer re-arming, the scheduler needs the market service
	// for transitions, so wiring happens in two steps.
	sched := scheduler.New(db, marketService)
	marketService.AttachScheduler(sched)
	if err := sched.Init(); err != nil {
		log.Fatalf("Failed to initialize scheduler: %v", err)
	}

	// Initialize handlers
	marketHandler := handlers.NewMarketHandler(marketService)
	wagerHandler := handlers.NewWagerHandler(wagerService)
	accountHandler := handlers.NewAccountHandler(db, ledgerService)
	adminHandler := handlers.NewAdminHandler(db, marketService, settlementService, merchantService, cfg.App.AdminSecret)

	rateLimiter := auth.NewRateLimiter(cfg.App.RateLimitRPS, cfg.App.RateBurst)

	// Set up Gin router
	router := gin.Default()

	// CORS middleware
	allowedOrigins := []string{
		"http://localhost:3000",
		"http://localhost:5173",
	}
	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		allowedOrigins = append(allowedOrigins, frontendURL)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Merchant-API-Key", "X-Merchant-Signature", "X-Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Merchant API (API key + signature + rate limit)
	v1 := router.Group("/v1")
	v1.Use(auth.MerchantMiddleware(merchantService))
	v1.Use(rateLimiter.Middleware())
	{
		v1.GET("/markets", marketHandler.GetMarkets)
		v1.GET("/markets/:id", marketHandler.GetMarketByID)
		v1.POST("/wager", wagerHandler.PlaceWager)
		v1.GET("/wagers/:id", wagerHandler.GetWager)
		v1.GET("/balance", accountHandler.GetBalance)
		v1.GET("/transactions", accountHandler.GetTransactions)
		v1.GET("/ws", hub.ServeWS)
	}

	// Back-office login (public)
	router.POST("/admin/login", adminHandler.Login)

	// Admin routes (JWT protected)
	admin := router.Group("/admin")
	admin.Use(auth.AdminMiddleware())
	{
		admin.POST("/merchants", adminHandler.CreateMerchant)
		admin.GET("/merchants", adminHandler.GetMerchants)
		admin.GET("/merchants/:id", adminHandler.GetMerchantByID)
		admin.PUT("/merchants/:id", adminHandler.UpdateMerchant)
		admin.DELETE("/merchants/:id", adminHandler.DeleteMerchant)
		admin.POST("/merchants/:id/deposit", adminHandler.Deposit)
		admin.POST("/merchants/:id/withdraw", adminHandler.Withdraw)

		admin.POST("/markets", adminHandler.CreateMarket)
		admin.GET("/markets", adminHandler.GetMarkets)
		admin.PUT("/markets/:id", adminHandler.UpdateMarket)
		admin.DELETE("/markets/:id", adminHandler.DeleteMarket)
		admin.POST("/markets/:id/status", adminHandler.TransitionMarket)
		admin.POST("/markets/:id/settle", adminHandler.SettleMarket)
		admin.POST("/markets/:id/void", adminHandler.VoidMarket)
		admin.GET("/markets/:id/payouts", adminHandler.GetPayoutSummary)

		admin.GET("/webhook-logs", adminHandler.GetWebhookLogs)
		admin.GET("/stats", adminHandler.GetStats)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		log.Printf("Health check: http://localhost:%s/health", cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	// Stop timers first so no new settlements enqueue webhooks, then drain
	// the webhook queue.
	sched.Shutdown()
	webhookService.Shutdown()
	hubCancel()

	log.Println("Server exited")
}
