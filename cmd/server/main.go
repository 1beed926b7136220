package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/campuspay/backend/docs"
	"github.com/campuspay/backend/internal/database"
	"github.com/campuspay/backend/internal/handlers"
	mW "github.com/campuspay/backend/internal/middleware"
	"github.com/campuspay/backend/internal/models"
	"github.com/campuspay/backend/internal/services"
)

// @title CampusPay Wallet API
// @version 1.0
// @description Closed-loop school wallet with double-entry ledger
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")
	viper.BindEnv("wallet.currency", "WALLET_CURRENCY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "CampusPay Wallet API"
	docs.SwaggerInfo.Description = "Closed-loop school wallet with double-entry ledger"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewDoubleLedgerService(db)
	resolverService := services.NewResolverService(db)
	walletService := services.NewWalletService(db, ledgerService, resolverService)
	adminService := services.NewAdminService(db, ledgerService, resolverService)
	cardService := services.NewCardService(db, resolverService)
	authService := services.NewAuthService(db, redisClient)
	qrHandler := handlers.NewQRHandler(cardService, resolverService, redisClient)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Directory and identifier resolution
			r.Get("/resolve", resolverService.Resolve)
			r.Get("/directory", resolverService.GetDirectory)
			r.Post("/directory", resolverService.UpdateDirectory)

			// Wallet endpoints
			r.Post("/pay", walletService.Pay)
			r.Post("/wallet/transfer", walletService.Transfer)
			r.Get("/wallet/balance", walletService.Balance)
			r.Get("/wallet/transactions", walletService.Transactions)

			// QR endpoints
			r.Get("/qr", qrHandler.GetQR)
			r.Post("/qr/request", qrHandler.CreatePaymentQR)
			r.Post("/qr/resolve", qrHandler.ResolvePaymentQR)

			// Card requests
			r.Post("/cards/request", cardService.RequestCard)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin))

				r.Post("/admin/wallet/adjust", adminService.Adjust)
				r.Post("/admin/wallet/freeze", adminService.Freeze)
				r.Get("/admin/wallet/limits", adminService.GetLimits)
				r.Post("/admin/wallet/limits", adminService.SetLimits)
				r.Post("/admin/wallet/rebuild", adminService.RebuildBalance)
				r.Post("/admin/users/set-pin", adminService.SetPIN)
				r.Get("/admin/transactions/stats", adminService.Stats)

				r.Get("/admin/cards", cardService.ListCards)
				r.Post("/admin/cards/link", cardService.LinkCard)
				r.Post("/admin/cards/unlink", cardService.UnlinkCard)
				r.Get("/admin/cards/requests", cardService.ListRequests)
				r.Post("/admin/cards/requests/approve", cardService.ApproveRequest)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
