package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"toybox-api/config"
	"toybox-api/database"
	"toybox-api/handlers"
	"toybox-api/middleware"
	"toybox-api/queue"
	"toybox-api/services/auth"
	"toybox-api/services/cartsync"
	"toybox-api/services/email"
	"toybox-api/services/payment"
	"toybox-api/services/payment/razorpay"
	"toybox-api/services/pricing"
	"toybox-api/services/toyimport"
	"toybox-api/worker"
)

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Razorpay-Signature")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		// Only slow or failed requests are logged.
		elapsed := time.Since(start)
		if elapsed > 500*time.Millisecond || wrapper.status >= 400 {
			log.Printf("%s %s %s %d %v", r.Method, r.RequestURI, middleware.ClientIP(r), wrapper.status, elapsed)
		}
	})
}

func newAuthenticator(cfg *config.Config, db *database.Connection) (auth.Authenticator, *auth.JWTService) {
	if cfg.Auth.Provider == config.AuthProviderHosted {
		log.Printf("Using hosted identity provider (issuer %q)", cfg.Auth.HostedIssuer)
		return auth.NewHostedVerifier(cfg.Auth.HostedSecret, cfg.Auth.HostedIssuer, db), nil
	}
	log.Printf("Using local accounts")
	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, db)
	return jwtService, jwtService
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile | log.Lmicroseconds | log.LUTC)
	log.Printf("Server starting with %d CPUs available", runtime.NumCPU())

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var db *database.Connection
	var err error
	for retries := 0; retries < 5; retries++ {
		db, err = database.NewConnection(cfg.Database)
		if err == nil {
			break
		}
		retryDelay := time.Duration(retries+1) * time.Second
		log.Printf("Failed to connect to database (attempt %d/5): %v. Retrying in %v...", retries+1, err, retryDelay)
		time.Sleep(retryDelay)
	}
	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := db.GetDB().PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancel()
	log.Println("Successfully connected to database")

	jobQueue, err := queue.NewQueue(cfg.Redis.URL, "toybox_jobs")
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Successfully connected to Redis")

	rateLimiter, err := middleware.NewRateLimiter(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to create rate limiter: %v", err)
	}

	authenticator, localAuth := newAuthenticator(cfg, db)

	gateway := razorpay.NewClient(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret)
	paymentService := payment.NewPaymentService(gateway, cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret, cfg.Pricing.Currency)
	emailService := email.NewSMTPService(cfg.SMTP)
	calculator := pricing.NewCalculator(cfg.Pricing.IncludeDeposit)
	planSession := handlers.NewPlanSession(cfg.Session)

	jobWorker := worker.NewWorker(jobQueue, db, paymentService, emailService, worker.Options{
		AlertEmail:    cfg.Admin.AlertEmail,
		LowStockLevel: cfg.Catalog.LowStockLevel,
	})
	jobWorker.Start(cfg.Redis.WorkerConcurrency)
	log.Printf("Started job worker with %d threads", cfg.Redis.WorkerConcurrency)

	cartBackends := func(userID int64) cartsync.Backend { return database.NewCartBackend(db, userID) }

	toyHandler := handlers.NewToyHandler(db)
	planHandler := handlers.NewPlanHandler(db, planSession)
	cartHandler := handlers.NewCartHandler(cartBackends, db, planSession, calculator)
	checkoutHandler := handlers.NewCheckoutHandler(cartHandler, db, paymentService, jobQueue)
	webhookHandler := handlers.NewWebhookHandler(checkoutHandler)
	wishlistHandler := handlers.NewWishlistHandler(db)
	adminToyHandler := handlers.NewAdminToyHandler(db, toyimport.NewImporter(db), cfg.Catalog.LegacyToysFile)
	adminOrderHandler := handlers.NewAdminOrderHandler(db)
	adminUserHandler := handlers.NewAdminUserHandler(db)
	adminDashboardHandler := handlers.NewAdminDashboardHandler(db, jobQueue, cfg.Catalog.LowStockLevel)

	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Use(loggingMiddleware)
	router.Use(middleware.SecurityHeadersMiddleware)
	router.Use(rateLimiter.RateLimitMiddleware())

	api := router.PathPrefix("/api").Subrouter()

	// Catalog and plans are public.
	api.HandleFunc("/toys", toyHandler.ListToys).Methods("GET", "OPTIONS")
	api.HandleFunc("/toys/slug/{slug}", toyHandler.GetToyBySlug).Methods("GET", "OPTIONS")
	api.HandleFunc("/toys/{id:[0-9]+}", toyHandler.GetToy).Methods("GET", "OPTIONS")
	api.HandleFunc("/toys/{id:[0-9]+}/reviews", wishlistHandler.ListReviews).Methods("GET", "OPTIONS")
	api.HandleFunc("/categories", toyHandler.ListCategories).Methods("GET", "OPTIONS")
	api.HandleFunc("/plans", planHandler.GetPlans).Methods("GET", "OPTIONS")
	api.HandleFunc("/plans/{id:[0-9]+}", planHandler.GetPlan).Methods("GET", "OPTIONS")
	api.HandleFunc("/plan/select", planHandler.SelectPlan).Methods("POST", "OPTIONS")
	api.HandleFunc("/plan/selected", planHandler.GetSelectedPlan).Methods("GET", "OPTIONS")
	api.HandleFunc("/plan/selected", planHandler.ClearSelectedPlan).Methods("DELETE", "OPTIONS")

	api.HandleFunc("/webhooks/razorpay", webhookHandler.HandleRazorpay).Methods("POST")

	authRouter := api.PathPrefix("/auth").Subrouter()
	authRouter.Use(middleware.AuthLoggingMiddleware)
	if localAuth != nil {
		authHandler := handlers.NewAuthHandler(localAuth)
		authRouter.HandleFunc("/register", authHandler.Register).Methods("POST", "OPTIONS")
		authRouter.HandleFunc("/login", authHandler.Login).Methods("POST", "OPTIONS")
		authRouter.HandleFunc("/refresh", authHandler.RefreshToken).Methods("POST", "OPTIONS")
	}
	authRouter.Handle("/me", middleware.AuthMiddleware(authenticator)(http.HandlerFunc(handlers.Me))).Methods("GET", "OPTIONS")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AdminMiddleware(authenticator, cfg.Admin.InternalSecret))
	admin.HandleFunc("/toys", adminToyHandler.CreateToy).Methods("POST", "OPTIONS")
	admin.HandleFunc("/toys/import", adminToyHandler.ImportLegacyToys).Methods("POST", "OPTIONS")
	admin.HandleFunc("/toys/{id:[0-9]+}", adminToyHandler.UpdateToy).Methods("PUT", "OPTIONS")
	admin.HandleFunc("/toys/{id:[0-9]+}", adminToyHandler.DeleteToy).Methods("DELETE", "OPTIONS")
	admin.HandleFunc("/toys/{id:[0-9]+}/stock", adminToyHandler.AdjustStock).Methods("POST", "OPTIONS")
	admin.HandleFunc("/orders", adminOrderHandler.ListOrders).Methods("GET", "OPTIONS")
	admin.HandleFunc("/orders/{id}", adminOrderHandler.GetOrder).Methods("GET", "OPTIONS")
	admin.HandleFunc("/orders/{id}/status", adminOrderHandler.UpdateOrderStatus).Methods("PATCH", "OPTIONS")
	admin.HandleFunc("/users", adminUserHandler.ListUsers).Methods("GET", "OPTIONS")
	admin.HandleFunc("/users/{id:[0-9]+}/role", adminUserHandler.SetUserRole).Methods("PUT", "OPTIONS")
	admin.HandleFunc("/dashboard", adminDashboardHandler.Summary).Methods("GET", "OPTIONS")
	admin.HandleFunc("/queue", adminDashboardHandler.QueueStats).Methods("GET", "OPTIONS")
	admin.HandleFunc("/queue/retry", adminDashboardHandler.RetryJob).Methods("POST", "OPTIONS")

	// Everything below needs a signed-in shopper.
	private := api.NewRoute().Subrouter()
	private.Use(middleware.AuthMiddleware(authenticator))
	private.HandleFunc("/cart", cartHandler.GetCart).Methods("GET", "OPTIONS")
	private.HandleFunc("/cart", cartHandler.AddToCart).Methods("POST", "OPTIONS")
	private.HandleFunc("/cart", cartHandler.ClearCart).Methods("DELETE", "OPTIONS")
	private.HandleFunc("/cart/{toyId:[0-9]+}", cartHandler.UpdateCartItem).Methods("PUT", "OPTIONS")
	private.HandleFunc("/cart/{toyId:[0-9]+}", cartHandler.RemoveCartItem).Methods("DELETE", "OPTIONS")
	private.HandleFunc("/checkout/order", checkoutHandler.CreateOrder).Methods("POST", "OPTIONS")
	private.HandleFunc("/checkout/verify", checkoutHandler.VerifyPayment).Methods("POST", "OPTIONS")
	private.HandleFunc("/orders", checkoutHandler.ListOrders).Methods("GET", "OPTIONS")
	private.HandleFunc("/orders/{id}", checkoutHandler.GetOrder).Methods("GET", "OPTIONS")
	private.HandleFunc("/wishlist", wishlistHandler.GetWishlist).Methods("GET", "OPTIONS")
	private.HandleFunc("/wishlist", wishlistHandler.AddToWishlist).Methods("POST", "OPTIONS")
	private.HandleFunc("/wishlist/{toyId:[0-9]+}", wishlistHandler.RemoveFromWishlist).Methods("DELETE", "OPTIONS")
	private.HandleFunc("/toys/{id:[0-9]+}/reviews", wishlistHandler.SaveReview).Methods("POST", "OPTIONS")

	startTime := time.Now()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		health := struct {
			Status    string `json:"status"`
			Time      string `json:"time"`
			Database  string `json:"database"`
			Redis     string `json:"redis"`
			Auth      string `json:"auth"`
			Uptime    string `json:"uptime"`
			GoVersion string `json:"go_version"`
		}{
			Status:    "ok",
			Time:      time.Now().Format(time.RFC3339),
			Database:  "connected",
			Redis:     "connected",
			Auth:      cfg.Auth.Provider,
			Uptime:    fmt.Sprintf("%v", time.Since(startTime)),
			GoVersion: runtime.Version(),
		}

		dbCtx, dbCancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer dbCancel()
		if err := db.GetDB().PingContext(dbCtx); err != nil {
			health.Status = "degraded"
			health.Database = "error"
		}

		redisCtx, redisCancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer redisCancel()
		if err := jobQueue.Client().Ping(redisCtx).Err(); err != nil {
			health.Status = "degraded"
			health.Redis = "error"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	}).Methods("GET")

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   45 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Stopping job worker...")
	jobWorker.Stop()

	log.Println("Closing database connections...")
	db.Close()

	log.Println("Closing Redis connections...")
	jobQueue.Close()
	rateLimiter.Close()

	log.Println("Server exited properly")
}
